package api

import (
	"database/sql"
	"log/slog"
	"net/http"

	"github.com/erazemk/inventar/internal/model"
	"github.com/erazemk/inventar/internal/store"
)

// ReturnsHandler handles endpoints for handing units back to the pool.
type ReturnsHandler struct {
	DB *sql.DB
}

type submitReturnRequest struct {
	UnitIDs []string `json:"unit_ids"`
}

type approveReturnRequest struct {
	StatusID    string `json:"status_id"`
	ConditionID string `json:"condition_id"`
}

// Submit handles POST /api/returns for the caller's own units.
func (h *ReturnsHandler) Submit(w http.ResponseWriter, r *http.Request) {
	var req submitReturnRequest
	if err := decodeJSON(r, &req); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.UnitIDs) == 0 {
		jsonError(w, http.StatusBadRequest, "unit_ids required")
		return
	}

	claims := GetClaims(r.Context())
	ret, err := store.SubmitReturn(r.Context(), h.DB, claims.UserID, req.UnitIDs)
	if err != nil {
		storeError(w, err, "submit return")
		return
	}
	jsonResponse(w, http.StatusCreated, ret)
}

// List handles GET /api/returns?user=. Users only see their own.
func (h *ReturnsHandler) List(w http.ResponseWriter, r *http.Request) {
	user := r.URL.Query().Get("user")
	if !isManager(r.Context()) {
		user = GetClaims(r.Context()).UserID
	}

	returns, err := store.ListReturns(r.Context(), h.DB, user)
	if err != nil {
		storeError(w, err, "list returns")
		return
	}
	if returns == nil {
		returns = []model.Return{}
	}
	jsonResponse(w, http.StatusOK, returns)
}

// Get handles GET /api/returns/{id}.
func (h *ReturnsHandler) Get(w http.ResponseWriter, r *http.Request) {
	ret, err := store.GetReturn(r.Context(), h.DB, r.PathValue("id"))
	if err != nil {
		storeError(w, err, "get return")
		return
	}
	if !isManager(r.Context()) && ret.UserID != GetClaims(r.Context()).UserID {
		jsonError(w, http.StatusNotFound, "return not found")
		return
	}
	jsonResponse(w, http.StatusOK, ret)
}

// ApproveLine handles POST /api/returns/{id}/lines/{line}/approve.
func (h *ReturnsHandler) ApproveLine(w http.ResponseWriter, r *http.Request) {
	line, ok := lineIndex(r)
	if !ok {
		jsonError(w, http.StatusBadRequest, "invalid line index")
		return
	}

	var req approveReturnRequest
	if err := decodeJSON(r, &req); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.StatusID == "" || req.ConditionID == "" {
		jsonError(w, http.StatusBadRequest, "status_id and condition_id required")
		return
	}

	ret, err := store.ApproveReturnLine(r.Context(), h.DB, r.PathValue("id"), line, req.StatusID, req.ConditionID)
	if mutationFailed(w, err, "approve return line") {
		return
	}

	claims := GetClaims(r.Context())
	slog.Info("return line approved", "user", claims.Username, "return", ret.ID, "line", line)
	jsonResponse(w, http.StatusOK, ret)
}
