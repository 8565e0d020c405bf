package api

import (
	"database/sql"
	"io"
	"log/slog"
	"net/http"

	"github.com/erazemk/inventar/internal/model"
	"github.com/erazemk/inventar/internal/store"
)

// RequestsHandler handles borrow request endpoints.
type RequestsHandler struct {
	DB *sql.DB
}

type submitRequestRequest struct {
	Lines []model.RequestLineInput `json:"lines"`
}

type reasonRequest struct {
	Reason string `json:"reason"`
}

// Submit handles POST /api/requests.
func (h *RequestsHandler) Submit(w http.ResponseWriter, r *http.Request) {
	var req submitRequestRequest
	if err := decodeJSON(r, &req); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.Lines) == 0 {
		jsonError(w, http.StatusBadRequest, "at least one line required")
		return
	}
	for _, l := range req.Lines {
		if !l.Key.Valid() || l.Quantity <= 0 {
			jsonError(w, http.StatusBadRequest, "every line needs an item type and a positive quantity")
			return
		}
	}

	claims := GetClaims(r.Context())
	request, err := store.SubmitRequest(r.Context(), h.DB, claims.UserID, req.Lines)
	if err != nil {
		storeError(w, err, "submit request")
		return
	}
	jsonResponse(w, http.StatusCreated, request)
}

// List handles GET /api/requests?state=&requester=. Users only see their own.
func (h *RequestsHandler) List(w http.ResponseWriter, r *http.Request) {
	requester := r.URL.Query().Get("requester")
	if !isManager(r.Context()) {
		requester = GetClaims(r.Context()).UserID
	}

	requests, err := store.ListRequests(r.Context(), h.DB, requester, r.URL.Query().Get("state"))
	if err != nil {
		storeError(w, err, "list requests")
		return
	}
	if requests == nil {
		requests = []model.Request{}
	}
	jsonResponse(w, http.StatusOK, requests)
}

// Get handles GET /api/requests/{id}.
func (h *RequestsHandler) Get(w http.ResponseWriter, r *http.Request) {
	request, ok := h.load(w, r)
	if !ok {
		return
	}
	jsonResponse(w, http.StatusOK, request)
}

// ApproveLine handles POST /api/requests/{id}/lines/{line}/approve.
func (h *RequestsHandler) ApproveLine(w http.ResponseWriter, r *http.Request) {
	line, ok := lineIndex(r)
	if !ok {
		jsonError(w, http.StatusBadRequest, "invalid line index")
		return
	}

	result, err := store.ApproveLine(r.Context(), h.DB, r.PathValue("id"), line)
	if mutationFailed(w, err, "approve request line") {
		return
	}

	claims := GetClaims(r.Context())
	slog.Info("request line approved", "user", claims.Username, "request", result.Request.ID,
		"line", line, "units", len(result.Units))
	jsonResponse(w, http.StatusOK, result)
}

// Reject handles POST /api/requests/{id}/reject.
func (h *RequestsHandler) Reject(w http.ResponseWriter, r *http.Request) {
	var req reasonRequest
	if err := decodeJSON(r, &req); err != nil && err != io.EOF {
		jsonError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	request, err := store.RejectRequest(r.Context(), h.DB, r.PathValue("id"), req.Reason)
	if err != nil {
		storeError(w, err, "reject request")
		return
	}

	claims := GetClaims(r.Context())
	slog.Info("request rejected", "user", claims.Username, "request", request.ID)
	jsonResponse(w, http.StatusOK, request)
}

// Cancel handles POST /api/requests/{id}/cancel. Requesters may cancel their
// own requests.
func (h *RequestsHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	var req reasonRequest
	if err := decodeJSON(r, &req); err != nil && err != io.EOF {
		jsonError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	existing, ok := h.load(w, r)
	if !ok {
		return
	}

	request, err := store.CancelRequest(r.Context(), h.DB, existing.ID, req.Reason)
	if err != nil {
		storeError(w, err, "cancel request")
		return
	}

	claims := GetClaims(r.Context())
	slog.Info("request cancelled", "user", claims.Username, "request", request.ID)
	jsonResponse(w, http.StatusOK, request)
}

// load fetches the request named in the path. Users may only see their own.
func (h *RequestsHandler) load(w http.ResponseWriter, r *http.Request) (*model.Request, bool) {
	request, err := store.GetRequest(r.Context(), h.DB, r.PathValue("id"))
	if err != nil {
		storeError(w, err, "get request")
		return nil, false
	}
	if !isManager(r.Context()) && request.RequesterID != GetClaims(r.Context()).UserID {
		jsonError(w, http.StatusNotFound, "request not found")
		return nil, false
	}
	return request, true
}
