package api

import (
	"database/sql"
	"errors"
	"log/slog"
	"net/http"

	"github.com/erazemk/inventar/internal/model"
	"github.com/erazemk/inventar/internal/store"
)

// AggregatesHandler serves the per-item-type availability overview.
type AggregatesHandler struct {
	DB *sql.DB
}

type renameRequest struct {
	From model.ItemTypeKey `json:"from"`
	To   model.ItemTypeKey `json:"to"`
}

// List handles GET /api/aggregates?category=.
func (h *AggregatesHandler) List(w http.ResponseWriter, r *http.Request) {
	recs, err := store.ListAggregates(r.Context(), h.DB, r.URL.Query().Get("category"))
	if err != nil {
		storeError(w, err, "list aggregates")
		return
	}
	if recs == nil {
		recs = []model.AggregateRecord{}
	}
	jsonResponse(w, http.StatusOK, recs)
}

// Get handles GET /api/aggregates/{category}/{name}.
func (h *AggregatesHandler) Get(w http.ResponseWriter, r *http.Request) {
	key := model.ItemTypeKey{Name: r.PathValue("name"), CategoryID: r.PathValue("category")}
	rec, err := store.GetAggregate(r.Context(), h.DB, key)
	if err != nil {
		storeError(w, err, "get aggregate")
		return
	}
	jsonResponse(w, http.StatusOK, rec)
}

// Recompute handles POST /api/aggregates/recompute.
func (h *AggregatesHandler) Recompute(w http.ResponseWriter, r *http.Request) {
	var key model.ItemTypeKey
	if err := decodeJSON(r, &key); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if !key.Valid() {
		jsonError(w, http.StatusBadRequest, "name and category_id required")
		return
	}

	rec, err := store.Recompute(r.Context(), h.DB, key)
	if err != nil {
		if merr := store.MarkAggregateStale(r.Context(), h.DB, key); merr != nil {
			slog.Error("marking aggregate stale", "key", key.String(), "error", merr)
		}
		storeError(w, err, "recompute aggregate")
		return
	}
	jsonResponse(w, http.StatusOK, rec)
}

// Rename handles POST /api/aggregates/rename.
func (h *AggregatesHandler) Rename(w http.ResponseWriter, r *http.Request) {
	var req renameRequest
	if err := decodeJSON(r, &req); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if !req.From.Valid() || !req.To.Valid() {
		jsonError(w, http.StatusBadRequest, "from and to item types required")
		return
	}

	err := store.RenameItemType(r.Context(), h.DB, req.From, req.To)
	if mutationFailed(w, err, "rename item type") {
		return
	}

	claims := GetClaims(r.Context())
	slog.Info("item type renamed", "user", claims.Username, "from", req.From.String(), "to", req.To.String())

	rec, err := store.GetAggregate(r.Context(), h.DB, req.To)
	if errors.Is(err, model.ErrNotFound) {
		jsonResponse(w, http.StatusOK, map[string]string{"message": "no live units to rename"})
		return
	}
	if err != nil {
		storeError(w, err, "get aggregate")
		return
	}
	jsonResponse(w, http.StatusOK, rec)
}

// GetBorrowability handles GET /api/settings/borrowability.
func (h *AggregatesHandler) GetBorrowability(w http.ResponseWriter, r *http.Request) {
	b, err := store.GetBorrowability(r.Context(), h.DB)
	if err != nil {
		storeError(w, err, "get borrowability")
		return
	}
	jsonResponse(w, http.StatusOK, b)
}

// SetBorrowability handles PUT /api/settings/borrowability. Stored aggregates
// are recomputed so available counts follow the new taxonomy.
func (h *AggregatesHandler) SetBorrowability(w http.ResponseWriter, r *http.Request) {
	var b model.Borrowability
	if err := decodeJSON(r, &b); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(b.Statuses) == 0 || len(b.Conditions) == 0 {
		jsonError(w, http.StatusBadRequest, "statuses and conditions required")
		return
	}

	if err := store.SetBorrowability(r.Context(), h.DB, b); err != nil {
		storeError(w, err, "set borrowability")
		return
	}

	recs, err := store.ListAggregates(r.Context(), h.DB, "")
	if err != nil {
		storeError(w, err, "list aggregates")
		return
	}
	keys := make([]model.ItemTypeKey, len(recs))
	for i, rec := range recs {
		keys[i] = rec.Key
	}
	if mutationFailed(w, store.RecomputeKeys(r.Context(), h.DB, keys...), "recompute aggregates") {
		return
	}

	claims := GetClaims(r.Context())
	slog.Info("borrowability updated", "user", claims.Username,
		"statuses", b.Statuses, "conditions", b.Conditions)
	jsonResponse(w, http.StatusOK, b)
}
