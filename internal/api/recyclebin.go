package api

import (
	"database/sql"
	"log/slog"
	"net/http"
	"time"

	"github.com/erazemk/inventar/internal/model"
	"github.com/erazemk/inventar/internal/store"
)

// RecycleBinHandler handles soft-deleted unit endpoints.
type RecycleBinHandler struct {
	DB *sql.DB
}

// List handles GET /api/recycle-bin?all=true.
func (h *RecycleBinHandler) List(w http.ResponseWriter, r *http.Request) {
	entries, err := store.ListRecycleBin(r.Context(), h.DB, r.URL.Query().Get("all") == "true")
	if err != nil {
		storeError(w, err, "list recycle bin")
		return
	}
	if entries == nil {
		entries = []model.RecycleBinEntry{}
	}
	jsonResponse(w, http.StatusOK, entries)
}

// Get handles GET /api/recycle-bin/{id}.
func (h *RecycleBinHandler) Get(w http.ResponseWriter, r *http.Request) {
	entry, err := store.GetRecycleBinEntry(r.Context(), h.DB, r.PathValue("id"))
	if err != nil {
		storeError(w, err, "get recycle bin entry")
		return
	}
	jsonResponse(w, http.StatusOK, entry)
}

// Restore handles POST /api/recycle-bin/{id}/restore.
func (h *RecycleBinHandler) Restore(w http.ResponseWriter, r *http.Request) {
	units, err := store.Restore(r.Context(), h.DB, r.PathValue("id"))
	if mutationFailed(w, err, "restore entry") {
		return
	}

	claims := GetClaims(r.Context())
	slog.Info("recycle bin entry restored", "user", claims.Username, "entry", r.PathValue("id"), "units", len(units))
	jsonResponse(w, http.StatusOK, units)
}

// Purge handles DELETE /api/recycle-bin/{id}.
func (h *RecycleBinHandler) Purge(w http.ResponseWriter, r *http.Request) {
	if mutationFailed(w, store.PurgeEntry(r.Context(), h.DB, r.PathValue("id")), "purge entry") {
		return
	}

	claims := GetClaims(r.Context())
	slog.Info("recycle bin entry purged", "user", claims.Username, "entry", r.PathValue("id"))
	jsonResponse(w, http.StatusOK, map[string]string{"message": "entry purged"})
}

// Sweep handles POST /api/recycle-bin/sweep.
func (h *RecycleBinHandler) Sweep(w http.ResponseWriter, r *http.Request) {
	result, err := store.SweepExpired(r.Context(), h.DB, time.Now())
	if mutationFailed(w, err, "sweep recycle bin") {
		return
	}
	jsonResponse(w, http.StatusOK, result)
}

// PurgeRestored handles POST /api/recycle-bin/purge-restored.
func (h *RecycleBinHandler) PurgeRestored(w http.ResponseWriter, r *http.Request) {
	result, err := store.PurgeRestored(r.Context(), h.DB)
	if err != nil {
		storeError(w, err, "purge restored entries")
		return
	}
	jsonResponse(w, http.StatusOK, result)
}
