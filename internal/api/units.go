package api

import (
	"database/sql"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/erazemk/inventar/internal/model"
	"github.com/erazemk/inventar/internal/store"
)

// UnitsHandler handles item unit endpoints.
type UnitsHandler struct {
	DB *sql.DB
}

type intakeRequest struct {
	Name       string          `json:"name"`
	CategoryID string          `json:"category_id"`
	Units      []model.NewUnit `json:"units"`
}

type updateUnitRequest struct {
	StatusID    string `json:"status_id"`
	ConditionID string `json:"condition_id"`
}

type deleteUnitsRequest struct {
	UnitIDs  []string `json:"unit_ids"`
	GroupKey string   `json:"group_key"`
}

// List handles GET /api/units?name=&category=. Optional owner_kind, user,
// status and condition parameters narrow the result.
func (h *UnitsHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	key := model.ItemTypeKey{Name: q.Get("name"), CategoryID: q.Get("category")}
	if !key.Valid() {
		jsonError(w, http.StatusBadRequest, "name and category required")
		return
	}

	units, err := store.FindLiveUnits(r.Context(), h.DB, key, model.UnitFilter{
		OwnershipKind: q.Get("owner_kind"),
		UserID:        q.Get("user"),
		StatusID:      q.Get("status"),
		ConditionID:   q.Get("condition"),
	})
	if err != nil {
		storeError(w, err, "list units")
		return
	}
	if units == nil {
		units = []model.ItemUnit{}
	}
	jsonResponse(w, http.StatusOK, units)
}

// Mine handles GET /api/units/mine.
func (h *UnitsHandler) Mine(w http.ResponseWriter, r *http.Request) {
	claims := GetClaims(r.Context())
	units, err := store.ListUserUnits(r.Context(), h.DB, claims.UserID)
	if err != nil {
		storeError(w, err, "list units")
		return
	}
	if units == nil {
		units = []model.ItemUnit{}
	}
	jsonResponse(w, http.StatusOK, units)
}

// Get handles GET /api/units/{id}.
func (h *UnitsHandler) Get(w http.ResponseWriter, r *http.Request) {
	unit, err := store.GetUnit(r.Context(), h.DB, r.PathValue("id"))
	if err != nil {
		storeError(w, err, "get unit")
		return
	}
	jsonResponse(w, http.StatusOK, unit)
}

// Intake handles POST /api/units.
func (h *UnitsHandler) Intake(w http.ResponseWriter, r *http.Request) {
	var req intakeRequest
	if err := decodeJSON(r, &req); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	key := model.ItemTypeKey{Name: req.Name, CategoryID: req.CategoryID}
	if !key.Valid() || len(req.Units) == 0 {
		jsonError(w, http.StatusBadRequest, "name, category_id, and at least one unit required")
		return
	}
	for _, u := range req.Units {
		if u.StatusID == "" || u.ConditionID == "" {
			jsonError(w, http.StatusBadRequest, "every unit needs status_id and condition_id")
			return
		}
	}

	units, err := store.IntakeUnits(r.Context(), h.DB, key, req.Units)
	if mutationFailed(w, err, "intake units") {
		return
	}

	claims := GetClaims(r.Context())
	slog.Info("units received", "user", claims.Username, "key", key.String(), "count", len(units))
	jsonResponse(w, http.StatusCreated, units)
}

// Update handles PUT /api/units/{id}.
func (h *UnitsHandler) Update(w http.ResponseWriter, r *http.Request) {
	var req updateUnitRequest
	if err := decodeJSON(r, &req); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.StatusID == "" || req.ConditionID == "" {
		jsonError(w, http.StatusBadRequest, "status_id and condition_id required")
		return
	}

	unit, err := store.UpdateUnitState(r.Context(), h.DB, r.PathValue("id"), req.StatusID, req.ConditionID)
	if mutationFailed(w, err, "update unit") {
		return
	}

	claims := GetClaims(r.Context())
	slog.Info("unit updated", "user", claims.Username, "unit", unit.ID,
		"status", req.StatusID, "condition", req.ConditionID)
	jsonResponse(w, http.StatusOK, unit)
}

// Delete handles POST /api/units/delete. Deleting several units at once
// stages them as one group unless the caller names the group.
func (h *UnitsHandler) Delete(w http.ResponseWriter, r *http.Request) {
	var req deleteUnitsRequest
	if err := decodeJSON(r, &req); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.UnitIDs) == 0 {
		jsonError(w, http.StatusBadRequest, "unit_ids required")
		return
	}
	if req.GroupKey == "" && len(req.UnitIDs) > 1 {
		req.GroupKey = uuid.NewString()
	}

	claims := GetClaims(r.Context())
	entries, err := store.SoftDelete(r.Context(), h.DB, req.UnitIDs, req.GroupKey, claims.UserID)
	if mutationFailed(w, err, "delete units") {
		return
	}
	if entries == nil {
		entries = []model.RecycleBinEntry{}
	}

	slog.Info("units deleted", "user", claims.Username, "count", len(entries), "group", req.GroupKey)
	jsonResponse(w, http.StatusOK, entries)
}
