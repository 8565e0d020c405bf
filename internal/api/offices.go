package api

import (
	"database/sql"
	"log/slog"
	"net/http"

	"github.com/erazemk/inventar/internal/model"
	"github.com/erazemk/inventar/internal/store"
)

// OfficesHandler handles office endpoints.
type OfficesHandler struct {
	DB *sql.DB
}

type createOfficeRequest struct {
	Name     string `json:"name"`
	Location string `json:"location"`
}

// List handles GET /api/offices.
func (h *OfficesHandler) List(w http.ResponseWriter, r *http.Request) {
	offices, err := store.ListOffices(r.Context(), h.DB)
	if err != nil {
		storeError(w, err, "list offices")
		return
	}
	if offices == nil {
		offices = []model.Office{}
	}
	jsonResponse(w, http.StatusOK, offices)
}

// Create handles POST /api/offices.
func (h *OfficesHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createOfficeRequest
	if err := decodeJSON(r, &req); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Name == "" {
		jsonError(w, http.StatusBadRequest, "name required")
		return
	}

	office, err := store.CreateOffice(r.Context(), h.DB, req.Name, req.Location)
	if err != nil {
		storeError(w, err, "create office")
		return
	}

	claims := GetClaims(r.Context())
	slog.Info("office created", "user", claims.Username, "office", office.Name)
	jsonResponse(w, http.StatusCreated, office)
}

// Get handles GET /api/offices/{id}.
func (h *OfficesHandler) Get(w http.ResponseWriter, r *http.Request) {
	office, err := store.GetOffice(r.Context(), h.DB, r.PathValue("id"))
	if err != nil {
		storeError(w, err, "get office")
		return
	}
	if office == nil {
		jsonError(w, http.StatusNotFound, "office not found")
		return
	}
	jsonResponse(w, http.StatusOK, office)
}

// Delete handles DELETE /api/offices/{id}.
func (h *OfficesHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := store.DeleteOffice(r.Context(), h.DB, id); err != nil {
		storeError(w, err, "delete office")
		return
	}

	claims := GetClaims(r.Context())
	slog.Info("office deleted", "user", claims.Username, "office", id)
	jsonResponse(w, http.StatusOK, map[string]string{"message": "office deleted"})
}

// IdentitiesHandler resolves identity references for display.
type IdentitiesHandler struct {
	DB *sql.DB
}

// Resolve handles GET /api/identities/{kind}/{id}.
func (h *IdentitiesHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	kind := model.IdentityKind(r.PathValue("kind"))
	if !kind.Valid() {
		jsonError(w, http.StatusBadRequest, "invalid identity kind")
		return
	}

	attrs, err := store.Resolve(r.Context(), h.DB, kind, r.PathValue("id"))
	if err != nil {
		storeError(w, err, "resolve identity")
		return
	}
	jsonResponse(w, http.StatusOK, attrs)
}
