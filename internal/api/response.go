package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/erazemk/inventar/internal/model"
)

// jsonResponse writes a JSON response with the given status code.
func jsonResponse(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			slog.Error("encoding response", "error", err)
		}
	}
}

// jsonError writes a JSON error response.
func jsonError(w http.ResponseWriter, status int, message string) {
	jsonResponse(w, status, map[string]string{"error": message})
}

// decodeJSON decodes a JSON request body into the given target.
func decodeJSON(r *http.Request, target any) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(target)
}

// storeError maps a store error onto an HTTP status. Errors that are not one
// of the model sentinels are logged and reported as internal.
func storeError(w http.ResponseWriter, err error, action string) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, model.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, model.ErrNotOwner):
		status = http.StatusForbidden
	case errors.Is(err, model.ErrInsufficientInventory):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, model.ErrDuplicateSerial),
		errors.Is(err, model.ErrInvalidTransition),
		errors.Is(err, model.ErrNotTombstoned),
		errors.Is(err, model.ErrPartiallyPurged):
		status = http.StatusConflict
	}

	if status == http.StatusInternalServerError {
		slog.Error("failed to "+action, "error", err)
		jsonError(w, status, "failed to "+action)
		return
	}
	jsonError(w, status, err.Error())
}

// mutationFailed writes an error response and reports true when err means the
// mutation did not happen. A stale aggregate alone does not fail the request;
// the key is reported in the X-Aggregate-Stale header instead.
func mutationFailed(w http.ResponseWriter, err error, action string) bool {
	if err == nil {
		return false
	}
	var aggErr *model.AggregateError
	if errors.As(err, &aggErr) {
		w.Header().Set("X-Aggregate-Stale", aggErr.Key.String())
		return false
	}
	storeError(w, err, action)
	return true
}

// lineIndex parses the {line} path value.
func lineIndex(r *http.Request) (int, bool) {
	n, err := strconv.Atoi(r.PathValue("line"))
	return n, err == nil && n >= 0
}
