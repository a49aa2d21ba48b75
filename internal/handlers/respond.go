package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/pkg/errors"

	"github.com/ametnes/nesis-sub000/internal/apperr"
)

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body != nil {
		json.NewEncoder(w).Encode(body)
	}
}

// writeError maps the service error taxonomy onto HTTP status codes. Anything
// unclassified is a 500 with a generic message so internals never leak.
func writeError(w http.ResponseWriter, err error) {
	switch {
	case apperr.IsUnauthorized(err):
		http.Error(w, err.Error(), http.StatusUnauthorized)
	case apperr.IsPermission(err):
		http.Error(w, err.Error(), http.StatusForbidden)
	case errors.Is(err, apperr.ErrNotFound):
		http.Error(w, "Resource not found", http.StatusNotFound)
	case apperr.IsConflict(err):
		http.Error(w, err.Error(), http.StatusConflict)
	case apperr.IsValidation(err), errors.Is(err, apperr.ErrInvalidSchedule):
		http.Error(w, err.Error(), http.StatusBadRequest)
	default:
		http.Error(w, "Internal server error", http.StatusInternalServerError)
	}
}

// bearerToken extracts the raw JWT from the Authorization header. An empty
// string is fine here; the gate rejects it as unauthenticated.
func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
		return strings.TrimSpace(parts[1])
	}
	return strings.TrimSpace(header)
}
