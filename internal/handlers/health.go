package handlers

import (
	"database/sql"
	"encoding/json"
	"net/http"
)

// NewHealthCheck reports service liveness plus database reachability.
func NewHealthCheck(db *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		response := map[string]string{"status": "ok"}
		status := http.StatusOK
		if err := db.PingContext(r.Context()); err != nil {
			response["status"] = "degraded"
			response["database"] = err.Error()
			status = http.StatusServiceUnavailable
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		json.NewEncoder(w).Encode(response)
	}
}
