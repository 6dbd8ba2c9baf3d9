package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/jmcleod/sealedsession/session"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}

// mapError writes the response for an engine error. Store and crypto
// details stay in the logs.
func mapError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, session.ErrInvalidUserID):
		writeError(w, http.StatusBadRequest, "invalid user_id")
	case errors.Is(err, session.ErrInvalidMaxAge):
		writeError(w, http.StatusBadRequest, "invalid max_age_seconds")
	case errors.Is(err, session.ErrNotReady):
		writeError(w, http.StatusServiceUnavailable, "session engine not ready")
	default:
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
