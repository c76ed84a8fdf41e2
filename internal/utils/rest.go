package utils

import (
	"encoding/json"
	"net/http"
	"strconv"
)

// ErrorResponse is the body of every error reply. Kind names the error
// class ("not_found", "conflict", ...) when there is one.
type ErrorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

// RespondWithError sends an error response
func RespondWithError(w http.ResponseWriter, code int, message string) {
	RespondWithJSON(w, code, ErrorResponse{Error: message})
}

// RespondWithErrorKind sends an error response carrying its kind.
func RespondWithErrorKind(w http.ResponseWriter, code int, kind, message string) {
	RespondWithJSON(w, code, ErrorResponse{Error: message, Kind: kind})
}

// RespondWithJSON sends a JSON response
func RespondWithJSON(w http.ResponseWriter, code int, payload interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		http.Error(w, "Failed to encode response: "+err.Error(), http.StatusInternalServerError)
		return err
	}
	return nil
}

// QueryInt parses an optional integer query parameter. It returns nil
// when the parameter is absent.
func QueryInt(r *http.Request, name string) (*int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return nil, err
	}
	return &v, nil
}
