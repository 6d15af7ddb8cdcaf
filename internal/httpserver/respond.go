package httpserver

import (
	"encoding/json"
	"net/http"
)

// Respond writes v as a JSON response body with the given status code.
func Respond(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(v)
}

// errorBody is the uniform JSON error envelope: every 4xx/5xx carries
// {error}, optionally with a human-readable message.
type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// RespondError writes a uniform {error, message} JSON body with the given status.
func RespondError(w http.ResponseWriter, status int, errCode, message string) {
	Respond(w, status, errorBody{Error: errCode, Message: message})
}

// NoContent writes a 204 with no body, used by POST /missions/claim when no
// mission is available.
func NoContent(w http.ResponseWriter) {
	w.WriteHeader(http.StatusNoContent)
}
