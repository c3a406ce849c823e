// Package httpapi exposes the chat REST API and the websocket endpoint.
package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/imbizlabs/imchat/internal/auth"
	"github.com/imbizlabs/imchat/internal/chat"
)

// envelope is the uniform response shape every endpoint returns.
type envelope struct {
	Success bool   `json:"success"`
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func respondOK(w http.ResponseWriter, data any) {
	respond(w, http.StatusOK, envelope{Success: true, Code: http.StatusOK, Message: "Success", Data: data})
}

func respondError(w http.ResponseWriter, status int, message string) {
	respond(w, status, envelope{Success: false, Code: status, Message: message})
}

func respond(w http.ResponseWriter, status int, env envelope) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(env)
}

// respondFailure maps domain errors onto HTTP statuses; anything
// unrecognized is a 500 with a generic message so internals never leak.
func respondFailure(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, chat.ErrNotFound):
		respondError(w, http.StatusNotFound, "Not found")
	case errors.Is(err, chat.ErrNotMessageOwner):
		respondError(w, http.StatusForbidden, "Only the sender can recall a message")
	case errors.Is(err, chat.ErrRecallExpired):
		respondError(w, http.StatusBadRequest, "Messages can only be recalled within 24 hours")
	case errors.Is(err, auth.ErrNoToken), errors.Is(err, auth.ErrInvalidToken):
		respondError(w, http.StatusUnauthorized, "Unauthorized")
	default:
		respondError(w, http.StatusInternalServerError, "Internal server error")
	}
}

func decodeJSON(r *http.Request, dst any) error {
	return json.NewDecoder(r.Body).Decode(dst)
}
