package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/imbizlabs/imchat/internal/auth"
)

// NewRouter assembles the API surface. Everything except login sits
// behind the bearer-token middleware.
func NewRouter(h *Handlers) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(corsMiddleware)

	r.Post("/api/auth/login", h.login)

	r.Group(func(r chi.Router) {
		r.Use(h.requireAuth)

		r.Get("/api/users/{id}", h.userByID)
		r.Post("/api/users/{role}/contacts", h.contacts)

		r.Get("/api/conversations", h.listConversations)
		r.Post("/api/conversations", h.createConversation)

		r.Get("/api/messages", h.listMessages)
		r.Post("/api/messages", h.sendMessage)
		r.Post("/api/messages/read", h.markRead)
		r.Post("/api/messages/recall", h.recallMessage)

		r.Post("/api/oss/config", h.ossConfig)

		r.Get("/ws", h.serveWS)
	})

	return r
}

// requireAuth verifies the bearer token and stashes the identity in the
// request context.
func (h *Handlers) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, err := auth.TokenFromRequest(r)
		if err != nil {
			respondFailure(w, err)
			return
		}
		id, err := h.tokens.Verify(raw)
		if err != nil {
			respondFailure(w, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(auth.WithIdentity(r.Context(), id)))
	})
}

// corsMiddleware lets the browser client on another origin call the API.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
