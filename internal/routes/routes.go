package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/saashqdev/delightful-im/internal/handlers"
	"github.com/saashqdev/delightful-im/internal/middleware"
)

type Handlers struct {
	Messages  *handlers.MessageHandler
	Groups    *handlers.GroupHandler
	WebSocket *handlers.WebSocketHandler
	// SendLimiter throttles the endpoints that create messages.
	SendLimiter *middleware.Limiter
	// Metrics serves /metrics when set.
	Metrics http.Handler
}

func SetupRoutes(r chi.Router, h Handlers) {
	// Health check (no identity, no rate limit)
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("OK"))
	})
	if h.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", h.Metrics)
	}

	r.Group(func(r chi.Router) {
		r.Use(middleware.Identity)

		// Realtime delivery gateway
		r.Method(http.MethodGet, "/ws", h.WebSocket)

		r.Route("/api/v1", func(r chi.Router) {
			// Sending
			r.Group(func(r chi.Router) {
				if h.SendLimiter != nil {
					r.Use(middleware.SenderRateLimit(h.SendLimiter))
				}
				r.Post("/messages", h.Messages.Send)
			})
			// fragments arrive faster than people type
			r.Post("/messages/stream", h.Messages.Stream)
			r.Get("/messages/sent", h.Messages.Sent)

			// Control messages
			r.Post("/messages/seen", h.Messages.Seen)
			r.Post("/messages/read", h.Messages.Read)
			r.Post("/messages/revoke", h.Messages.Revoke)
			r.Post("/messages/edit", h.Messages.Edit)

			// Groups
			r.Post("/groups", h.Groups.Create)
			r.Post("/groups/{groupID}/members", h.Groups.AddMembers)
		})
	})
}
