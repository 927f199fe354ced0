package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	// API v1 routes
	r.Route("/api/v1", func(r chi.Router) {
		// Health check (no auth required)
		r.Get("/health", s.handleHealth)

		// Device polling endpoint (no auth: controllers authenticate at
		// the network layer, and commands are only revealed to the door
		// they target).
		r.Get("/doors/commands/{doorID}", s.handlePollCommands)

		// WebSocket event feed. Browsers cannot set headers on the
		// upgrade request, so the bearer token arrives as a query
		// parameter and is validated in the handler.
		r.Get("/ws", s.handleWebSocket)

		// Protected management routes
		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)

			// Access decisions
			r.Post("/access/request", s.handleAccessRequest)

			// Access grants (mutation is admin-only)
			r.Get("/access/grants/{requesterID}", s.handleListGrants)
			r.Group(func(r chi.Router) {
				r.Use(s.requireAdmin)
				r.Post("/access/grants", s.handleCreateGrant)
				r.Delete("/access/grants", s.handleRevokeGrant)
			})

			// Command queue inspection for operators
			r.Get("/doors/{doorID}/commands", s.handleListDoorCommands)

			// Webhook subscriptions
			r.Route("/webhooks", func(r chi.Router) {
				r.Get("/", s.handleListSubscriptions)
				r.Post("/", s.handleCreateSubscription)
				r.Get("/events", s.handleListEventTypes)

				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", s.handleGetSubscription)
					r.Patch("/", s.handleUpdateSubscription)
					r.Delete("/", s.handleDeleteSubscription)
					r.Post("/test", s.handleTestSubscription)
					r.Get("/deliveries", s.handleListDeliveries)
				})
			})

			// Lock arbiter stats
			r.Get("/locks", s.handleLockStats)

			// Audit trail
			r.Get("/audit", s.handleListAudit)
		})
	})

	return r
}

// handleHealth returns the server health status.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": s.version,
	})
}
