/**
 * @description
 * This file sets up the HTTP router for the distribution-service. It defines the API
 * endpoints, associates them with their corresponding handlers, and applies any
 * necessary middleware, such as for authentication.
 *
 * @dependencies
 * - net/http: Standard Go library for HTTP functionality.
 * - github.com/go-chi/chi/v5: A lightweight and idiomatic router for Go.
 */

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// DistributionRoutes creates and returns a new router for the distribution service.
func DistributionRoutes(h *DistributionHandlers, auth AuthOptions) http.Handler {
	r := chi.NewRouter()

	// Add standard middleware for logging, panic recovery, and timeouts.
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	// Health check endpoint
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("healthy"))
	})

	// Group routes that require authentication.
	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(auth))

		// Owner operations on the caller's own distribution.
		r.Post("/", h.InitializeDistributionHandler)
		r.Get("/", h.GetDistributionHandler)
		r.Post("/gifts", h.AddGiftHandler)
		r.Delete("/gifts/{recipient_id}", h.RemoveGiftHandler)

		// Recipient operations against a named owner's distribution.
		r.Post("/{owner_id}/claims", h.ClaimGiftHandler)
		r.Get("/{owner_id}/gifts/me", h.GetPendingGiftHandler)
	})

	return r
}
