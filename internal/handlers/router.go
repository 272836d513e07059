package handlers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Deps are the handlers the router mounts
type Deps struct {
	Auth     *Authenticator
	Health   *HealthHandler
	Webhook  *WebhookHandler
	Keys     *KeyHandler
	Leads    *LeadHandler
	Pitch    *PitchHandler
	Settings *SettingsHandler
	Origins  []string
}

// NewRouter wires routes and middleware
func NewRouter(d Deps) http.Handler {
	r := chi.NewRouter()

	// Middleware
	r.Use(RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(CORS(d.Origins))

	r.Get("/health", d.Health.Health)
	r.Handle("/metrics", promhttp.Handler())

	// Long-lived connection, kept out of the request timeout
	r.With(d.Auth.Middleware).Get("/api/v1/leads/stream", d.Leads.Stream)

	r.Group(func(r chi.Router) {
		// Pitch generation is bounded by its own upstream timeout
		r.Use(middleware.Timeout(30 * time.Second))

		r.Post("/api/webhooks/twitter", d.Webhook.HandleTwitter)

		r.Route("/api/v1", func(r chi.Router) {
			r.Use(d.Auth.Middleware)

			r.Get("/keys", d.Keys.ListKeys)
			r.Post("/keys", d.Keys.CreateKey)
			r.Delete("/keys/{id}", d.Keys.RevokeKey)

			r.Patch("/leads/{id}/status", d.Leads.UpdateStatus)
			r.Delete("/leads/{id}", d.Leads.DeleteLead)
			r.Post("/leads/{id}/pitch", d.Pitch.GeneratePitch)

			r.Get("/profile", d.Settings.GetProfile)
			r.Put("/profile", d.Settings.UpdateProfile)
		})
	})

	return r
}
