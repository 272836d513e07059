package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/leadsradar/server/internal/app"
	"github.com/leadsradar/server/internal/config"
	"github.com/leadsradar/server/internal/handlers"
)

// Set at build time with -ldflags "-X main.version=..."
var version = "dev"

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	app.SetupLogger(cfg)

	log.Info().Str("environment", cfg.Environment).Str("version", version).Msg("Starting LeadsRadar API")

	// Create context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := app.New(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize services")
	}
	defer a.Close()

	router := handlers.NewRouter(handlers.Deps{
		Auth:     handlers.NewAuthenticator(cfg.JWTSecret),
		Health:   handlers.NewHealthHandler(a.Store, version),
		Webhook:  handlers.NewWebhookHandler(a.Keys, a.Limiter, a.Ingestor),
		Keys:     handlers.NewKeyHandler(a.Keys),
		Leads:    handlers.NewLeadHandler(a.Leads, a.Feed, cfg.CORSOrigins),
		Pitch:    handlers.NewPitchHandler(a.Pitches),
		Settings: handlers.NewSettingsHandler(a.Profiles),
		Origins:  cfg.CORSOrigins,
	})

	// Start server
	server := &http.Server{
		Addr:        ":" + cfg.Port,
		Handler:     router,
		ReadTimeout: 15 * time.Second,
		// WriteTimeout stays zero so the lead stream is not cut; routes
		// carry their own timeout middleware.
		IdleTimeout: 60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ln, err := net.Listen("tcp", server.Addr)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to listen")
	}

	log.Info().Str("port", cfg.Port).Msg("Server listening")
	if err := serve(ctx, server, ln, 30*time.Second); err != nil {
		log.Error().Err(err).Msg("Server error")
	}

	log.Info().Msg("Server stopped")
}

// serve runs srv on ln until ctx is done, then waits up to drain for
// in-flight requests. It returns only after the drain has finished.
func serve(ctx context.Context, srv *http.Server, ln net.Listener, drain time.Duration) error {
	drained := make(chan error, 1)
	go func() {
		<-ctx.Done()
		log.Info().Msg("Shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), drain)
		defer cancel()
		drained <- srv.Shutdown(shutdownCtx)
	}()

	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return <-drained
}
