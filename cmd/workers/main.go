package main

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/rs/zerolog/log"

	"github.com/leadsradar/server/internal/app"
	"github.com/leadsradar/server/internal/config"
	"github.com/leadsradar/server/internal/workers"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	app.SetupLogger(cfg)

	log.Info().Str("environment", cfg.Environment).Msg("Starting LeadsRadar workers")

	// Create context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := app.New(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize services")
	}
	defer a.Close()

	// Create workers
	replayer := workers.NewEventReplayer(a.Store, a.Ingestor, cfg.ReplayInterval, cfg.ReplayMaxRetries)
	retention := workers.NewRetentionWorker(a.Store, a.RateLimits, cfg.RetentionInterval, cfg.UsageRetention)

	// Start workers in goroutines
	var wg sync.WaitGroup
	for _, start := range []func(context.Context){replayer.Start, retention.Start} {
		wg.Add(1)
		go func(start func(context.Context)) {
			defer wg.Done()
			start(ctx)
		}(start)
	}

	log.Info().Msg("All workers started")

	// Wait for shutdown signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	log.Info().Msg("Shutdown signal received, stopping workers...")
	cancel()
	wg.Wait()

	log.Info().Msg("Workers stopped")
}
