// Package app assembles the services shared by the API server, the
// workers and the admin CLI.
package app

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/leadsradar/server/internal/config"
	"github.com/leadsradar/server/internal/repository"
	"github.com/leadsradar/server/internal/repository/memory"
	"github.com/leadsradar/server/internal/repository/postgres"
	"github.com/leadsradar/server/internal/services"
	"github.com/leadsradar/server/pkg/database"
	"github.com/leadsradar/server/pkg/genai"
	"github.com/leadsradar/server/pkg/ratelimit"
)

// SetupLogger configures the global zerolog logger. Development gets the
// console writer, everything else emits JSON lines.
func SetupLogger(cfg *config.Config) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	level, err := zerolog.ParseLevel(strings.ToLower(cfg.LogLevel))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.IsProduction() {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
		return
	}
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
}

// App holds the wired services
type App struct {
	Config     *config.Config
	Store      repository.Store
	RateLimits repository.RateLimitRepository

	Keys     *services.KeyStore
	Limiter  *services.RateLimiter
	Feed     *services.LeadFeed
	Notifier *services.DiscordNotifier
	Leads    *services.LeadStore
	Ingestor *services.Ingestor
	Usage    *services.UsageLog
	Profiles *services.ProfileService
	GenAI    *genai.Client
	Pitches  *services.PitchGateway

	closers []func()
}

// OpenStore connects the configured storage driver. Postgres schemas are
// migrated before the store is returned.
func OpenStore(ctx context.Context, cfg *config.Config) (repository.Store, func(), error) {
	switch cfg.StorageDriver {
	case "memory":
		log.Warn().Msg("Using in-memory storage, data is lost on restart")
		return memory.New(), func() {}, nil
	case "postgres":
		db, err := database.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		log.Info().Msg("Running database migrations...")
		if err := db.Migrate(ctx); err != nil {
			db.Close()
			return nil, nil, err
		}
		log.Info().Msg("Migrations completed successfully")
		return postgres.New(db.Pool), db.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown storage driver %q", cfg.StorageDriver)
	}
}

// OpenRateLimits returns the counter backend. Redis is optional; the
// relational store always works.
func OpenRateLimits(cfg *config.Config, store repository.Store) (repository.RateLimitRepository, func(), error) {
	if cfg.RateLimitBackend != "redis" {
		return store, func() {}, nil
	}
	limiter, err := ratelimit.NewRedisLimiter(cfg.RedisURL, "leadsradar:rate_limit")
	if err != nil {
		return nil, nil, err
	}
	log.Info().Msg("Rate limit counters stored in Redis")
	return limiter, func() { _ = limiter.Close() }, nil
}

// New opens storage and wires every service
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	a := &App{Config: cfg}

	store, closeStore, err := OpenStore(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	a.Store = store
	a.closers = append(a.closers, closeStore)

	rateLimits, closeLimits, err := OpenRateLimits(cfg, store)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to open rate limit backend: %w", err)
	}
	a.RateLimits = rateLimits
	a.closers = append(a.closers, closeLimits)

	notifier, err := services.NewDiscordNotifier(store, cfg.DiscordWebhookURL, cfg.LeadAlertMinValue)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to create discord notifier: %w", err)
	}

	a.Keys = services.NewKeyStore(store, cfg.Environment)
	a.Limiter = services.NewRateLimiter(rateLimits, cfg.RateLimits)
	a.Feed = services.NewLeadFeed()
	a.Notifier = notifier
	a.Leads = services.NewLeadStore(store, services.MultiPublisher{a.Feed, a.Notifier})
	a.Ingestor = services.NewIngestor(store, a.Leads)
	a.Usage = services.NewUsageLog(store, cfg.GenAICostPer1KTokens)
	a.Profiles = services.NewProfileService(store)
	a.GenAI = genai.NewClient(genai.Options{
		BaseURL:           cfg.GenAIBaseURL,
		Model:             cfg.GenAIModel,
		APIKey:            cfg.GenAIAPIKey,
		AccessToken:       cfg.GenAIAccessToken,
		RequestsPerMinute: cfg.GenAIRequestsPerMinute,
	})
	a.Pitches = services.NewPitchGateway(a.Limiter, a.Leads, a.Profiles, a.GenAI, a.Usage, a.GenAI.Model(), cfg.GenAITimeout)

	return a, nil
}

// Close waits for background writes and releases connections
func (a *App) Close() {
	if a.Keys != nil {
		a.Keys.Wait()
	}
	if a.Usage != nil {
		a.Usage.Flush()
	}
	if a.Notifier != nil {
		a.Notifier.Wait()
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}
