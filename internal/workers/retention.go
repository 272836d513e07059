package workers

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/leadsradar/server/internal/repository"
)

// Rate-limit rows idle this long hold no live window
const rateLimitIdle = 48 * time.Hour

// RetentionWorker prunes old usage logs and idle rate-limit counters
type RetentionWorker struct {
	usage      repository.UsageRepository
	rateLimits repository.RateLimitRepository
	interval   time.Duration
	retention  time.Duration
	now        func() time.Time
}

// NewRetentionWorker creates a new RetentionWorker
func NewRetentionWorker(usage repository.UsageRepository, rateLimits repository.RateLimitRepository, interval, retention time.Duration) *RetentionWorker {
	return &RetentionWorker{
		usage:      usage,
		rateLimits: rateLimits,
		interval:   interval,
		retention:  retention,
		now:        time.Now,
	}
}

// Start begins the periodic cleanup
func (r *RetentionWorker) Start(ctx context.Context) {
	log.Info().Dur("interval", r.interval).Dur("retention", r.retention).Msg("Starting Retention worker")

	// Run immediately on start
	r.RunOnce(ctx)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Retention worker stopped")
			return
		case <-ticker.C:
			r.RunOnce(ctx)
		}
	}
}

// RunOnce performs one cleanup pass
func (r *RetentionWorker) RunOnce(ctx context.Context) {
	now := r.now().UTC()

	usage, err := r.usage.PruneUsage(ctx, now.Add(-r.retention))
	if err != nil {
		log.Error().Err(err).Msg("Failed to prune usage logs")
	}

	counters, err := r.rateLimits.PruneRateLimits(ctx, now.Add(-rateLimitIdle))
	if err != nil {
		log.Error().Err(err).Msg("Failed to prune rate limit counters")
	}

	log.Info().Int64("usage_rows", usage).Int64("rate_limit_rows", counters).Msg("Retention pass completed")
}
