package services

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/leadsradar/server/internal/metrics"
	"github.com/leadsradar/server/internal/models"
	"github.com/leadsradar/server/internal/repository"
)

// DefaultRateLimits are the ceilings used when configuration does not override them
var DefaultRateLimits = map[models.ResourceType]models.RateLimit{
	models.ResourcePitchGeneration:  {Hourly: 3, Daily: 10},
	models.ResourceWebhookIngestion: {Hourly: 100, Daily: 1000},
}

// RateLimiter enforces per-user hourly and daily ceilings. Atomicity of the
// check-and-increment belongs to the backend.
type RateLimiter struct {
	backend repository.RateLimitRepository
	limits  map[models.ResourceType]models.RateLimit
	now     func() time.Time
}

func NewRateLimiter(backend repository.RateLimitRepository, limits map[models.ResourceType]models.RateLimit) *RateLimiter {
	if limits == nil {
		limits = DefaultRateLimits
	}
	return &RateLimiter{
		backend: backend,
		limits:  limits,
		now:     time.Now,
	}
}

// Limit returns the ceilings for resource
func (rl *RateLimiter) Limit(resource models.ResourceType) (models.RateLimit, bool) {
	l, ok := rl.limits[resource]
	return l, ok
}

// CheckAndIncrement consumes one slot if both windows allow it. A denied
// call does not consume anything.
func (rl *RateLimiter) CheckAndIncrement(ctx context.Context, userID uuid.UUID, resource models.ResourceType) (models.RateLimitDecision, error) {
	limit, ok := rl.limits[resource]
	if !ok {
		return models.RateLimitDecision{}, invalidField("resource_type", "unknown resource type")
	}

	decision, err := rl.backend.CheckAndIncrement(ctx, userID, resource, limit, rl.now().UTC())
	if err != nil {
		return models.RateLimitDecision{}, internal("rate limit check failed", err)
	}

	metrics.ObserveRateLimit(string(resource), decision.Allowed)
	if !decision.Allowed {
		log.Info().
			Str("user_id", userID.String()).
			Str("resource", string(resource)).
			Int("remaining_hourly", decision.RemainingHourly).
			Int("remaining_daily", decision.RemainingDaily).
			Msg("Rate limit reached")
	}
	return decision, nil
}
