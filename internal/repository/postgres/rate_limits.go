package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/leadsradar/server/internal/models"
)

// CheckAndIncrement materialises the counter row, locks it with FOR UPDATE
// and writes the rolled and incremented counters back before commit.
// Concurrent callers for the same (user, resource) queue on the row lock.
func (s *Store) CheckAndIncrement(ctx context.Context, userID uuid.UUID, resource models.ResourceType, limit models.RateLimit, now time.Time) (models.RateLimitDecision, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return models.RateLimitDecision{}, fmt.Errorf("begin rate limit tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `
		INSERT INTO rate_limit_usage (user_id, resource_type)
		VALUES ($1, $2)
		ON CONFLICT (user_id, resource_type) DO NOTHING
	`, userID, string(resource)); err != nil {
		return models.RateLimitDecision{}, fmt.Errorf("ensure rate limit row: %w", err)
	}

	usage := models.RateLimitUsage{UserID: userID, ResourceType: resource}
	err = tx.QueryRow(ctx, `
		SELECT count_hourly, last_reset_hour, count_daily, last_reset_date, updated_at
		FROM rate_limit_usage
		WHERE user_id = $1 AND resource_type = $2
		FOR UPDATE
	`, userID, string(resource)).Scan(
		&usage.CountHourly, &usage.HourWindowStart,
		&usage.CountDaily, &usage.DayWindowStart, &usage.UpdatedAt,
	)
	if err != nil {
		return models.RateLimitDecision{}, fmt.Errorf("lock rate limit row: %w", err)
	}

	decision := usage.Consume(now, limit)
	if !decision.Allowed {
		// Denied calls leave the row untouched
		return decision, tx.Commit(ctx)
	}

	if _, err := tx.Exec(ctx, `
		UPDATE rate_limit_usage
		SET count_hourly = $3, last_reset_hour = $4,
		    count_daily = $5, last_reset_date = $6,
		    updated_at = $7
		WHERE user_id = $1 AND resource_type = $2
	`, userID, string(resource),
		usage.CountHourly, usage.HourWindowStart,
		usage.CountDaily, usage.DayWindowStart, now,
	); err != nil {
		return models.RateLimitDecision{}, fmt.Errorf("update rate limit row: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return models.RateLimitDecision{}, fmt.Errorf("commit rate limit tx: %w", err)
	}
	return decision, nil
}

func (s *Store) PruneRateLimits(ctx context.Context, idleSince time.Time) (int64, error) {
	tag, err := s.db.Exec(ctx, `DELETE FROM rate_limit_usage WHERE updated_at < $1`, idleSince)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
