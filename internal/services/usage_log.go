package services

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/leadsradar/server/internal/models"
	"github.com/leadsradar/server/internal/repository"
)

const usageWriteTimeout = 5 * time.Second

var thousand = decimal.NewFromInt(1000)

// UsageLog appends metered-call records without blocking callers
type UsageLog struct {
	repo      repository.UsageRepository
	costPer1K decimal.Decimal
	now       func() time.Time
	wg        sync.WaitGroup
}

func NewUsageLog(repo repository.UsageRepository, costPer1KTokens decimal.Decimal) *UsageLog {
	return &UsageLog{
		repo:      repo,
		costPer1K: costPer1KTokens,
		now:       time.Now,
	}
}

// EstimateCost prices totalTokens at the configured rate per thousand
func (u *UsageLog) EstimateCost(totalTokens int) decimal.Decimal {
	if totalTokens <= 0 {
		return decimal.Zero
	}
	return decimal.NewFromInt(int64(totalTokens)).Div(thousand).Mul(u.costPer1K).Round(6)
}

// Record stores entry in the background. Failures are logged and dropped.
func (u *UsageLog) Record(entry models.ApiUsageLog) {
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = u.now().UTC()
	}
	if entry.EstimatedCost.IsZero() && entry.TotalTokens > 0 {
		entry.EstimatedCost = u.EstimateCost(entry.TotalTokens)
	}

	u.wg.Add(1)
	go func() {
		defer u.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), usageWriteTimeout)
		defer cancel()
		if err := u.repo.InsertUsage(ctx, &entry); err != nil {
			log.Error().
				Err(err).
				Str("request_id", entry.RequestID).
				Str("endpoint", entry.Endpoint).
				Msg("UsageLog: failed to record usage")
		}
	}()
}

// Flush waits for in-flight writes
func (u *UsageLog) Flush() {
	u.wg.Wait()
}
