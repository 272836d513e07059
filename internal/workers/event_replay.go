package workers

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/leadsradar/server/internal/models"
	"github.com/leadsradar/server/internal/repository"
	"github.com/leadsradar/server/internal/services"
)

const replayBatchSize = 100

// replayer is the part of the ingestor the worker drives
type replayer interface {
	Replay(ctx context.Context, event models.WebhookEvent) (*services.IngestResult, error)
}

// EventReplayer retries webhook events whose lead upsert failed
type EventReplayer struct {
	events     repository.WebhookEventRepository
	ingestor   replayer
	interval   time.Duration
	maxRetries int
}

// NewEventReplayer creates a new EventReplayer worker
func NewEventReplayer(events repository.WebhookEventRepository, ingestor replayer, interval time.Duration, maxRetries int) *EventReplayer {
	return &EventReplayer{
		events:     events,
		ingestor:   ingestor,
		interval:   interval,
		maxRetries: maxRetries,
	}
}

// Start runs the replay loop until ctx is cancelled
func (e *EventReplayer) Start(ctx context.Context) {
	log.Info().Dur("interval", e.interval).Int("max_retries", e.maxRetries).Msg("Starting Event Replayer worker")

	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Event Replayer worker stopped")
			return
		case <-ticker.C:
			if _, err := e.RunOnce(ctx); err != nil {
				log.Error().Err(err).Msg("Event replay failed")
			}
		}
	}
}

// RunOnce replays one batch and returns how many events succeeded
func (e *EventReplayer) RunOnce(ctx context.Context) (int, error) {
	pending, err := e.events.ListReplayableEvents(ctx, e.maxRetries, replayBatchSize)
	if err != nil {
		return 0, err
	}
	if len(pending) == 0 {
		return 0, nil
	}

	replayed := 0
	for _, event := range pending {
		if ctx.Err() != nil {
			break
		}
		if _, err := e.ingestor.Replay(ctx, event); err != nil {
			log.Warn().
				Err(err).
				Str("event_id", event.ID.String()).
				Int("retry", event.RetryCount+1).
				Msg("Replay attempt failed")
			continue
		}
		replayed++
	}

	log.Info().Int("pending", len(pending)).Int("replayed", replayed).Msg("Event replay batch done")
	return replayed, nil
}
