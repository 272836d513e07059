package services

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/leadsradar/server/internal/metrics"
	"github.com/leadsradar/server/internal/models"
	"github.com/leadsradar/server/internal/repository"
)

// IngestRequest is one authenticated webhook delivery
type IngestRequest struct {
	UserID     uuid.UUID
	APIKeyID   uuid.UUID
	RequestID  string
	RawPayload []byte
	IPAddress  string
	// BodyError is set when the body could not be read in full; the
	// delivery is then recorded as invalid without parsing RawPayload.
	BodyError string
}

// IngestResult reports the lead a delivery resolved to
type IngestResult struct {
	EventID uuid.UUID
	LeadID  uuid.UUID
	Created bool
}

// Ingestor validates webhook deliveries, records an audit event for each
// and turns valid ones into leads.
type Ingestor struct {
	events repository.WebhookEventRepository
	leads  *LeadStore
	now    func() time.Time
}

func NewIngestor(events repository.WebhookEventRepository, leads *LeadStore) *Ingestor {
	return &Ingestor{
		events: events,
		leads:  leads,
		now:    time.Now,
	}
}

// Ingest processes one delivery. Exactly one event row is written per
// call that gets past authentication, whatever the outcome.
func (in *Ingestor) Ingest(ctx context.Context, req IngestRequest) (*IngestResult, error) {
	now := in.now().UTC()
	logger := log.With().Str("request_id", req.RequestID).Str("user_id", req.UserID.String()).Logger()

	event := &models.WebhookEvent{
		RequestID:  req.RequestID,
		UserID:     req.UserID,
		APIKeyID:   req.APIKeyID,
		Payload:    storablePayload(req.RawPayload),
		IPAddress:  req.IPAddress,
		ReceivedAt: now,
	}

	var (
		payload *models.WebhookPayload
		verr    error
	)
	if req.BodyError != "" {
		verr = invalidField("body", req.BodyError)
	} else {
		payload, verr = ParseWebhookPayload(req.RawPayload)
	}
	if verr != nil {
		reason := validationSummary(verr)
		event.Processed = false
		event.FailureKind = models.FailureValidation
		event.ErrorMessage = &reason
		if err := in.events.InsertEvent(ctx, event); err != nil {
			logger.Error().Err(err).Msg("Failed to record rejected webhook event")
			metrics.IncWebhookEvent("error")
			return nil, internal("failed to record webhook event", err)
		}
		metrics.IncWebhookEvent("rejected")
		logger.Info().Str("event_id", event.ID.String()).Str("reason", reason).Msg("Webhook payload rejected")
		return nil, verr
	}

	event.Processed = true
	event.ProcessedAt = &now
	if err := in.events.InsertEvent(ctx, event); err != nil {
		logger.Error().Err(err).Msg("Failed to record webhook event")
		metrics.IncWebhookEvent("error")
		return nil, internal("failed to record webhook event", err)
	}

	leadID, created, err := in.upsert(ctx, event.ID, req.UserID, payload)
	if err != nil {
		if markErr := in.events.MarkEventFailed(ctx, event.ID, models.FailureLeadUpsert, err.Error()); markErr != nil {
			logger.Error().Err(markErr).Str("event_id", event.ID.String()).Msg("Failed to mark webhook event as failed")
		}
		logger.Error().Err(err).Str("event_id", event.ID.String()).Msg("Lead upsert failed")
		metrics.IncWebhookEvent("error")
		return nil, internal("failed to store lead", err)
	}

	if err := in.events.LinkEventLead(ctx, event.ID, leadID, now); err != nil {
		logger.Warn().Err(err).Str("event_id", event.ID.String()).Msg("Failed to link webhook event to lead")
	}

	metrics.IncWebhookEvent("accepted")
	logger.Info().
		Str("event_id", event.ID.String()).
		Str("lead_id", leadID.String()).
		Bool("created", created).
		Msg("Webhook processed")

	return &IngestResult{EventID: event.ID, LeadID: leadID, Created: created}, nil
}

// Replay retries the lead upsert of an event that failed at that step
func (in *Ingestor) Replay(ctx context.Context, event models.WebhookEvent) (*IngestResult, error) {
	if err := in.events.IncrementEventRetry(ctx, event.ID); err != nil {
		return nil, internal("failed to count retry", err)
	}

	payload, verr := ParseWebhookPayload(event.Payload)
	if verr != nil {
		reason := validationSummary(verr)
		if err := in.events.MarkEventFailed(ctx, event.ID, models.FailureValidation, reason); err != nil {
			return nil, internal("failed to mark event", err)
		}
		return nil, verr
	}

	leadID, created, err := in.upsert(ctx, event.ID, event.UserID, payload)
	if err != nil {
		if markErr := in.events.MarkEventFailed(ctx, event.ID, models.FailureLeadUpsert, err.Error()); markErr != nil {
			log.Error().Err(markErr).Str("event_id", event.ID.String()).Msg("Failed to mark webhook event as failed")
		}
		return nil, internal("failed to store lead", err)
	}

	if err := in.events.LinkEventLead(ctx, event.ID, leadID, in.now().UTC()); err != nil {
		return nil, internal("failed to link event", err)
	}

	log.Info().
		Str("event_id", event.ID.String()).
		Str("lead_id", leadID.String()).
		Int("retry", event.RetryCount+1).
		Msg("Webhook event replayed")
	return &IngestResult{EventID: event.ID, LeadID: leadID, Created: created}, nil
}

func (in *Ingestor) upsert(ctx context.Context, eventID, userID uuid.UUID, p *models.WebhookPayload) (uuid.UUID, bool, error) {
	return in.leads.UpsertFromIngestion(ctx, userID, p.TweetID, IngestFields{
		TweetText:      p.TweetText,
		TweetAuthor:    p.TweetAuthor,
		SpamScore:      p.SpamScore,
		EstimatedValue: p.EstimatedValue,
		Source:         SourceWebhook,
		SourceMetadata: map[string]any{"webhook_event_id": eventID.String()},
	})
}

// storablePayload keeps JSON bodies as they are and wraps anything else in
// a JSON string so the raw bytes survive in a JSONB column.
func storablePayload(raw []byte) json.RawMessage {
	if len(raw) > 0 && json.Valid(raw) {
		return json.RawMessage(raw)
	}
	b, _ := json.Marshal(string(raw))
	return b
}

func validationSummary(err error) string {
	fields := FieldsOf(err)
	if len(fields) == 0 {
		return err.Error()
	}
	parts := make([]string, 0, len(fields))
	for _, f := range fields {
		parts = append(parts, f.Field+": "+f.Message)
	}
	return strings.Join(parts, "; ")
}
