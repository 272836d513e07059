package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/leadsradar/server/internal/models"
	"github.com/leadsradar/server/internal/repository"
)

func (s *Store) InsertEvent(ctx context.Context, event *models.WebhookEvent) error {
	err := s.db.QueryRow(ctx, `
		INSERT INTO webhook_events (
			request_id, user_id, api_key_id, payload, ip_address,
			processed, error_message, failure_kind, received_at
		)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6, $7, NULLIF($8, ''), $9)
		RETURNING id
	`, event.RequestID, event.UserID, event.APIKeyID, []byte(event.Payload), event.IPAddress,
		event.Processed, event.ErrorMessage, event.FailureKind, event.ReceivedAt,
	).Scan(&event.ID)
	if err != nil {
		return fmt.Errorf("insert webhook event: %w", err)
	}
	return nil
}

func (s *Store) LinkEventLead(ctx context.Context, id, leadID uuid.UUID, at time.Time) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE webhook_events
		SET lead_id = $2, processed = true, processed_at = $3,
		    error_message = NULL, failure_kind = NULL
		WHERE id = $1
	`, id, leadID, at)
	if err != nil {
		return fmt.Errorf("link webhook event: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func (s *Store) MarkEventFailed(ctx context.Context, id uuid.UUID, kind, reason string) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE webhook_events
		SET processed = false, error_message = $3, failure_kind = $2
		WHERE id = $1
	`, id, kind, reason)
	if err != nil {
		return fmt.Errorf("mark webhook event failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func (s *Store) IncrementEventRetry(ctx context.Context, id uuid.UUID) error {
	_, err := s.db.Exec(ctx, `UPDATE webhook_events SET retry_count = retry_count + 1 WHERE id = $1`, id)
	return err
}

func (s *Store) ListReplayableEvents(ctx context.Context, maxRetries, limit int) ([]models.WebhookEvent, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, request_id, user_id, api_key_id, payload, COALESCE(ip_address, ''),
		       processed, processed_at, lead_id, error_message, COALESCE(failure_kind, ''),
		       retry_count, received_at
		FROM webhook_events
		WHERE processed = false AND failure_kind = $1 AND retry_count < $2
		ORDER BY received_at ASC
		LIMIT $3
	`, models.FailureLeadUpsert, maxRetries, limit)
	if err != nil {
		return nil, fmt.Errorf("list replayable events: %w", err)
	}
	defer rows.Close()

	var events []models.WebhookEvent
	for rows.Next() {
		var (
			e       models.WebhookEvent
			payload []byte
		)
		if err := rows.Scan(
			&e.ID, &e.RequestID, &e.UserID, &e.APIKeyID, &payload, &e.IPAddress,
			&e.Processed, &e.ProcessedAt, &e.LeadID, &e.ErrorMessage, &e.FailureKind,
			&e.RetryCount, &e.ReceivedAt,
		); err != nil {
			return nil, err
		}
		e.Payload = payload
		events = append(events, e)
	}
	return events, rows.Err()
}
