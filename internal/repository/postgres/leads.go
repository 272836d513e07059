package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/leadsradar/server/internal/models"
	"github.com/leadsradar/server/internal/repository"
)

// InsertLeadIfAbsent relies on the (user_id, tweet_id) unique constraint.
// ON CONFLICT DO NOTHING keeps the stored row intact; the follow-up SELECT
// runs as a separate statement so it sees a row committed concurrently.
func (s *Store) InsertLeadIfAbsent(ctx context.Context, lead *models.Lead) (uuid.UUID, bool, error) {
	var metadata []byte
	if lead.SourceMetadata != nil {
		b, err := json.Marshal(lead.SourceMetadata)
		if err != nil {
			return uuid.Nil, false, fmt.Errorf("encode source metadata: %w", err)
		}
		metadata = b
	}

	var id uuid.UUID
	err := s.db.QueryRow(ctx, `
		INSERT INTO leads (
			user_id, tweet_id, tweet_text, tweet_author, status,
			spam_score, estimated_value, source, source_metadata,
			version, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, 1, $10, $10)
		ON CONFLICT (user_id, tweet_id) DO NOTHING
		RETURNING id
	`, lead.UserID, lead.TweetID, lead.TweetText, lead.TweetAuthor, string(lead.Status),
		lead.SpamScore, lead.EstimatedValue, lead.Source, metadata, lead.CreatedAt,
	).Scan(&id)
	if err == nil {
		lead.ID = id
		return id, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return uuid.Nil, false, fmt.Errorf("insert lead: %w", err)
	}

	err = s.db.QueryRow(ctx,
		`SELECT id FROM leads WHERE user_id = $1 AND tweet_id = $2`,
		lead.UserID, lead.TweetID,
	).Scan(&id)
	if err != nil {
		return uuid.Nil, false, fmt.Errorf("lookup existing lead: %w", err)
	}
	return id, false, nil
}

func (s *Store) GetLead(ctx context.Context, id uuid.UUID) (*models.Lead, error) {
	var (
		l        models.Lead
		status   string
		metadata []byte
	)
	err := s.db.QueryRow(ctx, `
		SELECT id, user_id, tweet_id, tweet_text, tweet_author, status,
		       spam_score, estimated_value, source, source_metadata, version,
		       contacted_at, negotiating_at, won_at, lost_at,
		       created_at, updated_at, updated_by, deleted_at
		FROM leads
		WHERE id = $1
	`, id).Scan(
		&l.ID, &l.UserID, &l.TweetID, &l.TweetText, &l.TweetAuthor, &status,
		&l.SpamScore, &l.EstimatedValue, &l.Source, &metadata, &l.Version,
		&l.ContactedAt, &l.NegotiatingAt, &l.WonAt, &l.LostAt,
		&l.CreatedAt, &l.UpdatedAt, &l.UpdatedBy, &l.DeletedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get lead: %w", err)
	}

	l.Status = models.LeadStatus(status)
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &l.SourceMetadata); err != nil {
			return nil, fmt.Errorf("decode source metadata: %w", err)
		}
	}
	return &l, nil
}

// transitionColumn whitelists the audit column written for a status
func transitionColumn(status models.LeadStatus) string {
	switch status {
	case models.StatusContacted:
		return "contacted_at"
	case models.StatusNegotiating:
		return "negotiating_at"
	case models.StatusWon:
		return "won_at"
	case models.StatusLost:
		return "lost_at"
	}
	return ""
}

func (s *Store) UpdateLeadStatus(ctx context.Context, id, userID uuid.UUID, status models.LeadStatus, expectedVersion int64, at time.Time) (int64, error) {
	set := `status = $4, version = version + 1, updated_at = $5, updated_by = $2`
	if col := transitionColumn(status); col != "" {
		set += `, ` + col + ` = $5`
	}

	var version int64
	err := s.db.QueryRow(ctx, `
		UPDATE leads SET `+set+`
		WHERE id = $1 AND user_id = $2 AND version = $3 AND deleted_at IS NULL
		RETURNING version
	`, id, userID, expectedVersion, string(status), at).Scan(&version)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, s.classifyMiss(ctx, id, userID)
	}
	if err != nil {
		return 0, fmt.Errorf("update lead status: %w", err)
	}
	return version, nil
}

func (s *Store) SoftDeleteLead(ctx context.Context, id, userID uuid.UUID, expectedVersion int64, at time.Time) (int64, error) {
	var version int64
	err := s.db.QueryRow(ctx, `
		UPDATE leads
		SET deleted_at = $4, version = version + 1, updated_at = $4, updated_by = $2
		WHERE id = $1 AND user_id = $2 AND version = $3 AND deleted_at IS NULL
		RETURNING version
	`, id, userID, expectedVersion, at).Scan(&version)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, s.classifyMiss(ctx, id, userID)
	}
	if err != nil {
		return 0, fmt.Errorf("soft delete lead: %w", err)
	}
	return version, nil
}

// classifyMiss explains why a conditional lead update matched no row
func (s *Store) classifyMiss(ctx context.Context, id, userID uuid.UUID) error {
	var (
		owner     uuid.UUID
		deletedAt *time.Time
	)
	err := s.db.QueryRow(ctx, `SELECT user_id, deleted_at FROM leads WHERE id = $1`, id).Scan(&owner, &deletedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return repository.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("classify lead update miss: %w", err)
	}
	if owner != userID || deletedAt != nil {
		return repository.ErrNotFound
	}
	return repository.ErrVersionMismatch
}
