package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/leadsradar/server/internal/models"
	"github.com/leadsradar/server/internal/repository"
)

func (s *Store) GetProfile(ctx context.Context, userID uuid.UUID) (*models.Profile, error) {
	var p models.Profile
	err := s.db.QueryRow(ctx, `
		SELECT id, COALESCE(email, ''), bio, discord_webhook_url, created_at, updated_at
		FROM profiles
		WHERE id = $1 AND deleted_at IS NULL
	`, userID).Scan(&p.UserID, &p.Email, &p.Bio, &p.DiscordWebhookURL, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get profile: %w", err)
	}
	return &p, nil
}

func (s *Store) UpsertProfile(ctx context.Context, p *models.Profile) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO profiles (id, email, bio, discord_webhook_url, created_at, updated_at)
		VALUES ($1, NULLIF($2, ''), $3, $4, $5, $5)
		ON CONFLICT (id) DO UPDATE
		SET email = COALESCE(EXCLUDED.email, profiles.email),
		    bio = EXCLUDED.bio,
		    discord_webhook_url = EXCLUDED.discord_webhook_url,
		    updated_at = EXCLUDED.updated_at
	`, p.UserID, p.Email, p.Bio, p.DiscordWebhookURL, p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert profile: %w", err)
	}
	return nil
}
