package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/leadsradar/server/internal/models"
	"github.com/leadsradar/server/internal/repository"
)

const keyColumns = `id, user_id, key_prefix, key_hash, name, created_at, expires_at, revoked_at, last_used_at`

func scanKey(row pgx.Row) (*models.ApiKey, error) {
	var k models.ApiKey
	err := row.Scan(&k.ID, &k.UserID, &k.Prefix, &k.KeyHash, &k.Name,
		&k.CreatedAt, &k.ExpiresAt, &k.RevokedAt, &k.LastUsedAt)
	if err != nil {
		return nil, err
	}
	return &k, nil
}

func (s *Store) CreateKey(ctx context.Context, key *models.ApiKey) error {
	err := s.db.QueryRow(ctx, `
		INSERT INTO api_keys (user_id, key_prefix, key_hash, name, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`, key.UserID, key.Prefix, key.KeyHash, key.Name, key.CreatedAt, key.ExpiresAt).Scan(&key.ID)
	if isUniqueViolation(err) {
		return repository.ErrDuplicatePrefix
	}
	if err != nil {
		return fmt.Errorf("insert api key: %w", err)
	}
	return nil
}

func (s *Store) GetKeysByPrefix(ctx context.Context, prefix string) ([]models.ApiKey, error) {
	rows, err := s.db.Query(ctx, `SELECT `+keyColumns+` FROM api_keys WHERE key_prefix = $1`, prefix)
	if err != nil {
		return nil, fmt.Errorf("query api keys by prefix: %w", err)
	}
	defer rows.Close()

	var keys []models.ApiKey
	for rows.Next() {
		k, err := scanKey(rows)
		if err != nil {
			return nil, err
		}
		keys = append(keys, *k)
	}
	return keys, rows.Err()
}

func (s *Store) GetKey(ctx context.Context, id uuid.UUID) (*models.ApiKey, error) {
	k, err := scanKey(s.db.QueryRow(ctx, `SELECT `+keyColumns+` FROM api_keys WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get api key: %w", err)
	}
	return k, nil
}

func (s *Store) ListKeys(ctx context.Context, userID uuid.UUID) ([]models.ApiKey, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+keyColumns+`
		FROM api_keys
		WHERE user_id = $1
		ORDER BY created_at DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list api keys: %w", err)
	}
	defer rows.Close()

	keys := make([]models.ApiKey, 0)
	for rows.Next() {
		k, err := scanKey(rows)
		if err != nil {
			return nil, err
		}
		keys = append(keys, *k)
	}
	return keys, rows.Err()
}

func (s *Store) RevokeKey(ctx context.Context, id, userID uuid.UUID, at time.Time) error {
	// COALESCE keeps the first revocation time; revocation is terminal
	tag, err := s.db.Exec(ctx, `
		UPDATE api_keys SET revoked_at = COALESCE(revoked_at, $3)
		WHERE id = $1 AND user_id = $2
	`, id, userID, at)
	if err != nil {
		return fmt.Errorf("revoke api key: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func (s *Store) TouchKey(ctx context.Context, id uuid.UUID, at time.Time) error {
	_, err := s.db.Exec(ctx, `UPDATE api_keys SET last_used_at = $2 WHERE id = $1`, id, at)
	return err
}
