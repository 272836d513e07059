package services

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/leadsradar/server/internal/models"
	"github.com/leadsradar/server/internal/repository"
	"github.com/leadsradar/server/pkg/crypto"
)

const (
	maxKeyNameLength = 50
	maxIssueAttempts = 3
	touchTimeout     = 5 * time.Second
)

// IssuedKey is returned once at creation. FullKey is never stored.
type IssuedKey struct {
	ID        uuid.UUID  `json:"id"`
	FullKey   string     `json:"key"`
	Prefix    string     `json:"prefix"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// Verification is the outcome of checking a presented key
type Verification struct {
	Valid  bool
	UserID uuid.UUID
	KeyID  uuid.UUID
}

// KeyStore issues, verifies and revokes webhook API keys
type KeyStore struct {
	repo      repository.KeyRepository
	envPrefix string
	now       func() time.Time

	// In-flight last_used_at writes
	wg sync.WaitGroup
}

// NewKeyStore creates a key store. Production issues live keys, every other
// environment issues test keys.
func NewKeyStore(repo repository.KeyRepository, environment string) *KeyStore {
	prefix := crypto.TestPrefix
	if environment == "production" {
		prefix = crypto.LivePrefix
	}
	return &KeyStore{
		repo:      repo,
		envPrefix: prefix,
		now:       time.Now,
	}
}

// Issue creates a key for userID and returns the full key once
func (ks *KeyStore) Issue(ctx context.Context, userID uuid.UUID, name string, expiresInDays *int) (*IssuedKey, error) {
	name = strings.TrimSpace(name)
	if n := utf8.RuneCountInString(name); n == 0 || n > maxKeyNameLength {
		return nil, invalidField("name", "must be between 1 and 50 characters")
	}

	var expiresAt *time.Time
	if expiresInDays != nil {
		if *expiresInDays <= 0 {
			return nil, invalidField("expires_in_days", "must be a positive integer")
		}
		t := ks.now().UTC().AddDate(0, 0, *expiresInDays)
		expiresAt = &t
	}

	for attempt := 1; attempt <= maxIssueAttempts; attempt++ {
		rawKey, prefix, keyHash, err := crypto.GenerateAPIKey(ks.envPrefix)
		if err != nil {
			return nil, internal("failed to generate key", err)
		}

		key := &models.ApiKey{
			UserID:    userID,
			Prefix:    prefix,
			KeyHash:   keyHash,
			Name:      name,
			CreatedAt: ks.now().UTC(),
			ExpiresAt: expiresAt,
		}
		err = ks.repo.CreateKey(ctx, key)
		if errors.Is(err, repository.ErrDuplicatePrefix) {
			log.Warn().Int("attempt", attempt).Msg("KeyStore: prefix collision, regenerating")
			continue
		}
		if err != nil {
			return nil, internal("failed to store key", err)
		}

		log.Info().Str("user_id", userID.String()).Str("key_id", key.ID.String()).Msg("API key issued")
		return &IssuedKey{
			ID:        key.ID,
			FullKey:   rawKey,
			Prefix:    prefix,
			ExpiresAt: expiresAt,
		}, nil
	}

	return nil, internal("failed to issue key", repository.ErrDuplicatePrefix)
}

// Verify checks a presented key. Malformed, unknown, revoked and expired
// keys yield Valid=false with a nil error; only storage failures error.
func (ks *KeyStore) Verify(ctx context.Context, presented string) (Verification, error) {
	prefix, err := crypto.SplitPrefix(presented)
	if err != nil {
		return Verification{}, nil
	}

	candidates, err := ks.repo.GetKeysByPrefix(ctx, prefix)
	if err != nil {
		return Verification{}, internal("failed to look up key", err)
	}

	now := ks.now()
	for i := range candidates {
		k := &candidates[i]
		if !crypto.MatchesHash(presented, k.KeyHash) {
			continue
		}
		if !k.Valid(now) {
			return Verification{}, nil
		}
		ks.touch(k.ID, now)
		return Verification{Valid: true, UserID: k.UserID, KeyID: k.ID}, nil
	}
	return Verification{}, nil
}

// touch records last_used_at without holding up the caller
func (ks *KeyStore) touch(id uuid.UUID, at time.Time) {
	ks.wg.Add(1)
	go func() {
		defer ks.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), touchTimeout)
		defer cancel()
		if err := ks.repo.TouchKey(ctx, id, at.UTC()); err != nil {
			log.Warn().Err(err).Str("key_id", id.String()).Msg("KeyStore: failed to record last use")
		}
	}()
}

// Revoke marks the key revoked. Revoking twice keeps the first timestamp.
func (ks *KeyStore) Revoke(ctx context.Context, userID, keyID uuid.UUID) error {
	key, err := ks.repo.GetKey(ctx, keyID)
	if errors.Is(err, repository.ErrNotFound) {
		return newError(KindNotFound, "API key not found", nil)
	}
	if err != nil {
		return internal("failed to load key", err)
	}
	if key.UserID != userID {
		return newError(KindUnauthorized, "API key belongs to another user", nil)
	}

	if err := ks.repo.RevokeKey(ctx, keyID, userID, ks.now().UTC()); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return newError(KindNotFound, "API key not found", nil)
		}
		return internal("failed to revoke key", err)
	}

	log.Info().Str("user_id", userID.String()).Str("key_id", keyID.String()).Msg("API key revoked")
	return nil
}

// List returns the caller's keys, newest first
func (ks *KeyStore) List(ctx context.Context, userID uuid.UUID) ([]models.ApiKey, error) {
	keys, err := ks.repo.ListKeys(ctx, userID)
	if err != nil {
		return nil, internal("failed to list keys", err)
	}
	if keys == nil {
		keys = []models.ApiKey{}
	}
	return keys, nil
}

// Wait blocks until pending last-use writes have finished
func (ks *KeyStore) Wait() {
	ks.wg.Wait()
}
