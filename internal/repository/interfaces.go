package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/leadsradar/server/internal/models"
)

var (
	ErrNotFound        = errors.New("record not found")
	ErrVersionMismatch = errors.New("version mismatch")
	ErrDuplicatePrefix = errors.New("duplicate key prefix")
)

type KeyRepository interface {
	CreateKey(ctx context.Context, key *models.ApiKey) error
	GetKeysByPrefix(ctx context.Context, prefix string) ([]models.ApiKey, error)
	GetKey(ctx context.Context, id uuid.UUID) (*models.ApiKey, error)
	ListKeys(ctx context.Context, userID uuid.UUID) ([]models.ApiKey, error)
	// RevokeKey sets revoked_at if it is not already set.
	RevokeKey(ctx context.Context, id, userID uuid.UUID, at time.Time) error
	TouchKey(ctx context.Context, id uuid.UUID, at time.Time) error
}

type RateLimitRepository interface {
	// CheckAndIncrement rolls the windows and consumes one slot for
	// (userID, resource) as a single indivisible step.
	CheckAndIncrement(ctx context.Context, userID uuid.UUID, resource models.ResourceType, limit models.RateLimit, now time.Time) (models.RateLimitDecision, error)
	PruneRateLimits(ctx context.Context, idleSince time.Time) (int64, error)
}

type LeadRepository interface {
	// InsertLeadIfAbsent inserts lead unless (user_id, tweet_id) exists, in
	// which case the stored row is left untouched and its id returned.
	InsertLeadIfAbsent(ctx context.Context, lead *models.Lead) (id uuid.UUID, created bool, err error)
	GetLead(ctx context.Context, id uuid.UUID) (*models.Lead, error)
	// UpdateLeadStatus succeeds only when the stored version equals
	// expectedVersion; otherwise it returns ErrVersionMismatch.
	UpdateLeadStatus(ctx context.Context, id, userID uuid.UUID, status models.LeadStatus, expectedVersion int64, at time.Time) (int64, error)
	SoftDeleteLead(ctx context.Context, id, userID uuid.UUID, expectedVersion int64, at time.Time) (int64, error)
}

type WebhookEventRepository interface {
	InsertEvent(ctx context.Context, event *models.WebhookEvent) error
	LinkEventLead(ctx context.Context, id, leadID uuid.UUID, at time.Time) error
	MarkEventFailed(ctx context.Context, id uuid.UUID, kind, reason string) error
	IncrementEventRetry(ctx context.Context, id uuid.UUID) error
	ListReplayableEvents(ctx context.Context, maxRetries, limit int) ([]models.WebhookEvent, error)
}

type UsageRepository interface {
	InsertUsage(ctx context.Context, entry *models.ApiUsageLog) error
	PruneUsage(ctx context.Context, before time.Time) (int64, error)
}

type ProfileRepository interface {
	GetProfile(ctx context.Context, userID uuid.UUID) (*models.Profile, error)
	UpsertProfile(ctx context.Context, profile *models.Profile) error
}

// Store bundles every repository plus a liveness check
type Store interface {
	KeyRepository
	RateLimitRepository
	LeadRepository
	WebhookEventRepository
	UsageRepository
	ProfileRepository
	Ping(ctx context.Context) error
}
