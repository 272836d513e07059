package services

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/leadsradar/server/internal/metrics"
	"github.com/leadsradar/server/internal/models"
	"github.com/leadsradar/server/internal/repository"
)

const SourceWebhook = "webhook"

// IngestFields are the lead attributes taken from a validated payload
type IngestFields struct {
	TweetText      string
	TweetAuthor    string
	SpamScore      float64
	EstimatedValue float64
	Source         string
	SourceMetadata map[string]any
}

// LeadStore owns lead rows and their optimistic versioning
type LeadStore struct {
	repo      repository.LeadRepository
	publisher LeadPublisher
	now       func() time.Time
}

// NewLeadStore creates a lead store. publisher may be nil.
func NewLeadStore(repo repository.LeadRepository, publisher LeadPublisher) *LeadStore {
	return &LeadStore{
		repo:      repo,
		publisher: publisher,
		now:       time.Now,
	}
}

func (s *LeadStore) publish(event LeadEvent) {
	if s.publisher != nil {
		s.publisher.Publish(event)
	}
}

// UpsertFromIngestion creates the lead for (userID, tweetID) unless it
// already exists. An existing lead is never modified, whatever its status.
func (s *LeadStore) UpsertFromIngestion(ctx context.Context, userID uuid.UUID, tweetID string, fields IngestFields) (uuid.UUID, bool, error) {
	now := s.now().UTC()
	source := fields.Source
	if source == "" {
		source = SourceWebhook
	}

	lead := &models.Lead{
		UserID:         userID,
		TweetID:        tweetID,
		TweetText:      fields.TweetText,
		TweetAuthor:    fields.TweetAuthor,
		Status:         models.StatusFound,
		SpamScore:      fields.SpamScore,
		EstimatedValue: fields.EstimatedValue,
		Source:         source,
		SourceMetadata: fields.SourceMetadata,
		Version:        1,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	id, created, err := s.repo.InsertLeadIfAbsent(ctx, lead)
	if err != nil {
		return uuid.Nil, false, internal("failed to upsert lead", err)
	}

	if created {
		metrics.IncLeadCreated()
		lead.ID = id
		s.publish(LeadEvent{
			Type:    EventLeadCreated,
			LeadID:  id,
			UserID:  userID,
			Status:  lead.Status,
			Version: lead.Version,
			Lead:    lead,
			At:      now,
		})
	}
	return id, created, nil
}

// UpdateStatus moves the lead to status if expectedVersion is current and
// returns the new version, which is always expectedVersion+1.
func (s *LeadStore) UpdateStatus(ctx context.Context, leadID, userID uuid.UUID, status models.LeadStatus, expectedVersion int64) (int64, error) {
	if !status.Valid() {
		return 0, invalidField("status", "must be one of Found, Contacted, Negotiating, Won, Lost")
	}
	if expectedVersion < 1 {
		return 0, invalidField("version", "must be a positive integer")
	}

	now := s.now().UTC()
	version, err := s.repo.UpdateLeadStatus(ctx, leadID, userID, status, expectedVersion, now)
	if err != nil {
		err = s.classifyWriteMiss(ctx, leadID, userID, err)
		metrics.IncStatusUpdate(string(KindOf(err)))
		if errors.Is(err, ErrVersionConflict) {
			log.Info().
				Str("lead_id", leadID.String()).
				Int64("expected_version", expectedVersion).
				Msg("Lead status update lost a version race")
		}
		return 0, err
	}

	metrics.IncStatusUpdate("ok")
	log.Info().
		Str("lead_id", leadID.String()).
		Str("user_id", userID.String()).
		Str("status", string(status)).
		Int64("version", version).
		Msg("Lead status updated")

	s.publish(LeadEvent{
		Type:    EventLeadStatusChanged,
		LeadID:  leadID,
		UserID:  userID,
		Status:  status,
		Version: version,
		At:      now,
	})
	return version, nil
}

// Delete soft-deletes the lead under the same version check as UpdateStatus
func (s *LeadStore) Delete(ctx context.Context, leadID, userID uuid.UUID, expectedVersion int64) (int64, error) {
	if expectedVersion < 1 {
		return 0, invalidField("version", "must be a positive integer")
	}

	now := s.now().UTC()
	version, err := s.repo.SoftDeleteLead(ctx, leadID, userID, expectedVersion, now)
	if err != nil {
		return 0, s.classifyWriteMiss(ctx, leadID, userID, err)
	}

	log.Info().Str("lead_id", leadID.String()).Str("user_id", userID.String()).Msg("Lead deleted")
	s.publish(LeadEvent{
		Type:    EventLeadDeleted,
		LeadID:  leadID,
		UserID:  userID,
		Version: version,
		At:      now,
	})
	return version, nil
}

// Get returns a live lead owned by userID
func (s *LeadStore) Get(ctx context.Context, leadID, userID uuid.UUID) (*models.Lead, error) {
	lead, err := s.repo.GetLead(ctx, leadID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, newError(KindNotFound, "Lead not found", nil)
	}
	if err != nil {
		return nil, internal("failed to load lead", err)
	}
	if lead.UserID != userID || lead.DeletedAt != nil {
		return nil, newError(KindNotFound, "Lead not found", nil)
	}
	return lead, nil
}

// classifyWriteMiss turns a failed conditional write into a service error.
// The repository folds "not yours" into ErrNotFound, so ownership is
// resolved here with a read.
func (s *LeadStore) classifyWriteMiss(ctx context.Context, leadID, userID uuid.UUID, err error) error {
	switch {
	case errors.Is(err, repository.ErrVersionMismatch):
		return newError(KindVersionConflict, "Lead was modified by another request", nil)
	case errors.Is(err, repository.ErrNotFound):
		lead, getErr := s.repo.GetLead(ctx, leadID)
		if getErr != nil && !errors.Is(getErr, repository.ErrNotFound) {
			return internal("failed to load lead", getErr)
		}
		if getErr != nil || lead.DeletedAt != nil {
			return newError(KindNotFound, "Lead not found", nil)
		}
		if lead.UserID != userID {
			return newError(KindUnauthorized, "Lead belongs to another user", nil)
		}
		return newError(KindNotFound, "Lead not found", nil)
	default:
		return internal("failed to update lead", err)
	}
}
