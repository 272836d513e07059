package services

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/leadsradar/server/internal/models"
	"github.com/leadsradar/server/internal/repository"
)

const maxBioLength = 500

// ProfileUpdate carries the fields a user may change. Nil leaves a field
// as it is; an empty string clears it.
type ProfileUpdate struct {
	Bio               *string `json:"bio"`
	DiscordWebhookURL *string `json:"discord_webhook_url"`
}

// ProfileService handles per-user settings
type ProfileService struct {
	repo repository.ProfileRepository
	now  func() time.Time
}

func NewProfileService(repo repository.ProfileRepository) *ProfileService {
	return &ProfileService{
		repo: repo,
		now:  time.Now,
	}
}

// Get returns the profile, or an empty one if the user never saved settings
func (s *ProfileService) Get(ctx context.Context, userID uuid.UUID) (*models.Profile, error) {
	p, err := s.repo.GetProfile(ctx, userID)
	if errors.Is(err, repository.ErrNotFound) {
		return &models.Profile{UserID: userID}, nil
	}
	if err != nil {
		return nil, internal("failed to load profile", err)
	}
	return p, nil
}

// Bio returns the user's service description, or "" when unset
func (s *ProfileService) Bio(ctx context.Context, userID uuid.UUID) (string, error) {
	p, err := s.Get(ctx, userID)
	if err != nil {
		return "", err
	}
	if p.Bio == nil {
		return "", nil
	}
	return *p.Bio, nil
}

// Update validates and saves the given fields
func (s *ProfileService) Update(ctx context.Context, userID uuid.UUID, upd ProfileUpdate) (*models.Profile, error) {
	var errs []FieldError

	if upd.Bio != nil {
		bio := strings.TrimSpace(*upd.Bio)
		if utf8.RuneCountInString(bio) > maxBioLength {
			errs = append(errs, FieldError{Field: "bio", Message: "must be at most 500 characters"})
		}
		upd.Bio = &bio
	}
	if upd.DiscordWebhookURL != nil {
		hook := strings.TrimSpace(*upd.DiscordWebhookURL)
		if hook != "" {
			if _, _, err := ParseDiscordWebhookURL(hook); err != nil {
				errs = append(errs, FieldError{Field: "discord_webhook_url", Message: "must be a Discord webhook URL"})
			}
		}
		upd.DiscordWebhookURL = &hook
	}
	if len(errs) > 0 {
		return nil, &Error{Kind: KindInvalidInput, Message: "Validation failed", Fields: errs}
	}

	p, err := s.Get(ctx, userID)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now
	if upd.Bio != nil {
		p.Bio = nullable(*upd.Bio)
	}
	if upd.DiscordWebhookURL != nil {
		p.DiscordWebhookURL = nullable(*upd.DiscordWebhookURL)
	}

	if err := s.repo.UpsertProfile(ctx, p); err != nil {
		return nil, internal("failed to save profile", err)
	}
	return p, nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
