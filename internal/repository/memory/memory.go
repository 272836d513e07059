package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/leadsradar/server/internal/models"
	"github.com/leadsradar/server/internal/repository"
)

type rateKey struct {
	userID   uuid.UUID
	resource models.ResourceType
}

type leadKey struct {
	userID  uuid.UUID
	tweetID string
}

// Store keeps everything in process memory. A single mutex serialises all
// mutations, which gives the same atomicity the SQL store gets from row
// locks. Used for local development and tests.
type Store struct {
	mu sync.RWMutex

	keys       map[uuid.UUID]*models.ApiKey
	prefixes   map[string]uuid.UUID
	rateLimits map[rateKey]*models.RateLimitUsage
	leads      map[uuid.UUID]*models.Lead
	leadIndex  map[leadKey]uuid.UUID
	events     map[uuid.UUID]*models.WebhookEvent
	eventOrder []uuid.UUID
	usage      []models.ApiUsageLog
	profiles   map[uuid.UUID]*models.Profile
}

var _ repository.Store = (*Store)(nil)

func New() *Store {
	return &Store{
		keys:       make(map[uuid.UUID]*models.ApiKey),
		prefixes:   make(map[string]uuid.UUID),
		rateLimits: make(map[rateKey]*models.RateLimitUsage),
		leads:      make(map[uuid.UUID]*models.Lead),
		leadIndex:  make(map[leadKey]uuid.UUID),
		events:     make(map[uuid.UUID]*models.WebhookEvent),
		profiles:   make(map[uuid.UUID]*models.Profile),
	}
}

func (s *Store) Ping(ctx context.Context) error {
	return ctx.Err()
}

// Key Repo Implementation

func (s *Store) CreateKey(ctx context.Context, key *models.ApiKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, taken := s.prefixes[key.Prefix]; taken {
		return repository.ErrDuplicatePrefix
	}
	if key.ID == uuid.Nil {
		key.ID = uuid.New()
	}
	k := *key
	s.keys[k.ID] = &k
	s.prefixes[k.Prefix] = k.ID
	return nil
}

func (s *Store) GetKeysByPrefix(ctx context.Context, prefix string) ([]models.ApiKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.prefixes[prefix]
	if !ok {
		return nil, nil
	}
	return []models.ApiKey{*s.keys[id]}, nil
}

func (s *Store) GetKey(ctx context.Context, id uuid.UUID) (*models.ApiKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	k, ok := s.keys[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	out := *k
	return &out, nil
}

func (s *Store) ListKeys(ctx context.Context, userID uuid.UUID) ([]models.ApiKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var list []models.ApiKey
	for _, k := range s.keys {
		if k.UserID == userID {
			list = append(list, *k)
		}
	}
	sort.Slice(list, func(i, j int) bool { return list[i].CreatedAt.After(list[j].CreatedAt) })
	return list, nil
}

func (s *Store) RevokeKey(ctx context.Context, id, userID uuid.UUID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k, ok := s.keys[id]
	if !ok || k.UserID != userID {
		return repository.ErrNotFound
	}
	if k.RevokedAt == nil {
		t := at
		k.RevokedAt = &t
	}
	return nil
}

func (s *Store) TouchKey(ctx context.Context, id uuid.UUID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k, ok := s.keys[id]
	if !ok {
		return repository.ErrNotFound
	}
	t := at
	k.LastUsedAt = &t
	return nil
}

// Rate Limit Repo Implementation

func (s *Store) CheckAndIncrement(ctx context.Context, userID uuid.UUID, resource models.ResourceType, limit models.RateLimit, now time.Time) (models.RateLimitDecision, error) {
	if err := ctx.Err(); err != nil {
		return models.RateLimitDecision{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	key := rateKey{userID: userID, resource: resource}
	usage, ok := s.rateLimits[key]
	if !ok {
		usage = &models.RateLimitUsage{UserID: userID, ResourceType: resource}
	}

	// Work on a copy so a denied call leaves the stored row as it was.
	next := *usage
	decision := next.Consume(now, limit)
	if decision.Allowed {
		s.rateLimits[key] = &next
	}
	return decision, nil
}

func (s *Store) PruneRateLimits(ctx context.Context, idleSince time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for k, u := range s.rateLimits {
		if u.UpdatedAt.Before(idleSince) {
			delete(s.rateLimits, k)
			n++
		}
	}
	return n, nil
}

// Lead Repo Implementation

func (s *Store) InsertLeadIfAbsent(ctx context.Context, lead *models.Lead) (uuid.UUID, bool, error) {
	if err := ctx.Err(); err != nil {
		return uuid.Nil, false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	key := leadKey{userID: lead.UserID, tweetID: lead.TweetID}
	if id, exists := s.leadIndex[key]; exists {
		return id, false, nil
	}
	if lead.ID == uuid.Nil {
		lead.ID = uuid.New()
	}
	l := *lead
	s.leads[l.ID] = &l
	s.leadIndex[key] = l.ID
	return l.ID, true, nil
}

func (s *Store) GetLead(ctx context.Context, id uuid.UUID) (*models.Lead, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	l, ok := s.leads[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	out := *l
	return &out, nil
}

func (s *Store) UpdateLeadStatus(ctx context.Context, id, userID uuid.UUID, status models.LeadStatus, expectedVersion int64, at time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.leads[id]
	if !ok || l.UserID != userID || l.DeletedAt != nil {
		return 0, repository.ErrNotFound
	}
	if l.Version != expectedVersion {
		return 0, repository.ErrVersionMismatch
	}
	l.Status = status
	l.Version++
	l.UpdatedAt = at
	by := userID
	l.UpdatedBy = &by
	l.StampTransition(status, at)
	return l.Version, nil
}

func (s *Store) SoftDeleteLead(ctx context.Context, id, userID uuid.UUID, expectedVersion int64, at time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.leads[id]
	if !ok || l.UserID != userID || l.DeletedAt != nil {
		return 0, repository.ErrNotFound
	}
	if l.Version != expectedVersion {
		return 0, repository.ErrVersionMismatch
	}
	t := at
	l.DeletedAt = &t
	l.Version++
	l.UpdatedAt = at
	by := userID
	l.UpdatedBy = &by
	return l.Version, nil
}

// Webhook Event Repo Implementation

func (s *Store) InsertEvent(ctx context.Context, event *models.WebhookEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	e := *event
	s.events[e.ID] = &e
	s.eventOrder = append(s.eventOrder, e.ID)
	return nil
}

func (s *Store) LinkEventLead(ctx context.Context, id, leadID uuid.UUID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.events[id]
	if !ok {
		return repository.ErrNotFound
	}
	lid, t := leadID, at
	e.LeadID = &lid
	e.Processed = true
	e.ProcessedAt = &t
	e.ErrorMessage = nil
	e.FailureKind = ""
	return nil
}

func (s *Store) MarkEventFailed(ctx context.Context, id uuid.UUID, kind, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.events[id]
	if !ok {
		return repository.ErrNotFound
	}
	msg := reason
	e.Processed = false
	e.ErrorMessage = &msg
	e.FailureKind = kind
	return nil
}

func (s *Store) IncrementEventRetry(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.events[id]
	if !ok {
		return repository.ErrNotFound
	}
	e.RetryCount++
	return nil
}

func (s *Store) ListReplayableEvents(ctx context.Context, maxRetries, limit int) ([]models.WebhookEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.WebhookEvent
	for _, id := range s.eventOrder {
		e := s.events[id]
		if e.Processed || e.FailureKind != models.FailureLeadUpsert || e.RetryCount >= maxRetries {
			continue
		}
		out = append(out, *e)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

// Events returns a snapshot of every recorded webhook event in insertion order
func (s *Store) Events() []models.WebhookEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.WebhookEvent, 0, len(s.eventOrder))
	for _, id := range s.eventOrder {
		out = append(out, *s.events[id])
	}
	return out
}

// Usage Repo Implementation

func (s *Store) InsertUsage(ctx context.Context, entry *models.ApiUsageLog) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.usage = append(s.usage, *entry)
	return nil
}

func (s *Store) PruneUsage(ctx context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.usage[:0]
	var n int64
	for _, u := range s.usage {
		if u.CreatedAt.Before(before) {
			n++
			continue
		}
		kept = append(kept, u)
	}
	s.usage = kept
	return n, nil
}

// Usage returns a snapshot of the usage log
func (s *Store) Usage() []models.ApiUsageLog {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.ApiUsageLog(nil), s.usage...)
}

// Profile Repo Implementation

func (s *Store) GetProfile(ctx context.Context, userID uuid.UUID) (*models.Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.profiles[userID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	out := *p
	return &out, nil
}

func (s *Store) UpsertProfile(ctx context.Context, profile *models.Profile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := *profile
	if existing, ok := s.profiles[p.UserID]; ok {
		p.CreatedAt = existing.CreatedAt
	}
	s.profiles[p.UserID] = &p
	return nil
}
