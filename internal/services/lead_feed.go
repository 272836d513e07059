package services

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/leadsradar/server/internal/metrics"
	"github.com/leadsradar/server/internal/models"
)

const (
	EventLeadCreated       = "lead.created"
	EventLeadStatusChanged = "lead.status_changed"
	EventLeadDeleted       = "lead.deleted"

	subscriberBuffer = 32
)

// LeadEvent is a committed lead change pushed to subscribers
type LeadEvent struct {
	Type    string            `json:"type"`
	LeadID  uuid.UUID         `json:"lead_id"`
	UserID  uuid.UUID         `json:"-"`
	Status  models.LeadStatus `json:"status,omitempty"`
	Version int64             `json:"version"`
	Lead    *models.Lead      `json:"lead,omitempty"`
	At      time.Time         `json:"at"`
}

// LeadPublisher receives lead changes after they are committed
type LeadPublisher interface {
	Publish(event LeadEvent)
}

// Subscription delivers one user's lead events
type Subscription struct {
	C      <-chan LeadEvent
	ch     chan LeadEvent
	userID uuid.UUID
	once   sync.Once
}

// LeadFeed fans lead events out to the owner's subscribers. Publishing never
// blocks: a subscriber whose buffer is full misses the event.
type LeadFeed struct {
	mu   sync.RWMutex
	subs map[uuid.UUID]map[*Subscription]struct{}
}

func NewLeadFeed() *LeadFeed {
	return &LeadFeed{
		subs: make(map[uuid.UUID]map[*Subscription]struct{}),
	}
}

// Subscribe registers a subscriber for userID's events
func (f *LeadFeed) Subscribe(userID uuid.UUID) *Subscription {
	ch := make(chan LeadEvent, subscriberBuffer)
	sub := &Subscription{C: ch, ch: ch, userID: userID}

	f.mu.Lock()
	set, ok := f.subs[userID]
	if !ok {
		set = make(map[*Subscription]struct{})
		f.subs[userID] = set
	}
	set[sub] = struct{}{}
	f.mu.Unlock()

	metrics.AddFeedSubscribers(1)
	return sub
}

// Unsubscribe removes sub and closes its channel. Safe to call twice.
func (f *LeadFeed) Unsubscribe(sub *Subscription) {
	sub.once.Do(func() {
		f.mu.Lock()
		if set, ok := f.subs[sub.userID]; ok {
			delete(set, sub)
			if len(set) == 0 {
				delete(f.subs, sub.userID)
			}
		}
		close(sub.ch)
		f.mu.Unlock()
		metrics.AddFeedSubscribers(-1)
	})
}

// Publish delivers event to every subscriber of event.UserID
func (f *LeadFeed) Publish(event LeadEvent) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	for sub := range f.subs[event.UserID] {
		select {
		case sub.ch <- event:
		default:
			log.Warn().
				Str("user_id", event.UserID.String()).
				Str("type", event.Type).
				Msg("LeadFeed: subscriber too slow, dropping event")
		}
	}
}

// Subscribers returns the number of open subscriptions for userID
func (f *LeadFeed) Subscribers(userID uuid.UUID) int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.subs[userID])
}
