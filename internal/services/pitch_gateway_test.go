package services

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/leadsradar/server/internal/models"
	"github.com/leadsradar/server/internal/repository/memory"
	"github.com/leadsradar/server/pkg/genai"
)

type fakeGenerator struct {
	mu    sync.Mutex
	calls []genai.PitchRequest
	delay time.Duration
	err   error
}

func (f *fakeGenerator) GeneratePitch(ctx context.Context, req genai.PitchRequest) (*genai.Completion, error) {
	f.mu.Lock()
	f.calls = append(f.calls, req)
	f.mu.Unlock()

	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	return &genai.Completion{
		Text:             "Hi @" + req.LeadName + ", saw your tweet. Want a quick mockup?",
		Model:            "gemini-test",
		PromptTokens:     800,
		CompletionTokens: 200,
		TotalTokens:      1000,
	}, nil
}

func (f *fakeGenerator) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type pitchFixture struct {
	gateway *PitchGateway
	gen     *fakeGenerator
	store   *memory.Store
	usage   *UsageLog
	userID  uuid.UUID
	leadID  uuid.UUID
}

func newPitchFixture(t *testing.T, limit models.RateLimit, timeout time.Duration) *pitchFixture {
	t.Helper()
	store := memory.New()
	leads := NewLeadStore(store, nil)
	profiles := NewProfileService(store)
	usage := NewUsageLog(store, decimal.RequireFromString("0.002"))
	limiter := NewRateLimiter(store, map[models.ResourceType]models.RateLimit{
		models.ResourcePitchGeneration: limit,
	})
	gen := &fakeGenerator{}

	userID := uuid.New()
	leadID := seedLead(t, leads, userID, "8080")

	return &pitchFixture{
		gateway: NewPitchGateway(limiter, leads, profiles, gen, usage, "gemini-pro", timeout),
		gen:     gen,
		store:   store,
		usage:   usage,
		userID:  userID,
		leadID:  leadID,
	}
}

func TestPitchGateway_Success(t *testing.T) {
	f := newPitchFixture(t, models.RateLimit{Hourly: 3, Daily: 10}, time.Second)
	ctx := WithRequestID(context.Background(), "req-pitch")

	bio := "I build Shopify stores"
	if _, err := NewProfileService(f.store).Update(ctx, f.userID, ProfileUpdate{Bio: &bio}); err != nil {
		t.Fatalf("profile: %v", err)
	}

	res, err := f.gateway.Generate(ctx, f.leadID, f.userID, "")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if res.Pitch == "" || res.RemainingDaily != 9 {
		t.Errorf("unexpected result %+v", res)
	}

	req := f.gen.calls[0]
	if req.Tone != DefaultTone || req.UserBio != bio || req.LeadName != "john_doe" {
		t.Errorf("generator got %+v", req)
	}

	f.usage.Flush()
	logs := f.store.Usage()
	if len(logs) != 1 {
		t.Fatalf("expected one usage row, got %d", len(logs))
	}
	u := logs[0]
	if !u.Success || u.StatusCode != 200 || u.RequestID != "req-pitch" || u.TotalTokens != 1000 {
		t.Errorf("unexpected usage row %+v", u)
	}
	if !u.EstimatedCost.Equal(decimal.RequireFromString("0.002")) {
		t.Errorf("cost = %s", u.EstimatedCost)
	}
}

func TestPitchGateway_EleventhCallOfTheDayIsRejected(t *testing.T) {
	f := newPitchFixture(t, models.RateLimit{Hourly: 100, Daily: 10}, time.Second)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		if _, err := f.gateway.Generate(ctx, f.leadID, f.userID, "casual"); err != nil {
			t.Fatalf("call %d: %v", i+1, err)
		}
	}

	_, err := f.gateway.Generate(ctx, f.leadID, f.userID, "casual")
	if !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected RateLimitExceeded, got %v", err)
	}
	var se *Error
	if !errors.As(err, &se) || !strings.HasPrefix(se.Message, "Daily") {
		t.Errorf("unexpected message: %v", err)
	}
	if n := f.gen.callCount(); n != 10 {
		t.Fatalf("denied call must not reach the generator: %d calls", n)
	}
}

func TestPitchGateway_HourlyCeilingMessage(t *testing.T) {
	f := newPitchFixture(t, models.RateLimit{Hourly: 3, Daily: 10}, time.Second)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := f.gateway.Generate(ctx, f.leadID, f.userID, ""); err != nil {
			t.Fatalf("call %d: %v", i+1, err)
		}
	}

	_, err := f.gateway.Generate(ctx, f.leadID, f.userID, "")
	var se *Error
	if !errors.As(err, &se) || se.Kind != KindRateLimitExceeded {
		t.Fatalf("expected RateLimitExceeded, got %v", err)
	}
	if !strings.HasPrefix(se.Message, "Hourly") {
		t.Errorf("hourly denial reported as %q", se.Message)
	}
}

func TestPitchGateway_TimeoutIsUpstreamError(t *testing.T) {
	f := newPitchFixture(t, models.RateLimit{Hourly: 3, Daily: 10}, 20*time.Millisecond)
	f.gen.delay = time.Second

	_, err := f.gateway.Generate(context.Background(), f.leadID, f.userID, "urgent")
	if !errors.Is(err, ErrUpstream) {
		t.Fatalf("expected UpstreamError, got %v", err)
	}

	f.usage.Flush()
	logs := f.store.Usage()
	if len(logs) != 1 || logs[0].Success || logs[0].ErrorType != "timeout" {
		t.Fatalf("failure should be logged as a timeout: %+v", logs)
	}
}

func TestPitchGateway_UpstreamFailure(t *testing.T) {
	f := newPitchFixture(t, models.RateLimit{Hourly: 3, Daily: 10}, time.Second)
	f.gen.err = &genai.APIError{StatusCode: 500, Body: "boom"}

	if _, err := f.gateway.Generate(context.Background(), f.leadID, f.userID, "friendly"); !errors.Is(err, ErrUpstream) {
		t.Fatalf("expected UpstreamError, got %v", err)
	}
}

func TestPitchGateway_InputErrors(t *testing.T) {
	f := newPitchFixture(t, models.RateLimit{Hourly: 3, Daily: 10}, time.Second)
	ctx := context.Background()

	if _, err := f.gateway.Generate(ctx, f.leadID, f.userID, "sarcastic"); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("bad tone: got %v", err)
	}
	if _, err := f.gateway.Generate(ctx, uuid.New(), f.userID, "casual"); !errors.Is(err, ErrNotFound) {
		t.Errorf("unknown lead: got %v", err)
	}
	if _, err := f.gateway.Generate(ctx, f.leadID, uuid.New(), "casual"); !errors.Is(err, ErrNotFound) {
		t.Errorf("foreign lead: got %v", err)
	}
	if n := f.gen.callCount(); n != 0 {
		t.Errorf("generator should not be called, got %d", n)
	}
}
