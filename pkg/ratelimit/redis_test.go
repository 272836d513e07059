package ratelimit

import (
	"context"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/leadsradar/server/internal/models"
)

// Runs against a real server only: REDIS_TEST_URL=redis://localhost:6379/15
func newTestLimiter(t *testing.T) *RedisLimiter {
	t.Helper()
	url := os.Getenv("REDIS_TEST_URL")
	if url == "" {
		t.Skip("REDIS_TEST_URL not set")
	}
	l, err := NewRedisLimiter(url, "leadsradar_test:"+uuid.NewString())
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() { l.Close() })
	return l
}

func TestRedisLimiter_ConcurrentCeiling(t *testing.T) {
	l := newTestLimiter(t)
	userID := uuid.New()
	limit := models.RateLimit{Hourly: 10, Daily: 100}
	now := time.Now()

	var allowed atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d, err := l.CheckAndIncrement(context.Background(), userID, models.ResourcePitchGeneration, limit, now)
			if err != nil {
				t.Error(err)
				return
			}
			if d.Allowed {
				allowed.Add(1)
			}
		}()
	}
	wg.Wait()

	if got := allowed.Load(); got != 10 {
		t.Fatalf("expected exactly 10 admitted, got %d", got)
	}
}

func TestRedisLimiter_WindowRollover(t *testing.T) {
	l := newTestLimiter(t)
	ctx := context.Background()
	userID := uuid.New()
	limit := models.RateLimit{Hourly: 1, Daily: 2}
	start := time.Date(2026, 5, 1, 10, 30, 0, 0, time.UTC)

	if d, _ := l.CheckAndIncrement(ctx, userID, models.ResourcePitchGeneration, limit, start); !d.Allowed {
		t.Fatal("first call should be allowed")
	}
	if d, _ := l.CheckAndIncrement(ctx, userID, models.ResourcePitchGeneration, limit, start); d.Allowed {
		t.Fatal("hourly ceiling should deny")
	}

	d, _ := l.CheckAndIncrement(ctx, userID, models.ResourcePitchGeneration, limit, start.Add(time.Hour))
	if !d.Allowed || d.RemainingDaily != 0 {
		t.Fatalf("next hour: %+v", d)
	}
	if d, _ := l.CheckAndIncrement(ctx, userID, models.ResourcePitchGeneration, limit, start.Add(2*time.Hour)); d.Allowed {
		t.Fatal("daily ceiling should deny")
	}

	// Other resources keep their own counters
	if d, _ := l.CheckAndIncrement(ctx, userID, models.ResourceWebhookIngestion, limit, start); !d.Allowed {
		t.Fatal("separate resource should be allowed")
	}
}
