package services

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/leadsradar/server/internal/models"
	"github.com/leadsradar/server/internal/repository"
	"github.com/leadsradar/server/internal/repository/memory"
	"github.com/leadsradar/server/pkg/crypto"
)

func TestKeyStore_IssueVerifyRevoke(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	ks := NewKeyStore(store, "development")
	userID := uuid.New()

	issued, err := ks.Issue(ctx, userID, "  Zapier  ", nil)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if !strings.HasPrefix(issued.FullKey, crypto.TestPrefix) {
		t.Errorf("development should issue test keys, got %q", issued.FullKey[:9])
	}
	if len(issued.FullKey) != len(crypto.TestPrefix)+64 {
		t.Errorf("unexpected key length %d", len(issued.FullKey))
	}
	if issued.Prefix != issued.FullKey[:crypto.PrefixLength] {
		t.Errorf("prefix %q is not the key head", issued.Prefix)
	}

	stored, _ := store.GetKey(ctx, issued.ID)
	if stored.Name != "Zapier" {
		t.Errorf("name not trimmed: %q", stored.Name)
	}
	if stored.KeyHash == issued.FullKey || stored.KeyHash != crypto.HashAPIKey(issued.FullKey) {
		t.Error("only the hash of the key may be stored")
	}

	v, err := ks.Verify(ctx, issued.FullKey)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if !v.Valid || v.UserID != userID || v.KeyID != issued.ID {
		t.Fatalf("unexpected verification %+v", v)
	}

	ks.Wait()
	stored, _ = store.GetKey(ctx, issued.ID)
	if stored.LastUsedAt == nil {
		t.Error("last_used_at should be recorded after a successful verify")
	}

	if err := ks.Revoke(ctx, userID, issued.ID); err != nil {
		t.Fatalf("Revoke: %v", err)
	}
	v, err = ks.Verify(ctx, issued.FullKey)
	if err != nil || v.Valid {
		t.Fatalf("revoked key must not verify: %+v %v", v, err)
	}
}

func TestKeyStore_ProductionIssuesLiveKeys(t *testing.T) {
	ks := NewKeyStore(memory.New(), "production")
	issued, err := ks.Issue(context.Background(), uuid.New(), "prod", nil)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if !strings.HasPrefix(issued.FullKey, crypto.LivePrefix) {
		t.Errorf("expected live key, got %q", issued.Prefix)
	}
}

func TestKeyStore_RevokeIsIdempotent(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	ks := NewKeyStore(store, "development")
	userID := uuid.New()

	first := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	ks.now = func() time.Time { return first }

	issued, _ := ks.Issue(ctx, userID, "k", nil)
	if err := ks.Revoke(ctx, userID, issued.ID); err != nil {
		t.Fatalf("first revoke: %v", err)
	}

	ks.now = func() time.Time { return first.Add(time.Hour) }
	if err := ks.Revoke(ctx, userID, issued.ID); err != nil {
		t.Fatalf("second revoke should succeed: %v", err)
	}

	stored, _ := store.GetKey(ctx, issued.ID)
	if stored.RevokedAt == nil || !stored.RevokedAt.Equal(first) {
		t.Errorf("revocation time changed: %v", stored.RevokedAt)
	}
}

func TestKeyStore_RevokeErrors(t *testing.T) {
	ctx := context.Background()
	ks := NewKeyStore(memory.New(), "development")
	owner := uuid.New()

	issued, _ := ks.Issue(ctx, owner, "k", nil)

	if err := ks.Revoke(ctx, uuid.New(), issued.ID); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("foreign revoke: expected Unauthorized, got %v", err)
	}
	if err := ks.Revoke(ctx, owner, uuid.New()); !errors.Is(err, ErrNotFound) {
		t.Errorf("unknown key: expected NotFound, got %v", err)
	}
}

func TestKeyStore_IssueValidation(t *testing.T) {
	ks := NewKeyStore(memory.New(), "development")
	ctx := context.Background()
	zero := 0

	if _, err := ks.Issue(ctx, uuid.New(), "   ", nil); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("blank name: got %v", err)
	}
	if _, err := ks.Issue(ctx, uuid.New(), strings.Repeat("n", 51), nil); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("long name: got %v", err)
	}
	if _, err := ks.Issue(ctx, uuid.New(), "ok", &zero); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("zero expiry: got %v", err)
	}
}

func TestKeyStore_ExpiredKeyDoesNotVerify(t *testing.T) {
	ctx := context.Background()
	ks := NewKeyStore(memory.New(), "development")
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	ks.now = func() time.Time { return start }

	days := 30
	issued, err := ks.Issue(ctx, uuid.New(), "temp", &days)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	ks.now = func() time.Time { return start.AddDate(0, 0, 29) }
	if v, _ := ks.Verify(ctx, issued.FullKey); !v.Valid {
		t.Fatal("key should still be valid on day 29")
	}

	ks.now = func() time.Time { return start.AddDate(0, 0, 30) }
	if v, _ := ks.Verify(ctx, issued.FullKey); v.Valid {
		t.Fatal("key should be expired at its expiry instant")
	}
	ks.Wait()
}

func TestKeyStore_VerifyRejectsGarbage(t *testing.T) {
	ctx := context.Background()
	ks := NewKeyStore(memory.New(), "development")
	issued, _ := ks.Issue(ctx, uuid.New(), "k", nil)

	for _, presented := range []string{
		"",
		"not-a-key",
		"ldr_test_",
		issued.FullKey[:len(issued.FullKey)-1] + "x",
		strings.Replace(issued.FullKey, crypto.TestPrefix, crypto.LivePrefix, 1),
	} {
		v, err := ks.Verify(ctx, presented)
		if err != nil || v.Valid {
			t.Errorf("Verify(%q) = %+v, %v; want invalid", presented, v, err)
		}
	}
}

// collidingRepo reports a prefix collision for the first n inserts
type collidingRepo struct {
	*memory.Store
	mu         sync.Mutex
	collisions int
}

func (r *collidingRepo) CreateKey(ctx context.Context, key *models.ApiKey) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.collisions > 0 {
		r.collisions--
		return repository.ErrDuplicatePrefix
	}
	return r.Store.CreateKey(ctx, key)
}

func TestKeyStore_RetriesPrefixCollision(t *testing.T) {
	ctx := context.Background()

	repo := &collidingRepo{Store: memory.New(), collisions: 2}
	if _, err := NewKeyStore(repo, "development").Issue(ctx, uuid.New(), "k", nil); err != nil {
		t.Fatalf("two collisions should be absorbed: %v", err)
	}

	repo = &collidingRepo{Store: memory.New(), collisions: 3}
	if _, err := NewKeyStore(repo, "development").Issue(ctx, uuid.New(), "k", nil); KindOf(err) != KindInternal {
		t.Fatalf("three collisions should fail, got %v", err)
	}
}
