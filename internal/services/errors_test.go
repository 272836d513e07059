package services

import (
	"errors"
	"fmt"
	"testing"
)

func TestError_IsMatchesKind(t *testing.T) {
	err := fmt.Errorf("update: %w", newError(KindVersionConflict, "stale", nil))
	if !errors.Is(err, ErrVersionConflict) {
		t.Fatal("wrapped conflict should match ErrVersionConflict")
	}
	if errors.Is(err, ErrNotFound) {
		t.Fatal("conflict must not match ErrNotFound")
	}
	if KindOf(err) != KindVersionConflict {
		t.Fatalf("KindOf = %s", KindOf(err))
	}
}

func TestKindOf_UnknownIsInternal(t *testing.T) {
	if KindOf(errors.New("boom")) != KindInternal {
		t.Fatal("plain errors should classify as internal")
	}
}

func TestError_UnwrapsCause(t *testing.T) {
	cause := errors.New("connection reset")
	err := internal("failed to insert", cause)
	if !errors.Is(err, cause) {
		t.Fatal("cause should be reachable through Unwrap")
	}
}
