package locks

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestAcquireReleaseSameKey(t *testing.T) {
	k := NewKeyed()
	key := uuid.New()

	release, err := k.Acquire(context.Background(), key)
	if err != nil {
		t.Fatalf("first acquire failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := k.Acquire(ctx, key); err == nil {
		t.Fatal("second acquire should time out while lock is held")
	}

	release()

	release2, err := k.Acquire(context.Background(), key)
	if err != nil {
		t.Fatalf("acquire after release failed: %v", err)
	}
	release2()
}

func TestIndependentKeys(t *testing.T) {
	k := NewKeyed()

	releaseA, err := k.Acquire(context.Background(), uuid.New())
	if err != nil {
		t.Fatalf("acquire A failed: %v", err)
	}
	defer releaseA()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	releaseB, err := k.Acquire(ctx, uuid.New())
	if err != nil {
		t.Fatalf("acquire on a different key must not block: %v", err)
	}
	releaseB()
}

func TestReleaseIdempotent(t *testing.T) {
	k := NewKeyed()
	key := uuid.New()

	release, err := k.Acquire(context.Background(), key)
	if err != nil {
		t.Fatalf("acquire failed: %v", err)
	}
	release()
	release()

	release2, err := k.Acquire(context.Background(), key)
	if err != nil {
		t.Fatalf("reacquire after double release failed: %v", err)
	}
	release2()
}

func TestEntriesDropWhenUnused(t *testing.T) {
	k := NewKeyed()
	key := uuid.New()

	release, err := k.Acquire(context.Background(), key)
	if err != nil {
		t.Fatalf("acquire failed: %v", err)
	}
	release()

	k.mu.Lock()
	n := len(k.entries)
	k.mu.Unlock()
	if n != 0 {
		t.Fatalf("expected entry map to be empty after release, got %d entries", n)
	}
}
