package cache

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestInvalidator_MessageSaveForcesRecompute(t *testing.T) {
	store := NewMemoryStore()
	inv := NewInvalidator(store, testLogger())
	ctx := context.Background()

	calls := 0
	producer := func(ctx context.Context) (int, error) {
		calls++
		return calls, nil
	}

	key := StatsKey("sess-1")
	if _, err := Aside(ctx, store, key, time.Hour, "stats", producer); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected 1 producer call, got %d", calls)
	}

	inv.OnMessageSave("sess-1")
	inv.Wait()

	// TTL has an hour left; eviction alone must force the recompute.
	if _, err := Aside(ctx, store, key, time.Hour, "stats", producer); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 2 {
		t.Fatalf("expected recompute after invalidation, calls=%d", calls)
	}
}

func TestInvalidator_EvictsTrackedSearchKeys(t *testing.T) {
	store := NewMemoryStore()
	inv := NewInvalidator(store, testLogger())
	ctx := context.Background()

	k1 := SearchKey("sess-1", "hello")
	k2 := SearchKey("sess-1", "world")
	other := SearchKey("sess-2", "hello")
	for _, k := range []string{k1, k2, other} {
		if err := store.Set(ctx, k, []byte(`[]`), time.Hour); err != nil {
			t.Fatalf("set: %v", err)
		}
	}
	inv.TrackSearchKey("sess-1", k1)
	inv.TrackSearchKey("sess-1", k2)
	inv.TrackSearchKey("sess-2", other)

	inv.OnMessageSave("sess-1")
	inv.Wait()

	for _, k := range []string{k1, k2} {
		if _, ok, _ := store.Get(ctx, k); ok {
			t.Fatalf("expected %s evicted", k)
		}
	}
	// A different session's entries survive.
	if _, ok, _ := store.Get(ctx, other); !ok {
		t.Fatal("expected other session's search entry to survive")
	}
}

type failingDeleteStore struct {
	*MemoryStore
}

func (f *failingDeleteStore) Delete(ctx context.Context, keys ...string) error {
	return errors.New("store unavailable")
}

func TestInvalidator_FailureIsSwallowed(t *testing.T) {
	inv := NewInvalidator(&failingDeleteStore{NewMemoryStore()}, testLogger())

	// Must neither panic nor block the caller.
	inv.OnMessageSave("sess-1")
	inv.Wait()
}

func TestSearchKey_Deterministic(t *testing.T) {
	a := SearchKey("s", "query one")
	b := SearchKey("s", "query one")
	c := SearchKey("s", "query two")
	if a != b {
		t.Fatalf("same query must map to same key: %s vs %s", a, b)
	}
	if a == c {
		t.Fatalf("different queries must not collide: %s", a)
	}
}
