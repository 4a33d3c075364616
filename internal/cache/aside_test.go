package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"gatewayz/internal/domain"
)

type payload struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

// --- Hit / miss behavior ---

func TestAside_MissThenHit(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	calls := 0
	producer := func(ctx context.Context) (payload, error) {
		calls++
		return payload{Name: "gpt-4o", Count: 7}, nil
	}

	v, err := Aside(ctx, store, "k1", time.Minute, "test", producer)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v.Name != "gpt-4o" || v.Count != 7 {
		t.Fatalf("unexpected value: %+v", v)
	}
	if calls != 1 {
		t.Fatalf("expected 1 producer call, got %d", calls)
	}

	// Second read must come from the store.
	v, err = Aside(ctx, store, "k1", time.Minute, "test", producer)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v.Count != 7 {
		t.Fatalf("unexpected cached value: %+v", v)
	}
	if calls != 1 {
		t.Fatalf("hit must not call producer; calls=%d", calls)
	}
}

func TestAside_TTLExpiryRecomputes(t *testing.T) {
	store := NewMemoryStore()
	now := time.Now()
	store.now = func() time.Time { return now }

	ctx := context.Background()
	calls := 0
	producer := func(ctx context.Context) (payload, error) {
		calls++
		return payload{Count: calls}, nil
	}

	if _, err := Aside(ctx, store, "k", 30*time.Second, "test", producer); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Advance past the TTL: the entry is logically absent.
	now = now.Add(31 * time.Second)

	v, err := Aside(ctx, store, "k", 30*time.Second, "test", producer)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 2 {
		t.Fatalf("expected recompute after expiry, calls=%d", calls)
	}
	if v.Count != 2 {
		t.Fatalf("expected fresh value to overwrite, got %+v", v)
	}
}

// --- Error propagation ---

func TestAside_ProducerErrorNotCached(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	wantErr := errors.New("backend down")
	calls := 0
	producer := func(ctx context.Context) (payload, error) {
		calls++
		return payload{}, wantErr
	}

	if _, err := Aside(ctx, store, "k", time.Minute, "test", producer); !errors.Is(err, wantErr) {
		t.Fatalf("expected producer error, got %v", err)
	}
	if store.Len() != 0 {
		t.Fatalf("failed computation must not be cached; store has %d entries", store.Len())
	}

	// The next call tries again instead of serving a partial value.
	if _, err := Aside(ctx, store, "k", time.Minute, "test", producer); !errors.Is(err, wantErr) {
		t.Fatalf("expected producer error, got %v", err)
	}
	if calls != 2 {
		t.Fatalf("expected 2 producer calls, got %d", calls)
	}
}

// --- Store failures ---

type flakyStore struct {
	domain.CacheStore
	getErr error
	setErr error
}

func (f *flakyStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if f.getErr != nil {
		return nil, false, f.getErr
	}
	return f.CacheStore.Get(ctx, key)
}

func (f *flakyStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if f.setErr != nil {
		return f.setErr
	}
	return f.CacheStore.Set(ctx, key, value, ttl)
}

func TestAside_StoreReadErrorFallsThroughToProducer(t *testing.T) {
	store := &flakyStore{CacheStore: NewMemoryStore(), getErr: errors.New("conn refused")}
	calls := 0
	v, err := Aside(context.Background(), store, "k", time.Minute, "test",
		func(ctx context.Context) (int, error) {
			calls++
			return 42, nil
		})
	if err != nil {
		t.Fatalf("store read failure must not fail the read: %v", err)
	}
	if v != 42 || calls != 1 {
		t.Fatalf("expected recompute, got v=%d calls=%d", v, calls)
	}
}

func TestAside_StoreWriteErrorStillReturnsValue(t *testing.T) {
	store := &flakyStore{CacheStore: NewMemoryStore(), setErr: errors.New("read-only")}
	v, err := Aside(context.Background(), store, "k", time.Minute, "test",
		func(ctx context.Context) (string, error) { return "fresh", nil })
	if err != nil {
		t.Fatalf("store write failure must not fail the read: %v", err)
	}
	if v != "fresh" {
		t.Fatalf("expected producer value, got %q", v)
	}
}
