package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

func setupRedis(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	store := NewRedisStore(RedisConfig{Addr: mr.Addr()})
	t.Cleanup(func() {
		store.Close()
		mr.Close()
	})
	return store, mr
}

func TestRedisStore_SetGetDelete(t *testing.T) {
	store, _ := setupRedis(t)
	ctx := context.Background()

	if _, ok, err := store.Get(ctx, "absent"); err != nil || ok {
		t.Fatalf("absent key: ok=%v err=%v", ok, err)
	}

	if err := store.Set(ctx, "k", []byte(`{"n":1}`), time.Minute); err != nil {
		t.Fatalf("set: %v", err)
	}
	data, ok, err := store.Get(ctx, "k")
	if err != nil || !ok {
		t.Fatalf("get: ok=%v err=%v", ok, err)
	}
	if string(data) != `{"n":1}` {
		t.Fatalf("unexpected value: %s", data)
	}

	if err := store.Delete(ctx, "k"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, ok, _ := store.Get(ctx, "k"); ok {
		t.Fatal("expected key gone after delete")
	}
}

func TestRedisStore_TTLExpiry(t *testing.T) {
	store, mr := setupRedis(t)
	ctx := context.Background()

	if err := store.Set(ctx, "k", []byte("v"), 30*time.Second); err != nil {
		t.Fatalf("set: %v", err)
	}
	mr.FastForward(31 * time.Second)

	if _, ok, err := store.Get(ctx, "k"); err != nil || ok {
		t.Fatalf("expected expired key absent: ok=%v err=%v", ok, err)
	}
}

func TestRedisStore_DeleteMany(t *testing.T) {
	store, _ := setupRedis(t)
	ctx := context.Background()

	for _, k := range []string{"a", "b", "c"} {
		if err := store.Set(ctx, k, []byte("v"), time.Minute); err != nil {
			t.Fatalf("set %s: %v", k, err)
		}
	}
	if err := store.Delete(ctx, "a", "b"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, ok, _ := store.Get(ctx, "a"); ok {
		t.Fatal("a should be gone")
	}
	if _, ok, _ := store.Get(ctx, "c"); !ok {
		t.Fatal("c should survive")
	}

	// Deleting nothing is a no-op, not an error.
	if err := store.Delete(ctx); err != nil {
		t.Fatalf("empty delete: %v", err)
	}
}
