package domain

import (
	"context"
	"errors"
	"time"
)

// ErrNoData signals that a requested entity or time bucket has no recorded
// data. Callers translate it into a not-found outcome rather than an
// internal error.
var ErrNoData = errors.New("no data")

// CacheStore is the key/value boundary the cache-aside layer runs against.
// Backed by Redis in production; an in-process store is used when Redis is
// disabled and in tests. Entries expire after their TTL.
type CacheStore interface {
	// Get returns the stored value and whether the key was present and
	// unexpired.
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
	Close() error
}
