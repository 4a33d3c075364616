package cache

import (
	"context"
	"encoding/json"
	"time"

	"gatewayz/internal/domain"
	"gatewayz/internal/metrics"
)

// Aside is the generic read-through cache path. It looks key up in the
// store; on a hit the decoded value is returned without calling producer.
// On a miss (absent, expired, or a store read error) producer supplies the
// authoritative value, which is stored under key with the given TTL and
// returned.
//
// Producer failures propagate to the caller and nothing is cached. A store
// write failure after a successful producer call does not fail the read;
// it only bumps a counter. Concurrent misses for the same key may each call
// producer — there is deliberately no in-flight coalescing here, the summary
// payloads are cheap to recompute.
func Aside[T any](ctx context.Context, store domain.CacheStore, key string, ttl time.Duration, label string, producer func(context.Context) (T, error)) (T, error) {
	var zero T

	data, ok, err := store.Get(ctx, key)
	if err == nil && ok {
		var v T
		if err := json.Unmarshal(data, &v); err == nil {
			metrics.CacheHit(label).Inc()
			return v, nil
		}
		// Undecodable entry: treat as a miss and overwrite below.
	}

	metrics.CacheMiss(label).Inc()

	v, err := producer(ctx)
	if err != nil {
		return zero, err
	}

	data, err = json.Marshal(v)
	if err != nil {
		metrics.CacheWriteErrors.Inc()
		return v, nil
	}
	if err := store.Set(ctx, key, data, ttl); err != nil {
		metrics.CacheWriteErrors.Inc()
	}
	return v, nil
}
