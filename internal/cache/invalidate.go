package cache

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"gatewayz/internal/domain"
	"gatewayz/internal/metrics"
)

const invalidateTimeout = 5 * time.Second

// Invalidator evicts every cache entry a chat write makes stale: the
// session's statistics entry and any cached searches over its history.
// Eviction is fire-and-forget; the write path that triggers it never waits
// on it and never sees its errors.
type Invalidator struct {
	store  domain.CacheStore
	logger *slog.Logger

	mu         sync.Mutex
	searchKeys map[string]map[string]struct{} // sessionID -> live search keys
	wg         sync.WaitGroup
}

func NewInvalidator(store domain.CacheStore, logger *slog.Logger) *Invalidator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Invalidator{
		store:      store,
		logger:     logger,
		searchKeys: make(map[string]map[string]struct{}),
	}
}

// TrackSearchKey registers a cached search entry so a later write to the
// session can evict it. Called by the read path right after caching.
func (inv *Invalidator) TrackSearchKey(sessionID, key string) {
	inv.mu.Lock()
	defer inv.mu.Unlock()

	keys, ok := inv.searchKeys[sessionID]
	if !ok {
		keys = make(map[string]struct{})
		inv.searchKeys[sessionID] = keys
	}
	keys[key] = struct{}{}
}

// OnMessageSave evicts the session's derived cache entries in the
// background. Failures are logged and swallowed: a failed invalidation must
// never fail the write that triggered it.
func (inv *Invalidator) OnMessageSave(sessionID string) {
	keys := []string{StatsKey(sessionID)}

	inv.mu.Lock()
	for k := range inv.searchKeys[sessionID] {
		keys = append(keys, k)
	}
	delete(inv.searchKeys, sessionID)
	inv.mu.Unlock()

	inv.wg.Add(1)
	go func() {
		defer inv.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), invalidateTimeout)
		defer cancel()

		if err := inv.store.Delete(ctx, keys...); err != nil {
			inv.logger.Warn("cache invalidation failed",
				"session", sessionID, "keys", len(keys), "err", err)
			return
		}
		metrics.Invalidations.Inc()
		inv.logger.Debug("cache invalidated", "session", sessionID, "keys", len(keys))
	}()
}

// Wait blocks until all in-flight invalidations finish. Test hook.
func (inv *Invalidator) Wait() {
	inv.wg.Wait()
}
