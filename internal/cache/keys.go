package cache

import (
	"fmt"
	"hash/fnv"
)

// Cache keys are namespace:params[:bucket]. Usage keys carry the time
// bucket so entries from a past hour can never shadow the current one;
// chat keys omit it because the invalidator evicts them on write.

// StatsKey is the cached per-session statistics entry.
func StatsKey(sessionID string) string {
	return "chat:stats:" + sessionID
}

// SearchKey is the cached result of one history search. The query is
// hashed to keep keys bounded.
func SearchKey(sessionID, query string) string {
	h := fnv.New64a()
	h.Write([]byte(query))
	return fmt.Sprintf("chat:search:%s:%x", sessionID, h.Sum64())
}

// ModelKey is the cached per-model metrics entry for a bucket.
func ModelKey(model, bucket string) string {
	return fmt.Sprintf("usage:model:%s:%s", model, bucket)
}

// ProviderKey is the cached provider summary entry for a bucket.
func ProviderKey(provider, bucket string) string {
	return fmt.Sprintf("usage:provider:%s:%s", provider, bucket)
}

// LeaderboardKey is the cached leaderboard entry for one parameter set.
func LeaderboardKey(limit int, order, bucket string) string {
	return fmt.Sprintf("usage:leaderboard:%d:%s:%s", limit, order, bucket)
}
