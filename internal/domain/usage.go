package domain

import "time"

// RequestSample is one completed gateway request, as reported by the proxy
// layer. Recording is fire-and-forget: the reporter never waits on it.
type RequestSample struct {
	Model      string    `json:"model"`
	Provider   string    `json:"provider"`
	Gateway    string    `json:"gateway,omitempty"`
	Success    bool      `json:"success"`
	LatencyMs  int64     `json:"latency_ms"`
	TokensIn   int64     `json:"tokens_in"`
	TokensOut  int64     `json:"tokens_out"`
	OccurredAt time.Time `json:"occurred_at,omitzero"`
}

// ModelMetrics is the aggregated view of one model within a time bucket.
type ModelMetrics struct {
	Model        string  `json:"model"`
	Bucket       string  `json:"bucket"`
	Requests     int64   `json:"requests"`
	Successes    int64   `json:"successes"`
	SuccessRate  float64 `json:"success_rate"`
	AvgLatencyMs float64 `json:"avg_latency_ms"`
	TokensIn     int64   `json:"tokens_in"`
	TokensOut    int64   `json:"tokens_out"`
}

// ProviderSummary aggregates all traffic for one provider within a bucket,
// including the per-model breakdown.
type ProviderSummary struct {
	Provider     string   `json:"provider"`
	Bucket       string   `json:"bucket"`
	Requests     int64    `json:"requests"`
	Successes    int64    `json:"successes"`
	SuccessRate  float64  `json:"success_rate"`
	AvgLatencyMs float64  `json:"avg_latency_ms"`
	Models       []string `json:"models"`
}

// LeaderboardEntry ranks one provider by health score within a bucket.
type LeaderboardEntry struct {
	Provider     string  `json:"provider"`
	DisplayName  string  `json:"display_name,omitempty"`
	HealthScore  float64 `json:"health_score"`
	Requests     int64   `json:"requests"`
	SuccessRate  float64 `json:"success_rate"`
	AvgLatencyMs float64 `json:"avg_latency_ms"`
}

// Leaderboard ordering. Callers validate before querying the aggregator.
const (
	OrderAsc  = "asc"
	OrderDesc = "desc"
)

// ValidOrder reports whether s is an accepted leaderboard order.
func ValidOrder(s string) bool {
	return s == OrderAsc || s == OrderDesc
}
