package usage

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"gatewayz/internal/domain"
)

// latencyPenaltyCap bounds how much average latency can subtract from a
// provider's health score (in points, out of 100).
const latencyPenaltyCap = 20.0

// SnapshotRow is one aggregated counter row flushed to durable storage when
// its bucket is pruned.
type SnapshotRow struct {
	Bucket    string
	Kind      string // model | provider | gateway
	ID        string
	Requests  int64
	Successes int64
	LatencyMs int64
	TokensIn  int64
	TokensOut int64
}

// SnapshotSink persists pruned bucket rows. Flushing is best-effort; errors
// are logged by the aggregator and never surface to recording callers.
type SnapshotSink interface {
	SaveUsageSnapshot(ctx context.Context, rows []SnapshotRow) error
}

type entityStats struct {
	requests  int64
	successes int64
	latencyMs int64
	tokensIn  int64
	tokensOut int64
	models    map[string]struct{} // providers only
}

type bucketStats struct {
	models    map[string]*entityStats
	providers map[string]*entityStats
	gateways  map[string]*entityStats
}

func newBucketStats() *bucketStats {
	return &bucketStats{
		models:    make(map[string]*entityStats),
		providers: make(map[string]*entityStats),
		gateways:  make(map[string]*entityStats),
	}
}

// Aggregator keeps additive per-bucket counters for models, providers, and
// gateways. All mutation is commutative counter increments, so concurrent
// recorders only contend on the mutex, never on ordering.
type Aggregator struct {
	mu        sync.Mutex
	buckets   map[string]*bucketStats
	retention int
	sink      SnapshotSink
	logger    *slog.Logger
	now       func() time.Time
}

type AggregatorConfig struct {
	// RetentionBuckets is how many hourly buckets are kept in memory.
	// Older buckets are flushed to the sink (if any) and dropped.
	RetentionBuckets int
	Sink             SnapshotSink
	Logger           *slog.Logger
}

func NewAggregator(cfg AggregatorConfig) *Aggregator {
	if cfg.RetentionBuckets <= 0 {
		cfg.RetentionBuckets = 24
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Aggregator{
		buckets:   make(map[string]*bucketStats),
		retention: cfg.RetentionBuckets,
		sink:      cfg.Sink,
		logger:    cfg.Logger,
		now:       time.Now,
	}
}

// RecordRequestComplete folds one completed request into its bucket.
// Callers treat this as fire-and-forget; it never returns an error.
func (a *Aggregator) RecordRequestComplete(sample domain.RequestSample) {
	at := sample.OccurredAt
	if at.IsZero() {
		at = a.now()
	}
	bucket := Bucket(at)

	a.mu.Lock()
	bs, ok := a.buckets[bucket]
	if !ok {
		bs = newBucketStats()
		a.buckets[bucket] = bs
	}
	if sample.Model != "" {
		record(bs.models, sample.Model, sample, false)
	}
	if sample.Provider != "" {
		es := record(bs.providers, sample.Provider, sample, true)
		if sample.Model != "" {
			es.models[sample.Model] = struct{}{}
		}
	}
	if sample.Gateway != "" {
		record(bs.gateways, sample.Gateway, sample, false)
	}
	pruned := a.pruneLocked()
	a.mu.Unlock()

	if len(pruned) > 0 {
		go a.flush(pruned)
	}
}

func record(m map[string]*entityStats, id string, s domain.RequestSample, withModels bool) *entityStats {
	es, ok := m[id]
	if !ok {
		es = &entityStats{}
		if withModels {
			es.models = make(map[string]struct{})
		}
		m[id] = es
	}
	es.requests++
	if s.Success {
		es.successes++
	}
	es.latencyMs += s.LatencyMs
	es.tokensIn += s.TokensIn
	es.tokensOut += s.TokensOut
	return es
}

// pruneLocked drops the oldest buckets beyond the retention horizon and
// returns their rows for flushing. Caller holds the mutex.
func (a *Aggregator) pruneLocked() []SnapshotRow {
	if len(a.buckets) <= a.retention {
		return nil
	}
	ids := make([]string, 0, len(a.buckets))
	for id := range a.buckets {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var rows []SnapshotRow
	for _, id := range ids[:len(ids)-a.retention] {
		bs := a.buckets[id]
		rows = append(rows, snapshotRows(id, "model", bs.models)...)
		rows = append(rows, snapshotRows(id, "provider", bs.providers)...)
		rows = append(rows, snapshotRows(id, "gateway", bs.gateways)...)
		delete(a.buckets, id)
	}
	return rows
}

func snapshotRows(bucket, kind string, m map[string]*entityStats) []SnapshotRow {
	rows := make([]SnapshotRow, 0, len(m))
	for id, es := range m {
		rows = append(rows, SnapshotRow{
			Bucket:    bucket,
			Kind:      kind,
			ID:        id,
			Requests:  es.requests,
			Successes: es.successes,
			LatencyMs: es.latencyMs,
			TokensIn:  es.tokensIn,
			TokensOut: es.tokensOut,
		})
	}
	return rows
}

func (a *Aggregator) flush(rows []SnapshotRow) {
	if a.sink == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.sink.SaveUsageSnapshot(ctx, rows); err != nil {
		a.logger.Error("usage snapshot flush failed", "rows", len(rows), "err", err)
	}
}

// ModelMetrics returns the aggregated view of one model. An empty bucket
// means the current hour. Returns domain.ErrNoData when the model has no
// samples in the bucket.
func (a *Aggregator) ModelMetrics(model, bucket string) (*domain.ModelMetrics, error) {
	if bucket == "" {
		bucket = Bucket(a.now())
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	bs, ok := a.buckets[bucket]
	if !ok {
		return nil, domain.ErrNoData
	}
	es, ok := bs.models[model]
	if !ok {
		return nil, domain.ErrNoData
	}
	return &domain.ModelMetrics{
		Model:        model,
		Bucket:       bucket,
		Requests:     es.requests,
		Successes:    es.successes,
		SuccessRate:  rate(es.successes, es.requests),
		AvgLatencyMs: avg(es.latencyMs, es.requests),
		TokensIn:     es.tokensIn,
		TokensOut:    es.tokensOut,
	}, nil
}

// ProviderSummary returns one provider's aggregate for a bucket, including
// the models seen. Returns domain.ErrNoData when absent.
func (a *Aggregator) ProviderSummary(provider, bucket string) (*domain.ProviderSummary, error) {
	if bucket == "" {
		bucket = Bucket(a.now())
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	bs, ok := a.buckets[bucket]
	if !ok {
		return nil, domain.ErrNoData
	}
	es, ok := bs.providers[provider]
	if !ok {
		return nil, domain.ErrNoData
	}
	models := make([]string, 0, len(es.models))
	for m := range es.models {
		models = append(models, m)
	}
	sort.Strings(models)
	return &domain.ProviderSummary{
		Provider:     provider,
		Bucket:       bucket,
		Requests:     es.requests,
		Successes:    es.successes,
		SuccessRate:  rate(es.successes, es.requests),
		AvgLatencyMs: avg(es.latencyMs, es.requests),
		Models:       models,
	}, nil
}

// HealthLeaderboard ranks providers within a bucket by health score.
// The score is the success-rate percentage minus a latency penalty
// (avg ms / 100, capped). Ties break by provider ID ascending so repeated
// calls over the same state return the same order. Parameter validation
// (limit, order) is the caller's responsibility.
func (a *Aggregator) HealthLeaderboard(limit int, order, bucket string) ([]domain.LeaderboardEntry, error) {
	if bucket == "" {
		bucket = Bucket(a.now())
	}
	a.mu.Lock()
	bs, ok := a.buckets[bucket]
	if !ok {
		a.mu.Unlock()
		return nil, domain.ErrNoData
	}
	entries := make([]domain.LeaderboardEntry, 0, len(bs.providers))
	for id, es := range bs.providers {
		entries = append(entries, domain.LeaderboardEntry{
			Provider:     id,
			HealthScore:  healthScore(es),
			Requests:     es.requests,
			SuccessRate:  rate(es.successes, es.requests),
			AvgLatencyMs: avg(es.latencyMs, es.requests),
		})
	}
	a.mu.Unlock()

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].HealthScore != entries[j].HealthScore {
			if order == domain.OrderAsc {
				return entries[i].HealthScore < entries[j].HealthScore
			}
			return entries[i].HealthScore > entries[j].HealthScore
		}
		return entries[i].Provider < entries[j].Provider
	})
	if limit > 0 && limit < len(entries) {
		entries = entries[:limit]
	}
	return entries, nil
}

func healthScore(es *entityStats) float64 {
	score := rate(es.successes, es.requests) * 100
	penalty := avg(es.latencyMs, es.requests) / 100
	if penalty > latencyPenaltyCap {
		penalty = latencyPenaltyCap
	}
	score -= penalty
	if score < 0 {
		score = 0
	}
	return score
}

func rate(part, total int64) float64 {
	if total == 0 {
		return 0
	}
	return float64(part) / float64(total)
}

func avg(sum, count int64) float64 {
	if count == 0 {
		return 0
	}
	return float64(sum) / float64(count)
}
