// Package usage aggregates gateway request outcomes into coarse time
// buckets (one per UTC hour) and answers per-model metrics, per-provider
// summaries, and the provider health leaderboard.
package usage

import "time"

// bucketLayout is one UTC hour. Buckets sort lexicographically in time
// order, which the retention pruning relies on.
const bucketLayout = "2006-01-02-15"

// Bucket maps an instant to its bucket identifier. It is a pure function of
// the clock so that every process agrees on the current bucket without
// coordination.
func Bucket(t time.Time) string {
	return t.UTC().Format(bucketLayout)
}

// CurrentBucket returns the bucket for the current hour.
func CurrentBucket() string {
	return Bucket(time.Now())
}

// BucketStart parses a bucket identifier back to its starting instant.
func BucketStart(bucket string) (time.Time, error) {
	return time.Parse(bucketLayout, bucket)
}
