package usage

import (
	"testing"
	"time"
)

func TestBucket_HourGranularityUTC(t *testing.T) {
	cases := []struct {
		in   time.Time
		want string
	}{
		{time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC), "2025-03-14-09"},
		{time.Date(2025, 3, 14, 9, 59, 59, 0, time.UTC), "2025-03-14-09"},
		{time.Date(2025, 3, 14, 10, 0, 0, 0, time.UTC), "2025-03-14-10"},
		// Local times normalize to UTC before bucketing.
		{time.Date(2025, 3, 14, 9, 30, 0, 0, time.FixedZone("UTC+7", 7*3600)), "2025-03-14-02"},
		{time.Date(2025, 12, 31, 23, 59, 0, 0, time.UTC), "2025-12-31-23"},
	}
	for _, c := range cases {
		if got := Bucket(c.in); got != c.want {
			t.Errorf("Bucket(%v) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestBucket_SameHourSameBucket(t *testing.T) {
	base := time.Date(2025, 6, 1, 14, 0, 0, 0, time.UTC)
	ref := Bucket(base)
	for _, offset := range []time.Duration{0, time.Second, 30 * time.Minute, 59*time.Minute + 59*time.Second} {
		if got := Bucket(base.Add(offset)); got != ref {
			t.Errorf("Bucket at +%v = %q, want %q", offset, got, ref)
		}
	}
	if got := Bucket(base.Add(time.Hour)); got == ref {
		t.Error("next hour must map to a different bucket")
	}
}

func TestBucketStart_RoundTrip(t *testing.T) {
	start, err := BucketStart("2025-03-14-09")
	if err != nil {
		t.Fatalf("BucketStart: %v", err)
	}
	want := time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)
	if !start.Equal(want) {
		t.Fatalf("start = %v, want %v", start, want)
	}
	if Bucket(start) != "2025-03-14-09" {
		t.Fatal("round trip through Bucket failed")
	}
}

func TestBucketStart_RejectsMalformed(t *testing.T) {
	for _, in := range []string{"", "2025-03-14", "2025-03-14-24", "not-a-bucket", "2025-03-14T09"} {
		if _, err := BucketStart(in); err == nil {
			t.Errorf("BucketStart(%q) should fail", in)
		}
	}
}
