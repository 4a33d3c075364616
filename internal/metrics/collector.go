// Package metrics provides a lightweight, Prometheus-compatible metrics
// collector for the gateway core. It renders text/plain in Prometheus
// exposition format without pulling in prometheus/client_golang.
package metrics

import (
	"fmt"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Collector is the process-wide metrics collector.
var Collector = NewCollector()

// MetricsCollector aggregates counters and gauges. Latency distributions
// live in the usage aggregator, so no histograms here.
type MetricsCollector struct {
	counters  sync.Map // name{labels} -> *Counter
	gauges    sync.Map // name{labels} -> *Gauge
	startTime time.Time
}

// NewCollector creates an empty collector.
func NewCollector() *MetricsCollector {
	return &MetricsCollector{startTime: time.Now()}
}

// Uptime returns how long the collector has been running.
func (c *MetricsCollector) Uptime() time.Duration {
	return time.Since(c.startTime)
}

// Counter is a monotonically increasing counter.
type Counter struct {
	name   string
	help   string
	labels string
	value  atomic.Int64
}

// Inc increments the counter by 1.
func (c *Counter) Inc() { c.value.Add(1) }

// Add increments the counter by n.
func (c *Counter) Add(n int64) { c.value.Add(n) }

// Value returns the current counter value.
func (c *Counter) Value() int64 { return c.value.Load() }

// Gauge is a value that can go up and down.
type Gauge struct {
	name   string
	help   string
	labels string
	value  atomic.Int64
}

// Set sets the gauge to the given value.
func (g *Gauge) Set(v int64) { g.value.Store(v) }

// Inc increments the gauge by 1.
func (g *Gauge) Inc() { g.value.Add(1) }

// Dec decrements the gauge by 1.
func (g *Gauge) Dec() { g.value.Add(-1) }

// Value returns the current gauge value.
func (g *Gauge) Value() int64 { return g.value.Load() }

// Counter returns or creates a counter with the given name and label set.
func (c *MetricsCollector) Counter(name, help, labels string) *Counter {
	key := name + "{" + labels + "}"
	if v, ok := c.counters.Load(key); ok {
		return v.(*Counter)
	}
	ctr := &Counter{name: name, help: help, labels: labels}
	actual, _ := c.counters.LoadOrStore(key, ctr)
	return actual.(*Counter)
}

// Gauge returns or creates a gauge with the given name and label set.
func (c *MetricsCollector) Gauge(name, help, labels string) *Gauge {
	key := name + "{" + labels + "}"
	if v, ok := c.gauges.Load(key); ok {
		return v.(*Gauge)
	}
	g := &Gauge{name: name, help: help, labels: labels}
	actual, _ := c.gauges.LoadOrStore(key, g)
	return actual.(*Gauge)
}

// Handler renders the registry in Prometheus text format.
func (c *MetricsCollector) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")

		var sb strings.Builder

		fmt.Fprintf(&sb, "# HELP gatewayz_uptime_seconds Time since start in seconds\n")
		fmt.Fprintf(&sb, "# TYPE gatewayz_uptime_seconds gauge\n")
		fmt.Fprintf(&sb, "gatewayz_uptime_seconds %d\n\n", int64(c.Uptime().Seconds()))

		helpWritten := make(map[string]bool)
		c.counters.Range(func(key, value any) bool {
			ctr := value.(*Counter)
			if !helpWritten[ctr.name] {
				fmt.Fprintf(&sb, "# HELP %s %s\n", ctr.name, ctr.help)
				fmt.Fprintf(&sb, "# TYPE %s counter\n", ctr.name)
				helpWritten[ctr.name] = true
			}
			if ctr.labels != "" {
				fmt.Fprintf(&sb, "%s{%s} %d\n", ctr.name, ctr.labels, ctr.Value())
			} else {
				fmt.Fprintf(&sb, "%s %d\n", ctr.name, ctr.Value())
			}
			return true
		})

		helpWritten = make(map[string]bool)
		c.gauges.Range(func(key, value any) bool {
			g := value.(*Gauge)
			if !helpWritten[g.name] {
				fmt.Fprintf(&sb, "# HELP %s %s\n", g.name, g.help)
				fmt.Fprintf(&sb, "# TYPE %s gauge\n", g.name)
				helpWritten[g.name] = true
			}
			if g.labels != "" {
				fmt.Fprintf(&sb, "%s{%s} %d\n", g.name, g.labels, g.Value())
			} else {
				fmt.Fprintf(&sb, "%s %d\n", g.name, g.Value())
			}
			return true
		})

		fmt.Fprint(w, sb.String())
	}
}

// CacheHit returns the hit counter for one cache-aside label.
func CacheHit(label string) *Counter {
	return Collector.Counter("gatewayz_cache_hits_total", "Cache-aside hits", `label="`+label+`"`)
}

// CacheMiss returns the miss counter for one cache-aside label.
func CacheMiss(label string) *Counter {
	return Collector.Counter("gatewayz_cache_misses_total", "Cache-aside misses", `label="`+label+`"`)
}

// Pre-defined metrics used across the application.
var (
	HTTPRequests     = Collector.Counter("gatewayz_http_requests_total", "Total HTTP API requests", "")
	CacheWriteErrors = Collector.Counter("gatewayz_cache_write_errors_total", "Cache store writes that failed after a recompute", "")
	UsageRecords     = Collector.Counter("gatewayz_usage_records_total", "Total request samples recorded", "")
	Invalidations    = Collector.Counter("gatewayz_cache_invalidations_total", "Total cache invalidation runs", "")
	QueueDepth       = Collector.Gauge("gatewayz_queue_pending", "Messages waiting in the outbound queue", "")
	QueueSent        = Collector.Counter("gatewayz_queue_sent_total", "Outbound messages delivered", "")
	QueueFailed      = Collector.Counter("gatewayz_queue_failed_total", "Outbound messages that exhausted retries", "")
)
