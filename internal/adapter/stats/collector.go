package stats

import (
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/puzpuzpuz/xsync/v4"

	"github.com/coxyhq/coxy/internal/core/domain"
	"github.com/coxyhq/coxy/internal/core/ports"
)

// Collector tracks per-upstream request statistics with atomic counters and
// mirrors them into a private Prometheus registry for /internal/metrics.
type Collector struct {
	upstreams *xsync.Map[string, *upstreamCounters]

	promRegistry *prometheus.Registry
	requests     *prometheus.CounterVec
	bytes        *prometheus.CounterVec
	inflight     *prometheus.GaugeVec
	duration     *prometheus.HistogramVec
}

type upstreamCounters struct {
	lastOutcome atomic.Value // string
	total       atomic.Int64
	succeeded   atomic.Int64
	failed      atomic.Int64
	canceled    atomic.Int64
	bytes       atomic.Int64
}

func NewCollector() *Collector {
	promRegistry := prometheus.NewRegistry()

	c := &Collector{
		upstreams:    xsync.NewMap[string, *upstreamCounters](),
		promRegistry: promRegistry,
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "coxy_requests_total",
			Help: "Proxied requests by upstream and outcome.",
		}, []string{"upstream", "outcome"}),
		bytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "coxy_streamed_bytes_total",
			Help: "Response body bytes streamed to clients by upstream.",
		}, []string{"upstream"}),
		inflight: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "coxy_upstream_inflight",
			Help: "Whether an upstream currently has a request in flight (0 or 1).",
		}, []string{"upstream"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "coxy_request_duration_seconds",
			Help:    "End-to-end duration of proxied requests.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
		}, []string{"upstream"}),
	}

	promRegistry.MustRegister(c.requests, c.bytes, c.inflight, c.duration)
	return c
}

// RecordSelection notes that an upstream was reserved for a request.
func (c *Collector) RecordSelection(key string) {
	counters := c.countersFor(key)
	counters.total.Add(1)
	c.inflight.WithLabelValues(key).Set(1)
}

// RecordOutcome notes how a reserved request finished.
func (c *Collector) RecordOutcome(key string, outcome domain.Outcome, bytesStreamed int64, duration time.Duration) {
	counters := c.countersFor(key)
	counters.lastOutcome.Store(outcome.String())
	counters.bytes.Add(bytesStreamed)

	switch outcome {
	case domain.OutcomeSucceeded:
		counters.succeeded.Add(1)
	case domain.OutcomeFailedBeforeFirstByte, domain.OutcomeFailedMidStream:
		counters.failed.Add(1)
	default:
		counters.canceled.Add(1)
	}

	c.requests.WithLabelValues(key, outcome.String()).Inc()
	c.bytes.WithLabelValues(key).Add(float64(bytesStreamed))
	c.inflight.WithLabelValues(key).Set(0)
	c.duration.WithLabelValues(key).Observe(duration.Seconds())
}

// UpstreamStats returns a copy of the per-upstream counters.
func (c *Collector) UpstreamStats() map[string]ports.UpstreamStats {
	out := make(map[string]ports.UpstreamStats)
	c.upstreams.Range(func(key string, counters *upstreamCounters) bool {
		lastOutcome, _ := counters.lastOutcome.Load().(string)
		out[key] = ports.UpstreamStats{
			TotalRequests:      counters.total.Load(),
			SuccessfulRequests: counters.succeeded.Load(),
			FailedRequests:     counters.failed.Load(),
			CanceledRequests:   counters.canceled.Load(),
			BytesStreamed:      counters.bytes.Load(),
			LastOutcome:        lastOutcome,
		}
		return true
	})
	return out
}

// MetricsHandler serves the Prometheus exposition for this collector.
func (c *Collector) MetricsHandler() http.Handler {
	return promhttp.HandlerFor(c.promRegistry, promhttp.HandlerOpts{})
}

func (c *Collector) countersFor(key string) *upstreamCounters {
	counters, _ := c.upstreams.LoadOrCompute(key, func() (*upstreamCounters, bool) {
		return &upstreamCounters{}, false
	})
	return counters
}
