package ports

import (
	"context"
	"net/http"
	"time"

	"github.com/coxyhq/coxy/internal/core/domain"
	"github.com/coxyhq/coxy/internal/logger"
)

// UpstreamSelector hands out at most one upstream per call, marking it busy
// as part of the same atomic step. Selection never blocks: when nothing is
// eligible it returns domain.ErrNoUpstreamAvailable.
type UpstreamSelector interface {
	Select(ctx context.Context) (domain.UpstreamView, error)
	Name() string
}

// ProxyService proxies a single client request through a chosen upstream.
type ProxyService interface {
	ProxyRequest(ctx context.Context, w http.ResponseWriter, r *http.Request, stats *RequestStats, rlog logger.StyledLogger) error
}

// StatsCollector accumulates per-upstream request statistics.
type StatsCollector interface {
	RecordSelection(key string)
	RecordOutcome(key string, outcome domain.Outcome, bytesStreamed int64, duration time.Duration)
	UpstreamStats() map[string]UpstreamStats
}

type UpstreamStats struct {
	LastOutcome        string `json:"last_outcome"`
	TotalRequests      int64  `json:"total_requests"`
	SuccessfulRequests int64  `json:"successful_requests"`
	FailedRequests     int64  `json:"failed_requests"`
	CanceledRequests   int64  `json:"canceled_requests"`
	BytesStreamed      int64  `json:"bytes_streamed"`
}

// RequestStats tracks lifecycle timings for one proxied request.
type RequestStats struct {
	StartTime    time.Time
	EndTime      time.Time
	RequestID    string
	UpstreamName string
	TargetUrl    string
	Latency      int64
	SelectionMs  int64
	BackendMs    int64
	FirstDataMs  int64
	StreamingMs  int64
	TotalBytes   int64
}
