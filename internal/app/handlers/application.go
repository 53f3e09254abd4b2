package handlers

import (
	"net/http"
	"time"

	"github.com/coxyhq/coxy/internal/adapter/registry"
	"github.com/coxyhq/coxy/internal/app/middleware"
	"github.com/coxyhq/coxy/internal/core/ports"
	"github.com/coxyhq/coxy/internal/logger"
)

// Application glues the proxy engine and the internal endpoints onto the
// server's root handler. Anything under /internal/ is coxy's own surface;
// every other method and path is proxied untouched.
type Application struct {
	proxyService ports.ProxyService
	registry     *registry.Registry
	collector    ports.StatsCollector
	metrics      http.Handler
	logger       logger.StyledLogger
	startTime    time.Time
	internalMux  *http.ServeMux
}

func NewApplication(
	proxyService ports.ProxyService,
	reg *registry.Registry,
	collector ports.StatsCollector,
	metrics http.Handler,
	startTime time.Time,
	log logger.StyledLogger,
) *Application {
	a := &Application{
		proxyService: proxyService,
		registry:     reg,
		collector:    collector,
		metrics:      metrics,
		logger:       log,
		startTime:    startTime,
	}
	a.registerRoutes()
	return a
}

func (a *Application) registerRoutes() {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /internal/health", a.healthHandler)
	mux.HandleFunc("GET /internal/status", a.statusHandler)
	if a.metrics != nil {
		mux.Handle("GET /internal/metrics", a.metrics)
	}
	a.internalMux = mux
}

func (a *Application) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if middleware.IsInternalRequest(r.URL.Path) {
		a.internalMux.ServeHTTP(w, r)
		return
	}
	a.proxyHandler(w, r)
}

func (a *Application) proxyHandler(w http.ResponseWriter, r *http.Request) {
	stats := ports.RequestStats{
		RequestID: middleware.GetRequestID(r.Context()),
		StartTime: time.Now(),
	}
	rlog := a.logger.WithRequestID(stats.RequestID)

	if err := a.proxyService.ProxyRequest(r.Context(), w, r, &stats, rlog); err != nil {
		// the engine already answered the client; this is bookkeeping
		rlog.Error("request failed",
			"error", err,
			"upstream", stats.UpstreamName,
			"total_bytes", stats.TotalBytes,
			"selection_ms", stats.SelectionMs,
			"backend_ms", stats.BackendMs,
			"streaming_ms", stats.StreamingMs)
		return
	}

	if stats.UpstreamName != "" {
		rlog.Debug("request proxied",
			"upstream", stats.UpstreamName,
			"total_bytes", stats.TotalBytes,
			"latency_ms", stats.Latency,
			"selection_ms", stats.SelectionMs,
			"backend_ms", stats.BackendMs,
			"first_data_ms", stats.FirstDataMs,
			"streaming_ms", stats.StreamingMs)
	}
}
