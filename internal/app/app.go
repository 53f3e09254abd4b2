package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/coxyhq/coxy/internal/adapter/balancer"
	"github.com/coxyhq/coxy/internal/adapter/proxy"
	"github.com/coxyhq/coxy/internal/adapter/registry"
	"github.com/coxyhq/coxy/internal/adapter/reporter"
	"github.com/coxyhq/coxy/internal/adapter/stats"
	"github.com/coxyhq/coxy/internal/app/handlers"
	"github.com/coxyhq/coxy/internal/app/middleware"
	"github.com/coxyhq/coxy/internal/config"
	"github.com/coxyhq/coxy/internal/core/domain"
	"github.com/coxyhq/coxy/internal/logger"
	"github.com/coxyhq/coxy/pkg/eventbus"
)

// App owns the lifecycle: build everything, serve, and on shutdown drain
// in-flight streams to natural completion. The coordinator moves through
// Accepting -> Draining -> Exited and never injects cancellation into a
// live stream.
type App struct {
	config    *config.Config
	logger    logger.StyledLogger
	events    *eventbus.EventBus[[]domain.UpstreamView]
	registry  *registry.Registry
	collector *stats.Collector
	engine    *proxy.Engine
	reporter  *reporter.Reporter
	server    *http.Server
	listener  net.Listener

	group          *errgroup.Group
	reporterCancel context.CancelFunc
	draining       atomic.Bool
	startTime      time.Time
}

func New(startTime time.Time, cfg *config.Config, log logger.StyledLogger) (*App, error) {
	upstreams, err := cfg.BuildUpstreams()
	if err != nil {
		return nil, err
	}

	events := eventbus.New[[]domain.UpstreamView]()
	reg := registry.New(events)
	for _, upstream := range upstreams {
		if err := reg.Add(upstream); err != nil {
			return nil, err
		}
	}

	collector := stats.NewCollector()
	selector := balancer.NewReliabilitySelector(reg, log)

	engine := proxy.NewEngine(selector, reg, collector, &proxy.Configuration{
		ConnectTimeout:   proxy.DefaultConnectTimeout,
		IdleReadTimeout:  cfg.IdleTimeout(),
		StreamBufferSize: proxy.DefaultStreamBufferSize,
	}, log)

	a := &App{
		config:    cfg,
		logger:    log,
		events:    events,
		registry:  reg,
		collector: collector,
		engine:    engine,
		reporter:  reporter.New(events, log),
		startTime: startTime,
	}
	engine.SetDrainSignal(a.draining.Load)

	application := handlers.NewApplication(engine, reg, collector, collector.MetricsHandler(), startTime, log)
	a.server = &http.Server{
		Handler: middleware.RequestLogging(application, log),
	}

	return a, nil
}

// Start binds the listener and begins serving. Bind failures are fatal
// startup errors and bubble up to main.
func (a *App) Start(ctx context.Context) error {
	listener, err := net.Listen("tcp", a.config.Bind)
	if err != nil {
		return fmt.Errorf("failed to bind %s: %w", a.config.Bind, err)
	}
	a.listener = listener

	// the reporter outlives the signal context: roster changes during the
	// drain still need to be rendered
	reporterCtx, reporterCancel := context.WithCancel(context.Background())
	a.reporterCancel = reporterCancel

	a.group = &errgroup.Group{}
	a.group.Go(func() error {
		return a.reporter.Run(reporterCtx)
	})
	a.group.Go(func() error {
		if serveErr := a.server.Serve(listener); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			a.logger.Error("HTTP server error", "error", serveErr)
			return serveErr
		}
		return nil
	})

	a.reporter.Render(a.registry.Snapshot())
	a.logger.Info("coxy started, waiting for requests",
		"bind", listener.Addr().String(),
		"upstreams", a.registry.Len(),
		"idle_timeout", a.config.IdleTimeout())

	return nil
}

// Addr reports the bound listen address, available once Start returns.
func (a *App) Addr() string {
	if a.listener == nil {
		return ""
	}
	return a.listener.Addr().String()
}

// Stop drains and exits: the listener closes immediately (new connections
// are refused at the TCP layer), in-flight proxied streams run to their
// natural end, and only then does Stop return.
func (a *App) Stop(ctx context.Context) error {
	a.draining.Store(true)
	a.logger.Info("draining, in-flight streams will run to completion")

	// no deadline here on purpose: truncating an active generation is
	// worse than a slow exit
	if err := a.server.Shutdown(context.Background()); err != nil {
		a.logger.Error("HTTP server shutdown error", "error", err)
	}

	a.engine.WaitForInflight()

	if a.reporterCancel != nil {
		a.reporterCancel()
	}
	a.events.Shutdown()

	if a.group != nil {
		if err := a.group.Wait(); err != nil {
			return err
		}
	}

	a.logger.Info("drain complete")
	return nil
}
