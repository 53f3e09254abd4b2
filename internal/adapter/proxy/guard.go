package proxy

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/coxyhq/coxy/internal/adapter/registry"
	"github.com/coxyhq/coxy/internal/core/domain"
	"github.com/coxyhq/coxy/internal/core/ports"
	"github.com/coxyhq/coxy/internal/logger"
)

// Guard is the scoped owner of an upstream's busy slot for the duration of
// one proxied exchange. It records what the stream observed and, on Finish,
// runs the grading + release protocol exactly once - no matter how many
// paths race to call it (natural end, client drop, panic recovery,
// shutdown teardown).
//
// A Guard is created the moment selection succeeds and must be finished on
// every exit path; the engine arranges that with a deferred Finish right
// after creation, so transfer of ownership into the streaming stage can
// never leak the slot.
type Guard struct {
	registry  *registry.Registry
	collector ports.StatsCollector
	logger    logger.StyledLogger
	released  func()

	key   string
	name  string
	start time.Time

	sawFirstByte   atomic.Bool
	upstreamFailed atomic.Bool
	streamEnded    atomic.Bool
	shutdownTear   atomic.Bool
	bytesStreamed  atomic.Int64

	once sync.Once
}

func newGuard(reg *registry.Registry, collector ports.StatsCollector, log logger.StyledLogger, key, name string, released func()) *Guard {
	return &Guard{
		registry:  reg,
		collector: collector,
		logger:    log,
		released:  released,
		key:       key,
		name:      name,
		start:     time.Now(),
	}
}

// MarkFirstByte records that at least one body byte arrived. This is the
// boundary between FailedBeforeFirstByte and FailedMidStream.
func (g *Guard) MarkFirstByte() {
	g.sawFirstByte.Store(true)
}

// AddBytes accumulates the byte count delivered to the client.
func (g *Guard) AddBytes(n int) {
	g.bytesStreamed.Add(int64(n))
}

// MarkUpstreamError records a failure attributable to the upstream:
// connect/header errors, mid-stream read errors, or an idle-silence
// timeout.
func (g *Guard) MarkUpstreamError() {
	g.upstreamFailed.Store(true)
}

// MarkStreamEnd records the upstream's natural end-of-stream. Only this
// promotes an upstream back to Reliable; early bytes alone never do.
func (g *Guard) MarkStreamEnd() {
	g.streamEnded.Store(true)
}

// MarkShutdownTeardown records that the exchange was torn down during the
// shutdown drain rather than by the client or the upstream.
func (g *Guard) MarkShutdownTeardown() {
	g.shutdownTear.Store(true)
}

// Outcome classifies the exchange from what the stream observed. With no
// observations at all the client simply went away: ClientCanceled.
func (g *Guard) Outcome() domain.Outcome {
	switch {
	case g.streamEnded.Load():
		return domain.OutcomeSucceeded
	case g.upstreamFailed.Load() && g.sawFirstByte.Load():
		return domain.OutcomeFailedMidStream
	case g.upstreamFailed.Load():
		return domain.OutcomeFailedBeforeFirstByte
	case g.shutdownTear.Load():
		return domain.OutcomeShutdownInterrupted
	default:
		return domain.OutcomeClientCanceled
	}
}

// BytesStreamed returns the number of body bytes delivered so far.
func (g *Guard) BytesStreamed() int64 {
	return g.bytesStreamed.Load()
}

// Finish runs the grading + release protocol. Safe to call more than once;
// only the first call has any effect.
func (g *Guard) Finish() {
	g.once.Do(g.finish)
}

func (g *Guard) finish() {
	// whatever happens below, the busy slot must come back; a defect in
	// grading or reporting must not wedge the upstream
	defer func() {
		if rec := recover(); rec != nil {
			g.logger.Error("guard release panicked, forcing busy release",
				"upstream", g.name, "panic", rec)
			_ = g.registry.WithEntry(g.key, func(u *domain.Upstream) {
				u.Busy = false
			})
		}
	}()

	outcome := g.Outcome()
	duration := time.Since(g.start)
	bytes := g.bytesStreamed.Load()

	if err := g.registry.WithEntry(g.key, func(u *domain.Upstream) {
		u.Grade = domain.NextGrade(u.Grade, outcome)
		u.Busy = false
	}); err != nil {
		g.logger.Error("guard release failed", "upstream", g.name, "error", err)
	}

	if g.collector != nil {
		g.collector.RecordOutcome(g.key, outcome, bytes, duration)
	}

	switch outcome {
	case domain.OutcomeSucceeded:
		g.logger.InfoWithUpstream(outcome.Report(), g.name,
			"outcome", outcome.String(), "bytes", bytes, "duration_ms", duration.Milliseconds())
	case domain.OutcomeFailedBeforeFirstByte, domain.OutcomeFailedMidStream:
		g.logger.ErrorWithUpstream(outcome.Report(), g.name,
			"outcome", outcome.String(), "bytes", bytes, "duration_ms", duration.Milliseconds())
	default:
		g.logger.InfoWithUpstream(outcome.Report(), g.name,
			"outcome", outcome.String(), "bytes", bytes, "duration_ms", duration.Milliseconds())
	}

	if g.released != nil {
		g.released()
	}
}
