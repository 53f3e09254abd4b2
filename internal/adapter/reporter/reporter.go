package reporter

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/coxyhq/coxy/internal/core/domain"
	"github.com/coxyhq/coxy/internal/logger"
	"github.com/coxyhq/coxy/pkg/eventbus"
)

// Reporter renders the upstream roster to stdout whenever the registry
// changes: a selection, a release, or a grade transition. The format is for
// humans, but the `Busy:` and `Reliability:` substrings are stable so tests
// and eyeballs can key off them.
type Reporter struct {
	events *eventbus.EventBus[[]domain.UpstreamView]
	out    io.Writer
	logger logger.StyledLogger
}

func New(events *eventbus.EventBus[[]domain.UpstreamView], log logger.StyledLogger) *Reporter {
	return &Reporter{
		events: events,
		out:    os.Stdout,
		logger: log,
	}
}

// NewWithWriter is used by tests to capture output.
func NewWithWriter(events *eventbus.EventBus[[]domain.UpstreamView], out io.Writer, log logger.StyledLogger) *Reporter {
	return &Reporter{
		events: events,
		out:    out,
		logger: log,
	}
}

// Run consumes roster events until ctx is cancelled or the bus shuts down.
func (r *Reporter) Run(ctx context.Context) error {
	events, cancel := r.events.Subscribe(ctx)
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return nil
		case roster, ok := <-events:
			if !ok {
				return nil
			}
			r.Render(roster)
		}
	}
}

// Render writes one roster snapshot.
func (r *Reporter) Render(roster []domain.UpstreamView) {
	if len(roster) == 0 {
		return
	}

	fmt.Fprintln(r.out, "Upstream servers:")
	for i, upstream := range roster {
		fmt.Fprintf(r.out, "  %d. %s (%s) [Busy: %s] [Reliability: %s]\n",
			i+1, upstream.Name, upstream.Key, upstream.BusyString(), upstream.Grade)
	}
}
