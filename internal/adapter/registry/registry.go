package registry

import (
	"fmt"
	"sync"

	"github.com/coxyhq/coxy/internal/core/domain"
	"github.com/coxyhq/coxy/pkg/eventbus"
)

// Registry is the process-wide map of upstreams and the single source of
// truth for their busy flags and reliability grades. All observable writes
// happen inside one mutual-exclusion region so that every published change
// event carries a roster that existed at some instant.
//
// The set of entries is fixed once the server starts; Add is a startup-only
// operation. Entries keep their insertion order, which is the tie-break for
// selection.
type Registry struct {
	byKey   map[string]*domain.Upstream
	events  *eventbus.EventBus[[]domain.UpstreamView]
	entries []*domain.Upstream
	mu      sync.Mutex
}

func New(events *eventbus.EventBus[[]domain.UpstreamView]) *Registry {
	return &Registry{
		byKey:  make(map[string]*domain.Upstream),
		events: events,
	}
}

// Add registers an upstream. Keys must be unique; a duplicate is a
// configuration error, not a runtime condition.
func (r *Registry) Add(upstream *domain.Upstream) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byKey[upstream.Key]; exists {
		return fmt.Errorf("duplicate upstream: %s", upstream.Key)
	}
	if upstream.Grade == "" {
		upstream.Grade = domain.GradeReliable
	}

	r.byKey[upstream.Key] = upstream
	r.entries = append(r.entries, upstream)
	return nil
}

// Len returns the number of registered upstreams.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Snapshot returns a read-only copy of all entries in insertion order.
func (r *Registry) Snapshot() []domain.UpstreamView {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshotLocked()
}

// WithEntry applies a mutation to exactly one entry under the registry lock
// and publishes the resulting roster if the mutation changed anything
// observable. The mutation must not block.
func (r *Registry) WithEntry(key string, fn func(*domain.Upstream)) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.byKey[key]
	if !ok {
		return &domain.ErrUpstreamNotFound{Key: key}
	}

	busyBefore, gradeBefore := entry.Busy, entry.Grade
	fn(entry)

	if entry.Busy != busyBefore || entry.Grade != gradeBefore {
		r.publishLocked()
	}
	return nil
}

// Transact runs fn over all entries, in insertion order, under the registry
// lock. fn reports whether it changed observable state; if so, the new
// roster is published. Selection runs through here so that scanning the
// tiers and marking the winner busy is one atomic step.
func (r *Registry) Transact(fn func(entries []*domain.Upstream) bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if fn(r.entries) {
		r.publishLocked()
	}
}

func (r *Registry) snapshotLocked() []domain.UpstreamView {
	views := make([]domain.UpstreamView, len(r.entries))
	for i, entry := range r.entries {
		views[i] = domain.UpstreamView{
			Key:   entry.Key,
			Name:  entry.Name,
			Busy:  entry.Busy,
			Grade: entry.Grade,
		}
	}
	return views
}

// publishLocked pushes the current roster to observers. The bus never
// blocks, so holding the lock here keeps event order identical to mutation
// order without stalling the mutation region.
func (r *Registry) publishLocked() {
	if r.events != nil {
		r.events.Publish(r.snapshotLocked())
	}
}
