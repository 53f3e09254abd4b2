package proxy

import (
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/coxyhq/coxy/internal/adapter/registry"
	"github.com/coxyhq/coxy/internal/core/domain"
	"github.com/coxyhq/coxy/internal/core/ports"
	"github.com/coxyhq/coxy/internal/logger"
)

type recordingCollector struct {
	mu       sync.Mutex
	outcomes []domain.Outcome
	keys     []string
}

func (r *recordingCollector) RecordSelection(key string) {}

func (r *recordingCollector) RecordOutcome(key string, outcome domain.Outcome, bytesStreamed int64, duration time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.keys = append(r.keys, key)
	r.outcomes = append(r.outcomes, outcome)
}

func (r *recordingCollector) UpstreamStats() map[string]ports.UpstreamStats {
	return nil
}

func (r *recordingCollector) recorded() []domain.Outcome {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.Outcome(nil), r.outcomes...)
}

func guardFixture(t *testing.T, grade domain.Grade) (*registry.Registry, *Guard, *recordingCollector) {
	t.Helper()
	const key = "http://127.0.0.1:11434"
	parsed, _ := url.Parse(key)

	reg := registry.New(nil)
	if err := reg.Add(&domain.Upstream{URL: parsed, Key: key, Name: "test", Grade: grade, Busy: true}); err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	collector := &recordingCollector{}
	guard := newGuard(reg, collector, logger.NewDiscardLogger(), key, "test", nil)
	return reg, guard, collector
}

func TestGuardOutcomeClassification(t *testing.T) {
	tests := []struct {
		name    string
		observe func(*Guard)
		want    domain.Outcome
	}{
		{"nothing observed means client went away", func(g *Guard) {}, domain.OutcomeClientCanceled},
		{"natural end of stream", func(g *Guard) {
			g.MarkFirstByte()
			g.MarkStreamEnd()
		}, domain.OutcomeSucceeded},
		{"error before any byte", func(g *Guard) {
			g.MarkUpstreamError()
		}, domain.OutcomeFailedBeforeFirstByte},
		{"error after first byte", func(g *Guard) {
			g.MarkFirstByte()
			g.MarkUpstreamError()
		}, domain.OutcomeFailedMidStream},
		{"shutdown teardown", func(g *Guard) {
			g.MarkFirstByte()
			g.MarkShutdownTeardown()
		}, domain.OutcomeShutdownInterrupted},
		{"upstream error outranks shutdown", func(g *Guard) {
			g.MarkUpstreamError()
			g.MarkShutdownTeardown()
		}, domain.OutcomeFailedBeforeFirstByte},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, guard, _ := guardFixture(t, domain.GradeReliable)
			tt.observe(guard)
			if got := guard.Outcome(); got != tt.want {
				t.Errorf("Outcome() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestGuardFinishReleasesBusyAndGrades(t *testing.T) {
	reg, guard, collector := guardFixture(t, domain.GradeUnreliable)

	guard.MarkFirstByte()
	guard.MarkStreamEnd()
	guard.Finish()

	snapshot := reg.Snapshot()
	if snapshot[0].Busy {
		t.Error("busy flag should be released")
	}
	if snapshot[0].Grade != domain.GradeReliable {
		t.Errorf("expected promotion to Reliable, got %s", snapshot[0].Grade)
	}
	if got := collector.recorded(); len(got) != 1 || got[0] != domain.OutcomeSucceeded {
		t.Errorf("unexpected collector recordings: %v", got)
	}
	collector.mu.Lock()
	if len(collector.keys) != 1 || collector.keys[0] != "http://127.0.0.1:11434" {
		t.Errorf("outcome recorded against wrong key: %v", collector.keys)
	}
	collector.mu.Unlock()
}

func TestGuardFinishExactlyOnce(t *testing.T) {
	reg, guard, collector := guardFixture(t, domain.GradeReliable)

	guard.MarkUpstreamError()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			guard.Finish()
		}()
	}
	wg.Wait()

	if got := collector.recorded(); len(got) != 1 {
		t.Fatalf("release protocol ran %d times, want exactly once", len(got))
	}
	if reg.Snapshot()[0].Grade != domain.GradeUnreliable {
		t.Errorf("expected demotion, got %s", reg.Snapshot()[0].Grade)
	}
}

func TestGuardClientCancelLeavesProbationGrade(t *testing.T) {
	reg, guard, _ := guardFixture(t, domain.GradeSecondChance)

	// one chunk arrived, then the client dropped: no upstream fault observed
	guard.MarkFirstByte()
	guard.Finish()

	snapshot := reg.Snapshot()
	if snapshot[0].Busy {
		t.Error("busy flag should be released")
	}
	if snapshot[0].Grade != domain.GradeSecondChance {
		t.Errorf("client cancel must not touch the grade, got %s", snapshot[0].Grade)
	}
}

func TestGuardReleaseCallback(t *testing.T) {
	const key = "http://127.0.0.1:11434"
	parsed, _ := url.Parse(key)
	reg := registry.New(nil)
	if err := reg.Add(&domain.Upstream{URL: parsed, Key: key, Name: "test", Grade: domain.GradeReliable, Busy: true}); err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	released := 0
	guard := newGuard(reg, nil, logger.NewDiscardLogger(), key, "test", func() { released++ })
	guard.Finish()
	guard.Finish()

	if released != 1 {
		t.Errorf("release callback ran %d times, want once", released)
	}
}

func TestGuardFinishUnknownKeyStillCompletes(t *testing.T) {
	reg := registry.New(nil)
	guard := newGuard(reg, nil, logger.NewDiscardLogger(), "http://gone:1", "gone", nil)

	// must not panic even though the registry has no such entry
	guard.Finish()
}
