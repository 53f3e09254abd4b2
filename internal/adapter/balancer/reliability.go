package balancer

import (
	"context"

	"github.com/coxyhq/coxy/internal/adapter/registry"
	"github.com/coxyhq/coxy/internal/core/domain"
	"github.com/coxyhq/coxy/internal/logger"
)

const DefaultBalancerReliability = "reliability"

// ReliabilitySelector picks upstreams by their reliability grade, preferring
// servers that finished their last stream cleanly. Unreliable servers are
// retried in a fair rotation: each gets exactly one probation turn per round
// before any gets a second.
type ReliabilitySelector struct {
	registry *registry.Registry
	logger   logger.StyledLogger
}

func NewReliabilitySelector(reg *registry.Registry, log logger.StyledLogger) *ReliabilitySelector {
	return &ReliabilitySelector{
		registry: reg,
		logger:   log,
	}
}

// Name returns the name of the selection strategy
func (s *ReliabilitySelector) Name() string {
	return DefaultBalancerReliability
}

// Select chooses at most one upstream and marks it busy in the same atomic
// step. Scan order is insertion order, which makes the policy deterministic:
//
//  1. first not-busy Reliable upstream
//  2. first not-busy Unreliable upstream; it is promoted to
//     SecondChanceGiven on the spot so it will not be re-picked until the
//     probation round completes
//  3. first not-busy SecondChanceGiven upstream; every other not-busy
//     SecondChanceGiven entry flips back to Unreliable, starting a new round
//
// If every upstream is busy (or none is registered) Select returns
// domain.ErrNoUpstreamAvailable.
func (s *ReliabilitySelector) Select(ctx context.Context) (domain.UpstreamView, error) {
	var chosen domain.UpstreamView
	tier := 0

	s.registry.Transact(func(entries []*domain.Upstream) bool {
		for _, u := range entries {
			if !u.Busy && u.Grade == domain.GradeReliable {
				u.Busy = true
				chosen = view(u)
				tier = 1
				return true
			}
		}

		for _, u := range entries {
			if !u.Busy && u.Grade == domain.GradeUnreliable {
				u.Busy = true
				u.Grade = domain.GradeSecondChance
				chosen = view(u)
				tier = 2
				return true
			}
		}

		for _, u := range entries {
			if !u.Busy && u.Grade == domain.GradeSecondChance {
				u.Busy = true
				chosen = view(u)
				// round over: everyone else waiting on probation goes back
				// to Unreliable so the next round starts fresh
				for _, other := range entries {
					if other != u && !other.Busy && other.Grade == domain.GradeSecondChance {
						other.Grade = domain.GradeUnreliable
					}
				}
				tier = 3
				return true
			}
		}

		return false
	})

	switch tier {
	case 1:
		s.logger.InfoWithUpstream("chose reliable", chosen.Name)
	case 2:
		s.logger.InfoWithUpstream("giving another chance", chosen.Name)
	case 3:
		s.logger.InfoWithUpstream("3rd+ chance", chosen.Name)
	default:
		s.logger.Warn("no available servers")
		return domain.UpstreamView{}, domain.ErrNoUpstreamAvailable
	}

	return chosen, nil
}

func view(u *domain.Upstream) domain.UpstreamView {
	return domain.UpstreamView{
		Key:   u.Key,
		Name:  u.Name,
		Busy:  u.Busy,
		Grade: u.Grade,
	}
}
