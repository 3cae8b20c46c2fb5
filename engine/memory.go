package engine

import (
	"context"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/windlass-cd/windlass/pkg/deploy"
	"github.com/windlass-cd/windlass/updater"
)

type liveUnit struct {
	spec      deploy.UnitSpec
	appliedAt time.Time
	ready     int
}

// InMemory is a LiveSystem simulating rollouts in process memory. After an
// apply, replicas become ready once RolloutedDelay has elapsed, unless
// readiness is pinned through SetReady.
type InMemory struct {
	mu    sync.Mutex
	units map[string]*liveUnit

	// RolloutDelay is how long after an apply until all replicas report ready
	RolloutDelay time.Duration
	// pinned readiness per unit; overrides time-based rollout when set
	pinned map[string]int
	// failures per unit consumed by Apply to simulate rejected applies
	applyFailures map[string]int
}

func NewInMemory() *InMemory {
	return &InMemory{
		units:         make(map[string]*liveUnit),
		pinned:        make(map[string]int),
		applyFailures: make(map[string]int),
	}
}

func (e *InMemory) Apply(ctx context.Context, unit string, spec deploy.UnitSpec) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	if n := e.applyFailures[unit]; n > 0 {
		e.applyFailures[unit] = n - 1
		return &ApplyRejectedError{Unit: unit}
	}
	existing, ok := e.units[unit]
	if ok && existing.spec == spec {
		// re-applying the identical spec does not restart the rollout
		return nil
	}
	e.units[unit] = &liveUnit{spec: spec, appliedAt: time.Now()}
	log.WithFields(log.Fields{"unit": unit, "image": spec.Image}).Debug("Applied spec to live system")
	return nil
}

func (e *InMemory) GetStatus(ctx context.Context, unit string) (*UnitStatus, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	lu, ok := e.units[unit]
	if !ok {
		return nil, ErrUnitNotFound
	}
	ready := lu.spec.Replicas
	if pinned, ok := e.pinned[unit]; ok {
		ready = pinned
	} else if e.RolloutDelay > 0 && time.Since(lu.appliedAt) < e.RolloutDelay {
		ready = 0
	}
	return &UnitStatus{
		ObservedTag:   updater.ParseImage(lu.spec.Image).TagName,
		Replicas:      lu.spec.Replicas,
		ReadyReplicas: ready,
	}, nil
}

// SetReady pins the ready replica count reported for a unit
func (e *InMemory) SetReady(unit string, ready int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.pinned[unit] = ready
}

// ClearReady removes a readiness pin so rollout timing applies again
func (e *InMemory) ClearReady(unit string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.pinned, unit)
}

// FailApplies makes the next count applies for a unit return a rejection
func (e *InMemory) FailApplies(unit string, count int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.applyFailures[unit] = count
}

// ApplyRejectedError indicates the live system rejected an apply
type ApplyRejectedError struct {
	Unit string
}

func (e *ApplyRejectedError) Error() string {
	return "apply rejected for unit " + e.Unit
}
