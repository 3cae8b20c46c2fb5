// Package engine abstracts the live system the reconciler converges. The
// in-memory implementation simulates rollouts for local mode and tests.
package engine

import (
	"context"
	"errors"

	"github.com/windlass-cd/windlass/pkg/deploy"
)

// ErrUnitNotFound is returned by GetStatus for units never applied
var ErrUnitNotFound = errors.New("unit not found in live system")

// UnitStatus is the observed state of one deployable unit
type UnitStatus struct {
	// ObservedTag is the image tag currently live
	ObservedTag string `json:"observedTag"`
	// Replicas is the number of replicas the live system runs
	Replicas int `json:"replicas"`
	// ReadyReplicas is the number of replicas passing readiness checks
	ReadyReplicas int `json:"readyReplicas"`
}

// Ready reports whether every desired replica passes its readiness check
func (s *UnitStatus) Ready() bool {
	return s.Replicas > 0 && s.ReadyReplicas == s.Replicas
}

// LiveSystem is the API the reconciler drives convergence through
type LiveSystem interface {
	// Apply submits the desired spec for a unit. An accepted apply does not
	// imply readiness; callers observe convergence through GetStatus.
	Apply(ctx context.Context, unit string, spec deploy.UnitSpec) error
	// GetStatus returns the observed state of a unit, or ErrUnitNotFound
	GetStatus(ctx context.Context, unit string) (*UnitStatus, error)
}
