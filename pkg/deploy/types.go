package deploy

import (
	"fmt"
	"time"
)

// SyncStatusCode holds the reconciliation state of a deployable unit
type SyncStatusCode string

const (
	// SyncStatusUnknown means the desired or observed state could not be determined yet
	SyncStatusUnknown SyncStatusCode = "Unknown"
	// SyncStatusOutOfSync means the observed state differs from the desired state
	SyncStatusOutOfSync SyncStatusCode = "OutOfSync"
	// SyncStatusProgressing means a convergence operation is in flight
	SyncStatusProgressing SyncStatusCode = "Progressing"
	// SyncStatusSynced means the observed state matches the desired state and readiness checks pass
	SyncStatusSynced SyncStatusCode = "Synced"
	// SyncStatusDegraded means convergence was applied but readiness failed, or retries were exhausted
	SyncStatusDegraded SyncStatusCode = "Degraded"
)

// syncStatusOrder lists sync status codes from best to worst condition
var syncStatusOrder = []SyncStatusCode{
	SyncStatusSynced,
	SyncStatusProgressing,
	SyncStatusOutOfSync,
	SyncStatusDegraded,
	SyncStatusUnknown,
}

// IsWorse returns whether the new status code is a worse condition than the current
func IsWorse(current, new SyncStatusCode) bool {
	currentIndex := 0
	newIndex := 0
	for i, code := range syncStatusOrder {
		if current == code {
			currentIndex = i
		}
		if new == code {
			newIndex = i
		}
	}
	return newIndex > currentIndex
}

// SyncPolicy controls whether convergence fires automatically or requires an
// explicit approval per unit
type SyncPolicy string

const (
	SyncPolicyAutomatic SyncPolicy = "automatic"
	SyncPolicyManual    SyncPolicy = "manual"
)

// ParseSyncPolicy maps a descriptor value to a SyncPolicy. The empty string
// defaults to automatic.
func ParseSyncPolicy(s string) (SyncPolicy, error) {
	switch s {
	case "", string(SyncPolicyAutomatic):
		return SyncPolicyAutomatic, nil
	case string(SyncPolicyManual):
		return SyncPolicyManual, nil
	default:
		return "", fmt.Errorf("invalid sync policy: %q", s)
	}
}

// OperationPhase is the phase of a single convergence operation
type OperationPhase string

const (
	OperationRunning   OperationPhase = "Running"
	OperationFailed    OperationPhase = "Failed"
	OperationError     OperationPhase = "Error"
	OperationSucceeded OperationPhase = "Succeeded"
)

func (os OperationPhase) Completed() bool {
	switch os {
	case OperationFailed, OperationError, OperationSucceeded:
		return true
	}
	return false
}

func (os OperationPhase) Running() bool {
	return os == OperationRunning
}

func (os OperationPhase) Successful() bool {
	return os == OperationSucceeded
}

// OperationState holds the progress of the most recent convergence operation
// for a unit
type OperationState struct {
	// Phase is the current phase of the operation
	Phase OperationPhase `json:"phase"`
	// Message holds any human readable message from the operation
	Message string `json:"message,omitempty"`
	// Revision is the descriptor revision the operation is converging to
	Revision string `json:"revision,omitempty"`
	// Tag is the artifact tag the operation is converging to
	Tag string `json:"tag,omitempty"`
	// RetryCount is the number of convergence attempts performed so far
	RetryCount int `json:"retryCount,omitempty"`
	StartedAt  time.Time `json:"startedAt"`
	FinishedAt *time.Time `json:"finishedAt,omitempty"`
}

// UnitSpec is the desired state of a single deployable unit as recorded in
// the descriptor document. At most one desired tag exists per unit at any
// descriptor revision.
type UnitSpec struct {
	// Image is the full image reference including the desired tag
	Image string `json:"image"`
	// Replicas is the desired replica count
	Replicas int `json:"replicas"`
	// Port is the port the unit exposes
	Port int `json:"port,omitempty"`
	// SyncPolicy is either "automatic" or "manual"; empty means automatic
	SyncPolicy string `json:"syncPolicy,omitempty"`
	// Constraint optionally restricts which tags may be promoted to this
	// unit, e.g. a semver range
	Constraint string `json:"constraint,omitempty"`
}

// Descriptor is the desired-state document: a mapping of deployable-unit
// name to its spec. It is only ever mutated through reviewed changes.
type Descriptor struct {
	Units map[string]UnitSpec `json:"units"`
}

// DeepCopy returns a copy of the descriptor that shares no state with the original
func (d *Descriptor) DeepCopy() *Descriptor {
	out := &Descriptor{Units: make(map[string]UnitSpec, len(d.Units))}
	for name, spec := range d.Units {
		out.Units[name] = spec
	}
	return out
}

// ReconciliationRecord is the ephemeral comparison result for one unit,
// recomputed on every reconciliation tick
type ReconciliationRecord struct {
	Unit        string         `json:"unit"`
	DesiredTag  string         `json:"desiredTag"`
	ObservedTag string         `json:"observedTag"`
	Status      SyncStatusCode `json:"status"`
	// Revision is the descriptor revision the comparison was made against
	Revision string `json:"revision"`
	// Message carries failure details when Status is Degraded or Unknown
	Message    string    `json:"message,omitempty"`
	ComparedAt time.Time `json:"comparedAt"`
}
