// Package controller implements the reconciliation loop that continuously
// compares the desired state recorded in the descriptor repository against
// the live system and converges drifted units.
package controller

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/robfig/cron/v3"
	log "github.com/sirupsen/logrus"
	"k8s.io/apimachinery/pkg/util/wait"
	"k8s.io/client-go/util/workqueue"

	"github.com/windlass-cd/windlass/controller/metrics"
	"github.com/windlass-cd/windlass/engine"
	"github.com/windlass-cd/windlass/pkg/deploy"
)

// ErrUnitNotFound is returned when an operation references a unit that is not
// present in the descriptor.
var ErrUnitNotFound = errors.New("unit not found in descriptor")

// DesiredStateSource provides the desired-state descriptor together with the
// revision it was read at.
type DesiredStateSource interface {
	Read(ctx context.Context) (*deploy.Descriptor, string, error)
}

// attemptedSync remembers the last convergence attempt for a unit so that a
// failed revision is not retried forever.
type attemptedSync struct {
	revision string
	tag      string
	phase    deploy.OperationPhase
}

// unitState is the controller's mutable bookkeeping for a single unit.
// Access is guarded by the controller mutex.
type unitState struct {
	syncPolicy       deploy.SyncPolicy
	operation        *deploy.OperationState
	pendingOp        *syncOperation
	cancelOperation  context.CancelFunc
	approvedRevision string
	lastAttempted    *attemptedSync
	lastRecord       *deploy.ReconciliationRecord
}

// UnitController is the process which drives deployable units from their
// observed state to the desired state. Refreshes for distinct units run in
// parallel while operations on the same unit are serialized by the workqueue.
type UnitController struct {
	source  DesiredStateSource
	live    engine.LiveSystem
	metrics *metrics.MetricsServer

	refreshQueue   workqueue.TypedRateLimitingInterface[string]
	operationQueue workqueue.TypedRateLimitingInterface[string]

	resyncPeriod     time.Duration
	syncRetries      int
	retryBackoff     time.Duration
	readinessTimeout time.Duration
	pollInterval     time.Duration

	mu           sync.Mutex
	units        map[string]*unitState
	forceRefresh map[string]bool
	records      *gocache.Cache

	cron *cron.Cron
}

// NewUnitController creates a controller reconciling the descriptor held by
// source against the given live system. metricsServer may be nil.
func NewUnitController(source DesiredStateSource, live engine.LiveSystem, metricsServer *metrics.MetricsServer, resyncPeriod time.Duration, syncRetries int) *UnitController {
	return &UnitController{
		source:           source,
		live:             live,
		metrics:          metricsServer,
		refreshQueue:     workqueue.NewTypedRateLimitingQueue(workqueue.DefaultTypedControllerRateLimiter[string]()),
		operationQueue:   workqueue.NewTypedRateLimitingQueue(workqueue.DefaultTypedControllerRateLimiter[string]()),
		resyncPeriod:     resyncPeriod,
		syncRetries:      syncRetries,
		retryBackoff:     100 * time.Millisecond,
		readinessTimeout: 30 * time.Second,
		pollInterval:     50 * time.Millisecond,
		units:            make(map[string]*unitState),
		forceRefresh:     make(map[string]bool),
		records:          gocache.New(24*time.Hour, time.Hour),
		cron:             cron.New(),
	}
}

// QueueLen reports the depth of the refresh queue.
func (ctrl *UnitController) QueueLen() int {
	return ctrl.refreshQueue.Len()
}

// Run starts the reconciliation workers and blocks until the context is
// cancelled.
func (ctrl *UnitController) Run(ctx context.Context, statusProcessors int, operationProcessors int) {
	defer ctrl.refreshQueue.ShutDown()
	defer ctrl.operationQueue.ShutDown()

	if _, err := ctrl.cron.AddFunc(fmt.Sprintf("@every %s", ctrl.resyncPeriod), ctrl.RequestRefreshAll); err != nil {
		log.Errorf("Unable to schedule periodic resync: %v", err)
	}
	ctrl.cron.Start()
	defer ctrl.cron.Stop()

	ctrl.RequestRefreshAll()

	for i := 0; i < statusProcessors; i++ {
		go wait.Until(func() {
			for ctrl.processRefreshQueueItem(ctx) {
			}
		}, time.Second, ctx.Done())
	}
	for i := 0; i < operationProcessors; i++ {
		go wait.Until(func() {
			for ctrl.processOperationQueueItem(ctx) {
			}
		}, time.Second, ctx.Done())
	}

	<-ctx.Done()
}

// RequestRefresh schedules an immediate reconciliation of the given unit.
func (ctrl *UnitController) RequestRefresh(unit string) {
	ctrl.mu.Lock()
	ctrl.forceRefresh[unit] = true
	ctrl.mu.Unlock()
	ctrl.refreshQueue.Add(unit)
}

// RequestRefreshAll schedules a reconciliation of every unit in the
// descriptor.
func (ctrl *UnitController) RequestRefreshAll() {
	desc, _, err := ctrl.source.Read(context.Background())
	if err != nil {
		log.Warnf("Unable to read descriptor for resync: %v", err)
		return
	}
	for unit := range desc.Units {
		ctrl.refreshQueue.Add(unit)
	}
}

// ApproveSync marks the current descriptor revision of a manually-synced unit
// as approved for convergence and schedules a refresh.
func (ctrl *UnitController) ApproveSync(ctx context.Context, unit string) error {
	desc, revision, err := ctrl.source.Read(ctx)
	if err != nil {
		return fmt.Errorf("failed to read descriptor: %w", err)
	}
	if _, ok := desc.Units[unit]; !ok {
		return fmt.Errorf("%w: %s", ErrUnitNotFound, unit)
	}
	ctrl.mu.Lock()
	state := ctrl.ensureUnitLocked(unit)
	state.approvedRevision = revision
	ctrl.mu.Unlock()
	ctrl.RequestRefresh(unit)
	return nil
}

// Records returns the most recent reconciliation record per unit, sorted by
// unit name.
func (ctrl *UnitController) Records() []deploy.ReconciliationRecord {
	items := ctrl.records.Items()
	out := make([]deploy.ReconciliationRecord, 0, len(items))
	for _, item := range items {
		out = append(out, item.Object.(deploy.ReconciliationRecord))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Unit < out[j].Unit })
	return out
}

// Record returns the most recent reconciliation record for a unit.
func (ctrl *UnitController) Record(unit string) (deploy.ReconciliationRecord, bool) {
	if obj, ok := ctrl.records.Get(unit); ok {
		return obj.(deploy.ReconciliationRecord), true
	}
	return deploy.ReconciliationRecord{}, false
}

// OperationState returns a copy of the most recent convergence operation
// state for a unit, or nil when no operation has run.
func (ctrl *UnitController) OperationState(unit string) *deploy.OperationState {
	ctrl.mu.Lock()
	defer ctrl.mu.Unlock()
	state, ok := ctrl.units[unit]
	if !ok || state.operation == nil {
		return nil
	}
	op := *state.operation
	return &op
}

func (ctrl *UnitController) ensureUnitLocked(unit string) *unitState {
	state, ok := ctrl.units[unit]
	if !ok {
		state = &unitState{syncPolicy: deploy.SyncPolicyAutomatic}
		ctrl.units[unit] = state
	}
	return state
}

func (ctrl *UnitController) setRetryCount(unit string, retries int) {
	ctrl.mu.Lock()
	defer ctrl.mu.Unlock()
	if state, ok := ctrl.units[unit]; ok && state.operation != nil {
		state.operation.RetryCount = retries
	}
}

// needRefresh decides whether a full comparison is due for the unit at the
// given revision.
func (ctrl *UnitController) needRefresh(state *unitState, unit string, revision string) bool {
	if ctrl.forceRefresh[unit] {
		delete(ctrl.forceRefresh, unit)
		return true
	}
	if state.lastRecord == nil {
		return true
	}
	if state.lastRecord.Revision != revision {
		return true
	}
	if state.lastRecord.Status != deploy.SyncStatusSynced {
		return true
	}
	return time.Since(state.lastRecord.ComparedAt) >= ctrl.resyncPeriod
}

func (ctrl *UnitController) processRefreshQueueItem(ctx context.Context) (processNext bool) {
	unit, shutdown := ctrl.refreshQueue.Get()
	if shutdown {
		return false
	}
	processNext = true
	defer func() {
		if r := recover(); r != nil {
			log.Errorf("Recovered from panic: %+v\n%s", r, debug.Stack())
		}
		ctrl.refreshQueue.Done(unit)
	}()

	startTime := time.Now()
	desc, revision, err := ctrl.source.Read(ctx)
	if err != nil {
		log.Warnf("Failed to read descriptor: %v", err)
		ctrl.refreshQueue.AddRateLimited(unit)
		return
	}
	spec, ok := desc.Units[unit]
	if !ok {
		ctrl.removeUnit(unit)
		return
	}

	ctrl.mu.Lock()
	state := ctrl.ensureUnitLocked(unit)
	if !ctrl.needRefresh(state, unit, revision) {
		ctrl.mu.Unlock()
		return
	}
	ctrl.mu.Unlock()

	res := ctrl.compareUnitState(ctx, unit, spec, revision)
	record := res.record

	ctrl.mu.Lock()
	policy, err := deploy.ParseSyncPolicy(spec.SyncPolicy)
	if err != nil {
		record.Status = deploy.SyncStatusUnknown
		record.Message = err.Error()
	}
	state.syncPolicy = policy

	ctrl.cancelSupersededLocked(state, unit, revision, record.DesiredTag)

	if state.operation != nil && state.operation.Phase.Running() {
		if record.Status == deploy.SyncStatusOutOfSync {
			record.Status = deploy.SyncStatusProgressing
			record.Message = "convergence operation in progress"
		}
	} else if record.Status == deploy.SyncStatusOutOfSync {
		ctrl.reconcileOutOfSyncLocked(state, unit, &record, spec)
	}

	state.lastRecord = &record
	ctrl.mu.Unlock()

	ctrl.records.Set(unit, record, gocache.DefaultExpiration)
	if ctrl.metrics != nil {
		ctrl.metrics.IncReconcile(record, time.Since(startTime))
	}
	log.WithFields(log.Fields{
		"unit":     unit,
		"revision": revision,
		"status":   record.Status,
		"time_ms":  time.Since(startTime).Milliseconds(),
	}).Debug("Reconciliation completed")
	return
}

// reconcileOutOfSyncLocked decides what to do with an out-of-sync unit: mark
// it degraded when the revision already failed, park it when manual approval
// is pending, or start a convergence operation.
func (ctrl *UnitController) reconcileOutOfSyncLocked(state *unitState, unit string, record *deploy.ReconciliationRecord, spec deploy.UnitSpec) {
	if attempted := state.lastAttempted; attempted != nil &&
		attempted.revision == record.Revision && attempted.tag == record.DesiredTag &&
		!attempted.phase.Successful() {
		record.Status = deploy.SyncStatusDegraded
		if state.operation != nil {
			record.Message = state.operation.Message
		}
		return
	}
	if state.syncPolicy == deploy.SyncPolicyManual && state.approvedRevision != record.Revision {
		record.Message = "manual sync required"
		return
	}
	ctrl.startOperationLocked(state, unit, record, spec)
}

func (ctrl *UnitController) startOperationLocked(state *unitState, unit string, record *deploy.ReconciliationRecord, spec deploy.UnitSpec) {
	state.pendingOp = &syncOperation{
		unit:     unit,
		revision: record.Revision,
		tag:      record.DesiredTag,
		spec:     spec,
	}
	state.operation = &deploy.OperationState{
		Phase:     deploy.OperationRunning,
		Revision:  record.Revision,
		Tag:       record.DesiredTag,
		StartedAt: time.Now(),
	}
	record.Status = deploy.SyncStatusProgressing
	record.Message = "convergence operation started"
	ctrl.operationQueue.Add(unit)
	log.WithFields(log.Fields{"unit": unit, "revision": record.Revision, "tag": record.DesiredTag}).Info("Initiated convergence operation")
}

// cancelSupersededLocked aborts an in-flight operation whose target no longer
// matches the current desired state.
func (ctrl *UnitController) cancelSupersededLocked(state *unitState, unit string, revision string, tag string) {
	if state.operation == nil || !state.operation.Phase.Running() {
		return
	}
	if state.operation.Revision == revision && state.operation.Tag == tag {
		return
	}
	state.pendingOp = nil
	if state.cancelOperation != nil {
		state.cancelOperation()
	}
	now := time.Now()
	state.operation.Phase = deploy.OperationError
	state.operation.Message = "operation superseded by a newer revision"
	state.operation.FinishedAt = &now
	log.WithFields(log.Fields{"unit": unit, "superseded": state.operation.Revision, "revision": revision}).Info("Cancelled superseded convergence operation")
}

func (ctrl *UnitController) processOperationQueueItem(ctx context.Context) (processNext bool) {
	unit, shutdown := ctrl.operationQueue.Get()
	if shutdown {
		return false
	}
	processNext = true
	defer func() {
		if r := recover(); r != nil {
			log.Errorf("Recovered from panic: %+v\n%s", r, debug.Stack())
		}
		ctrl.operationQueue.Done(unit)
	}()

	ctrl.mu.Lock()
	state, ok := ctrl.units[unit]
	if !ok || state.pendingOp == nil {
		ctrl.mu.Unlock()
		return
	}
	op := state.pendingOp
	state.pendingOp = nil
	opCtx, cancel := context.WithCancel(ctx)
	state.cancelOperation = cancel
	ctrl.mu.Unlock()
	defer cancel()

	err := ctrl.runConvergence(opCtx, op)

	ctrl.mu.Lock()
	state.cancelOperation = nil
	phase := deploy.OperationSucceeded
	message := "successfully converged"
	switch {
	case err == nil:
	case errors.Is(err, context.Canceled):
		phase = deploy.OperationError
		message = "operation superseded by a newer revision"
	default:
		phase = deploy.OperationFailed
		message = err.Error()
	}
	if state.operation != nil && state.operation.Revision == op.revision && state.operation.Tag == op.tag {
		now := time.Now()
		state.operation.Phase = phase
		state.operation.Message = message
		state.operation.FinishedAt = &now
	}
	state.lastAttempted = &attemptedSync{revision: op.revision, tag: op.tag, phase: phase}
	ctrl.mu.Unlock()

	if ctrl.metrics != nil {
		ctrl.metrics.IncSync(unit, phase)
		if phase == deploy.OperationFailed {
			ctrl.metrics.IncSyncFailure(unit)
		}
	}
	logCtx := log.WithFields(log.Fields{"unit": unit, "revision": op.revision, "tag": op.tag, "phase": phase})
	if phase.Successful() {
		logCtx.Info("Convergence operation completed")
	} else {
		logCtx.Warnf("Convergence operation did not complete: %s", message)
	}
	ctrl.RequestRefresh(unit)
	return
}

func (ctrl *UnitController) removeUnit(unit string) {
	ctrl.mu.Lock()
	if state, ok := ctrl.units[unit]; ok {
		if state.cancelOperation != nil {
			state.cancelOperation()
		}
		delete(ctrl.units, unit)
	}
	ctrl.mu.Unlock()
	ctrl.records.Delete(unit)
	log.WithField("unit", unit).Info("Removed unit no longer present in descriptor")
}
