package controller

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	log "github.com/sirupsen/logrus"

	"github.com/windlass-cd/windlass/pkg/deploy"
)

// syncOperation captures a pending request to converge a unit onto the
// desired state taken from a specific revision.
type syncOperation struct {
	unit     string
	revision string
	tag      string
	spec     deploy.UnitSpec
}

// runConvergence drives a unit to the desired state. It applies the spec and
// waits for the rollout to report ready, retrying the whole attempt with
// exponential backoff up to the configured retry limit. The context is
// cancelled when a newer revision supersedes the operation.
func (ctrl *UnitController) runConvergence(ctx context.Context, op *syncOperation) error {
	logCtx := log.WithFields(log.Fields{"unit": op.unit, "revision": op.revision, "tag": op.tag})

	attempt := 0
	operation := func() (struct{}, error) {
		attempt++
		if attempt > 1 {
			logCtx.Infof("Retrying convergence (attempt %d of %d)", attempt, ctrl.syncRetries)
			ctrl.setRetryCount(op.unit, attempt-1)
		}
		if err := ctrl.live.Apply(ctx, op.unit, op.spec); err != nil {
			if ctx.Err() != nil {
				return struct{}{}, backoff.Permanent(ctx.Err())
			}
			return struct{}{}, fmt.Errorf("apply failed: %w", err)
		}
		if err := ctrl.waitForReady(ctx, op); err != nil {
			if ctx.Err() != nil {
				return struct{}{}, backoff.Permanent(ctx.Err())
			}
			return struct{}{}, err
		}
		return struct{}{}, nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = ctrl.retryBackoff
	_, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(bo),
		backoff.WithMaxTries(uint(ctrl.syncRetries)))
	return err
}

// waitForReady polls the live system until the unit reports the desired tag
// with all replicas ready, or the readiness timeout elapses.
func (ctrl *UnitController) waitForReady(ctx context.Context, op *syncOperation) error {
	deadline := time.Now().Add(ctrl.readinessTimeout)
	ticker := time.NewTicker(ctrl.pollInterval)
	defer ticker.Stop()
	for {
		live, err := ctrl.live.GetStatus(ctx, op.unit)
		if err == nil && live.ObservedTag == op.tag && live.Ready() {
			return nil
		}
		if time.Now().After(deadline) {
			if err != nil {
				return fmt.Errorf("unit %s did not become ready: %w", op.unit, err)
			}
			return fmt.Errorf("unit %s did not become ready within %v (%d/%d replicas)", op.unit, ctrl.readinessTimeout, live.ReadyReplicas, live.Replicas)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
