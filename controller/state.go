package controller

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/windlass-cd/windlass/engine"
	"github.com/windlass-cd/windlass/pkg/deploy"
	"github.com/windlass-cd/windlass/updater"
)

// comparisonResult is the outcome of comparing a unit's desired state against
// what the live system reports for it.
type comparisonResult struct {
	record   deploy.ReconciliationRecord
	liveSpec *engine.UnitStatus
}

// desiredTag extracts the tag portion of the unit's image reference. The
// descriptor must pin an explicit tag for every unit.
func desiredTag(spec deploy.UnitSpec) (string, error) {
	img := updater.ParseImage(spec.Image)
	if err := img.Validate(); err != nil {
		return "", fmt.Errorf("invalid image reference %q: %w", spec.Image, err)
	}
	if img.TagName == "" {
		return "", fmt.Errorf("image reference %q does not pin a tag", spec.Image)
	}
	return img.TagName, nil
}

// compareUnitState derives the sync status of a single unit from its desired
// spec at the given revision and the state observed in the live system.
func (ctrl *UnitController) compareUnitState(ctx context.Context, unit string, spec deploy.UnitSpec, revision string) comparisonResult {
	record := deploy.ReconciliationRecord{
		Unit:       unit,
		Revision:   revision,
		ComparedAt: time.Now(),
	}

	tag, err := desiredTag(spec)
	if err != nil {
		record.Status = deploy.SyncStatusUnknown
		record.Message = err.Error()
		return comparisonResult{record: record}
	}
	record.DesiredTag = tag

	live, err := ctrl.live.GetStatus(ctx, unit)
	if err != nil {
		if errors.Is(err, engine.ErrUnitNotFound) {
			record.Status = deploy.SyncStatusOutOfSync
			record.Message = "unit has not been deployed"
			return comparisonResult{record: record}
		}
		record.Status = deploy.SyncStatusUnknown
		record.Message = fmt.Sprintf("failed to obtain live state: %v", err)
		return comparisonResult{record: record}
	}

	record.ObservedTag = live.ObservedTag
	switch {
	case live.ObservedTag != tag:
		record.Status = deploy.SyncStatusOutOfSync
		record.Message = fmt.Sprintf("observed tag %q does not match desired tag %q", live.ObservedTag, tag)
	case !live.Ready():
		record.Status = deploy.SyncStatusProgressing
		record.Message = fmt.Sprintf("%d/%d replicas ready", live.ReadyReplicas, live.Replicas)
	default:
		record.Status = deploy.SyncStatusSynced
	}
	return comparisonResult{record: record, liveSpec: live}
}
