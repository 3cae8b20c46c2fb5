package deploy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsWorse(t *testing.T) {
	tests := []struct {
		name    string
		current SyncStatusCode
		new     SyncStatusCode
		result  bool
	}{
		{"Synced to Degraded is worse", SyncStatusSynced, SyncStatusDegraded, true},
		{"Synced to Progressing is worse", SyncStatusSynced, SyncStatusProgressing, true},
		{"Degraded to Synced is not worse", SyncStatusDegraded, SyncStatusSynced, false},
		{"Same status is not worse", SyncStatusOutOfSync, SyncStatusOutOfSync, false},
		{"Anything to Unknown is worse", SyncStatusDegraded, SyncStatusUnknown, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.result, IsWorse(tt.current, tt.new))
		})
	}
}

func TestParseSyncPolicy(t *testing.T) {
	policy, err := ParseSyncPolicy("")
	require.NoError(t, err)
	assert.Equal(t, SyncPolicyAutomatic, policy)

	policy, err = ParseSyncPolicy("manual")
	require.NoError(t, err)
	assert.Equal(t, SyncPolicyManual, policy)

	_, err = ParseSyncPolicy("sometimes")
	assert.Error(t, err)
}

func TestOperationPhase(t *testing.T) {
	assert.True(t, OperationSucceeded.Completed())
	assert.True(t, OperationFailed.Completed())
	assert.True(t, OperationError.Completed())
	assert.False(t, OperationRunning.Completed())
	assert.True(t, OperationRunning.Running())
	assert.True(t, OperationSucceeded.Successful())
	assert.False(t, OperationFailed.Successful())
}

func TestDescriptorDeepCopy(t *testing.T) {
	d := &Descriptor{Units: map[string]UnitSpec{
		"guestbook": {Image: "example.com/guestbook:v1", Replicas: 2},
	}}
	c := d.DeepCopy()
	c.Units["guestbook"] = UnitSpec{Image: "example.com/guestbook:v2", Replicas: 2}
	assert.Equal(t, "example.com/guestbook:v1", d.Units["guestbook"].Image)
}
