package metrics

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/windlass-cd/windlass/pkg/deploy"
)

func scrape(t *testing.T, m *MetricsServer) string {
	t.Helper()
	req := httptest.NewRequest("GET", MetricsPath, nil)
	rr := httptest.NewRecorder()
	m.Handler().ServeHTTP(rr, req)
	require.Equal(t, 200, rr.Code)
	return rr.Body.String()
}

func TestReconcileMetrics(t *testing.T) {
	m := NewMetricsServer(func() int { return 3 })
	m.IncReconcile(deploy.ReconciliationRecord{Unit: "guestbook", Status: deploy.SyncStatusSynced}, 250*time.Millisecond)

	body := scrape(t, m)
	assert.Contains(t, body, `windlass_unit_reconcile_total{sync_status="Synced",unit="guestbook"} 1`)
	assert.Contains(t, body, `windlass_unit_info{sync_status="Synced",unit="guestbook"} 1`)
	assert.Contains(t, body, `windlass_unit_info{sync_status="OutOfSync",unit="guestbook"} 0`)
	assert.Contains(t, body, `windlass_refresh_queue_depth 3`)
}

func TestSyncMetrics(t *testing.T) {
	m := NewMetricsServer(func() int { return 0 })
	m.IncSync("guestbook", deploy.OperationSucceeded)
	m.IncSync("guestbook", deploy.OperationFailed)
	m.IncSyncFailure("guestbook")

	body := scrape(t, m)
	assert.Contains(t, body, `windlass_unit_sync_total{phase="Succeeded",unit="guestbook"} 1`)
	assert.Contains(t, body, `windlass_unit_sync_total{phase="Failed",unit="guestbook"} 1`)
	assert.Contains(t, body, `windlass_unit_sync_failures_total{unit="guestbook"} 1`)
}
