package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/fieldkit/flowqueue/pkg/types"
)

func TestCollectorExposesRecordedMetrics(t *testing.T) {
	c := NewCollector()
	c.RecordEnqueue(types.JobTypeCellSegmentation)
	c.RecordCompleted(types.JobTypeCellSegmentation, types.JobSucceeded, 0.5)
	c.RecordRateLimited("alice")
	c.SetPendingJobs(3)
	c.SetActiveUsers(2)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	c.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	require.True(t, strings.Contains(body, "scheduler_jobs_enqueued_total"))
	require.True(t, strings.Contains(body, "scheduler_jobs_completed_total"))
	require.True(t, strings.Contains(body, "scheduler_rate_limited_total"))
	require.True(t, strings.Contains(body, "scheduler_pending_jobs 3"))
	require.True(t, strings.Contains(body, "scheduler_active_users 2"))
}

func TestMultipleCollectorsDoNotCollide(t *testing.T) {
	c1 := NewCollector()
	c2 := NewCollector()
	c1.RecordEnqueue(types.JobTypeTissueMask)
	c2.RecordEnqueue(types.JobTypeTissueMask)
}
