package prometheus

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/aescanero/fulfillment/pkg/domain"
	"github.com/aescanero/fulfillment/pkg/ports"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var _ ports.MetricsCollector = (*Collector)(nil)

func newTestCollector() *Collector {
	reg := prometheus.NewRegistry()
	return NewCollectorWithRegistry(reg, reg)
}

func TestCollectorRecordsExecutions(t *testing.T) {
	c := newTestCollector()

	c.RecordExecutionInitiated("standard-fulfillment", domain.AutomationFullyAutomated)
	c.RecordExecutionInitiated("standard-fulfillment", domain.AutomationFullyAutomated)
	c.RecordExecutionFinished(domain.ExecutionStatusCompleted, 3*time.Second)
	c.RecordExecutionStalled("standard-fulfillment")
	c.SetActiveExecutions(4)

	assert.Equal(t, 2.0, testutil.ToFloat64(c.executionsInitiated.WithLabelValues("standard-fulfillment", "FULLY_AUTOMATED")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.executionsFinished.WithLabelValues("COMPLETED")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.executionsStalled.WithLabelValues("standard-fulfillment")))
	assert.Equal(t, 4.0, testutil.ToFloat64(c.activeExecutions))
}

func TestCollectorRecordsSteps(t *testing.T) {
	c := newTestCollector()

	c.RecordStepExecuted(domain.StepTypeRouting, domain.StepStatusCompleted, 10*time.Millisecond)
	c.RecordStepExecuted(domain.StepTypeRouting, domain.StepStatusFailed, 20*time.Millisecond)
	c.RecordStepRetry(domain.StepTypeRouting)
	c.RecordWorkerPoolStatus(3, 1, 0, 2)

	assert.Equal(t, 1.0, testutil.ToFloat64(c.stepsExecuted.WithLabelValues("ROUTING", "FAILED")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.stepRetries.WithLabelValues("ROUTING")))
	assert.Equal(t, 3.0, testutil.ToFloat64(c.workerPoolIdle))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.workerPoolBusy))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.stepJobsQueued))
}

func TestCollectorHandler(t *testing.T) {
	c := newTestCollector()
	c.RecordStepRetry(domain.StepTypeAllocation)

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), `fulfillment_step_retries_total{step_type="ALLOCATION"} 1`))
}
