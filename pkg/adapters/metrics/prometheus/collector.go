package prometheus

import (
	"net/http"
	"time"

	"github.com/aescanero/fulfillment/pkg/domain"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector implements MetricsCollector using Prometheus
type Collector struct {
	gatherer prometheus.Gatherer

	executionsInitiated *prometheus.CounterVec
	executionsFinished  *prometheus.CounterVec
	executionsStalled   *prometheus.CounterVec
	executionDuration   *prometheus.HistogramVec
	activeExecutions    prometheus.Gauge

	stepsExecuted *prometheus.CounterVec
	stepDuration  *prometheus.HistogramVec
	stepRetries   *prometheus.CounterVec

	workerPoolIdle    prometheus.Gauge
	workerPoolBusy    prometheus.Gauge
	workerPoolStopped prometheus.Gauge
	stepJobsQueued    prometheus.Gauge
}

// NewCollector creates a collector registered with the default registry
func NewCollector() *Collector {
	return NewCollectorWithRegistry(prometheus.DefaultRegisterer, prometheus.DefaultGatherer)
}

// NewCollectorWithRegistry creates a collector registered with reg and
// served from gatherer
func NewCollectorWithRegistry(reg prometheus.Registerer, gatherer prometheus.Gatherer) *Collector {
	factory := promauto.With(reg)

	return &Collector{
		gatherer: gatherer,
		executionsInitiated: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fulfillment_executions_initiated_total",
				Help: "Total number of fulfillment executions initiated",
			},
			[]string{"template", "automation_level"},
		),
		executionsFinished: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fulfillment_executions_finished_total",
				Help: "Total number of executions that reached a terminal status",
			},
			[]string{"status"},
		),
		executionsStalled: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fulfillment_executions_stalled_total",
				Help: "Total number of executions that stalled on a failed step",
			},
			[]string{"template"},
		),
		executionDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "fulfillment_execution_duration_seconds",
				Help:    "Time from initiation to terminal status in seconds",
				Buckets: []float64{1, 5, 10, 30, 60, 300, 900, 1800, 3600, 14400},
			},
			[]string{"status"},
		),
		activeExecutions: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "fulfillment_active_executions",
				Help: "Number of executions not yet terminal",
			},
		),
		stepsExecuted: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fulfillment_steps_executed_total",
				Help: "Total number of step attempts by type and outcome",
			},
			[]string{"step_type", "status"},
		),
		stepDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "fulfillment_step_duration_seconds",
				Help:    "Step attempt duration in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"step_type"},
		),
		stepRetries: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fulfillment_step_retries_total",
				Help: "Total number of automatic step retries",
			},
			[]string{"step_type"},
		),
		workerPoolIdle: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "fulfillment_worker_pool_idle",
				Help: "Number of idle workers",
			},
		),
		workerPoolBusy: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "fulfillment_worker_pool_busy",
				Help: "Number of busy workers",
			},
		),
		workerPoolStopped: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "fulfillment_worker_pool_stopped",
				Help: "Number of stopped workers",
			},
		),
		stepJobsQueued: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "fulfillment_step_jobs_queued",
				Help: "Number of step attempts waiting for a free worker",
			},
		),
	}
}

// Handler serves the collected metrics in the Prometheus text format
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.gatherer, promhttp.HandlerOpts{})
}

// RecordExecutionInitiated counts a new execution
func (c *Collector) RecordExecutionInitiated(templateID string, level domain.AutomationLevel) {
	c.executionsInitiated.WithLabelValues(templateID, string(level)).Inc()
}

// RecordExecutionFinished counts a terminal execution and observes its duration
func (c *Collector) RecordExecutionFinished(status domain.ExecutionStatus, duration time.Duration) {
	c.executionsFinished.WithLabelValues(string(status)).Inc()
	c.executionDuration.WithLabelValues(string(status)).Observe(duration.Seconds())
}

// RecordExecutionStalled counts an execution that stopped making progress
func (c *Collector) RecordExecutionStalled(templateID string) {
	c.executionsStalled.WithLabelValues(templateID).Inc()
}

// RecordStepExecuted counts a step attempt and observes its duration
func (c *Collector) RecordStepExecuted(stepType domain.StepType, status domain.StepStatus, duration time.Duration) {
	c.stepsExecuted.WithLabelValues(string(stepType), string(status)).Inc()
	c.stepDuration.WithLabelValues(string(stepType)).Observe(duration.Seconds())
}

// RecordStepRetry counts an automatic retry
func (c *Collector) RecordStepRetry(stepType domain.StepType) {
	c.stepRetries.WithLabelValues(string(stepType)).Inc()
}

// SetActiveExecutions sets the number of currently active executions
func (c *Collector) SetActiveExecutions(count int) {
	c.activeExecutions.Set(float64(count))
}

// RecordWorkerPoolStatus records worker pool status
func (c *Collector) RecordWorkerPoolStatus(idle, busy, stopped, queued int) {
	c.workerPoolIdle.Set(float64(idle))
	c.workerPoolBusy.Set(float64(busy))
	c.workerPoolStopped.Set(float64(stopped))
	c.stepJobsQueued.Set(float64(queued))
}
