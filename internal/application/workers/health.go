package workers

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// PoolHealth is a point-in-time view of step dispatch capacity
type PoolHealth struct {
	Workers int `json:"workers"`
	Idle    int `json:"idle"`
	Busy    int `json:"busy"`
	Stopped int `json:"stopped"`
	// QueuedSteps counts step attempts waiting for a free worker.
	QueuedSteps int `json:"queued_steps"`
	// LongestAttempt is how long the oldest running attempt has been busy.
	LongestAttempt time.Duration `json:"longest_attempt"`
	Saturated      bool          `json:"saturated"`
	Healthy        bool          `json:"healthy"`
	CheckedAt      time.Time     `json:"checked_at"`
}

// HealthMonitor samples the pool on a ticker and feeds the worker gauges.
// A saturated pool is slow, not broken: only stopped workers make it
// unhealthy.
type HealthMonitor struct {
	pool     *Pool
	interval time.Duration
	logger   *zap.Logger
	now      func() time.Time
}

func newHealthMonitor(pool *Pool, interval time.Duration, logger *zap.Logger) *HealthMonitor {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &HealthMonitor{
		pool:     pool,
		interval: interval,
		logger:   logger,
		now:      time.Now,
	}
}

// watch samples the pool until ctx ends
func (h *HealthMonitor) watch(ctx context.Context) {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.sample()
		}
	}
}

func (h *HealthMonitor) sample() {
	s := h.Snapshot()
	h.pool.metrics.RecordWorkerPoolStatus(s.Idle, s.Busy, s.Stopped, s.QueuedSteps)

	switch {
	case !s.Healthy:
		h.logger.Warn("step dispatch unavailable",
			zap.Int("workers", s.Workers),
			zap.Int("stopped", s.Stopped))
	case s.Saturated:
		h.logger.Warn("step attempts are queueing for workers",
			zap.Int("queued", s.QueuedSteps),
			zap.Duration("longest_attempt", s.LongestAttempt))
	default:
		h.logger.Debug("worker pool sampled",
			zap.Int("idle", s.Idle),
			zap.Int("busy", s.Busy))
	}
}

// Snapshot reads the current worker states and dispatch queue
func (h *HealthMonitor) Snapshot() PoolHealth {
	now := h.now()
	s := PoolHealth{
		QueuedSteps: int(h.pool.queued.Load()),
		CheckedAt:   now,
	}

	for _, w := range h.pool.workerStates() {
		s.Workers++
		switch w.status {
		case WorkerStatusIdle:
			s.Idle++
		case WorkerStatusBusy:
			s.Busy++
			if d := now.Sub(w.since); d > s.LongestAttempt {
				s.LongestAttempt = d
			}
		case WorkerStatusStopped:
			s.Stopped++
		}
	}

	s.Saturated = s.Workers > 0 && s.Busy == s.Workers && s.QueuedSteps > 0
	s.Healthy = s.Workers > 0 && s.Stopped == 0
	return s
}

// IsHealthy reports whether every worker can still take step attempts
func (h *HealthMonitor) IsHealthy() bool {
	return h.Snapshot().Healthy
}
