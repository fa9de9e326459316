package orchestrator

import (
	"context"
	"errors"
	"time"

	"github.com/aescanero/fulfillment/internal/application/executor"
	"github.com/aescanero/fulfillment/internal/application/tracker"
	"github.com/aescanero/fulfillment/pkg/domain"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// resume starts the drive loop of an automated execution, or asks a running
// loop for one more pass
func (m *Manager) resume(ec *executionContext) {
	if !ec.autoDrive {
		return
	}

	ec.mu.Lock()
	if ec.finished {
		ec.mu.Unlock()
		return
	}
	if ec.driving {
		ec.pending = true
		ec.mu.Unlock()
		return
	}
	ec.driving = true
	ec.mu.Unlock()

	if !m.spawn(func() { m.drive(ec) }) {
		ec.mu.Lock()
		ec.driving = false
		ec.mu.Unlock()
	}
}

func (m *Manager) drive(ec *executionContext) {
	for {
		m.runWaves(ec)

		ec.mu.Lock()
		if !ec.pending || ec.ctx.Err() != nil {
			ec.driving = false
			ec.pending = false
			ec.mu.Unlock()
			return
		}
		ec.pending = false
		ec.mu.Unlock()
	}
}

// runWaves dispatches the eligible steps until nothing automated is left
// to run: the execution is done, waits for an approval or manual step, or
// is stalled on a failure
func (m *Manager) runWaves(ec *executionContext) {
	ctx := ec.ctx
	for ctx.Err() == nil {
		frontier, err := m.tracker.NextEligibleSteps(ctx, ec.executionID)
		if err != nil {
			if ctx.Err() == nil {
				m.logger.Error("failed to compute eligible steps",
					zap.String("execution_id", ec.executionID),
					zap.Error(err))
			}
			return
		}

		wave := dispatchable(frontier)
		if len(wave) == 0 {
			return
		}

		g, gctx := errgroup.WithContext(ctx)
		for _, step := range wave {
			stepID := step.ID
			g.Go(func() error {
				_, err := m.runStep(gctx, ec, stepID, EngineActor, m.cfg.MaxRetries)
				if err == nil || isRace(err) {
					return nil
				}
				return err
			})
		}
		if err := g.Wait(); err != nil {
			m.logger.Error("drive loop stopped",
				zap.String("execution_id", ec.executionID),
				zap.Error(err))
			return
		}
	}
}

// dispatchable filters the frontier down to steps the engine may start
func dispatchable(frontier []*domain.StepInstance) []*domain.StepInstance {
	out := make([]*domain.StepInstance, 0, len(frontier))
	for _, s := range frontier {
		if s.AutomationLevel == domain.AutomationManual || s.AwaitingApproval() {
			continue
		}
		out = append(out, s)
	}
	return out
}

// isRace reports tracker rejections caused by a concurrent operator action
func isRace(err error) bool {
	return errors.Is(err, domain.ErrInvalidTransition) ||
		errors.Is(err, domain.ErrAlreadyTerminal) ||
		errors.Is(err, domain.ErrApprovalRequired)
}

// runStep starts a step, runs it with up to maxRetries retries and records
// the final outcome. The collaborator call is not aborted when ctx ends.
func (m *Manager) runStep(ctx context.Context, ec *executionContext, stepID, actor string, maxRetries int) (*tracker.Change, error) {
	change, err := m.tracker.BeginStep(ctx, ec.executionID, stepID, actor)
	if err != nil {
		return nil, err
	}

	m.publish(ctx, domain.EventTypeStepStarted, ec.executionID, stepID, map[string]interface{}{
		"actor":   actor,
		"attempt": change.Step.Attempts,
	})

	runCtx := context.WithoutCancel(ctx)
	exec, step := change.Execution, change.Step

	for retry := 0; ; retry++ {
		start := time.Now()
		res, err := m.attempt(runCtx, exec, step)
		elapsed := time.Since(start)

		if err == nil {
			outcome := tracker.Succeeded(res.Outputs, res.Warnings...)
			status := domain.StepStatusCompleted
			if res.NeedsReview {
				outcome = tracker.ReviewRequested(res.Warnings...)
				status = domain.StepStatusPending
			}
			m.metrics.RecordStepExecuted(step.Type, status, elapsed)
			return m.applyResult(runCtx, ec, stepID, outcome)
		}

		m.metrics.RecordStepExecuted(step.Type, domain.StepStatusFailed, elapsed)
		if retry >= maxRetries || !domain.IsRetryable(err) || ctx.Err() != nil {
			return m.applyResult(runCtx, ec, stepID, tracker.Failed(err))
		}

		delay := m.backoff(retry)
		m.logger.Warn("retrying step",
			zap.String("execution_id", ec.executionID),
			zap.String("step_id", stepID),
			zap.Int("attempt", step.Attempts),
			zap.Duration("delay", delay),
			zap.Error(err))

		if !sleep(ctx, delay) {
			return m.applyResult(runCtx, ec, stepID, tracker.Failed(err))
		}

		retried, rerr := m.tracker.RecordRetry(runCtx, ec.executionID, stepID, err)
		if rerr != nil {
			if errors.Is(rerr, domain.ErrInvalidTransition) {
				// cancelled between attempts
				return m.applyResult(runCtx, ec, stepID, tracker.Failed(err))
			}
			return nil, rerr
		}
		m.metrics.RecordStepRetry(step.Type)
		exec, step = retried.Execution, retried.Step
	}
}

// attempt runs one executor call on a pool worker under the step deadline
func (m *Manager) attempt(ctx context.Context, exec *domain.Execution, step *domain.StepInstance) (executor.Result, error) {
	timeout := m.stepTimeout(step)
	execCtx := executor.NewExecutionContext(exec)

	var res executor.Result
	err := m.pool.Do(ctx, func(jobCtx context.Context) error {
		if timeout > 0 {
			var cancel context.CancelFunc
			jobCtx, cancel = context.WithTimeout(jobCtx, timeout)
			defer cancel()
		}
		var err error
		res, err = m.executor.Execute(jobCtx, step, execCtx)
		return err
	})
	return res, err
}

// stepTimeout is max(StepTimeout, 2x estimated duration), capped by MaxStepTimeout
func (m *Manager) stepTimeout(step *domain.StepInstance) time.Duration {
	d := m.cfg.StepTimeout
	if est := 2 * step.EstimatedDuration; est > d {
		d = est
	}
	if m.cfg.MaxStepTimeout > 0 && d > m.cfg.MaxStepTimeout {
		d = m.cfg.MaxStepTimeout
	}
	return d
}

// backoff doubles RetryDelay per retry
func (m *Manager) backoff(retry int) time.Duration {
	d := m.cfg.RetryDelay
	for i := 0; i < retry && d < maxRetryDelay; i++ {
		d *= 2
	}
	if d > maxRetryDelay {
		d = maxRetryDelay
	}
	return d
}

func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func (m *Manager) applyResult(ctx context.Context, ec *executionContext, stepID string, outcome tracker.Outcome) (*tracker.Change, error) {
	change, err := m.tracker.ApplyStepResult(ctx, ec.executionID, stepID, outcome)
	if err != nil {
		m.logger.Error("failed to record step result",
			zap.String("execution_id", ec.executionID),
			zap.String("step_id", stepID),
			zap.Error(err))
		return nil, err
	}
	m.observe(ctx, ec, change)
	return change, nil
}

// observe emits the events and metrics of a recorded step result
func (m *Manager) observe(ctx context.Context, ec *executionContext, change *tracker.Change) {
	exec, step := change.Execution, change.Step

	switch {
	case step.Status == domain.StepStatusSkipped:
		// late review request; nothing is left to review
		m.logger.Info("late review request dropped",
			zap.String("execution_id", exec.ID),
			zap.String("step_id", step.ID),
			zap.Strings("warnings", step.Warnings))
	case step.Status == domain.StepStatusPending:
		m.publish(ctx, domain.EventTypeStepReviewRequested, exec.ID, step.ID, map[string]interface{}{
			"warnings": step.Warnings,
		})
		m.logger.Info("step needs review",
			zap.String("execution_id", exec.ID),
			zap.String("step_id", step.ID),
			zap.Strings("warnings", step.Warnings))
	case step.Status == domain.StepStatusCompleted:
		m.publish(ctx, domain.EventTypeStepCompleted, exec.ID, step.ID, map[string]interface{}{
			"attempts":         step.Attempts,
			"late":             change.Late,
			"percent_complete": exec.PercentComplete,
		})
	default:
		var lastErr string
		if n := len(step.Errors); n > 0 {
			lastErr = step.Errors[n-1]
		}
		m.publish(ctx, domain.EventTypeStepFailed, exec.ID, step.ID, map[string]interface{}{
			"attempts": step.Attempts,
			"late":     change.Late,
			"error":    lastErr,
		})
	}

	if change.Completed {
		m.publish(ctx, domain.EventTypeFulfillmentCompleted, exec.ID, "", map[string]interface{}{
			"completed_steps": exec.CompletedSteps,
			"error_count":     exec.ErrorCount,
		})
		m.logger.Info("fulfillment completed",
			zap.String("execution_id", exec.ID),
			zap.Int("error_count", exec.ErrorCount))
		m.finish(ec, exec)
	}

	if change.Stalled {
		m.metrics.RecordExecutionStalled(ec.templateID)
		m.publish(ctx, domain.EventTypeFulfillmentStalled, exec.ID, step.ID, map[string]interface{}{
			"reason": exec.StalledReason,
		})
		m.logger.Warn("fulfillment stalled",
			zap.String("execution_id", exec.ID),
			zap.String("reason", exec.StalledReason))
	}
}
