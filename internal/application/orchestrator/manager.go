package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aescanero/fulfillment/internal/application/executor"
	"github.com/aescanero/fulfillment/internal/application/planner"
	"github.com/aescanero/fulfillment/internal/application/templates"
	"github.com/aescanero/fulfillment/internal/application/tracker"
	"github.com/aescanero/fulfillment/internal/application/workers"
	"github.com/aescanero/fulfillment/pkg/domain"
	"github.com/aescanero/fulfillment/pkg/ports"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	// EngineActor is recorded on steps started by the drive loop
	EngineActor = "system:engine"
	// OperatorActor is recorded on steps started through ExecuteStep without an approver
	OperatorActor = "operator"

	maxRetryDelay = time.Minute
)

// ErrShuttingDown is returned for new work after Shutdown began
var ErrShuttingDown = errors.New("orchestrator is shutting down")

// Config holds orchestrator timeouts and retry policy
type Config struct {
	// ExecutionTimeout fails executions that are not terminal by then. Zero disables it.
	ExecutionTimeout time.Duration
	// StepTimeout is the minimum deadline of one step attempt.
	StepTimeout time.Duration
	// MaxStepTimeout caps the deadline derived from estimated durations.
	MaxStepTimeout time.Duration
	MaxRetries     int
	RetryDelay     time.Duration
}

// InitiateRequest describes a new fulfillment
type InitiateRequest struct {
	OrderID         string
	AutomationLevel domain.AutomationLevel
	// WorkflowSelectors are template ids tried in order. The standard
	// template is used when empty.
	WorkflowSelectors []string
	Constraints       domain.Constraints
}

// Manager coordinates fulfillment executions
type Manager struct {
	registry *templates.Registry
	planner  *planner.Planner
	executor *executor.Executor
	tracker  *tracker.Tracker
	pool     *workers.Pool
	eventBus ports.EventBus
	metrics  ports.MetricsCollector
	logger   *zap.Logger
	cfg      Config
	now      func() time.Time

	// Track live executions
	executions sync.Map // map[string]*executionContext
	active     atomic.Int64

	baseCtx context.Context
	stop    context.CancelFunc
	mu      sync.Mutex
	closed  bool
	wg      sync.WaitGroup
}

// executionContext holds the drive state of one live execution
type executionContext struct {
	executionID string
	templateID  string
	// autoDrive is set for every policy but MANUAL. Under SEMI_AUTOMATED
	// the loop still dispatches steps on its own; only steps that require
	// approval wait for an operator.
	autoDrive bool

	// ctx ends when the execution terminates or the manager shuts down
	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	driving  bool
	pending  bool
	finished bool
}

// NewManager creates a new orchestrator manager
func NewManager(
	registry *templates.Registry,
	stepPlanner *planner.Planner,
	stepExecutor *executor.Executor,
	stateTracker *tracker.Tracker,
	pool *workers.Pool,
	eventBus ports.EventBus,
	metrics ports.MetricsCollector,
	logger *zap.Logger,
	cfg Config,
) *Manager {
	ctx, stop := context.WithCancel(context.Background())
	return &Manager{
		registry: registry,
		planner:  stepPlanner,
		executor: stepExecutor,
		tracker:  stateTracker,
		pool:     pool,
		eventBus: eventBus,
		metrics:  metrics,
		logger:   logger,
		cfg:      cfg,
		now:      func() time.Time { return time.Now().UTC() },
		baseCtx:  ctx,
		stop:     stop,
	}
}

// InitiateFulfillment plans and persists a new execution. FULLY and SEMI
// automated executions are driven in the background; MANUAL ones wait for
// ExecuteStep. Rejected requests leave no state behind.
func (m *Manager) InitiateFulfillment(ctx context.Context, req InitiateRequest) (*domain.Execution, error) {
	if m.isClosed() {
		return nil, ErrShuttingDown
	}

	tmpl, err := m.selectTemplate(req.WorkflowSelectors)
	if err != nil {
		return nil, err
	}

	policy := req.AutomationLevel
	if policy == "" {
		policy = domain.AutomationSemiAutomated
	}

	plan, err := m.planner.Plan(ctx, tmpl, planner.Request{
		OrderID:         req.OrderID,
		AutomationLevel: policy,
		Constraints:     req.Constraints,
	})
	if err != nil {
		m.logger.Warn("fulfillment rejected",
			zap.String("order_id", req.OrderID),
			zap.String("template_id", tmpl.ID),
			zap.Error(err))
		return nil, err
	}

	exec, err := m.tracker.Create(ctx, &domain.Execution{
		ID:              uuid.New().String(),
		TemplateID:      tmpl.ID,
		OrderID:         plan.Order.ID,
		SupplierID:      plan.Order.SupplierID,
		AutomationLevel: policy,
		Constraints:     req.Constraints,
		Steps:           plan.Steps,
		Plan:            plan.Metadata,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create execution: %w", err)
	}

	m.metrics.RecordExecutionInitiated(tmpl.ID, policy)
	m.publish(ctx, domain.EventTypeFulfillmentInitiated, exec.ID, "", map[string]interface{}{
		"template_id":      tmpl.ID,
		"order_id":         exec.OrderID,
		"automation_level": string(policy),
		"total_steps":      exec.TotalSteps,
	})

	m.logger.Info("fulfillment initiated",
		zap.String("execution_id", exec.ID),
		zap.String("order_id", exec.OrderID),
		zap.String("template_id", tmpl.ID),
		zap.String("automation_level", string(policy)))

	ec := m.track(exec)
	m.resume(ec)

	return exec, nil
}

func (m *Manager) selectTemplate(selectors []string) (domain.WorkflowTemplate, error) {
	if len(selectors) == 0 {
		return m.registry.Get(templates.StandardTemplateID)
	}
	for _, id := range selectors {
		if tmpl, err := m.registry.Get(id); err == nil {
			return tmpl, nil
		}
	}
	return domain.WorkflowTemplate{}, fmt.Errorf("%w: no template matches %v", domain.ErrNotFulfillable, selectors)
}

// ExecuteStep runs one attempt of a step synchronously. A non-nil approval
// is recorded before the step starts. Step failures are recorded on the
// returned instance rather than returned as errors.
func (m *Manager) ExecuteStep(ctx context.Context, executionID, stepID string, approval *domain.Approval) (*domain.StepInstance, error) {
	if m.isClosed() {
		return nil, ErrShuttingDown
	}

	ec, err := m.contextFor(ctx, executionID)
	if err != nil {
		return nil, err
	}

	actor := OperatorActor
	if approval != nil && approval.ApproverID != "" {
		if _, err := m.approve(ctx, executionID, stepID, approval.ApproverID); err != nil {
			return nil, err
		}
		actor = approval.ApproverID
	}

	change, err := m.runStep(ctx, ec, stepID, actor, 0)
	if err != nil {
		return nil, err
	}

	m.resume(ec)
	return change.Step, nil
}

// ApproveStep records an approval and resumes automated driving
func (m *Manager) ApproveStep(ctx context.Context, executionID, stepID, approverID string) (*domain.StepInstance, error) {
	ec, err := m.contextFor(ctx, executionID)
	if err != nil {
		return nil, err
	}

	change, err := m.approve(ctx, executionID, stepID, approverID)
	if err != nil {
		return nil, err
	}

	m.resume(ec)
	return change.Step, nil
}

func (m *Manager) approve(ctx context.Context, executionID, stepID, approverID string) (*tracker.Change, error) {
	change, err := m.tracker.RecordApproval(ctx, executionID, stepID, approverID)
	if err != nil {
		return nil, err
	}

	m.publish(ctx, domain.EventTypeStepApproved, executionID, stepID, map[string]interface{}{
		"approver_id": approverID,
	})
	m.logger.Info("step approved",
		zap.String("execution_id", executionID),
		zap.String("step_id", stepID),
		zap.String("approver_id", approverID))
	return change, nil
}

// RetryStep returns a FAILED step to PENDING and resumes automated driving.
// It clears the stall the failure caused.
func (m *Manager) RetryStep(ctx context.Context, executionID, stepID, actor string) (*domain.StepInstance, error) {
	ec, err := m.contextFor(ctx, executionID)
	if err != nil {
		return nil, err
	}
	if actor == "" {
		actor = OperatorActor
	}

	change, err := m.tracker.ResetStep(ctx, executionID, stepID, actor)
	if err != nil {
		return nil, err
	}

	m.publish(ctx, domain.EventTypeStepReset, executionID, stepID, map[string]interface{}{
		"actor": actor,
	})
	m.logger.Info("step reset for retry",
		zap.String("execution_id", executionID),
		zap.String("step_id", stepID),
		zap.String("actor", actor))

	m.resume(ec)
	return change.Step, nil
}

// GetStatus returns the current snapshot of an execution
func (m *Manager) GetStatus(ctx context.Context, executionID string) (*domain.Execution, error) {
	return m.tracker.Get(ctx, executionID)
}

// ListExecutions returns every persisted execution
func (m *Manager) ListExecutions(ctx context.Context) ([]*domain.Execution, error) {
	return m.tracker.List(ctx)
}

// ListTemplates returns the registered templates
func (m *Manager) ListTemplates() []domain.WorkflowTemplate {
	return m.registry.List()
}

// CancelFulfillment cancels an execution. Calls already handed to a
// collaborator are not aborted; their results are recorded when they arrive.
func (m *Manager) CancelFulfillment(ctx context.Context, executionID, reason string) (*domain.Execution, error) {
	ec, err := m.contextFor(ctx, executionID)
	if err != nil {
		return nil, err
	}

	change, err := m.tracker.Cancel(ctx, executionID, reason)
	if err != nil {
		return nil, err
	}

	m.publish(ctx, domain.EventTypeFulfillmentCancelled, executionID, "", map[string]interface{}{
		"reason":          reason,
		"completed_steps": change.Execution.CompletedSteps,
	})
	m.logger.Info("fulfillment cancelled",
		zap.String("execution_id", executionID),
		zap.String("reason", reason),
		zap.Int("completed_steps", change.Execution.CompletedSteps))

	m.finish(ec, change.Execution)
	return change.Execution, nil
}

// Shutdown stops every drive loop and deadline monitor. Executions stay
// persisted and can be resumed by a later process.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.logger.Info("shutting down orchestrator manager")

	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	m.stop()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		m.logger.Info("orchestrator manager shut down complete")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("shutdown timeout: %w", ctx.Err())
	}
}

func (m *Manager) isClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// spawn runs fn in a tracked goroutine unless the manager is closed
func (m *Manager) spawn(fn func()) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return false
	}
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		fn()
	}()
	return true
}

// contextFor returns the drive state of an execution, attaching one for
// executions created by an earlier process
func (m *Manager) contextFor(ctx context.Context, executionID string) (*executionContext, error) {
	if v, ok := m.executions.Load(executionID); ok {
		return v.(*executionContext), nil
	}
	exec, err := m.tracker.Get(ctx, executionID)
	if err != nil {
		return nil, err
	}
	return m.track(exec), nil
}

func (m *Manager) track(exec *domain.Execution) *executionContext {
	ctx, cancel := context.WithCancel(m.baseCtx)
	ec := &executionContext{
		executionID: exec.ID,
		templateID:  exec.TemplateID,
		autoDrive:   exec.AutomationLevel != domain.AutomationManual,
		ctx:         ctx,
		cancel:      cancel,
	}
	if exec.Status.IsTerminal() {
		ec.finished = true
		cancel()
		return ec
	}

	actual, loaded := m.executions.LoadOrStore(exec.ID, ec)
	if loaded {
		cancel()
		return actual.(*executionContext)
	}
	m.metrics.SetActiveExecutions(int(m.active.Add(1)))

	if m.cfg.ExecutionTimeout > 0 {
		remaining := exec.InitiatedAt.Add(m.cfg.ExecutionTimeout).Sub(m.now())
		m.spawn(func() { m.monitorExecution(ec, remaining) })
	}
	return ec
}

// finish releases the drive state once the execution is terminal
func (m *Manager) finish(ec *executionContext, exec *domain.Execution) {
	ec.mu.Lock()
	if ec.finished {
		ec.mu.Unlock()
		return
	}
	ec.finished = true
	ec.mu.Unlock()

	ec.cancel()
	if _, ok := m.executions.LoadAndDelete(ec.executionID); ok {
		m.metrics.SetActiveExecutions(int(m.active.Add(-1)))
	}

	duration := time.Duration(0)
	if exec.CompletedAt != nil {
		duration = exec.CompletedAt.Sub(exec.InitiatedAt)
	}
	m.metrics.RecordExecutionFinished(exec.Status, duration)
}

// monitorExecution fails the execution when its deadline passes
func (m *Manager) monitorExecution(ec *executionContext, remaining time.Duration) {
	timer := time.NewTimer(remaining)
	defer timer.Stop()

	select {
	case <-ec.ctx.Done():
		return
	case <-timer.C:
		m.handleTimeout(ec)
	}
}

// handleTimeout handles execution timeout
func (m *Manager) handleTimeout(ec *executionContext) {
	m.logger.Warn("fulfillment execution timed out",
		zap.String("execution_id", ec.executionID),
		zap.Duration("timeout", m.cfg.ExecutionTimeout))

	ctx := context.Background()
	change, err := m.tracker.Fail(ctx, ec.executionID, "execution timeout")
	if err != nil {
		if !errors.Is(err, domain.ErrAlreadyTerminal) {
			m.logger.Error("failed to record execution timeout",
				zap.String("execution_id", ec.executionID),
				zap.Error(err))
		}
		return
	}

	m.publish(ctx, domain.EventTypeFulfillmentFailed, ec.executionID, "", map[string]interface{}{
		"error": "execution timeout",
	})
	m.finish(ec, change.Execution)
}

func (m *Manager) publish(ctx context.Context, typ domain.EventType, executionID, stepID string, data map[string]interface{}) {
	event := domain.Event{
		ID:          uuid.New().String(),
		Type:        typ,
		ExecutionID: executionID,
		StepID:      stepID,
		Timestamp:   m.now(),
		Data:        data,
	}

	// the execution is already persisted; publish failures are only logged
	if err := m.eventBus.Publish(context.WithoutCancel(ctx), domain.EventsTopic, event); err != nil {
		m.logger.Error("failed to publish event",
			zap.String("execution_id", executionID),
			zap.String("type", string(typ)),
			zap.Error(err))
	}
}
