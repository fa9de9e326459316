package executor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aescanero/fulfillment/internal/tracing"
	"github.com/aescanero/fulfillment/pkg/domain"
	"github.com/aescanero/fulfillment/pkg/ports"
	"go.uber.org/zap"
)

// Result is the successful outcome of one step attempt
type Result struct {
	Outputs map[string]interface{}
	// NeedsReview keeps the step PENDING until a human approves it.
	NeedsReview bool
	Warnings    []string
}

// Handler performs the work of one step type
type Handler interface {
	Execute(ctx context.Context, step *domain.StepInstance, ec *ExecutionContext) (Result, error)
}

// HandlerFunc adapts a function to Handler
type HandlerFunc func(ctx context.Context, step *domain.StepInstance, ec *ExecutionContext) (Result, error)

// Execute calls f
func (f HandlerFunc) Execute(ctx context.Context, step *domain.StepInstance, ec *ExecutionContext) (Result, error) {
	return f(ctx, step, ec)
}

// Option customizes an Executor
type Option func(*Executor)

// WithHandler replaces the handler of a step type
func WithHandler(stepType domain.StepType, h Handler) Option {
	return func(e *Executor) {
		e.handlers[stepType] = h
	}
}

// Executor dispatches steps to their handlers
type Executor struct {
	handlers map[domain.StepType]Handler
	logger   *zap.Logger
}

// New builds the dispatch table over the given collaborators
func New(c ports.Collaborators, logger *zap.Logger, opts ...Option) *Executor {
	e := &Executor{
		handlers: map[domain.StepType]Handler{
			domain.StepTypeValidation:   &validationHandler{orders: c.Orders},
			domain.StepTypeAllocation:   &allocationHandler{orders: c.Orders, warehouses: c.Warehouses},
			domain.StepTypeRouting:      &routingHandler{routing: c.Routing},
			domain.StepTypeProcessing:   &processingHandler{documents: c.Documents},
			domain.StepTypeNotification: &notificationHandler{dispatcher: c.Notifications, logger: logger},
			domain.StepTypeCompliance:   &complianceHandler{checker: c.Compliance},
		},
		logger: logger,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute runs one attempt of step. Failures are returned as
// *domain.StepExecutionError; an expired ctx deadline is reported with
// cause domain.ErrStepTimeout.
func (e *Executor) Execute(ctx context.Context, step *domain.StepInstance, ec *ExecutionContext) (Result, error) {
	ctx, span := tracing.StartSpan(ctx, "fulfillment.step."+string(step.Type), map[string]string{
		"execution_id": ec.ExecutionID,
		"step_id":      step.ID,
		"step_type":    string(step.Type),
	})

	start := time.Now()
	res, err := e.dispatch(ctx, step, ec)
	tracing.EndSpan(span, err)

	if err != nil {
		e.logger.Warn("step attempt failed",
			zap.String("execution_id", ec.ExecutionID),
			zap.String("step_id", step.ID),
			zap.Duration("duration", time.Since(start)),
			zap.Error(err))
		return Result{}, err
	}

	e.logger.Debug("step attempt finished",
		zap.String("execution_id", ec.ExecutionID),
		zap.String("step_id", step.ID),
		zap.Bool("needs_review", res.NeedsReview),
		zap.Duration("duration", time.Since(start)))
	return res, nil
}

func (e *Executor) dispatch(ctx context.Context, step *domain.StepInstance, ec *ExecutionContext) (Result, error) {
	h, ok := e.handlers[step.Type]
	if !ok {
		return Result{}, &domain.StepExecutionError{
			StepID:    step.ID,
			StepType:  step.Type,
			Cause:     fmt.Errorf("no handler for step type %q", step.Type),
			Permanent: true,
		}
	}

	res, err := h.Execute(ctx, step, ec)
	if err == nil && ctx.Err() != nil {
		// the handler ignored cancellation; its result arrived too late
		err = ctx.Err()
	}
	if err != nil {
		return Result{}, wrapError(step, err, ctx.Err())
	}
	return res, nil
}

func wrapError(step *domain.StepInstance, err, ctxErr error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctxErr, context.DeadlineExceeded) {
		return &domain.StepExecutionError{StepID: step.ID, StepType: step.Type, Cause: domain.ErrStepTimeout}
	}

	var stepErr *domain.StepExecutionError
	if errors.As(err, &stepErr) {
		out := *stepErr
		out.StepID = step.ID
		out.StepType = step.Type
		return &out
	}
	return &domain.StepExecutionError{StepID: step.ID, StepType: step.Type, Cause: err}
}

// reject marks err as a business rejection that retrying cannot fix
func reject(format string, args ...interface{}) error {
	return &domain.StepExecutionError{Cause: fmt.Errorf(format, args...), Permanent: true}
}
