package http

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/aescanero/fulfillment/internal/application/analytics"
	"github.com/aescanero/fulfillment/internal/application/orchestrator"
	"github.com/aescanero/fulfillment/pkg/domain"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// FulfillmentService is the orchestrator surface the API depends on
type FulfillmentService interface {
	InitiateFulfillment(ctx context.Context, req orchestrator.InitiateRequest) (*domain.Execution, error)
	ExecuteStep(ctx context.Context, executionID, stepID string, approval *domain.Approval) (*domain.StepInstance, error)
	ApproveStep(ctx context.Context, executionID, stepID, approverID string) (*domain.StepInstance, error)
	RetryStep(ctx context.Context, executionID, stepID, actor string) (*domain.StepInstance, error)
	GetStatus(ctx context.Context, executionID string) (*domain.Execution, error)
	ListExecutions(ctx context.Context) ([]*domain.Execution, error)
	CancelFulfillment(ctx context.Context, executionID, reason string) (*domain.Execution, error)
	ListTemplates() []domain.WorkflowTemplate
}

// AnalyticsService answers aggregate queries
type AnalyticsService interface {
	GetAnalytics(ctx context.Context, q analytics.Query) (*analytics.AggregateMetrics, error)
}

// InitiateRequest represents a fulfillment initiation request
type InitiateRequest struct {
	OrderID           string                 `json:"order_id" binding:"required"`
	AutomationLevel   domain.AutomationLevel `json:"automation_level"`
	WorkflowSelectors []string               `json:"workflow_selectors"`
	Constraints       domain.Constraints     `json:"constraints"`
}

// StepActionRequest carries the actor of a step action
type StepActionRequest struct {
	ApproverID string `json:"approver_id"`
	Actor      string `json:"actor"`
}

// CancelRequest represents a cancellation request
type CancelRequest struct {
	Reason string `json:"reason"`
}

// StatusResponse is the progress summary of an execution
type StatusResponse struct {
	ExecutionID     string                 `json:"execution_id"`
	Status          domain.ExecutionStatus `json:"status"`
	PercentComplete float64                `json:"percent_complete"`
	CompletedSteps  int                    `json:"completed_steps"`
	TotalSteps      int                    `json:"total_steps"`
	ErrorCount      int                    `json:"error_count"`
	Stalled         bool                   `json:"stalled"`
	StalledReason   string                 `json:"stalled_reason,omitempty"`
	EligibleSteps   []string               `json:"eligible_steps"`
	RunningSteps    []string               `json:"running_steps"`
	AwaitingSteps   []string               `json:"awaiting_approval"`
	LastUpdatedAt   time.Time              `json:"last_updated_at"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail represents error details
type ErrorDetail struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
}

// handleHealth handles health check requests
func (s *Server) handleHealth(c *gin.Context) {
	status := http.StatusOK
	body := gin.H{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
	}
	if s.health != nil {
		pool := s.health.Snapshot()
		body["workers"] = pool
		if !pool.Healthy {
			status = http.StatusServiceUnavailable
			body["status"] = "degraded"
		}
	}
	c.JSON(status, body)
}

// handleInitiate handles fulfillment initiation
func (s *Server) handleInitiate(c *gin.Context) {
	var req InitiateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.badRequest(c, err)
		return
	}

	exec, err := s.orchestrator.InitiateFulfillment(c.Request.Context(), orchestrator.InitiateRequest{
		OrderID:           req.OrderID,
		AutomationLevel:   req.AutomationLevel,
		WorkflowSelectors: req.WorkflowSelectors,
		Constraints:       req.Constraints,
	})
	if err != nil {
		s.writeError(c, "failed to initiate fulfillment", err)
		return
	}

	c.JSON(http.StatusCreated, exec)
}

// handleList lists executions, optionally filtered by status and supplier
func (s *Server) handleList(c *gin.Context) {
	execs, err := s.orchestrator.ListExecutions(c.Request.Context())
	if err != nil {
		s.writeError(c, "failed to list fulfillments", err)
		return
	}

	status := domain.ExecutionStatus(strings.ToUpper(c.Query("status")))
	supplier := c.Query("supplier_id")

	out := make([]*domain.Execution, 0, len(execs))
	for _, e := range execs {
		if status != "" && e.Status != status {
			continue
		}
		if supplier != "" && e.SupplierID != supplier {
			continue
		}
		out = append(out, e)
	}

	c.JSON(http.StatusOK, gin.H{
		"fulfillments": out,
		"total":        len(out),
	})
}

// handleGet returns the full execution
func (s *Server) handleGet(c *gin.Context) {
	exec, err := s.orchestrator.GetStatus(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.writeError(c, "failed to get fulfillment", err)
		return
	}

	c.JSON(http.StatusOK, exec)
}

// handleGetStatus returns a progress summary
func (s *Server) handleGetStatus(c *gin.Context) {
	exec, err := s.orchestrator.GetStatus(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.writeError(c, "failed to get fulfillment status", err)
		return
	}

	c.JSON(http.StatusOK, summarize(exec))
}

// handleCancel handles fulfillment cancellation
func (s *Server) handleCancel(c *gin.Context) {
	var req CancelRequest
	if !s.bindOptional(c, &req) {
		return
	}
	if req.Reason == "" {
		req.Reason = "cancelled by operator"
	}

	exec, err := s.orchestrator.CancelFulfillment(c.Request.Context(), c.Param("id"), req.Reason)
	if err != nil {
		s.writeError(c, "failed to cancel fulfillment", err)
		return
	}

	c.JSON(http.StatusOK, exec)
}

// handleExecuteStep runs a single step attempt. A failed attempt is still a
// 200: the failure is recorded on the returned step.
func (s *Server) handleExecuteStep(c *gin.Context) {
	var req StepActionRequest
	if !s.bindOptional(c, &req) {
		return
	}

	var approval *domain.Approval
	if req.ApproverID != "" {
		approval = &domain.Approval{ApproverID: req.ApproverID, ApprovedAt: time.Now().UTC()}
	}

	step, err := s.orchestrator.ExecuteStep(c.Request.Context(), c.Param("id"), c.Param("stepId"), approval)
	if err != nil {
		s.writeError(c, "failed to execute step", err)
		return
	}

	c.JSON(http.StatusOK, step)
}

// handleApproveStep records an approval
func (s *Server) handleApproveStep(c *gin.Context) {
	var req StepActionRequest
	if !s.bindOptional(c, &req) {
		return
	}
	if req.ApproverID == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: ErrorDetail{
				Code:    "INVALID_REQUEST",
				Message: "approver_id is required",
			},
		})
		return
	}

	step, err := s.orchestrator.ApproveStep(c.Request.Context(), c.Param("id"), c.Param("stepId"), req.ApproverID)
	if err != nil {
		s.writeError(c, "failed to approve step", err)
		return
	}

	c.JSON(http.StatusOK, step)
}

// handleRetryStep resets a failed step
func (s *Server) handleRetryStep(c *gin.Context) {
	var req StepActionRequest
	if !s.bindOptional(c, &req) {
		return
	}
	actor := req.Actor
	if actor == "" {
		actor = orchestrator.OperatorActor
	}

	step, err := s.orchestrator.RetryStep(c.Request.Context(), c.Param("id"), c.Param("stepId"), actor)
	if err != nil {
		s.writeError(c, "failed to retry step", err)
		return
	}

	c.JSON(http.StatusOK, step)
}

// handleListTemplates lists registered workflow templates
func (s *Server) handleListTemplates(c *gin.Context) {
	templates := s.orchestrator.ListTemplates()
	c.JSON(http.StatusOK, gin.H{
		"templates": templates,
		"total":     len(templates),
	})
}

// handleAnalytics aggregates executions
func (s *Server) handleAnalytics(c *gin.Context) {
	if s.analytics == nil {
		c.JSON(http.StatusNotImplemented, ErrorResponse{
			Error: ErrorDetail{
				Code:    "NOT_IMPLEMENTED",
				Message: "analytics are not configured",
			},
		})
		return
	}

	q := analytics.Query{SupplierID: c.Query("supplier_id")}
	var err error
	if q.From, err = parseTime(c.Query("from")); err != nil {
		s.badRequest(c, err)
		return
	}
	if q.To, err = parseTime(c.Query("to")); err != nil {
		s.badRequest(c, err)
		return
	}
	if !q.From.IsZero() && !q.To.IsZero() && q.To.Before(q.From) {
		s.badRequest(c, errors.New("to must not be before from"))
		return
	}
	for _, st := range splitList(c.Query("status")) {
		q.Filters.Statuses = append(q.Filters.Statuses, domain.ExecutionStatus(strings.ToUpper(st)))
	}
	q.Filters.TemplateIDs = splitList(c.Query("template"))

	metrics, err := s.analytics.GetAnalytics(c.Request.Context(), q)
	if err != nil {
		s.writeError(c, "failed to compute analytics", err)
		return
	}

	c.JSON(http.StatusOK, metrics)
}

// bindOptional decodes a JSON body when one is present
func (s *Server) bindOptional(c *gin.Context, v interface{}) bool {
	if err := c.ShouldBindJSON(v); err != nil && !errors.Is(err, io.EOF) {
		s.badRequest(c, err)
		return false
	}
	return true
}

func (s *Server) badRequest(c *gin.Context, err error) {
	s.logger.Debug("invalid request", zap.Error(err))
	c.JSON(http.StatusBadRequest, ErrorResponse{
		Error: ErrorDetail{
			Code:    "INVALID_REQUEST",
			Message: err.Error(),
		},
	})
}

// writeError maps domain errors onto HTTP statuses
func (s *Server) writeError(c *gin.Context, msg string, err error) {
	status, code := classify(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error(msg, zap.Error(err))
	} else {
		s.logger.Debug(msg, zap.Error(err))
	}

	c.JSON(status, ErrorResponse{
		Error: ErrorDetail{
			Code:    code,
			Message: err.Error(),
		},
	})
}

func classify(err error) (int, string) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound, "NOT_FOUND"
	case errors.Is(err, domain.ErrInvalidTemplate):
		return http.StatusBadRequest, "INVALID_TEMPLATE"
	case errors.Is(err, domain.ErrAccessDenied):
		return http.StatusForbidden, "ACCESS_DENIED"
	case errors.Is(err, domain.ErrNotFulfillable):
		return http.StatusUnprocessableEntity, "NOT_FULFILLABLE"
	case errors.Is(err, domain.ErrDependencyNotSatisfied):
		return http.StatusConflict, "DEPENDENCY_NOT_SATISFIED"
	case errors.Is(err, domain.ErrApprovalRequired):
		return http.StatusConflict, "APPROVAL_REQUIRED"
	case errors.Is(err, domain.ErrInvalidTransition):
		return http.StatusConflict, "INVALID_TRANSITION"
	case errors.Is(err, domain.ErrAlreadyTerminal):
		return http.StatusConflict, "ALREADY_TERMINAL"
	case errors.Is(err, orchestrator.ErrShuttingDown):
		return http.StatusServiceUnavailable, "SHUTTING_DOWN"
	default:
		return http.StatusInternalServerError, "INTERNAL_ERROR"
	}
}

func summarize(exec *domain.Execution) StatusResponse {
	resp := StatusResponse{
		ExecutionID:     exec.ID,
		Status:          exec.Status,
		PercentComplete: exec.PercentComplete,
		CompletedSteps:  exec.CompletedSteps,
		TotalSteps:      exec.TotalSteps,
		ErrorCount:      exec.ErrorCount,
		Stalled:         exec.Stalled,
		StalledReason:   exec.StalledReason,
		EligibleSteps:   []string{},
		RunningSteps:    []string{},
		AwaitingSteps:   []string{},
		LastUpdatedAt:   exec.LastUpdatedAt,
	}
	for _, step := range exec.EligibleSteps() {
		resp.EligibleSteps = append(resp.EligibleSteps, step.ID)
		if step.AwaitingApproval() {
			resp.AwaitingSteps = append(resp.AwaitingSteps, step.ID)
		}
	}
	for _, step := range exec.Steps {
		if step.Status == domain.StepStatusInProgress {
			resp.RunningSteps = append(resp.RunningSteps, step.ID)
		}
	}
	return resp
}

func parseTime(v string) (time.Time, error) {
	if v == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, v)
}

func splitList(v string) []string {
	if v == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
