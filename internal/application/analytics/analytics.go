package analytics

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/aescanero/fulfillment/pkg/domain"
	"go.uber.org/zap"
)

// Source lists persisted executions
type Source interface {
	List(ctx context.Context) ([]*domain.Execution, error)
}

// Filters narrow a query further
type Filters struct {
	Statuses    []domain.ExecutionStatus `json:"statuses,omitempty"`
	TemplateIDs []string                 `json:"template_ids,omitempty"`
}

// Query selects the executions to aggregate. Zero From/To leave the range
// open on that side; To is exclusive.
type Query struct {
	SupplierID string    `json:"supplier_id,omitempty"`
	From       time.Time `json:"from,omitempty"`
	To         time.Time `json:"to,omitempty"`
	Filters    Filters   `json:"filters"`
}

// StepFailures counts failures of one step id
type StepFailures struct {
	StepID   string `json:"step_id"`
	Failures int    `json:"failures"`
}

// AggregateMetrics summarises the executions matching a query
type AggregateMetrics struct {
	TotalExecutions int                            `json:"total_executions"`
	ByStatus        map[domain.ExecutionStatus]int `json:"by_status"`
	Stalled         int                            `json:"stalled"`
	// CompletionRate is COMPLETED over terminal executions, in [0,1].
	CompletionRate         float64        `json:"completion_rate"`
	AverageDuration        time.Duration  `json:"average_duration"`
	AveragePercentComplete float64        `json:"average_percent_complete"`
	TotalErrors            int            `json:"total_errors"`
	StepFailures           []StepFailures `json:"step_failures,omitempty"`
}

// Service computes analytics over an execution source
type Service struct {
	source Source
	logger *zap.Logger
}

// NewService creates a new analytics service
func NewService(source Source, logger *zap.Logger) *Service {
	return &Service{source: source, logger: logger}
}

// GetAnalytics aggregates every execution matching q
func (s *Service) GetAnalytics(ctx context.Context, q Query) (*AggregateMetrics, error) {
	if !q.From.IsZero() && !q.To.IsZero() && q.To.Before(q.From) {
		return nil, fmt.Errorf("invalid date range: %s is before %s", q.To.Format(time.RFC3339), q.From.Format(time.RFC3339))
	}

	execs, err := s.source.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list executions: %w", err)
	}

	out := &AggregateMetrics{ByStatus: make(map[domain.ExecutionStatus]int)}
	failures := make(map[string]int)

	var (
		terminal      int
		completed     int
		totalDuration time.Duration
		totalPercent  float64
	)
	for _, e := range execs {
		if !q.matches(e) {
			continue
		}

		out.TotalExecutions++
		out.ByStatus[e.Status]++
		out.TotalErrors += e.ErrorCount
		totalPercent += e.PercentComplete
		if e.Stalled {
			out.Stalled++
		}
		if e.Status.IsTerminal() {
			terminal++
		}
		if e.Status == domain.ExecutionStatusCompleted && e.CompletedAt != nil {
			completed++
			totalDuration += e.CompletedAt.Sub(e.InitiatedAt)
		}

		for _, step := range e.Steps {
			for _, ev := range step.History {
				if ev.Type == domain.StepEventFailed || ev.Type == domain.StepEventRetried {
					failures[step.ID]++
				}
			}
		}
	}

	if out.TotalExecutions > 0 {
		out.AveragePercentComplete = totalPercent / float64(out.TotalExecutions)
	}
	if terminal > 0 {
		out.CompletionRate = float64(out.ByStatus[domain.ExecutionStatusCompleted]) / float64(terminal)
	}
	if completed > 0 {
		out.AverageDuration = totalDuration / time.Duration(completed)
	}

	for id, n := range failures {
		out.StepFailures = append(out.StepFailures, StepFailures{StepID: id, Failures: n})
	}
	sort.Slice(out.StepFailures, func(i, j int) bool {
		a, b := out.StepFailures[i], out.StepFailures[j]
		if a.Failures != b.Failures {
			return a.Failures > b.Failures
		}
		return a.StepID < b.StepID
	})

	s.logger.Debug("analytics computed",
		zap.String("supplier_id", q.SupplierID),
		zap.Int("executions", out.TotalExecutions))

	return out, nil
}

func (q Query) matches(e *domain.Execution) bool {
	if q.SupplierID != "" && e.SupplierID != q.SupplierID {
		return false
	}
	if !q.From.IsZero() && e.InitiatedAt.Before(q.From) {
		return false
	}
	if !q.To.IsZero() && !e.InitiatedAt.Before(q.To) {
		return false
	}
	if len(q.Filters.Statuses) > 0 && !containsStatus(q.Filters.Statuses, e.Status) {
		return false
	}
	if len(q.Filters.TemplateIDs) > 0 && !containsString(q.Filters.TemplateIDs, e.TemplateID) {
		return false
	}
	return true
}

func containsStatus(list []domain.ExecutionStatus, s domain.ExecutionStatus) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
