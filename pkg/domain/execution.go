package domain

import "time"

// ExecutionStatus represents the overall status of an execution
type ExecutionStatus string

const (
	ExecutionStatusInitiated  ExecutionStatus = "INITIATED"
	ExecutionStatusInProgress ExecutionStatus = "IN_PROGRESS"
	ExecutionStatusCompleted  ExecutionStatus = "COMPLETED"
	ExecutionStatusFailed     ExecutionStatus = "FAILED"
	ExecutionStatusCancelled  ExecutionStatus = "CANCELLED"
)

// IsTerminal reports whether no further steps may be scheduled
func (s ExecutionStatus) IsTerminal() bool {
	return s == ExecutionStatusCompleted ||
		s == ExecutionStatusFailed ||
		s == ExecutionStatusCancelled
}

// StepStatus represents the status of a single step instance
type StepStatus string

const (
	StepStatusPending    StepStatus = "PENDING"
	StepStatusInProgress StepStatus = "IN_PROGRESS"
	StepStatusCompleted  StepStatus = "COMPLETED"
	StepStatusFailed     StepStatus = "FAILED"
	StepStatusSkipped    StepStatus = "SKIPPED"
)

// IsTerminal reports whether the step will not run again on its own
func (s StepStatus) IsTerminal() bool {
	return s == StepStatusCompleted || s == StepStatusFailed || s == StepStatusSkipped
}

// Constraints are caller supplied knobs applied while planning and executing
type Constraints struct {
	// RequireApproval forces every step to need an approval record.
	RequireApproval bool `json:"require_approval,omitempty"`
	// AutoApproveCompliance attaches a system approval to compliance steps.
	AutoApproveCompliance bool `json:"auto_approve_compliance,omitempty"`

	CostWeight float64 `json:"cost_weight,omitempty"`
	TimeWeight float64 `json:"time_weight,omitempty"`

	PreferredCarriers []string `json:"preferred_carriers,omitempty"`
	// Stakeholders receive a copy of every customer notification.
	Stakeholders []string `json:"stakeholders,omitempty"`
}

// Weights returns normalized cost/time weights, defaulting to an even split
func (c Constraints) Weights() (cost, duration float64) {
	cost, duration = c.CostWeight, c.TimeWeight
	if cost < 0 {
		cost = 0
	}
	if duration < 0 {
		duration = 0
	}
	sum := cost + duration
	if sum == 0 {
		return 0.5, 0.5
	}
	return cost / sum, duration / sum
}

// Approval is the record attached to a gated step
type Approval struct {
	ApproverID string    `json:"approver_id"`
	ApprovedAt time.Time `json:"approved_at"`
}

// StepEventType classifies entries of a step history
type StepEventType string

const (
	StepEventStarted         StepEventType = "STARTED"
	StepEventCompleted       StepEventType = "COMPLETED"
	StepEventFailed          StepEventType = "FAILED"
	StepEventReviewRequested StepEventType = "REVIEW_REQUESTED"
	StepEventApproved        StepEventType = "APPROVED"
	StepEventSkipped         StepEventType = "SKIPPED"
	StepEventRetried         StepEventType = "RETRIED"
	StepEventReset           StepEventType = "RESET"
)

// StepEvent is an append-only history entry of a step instance
type StepEvent struct {
	Type    StepEventType `json:"type"`
	Actor   string        `json:"actor,omitempty"`
	Message string        `json:"message,omitempty"`
	At      time.Time     `json:"at"`
}

// StepInstance is the runtime copy of a step definition within one execution
type StepInstance struct {
	ID                string        `json:"id"`
	Name              string        `json:"name"`
	Description       string        `json:"description,omitempty"`
	Type              StepType      `json:"type"`
	DependsOn         []string      `json:"depends_on,omitempty"`
	EstimatedDuration time.Duration `json:"estimated_duration"`

	Status           StepStatus      `json:"status"`
	AutomationLevel  AutomationLevel `json:"automation_level"`
	ApprovalRequired bool            `json:"approval_required"`
	Approval         *Approval       `json:"approval,omitempty"`

	Inputs   map[string]interface{} `json:"inputs,omitempty"`
	Outputs  map[string]interface{} `json:"outputs,omitempty"`
	Errors   []string               `json:"errors,omitempty"`
	Warnings []string               `json:"warnings,omitempty"`
	Attempts int                    `json:"attempts"`
	History  []StepEvent            `json:"history,omitempty"`

	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// AwaitingApproval reports whether the step is gated on a missing approval
func (s *StepInstance) AwaitingApproval() bool {
	return s.ApprovalRequired && s.Approval == nil
}

// Clone returns a deep copy of the step instance
func (s *StepInstance) Clone() *StepInstance {
	if s == nil {
		return nil
	}
	out := *s
	out.DependsOn = append([]string(nil), s.DependsOn...)
	out.Errors = append([]string(nil), s.Errors...)
	out.Warnings = append([]string(nil), s.Warnings...)
	out.History = append([]StepEvent(nil), s.History...)
	out.Inputs = CloneMap(s.Inputs)
	out.Outputs = CloneMap(s.Outputs)
	if s.Approval != nil {
		a := *s.Approval
		out.Approval = &a
	}
	out.StartedAt = cloneTime(s.StartedAt)
	out.CompletedAt = cloneTime(s.CompletedAt)
	return &out
}

// PlanMetadata is read-only diagnostic information computed at planning time
type PlanMetadata struct {
	CriticalPath         []string      `json:"critical_path"`
	CriticalPathDuration time.Duration `json:"critical_path_duration"`
	// ParallelGroups lists steps by dependency depth; members of a group
	// have no ancestor/descendant relationship.
	ParallelGroups      [][]string `json:"parallel_groups"`
	ParallelizableSteps []string   `json:"parallelizable_steps,omitempty"`
}

// Execution is one stateful run of a workflow template against one order
type Execution struct {
	ID              string          `json:"id"`
	TemplateID      string          `json:"template_id"`
	OrderID         string          `json:"order_id"`
	SupplierID      string          `json:"supplier_id,omitempty"`
	Status          ExecutionStatus `json:"status"`
	AutomationLevel AutomationLevel `json:"automation_level"`
	Constraints     Constraints     `json:"constraints"`
	Steps           []*StepInstance `json:"steps"`
	Plan            PlanMetadata    `json:"plan"`

	CompletedSteps  int     `json:"completed_steps"`
	TotalSteps      int     `json:"total_steps"`
	ErrorCount      int     `json:"error_count"`
	PercentComplete float64 `json:"percent_complete"`

	Stalled       bool   `json:"stalled"`
	StalledReason string `json:"stalled_reason,omitempty"`
	CancelReason  string `json:"cancel_reason,omitempty"`
	FailureReason string `json:"failure_reason,omitempty"`

	InitiatedAt   time.Time  `json:"initiated_at"`
	StartedAt     *time.Time `json:"started_at,omitempty"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
	LastUpdatedAt time.Time  `json:"last_updated_at"`
}

// Step returns the step instance with the given id
func (e *Execution) Step(id string) *StepInstance {
	for _, s := range e.Steps {
		if s.ID == id {
			return s
		}
	}
	return nil
}

// DependenciesCompleted reports whether every dependency of step is COMPLETED.
// SKIPPED dependencies do not count.
func (e *Execution) DependenciesCompleted(step *StepInstance) bool {
	for _, dep := range step.DependsOn {
		d := e.Step(dep)
		if d == nil || d.Status != StepStatusCompleted {
			return false
		}
	}
	return true
}

// EligibleSteps returns the scheduling frontier: PENDING steps whose
// dependencies are all COMPLETED, in template order.
func (e *Execution) EligibleSteps() []*StepInstance {
	if e.Status.IsTerminal() {
		return nil
	}
	var out []*StepInstance
	for _, s := range e.Steps {
		if s.Status == StepStatusPending && e.DependenciesCompleted(s) {
			out = append(out, s)
		}
	}
	return out
}

// AllStepsDone reports whether every step is COMPLETED or SKIPPED
func (e *Execution) AllStepsDone() bool {
	for _, s := range e.Steps {
		if s.Status != StepStatusCompleted && s.Status != StepStatusSkipped {
			return false
		}
	}
	return true
}

// Recount recomputes the progress counters from step statuses
func (e *Execution) Recount() {
	completed := 0
	for _, s := range e.Steps {
		if s.Status == StepStatusCompleted {
			completed++
		}
	}
	e.TotalSteps = len(e.Steps)
	// completed steps never revert, keep the counter monotonic
	if completed > e.CompletedSteps {
		e.CompletedSteps = completed
	}
	if e.TotalSteps == 0 {
		e.PercentComplete = 0
		return
	}
	e.PercentComplete = float64(e.CompletedSteps) / float64(e.TotalSteps) * 100
}

// Clone returns a deep copy of the execution
func (e *Execution) Clone() *Execution {
	if e == nil {
		return nil
	}
	out := *e
	out.Steps = make([]*StepInstance, len(e.Steps))
	for i, s := range e.Steps {
		out.Steps[i] = s.Clone()
	}
	out.Constraints.PreferredCarriers = append([]string(nil), e.Constraints.PreferredCarriers...)
	out.Constraints.Stakeholders = append([]string(nil), e.Constraints.Stakeholders...)
	out.Plan.CriticalPath = append([]string(nil), e.Plan.CriticalPath...)
	out.Plan.ParallelizableSteps = append([]string(nil), e.Plan.ParallelizableSteps...)
	out.Plan.ParallelGroups = make([][]string, len(e.Plan.ParallelGroups))
	for i, g := range e.Plan.ParallelGroups {
		out.Plan.ParallelGroups[i] = append([]string(nil), g...)
	}
	out.StartedAt = cloneTime(e.StartedAt)
	out.CompletedAt = cloneTime(e.CompletedAt)
	return &out
}

// CloneMap deep copies maps and slices nested in a JSON-like value tree
func CloneMap(m map[string]interface{}) map[string]interface{} {
	if m == nil {
		return nil
	}
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		return CloneMap(t)
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, item := range t {
			out[i] = cloneValue(item)
		}
		return out
	case []string:
		return append([]string(nil), t...)
	default:
		return v
	}
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}
