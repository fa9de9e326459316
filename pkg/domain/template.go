package domain

import "time"

// StepType identifies the kind of work a step performs
type StepType string

const (
	StepTypeValidation   StepType = "VALIDATION"
	StepTypeAllocation   StepType = "ALLOCATION"
	StepTypeRouting      StepType = "ROUTING"
	StepTypeProcessing   StepType = "PROCESSING"
	StepTypeNotification StepType = "NOTIFICATION"
	StepTypeCompliance   StepType = "COMPLIANCE"
)

// Valid reports whether t is a known step type
func (t StepType) Valid() bool {
	switch t {
	case StepTypeValidation, StepTypeAllocation, StepTypeRouting,
		StepTypeProcessing, StepTypeNotification, StepTypeCompliance:
		return true
	}
	return false
}

// AutomationLevel describes how much of a step happens without a human
type AutomationLevel string

const (
	AutomationManual         AutomationLevel = "MANUAL"
	AutomationSemiAutomated  AutomationLevel = "SEMI_AUTOMATED"
	AutomationFullyAutomated AutomationLevel = "FULLY_AUTOMATED"
)

// Valid reports whether l is a known automation level
func (l AutomationLevel) Valid() bool {
	switch l {
	case AutomationManual, AutomationSemiAutomated, AutomationFullyAutomated:
		return true
	}
	return false
}

// StepDefinition is one step of a workflow template
type StepDefinition struct {
	ID                string          `json:"id" yaml:"id"`
	Name              string          `json:"name" yaml:"name"`
	Description       string          `json:"description,omitempty" yaml:"description,omitempty"`
	Type              StepType        `json:"type" yaml:"type"`
	AutomationLevel   AutomationLevel `json:"automation_level" yaml:"automation_level"`
	DependsOn         []string        `json:"depends_on,omitempty" yaml:"depends_on,omitempty"`
	EstimatedDuration time.Duration   `json:"estimated_duration" yaml:"estimated_duration"`
	ApprovalRequired  bool            `json:"approval_required" yaml:"approval_required"`
}

// WorkflowTemplate is a reusable, ordered list of steps with dependency edges
type WorkflowTemplate struct {
	ID          string           `json:"id" yaml:"id"`
	Name        string           `json:"name" yaml:"name"`
	Description string           `json:"description,omitempty" yaml:"description,omitempty"`
	Steps       []StepDefinition `json:"steps" yaml:"steps"`
}

// Clone returns a deep copy of the template
func (t WorkflowTemplate) Clone() WorkflowTemplate {
	out := t
	out.Steps = make([]StepDefinition, len(t.Steps))
	for i, s := range t.Steps {
		s.DependsOn = append([]string(nil), s.DependsOn...)
		out.Steps[i] = s
	}
	return out
}

// Step returns the step definition with the given id
func (t WorkflowTemplate) Step(id string) (StepDefinition, bool) {
	for _, s := range t.Steps {
		if s.ID == id {
			return s, true
		}
	}
	return StepDefinition{}, false
}
