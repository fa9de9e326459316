package templates

import (
	"fmt"
	"strings"

	"github.com/aescanero/fulfillment/pkg/domain"
)

// Validator validates workflow template structures
type Validator struct{}

// NewValidator creates a new template validator
func NewValidator() *Validator {
	return &Validator{}
}

// Validate validates a template. Every failure wraps domain.ErrInvalidTemplate.
func (v *Validator) Validate(t *domain.WorkflowTemplate) error {
	if err := v.validate(t); err != nil {
		return fmt.Errorf("%w: %w", domain.ErrInvalidTemplate, err)
	}
	return nil
}

func (v *Validator) validate(t *domain.WorkflowTemplate) error {
	if t == nil {
		return fmt.Errorf("template is nil")
	}

	// Check basic fields
	if t.ID == "" {
		return fmt.Errorf("template ID is required")
	}

	if len(t.Steps) == 0 {
		return fmt.Errorf("template %s must have at least one step", t.ID)
	}

	// Validate steps
	stepIDs := make(map[string]bool, len(t.Steps))
	for _, step := range t.Steps {
		if err := v.validateStep(step); err != nil {
			return fmt.Errorf("invalid step %q: %w", step.ID, err)
		}

		// Check for duplicate step IDs
		if stepIDs[step.ID] {
			return fmt.Errorf("duplicate step ID: %s", step.ID)
		}
		stepIDs[step.ID] = true
	}

	// Validate edges
	for _, step := range t.Steps {
		for _, dep := range step.DependsOn {
			if dep == step.ID {
				return fmt.Errorf("step %s depends on itself", step.ID)
			}
			if !stepIDs[dep] {
				return fmt.Errorf("step %s depends on unknown step %s", step.ID, dep)
			}
		}
	}

	if cycle := findCycle(t.Steps); len(cycle) > 0 {
		return fmt.Errorf("dependency cycle: %s", strings.Join(cycle, " -> "))
	}

	return nil
}

// validateStep validates a single step
func (v *Validator) validateStep(step domain.StepDefinition) error {
	if step.ID == "" {
		return fmt.Errorf("step ID is required")
	}

	if !step.Type.Valid() {
		return fmt.Errorf("unknown step type %q", step.Type)
	}

	if !step.AutomationLevel.Valid() {
		return fmt.Errorf("unknown automation level %q", step.AutomationLevel)
	}

	if step.EstimatedDuration < 0 {
		return fmt.Errorf("estimated duration must not be negative")
	}

	seen := make(map[string]bool, len(step.DependsOn))
	for _, dep := range step.DependsOn {
		if seen[dep] {
			return fmt.Errorf("duplicate dependency %s", dep)
		}
		seen[dep] = true
	}

	return nil
}

// findCycle returns the step ids of a dependency cycle, first id repeated at
// the end, or nil when the graph is acyclic
func findCycle(steps []domain.StepDefinition) []string {
	const (
		white = iota
		grey
		black
	)

	deps := make(map[string][]string, len(steps))
	for _, s := range steps {
		deps[s.ID] = s.DependsOn
	}

	color := make(map[string]int, len(steps))
	var stack []string
	var cycle []string

	var visit func(id string) bool
	visit = func(id string) bool {
		color[id] = grey
		stack = append(stack, id)
		for _, dep := range deps[id] {
			switch color[dep] {
			case grey:
				for i, s := range stack {
					if s == dep {
						cycle = append(append([]string(nil), stack[i:]...), dep)
						break
					}
				}
				return true
			case white:
				if visit(dep) {
					return true
				}
			}
		}
		stack = stack[:len(stack)-1]
		color[id] = black
		return false
	}

	for _, s := range steps {
		if color[s.ID] == white && visit(s.ID) {
			return cycle
		}
	}
	return nil
}
