package templates

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/aescanero/fulfillment/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func step(id string, deps ...string) domain.StepDefinition {
	return domain.StepDefinition{
		ID:              id,
		Name:            id,
		Type:            domain.StepTypeProcessing,
		AutomationLevel: domain.AutomationSemiAutomated,
		DependsOn:       deps,
	}
}

func TestValidatorRejectsMalformedTemplates(t *testing.T) {
	cases := []struct {
		name  string
		tmpl  domain.WorkflowTemplate
		match string
	}{
		{name: "missing id", tmpl: domain.WorkflowTemplate{Steps: []domain.StepDefinition{step("a")}}, match: "template ID is required"},
		{name: "no steps", tmpl: domain.WorkflowTemplate{ID: "t"}, match: "at least one step"},
		{name: "duplicate step", tmpl: domain.WorkflowTemplate{ID: "t", Steps: []domain.StepDefinition{step("a"), step("a")}}, match: "duplicate step ID"},
		{name: "self dependency", tmpl: domain.WorkflowTemplate{ID: "t", Steps: []domain.StepDefinition{step("a", "a")}}, match: "depends on itself"},
		{name: "unknown dependency", tmpl: domain.WorkflowTemplate{ID: "t", Steps: []domain.StepDefinition{step("a", "ghost")}}, match: "unknown step ghost"},
		{name: "cycle", tmpl: domain.WorkflowTemplate{ID: "t", Steps: []domain.StepDefinition{step("a", "c"), step("b", "a"), step("c", "b")}}, match: "dependency cycle"},
		{name: "bad type", tmpl: domain.WorkflowTemplate{ID: "t", Steps: []domain.StepDefinition{{ID: "a", Type: "MAGIC", AutomationLevel: domain.AutomationManual}}}, match: "unknown step type"},
	}

	v := NewValidator()
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := v.Validate(&tc.tmpl)
			require.Error(t, err)
			assert.True(t, errors.Is(err, domain.ErrInvalidTemplate))
			assert.Contains(t, err.Error(), tc.match)
		})
	}
}

func TestFindCycleReportsPath(t *testing.T) {
	cycle := findCycle([]domain.StepDefinition{step("a"), step("b", "a", "d"), step("c", "b"), step("d", "c")})
	require.NotEmpty(t, cycle)
	assert.Equal(t, cycle[0], cycle[len(cycle)-1])
	assert.Nil(t, findCycle(Default().Steps))
}

func TestBuiltinTemplatesAreValid(t *testing.T) {
	b := NewBuilder()
	require.NoError(t, RegisterAll(b, Builtin()))
	reg := b.Build()

	assert.Equal(t, 2, reg.Len())
	std, err := reg.Get(StandardTemplateID)
	require.NoError(t, err)
	assert.Len(t, std.Steps, 8)

	compliance, ok := std.Step("compliance-check")
	require.True(t, ok)
	assert.True(t, compliance.ApprovalRequired)
	assert.Equal(t, domain.StepTypeCompliance, compliance.Type)
}

func TestRegistryIsFrozenAndCopiesTemplates(t *testing.T) {
	b := NewBuilder()
	tmpl := Default()
	require.NoError(t, b.Register(tmpl))
	assert.True(t, errors.Is(b.Register(tmpl), domain.ErrInvalidTemplate))

	reg := b.Build()
	assert.Error(t, b.Register(Express()))

	// caller mutations must not reach the registry
	tmpl.Steps[0].ID = "mutated"
	got, err := reg.Get(StandardTemplateID)
	require.NoError(t, err)
	assert.Equal(t, "validate-order", got.Steps[0].ID)

	got.Steps[1].DependsOn[0] = "mutated"
	again, err := reg.Get(StandardTemplateID)
	require.NoError(t, err)
	assert.Equal(t, "validate-order", again.Steps[1].DependsOn[0])

	_, err = reg.Get("missing")
	assert.True(t, errors.Is(err, domain.ErrNotFound))

	list := reg.List()
	require.Len(t, list, 1)
	assert.Equal(t, StandardTemplateID, list[0].ID)
}

func TestLoadYAML(t *testing.T) {
	doc := `
templates:
  - id: returns
    name: Returns
    steps:
      - id: inspect
        name: Inspect item
        type: VALIDATION
        automation_level: MANUAL
        estimated_duration: 15m
      - id: restock
        name: Restock
        type: ALLOCATION
        automation_level: FULLY_AUTOMATED
        depends_on: [inspect]
        estimated_duration: 90s
`
	loaded, err := Load(strings.NewReader(doc))
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	assert.Equal(t, 15*time.Minute, loaded[0].Steps[0].EstimatedDuration)
	assert.Equal(t, 90*time.Second, loaded[0].Steps[1].EstimatedDuration)

	b := NewBuilder()
	require.NoError(t, RegisterAll(b, loaded))

	_, err = Load(strings.NewReader("templates:\n  - id: x\n    bogus: 1\n"))
	assert.True(t, errors.Is(err, domain.ErrInvalidTemplate))
}
