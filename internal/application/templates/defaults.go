package templates

import (
	"time"

	"github.com/aescanero/fulfillment/pkg/domain"
)

// Template identifiers shipped with the engine
const (
	StandardTemplateID = "standard-fulfillment"
	ExpressTemplateID  = "express-fulfillment"
)

// Default returns the canonical eight step fulfillment template
func Default() domain.WorkflowTemplate {
	return domain.WorkflowTemplate{
		ID:          StandardTemplateID,
		Name:        "Standard fulfillment",
		Description: "Validate, allocate, route, label, check compliance, track and notify",
		Steps: []domain.StepDefinition{
			{
				ID:                "validate-order",
				Name:              "Validate order",
				Description:       "Confirm order completeness and inventory existence",
				Type:              domain.StepTypeValidation,
				AutomationLevel:   domain.AutomationSemiAutomated,
				EstimatedDuration: 2 * time.Minute,
			},
			{
				ID:                "allocate-inventory",
				Name:              "Allocate inventory",
				Description:       "Reserve stock across warehouses",
				Type:              domain.StepTypeAllocation,
				AutomationLevel:   domain.AutomationSemiAutomated,
				DependsOn:         []string{"validate-order"},
				EstimatedDuration: 5 * time.Minute,
			},
			{
				ID:                "route-warehouse",
				Name:              "Route warehouses",
				Description:       "Split the order into per-warehouse shipments",
				Type:              domain.StepTypeRouting,
				AutomationLevel:   domain.AutomationSemiAutomated,
				DependsOn:         []string{"allocate-inventory"},
				EstimatedDuration: 3 * time.Minute,
			},
			{
				ID:                "route-carrier",
				Name:              "Select carrier",
				Description:       "Choose carrier and service level",
				Type:              domain.StepTypeRouting,
				AutomationLevel:   domain.AutomationSemiAutomated,
				DependsOn:         []string{"route-warehouse"},
				EstimatedDuration: 3 * time.Minute,
			},
			{
				ID:                "generate-label",
				Name:              "Generate shipping label",
				Description:       "Print shipping documents",
				Type:              domain.StepTypeProcessing,
				AutomationLevel:   domain.AutomationSemiAutomated,
				DependsOn:         []string{"route-carrier"},
				EstimatedDuration: 4 * time.Minute,
			},
			{
				ID:                "compliance-check",
				Name:              "Compliance check",
				Description:       "Export and shipping compliance review",
				Type:              domain.StepTypeCompliance,
				AutomationLevel:   domain.AutomationSemiAutomated,
				DependsOn:         []string{"generate-label"},
				EstimatedDuration: 10 * time.Minute,
				ApprovalRequired:  true,
			},
			{
				ID:                "generate-tracking",
				Name:              "Generate tracking",
				Description:       "Register the shipment with the carrier",
				Type:              domain.StepTypeProcessing,
				AutomationLevel:   domain.AutomationSemiAutomated,
				DependsOn:         []string{"compliance-check"},
				EstimatedDuration: 2 * time.Minute,
			},
			{
				ID:                "notify-customer",
				Name:              "Notify customer",
				Description:       "Send shipment confirmation",
				Type:              domain.StepTypeNotification,
				AutomationLevel:   domain.AutomationSemiAutomated,
				DependsOn:         []string{"generate-tracking"},
				EstimatedDuration: time.Minute,
			},
		},
	}
}

// Express returns a shorter template where the order acknowledgement runs in
// parallel with carrier routing
func Express() domain.WorkflowTemplate {
	return domain.WorkflowTemplate{
		ID:          ExpressTemplateID,
		Name:        "Express fulfillment",
		Description: "Single warehouse, fastest carrier, early customer acknowledgement",
		Steps: []domain.StepDefinition{
			{
				ID:                "validate-order",
				Name:              "Validate order",
				Type:              domain.StepTypeValidation,
				AutomationLevel:   domain.AutomationFullyAutomated,
				EstimatedDuration: time.Minute,
			},
			{
				ID:                "allocate-inventory",
				Name:              "Allocate inventory",
				Type:              domain.StepTypeAllocation,
				AutomationLevel:   domain.AutomationFullyAutomated,
				DependsOn:         []string{"validate-order"},
				EstimatedDuration: 2 * time.Minute,
			},
			{
				ID:                "notify-acknowledgement",
				Name:              "Acknowledge order",
				Type:              domain.StepTypeNotification,
				AutomationLevel:   domain.AutomationFullyAutomated,
				DependsOn:         []string{"validate-order"},
				EstimatedDuration: 30 * time.Second,
			},
			{
				ID:                "route-carrier",
				Name:              "Select carrier",
				Type:              domain.StepTypeRouting,
				AutomationLevel:   domain.AutomationFullyAutomated,
				DependsOn:         []string{"allocate-inventory"},
				EstimatedDuration: time.Minute,
			},
			{
				ID:                "generate-label",
				Name:              "Generate shipping label",
				Type:              domain.StepTypeProcessing,
				AutomationLevel:   domain.AutomationFullyAutomated,
				DependsOn:         []string{"route-carrier"},
				EstimatedDuration: 2 * time.Minute,
			},
			{
				ID:                "generate-tracking",
				Name:              "Generate tracking",
				Type:              domain.StepTypeProcessing,
				AutomationLevel:   domain.AutomationFullyAutomated,
				DependsOn:         []string{"generate-label"},
				EstimatedDuration: time.Minute,
			},
			{
				ID:                "notify-customer",
				Name:              "Notify customer",
				Type:              domain.StepTypeNotification,
				AutomationLevel:   domain.AutomationFullyAutomated,
				DependsOn:         []string{"generate-tracking", "notify-acknowledgement"},
				EstimatedDuration: 30 * time.Second,
			},
		},
	}
}

// Builtin returns every built-in template
func Builtin() []domain.WorkflowTemplate {
	return []domain.WorkflowTemplate{Default(), Express()}
}
