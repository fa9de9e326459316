package executor

import (
	"context"
	"fmt"
	"strings"

	"github.com/aescanero/fulfillment/pkg/domain"
	"github.com/aescanero/fulfillment/pkg/ports"
)

type complianceHandler struct {
	checker ports.ComplianceChecker
}

// Execute runs the compliance check. NEEDS_REVIEW without an approval asks
// for a human; with an approval attached the review counts as done.
func (h *complianceHandler) Execute(ctx context.Context, step *domain.StepInstance, ec *ExecutionContext) (Result, error) {
	in, err := decodeInputs(step)
	if err != nil {
		return Result{}, err
	}
	var carrier string
	if _, err := ec.Lookup("carrier", &carrier); err != nil {
		return Result{}, err
	}

	res, err := h.checker.Check(ctx, ports.ComplianceRequest{
		OrderID:     in.OrderID,
		Destination: in.ShippingAddress,
		LineItems:   in.LineItems,
		Carrier:     carrier,
	})
	if err != nil {
		return Result{}, fmt.Errorf("compliance check failed: %w", err)
	}

	outputs := map[string]interface{}{
		"verdict": string(res.Verdict),
		"reasons": append([]string(nil), res.Reasons...),
	}

	switch res.Verdict {
	case ports.CompliancePass:
		return Result{Outputs: outputs}, nil
	case ports.ComplianceNeedsReview:
		if step.Approval == nil {
			warnings := make([]string, 0, len(res.Reasons))
			for _, r := range res.Reasons {
				warnings = append(warnings, "compliance review: "+r)
			}
			if len(warnings) == 0 {
				warnings = append(warnings, "compliance review requested")
			}
			return Result{NeedsReview: true, Warnings: warnings}, nil
		}
		outputs["reviewed_by"] = step.Approval.ApproverID
		return Result{Outputs: outputs}, nil
	case ports.ComplianceFail:
		return Result{}, reject("compliance rejected: %s", strings.Join(res.Reasons, "; "))
	default:
		return Result{}, fmt.Errorf("unknown compliance verdict %q", res.Verdict)
	}
}
