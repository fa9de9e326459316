package collaborators

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/aescanero/fulfillment/pkg/ports"
)

// ComplianceRules configures the rule based checker
type ComplianceRules struct {
	Embargoed       []string `json:"embargoed" yaml:"embargoed"`
	ReviewCountries []string `json:"review_countries" yaml:"review_countries"`
	ReviewSKUs      []string `json:"review_skus" yaml:"review_skus"`
}

// RuleChecker implements ComplianceChecker with country and SKU lists
type RuleChecker struct {
	mu    sync.RWMutex
	rules ComplianceRules
}

// NewRuleChecker creates a checker with the given rules
func NewRuleChecker(rules ComplianceRules) *RuleChecker {
	return &RuleChecker{rules: rules}
}

// SetRules replaces the active rules
func (r *RuleChecker) SetRules(rules ComplianceRules) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rules = rules
}

// Check evaluates embargo, review country and review SKU rules in that order
func (r *RuleChecker) Check(ctx context.Context, req ports.ComplianceRequest) (*ports.ComplianceResult, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	country := req.Destination.Country
	if country == "" {
		return nil, fmt.Errorf("destination country is required for order %s", req.OrderID)
	}
	if contains(r.rules.Embargoed, country) {
		return &ports.ComplianceResult{
			Verdict: ports.ComplianceFail,
			Reasons: []string{fmt.Sprintf("destination %s is embargoed", country)},
		}, nil
	}

	var reasons []string
	if contains(r.rules.ReviewCountries, country) {
		reasons = append(reasons, fmt.Sprintf("destination %s requires export review", country))
	}
	for _, l := range req.LineItems {
		if contains(r.rules.ReviewSKUs, l.SKU) {
			reasons = append(reasons, fmt.Sprintf("sku %s is a controlled item", l.SKU))
		}
	}
	if len(reasons) > 0 {
		return &ports.ComplianceResult{Verdict: ports.ComplianceNeedsReview, Reasons: reasons}, nil
	}
	return &ports.ComplianceResult{Verdict: ports.CompliancePass}, nil
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if strings.EqualFold(item, v) {
			return true
		}
	}
	return false
}
