package registry

import (
	"fmt"
	"reflect"
)

// PricingRule selects how a task type's cost is computed.
type PricingRule string

const (
	PricingFixed        PricingRule = "fixed"          // flat cost per run
	PricingPerUnit      PricingRule = "per_unit"       // rate per unit-size batch of items
	PricingBasePlusUnit PricingRule = "base_plus_unit" // flat base plus per-unit rate
	PricingSubscription PricingRule = "subscription"   // flat subscription charge per run
)

// CostEstimate is the pre-dispatch cost projection for one task input.
type CostEstimate struct {
	TaskType     string         `json:"task_type"`
	TaskName     string         `json:"task_name,omitempty"`
	FixedCost    float64        `json:"fixed_cost"`
	VariableCost float64        `json:"variable_cost"`
	TotalCost    float64        `json:"total_cost"`
	Currency     string         `json:"currency"`
	UnitCount    int            `json:"unit_count,omitempty"`
	InputSummary map[string]any `json:"input_summary,omitempty"`
}

// Estimate computes the cost of running taskType with the given input. It is
// pure: identical input always yields an identical estimate.
//
// Per-unit pricing counts the first required field whose value is a list and
// charges VariableRate per UnitSize items; base-plus-unit adds FixedCost on
// top; fixed and subscription pricing charge FixedCost alone.
func (r *Registry) Estimate(taskType string, input map[string]any) (CostEstimate, error) {
	cfg, err := r.Get(taskType)
	if err != nil {
		return CostEstimate{}, err
	}

	est := CostEstimate{
		TaskType:     cfg.TaskType,
		TaskName:     cfg.Name,
		Currency:     "USD",
		InputSummary: summarizeInput(input),
	}

	switch cfg.PricingRule {
	case PricingFixed, PricingSubscription:
		est.FixedCost = cfg.FixedCost
	case PricingPerUnit, PricingBasePlusUnit:
		count := 0
		for _, f := range cfg.RequiredFields {
			if n, ok := listLen(input[f]); ok {
				count = n
				break
			}
		}
		est.UnitCount = count
		est.VariableCost = cfg.VariableRate * float64(count) / float64(cfg.UnitSize)
		if cfg.PricingRule == PricingBasePlusUnit {
			est.FixedCost = cfg.FixedCost
		}
	}

	est.TotalCost = est.FixedCost + est.VariableCost
	return est, nil
}

// listLen returns the length of v when it is a slice of any element type.
func listLen(v any) (int, bool) {
	if v == nil {
		return 0, false
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice {
		return 0, false
	}
	return rv.Len(), true
}

// summarizeInput compresses list values to an item count so estimates stay
// readable in logs and journal entries.
func summarizeInput(input map[string]any) map[string]any {
	if input == nil {
		return nil
	}
	out := make(map[string]any, len(input))
	for k, v := range input {
		if n, ok := listLen(v); ok {
			out[k] = fmt.Sprintf("%d items", n)
		} else {
			out[k] = v
		}
	}
	return out
}
