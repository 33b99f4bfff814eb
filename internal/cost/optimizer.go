package cost

import (
	"fmt"
	"reflect"

	"github.com/karstlund/prospector/internal/registry"
)

// Strategy selects how the optimizer rewrites task inputs before dispatch.
type Strategy string

const (
	StrategyCost     Strategy = "cost"
	StrategySpeed    Strategy = "speed"
	StrategyQuality  Strategy = "quality"
	StrategyBalanced Strategy = "balanced"
)

// ParseStrategy maps a user-supplied name to a Strategy.
func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(s) {
	case StrategyCost, StrategySpeed, StrategyQuality, StrategyBalanced:
		return Strategy(s), nil
	}
	return "", fmt.Errorf("unknown optimization strategy %q", s)
}

// concurrencyField is the input key every strategy may use as a parallelism
// hint for the remote task.
const concurrencyField = "maxConcurrency"

type strategyFunc func(cfg registry.TaskTypeConfig, input map[string]any, budgetHint *float64) map[string]any

// strategies is the dispatch table: each entry applies one strategy's
// rewrite rules driven by the task type's declarative OptimizeHints.
var strategies = map[Strategy]strategyFunc{
	StrategyCost:     optimizeForCost,
	StrategySpeed:    optimizeForSpeed,
	StrategyQuality:  optimizeForQuality,
	StrategyBalanced: optimizeBalanced,
}

// Optimize returns a rewritten copy of input for the given strategy. It
// never mutates the argument, never removes required fields, and is a no-op
// copy for unknown strategies or task types with no applicable hints.
func Optimize(cfg registry.TaskTypeConfig, input map[string]any, strategy Strategy, budgetHint *float64) map[string]any {
	fn, ok := strategies[strategy]
	if !ok {
		return copyMap(input)
	}
	return fn(cfg, input, budgetHint)
}

func optimizeForCost(cfg registry.TaskTypeConfig, input map[string]any, budgetHint *float64) map[string]any {
	out := copyMap(input)
	setAll(out, cfg.Optimize.CostOff, false)
	setAll(out, cfg.Optimize.CostOn, true)
	applyCaps(out, cfg.Optimize.CostCaps)

	// A very tight budget cuts every list down to a single item; otherwise
	// lists are held to at most five.
	tight := budgetHint != nil && *budgetHint < 1.0
	for field, spec := range cfg.InputSchema {
		if spec.Type != "array" {
			continue
		}
		v, ok := out[field]
		if !ok {
			continue
		}
		n, isList := listLen(v)
		if !isList {
			continue
		}
		if tight {
			out[field] = truncated(v, 1)
		} else if n > 5 {
			out[field] = truncated(v, 5)
		}
	}
	return out
}

func optimizeForSpeed(cfg registry.TaskTypeConfig, input map[string]any, _ *float64) map[string]any {
	out := copyMap(input)
	if cur, ok := asInt(out[concurrencyField]); ok && cur > 10 {
		out[concurrencyField] = cur
	} else {
		out[concurrencyField] = 10
	}
	applyCaps(out, cfg.Optimize.SpeedCaps)
	return out
}

func optimizeForQuality(cfg registry.TaskTypeConfig, input map[string]any, _ *float64) map[string]any {
	out := copyMap(input)
	setAll(out, cfg.Optimize.QualityOn, true)
	applyFloors(out, cfg.Optimize.QualityFloors)
	return out
}

func optimizeBalanced(cfg registry.TaskTypeConfig, input map[string]any, budgetHint *float64) map[string]any {
	out := copyMap(input)

	if budgetHint != nil && *budgetHint < 5.0 {
		for field, spec := range cfg.InputSchema {
			if spec.Type != "array" {
				continue
			}
			v, ok := out[field]
			if !ok {
				continue
			}
			if n, isList := listLen(v); isList && n > 10 {
				out[field] = truncated(v, 10)
			}
		}
	}

	setAll(out, cfg.Optimize.BalancedOn, true)
	for field, threshold := range cfg.Optimize.BalancedOnAbove {
		out[field] = budgetHint == nil || *budgetHint > threshold
	}
	applyCaps(out, cfg.Optimize.BalancedCaps)

	if _, ok := out[concurrencyField]; !ok {
		out[concurrencyField] = 5
	}
	return out
}

func copyMap(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func setAll(m map[string]any, fields []string, v bool) {
	for _, f := range fields {
		m[f] = v
	}
}

// applyCaps clamps each hinted field downward; a field absent from the input
// is set straight to its cap.
func applyCaps(m map[string]any, caps map[string]int) {
	for field, limit := range caps {
		if cur, ok := asInt(m[field]); ok && cur < limit {
			m[field] = cur
		} else {
			m[field] = limit
		}
	}
}

// applyFloors raises each hinted field; a field absent from the input is set
// straight to its floor.
func applyFloors(m map[string]any, floors map[string]int) {
	for field, floor := range floors {
		if cur, ok := asInt(m[field]); ok && cur > floor {
			m[field] = cur
		} else {
			m[field] = floor
		}
	}
}

func asInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	}
	return 0, false
}

// listLen reports the length of v when it is a slice of any element type.
func listLen(v any) (int, bool) {
	rv := reflect.ValueOf(v)
	if !rv.IsValid() || rv.Kind() != reflect.Slice {
		return 0, false
	}
	return rv.Len(), true
}

// truncated returns the first limit elements of a slice of any element type.
func truncated(v any, limit int) any {
	rv := reflect.ValueOf(v)
	if rv.Len() <= limit {
		return v
	}
	return rv.Slice(0, limit).Interface()
}
