// Package registry holds the catalog of task type configurations: pricing
// rules, input schemas, execution defaults and optimization hints for every
// external collection task the system can dispatch.
package registry

import (
	"errors"
	"fmt"
	"reflect"
	"strconv"
	"strings"
)

var (
	ErrUnknownTaskType      = errors.New("unknown task type")
	ErrMissingRequiredField = errors.New("missing required field")
	ErrInvalidField         = errors.New("invalid field value")
	ErrInvalidConfig        = errors.New("invalid task type config")
)

// Category groups task types by data source family.
type Category string

const (
	CategoryLinkedIn    Category = "linkedin"
	CategorySocialMedia Category = "social_media"
	CategoryCompanyData Category = "company_data"
	CategoryUtility     Category = "utility"
)

// FieldSpec describes one input field of a task type.
type FieldSpec struct {
	Type        string `json:"type" yaml:"type"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
}

// OptimizeHints declares, per task type, which input fields the cost
// optimizer may rewrite and how far each strategy pushes them. Field names
// refer to keys of the input payload.
type OptimizeHints struct {
	// Boolean sub-collection switches.
	CostOff   []string `json:"cost_off,omitempty" yaml:"cost_off,omitempty"`
	CostOn    []string `json:"cost_on,omitempty" yaml:"cost_on,omitempty"`
	QualityOn []string `json:"quality_on,omitempty" yaml:"quality_on,omitempty"`
	// Balanced keeps BalancedOn fields on unconditionally and the
	// BalancedOnAbove fields on only while the budget hint stays above the
	// mapped threshold (or no hint is given).
	BalancedOn      []string           `json:"balanced_on,omitempty" yaml:"balanced_on,omitempty"`
	BalancedOnAbove map[string]float64 `json:"balanced_on_above,omitempty" yaml:"balanced_on_above,omitempty"`
	// Integer depth fields: caps clamp downward, floors raise upward. An
	// absent input field is set straight to the cap/floor.
	CostCaps      map[string]int `json:"cost_caps,omitempty" yaml:"cost_caps,omitempty"`
	SpeedCaps     map[string]int `json:"speed_caps,omitempty" yaml:"speed_caps,omitempty"`
	BalancedCaps  map[string]int `json:"balanced_caps,omitempty" yaml:"balanced_caps,omitempty"`
	QualityFloors map[string]int `json:"quality_floors,omitempty" yaml:"quality_floors,omitempty"`
}

// TaskTypeConfig is the full configuration for one task type.
type TaskTypeConfig struct {
	TaskType    string   `json:"task_type" yaml:"task_type"`
	Name        string   `json:"name" yaml:"name"`
	Description string   `json:"description,omitempty" yaml:"description,omitempty"`
	Category    Category `json:"category" yaml:"category"`
	RemoteActor string   `json:"remote_actor" yaml:"remote_actor"`

	PricingRule  PricingRule `json:"pricing_rule" yaml:"pricing_rule"`
	FixedCost    float64     `json:"fixed_cost,omitempty" yaml:"fixed_cost,omitempty"`
	VariableRate float64     `json:"variable_rate,omitempty" yaml:"variable_rate,omitempty"`
	CostUnit     string      `json:"cost_unit,omitempty" yaml:"cost_unit,omitempty"`
	UnitSize     int         `json:"unit_size,omitempty" yaml:"unit_size,omitempty"`

	InputSchema    map[string]FieldSpec `json:"input_schema" yaml:"input_schema"`
	RequiredFields []string             `json:"required_fields,omitempty" yaml:"required_fields,omitempty"`
	Defaults       map[string]any       `json:"defaults,omitempty" yaml:"defaults,omitempty"`

	DefaultTimeoutSecs int `json:"default_timeout_secs,omitempty" yaml:"default_timeout_secs,omitempty"`
	MemoryMB           int `json:"memory_mb,omitempty" yaml:"memory_mb,omitempty"`
	MaxItemsPerBatch   int `json:"max_items_per_batch,omitempty" yaml:"max_items_per_batch,omitempty"`

	Optimize OptimizeHints `json:"optimize,omitempty" yaml:"optimize,omitempty"`
}

// Registry is an explicit, constructed-once catalog of task types. Register
// everything during startup; reads afterwards are safe from any goroutine.
type Registry struct {
	types map[string]TaskTypeConfig
	order []string
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{types: make(map[string]TaskTypeConfig)}
}

// Register adds a task type configuration after validating it.
func (r *Registry) Register(cfg TaskTypeConfig) error {
	if cfg.TaskType == "" {
		return fmt.Errorf("%w: empty task type", ErrInvalidConfig)
	}
	switch cfg.PricingRule {
	case PricingFixed, PricingPerUnit, PricingBasePlusUnit, PricingSubscription:
	default:
		return fmt.Errorf("%w: %s: unknown pricing rule %q", ErrInvalidConfig, cfg.TaskType, cfg.PricingRule)
	}
	for _, f := range cfg.RequiredFields {
		if _, ok := cfg.InputSchema[f]; !ok {
			return fmt.Errorf("%w: %s: required field %q not in input schema", ErrInvalidConfig, cfg.TaskType, f)
		}
	}
	for f := range cfg.Defaults {
		if _, ok := cfg.InputSchema[f]; !ok {
			return fmt.Errorf("%w: %s: default for %q but field not in input schema", ErrInvalidConfig, cfg.TaskType, f)
		}
	}
	if cfg.UnitSize == 0 {
		cfg.UnitSize = 1
	}
	if cfg.DefaultTimeoutSecs == 0 {
		cfg.DefaultTimeoutSecs = 300
	}
	if _, exists := r.types[cfg.TaskType]; !exists {
		r.order = append(r.order, cfg.TaskType)
	}
	r.types[cfg.TaskType] = cfg
	return nil
}

// Get returns the configuration for a task type.
func (r *Registry) Get(taskType string) (TaskTypeConfig, error) {
	cfg, ok := r.types[taskType]
	if !ok {
		return TaskTypeConfig{}, fmt.Errorf("%w: %s", ErrUnknownTaskType, taskType)
	}
	return cfg, nil
}

// List returns every registered configuration in registration order.
func (r *Registry) List() []TaskTypeConfig {
	out := make([]TaskTypeConfig, 0, len(r.order))
	for _, t := range r.order {
		out = append(out, r.types[t])
	}
	return out
}

// ListByCategory returns configurations grouped by category, each group in
// registration order.
func (r *Registry) ListByCategory() map[Category][]TaskTypeConfig {
	out := make(map[Category][]TaskTypeConfig)
	for _, t := range r.order {
		cfg := r.types[t]
		out[cfg.Category] = append(out[cfg.Category], cfg)
	}
	return out
}

// ValidateInput checks an input payload against the task type's schema,
// merges defaults for absent fields and coerces loosely typed scalar values.
// It returns a normalized copy and never mutates the argument.
func (r *Registry) ValidateInput(taskType string, input map[string]any) (map[string]any, error) {
	cfg, err := r.Get(taskType)
	if err != nil {
		return nil, err
	}

	var missing []string
	for _, f := range cfg.RequiredFields {
		if _, ok := input[f]; !ok {
			missing = append(missing, f)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: %s: %s", ErrMissingRequiredField, taskType, strings.Join(missing, ", "))
	}

	result := make(map[string]any, len(cfg.Defaults)+len(input))
	for k, v := range cfg.Defaults {
		result[k] = v
	}
	for k, v := range input {
		result[k] = v
	}

	for field, spec := range cfg.InputSchema {
		v, ok := result[field]
		if !ok || v == nil {
			continue
		}
		coerced, err := coerceField(field, spec.Type, v)
		if err != nil {
			return nil, err
		}
		result[field] = coerced
	}
	return result, nil
}

func coerceField(field, fieldType string, v any) (any, error) {
	switch fieldType {
	case "array":
		if rv := reflect.ValueOf(v); rv.Kind() != reflect.Slice {
			return nil, fmt.Errorf("%w: %s must be an array", ErrInvalidField, field)
		}
	case "object":
		if rv := reflect.ValueOf(v); rv.Kind() != reflect.Map {
			return nil, fmt.Errorf("%w: %s must be an object", ErrInvalidField, field)
		}
	case "boolean":
		switch b := v.(type) {
		case bool:
		case string:
			switch strings.ToLower(b) {
			case "true":
				return true, nil
			case "false":
				return false, nil
			default:
				return nil, fmt.Errorf("%w: %s must be a boolean", ErrInvalidField, field)
			}
		default:
			return nil, fmt.Errorf("%w: %s must be a boolean", ErrInvalidField, field)
		}
	case "integer":
		switch n := v.(type) {
		case int:
		case int64:
			return int(n), nil
		case float64:
			return int(n), nil
		case string:
			i, err := strconv.Atoi(n)
			if err != nil {
				return nil, fmt.Errorf("%w: %s must be an integer", ErrInvalidField, field)
			}
			return i, nil
		default:
			return nil, fmt.Errorf("%w: %s must be an integer", ErrInvalidField, field)
		}
	case "number":
		switch n := v.(type) {
		case float64:
		case int:
			return float64(n), nil
		case int64:
			return float64(n), nil
		case string:
			f, err := strconv.ParseFloat(n, 64)
			if err != nil {
				return nil, fmt.Errorf("%w: %s must be a number", ErrInvalidField, field)
			}
			return f, nil
		default:
			return nil, fmt.Errorf("%w: %s must be a number", ErrInvalidField, field)
		}
	case "string":
		if _, ok := v.(string); !ok {
			return fmt.Sprintf("%v", v), nil
		}
	}
	return v, nil
}
