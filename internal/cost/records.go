// Package cost tracks execution spend: it estimates task costs through the
// registry, rewrites inputs per optimization strategy, enforces the budget
// ceiling and keeps the history of what each execution actually cost.
package cost

import "time"

// ExecutionRecord is one completed (or failed) execution's cost entry.
// Records are immutable once created; the ledger's running total is the sum
// of their actual costs.
type ExecutionRecord struct {
	ID            string            `json:"id"`
	TaskType      string            `json:"task_type"`
	TaskName      string            `json:"task_name,omitempty"`
	NodeID        string            `json:"node_id,omitempty"`
	ActualCost    float64           `json:"actual_cost"`
	EstimatedCost *float64          `json:"estimated_cost,omitempty"`
	DurationSecs  *float64          `json:"duration_secs,omitempty"`
	Timestamp     time.Time         `json:"timestamp"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

// RecordStore persists execution records. The ledger uses it to seed its
// total and history at construction and to append new records; it behaves
// identically with no store configured.
type RecordStore interface {
	AppendRecord(rec ExecutionRecord) error
	LoadRecords() ([]ExecutionRecord, error)
}

// TaskTypeCost aggregates spend for one task type.
type TaskTypeCost struct {
	TaskType  string  `json:"task_type"`
	TaskName  string  `json:"task_name,omitempty"`
	Count     int     `json:"count"`
	TotalCost float64 `json:"total_cost"`
	AvgCost   float64 `json:"avg_cost"`
}

// Breakdown is the spend summary over an optional recency window.
type Breakdown struct {
	TotalCost   float64        `json:"total_cost"`
	PerTaskType []TaskTypeCost `json:"per_task_type"`
	WindowDays  int            `json:"window_days,omitempty"`
}

// Prediction refines a raw estimate with the estimation error observed in
// prior executions of the same task type.
type Prediction struct {
	TaskType          string   `json:"task_type"`
	EstimatedCost     float64  `json:"estimated_cost"`
	FixedCost         float64  `json:"fixed_cost"`
	VariableCost      float64  `json:"variable_cost"`
	AdjustedCost      *float64 `json:"adjusted_cost,omitempty"`
	Confidence        *float64 `json:"confidence,omitempty"`
	EstimatedTimeSecs *float64 `json:"estimated_time_secs,omitempty"`
	SampleCount       int      `json:"sample_count"`
}

// BudgetStatus reports where the running total stands against the ceiling.
// The derived fields are nil when no ceiling is configured.
type BudgetStatus struct {
	TotalCost         float64  `json:"total_cost"`
	Limit             *float64 `json:"budget_limit,omitempty"`
	AlertThresholdPct float64  `json:"alert_threshold_pct"`
	Remaining         *float64 `json:"budget_remaining,omitempty"`
	UsedPct           *float64 `json:"budget_used_pct,omitempty"`
	RemainingPct      *float64 `json:"budget_remaining_pct,omitempty"`
}
