// Package connectors defines the task runner interface for prospector.
package connectors

import (
	"context"
	"time"
)

// InvokeRequest describes one external task run.
type InvokeRequest struct {
	TaskType    string         `json:"task_type"`
	RemoteActor string         `json:"remote_actor"`
	Input       map[string]any `json:"input"`
	Timeout     time.Duration  `json:"timeout"`
	MemoryMB    int            `json:"memory_mb,omitempty"`
}

// InvokeResult holds the outcome of a finished run. Outputs carries summary
// values the run chose to report; the engine passes them to dependent nodes
// without interpreting them. ResultRef points at the full result set in
// whatever store the runner uses.
type InvokeResult struct {
	RunID        string         `json:"run_id"`
	Success      bool           `json:"success"`
	ActualCost   float64        `json:"actual_cost"`
	Duration     time.Duration  `json:"duration"`
	ItemCount    int            `json:"item_count"`
	ResultRef    string         `json:"result_ref,omitempty"`
	Outputs      map[string]any `json:"outputs,omitempty"`
	ErrorMessage string         `json:"error_message,omitempty"`
}

// Invoker defines the interface for running external collection tasks.
type Invoker interface {
	// Name returns the runner identifier.
	Name() string

	// Invoke runs a task to completion and returns the result. A nil error
	// with Success false means the run itself finished but reported failure.
	Invoke(ctx context.Context, req InvokeRequest) (*InvokeResult, error)
}
