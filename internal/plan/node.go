package plan

import "time"

// Binding wires a value discovered by a completed dependency into this
// node's input before dispatch. SourceKey is looked up in the dependency's
// reported outputs; the first dependency that carries it wins.
type Binding struct {
	Field     string `json:"field" yaml:"field"`
	SourceKey string `json:"source_key" yaml:"source_key"`
	AsList    bool   `json:"as_list,omitempty" yaml:"as_list,omitempty"`
}

// Node is one schedulable task within a plan. Nodes are owned by their Plan;
// code outside this package sees only NodeSnapshot copies.
type Node struct {
	id            string
	taskType      string
	input         map[string]any
	dependsOn     []string
	bindings      []Binding
	status        Status
	estimatedCost float64
	actualCost    *float64
	retries       int
	maxRetries    int
	timeoutSecs   int
	memoryMB      int
	resultRef     string
	outputs       map[string]any
	errorMessage  string
	startedAt     *time.Time
	endedAt       *time.Time
}

// NodeSnapshot is a read-only copy of a node's state.
type NodeSnapshot struct {
	ID            string         `json:"id"`
	TaskType      string         `json:"task_type"`
	Input         map[string]any `json:"input"`
	DependsOn     []string       `json:"depends_on,omitempty"`
	Status        Status         `json:"status"`
	EstimatedCost float64        `json:"estimated_cost"`
	ActualCost    *float64       `json:"actual_cost,omitempty"`
	Retries       int            `json:"retries"`
	MaxRetries    int            `json:"max_retries"`
	TimeoutSecs   int            `json:"timeout_secs,omitempty"`
	MemoryMB      int            `json:"memory_mb,omitempty"`
	ResultRef     string         `json:"result_ref,omitempty"`
	Outputs       map[string]any `json:"outputs,omitempty"`
	ErrorMessage  string         `json:"error_message,omitempty"`
	StartedAt     *time.Time     `json:"started_at,omitempty"`
	EndedAt       *time.Time     `json:"ended_at,omitempty"`
}

func (n *Node) snapshot() NodeSnapshot {
	s := NodeSnapshot{
		ID:            n.id,
		TaskType:      n.taskType,
		Input:         copyInput(n.input),
		DependsOn:     append([]string(nil), n.dependsOn...),
		Status:        n.status,
		EstimatedCost: n.estimatedCost,
		Retries:       n.retries,
		MaxRetries:    n.maxRetries,
		TimeoutSecs:   n.timeoutSecs,
		MemoryMB:      n.memoryMB,
		ResultRef:     n.resultRef,
		Outputs:       copyInput(n.outputs),
		ErrorMessage:  n.errorMessage,
	}
	if n.actualCost != nil {
		c := *n.actualCost
		s.ActualCost = &c
	}
	if n.startedAt != nil {
		t := *n.startedAt
		s.StartedAt = &t
	}
	if n.endedAt != nil {
		t := *n.endedAt
		s.EndedAt = &t
	}
	return s
}

// copyInput makes a shallow copy of an input payload. Values inside the map
// are treated as immutable by every component; only top-level keys are ever
// rewritten (optimizer, bindings), so one level of copying is enough.
func copyInput(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
