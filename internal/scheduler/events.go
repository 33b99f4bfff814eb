package scheduler

import "time"

// EventType identifies a scheduling decision worth reporting.
type EventType string

const (
	EventPlanStarted    EventType = "plan_started"
	EventNodeDispatched EventType = "node_dispatched"
	EventNodeCompleted  EventType = "node_completed"
	EventNodeRequeued   EventType = "node_requeued"
	EventNodeFailed     EventType = "node_failed"
	EventNodeSkipped    EventType = "node_skipped"
	EventBudgetAlert    EventType = "budget_alert"
	EventPlanFinished   EventType = "plan_finished"
)

// Event is one scheduling decision, emitted as it happens.
type Event struct {
	Type      EventType `json:"type"`
	PlanID    string    `json:"plan_id"`
	NodeID    string    `json:"node_id,omitempty"`
	TaskType  string    `json:"task_type,omitempty"`
	Cost      float64   `json:"cost,omitempty"`
	Message   string    `json:"message,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// EventFunc receives events from the orchestrator. Node events arrive from
// dispatch goroutines, so implementations must be safe for concurrent use
// and must not block.
type EventFunc func(Event)
