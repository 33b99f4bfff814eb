// Package plan defines the execution plan: a dependency graph of collection
// tasks built for one prospect analysis, owned and mutated through the Plan's
// own API.
package plan

// Status represents the current state of a task node.
type Status string

const (
	StatusPending   Status = "pending"   // waiting for dependencies
	StatusScheduled Status = "scheduled" // picked for the current round
	StatusRunning   Status = "running"   // dispatched to the task runner
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusSkipped   Status = "skipped" // never dispatched (budget, dead dependency)
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether a node in this status will never run again.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusSkipped, StatusCancelled:
		return true
	}
	return false
}

// PlanStatus represents the overall state of an execution plan.
type PlanStatus string

const (
	PlanPending   PlanStatus = "pending"
	PlanRunning   PlanStatus = "running"
	PlanCompleted PlanStatus = "completed"
	PlanFailed    PlanStatus = "failed"
)
