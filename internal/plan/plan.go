package plan

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNodeNotFound       = errors.New("node not found")
	ErrInvalidTransition  = errors.New("invalid status transition")
	ErrCircularDependency = errors.New("circular dependency")
)

// NodeSpec describes a node to add to a plan. ID is generated when empty;
// passing one explicitly lets tests and importers build graphs with known
// identifiers.
type NodeSpec struct {
	ID            string
	TaskType      string
	Input         map[string]any
	DependsOn     []string
	Bindings      []Binding
	EstimatedCost float64
	MaxRetries    int
	TimeoutSecs   int
	MemoryMB      int
}

// DefaultMaxRetries is applied when a NodeSpec leaves MaxRetries at zero.
const DefaultMaxRetries = 3

// Plan is the dependency graph for one analysis request. It exclusively owns
// its nodes: the scheduler and every other caller mutate or observe them only
// through the methods below. All methods are safe for concurrent use.
type Plan struct {
	mu sync.Mutex

	id           string
	label        string
	nodes        map[string]*Node
	order        []string
	reverseDeps  map[string][]string
	maxBudget    *float64
	totalEst     float64
	totalActual  float64
	status       PlanStatus
	errorMessage string
	createdAt    time.Time
	startedAt    *time.Time
	endedAt      *time.Time
}

// Snapshot is a read-only copy of a plan and all of its nodes.
type Snapshot struct {
	ID                 string         `json:"id"`
	Label              string         `json:"label,omitempty"`
	Nodes              []NodeSnapshot `json:"nodes"`
	MaxBudget          *float64       `json:"max_budget,omitempty"`
	TotalEstimatedCost float64        `json:"total_estimated_cost"`
	TotalActualCost    float64        `json:"total_actual_cost"`
	Status             PlanStatus     `json:"status"`
	ErrorMessage       string         `json:"error_message,omitempty"`
	CreatedAt          time.Time      `json:"created_at"`
	StartedAt          *time.Time     `json:"started_at,omitempty"`
	EndedAt            *time.Time     `json:"ended_at,omitempty"`
}

// New creates an empty plan. A nil maxBudget means unconstrained.
func New(label string, maxBudget *float64) *Plan {
	return &Plan{
		id:          uuid.New().String(),
		label:       label,
		nodes:       make(map[string]*Node),
		reverseDeps: make(map[string][]string),
		maxBudget:   maxBudget,
		status:      PlanPending,
		createdAt:   time.Now(),
	}
}

// ID returns the plan's unique identifier.
func (p *Plan) ID() string { return p.id }

// AddNode inserts a node and returns its id. Dependency ids are recorded as
// given; the builder checks them for cycles, and the scheduler treats a
// reference that never completes as unsatisfiable.
func (p *Plan) AddNode(spec NodeSpec) string {
	p.mu.Lock()
	defer p.mu.Unlock()

	id := spec.ID
	if id == "" {
		id = uuid.New().String()
	}
	n := &Node{
		id:            id,
		taskType:      spec.TaskType,
		input:         copyInput(spec.Input),
		dependsOn:     append([]string(nil), spec.DependsOn...),
		bindings:      append([]Binding(nil), spec.Bindings...),
		status:        StatusPending,
		estimatedCost: spec.EstimatedCost,
		maxRetries:    spec.MaxRetries,
		timeoutSecs:   spec.TimeoutSecs,
		memoryMB:      spec.MemoryMB,
	}
	if n.maxRetries == 0 {
		n.maxRetries = DefaultMaxRetries
	}
	p.nodes[n.id] = n
	p.order = append(p.order, n.id)
	for _, dep := range n.dependsOn {
		p.reverseDeps[dep] = append(p.reverseDeps[dep], n.id)
	}
	p.totalEst += spec.EstimatedCost
	return n.id
}

// Node returns a snapshot of one node.
func (p *Plan) Node(id string) (NodeSnapshot, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	n, ok := p.nodes[id]
	if !ok {
		return NodeSnapshot{}, fmt.Errorf("%w: %s", ErrNodeNotFound, id)
	}
	return n.snapshot(), nil
}

// NodeCount returns the number of nodes in the plan.
func (p *Plan) NodeCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.nodes)
}

// ReadyNodes returns, in insertion order, every pending node whose
// dependencies have all completed.
func (p *Plan) ReadyNodes() []string {
	p.mu.Lock()
	defer p.mu.Unlock()

	var ready []string
	for _, id := range p.order {
		n := p.nodes[id]
		if n.status != StatusPending {
			continue
		}
		satisfied := true
		for _, dep := range n.dependsOn {
			d, ok := p.nodes[dep]
			if !ok || d.status != StatusCompleted {
				satisfied = false
				break
			}
		}
		if satisfied {
			ready = append(ready, id)
		}
	}
	return ready
}

// HasOutstanding reports whether any node is still pending or scheduled.
func (p *Plan) HasOutstanding() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, n := range p.nodes {
		if n.status == StatusPending || n.status == StatusScheduled {
			return true
		}
	}
	return false
}

// RunningCount returns the number of nodes currently running.
func (p *Plan) RunningCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	count := 0
	for _, n := range p.nodes {
		if n.status == StatusRunning {
			count++
		}
	}
	return count
}

// Start moves the plan to running and stamps StartedAt.
func (p *Plan) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.status != PlanPending {
		return
	}
	now := time.Now()
	p.status = PlanRunning
	p.startedAt = &now
}

// MarkScheduled moves the given pending nodes to scheduled.
func (p *Plan) MarkScheduled(ids []string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, id := range ids {
		if n, ok := p.nodes[id]; ok && n.status == StatusPending {
			n.status = StatusScheduled
		}
	}
}

// BeginNode moves a scheduled node to running and stamps StartedAt.
func (p *Plan) BeginNode(id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	n, ok := p.nodes[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNodeNotFound, id)
	}
	if n.status != StatusScheduled {
		return fmt.Errorf("%w: %s: %s -> running", ErrInvalidTransition, id, n.status)
	}
	now := time.Now()
	n.status = StatusRunning
	n.startedAt = &now
	return nil
}

// ResolveInput returns a copy of the node's input with every binding filled
// from the first completed dependency whose outputs carry the source key.
func (p *Plan) ResolveInput(id string) (map[string]any, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	n, ok := p.nodes[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNodeNotFound, id)
	}
	input := copyInput(n.input)
	for _, b := range n.bindings {
		for _, dep := range n.dependsOn {
			d, ok := p.nodes[dep]
			if !ok || d.status != StatusCompleted || d.outputs == nil {
				continue
			}
			v, ok := d.outputs[b.SourceKey]
			if !ok || v == nil {
				continue
			}
			if b.AsList {
				input[b.Field] = []any{v}
			} else {
				input[b.Field] = v
			}
			break
		}
	}
	return input, nil
}

// CompleteNode moves a running node to completed, recording its cost, result
// reference and reported outputs, and adds the cost to the plan total.
func (p *Plan) CompleteNode(id string, actualCost float64, resultRef string, outputs map[string]any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	n, ok := p.nodes[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNodeNotFound, id)
	}
	if n.status != StatusRunning {
		return fmt.Errorf("%w: %s: %s -> completed", ErrInvalidTransition, id, n.status)
	}
	now := time.Now()
	n.status = StatusCompleted
	n.actualCost = &actualCost
	n.resultRef = resultRef
	n.outputs = copyInput(outputs)
	n.endedAt = &now
	p.totalActual += actualCost
	return nil
}

// RetryOrFail handles a failed execution attempt: if the node has retries
// left it goes back to pending with the retry counter bumped and (true, n)
// is returned, where n is the new counter; otherwise the node is marked
// failed with the given message.
func (p *Plan) RetryOrFail(id, errMsg string) (requeued bool, retries int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	n, ok := p.nodes[id]
	if !ok {
		return false, 0
	}
	if n.retries < n.maxRetries {
		n.retries++
		n.status = StatusPending
		return true, n.retries
	}
	now := time.Now()
	n.status = StatusFailed
	n.errorMessage = errMsg
	n.endedAt = &now
	return false, n.retries
}

// SkipUnsatisfiable marks every pending node that depends (transitively) on
// a failed, skipped or cancelled node as skipped, and returns the ids it
// touched. Run after each round so dead branches never linger as pending.
func (p *Plan) SkipUnsatisfiable() []string {
	p.mu.Lock()
	defer p.mu.Unlock()

	var skipped []string
	for changed := true; changed; {
		changed = false
		for _, id := range p.order {
			n := p.nodes[id]
			if n.status != StatusPending {
				continue
			}
			for _, dep := range n.dependsOn {
				d, ok := p.nodes[dep]
				if !ok || !d.status.Terminal() || d.status == StatusCompleted {
					continue
				}
				now := time.Now()
				n.status = StatusSkipped
				n.errorMessage = fmt.Sprintf("dependency %s %s", dep, d.status)
				n.endedAt = &now
				skipped = append(skipped, id)
				changed = true
				break
			}
		}
	}
	return skipped
}

// SkipRemaining marks every pending or scheduled node skipped with the given
// reason and returns the ids it touched.
func (p *Plan) SkipRemaining(reason string) []string {
	return p.sweepRemaining(StatusSkipped, reason)
}

// CancelRemaining marks every pending or scheduled node cancelled.
func (p *Plan) CancelRemaining(reason string) []string {
	return p.sweepRemaining(StatusCancelled, reason)
}

func (p *Plan) sweepRemaining(to Status, reason string) []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	var touched []string
	now := time.Now()
	for _, id := range p.order {
		n := p.nodes[id]
		if n.status == StatusPending || n.status == StatusScheduled {
			n.status = to
			n.errorMessage = reason
			n.endedAt = &now
			touched = append(touched, id)
		}
	}
	return touched
}

// FailPending marks every pending node failed with the given reason and
// returns the ids it touched. Used for the circular-dependency fault.
func (p *Plan) FailPending(reason string) []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	var touched []string
	now := time.Now()
	for _, id := range p.order {
		n := p.nodes[id]
		if n.status == StatusPending {
			n.status = StatusFailed
			n.errorMessage = reason
			n.endedAt = &now
			touched = append(touched, id)
		}
	}
	return touched
}

// FailPlan forces the plan into failed with the given message.
func (p *Plan) FailPlan(errMsg string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.status = PlanFailed
	p.errorMessage = errMsg
}

// Finish derives the terminal plan status and stamps EndedAt. The plan
// completes only when every node completed; an empty plan completes.
func (p *Plan) Finish() {
	p.mu.Lock()
	defer p.mu.Unlock()
	now := time.Now()
	p.endedAt = &now
	if p.status == PlanFailed {
		return
	}
	for _, n := range p.nodes {
		if n.status != StatusCompleted {
			p.status = PlanFailed
			if p.errorMessage == "" {
				p.errorMessage = "one or more tasks failed"
			}
			return
		}
	}
	p.status = PlanCompleted
}

// Status returns the plan's current status.
func (p *Plan) Status() PlanStatus {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status
}

// MaxBudget returns the configured ceiling, or nil when unconstrained.
func (p *Plan) MaxBudget() *float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.maxBudget == nil {
		return nil
	}
	b := *p.maxBudget
	return &b
}

// TotalEstimatedCost returns the sum of all node estimates.
func (p *Plan) TotalEstimatedCost() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.totalEst
}

// TotalActualCost returns the cost incurred so far.
func (p *Plan) TotalActualCost() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.totalActual
}

// OverBudget reports whether the incurred cost has crossed the ceiling.
func (p *Plan) OverBudget() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.maxBudget != nil && p.totalActual > *p.maxBudget
}

// Snapshot returns a deep copy of the plan and its nodes in insertion order.
func (p *Plan) Snapshot() Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()

	s := Snapshot{
		ID:                 p.id,
		Label:              p.label,
		Nodes:              make([]NodeSnapshot, 0, len(p.order)),
		TotalEstimatedCost: p.totalEst,
		TotalActualCost:    p.totalActual,
		Status:             p.status,
		ErrorMessage:       p.errorMessage,
		CreatedAt:          p.createdAt,
	}
	for _, id := range p.order {
		s.Nodes = append(s.Nodes, p.nodes[id].snapshot())
	}
	if p.maxBudget != nil {
		b := *p.maxBudget
		s.MaxBudget = &b
	}
	if p.startedAt != nil {
		t := *p.startedAt
		s.StartedAt = &t
	}
	if p.endedAt != nil {
		t := *p.endedAt
		s.EndedAt = &t
	}
	return s
}

// Validate checks the dependency graph for cycles with a colored
// depth-first walk over the recorded edges.
func (p *Plan) Validate() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int, len(p.nodes))

	var visit func(id string) error
	visit = func(id string) error {
		color[id] = gray
		for _, dep := range p.nodes[id].dependsOn {
			if _, ok := p.nodes[dep]; !ok {
				continue
			}
			switch color[dep] {
			case gray:
				return fmt.Errorf("%w: %s -> %s", ErrCircularDependency, id, dep)
			case white:
				if err := visit(dep); err != nil {
					return err
				}
			}
		}
		color[id] = black
		return nil
	}

	for _, id := range p.order {
		if color[id] == white {
			if err := visit(id); err != nil {
				return err
			}
		}
	}
	return nil
}
