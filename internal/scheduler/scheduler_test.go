package scheduler

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/karstlund/prospector/internal/connectors"
	"github.com/karstlund/prospector/internal/cost"
	"github.com/karstlund/prospector/internal/plan"
	"github.com/karstlund/prospector/internal/registry"
)

func TestExecuteCompletesPlan(t *testing.T) {
	reg := newTestRegistry(t)
	invoker := newFakeInvoker()
	sink := &eventSink{}

	p := plan.New("acme", nil)
	a := p.AddNode(plan.NodeSpec{ID: "a", TaskType: "task-a", EstimatedCost: 1.0})
	b := p.AddNode(plan.NodeSpec{ID: "b", TaskType: "task-b", DependsOn: []string{a}, EstimatedCost: 1.0})
	c := p.AddNode(plan.NodeSpec{ID: "c", TaskType: "task-c", DependsOn: []string{b}, EstimatedCost: 1.0})

	o := New(reg, newTestLedger(t, reg, nil), invoker, fastConfig(4))
	o.SetEvents(sink.record)

	if err := o.Execute(context.Background(), p); err != nil {
		t.Fatalf("Failed to execute plan: %v", err)
	}
	if p.Status() != plan.PlanCompleted {
		t.Fatalf("Expected plan completed, got %s", p.Status())
	}

	// Dependencies force one node per round, in chain order.
	order := invoker.invocationOrder()
	if len(order) != 3 || order[0] != "task-a" || order[1] != "task-b" || order[2] != "task-c" {
		t.Errorf("Expected chain order [task-a task-b task-c], got %v", order)
	}

	for _, id := range []string{a, b, c} {
		n, err := p.Node(id)
		if err != nil {
			t.Fatalf("Failed to get node %s: %v", id, err)
		}
		if n.Status != plan.StatusCompleted {
			t.Errorf("Expected %s completed, got %s", id, n.Status)
		}
		if n.ActualCost == nil || *n.ActualCost != 1.0 {
			t.Errorf("Expected %s to cost 1.00, got %v", id, n.ActualCost)
		}
	}
	if p.TotalActualCost() != 3.0 {
		t.Errorf("Expected plan total 3.00, got %f", p.TotalActualCost())
	}

	events := sink.all()
	if events[0].Type != EventPlanStarted {
		t.Errorf("Expected plan_started first, got %s", events[0].Type)
	}
	if events[len(events)-1].Type != EventPlanFinished {
		t.Errorf("Expected plan_finished last, got %s", events[len(events)-1].Type)
	}
	if got := len(sink.byType(EventNodeDispatched)); got != 3 {
		t.Errorf("Expected 3 dispatch events, got %d", got)
	}
	if got := len(sink.byType(EventNodeCompleted)); got != 3 {
		t.Errorf("Expected 3 completion events, got %d", got)
	}
}

func TestExecuteResolvesBindings(t *testing.T) {
	reg := newTestRegistry(t)
	invoker := newFakeInvoker()
	invoker.outputs["task-a"] = map[string]any{"companyUrl": "https://example.com/acme"}

	p := plan.New("acme", nil)
	a := p.AddNode(plan.NodeSpec{ID: "a", TaskType: "task-a"})
	b := p.AddNode(plan.NodeSpec{
		ID:        "b",
		TaskType:  "task-b",
		Input:     map[string]any{"companyUrls": []any{}},
		DependsOn: []string{a},
		Bindings:  []plan.Binding{{Field: "companyUrls", SourceKey: "companyUrl", AsList: true}},
	})

	o := New(reg, newTestLedger(t, reg, nil), invoker, fastConfig(2))
	if err := o.Execute(context.Background(), p); err != nil {
		t.Fatalf("Failed to execute plan: %v", err)
	}
	if n, _ := p.Node(b); n.Status != plan.StatusCompleted {
		t.Fatalf("Expected b completed, got %s", n.Status)
	}

	inputs := invoker.inputsFor("task-b")
	if len(inputs) != 1 {
		t.Fatalf("Expected a single dispatch of task-b, got %d", len(inputs))
	}
	list, ok := inputs[0]["companyUrls"].([]any)
	if !ok || len(list) != 1 || list[0] != "https://example.com/acme" {
		t.Errorf("Expected the discovered URL bound into the input, got %v", inputs[0]["companyUrls"])
	}
}

func TestExecuteRetriesThenSucceeds(t *testing.T) {
	reg := newTestRegistry(t)
	invoker := newFakeInvoker()
	invoker.failures["task-a"] = 2
	sink := &eventSink{}

	p := plan.New("acme", nil)
	a := p.AddNode(plan.NodeSpec{ID: "a", TaskType: "task-a"})

	o := New(reg, newTestLedger(t, reg, nil), invoker, fastConfig(2))
	o.SetEvents(sink.record)

	if err := o.Execute(context.Background(), p); err != nil {
		t.Fatalf("Failed to execute plan: %v", err)
	}
	if p.Status() != plan.PlanCompleted {
		t.Fatalf("Expected plan completed after retries, got %s", p.Status())
	}
	if got := invoker.callCount("task-a"); got != 3 {
		t.Errorf("Expected 3 attempts, got %d", got)
	}

	n, _ := p.Node(a)
	if n.Retries != 2 {
		t.Errorf("Expected retry counter 2, got %d", n.Retries)
	}

	requeued := sink.byType(EventNodeRequeued)
	if len(requeued) != 2 {
		t.Fatalf("Expected 2 requeue events, got %d", len(requeued))
	}
	if !strings.Contains(requeued[0].Message, "retry 1") {
		t.Errorf("Expected the retry counter in the message, got %q", requeued[0].Message)
	}
}

func TestExecuteRetryExhaustion(t *testing.T) {
	reg := newTestRegistry(t)
	invoker := newFakeInvoker()
	invoker.failures["task-a"] = alwaysFail
	sink := &eventSink{}

	p := plan.New("acme", nil)
	a := p.AddNode(plan.NodeSpec{ID: "a", TaskType: "task-a"})

	o := New(reg, newTestLedger(t, reg, nil), invoker, fastConfig(2))
	o.SetEvents(sink.record)

	if err := o.Execute(context.Background(), p); err != nil {
		t.Fatalf("Expected scheduling faults to fail the plan, not Execute: %v", err)
	}
	if p.Status() != plan.PlanFailed {
		t.Fatalf("Expected plan failed, got %s", p.Status())
	}
	// The first attempt plus one per retry.
	if got := invoker.callCount("task-a"); got != plan.DefaultMaxRetries+1 {
		t.Errorf("Expected %d attempts, got %d", plan.DefaultMaxRetries+1, got)
	}

	n, _ := p.Node(a)
	if n.Status != plan.StatusFailed {
		t.Errorf("Expected node failed, got %s", n.Status)
	}
	if len(sink.byType(EventNodeRequeued)) != plan.DefaultMaxRetries {
		t.Errorf("Expected %d requeue events, got %d", plan.DefaultMaxRetries, len(sink.byType(EventNodeRequeued)))
	}
	if len(sink.byType(EventNodeFailed)) != 1 {
		t.Errorf("Expected 1 failed event, got %d", len(sink.byType(EventNodeFailed)))
	}
	if msg := p.Snapshot().ErrorMessage; msg != "one or more tasks failed" {
		t.Errorf("Expected derived failure message, got %q", msg)
	}
}

func TestExecuteSkipsDependentsOfFailedNode(t *testing.T) {
	reg := newTestRegistry(t)
	invoker := newFakeInvoker()
	invoker.failures["task-a"] = alwaysFail
	sink := &eventSink{}

	p := plan.New("acme", nil)
	a := p.AddNode(plan.NodeSpec{ID: "a", TaskType: "task-a", MaxRetries: 1})
	b := p.AddNode(plan.NodeSpec{ID: "b", TaskType: "task-b", DependsOn: []string{a}})

	o := New(reg, newTestLedger(t, reg, nil), invoker, fastConfig(2))
	o.SetEvents(sink.record)

	if err := o.Execute(context.Background(), p); err != nil {
		t.Fatalf("Failed to execute plan: %v", err)
	}
	if invoker.callCount("task-b") != 0 {
		t.Errorf("Expected the dependent never dispatched, got %d calls", invoker.callCount("task-b"))
	}

	n, _ := p.Node(b)
	if n.Status != plan.StatusSkipped {
		t.Errorf("Expected b skipped, got %s", n.Status)
	}
	if n.ErrorMessage != "dependency a failed" {
		t.Errorf("Expected the skip reason to name the dead dependency, got %q", n.ErrorMessage)
	}
	if len(sink.byType(EventNodeSkipped)) != 1 {
		t.Errorf("Expected 1 skip event, got %d", len(sink.byType(EventNodeSkipped)))
	}
}

func TestExecuteStopsWhenPlanBudgetExceeded(t *testing.T) {
	reg := newTestRegistry(t)
	invoker := newFakeInvoker()
	sink := &eventSink{}

	budget := 1.5
	p := plan.New("acme", &budget)
	a := p.AddNode(plan.NodeSpec{ID: "a", TaskType: "task-a", EstimatedCost: 1.0})
	p.AddNode(plan.NodeSpec{ID: "b", TaskType: "task-b", EstimatedCost: 1.0})
	c := p.AddNode(plan.NodeSpec{ID: "c", TaskType: "task-c", DependsOn: []string{a}, EstimatedCost: 1.0})

	o := New(reg, newTestLedger(t, reg, nil), invoker, fastConfig(2))
	o.SetEvents(sink.record)

	// Both roots run in the first round and spend 2.00 against a 1.50
	// ceiling; the dependent round never starts.
	if err := o.Execute(context.Background(), p); err != nil {
		t.Fatalf("Failed to execute plan: %v", err)
	}
	if p.Status() != plan.PlanFailed {
		t.Fatalf("Expected plan failed, got %s", p.Status())
	}
	if msg := p.Snapshot().ErrorMessage; msg != "budget exceeded: 2.00 > 1.50" {
		t.Errorf("Expected the overrun in the failure message, got %q", msg)
	}

	n, _ := p.Node(c)
	if n.Status != plan.StatusSkipped || n.ErrorMessage != "budget exceeded" {
		t.Errorf("Expected c skipped for budget, got %s %q", n.Status, n.ErrorMessage)
	}
	if invoker.callCount("task-c") != 0 {
		t.Errorf("Expected task-c never dispatched, got %d calls", invoker.callCount("task-c"))
	}
}

func TestExecuteFailsCircularDependencies(t *testing.T) {
	reg := newTestRegistry(t)
	invoker := newFakeInvoker()

	// Built directly, bypassing the builder's cycle validation.
	p := plan.New("acme", nil)
	a := p.AddNode(plan.NodeSpec{ID: "a", TaskType: "task-a", DependsOn: []string{"b"}})
	b := p.AddNode(plan.NodeSpec{ID: "b", TaskType: "task-b", DependsOn: []string{"a"}})

	o := New(reg, newTestLedger(t, reg, nil), invoker, fastConfig(2))
	if err := o.Execute(context.Background(), p); err != nil {
		t.Fatalf("Failed to execute plan: %v", err)
	}
	if p.Status() != plan.PlanFailed {
		t.Fatalf("Expected plan failed, got %s", p.Status())
	}
	for _, id := range []string{a, b} {
		n, _ := p.Node(id)
		if n.Status != plan.StatusFailed {
			t.Errorf("Expected %s failed, got %s", id, n.Status)
		}
		if n.ErrorMessage != "circular dependency detected" {
			t.Errorf("Expected the circular fault named, got %q", n.ErrorMessage)
		}
	}
	if invoker.callCount("task-a")+invoker.callCount("task-b") != 0 {
		t.Error("Expected nothing dispatched for an unresolvable graph")
	}
}

func TestExecuteCancelled(t *testing.T) {
	reg := newTestRegistry(t)
	invoker := newFakeInvoker()
	sink := &eventSink{}

	p := plan.New("acme", nil)
	a := p.AddNode(plan.NodeSpec{ID: "a", TaskType: "task-a"})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	o := New(reg, newTestLedger(t, reg, nil), invoker, fastConfig(2))
	o.SetEvents(sink.record)

	err := o.Execute(ctx, p)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Expected context.Canceled, got %v", err)
	}
	if p.Status() != plan.PlanFailed {
		t.Errorf("Expected plan failed, got %s", p.Status())
	}

	n, _ := p.Node(a)
	if n.Status != plan.StatusCancelled {
		t.Errorf("Expected node cancelled, got %s", n.Status)
	}
	if invoker.callCount("task-a") != 0 {
		t.Errorf("Expected nothing dispatched after cancellation, got %d calls", invoker.callCount("task-a"))
	}
	if len(sink.byType(EventPlanFinished)) != 1 {
		t.Errorf("Expected a plan_finished event, got %d", len(sink.byType(EventPlanFinished)))
	}
}

func TestExecuteBudgetRejectionNeverDispatches(t *testing.T) {
	reg := newTestRegistry(t)
	invoker := newFakeInvoker()
	sink := &eventSink{}

	// task-a estimates at 1.00, over the 0.50 ledger ceiling, so every
	// attempt is rejected before the runner sees it.
	limit := 0.5
	p := plan.New("acme", nil)
	a := p.AddNode(plan.NodeSpec{ID: "a", TaskType: "task-a", EstimatedCost: 1.0})

	o := New(reg, newTestLedger(t, reg, &limit), invoker, fastConfig(2))
	o.SetEvents(sink.record)

	if err := o.Execute(context.Background(), p); err != nil {
		t.Fatalf("Failed to execute plan: %v", err)
	}
	if invoker.callCount("task-a") != 0 {
		t.Errorf("Expected no dispatches, got %d", invoker.callCount("task-a"))
	}

	n, _ := p.Node(a)
	if n.Status != plan.StatusFailed {
		t.Errorf("Expected node failed, got %s", n.Status)
	}
	if !strings.Contains(n.ErrorMessage, "budget exceeded") {
		t.Errorf("Expected a budget rejection message, got %q", n.ErrorMessage)
	}
	// Rejections burn retries like any other failure.
	if len(sink.byType(EventNodeRequeued)) != plan.DefaultMaxRetries {
		t.Errorf("Expected %d requeue events, got %d", plan.DefaultMaxRetries, len(sink.byType(EventNodeRequeued)))
	}
}

func TestExecuteBudgetAlertEmittedOnce(t *testing.T) {
	reg := newTestRegistry(t)
	invoker := newFakeInvoker()
	invoker.runCost = 4.5
	sink := &eventSink{}

	limit := 10.0
	p := plan.New("acme", nil)
	a := p.AddNode(plan.NodeSpec{ID: "a", TaskType: "task-a", EstimatedCost: 1.0})
	p.AddNode(plan.NodeSpec{ID: "b", TaskType: "task-b", EstimatedCost: 1.0})
	p.AddNode(plan.NodeSpec{ID: "c", TaskType: "task-c", DependsOn: []string{a}, EstimatedCost: 1.0})

	o := New(reg, newTestLedger(t, reg, &limit), invoker, fastConfig(2))
	o.SetEvents(sink.record)

	// Round one books 9.00 of 10.00 (90%), past the default 80% threshold;
	// round two stays over it but the alert must not repeat.
	if err := o.Execute(context.Background(), p); err != nil {
		t.Fatalf("Failed to execute plan: %v", err)
	}
	if p.Status() != plan.PlanCompleted {
		t.Fatalf("Expected plan completed, got %s", p.Status())
	}

	alerts := sink.byType(EventBudgetAlert)
	if len(alerts) != 1 {
		t.Fatalf("Expected exactly 1 budget alert, got %d", len(alerts))
	}
	if !strings.Contains(alerts[0].Message, "% of budget used") {
		t.Errorf("Expected the usage percentage in the alert, got %q", alerts[0].Message)
	}
}

// --- Helpers ---

// alwaysFail makes the fake invoker fail every attempt for a task type.
const alwaysFail = -1

// fakeInvoker is a scriptable task runner. failures holds, per task type,
// how many invocations fail before one succeeds; alwaysFail never succeeds.
type fakeInvoker struct {
	mu       sync.Mutex
	calls    map[string]int
	order    []string
	inputs   map[string][]map[string]any
	failures map[string]int
	outputs  map[string]map[string]any
	runCost  float64
}

func newFakeInvoker() *fakeInvoker {
	return &fakeInvoker{
		calls:    make(map[string]int),
		inputs:   make(map[string][]map[string]any),
		failures: make(map[string]int),
		outputs:  make(map[string]map[string]any),
		runCost:  1.0,
	}
}

func (f *fakeInvoker) Name() string { return "fake" }

func (f *fakeInvoker) Invoke(_ context.Context, req connectors.InvokeRequest) (*connectors.InvokeResult, error) {
	f.mu.Lock()
	f.calls[req.TaskType]++
	f.order = append(f.order, req.TaskType)
	f.inputs[req.TaskType] = append(f.inputs[req.TaskType], req.Input)
	remaining := f.failures[req.TaskType]
	if remaining != 0 {
		if remaining > 0 {
			f.failures[req.TaskType] = remaining - 1
		}
		f.mu.Unlock()
		return nil, errors.New("connection reset")
	}
	outputs := f.outputs[req.TaskType]
	runCost := f.runCost
	f.mu.Unlock()

	return &connectors.InvokeResult{
		RunID:      "run-" + req.TaskType,
		Success:    true,
		ActualCost: runCost,
		Duration:   time.Millisecond,
		ItemCount:  1,
		ResultRef:  "fake://" + req.TaskType,
		Outputs:    outputs,
	}, nil
}

func (f *fakeInvoker) callCount(taskType string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[taskType]
}

func (f *fakeInvoker) invocationOrder() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.order...)
}

func (f *fakeInvoker) inputsFor(taskType string) []map[string]any {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]map[string]any(nil), f.inputs[taskType]...)
}

// eventSink collects orchestrator events; node events arrive from dispatch
// goroutines.
type eventSink struct {
	mu     sync.Mutex
	events []Event
}

func (s *eventSink) record(e Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
}

func (s *eventSink) all() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Event(nil), s.events...)
}

func (s *eventSink) byType(et EventType) []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Event
	for _, e := range s.events {
		if e.Type == et {
			out = append(out, e)
		}
	}
	return out
}

func newTestRegistry(t *testing.T) *registry.Registry {
	t.Helper()
	r := registry.NewRegistry()
	for _, taskType := range []string{"task-a", "task-b", "task-c"} {
		err := r.Register(registry.TaskTypeConfig{
			TaskType:    taskType,
			Name:        "Test " + taskType,
			Category:    registry.CategoryUtility,
			RemoteActor: "test/" + taskType,
			PricingRule: registry.PricingFixed,
			FixedCost:   1.0,
			InputSchema: map[string]registry.FieldSpec{
				"companyUrls": {Type: "array"},
			},
		})
		if err != nil {
			t.Fatalf("Failed to register %s: %v", taskType, err)
		}
	}
	return r
}

func newTestLedger(t *testing.T, reg *registry.Registry, limit *float64) *cost.Ledger {
	t.Helper()
	l, err := cost.NewLedger(reg, cost.Options{BudgetLimit: limit})
	if err != nil {
		t.Fatalf("Failed to create ledger: %v", err)
	}
	return l
}

func fastConfig(concurrency int) *Config {
	return &Config{
		MaxConcurrency: concurrency,
		PollInterval:   time.Millisecond,
		Sleep:          func(context.Context, time.Duration) {},
	}
}
