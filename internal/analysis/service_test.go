package analysis

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/karstlund/prospector/internal/audit"
	"github.com/karstlund/prospector/internal/connectors"
	"github.com/karstlund/prospector/internal/connectors/dryrun"
	"github.com/karstlund/prospector/internal/cost"
	"github.com/karstlund/prospector/internal/plan"
	"github.com/karstlund/prospector/internal/registry"
	"github.com/karstlund/prospector/internal/scheduler"
	"github.com/karstlund/prospector/internal/store"
)

func TestAnalyzeEndToEnd(t *testing.T) {
	svc, journalPath := newTestService(t, nil)

	req := plan.Request{
		LinkedInURL:     "https://www.linkedin.com/in/jane",
		IncludeLinkedIn: true,
	}
	rec := &eventRecorder{}

	snap, err := svc.Analyze(context.Background(), req, rec.record)
	if err != nil {
		t.Fatalf("Failed to analyze: %v", err)
	}
	if snap.Status != plan.PlanCompleted {
		t.Errorf("Expected a completed plan, got %s (%s)", snap.Status, snap.ErrorMessage)
	}
	if len(snap.Nodes) != 2 {
		t.Fatalf("Expected 2 nodes for a LinkedIn-only request, got %d", len(snap.Nodes))
	}
	for _, n := range snap.Nodes {
		if n.Status != plan.StatusCompleted {
			t.Errorf("Expected node %s completed, got %s", n.TaskType, n.Status)
		}
		if !strings.HasPrefix(n.ResultRef, "dryrun://") {
			t.Errorf("Expected a dry-run result ref, got %q", n.ResultRef)
		}
	}
	if snap.TotalEstimatedCost != 0.006 || snap.TotalActualCost != 0.006 {
		t.Errorf("Expected 0.006 estimated and actual, got %f / %f",
			snap.TotalEstimatedCost, snap.TotalActualCost)
	}

	// The terminal state is persisted and readable through the service.
	saved, err := svc.SavedPlan(snap.ID)
	if err != nil {
		t.Fatalf("Failed to fetch saved plan: %v", err)
	}
	if saved == nil || saved.Status != plan.PlanCompleted || len(saved.Nodes) != 2 {
		t.Errorf("Expected the completed plan persisted, got %+v", saved)
	}
	listed, err := svc.SavedPlans(string(plan.PlanCompleted), 0)
	if err != nil {
		t.Fatalf("Failed to list saved plans: %v", err)
	}
	if len(listed) != 1 || listed[0].ID != snap.ID {
		t.Errorf("Expected the plan in the completed listing, got %+v", listed)
	}

	// Spend landed in the ledger.
	if got := svc.BudgetStatus().TotalCost; got != 0.006 {
		t.Errorf("Expected 0.006 booked, got %f", got)
	}
	if got := svc.Breakdown(0); got.TotalCost != 0.006 || len(got.PerTaskType) != 2 {
		t.Errorf("Expected a two-type breakdown of 0.006, got %+v", got)
	}
	if got := svc.History(0, "linkedin-posts"); len(got) != 1 {
		t.Errorf("Expected 1 posts record, got %d", len(got))
	}
	pred, err := svc.Predict("linkedin-profile", map[string]any{"profileUrls": []any{"u1"}})
	if err != nil {
		t.Fatalf("Failed to predict: %v", err)
	}
	if pred.SampleCount != 1 || pred.AdjustedCost == nil || *pred.AdjustedCost != 0.004 {
		t.Errorf("Expected a history-adjusted prediction, got %+v", pred)
	}

	// Every scheduling event reached the extra sink and the journal.
	events := rec.all()
	if len(events) != 6 {
		t.Fatalf("Expected 6 events, got %d", len(events))
	}
	if events[0].Type != scheduler.EventPlanStarted || events[5].Type != scheduler.EventPlanFinished {
		t.Errorf("Expected plan lifecycle events first and last, got %s / %s",
			events[0].Type, events[5].Type)
	}

	entries := readJournal(t, journalPath)
	if len(entries) != 6 {
		t.Fatalf("Expected 6 journal entries, got %d", len(entries))
	}
	if entries[0].Action != "plan_started" || entries[5].Action != "plan_finished" {
		t.Errorf("Expected lifecycle entries first and last, got %q / %q",
			entries[0].Action, entries[5].Action)
	}
	for _, e := range entries {
		if e.PlanID != snap.ID {
			t.Errorf("Expected entry %s tied to the plan, got %q", e.Action, e.PlanID)
		}
		if e.Action == "node_completed" {
			if e.Outcome != "success" {
				t.Errorf("Expected a success outcome, got %q", e.Outcome)
			}
			if e.InputsHash == "" {
				t.Error("Expected node entries to carry an inputs hash")
			}
		}
	}
}

func TestAnalyzeRejectsRequestWithoutIdentifiers(t *testing.T) {
	svc, _ := newTestService(t, nil)

	req := plan.Request{Name: "No Links Larry", IncludeLinkedIn: true}
	_, err := svc.Analyze(context.Background(), req, nil)
	if !errors.Is(err, plan.ErrNoIdentifiers) {
		t.Errorf("Expected ErrNoIdentifiers, got %v", err)
	}
}

func TestEstimateDoesNotSpend(t *testing.T) {
	svc, _ := newTestService(t, nil)

	req := plan.Request{
		LinkedInURL:     "https://www.linkedin.com/in/jane",
		IncludeLinkedIn: true,
	}
	est, err := svc.Estimate(req)
	if err != nil {
		t.Fatalf("Failed to estimate: %v", err)
	}
	if est.Label != "prospect" {
		t.Errorf("Expected the fallback label, got %q", est.Label)
	}
	if len(est.Nodes) != 2 {
		t.Fatalf("Expected 2 node estimates, got %d", len(est.Nodes))
	}
	if est.Nodes[0].TaskType != "linkedin-profile" || est.Nodes[0].EstimatedCost != 0.004 {
		t.Errorf("Expected the profile estimate first, got %+v", est.Nodes[0])
	}
	if est.Nodes[0].TaskName == "" || est.Nodes[0].TaskName == est.Nodes[0].TaskType {
		t.Errorf("Expected a display name from the catalog, got %q", est.Nodes[0].TaskName)
	}
	if est.TotalEstimatedCost != 0.006 || !est.WithinBudget || est.MaxBudget != nil {
		t.Errorf("Expected an unconstrained in-budget estimate, got %+v", est)
	}

	budget := 0.001
	req.MaxBudget = &budget
	over, err := svc.Estimate(req)
	if err != nil {
		t.Fatalf("Failed to estimate with budget: %v", err)
	}
	if over.WithinBudget {
		t.Error("Expected the estimate flagged over budget")
	}
	if over.MaxBudget == nil || *over.MaxBudget != 0.001 {
		t.Errorf("Expected the budget echoed, got %v", over.MaxBudget)
	}

	// Estimation never executes or books anything.
	if got := svc.BudgetStatus().TotalCost; got != 0 {
		t.Errorf("Expected no spend after estimates, got %f", got)
	}
}

func TestAnalyzeBatchIsolatesFailures(t *testing.T) {
	svc, _ := newTestService(t, nil)

	reqs := []plan.Request{
		{LinkedInURL: "https://www.linkedin.com/in/jane", IncludeLinkedIn: true},
		{Name: "No Links Larry", IncludeLinkedIn: true},
	}
	results, err := svc.AnalyzeBatch(context.Background(), reqs, 2)
	if err != nil {
		t.Fatalf("Failed to run batch: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("Expected 2 results, got %d", len(results))
	}

	if results[0].Err != nil {
		t.Errorf("Expected the valid request to succeed, got %v", results[0].Err)
	}
	if results[0].Snapshot == nil || results[0].Snapshot.Status != plan.PlanCompleted {
		t.Errorf("Expected a completed snapshot, got %+v", results[0].Snapshot)
	}

	if !errors.Is(results[1].Err, plan.ErrNoIdentifiers) {
		t.Errorf("Expected the invalid request isolated, got %v", results[1].Err)
	}
	if results[1].Snapshot != nil {
		t.Errorf("Expected no snapshot for the failed request, got %+v", results[1].Snapshot)
	}
	if results[1].Request.Name != "No Links Larry" {
		t.Errorf("Expected the request echoed in its result, got %+v", results[1].Request)
	}
}

func TestRunPersistsFailedPlan(t *testing.T) {
	svc, journalPath := newTestService(t, failingInvoker{})

	req := plan.Request{
		LinkedInURL:     "https://www.linkedin.com/in/jane",
		IncludeLinkedIn: true,
	}
	snap, err := svc.Analyze(context.Background(), req, nil)
	if err != nil {
		t.Fatalf("Expected node failures absorbed into the plan, got %v", err)
	}
	if snap.Status != plan.PlanFailed {
		t.Errorf("Expected a failed plan, got %s", snap.Status)
	}
	if snap.ErrorMessage != "one or more tasks failed" {
		t.Errorf("Expected the failure message, got %q", snap.ErrorMessage)
	}

	saved, err := svc.SavedPlan(snap.ID)
	if err != nil {
		t.Fatalf("Failed to fetch saved plan: %v", err)
	}
	if saved.Status != plan.PlanFailed {
		t.Errorf("Expected the failure persisted, got %s", saved.Status)
	}

	var requeues, failures int
	for _, e := range readJournal(t, journalPath) {
		switch e.Action {
		case "node_requeued":
			requeues++
			if e.Outcome != "retry" {
				t.Errorf("Expected a retry outcome, got %q", e.Outcome)
			}
		case "node_failed":
			failures++
			if e.Outcome != "failure" {
				t.Errorf("Expected a failure outcome, got %q", e.Outcome)
			}
		}
	}
	// Two nodes, each retried three times before giving up.
	if requeues != 6 || failures != 2 {
		t.Errorf("Expected 6 requeues and 2 failures journaled, got %d / %d", requeues, failures)
	}
}

func TestSavedPlansRequireStore(t *testing.T) {
	reg := registry.Builtin()
	ledger, err := cost.NewLedger(reg, cost.Options{})
	if err != nil {
		t.Fatalf("Failed to create ledger: %v", err)
	}
	svc := NewService(reg, ledger, dryrun.New(reg, 0), Options{})

	if _, err := svc.SavedPlans("", 0); !errors.Is(err, ErrNoStore) {
		t.Errorf("Expected ErrNoStore from SavedPlans, got %v", err)
	}
	if _, err := svc.SavedPlan("p1"); !errors.Is(err, ErrNoStore) {
		t.Errorf("Expected ErrNoStore from SavedPlan, got %v", err)
	}
}

// --- Helpers ---

// failingInvoker fails every invocation so retry and failure paths run.
type failingInvoker struct{}

func (failingInvoker) Name() string { return "failing" }

func (failingInvoker) Invoke(ctx context.Context, req connectors.InvokeRequest) (*connectors.InvokeResult, error) {
	return nil, errors.New("connection reset")
}

type eventRecorder struct {
	mu     sync.Mutex
	events []scheduler.Event
}

func (r *eventRecorder) record(e scheduler.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *eventRecorder) all() []scheduler.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]scheduler.Event(nil), r.events...)
}

// newTestService wires a service against a temp store and journal. A nil
// invoker means instant dry runs.
func newTestService(t *testing.T, invoker connectors.Invoker) (*Service, string) {
	t.Helper()
	dir := t.TempDir()

	st, err := store.New(filepath.Join(dir, "prospector.db"))
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	journalPath := filepath.Join(dir, "journal.jsonl")
	j, err := audit.Open(journalPath)
	if err != nil {
		t.Fatalf("Failed to open journal: %v", err)
	}
	t.Cleanup(func() { j.Close() })

	reg := registry.Builtin()
	ledger, err := cost.NewLedger(reg, cost.Options{Store: st})
	if err != nil {
		t.Fatalf("Failed to create ledger: %v", err)
	}
	if invoker == nil {
		invoker = dryrun.New(reg, 0)
	}

	svc := NewService(reg, ledger, invoker, Options{
		Scheduler: &scheduler.Config{
			MaxConcurrency: 4,
			PollInterval:   time.Millisecond,
			Sleep:          func(context.Context, time.Duration) {},
		},
		Store:   st,
		Journal: j,
	})
	return svc, journalPath
}

func readJournal(t *testing.T, path string) []audit.Entry {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("Failed to open journal: %v", err)
	}
	defer f.Close()

	var entries []audit.Entry
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var e audit.Entry
		if err := json.Unmarshal(scanner.Bytes(), &e); err != nil {
			t.Fatalf("Failed to parse journal line: %v", err)
		}
		entries = append(entries, e)
	}
	if err := scanner.Err(); err != nil {
		t.Fatalf("Failed to scan journal: %v", err)
	}
	return entries
}
