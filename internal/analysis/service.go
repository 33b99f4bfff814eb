// Package analysis ties the plan builder, scheduler and cost ledger together
// into the prospect analysis workflow.
package analysis

import (
	"context"
	"errors"
	"log"

	"golang.org/x/sync/errgroup"

	"github.com/karstlund/prospector/internal/audit"
	"github.com/karstlund/prospector/internal/connectors"
	"github.com/karstlund/prospector/internal/cost"
	"github.com/karstlund/prospector/internal/plan"
	"github.com/karstlund/prospector/internal/registry"
	"github.com/karstlund/prospector/internal/scheduler"
	"github.com/karstlund/prospector/internal/store"
)

// ErrNoStore is returned by history operations when the service runs without
// persistence.
var ErrNoStore = errors.New("no store configured")

// Service runs prospect analyses end to end: build the plan, execute it
// under the cost controls and persist the outcome.
type Service struct {
	reg     *registry.Registry
	ledger  *cost.Ledger
	invoker connectors.Invoker
	builder *plan.Builder
	config  *scheduler.Config
	store   *store.Store
	journal *audit.Journal
}

// Options carries the service's optional collaborators. Store and Journal
// may be nil; a nil Scheduler config uses defaults.
type Options struct {
	Scheduler *scheduler.Config
	Store     *store.Store
	Journal   *audit.Journal
}

// NewService creates the analysis service.
func NewService(reg *registry.Registry, ledger *cost.Ledger, invoker connectors.Invoker, opts Options) *Service {
	cfg := opts.Scheduler
	if cfg == nil {
		cfg = scheduler.DefaultConfig()
	}
	return &Service{
		reg:     reg,
		ledger:  ledger,
		invoker: invoker,
		builder: plan.NewBuilder(reg),
		config:  cfg,
		store:   opts.Store,
		journal: opts.Journal,
	}
}

// Build constructs the plan for a request without executing it.
func (s *Service) Build(req plan.Request) (*plan.Plan, error) {
	return s.builder.Build(req)
}

// Run executes a previously built plan. events, when non-nil, receives every
// scheduling event in addition to the journal. The terminal snapshot is
// returned even when execution errors.
func (s *Service) Run(ctx context.Context, p *plan.Plan, events scheduler.EventFunc) (plan.Snapshot, error) {
	s.savePlan(p.Snapshot())

	orch := scheduler.New(s.reg, s.ledger, s.invoker, s.config)
	orch.SetEvents(s.eventSink(events))
	execErr := orch.Execute(ctx, p)

	snap := p.Snapshot()
	s.savePlan(snap)
	return snap, execErr
}

// Analyze builds and executes the plan for one request.
func (s *Service) Analyze(ctx context.Context, req plan.Request, events scheduler.EventFunc) (plan.Snapshot, error) {
	p, err := s.Build(req)
	if err != nil {
		return plan.Snapshot{}, err
	}
	log.Printf("Analysis: plan %s for %s: %d nodes, estimated cost %.2f",
		p.ID(), req.Label(), p.NodeCount(), p.TotalEstimatedCost())
	return s.Run(ctx, p, events)
}

// NodeEstimate is the cost preview for one node.
type NodeEstimate struct {
	TaskType      string  `json:"task_type"`
	TaskName      string  `json:"task_name"`
	EstimatedCost float64 `json:"estimated_cost"`
}

// PlanEstimate is the cost preview for a whole request. WithinBudget is true
// when no budget is set.
type PlanEstimate struct {
	Label              string         `json:"label"`
	Nodes              []NodeEstimate `json:"nodes"`
	TotalEstimatedCost float64        `json:"total_estimated_cost"`
	MaxBudget          *float64       `json:"max_budget,omitempty"`
	WithinBudget       bool           `json:"within_budget"`
}

// Estimate prices a request without executing anything.
func (s *Service) Estimate(req plan.Request) (*PlanEstimate, error) {
	p, err := s.builder.Build(req)
	if err != nil {
		return nil, err
	}
	snap := p.Snapshot()

	est := &PlanEstimate{
		Label:              snap.Label,
		TotalEstimatedCost: snap.TotalEstimatedCost,
		MaxBudget:          snap.MaxBudget,
		WithinBudget:       true,
	}
	for _, n := range snap.Nodes {
		name := n.TaskType
		if cfg, err := s.reg.Get(n.TaskType); err == nil {
			name = cfg.Name
		}
		est.Nodes = append(est.Nodes, NodeEstimate{
			TaskType:      n.TaskType,
			TaskName:      name,
			EstimatedCost: n.EstimatedCost,
		})
	}
	if snap.MaxBudget != nil && snap.TotalEstimatedCost > *snap.MaxBudget {
		est.WithinBudget = false
	}
	return est, nil
}

// BatchResult pairs one request with its outcome.
type BatchResult struct {
	Request  plan.Request
	Snapshot *plan.Snapshot
	Err      error
}

// AnalyzeBatch runs several requests with at most parallel analyses in
// flight. Per-request failures land in the results; the returned error is
// reserved for cancellation.
func (s *Service) AnalyzeBatch(ctx context.Context, reqs []plan.Request, parallel int) ([]BatchResult, error) {
	if parallel <= 0 {
		parallel = 2
	}

	results := make([]BatchResult, len(reqs))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(parallel)

	for i, req := range reqs {
		i, req := i, req
		g.Go(func() error {
			snap, err := s.Analyze(ctx, req, nil)
			if err != nil {
				results[i] = BatchResult{Request: req, Err: err}
				return ctx.Err()
			}
			results[i] = BatchResult{Request: req, Snapshot: &snap}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return results, err
	}
	return results, nil
}

// Breakdown returns the ledger's spend summary over a recency window.
func (s *Service) Breakdown(windowDays int) cost.Breakdown {
	return s.ledger.Breakdown(windowDays)
}

// History returns execution records, optionally filtered.
func (s *Service) History(windowDays int, taskType string) []cost.ExecutionRecord {
	return s.ledger.History(windowDays, taskType)
}

// BudgetStatus reports where total spend stands against the budget.
func (s *Service) BudgetStatus() cost.BudgetStatus {
	return s.ledger.BudgetStatus()
}

// Predict refines a raw estimate with historical accuracy for the task type.
func (s *Service) Predict(taskType string, input map[string]any) (cost.Prediction, error) {
	return s.ledger.Predict(taskType, input)
}

// SavedPlans lists persisted plan snapshots, newest first.
func (s *Service) SavedPlans(status string, limit int) ([]plan.Snapshot, error) {
	if s.store == nil {
		return nil, ErrNoStore
	}
	return s.store.ListPlans(status, limit)
}

// SavedPlan fetches one persisted plan with its nodes; nil when not found.
func (s *Service) SavedPlan(id string) (*plan.Snapshot, error) {
	if s.store == nil {
		return nil, ErrNoStore
	}
	return s.store.GetPlan(id)
}

func (s *Service) savePlan(snap plan.Snapshot) {
	if s.store == nil {
		return
	}
	if err := s.store.SavePlan(snap); err != nil {
		log.Printf("Analysis: save plan %s: %v", snap.ID, err)
	}
}

// eventSink journals every scheduling event and forwards it to the extra
// sink when one is given.
func (s *Service) eventSink(extra scheduler.EventFunc) scheduler.EventFunc {
	return func(e scheduler.Event) {
		if s.journal != nil {
			var inputs any
			if e.TaskType != "" {
				inputs = map[string]any{"task_type": e.TaskType, "cost": e.Cost}
			}
			if _, err := s.journal.Record(string(e.Type), inputs, outcomeFor(e.Type), e.PlanID, e.NodeID, e.Message); err != nil {
				log.Printf("Analysis: journal %s: %v", e.Type, err)
			}
		}
		if extra != nil {
			extra(e)
		}
	}
}

func outcomeFor(t scheduler.EventType) string {
	switch t {
	case scheduler.EventNodeFailed:
		return "failure"
	case scheduler.EventNodeSkipped:
		return "skipped"
	case scheduler.EventNodeRequeued:
		return "retry"
	case scheduler.EventBudgetAlert:
		return "warning"
	default:
		return "success"
	}
}
