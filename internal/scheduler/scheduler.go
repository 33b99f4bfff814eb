// Package scheduler executes dependency plans round by round under a
// bounded worker pool.
package scheduler

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"sync"
	"time"

	"github.com/karstlund/prospector/internal/connectors"
	"github.com/karstlund/prospector/internal/cost"
	"github.com/karstlund/prospector/internal/plan"
	"github.com/karstlund/prospector/internal/registry"
)

// Orchestrator drives plans to a terminal status: it schedules ready nodes,
// dispatches them through the task runner under a concurrency cap and
// settles every attempt with the cost ledger.
type Orchestrator struct {
	reg     *registry.Registry
	ledger  *cost.Ledger
	invoker connectors.Invoker
	config  *Config
	events  EventFunc
}

// New creates an orchestrator. A nil config uses defaults.
func New(reg *registry.Registry, ledger *cost.Ledger, invoker connectors.Invoker, cfg *Config) *Orchestrator {
	if cfg == nil {
		cfg = DefaultConfig()
	} else {
		c := *cfg
		if c.MaxConcurrency <= 0 {
			c.MaxConcurrency = DefaultConfig().MaxConcurrency
		}
		if c.PollInterval <= 0 {
			c.PollInterval = DefaultConfig().PollInterval
		}
		cfg = &c
	}
	return &Orchestrator{
		reg:     reg,
		ledger:  ledger,
		invoker: invoker,
		config:  cfg,
	}
}

// SetEvents registers a sink for scheduling events. Call before Execute.
func (o *Orchestrator) SetEvents(fn EventFunc) {
	o.events = fn
}

func (o *Orchestrator) emit(e Event) {
	if o.events == nil {
		return
	}
	e.Timestamp = time.Now()
	o.events(e)
}

// Execute runs the plan until every node is terminal. Rounds advance only
// after all dispatches of the current round have settled, so a node's
// running transition is strictly ordered after its dependencies' completed
// transitions. It returns ctx.Err() when cancelled between rounds;
// scheduling faults such as budget exhaustion or circular dependencies fail
// the plan without returning an error.
func (o *Orchestrator) Execute(ctx context.Context, p *plan.Plan) error {
	p.Start()
	o.emit(Event{Type: EventPlanStarted, PlanID: p.ID(), Cost: p.TotalEstimatedCost(), Message: fmt.Sprintf("%d nodes", p.NodeCount())})
	log.Printf("Scheduler: plan %s started with %d nodes, estimated cost %.2f", p.ID(), p.NodeCount(), p.TotalEstimatedCost())

	sem := make(chan struct{}, o.config.MaxConcurrency)
	alerted := false

	for p.HasOutstanding() {
		if err := ctx.Err(); err != nil {
			for _, id := range p.CancelRemaining("execution cancelled") {
				o.emit(Event{Type: EventNodeSkipped, PlanID: p.ID(), NodeID: id, Message: "execution cancelled"})
			}
			p.FailPlan("execution cancelled")
			p.Finish()
			o.emit(Event{Type: EventPlanFinished, PlanID: p.ID(), Cost: p.TotalActualCost(), Message: string(p.Status())})
			log.Printf("Scheduler: plan %s cancelled", p.ID())
			return err
		}

		ready := p.ReadyNodes()
		if len(ready) == 0 {
			if p.RunningCount() > 0 {
				o.config.sleep(ctx, o.config.PollInterval)
				continue
			}
			// Outstanding nodes but nothing ready and nothing running:
			// the remaining dependencies can never be satisfied.
			for _, id := range p.FailPending("circular dependency detected") {
				o.emit(Event{Type: EventNodeFailed, PlanID: p.ID(), NodeID: id, Message: "circular dependency detected"})
			}
			log.Printf("Scheduler: plan %s has unresolvable dependencies", p.ID())
			break
		}

		p.MarkScheduled(ready)
		var wg sync.WaitGroup
		for _, id := range ready {
			wg.Add(1)
			go func(nodeID string) {
				defer wg.Done()
				o.executeNode(ctx, p, nodeID, sem)
			}(id)
		}
		wg.Wait()

		for _, id := range p.SkipUnsatisfiable() {
			snap, err := p.Node(id)
			if err != nil {
				continue
			}
			o.emit(Event{Type: EventNodeSkipped, PlanID: p.ID(), NodeID: id, TaskType: snap.TaskType, Message: snap.ErrorMessage})
			log.Printf("Scheduler: node %s (%s) skipped: %s", id, snap.TaskType, snap.ErrorMessage)
		}

		if !alerted {
			if st := o.ledger.BudgetStatus(); st.UsedPct != nil && *st.UsedPct >= st.AlertThresholdPct {
				alerted = true
				o.emit(Event{Type: EventBudgetAlert, PlanID: p.ID(), Cost: st.TotalCost,
					Message: fmt.Sprintf("%.1f%% of budget used", *st.UsedPct)})
			}
		}

		if p.OverBudget() {
			total := p.TotalActualCost()
			limit := *p.MaxBudget()
			for _, id := range p.SkipRemaining("budget exceeded") {
				o.emit(Event{Type: EventNodeSkipped, PlanID: p.ID(), NodeID: id, Message: "budget exceeded"})
			}
			p.FailPlan(fmt.Sprintf("budget exceeded: %.2f > %.2f", total, limit))
			log.Printf("Scheduler: plan %s stopped, budget exceeded: %.2f > %.2f", p.ID(), total, limit)
			break
		}
	}

	p.Finish()
	snap := p.Snapshot()
	o.emit(Event{Type: EventPlanFinished, PlanID: p.ID(), Cost: snap.TotalActualCost, Message: string(snap.Status)})
	log.Printf("Scheduler: plan %s finished: %s, actual cost %.2f", p.ID(), snap.Status, snap.TotalActualCost)
	return nil
}

// executeNode runs one scheduled node end to end. Every path settles the
// node's status before returning, and the semaphore slot is released on
// every path.
func (o *Orchestrator) executeNode(ctx context.Context, p *plan.Plan, nodeID string, sem chan struct{}) {
	snap, err := p.Node(nodeID)
	if err != nil {
		log.Printf("Scheduler: node %s: %v", nodeID, err)
		return
	}

	input, err := p.ResolveInput(nodeID)
	if err != nil {
		o.settleFailure(ctx, p, nodeID, snap.TaskType, err.Error())
		return
	}

	sem <- struct{}{}
	defer func() { <-sem }()

	if err := p.BeginNode(nodeID); err != nil {
		log.Printf("Scheduler: begin node %s: %v", nodeID, err)
		return
	}
	o.emit(Event{Type: EventNodeDispatched, PlanID: p.ID(), NodeID: nodeID, TaskType: snap.TaskType, Cost: snap.EstimatedCost})
	log.Printf("Scheduler: dispatching node %s (%s)", nodeID, snap.TaskType)

	input, err = o.ledger.StartExecution(snap.TaskType, input, nodeID, cost.StartOptions{
		CheckBudget: true,
		Optimize:    o.config.Optimize,
	})
	if err != nil {
		o.settleFailure(ctx, p, nodeID, snap.TaskType, err.Error())
		return
	}

	cfg, err := o.reg.Get(snap.TaskType)
	if err != nil {
		o.settleFailure(ctx, p, nodeID, snap.TaskType, err.Error())
		return
	}

	// The remote run is never cancelled mid-flight; cancellation takes
	// effect between rounds. The per-node timeout is the only bound here.
	timeout := time.Duration(snap.TimeoutSecs) * time.Second
	invokeCtx := context.Background()
	if timeout > 0 {
		var cancel context.CancelFunc
		invokeCtx, cancel = context.WithTimeout(invokeCtx, timeout)
		defer cancel()
	}

	res, err := o.invoker.Invoke(invokeCtx, connectors.InvokeRequest{
		TaskType:    snap.TaskType,
		RemoteActor: cfg.RemoteActor,
		Input:       input,
		Timeout:     timeout,
		MemoryMB:    snap.MemoryMB,
	})
	switch {
	case err != nil:
		o.settleFailure(ctx, p, nodeID, snap.TaskType, err.Error())
	case !res.Success:
		msg := res.ErrorMessage
		if msg == "" {
			msg = "task run reported failure"
		}
		o.settleFailure(ctx, p, nodeID, snap.TaskType, msg)
	default:
		dur := res.Duration.Seconds()
		o.ledger.RecordExecution(snap.TaskType, nodeID, res.ActualCost, &dur, map[string]string{
			"plan_id":   p.ID(),
			"run_id":    res.RunID,
			"connector": o.invoker.Name(),
			"items":     strconv.Itoa(res.ItemCount),
		})
		if err := p.CompleteNode(nodeID, res.ActualCost, res.ResultRef, res.Outputs); err != nil {
			log.Printf("Scheduler: complete node %s: %v", nodeID, err)
			return
		}
		o.emit(Event{Type: EventNodeCompleted, PlanID: p.ID(), NodeID: nodeID, TaskType: snap.TaskType, Cost: res.ActualCost, Message: res.ResultRef})
		log.Printf("Scheduler: node %s (%s) completed, cost %.2f", nodeID, snap.TaskType, res.ActualCost)
	}
}

// settleFailure requeues the node when retries remain, otherwise fails it
// permanently. The linear backoff runs before the caller's deferred slot
// release so a requeued node cannot thrash a free slot.
func (o *Orchestrator) settleFailure(ctx context.Context, p *plan.Plan, nodeID, taskType, msg string) {
	requeued, retries := p.RetryOrFail(nodeID, msg)
	if requeued {
		backoff := time.Duration(1+retries*2) * time.Second
		o.emit(Event{Type: EventNodeRequeued, PlanID: p.ID(), NodeID: nodeID, TaskType: taskType,
			Message: fmt.Sprintf("retry %d: %s", retries, msg)})
		log.Printf("Scheduler: node %s (%s) failed, retry %d in %s: %s", nodeID, taskType, retries, backoff, msg)
		o.config.sleep(ctx, backoff)
		return
	}
	o.emit(Event{Type: EventNodeFailed, PlanID: p.ID(), NodeID: nodeID, TaskType: taskType, Message: msg})
	log.Printf("Scheduler: node %s (%s) failed permanently: %s", nodeID, taskType, msg)
}
