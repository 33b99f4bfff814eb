package cost

import (
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/karstlund/prospector/internal/registry"
)

// ErrBudgetExceeded is returned by StartExecution when dispatching a task
// would push the running total past the configured ceiling. The wrapped
// message carries the current total, the attempted estimate and the limit.
var ErrBudgetExceeded = errors.New("budget exceeded")

// DefaultAlertThresholdPct is the budget usage percentage at which the
// ledger starts logging soft warnings.
const DefaultAlertThresholdPct = 80.0

// budgetHeadroom scales the remaining budget passed to the optimizer as a
// hint, leaving room for sibling tasks dispatched in the same round.
const budgetHeadroom = 0.7

// Options configures a Ledger.
type Options struct {
	BudgetLimit       *float64    // nil means unconstrained
	AlertThresholdPct float64     // defaults to DefaultAlertThresholdPct
	Strategy          Strategy    // defaults to StrategyBalanced
	Store             RecordStore // optional persistence
}

// StartOptions controls a single StartExecution call.
type StartOptions struct {
	CheckBudget bool
	Optimize    bool
}

// Ledger owns the running spend total, the budget ceiling and the history of
// execution cost records. Construct one explicitly per process (or per test)
// and hand it to the builder and scheduler; there is no shared instance.
// All methods are safe for concurrent use.
type Ledger struct {
	reg *registry.Registry

	mu        sync.Mutex
	totalCost float64
	limit     *float64
	alertPct  float64
	strategy  Strategy
	records   []ExecutionRecord
	inFlight  map[string]registry.CostEstimate
	store     RecordStore
}

// NewLedger creates a ledger, seeding its total and history from the store
// when one is configured.
func NewLedger(reg *registry.Registry, opts Options) (*Ledger, error) {
	l := &Ledger{
		reg:      reg,
		limit:    opts.BudgetLimit,
		alertPct: opts.AlertThresholdPct,
		strategy: opts.Strategy,
		inFlight: make(map[string]registry.CostEstimate),
		store:    opts.Store,
	}
	if l.alertPct == 0 {
		l.alertPct = DefaultAlertThresholdPct
	}
	if l.strategy == "" {
		l.strategy = StrategyBalanced
	}
	if l.store != nil {
		records, err := l.store.LoadRecords()
		if err != nil {
			return nil, fmt.Errorf("load cost history: %w", err)
		}
		l.records = records
		for _, rec := range records {
			l.totalCost += rec.ActualCost
		}
		if len(records) > 0 {
			log.Printf("CostLedger: loaded %d records, total %.2f USD", len(records), l.totalCost)
		}
	}
	return l, nil
}

// Estimate computes the pre-dispatch cost projection for a task input.
func (l *Ledger) Estimate(taskType string, input map[string]any) (registry.CostEstimate, error) {
	return l.reg.Estimate(taskType, input)
}

// CheckBudget reports whether an execution with the given estimate fits
// under the ceiling. Crossing the alert threshold logs a warning but still
// passes; only the hard limit fails the check.
func (l *Ledger) CheckBudget(taskType string, estimated float64, nodeID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.checkLocked(taskType, estimated, nodeID)
}

func (l *Ledger) checkLocked(taskType string, estimated float64, nodeID string) bool {
	if l.limit == nil {
		return true
	}
	projected := l.totalCost + estimated

	if projected / *l.limit * 100 >= l.alertPct {
		log.Printf("CostLedger: budget alert: projected %.2f of %.2f USD (threshold %.0f%%, task %s, node %s)",
			projected, *l.limit, l.alertPct, taskType, nodeID)
	}
	if projected > *l.limit {
		log.Printf("CostLedger: budget limit would be exceeded: %.2f + %.2f > %.2f USD (task %s, node %s)",
			l.totalCost, estimated, *l.limit, taskType, nodeID)
		return false
	}
	return true
}

// StartExecution gates one dispatch: it optionally optimizes the input
// (budget hint = remaining budget scaled by the headroom factor), estimates
// its cost, and either rejects with ErrBudgetExceeded, leaving no state
// behind, or registers the estimate in flight under nodeID and returns the
// input to send.
func (l *Ledger) StartExecution(taskType string, input map[string]any, nodeID string, opts StartOptions) (map[string]any, error) {
	cfg, err := l.reg.Get(taskType)
	if err != nil {
		return nil, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if opts.Optimize {
		var hint *float64
		if l.limit != nil {
			h := (*l.limit - l.totalCost) * budgetHeadroom
			hint = &h
		}
		input = Optimize(cfg, input, l.strategy, hint)
	}

	est, err := l.reg.Estimate(taskType, input)
	if err != nil {
		return nil, err
	}

	if opts.CheckBudget && !l.checkLocked(taskType, est.TotalCost, nodeID) {
		return nil, fmt.Errorf("%w: current total %.4f + estimated %.4f exceeds limit %.4f USD (task %s)",
			ErrBudgetExceeded, l.totalCost, est.TotalCost, *l.limit, taskType)
	}

	l.inFlight[nodeID] = est
	return input, nil
}

// RecordExecution books the actual cost of a finished execution. It never
// fails: the spend already happened externally, so an over-budget outcome is
// reported through the return value, not an error.
func (l *Ledger) RecordExecution(taskType, nodeID string, actualCost float64, durationSecs *float64, metadata map[string]string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	taskName := ""
	if cfg, err := l.reg.Get(taskType); err == nil {
		taskName = cfg.Name
	}

	var estimated *float64
	if est, ok := l.inFlight[nodeID]; ok {
		e := est.TotalCost
		estimated = &e
		delete(l.inFlight, nodeID)
	}

	rec := ExecutionRecord{
		ID:            uuid.New().String(),
		TaskType:      taskType,
		TaskName:      taskName,
		NodeID:        nodeID,
		ActualCost:    actualCost,
		EstimatedCost: estimated,
		DurationSecs:  durationSecs,
		Timestamp:     time.Now(),
		Metadata:      metadata,
	}
	l.records = append(l.records, rec)
	l.totalCost += actualCost

	if l.store != nil {
		if err := l.store.AppendRecord(rec); err != nil {
			log.Printf("CostLedger: failed to persist record %s: %v", rec.ID, err)
		}
	}

	if l.limit != nil && l.totalCost > *l.limit {
		log.Printf("CostLedger: budget exceeded after execution: total %.2f > %.2f USD (task %s, node %s)",
			l.totalCost, *l.limit, taskType, nodeID)
		return false
	}
	return true
}

// Breakdown aggregates recorded spend per task type. windowDays limits the
// aggregation to recent records; zero means all history.
func (l *Ledger) Breakdown(windowDays int) Breakdown {
	l.mu.Lock()
	defer l.mu.Unlock()

	var cutoff time.Time
	if windowDays > 0 {
		cutoff = time.Now().AddDate(0, 0, -windowDays)
	}

	bd := Breakdown{WindowDays: windowDays}
	index := make(map[string]int)
	for _, rec := range l.records {
		if windowDays > 0 && rec.Timestamp.Before(cutoff) {
			continue
		}
		bd.TotalCost += rec.ActualCost
		i, ok := index[rec.TaskType]
		if !ok {
			i = len(bd.PerTaskType)
			index[rec.TaskType] = i
			bd.PerTaskType = append(bd.PerTaskType, TaskTypeCost{TaskType: rec.TaskType, TaskName: rec.TaskName})
		}
		bd.PerTaskType[i].Count++
		bd.PerTaskType[i].TotalCost += rec.ActualCost
	}
	for i := range bd.PerTaskType {
		bd.PerTaskType[i].AvgCost = bd.PerTaskType[i].TotalCost / float64(bd.PerTaskType[i].Count)
	}
	return bd
}

// History returns recorded executions, newest last, optionally filtered by
// recency window and task type.
func (l *Ledger) History(windowDays int, taskType string) []ExecutionRecord {
	l.mu.Lock()
	defer l.mu.Unlock()

	var cutoff time.Time
	if windowDays > 0 {
		cutoff = time.Now().AddDate(0, 0, -windowDays)
	}

	var out []ExecutionRecord
	for _, rec := range l.records {
		if windowDays > 0 && rec.Timestamp.Before(cutoff) {
			continue
		}
		if taskType != "" && rec.TaskType != taskType {
			continue
		}
		out = append(out, rec)
	}
	return out
}

// Predict refines the raw estimate for a task input using the mean
// actual/estimated ratio of prior executions of the same task type, with a
// confidence derived from the ratio variance, plus the mean duration.
func (l *Ledger) Predict(taskType string, input map[string]any) (Prediction, error) {
	est, err := l.reg.Estimate(taskType, input)
	if err != nil {
		return Prediction{}, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	pred := Prediction{
		TaskType:      taskType,
		EstimatedCost: est.TotalCost,
		FixedCost:     est.FixedCost,
		VariableCost:  est.VariableCost,
	}

	var ratios []float64
	var durations []float64
	for _, rec := range l.records {
		if rec.TaskType != taskType {
			continue
		}
		pred.SampleCount++
		if rec.EstimatedCost != nil && *rec.EstimatedCost > 0 {
			ratios = append(ratios, rec.ActualCost / *rec.EstimatedCost)
		}
		if rec.DurationSecs != nil {
			durations = append(durations, *rec.DurationSecs)
		}
	}

	if len(ratios) > 0 {
		mean := 0.0
		for _, r := range ratios {
			mean += r
		}
		mean /= float64(len(ratios))

		adjusted := est.TotalCost * mean
		pred.AdjustedCost = &adjusted

		variance := 0.0
		for _, r := range ratios {
			variance += (r - mean) * (r - mean)
		}
		variance /= float64(len(ratios))

		confidence := 1.0 / (variance + 0.1)
		if confidence > 1.0 {
			confidence = 1.0
		}
		pred.Confidence = &confidence
	}

	if len(durations) > 0 {
		meanDur := 0.0
		for _, d := range durations {
			meanDur += d
		}
		meanDur /= float64(len(durations))
		pred.EstimatedTimeSecs = &meanDur
	}

	return pred, nil
}

// BudgetStatus reports the running total against the configured ceiling.
func (l *Ledger) BudgetStatus() BudgetStatus {
	l.mu.Lock()
	defer l.mu.Unlock()

	status := BudgetStatus{
		TotalCost:         l.totalCost,
		AlertThresholdPct: l.alertPct,
	}
	if l.limit == nil {
		return status
	}

	limit := *l.limit
	status.Limit = &limit

	remaining := limit - l.totalCost
	if remaining < 0 {
		remaining = 0
	}
	usedPct := l.totalCost / limit * 100
	if usedPct > 100 {
		usedPct = 100
	}
	remainingPct := 100 - usedPct

	status.Remaining = &remaining
	status.UsedPct = &usedPct
	status.RemainingPct = &remainingPct
	return status
}

// TotalCost returns the spend booked so far.
func (l *Ledger) TotalCost() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.totalCost
}
