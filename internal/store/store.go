// Package store provides SQLite-backed persistence for prospector: terminal
// plan snapshots for history inspection and the cost ledger's execution
// records.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/karstlund/prospector/internal/cost"
	"github.com/karstlund/prospector/internal/plan"
)

// Store provides access to the prospector SQLite database.
type Store struct {
	db *sql.DB
}

// New creates a new Store and runs migrations.
func New(dbPath string) (*Store, error) {
	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	// Open with WAL mode for better concurrency
	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	// SQLite only supports one writer at a time
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database connection is alive.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// migrate runs idempotent schema migrations.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS plans (
		id TEXT PRIMARY KEY,
		label TEXT,
		status TEXT NOT NULL,
		max_budget REAL,
		total_estimated_cost REAL NOT NULL DEFAULT 0,
		total_actual_cost REAL NOT NULL DEFAULT 0,
		error_message TEXT,
		created_at DATETIME NOT NULL,
		started_at DATETIME,
		ended_at DATETIME
	);

	CREATE TABLE IF NOT EXISTS plan_nodes (
		id TEXT PRIMARY KEY,
		plan_id TEXT NOT NULL,
		task_type TEXT NOT NULL,
		input TEXT,
		depends_on TEXT,
		status TEXT NOT NULL,
		estimated_cost REAL NOT NULL DEFAULT 0,
		actual_cost REAL,
		retries INTEGER NOT NULL DEFAULT 0,
		result_ref TEXT,
		error_message TEXT,
		started_at DATETIME,
		ended_at DATETIME,
		FOREIGN KEY (plan_id) REFERENCES plans(id)
	);

	CREATE TABLE IF NOT EXISTS cost_records (
		id TEXT PRIMARY KEY,
		task_type TEXT NOT NULL,
		task_name TEXT,
		node_id TEXT,
		actual_cost REAL NOT NULL,
		estimated_cost REAL,
		duration_secs REAL,
		metadata TEXT,
		timestamp DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_plans_status ON plans(status);
	CREATE INDEX IF NOT EXISTS idx_plan_nodes_plan_id ON plan_nodes(plan_id);
	CREATE INDEX IF NOT EXISTS idx_cost_records_task_type ON cost_records(task_type);
	CREATE INDEX IF NOT EXISTS idx_cost_records_timestamp ON cost_records(timestamp);
	`

	_, err := s.db.Exec(schema)
	return err
}

// --- Plan Operations ---

// SavePlan upserts a plan snapshot and all of its nodes in one transaction.
// Saving the same plan again replaces its node rows, so it can be called once
// when the plan is created and again when it reaches a terminal status.
func (s *Store) SavePlan(snap plan.Snapshot) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(
		`INSERT OR REPLACE INTO plans (id, label, status, max_budget, total_estimated_cost, total_actual_cost, error_message, created_at, started_at, ended_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		snap.ID, snap.Label, snap.Status, nullFloat(snap.MaxBudget),
		snap.TotalEstimatedCost, snap.TotalActualCost, snap.ErrorMessage,
		snap.CreatedAt.UTC(), nullTime(snap.StartedAt), nullTime(snap.EndedAt),
	)
	if err != nil {
		return fmt.Errorf("upsert plan: %w", err)
	}

	if _, err := tx.Exec(`DELETE FROM plan_nodes WHERE plan_id = ?`, snap.ID); err != nil {
		return fmt.Errorf("clear plan nodes: %w", err)
	}

	for _, n := range snap.Nodes {
		inputJSON, err := json.Marshal(n.Input)
		if err != nil {
			return fmt.Errorf("encode node input: %w", err)
		}
		depsJSON, err := json.Marshal(n.DependsOn)
		if err != nil {
			return fmt.Errorf("encode node deps: %w", err)
		}
		_, err = tx.Exec(
			`INSERT INTO plan_nodes (id, plan_id, task_type, input, depends_on, status, estimated_cost, actual_cost, retries, result_ref, error_message, started_at, ended_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			n.ID, snap.ID, n.TaskType, string(inputJSON), string(depsJSON), n.Status,
			n.EstimatedCost, nullFloat(n.ActualCost), n.Retries, n.ResultRef,
			n.ErrorMessage, nullTime(n.StartedAt), nullTime(n.EndedAt),
		)
		if err != nil {
			return fmt.Errorf("insert node: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// GetPlan retrieves a saved plan with its nodes. Returns (nil, nil) when the
// plan does not exist.
func (s *Store) GetPlan(id string) (*plan.Snapshot, error) {
	snap := &plan.Snapshot{}
	var maxBudget sql.NullFloat64
	var errMsg sql.NullString
	var label sql.NullString
	var startedAt, endedAt sql.NullTime

	err := s.db.QueryRow(
		`SELECT id, label, status, max_budget, total_estimated_cost, total_actual_cost, error_message, created_at, started_at, ended_at
		 FROM plans WHERE id = ?`,
		id,
	).Scan(&snap.ID, &label, &snap.Status, &maxBudget, &snap.TotalEstimatedCost,
		&snap.TotalActualCost, &errMsg, &snap.CreatedAt, &startedAt, &endedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query plan: %w", err)
	}
	snap.Label = label.String
	snap.ErrorMessage = errMsg.String
	if maxBudget.Valid {
		snap.MaxBudget = &maxBudget.Float64
	}
	if startedAt.Valid {
		snap.StartedAt = &startedAt.Time
	}
	if endedAt.Valid {
		snap.EndedAt = &endedAt.Time
	}

	nodes, err := s.planNodes(id)
	if err != nil {
		return nil, err
	}
	snap.Nodes = nodes
	return snap, nil
}

func (s *Store) planNodes(planID string) ([]plan.NodeSnapshot, error) {
	rows, err := s.db.Query(
		`SELECT id, task_type, input, depends_on, status, estimated_cost, actual_cost, retries, result_ref, error_message, started_at, ended_at
		 FROM plan_nodes WHERE plan_id = ? ORDER BY rowid`,
		planID,
	)
	if err != nil {
		return nil, fmt.Errorf("query plan nodes: %w", err)
	}
	defer rows.Close()

	var nodes []plan.NodeSnapshot
	for rows.Next() {
		var n plan.NodeSnapshot
		var inputJSON, depsJSON sql.NullString
		var actualCost sql.NullFloat64
		var resultRef, errMsg sql.NullString
		var startedAt, endedAt sql.NullTime

		if err := rows.Scan(&n.ID, &n.TaskType, &inputJSON, &depsJSON, &n.Status,
			&n.EstimatedCost, &actualCost, &n.Retries, &resultRef, &errMsg,
			&startedAt, &endedAt); err != nil {
			return nil, fmt.Errorf("scan node: %w", err)
		}

		if inputJSON.Valid && inputJSON.String != "" {
			json.Unmarshal([]byte(inputJSON.String), &n.Input)
		}
		if depsJSON.Valid && depsJSON.String != "" {
			json.Unmarshal([]byte(depsJSON.String), &n.DependsOn)
		}
		if actualCost.Valid {
			n.ActualCost = &actualCost.Float64
		}
		n.ResultRef = resultRef.String
		n.ErrorMessage = errMsg.String
		if startedAt.Valid {
			n.StartedAt = &startedAt.Time
		}
		if endedAt.Valid {
			n.EndedAt = &endedAt.Time
		}
		nodes = append(nodes, n)
	}
	return nodes, rows.Err()
}

// ListPlans returns saved plans without their nodes, newest first, optionally
// filtered by status. limit <= 0 means no limit.
func (s *Store) ListPlans(status string, limit int) ([]plan.Snapshot, error) {
	query := `SELECT id, label, status, max_budget, total_estimated_cost, total_actual_cost, error_message, created_at, started_at, ended_at FROM plans`
	var args []interface{}

	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY created_at DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query plans: %w", err)
	}
	defer rows.Close()

	var plans []plan.Snapshot
	for rows.Next() {
		var snap plan.Snapshot
		var maxBudget sql.NullFloat64
		var label, errMsg sql.NullString
		var startedAt, endedAt sql.NullTime

		if err := rows.Scan(&snap.ID, &label, &snap.Status, &maxBudget,
			&snap.TotalEstimatedCost, &snap.TotalActualCost, &errMsg,
			&snap.CreatedAt, &startedAt, &endedAt); err != nil {
			return nil, fmt.Errorf("scan plan: %w", err)
		}
		snap.Label = label.String
		snap.ErrorMessage = errMsg.String
		if maxBudget.Valid {
			snap.MaxBudget = &maxBudget.Float64
		}
		if startedAt.Valid {
			snap.StartedAt = &startedAt.Time
		}
		if endedAt.Valid {
			snap.EndedAt = &endedAt.Time
		}
		plans = append(plans, snap)
	}
	return plans, rows.Err()
}

// --- Cost Record Operations ---

// AppendRecord inserts one execution record. Implements cost.RecordStore.
func (s *Store) AppendRecord(rec cost.ExecutionRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now().UTC()
	}

	var metadataJSON string
	if len(rec.Metadata) > 0 {
		raw, err := json.Marshal(rec.Metadata)
		if err != nil {
			return fmt.Errorf("encode metadata: %w", err)
		}
		metadataJSON = string(raw)
	}

	_, err := s.db.Exec(
		`INSERT INTO cost_records (id, task_type, task_name, node_id, actual_cost, estimated_cost, duration_secs, metadata, timestamp)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.TaskType, rec.TaskName, rec.NodeID, rec.ActualCost,
		nullFloat(rec.EstimatedCost), nullFloat(rec.DurationSecs),
		metadataJSON, rec.Timestamp.UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert cost record: %w", err)
	}
	return nil
}

// LoadRecords returns every execution record, oldest first. Implements
// cost.RecordStore.
func (s *Store) LoadRecords() ([]cost.ExecutionRecord, error) {
	rows, err := s.db.Query(
		`SELECT id, task_type, task_name, node_id, actual_cost, estimated_cost, duration_secs, metadata, timestamp
		 FROM cost_records ORDER BY timestamp ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("query cost records: %w", err)
	}
	defer rows.Close()

	var records []cost.ExecutionRecord
	for rows.Next() {
		var rec cost.ExecutionRecord
		var taskName, nodeID, metadataJSON sql.NullString
		var estimated, duration sql.NullFloat64

		if err := rows.Scan(&rec.ID, &rec.TaskType, &taskName, &nodeID,
			&rec.ActualCost, &estimated, &duration, &metadataJSON, &rec.Timestamp); err != nil {
			return nil, fmt.Errorf("scan cost record: %w", err)
		}
		rec.TaskName = taskName.String
		rec.NodeID = nodeID.String
		if estimated.Valid {
			rec.EstimatedCost = &estimated.Float64
		}
		if duration.Valid {
			rec.DurationSecs = &duration.Float64
		}
		if metadataJSON.Valid && metadataJSON.String != "" {
			json.Unmarshal([]byte(metadataJSON.String), &rec.Metadata)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func nullFloat(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}
