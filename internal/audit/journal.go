// Package audit provides append-only decision journaling for prospector.
// Every scheduling and spend decision is written as one JSON line so runs
// can be reconstructed after the fact.
package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Entry is one journaled decision.
type Entry struct {
	ID         string    `json:"id"`
	Action     string    `json:"action"`
	InputsHash string    `json:"inputs_hash,omitempty"`
	Outcome    string    `json:"outcome"`
	PlanID     string    `json:"plan_id,omitempty"`
	NodeID     string    `json:"node_id,omitempty"`
	Details    string    `json:"details,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// Journal appends entries to a JSONL file. Safe for concurrent use.
type Journal struct {
	mu   sync.Mutex
	f    *os.File
	path string
}

// Open opens (or creates) the journal file in append mode.
func Open(path string) (*Journal, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create journal directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	return &Journal{f: f, path: path}, nil
}

// Path returns the journal file location.
func (j *Journal) Path() string {
	return j.path
}

// Close closes the journal file.
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.f.Close()
}

// Record writes one entry for a state-mutating decision. inputs may be nil;
// otherwise its hash ties the entry to the exact payload acted upon.
func (j *Journal) Record(action string, inputs interface{}, outcome, planID, nodeID, details string) (*Entry, error) {
	entry := &Entry{
		ID:        uuid.New().String(),
		Action:    action,
		Outcome:   outcome,
		PlanID:    planID,
		NodeID:    nodeID,
		Details:   details,
		Timestamp: time.Now().UTC(),
	}
	if inputs != nil {
		entry.InputsHash = hashInputs(inputs)
	}

	line, err := json.Marshal(entry)
	if err != nil {
		return nil, fmt.Errorf("encode entry: %w", err)
	}

	j.mu.Lock()
	defer j.mu.Unlock()
	if _, err := j.f.Write(append(line, '\n')); err != nil {
		return nil, fmt.Errorf("append entry: %w", err)
	}
	return entry, nil
}

// hashInputs creates a SHA256 hash of the inputs for reproducibility.
func hashInputs(inputs interface{}) string {
	data, err := json.Marshal(inputs)
	if err != nil {
		return "hash_error"
	}
	hash := sha256.Sum256(data)
	return hex.EncodeToString(hash[:])
}
