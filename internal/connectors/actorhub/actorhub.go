// Package actorhub provides the task runner backed by the actor hub's REST
// API: it starts a remote run, polls until the run reaches a terminal
// status and maps the reported usage to an execution cost.
package actorhub

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/karstlund/prospector/internal/connectors"
)

var ErrNoToken = errors.New("no API token configured")

// computeUnitCostUSD converts compute units to dollars when the hub does
// not report a usage total for the run.
const computeUnitCostUSD = 0.001

// Client implements the Invoker interface against the actor hub API.
type Client struct {
	baseURL      string
	token        string
	httpClient   *http.Client
	pollInterval time.Duration
}

// New creates an actor hub client.
func New(baseURL, token string) *Client {
	return &Client{
		baseURL:      strings.TrimRight(baseURL, "/"),
		token:        token,
		httpClient:   &http.Client{Timeout: 30 * time.Second},
		pollInterval: 2 * time.Second,
	}
}

// Name returns the connector identifier.
func (c *Client) Name() string {
	return "actorhub"
}

type runData struct {
	ID               string     `json:"id"`
	Status           string     `json:"status"`
	StatusMessage    string     `json:"statusMessage,omitempty"`
	StartedAt        *time.Time `json:"startedAt,omitempty"`
	FinishedAt       *time.Time `json:"finishedAt,omitempty"`
	DefaultDatasetID string     `json:"defaultDatasetId,omitempty"`
	UsageTotalUSD    float64    `json:"usageTotalUsd,omitempty"`
	Stats            struct {
		ComputeUnits float64 `json:"computeUnits,omitempty"`
	} `json:"stats,omitempty"`
}

type datasetData struct {
	ID        string `json:"id"`
	ItemCount int    `json:"itemCount"`
}

func terminal(status string) bool {
	switch status {
	case "SUCCEEDED", "FAILED", "TIMED-OUT", "ABORTED":
		return true
	}
	return false
}

// Invoke starts the remote actor run and blocks until it finishes or ctx
// expires. A run that finishes unsuccessfully is reported via Success and
// ErrorMessage, not as an error.
func (c *Client) Invoke(ctx context.Context, req connectors.InvokeRequest) (*connectors.InvokeResult, error) {
	if c.token == "" {
		return nil, ErrNoToken
	}

	started := time.Now()
	run, err := c.startRun(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("starting %s: %w", req.RemoteActor, err)
	}

	run, err = c.waitForRun(ctx, run.ID)
	if err != nil {
		return nil, fmt.Errorf("waiting for run %s: %w", run.ID, err)
	}

	actualCost := run.UsageTotalUSD
	if actualCost == 0 {
		actualCost = run.Stats.ComputeUnits * computeUnitCostUSD
	}

	duration := time.Since(started)
	if run.StartedAt != nil && run.FinishedAt != nil {
		duration = run.FinishedAt.Sub(*run.StartedAt)
	}

	result := &connectors.InvokeResult{
		RunID:      run.ID,
		Success:    run.Status == "SUCCEEDED",
		ActualCost: actualCost,
		Duration:   duration,
		ResultRef:  run.DefaultDatasetID,
		Outputs:    map[string]any{"status": run.Status},
	}
	if !result.Success {
		result.ErrorMessage = run.StatusMessage
		if result.ErrorMessage == "" {
			result.ErrorMessage = fmt.Sprintf("run finished with status %s", run.Status)
		}
		return result, nil
	}

	if run.DefaultDatasetID != "" {
		// Item counts are informational; a dataset lookup failure does not
		// fail the run.
		if ds, err := c.getDataset(ctx, run.DefaultDatasetID); err == nil {
			result.ItemCount = ds.ItemCount
			result.Outputs["itemsCount"] = ds.ItemCount
		}
	}
	return result, nil
}

// startRun submits the run and returns the hub's initial run record.
func (c *Client) startRun(ctx context.Context, req connectors.InvokeRequest) (*runData, error) {
	body, err := json.Marshal(req.Input)
	if err != nil {
		return nil, fmt.Errorf("encoding input: %w", err)
	}

	// Actor references use a tilde in URL paths.
	actorPath := strings.ReplaceAll(req.RemoteActor, "/", "~")
	url := fmt.Sprintf("%s/v2/acts/%s/runs?timeout=%d", c.baseURL, actorPath, int(req.Timeout.Seconds()))
	if req.MemoryMB > 0 {
		url = fmt.Sprintf("%s&memory=%d", url, req.MemoryMB)
	}

	var env struct {
		Data runData `json:"data"`
	}
	if err := c.do(ctx, http.MethodPost, url, bytes.NewReader(body), &env); err != nil {
		return nil, err
	}
	if env.Data.ID == "" {
		return nil, errors.New("hub returned no run id")
	}
	return &env.Data, nil
}

// waitForRun polls the run until it reaches a terminal status.
func (c *Client) waitForRun(ctx context.Context, runID string) (*runData, error) {
	url := fmt.Sprintf("%s/v2/actor-runs/%s", c.baseURL, runID)
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		var env struct {
			Data runData `json:"data"`
		}
		if err := c.do(ctx, http.MethodGet, url, nil, &env); err != nil {
			return nil, err
		}
		if terminal(env.Data.Status) {
			return &env.Data, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (c *Client) getDataset(ctx context.Context, datasetID string) (*datasetData, error) {
	url := fmt.Sprintf("%s/v2/datasets/%s", c.baseURL, datasetID)
	var env struct {
		Data datasetData `json:"data"`
	}
	if err := c.do(ctx, http.MethodGet, url, nil, &env); err != nil {
		return nil, err
	}
	return &env.Data, nil
}

// do performs one authenticated request and decodes the JSON response.
func (c *Client) do(ctx context.Context, method, url string, body io.Reader, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("hub returned %d: %s", resp.StatusCode, apiErrorMessage(resp.Body))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// apiErrorMessage extracts the hub's error message from a failed response,
// falling back to the raw body.
func apiErrorMessage(r io.Reader) string {
	raw, err := io.ReadAll(io.LimitReader(r, 4096))
	if err != nil {
		return "unreadable error body"
	}
	var env struct {
		Error struct {
			Type    string `json:"type"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(raw, &env); err == nil && env.Error.Message != "" {
		return env.Error.Message
	}
	return strings.TrimSpace(string(raw))
}
