// Package dryrun provides a task runner that simulates executions instead
// of calling the actor hub. Costs come from the registry's estimates, so
// plans run end to end without spending anything.
package dryrun

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/karstlund/prospector/internal/connectors"
	"github.com/karstlund/prospector/internal/registry"
)

// Connector implements the Invoker interface with simulated runs.
type Connector struct {
	reg   *registry.Registry
	delay time.Duration
}

// New creates a dry-run connector. delay is the simulated run time per
// invocation; pass zero for instant runs.
func New(reg *registry.Registry, delay time.Duration) *Connector {
	return &Connector{reg: reg, delay: delay}
}

// Name returns the connector identifier.
func (c *Connector) Name() string {
	return "dryrun"
}

// Invoke simulates one run: it sleeps for the configured delay and reports
// success with the estimated cost as the actual cost.
func (c *Connector) Invoke(ctx context.Context, req connectors.InvokeRequest) (*connectors.InvokeResult, error) {
	est, err := c.reg.Estimate(req.TaskType, req.Input)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	if c.delay > 0 {
		t := time.NewTimer(c.delay)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-t.C:
		}
	}

	runID := fmt.Sprintf("dry-%s", uuid.New().String()[:8])
	items := est.UnitCount
	if items == 0 {
		items = 1
	}

	outputs := map[string]any{
		"status":     "SUCCEEDED",
		"itemsCount": items,
	}
	if u := companyURLFor(req.Input); u != "" {
		outputs["companyUrl"] = u
	}

	return &connectors.InvokeResult{
		RunID:      runID,
		Success:    true,
		ActualCost: est.TotalCost,
		Duration:   time.Since(start),
		ItemCount:  items,
		ResultRef:  fmt.Sprintf("dryrun://%s", runID),
		Outputs:    outputs,
	}, nil
}

// companyURLFor fabricates a company page URL for profile scrapes so that
// dependency bindings resolve during simulated runs.
func companyURLFor(input map[string]any) string {
	urls, ok := input["profileUrls"].([]any)
	if !ok || len(urls) == 0 {
		return ""
	}
	first, ok := urls[0].(string)
	if !ok || first == "" {
		return ""
	}
	slug := strings.Trim(first, "/")
	if i := strings.LastIndex(slug, "/"); i >= 0 {
		slug = slug[i+1:]
	}
	if slug == "" {
		return ""
	}
	return "https://www.linkedin.com/company/" + slug
}
