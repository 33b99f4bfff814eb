package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/karstlund/prospector/internal/plan"
)

var batchCmd = &cobra.Command{
	Use:   "batch [requests.yaml]",
	Short: "Analyze several prospects from a YAML file",
	Long: `Reads a YAML list of analysis requests and executes them with a bounded
number of analyses in flight. Each entry uses the request fields
(name, company, linkedin_url, twitter_handle, facebook_page, email,
duns_number, crunchbase_url, max_budget, strategy, include_* flags).`,
	Args: cobra.ExactArgs(1),
	RunE: runBatch,
}

var (
	batchParallel int
	batchJSON     bool
	batchDryRun   bool
)

func init() {
	batchCmd.Flags().IntVar(&batchParallel, "parallel", 2, "Analyses in flight at once")
	batchCmd.Flags().BoolVar(&batchJSON, "json", false, "Print results as JSON")
	batchCmd.Flags().BoolVar(&batchDryRun, "dry-run", false, "Simulate runs instead of calling the actor hub")
}

// loadRequests decodes each list entry onto a fresh default request so the
// include flags stay on unless the entry switches them off.
func loadRequests(path string) ([]plan.Request, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var items []yaml.Node
	if err := yaml.Unmarshal(data, &items); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if len(items) == 0 {
		return nil, fmt.Errorf("%s contains no requests", path)
	}

	reqs := make([]plan.Request, 0, len(items))
	for i, item := range items {
		req := plan.DefaultRequest()
		if err := item.Decode(&req); err != nil {
			return nil, fmt.Errorf("request %d: %w", i+1, err)
		}
		reqs = append(reqs, req)
	}
	return reqs, nil
}

func runBatch(cmd *cobra.Command, args []string) error {
	override := ""
	if batchDryRun {
		override = "dryrun"
	}
	env, err := loadEnv(override, nil)
	if err != nil {
		return err
	}
	defer env.Close()

	reqs, err := loadRequests(args[0])
	if err != nil {
		return err
	}
	for i := range reqs {
		if reqs[i].MaxBudget == nil && env.cfg.DefaultBudget > 0 {
			b := env.cfg.DefaultBudget
			reqs[i].MaxBudget = &b
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	results, err := env.svc.AnalyzeBatch(ctx, reqs, batchParallel)
	if err != nil {
		return err
	}

	if batchJSON {
		return printJSON(results)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "PROSPECT\tSTATUS\tNODES\tCOST\tERROR")
	failures := 0
	for _, r := range results {
		label := r.Request.Label()
		switch {
		case r.Err != nil:
			failures++
			fmt.Fprintf(w, "%s\t-\t-\t-\t%s\n", label, truncate(r.Err.Error(), 60))
		case r.Snapshot != nil:
			if r.Snapshot.Status != plan.PlanCompleted {
				failures++
			}
			fmt.Fprintf(w, "%s\t%s\t%d\t$%.2f\t%s\n",
				label, r.Snapshot.Status, len(r.Snapshot.Nodes),
				r.Snapshot.TotalActualCost, truncate(r.Snapshot.ErrorMessage, 60))
		}
	}
	w.Flush()

	if failures > 0 {
		return fmt.Errorf("%d of %d analyses failed", failures, len(results))
	}
	fmt.Printf("%d analyses completed\n", len(results))
	return nil
}
