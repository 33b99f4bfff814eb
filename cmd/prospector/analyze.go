package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/karstlund/prospector/internal/config"
	"github.com/karstlund/prospector/internal/plan"
	"github.com/karstlund/prospector/internal/scheduler"
	"github.com/karstlund/prospector/internal/tui"
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "Build and execute an analysis plan for one prospect",
	Long: `Builds the collection plan for the given identifiers, prices it, and
executes it with budget enforcement. At least one identifier flag
(--linkedin, --twitter, --facebook, --email, --duns, --crunchbase)
is required.`,
	RunE: runAnalyze,
}

var (
	reqName       string
	reqCompany    string
	reqLinkedIn   string
	reqTwitter    string
	reqFacebook   string
	reqEmail      string
	reqDUNS       string
	reqCrunchbase string
	reqBudget     float64
	reqStrategy   string
	reqLinkedInOn bool
	reqSocialOn   bool
	reqCompanyOn  bool

	analyzeConcurrency int
	analyzeOptimize    bool
	analyzeWatch       bool
	analyzeJSON        bool
	analyzeDryRun      bool
)

// requestFlags registers the prospect identifier and budget flags shared by
// analyze and estimate.
func requestFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&reqName, "name", "", "Prospect name")
	cmd.Flags().StringVar(&reqCompany, "company", "", "Company name")
	cmd.Flags().StringVar(&reqLinkedIn, "linkedin", "", "LinkedIn profile URL")
	cmd.Flags().StringVar(&reqTwitter, "twitter", "", "Twitter/X handle")
	cmd.Flags().StringVar(&reqFacebook, "facebook", "", "Facebook page URL")
	cmd.Flags().StringVar(&reqEmail, "email", "", "Contact email")
	cmd.Flags().StringVar(&reqDUNS, "duns", "", "D-U-N-S number")
	cmd.Flags().StringVar(&reqCrunchbase, "crunchbase", "", "Crunchbase organization URL")
	cmd.Flags().Float64Var(&reqBudget, "budget", 0, "Budget ceiling in USD for this run (0 removes the cap; unset uses the configured default)")
	cmd.Flags().StringVar(&reqStrategy, "strategy", "", "Cost strategy shaping task inputs: cost, speed, quality or balanced")
	cmd.Flags().BoolVar(&reqLinkedInOn, "include-linkedin", true, "Collect LinkedIn profile, posts and company")
	cmd.Flags().BoolVar(&reqSocialOn, "include-social", true, "Collect Facebook and Twitter activity")
	cmd.Flags().BoolVar(&reqCompanyOn, "include-company", true, "Collect D&B, Crunchbase and contact data")
}

func init() {
	requestFlags(analyzeCmd)
	analyzeCmd.Flags().IntVar(&analyzeConcurrency, "concurrency", 0, "Max tasks in flight (default from config)")
	analyzeCmd.Flags().BoolVar(&analyzeOptimize, "optimize", true, "Apply the cost strategy to task inputs at dispatch")
	analyzeCmd.Flags().BoolVar(&analyzeWatch, "watch", false, "Follow execution in an interactive view")
	analyzeCmd.Flags().BoolVar(&analyzeJSON, "json", false, "Print the final plan as JSON")
	analyzeCmd.Flags().BoolVar(&analyzeDryRun, "dry-run", false, "Simulate runs instead of calling the actor hub")
}

// buildRequest assembles the analysis request from the shared flags, filling
// the budget from config when the flag was not given.
func buildRequest(cmd *cobra.Command, cfg *config.Config) plan.Request {
	req := plan.DefaultRequest()
	req.Name = reqName
	req.Company = reqCompany
	req.LinkedInURL = reqLinkedIn
	req.TwitterHandle = reqTwitter
	req.FacebookPage = reqFacebook
	req.Email = reqEmail
	req.DUNSNumber = reqDUNS
	req.CrunchbaseURL = reqCrunchbase
	req.IncludeLinkedIn = reqLinkedInOn
	req.IncludeSocialMedia = reqSocialOn
	req.IncludeCompanyData = reqCompanyOn
	req.Strategy = reqStrategy

	switch {
	case cmd.Flags().Changed("budget"):
		if reqBudget > 0 {
			b := reqBudget
			req.MaxBudget = &b
		}
	case cfg.DefaultBudget > 0:
		b := cfg.DefaultBudget
		req.MaxBudget = &b
	}
	return req
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	override := ""
	if analyzeDryRun {
		override = "dryrun"
	}
	schedCfg := &scheduler.Config{
		MaxConcurrency: analyzeConcurrency,
		Optimize:       analyzeOptimize,
	}

	env, err := loadEnv(override, schedCfg)
	if err != nil {
		return err
	}
	defer env.Close()

	req := buildRequest(cmd, env.cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if analyzeWatch {
		return runAnalyzeWatch(ctx, env, req)
	}

	snap, err := env.svc.Analyze(ctx, req, nil)
	if err != nil && snap.ID == "" {
		return err
	}

	if analyzeJSON {
		if jsonErr := printJSON(snap); jsonErr != nil {
			return jsonErr
		}
		return err
	}

	printPlanSummary(os.Stdout, snap)
	if err != nil {
		return err
	}
	if snap.Status == plan.PlanFailed {
		return fmt.Errorf("analysis failed: %s", snap.ErrorMessage)
	}
	return nil
}

// runAnalyzeWatch executes the plan while the watch view follows it. Quitting
// the view before the plan finishes cancels the run.
func runAnalyzeWatch(ctx context.Context, env *appEnv, req plan.Request) error {
	p, err := env.svc.Build(req)
	if err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	events, ch := tui.Sink()
	watch := tui.NewWatch(p, ch)

	var (
		snap   plan.Snapshot
		runErr error
	)
	done := make(chan struct{})
	go func() {
		defer close(done)
		snap, runErr = env.svc.Run(runCtx, p, events)
	}()

	tuiErr := watch.Run()
	cancel()
	<-done

	if tuiErr != nil {
		return tuiErr
	}
	printPlanSummary(os.Stdout, snap)
	if runErr != nil {
		return runErr
	}
	if snap.Status == plan.PlanFailed {
		return fmt.Errorf("analysis failed: %s", snap.ErrorMessage)
	}
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printPlanSummary(out io.Writer, snap plan.Snapshot) {
	fmt.Fprintf(out, "Plan %s  %s  [%s]\n", truncateID(snap.ID), snap.Label, snap.Status)

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TASK\tSTATUS\tRETRIES\tEST\tACTUAL\tERROR")
	for _, n := range snap.Nodes {
		actual := "-"
		if n.ActualCost != nil {
			actual = fmt.Sprintf("$%.2f", *n.ActualCost)
		}
		fmt.Fprintf(w, "%s\t%s\t%d\t$%.2f\t%s\t%s\n",
			n.TaskType, n.Status, n.Retries, n.EstimatedCost, actual, truncate(n.ErrorMessage, 60))
	}
	w.Flush()

	fmt.Fprintf(out, "Estimated $%.2f, spent $%.2f", snap.TotalEstimatedCost, snap.TotalActualCost)
	if snap.MaxBudget != nil {
		fmt.Fprintf(out, " of $%.2f budget", *snap.MaxBudget)
	}
	fmt.Fprintln(out)
}

// --- Helpers ---

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}

func truncateID(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[:8]
}
