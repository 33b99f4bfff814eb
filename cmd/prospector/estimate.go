package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var estimateCmd = &cobra.Command{
	Use:   "estimate",
	Short: "Price an analysis plan without executing it",
	RunE:  runEstimate,
}

var estimateJSON bool

func init() {
	requestFlags(estimateCmd)
	estimateCmd.Flags().BoolVar(&estimateJSON, "json", false, "Print the estimate as JSON")
}

func runEstimate(cmd *cobra.Command, args []string) error {
	env, err := loadEnv("dryrun", nil)
	if err != nil {
		return err
	}
	defer env.Close()

	req := buildRequest(cmd, env.cfg)
	est, err := env.svc.Estimate(req)
	if err != nil {
		return err
	}

	if estimateJSON {
		return printJSON(est)
	}

	fmt.Printf("Estimate for %s\n", est.Label)
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TASK\tNAME\tEST")
	for _, n := range est.Nodes {
		fmt.Fprintf(w, "%s\t%s\t$%.2f\n", n.TaskType, n.TaskName, n.EstimatedCost)
	}
	w.Flush()

	fmt.Printf("Total $%.2f", est.TotalEstimatedCost)
	if est.MaxBudget != nil {
		fmt.Printf(" of $%.2f budget", *est.MaxBudget)
	}
	fmt.Println()

	if !est.WithinBudget {
		return fmt.Errorf("estimated cost exceeds the budget")
	}
	return nil
}
