package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var costsCmd = &cobra.Command{
	Use:   "costs",
	Short: "Inspect recorded spend and budget state",
}

var costsBreakdownCmd = &cobra.Command{
	Use:   "breakdown",
	Short: "Summarize spend per task type",
	RunE:  runCostsBreakdown,
}

var costsHistoryCmd = &cobra.Command{
	Use:   "history",
	Short: "List recorded executions",
	RunE:  runCostsHistory,
}

var costsStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the running total against the budget",
	RunE:  runCostsStatus,
}

var (
	costsWindow   int
	costsTaskType string
	costsJSON     bool
)

func init() {
	costsCmd.AddCommand(costsBreakdownCmd, costsHistoryCmd, costsStatusCmd)

	costsCmd.PersistentFlags().BoolVar(&costsJSON, "json", false, "Print as JSON")
	costsBreakdownCmd.Flags().IntVar(&costsWindow, "window", 0, "Only count executions from the last N days (0 = all)")
	costsHistoryCmd.Flags().IntVar(&costsWindow, "window", 0, "Only list executions from the last N days (0 = all)")
	costsHistoryCmd.Flags().StringVar(&costsTaskType, "task-type", "", "Filter by task type")
}

func runCostsBreakdown(cmd *cobra.Command, args []string) error {
	env, err := loadEnv("dryrun", nil)
	if err != nil {
		return err
	}
	defer env.Close()

	bd := env.svc.Breakdown(costsWindow)
	if costsJSON {
		return printJSON(bd)
	}

	if len(bd.PerTaskType) == 0 {
		fmt.Println("No executions recorded")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TASK TYPE\tNAME\tRUNS\tTOTAL\tAVG")
	for _, t := range bd.PerTaskType {
		fmt.Fprintf(w, "%s\t%s\t%d\t$%.2f\t$%.2f\n",
			t.TaskType, t.TaskName, t.Count, t.TotalCost, t.AvgCost)
	}
	w.Flush()
	fmt.Printf("Total $%.2f\n", bd.TotalCost)
	return nil
}

func runCostsHistory(cmd *cobra.Command, args []string) error {
	env, err := loadEnv("dryrun", nil)
	if err != nil {
		return err
	}
	defer env.Close()

	records := env.svc.History(costsWindow, costsTaskType)
	if costsJSON {
		return printJSON(records)
	}

	if len(records) == 0 {
		fmt.Println("No executions recorded")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TIMESTAMP\tTASK TYPE\tNODE\tCOST\tDURATION")
	for _, rec := range records {
		dur := "-"
		if rec.DurationSecs != nil {
			dur = fmt.Sprintf("%.1fs", *rec.DurationSecs)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t$%.2f\t%s\n",
			rec.Timestamp.Format("2006-01-02 15:04:05"), rec.TaskType,
			truncateID(rec.NodeID), rec.ActualCost, dur)
	}
	return w.Flush()
}

func runCostsStatus(cmd *cobra.Command, args []string) error {
	env, err := loadEnv("dryrun", nil)
	if err != nil {
		return err
	}
	defer env.Close()

	status := env.svc.BudgetStatus()
	if costsJSON {
		return printJSON(status)
	}

	fmt.Printf("Total spend: $%.2f\n", status.TotalCost)
	if status.Limit == nil {
		fmt.Println("No budget limit configured")
		return nil
	}
	fmt.Printf("Budget:      $%.2f\n", *status.Limit)
	if status.Remaining != nil {
		fmt.Printf("Remaining:   $%.2f\n", *status.Remaining)
	}
	if status.UsedPct != nil {
		fmt.Printf("Used:        %.1f%%\n", *status.UsedPct)
		if *status.UsedPct >= status.AlertThresholdPct {
			fmt.Printf("Warning: spend is past the %.0f%% alert threshold\n", status.AlertThresholdPct)
		}
	}
	return nil
}
