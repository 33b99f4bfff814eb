package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var plansCmd = &cobra.Command{
	Use:   "plans",
	Short: "Inspect saved execution plans",
}

var plansListCmd = &cobra.Command{
	Use:   "list",
	Short: "List saved plans",
	RunE:  runPlansList,
}

var plansShowCmd = &cobra.Command{
	Use:   "show [plan-id]",
	Short: "Show one saved plan with its nodes",
	Args:  cobra.ExactArgs(1),
	RunE:  runPlansShow,
}

var (
	plansStatus string
	plansLimit  int
	plansJSON   bool
)

func init() {
	plansCmd.AddCommand(plansListCmd, plansShowCmd)

	plansCmd.PersistentFlags().BoolVar(&plansJSON, "json", false, "Print as JSON")
	plansListCmd.Flags().StringVar(&plansStatus, "status", "", "Filter by status (pending, running, completed, failed)")
	plansListCmd.Flags().IntVar(&plansLimit, "limit", 20, "Newest plans to list")
}

func runPlansList(cmd *cobra.Command, args []string) error {
	env, err := loadEnv("dryrun", nil)
	if err != nil {
		return err
	}
	defer env.Close()

	snaps, err := env.svc.SavedPlans(plansStatus, plansLimit)
	if err != nil {
		return err
	}
	if plansJSON {
		return printJSON(snaps)
	}

	if len(snaps) == 0 {
		fmt.Println("No plans found")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tPROSPECT\tSTATUS\tEST\tACTUAL\tCREATED")
	for _, s := range snaps {
		fmt.Fprintf(w, "%s\t%s\t%s\t$%.2f\t$%.2f\t%s\n",
			truncateID(s.ID), truncate(s.Label, 30), s.Status,
			s.TotalEstimatedCost, s.TotalActualCost,
			s.CreatedAt.Format("2006-01-02 15:04"))
	}
	return w.Flush()
}

func runPlansShow(cmd *cobra.Command, args []string) error {
	env, err := loadEnv("dryrun", nil)
	if err != nil {
		return err
	}
	defer env.Close()

	snap, err := env.svc.SavedPlan(args[0])
	if err != nil {
		return err
	}
	if snap == nil {
		return fmt.Errorf("plan %s not found", args[0])
	}
	if plansJSON {
		return printJSON(snap)
	}

	printPlanSummary(os.Stdout, *snap)
	return nil
}
