package main

import (
	"fmt"
	"os"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/karstlund/prospector/internal/registry"
)

var actorsCmd = &cobra.Command{
	Use:   "actors",
	Short: "Inspect the task type catalog",
}

var actorsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered task types",
	RunE:  runActorsList,
}

var actorsShowCmd = &cobra.Command{
	Use:   "show [task-type]",
	Short: "Show one task type's pricing and input schema",
	Args:  cobra.ExactArgs(1),
	RunE:  runActorsShow,
}

func init() {
	actorsCmd.AddCommand(actorsListCmd, actorsShowCmd)
}

func runActorsList(cmd *cobra.Command, args []string) error {
	env, err := loadEnv("dryrun", nil)
	if err != nil {
		return err
	}
	defer env.Close()

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TASK TYPE\tNAME\tCATEGORY\tPRICING\tREMOTE ACTOR")
	for _, cfg := range env.reg.List() {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			cfg.TaskType, cfg.Name, cfg.Category, pricingLine(cfg), cfg.RemoteActor)
	}
	return w.Flush()
}

func runActorsShow(cmd *cobra.Command, args []string) error {
	env, err := loadEnv("dryrun", nil)
	if err != nil {
		return err
	}
	defer env.Close()

	cfg, err := env.reg.Get(args[0])
	if err != nil {
		return err
	}

	fmt.Printf("Task Type:    %s\n", cfg.TaskType)
	fmt.Printf("Name:         %s\n", cfg.Name)
	if cfg.Description != "" {
		fmt.Printf("Description:  %s\n", cfg.Description)
	}
	fmt.Printf("Category:     %s\n", cfg.Category)
	fmt.Printf("Remote Actor: %s\n", cfg.RemoteActor)
	fmt.Printf("Pricing:      %s\n", pricingLine(cfg))
	fmt.Printf("Timeout:      %ds\n", cfg.DefaultTimeoutSecs)
	if cfg.MemoryMB > 0 {
		fmt.Printf("Memory:       %dMB\n", cfg.MemoryMB)
	}

	fields := make([]string, 0, len(cfg.InputSchema))
	for f := range cfg.InputSchema {
		fields = append(fields, f)
	}
	sort.Strings(fields)

	required := make(map[string]bool, len(cfg.RequiredFields))
	for _, f := range cfg.RequiredFields {
		required[f] = true
	}

	fmt.Println("Input:")
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	for _, f := range fields {
		spec := cfg.InputSchema[f]
		mark := ""
		if required[f] {
			mark = "required"
		} else if d, ok := cfg.Defaults[f]; ok {
			mark = fmt.Sprintf("default %v", d)
		}
		fmt.Fprintf(w, "  %s\t%s\t%s\t%s\n", f, spec.Type, mark, spec.Description)
	}
	return w.Flush()
}

func pricingLine(cfg registry.TaskTypeConfig) string {
	switch cfg.PricingRule {
	case registry.PricingFixed:
		return fmt.Sprintf("$%.2f per run", cfg.FixedCost)
	case registry.PricingSubscription:
		return fmt.Sprintf("$%.2f subscription", cfg.FixedCost)
	case registry.PricingPerUnit:
		return fmt.Sprintf("$%.2f per %d %s", cfg.VariableRate, cfg.UnitSize, cfg.CostUnit)
	case registry.PricingBasePlusUnit:
		return fmt.Sprintf("$%.2f + $%.2f per %d %s", cfg.FixedCost, cfg.VariableRate, cfg.UnitSize, cfg.CostUnit)
	default:
		return string(cfg.PricingRule)
	}
}
