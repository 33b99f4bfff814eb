package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

var predictCmd = &cobra.Command{
	Use:   "predict [task-type]",
	Short: "Predict the cost of one task from recorded history",
	Long: `Prices a single task input and, when enough history exists for the task
type, adjusts the raw estimate by the error observed in past runs.`,
	Args: cobra.ExactArgs(1),
	RunE: runPredict,
}

var predictInput string

func init() {
	predictCmd.Flags().StringVar(&predictInput, "input", "{}", "Task input as JSON")
}

func runPredict(cmd *cobra.Command, args []string) error {
	env, err := loadEnv("dryrun", nil)
	if err != nil {
		return err
	}
	defer env.Close()

	var input map[string]any
	if err := json.Unmarshal([]byte(predictInput), &input); err != nil {
		return fmt.Errorf("parse --input: %w", err)
	}

	pred, err := env.svc.Predict(args[0], input)
	if err != nil {
		return err
	}

	fmt.Printf("Task:          %s\n", pred.TaskType)
	fmt.Printf("Estimated:     $%.2f (fixed $%.2f + variable $%.2f)\n",
		pred.EstimatedCost, pred.FixedCost, pred.VariableCost)
	if pred.AdjustedCost != nil {
		fmt.Printf("Adjusted:      $%.2f\n", *pred.AdjustedCost)
	}
	if pred.Confidence != nil {
		fmt.Printf("Confidence:    %.0f%%\n", *pred.Confidence*100)
	}
	if pred.EstimatedTimeSecs != nil {
		fmt.Printf("Expected time: %.0fs\n", *pred.EstimatedTimeSecs)
	}
	fmt.Printf("Samples:       %d\n", pred.SampleCount)
	return nil
}
