package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status [plan-id]",
	Short: "Show the persisted state of a run, or list all runs",
	Args:  cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		if err := runStatus(cmd, args); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)

	statusCmd.Flags().Bool("json", false, "Print the full execution record as JSON")
}

func runStatus(cmd *cobra.Command, args []string) error {
	eng, err := newEngine(cmd)
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	if len(args) == 0 {
		ids, err := eng.List(ctx)
		if err != nil {
			return err
		}
		if len(ids) == 0 {
			fmt.Println("No runs.")
			return nil
		}
		for _, id := range ids {
			fmt.Println(id)
		}
		return nil
	}

	rec, err := eng.Status(ctx, args[0])
	if err != nil {
		return err
	}

	if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(rec)
	}

	fmt.Printf("Plan:     %s\n", rec.PlanID)
	fmt.Printf("Run:      %s\n", rec.RunID)
	fmt.Printf("Status:   %s\n", rec.Status)
	fmt.Printf("Approved: %v\n", rec.Approved)
	fmt.Println("Steps:")
	for _, sr := range rec.Steps {
		line := fmt.Sprintf("  %-12s %s", sr.Status, sr.StepID)
		if sr.Attempts > 1 {
			line += fmt.Sprintf("  (attempts: %d)", sr.Attempts)
		}
		if sr.Error != "" {
			line += "  (" + sr.Error + ")"
		}
		fmt.Println(line)
	}
	return nil
}
