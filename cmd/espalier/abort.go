package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/aretw0/espalier/pkg/domain"
)

var abortCmd = &cobra.Command{
	Use:   "abort <plan-id>",
	Short: "Abort a run and roll back completed steps",
	Long: `Stops the run and compensates every completed step in reverse completion
order. Steps without a rollback action are reported unrecoverable.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		eng, err := newEngine(cmd)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		report, err := eng.Abort(cmd.Context(), args[0])
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		fmt.Printf("Abort finished: %s\n", report.Status)
		for _, entry := range report.Entries {
			line := fmt.Sprintf("  %-14s %s", entry.Outcome, entry.StepID)
			if entry.Error != "" {
				line += "  (" + entry.Error + ")"
			}
			fmt.Println(line)
		}

		if report.Status == domain.StatusAbortFailed {
			os.Exit(2)
		}
	},
}

func init() {
	rootCmd.AddCommand(abortCmd)
}
