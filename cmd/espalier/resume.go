package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/aretw0/espalier/pkg/domain"
)

var resumeCmd = &cobra.Command{
	Use:   "resume <plan-id>",
	Short: "Resume an interrupted run from its persisted state",
	Long: `Reloads the run's execution record, resets steps stranded mid-flight and
continues dispatching. Completed steps are never re-executed.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		eng, err := newEngine(cmd)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		report, err := eng.Resume(cmd.Context(), args[0])
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		printReport(report)
		if report.Status != domain.StatusCompleted {
			os.Exit(2)
		}
	},
}

func init() {
	rootCmd.AddCommand(resumeCmd)
}
