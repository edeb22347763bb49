package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/aretw0/espalier/pkg/domain"
)

// runCmd represents the run command
var runCmd = &cobra.Command{
	Use:   "run <plan-file>",
	Short: "Plan, approve and execute a plan document",
	Long: `Parses the plan document, prints the execution preview and, after
approval, drives the run to a terminal status. Approval comes from an
interactive prompt unless --approve is set.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		if err := runPlan(cmd, args[0]); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	},
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().Bool("approve", false, "Approve the plan without prompting")
}

func runPlan(cmd *cobra.Command, path string) error {
	document, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read plan file: %w", err)
	}

	eng, err := newEngine(cmd)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	preview, err := eng.Plan(ctx, document)
	if err != nil {
		return err
	}

	printPreview(preview)

	approved, _ := cmd.Flags().GetBool("approve")
	if !approved {
		fmt.Print("\nProceed? [y/N] ")
		reader := bufio.NewReader(os.Stdin)
		answer, _ := reader.ReadString('\n')
		if a := strings.ToLower(strings.TrimSpace(answer)); a != "y" && a != "yes" {
			// Discard the registration so a later run can register it again.
			if err := eng.Delete(ctx, preview.PlanID); err != nil {
				return err
			}
			fmt.Println("Plan not approved, nothing executed.")
			return nil
		}
	}

	if err := eng.Approve(ctx, preview.PlanID); err != nil {
		return err
	}

	report, err := eng.Execute(ctx, preview.PlanID)
	if err != nil {
		return err
	}

	printReport(report)

	if report.Status != domain.StatusCompleted {
		os.Exit(2)
	}
	return nil
}

func printPreview(preview *domain.PlanPreview) {
	fmt.Printf("Plan: %s", preview.PlanID)
	if preview.Name != "" {
		fmt.Printf(" (%s)", preview.Name)
	}
	fmt.Println()

	fmt.Println("Execution order:")
	for i, layer := range preview.Layers {
		fmt.Printf("  %d. %s\n", i+1, strings.Join(layer, ", "))
	}

	fmt.Println("Capabilities:")
	for _, ref := range preview.Capabilities {
		fmt.Printf("  - %s/%s\n", ref.Skill, ref.Action)
	}

	if len(preview.Risks) > 0 {
		fmt.Println("Risks:")
		for _, risk := range preview.Risks {
			fmt.Printf("  ! %s\n", risk)
		}
	}
}

func printReport(report *domain.ExecutionReport) {
	fmt.Printf("\nRun %s finished: %s\n", report.RunID, report.Status)
	for _, step := range report.Steps {
		line := fmt.Sprintf("  %-12s %s", step.Status, step.StepID)
		if step.Error != "" {
			line += "  (" + step.Error + ")"
		}
		fmt.Println(line)
	}

	if report.Rollback != nil && len(report.Rollback.Entries) > 0 {
		fmt.Println("Rollback:")
		for _, entry := range report.Rollback.Entries {
			line := fmt.Sprintf("  %-14s %s", entry.Outcome, entry.StepID)
			if entry.Error != "" {
				line += "  (" + entry.Error + ")"
			}
			fmt.Println(line)
		}
	}
}
