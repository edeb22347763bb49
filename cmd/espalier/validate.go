package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var validateCmd = &cobra.Command{
	Use:   "validate <plan-file>",
	Short: "Check a plan document without executing anything",
	Long: `Parses the document, checks step references and cycles, resolves every
capability against the registry and runs declared dry runs. No side effects.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		if err := runValidate(cmd, args[0]); err != nil {
			fmt.Fprintf(os.Stderr, "Validation failed: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("Plan is valid.")
	},
}

func init() {
	rootCmd.AddCommand(validateCmd)
}

func runValidate(cmd *cobra.Command, path string) error {
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
	// The registered run is a throwaway: validation should be repeatable
	// without leaving a draft behind.
	defer eng.Delete(ctx, preview.PlanID)

	return eng.Validate(ctx, preview.PlanID)
}
