package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	presentation "github.com/aretw0/espalier/internal/presentation/graph"
)

// graphCmd represents the graph command
var graphCmd = &cobra.Command{
	Use:   "graph <plan-id>",
	Short: "Export a plan's step DAG as a Mermaid diagram",
	Long: `Renders the registered plan's dependency graph as Mermaid (graph TD).
With --status, nodes are styled with the current run status of each step.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		eng, err := newEngine(cmd)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		ctx := cmd.Context()
		var output string
		if withStatus, _ := cmd.Flags().GetBool("status"); withStatus {
			output, err = eng.Graph(ctx, args[0])
		} else {
			rec, loadErr := eng.Status(ctx, args[0])
			if loadErr != nil {
				err = loadErr
			} else {
				output = presentation.GenerateMermaid(&rec.Plan, nil)
			}
		}
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		fmt.Print(output)
	},
}

func init() {
	rootCmd.AddCommand(graphCmd)

	graphCmd.Flags().Bool("status", false, "Style nodes with the run's step statuses")
}
