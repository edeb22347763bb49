package main

import (
	"fmt"
	"os"
	"sort"

	"github.com/spf13/cobra"
)

var capabilitiesCmd = &cobra.Command{
	Use:   "capabilities",
	Short: "List the capabilities plans can reference",
	Long: `Lists every (skill, action) pair registered from the tools config.
A plan step referencing anything outside this list fails validation.`,
	Run: func(cmd *cobra.Command, args []string) {
		eng, err := newEngine(cmd)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		pairs := eng.Registry().Capabilities()
		if len(pairs) == 0 {
			fmt.Println("No capabilities registered. Check the --tools config.")
			return
		}

		sort.Slice(pairs, func(i, j int) bool {
			if pairs[i][0] != pairs[j][0] {
				return pairs[i][0] < pairs[j][0]
			}
			return pairs[i][1] < pairs[j][1]
		})
		for _, p := range pairs {
			fmt.Printf("%s/%s\n", p[0], p[1])
		}
	},
}

func init() {
	rootCmd.AddCommand(capabilitiesCmd)
}
