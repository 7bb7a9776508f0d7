// Package main provides the mergeforest-sim command-line tool: three
// subcommands over the shared matrix/config machinery.
//
// Grounded on akita/cmd's cobra root+subcommand layout.
package main

import (
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "mergeforest-sim",
	Short: "Cycle-accurate simulator for two SpGEMM accelerator designs",
	Long: "mergeforest-sim simulates the Baseline row-merge accelerator (\"gamma\") and the " +
		"Forest merge-forest accelerator (\"my_arch\") computing C = A*B, reporting a " +
		"cycle-level performance breakdown.",
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
