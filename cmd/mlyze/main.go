// Command mlyze records and analyzes .mlyze heap allocation traces.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "mlyze",
		Short:         "Record and analyze heap allocation traces",
		Long:          "mlyze records a process's heap allocation activity to a .mlyze trace and analyzes it offline for leaks and call-site attribution.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newRecordCmd())
	root.AddCommand(newAnalyzeCmd())
	root.AddCommand(newServeCmd())
	return root
}
