package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/mlyze/mlyze/analyzer"
)

func newAnalyzeCmd() *cobra.Command {
	var (
		jsonOutput bool
		topN       int
	)

	cmd := &cobra.Command{
		Use:   "analyze <trace_file>",
		Short: "Analyze a .mlyze trace for leaks and call-site attribution",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			report, err := analyzer.Analyze(args[0], topN)
			if err != nil {
				return fmt.Errorf("mlyze analyze: %w", err)
			}

			if jsonOutput {
				out, err := report.JSON()
				if err != nil {
					return err
				}
				fmt.Fprintln(os.Stdout, string(out))
			} else {
				fmt.Fprint(os.Stdout, report.Text())
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "emit the report as JSON instead of a text table")
	cmd.Flags().IntVar(&topN, "top", analyzer.DefaultTopN, "number of call sites to show, ranked by cumulative bytes")

	return cmd
}
