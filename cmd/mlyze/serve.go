package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newServeCmd() *cobra.Command {
	var port int

	cmd := &cobra.Command{
		Use:   "serve <trace_file>",
		Short: "Serve a trace for interactive viewing (not yet implemented)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Printf("mlyze serve: web UI not yet implemented (would serve %s on port %d)\n", args[0], port)
			return nil
		},
	}

	cmd.Flags().IntVarP(&port, "port", "p", 8080, "port to serve on")

	return cmd
}
