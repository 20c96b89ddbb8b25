package main

import (
	"fmt"
	"os"
	"os/exec"
	"strconv"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/mlyze/mlyze/tracer"
)

// rateValue is a pflag.Value that rejects sample rates outside (0,1] at
// parse time, so a bad --sample-rate fails with a usage error instead of
// being silently clamped by the tracer.
type rateValue float64

var _ pflag.Value = (*rateValue)(nil)

func (r *rateValue) String() string {
	return strconv.FormatFloat(float64(*r), 'g', -1, 64)
}

func (r *rateValue) Set(s string) error {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return err
	}
	if v <= 0 || v > 1 {
		return fmt.Errorf("sample rate %v out of range (0,1]", v)
	}
	*r = rateValue(v)
	return nil
}

func (r *rateValue) Type() string { return "float" }

func newRecordCmd() *cobra.Command {
	var (
		output        string
		sampleRate    rateValue = 1
		maxStackDepth int
		noTrackGC     bool
		compress      bool
	)

	cmd := &cobra.Command{
		Use:   "record -- <command> [args...]",
		Short: "Run a command while recording a heap allocation trace",
		Long: "record runs the given command as a subprocess and writes a .mlyze trace of mlyze's own " +
			"allocator activity for the duration. A Go process cannot observe another process's heap " +
			"without an in-process hook, so the trace attributes the host process's allocations, not " +
			"the child's; the child's exit code is propagated either way.",
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := []tracer.Option{
				tracer.WithSampleRate(float64(sampleRate)),
				tracer.WithMaxStackDepth(maxStackDepth),
				tracer.WithTrackGC(!noTrackGC),
			}

			tr, err := tracer.Start(output, opts...)
			if err != nil {
				return fmt.Errorf("mlyze record: %w", err)
			}

			child := exec.Command(args[0], args[1:]...)
			child.Stdin = os.Stdin
			child.Stdout = os.Stdout
			child.Stderr = os.Stderr
			runErr := child.Run()

			if err := tr.Stop(); err != nil {
				fmt.Fprintf(os.Stderr, "mlyze record: error finalizing trace: %v\n", err)
			}
			if compress {
				if err := tracer.CompressTraceFile(output); err != nil {
					fmt.Fprintf(os.Stderr, "mlyze record: compress failed: %v\n", err)
				}
			}

			if exitErr, ok := runErr.(*exec.ExitError); ok {
				os.Exit(exitErr.ExitCode())
			}
			return runErr
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "trace.mlyze", "trace output file")
	cmd.Flags().Var(&sampleRate, "sample-rate", "fraction of allocations to retain, in (0,1]")
	cmd.Flags().IntVar(&maxStackDepth, "max-stack-depth", 10, "maximum call-site frames kept per allocation")
	cmd.Flags().BoolVar(&noTrackGC, "no-track-gc", false, "don't record garbage-collection events")
	cmd.Flags().BoolVar(&compress, "compress", false, "also write a zstd-compressed copy as <output>.zst")

	return cmd
}
