package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/willibrandon/ChronoCPU/pkg/config"
	"github.com/willibrandon/ChronoCPU/pkg/recorder"
	"github.com/willibrandon/ChronoCPU/pkg/replay"
)

type recordOptions struct {
	*rootOptions
	Output string
	Steps  int
}

func newRecordCommand(rootOpts *rootOptions) *cobra.Command {
	opts := &recordOptions{rootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "record <program.yaml>",
		Short: "Execute a program unattended and save the recording",
		Long: `Execute a program for a number of steps and export every recorded
version to a file that "chrono inspect" can browse.

Recording stops early when an instruction cannot be executed; the versions
recorded until then are still saved.

Examples:
  chrono record add.yaml -o add.chrono --steps 100`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRecord(cmd, opts, args[0])
		},
	}

	cmd.Flags().StringVarP(&opts.Output, "output", "o", "", "recording file to write (required)")
	_ = cmd.MarkFlagRequired("output")
	cmd.Flags().IntVar(&opts.Steps, "steps", 0, "instructions to execute (default run.max_steps)")
	return cmd
}

func runRecord(cmd *cobra.Command, opts *recordOptions, path string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	program, err := config.LoadProgram(path)
	if err != nil {
		return err
	}
	replayOpts, err := opts.replayOptions()
	if err != nil {
		return err
	}
	recOpts, err := opts.cfg.RecorderOptions()
	if err != nil {
		return err
	}
	recOpts.Logger = opts.logger

	ctrl := replay.NewController(replayOpts)
	defer ctrl.Close()
	if _, err := ctrl.LoadProgram(program); err != nil {
		return err
	}

	steps := opts.Steps
	if steps <= 0 {
		steps = opts.cfg.Run.MaxSteps
	}
	_, done, err := ctrl.Run(ctx, nil, steps)
	switch {
	case errors.Is(err, context.Canceled):
		opts.logger.Warn("recording interrupted", "steps", done)
	case err != nil:
		opts.logger.Warn("execution stopped", "steps", done, "error", err)
	}

	rec := recorder.Recording{Program: ctrl.Program(), Mode: ctrl.Arch().Mode, Store: ctrl.Store()}
	if err := recorder.SaveFile(opts.Output, rec, recOpts); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Recorded %d steps (%d versions) to %s\n", done, rec.Store.Len(), opts.Output)
	return nil
}
