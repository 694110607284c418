package main

import (
	"context"
	"errors"

	"github.com/spf13/cobra"

	"github.com/willibrandon/ChronoCPU/pkg/debugger"
	"github.com/willibrandon/ChronoCPU/pkg/recorder"
	"github.com/willibrandon/ChronoCPU/pkg/replay"
)

func newInspectCommand(rootOpts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "inspect <recording>",
		Short: "Browse a saved recording",
		Long: `Open a recording written by "chrono record" or the debugger's save
command. Every debugger command that reads state works; stepping forward
stops at the last recorded version and edits are refused.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInspect(cmd, rootOpts, args[0])
		},
	}
}

func runInspect(cmd *cobra.Command, opts *rootOptions, path string) error {
	recOpts, err := opts.cfg.RecorderOptions()
	if err != nil {
		return err
	}
	recOpts.Logger = opts.logger

	rec, err := recorder.LoadFile(path, recOpts)
	if err != nil {
		return err
	}
	ctrl, err := replay.NewReadOnly(rec.Program, rec.Mode, rec.Store, opts.logger)
	if err != nil {
		return err
	}
	defer ctrl.Close()

	cli := debugger.NewCLI(ctrl, cmd.InOrStdin(), cmd.OutOrStdout(), debugger.Options{
		MaxSteps:  -1,
		Recording: recOpts,
	})
	if err := cli.Start(cmd.Context()); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
