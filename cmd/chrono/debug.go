package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/willibrandon/ChronoCPU/pkg/config"
	"github.com/willibrandon/ChronoCPU/pkg/debugger"
	"github.com/willibrandon/ChronoCPU/pkg/metrics"
	"github.com/willibrandon/ChronoCPU/pkg/session"
)

type debugOptions struct {
	*rootOptions
	MetricsAddr string
}

func newDebugCommand(rootOpts *rootOptions) *cobra.Command {
	opts := &debugOptions{rootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "debug <program.yaml>",
		Short: "Debug a program interactively",
		Long: `Load a program description and open the interactive debugger on it.

Examples:
  chrono debug add.yaml
  chrono debug --mode 16 --metrics-addr :9090 boot.yaml`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDebug(cmd, opts, args[0])
		},
	}

	cmd.Flags().StringVar(&opts.MetricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")
	return cmd
}

func runDebug(cmd *cobra.Command, opts *debugOptions, path string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGTERM)
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

	registry, err := session.NewRegistry(opts.cfg.MaxSessions, replayOpts)
	if err != nil {
		return err
	}
	defer registry.CloseAll()

	_, ctrl, err := registry.Open(program)
	if err != nil {
		return err
	}

	if opts.MetricsAddr != "" {
		srv := serveMetrics(opts.MetricsAddr, opts.rootOptions)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			srv.Shutdown(shutdownCtx)
		}()
	}

	cli := debugger.NewCLI(ctrl, cmd.InOrStdin(), cmd.OutOrStdout(), debugger.Options{
		MaxSteps:  opts.cfg.Run.MaxSteps,
		Recording: recOpts,
	})
	if err := cli.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func serveMetrics(addr string, opts *rootOptions) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			opts.logger.Error("metrics server stopped", "addr", addr, "error", err)
		}
	}()
	opts.logger.Info("serving metrics", "addr", addr)
	return srv
}
