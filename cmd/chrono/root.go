package main

import (
	"fmt"
	"log/slog"
	"slices"

	"github.com/spf13/cobra"

	"github.com/willibrandon/ChronoCPU/pkg/config"
	"github.com/willibrandon/ChronoCPU/pkg/emulator"
	"github.com/willibrandon/ChronoCPU/pkg/replay"
	"github.com/willibrandon/ChronoCPU/pkg/version"
)

// rootOptions holds global flags for all commands.
type rootOptions struct {
	ConfigPath string
	Engine     string
	Mode       int
	LogLevel   string

	cfg    config.Config
	logger *slog.Logger
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "chrono",
		Short: "ChronoCPU - reverse debugger for emulated x86 code",
		Long: `Step x86 machine code forward and backward through an emulator.

Every executed instruction is recorded as a new version of the CPU state.
Any recorded version can be revisited; editing state behind the newest
version and stepping forward discards the versions after it.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return opts.load(cmd)
		},
	}

	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", "", "path to a YAML config file")
	cmd.PersistentFlags().StringVar(&opts.Engine, "engine", "", "emulator engine (overrides config)")
	cmd.PersistentFlags().IntVar(&opts.Mode, "mode", 0, "CPU mode, 16 or 32 (overrides config)")
	cmd.PersistentFlags().StringVar(&opts.LogLevel, "log-level", "", "debug, info, warn or error (overrides config)")

	cmd.AddCommand(newDebugCommand(opts))
	cmd.AddCommand(newRecordCommand(opts))
	cmd.AddCommand(newInspectCommand(opts))
	cmd.AddCommand(newVersionCommand())

	return cmd
}

// load reads the config file, applies flag overrides and installs the logger.
func (o *rootOptions) load(cmd *cobra.Command) error {
	cfg := config.Default()
	if o.ConfigPath != "" {
		var err error
		if cfg, err = config.Load(o.ConfigPath); err != nil {
			return err
		}
	}
	if o.Engine != "" {
		cfg.Engine = o.Engine
	}
	if o.Mode != 0 {
		cfg.Mode = o.Mode
	}
	if o.LogLevel != "" {
		cfg.LogLevel = o.LogLevel
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	level, _ := cfg.Level()
	o.logger = slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))
	slog.SetDefault(o.logger)
	o.cfg = cfg
	return nil
}

func (o *rootOptions) replayOptions() (replay.Options, error) {
	mode, err := o.cfg.EmulatorMode()
	if err != nil {
		return replay.Options{}, err
	}
	if !slices.Contains(emulator.Engines(), o.cfg.Engine) {
		return replay.Options{}, fmt.Errorf("%w: %q is not compiled into this binary (available: %v)",
			emulator.ErrUnknownEngine, o.cfg.Engine, emulator.Engines())
	}
	return replay.Options{
		Engine:           o.cfg.Engine,
		Mode:             mode,
		Logger:           o.logger,
		KeyframeInterval: o.cfg.Run.KeyframeInterval,
	}, nil
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		// version needs no config
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version.GetVersionInfo())
		},
	}
}
