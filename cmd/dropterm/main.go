package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/chess10kp/dropterm/internal/config"
	"github.com/chess10kp/dropterm/internal/core"
	"github.com/chess10kp/dropterm/internal/logging"
)

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "dropterm: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		configPath string
		debug      bool
	)

	root := &cobra.Command{
		Use:           "dropterm",
		Short:         "Drop-down terminal daemon",
		Args:          cobra.NoArgs,
		SilenceErrors: true,
		SilenceUsage:  true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), configPath, debug)
		},
	}

	root.Flags().StringVarP(&configPath, "config", "c", config.DefaultPath, "path to config.toml")
	root.Flags().BoolVar(&debug, "debug", false, "log at debug level in development format")

	return root
}

func run(ctx context.Context, configPath string, debug bool) error {
	// A missing file means defaults; a broken one is fatal.
	cfg, err := config.LoadAndValidateConfig(configPath)
	if err != nil {
		return err
	}

	logCfg := logging.DefaultConfig()
	logCfg.Level = cfg.Log.Level
	logCfg.Development = cfg.Log.Development
	if debug {
		logCfg.Level = "debug"
		logCfg.Development = true
	}
	log, err := logging.New(logCfg)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer log.Sync()

	log.Infof("Loaded config from %s: terminal_command=%s backend=%s", configPath, cfg.TerminalCommand, cfg.ResolveBackend())

	app := core.NewApp(cfg, configPath, log)
	if err := app.Run(ctx); err != nil {
		log.Errorf("Application error: %v", err)
		return err
	}
	return nil
}
