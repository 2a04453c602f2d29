package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/chess10kp/dropterm/internal/config"
	"github.com/chess10kp/dropterm/internal/core"
	"github.com/chess10kp/dropterm/internal/process"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "droptermctl: %v\n", err)
		os.Exit(1)
	}
}

type options struct {
	configPath string
	socketPath string
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:           "droptermctl",
		Short:         "Control a running dropterm daemon",
		SilenceErrors: true,
		SilenceUsage:  true,
	}

	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", config.DefaultPath, "path to config.toml")
	root.PersistentFlags().StringVar(&opts.socketPath, "socket", os.Getenv("DROPTERM_SOCKET"), "control socket (default from config)")

	root.AddCommand(newToggleCmd(opts))
	root.AddCommand(newStatusCmd(opts))
	root.AddCommand(newReloadCmd(opts))
	root.AddCommand(newSettingsCmd(opts))

	return root
}

// socket resolves the control socket: flag or env first, then the config.
func (o *options) socket() string {
	if o.socketPath != "" {
		return o.socketPath
	}
	cfg, err := config.LoadConfig(o.configPath)
	if err != nil || cfg.SocketPath == "" {
		return config.DefaultConfig.SocketPath
	}
	return cfg.SocketPath
}

func newToggleCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "toggle",
		Short: "Show, hide or launch the drop-down terminal",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			status, err := core.Send(opts.socket(), core.MessageToggle)
			if err != nil {
				// The socket may be gone while the daemon is still on the bus.
				if dbusErr := core.ActivateToggle(); dbusErr != nil {
					return fmt.Errorf("%w (D-Bus: %v)", err, dbusErr)
				}
				return nil
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), status)
			return err
		},
	}
}

func newStatusCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Print the daemon's toggle state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return sendAndPrint(cmd, opts, core.MessageStatus)
		},
	}
}

func newReloadCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "reload",
		Short: "Re-read the config file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return sendAndPrint(cmd, opts, core.MessageReload)
		},
	}
}

func sendAndPrint(cmd *cobra.Command, opts *options, message string) error {
	reply, err := core.Send(opts.socket(), message)
	if err != nil {
		return fmt.Errorf("%w\nIs dropterm running?", err)
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), reply)
	return err
}

func newSettingsCmd(opts *options) *cobra.Command {
	var (
		command   string
		termArgs  []string
		clearArgs bool
	)

	cmd := &cobra.Command{
		Use:   "settings",
		Short: "Show or change the terminal dropterm launches",
		Long: "Without flags, print the configured terminal. With flags, write them to the\n" +
			"config file; a running daemon picks the change up on its own.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(opts.configPath)
			if err != nil {
				return err
			}

			flags := cmd.Flags()
			if !flags.Changed("terminal") && !flags.Changed("arg") && !clearArgs {
				return printSettings(cmd, cfg)
			}

			if flags.Changed("terminal") {
				cfg.TerminalCommand = strings.TrimSpace(command)
			}
			if clearArgs {
				cfg.TerminalArgs = nil
			}
			if flags.Changed("arg") {
				cfg.TerminalArgs = termArgs
			}

			if err := cfg.Validate(); err != nil {
				return err
			}
			if err := config.SaveConfig(cfg, opts.configPath); err != nil {
				return fmt.Errorf("failed to save config: %w", err)
			}
			return printSettings(cmd, cfg)
		},
	}

	cmd.Flags().StringVar(&command, "terminal", "", "terminal command, e.g. foot or /usr/bin/ghostty")
	cmd.Flags().StringArrayVar(&termArgs, "arg", nil, "extra terminal argument (repeatable)")
	cmd.Flags().BoolVar(&clearArgs, "clear-args", false, "remove all extra terminal arguments")

	return cmd
}

func printSettings(cmd *cobra.Command, cfg *config.Config) error {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "terminal_command = %s\n", cfg.TerminalCommand)
	fmt.Fprintf(out, "terminal_args    = %q\n", cfg.TerminalArgs)
	_, err := fmt.Fprintf(out, "app_id           = %s\n", process.ResolveAppID(cfg.TerminalCommand))
	return err
}
