package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var cfg Config

	root := &cobra.Command{
		Use:           "btremote",
		Short:         "Bluetooth presentation remote",
		Long:          "Send left/right navigation commands over a Bluetooth serial channel and turn them into key presses on the host.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			c, err := loadConfig(configPath())
			if err != nil {
				return err
			}
			if err := setupLogger(c); err != nil {
				return err
			}
			cfg = c
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			logger.Sync()
		},
	}

	root.AddCommand(
		&cobra.Command{
			Use:   "serve",
			Short: "Accept connections and inject key presses",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return runServe(cfg)
			},
		},
		&cobra.Command{
			Use:   "connect [device]",
			Short: "Connect to a server and send arrow keys interactively",
			Args:  cobra.MaximumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return runConnect(cfg, argOrEmpty(args))
			},
		},
		&cobra.Command{
			Use:   "send <device> <left|right>...",
			Short: "Connect, send the given commands in order, and disconnect",
			Args:  cobra.MinimumNArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				return runSend(cfg, args[0], args[1:])
			},
		},
		&cobra.Command{
			Use:   "devices",
			Short: "List configured and paired devices",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return runDevices(cfg)
			},
		},
	)
	return root
}

func argOrEmpty(args []string) string {
	if len(args) == 0 {
		return ""
	}
	return args[0]
}
