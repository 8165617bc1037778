package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/3cpo-dev/readygate/internal/config"
	"github.com/3cpo-dev/readygate/internal/core"
	"github.com/3cpo-dev/readygate/internal/handoff"
)

var (
	version   = "1.0.0"
	commit    = ""
	buildDate = ""
)

// Create the root command
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "readygate",
		Short: "readygate: wait for dependencies, then hand off to the real process",
		Long:  "readygate blocks until every configured dependency accepts a connection, then replaces itself with the wrapped command.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringP("log", "l", "", "Set log level. Available: trace, debug, info, warn, error, disabled")
	cmd.PersistentFlags().String("config", "", "config file (YAML or TOML)")

	cmd.PersistentPreRun = func(c *cobra.Command, args []string) {
		if levelStr, _ := c.Flags().GetString("log"); levelStr != "" {
			core.SetLevel(levelStr)
		}
	}

	cmd.AddCommand(newVersionCmd())
	cmd.AddCommand(newWaitCmd())
	cmd.AddCommand(newCheckCmd())
	cmd.AddCommand(newHistoryCmd())
	return cmd
}

// Create the version command
func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "readygate %s (%s) %s\n", version, commit, buildDate)
		},
	}
}

// loadConfig reads the config and applies the level unless --log overrides it
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	cfgPath, _ := cmd.Flags().GetString("config")
	cfg, err := config.LoadConfig(cfgPath)
	if err != nil {
		return cfg, err
	}
	if levelStr, _ := cmd.Flags().GetString("log"); levelStr == "" {
		core.SetLevel(cfg.LogLevel)
	}
	return cfg, nil
}

// Main entry point
func main() {
	core.SetupLogger(os.Stderr)
	root := newRootCmd()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	root.SetContext(ctx)
	if err := root.Execute(); err != nil {
		log.Error().Err(err).Msg("readygate failed")
		stop()
		os.Exit(handoff.ExitCode(err))
	}
}
