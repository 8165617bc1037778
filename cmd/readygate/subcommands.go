package main

import (
	"errors"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/3cpo-dev/readygate/internal/config"
	"github.com/3cpo-dev/readygate/internal/core"
	"github.com/3cpo-dev/readygate/internal/journal"
)

var errNotReady = errors.New("not every target is reachable")

// applyWaitFlags overrides config values with any flags the user set
func applyWaitFlags(cmd *cobra.Command, cfg *config.Config) error {
	flags := cmd.Flags()
	if flags.Changed("target") {
		specs, _ := flags.GetStringArray("target")
		targets, err := config.ParseTargets(strings.Join(specs, ","))
		if err != nil {
			return err
		}
		cfg.Targets = targets
	}
	if flags.Changed("interval") {
		cfg.Interval, _ = flags.GetDuration("interval")
	}
	if flags.Changed("dial-timeout") {
		cfg.DialTimeout, _ = flags.GetDuration("dial-timeout")
	}
	if flags.Changed("timeout") {
		cfg.Timeout, _ = flags.GetDuration("timeout")
	}
	if flags.Changed("parallel") {
		cfg.Parallel, _ = flags.GetBool("parallel")
	}
	if flags.Changed("mode") {
		cfg.Mode, _ = flags.GetString("mode")
	}
	if flags.Changed("command") {
		cfg.Command, _ = flags.GetString("command")
	}
	if flags.Changed("journal") {
		cfg.Journal, _ = flags.GetString("journal")
	}
	if flags.Changed("status-addr") {
		cfg.StatusAddr, _ = flags.GetString("status-addr")
	}
	return nil
}

func addTargetFlags(cmd *cobra.Command) {
	cmd.Flags().StringArray("target", nil, "dependency as name=host:port or name=unix:/path (repeatable, replaces configured targets)")
	cmd.Flags().Duration("dial-timeout", 0, "per-attempt connect timeout (0 uses the platform default)")
	cmd.Flags().String("journal", "", "SQLite journal path for recording attempts")
}

// Wait for dependencies, then hand off
func newWaitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "wait [flags] [-- args...]",
		Short: "Wait for every dependency, then exec the wrapped command with args",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if err := applyWaitFlags(cmd, &cfg); err != nil {
				return err
			}
			r, err := core.NewRunner(cfg, log.Logger, nil)
			if err != nil {
				return err
			}
			defer r.Close()
			return r.Run(cmd.Context(), args)
		},
	}
	// Everything after the first positional argument belongs to the wrapped command.
	cmd.Flags().SetInterspersed(false)
	addTargetFlags(cmd)
	cmd.Flags().Duration("interval", config.DefaultInterval, "wait between attempts against the same target")
	cmd.Flags().Duration("timeout", 0, "give up after this long (0 waits forever)")
	cmd.Flags().Bool("parallel", false, "probe all targets concurrently")
	cmd.Flags().String("mode", config.DefaultMode, "handoff mode: exec or spawn")
	cmd.Flags().String("command", config.DefaultCommand, "absolute path of the wrapped command")
	cmd.Flags().String("status-addr", "", "serve /health and /metrics on this address while waiting")
	return cmd
}

// Probe every dependency once
func newCheckCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Probe every dependency once and report",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if err := applyWaitFlags(cmd, &cfg); err != nil {
				return err
			}
			r, err := core.NewRunner(cfg, log.Logger, nil)
			if err != nil {
				return err
			}
			defer r.Close()

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "TARGET\tADDRESS\tSTATUS\tLATENCY\tERROR")
			allUp := true
			for _, res := range r.Check(cmd.Context()) {
				state := "up"
				if !res.OK {
					state = "down"
					allUp = false
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", res.Target, res.Address, state,
					res.Latency.Truncate(time.Microsecond), res.Error())
			}
			if err := w.Flush(); err != nil {
				return err
			}
			if !allUp {
				return errNotReady
			}
			return nil
		},
	}
	addTargetFlags(cmd)
	return cmd
}

// Show recorded attempts
func newHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent probe attempts and handoffs from the journal",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if p, _ := cmd.Flags().GetString("journal"); p != "" {
				cfg.Journal = p
			}
			if cfg.Journal == "" {
				return fmt.Errorf("no journal configured (set journal in config, READYGATE_JOURNAL or --journal)")
			}
			limit, _ := cmd.Flags().GetInt("limit")
			j, err := journal.Open(cfg.Journal, log.Logger)
			if err != nil {
				return err
			}
			defer j.Close()

			attempts, err := j.Recent(cmd.Context(), limit)
			if err != nil {
				return err
			}
			handoffs, err := j.RecentHandoffs(cmd.Context(), limit)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "CHECKED\tRUN\tTARGET\tADDRESS\tSTATUS\tLATENCY_MS\tERROR")
			for _, a := range attempts {
				state := "up"
				if !a.OK {
					state = "down"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%.2f\t%s\n", a.CheckedAt.Format(time.RFC3339),
					shortRun(a.RunID), a.Target, a.Address, state, a.LatencyMs, a.Error)
			}
			if err := w.Flush(); err != nil {
				return err
			}
			if len(handoffs) == 0 {
				return nil
			}
			fmt.Fprintln(out)
			w = tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "AT\tRUN\tMODE\tCOMMAND")
			for _, h := range handoffs {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", h.At.Format(time.RFC3339), shortRun(h.RunID),
					h.Mode, strings.Join(append([]string{h.Command}, h.Args...), " "))
			}
			return w.Flush()
		},
	}
	cmd.Flags().String("journal", "", "SQLite journal path")
	cmd.Flags().Int("limit", 20, "number of rows to show")
	return cmd
}

func shortRun(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
