// Package main is the provisioner container entrypoint. It waits for the
// relational and document databases, then execs the provisioner with the
// arguments the container was started with.
package main

import (
	"context"
	"errors"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"

	"github.com/3cpo-dev/readygate/internal/config"
	"github.com/3cpo-dev/readygate/internal/core"
	"github.com/3cpo-dev/readygate/internal/handoff"
)

// main never parses flags: every argument after the program name belongs
// to the provisioner.
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stderr, nil)
	stop()
	os.Exit(code)
}

// run returns only when the handoff did not take over the process.
func run(ctx context.Context, args []string, stderr io.Writer, h handoff.Handoff) int {
	core.SetupLogger(stderr)
	cfg, err := config.LoadConfig("")
	if err != nil {
		log.Error().Err(err).Msg("failed to load config")
		return 1
	}
	core.SetLevel(cfg.LogLevel)

	r, err := core.NewRunner(cfg, log.Logger, h)
	if err != nil {
		log.Error().Err(err).Msg("invalid configuration")
		return 1
	}
	defer r.Close()

	err = r.Run(ctx, args)
	if err == nil {
		return 0
	}
	code := handoff.ExitCode(err)
	var exitErr *handoff.ExitError
	switch {
	case errors.As(err, &exitErr):
		// spawned provisioner ran; its status is passed through as is
	case errors.Is(err, context.DeadlineExceeded):
		log.Error().Err(err).Msg("gave up waiting for dependencies")
	case ctx.Err() != nil:
		log.Warn().Err(err).Msg("interrupted while waiting for dependencies")
	default:
		log.Error().Err(err).Int("exit_code", code).Str("command", cfg.Command).Msg("handoff failed")
	}
	return code
}
