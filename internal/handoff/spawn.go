package handoff

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
)

// forwardedSignals are relayed from the gate to the spawned child.
var forwardedSignals = []os.Signal{syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP, syscall.SIGQUIT}

// Spawner runs the command as a child with inherited stdio, relays
// signals to it and reports its exit status.
type Spawner struct {
	Stdin  *os.File
	Stdout *os.File
	Stderr *os.File
}

func (s Spawner) Handoff(ctx context.Context, cmd Command) error {
	path, err := resolve(cmd.Path)
	if err != nil {
		return err
	}
	child := &exec.Cmd{
		Path:   path,
		Args:   cmd.Argv(),
		Env:    cmd.environ(),
		Stdin:  pick(s.Stdin, os.Stdin),
		Stdout: pick(s.Stdout, os.Stdout),
		Stderr: pick(s.Stderr, os.Stderr),
	}

	// Register before Start so no signal is lost between start and relay.
	sigc := make(chan os.Signal, 4)
	signal.Notify(sigc, forwardedSignals...)
	defer signal.Stop(sigc)

	if err := child.Start(); err != nil {
		return classify(path, err)
	}
	log.Debug().Int("pid", child.Process.Pid).Str("path", path).Msg("child started")

	done := make(chan error, 1)
	go func() { done <- child.Wait() }()

	for {
		select {
		case sig := <-sigc:
			log.Debug().Str("signal", sig.String()).Msg("forwarding signal to child")
			_ = child.Process.Signal(sig)
		case <-ctx.Done():
			_ = child.Process.Signal(syscall.SIGTERM)
			return waitResult(path, <-done)
		case err := <-done:
			return waitResult(path, err)
		}
	}
}

func waitResult(path string, err error) error {
	if err == nil {
		return nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		code := exitErr.ExitCode()
		if status, ok := exitErr.Sys().(syscall.WaitStatus); ok && status.Signaled() {
			code = 128 + int(status.Signal())
		}
		return &ExitError{Path: path, Code: code}
	}
	return err
}

func pick(f, fallback *os.File) *os.File {
	if f != nil {
		return f
	}
	return fallback
}
