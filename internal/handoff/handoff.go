// Package handoff transfers control to the wrapped executable, either by
// replacing the current process image or by running it as a child.
package handoff

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"syscall"

	"golang.org/x/sys/unix"
)

// Mode selects how control is transferred.
type Mode string

const (
	ModeExec  Mode = "exec"
	ModeSpawn Mode = "spawn"
)

// ParseMode accepts the configured mode string; empty means exec.
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case "", ModeExec:
		return ModeExec, nil
	case ModeSpawn:
		return ModeSpawn, nil
	default:
		return "", fmt.Errorf("unknown handoff mode: %s", s)
	}
}

var (
	ErrNotFound      = errors.New("executable not found")
	ErrNotExecutable = errors.New("executable cannot be started")
)

// Command is the wrapped executable. Args excludes argv[0].
type Command struct {
	Path string
	Args []string
	Env  []string
}

// Argv returns the full argument vector handed to the executable.
func (c Command) Argv() []string {
	argv := make([]string, 0, len(c.Args)+1)
	argv = append(argv, c.Path)
	return append(argv, c.Args...)
}

func (c Command) environ() []string {
	if c.Env != nil {
		return c.Env
	}
	return os.Environ()
}

// Handoff transfers control to cmd. Implementations that replace the
// process never return on success.
type Handoff interface {
	Handoff(ctx context.Context, cmd Command) error
}

// HandoffFunc adapts a function to the Handoff interface.
type HandoffFunc func(ctx context.Context, cmd Command) error

func (f HandoffFunc) Handoff(ctx context.Context, cmd Command) error { return f(ctx, cmd) }

// New returns the Handoff for a mode.
func New(mode Mode) Handoff {
	if mode == ModeSpawn {
		return Spawner{}
	}
	return Execer{}
}

// Execer replaces the process image with the command.
type Execer struct {
	exec func(argv0 string, argv []string, envv []string) error
}

func (e Execer) Handoff(_ context.Context, cmd Command) error {
	path, err := resolve(cmd.Path)
	if err != nil {
		return err
	}
	execFn := e.exec
	if execFn == nil {
		execFn = unix.Exec
	}
	if err := execFn(path, cmd.Argv(), cmd.environ()); err != nil {
		return classify(path, err)
	}
	return nil
}

// resolve checks the executable before exec so failures carry a clear cause.
func resolve(path string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("%w: empty path", ErrNotFound)
	}
	if !filepath.IsAbs(path) {
		p, err := exec.LookPath(path)
		if err != nil {
			return "", fmt.Errorf("%w: %s: %v", ErrNotFound, path, err)
		}
		path = p
	}
	fi, err := os.Stat(path)
	if err != nil {
		return "", classify(path, err)
	}
	if fi.IsDir() {
		return "", fmt.Errorf("%w: %s: is a directory", ErrNotExecutable, path)
	}
	return path, nil
}

// classify maps a start failure onto the package's sentinel errors while
// keeping the system error in the chain.
func classify(path string, err error) error {
	switch {
	case errors.Is(err, syscall.ENOENT), errors.Is(err, os.ErrNotExist), errors.Is(err, exec.ErrNotFound):
		return fmt.Errorf("%w: %s: %w", ErrNotFound, path, err)
	default:
		return fmt.Errorf("%w: %s: %w", ErrNotExecutable, path, err)
	}
}

// ExitError reports a spawned child's non-zero exit.
type ExitError struct {
	Path string
	Code int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("%s exited with status %d", e.Path, e.Code)
}

// ExitCode derives the process exit status for an error returned by a
// Handoff or by the wait that precedes it.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	switch {
	case errors.Is(err, ErrNotFound):
		return 127
	case errors.Is(err, ErrNotExecutable):
		return 126
	case errors.Is(err, context.Canceled):
		return 130
	}
	return 1
}
