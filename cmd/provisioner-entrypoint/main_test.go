package main

import (
	"bytes"
	"context"
	"net"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/3cpo-dev/readygate/internal/handoff"
)

func isolate(t *testing.T) {
	t.Helper()
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("READYGATE_CONFIG", "")
	t.Setenv("READYGATE_INTERVAL", "10ms")
}

func listen(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { _ = ln.Close() })
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			_ = c.Close()
		}
	}()
	return ln.Addr().String()
}

type captureHandoff struct {
	called bool
	cmd    handoff.Command
}

func (c *captureHandoff) Handoff(_ context.Context, cmd handoff.Command) error {
	c.called = true
	c.cmd = cmd
	return nil
}

// TestForwardsArgvVerbatim passes flag-like arguments through untouched
func TestForwardsArgvVerbatim(t *testing.T) {
	isolate(t)
	t.Setenv("READYGATE_TARGETS", "PG="+listen(t)+",mongoDB="+listen(t))

	args := []string{"--config", "/etc/provisioner.yaml", "-v", "", "run", "--", "x"}
	var stderr bytes.Buffer
	h := &captureHandoff{}
	if code := run(context.Background(), args, &stderr, h); code != 0 {
		t.Fatalf("exit code %d\n%s", code, stderr.String())
	}
	if !h.called {
		t.Fatalf("expected handoff")
	}
	if h.cmd.Path != "/usr/local/bin/provisioner" {
		t.Errorf("path = %q", h.cmd.Path)
	}
	if diff := cmp.Diff(args, h.cmd.Args); diff != "" {
		t.Errorf("args mismatch (-want +got):\n%s", diff)
	}
	if !strings.Contains(stderr.String(), "DBs are available") {
		t.Errorf("missing ready line:\n%s", stderr.String())
	}
}

func TestMissingProvisionerExits127(t *testing.T) {
	isolate(t)
	t.Setenv("READYGATE_TARGETS", "PG="+listen(t))
	t.Setenv("READYGATE_COMMAND", filepath.Join(t.TempDir(), "provisioner"))

	var stderr bytes.Buffer
	if code := run(context.Background(), nil, &stderr, nil); code != 127 {
		t.Fatalf("exit code %d, want 127\n%s", code, stderr.String())
	}
	if !strings.Contains(stderr.String(), "no such file or directory") {
		t.Errorf("expected system error message:\n%s", stderr.String())
	}
}

func TestTimeoutReportsPending(t *testing.T) {
	isolate(t)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	down := ln.Addr().String()
	_ = ln.Close()
	t.Setenv("READYGATE_TARGETS", "PG="+listen(t)+",mongoDB="+down)
	t.Setenv("READYGATE_TIMEOUT", "100ms")

	var stderr bytes.Buffer
	h := &captureHandoff{}
	if code := run(context.Background(), nil, &stderr, h); code != 1 {
		t.Fatalf("exit code %d, want 1", code)
	}
	if h.called {
		t.Fatalf("handoff must not happen while mongoDB is down")
	}
	out := stderr.String()
	if !strings.Contains(out, "mongoDB is not available yet - sleeping") {
		t.Errorf("expected mongoDB retry lines:\n%s", out)
	}
	if strings.Contains(out, "PG is not available") {
		t.Errorf("PG was up and must not be reported:\n%s", out)
	}
}

func TestInterruptedWhileWaiting(t *testing.T) {
	isolate(t)
	t.Setenv("READYGATE_TARGETS", "PG=127.0.0.1:1")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	var stderr bytes.Buffer
	if code := run(ctx, nil, &stderr, &captureHandoff{}); code != 130 {
		t.Fatalf("exit code %d, want 130", code)
	}
}

func TestBadConfigExits1(t *testing.T) {
	isolate(t)
	t.Setenv("READYGATE_INTERVAL", "soon")
	var stderr bytes.Buffer
	if code := run(context.Background(), nil, &stderr, nil); code != 1 {
		t.Fatalf("exit code %d, want 1", code)
	}
}
