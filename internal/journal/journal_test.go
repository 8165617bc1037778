package journal

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/rs/zerolog"

	"github.com/3cpo-dev/readygate/internal/handoff"
	"github.com/3cpo-dev/readygate/internal/probe"
)

func openTemp(t *testing.T) (*Journal, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "journal.db")
	j, err := Open(path, zerolog.Nop())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = j.Close() })
	return j, path
}

func TestJournalRecordsAttempts(t *testing.T) {
	j, _ := openTemp(t)
	ctx := context.Background()
	if err := j.Ping(ctx); err != nil {
		t.Fatalf("ping: %v", err)
	}
	now := time.Now()
	j.ObserveAttempt(ctx, probe.Result{Target: "PG", Network: "tcp", Address: "postgres:5432", Err: errors.New("connection refused"), Latency: 3 * time.Millisecond, CheckedAt: now})
	j.ObserveAttempt(ctx, probe.Result{Target: "PG", Network: "tcp", Address: "postgres:5432", OK: true, Latency: time.Millisecond, CheckedAt: now.Add(time.Second)})

	got, err := j.Recent(ctx, 10)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 attempts, got %d", len(got))
	}
	if !got[0].OK || got[0].Error != "" {
		t.Errorf("expected newest attempt to be the success: %+v", got[0])
	}
	if got[1].OK || got[1].Error != "connection refused" || got[1].LatencyMs != 3 {
		t.Errorf("unexpected failed attempt: %+v", got[1])
	}
	if got[0].RunID != j.RunID() || !got[1].CheckedAt.Equal(now) {
		t.Errorf("unexpected run id or timestamp: %+v", got[1])
	}
}

func TestJournalLimit(t *testing.T) {
	j, _ := openTemp(t)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		if err := j.Record(ctx, probe.Result{Target: "mongoDB", Network: "tcp", Address: "mongodb:27017", CheckedAt: time.Now()}); err != nil {
			t.Fatalf("record: %v", err)
		}
	}
	got, err := j.Recent(ctx, 3)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 attempts, got %d", len(got))
	}
}

func TestJournalHandoffs(t *testing.T) {
	j, _ := openTemp(t)
	ctx := context.Background()
	cmd := handoff.Command{Path: "/usr/local/bin/provisioner", Args: []string{"apply", "--env", "staging"}}
	if err := j.RecordHandoff(ctx, cmd, handoff.ModeExec); err != nil {
		t.Fatalf("record handoff: %v", err)
	}
	got, err := j.RecentHandoffs(ctx, 0)
	if err != nil {
		t.Fatalf("recent handoffs: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 handoff, got %d", len(got))
	}
	if got[0].Command != cmd.Path || got[0].Mode != "exec" {
		t.Errorf("unexpected handoff: %+v", got[0])
	}
	if diff := cmp.Diff(cmd.Args, got[0].Args); diff != "" {
		t.Errorf("args mismatch (-want +got):\n%s", diff)
	}
}

// TestJournalRunsAreDistinct reopens the same file and checks history survives
func TestJournalRunsAreDistinct(t *testing.T) {
	j, path := openTemp(t)
	ctx := context.Background()
	if err := j.Record(ctx, probe.Result{Target: "PG", Network: "tcp", Address: "postgres:5432", OK: true, CheckedAt: time.Now()}); err != nil {
		t.Fatalf("record: %v", err)
	}
	first := j.RunID()
	_ = j.Close()

	j2, err := Open(path, zerolog.Nop())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer j2.Close()
	if j2.RunID() == first {
		t.Fatalf("expected a fresh run id")
	}
	got, err := j2.Recent(ctx, 10)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(got) != 1 || got[0].RunID != first {
		t.Fatalf("expected previous run to persist: %+v", got)
	}
}
