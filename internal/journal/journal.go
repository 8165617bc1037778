// Package journal keeps an optional SQLite record of probe attempts and
// handoffs so slow startups can be inspected after the fact.
package journal

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"

	"github.com/3cpo-dev/readygate/internal/handoff"
	"github.com/3cpo-dev/readygate/internal/probe"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// Attempt is one stored probe attempt.
type Attempt struct {
	RunID     string
	Target    string
	Network   string
	Address   string
	OK        bool
	LatencyMs float64
	Error     string
	CheckedAt time.Time
}

// Handoff is one stored handoff.
type Handoff struct {
	RunID   string
	Command string
	Args    []string
	Mode    string
	At      time.Time
}

// Journal is a SQLite-backed record scoped to a single gate run.
type Journal struct {
	db     *sql.DB
	runID  string
	logger zerolog.Logger
}

// Open opens or creates the journal at path and starts a new run.
func Open(path string, logger zerolog.Logger) (*Journal, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	// Parallel probes write concurrently; one connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)
	j := &Journal{db: db, runID: uuid.NewString(), logger: logger}
	if err := j.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return j, nil
}

func (j *Journal) migrate() error {
	schema, err := migrationFS.ReadFile("migrations/0001_init.sql")
	if err != nil {
		return err
	}
	if _, err := j.db.Exec(string(schema)); err != nil {
		return fmt.Errorf("apply migration: %w", err)
	}
	return nil
}

func (j *Journal) RunID() string { return j.runID }

func (j *Journal) Ping(ctx context.Context) error {
	if j.db == nil {
		return errors.New("db not initialized")
	}
	return j.db.PingContext(ctx)
}

func (j *Journal) Close() error { return j.db.Close() }

// Record stores one attempt.
func (j *Journal) Record(ctx context.Context, r probe.Result) error {
	_, err := j.db.ExecContext(ctx,
		`INSERT INTO attempts (run_id, target, network, address, ok, latency_ms, error, checked_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		j.runID, r.Target, r.Network, r.Address, r.OK,
		float64(r.Latency)/float64(time.Millisecond), r.Error(),
		r.CheckedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("record attempt: %w", err)
	}
	return nil
}

// ObserveAttempt records the attempt and logs, rather than returns, a
// write failure so the journal never holds up the gate.
func (j *Journal) ObserveAttempt(ctx context.Context, r probe.Result) {
	if err := j.Record(ctx, r); err != nil {
		j.logger.Warn().Err(err).Str("target", r.Target).Msg("journal write failed")
	}
}

// RecordHandoff stores the handoff that ends this run.
func (j *Journal) RecordHandoff(ctx context.Context, cmd handoff.Command, mode handoff.Mode) error {
	args, err := json.Marshal(cmd.Args)
	if err != nil {
		return fmt.Errorf("encode args: %w", err)
	}
	_, err = j.db.ExecContext(ctx,
		`INSERT INTO handoffs (run_id, command, args, mode, at) VALUES (?, ?, ?, ?, ?)`,
		j.runID, cmd.Path, string(args), string(mode), time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("record handoff: %w", err)
	}
	return nil
}

// Recent returns the latest attempts across all runs, newest first.
func (j *Journal) Recent(ctx context.Context, limit int) ([]Attempt, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := j.db.QueryContext(ctx,
		`SELECT run_id, target, network, address, ok, latency_ms, error, checked_at
		 FROM attempts ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query attempts: %w", err)
	}
	defer rows.Close()
	var out []Attempt
	for rows.Next() {
		var a Attempt
		var checked string
		if err := rows.Scan(&a.RunID, &a.Target, &a.Network, &a.Address, &a.OK, &a.LatencyMs, &a.Error, &checked); err != nil {
			return nil, fmt.Errorf("scan attempt: %w", err)
		}
		a.CheckedAt, _ = time.Parse(time.RFC3339Nano, checked)
		out = append(out, a)
	}
	return out, rows.Err()
}

// RecentHandoffs returns the latest handoffs, newest first.
func (j *Journal) RecentHandoffs(ctx context.Context, limit int) ([]Handoff, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := j.db.QueryContext(ctx,
		`SELECT run_id, command, args, mode, at FROM handoffs ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query handoffs: %w", err)
	}
	defer rows.Close()
	var out []Handoff
	for rows.Next() {
		var h Handoff
		var args, at string
		if err := rows.Scan(&h.RunID, &h.Command, &args, &h.Mode, &at); err != nil {
			return nil, fmt.Errorf("scan handoff: %w", err)
		}
		if err := json.Unmarshal([]byte(args), &h.Args); err != nil {
			return nil, fmt.Errorf("decode args: %w", err)
		}
		h.At, _ = time.Parse(time.RFC3339Nano, at)
		out = append(out, h)
	}
	return out, rows.Err()
}
