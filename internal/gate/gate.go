// Package gate blocks startup until every dependency accepts a connection,
// then hands control to the wrapped executable.
package gate

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/3cpo-dev/readygate/internal/handoff"
	"github.com/3cpo-dev/readygate/internal/probe"
)

const (
	DefaultInterval     = time.Second
	DefaultReadyMessage = "DBs are available"
)

// Target is one dependency endpoint. Name labels its diagnostic lines.
type Target struct {
	Name    string
	Network string
	Address string
}

// Observer is told about every probe attempt.
type Observer interface {
	ObserveAttempt(ctx context.Context, r probe.Result)
}

// Gate polls its targets until each has been reachable once. The zero
// value of every optional field has a usable default.
type Gate struct {
	Targets      []Target
	Prober       probe.Prober
	Interval     time.Duration
	Parallel     bool
	ReadyMessage string
	Handoff      handoff.Handoff
	Logger       zerolog.Logger
	Observers    []Observer

	// sleep waits between attempts; tests replace it to avoid real time.
	sleep func(ctx context.Context, d time.Duration) error
}

// Run waits for every target, announces readiness and hands off. It only
// returns if the wait is canceled or the handoff fails.
func (g *Gate) Run(ctx context.Context, cmd handoff.Command) error {
	if err := g.Wait(ctx); err != nil {
		return err
	}
	g.Logger.Info().Msg(g.readyMessage())
	h := g.Handoff
	if h == nil {
		h = handoff.Execer{}
	}
	return h.Handoff(ctx, cmd)
}

// Wait blocks until every target has accepted at least one connection.
func (g *Gate) Wait(ctx context.Context) error {
	if len(g.Targets) == 0 {
		return errors.New("gate: no targets")
	}
	if g.Parallel {
		eg, egCtx := errgroup.WithContext(ctx)
		for _, t := range g.Targets {
			eg.Go(func() error { return g.waitFor(egCtx, t) })
		}
		return eg.Wait()
	}
	for _, t := range g.Targets {
		if err := g.waitFor(ctx, t); err != nil {
			return err
		}
	}
	return nil
}

// waitFor retries one target until it answers. A failed attempt is a
// retry signal, never an error; only the context ends the loop early.
func (g *Gate) waitFor(ctx context.Context, t Target) error {
	prober := g.Prober
	if prober == nil {
		prober = probe.NetProber{}
	}
	network := t.Network
	if network == "" {
		network = "tcp"
	}
	for attempt := 1; ; attempt++ {
		r := probe.Check(ctx, prober, t.Name, network, t.Address)
		for _, o := range g.Observers {
			o.ObserveAttempt(ctx, r)
		}
		if r.OK {
			g.Logger.Debug().Str("target", t.Name).Str("address", t.Address).Int("attempt", attempt).
				Dur("latency", r.Latency).Msg(t.Name + " is available")
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		g.Logger.Warn().Str("target", t.Name).Str("address", t.Address).Int("attempt", attempt).
			Err(r.Err).Msg(t.Name + " is not available yet - sleeping")
		if err := g.wait(ctx); err != nil {
			return err
		}
	}
}

func (g *Gate) wait(ctx context.Context) error {
	d := g.Interval
	if d <= 0 {
		d = DefaultInterval
	}
	if g.sleep != nil {
		return g.sleep(ctx, d)
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (g *Gate) readyMessage() string {
	if g.ReadyMessage == "" {
		return DefaultReadyMessage
	}
	return g.ReadyMessage
}
