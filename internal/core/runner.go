package core

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/3cpo-dev/readygate/internal/config"
	"github.com/3cpo-dev/readygate/internal/gate"
	"github.com/3cpo-dev/readygate/internal/handoff"
	"github.com/3cpo-dev/readygate/internal/journal"
	"github.com/3cpo-dev/readygate/internal/probe"
	"github.com/3cpo-dev/readygate/internal/telemetry"
)

// Runner wires a validated configuration into a gate with its observers.
type Runner struct {
	cfg       config.Config
	logger    zerolog.Logger
	mode      handoff.Mode
	handoff   handoff.Handoff
	registry  *probe.Registry
	collector *telemetry.Collector
	status    *telemetry.Status
	server    *telemetry.StatusServer
	journal   *journal.Journal
	gate      *gate.Gate
}

// NewRunner validates cfg and prepares the optional journal and status
// server. A nil h selects the handoff implied by cfg.Mode.
func NewRunner(cfg config.Config, logger zerolog.Logger, h handoff.Handoff) (*Runner, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	mode, err := handoff.ParseMode(cfg.Mode)
	if err != nil {
		return nil, err
	}
	if h == nil {
		h = handoff.New(mode)
	}

	r := &Runner{
		cfg:       cfg,
		logger:    logger,
		mode:      mode,
		handoff:   h,
		registry:  probe.DefaultRegistry(cfg.DialTimeout),
		collector: telemetry.NewCollector(),
	}

	targets := make([]gate.Target, 0, len(cfg.Targets))
	names := make([]string, 0, len(cfg.Targets))
	for _, t := range cfg.Targets {
		if _, err := r.registry.Get(t.Network); err != nil {
			return nil, err
		}
		targets = append(targets, gate.Target{Name: t.Name, Network: t.Network, Address: t.Address})
		names = append(names, t.Name)
	}
	r.status = telemetry.NewStatus(names)
	observers := []gate.Observer{r.collector, r.status}

	if cfg.Journal != "" {
		j, err := journal.Open(cfg.Journal, logger)
		if err != nil {
			return nil, err
		}
		r.journal = j
		observers = append(observers, j)
	}

	if cfg.StatusAddr != "" {
		r.server = telemetry.NewStatusServer(cfg.StatusAddr, r.status, r.collector)
		if err := r.server.Start(); err != nil {
			r.closeJournal()
			return nil, err
		}
	}

	r.gate = &gate.Gate{
		Targets:      targets,
		Prober:       registryProber{r.registry},
		Interval:     cfg.Interval,
		Parallel:     cfg.Parallel,
		ReadyMessage: cfg.ReadyMessage,
		Handoff:      handoff.HandoffFunc(r.handOff),
		Logger:       logger,
		Observers:    observers,
	}
	return r, nil
}

// Command builds the wrapped command with forwarded arguments.
func (r *Runner) Command(args []string) handoff.Command {
	return handoff.Command{Path: r.cfg.Command, Args: append([]string(nil), args...)}
}

// Run blocks until every target is reachable and then hands off with args.
// With a configured timeout the wait gives up after that long.
func (r *Runner) Run(ctx context.Context, args []string) error {
	if r.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.cfg.Timeout)
		defer cancel()
	}
	r.logger.Debug().Int("targets", len(r.cfg.Targets)).Bool("parallel", r.cfg.Parallel).
		Dur("interval", r.cfg.Interval).Msg("waiting for dependencies")
	err := r.gate.Run(ctx, r.Command(args))
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("dependencies not ready after %s: pending %v: %w", r.cfg.Timeout, r.status.Pending(), err)
	}
	return err
}

// Check probes every target once without retrying.
func (r *Runner) Check(ctx context.Context) []probe.Result {
	out := make([]probe.Result, 0, len(r.cfg.Targets))
	for _, t := range r.cfg.Targets {
		res := probe.Check(ctx, registryProber{r.registry}, t.Name, t.Network, t.Address)
		r.collector.ObserveAttempt(ctx, res)
		if r.journal != nil {
			r.journal.ObserveAttempt(ctx, res)
		}
		out = append(out, res)
	}
	return out
}

func (r *Runner) Collector() *telemetry.Collector { return r.collector }

func (r *Runner) Status() *telemetry.Status { return r.status }

// StatusAddr returns the bound status address, or "" when disabled.
func (r *Runner) StatusAddr() string {
	if r.server == nil {
		return ""
	}
	return r.server.Addr()
}

// handOff releases what the wrapped process must not inherit, then
// transfers control. The child outlives the wait, so its context drops
// the wait's cancellation; spawn mode relays signals on its own.
func (r *Runner) handOff(ctx context.Context, cmd handoff.Command) error {
	if r.journal != nil {
		if err := r.journal.RecordHandoff(ctx, cmd, r.mode); err != nil {
			r.logger.Warn().Err(err).Msg("journal write failed")
		}
	}
	r.collector.Flush(r.logger)
	r.Close()
	r.logger.Debug().Str("command", cmd.Path).Strs("args", cmd.Args).Str("mode", string(r.mode)).Msg("handing off")
	return r.handoff.Handoff(context.WithoutCancel(ctx), cmd)
}

// Close stops the status server and closes the journal. It is safe to call
// more than once.
func (r *Runner) Close() error {
	var errs []error
	if r.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		if err := r.server.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
		cancel()
		r.server = nil
	}
	if err := r.closeJournal(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (r *Runner) closeJournal() error {
	if r.journal == nil {
		return nil
	}
	err := r.journal.Close()
	r.journal = nil
	return err
}

// registryProber routes each probe to the prober registered for its network.
type registryProber struct{ reg *probe.Registry }

func (p registryProber) Probe(ctx context.Context, network, address string) error {
	pr, err := p.reg.Get(network)
	if err != nil {
		return err
	}
	return pr.Probe(ctx, network, address)
}
