// Package runner drives the simulation: it owns the Simulation, applies
// queued operator commands between ticks, and publishes each tick to the
// store, the websocket hub and the configured sinks.
package runner

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync/atomic"
	"time"

	"trafficsim/internal/domain"
	"trafficsim/internal/hub"
	"trafficsim/internal/queue"
	"trafficsim/internal/sim"
	"trafficsim/internal/store"
	"trafficsim/internal/telemetry"
)

type Broadcaster interface {
	Broadcast(frame hub.Frame) bool
}

// Sink receives simulation output. Implementations must not block.
type Sink interface {
	RecordTransition(t domain.Transition)
	RecordSample(s domain.MetricsSample)
}

type Options struct {
	TickInterval time.Duration
	QueueSize    int
}

type Runner struct {
	sim         *sim.Simulation
	store       *store.Store
	broadcaster Broadcaster
	metrics     *telemetry.Metrics
	sinks       []Sink
	commands    *queue.Queue[Command]
	interval    time.Duration
	now         func() time.Time
	logger      *slog.Logger

	lastSignal  *hub.SignalView
	lastLogHead domain.LogEntry
	lastLogLen  int

	ready atomic.Bool
}

func New(s *sim.Simulation, st *store.Store, broadcaster Broadcaster, metrics *telemetry.Metrics, opts Options, logger *slog.Logger) *Runner {
	return &Runner{
		sim:         s,
		store:       st,
		broadcaster: broadcaster,
		metrics:     metrics,
		commands:    queue.New[Command](opts.QueueSize),
		interval:    opts.TickInterval,
		now:         time.Now,
		logger:      logger.With("component", "runner"),
	}
}

// AddSink registers a consumer of transitions and samples. It must be
// called before Run.
func (r *Runner) AddSink(s Sink) {
	r.sinks = append(r.sinks, s)
}

// Submit queues a command for the next tick
func (r *Runner) Submit(cmd Command) error {
	if err := r.commands.Push(cmd); err != nil {
		return fmt.Errorf("submit %s: %w", cmd, err)
	}
	return nil
}

// Pending returns the number of queued commands
func (r *Runner) Pending() int {
	return r.commands.Len()
}

func (r *Runner) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.Tick(ctx, r.now())

	for {
		select {
		case <-ctx.Done():
			if n := r.commands.Len(); n > 0 {
				r.logger.Info("discarding pending commands", "count", n)
				r.commands.Clear()
			}
			return
		case <-ticker.C:
			r.Tick(ctx, r.now())
		}
	}
}

// Tick applies every queued command, steps the simulation once and
// publishes the result.
func (r *Runner) Tick(ctx context.Context, now time.Time) {
	var transitions []domain.Transition

	cmds := r.commands.Drain()
	for _, cmd := range cmds {
		if tr, ok := r.apply(cmd, now); ok {
			transitions = append(transitions, tr)
		}
		if r.metrics != nil {
			r.metrics.ObserveCommand(ctx, string(cmd.Kind))
		}
	}

	res := r.sim.Step(now)
	if res.Transition != nil {
		transitions = append(transitions, *res.Transition)
	}

	snap := r.sim.Snapshot(now)
	deltas := r.store.Publish(snap)

	if r.broadcaster != nil {
		frame := r.frame(snap, deltas, res.Advanced || len(cmds) > 0)
		if r.broadcaster.Broadcast(frame) {
			r.remember(frame, snap)
		}
	}

	for _, tr := range transitions {
		r.logger.Info("signal transition",
			"from", tr.From, "to", tr.To, "cause", tr.Cause,
			"elapsed", tr.Elapsed, "pressure", tr.Pressure)
		for _, s := range r.sinks {
			s.RecordTransition(tr)
		}
	}
	if res.Sample != nil {
		for _, s := range r.sinks {
			s.RecordSample(*res.Sample)
		}
	}

	if res.Advanced && r.metrics != nil {
		r.metrics.ObserveTick(ctx, res.Spawned, res.Exited, res.Skipped, len(snap.Vehicles))
	}

	if !r.ready.Load() {
		r.ready.Store(true)
		r.logger.Info("runner ready", "interval", r.interval)
	}
}

func (r *Runner) apply(cmd Command, now time.Time) (domain.Transition, bool) {
	r.logger.Debug("applying command", "command", cmd.String())

	switch cmd.Kind {
	case KindStart:
		if !r.sim.Start() {
			r.logger.Warn("start rejected", "readiness", r.sim.Readiness())
		}
	case KindPause:
		r.sim.Pause()
	case KindReset:
		r.sim.Reset()
	case KindBounds:
		r.sim.SetBounds(cmd.MinGreen, cmd.MaxGreen)
	case KindPhase:
		return r.sim.ForcePhase(cmd.Phase, now), true
	case KindManual:
		r.sim.SetManualMode(cmd.Manual)
	case KindCollision:
		r.sim.SetCollision(now)
	case KindConnect:
		r.sim.SetConnected(true)
		r.sim.Note(domain.LogInfo, "Controller linked, awaiting first batch", now)
	case KindView:
		r.sim.SetViewLocked(cmd.Locked)
	case KindConfigure:
		r.sim.SetConfigured(true)
		if cmd.Scenario != nil {
			r.sim.Note(domain.LogInfo, fmt.Sprintf("Optimizing network for %s topology", cmd.Scenario.CityName), now)
		}
	default:
		r.logger.Warn("unknown command", "kind", cmd.Kind)
	}
	return domain.Transition{}, false
}

// frame keeps only the sections that changed since the last frame the
// broadcaster accepted
func (r *Runner) frame(snap domain.Snapshot, deltas []domain.VehicleDelta, metricsChanged bool) hub.Frame {
	f := hub.Frame{Tick: snap.Tick, Deltas: deltas}

	sig := hub.NewSignalView(snap)
	if r.lastSignal == nil || r.lastSignal.State != sig.State ||
		r.lastSignal.Bounds != sig.Bounds || r.lastSignal.Manual != sig.Manual {
		f.Signal = sig
	}

	if metricsChanged {
		f.Metrics = hub.NewMetricsView(snap)
	}

	if logHead(snap.Log) != r.lastLogHead || len(snap.Log) != r.lastLogLen {
		f.Events = slices.Clone(snap.Log)
		if f.Events == nil {
			f.Events = []domain.LogEntry{}
		}
	}
	return f
}

// remember records the sections subscribers have been sent. A dropped
// frame is not remembered, so its sections go out again next tick.
func (r *Runner) remember(f hub.Frame, snap domain.Snapshot) {
	if f.Signal != nil {
		r.lastSignal = f.Signal
	}
	if f.Events != nil {
		r.lastLogHead = logHead(snap.Log)
		r.lastLogLen = len(snap.Log)
	}
}

func logHead(log []domain.LogEntry) domain.LogEntry {
	if len(log) == 0 {
		return domain.LogEntry{}
	}
	return log[0]
}

// IsReady reports whether the first snapshot has been published
func (r *Runner) IsReady() bool {
	return r.ready.Load()
}
