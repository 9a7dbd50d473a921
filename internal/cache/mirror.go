package cache

import (
	"context"
	"log/slog"
	"time"

	"trafficsim/internal/domain"
)

// Backend is the part of RedisCache the mirror writes through
type Backend interface {
	SetJSONCompressed(ctx context.Context, key string, value any, ttl time.Duration) error
	GetJSONCompressed(ctx context.Context, key string, dest any) (bool, error)
	PushJSON(ctx context.Context, key string, value any, max int, ttl time.Duration) error
}

type SnapshotSource interface {
	Snapshot() (domain.Snapshot, bool)
}

type ScenarioSource interface {
	Current() (domain.Scenario, bool)
}

type MirrorOptions struct {
	Interval       time.Duration
	TTL            time.Duration
	MaxTransitions int
	Buffer         int
}

type event struct {
	transition *domain.Transition
	sample     *domain.MetricsSample
}

// Mirror copies the latest published snapshot and the imported scenario to
// Redis on an interval, and appends transitions to a capped list as they
// happen.
type Mirror struct {
	backend   Backend
	snapshots SnapshotSource
	scenarios ScenarioSource
	opts      MirrorOptions
	events    chan event
	lastTick  uint64
	logger    *slog.Logger
}

func NewMirror(backend Backend, snapshots SnapshotSource, scenarios ScenarioSource, opts MirrorOptions, logger *slog.Logger) *Mirror {
	if opts.Buffer <= 0 {
		opts.Buffer = 256
	}
	return &Mirror{
		backend:   backend,
		snapshots: snapshots,
		scenarios: scenarios,
		opts:      opts,
		events:    make(chan event, opts.Buffer),
		logger:    logger.With("component", "cache_mirror"),
	}
}

func (m *Mirror) Run(ctx context.Context) {
	ticker := time.NewTicker(m.opts.Interval)
	defer ticker.Stop()

	m.logger.Info("mirror started", "interval", m.opts.Interval, "ttl", m.opts.TTL)

	for {
		select {
		case <-ctx.Done():
			m.logger.Info("mirror stopped")
			return
		case <-ticker.C:
			m.MirrorAll(ctx)
		case ev := <-m.events:
			m.write(ctx, ev)
		}
	}
}

// MirrorAll writes the current snapshot and scenario
func (m *Mirror) MirrorAll(ctx context.Context) {
	start := time.Now()

	if snap, ok := m.snapshots.Snapshot(); ok {
		if err := m.backend.SetJSONCompressed(ctx, KeySnapshot, snap, m.opts.TTL); err != nil {
			m.logger.Error("failed to mirror snapshot", "error", err)
		} else {
			m.lastTick = snap.Tick
		}
	}

	if m.scenarios != nil {
		if sc, ok := m.scenarios.Current(); ok {
			if err := m.backend.SetJSONCompressed(ctx, KeyScenario, sc, m.opts.TTL); err != nil {
				m.logger.Error("failed to mirror scenario", "error", err)
			}
		}
	}

	m.logger.Debug("mirrored state", "tick", m.lastTick, "duration_ms", time.Since(start).Milliseconds())
}

func (m *Mirror) RecordTransition(t domain.Transition) {
	m.enqueue(event{transition: &t})
}

func (m *Mirror) RecordSample(s domain.MetricsSample) {
	m.enqueue(event{sample: &s})
}

func (m *Mirror) enqueue(ev event) {
	select {
	case m.events <- ev:
	default:
		m.logger.Debug("mirror buffer full, dropping event")
	}
}

func (m *Mirror) write(ctx context.Context, ev event) {
	switch {
	case ev.transition != nil:
		if err := m.backend.PushJSON(ctx, KeyTransitions, ev.transition, m.opts.MaxTransitions, m.opts.TTL); err != nil {
			m.logger.Debug("failed to mirror transition", "error", err)
		}
	case ev.sample != nil:
		if err := m.backend.SetJSONCompressed(ctx, KeyLatestMetrics, ev.sample, m.opts.TTL); err != nil {
			m.logger.Debug("failed to mirror sample", "error", err)
		}
	}
}

// LoadScenario returns the scenario mirrored by a previous process, if any
func LoadScenario(ctx context.Context, backend Backend) (domain.Scenario, bool, error) {
	var sc domain.Scenario
	found, err := backend.GetJSONCompressed(ctx, KeyScenario, &sc)
	if err != nil || !found {
		return domain.Scenario{}, false, err
	}
	return sc, sc.Configured, nil
}
