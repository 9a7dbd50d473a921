// Package telemetry exposes simulation counters and gauges through the
// global OpenTelemetry meter. Without a configured provider every
// instrument is a no-op.
package telemetry

import (
	"context"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"trafficsim/internal/domain"
)

const instrumentationName = "trafficsim/internal/telemetry"

type Metrics struct {
	ticks       metric.Int64Counter
	spawned     metric.Int64Counter
	exited      metric.Int64Counter
	skipped     metric.Int64Counter
	transitions metric.Int64Counter
	commands    metric.Int64Counter

	vehicles metric.Int64ObservableGauge
	queue    metric.Int64ObservableGauge

	mu     sync.RWMutex
	live   int
	queues domain.QueueSnapshot
}

func New() (*Metrics, error) {
	m := &Metrics{}
	meter := otel.Meter(instrumentationName)

	counters := []struct {
		dst  *metric.Int64Counter
		name string
		desc string
	}{
		{&m.ticks, "sim.ticks", "Kinematics ticks that advanced the simulation"},
		{&m.spawned, "sim.vehicles.spawned", "Vehicles created"},
		{&m.exited, "sim.vehicles.exited", "Vehicles that reached the end of their lane"},
		{&m.skipped, "sim.vehicles.skipped", "Vehicle updates skipped for missing geometry"},
		{&m.transitions, "sim.signal.transitions", "Signal phase changes"},
		{&m.commands, "sim.commands", "Operator commands applied"},
	}
	for _, c := range counters {
		counter, err := meter.Int64Counter(c.name, metric.WithDescription(c.desc))
		if err != nil {
			return nil, fmt.Errorf("creating %s counter: %w", c.name, err)
		}
		*c.dst = counter
	}

	var err error
	m.vehicles, err = meter.Int64ObservableGauge(
		"sim.vehicles.live",
		metric.WithDescription("Vehicles currently on the road"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating live vehicles gauge: %w", err)
	}

	m.queue, err = meter.Int64ObservableGauge(
		"sim.queue.length",
		metric.WithDescription("Queued vehicles per axis at the last metrics tick"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating queue gauge: %w", err)
	}

	_, err = meter.RegisterCallback(
		func(ctx context.Context, o metric.Observer) error {
			m.mu.RLock()
			defer m.mu.RUnlock()
			o.ObserveInt64(m.vehicles, int64(m.live))
			o.ObserveInt64(m.queue, int64(m.queues.NS), metric.WithAttributes(attribute.String("axis", string(domain.AxisNS))))
			o.ObserveInt64(m.queue, int64(m.queues.EW), metric.WithAttributes(attribute.String("axis", string(domain.AxisEW))))
			return nil
		},
		m.vehicles, m.queue,
	)
	if err != nil {
		return nil, fmt.Errorf("registering gauge callback: %w", err)
	}

	return m, nil
}

// ObserveTick records one advancing kinematics tick
func (m *Metrics) ObserveTick(ctx context.Context, spawned, exited, skipped, live int) {
	m.ticks.Add(ctx, 1)
	if spawned > 0 {
		m.spawned.Add(ctx, int64(spawned))
	}
	if exited > 0 {
		m.exited.Add(ctx, int64(exited))
	}
	if skipped > 0 {
		m.skipped.Add(ctx, int64(skipped))
	}

	m.mu.Lock()
	m.live = live
	m.mu.Unlock()
}

// ObserveCommand counts an applied operator command
func (m *Metrics) ObserveCommand(ctx context.Context, kind string) {
	m.commands.Add(ctx, 1, metric.WithAttributes(attribute.String("command", kind)))
}

func (m *Metrics) RecordTransition(tr domain.Transition) {
	m.transitions.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("to", string(tr.To)),
		attribute.String("cause", string(tr.Cause)),
	))
}

func (m *Metrics) RecordSample(s domain.MetricsSample) {
	m.mu.Lock()
	m.queues = s.Queues
	m.mu.Unlock()
}

// Gauges returns the values the gauges report on the next collection
func (m *Metrics) Gauges() (live int, queues domain.QueueSnapshot) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.live, m.queues
}
