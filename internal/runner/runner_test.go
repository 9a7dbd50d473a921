package runner

import (
	"context"
	"io"
	"log/slog"
	"math/rand/v2"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trafficsim/internal/domain"
	"trafficsim/internal/hub"
	"trafficsim/internal/queue"
	"trafficsim/internal/sim"
	"trafficsim/internal/store"
	"trafficsim/internal/telemetry"
)

var t0 = time.Date(2026, 3, 14, 8, 0, 0, 0, time.UTC)

func at(i int) time.Time {
	return t0.Add(time.Duration(i) * 30 * time.Millisecond)
}

type recordingBroadcaster struct {
	mu     sync.Mutex
	frames []hub.Frame
	reject bool
}

func (b *recordingBroadcaster) Broadcast(f hub.Frame) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.frames = append(b.frames, f)
	return !b.reject
}

func (b *recordingBroadcaster) last() hub.Frame {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.frames[len(b.frames)-1]
}

type recordingSink struct {
	transitions []domain.Transition
	samples     []domain.MetricsSample
}

func (s *recordingSink) RecordTransition(t domain.Transition) { s.transitions = append(s.transitions, t) }
func (s *recordingSink) RecordSample(m domain.MetricsSample)  { s.samples = append(s.samples, m) }

type fixture struct {
	runner *Runner
	sim    *sim.Simulation
	store  *store.Store
	bcast  *recordingBroadcaster
	sink   *recordingSink
}

func newFixture(t *testing.T, queueSize int) fixture {
	t.Helper()
	p := sim.DefaultParams()
	p.SpawnProbability = 0

	s := sim.New(p, domain.Bounds{MinGreen: sim.DefaultMinGreen, MaxGreen: sim.DefaultMaxGreen},
		sim.WithRand(rand.New(rand.NewPCG(3, 4))),
		sim.WithRunIDs(func() string { return "run-1" }),
	)
	st := store.New()
	b := &recordingBroadcaster{}
	m, err := telemetry.New()
	require.NoError(t, err)

	r := New(s, st, b, m, Options{TickInterval: 30 * time.Millisecond, QueueSize: queueSize},
		slog.New(slog.NewTextHandler(io.Discard, nil)))
	sink := &recordingSink{}
	r.AddSink(sink)
	return fixture{runner: r, sim: s, store: st, bcast: b, sink: sink}
}

func (f fixture) submit(t *testing.T, cmds ...Command) {
	t.Helper()
	for _, c := range cmds {
		require.NoError(t, f.runner.Submit(c))
	}
}

func TestRunner_ReadyAfterFirstPublish(t *testing.T) {
	f := newFixture(t, 0)
	assert.False(t, f.runner.IsReady())

	f.runner.Tick(context.Background(), at(0))

	assert.True(t, f.runner.IsReady())
	snap, ok := f.store.Snapshot()
	require.True(t, ok)
	assert.False(t, snap.Running)
	assert.Equal(t, domain.PhaseNSGreen, snap.Signal.Phase)

	// the first frame carries the signal so late joiners get lamps
	require.NotNil(t, f.bcast.last().Signal)
}

func TestRunner_CommandsAppliedInOrder(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()

	// start before the host is ready is rejected, later commands still apply
	f.submit(t, Start(), Connect(), Configure(domain.Scenario{CityName: "London", Configured: true}))
	f.runner.Tick(ctx, at(0))
	assert.False(t, f.sim.Running())
	assert.True(t, f.sim.Readiness().CanRun())
	assert.Zero(t, f.runner.Pending())

	f.submit(t, Start())
	f.runner.Tick(ctx, at(1))
	assert.True(t, f.sim.Running())
	assert.Equal(t, "run-1", f.sim.RunID())

	snap, _ := f.store.Snapshot()
	assert.Equal(t, uint64(1), snap.Tick)
	require.Len(t, f.sink.samples, 1)
	assert.Equal(t, "run-1", f.sink.samples[0].RunID)
}

func TestRunner_StartBeforeConnect(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()

	f.submit(t, Configure(domain.Scenario{CityName: "London", Configured: true}), Start())
	f.runner.Tick(ctx, at(0))
	assert.True(t, f.sim.Running())
	snap, _ := f.store.Snapshot()
	assert.Zero(t, snap.Tick)

	f.submit(t, Connect())
	f.runner.Tick(ctx, at(1))
	snap, _ = f.store.Snapshot()
	assert.Equal(t, uint64(1), snap.Tick)
}

func TestRunner_HostLogLines(t *testing.T) {
	f := newFixture(t, 0)

	f.submit(t, Connect(), Configure(domain.Scenario{CityName: "Bangalore", Configured: true}))
	f.runner.Tick(context.Background(), at(0))

	events := f.bcast.last().Events
	require.Len(t, events, 2)
	assert.Equal(t, "Optimizing network for Bangalore topology", events[0].Message)
	assert.Equal(t, "Controller linked, awaiting first batch", events[1].Message)

	// unchanged log is not resent
	f.runner.Tick(context.Background(), at(1))
	assert.Nil(t, f.bcast.last().Events)
}

func TestRunner_ForcePhaseReachesSinks(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()
	f.runner.Tick(ctx, at(0))

	f.submit(t, ForcePhase(domain.PhaseEWGreen))
	f.runner.Tick(ctx, at(1))

	require.Len(t, f.sink.transitions, 1)
	tr := f.sink.transitions[0]
	assert.Equal(t, domain.CauseForced, tr.Cause)
	assert.Equal(t, domain.PhaseNSGreen, tr.From)
	assert.Equal(t, domain.PhaseEWGreen, tr.To)

	frame := f.bcast.last()
	require.NotNil(t, frame.Signal)
	assert.Equal(t, domain.PhaseEWGreen, frame.Signal.State.Phase)
	assert.True(t, frame.Signal.Manual)
	assert.Equal(t, "green", frame.Signal.Lamps["ew"])

	// nothing changed, no signal section
	f.runner.Tick(ctx, at(2))
	assert.Nil(t, f.bcast.last().Signal)
}

func TestRunner_DroppedFrameIsResent(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()
	f.runner.Tick(ctx, at(0))

	f.bcast.reject = true
	f.submit(t, ForcePhase(domain.PhaseEWGreen))
	f.runner.Tick(ctx, at(1))
	dropped := f.bcast.last()
	require.NotNil(t, dropped.Signal)
	require.NotNil(t, dropped.Events)

	f.bcast.reject = false
	f.runner.Tick(ctx, at(2))
	resent := f.bcast.last()
	require.NotNil(t, resent.Signal, "signal change lost with the dropped frame")
	assert.Equal(t, domain.PhaseEWGreen, resent.Signal.State.Phase)
	require.NotEmpty(t, resent.Events)
	assert.Equal(t, dropped.Events[0], resent.Events[0])

	f.runner.Tick(ctx, at(3))
	assert.Nil(t, f.bcast.last().Signal)
	assert.Nil(t, f.bcast.last().Events)
}

func TestRunner_BoundsAndReset(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()

	f.submit(t, Connect(), Configure(domain.Scenario{CityName: "London", Configured: true}), Start(), SetBounds(5, 20), SetManual(true))
	for i := range 5 {
		f.runner.Tick(ctx, at(i))
	}
	require.True(t, f.sim.Running())

	f.submit(t, Reset())
	f.runner.Tick(ctx, at(5))

	snap, _ := f.store.Snapshot()
	assert.False(t, snap.Running)
	assert.Empty(t, snap.RunID)
	assert.Equal(t, domain.Bounds{MinGreen: 5, MaxGreen: 20}, snap.Bounds)
	assert.True(t, snap.Manual)
	assert.Equal(t, domain.InitialSignal(), snap.Signal)
}

func TestRunner_CollisionHalts(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()

	f.submit(t, Connect(), Configure(domain.Scenario{CityName: "London", Configured: true}), Start())
	f.runner.Tick(ctx, at(0))
	f.submit(t, Collision())
	f.runner.Tick(ctx, at(1))

	snap, _ := f.store.Snapshot()
	assert.True(t, snap.Readiness.Collided)
	assert.False(t, snap.Advancing)
	assert.Equal(t, domain.LogCritical, snap.Log[0].Level)

	tick := snap.Tick
	f.runner.Tick(ctx, at(2))
	snap, _ = f.store.Snapshot()
	assert.Equal(t, tick, snap.Tick)
}

func TestRunner_SubmitWhenFull(t *testing.T) {
	f := newFixture(t, 2)

	require.NoError(t, f.runner.Submit(Start()))
	require.NoError(t, f.runner.Submit(Pause()))
	err := f.runner.Submit(Reset())
	assert.ErrorIs(t, err, queue.ErrFull)
	assert.Equal(t, 2, f.runner.Pending())
}

func TestRunner_RunStopsOnCancel(t *testing.T) {
	f := newFixture(t, 0)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		f.runner.Run(ctx)
		close(done)
	}()

	require.Eventually(t, f.runner.IsReady, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("runner did not stop")
	}
}

func TestCommand_String(t *testing.T) {
	assert.Equal(t, "bounds(10,45)", SetBounds(10, 45).String())
	assert.Equal(t, "phase(ALL_RED)", ForcePhase(domain.PhaseAllRed).String())
	assert.Equal(t, "configure(London)", Configure(domain.Scenario{CityName: "London"}).String())
	assert.Equal(t, "pause", Pause().String())
}
