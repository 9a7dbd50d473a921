package sim

import (
	"fmt"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trafficsim/internal/domain"
)

var ready = domain.Readiness{Configured: true, Connected: true, ViewLocked: true}

var t0 = time.Date(2026, 3, 14, 8, 0, 0, 0, time.UTC)

func newTestSim(t *testing.T, p Params, opts ...Option) *Simulation {
	t.Helper()
	runs := 0
	base := []Option{
		WithRand(rand.New(rand.NewPCG(1, 2))),
		WithRunIDs(func() string {
			runs++
			return fmt.Sprintf("run-%d", runs)
		}),
		WithReadiness(ready),
	}
	return New(p, domain.Bounds{MinGreen: DefaultMinGreen, MaxGreen: DefaultMaxGreen}, append(base, opts...)...)
}

func quietParams() Params {
	p := DefaultParams()
	p.SpawnProbability = 0
	return p
}

func tick(i int) time.Time {
	return t0.Add(time.Duration(i) * 30 * time.Millisecond)
}

func TestSimulation_StartRequiresReadiness(t *testing.T) {
	s := New(quietParams(), domain.Bounds{MinGreen: 10, MaxGreen: 45}, WithRunIDs(func() string { return "r" }))

	assert.True(t, s.Readiness().ViewLocked)
	assert.False(t, s.Start())
	assert.False(t, s.Running())
	assert.False(t, s.Step(t0).Advanced)

	s.SetViewLocked(false)
	s.SetConfigured(true)
	assert.False(t, s.Start())
	s.SetViewLocked(true)
	require.True(t, s.Start())
	assert.Equal(t, "r", s.RunID())
	assert.True(t, s.Running())

	s.SetViewLocked(false)
	assert.True(t, s.Running())
	assert.False(t, s.CanAdvance())
	assert.False(t, s.Step(tick(1)).Advanced)
}

func TestSimulation_StartBeforeConnectWaitsForBridge(t *testing.T) {
	s := New(quietParams(), domain.Bounds{MinGreen: 10, MaxGreen: 45},
		WithReadiness(domain.Readiness{Configured: true, ViewLocked: true}))

	require.True(t, s.Start())
	assert.True(t, s.Running())
	assert.False(t, s.CanAdvance())
	assert.False(t, s.Step(t0).Advanced)

	s.SetConnected(true)
	assert.True(t, s.CanAdvance())
	assert.True(t, s.Step(tick(1)).Advanced)
}

func TestSimulation_CollisionHaltsUntilReset(t *testing.T) {
	s := newTestSim(t, quietParams())
	require.True(t, s.Start())

	s.SetCollision(t0)
	assert.False(t, s.CanAdvance())
	assert.False(t, s.Step(t0).Advanced)
	assert.False(t, s.Start())

	log := s.Snapshot(t0).Log
	require.NotEmpty(t, log)
	assert.Equal(t, domain.LogCritical, log[0].Level)

	s.Reset()
	assert.False(t, s.Readiness().Collided)
	assert.True(t, s.Start())
	assert.True(t, s.Step(t0).Advanced)
}

func TestSimulation_MetricsCadence(t *testing.T) {
	s := newTestSim(t, quietParams())
	require.True(t, s.Start())

	res := s.Step(t0)
	require.True(t, res.MetricsTick, "first advancing tick runs metrics")
	require.NotNil(t, res.Sample)
	assert.Equal(t, "run-1", res.Sample.RunID)
	assert.Equal(t, 1, s.Signal().Elapsed)

	assert.False(t, s.Step(t0.Add(500*time.Millisecond)).MetricsTick)
	assert.False(t, s.Step(t0.Add(time.Second)).MetricsTick)

	res = s.Step(t0.Add(time.Second + time.Millisecond))
	assert.True(t, res.MetricsTick)
	assert.Equal(t, 2, res.Sample.Elapsed)
	assert.Equal(t, []float64{0.2, 0.1, 0.05, 0.05}, res.Sample.QValues)
}

func TestSimulation_AutoTransition(t *testing.T) {
	s := newTestSim(t, quietParams())
	s.SetBounds(1, 2)
	require.True(t, s.Start())

	res := s.Step(t0)
	assert.Nil(t, res.Transition)

	res = s.Step(t0.Add(1100 * time.Millisecond))
	require.NotNil(t, res.Transition)
	assert.Equal(t, domain.PhaseNSGreen, res.Transition.From)
	assert.Equal(t, domain.PhaseNSYellow, res.Transition.To)
	assert.Equal(t, 2, res.Transition.Elapsed)
	assert.Equal(t, domain.CauseAuto, res.Transition.Cause)
	assert.Equal(t, domain.SignalState{Phase: domain.PhaseNSYellow}, s.Signal())

	log := s.Snapshot(t0).Log
	require.Len(t, log, 1)
	assert.Equal(t, domain.LogInfo, log[0].Level)
	assert.Contains(t, log[0].Message, "Switching to EW")
}

func TestSimulation_QueuesDriveSignal(t *testing.T) {
	s := newTestSim(t, quietParams())
	require.True(t, s.Start())
	s.signal.state = domain.SignalState{Phase: domain.PhaseNSGreen, Elapsed: 10}
	for i := range 5 {
		s.vehicles = append(s.vehicles, domain.Vehicle{
			ID: uint64(i), PathID: "ew_1", Axis: domain.AxisEW, Distance: 0.1 + float64(i)*0.05,
		})
	}

	res := s.Step(t0)

	require.NotNil(t, res.Transition)
	assert.Equal(t, domain.QueueSnapshot{NS: 0, EW: 5}, res.Transition.Queues)
	assert.Equal(t, 5, res.Transition.Pressure)
	assert.Equal(t, domain.PhaseNSYellow, s.Signal().Phase)
	assert.InDeltaSlice(t, []float64{0.2, 0.35, 0.05, 0.05}, s.Snapshot(t0).QValues, 1e-12)
}

func TestSimulation_ForcePhase(t *testing.T) {
	s := newTestSim(t, quietParams())
	require.True(t, s.Start())
	s.signal.state = domain.SignalState{Phase: domain.PhaseNSGreen, Elapsed: 7}

	tr := s.ForcePhase(domain.PhaseEWGreen, t0)

	assert.Equal(t, domain.PhaseNSGreen, tr.From)
	assert.Equal(t, domain.PhaseEWGreen, tr.To)
	assert.Equal(t, 7, tr.Elapsed)
	assert.True(t, tr.Manual)
	assert.Equal(t, domain.CauseForced, tr.Cause)
	assert.Equal(t, domain.SignalState{Phase: domain.PhaseEWGreen}, s.Signal())
	assert.True(t, s.Manual())

	log := s.Snapshot(t0).Log
	require.NotEmpty(t, log)
	assert.Equal(t, domain.LogWarn, log[0].Level)
	assert.Contains(t, log[0].Message, "EW_GREEN")

	for i := 0; i < 60; i++ {
		res := s.Step(t0.Add(time.Duration(i) * 1100 * time.Millisecond))
		require.Nil(t, res.Transition)
	}
	assert.Equal(t, domain.SignalState{Phase: domain.PhaseEWGreen, Elapsed: 60}, s.Signal())
}

func TestSimulation_VehicleRemovedWhenReachingEnd(t *testing.T) {
	s := newTestSim(t, quietParams())
	require.True(t, s.Start())
	s.vehicles = []domain.Vehicle{
		{ID: 1, PathID: "ns_1", Axis: domain.AxisNS, Distance: 0.997, Speed: 0.004, MaxSpeed: 0.004},
		{ID: 2, PathID: "we_1", Axis: domain.AxisEW, Distance: 0.9, Speed: 0.004, MaxSpeed: 0.004},
	}

	res := s.Step(t0)

	assert.Equal(t, 1, res.Exited)
	vs := s.Vehicles()
	require.Len(t, vs, 1)
	assert.Equal(t, uint64(2), vs[0].ID)
	assert.InDelta(t, 9.6, vs[0].X, 1e-9)
	assert.InDelta(t, 180.0, vs[0].Heading, 1e-9)
}

func TestSimulation_DistanceNeverDecreases(t *testing.T) {
	s := newTestSim(t, DefaultParams())
	require.True(t, s.Start())

	last := map[uint64]float64{}
	var maxID uint64
	exited, spawned := 0, 0

	for i := 0; i < 4000; i++ {
		res := s.Step(tick(i))
		exited += res.Exited
		spawned += res.Spawned

		vs := s.Vehicles()
		require.LessOrEqual(t, len(vs), DefaultParams().MaxVehicles)
		for _, v := range vs {
			require.Less(t, v.Distance, 1.0)
			require.GreaterOrEqual(t, v.Speed, 0.0)
			if d, seen := last[v.ID]; seen {
				require.GreaterOrEqual(t, v.Distance, d, "vehicle %d went backwards", v.ID)
			} else if len(last) > 0 {
				require.Greater(t, v.ID, maxID, "ids are assigned monotonically")
			}
			last[v.ID] = v.Distance
			maxID = max(maxID, v.ID)
		}
	}

	assert.Positive(t, spawned)
	assert.Positive(t, exited)
}

func TestSimulation_Spawn(t *testing.T) {
	p := DefaultParams()
	p.SpawnProbability = 1

	t.Run("empty road", func(t *testing.T) {
		s := newTestSim(t, p)
		require.True(t, s.Start())

		res := s.Step(t0)

		require.Equal(t, 1, res.Spawned)
		v := s.Vehicles()[0]
		assert.Equal(t, uint64(0), v.ID)
		assert.Zero(t, v.Distance)
		assert.Zero(t, v.Speed)
		assert.GreaterOrEqual(t, v.MaxSpeed, 0.004)
		assert.Less(t, v.MaxSpeed, 0.007)
		assert.Equal(t, domain.Lane{ID: v.PathID, Group: domain.Group(v.PathID[:2])}.Axis(), v.Axis)
	})

	t.Run("cap reached", func(t *testing.T) {
		capped := p
		capped.MaxVehicles = 2
		s := newTestSim(t, capped)
		require.True(t, s.Start())
		s.vehicles = []domain.Vehicle{
			{ID: 1, PathID: "ns_1", Axis: domain.AxisNS, Distance: 0.6, MaxSpeed: 0.004},
			{ID: 2, PathID: "ew_1", Axis: domain.AxisEW, Distance: 0.6, MaxSpeed: 0.004},
		}

		assert.Zero(t, s.Step(t0).Spawned)
		assert.Len(t, s.Vehicles(), 2)
	})

	t.Run("entry gap", func(t *testing.T) {
		s := newTestSim(t, p)
		require.True(t, s.Start())
		for i, lane := range DefaultLanes() {
			s.vehicles = append(s.vehicles, domain.Vehicle{
				ID: uint64(100 + i), PathID: lane.ID, Axis: lane.Axis(), Distance: 0.05, MaxSpeed: 0.004,
			})
		}

		assert.Zero(t, s.Step(t0).Spawned)
	})
}

func TestSimulation_PauseResume(t *testing.T) {
	s := newTestSim(t, DefaultParams())
	require.True(t, s.Start())
	for i := 0; i < 300; i++ {
		s.Step(tick(i))
	}

	s.Pause()
	before := s.Snapshot(t0)
	assert.False(t, s.Step(tick(300)).Advanced)
	assert.Equal(t, before, s.Snapshot(t0))

	require.True(t, s.Start())
	assert.Equal(t, "run-1", s.RunID())
	assert.True(t, s.Step(tick(301)).Advanced)
}

func TestSimulation_ResetIdempotent(t *testing.T) {
	s := newTestSim(t, DefaultParams())
	s.SetBounds(12, 30)
	require.True(t, s.Start())
	for i := 0; i < 500; i++ {
		s.Step(tick(i))
	}
	s.ForcePhase(domain.PhaseAllRed, tick(500))

	s.Reset()
	once := s.Snapshot(t0)
	s.Reset()
	twice := s.Snapshot(t0)

	assert.Equal(t, once, twice)
	assert.Empty(t, once.Vehicles)
	assert.Equal(t, domain.InitialSignal(), once.Signal)
	assert.False(t, once.Running)
	assert.Empty(t, once.RunID)
	assert.Equal(t, []float64{0.1, 0.4, 0.8, 0.2}, once.QValues)
	assert.Equal(t, domain.Bounds{MinGreen: 12, MaxGreen: 30}, once.Bounds)
	assert.True(t, once.Manual)

	require.True(t, s.Start())
	assert.Equal(t, "run-2", s.RunID())
}

func TestSimulation_IDsSurviveReset(t *testing.T) {
	p := DefaultParams()
	p.SpawnProbability = 1
	s := newTestSim(t, p)

	require.True(t, s.Start())
	s.Step(t0)
	first := s.Vehicles()[0].ID

	s.Reset()
	require.True(t, s.Start())
	s.Step(t0)

	assert.Greater(t, s.Vehicles()[0].ID, first)
}

func TestSimulation_SnapshotIsACopy(t *testing.T) {
	p := DefaultParams()
	p.SpawnProbability = 1
	s := newTestSim(t, p)
	require.True(t, s.Start())
	s.Step(t0)

	snap := s.Snapshot(t0)
	require.Len(t, snap.Vehicles, 1)
	require.Len(t, snap.Activity, p.ActivitySize)
	snap.Vehicles[0].Distance = 0.9
	snap.QValues[0] = 42

	again := s.Snapshot(t0)
	assert.Zero(t, again.Vehicles[0].Distance)
	assert.NotEqual(t, 42.0, again.QValues[0])
}

func TestSimulation_MissingGeometrySkipsVehicle(t *testing.T) {
	geo := NewLaneGeometry(nil)
	s := newTestSim(t, quietParams(), WithNetwork(DefaultLanes(), geo))
	require.True(t, s.Start())
	s.vehicles = []domain.Vehicle{{ID: 9, PathID: "ns_1", Axis: domain.AxisNS, Distance: 0.2, Speed: 0.004}}

	res := s.Step(t0)

	assert.Equal(t, 1, res.Skipped)
	assert.Equal(t, []domain.Vehicle{{ID: 9, PathID: "ns_1", Axis: domain.AxisNS, Distance: 0.2, Speed: 0.004}}, s.Vehicles())
}

func TestEventLog_NewestFirstAndCapped(t *testing.T) {
	l := NewEventLog(15)
	for i := 0; i < 20; i++ {
		l.Add(domain.LogInfo, fmt.Sprintf("entry %d", i), t0)
	}

	entries := l.Entries()
	assert.Equal(t, 15, l.Len())
	assert.Equal(t, "entry 19", entries[0].Message)
	assert.Equal(t, "entry 5", entries[14].Message)
}
