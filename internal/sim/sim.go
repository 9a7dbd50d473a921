// Package sim implements the intersection simulation: a signal phase state
// machine, vehicles moving along fixed lanes with signal gating and
// car-following, and the queue metrics that drive the signal.
//
// A Simulation is not safe for concurrent use. It is owned by a single
// driver which applies operator commands between ticks and calls Step once
// per tick.
package sim

import (
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"

	"trafficsim/internal/domain"
)

// StepResult describes what a single tick did
type StepResult struct {
	Advanced    bool
	MetricsTick bool
	Spawned     int
	Exited      int
	Skipped     int
	Transition  *domain.Transition
	Sample      *domain.MetricsSample
}

// Option configures a Simulation
type Option func(*Simulation)

// WithRand sets the random source used for spawning and cosmetic values
func WithRand(r *rand.Rand) Option {
	return func(s *Simulation) { s.rng = r }
}

// WithNetwork replaces the default lanes and their geometry
func WithNetwork(lanes []domain.Lane, geo Geometry) Option {
	return func(s *Simulation) {
		s.lanes = lanes
		s.geometry = geo
	}
}

// WithRunIDs sets the generator of run identifiers
func WithRunIDs(next func() string) Option {
	return func(s *Simulation) { s.newRunID = next }
}

// WithReadiness sets the initial host preconditions
func WithReadiness(r domain.Readiness) Option {
	return func(s *Simulation) { s.ready = r }
}

type Simulation struct {
	params   Params
	lanes    []domain.Lane
	geometry Geometry
	rng      *rand.Rand
	newRunID func() string

	signal   *Controller
	vehicles []domain.Vehicle
	nextID   uint64
	running  bool
	ready    domain.Readiness
	runID    string
	tick     uint64

	lastMetrics time.Time
	queues      domain.QueueSnapshot
	qvalues     []float64
	activity    []float64
	log         *EventLog
}

func New(params Params, bounds domain.Bounds, opts ...Option) *Simulation {
	s := &Simulation{
		params:   params,
		lanes:    DefaultLanes(),
		geometry: DefaultGeometry(),
		rng:      rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0x9E3779B97F4A7C15)),
		newRunID: uuid.NewString,
		signal:   NewController(bounds, params.YellowTime, params.DemandMargin),
		ready:    domain.Readiness{ViewLocked: true},
		qvalues:  initialQValues(),
		log:      NewEventLog(params.LogCapacity),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CanAdvance reports whether Step will move the simulation
func (s *Simulation) CanAdvance() bool {
	return s.running && s.ready.CanRun()
}

// Step runs one kinematics tick and, when the metrics interval has passed
// since the last one, a metrics tick before it.
func (s *Simulation) Step(now time.Time) StepResult {
	var res StepResult
	if !s.CanAdvance() {
		return res
	}
	res.Advanced = true
	s.tick++

	prev := s.vehicles

	if s.lastMetrics.IsZero() || now.Sub(s.lastMetrics) > s.params.MetricsInterval {
		res.MetricsTick = true
		res.Transition, res.Sample = s.metricsTick(prev, now)
		s.lastMetrics = now
	}

	s.activity = make([]float64, s.params.ActivitySize)
	for i := range s.activity {
		s.activity[i] = s.rng.Float64()
	}

	ahead := indexLanes(prev)
	moved := moveVehicles(prev, ahead, s.signal.State().Phase, s.geometry, s.params)
	res.Exited = moved.exited
	res.Skipped = moved.skipped

	next := moved.vehicles
	if v, ok := s.trySpawn(prev, ahead); ok {
		next = append(next, v)
		res.Spawned = 1
	}
	s.vehicles = next

	return res
}

func (s *Simulation) metricsTick(prev []domain.Vehicle, now time.Time) (*domain.Transition, *domain.MetricsSample) {
	s.queues = CountQueues(prev, s.params.QueueThreshold)
	s.qvalues = QValues(s.queues)

	var tr *domain.Transition
	before, switched := s.signal.Advance(s.queues)
	if switched {
		after := s.signal.State()
		tr = &domain.Transition{
			RunID:    s.runID,
			From:     before.Phase,
			To:       after.Phase,
			Elapsed:  before.Elapsed + 1,
			Queues:   s.queues,
			Pressure: s.queues.Pressure(),
			Cause:    domain.CauseAuto,
			At:       now,
		}
		switch after.Phase {
		case domain.PhaseNSYellow:
			s.log.Add(domain.LogInfo, fmt.Sprintf("Switching to EW. Pressure diff: %d", tr.Pressure), now)
		case domain.PhaseEWYellow:
			s.log.Add(domain.LogInfo, fmt.Sprintf("Switching to NS. Pressure diff: %d", tr.Pressure), now)
		}
	}

	state := s.signal.State()
	sample := &domain.MetricsSample{
		RunID:    s.runID,
		Tick:     s.tick,
		Phase:    state.Phase,
		Elapsed:  state.Elapsed,
		Queues:   s.queues,
		QValues:  append([]float64(nil), s.qvalues...),
		Vehicles: len(prev),
		At:       now,
	}
	return tr, sample
}

// trySpawn makes at most one spawn attempt. Gap and cap checks read the
// previous tick's list; a failed attempt is dropped.
func (s *Simulation) trySpawn(prev []domain.Vehicle, ahead lanesAhead) (domain.Vehicle, bool) {
	if len(s.lanes) == 0 || s.rng.Float64() >= s.params.SpawnProbability {
		return domain.Vehicle{}, false
	}
	if len(prev) >= s.params.MaxVehicles {
		return domain.Vehicle{}, false
	}

	lane := s.lanes[s.rng.IntN(len(s.lanes))]
	if ahead.blocked(lane.ID, s.params.EntryGap) {
		return domain.Vehicle{}, false
	}

	v := domain.Vehicle{
		ID:       s.nextID,
		PathID:   lane.ID,
		Axis:     lane.Axis(),
		MaxSpeed: s.params.BaseMaxSpeed + s.rng.Float64()*s.params.MaxSpeedJitter,
	}
	s.nextID++
	if pose, ok := s.geometry.Locate(lane.ID, 0); ok {
		v.X, v.Y, v.Heading = pose.X, pose.Y, pose.Heading
	}
	return v, true
}

// Start begins or resumes the run. It is a no-op returning false unless
// a scenario is configured, the view is locked and no collision is flagged.
func (s *Simulation) Start() bool {
	if !s.ready.CanStart() {
		return false
	}
	if s.running {
		return true
	}
	if s.runID == "" {
		s.runID = s.newRunID()
	}
	s.running = true
	return true
}

// Pause suspends both tick triggers; Start resumes from the exact state
func (s *Simulation) Pause() {
	s.running = false
}

// Reset clears all vehicles, reinitializes the signal and stops. Bounds,
// driving mode and host preconditions other than the collision flag are
// kept. Vehicle ids keep counting so they stay unique across runs.
func (s *Simulation) Reset() {
	s.vehicles = nil
	s.signal.Reset()
	s.running = false
	s.ready.Collided = false
	s.runID = ""
	s.tick = 0
	s.lastMetrics = time.Time{}
	s.queues = domain.QueueSnapshot{}
	s.qvalues = initialQValues()
	s.activity = nil
}

// SetBounds stores new green limits. Inverted limits are clamped when the
// controller evaluates them, not here.
func (s *Simulation) SetBounds(minGreen, maxGreen int) {
	s.signal.SetBounds(domain.Bounds{MinGreen: minGreen, MaxGreen: maxGreen})
}

// ForcePhase enters manual override with phase p and zero elapsed time
func (s *Simulation) ForcePhase(p domain.Phase, at time.Time) domain.Transition {
	prev := s.signal.Force(p)
	s.log.Add(domain.LogWarn, fmt.Sprintf("Manual override: signal forced to %s", p), at)
	return domain.Transition{
		RunID:    s.runID,
		From:     prev.Phase,
		To:       p,
		Elapsed:  prev.Elapsed,
		Queues:   s.queues,
		Pressure: s.queues.Pressure(),
		Manual:   true,
		Cause:    domain.CauseForced,
		At:       at,
	}
}

// SetManualMode switches between autonomous and manual evaluation; the
// elapsed counter carries over either way.
func (s *Simulation) SetManualMode(manual bool) {
	s.signal.SetManual(manual)
}

func (s *Simulation) SetConfigured(ok bool) { s.ready.Configured = ok }

func (s *Simulation) SetConnected(ok bool) { s.ready.Connected = ok }

func (s *Simulation) SetViewLocked(ok bool) { s.ready.ViewLocked = ok }

// SetCollision raises the collision flag. Only Reset clears it.
func (s *Simulation) SetCollision(at time.Time) {
	if s.ready.Collided {
		return
	}
	s.ready.Collided = true
	s.log.Add(domain.LogCritical, "Collision detected, simulation halted until reset", at)
}

// Note appends an entry to the operator log
func (s *Simulation) Note(level domain.LogLevel, msg string, at time.Time) {
	s.log.Add(level, msg, at)
}

func (s *Simulation) Signal() domain.SignalState { return s.signal.State() }

func (s *Simulation) Manual() bool { return s.signal.Manual() }

func (s *Simulation) Running() bool { return s.running }

func (s *Simulation) Readiness() domain.Readiness { return s.ready }

func (s *Simulation) RunID() string { return s.runID }

// Vehicles returns a copy of the live vehicle list
func (s *Simulation) Vehicles() []domain.Vehicle {
	return append([]domain.Vehicle(nil), s.vehicles...)
}

// Snapshot returns a copy of the full observable state
func (s *Simulation) Snapshot(at time.Time) domain.Snapshot {
	return domain.Snapshot{
		RunID:     s.runID,
		Tick:      s.tick,
		Time:      at,
		Running:   s.running,
		Advancing: s.CanAdvance(),
		Manual:    s.signal.Manual(),
		Readiness: s.ready,
		Signal:    s.signal.State(),
		Bounds:    s.signal.Bounds(),
		Queues:    s.queues,
		QValues:   append([]float64(nil), s.qvalues...),
		Activity:  append([]float64(nil), s.activity...),
		Vehicles:  s.Vehicles(),
		Log:       s.log.Entries(),
	}
}
