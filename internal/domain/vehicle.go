package domain

import "time"

// Axis groups the two opposing directions that share a right-of-way phase
type Axis string

const (
	AxisNS Axis = "ns"
	AxisEW Axis = "ew"
)

// Group is the travel direction of a lane
type Group string

const (
	GroupNS Group = "ns" // southbound
	GroupSN Group = "sn" // northbound
	GroupEW Group = "ew" // eastbound
	GroupWE Group = "we" // westbound
)

// Axis maps a lane direction onto its signal axis
func (g Group) Axis() Axis {
	switch g {
	case GroupNS, GroupSN:
		return AxisNS
	default:
		return AxisEW
	}
}

// Lane is one fixed directional path through the intersection
type Lane struct {
	ID    string `json:"id"`
	Group Group  `json:"group"`
}

// Axis returns the signal axis of the lane
func (l Lane) Axis() Axis { return l.Group.Axis() }

// Vehicle is a single simulated car
type Vehicle struct {
	ID       uint64  `json:"id"`
	PathID   string  `json:"pathId"`
	Axis     Axis    `json:"axis"`
	Distance float64 `json:"distance"`
	Speed    float64 `json:"speed"`
	MaxSpeed float64 `json:"maxSpeed"`
	X        float64 `json:"x"`
	Y        float64 `json:"y"`
	Heading  float64 `json:"heading"`
}

// QueueSnapshot is the per-axis count of vehicles still short of the stop line
type QueueSnapshot struct {
	NS int `json:"ns"`
	EW int `json:"ew"`
}

// Pressure is the absolute queue imbalance between the axes
func (q QueueSnapshot) Pressure() int {
	if q.NS > q.EW {
		return q.NS - q.EW
	}
	return q.EW - q.NS
}

// Readiness holds the host-supplied preconditions for running
type Readiness struct {
	Configured bool `json:"configured"`
	Connected  bool `json:"connected"`
	ViewLocked bool `json:"viewLocked"`
	Collided   bool `json:"collided"`
}

// CanStart reports whether a run may begin. The bridge link is not
// required; a started run waits for it before advancing.
func (r Readiness) CanStart() bool {
	return r.Configured && r.ViewLocked && !r.Collided
}

// CanRun reports whether every precondition allows the loop to advance
func (r Readiness) CanRun() bool {
	return r.CanStart() && r.Connected
}

// LogLevel is the severity of an operator log entry
type LogLevel string

const (
	LogInfo     LogLevel = "info"
	LogWarn     LogLevel = "warn"
	LogError    LogLevel = "error"
	LogCritical LogLevel = "critical"
)

// LogEntry is a line in the simulation health log
type LogEntry struct {
	Level   LogLevel  `json:"level"`
	Message string    `json:"message"`
	At      time.Time `json:"at"`
}

// Snapshot is a read-only view of the simulation after a tick
type Snapshot struct {
	RunID     string        `json:"runId"`
	Tick      uint64        `json:"tick"`
	Time      time.Time     `json:"time"`
	Running   bool          `json:"running"`
	Advancing bool          `json:"advancing"`
	Manual    bool          `json:"manual"`
	Readiness Readiness     `json:"readiness"`
	Signal    SignalState   `json:"signal"`
	Bounds    Bounds        `json:"bounds"`
	Queues    QueueSnapshot `json:"queues"`
	QValues   []float64     `json:"qValues"`
	Activity  []float64     `json:"activity"`
	Vehicles  []Vehicle     `json:"vehicles"`
	Log       []LogEntry    `json:"log"`
}

// DeltaType indicates whether a vehicle was updated or removed
type DeltaType string

const (
	DeltaUpdate DeltaType = "update"
	DeltaRemove DeltaType = "remove"
)

// VehicleDelta represents a change in vehicle state between two snapshots
type VehicleDelta struct {
	Type    DeltaType `json:"type"`
	Vehicle *Vehicle  `json:"vehicle,omitempty"`
	ID      uint64    `json:"id"`
	Axis    Axis      `json:"axis"`
}
