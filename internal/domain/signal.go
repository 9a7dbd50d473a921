package domain

import (
	"fmt"
	"time"
)

// Phase is the signal state governing which axis has right-of-way
type Phase string

const (
	PhaseNSGreen  Phase = "NS_GREEN"
	PhaseNSYellow Phase = "NS_YELLOW"
	PhaseEWGreen  Phase = "EW_GREEN"
	PhaseEWYellow Phase = "EW_YELLOW"
	PhaseAllRed   Phase = "ALL_RED"
)

var phases = []Phase{PhaseNSGreen, PhaseNSYellow, PhaseEWGreen, PhaseEWYellow, PhaseAllRed}

// Phases returns every known phase in display order
func Phases() []Phase {
	out := make([]Phase, len(phases))
	copy(out, phases)
	return out
}

// ParsePhase validates a phase name coming from an operator
func ParsePhase(s string) (Phase, error) {
	for _, p := range phases {
		if string(p) == s {
			return p, nil
		}
	}
	return "", fmt.Errorf("unknown phase %q", s)
}

// Green reports whether the phase gives right-of-way to the axis
func (p Phase) Green(a Axis) bool {
	switch a {
	case AxisNS:
		return p == PhaseNSGreen
	case AxisEW:
		return p == PhaseEWGreen
	default:
		return false
	}
}

// Lamp returns the lamp colour shown to the axis: green, yellow or red
func (p Phase) Lamp(a Axis) string {
	switch {
	case p.Green(a):
		return "green"
	case a == AxisNS && p == PhaseNSYellow, a == AxisEW && p == PhaseEWYellow:
		return "yellow"
	default:
		return "red"
	}
}

// SignalState is the intersection's current phase and whole seconds spent in it
type SignalState struct {
	Phase   Phase `json:"phase"`
	Elapsed int   `json:"phaseElapsed"`
}

// InitialSignal is the state a simulation starts and resets to
func InitialSignal() SignalState {
	return SignalState{Phase: PhaseNSGreen}
}

// Bounds are the operator-configurable green time limits in seconds
type Bounds struct {
	MinGreen int `json:"minGreen"`
	MaxGreen int `json:"maxGreen"`
}

// Effective clamps a violated bound pair so that MaxGreen >= MinGreen
func (b Bounds) Effective() Bounds {
	if b.MaxGreen < b.MinGreen {
		b.MaxGreen = b.MinGreen
	}
	return b
}

// TransitionCause tells whether a phase change came from the controller or an operator
type TransitionCause string

const (
	CauseAuto   TransitionCause = "auto"
	CauseForced TransitionCause = "forced"
)

// Transition records one phase change
type Transition struct {
	RunID    string          `json:"runId"`
	From     Phase           `json:"from"`
	To       Phase           `json:"to"`
	Elapsed  int             `json:"elapsed"`
	Queues   QueueSnapshot   `json:"queues"`
	Pressure int             `json:"pressure"`
	Manual   bool            `json:"manual"`
	Cause    TransitionCause `json:"cause"`
	At       time.Time       `json:"at"`
}

// MetricsSample is produced once per metrics tick
type MetricsSample struct {
	RunID    string        `json:"runId"`
	Tick     uint64        `json:"tick"`
	Phase    Phase         `json:"phase"`
	Elapsed  int           `json:"phaseElapsed"`
	Queues   QueueSnapshot `json:"queues"`
	QValues  []float64     `json:"qValues"`
	Vehicles int           `json:"vehicles"`
	At       time.Time     `json:"at"`
}
