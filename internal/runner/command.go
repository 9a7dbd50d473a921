package runner

import (
	"fmt"

	"trafficsim/internal/domain"
)

// Kind names an operator command
type Kind string

const (
	KindStart     Kind = "start"
	KindPause     Kind = "pause"
	KindReset     Kind = "reset"
	KindBounds    Kind = "bounds"
	KindPhase     Kind = "phase"
	KindManual    Kind = "manual"
	KindCollision Kind = "collision"
	KindConnect   Kind = "connect"
	KindView      Kind = "view"
	KindConfigure Kind = "configure"
)

// Command is queued by the host and applied by the runner at the start of
// the next tick. Only the fields of its Kind are read.
type Command struct {
	Kind     Kind             `json:"kind"`
	MinGreen int              `json:"minGreen,omitempty"`
	MaxGreen int              `json:"maxGreen,omitempty"`
	Phase    domain.Phase     `json:"phase,omitempty"`
	Manual   bool             `json:"manual,omitempty"`
	Locked   bool             `json:"locked,omitempty"`
	Scenario *domain.Scenario `json:"scenario,omitempty"`
}

func Start() Command     { return Command{Kind: KindStart} }
func Pause() Command     { return Command{Kind: KindPause} }
func Reset() Command     { return Command{Kind: KindReset} }
func Collision() Command { return Command{Kind: KindCollision} }
func Connect() Command   { return Command{Kind: KindConnect} }

func SetBounds(minGreen, maxGreen int) Command {
	return Command{Kind: KindBounds, MinGreen: minGreen, MaxGreen: maxGreen}
}

func ForcePhase(p domain.Phase) Command {
	return Command{Kind: KindPhase, Phase: p}
}

func SetManual(manual bool) Command {
	return Command{Kind: KindManual, Manual: manual}
}

func LockView(locked bool) Command {
	return Command{Kind: KindView, Locked: locked}
}

func Configure(sc domain.Scenario) Command {
	return Command{Kind: KindConfigure, Scenario: &sc}
}

func (c Command) String() string {
	switch c.Kind {
	case KindBounds:
		return fmt.Sprintf("%s(%d,%d)", c.Kind, c.MinGreen, c.MaxGreen)
	case KindPhase:
		return fmt.Sprintf("%s(%s)", c.Kind, c.Phase)
	case KindManual:
		return fmt.Sprintf("%s(%t)", c.Kind, c.Manual)
	case KindView:
		return fmt.Sprintf("%s(%t)", c.Kind, c.Locked)
	case KindConfigure:
		if c.Scenario != nil {
			return fmt.Sprintf("%s(%s)", c.Kind, c.Scenario.CityName)
		}
	}
	return string(c.Kind)
}
