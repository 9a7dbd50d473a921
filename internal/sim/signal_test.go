package sim

import (
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trafficsim/internal/domain"
)

func newController() *Controller {
	return NewController(domain.Bounds{MinGreen: DefaultMinGreen, MaxGreen: DefaultMaxGreen}, 3, 3)
}

func TestController_InitialState(t *testing.T) {
	c := newController()
	assert.Equal(t, domain.SignalState{Phase: domain.PhaseNSGreen, Elapsed: 0}, c.State())
	assert.False(t, c.Manual())
}

func TestController_DemandSwitch(t *testing.T) {
	c := newController()
	c.state = domain.SignalState{Phase: domain.PhaseNSGreen, Elapsed: 10}

	prev, switched := c.Advance(domain.QueueSnapshot{NS: 0, EW: 5})

	require.True(t, switched)
	assert.Equal(t, domain.PhaseNSGreen, prev.Phase)
	assert.Equal(t, domain.SignalState{Phase: domain.PhaseNSYellow, Elapsed: 0}, c.State())
}

func TestController_DemandWithinMarginHolds(t *testing.T) {
	c := newController()
	c.state = domain.SignalState{Phase: domain.PhaseNSGreen, Elapsed: 20}

	_, switched := c.Advance(domain.QueueSnapshot{NS: 2, EW: 5})

	assert.False(t, switched)
	assert.Equal(t, domain.SignalState{Phase: domain.PhaseNSGreen, Elapsed: 21}, c.State())
}

func TestController_MinGreenHoldsAgainstDemand(t *testing.T) {
	c := newController()
	for i := 1; i < DefaultMinGreen; i++ {
		_, switched := c.Advance(domain.QueueSnapshot{NS: 0, EW: 30})
		require.False(t, switched, "switched at elapsed %d", i)
		assert.Equal(t, i, c.State().Elapsed)
	}

	_, switched := c.Advance(domain.QueueSnapshot{NS: 0, EW: 30})
	assert.True(t, switched)
}

func TestController_MaxGreenCeiling(t *testing.T) {
	tests := []struct {
		name   string
		phase  domain.Phase
		queues domain.QueueSnapshot
		next   domain.Phase
	}{
		{"ns balanced", domain.PhaseNSGreen, domain.QueueSnapshot{NS: 4, EW: 4}, domain.PhaseNSYellow},
		{"ns own demand", domain.PhaseNSGreen, domain.QueueSnapshot{NS: 20, EW: 0}, domain.PhaseNSYellow},
		{"ew balanced", domain.PhaseEWGreen, domain.QueueSnapshot{}, domain.PhaseEWYellow},
		{"ew own demand", domain.PhaseEWGreen, domain.QueueSnapshot{NS: 0, EW: 20}, domain.PhaseEWYellow},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newController()
			c.state = domain.SignalState{Phase: tt.phase, Elapsed: DefaultMaxGreen}

			_, switched := c.Advance(tt.queues)

			require.True(t, switched)
			assert.Equal(t, domain.SignalState{Phase: tt.next}, c.State())
		})
	}
}

func TestController_YellowCycle(t *testing.T) {
	c := newController()
	c.state = domain.SignalState{Phase: domain.PhaseNSYellow}

	c.Advance(domain.QueueSnapshot{})
	c.Advance(domain.QueueSnapshot{})
	assert.Equal(t, domain.SignalState{Phase: domain.PhaseNSYellow, Elapsed: 2}, c.State())

	c.Advance(domain.QueueSnapshot{})
	assert.Equal(t, domain.SignalState{Phase: domain.PhaseEWGreen}, c.State())

	c.state = domain.SignalState{Phase: domain.PhaseEWYellow, Elapsed: 2}
	c.Advance(domain.QueueSnapshot{})
	assert.Equal(t, domain.SignalState{Phase: domain.PhaseNSGreen}, c.State())
}

func TestController_InvertedBoundsDoNotDeadlock(t *testing.T) {
	c := NewController(domain.Bounds{MinGreen: 20, MaxGreen: 5}, 3, 3)

	switchedAt := 0
	for i := 1; i <= 30; i++ {
		if _, switched := c.Advance(domain.QueueSnapshot{}); switched {
			switchedAt = i
			break
		}
	}
	assert.Equal(t, 20, switchedAt)
	assert.Equal(t, domain.Bounds{MinGreen: 20, MaxGreen: 5}, c.Bounds())
}

func TestController_ForcePhase(t *testing.T) {
	c := newController()
	c.state = domain.SignalState{Phase: domain.PhaseNSGreen, Elapsed: 7}

	prev := c.Force(domain.PhaseEWGreen)

	assert.Equal(t, domain.SignalState{Phase: domain.PhaseNSGreen, Elapsed: 7}, prev)
	assert.Equal(t, domain.SignalState{Phase: domain.PhaseEWGreen, Elapsed: 0}, c.State())
	assert.True(t, c.Manual())

	// far past max green with overwhelming cross demand: still held
	for i := 1; i <= 60; i++ {
		_, switched := c.Advance(domain.QueueSnapshot{NS: 30, EW: 0})
		require.False(t, switched)
		require.Equal(t, i, c.State().Elapsed)
	}

	c.SetManual(false)
	assert.Equal(t, 60, c.State().Elapsed)

	_, switched := c.Advance(domain.QueueSnapshot{NS: 30, EW: 0})
	assert.True(t, switched)
	assert.Equal(t, domain.PhaseEWYellow, c.State().Phase)
}

func TestController_ManualToggleKeepsElapsed(t *testing.T) {
	c := newController()
	for range 4 {
		c.Advance(domain.QueueSnapshot{})
	}

	c.SetManual(true)
	assert.Equal(t, 4, c.State().Elapsed)
	c.Advance(domain.QueueSnapshot{})
	c.SetManual(false)
	assert.Equal(t, domain.SignalState{Phase: domain.PhaseNSGreen, Elapsed: 5}, c.State())
}

func TestController_AllRedOnlyLeavesByForce(t *testing.T) {
	c := newController()
	c.Force(domain.PhaseAllRed)
	c.SetManual(false)

	for range 100 {
		_, switched := c.Advance(domain.QueueSnapshot{NS: 10, EW: 10})
		require.False(t, switched)
	}
	assert.Equal(t, domain.SignalState{Phase: domain.PhaseAllRed, Elapsed: 100}, c.State())

	c.Force(domain.PhaseNSGreen)
	assert.Equal(t, domain.SignalState{Phase: domain.PhaseNSGreen}, c.State())
}

func TestController_ElapsedResetsOrIncrements(t *testing.T) {
	rng := rand.New(rand.NewPCG(7, 11))
	c := newController()

	for i := 0; i < 2000; i++ {
		if rng.IntN(50) == 0 {
			c.SetManual(!c.Manual())
		}
		before := c.State()
		_, switched := c.Advance(domain.QueueSnapshot{NS: rng.IntN(12), EW: rng.IntN(12)})
		after := c.State()

		if switched {
			require.Equal(t, 0, after.Elapsed)
			require.NotEqual(t, before.Phase, after.Phase)
		} else {
			require.Equal(t, before.Elapsed+1, after.Elapsed)
			require.Equal(t, before.Phase, after.Phase)
		}
	}
}

func TestController_ResetKeepsSettings(t *testing.T) {
	c := newController()
	c.SetBounds(domain.Bounds{MinGreen: 5, MaxGreen: 15})
	c.Force(domain.PhaseEWYellow)

	c.Reset()

	assert.Equal(t, domain.InitialSignal(), c.State())
	assert.True(t, c.Manual())
	assert.Equal(t, domain.Bounds{MinGreen: 5, MaxGreen: 15}, c.Bounds())
}
