package sim

import "trafficsim/internal/domain"

// phaseRule is one row of the transition table: leaving `from` for `to`
// once exit holds for the elapsed time the tick would reach.
type phaseRule struct {
	from domain.Phase
	to   domain.Phase
	exit func(c *Controller, elapsed int, q domain.QueueSnapshot) bool
}

var phaseTable = []phaseRule{
	{from: domain.PhaseNSGreen, to: domain.PhaseNSYellow, exit: greenExpired(domain.AxisNS)},
	{from: domain.PhaseNSYellow, to: domain.PhaseEWGreen, exit: yellowExpired},
	{from: domain.PhaseEWGreen, to: domain.PhaseEWYellow, exit: greenExpired(domain.AxisEW)},
	{from: domain.PhaseEWYellow, to: domain.PhaseNSGreen, exit: yellowExpired},
}

// greenExpired ends a green once minGreen has passed and either the cross
// axis outweighs this one by more than the demand margin or maxGreen is hit.
func greenExpired(own domain.Axis) func(*Controller, int, domain.QueueSnapshot) bool {
	return func(c *Controller, elapsed int, q domain.QueueSnapshot) bool {
		b := c.bounds.Effective()
		if elapsed < b.MinGreen {
			return false
		}
		ownQ, crossQ := q.NS, q.EW
		if own == domain.AxisEW {
			ownQ, crossQ = q.EW, q.NS
		}
		return crossQ > ownQ+c.margin || elapsed >= b.MaxGreen
	}
}

func yellowExpired(c *Controller, elapsed int, _ domain.QueueSnapshot) bool {
	return elapsed >= c.yellow
}

// Controller is the signal phase state machine. ALL_RED has no row in the
// table, so it is only entered and left through Force.
type Controller struct {
	state  domain.SignalState
	bounds domain.Bounds
	manual bool
	yellow int
	margin int
}

func NewController(bounds domain.Bounds, yellow, margin int) *Controller {
	return &Controller{
		state:  domain.InitialSignal(),
		bounds: bounds,
		yellow: yellow,
		margin: margin,
	}
}

func (c *Controller) State() domain.SignalState { return c.state }

func (c *Controller) Bounds() domain.Bounds { return c.bounds }

func (c *Controller) Manual() bool { return c.manual }

func (c *Controller) SetBounds(b domain.Bounds) { c.bounds = b }

// SetManual toggles operator control without touching the elapsed counter
func (c *Controller) SetManual(manual bool) { c.manual = manual }

// Force enters manual mode and switches to p immediately
func (c *Controller) Force(p domain.Phase) domain.SignalState {
	prev := c.state
	c.manual = true
	c.state = domain.SignalState{Phase: p}
	return prev
}

// Advance runs one metrics tick. It returns the state before the tick and
// whether the phase changed.
func (c *Controller) Advance(q domain.QueueSnapshot) (domain.SignalState, bool) {
	prev := c.state
	elapsed := c.state.Elapsed + 1

	if !c.manual {
		for _, r := range phaseTable {
			if r.from == c.state.Phase && r.exit(c, elapsed, q) {
				c.state = domain.SignalState{Phase: r.to}
				return prev, true
			}
		}
	}

	c.state.Elapsed = elapsed
	return prev, false
}

// Reset returns to the initial phase. Bounds and mode are operator settings
// and survive a reset.
func (c *Controller) Reset() {
	c.state = domain.InitialSignal()
}
