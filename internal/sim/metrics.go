package sim

import (
	"github.com/samber/lo"

	"trafficsim/internal/domain"
)

// CountQueues counts, per axis, vehicles that have not yet passed threshold
func CountQueues(vs []domain.Vehicle, threshold float64) domain.QueueSnapshot {
	queued := func(axis domain.Axis) func(domain.Vehicle) bool {
		return func(v domain.Vehicle) bool { return v.Axis == axis && v.Distance < threshold }
	}
	return domain.QueueSnapshot{
		NS: lo.CountBy(vs, queued(domain.AxisNS)),
		EW: lo.CountBy(vs, queued(domain.AxisEW)),
	}
}

// QValues derives the displayed action preferences from the queues. They
// are cosmetic and never feed back into the controller.
func QValues(q domain.QueueSnapshot) []float64 {
	return []float64{
		0.2 + float64(q.NS)*0.05,
		0.1 + float64(q.EW)*0.05,
		0.05,
		0.05,
	}
}

// initialQValues is what the panel shows before the first metrics tick
func initialQValues() []float64 {
	return []float64{0.1, 0.4, 0.8, 0.2}
}
