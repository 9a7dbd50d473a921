package sim

import (
	"sort"

	"github.com/samber/lo"

	"trafficsim/internal/domain"
)

// TargetSpeed is the speed v aims for this tick given the phase and its
// leader on the same lane (nil when none).
func TargetSpeed(v domain.Vehicle, leader *domain.Vehicle, phase domain.Phase, p Params) float64 {
	ts := v.MaxSpeed

	if v.Distance > p.ApproachStart && v.Distance < p.ApproachEnd && !phase.Green(v.Axis) {
		ts = 0
	}

	if leader != nil && leader.Distance > v.Distance && leader.Distance-v.Distance < p.FollowingGap {
		ts = min(ts, leader.Speed*p.FollowingFactor)
	}
	return ts
}

// Relax moves speed toward target, accelerating gently and braking harder,
// without overshooting.
func Relax(speed, target float64, p Params) float64 {
	switch {
	case speed < target:
		return min(speed+p.Accel, target)
	case speed > target:
		return max(speed-p.Decel, target)
	default:
		return speed
	}
}

// lanesAhead indexes vehicles per lane sorted by distance so the nearest
// leader is the next entry.
type lanesAhead map[string][]domain.Vehicle

func indexLanes(vs []domain.Vehicle) lanesAhead {
	idx := lanesAhead(lo.GroupBy(vs, func(v domain.Vehicle) string { return v.PathID }))
	for _, lane := range idx {
		sort.SliceStable(lane, func(i, j int) bool { return lane[i].Distance < lane[j].Distance })
	}
	return idx
}

// leader returns the nearest vehicle strictly ahead of v on its lane
func (l lanesAhead) leader(v domain.Vehicle) *domain.Vehicle {
	lane := l[v.PathID]
	i := sort.Search(len(lane), func(i int) bool { return lane[i].Distance > v.Distance })
	if i == len(lane) {
		return nil
	}
	return &lane[i]
}

// blocked reports whether a vehicle on the lane is still within gap of the entry
func (l lanesAhead) blocked(pathID string, gap float64) bool {
	lane := l[pathID]
	return len(lane) > 0 && lane[0].Distance < gap
}

type moveResult struct {
	vehicles []domain.Vehicle
	exited   int
	skipped  int
}

// moveVehicles advances every vehicle from the previous tick's list. All
// decisions read prev only, so the order of updates does not matter.
func moveVehicles(prev []domain.Vehicle, ahead lanesAhead, phase domain.Phase, geo Geometry, p Params) moveResult {
	res := moveResult{vehicles: make([]domain.Vehicle, 0, len(prev))}

	for _, v := range prev {
		if _, ok := geo.Locate(v.PathID, v.Distance); !ok {
			res.skipped++
			res.vehicles = append(res.vehicles, v)
			continue
		}

		ts := TargetSpeed(v, ahead.leader(v), phase, p)
		v.Speed = Relax(v.Speed, ts, p)
		v.Distance += v.Speed

		if v.Distance >= 1 {
			res.exited++
			continue
		}

		pose, _ := geo.Locate(v.PathID, v.Distance)
		v.X, v.Y, v.Heading = pose.X, pose.Y, pose.Heading
		res.vehicles = append(res.vehicles, v)
	}
	return res
}
