package sim

import (
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"

	"trafficsim/internal/domain"
)

// Pose is a point on a lane and the local direction of travel in degrees
type Pose struct {
	X       float64
	Y       float64
	Heading float64
}

// Geometry resolves a normalized lane distance to a pose. ok is false when
// the lane has no geometry yet.
type Geometry interface {
	Locate(pathID string, distance float64) (pose Pose, ok bool)
}

// LaneGeometry is a Geometry backed by planar polylines
type LaneGeometry struct {
	lines   map[string]orb.LineString
	lengths map[string]float64
}

func NewLaneGeometry(lines map[string]orb.LineString) *LaneGeometry {
	g := &LaneGeometry{
		lines:   make(map[string]orb.LineString, len(lines)),
		lengths: make(map[string]float64, len(lines)),
	}
	for id, ls := range lines {
		if len(ls) < 2 {
			continue
		}
		g.lines[id] = ls
		g.lengths[id] = planar.Length(ls)
	}
	return g
}

func (g *LaneGeometry) Locate(pathID string, distance float64) (Pose, bool) {
	ls, ok := g.lines[pathID]
	total := g.lengths[pathID]
	if !ok || total == 0 {
		return Pose{}, false
	}

	target := clamp(distance, 0, 1) * total
	walked := 0.0
	last := len(ls) - 2
	for i := 0; i <= last; i++ {
		a, b := ls[i], ls[i+1]
		seg := planar.Distance(a, b)
		if seg == 0 {
			continue
		}
		if target <= walked+seg || i == last {
			t := clamp((target-walked)/seg, 0, 1)
			return Pose{
				X:       a[0] + (b[0]-a[0])*t,
				Y:       a[1] + (b[1]-a[1])*t,
				Heading: math.Atan2(b[1]-a[1], b[0]-a[0]) * 180 / math.Pi,
			}, true
		}
		walked += seg
	}
	return Pose{}, false
}

// DefaultLanes are the eight approach lanes of the four-way intersection,
// two per direction.
func DefaultLanes() []domain.Lane {
	return []domain.Lane{
		{ID: "ns_1", Group: domain.GroupNS},
		{ID: "ns_2", Group: domain.GroupNS},
		{ID: "sn_1", Group: domain.GroupSN},
		{ID: "sn_2", Group: domain.GroupSN},
		{ID: "ew_1", Group: domain.GroupEW},
		{ID: "ew_2", Group: domain.GroupEW},
		{ID: "we_1", Group: domain.GroupWE},
		{ID: "we_2", Group: domain.GroupWE},
	}
}

// DefaultGeometry lays the default lanes out on a 100x100 canvas with the
// junction at its centre.
func DefaultGeometry() *LaneGeometry {
	return NewLaneGeometry(map[string]orb.LineString{
		"ns_1": {{51.5, 0}, {51.5, 100}},
		"ns_2": {{54.5, 0}, {54.5, 100}},
		"sn_1": {{48.5, 100}, {48.5, 0}},
		"sn_2": {{45.5, 100}, {45.5, 0}},
		"ew_1": {{0, 48.5}, {100, 48.5}},
		"ew_2": {{0, 45.5}, {100, 45.5}},
		"we_1": {{100, 51.5}, {0, 51.5}},
		"we_2": {{100, 54.5}, {0, 54.5}},
	})
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
