package sim

import "time"

// Params holds the tuning constants of the simulation. Distances and speeds
// are normalized to the lane length; times are whole signal seconds.
type Params struct {
	MetricsInterval time.Duration

	ApproachStart  float64 // signal gating window start
	ApproachEnd    float64 // signal gating window end (stop line)
	QueueThreshold float64 // vehicles below this distance count as queued

	FollowingGap    float64
	FollowingFactor float64
	Accel           float64
	Decel           float64

	SpawnProbability float64
	MaxVehicles      int
	EntryGap         float64
	BaseMaxSpeed     float64
	MaxSpeedJitter   float64

	YellowTime   int
	DemandMargin int

	LogCapacity  int
	ActivitySize int
}

// DefaultParams returns the constants the dashboard animation was tuned with.
func DefaultParams() Params {
	return Params{
		MetricsInterval: time.Second,

		ApproachStart:  0.40,
		ApproachEnd:    0.48,
		QueueThreshold: 0.45,

		FollowingGap:    0.08,
		FollowingFactor: 0.8,
		Accel:           0.0002,
		Decel:           0.0005,

		SpawnProbability: 0.06,
		MaxVehicles:      35,
		EntryGap:         0.1,
		BaseMaxSpeed:     0.004,
		MaxSpeedJitter:   0.003,

		YellowTime:   3,
		DemandMargin: 3,

		LogCapacity:  15,
		ActivitySize: 8,
	}
}

// DefaultBounds are the green limits used until an operator changes them
const (
	DefaultMinGreen = 10
	DefaultMaxGreen = 45
)
