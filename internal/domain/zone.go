package domain

import "time"

// ZoneSnapshot is one observation of the liquidity state inside a price zone.
type ZoneSnapshot struct {
	Timestamp        time.Time
	PassiveBidVolume int64
	PassiveAskVolume int64
	AggressiveVolume int64
	Spread           int64
}

// PassiveVolume returns the resting volume on the given side.
func (z ZoneSnapshot) PassiveVolume(side Side) int64 {
	if side == SideBuy {
		return z.PassiveBidVolume
	}
	return z.PassiveAskVolume
}

// ExhaustionPattern is the result of a zone-tracker depletion analysis.
type ExhaustionPattern struct {
	HasExhaustion     bool
	Side              Side
	DepletionRatio    float64 // fraction of peak volume lost, [0,1]
	DepletionVelocity float64 // volume units lost per second
	AffectedZones     int
	Confidence        float64 // [0,1]
	GapCreated        bool
}

// ZoneStats summarizes tracker occupancy for status reporting.
type ZoneStats struct {
	TrackedZones    int
	EvictedZones    int64
	DepletionEvents int64
	PooledSamples   int
}
