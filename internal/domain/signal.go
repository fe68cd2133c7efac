package domain

import "time"

// SignalType identifies the order-flow pattern a detector looks for.
type SignalType string

const (
	SignalAbsorption   SignalType = "absorption"
	SignalExhaustion   SignalType = "exhaustion"
	SignalAccumulation SignalType = "accumulation"
	SignalDistribution SignalType = "distribution"
)

// SignalTypes lists every known type in a stable order.
var SignalTypes = []SignalType{
	SignalAbsorption,
	SignalExhaustion,
	SignalAccumulation,
	SignalDistribution,
}

// Candidate is a detected pattern awaiting price-based confirmation. It is
// created by a detector and owned by the confirmation machine until it
// resolves to exactly one terminal state.
type Candidate struct {
	ID               string
	Type             SignalType
	DetectorID       string
	CreatedAt        time.Time
	Price            int64
	Side             Side
	ZoneID           string
	TradeCount       int
	AggressiveVolume int64
	PassiveVolume    int64
	Confidence       float64
	Refilled         bool
	Confirmed        bool
	Metrics          map[string]float64
}

// Signal is a confirmed, immutable detection. The coordinator copies it and
// annotates the copy with correlation and conflict metadata before emission.
type Signal struct {
	ID         string
	Symbol     string
	Type       SignalType
	DetectorID string
	Price      int64
	Side       Side
	Confidence float64 // clamped to [0,1]
	Timestamp  time.Time
	Metrics    map[string]float64

	// Coordinator annotations.
	CorrelatedWith      string
	CorrelationStrength float64
	ConflictPenalized   bool
}

// ClampConfidence bounds a raw confidence score to [0,1].
func ClampConfidence(c float64) float64 {
	if c < 0 {
		return 0
	}
	if c > 1 {
		return 1
	}
	return c
}
