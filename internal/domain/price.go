package domain

import (
	"fmt"
	"math"
)

// DefaultPriceScale is the number of decimal places carried by fixed-point
// prices and quantities when no explicit scale is configured.
const DefaultPriceScale = 8

// NoAskSentinel is returned by best-ask queries when no ask liquidity exists.
// It sorts above every representable price.
const NoAskSentinel int64 = math.MaxInt64

// Scale converts between display floats and fixed-point int64 ticks. All
// financial comparisons in the engine run on ticks so that equality and
// ordering are exact; floats only appear at the ingest and display edges.
type Scale int

// Factor returns the number of ticks per 1.0 of display value.
func (s Scale) Factor() float64 {
	f := 1.0
	for i := 0; i < int(s); i++ {
		f *= 10
	}
	return f
}

// ToTicks converts a display value to fixed-point ticks, rounding to the
// nearest tick. Non-finite input is rejected rather than silently absorbed.
func (s Scale) ToTicks(v float64) (int64, error) {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("domain: to ticks: %w: %v", ErrInvalidPrice, v)
	}
	scaled := v * s.Factor()
	if scaled > float64(math.MaxInt64) || scaled < float64(math.MinInt64) {
		return 0, fmt.Errorf("domain: to ticks: %w: %v overflows", ErrInvalidPrice, v)
	}
	return int64(math.Round(scaled)), nil
}

// FromTicks converts fixed-point ticks back to a display value.
func (s Scale) FromTicks(t int64) float64 {
	return float64(t) / s.Factor()
}

// MustTicks is ToTicks for trusted literals; it panics on invalid input and
// is intended for tests and configuration defaults only.
func (s Scale) MustTicks(v float64) int64 {
	t, err := s.ToTicks(v)
	if err != nil {
		panic(err)
	}
	return t
}
