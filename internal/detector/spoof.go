package detector

// SpoofFilter rejects depletion readings that are better explained by order
// cancellation or replacement than by executions. If far more passive volume
// vanished than was actually traded against, the "exhaustion" was liquidity
// being pulled, not consumed.
type SpoofFilter struct {
	// MaxCancelRatio is the largest tolerated ratio of unexplained
	// (cancelled) volume to executed aggressive volume.
	MaxCancelRatio float64
}

// ExplainedByExecution reports whether depleted passive volume is accounted
// for by the aggressive volume traded in the same window.
func (f SpoofFilter) ExplainedByExecution(depleted, aggressive int64) bool {
	if depleted <= 0 {
		return true
	}
	if aggressive <= 0 {
		return false // volume vanished with no trades at all: pulled
	}
	cancelled := depleted - aggressive
	if cancelled <= 0 {
		return true
	}
	return float64(cancelled)/float64(aggressive) <= f.MaxCancelRatio
}
