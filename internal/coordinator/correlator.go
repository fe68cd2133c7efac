package coordinator

import (
	"time"

	"github.com/quantlab/orderflow/internal/domain"
)

// correlator links signals that land close together in time and price, and
// spots contradictions: opposite-side signals at effectively the same price
// within the window.
type correlator struct {
	window     time.Duration
	priceTicks int64
	recent     []domain.Signal
}

func newCorrelator(window time.Duration, priceTicks int64) *correlator {
	return &correlator{window: window, priceTicks: priceTicks}
}

// observe records an accepted signal and prunes expired history.
func (c *correlator) observe(sig domain.Signal) {
	cutoff := sig.Timestamp.Add(-c.window)
	i := 0
	for i < len(c.recent) && c.recent[i].Timestamp.Before(cutoff) {
		i++
	}
	c.recent = append(c.recent[i:], sig)
}

// near reports whether two signals fall inside the proximity window.
func (c *correlator) near(a, b domain.Signal) bool {
	dt := a.Timestamp.Sub(b.Timestamp)
	if dt < 0 {
		dt = -dt
	}
	if dt > c.window {
		return false
	}
	dp := a.Price - b.Price
	if dp < 0 {
		dp = -dp
	}
	return dp <= c.priceTicks
}

// correlate returns the strongest correlated prior signal and the link
// strength in [0,1], or ok=false when nothing is nearby. Same-side signals
// reinforce; the closer in time and price, the stronger the link.
func (c *correlator) correlate(sig domain.Signal) (domain.Signal, float64, bool) {
	var (
		best     domain.Signal
		strength float64
		found    bool
	)
	for _, prev := range c.recent {
		if prev.Side != sig.Side || !c.near(sig, prev) {
			continue
		}
		dt := sig.Timestamp.Sub(prev.Timestamp).Seconds()
		if dt < 0 {
			dt = -dt
		}
		timeTerm := 1 - dt/c.window.Seconds()
		dp := sig.Price - prev.Price
		if dp < 0 {
			dp = -dp
		}
		priceTerm := 1 - float64(dp)/float64(c.priceTicks+1)
		s := domain.ClampConfidence(0.6*timeTerm + 0.4*priceTerm)
		if s > strength {
			best, strength, found = prev, s, true
		}
	}
	return best, strength, found
}

// contradicts finds a prior opposite-side signal at the same price inside the
// window, if any.
func (c *correlator) contradicts(sig domain.Signal) (domain.Signal, bool) {
	for i := len(c.recent) - 1; i >= 0; i-- {
		prev := c.recent[i]
		if prev.Side != sig.Side && c.near(sig, prev) {
			return prev, true
		}
	}
	return domain.Signal{}, false
}
