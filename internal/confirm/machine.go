// Package confirm holds candidate detections until price action resolves
// them: follow-through confirms, a revisit beyond tolerance invalidates, and
// elapsed time past the bound times out. Each candidate reaches exactly one
// terminal state.
package confirm

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/quantlab/orderflow/internal/domain"
)

// Outcome is the terminal state of a resolved candidate.
type Outcome int

const (
	OutcomeConfirmed Outcome = iota
	OutcomeInvalidated
	OutcomeTimedOut
)

// String returns the lowercase outcome name.
func (o Outcome) String() string {
	switch o {
	case OutcomeConfirmed:
		return "confirmed"
	case OutcomeInvalidated:
		return "invalidated"
	default:
		return "timed_out"
	}
}

// Resolution pairs a candidate with its terminal outcome.
type Resolution struct {
	Candidate domain.Candidate
	Outcome   Outcome
}

// Config tunes confirmation timing.
type Config struct {
	// MinMoveTicks is the favorable move required to confirm.
	MinMoveTicks int64 `toml:"min_move_ticks"`
	// MaxRevisitTicks is the adverse move that invalidates.
	MaxRevisitTicks int64 `toml:"max_revisit_ticks"`
	// Timeout bounds a candidate's pending lifetime.
	Timeout time.Duration `toml:"timeout"`
}

// Validate rejects out-of-range settings before the machine starts.
func (c Config) Validate() error {
	if c.MinMoveTicks <= 0 {
		return fmt.Errorf("confirm: %w: min_move_ticks must be positive", domain.ErrInvalidConfig)
	}
	if c.MaxRevisitTicks <= 0 {
		return fmt.Errorf("confirm: %w: max_revisit_ticks must be positive", domain.ErrInvalidConfig)
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("confirm: %w: timeout must be positive", domain.ErrInvalidConfig)
	}
	return nil
}

// Machine owns pending candidates for one symbol's lane. It carries no locks:
// price observations arrive strictly in order on the lane.
type Machine struct {
	cfg     Config
	logger  *slog.Logger
	pending []domain.Candidate
}

// NewMachine creates a confirmation machine.
func NewMachine(cfg Config, logger *slog.Logger) (*Machine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Machine{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "confirm")),
	}, nil
}

// Add takes ownership of a candidate until it resolves.
func (m *Machine) Add(c domain.Candidate) {
	m.pending = append(m.pending, c)
}

// Pending returns the number of unresolved candidates.
func (m *Machine) Pending() int { return len(m.pending) }

// OnPrice evaluates every pending candidate against a new market price.
// Checks run in fixed order (confirmation first, then invalidation, then
// timeout) and at most one outcome fires per candidate per pass, so a
// candidate that both
// confirmed and timed out on the same observation is confirmed.
func (m *Machine) OnPrice(price int64, now time.Time) []Resolution {
	var resolved []Resolution
	kept := m.pending[:0]
	for _, c := range m.pending {
		switch {
		case m.favorableMove(c, price) >= m.cfg.MinMoveTicks:
			c.Confirmed = true
			resolved = append(resolved, Resolution{Candidate: c, Outcome: OutcomeConfirmed})
		case m.adverseMove(c, price) > m.cfg.MaxRevisitTicks:
			resolved = append(resolved, Resolution{Candidate: c, Outcome: OutcomeInvalidated})
		case now.Sub(c.CreatedAt) > m.cfg.Timeout:
			resolved = append(resolved, Resolution{Candidate: c, Outcome: OutcomeTimedOut})
		default:
			kept = append(kept, c)
		}
	}
	m.pending = kept

	for _, r := range resolved {
		if r.Outcome != OutcomeConfirmed {
			// Discarded candidates are logged for offline analysis and
			// never retried.
			m.logger.Debug("candidate discarded",
				slog.String("id", r.Candidate.ID),
				slog.String("type", string(r.Candidate.Type)),
				slog.String("outcome", r.Outcome.String()),
			)
		}
	}
	return resolved
}

// favorableMove returns how far price has moved in the candidate's direction,
// in ticks; negative when it moved against.
func (m *Machine) favorableMove(c domain.Candidate, price int64) int64 {
	if c.Side == domain.SideBuy {
		return price - c.Price
	}
	return c.Price - price
}

// adverseMove mirrors favorableMove.
func (m *Machine) adverseMove(c domain.Candidate, price int64) int64 {
	return -m.favorableMove(c, price)
}
