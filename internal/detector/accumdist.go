package detector

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/quantlab/orderflow/internal/domain"
	"github.com/quantlab/orderflow/internal/zone"
)

// AccumDistFeatures toggles optional behavior of the accumulation and
// distribution detector. Features are configuration, not detector subclasses:
// one detector reads the flags and branches.
type AccumDistFeatures struct {
	// PerSideTracking evaluates buy and sell zones independently instead
	// of netting them into a single reading per zone.
	PerSideTracking bool `toml:"per_side_tracking"`
	// RequireRecentActivity rejects zones whose last trade is older than
	// MaxIdle.
	RequireRecentActivity bool `toml:"require_recent_activity"`
}

// AccumDistConfig configures the accumulation/distribution detector.
type AccumDistConfig struct {
	ZoneTicks           int64         `toml:"zone_ticks"`
	Window              time.Duration `toml:"window"`
	Cooldown            time.Duration `toml:"cooldown"`
	MinAggressiveVolume int64         `toml:"min_aggressive_volume"`
	// RatioThreshold is the sustained passive/aggressive ratio required.
	RatioThreshold float64 `toml:"ratio_threshold"`
	// MinDuration is how long the ratio must hold within the window.
	MinDuration time.Duration `toml:"min_duration"`
	// MaxIdle bounds the gap since the last trade in the zone.
	MaxIdle time.Duration `toml:"max_idle"`

	Features AccumDistFeatures `toml:"features"`
}

// Validate rejects out-of-range thresholds at construction time.
func (c AccumDistConfig) Validate() error {
	if c.ZoneTicks <= 0 {
		return fmt.Errorf("accumdist: %w: zone_ticks must be positive", domain.ErrInvalidConfig)
	}
	if c.Window <= 0 {
		return fmt.Errorf("accumdist: %w: window must be positive", domain.ErrInvalidConfig)
	}
	if c.RatioThreshold <= 0 {
		return fmt.Errorf("accumdist: %w: ratio_threshold must be positive", domain.ErrInvalidConfig)
	}
	if c.MinDuration <= 0 || c.MinDuration > c.Window {
		return fmt.Errorf("accumdist: %w: min_duration must be positive and within the window", domain.ErrInvalidConfig)
	}
	if c.MaxIdle <= 0 {
		return fmt.Errorf("accumdist: %w: max_idle must be positive", domain.ErrInvalidConfig)
	}
	return nil
}

// AccumDist detects quiet position building (accumulation) or unloading
// (distribution): a sustained passive-to-aggressive volume ratio above the
// threshold, held for a minimum duration, with recent activity in the zone.
type AccumDist struct {
	base
	cfg AccumDistConfig
}

// NewAccumDist creates the accumulation/distribution detector.
func NewAccumDist(cfg AccumDistConfig, logger *slog.Logger) (*AccumDist, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &AccumDist{
		base: newBase("accumdist", cfg.ZoneTicks, cfg.Window, cfg.Cooldown, cfg.MinAggressiveVolume, logger),
		cfg:  cfg,
	}, nil
}

// Name returns the detector identifier.
func (d *AccumDist) Name() string { return "accumdist" }

// OnTrade evaluates sustained passive dominance in the event's zone.
func (d *AccumDist) OnTrade(ev domain.TradeEvent) []domain.Candidate {
	bucket, w, ok := d.accept(ev)
	if !ok {
		return nil
	}
	if w.span() < d.cfg.MinDuration {
		return nil
	}
	if d.cfg.Features.RequireRecentActivity && len(w.trades) >= 2 {
		prev := w.trades[len(w.trades)-2].ts
		if ev.Timestamp.Sub(prev) > d.cfg.MaxIdle {
			return nil
		}
	}

	sides := []domain.Side{ev.AggressorSide()}
	if d.cfg.Features.PerSideTracking {
		sides = []domain.Side{domain.SideBuy, domain.SideSell}
	}

	buyVol, sellVol := w.aggressive()
	var out []domain.Candidate
	for _, aggrSide := range sides {
		aggressive := buyVol
		if aggrSide == domain.SideSell {
			aggressive = sellVol
		}
		if aggressive < d.cfg.MinAggressiveVolume {
			continue
		}
		passiveSide := aggrSide.Opposite()
		passive := ev.PassiveVolume(passiveSide)
		if passive <= 0 {
			continue
		}
		ratio := float64(passive) / float64(aggressive)
		if ratio < d.cfg.RatioThreshold {
			continue
		}

		// Passive bids soaking up sell flow is accumulation; passive asks
		// soaking up buy flow is distribution.
		sigType := domain.SignalAccumulation
		if passiveSide == domain.SideSell {
			sigType = domain.SignalDistribution
		}

		zoneID := zone.ZoneID(passiveSide, bucket)
		if d.onCooldown(zoneID, passiveSide, ev.Timestamp) {
			continue
		}

		sustain := min(w.span().Seconds()/d.cfg.Window.Seconds(), 1)
		conf := domain.ClampConfidence(0.5*min(ratio/(2*d.cfg.RatioThreshold), 1) + 0.5*sustain)

		out = append(out, domain.Candidate{
			ID:               uuid.NewString(),
			Type:             sigType,
			DetectorID:       d.id,
			CreatedAt:        ev.Timestamp,
			Price:            ev.Price,
			Side:             passiveSide,
			ZoneID:           zoneID,
			TradeCount:       len(w.trades),
			AggressiveVolume: aggressive,
			PassiveVolume:    passive,
			Confidence:       conf,
			Metrics: map[string]float64{
				"passive_ratio":    ratio,
				"sustain_fraction": sustain,
			},
		})
	}
	if len(out) > 0 {
		d.logger.Debug("accumulation/distribution candidates",
			slog.Int("count", len(out)),
			slog.Int64("bucket", bucket),
		)
	}
	return out
}
