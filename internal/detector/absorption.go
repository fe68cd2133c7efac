package detector

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/quantlab/orderflow/internal/domain"
	"github.com/quantlab/orderflow/internal/zone"
)

// AbsorptionConfig configures the absorption detector.
type AbsorptionConfig struct {
	// ZoneTicks is the price-bucket width for trade aggregation.
	ZoneTicks int64 `toml:"zone_ticks"`
	// Window is the rolling aggregation window.
	Window time.Duration `toml:"window"`
	// Cooldown suppresses repeat emissions per (zone, side).
	Cooldown time.Duration `toml:"cooldown"`
	// MinAggressiveVolume gates evaluation.
	MinAggressiveVolume int64 `toml:"min_aggressive_volume"`
	// EfficiencyThreshold: signal when actual/expected movement is at or
	// below this. Must lie in [0,1].
	EfficiencyThreshold float64 `toml:"efficiency_threshold"`
	// MinPassiveRatio requires passive/aggressive volume at least this.
	MinPassiveRatio float64 `toml:"min_passive_ratio"`
	// MinAbsorbedRatio requires 1-efficiency at least this.
	MinAbsorbedRatio float64 `toml:"min_absorbed_ratio"`
	// TickSize and ScalingFactor size the expected movement:
	// expected = aggressive/passive * TickSize * ScalingFactor.
	TickSize      int64   `toml:"tick_size"`
	ScalingFactor float64 `toml:"scaling_factor"`
}

// Validate rejects out-of-range thresholds at construction time.
func (c AbsorptionConfig) Validate() error {
	if c.ZoneTicks <= 0 {
		return fmt.Errorf("absorption: %w: zone_ticks must be positive", domain.ErrInvalidConfig)
	}
	if c.Window <= 0 {
		return fmt.Errorf("absorption: %w: window must be positive", domain.ErrInvalidConfig)
	}
	if c.EfficiencyThreshold < 0 || c.EfficiencyThreshold > 1 {
		return fmt.Errorf("absorption: %w: efficiency_threshold outside [0,1]", domain.ErrInvalidConfig)
	}
	if c.MinAbsorbedRatio < 0 || c.MinAbsorbedRatio > 1 {
		return fmt.Errorf("absorption: %w: min_absorbed_ratio outside [0,1]", domain.ErrInvalidConfig)
	}
	if c.MinAggressiveVolume < 0 {
		return fmt.Errorf("absorption: %w: min_aggressive_volume negative", domain.ErrInvalidConfig)
	}
	if c.TickSize <= 0 || c.ScalingFactor <= 0 {
		return fmt.Errorf("absorption: %w: tick_size and scaling_factor must be positive", domain.ErrInvalidConfig)
	}
	return nil
}

// Absorption detects large aggressive volume being soaked up by passive
// liquidity with minimal resulting price movement: the market hit a wall.
type Absorption struct {
	base
	cfg AbsorptionConfig
}

// NewAbsorption creates the absorption detector.
func NewAbsorption(cfg AbsorptionConfig, logger *slog.Logger) (*Absorption, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Absorption{
		base: newBase("absorption", cfg.ZoneTicks, cfg.Window, cfg.Cooldown, cfg.MinAggressiveVolume, logger),
		cfg:  cfg,
	}, nil
}

// Name returns the detector identifier.
func (d *Absorption) Name() string { return "absorption" }

// OnTrade evaluates absorption around the event's zone.
func (d *Absorption) OnTrade(ev domain.TradeEvent) []domain.Candidate {
	bucket, w, ok := d.accept(ev)
	if !ok {
		return nil
	}

	buyVol, sellVol := w.aggressive()
	aggrSide := ev.AggressorSide()
	aggressive := buyVol
	if aggrSide == domain.SideSell {
		aggressive = sellVol
	}
	if aggressive < d.cfg.MinAggressiveVolume {
		return nil
	}

	// The absorbing liquidity rests on the side the aggressor trades into.
	passive := ev.PassiveVolume(aggrSide.Opposite())
	if passive <= 0 {
		return nil // no passive-volume data: absence of signal, not an error
	}
	if float64(passive)/float64(aggressive) < d.cfg.MinPassiveRatio {
		return nil
	}

	expected := float64(aggressive) / float64(passive) * float64(d.cfg.TickSize) * d.cfg.ScalingFactor
	if expected <= 0 {
		return nil
	}
	actual := w.movement()

	// Zero movement is maximal absorption: efficiency is exactly 0, never
	// a division artifact.
	efficiency := 0.0
	if actual > 0 {
		efficiency = float64(actual) / expected
	}
	if efficiency > d.cfg.EfficiencyThreshold {
		return nil
	}
	absorbed := 1 - efficiency
	if absorbed < d.cfg.MinAbsorbedRatio {
		return nil
	}

	zoneID := zone.ZoneID(aggrSide.Opposite(), bucket)
	if d.onCooldown(zoneID, aggrSide, ev.Timestamp) {
		return nil
	}

	volumeFactor := min(float64(aggressive)/float64(2*d.cfg.MinAggressiveVolume), 1)
	conf := domain.ClampConfidence(0.5*absorbed + 0.3*volumeFactor + 0.2*min(float64(passive)/float64(aggressive)/10, 1))

	cand := domain.Candidate{
		ID:               uuid.NewString(),
		Type:             domain.SignalAbsorption,
		DetectorID:       d.id,
		CreatedAt:        ev.Timestamp,
		Price:            ev.Price,
		Side:             aggrSide.Opposite(),
		ZoneID:           zoneID,
		TradeCount:       len(w.trades),
		AggressiveVolume: aggressive,
		PassiveVolume:    passive,
		Confidence:       conf,
		Metrics: map[string]float64{
			"price_efficiency": efficiency,
			"absorbed_ratio":   absorbed,
			"expected_move":    expected,
			"actual_move":      float64(actual),
		},
	}
	d.logger.Debug("absorption candidate",
		slog.String("id", cand.ID),
		slog.Float64("efficiency", efficiency),
		slog.Float64("confidence", conf),
	)
	return []domain.Candidate{cand}
}

func min(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
