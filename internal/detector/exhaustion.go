package detector

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/quantlab/orderflow/internal/domain"
	"github.com/quantlab/orderflow/internal/zone"
)

// ExhaustionConfig configures the exhaustion detector.
type ExhaustionConfig struct {
	ZoneTicks           int64         `toml:"zone_ticks"`
	Window              time.Duration `toml:"window"`
	Cooldown            time.Duration `toml:"cooldown"`
	MinAggressiveVolume int64         `toml:"min_aggressive_volume"`
	// MinConfidence gates emissions on the zone analysis confidence.
	MinConfidence float64 `toml:"min_confidence"`
	// MaxCancelRatio feeds the spoof filter.
	MaxCancelRatio float64 `toml:"max_cancel_ratio"`
}

// Validate rejects out-of-range thresholds at construction time.
func (c ExhaustionConfig) Validate() error {
	if c.ZoneTicks <= 0 {
		return fmt.Errorf("exhaustion: %w: zone_ticks must be positive", domain.ErrInvalidConfig)
	}
	if c.Window <= 0 {
		return fmt.Errorf("exhaustion: %w: window must be positive", domain.ErrInvalidConfig)
	}
	if c.MinConfidence < 0 || c.MinConfidence > 1 {
		return fmt.Errorf("exhaustion: %w: min_confidence outside [0,1]", domain.ErrInvalidConfig)
	}
	if c.MaxCancelRatio < 0 {
		return fmt.Errorf("exhaustion: %w: max_cancel_ratio negative", domain.ErrInvalidConfig)
	}
	return nil
}

// depletionAnalyzer is the zone-tracker surface the detector consumes.
type depletionAnalyzer interface {
	Analyze(isBuyTrade bool) domain.ExhaustionPattern
	Bucket(price int64) int64
}

// Exhaustion detects opposite-side passive liquidity collapsing right after
// aggressive flow. The depletion analysis itself lives in the zone tracker;
// this detector gates it on traded volume and filters spoofed depletion.
type Exhaustion struct {
	base
	cfg   ExhaustionConfig
	zones depletionAnalyzer
	spoof SpoofFilter
}

// NewExhaustion creates the exhaustion detector on top of a zone tracker.
func NewExhaustion(cfg ExhaustionConfig, zones depletionAnalyzer, logger *slog.Logger) (*Exhaustion, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Exhaustion{
		base:  newBase("exhaustion", cfg.ZoneTicks, cfg.Window, cfg.Cooldown, cfg.MinAggressiveVolume, logger),
		cfg:   cfg,
		zones: zones,
		spoof: SpoofFilter{MaxCancelRatio: cfg.MaxCancelRatio},
	}, nil
}

// Name returns the detector identifier.
func (d *Exhaustion) Name() string { return "exhaustion" }

// OnTrade runs the depletion analysis after each qualifying trade.
func (d *Exhaustion) OnTrade(ev domain.TradeEvent) []domain.Candidate {
	bucket, w, ok := d.accept(ev)
	if !ok {
		return nil
	}

	buyVol, sellVol := w.aggressive()
	aggressive := buyVol
	if ev.IsBuyerMaker {
		aggressive = sellVol
	}
	if aggressive < d.cfg.MinAggressiveVolume {
		return nil
	}

	pattern := d.zones.Analyze(ev.IsBuy())
	if !pattern.HasExhaustion || pattern.Confidence < d.cfg.MinConfidence {
		return nil
	}

	// Depleted volume on the consumed side must be explained by actual
	// executions, otherwise the book was pulled, not exhausted.
	depleted := int64(pattern.DepletionVelocity * d.cfg.Window.Seconds())
	if !d.spoof.ExplainedByExecution(depleted, aggressive) {
		d.logger.Debug("depletion rejected as spoof",
			slog.Int64("depleted", depleted),
			slog.Int64("aggressive", aggressive),
		)
		return nil
	}

	// Exhaustion of one side favors continuation in the aggressor's
	// direction: the signal side is the side whose liquidity failed.
	sigSide := pattern.Side.Opposite()
	zoneID := zone.ZoneID(pattern.Side, bucket)
	if d.onCooldown(zoneID, sigSide, ev.Timestamp) {
		return nil
	}

	cand := domain.Candidate{
		ID:               uuid.NewString(),
		Type:             domain.SignalExhaustion,
		DetectorID:       d.id,
		CreatedAt:        ev.Timestamp,
		Price:            ev.Price,
		Side:             sigSide,
		ZoneID:           zoneID,
		TradeCount:       len(w.trades),
		AggressiveVolume: aggressive,
		PassiveVolume:    ev.PassiveVolume(pattern.Side),
		Confidence:       pattern.Confidence,
		Metrics: map[string]float64{
			"depletion_ratio":    pattern.DepletionRatio,
			"depletion_velocity": pattern.DepletionVelocity,
			"affected_zones":     float64(pattern.AffectedZones),
			"gap_created":        boolMetric(pattern.GapCreated),
		},
	}
	d.logger.Debug("exhaustion candidate",
		slog.String("id", cand.ID),
		slog.Float64("depletion_ratio", pattern.DepletionRatio),
		slog.Float64("confidence", pattern.Confidence),
	)
	return []domain.Candidate{cand}
}

func boolMetric(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
