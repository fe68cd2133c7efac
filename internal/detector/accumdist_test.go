package detector

import (
	"log/slog"
	"testing"
	"time"

	"github.com/quantlab/orderflow/internal/domain"
)

func accumDistConfig() AccumDistConfig {
	return AccumDistConfig{
		ZoneTicks:           100,
		Window:              30 * time.Second,
		Cooldown:            60 * time.Second,
		MinAggressiveVolume: 100,
		RatioThreshold:      5,
		MinDuration:         5 * time.Second,
		MaxIdle:             10 * time.Second,
		Features: AccumDistFeatures{
			RequireRecentActivity: true,
		},
	}
}

func TestAccumulationOnSustainedPassiveBids(t *testing.T) {
	d, err := NewAccumDist(accumDistConfig(), slog.Default())
	if err != nil {
		t.Fatalf("new accumdist: %v", err)
	}
	now := time.Now()

	// Steady sell flow into a deep bid over 8 seconds.
	var cands []domain.Candidate
	for i := 0; i < 5; i++ {
		ev := tradeAt(now.Add(time.Duration(2*i)*time.Second), 10000, 40, true)
		cands = append(cands, d.OnTrade(ev)...)
	}
	if len(cands) != 1 {
		t.Fatalf("expected 1 candidate, got %d", len(cands))
	}
	c := cands[0]
	if c.Type != domain.SignalAccumulation {
		t.Fatalf("Type = %v, want accumulation", c.Type)
	}
	if c.Side != domain.SideBuy {
		t.Fatalf("Side = %v, want buy", c.Side)
	}
	if c.Metrics["passive_ratio"] < 5 {
		t.Fatalf("passive_ratio = %v", c.Metrics["passive_ratio"])
	}
}

func TestDistributionOnSustainedPassiveAsks(t *testing.T) {
	d, err := NewAccumDist(accumDistConfig(), slog.Default())
	if err != nil {
		t.Fatalf("new accumdist: %v", err)
	}
	now := time.Now()

	var cands []domain.Candidate
	for i := 0; i < 5; i++ {
		ev := tradeAt(now.Add(time.Duration(2*i)*time.Second), 10000, 40, false) // buy aggressors
		cands = append(cands, d.OnTrade(ev)...)
	}
	if len(cands) != 1 {
		t.Fatalf("expected 1 candidate, got %d", len(cands))
	}
	if cands[0].Type != domain.SignalDistribution {
		t.Fatalf("Type = %v, want distribution", cands[0].Type)
	}
	if cands[0].Side != domain.SideSell {
		t.Fatalf("Side = %v, want sell", cands[0].Side)
	}
}

func TestAccumDistRequiresMinimumDuration(t *testing.T) {
	d, err := NewAccumDist(accumDistConfig(), slog.Default())
	if err != nil {
		t.Fatalf("new accumdist: %v", err)
	}
	now := time.Now()
	// Plenty of volume but all within 2 seconds: below MinDuration.
	for i := 0; i < 5; i++ {
		ev := tradeAt(now.Add(time.Duration(i)*500*time.Millisecond), 10000, 100, true)
		if cands := d.OnTrade(ev); len(cands) != 0 {
			t.Fatalf("emitted before minimum duration: %+v", cands)
		}
	}
}

func TestAccumDistIdleGateRejectsStaleZones(t *testing.T) {
	cfg := accumDistConfig()
	d, err := NewAccumDist(cfg, slog.Default())
	if err != nil {
		t.Fatalf("new accumdist: %v", err)
	}
	now := time.Now()
	d.OnTrade(tradeAt(now, 10000, 200, true))
	// A long silence, then one more trade: recency gate must reject even
	// though duration and volume qualify.
	ev := tradeAt(now.Add(25*time.Second), 10000, 200, true)
	if cands := d.OnTrade(ev); len(cands) != 0 {
		t.Fatalf("stale zone emitted: %+v", cands)
	}
}

func TestAccumDistPerSideFeature(t *testing.T) {
	cfg := accumDistConfig()
	cfg.Features.PerSideTracking = true
	cfg.Features.RequireRecentActivity = false
	d, err := NewAccumDist(cfg, slog.Default())
	if err != nil {
		t.Fatalf("new accumdist: %v", err)
	}
	now := time.Now()

	// Mixed flow: both sides trade enough volume to qualify.
	var cands []domain.Candidate
	for i := 0; i < 6; i++ {
		ev := tradeAt(now.Add(time.Duration(2*i)*time.Second), 10000, 60, i%2 == 0)
		cands = append(cands, d.OnTrade(ev)...)
	}
	types := map[domain.SignalType]bool{}
	for _, c := range cands {
		types[c.Type] = true
	}
	if !types[domain.SignalAccumulation] || !types[domain.SignalDistribution] {
		t.Fatalf("per-side tracking should yield both pattern types, got %v", types)
	}
}
