package detector

import (
	"log/slog"
	"testing"
	"time"

	"github.com/quantlab/orderflow/internal/domain"
)

func absorptionConfig() AbsorptionConfig {
	return AbsorptionConfig{
		ZoneTicks:           100,
		Window:              10 * time.Second,
		Cooldown:            30 * time.Second,
		MinAggressiveVolume: 100,
		EfficiencyThreshold: 0.3,
		MinPassiveRatio:     2,
		MinAbsorbedRatio:    0.5,
		TickSize:            1,
		ScalingFactor:       1000,
	}
}

func tradeAt(ts time.Time, price, qty int64, buyerMaker bool) domain.TradeEvent {
	return domain.TradeEvent{
		Symbol:           "BTCUSDT",
		Price:            price,
		Quantity:         qty,
		Timestamp:        ts,
		IsBuyerMaker:     buyerMaker,
		BestBid:          price - 5,
		BestAsk:          price + 5,
		PassiveBidVolume: 2000,
		PassiveAskVolume: 2000,
	}
}

func TestAbsorptionZeroMovementIsMaximal(t *testing.T) {
	d, err := NewAbsorption(absorptionConfig(), slog.Default())
	if err != nil {
		t.Fatalf("new absorption: %v", err)
	}
	now := time.Now()

	// Heavy selling at one unmoving price: efficiency must be exactly 0.
	var cands []domain.Candidate
	for i := 0; i < 5; i++ {
		cands = append(cands, d.OnTrade(tradeAt(now.Add(time.Duration(i)*time.Second), 10000, 60, true))...)
	}
	if len(cands) != 1 {
		t.Fatalf("expected 1 candidate, got %d", len(cands))
	}
	c := cands[0]
	if c.Type != domain.SignalAbsorption {
		t.Fatalf("Type = %v", c.Type)
	}
	if got := c.Metrics["price_efficiency"]; got != 0 {
		t.Fatalf("price_efficiency = %v, want exactly 0", got)
	}
	if c.Side != domain.SideBuy {
		t.Fatalf("absorbed sell flow must signal the buy side, got %v", c.Side)
	}
	if c.Confidence <= 0 || c.Confidence > 1 {
		t.Fatalf("Confidence = %v", c.Confidence)
	}
}

func TestAbsorptionRejectsEfficientMoves(t *testing.T) {
	cfg := absorptionConfig()
	d, err := NewAbsorption(cfg, slog.Default())
	if err != nil {
		t.Fatalf("new absorption: %v", err)
	}
	now := time.Now()

	// Price rips through the zone: high efficiency, no absorption.
	d.OnTrade(tradeAt(now, 10000, 80, false))
	cands := d.OnTrade(tradeAt(now.Add(time.Second), 10090, 80, false))
	if len(cands) != 0 {
		t.Fatalf("expected no candidate for an efficient move, got %+v", cands)
	}
}

func TestAbsorptionCooldownSuppressesRepeats(t *testing.T) {
	d, err := NewAbsorption(absorptionConfig(), slog.Default())
	if err != nil {
		t.Fatalf("new absorption: %v", err)
	}
	now := time.Now()
	for i := 0; i < 5; i++ {
		d.OnTrade(tradeAt(now.Add(time.Duration(i)*time.Second), 10000, 60, true))
	}
	// Same zone and side within the cooldown: nothing new.
	cands := d.OnTrade(tradeAt(now.Add(6*time.Second), 10000, 60, true))
	if len(cands) != 0 {
		t.Fatalf("cooldown violated: %+v", cands)
	}
	// After the cooldown expires the zone may emit again.
	cands = d.OnTrade(tradeAt(now.Add(45*time.Second), 10000, 200, true))
	if len(cands) != 1 {
		t.Fatalf("expected emission after cooldown, got %d", len(cands))
	}
}

func TestAbsorptionDropsMalformedEvents(t *testing.T) {
	d, err := NewAbsorption(absorptionConfig(), slog.Default())
	if err != nil {
		t.Fatalf("new absorption: %v", err)
	}
	ev := tradeAt(time.Now(), -100, 50, true)
	if cands := d.OnTrade(ev); len(cands) != 0 {
		t.Fatalf("malformed event produced candidates")
	}
	ev = tradeAt(time.Now(), 100, 0, true)
	if cands := d.OnTrade(ev); len(cands) != 0 {
		t.Fatalf("zero-quantity event produced candidates")
	}
}

func TestAbsorptionConfigValidation(t *testing.T) {
	cfg := absorptionConfig()
	cfg.EfficiencyThreshold = 1.2
	if _, err := NewAbsorption(cfg, slog.Default()); err == nil {
		t.Fatalf("expected error for efficiency threshold outside [0,1]")
	}
	cfg = absorptionConfig()
	cfg.Window = -time.Second
	if _, err := NewAbsorption(cfg, slog.Default()); err == nil {
		t.Fatalf("expected error for negative window")
	}
}
