package detector

import (
	"log/slog"
	"testing"
	"time"

	"github.com/quantlab/orderflow/internal/domain"
)

// stubAnalyzer returns a canned depletion pattern.
type stubAnalyzer struct {
	pattern domain.ExhaustionPattern
}

func (s *stubAnalyzer) Analyze(isBuyTrade bool) domain.ExhaustionPattern { return s.pattern }
func (s *stubAnalyzer) Bucket(price int64) int64                        { return price / 100 }

func exhaustionConfig() ExhaustionConfig {
	return ExhaustionConfig{
		ZoneTicks:           100,
		Window:              10 * time.Second,
		Cooldown:            30 * time.Second,
		MinAggressiveVolume: 100,
		MinConfidence:       0.3,
		MaxCancelRatio:      1.0,
	}
}

func TestExhaustionEmitsOnDepletion(t *testing.T) {
	zones := &stubAnalyzer{pattern: domain.ExhaustionPattern{
		HasExhaustion:     true,
		Side:              domain.SideSell,
		DepletionRatio:    0.8,
		DepletionVelocity: 10,
		AffectedZones:     2,
		Confidence:        0.7,
		GapCreated:        true,
	}}
	d, err := NewExhaustion(exhaustionConfig(), zones, slog.Default())
	if err != nil {
		t.Fatalf("new exhaustion: %v", err)
	}
	now := time.Now()

	var cands []domain.Candidate
	for i := 0; i < 3; i++ {
		cands = append(cands, d.OnTrade(tradeAt(now.Add(time.Duration(i)*time.Second), 10000, 60, false))...)
	}
	if len(cands) != 1 {
		t.Fatalf("expected 1 candidate, got %d", len(cands))
	}
	c := cands[0]
	if c.Type != domain.SignalExhaustion {
		t.Fatalf("Type = %v", c.Type)
	}
	// Ask-side exhaustion under buy flow signals upward continuation.
	if c.Side != domain.SideBuy {
		t.Fatalf("Side = %v, want buy", c.Side)
	}
	if c.Confidence != 0.7 {
		t.Fatalf("Confidence = %v, want the analysis confidence", c.Confidence)
	}
	if c.Metrics["gap_created"] != 1 {
		t.Fatalf("gap metric not carried: %v", c.Metrics)
	}
}

func TestExhaustionNoSignalWithoutDepletion(t *testing.T) {
	zones := &stubAnalyzer{pattern: domain.ExhaustionPattern{HasExhaustion: false}}
	d, err := NewExhaustion(exhaustionConfig(), zones, slog.Default())
	if err != nil {
		t.Fatalf("new exhaustion: %v", err)
	}
	now := time.Now()
	for i := 0; i < 3; i++ {
		if cands := d.OnTrade(tradeAt(now.Add(time.Duration(i)*time.Second), 10000, 60, false)); len(cands) != 0 {
			t.Fatalf("candidate without depletion: %+v", cands)
		}
	}
}

func TestExhaustionSpoofFilterRejectsPulledLiquidity(t *testing.T) {
	// Velocity says 1000 units/s vanished while the window only traded a
	// few hundred: cancellations dominate, so no signal.
	zones := &stubAnalyzer{pattern: domain.ExhaustionPattern{
		HasExhaustion:     true,
		Side:              domain.SideSell,
		DepletionRatio:    0.9,
		DepletionVelocity: 1000,
		AffectedZones:     1,
		Confidence:        0.8,
	}}
	d, err := NewExhaustion(exhaustionConfig(), zones, slog.Default())
	if err != nil {
		t.Fatalf("new exhaustion: %v", err)
	}
	now := time.Now()
	for i := 0; i < 3; i++ {
		if cands := d.OnTrade(tradeAt(now.Add(time.Duration(i)*time.Second), 10000, 60, false)); len(cands) != 0 {
			t.Fatalf("spoofed depletion emitted a candidate: %+v", cands)
		}
	}
}

func TestSpoofFilter(t *testing.T) {
	f := SpoofFilter{MaxCancelRatio: 0.5}
	if !f.ExplainedByExecution(0, 0) {
		t.Fatalf("no depletion must always pass")
	}
	if f.ExplainedByExecution(100, 0) {
		t.Fatalf("depletion without trades must be rejected")
	}
	if !f.ExplainedByExecution(120, 100) {
		t.Fatalf("20%% cancel ratio should pass at 0.5 tolerance")
	}
	if f.ExplainedByExecution(300, 100) {
		t.Fatalf("200%% cancel ratio should fail at 0.5 tolerance")
	}
}
