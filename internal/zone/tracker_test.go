package zone

import (
	"log/slog"
	"testing"
	"time"

	"github.com/quantlab/orderflow/internal/domain"
)

func testConfig() Config {
	return Config{
		BucketTicks:        100,
		MaxTickDistance:    1000,
		HistoryLimit:       50,
		MaxHistoryAge:      time.Minute,
		VelocityWindow:     10 * time.Second,
		MinPeakVolume:      100,
		DepletionThreshold: 0.5,
		GapDepletionRatio:  0.8,
		GapMinTicks:        300,
		MaxAffectedZones:   5,
		Weights: ConfidenceWeights{
			DepletionRatio: 0.4,
			AffectedZones:  0.2,
			PeakDepletion:  0.2,
			GapBonus:       0.2,
		},
	}
}

func newTestTracker(t *testing.T) *Tracker {
	t.Helper()
	tr, err := NewTracker(testConfig(), slog.Default())
	if err != nil {
		t.Fatalf("new tracker: %v", err)
	}
	return tr
}

func snap(ts time.Time, bid, ask, aggr int64) domain.ZoneSnapshot {
	return domain.ZoneSnapshot{
		Timestamp:        ts,
		PassiveBidVolume: bid,
		PassiveAskVolume: ask,
		AggressiveVolume: aggr,
		Spread:           10,
	}
}

func TestPeakVolumeNeverDecreases(t *testing.T) {
	tr := newTestTracker(t)
	tr.UpdateSpread(10000, 10100)
	now := time.Now()

	volumes := []int64{500, 900, 1200, 800, 300, 1100, 50}
	var wantPeak int64
	for i, v := range volumes {
		tr.Observe(10050, snap(now.Add(time.Duration(i)*time.Second), v, v, 10))
		if v > wantPeak {
			wantPeak = v
		}
		z := tr.zones[zoneKey{side: domain.SideSell, bucket: 100}]
		if z == nil {
			t.Fatalf("zone missing after observation %d", i)
		}
		if z.peak != wantPeak {
			t.Fatalf("after observation %d: peak = %d, want %d", i, z.peak, wantPeak)
		}
	}

	tr.Clear()
	if len(tr.zones) != 0 {
		t.Fatalf("Clear left %d zones", len(tr.zones))
	}
}

func TestEvictionIsIdempotent(t *testing.T) {
	tr := newTestTracker(t)
	tr.UpdateSpread(10000, 10100)
	tr.Observe(10050, snap(time.Now(), 500, 500, 10))
	if got := tr.Stats().TrackedZones; got == 0 {
		t.Fatalf("expected tracked zones after observation")
	}

	// Spread drifts far away: all zones must go and stay gone.
	tr.UpdateSpread(50000, 50100)
	if got := tr.Stats().TrackedZones; got != 0 {
		t.Fatalf("expected 0 tracked zones after drift, got %d", got)
	}
	evicted := tr.Stats().EvictedZones
	tr.UpdateSpread(50000, 50100)
	st := tr.Stats()
	if st.TrackedZones != 0 || st.EvictedZones != evicted {
		t.Fatalf("eviction not idempotent: %+v", st)
	}
	if st.PooledSamples != 0 {
		t.Fatalf("evicted zone samples not released: %d live", st.PooledSamples)
	}
}

func TestAnalyzeRequiresMinimumPeak(t *testing.T) {
	tr := newTestTracker(t)
	tr.UpdateSpread(10000, 10100)
	now := time.Now()

	// Peak of 50 is below MinPeakVolume; the zone must be excluded rather
	// than dividing by a tiny peak.
	tr.Observe(10050, snap(now, 50, 50, 10))
	tr.Observe(10050, snap(now.Add(time.Second), 5, 5, 10))

	p := tr.Analyze(true)
	if p.HasExhaustion {
		t.Fatalf("exhaustion reported from sub-threshold peak: %+v", p)
	}
	if p.DepletionRatio != 0 {
		t.Fatalf("DepletionRatio = %v, want 0", p.DepletionRatio)
	}
}

func TestAnalyzeDetectsDepletionAndVelocity(t *testing.T) {
	tr := newTestTracker(t)
	tr.UpdateSpread(10000, 10100)
	now := time.Now()

	tr.Observe(10050, snap(now, 1000, 1000, 10))
	tr.Observe(10050, snap(now.Add(2*time.Second), 1000, 400, 50))

	p := tr.Analyze(true) // buy flow consumes ask liquidity
	if !p.HasExhaustion {
		t.Fatalf("expected exhaustion: %+v", p)
	}
	if p.Side != domain.SideSell {
		t.Fatalf("Side = %v, want sell", p.Side)
	}
	if p.DepletionRatio < 0.59 || p.DepletionRatio > 0.61 {
		t.Fatalf("DepletionRatio = %v, want 0.6", p.DepletionRatio)
	}
	// Lost 600 units over 2 seconds.
	if p.DepletionVelocity < 299 || p.DepletionVelocity > 301 {
		t.Fatalf("DepletionVelocity = %v, want 300", p.DepletionVelocity)
	}
	if p.Confidence <= 0 || p.Confidence > 1 {
		t.Fatalf("Confidence = %v outside (0,1]", p.Confidence)
	}
}

func TestGapDetection(t *testing.T) {
	tr := newTestTracker(t)
	tr.UpdateSpread(10000, 10100)
	now := time.Now()

	// Near ask zone collapses by 90%.
	tr.Observe(10150, snap(now, 0, 1000, 10))
	tr.Observe(10150, snap(now.Add(time.Second), 0, 100, 50))
	// Wider zone (>= GapMinTicks away) keeps its volume.
	tr.Observe(10450, snap(now.Add(time.Second), 0, 800, 0))

	p := tr.Analyze(true)
	if !p.GapCreated {
		t.Fatalf("expected gap: %+v", p)
	}

	// Without the retaining wider zone there is no gap.
	tr2 := newTestTracker(t)
	tr2.UpdateSpread(10000, 10100)
	tr2.Observe(10150, snap(now, 0, 1000, 10))
	tr2.Observe(10150, snap(now.Add(time.Second), 0, 100, 50))
	if p2 := tr2.Analyze(true); p2.GapCreated {
		t.Fatalf("gap without wider retaining zone: %+v", p2)
	}
}

func TestPruneAgesOutStaleZones(t *testing.T) {
	tr := newTestTracker(t)
	tr.UpdateSpread(10000, 10100)
	now := time.Now()
	tr.Observe(10050, snap(now, 500, 500, 10))

	tr.Prune(now.Add(30 * time.Second))
	if got := tr.Stats().TrackedZones; got == 0 {
		t.Fatalf("zone pruned before MaxHistoryAge")
	}
	tr.Prune(now.Add(2 * time.Minute))
	if got := tr.Stats().TrackedZones; got != 0 {
		t.Fatalf("stale zone survived prune: %d tracked", got)
	}
}

func TestConfigValidation(t *testing.T) {
	bad := testConfig()
	bad.DepletionThreshold = 1.5
	if _, err := NewTracker(bad, slog.Default()); err == nil {
		t.Fatalf("expected error for out-of-range depletion threshold")
	}
	bad = testConfig()
	bad.VelocityWindow = -time.Second
	if _, err := NewTracker(bad, slog.Default()); err == nil {
		t.Fatalf("expected error for negative velocity window")
	}
}
