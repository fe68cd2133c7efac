package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/quantlab/orderflow/internal/domain"
)

type captureEmitter struct {
	mu   sync.Mutex
	sigs []domain.Signal
	fail bool
}

func (e *captureEmitter) Emit(ctx context.Context, sig domain.Signal) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.fail {
		return errors.New("sink unavailable")
	}
	e.sigs = append(e.sigs, sig)
	return nil
}

func (e *captureEmitter) count() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.sigs)
}

func (e *captureEmitter) setFail(f bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.fail = f
}

func coordConfig() Config {
	return Config{
		QueueCapacity:         8,
		MinBatchSize:          1,
		MaxBatchSize:          4,
		BackpressureThreshold: 0.75,
		MinConfidence:         0.4,
		BypassConfidence:      0.9,
		BreakerFailures:       3,
		BreakerWindow:         time.Minute,
		BreakerCooldown:       50 * time.Millisecond,
		CorrelationWindow:     10 * time.Second,
		CorrelationPriceTicks: 50,
		ConflictStrategy:      ConflictConfidenceWeighted,
		ConflictPenalty:       0.3,
		DedupTTL:              time.Minute,
		FlushInterval:         10 * time.Millisecond,
		YieldPause:            time.Millisecond,
		BasePriority: map[string]float64{
			string(domain.SignalExhaustion): 2,
			string(domain.SignalAbsorption): 1,
		},
	}
}

func newCoord(t *testing.T, em Emitter) *Coordinator {
	t.Helper()
	c, err := New("BTCUSDT", coordConfig(), em, slog.Default())
	if err != nil {
		t.Fatalf("new coordinator: %v", err)
	}
	return c
}

func sig(id string, typ domain.SignalType, side domain.Side, price int64, conf float64, ts time.Time) domain.Signal {
	return domain.Signal{
		ID:         id,
		Type:       typ,
		DetectorID: string(typ),
		Price:      price,
		Side:       side,
		Confidence: conf,
		Timestamp:  ts,
	}
}

func checkInvariant(t *testing.T, snap domain.StatsSnapshot) {
	t.Helper()
	for typ, b := range snap.PerType {
		if b.Candidates != b.Confirmed+b.Rejected {
			t.Fatalf("invariant broken for %s: candidates=%d confirmed=%d rejected=%d",
				typ, b.Candidates, b.Confirmed, b.Rejected)
		}
	}
}

func TestStatsInvariantAllHealthyHighConfidence(t *testing.T) {
	em := &captureEmitter{}
	c := newCoord(t, em)
	now := time.Now()

	for i := 0; i < 4; i++ {
		s := sig(fmt.Sprintf("s%d", i), domain.SignalAbsorption, domain.SideBuy, 1000+int64(i*200), 0.8, now.Add(time.Duration(i)*time.Second))
		if err := c.Submit(context.Background(), s); err != nil {
			t.Fatalf("submit: %v", err)
		}
	}
	snap := c.Stats()
	b := snap.PerType[domain.SignalAbsorption]
	if b.Candidates != 4 || b.Confirmed != 4 || b.Rejected != 0 {
		t.Fatalf("stats = %+v, want 4/4/0", b)
	}
	checkInvariant(t, snap)
}

func TestStatsInvariantMixedConfidence(t *testing.T) {
	em := &captureEmitter{}
	c := newCoord(t, em)
	now := time.Now()

	confs := []float64{0.8, 0.8, 0.1, 0.1, 0.1}
	for i, cf := range confs {
		s := sig(fmt.Sprintf("s%d", i), domain.SignalExhaustion, domain.SideBuy, 1000+int64(i*200), cf, now.Add(time.Duration(i)*time.Second))
		_ = c.Submit(context.Background(), s)
	}
	snap := c.Stats()
	b := snap.PerType[domain.SignalExhaustion]
	if b.Candidates != 5 || b.Confirmed != 2 || b.Rejected != 3 {
		t.Fatalf("stats = %+v, want 5/2/3", b)
	}
	if snap.RejectReasons[domain.RejectLowConfidence] != 3 {
		t.Fatalf("reject reasons = %v", snap.RejectReasons)
	}
	checkInvariant(t, snap)
}

func TestDuplicateSignalsRejected(t *testing.T) {
	em := &captureEmitter{}
	c := newCoord(t, em)
	now := time.Now()

	s := sig("dup", domain.SignalAbsorption, domain.SideBuy, 1000, 0.8, now)
	if err := c.Submit(context.Background(), s); err != nil {
		t.Fatalf("first submit: %v", err)
	}
	if err := c.Submit(context.Background(), s); !errors.Is(err, domain.ErrDuplicateSignal) {
		t.Fatalf("second submit err = %v, want duplicate", err)
	}
	snap := c.Stats()
	if snap.RejectReasons[domain.RejectDuplicate] != 1 {
		t.Fatalf("reject reasons = %v", snap.RejectReasons)
	}
	checkInvariant(t, snap)
}

func TestBypassSkipsBatching(t *testing.T) {
	em := &captureEmitter{}
	c := newCoord(t, em)

	s := sig("hi", domain.SignalExhaustion, domain.SideBuy, 1000, 0.95, time.Now())
	if err := c.Submit(context.Background(), s); err != nil {
		t.Fatalf("submit: %v", err)
	}
	// No Flush call: the signal must already be at the sink.
	if em.count() != 1 {
		t.Fatalf("bypass signal not emitted immediately, sink has %d", em.count())
	}
	if c.Stats().QueueDepth != 0 {
		t.Fatalf("bypass signal was queued")
	}
}

func TestFlushDrainsByPriority(t *testing.T) {
	em := &captureEmitter{}
	c := newCoord(t, em)
	now := time.Now()

	// Exhaustion carries a higher base priority than absorption.
	_ = c.Submit(context.Background(), sig("a", domain.SignalAbsorption, domain.SideBuy, 1000, 0.5, now))
	_ = c.Submit(context.Background(), sig("b", domain.SignalExhaustion, domain.SideBuy, 5000, 0.5, now))
	_ = c.Submit(context.Background(), sig("c", domain.SignalAbsorption, domain.SideBuy, 9000, 0.8, now))

	n := c.Flush(context.Background())
	if n != 3 {
		t.Fatalf("flushed %d, want 3", n)
	}
	if em.sigs[0].ID != "b" {
		t.Fatalf("expected exhaustion first, got %s", em.sigs[0].ID)
	}
	if em.sigs[1].ID != "c" || em.sigs[2].ID != "a" {
		t.Fatalf("confidence ordering wrong: %s, %s", em.sigs[1].ID, em.sigs[2].ID)
	}
}

func TestCircuitBreakerOpensAndRecovers(t *testing.T) {
	em := &captureEmitter{fail: true}
	c := newCoord(t, em)

	// Three failed bypass emissions open the breaker.
	for i := 0; i < 3; i++ {
		_ = c.Submit(context.Background(), sig(fmt.Sprintf("f%d", i), domain.SignalAbsorption, domain.SideBuy, 1000+int64(i*200), 0.95, time.Now()))
	}
	if got := c.Stats().BreakerState; got != "open" {
		t.Fatalf("breaker state = %s, want open", got)
	}

	err := c.Submit(context.Background(), sig("blocked", domain.SignalAbsorption, domain.SideBuy, 2000, 0.95, time.Now()))
	if !errors.Is(err, domain.ErrBreakerOpen) {
		t.Fatalf("err = %v, want breaker open", err)
	}
	snap := c.Stats()
	if snap.RejectReasons[domain.RejectBreakerOpen] != 1 {
		t.Fatalf("breaker rejection not counted separately: %v", snap.RejectReasons)
	}
	checkInvariant(t, snap)

	// After the cooldown a half-open probe succeeds and closes it.
	time.Sleep(60 * time.Millisecond)
	em.setFail(false)
	if err := c.Submit(context.Background(), sig("probe", domain.SignalAbsorption, domain.SideBuy, 3000, 0.95, time.Now())); err != nil {
		t.Fatalf("probe submit: %v", err)
	}
	if got := c.Stats().BreakerState; got != "closed" {
		t.Fatalf("breaker state = %s, want closed", got)
	}
}

func TestConflictResolutionPenalizesLoser(t *testing.T) {
	em := &captureEmitter{}
	c := newCoord(t, em)
	now := time.Now()

	// Strong buy signal, then a weaker contradictory sell at the same
	// price: the sell survives with penalized confidence.
	_ = c.Submit(context.Background(), sig("buy", domain.SignalAbsorption, domain.SideBuy, 1000, 0.8, now))
	_ = c.Submit(context.Background(), sig("sell", domain.SignalDistribution, domain.SideSell, 1010, 0.7, now.Add(time.Second)))

	c.Flush(context.Background())
	var sell *domain.Signal
	for i := range em.sigs {
		if em.sigs[i].ID == "sell" {
			sell = &em.sigs[i]
		}
	}
	if sell == nil {
		t.Fatalf("penalized signal was discarded outright")
	}
	if !sell.ConflictPenalized {
		t.Fatalf("conflict flag not set")
	}
	want := 0.7 * 0.7 // penalty factor 0.3
	if sell.Confidence < want-0.001 || sell.Confidence > want+0.001 {
		t.Fatalf("penalized confidence = %v, want %v", sell.Confidence, want)
	}
	checkInvariant(t, c.Stats())
}

func TestConflictPenaltyKeepsBasePriority(t *testing.T) {
	em := &captureEmitter{}
	c := newCoord(t, em)
	now := time.Now()

	// A queued exhaustion sell loses a conflict to a nearby buy. The
	// penalty must reprice it as base + penalized confidence: with base 2
	// the demoted exhaustion (2 + 0.35) still outranks a fresh absorption
	// at higher confidence (1 + 0.8).
	_ = c.Submit(context.Background(), sig("exh", domain.SignalExhaustion, domain.SideSell, 1000, 0.5, now))
	_ = c.Submit(context.Background(), sig("winner", domain.SignalAbsorption, domain.SideBuy, 1010, 0.6, now.Add(time.Second)))
	_ = c.Submit(context.Background(), sig("fresh", domain.SignalAbsorption, domain.SideBuy, 50000, 0.8, now.Add(time.Second)))

	n := c.Flush(context.Background())
	if n != 3 {
		t.Fatalf("flushed %d, want 3", n)
	}
	if em.sigs[0].ID != "exh" {
		t.Fatalf("flush order = %s, %s, %s; want exh first",
			em.sigs[0].ID, em.sigs[1].ID, em.sigs[2].ID)
	}
	if !em.sigs[0].ConflictPenalized {
		t.Fatalf("penalty flag not set on demoted signal")
	}
	want := 0.5 * 0.7
	if got := em.sigs[0].Confidence; got < want-0.001 || got > want+0.001 {
		t.Fatalf("penalized confidence = %v, want %v", got, want)
	}
	checkInvariant(t, c.Stats())
}

func TestBreakerIgnoresEventTimestamps(t *testing.T) {
	em := &captureEmitter{fail: true}
	c := newCoord(t, em)

	for i := 0; i < 3; i++ {
		_ = c.Submit(context.Background(), sig(fmt.Sprintf("f%d", i), domain.SignalAbsorption, domain.SideBuy, 1000+int64(i*200), 0.95, time.Now()))
	}
	if got := c.Stats().BreakerState; got != "open" {
		t.Fatalf("breaker state = %s, want open", got)
	}

	// A replayed signal stamped far in the future must not fast-forward
	// the cooldown; the breaker runs on wall clock.
	err := c.Submit(context.Background(), sig("future", domain.SignalAbsorption, domain.SideBuy, 2000, 0.95, time.Now().Add(time.Hour)))
	if !errors.Is(err, domain.ErrBreakerOpen) {
		t.Fatalf("err = %v, want breaker open", err)
	}
	if got := c.Stats().BreakerState; got != "open" {
		t.Fatalf("breaker state = %s, want still open", got)
	}
}

func TestConflictDropLowerRejectsLoser(t *testing.T) {
	cfg := coordConfig()
	cfg.ConflictStrategy = ConflictDropLower
	em := &captureEmitter{}
	c, err := New("BTCUSDT", cfg, em, slog.Default())
	if err != nil {
		t.Fatalf("new coordinator: %v", err)
	}
	now := time.Now()

	_ = c.Submit(context.Background(), sig("buy", domain.SignalAbsorption, domain.SideBuy, 1000, 0.8, now))
	_ = c.Submit(context.Background(), sig("sell", domain.SignalDistribution, domain.SideSell, 1010, 0.7, now.Add(time.Second)))

	snap := c.Stats()
	if snap.RejectReasons[domain.RejectConflictLoss] != 1 {
		t.Fatalf("reject reasons = %v", snap.RejectReasons)
	}
	checkInvariant(t, snap)
}

func TestBackpressureDropsLowestPriority(t *testing.T) {
	em := &captureEmitter{}
	c := newCoord(t, em)
	now := time.Now()

	// Fill the queue with ascending confidence, all below bypass.
	for i := 0; i < 8; i++ {
		s := sig(fmt.Sprintf("q%d", i), domain.SignalAbsorption, domain.SideBuy, 1000+int64(i*200), 0.4+float64(i)*0.05, now)
		if err := c.Submit(context.Background(), s); err != nil {
			t.Fatalf("fill submit %d: %v", i, err)
		}
	}
	// A stronger signal evicts the weakest queued one.
	if err := c.Submit(context.Background(), sig("strong", domain.SignalAbsorption, domain.SideBuy, 3000, 0.85, now)); err != nil {
		t.Fatalf("strong submit: %v", err)
	}
	snap := c.Stats()
	if snap.RejectReasons[domain.RejectBackpressure] != 1 {
		t.Fatalf("backpressure drop not counted: %v", snap.RejectReasons)
	}
	checkInvariant(t, snap)

	// A weaker-than-everything signal is rejected outright.
	err := c.Submit(context.Background(), sig("weak", domain.SignalAbsorption, domain.SideBuy, 7000, 0.4, now))
	if !errors.Is(err, domain.ErrQueueFull) {
		t.Fatalf("err = %v, want queue full", err)
	}
	checkInvariant(t, c.Stats())
}

func TestMarketHealthGate(t *testing.T) {
	em := &captureEmitter{}
	c := newCoord(t, em)
	c.SetMarketHealthy(false)

	_ = c.Submit(context.Background(), sig("s", domain.SignalAbsorption, domain.SideBuy, 1000, 0.8, time.Now()))
	snap := c.Stats()
	if snap.RejectReasons[domain.RejectUnhealthy] != 1 {
		t.Fatalf("unhealthy rejection missing: %v", snap.RejectReasons)
	}
	if snap.UnhealthyDrops != 1 {
		t.Fatalf("UnhealthyDrops = %d", snap.UnhealthyDrops)
	}
	checkInvariant(t, snap)
}

func TestCorrelationAnnotation(t *testing.T) {
	em := &captureEmitter{}
	c := newCoord(t, em)
	now := time.Now()

	_ = c.Submit(context.Background(), sig("first", domain.SignalAbsorption, domain.SideBuy, 1000, 0.5, now))
	_ = c.Submit(context.Background(), sig("second", domain.SignalExhaustion, domain.SideBuy, 1020, 0.5, now.Add(time.Second)))
	c.Flush(context.Background())

	var second *domain.Signal
	for i := range em.sigs {
		if em.sigs[i].ID == "second" {
			second = &em.sigs[i]
		}
	}
	if second == nil {
		t.Fatalf("second signal not emitted")
	}
	if second.CorrelatedWith != "first" {
		t.Fatalf("CorrelatedWith = %q, want first", second.CorrelatedWith)
	}
	if second.CorrelationStrength <= 0 || second.CorrelationStrength > 1 {
		t.Fatalf("CorrelationStrength = %v", second.CorrelationStrength)
	}
}

func TestConcurrentSubmitKeepsInvariant(t *testing.T) {
	em := &captureEmitter{}
	cfg := coordConfig()
	cfg.QueueCapacity = 1024
	c, err := New("BTCUSDT", cfg, em, slog.Default())
	if err != nil {
		t.Fatalf("new coordinator: %v", err)
	}
	now := time.Now()

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				conf := 0.2 + float64(i%8)*0.1
				s := sig(fmt.Sprintf("g%d-%d", g, i), domain.SignalAbsorption, domain.SideBuy,
					1000+int64(g*1000+i*10), conf, now.Add(time.Duration(i)*time.Millisecond))
				_ = c.Submit(context.Background(), s)
			}
		}(g)
	}
	wg.Wait()
	for c.Flush(context.Background()) > 0 {
	}

	snap := c.Stats()
	b := snap.PerType[domain.SignalAbsorption]
	if b.Candidates != 400 {
		t.Fatalf("candidates = %d, want 400", b.Candidates)
	}
	checkInvariant(t, snap)
}

func TestConfigValidation(t *testing.T) {
	cfg := coordConfig()
	cfg.BackpressureThreshold = 1.5
	if _, err := New("X", cfg, &captureEmitter{}, slog.Default()); err == nil {
		t.Fatalf("expected error for backpressure threshold > 1")
	}
	cfg = coordConfig()
	cfg.ConflictStrategy = "coin_flip"
	if _, err := New("X", cfg, &captureEmitter{}, slog.Default()); err == nil {
		t.Fatalf("expected error for unknown conflict strategy")
	}
	cfg = coordConfig()
	cfg.MaxBatchSize = 0
	if _, err := New("X", cfg, &captureEmitter{}, slog.Default()); err == nil {
		t.Fatalf("expected error for batch bounds")
	}
}
