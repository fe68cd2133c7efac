package book

import (
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/quantlab/orderflow/internal/domain"
)

func bruteBest(b *Book) (bid, ask int64) {
	bid, ask = 0, domain.NoAskSentinel
	for _, lv := range b.AllLevels() {
		if lv.BidVolume > 0 && lv.Price > bid {
			bid = lv.Price
		}
		if lv.AskVolume > 0 && lv.Price < ask {
			ask = lv.Price
		}
	}
	return bid, ask
}

func TestBestPricesMatchBruteForce(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	b := New("BTCUSDT")
	now := time.Now()

	for i := 0; i < 5000; i++ {
		price := int64(rng.Intn(200)+1) * 100
		side := domain.SideBuy
		if rng.Intn(2) == 1 {
			side = domain.SideSell
		}
		switch rng.Intn(10) {
		case 0:
			if err := b.Delete(price); err != nil {
				t.Fatalf("delete: %v", err)
			}
		case 1:
			if err := b.Upsert(price, side, 0, now); err != nil {
				t.Fatalf("upsert zero: %v", err)
			}
		default:
			if err := b.Upsert(price, side, int64(rng.Intn(1000)), now); err != nil {
				t.Fatalf("upsert: %v", err)
			}
		}

		wantBid, wantAsk := bruteBest(b)
		if got := b.BestBid(); got != wantBid {
			t.Fatalf("step %d: BestBid = %d, brute force = %d", i, got, wantBid)
		}
		if got := b.BestAsk(); got != wantAsk {
			t.Fatalf("step %d: BestAsk = %d, brute force = %d", i, got, wantAsk)
		}
		gotBid, gotAsk := b.BestBidAsk()
		if gotBid != wantBid || gotAsk != wantAsk {
			t.Fatalf("step %d: BestBidAsk = (%d,%d), want (%d,%d)", i, gotBid, gotAsk, wantBid, wantAsk)
		}
	}
}

func TestLevelsStaySorted(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	b := New("BTCUSDT")
	now := time.Now()
	for i := 0; i < 1000; i++ {
		price := int64(rng.Intn(500) + 1)
		if err := b.Upsert(price, domain.SideBuy, int64(rng.Intn(100)+1), now); err != nil {
			t.Fatalf("upsert: %v", err)
		}
	}
	levels := b.AllLevels()
	if len(levels) != b.Size() {
		t.Fatalf("AllLevels returned %d entries, Size = %d", len(levels), b.Size())
	}
	for i := 1; i < len(levels); i++ {
		if levels[i-1].Price >= levels[i].Price {
			t.Fatalf("levels out of order at %d: %d >= %d", i, levels[i-1].Price, levels[i].Price)
		}
	}
}

func TestUpsertUpdatesInPlace(t *testing.T) {
	b := New("ETHUSDT")
	now := time.Now()
	if err := b.Upsert(1000, domain.SideBuy, 50, now); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := b.Upsert(1000, domain.SideSell, 30, now); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if b.Size() != 1 {
		t.Fatalf("expected a single level per unique price, got %d", b.Size())
	}
	lv, ok := b.Get(1000)
	if !ok {
		t.Fatalf("level missing")
	}
	if lv.BidVolume != 50 || lv.AskVolume != 30 {
		t.Fatalf("level = %+v", lv)
	}

	// Shrinking a side records Consumed; growing records Added.
	if err := b.Upsert(1000, domain.SideBuy, 20, now); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	lv, _ = b.Get(1000)
	if lv.Consumed != 30 {
		t.Fatalf("Consumed = %d, want 30", lv.Consumed)
	}
}

func TestEmptyBookSentinels(t *testing.T) {
	b := New("BTCUSDT")
	if got := b.BestBid(); got != 0 {
		t.Fatalf("BestBid on empty book = %d, want 0", got)
	}
	if got := b.BestAsk(); got != domain.NoAskSentinel {
		t.Fatalf("BestAsk on empty book = %d, want sentinel", got)
	}
	if _, ok := b.Get(100); ok {
		t.Fatalf("Get on empty book returned a level")
	}
}

func TestRejectsNegativeInput(t *testing.T) {
	b := New("BTCUSDT")
	if err := b.Upsert(-1, domain.SideBuy, 10, time.Now()); err == nil {
		t.Fatalf("expected error for negative price")
	}
	if err := b.Upsert(100, domain.SideBuy, -5, time.Now()); err == nil {
		t.Fatalf("expected error for negative quantity")
	}
	if err := b.Delete(-1); err == nil {
		t.Fatalf("expected error for negative delete price")
	}
	if b.Size() != 0 {
		t.Fatalf("rejected input must not mutate the book")
	}
}

func TestApplyDepthZeroQuantityDeletes(t *testing.T) {
	b := New("BTCUSDT")
	now := time.Now()
	upd := domain.DepthUpdate{
		Symbol:    "BTCUSDT",
		Bids:      []domain.DepthLevel{{Price: 100, Quantity: 10}, {Price: 99, Quantity: 5}},
		Asks:      []domain.DepthLevel{{Price: 101, Quantity: 7}},
		Timestamp: now,
	}
	if err := b.ApplyDepth(upd); err != nil {
		t.Fatalf("apply depth: %v", err)
	}
	if bid, ask := b.BestBidAsk(); bid != 100 || ask != 101 {
		t.Fatalf("BestBidAsk = (%d,%d), want (100,101)", bid, ask)
	}

	upd2 := domain.DepthUpdate{
		Symbol:    "BTCUSDT",
		Bids:      []domain.DepthLevel{{Price: 100, Quantity: 0}},
		Timestamp: now.Add(time.Second),
	}
	if err := b.ApplyDepth(upd2); err != nil {
		t.Fatalf("apply depth: %v", err)
	}
	if got := b.BestBid(); got != 99 {
		t.Fatalf("BestBid after removal = %d, want 99", got)
	}
	if _, ok := b.Get(100); ok {
		t.Fatalf("level 100 should be gone after zero-quantity update")
	}
}

func depthAt(first, final int64, bids []domain.DepthLevel, now time.Time) domain.DepthUpdate {
	return domain.DepthUpdate{
		Symbol:        "BTCUSDT",
		FirstUpdateID: first,
		FinalUpdateID: final,
		Bids:          bids,
		Timestamp:     now,
	}
}

func TestApplyDepthDetectsSequenceGap(t *testing.T) {
	b := New("BTCUSDT")
	now := time.Now()

	if err := b.ApplyDepth(depthAt(1, 10, []domain.DepthLevel{{Price: 100, Quantity: 10}}, now)); err != nil {
		t.Fatalf("baseline delta: %v", err)
	}
	if err := b.ApplyDepth(depthAt(11, 20, []domain.DepthLevel{{Price: 99, Quantity: 5}}, now)); err != nil {
		t.Fatalf("contiguous delta: %v", err)
	}

	// A hole in the update-ID sequence means resting volume was lost;
	// the book must clear rather than keep a silently wrong state.
	err := b.ApplyDepth(depthAt(30, 40, []domain.DepthLevel{{Price: 98, Quantity: 3}}, now))
	if !errors.Is(err, domain.ErrSequenceGap) {
		t.Fatalf("err = %v, want sequence gap", err)
	}
	if b.Size() != 0 {
		t.Fatalf("book size after gap = %d, want 0", b.Size())
	}

	// The next delta rebaselines the book.
	if err := b.ApplyDepth(depthAt(41, 50, []domain.DepthLevel{{Price: 101, Quantity: 7}}, now)); err != nil {
		t.Fatalf("rebaseline delta: %v", err)
	}
	if got := b.BestBid(); got != 101 {
		t.Fatalf("BestBid after rebaseline = %d, want 101", got)
	}
}

func TestApplyDepthDropsStaleDelta(t *testing.T) {
	b := New("BTCUSDT")
	now := time.Now()

	if err := b.ApplyDepth(depthAt(1, 10, []domain.DepthLevel{{Price: 100, Quantity: 10}}, now)); err != nil {
		t.Fatalf("baseline delta: %v", err)
	}
	// Replay of an already-applied range must not mutate the book.
	if err := b.ApplyDepth(depthAt(5, 10, []domain.DepthLevel{{Price: 100, Quantity: 0}}, now)); err != nil {
		t.Fatalf("stale delta: %v", err)
	}
	if lv, ok := b.Get(100); !ok || lv.BidVolume != 10 {
		t.Fatalf("stale delta mutated level: %+v ok=%v", lv, ok)
	}
}
