package domain

import (
	"math"
	"math/rand"
	"testing"
)

func TestTicksRoundTrip(t *testing.T) {
	s := Scale(DefaultPriceScale)
	rng := rand.New(rand.NewSource(11))

	for i := 0; i < 10000; i++ {
		// Values with at most 8 decimal places survive the round trip
		// exactly.
		raw := rng.Int63n(9_000_000_000_000_000)
		got, err := s.ToTicks(s.FromTicks(raw))
		if err != nil {
			t.Fatalf("round trip %d: %v", raw, err)
		}
		if got != raw {
			t.Fatalf("round trip %d: got %d", raw, got)
		}
	}
}

func TestToTicksRounding(t *testing.T) {
	s := Scale(2)
	cases := []struct {
		in   float64
		want int64
	}{
		{1.234, 123},
		{1.235, 124},
		{0.005, 1},
		{-1.235, -124},
		{0, 0},
	}
	for _, tc := range cases {
		got, err := s.ToTicks(tc.in)
		if err != nil {
			t.Fatalf("ToTicks(%v): %v", tc.in, err)
		}
		if got != tc.want {
			t.Fatalf("ToTicks(%v) = %d, want %d", tc.in, got, tc.want)
		}
	}
}

func TestToTicksRejectsNonFinite(t *testing.T) {
	s := Scale(DefaultPriceScale)
	for _, v := range []float64{math.NaN(), math.Inf(1), math.Inf(-1), 1e300} {
		if _, err := s.ToTicks(v); err == nil {
			t.Fatalf("ToTicks(%v) accepted", v)
		}
	}
}

func TestSideOpposite(t *testing.T) {
	if SideBuy.Opposite() != SideSell || SideSell.Opposite() != SideBuy {
		t.Fatalf("Opposite is not an involution")
	}
	if SideBuy.String() != "buy" || SideSell.String() != "sell" {
		t.Fatalf("side names wrong")
	}
}

func TestAggressorSide(t *testing.T) {
	ev := TradeEvent{IsBuyerMaker: true}
	if ev.AggressorSide() != SideSell || ev.IsBuy() {
		t.Fatalf("buyer-maker trade must be a sell aggressor")
	}
	ev.IsBuyerMaker = false
	if ev.AggressorSide() != SideBuy || !ev.IsBuy() {
		t.Fatalf("non-buyer-maker trade must be a buy aggressor")
	}
}
