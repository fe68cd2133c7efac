package domain

import "time"

// Side distinguishes the two sides of the market. For resting liquidity the
// buy side is the bid book and the sell side is the ask book.
type Side int8

const (
	SideBuy Side = iota
	SideSell
)

// String returns the lowercase side name.
func (s Side) String() string {
	if s == SideBuy {
		return "buy"
	}
	return "sell"
}

// Opposite returns the other side.
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// TradeEvent is a single execution enriched with the book context that was
// current when the trade printed. Prices and volumes are fixed-point ticks.
type TradeEvent struct {
	Symbol           string
	Price            int64
	Quantity         int64
	Timestamp        time.Time
	IsBuyerMaker     bool // true: aggressor sold into the bid
	BestBid          int64
	BestAsk          int64
	PassiveBidVolume int64
	PassiveAskVolume int64
	Zone             *ZoneSnapshot // optional, nil when no zone context exists
}

// IsBuy reports whether the aggressor was a buyer.
func (e TradeEvent) IsBuy() bool { return !e.IsBuyerMaker }

// PassiveVolume returns the resting volume on the given side at event time.
func (e TradeEvent) PassiveVolume(side Side) int64 {
	if side == SideBuy {
		return e.PassiveBidVolume
	}
	return e.PassiveAskVolume
}

// AggressorSide returns the side of the aggressing order.
func (e TradeEvent) AggressorSide() Side {
	if e.IsBuyerMaker {
		return SideSell
	}
	return SideBuy
}

// DepthLevel is a single (price, quantity) entry in a depth update.
// Quantity zero means the level was removed.
type DepthLevel struct {
	Price    int64
	Quantity int64
}

// DepthUpdate is an incremental order-book delta as delivered by the feed.
type DepthUpdate struct {
	Symbol        string
	FirstUpdateID int64
	FinalUpdateID int64
	Bids          []DepthLevel
	Asks          []DepthLevel
	Timestamp     time.Time
}
