// Package book implements the price-indexed order-book index: a red-black
// tree of resting bid/ask volume per price with O(log n) updates and
// best-price queries that skip depleted levels.
package book

import (
	"fmt"
	"time"

	"github.com/quantlab/orderflow/internal/domain"
)

// Book holds per-price resting volume for one symbol. It is owned by a single
// processing lane: events for a symbol are applied strictly in arrival order,
// so the book carries no locks.
type Book struct {
	symbol string
	tree   *tree

	// dirty holds nodes whose Consumed/Added deltas belong to the current
	// update cycle; ApplyDepth resets them before applying the next delta.
	dirty []*node

	// lastUpdateID is the FinalUpdateID of the last applied delta; zero
	// until the first stamped delta arrives.
	lastUpdateID int64
}

// New creates an empty book for symbol.
func New(symbol string) *Book {
	return &Book{symbol: symbol, tree: newTree()}
}

// Symbol returns the symbol this book tracks.
func (b *Book) Symbol() string { return b.symbol }

// Size returns the number of distinct price levels.
func (b *Book) Size() int { return b.tree.size }

// Clear drops every level and forgets the applied sequence position.
func (b *Book) Clear() {
	b.tree.clear()
	b.dirty = b.dirty[:0]
	b.lastUpdateID = 0
}

// Upsert sets the resting volume for side at price. An existing price is
// updated in place; a quantity of zero clears that side and removes the level
// once both sides are empty. Negative prices and quantities are caller errors.
func (b *Book) Upsert(price int64, side domain.Side, quantity int64, now time.Time) error {
	if price < 0 {
		return fmt.Errorf("book %s: upsert: %w: %d", b.symbol, domain.ErrInvalidPrice, price)
	}
	if quantity < 0 {
		return fmt.Errorf("book %s: upsert: %w: %d", b.symbol, domain.ErrInvalidQuantity, quantity)
	}

	n := b.tree.find(price)
	if n == nil {
		if quantity == 0 {
			return nil
		}
		n = b.tree.insert(price)
	}

	var prev int64
	if side == domain.SideBuy {
		prev = n.level.BidVolume
		n.level.BidVolume = quantity
	} else {
		prev = n.level.AskVolume
		n.level.AskVolume = quantity
	}
	if quantity < prev {
		n.level.Consumed += prev - quantity
	} else {
		n.level.Added += quantity - prev
	}
	n.level.UpdatedAt = now
	b.dirty = append(b.dirty, n)

	if n.level.BidVolume == 0 && n.level.AskVolume == 0 {
		b.tree.remove(n)
	}
	return nil
}

// Delete removes the level at price entirely. Deleting an absent price is a
// no-op; a negative price is a caller error.
func (b *Book) Delete(price int64) error {
	if price < 0 {
		return fmt.Errorf("book %s: delete: %w: %d", b.symbol, domain.ErrInvalidPrice, price)
	}
	if n := b.tree.find(price); n != nil {
		b.tree.remove(n)
	}
	return nil
}

// Get returns a copy of the level at price.
func (b *Book) Get(price int64) (domain.PriceLevel, bool) {
	n := b.tree.find(price)
	if n == nil {
		return domain.PriceLevel{}, false
	}
	return n.level, true
}

// BestBid returns the highest price with resting bid volume, or 0 when the
// bid side is empty. The walk starts at the maximum and backtracks through
// parents past zero-bid levels instead of scanning the whole tree.
func (b *Book) BestBid() int64 {
	if b.tree.root == b.tree.nilN {
		return 0
	}
	for n := b.tree.maximum(b.tree.root); n != nil; n = b.tree.predecessor(n) {
		if n.level.BidVolume > 0 {
			return n.price
		}
	}
	return 0
}

// BestAsk returns the lowest price with resting ask volume, or NoAskSentinel
// when the ask side is empty.
func (b *Book) BestAsk() int64 {
	if b.tree.root == b.tree.nilN {
		return domain.NoAskSentinel
	}
	for n := b.tree.minimum(b.tree.root); n != nil; n = b.tree.successor(n) {
		if n.level.AskVolume > 0 {
			return n.price
		}
	}
	return domain.NoAskSentinel
}

// BestBidAsk returns both best prices from one uninterrupted pass over the
// tree, so the pair is mutually consistent: a caller never observes a bid
// from one book state paired with an ask from another.
func (b *Book) BestBidAsk() (bid, ask int64) {
	bid, ask = 0, domain.NoAskSentinel
	if b.tree.root == b.tree.nilN {
		return bid, ask
	}
	for n := b.tree.maximum(b.tree.root); n != nil; n = b.tree.predecessor(n) {
		if bid == 0 && n.level.BidVolume > 0 {
			bid = n.price
		}
		if n.level.AskVolume > 0 {
			ask = n.price
		}
	}
	return bid, ask
}

// AllLevels returns every level in ascending price order.
func (b *Book) AllLevels() []domain.PriceLevel {
	out := make([]domain.PriceLevel, 0, b.tree.size)
	b.tree.ascend(func(n *node) {
		out = append(out, n.level)
	})
	return out
}

// ApplyDepth applies an incremental depth update: each entry is an absolute
// quantity, zero meaning removal. Deltas from the previous cycle are reset
// first so Consumed/Added always describe the latest update only.
//
// Stamped deltas must continue the applied sequence: a delta whose
// FirstUpdateID leaves a hole after the last applied FinalUpdateID clears
// the book and reports ErrSequenceGap, and the book rebuilds from the next
// delta. A delta at or behind the applied position is dropped silently.
func (b *Book) ApplyDepth(upd domain.DepthUpdate) error {
	if upd.FinalUpdateID > 0 && b.lastUpdateID > 0 {
		if upd.FinalUpdateID <= b.lastUpdateID {
			return nil
		}
		if upd.FirstUpdateID > b.lastUpdateID+1 {
			last := b.lastUpdateID
			b.Clear()
			return fmt.Errorf("book %s: apply depth: %w: applied through %d, delta starts at %d",
				b.symbol, domain.ErrSequenceGap, last, upd.FirstUpdateID)
		}
	}

	for _, n := range b.dirty {
		n.level.Consumed = 0
		n.level.Added = 0
	}
	b.dirty = b.dirty[:0]

	for _, lv := range upd.Bids {
		if err := b.Upsert(lv.Price, domain.SideBuy, lv.Quantity, upd.Timestamp); err != nil {
			return err
		}
	}
	for _, lv := range upd.Asks {
		if err := b.Upsert(lv.Price, domain.SideSell, lv.Quantity, upd.Timestamp); err != nil {
			return err
		}
	}
	if upd.FinalUpdateID > 0 {
		b.lastUpdateID = upd.FinalUpdateID
	}
	return nil
}

// PassiveVolumeNear sums resting volume on side within maxTicks of refPrice.
// The zone tracker uses it to snapshot passive liquidity around the spread.
func (b *Book) PassiveVolumeNear(refPrice, maxTicks int64, side domain.Side) int64 {
	var total int64
	b.tree.ascend(func(n *node) {
		d := n.price - refPrice
		if d < 0 {
			d = -d
		}
		if d > maxTicks {
			return
		}
		if side == domain.SideBuy {
			total += n.level.BidVolume
		} else {
			total += n.level.AskVolume
		}
	})
	return total
}

var _ domain.BookView = (*Book)(nil)
