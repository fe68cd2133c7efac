package domain

import "time"

// PriceLevel is the resting liquidity at a single price. One entry exists per
// unique price; it is owned by the order-book index and mutated only through
// its upsert/delete operations.
type PriceLevel struct {
	Price     int64
	BidVolume int64
	AskVolume int64
	UpdatedAt time.Time

	// Consumed and Added track volume deltas within the current update
	// cycle; the zone tracker reads them to separate executions from
	// cancellations.
	Consumed int64
	Added    int64
}

// Total returns the combined resting volume at the level.
func (l PriceLevel) Total() int64 { return l.BidVolume + l.AskVolume }

// BookView is the read-only order-book surface consumed by detectors and the
// confirmation machine.
type BookView interface {
	Get(price int64) (PriceLevel, bool)
	BestBid() int64
	BestAsk() int64
	BestBidAsk() (bid, ask int64)
	Size() int
}
