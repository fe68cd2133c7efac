// Package detector provides the order-flow pattern detectors. Each detector
// consumes enriched trade events, buckets recent trades into price zones,
// aggregates aggressive and passive volume over a rolling window, and emits
// candidate detections when its pattern conditions hold. Candidates are
// confirmed or discarded downstream by the confirmation machine.
package detector

import (
	"log/slog"
	"time"

	"github.com/quantlab/orderflow/internal/domain"
)

// Detector is the shape every pattern detector implements.
type Detector interface {
	Name() string
	// OnTrade evaluates one enriched trade event and returns zero or more
	// candidate detections. Malformed events are dropped, never panicked on.
	OnTrade(ev domain.TradeEvent) []domain.Candidate
}

// windowTrade is one trade retained in a zone's rolling window.
type windowTrade struct {
	ts    time.Time
	price int64
	qty   int64
	isBuy bool
}

// flowWindow aggregates the recent trades of one price zone.
type flowWindow struct {
	trades []windowTrade
}

// add appends a trade and drops entries older than window relative to it.
func (w *flowWindow) add(t windowTrade, window time.Duration) {
	w.trades = append(w.trades, t)
	cutoff := t.ts.Add(-window)
	i := 0
	for i < len(w.trades) && !w.trades[i].ts.After(cutoff) {
		i++
	}
	if i > 0 {
		w.trades = w.trades[i:]
	}
}

// aggressive returns total traded volume, split by aggressor side.
func (w *flowWindow) aggressive() (buyVol, sellVol int64) {
	for _, t := range w.trades {
		if t.isBuy {
			buyVol += t.qty
		} else {
			sellVol += t.qty
		}
	}
	return buyVol, sellVol
}

// movement returns the absolute price change across the window in ticks.
func (w *flowWindow) movement() int64 {
	if len(w.trades) < 2 {
		return 0
	}
	d := w.trades[len(w.trades)-1].price - w.trades[0].price
	if d < 0 {
		d = -d
	}
	return d
}

// span returns the time covered by the window.
func (w *flowWindow) span() time.Duration {
	if len(w.trades) < 2 {
		return 0
	}
	return w.trades[len(w.trades)-1].ts.Sub(w.trades[0].ts)
}

type cooldownKey struct {
	zone string
	side domain.Side
}

// base carries the state shared by all detectors: zone bucketing, rolling
// windows, the per-(zone,side) emission cooldown, and input validation.
type base struct {
	id        string
	zoneTicks int64
	window    time.Duration
	cooldown  time.Duration
	minVolume int64
	logger    *slog.Logger
	windows   map[int64]*flowWindow
	lastEmit  map[cooldownKey]time.Time
}

func newBase(id string, zoneTicks int64, window, cooldown time.Duration, minVolume int64, logger *slog.Logger) base {
	return base{
		id:        id,
		zoneTicks: zoneTicks,
		window:    window,
		cooldown:  cooldown,
		minVolume: minVolume,
		logger:    logger.With(slog.String("detector", id)),
		windows:   make(map[int64]*flowWindow),
		lastEmit:  make(map[cooldownKey]time.Time),
	}
}

// accept validates the event and folds it into the zone window. It returns
// the zone bucket and window, or false when the event is malformed.
func (b *base) accept(ev domain.TradeEvent) (int64, *flowWindow, bool) {
	if ev.Price <= 0 || ev.Quantity <= 0 {
		b.logger.Debug("dropping malformed trade event",
			slog.Int64("price", ev.Price),
			slog.Int64("quantity", ev.Quantity),
		)
		return 0, nil, false
	}
	bucket := ev.Price / b.zoneTicks
	w := b.windows[bucket]
	if w == nil {
		w = &flowWindow{}
		b.windows[bucket] = w
	}
	w.add(windowTrade{ts: ev.Timestamp, price: ev.Price, qty: ev.Quantity, isBuy: ev.IsBuy()}, b.window)
	return bucket, w, true
}

// onCooldown reports whether (zone, side) emitted within the cooldown, and
// otherwise records now as the last emission time.
func (b *base) onCooldown(zoneID string, side domain.Side, now time.Time) bool {
	key := cooldownKey{zone: zoneID, side: side}
	if last, ok := b.lastEmit[key]; ok && now.Sub(last) < b.cooldown {
		return true
	}
	b.lastEmit[key] = now
	return false
}
