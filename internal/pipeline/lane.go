// Package pipeline runs the per-symbol processing lane: depth updates feed
// the order-book index, trades are enriched with book and zone context, the
// detectors evaluate each enriched trade, candidates wait in the confirmation
// machine, and confirmed signals go to the coordinator. One goroutine owns
// one lane, so the book, tracker, detectors, and machine need no locks.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/quantlab/orderflow/internal/book"
	"github.com/quantlab/orderflow/internal/confirm"
	"github.com/quantlab/orderflow/internal/coordinator"
	"github.com/quantlab/orderflow/internal/detector"
	"github.com/quantlab/orderflow/internal/domain"
	"github.com/quantlab/orderflow/internal/zone"
)

// Config tunes a lane.
type Config struct {
	// TradeBuffer and DepthBuffer size the ingest channels. A full buffer
	// drops the event rather than blocking the feed.
	TradeBuffer int `toml:"trade_buffer"`
	DepthBuffer int `toml:"depth_buffer"`
	// ZoneRadiusTicks bounds the passive-volume sum around a trade price.
	ZoneRadiusTicks int64 `toml:"zone_radius_ticks"`
	// PruneInterval schedules zone-history aging.
	PruneInterval time.Duration `toml:"prune_interval"`
}

// Validate rejects out-of-range settings before the lane starts.
func (c Config) Validate() error {
	if c.TradeBuffer <= 0 || c.DepthBuffer <= 0 {
		return fmt.Errorf("pipeline: %w: buffers must be positive", domain.ErrInvalidConfig)
	}
	if c.ZoneRadiusTicks <= 0 {
		return fmt.Errorf("pipeline: %w: zone_radius_ticks must be positive", domain.ErrInvalidConfig)
	}
	if c.PruneInterval <= 0 {
		return fmt.Errorf("pipeline: %w: prune_interval must be positive", domain.ErrInvalidConfig)
	}
	return nil
}

// LaneStats is a point-in-time view of lane throughput for status reporting.
type LaneStats struct {
	Symbol        string `json:"symbol"`
	Trades        int64  `json:"trades"`
	Depths        int64  `json:"depths"`
	DroppedTrades int64  `json:"dropped_trades"`
	DroppedDepths int64  `json:"dropped_depths"`
	BookLevels    int64  `json:"book_levels"`
	PendingJudge  int64  `json:"pending_confirmations"`
}

// Lane processes one symbol's event stream end to end.
type Lane struct {
	symbol string
	cfg    Config
	logger *slog.Logger

	book      *book.Book
	zones     *zone.Tracker
	detectors []detector.Detector
	machine   *confirm.Machine
	coord     *coordinator.Coordinator

	trades chan domain.TradeEvent
	depths chan domain.DepthUpdate

	// Counters are atomics so Stats can be read from other goroutines
	// without touching the lane-owned state.
	tradeCount   atomic.Int64
	depthCount   atomic.Int64
	droppedTrade atomic.Int64
	droppedDepth atomic.Int64
	bookLevels   atomic.Int64
	pending      atomic.Int64
}

// NewLane wires a lane from its already-constructed stages.
func NewLane(
	symbol string,
	cfg Config,
	bk *book.Book,
	zones *zone.Tracker,
	detectors []detector.Detector,
	machine *confirm.Machine,
	coord *coordinator.Coordinator,
	logger *slog.Logger,
) (*Lane, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Lane{
		symbol:    symbol,
		cfg:       cfg,
		logger:    logger.With(slog.String("component", "lane"), slog.String("symbol", symbol)),
		book:      bk,
		zones:     zones,
		detectors: detectors,
		machine:   machine,
		coord:     coord,
		trades:    make(chan domain.TradeEvent, cfg.TradeBuffer),
		depths:    make(chan domain.DepthUpdate, cfg.DepthBuffer),
	}, nil
}

// Symbol returns the symbol this lane processes.
func (l *Lane) Symbol() string { return l.symbol }

// SubmitTrade hands a trade to the lane without blocking. A full buffer drops
// the event and counts the drop.
func (l *Lane) SubmitTrade(ev domain.TradeEvent) {
	select {
	case l.trades <- ev:
	default:
		l.droppedTrade.Add(1)
	}
}

// SubmitDepth hands a depth update to the lane without blocking.
func (l *Lane) SubmitDepth(upd domain.DepthUpdate) {
	select {
	case l.depths <- upd:
	default:
		l.droppedDepth.Add(1)
	}
}

// Run drains the ingest channels until ctx is cancelled. Depth updates are
// preferred when both channels are ready so trades always see a current book.
func (l *Lane) Run(ctx context.Context) error {
	prune := time.NewTicker(l.cfg.PruneInterval)
	defer prune.Stop()

	l.logger.Info("lane started")
	defer l.logger.Info("lane stopped")

	for {
		// Drain pending depth first so trade enrichment never lags the
		// book by a full select round.
		select {
		case upd := <-l.depths:
			l.handleDepth(upd)
			continue
		default:
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case upd := <-l.depths:
			l.handleDepth(upd)
		case ev := <-l.trades:
			l.handleTrade(ctx, ev)
		case now := <-prune.C:
			l.zones.Prune(now)
		}
	}
}

func (l *Lane) handleDepth(upd domain.DepthUpdate) {
	if err := l.book.ApplyDepth(upd); err != nil {
		l.logger.Warn("depth update rejected", slog.String("error", err.Error()))
		return
	}
	bid, ask := l.book.BestBidAsk()
	l.zones.UpdateSpread(bid, ask)
	l.depthCount.Add(1)
	l.bookLevels.Store(int64(l.book.Size()))
}

func (l *Lane) handleTrade(ctx context.Context, ev domain.TradeEvent) {
	if ev.Price <= 0 || ev.Quantity <= 0 {
		l.logger.Debug("dropping malformed trade",
			slog.Int64("price", ev.Price),
			slog.Int64("quantity", ev.Quantity),
		)
		l.droppedTrade.Add(1)
		return
	}

	bid, ask := l.book.BestBidAsk()
	ev.BestBid, ev.BestAsk = bid, ask
	ev.PassiveBidVolume = l.book.PassiveVolumeNear(ev.Price, l.cfg.ZoneRadiusTicks, domain.SideBuy)
	ev.PassiveAskVolume = l.book.PassiveVolumeNear(ev.Price, l.cfg.ZoneRadiusTicks, domain.SideSell)

	var spread int64
	if bid > 0 && ask != domain.NoAskSentinel {
		spread = ask - bid
	}
	snap := domain.ZoneSnapshot{
		Timestamp:        ev.Timestamp,
		PassiveBidVolume: ev.PassiveBidVolume,
		PassiveAskVolume: ev.PassiveAskVolume,
		AggressiveVolume: ev.Quantity,
		Spread:           spread,
	}
	l.zones.Observe(ev.Price, snap)
	ev.Zone = &snap

	for _, det := range l.detectors {
		for _, cand := range det.OnTrade(ev) {
			l.machine.Add(cand)
		}
	}

	for _, res := range l.machine.OnPrice(ev.Price, ev.Timestamp) {
		if res.Outcome != confirm.OutcomeConfirmed {
			continue
		}
		c := res.Candidate
		sig := domain.Signal{
			ID:         c.ID,
			Symbol:     l.symbol,
			Type:       c.Type,
			DetectorID: c.DetectorID,
			Price:      c.Price,
			Side:       c.Side,
			Confidence: c.Confidence,
			Timestamp:  ev.Timestamp,
			Metrics:    c.Metrics,
		}
		if err := l.coord.Submit(ctx, sig); err != nil {
			// The coordinator already counted the rejection; the lane
			// only records it for debugging.
			l.logger.Debug("signal rejected by coordinator",
				slog.String("id", sig.ID),
				slog.String("error", err.Error()),
			)
		}
	}

	l.tradeCount.Add(1)
	l.pending.Store(int64(l.machine.Pending()))
}

// Stats returns the lane's throughput counters.
func (l *Lane) Stats() LaneStats {
	return LaneStats{
		Symbol:        l.symbol,
		Trades:        l.tradeCount.Load(),
		Depths:        l.depthCount.Load(),
		DroppedTrades: l.droppedTrade.Load(),
		DroppedDepths: l.droppedDepth.Load(),
		BookLevels:    l.bookLevels.Load(),
		PendingJudge:  l.pending.Load(),
	}
}
