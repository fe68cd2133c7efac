package feed

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/quantlab/orderflow/internal/domain"
)

// combinedMessage is the envelope of a Binance combined stream: the stream
// name plus the raw event payload.
type combinedMessage struct {
	Stream string          `json:"stream"`
	Data   json.RawMessage `json:"data"`
}

// aggTradeMessage is one aggregated trade from <symbol>@aggTrade.
type aggTradeMessage struct {
	Event        string `json:"e"`
	EventTime    int64  `json:"E"`
	Symbol       string `json:"s"`
	Price        string `json:"p"`
	Quantity     string `json:"q"`
	TradeTime    int64  `json:"T"`
	IsBuyerMaker bool   `json:"m"`
}

// depthMessage is one incremental book delta from <symbol>@depth.
type depthMessage struct {
	Event         string      `json:"e"`
	EventTime     int64       `json:"E"`
	Symbol        string      `json:"s"`
	FirstUpdateID int64       `json:"U"`
	FinalUpdateID int64       `json:"u"`
	Bids          [][2]string `json:"b"`
	Asks          [][2]string `json:"a"`
}

// toTradeEvent converts a wire trade to fixed-point domain form.
func (m aggTradeMessage) toTradeEvent(priceScale, qtyScale domain.Scale) (domain.TradeEvent, error) {
	price, err := parseTicks(m.Price, priceScale)
	if err != nil {
		return domain.TradeEvent{}, fmt.Errorf("feed: agg trade price: %w", err)
	}
	qty, err := parseTicks(m.Quantity, qtyScale)
	if err != nil {
		return domain.TradeEvent{}, fmt.Errorf("feed: agg trade quantity: %w", err)
	}
	return domain.TradeEvent{
		Symbol:       m.Symbol,
		Price:        price,
		Quantity:     qty,
		Timestamp:    time.UnixMilli(m.TradeTime),
		IsBuyerMaker: m.IsBuyerMaker,
	}, nil
}

// toDepthUpdate converts a wire depth delta to fixed-point domain form.
func (m depthMessage) toDepthUpdate(priceScale, qtyScale domain.Scale) (domain.DepthUpdate, error) {
	upd := domain.DepthUpdate{
		Symbol:        m.Symbol,
		FirstUpdateID: m.FirstUpdateID,
		FinalUpdateID: m.FinalUpdateID,
		Timestamp:     time.UnixMilli(m.EventTime),
		Bids:          make([]domain.DepthLevel, 0, len(m.Bids)),
		Asks:          make([]domain.DepthLevel, 0, len(m.Asks)),
	}
	for _, lv := range m.Bids {
		price, err := parseTicks(lv[0], priceScale)
		if err != nil {
			return domain.DepthUpdate{}, fmt.Errorf("feed: bid level: %w", err)
		}
		qty, err := parseTicks(lv[1], qtyScale)
		if err != nil {
			return domain.DepthUpdate{}, fmt.Errorf("feed: bid level: %w", err)
		}
		upd.Bids = append(upd.Bids, domain.DepthLevel{Price: price, Quantity: qty})
	}
	for _, lv := range m.Asks {
		price, err := parseTicks(lv[0], priceScale)
		if err != nil {
			return domain.DepthUpdate{}, fmt.Errorf("feed: ask level: %w", err)
		}
		qty, err := parseTicks(lv[1], qtyScale)
		if err != nil {
			return domain.DepthUpdate{}, fmt.Errorf("feed: ask level: %w", err)
		}
		upd.Asks = append(upd.Asks, domain.DepthLevel{Price: price, Quantity: qty})
	}
	return upd, nil
}

func parseTicks(s string, scale domain.Scale) (int64, error) {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, err
	}
	return scale.ToTicks(f)
}
