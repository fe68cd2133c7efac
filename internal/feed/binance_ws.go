// Package feed streams live market data from a Binance-style combined
// websocket: aggregated trades and incremental depth deltas per symbol,
// decoded to fixed-point domain events and dispatched to the per-symbol
// lanes. The client reconnects with capped exponential backoff and reports
// connection health so the coordinator can gate signal emission.
package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/quantlab/orderflow/internal/domain"
)

// writeWait is the time allowed to write a control message to the peer.
const writeWait = 10 * time.Second

// Sink receives decoded events for one symbol. Both methods must not block;
// the lanes satisfy this with buffered channels.
type Sink interface {
	SubmitTrade(ev domain.TradeEvent)
	SubmitDepth(upd domain.DepthUpdate)
}

// HealthFunc is notified when the feed gains or loses its connection.
type HealthFunc func(healthy bool)

// Config tunes the websocket client.
type Config struct {
	// WsHost is the stream endpoint, e.g. "wss://stream.binance.com:9443".
	WsHost  string   `toml:"ws_host"`
	Symbols []string `toml:"symbols"`
	// DepthSpeed selects the depth stream update interval: 100ms or 1000ms.
	DepthSpeed   string        `toml:"depth_speed"`
	ReconnectMin time.Duration `toml:"reconnect_min"`
	ReconnectMax time.Duration `toml:"reconnect_max"`
	ReadTimeout  time.Duration `toml:"read_timeout"`
	PingInterval time.Duration `toml:"ping_interval"`
	// UnhealthyTimeout is how long a disconnect may last before the market
	// is reported unhealthy. A fast reconnect stays invisible downstream.
	UnhealthyTimeout time.Duration `toml:"unhealthy_timeout"`

	PriceScale    domain.Scale
	QuantityScale domain.Scale
}

// Validate rejects out-of-range settings before the client starts.
func (c Config) Validate() error {
	if c.WsHost == "" {
		return fmt.Errorf("feed: %w: ws_host must not be empty", domain.ErrInvalidConfig)
	}
	if len(c.Symbols) == 0 {
		return fmt.Errorf("feed: %w: at least one symbol required", domain.ErrInvalidConfig)
	}
	if c.DepthSpeed != "100ms" && c.DepthSpeed != "1000ms" {
		return fmt.Errorf("feed: %w: depth_speed must be 100ms or 1000ms", domain.ErrInvalidConfig)
	}
	if c.ReconnectMin <= 0 || c.ReconnectMax < c.ReconnectMin {
		return fmt.Errorf("feed: %w: reconnect backoff must satisfy 0 < min <= max", domain.ErrInvalidConfig)
	}
	if c.ReadTimeout <= 0 || c.PingInterval <= 0 || c.PingInterval >= c.ReadTimeout {
		return fmt.Errorf("feed: %w: ping_interval must be positive and below read_timeout", domain.ErrInvalidConfig)
	}
	return nil
}

// Client consumes one combined stream covering every configured symbol.
type Client struct {
	cfg    Config
	sinks  map[string]Sink
	health HealthFunc
	logger *slog.Logger

	mu             sync.Mutex
	unhealthyTimer *time.Timer
}

// NewClient creates a feed client dispatching to sinks keyed by symbol.
func NewClient(cfg Config, sinks map[string]Sink, health HealthFunc, logger *slog.Logger) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	for _, sym := range cfg.Symbols {
		if sinks[sym] == nil {
			return nil, fmt.Errorf("feed: %w: no sink for symbol %s", domain.ErrInvalidConfig, sym)
		}
	}
	return &Client{
		cfg:    cfg,
		sinks:  sinks,
		health: health,
		logger: logger.With(slog.String("component", "feed")),
	}, nil
}

// streamURL builds the combined-stream endpoint covering every symbol's
// aggTrade and depth channels.
func (c *Client) streamURL() string {
	streams := make([]string, 0, 2*len(c.cfg.Symbols))
	for _, sym := range c.cfg.Symbols {
		lower := strings.ToLower(sym)
		streams = append(streams,
			lower+"@aggTrade",
			lower+"@depth@"+c.cfg.DepthSpeed,
		)
	}
	return strings.TrimSuffix(c.cfg.WsHost, "/") + "/stream?streams=" + strings.Join(streams, "/")
}

// Run connects and consumes the stream until ctx is cancelled, reconnecting
// with capped exponential backoff after every failure.
func (c *Client) Run(ctx context.Context) error {
	url := c.streamURL()
	delay := c.cfg.ReconnectMin

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		conn, err := c.dial(ctx, url)
		if err != nil {
			c.logger.Warn("stream connect failed",
				slog.String("error", err.Error()),
				slog.Duration("retry_in", delay),
			)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			delay *= 2
			if delay > c.cfg.ReconnectMax {
				delay = c.cfg.ReconnectMax
			}
			continue
		}

		delay = c.cfg.ReconnectMin
		c.markConnected()
		c.logger.Info("stream connected", slog.Int("symbols", len(c.cfg.Symbols)))

		err = c.readLoop(ctx, conn)
		conn.Close()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.markDisconnected()
		c.logger.Warn("stream disconnected", slog.String("error", err.Error()))
	}
}

func (c *Client) dial(ctx context.Context, url string) (*websocket.Conn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: 15 * time.Second}
	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("feed: connect %s: %w", url, err)
	}
	conn.SetReadDeadline(time.Now().Add(c.cfg.ReadTimeout))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(c.cfg.ReadTimeout))
		return nil
	})
	return conn, nil
}

// readLoop consumes messages until the connection breaks or ctx is
// cancelled. A per-connection ping goroutine keeps the read deadline fresh.
func (c *Client) readLoop(ctx context.Context, conn *websocket.Conn) error {
	pingCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go c.pingLoop(pingCtx, conn)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("feed: read: %w: %s", domain.ErrWSDisconnect, err)
		}
		c.handleMessage(raw)
	}
}

func (c *Client) pingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleMessage decodes one combined-stream message and hands it to the
// owning symbol's sink. Unparseable messages are dropped, never fatal.
func (c *Client) handleMessage(raw []byte) {
	var env combinedMessage
	if err := json.Unmarshal(raw, &env); err != nil {
		return
	}
	switch {
	case strings.Contains(env.Stream, "@aggTrade"):
		var msg aggTradeMessage
		if err := json.Unmarshal(env.Data, &msg); err != nil {
			return
		}
		sink := c.sinks[msg.Symbol]
		if sink == nil {
			return
		}
		ev, err := msg.toTradeEvent(c.cfg.PriceScale, c.cfg.QuantityScale)
		if err != nil {
			c.logger.Debug("dropping trade message", slog.String("error", err.Error()))
			return
		}
		sink.SubmitTrade(ev)

	case strings.Contains(env.Stream, "@depth"):
		var msg depthMessage
		if err := json.Unmarshal(env.Data, &msg); err != nil {
			return
		}
		sink := c.sinks[msg.Symbol]
		if sink == nil {
			return
		}
		upd, err := msg.toDepthUpdate(c.cfg.PriceScale, c.cfg.QuantityScale)
		if err != nil {
			c.logger.Debug("dropping depth message", slog.String("error", err.Error()))
			return
		}
		sink.SubmitDepth(upd)
	}
}

// markConnected cancels a pending unhealthy flip and reports a healthy feed.
func (c *Client) markConnected() {
	c.mu.Lock()
	if c.unhealthyTimer != nil {
		c.unhealthyTimer.Stop()
		c.unhealthyTimer = nil
	}
	c.mu.Unlock()
	if c.health != nil {
		c.health(true)
	}
}

// markDisconnected arms the unhealthy timer: a reconnect within the grace
// period keeps the market healthy downstream.
func (c *Client) markDisconnected() {
	if c.health == nil {
		return
	}
	if c.cfg.UnhealthyTimeout <= 0 {
		c.health(false)
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.unhealthyTimer != nil {
		c.unhealthyTimer.Stop()
	}
	c.unhealthyTimer = time.AfterFunc(c.cfg.UnhealthyTimeout, func() {
		c.health(false)
	})
}
