// Package coordinator aggregates confirmed signals from every detector into
// one outbound flow: deduplication, correlation, conflict resolution,
// priority queueing with adaptive batching and backpressure, circuit
// breaking around the emission path, and outcome statistics. It is the one
// component built for concurrent producers: multiple detector lanes may
// submit into a single coordinator.
package coordinator

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/quantlab/orderflow/internal/domain"
)

// Conflict resolution strategies.
const (
	// ConflictConfidenceWeighted penalizes the lower-confidence side of a
	// contradiction instead of discarding it.
	ConflictConfidenceWeighted = "confidence_weighted"
	// ConflictDropLower rejects the lower-confidence side outright.
	ConflictDropLower = "drop_lower"
)

// Emitter delivers one signal to the outside world (broadcast, persistence,
// notification). Failures are isolated per signal by the coordinator.
type Emitter interface {
	Emit(ctx context.Context, sig domain.Signal) error
}

// EmitterFunc adapts a function to the Emitter interface.
type EmitterFunc func(ctx context.Context, sig domain.Signal) error

// Emit calls f.
func (f EmitterFunc) Emit(ctx context.Context, sig domain.Signal) error { return f(ctx, sig) }

// Config tunes the coordinator.
type Config struct {
	QueueCapacity int `toml:"queue_capacity"`
	MinBatchSize  int `toml:"min_batch_size"`
	MaxBatchSize  int `toml:"max_batch_size"`
	// BackpressureThreshold is the queue fill fraction above which the
	// batch size collapses to the minimum and yields stretch out.
	BackpressureThreshold float64 `toml:"backpressure_threshold"`
	// MinConfidence is the floor for accepting a signal at all.
	MinConfidence float64 `toml:"min_confidence"`
	// BypassConfidence is the threshold above which a signal skips
	// batching and is emitted immediately.
	BypassConfidence float64 `toml:"bypass_confidence"`

	BreakerFailures int           `toml:"breaker_failures"`
	BreakerWindow   time.Duration `toml:"breaker_window"`
	BreakerCooldown time.Duration `toml:"breaker_cooldown"`

	CorrelationWindow     time.Duration `toml:"correlation_window"`
	CorrelationPriceTicks int64         `toml:"correlation_price_ticks"`
	ConflictStrategy      string        `toml:"conflict_strategy"`
	ConflictPenalty       float64       `toml:"conflict_penalty"`

	DedupTTL      time.Duration `toml:"dedup_ttl"`
	FlushInterval time.Duration `toml:"flush_interval"`
	// YieldPause is the short, bounded pause inserted between flushes
	// while under backpressure; it must stay small so the processing lane
	// is never starved.
	YieldPause time.Duration `toml:"yield_pause"`

	// BasePriority orders signal types before confidence breaks ties.
	BasePriority map[string]float64 `toml:"base_priority"`
}

// Validate rejects out-of-range settings before the coordinator starts.
func (c Config) Validate() error {
	if c.QueueCapacity <= 0 {
		return fmt.Errorf("coordinator: %w: queue_capacity must be positive", domain.ErrInvalidConfig)
	}
	if c.MinBatchSize <= 0 || c.MaxBatchSize < c.MinBatchSize {
		return fmt.Errorf("coordinator: %w: batch bounds must satisfy 0 < min <= max", domain.ErrInvalidConfig)
	}
	if c.BackpressureThreshold <= 0 || c.BackpressureThreshold > 1 {
		return fmt.Errorf("coordinator: %w: backpressure_threshold outside (0,1]", domain.ErrInvalidConfig)
	}
	if c.MinConfidence < 0 || c.MinConfidence > 1 {
		return fmt.Errorf("coordinator: %w: min_confidence outside [0,1]", domain.ErrInvalidConfig)
	}
	if c.BypassConfidence < 0 || c.BypassConfidence > 1 {
		return fmt.Errorf("coordinator: %w: bypass_confidence outside [0,1]", domain.ErrInvalidConfig)
	}
	if c.BreakerFailures <= 0 || c.BreakerWindow <= 0 || c.BreakerCooldown <= 0 {
		return fmt.Errorf("coordinator: %w: breaker settings must be positive", domain.ErrInvalidConfig)
	}
	if c.CorrelationWindow <= 0 || c.CorrelationPriceTicks <= 0 {
		return fmt.Errorf("coordinator: %w: correlation settings must be positive", domain.ErrInvalidConfig)
	}
	switch c.ConflictStrategy {
	case ConflictConfidenceWeighted, ConflictDropLower:
	default:
		return fmt.Errorf("coordinator: %w: unknown conflict strategy %q", domain.ErrInvalidConfig, c.ConflictStrategy)
	}
	if c.ConflictPenalty < 0 || c.ConflictPenalty > 1 {
		return fmt.Errorf("coordinator: %w: conflict_penalty outside [0,1]", domain.ErrInvalidConfig)
	}
	if c.DedupTTL <= 0 || c.FlushInterval <= 0 {
		return fmt.Errorf("coordinator: %w: dedup_ttl and flush_interval must be positive", domain.ErrInvalidConfig)
	}
	return nil
}

// Coordinator fans confirmed signals from all detectors into the sinks.
type Coordinator struct {
	cfg     Config
	symbol  string
	logger  *slog.Logger
	emitter Emitter

	mu    sync.Mutex // guards queue and correlator
	queue *priorityQueue
	corr  *correlator

	stats   *stats
	breaker *breaker
	dedup   *dedup
	healthy atomic.Bool
}

// New creates a coordinator that delivers through emitter.
func New(symbol string, cfg Config, emitter Emitter, logger *slog.Logger) (*Coordinator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	c := &Coordinator{
		cfg:     cfg,
		symbol:  symbol,
		logger:  logger.With(slog.String("component", "coordinator"), slog.String("symbol", symbol)),
		emitter: emitter,
		queue:   newPriorityQueue(cfg.QueueCapacity),
		corr:    newCorrelator(cfg.CorrelationWindow, cfg.CorrelationPriceTicks),
		stats:   newStats(),
		breaker: newBreaker(cfg.BreakerFailures, cfg.BreakerWindow, cfg.BreakerCooldown),
		dedup:   newDedup(cfg.DedupTTL),
	}
	c.healthy.Store(true)
	return c, nil
}

// SetMarketHealthy flips the market-health gate. While unhealthy, incoming
// signals are rejected and counted under their own reason.
func (c *Coordinator) SetMarketHealthy(ok bool) {
	c.healthy.Store(ok)
}

func (c *Coordinator) priority(sig domain.Signal) float64 {
	return c.cfg.BasePriority[string(sig.Type)] + sig.Confidence
}

// Submit routes one confirmed signal through dedup, the breaker, the health
// gate, correlation and conflict resolution, and finally the bypass or the
// priority queue. Every submitted signal reaches exactly one terminal
// outcome in the statistics. Safe for concurrent callers.
func (c *Coordinator) Submit(ctx context.Context, sig domain.Signal) error {
	ts := sig.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	if math.IsNaN(sig.Confidence) {
		sig.Confidence = 0
	}
	sig.Confidence = domain.ClampConfidence(sig.Confidence)

	c.stats.candidate(sig.Type)
	healthy := c.healthy.Load()

	if c.dedup.isDuplicate(sig.ID, ts) {
		c.stats.reject(sig.Type, domain.RejectDuplicate, healthy)
		return fmt.Errorf("coordinator: submit %s: %w", sig.ID, domain.ErrDuplicateSignal)
	}
	// The breaker runs on wall clock only; event timestamps gate dedup but
	// must not move the cooldown.
	if !c.breaker.allow(time.Now()) {
		c.stats.reject(sig.Type, domain.RejectBreakerOpen, healthy)
		return fmt.Errorf("coordinator: submit %s: %w", sig.ID, domain.ErrBreakerOpen)
	}
	if !healthy {
		c.stats.reject(sig.Type, domain.RejectUnhealthy, healthy)
		return nil
	}
	if sig.Confidence < c.cfg.MinConfidence {
		c.stats.reject(sig.Type, domain.RejectLowConfidence, healthy)
		return nil
	}

	c.mu.Lock()
	if prev, strength, ok := c.corr.correlate(sig); ok {
		sig.CorrelatedWith = prev.ID
		sig.CorrelationStrength = strength
	}
	if prev, ok := c.corr.contradicts(sig); ok {
		if !c.resolveConflict(&sig, prev) {
			c.mu.Unlock()
			c.stats.reject(sig.Type, domain.RejectConflictLoss, healthy)
			return nil
		}
	}

	if sig.Confidence >= c.cfg.BypassConfidence {
		// High-priority bypass: no batching, emit on the caller.
		c.corr.observe(sig)
		c.mu.Unlock()
		c.stats.confirm(sig.Type, sig.Confidence, healthy)
		c.deliver(ctx, sig)
		return nil
	}

	if c.queue.full() {
		pr := c.priority(sig)
		if pr <= c.queue.lowestPriority() {
			c.mu.Unlock()
			c.stats.reject(sig.Type, domain.RejectQueueFull, healthy)
			return fmt.Errorf("coordinator: submit %s: %w", sig.ID, domain.ErrQueueFull)
		}
		if dropped, ok := c.queue.dropLowest(); ok {
			c.stats.demote(dropped.Type, domain.RejectBackpressure)
			c.logger.Debug("backpressure dropped queued signal",
				slog.String("id", dropped.ID),
				slog.String("type", string(dropped.Type)),
			)
		}
	}
	c.queue.push(sig, c.priority(sig))
	c.corr.observe(sig)
	c.mu.Unlock()
	c.stats.confirm(sig.Type, sig.Confidence, healthy)
	return nil
}

// resolveConflict applies the configured strategy; it returns false when the
// incoming signal loses and must be rejected. Callers hold c.mu.
func (c *Coordinator) resolveConflict(sig *domain.Signal, prev domain.Signal) bool {
	wins := sig.Confidence >= prev.Confidence
	switch c.cfg.ConflictStrategy {
	case ConflictDropLower:
		return wins
	default: // confidence weighted
		if wins {
			// Demote the contradicted signal wherever it still queues.
			c.queue.penalize(func(q domain.Signal) bool { return q.ID == prev.ID }, c.cfg.ConflictPenalty, c.priority)
			return true
		}
		sig.Confidence = domain.ClampConfidence(sig.Confidence * (1 - c.cfg.ConflictPenalty))
		sig.ConflictPenalized = true
		return sig.Confidence >= c.cfg.MinConfidence
	}
}

// deliver emits one already-confirmed signal, demoting it on failure. A
// failing sink affects only this signal.
func (c *Coordinator) deliver(ctx context.Context, sig domain.Signal) {
	if err := c.emitter.Emit(ctx, sig); err != nil {
		c.breaker.failure(time.Now())
		c.stats.demote(sig.Type, domain.RejectEmitFailure)
		c.logger.Warn("signal emission failed",
			slog.String("id", sig.ID),
			slog.String("error", err.Error()),
		)
		return
	}
	c.breaker.success()
	c.stats.emit(sig.CorrelationStrength)
}

// batchSize adapts to queue pressure: a filling queue shrinks batches toward
// the minimum, trading throughput for stability.
func (c *Coordinator) batchSize(depth int) int {
	fill := float64(depth) / float64(c.cfg.QueueCapacity)
	if fill >= c.cfg.BackpressureThreshold {
		return c.cfg.MinBatchSize
	}
	span := float64(c.cfg.MaxBatchSize - c.cfg.MinBatchSize)
	size := c.cfg.MaxBatchSize - int(span*fill/c.cfg.BackpressureThreshold)
	if size < c.cfg.MinBatchSize {
		size = c.cfg.MinBatchSize
	}
	return size
}

// Flush drains up to one adaptive batch from the queue and emits it. It
// returns the number of signals processed.
func (c *Coordinator) Flush(ctx context.Context) int {
	c.mu.Lock()
	n := c.batchSize(c.queue.len())
	batch := make([]domain.Signal, 0, n)
	for len(batch) < n {
		sig, ok := c.queue.pop()
		if !ok {
			break
		}
		batch = append(batch, sig)
	}
	c.mu.Unlock()

	for _, sig := range batch {
		c.deliver(ctx, sig)
	}
	return len(batch)
}

// Run flushes on a timer until ctx is cancelled. Under backpressure it
// inserts a short, bounded yield rather than blocking indefinitely.
func (c *Coordinator) Run(ctx context.Context) error {
	ticker := time.NewTicker(c.cfg.FlushInterval)
	defer ticker.Stop()
	cleanup := time.NewTicker(c.cfg.DedupTTL)
	defer cleanup.Stop()

	c.logger.Info("coordinator started")
	defer c.logger.Info("coordinator stopped")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-cleanup.C:
			c.dedup.cleanup(now)
		case <-ticker.C:
			c.Flush(ctx)
			c.mu.Lock()
			pressured := float64(c.queue.len()) >= c.cfg.BackpressureThreshold*float64(c.cfg.QueueCapacity)
			c.mu.Unlock()
			if pressured && c.cfg.YieldPause > 0 {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(c.cfg.YieldPause):
				}
			}
		}
	}
}

// Stats returns the current statistics snapshot.
func (c *Coordinator) Stats() domain.StatsSnapshot {
	c.mu.Lock()
	depth := c.queue.len()
	c.mu.Unlock()
	return c.stats.snapshot(c.symbol, depth, c.batchSize(depth), c.breaker.current().String())
}
