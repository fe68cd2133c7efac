package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"
)

// EventSource is the market-data feed driving the lanes. Run blocks until
// ctx is cancelled or the source fails terminally.
type EventSource interface {
	Run(ctx context.Context) error
}

// SignalDrain flushes the coordinator on its own schedule.
type SignalDrain interface {
	Run(ctx context.Context) error
}

// Orchestrator runs the feed, every symbol lane, and the coordinator drain as
// one errgroup. Any terminal failure cancels the shared context and stops the
// whole pipeline.
type Orchestrator struct {
	feed   EventSource
	lanes  []*Lane
	drain  SignalDrain
	logger *slog.Logger
}

// NewOrchestrator wires the pipeline goroutines together.
func NewOrchestrator(feed EventSource, lanes []*Lane, drain SignalDrain, logger *slog.Logger) *Orchestrator {
	return &Orchestrator{
		feed:   feed,
		lanes:  lanes,
		drain:  drain,
		logger: logger.With(slog.String("component", "orchestrator")),
	}
}

// Lanes returns the managed lanes for status reporting.
func (o *Orchestrator) Lanes() []*Lane { return o.lanes }

// Run starts every sub-system and blocks until the first terminal error or
// a clean cancellation.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.logger.Info("pipeline starting", slog.Int("lanes", len(o.lanes)))

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		err := o.feed.Run(ctx)
		if ctx.Err() != nil {
			return nil // clean shutdown
		}
		return fmt.Errorf("feed: %w", err)
	})

	for _, lane := range o.lanes {
		g.Go(func() error {
			err := lane.Run(ctx)
			if ctx.Err() != nil {
				return nil // clean shutdown
			}
			return fmt.Errorf("lane %s: %w", lane.Symbol(), err)
		})
	}

	g.Go(func() error {
		err := o.drain.Run(ctx)
		if ctx.Err() != nil {
			return nil // clean shutdown
		}
		return fmt.Errorf("coordinator: %w", err)
	})

	if err := g.Wait(); err != nil {
		o.logger.Error("pipeline stopped with error", slog.String("error", err.Error()))
		return err
	}
	o.logger.Info("pipeline stopped cleanly")
	return nil
}
