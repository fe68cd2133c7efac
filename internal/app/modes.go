package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	s3blob "github.com/quantlab/orderflow/internal/blob/s3"
	"github.com/quantlab/orderflow/internal/book"
	"github.com/quantlab/orderflow/internal/confirm"
	"github.com/quantlab/orderflow/internal/coordinator"
	"github.com/quantlab/orderflow/internal/detector"
	"github.com/quantlab/orderflow/internal/domain"
	"github.com/quantlab/orderflow/internal/feed"
	"github.com/quantlab/orderflow/internal/pipeline"
	"github.com/quantlab/orderflow/internal/server"
	"github.com/quantlab/orderflow/internal/server/handler"
	"github.com/quantlab/orderflow/internal/server/ws"
	"github.com/quantlab/orderflow/internal/zone"
)

// statsPublishInterval is how often coordinator snapshots are pushed to the
// stats cache for dashboards.
const statsPublishInterval = 30 * time.Second

// DetectMode runs the full engine: websocket feed, per-symbol detection
// lanes, signal coordinators, archival, and the API server.
func (a *App) DetectMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting detect mode",
		slog.Any("symbols", a.cfg.Feed.Symbols),
	)

	g, ctx := errgroup.WithContext(ctx)

	emitter := a.buildEmitter(deps)

	var (
		lanes  []*pipeline.Lane
		coords []*coordinator.Coordinator
		sinks  = make(map[string]feed.Sink, len(a.cfg.Feed.Symbols))
	)
	for _, symbol := range a.cfg.Feed.Symbols {
		lane, coord, err := a.buildLane(symbol, emitter)
		if err != nil {
			return fmt.Errorf("detect mode: build lane %s: %w", symbol, err)
		}
		lanes = append(lanes, lane)
		coords = append(coords, coord)
		sinks[symbol] = lane
	}

	// A lost feed marks every market unhealthy until the stream recovers.
	health := func(healthy bool) {
		for _, c := range coords {
			c.SetMarketHealthy(healthy)
		}
		if !healthy {
			a.logger.Warn("feed unhealthy, gating signal acceptance")
		}
	}

	feedClient, err := feed.NewClient(a.feedConfig(), sinks, health, a.logger)
	if err != nil {
		return fmt.Errorf("detect mode: feed: %w", err)
	}

	orch := pipeline.NewOrchestrator(feedClient, lanes, coordinatorGroup{coords}, a.logger)
	g.Go(func() error {
		return orch.Run(ctx)
	})

	g.Go(func() error {
		return a.publishStats(ctx, deps, coords)
	})

	var triggerCh chan struct{}
	if deps.SignalArchiver != nil {
		triggerCh = make(chan struct{}, 1)
		g.Go(func() error {
			return a.runArchival(ctx, deps, coords, triggerCh)
		})
	}

	if a.cfg.Server.Enabled {
		a.startHTTPServer(ctx, g, deps, lanes, triggerCh)
	}

	return g.Wait()
}

// MonitorMode serves the API over previously stored signals and stats
// without running the detection pipeline. Useful for dashboards pointed at a
// separate detect-mode instance sharing the same Redis and Postgres.
func (a *App) MonitorMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting monitor mode")

	g, ctx := errgroup.WithContext(ctx)

	// The server is the whole point of monitor mode; start it regardless of
	// the server.enabled flag.
	a.startHTTPServer(ctx, g, deps, nil, nil)

	return g.Wait()
}

// buildEmitter composes the coordinator emission path: persist first, then
// broadcast, then best-effort notification. A failed insert or broadcast
// counts as an emission failure and feeds the coordinator's breaker.
func (a *App) buildEmitter(deps *Dependencies) coordinator.Emitter {
	return coordinator.EmitterFunc(func(ctx context.Context, sig domain.Signal) error {
		if err := deps.SignalStore.Insert(ctx, sig); err != nil {
			return fmt.Errorf("emit: store: %w", err)
		}
		if err := deps.SignalBus.PublishSignal(ctx, sig); err != nil {
			return fmt.Errorf("emit: bus: %w", err)
		}
		if deps.Notifier != nil {
			if err := deps.Notifier.NotifySignal(ctx, sig); err != nil {
				a.logger.WarnContext(ctx, "signal notification failed",
					slog.String("signal_id", sig.ID),
					slog.String("error", err.Error()),
				)
			}
		}
		return nil
	})
}

// buildLane constructs one symbol's full detection stack.
func (a *App) buildLane(symbol string, emitter coordinator.Emitter) (*pipeline.Lane, *coordinator.Coordinator, error) {
	bk := book.New(symbol)

	zones, err := zone.NewTracker(a.zoneConfig(), a.logger)
	if err != nil {
		return nil, nil, err
	}

	reg := detector.NewRegistry()
	if a.cfg.Absorption.Enabled {
		d, err := detector.NewAbsorption(a.absorptionConfig(), a.logger)
		if err != nil {
			return nil, nil, err
		}
		reg.Register(d.Name(), d)
	}
	if a.cfg.Exhaustion.Enabled {
		d, err := detector.NewExhaustion(a.exhaustionConfig(), zones, a.logger)
		if err != nil {
			return nil, nil, err
		}
		reg.Register(d.Name(), d)
	}
	if a.cfg.AccumDist.Enabled {
		d, err := detector.NewAccumDist(a.accumDistConfig(), a.logger)
		if err != nil {
			return nil, nil, err
		}
		reg.Register(d.Name(), d)
	}

	machine, err := confirm.NewMachine(a.confirmConfig(), a.logger)
	if err != nil {
		return nil, nil, err
	}

	coord, err := coordinator.New(symbol, a.coordinatorConfig(), emitter, a.logger)
	if err != nil {
		return nil, nil, err
	}

	lane, err := pipeline.NewLane(symbol, a.pipelineConfig(), bk, zones, reg.All(), machine, coord, a.logger)
	if err != nil {
		return nil, nil, err
	}
	return lane, coord, nil
}

// publishStats pushes each coordinator's snapshot to the stats cache on a
// fixed interval so dashboards and monitor-mode instances can read it.
func (a *App) publishStats(ctx context.Context, deps *Dependencies, coords []*coordinator.Coordinator) error {
	ticker := time.NewTicker(statsPublishInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			for _, c := range coords {
				snap := c.Stats()
				if err := deps.StatsCache.SetStats(ctx, snap); err != nil {
					a.logger.WarnContext(ctx, "stats publish failed",
						slog.String("symbol", snap.Symbol),
						slog.String("error", err.Error()),
					)
				}
			}
		}
	}
}

// runArchival periodically uploads stats snapshots and moves aged-out
// signals to object storage. The primary store is trimmed only after the
// archive object is confirmed to exist.
func (a *App) runArchival(ctx context.Context, deps *Dependencies, coords []*coordinator.Coordinator, triggerCh <-chan struct{}) error {
	ticker := time.NewTicker(a.cfg.S3.ArchiveInterval.Duration)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			a.archiveOnce(ctx, deps, coords)
		case <-triggerCh:
			a.archiveOnce(ctx, deps, coords)
		}
	}
}

func (a *App) archiveOnce(ctx context.Context, deps *Dependencies, coords []*coordinator.Coordinator) {
	for _, c := range coords {
		snap := c.Stats()
		if err := deps.StatsArchiver.Archive(ctx, snap); err != nil {
			a.logger.WarnContext(ctx, "stats archive failed",
				slog.String("symbol", snap.Symbol),
				slog.String("error", err.Error()),
			)
		}
	}

	cutoff := time.Now().UTC().Add(-a.cfg.S3.Retention.Duration)
	n, err := deps.SignalArchiver.ArchiveBefore(ctx, cutoff)
	if err != nil {
		a.logger.WarnContext(ctx, "signal archive failed", slog.String("error", err.Error()))
		return
	}
	if n == 0 {
		return
	}

	exists, err := deps.BlobReader.Exists(ctx, s3blob.SignalArchiveKey(cutoff))
	if err != nil || !exists {
		a.logger.WarnContext(ctx, "skipping store trim, archive not verified",
			slog.Int64("archived", n),
		)
		return
	}
	deleted, err := deps.SignalStore.DeleteBefore(ctx, cutoff)
	if err != nil {
		a.logger.WarnContext(ctx, "store trim failed", slog.String("error", err.Error()))
		return
	}
	a.logger.InfoContext(ctx, "signals archived to cold storage",
		slog.Int64("archived", n),
		slog.Int64("deleted", deleted),
	)
}

// startHTTPServer wires the handlers, websocket hub, and middleware and runs
// the API server under the group. lanes and triggerCh may be nil in monitor
// mode.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies, lanes []*pipeline.Lane, triggerCh chan struct{}) {
	hub := ws.NewHub(deps.SignalBus, ws.Config{
		Mode:      a.cfg.Mode,
		Symbols:   a.cfg.Feed.Symbols,
		StartedAt: time.Now().UTC(),
	}, a.logger)
	g.Go(func() error {
		if err := hub.Run(ctx); err != nil && ctx.Err() == nil {
			return fmt.Errorf("ws hub: %w", err)
		}
		return nil
	})

	var laneStats func() []pipeline.LaneStats
	if len(lanes) > 0 {
		laneStats = func() []pipeline.LaneStats {
			out := make([]pipeline.LaneStats, 0, len(lanes))
			for _, l := range lanes {
				out = append(out, l.Stats())
			}
			return out
		}
	}

	handlers := server.Handlers{
		Health: handler.NewHealthHandler(a.logger, map[string]handler.Pinger{
			"redis":    deps.RedisPing,
			"postgres": deps.PostgresPing,
		}),
		Status:  handler.NewStatusHandler(a.cfg.Mode, a.cfg.Feed.Symbols, time.Now().UTC(), laneStats),
		Signals: handler.NewSignalHandler(deps.SignalStore, deps.SignalBus, a.cfg.Redis.StreamKey, a.logger),
		Stats:   handler.NewStatsHandler(deps.StatsCache, a.cfg.Feed.Symbols, a.logger),
	}
	if triggerCh != nil {
		handlers.Archive = handler.NewArchiveHandler(a.logger).WithTriggerChannel(triggerCh)
	}

	var limiter domain.RateLimiter
	if a.cfg.Server.RateLimit > 0 {
		limiter = deps.RateLimiter
	}

	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKey:      a.cfg.Server.APIKey,
		RateLimit:   a.cfg.Server.RateLimit,
		RateWindow:  a.cfg.Server.RateWindow.Duration,
	}, handlers, hub, limiter, a.logger)

	g.Go(func() error {
		return srv.Start()
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
}

// coordinatorGroup runs every coordinator's flush loop as one drain unit
// under the orchestrator.
type coordinatorGroup struct {
	coords []*coordinator.Coordinator
}

func (cg coordinatorGroup) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, c := range cg.coords {
		c := c
		g.Go(func() error {
			return c.Run(ctx)
		})
	}
	return g.Wait()
}

// --- config conversions ---

func (a *App) feedConfig() feed.Config {
	return feed.Config{
		WsHost:           a.cfg.Feed.WsHost,
		Symbols:          a.cfg.Feed.Symbols,
		DepthSpeed:       a.cfg.Feed.DepthSpeed,
		ReconnectMin:     a.cfg.Feed.ReconnectMin.Duration,
		ReconnectMax:     a.cfg.Feed.ReconnectMax.Duration,
		ReadTimeout:      a.cfg.Feed.ReadTimeout.Duration,
		PingInterval:     a.cfg.Feed.PingInterval.Duration,
		UnhealthyTimeout: a.cfg.Feed.UnhealthyTimeout.Duration,
		PriceScale:       domain.Scale(a.cfg.Book.PriceScale),
		QuantityScale:    domain.Scale(a.cfg.Book.QuantityScale),
	}
}

func (a *App) zoneConfig() zone.Config {
	return zone.Config{
		BucketTicks:        a.cfg.Zone.BucketTicks,
		MaxTickDistance:    a.cfg.Zone.MaxTickDistance,
		HistoryLimit:       a.cfg.Zone.HistoryLimit,
		MaxHistoryAge:      a.cfg.Zone.MaxHistoryAge.Duration,
		VelocityWindow:     a.cfg.Zone.VelocityWindow.Duration,
		MinPeakVolume:      a.cfg.Zone.MinPeakVolume,
		DepletionThreshold: a.cfg.Zone.DepletionThreshold,
		GapDepletionRatio:  a.cfg.Zone.GapDepletionRatio,
		GapMinTicks:        a.cfg.Zone.GapMinTicks,
		MaxAffectedZones:   a.cfg.Zone.MaxAffectedZones,
		Weights: zone.ConfidenceWeights{
			DepletionRatio: a.cfg.Zone.Weights.DepletionRatio,
			AffectedZones:  a.cfg.Zone.Weights.AffectedZones,
			PeakDepletion:  a.cfg.Zone.Weights.PeakDepletion,
			GapBonus:       a.cfg.Zone.Weights.GapBonus,
		},
	}
}

func (a *App) absorptionConfig() detector.AbsorptionConfig {
	return detector.AbsorptionConfig{
		ZoneTicks:           a.cfg.Absorption.ZoneTicks,
		Window:              a.cfg.Absorption.Window.Duration,
		Cooldown:            a.cfg.Absorption.Cooldown.Duration,
		MinAggressiveVolume: a.cfg.Absorption.MinAggressiveVolume,
		EfficiencyThreshold: a.cfg.Absorption.EfficiencyThreshold,
		MinPassiveRatio:     a.cfg.Absorption.MinPassiveRatio,
		MinAbsorbedRatio:    a.cfg.Absorption.MinAbsorbedRatio,
		TickSize:            a.cfg.Absorption.TickSize,
		ScalingFactor:       a.cfg.Absorption.ScalingFactor,
	}
}

func (a *App) exhaustionConfig() detector.ExhaustionConfig {
	return detector.ExhaustionConfig{
		ZoneTicks:           a.cfg.Exhaustion.ZoneTicks,
		Window:              a.cfg.Exhaustion.Window.Duration,
		Cooldown:            a.cfg.Exhaustion.Cooldown.Duration,
		MinAggressiveVolume: a.cfg.Exhaustion.MinAggressiveVolume,
		MinConfidence:       a.cfg.Exhaustion.MinConfidence,
		MaxCancelRatio:      a.cfg.Exhaustion.MaxCancelRatio,
	}
}

func (a *App) accumDistConfig() detector.AccumDistConfig {
	return detector.AccumDistConfig{
		ZoneTicks:           a.cfg.AccumDist.ZoneTicks,
		Window:              a.cfg.AccumDist.Window.Duration,
		Cooldown:            a.cfg.AccumDist.Cooldown.Duration,
		MinAggressiveVolume: a.cfg.AccumDist.MinAggressiveVolume,
		RatioThreshold:      a.cfg.AccumDist.RatioThreshold,
		MinDuration:         a.cfg.AccumDist.MinDuration.Duration,
		MaxIdle:             a.cfg.AccumDist.MaxIdle.Duration,
		Features: detector.AccumDistFeatures{
			PerSideTracking:       a.cfg.AccumDist.PerSideTracking,
			RequireRecentActivity: a.cfg.AccumDist.RequireRecentActivity,
		},
	}
}

func (a *App) confirmConfig() confirm.Config {
	return confirm.Config{
		MinMoveTicks:    a.cfg.Confirm.MinMoveTicks,
		MaxRevisitTicks: a.cfg.Confirm.MaxRevisitTicks,
		Timeout:         a.cfg.Confirm.Timeout.Duration,
	}
}

func (a *App) coordinatorConfig() coordinator.Config {
	return coordinator.Config{
		QueueCapacity:         a.cfg.Coordinator.QueueCapacity,
		MinBatchSize:          a.cfg.Coordinator.MinBatchSize,
		MaxBatchSize:          a.cfg.Coordinator.MaxBatchSize,
		BackpressureThreshold: a.cfg.Coordinator.BackpressureThreshold,
		MinConfidence:         a.cfg.Coordinator.MinConfidence,
		BypassConfidence:      a.cfg.Coordinator.BypassConfidence,
		BreakerFailures:       a.cfg.Coordinator.BreakerFailures,
		BreakerWindow:         a.cfg.Coordinator.BreakerWindow.Duration,
		BreakerCooldown:       a.cfg.Coordinator.BreakerCooldown.Duration,
		CorrelationWindow:     a.cfg.Coordinator.CorrelationWindow.Duration,
		CorrelationPriceTicks: a.cfg.Coordinator.CorrelationPriceTicks,
		ConflictStrategy:      a.cfg.Coordinator.ConflictStrategy,
		ConflictPenalty:       a.cfg.Coordinator.ConflictPenalty,
		DedupTTL:              a.cfg.Coordinator.DedupTTL.Duration,
		FlushInterval:         a.cfg.Coordinator.FlushInterval.Duration,
		YieldPause:            a.cfg.Coordinator.YieldPause.Duration,
		BasePriority:          a.cfg.Coordinator.BasePriority,
	}
}

func (a *App) pipelineConfig() pipeline.Config {
	return pipeline.Config{
		TradeBuffer:     a.cfg.Pipeline.TradeBuffer,
		DepthBuffer:     a.cfg.Pipeline.DepthBuffer,
		ZoneRadiusTicks: a.cfg.Pipeline.ZoneRadiusTicks,
		PruneInterval:   a.cfg.Pipeline.PruneInterval.Duration,
	}
}
