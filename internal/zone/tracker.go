// Package zone buckets trades and resting volume into price zones around the
// current spread and analyzes them for liquidity depletion: how much of a
// zone's historical peak volume has been consumed, how fast, and whether
// liquidity has retreated to wider price levels (a gap).
package zone

import (
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/quantlab/orderflow/internal/domain"
)

// ConfidenceWeights control how the depletion analysis blends its inputs
// into a single [0,1] confidence score.
type ConfidenceWeights struct {
	DepletionRatio float64 `toml:"depletion_ratio"`
	AffectedZones  float64 `toml:"affected_zones"`
	PeakDepletion  float64 `toml:"peak_depletion"`
	GapBonus       float64 `toml:"gap_bonus"`
}

// Config tunes the zone tracker.
type Config struct {
	// BucketTicks is the zone width: prices are normalized to
	// price/BucketTicks buckets.
	BucketTicks int64 `toml:"bucket_ticks"`
	// MaxTickDistance bounds tracking: zones further than this from the
	// relevant best price are evicted.
	MaxTickDistance int64 `toml:"max_tick_distance"`
	// HistoryLimit bounds the per-zone sample history.
	HistoryLimit int `toml:"history_limit"`
	// MaxHistoryAge evicts zones whose newest sample is older than this.
	MaxHistoryAge time.Duration `toml:"max_history_age"`
	// VelocityWindow bounds how far back depletion velocity looks.
	VelocityWindow time.Duration `toml:"velocity_window"`
	// MinPeakVolume excludes barely-populated zones from analysis,
	// guarding the depletion ratio against division by zero.
	MinPeakVolume int64 `toml:"min_peak_volume"`
	// DepletionThreshold marks a zone as affected once its depletion
	// ratio reaches it.
	DepletionThreshold float64 `toml:"depletion_threshold"`
	// GapDepletionRatio is the near-zone depletion required before a gap
	// can form.
	GapDepletionRatio float64 `toml:"gap_depletion_ratio"`
	// GapMinTicks is the distance at or beyond which a retaining zone
	// confirms the gap.
	GapMinTicks int64 `toml:"gap_min_ticks"`
	// MaxAffectedZones normalizes the affected-zone count in the
	// confidence score.
	MaxAffectedZones int `toml:"max_affected_zones"`

	Weights ConfidenceWeights `toml:"weights"`
}

// Validate rejects out-of-range settings before the tracker starts.
func (c Config) Validate() error {
	if c.BucketTicks <= 0 {
		return fmt.Errorf("zone: %w: bucket_ticks must be positive", domain.ErrInvalidConfig)
	}
	if c.MaxTickDistance <= 0 {
		return fmt.Errorf("zone: %w: max_tick_distance must be positive", domain.ErrInvalidConfig)
	}
	if c.HistoryLimit <= 0 {
		return fmt.Errorf("zone: %w: history_limit must be positive", domain.ErrInvalidConfig)
	}
	if c.VelocityWindow <= 0 {
		return fmt.Errorf("zone: %w: velocity_window must be positive", domain.ErrInvalidConfig)
	}
	if c.DepletionThreshold < 0 || c.DepletionThreshold > 1 {
		return fmt.Errorf("zone: %w: depletion_threshold outside [0,1]", domain.ErrInvalidConfig)
	}
	if c.GapDepletionRatio < 0 || c.GapDepletionRatio > 1 {
		return fmt.Errorf("zone: %w: gap_depletion_ratio outside [0,1]", domain.ErrInvalidConfig)
	}
	if c.MaxAffectedZones <= 0 {
		return fmt.Errorf("zone: %w: max_affected_zones must be positive", domain.ErrInvalidConfig)
	}
	return nil
}

type zoneKey struct {
	side   domain.Side
	bucket int64
}

type trackedZone struct {
	key     zoneKey
	history []int32 // arena indices, time-ordered
	peak    int64   // monotone except on explicit Clear
	events  int64   // depletion events observed
	crossed bool    // currently above the depletion threshold
}

// ZoneID renders a zone key as a stable identifier for candidates.
func ZoneID(side domain.Side, bucket int64) string {
	return fmt.Sprintf("%s:%d", side, bucket)
}

// Tracker maintains the zones near the spread for one symbol. It is owned by
// the symbol's processing lane and carries no locks.
type Tracker struct {
	cfg    Config
	logger *slog.Logger

	zones   map[zoneKey]*trackedZone
	arena   sampleArena
	bestBid int64
	bestAsk int64
	evicted int64
}

// NewTracker creates a tracker; the configuration must already be validated.
func NewTracker(cfg Config, logger *slog.Logger) (*Tracker, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Tracker{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "zone_tracker")),
		zones:  make(map[zoneKey]*trackedZone),
	}, nil
}

// Bucket normalizes a price to its zone bucket.
func (t *Tracker) Bucket(price int64) int64 {
	return price / t.cfg.BucketTicks
}

// UpdateSpread records the current best bid/ask and evicts zones that have
// drifted beyond the tracked tick distance. Eviction is idempotent: an
// evicted zone does not reappear without a fresh observation.
func (t *Tracker) UpdateSpread(bid, ask int64) {
	t.bestBid, t.bestAsk = bid, ask
	for key, z := range t.zones {
		if t.inRange(key) {
			continue
		}
		t.drop(key, z)
	}
}

func (t *Tracker) inRange(key zoneKey) bool {
	ref := t.bestBid
	if key.side == domain.SideSell {
		ref = t.bestAsk
	}
	if ref == 0 || ref == domain.NoAskSentinel {
		return true // no spread yet, keep everything
	}
	center := key.bucket*t.cfg.BucketTicks + t.cfg.BucketTicks/2
	d := center - ref
	if d < 0 {
		d = -d
	}
	return d <= t.cfg.MaxTickDistance
}

func (t *Tracker) drop(key zoneKey, z *trackedZone) {
	for _, idx := range z.history {
		t.arena.release(idx)
	}
	delete(t.zones, key)
	t.evicted++
}

// Observe records a zone snapshot at price. Zones are created lazily on the
// first observation near the spread; observations outside the tracked range
// are ignored.
func (t *Tracker) Observe(price int64, snap domain.ZoneSnapshot) {
	bucket := t.Bucket(price)
	for _, side := range []domain.Side{domain.SideBuy, domain.SideSell} {
		key := zoneKey{side: side, bucket: bucket}
		if !t.inRange(key) {
			continue
		}
		z := t.zones[key]
		if z == nil {
			z = &trackedZone{key: key}
			t.zones[key] = z
		}
		t.appendSample(z, snap)
	}
}

func (t *Tracker) appendSample(z *trackedZone, snap domain.ZoneSnapshot) {
	// Age out the oldest entry when the history is at capacity.
	if len(z.history) >= t.cfg.HistoryLimit {
		t.arena.release(z.history[0])
		z.history = z.history[1:]
	}
	idx := t.arena.alloc()
	*t.arena.at(idx) = sample{
		ts:         snap.Timestamp,
		passiveBid: snap.PassiveBidVolume,
		passiveAsk: snap.PassiveAskVolume,
		aggressive: snap.AggressiveVolume,
		spread:     snap.Spread,
	}
	z.history = append(z.history, idx)

	if vol := snap.PassiveVolume(z.key.side); vol > z.peak {
		z.peak = vol
	}

	// Count threshold crossings as discrete depletion events.
	ratio := t.depletionRatio(z)
	if ratio >= t.cfg.DepletionThreshold && z.peak >= t.cfg.MinPeakVolume {
		if !z.crossed {
			z.crossed = true
			z.events++
		}
	} else {
		z.crossed = false
	}
}

// depletionRatio returns (peak-current)/peak for the zone's own side, or 0
// when the peak is below the minimum threshold.
func (t *Tracker) depletionRatio(z *trackedZone) float64 {
	if z.peak < t.cfg.MinPeakVolume || z.peak == 0 || len(z.history) == 0 {
		return 0
	}
	cur := t.current(z)
	r := float64(z.peak-cur) / float64(z.peak)
	if r < 0 {
		return 0
	}
	return r
}

func (t *Tracker) current(z *trackedZone) int64 {
	s := t.arena.at(z.history[len(z.history)-1])
	return passiveOf(s, z.key.side)
}

func passiveOf(s *sample, side domain.Side) int64 {
	if side == domain.SideBuy {
		return s.passiveBid
	}
	return s.passiveAsk
}

// depletionVelocity returns volume lost per second over the recent-history
// window. A bounded window keeps the velocity responsive to regime changes
// rather than averaging over the whole history.
func (t *Tracker) depletionVelocity(z *trackedZone) float64 {
	if len(z.history) < 2 {
		return 0
	}
	newest := t.arena.at(z.history[len(z.history)-1])
	cutoff := newest.ts.Add(-t.cfg.VelocityWindow)

	// Find the oldest sample still inside the window.
	start := len(z.history) - 1
	for i := len(z.history) - 2; i >= 0; i-- {
		if t.arena.at(z.history[i]).ts.Before(cutoff) {
			break
		}
		start = i
	}
	if start == len(z.history)-1 {
		return 0
	}
	oldest := t.arena.at(z.history[start])
	dt := newest.ts.Sub(oldest.ts).Seconds()
	if dt <= 0 {
		return 0
	}
	lost := passiveOf(oldest, z.key.side) - passiveOf(newest, z.key.side)
	if lost < 0 {
		return 0
	}
	return float64(lost) / dt
}

// Analyze evaluates depletion on the side an aggressor of the given direction
// consumes: buy flow eats ask liquidity, sell flow eats bid liquidity.
func (t *Tracker) Analyze(isBuyTrade bool) domain.ExhaustionPattern {
	side := domain.SideBuy
	ref := t.bestBid
	if isBuyTrade {
		side = domain.SideSell
		ref = t.bestAsk
	}
	out := domain.ExhaustionPattern{Side: side}
	if ref == 0 || ref == domain.NoAskSentinel {
		return out
	}

	type zoneReading struct {
		z        *trackedZone
		ratio    float64
		velocity float64
		dist     int64
	}
	var readings []zoneReading
	for key, z := range t.zones {
		if key.side != side || z.peak < t.cfg.MinPeakVolume {
			continue
		}
		center := key.bucket*t.cfg.BucketTicks + t.cfg.BucketTicks/2
		d := center - ref
		if d < 0 {
			d = -d
		}
		readings = append(readings, zoneReading{
			z:        z,
			ratio:    t.depletionRatio(z),
			velocity: t.depletionVelocity(z),
			dist:     d,
		})
	}
	if len(readings) == 0 {
		return out
	}
	sort.Slice(readings, func(i, j int) bool { return readings[i].dist < readings[j].dist })

	var (
		maxRatio    float64
		sumVelocity float64
		affected    int
		peakZone    = readings[0]
	)
	for _, r := range readings {
		if r.ratio > maxRatio {
			maxRatio = r.ratio
		}
		sumVelocity += r.velocity
		if r.ratio >= t.cfg.DepletionThreshold {
			affected++
		}
		if r.z.peak > peakZone.z.peak {
			peakZone = r
		}
	}

	// Gap: the nearest zone is heavily depleted while a wider zone still
	// retains volume, i.e. liquidity retreated instead of replenishing.
	gap := false
	if readings[0].ratio > t.cfg.GapDepletionRatio {
		for _, r := range readings[1:] {
			if r.dist >= t.cfg.GapMinTicks && t.current(r.z) >= t.cfg.MinPeakVolume {
				gap = true
				break
			}
		}
	}

	out.DepletionRatio = maxRatio
	out.DepletionVelocity = sumVelocity / float64(len(readings))
	out.AffectedZones = affected
	out.GapCreated = gap
	out.HasExhaustion = affected > 0 && maxRatio >= t.cfg.DepletionThreshold

	w := t.cfg.Weights
	conf := w.DepletionRatio*maxRatio +
		w.AffectedZones*min(float64(affected)/float64(t.cfg.MaxAffectedZones), 1) +
		w.PeakDepletion*peakZone.ratio
	if gap {
		conf += w.GapBonus
	}
	out.Confidence = domain.ClampConfidence(conf)
	return out
}

func min(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

// Prune evicts zones whose history has aged out entirely.
func (t *Tracker) Prune(now time.Time) {
	if t.cfg.MaxHistoryAge <= 0 {
		return
	}
	for key, z := range t.zones {
		if len(z.history) == 0 {
			t.drop(key, z)
			continue
		}
		newest := t.arena.at(z.history[len(z.history)-1])
		if now.Sub(newest.ts) > t.cfg.MaxHistoryAge {
			t.drop(key, z)
		}
	}
}

// Stats reports tracker occupancy for the status endpoint.
func (t *Tracker) Stats() domain.ZoneStats {
	var events int64
	for _, z := range t.zones {
		events += z.events
	}
	return domain.ZoneStats{
		TrackedZones:    len(t.zones),
		EvictedZones:    t.evicted,
		DepletionEvents: events,
		PooledSamples:   t.arena.live(),
	}
}

// Clear drops all zones and their history, resetting peaks.
func (t *Tracker) Clear() {
	for key, z := range t.zones {
		t.drop(key, z)
	}
	t.evicted = 0
}
