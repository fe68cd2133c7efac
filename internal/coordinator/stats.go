package coordinator

import (
	"sort"
	"sync"
	"time"

	"github.com/quantlab/orderflow/internal/domain"
)

// sampleLimit bounds the percentile reservoirs.
const sampleLimit = 512

// stats tracks coordinator outcomes. Every candidate lands in exactly one
// terminal bucket per type, keeping candidates == confirmed + rejected after
// any processed batch; a later demotion moves a count between buckets rather
// than double-counting.
type stats struct {
	mu            sync.Mutex
	perType       map[domain.SignalType]*domain.TypeStats
	rejectReasons map[string]int64
	confidences   []float64
	correlations  []float64
	healthyOK     int64
	unhealthyNo   int64
	emitted       int64
}

func newStats() *stats {
	return &stats{
		perType:       make(map[domain.SignalType]*domain.TypeStats),
		rejectReasons: make(map[string]int64),
	}
}

func (s *stats) bucket(t domain.SignalType) *domain.TypeStats {
	b := s.perType[t]
	if b == nil {
		b = &domain.TypeStats{}
		s.perType[t] = b
	}
	return b
}

// candidate registers an incoming signal before any terminal outcome.
func (s *stats) candidate(t domain.SignalType) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bucket(t).Candidates++
}

// confirm counts an accepted signal and samples its confidence.
func (s *stats) confirm(t domain.SignalType, confidence float64, healthy bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bucket(t).Confirmed++
	s.confidences = appendSample(s.confidences, confidence)
	if healthy {
		s.healthyOK++
	}
}

// reject counts a terminal rejection under exactly one reason.
func (s *stats) reject(t domain.SignalType, reason string, healthy bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bucket(t).Rejected++
	s.rejectReasons[reason]++
	if !healthy && reason == domain.RejectUnhealthy {
		s.unhealthyNo++
	}
}

// demote moves a previously confirmed signal into the rejected bucket; used
// when a queued signal is later dropped by backpressure or a failed emit.
func (s *stats) demote(t domain.SignalType, reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b := s.bucket(t)
	b.Confirmed--
	b.Rejected++
	s.rejectReasons[reason]++
}

// emit counts a successful delivery and samples correlation strength.
func (s *stats) emit(correlation float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.emitted++
	if correlation > 0 {
		s.correlations = appendSample(s.correlations, correlation)
	}
}

// snapshot renders the current counters.
func (s *stats) snapshot(symbol string, queueDepth, batchSize int, breaker string) domain.StatsSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	perType := make(map[domain.SignalType]domain.TypeStats, len(s.perType))
	for t, b := range s.perType {
		perType[t] = *b
	}
	reasons := make(map[string]int64, len(s.rejectReasons))
	for r, n := range s.rejectReasons {
		reasons[r] = n
	}
	return domain.StatsSnapshot{
		Symbol:         symbol,
		TakenAt:        time.Now(),
		PerType:        perType,
		RejectReasons:  reasons,
		ConfidenceP50:  percentile(s.confidences, 0.50),
		ConfidenceP90:  percentile(s.confidences, 0.90),
		CorrelationP50: percentile(s.correlations, 0.50),
		CorrelationP90: percentile(s.correlations, 0.90),
		HealthyAccepts: s.healthyOK,
		UnhealthyDrops: s.unhealthyNo,
		Emitted:        s.emitted,
		QueueDepth:     queueDepth,
		BreakerState:   breaker,
		BatchSize:      batchSize,
	}
}

func appendSample(samples []float64, v float64) []float64 {
	if len(samples) >= sampleLimit {
		copy(samples, samples[1:])
		samples = samples[:sampleLimit-1]
	}
	return append(samples, v)
}

func percentile(samples []float64, p float64) float64 {
	if len(samples) == 0 {
		return 0
	}
	sorted := make([]float64, len(samples))
	copy(sorted, samples)
	sort.Float64s(sorted)
	idx := int(p * float64(len(sorted)-1))
	return sorted[idx]
}
