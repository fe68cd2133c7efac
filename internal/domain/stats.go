package domain

import "time"

// Rejection reasons tracked by the coordinator statistics. Every rejected
// signal is counted under exactly one reason.
const (
	RejectLowConfidence = "low_confidence"
	RejectConflictLoss  = "conflict_loss"
	RejectQueueFull     = "queue_full"
	RejectBreakerOpen   = "breaker_open"
	RejectDuplicate     = "duplicate"
	RejectUnhealthy     = "market_unhealthy"
	RejectBackpressure  = "backpressure_drop"
	RejectEmitFailure   = "emit_failure"
)

// TypeStats counts terminal outcomes for one signal type. The invariant
// Candidates == Confirmed + Rejected holds after every processed batch.
type TypeStats struct {
	Candidates int64 `json:"candidates"`
	Confirmed  int64 `json:"confirmed"`
	Rejected   int64 `json:"rejected"`
}

// StatsSnapshot is the coordinator statistics view pulled by the status
// endpoint and periodically archived.
type StatsSnapshot struct {
	Symbol         string                   `json:"symbol"`
	TakenAt        time.Time                `json:"taken_at"`
	PerType        map[SignalType]TypeStats `json:"per_type"`
	RejectReasons  map[string]int64         `json:"reject_reasons"`
	ConfidenceP50  float64                  `json:"confidence_p50"`
	ConfidenceP90  float64                  `json:"confidence_p90"`
	CorrelationP50 float64                  `json:"correlation_p50"`
	CorrelationP90 float64                  `json:"correlation_p90"`
	HealthyAccepts int64                    `json:"healthy_accepts"`
	UnhealthyDrops int64                    `json:"unhealthy_drops"`
	Emitted        int64                    `json:"emitted"`
	QueueDepth     int                      `json:"queue_depth"`
	BreakerState   string                   `json:"breaker_state"`
	BatchSize      int                      `json:"batch_size"`
}
