package handler

import (
	"net/http"
	"time"

	"github.com/quantlab/orderflow/internal/pipeline"
)

// StatusHandler serves the engine status view for dashboards: run mode,
// tracked symbols, uptime, and per-lane throughput.
type StatusHandler struct {
	mode      string
	symbols   []string
	startedAt time.Time
	lanes     func() []pipeline.LaneStats
}

// NewStatusHandler creates a StatusHandler. lanes may be nil when the engine
// runs in monitor mode without an in-process pipeline.
func NewStatusHandler(mode string, symbols []string, startedAt time.Time, lanes func() []pipeline.LaneStats) *StatusHandler {
	return &StatusHandler{
		mode:      mode,
		symbols:   symbols,
		startedAt: startedAt,
		lanes:     lanes,
	}
}

// GetStatus responds with the current engine mode and lane throughput.
// GET /api/status
func (h *StatusHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	uptime := int64(time.Since(h.startedAt).Seconds())
	if uptime < 0 {
		uptime = 0
	}

	body := map[string]any{
		"mode":           h.mode,
		"symbols":        h.symbols,
		"uptime_seconds": uptime,
	}
	if h.lanes != nil {
		body["lanes"] = h.lanes()
	}
	writeJSON(w, http.StatusOK, body)
}
