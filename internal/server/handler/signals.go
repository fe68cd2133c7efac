package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/quantlab/orderflow/internal/domain"
)

// SignalReader is the store surface the signal endpoints read from. The
// Postgres SignalStore satisfies it.
type SignalReader interface {
	Recent(ctx context.Context, limit int) ([]domain.Signal, error)
	RecentBySymbol(ctx context.Context, symbol string, limit int) ([]domain.Signal, error)
	CountByType(ctx context.Context) (map[domain.SignalType]int64, error)
}

// StreamReader replays the durable signal stream. The Redis SignalBus
// satisfies it.
type StreamReader interface {
	StreamRead(ctx context.Context, stream, lastID string, count int) ([]domain.StreamMessage, error)
}

// SignalHandler serves confirmed-signal history and stream replay.
type SignalHandler struct {
	store     SignalReader
	stream    StreamReader
	streamKey string
	logger    *slog.Logger
}

// NewSignalHandler creates a SignalHandler. stream may be nil, in which case
// the replay endpoint responds 404.
func NewSignalHandler(store SignalReader, stream StreamReader, streamKey string, logger *slog.Logger) *SignalHandler {
	return &SignalHandler{
		store:     store,
		stream:    stream,
		streamKey: streamKey,
		logger:    logger.With(slog.String("handler", "signals")),
	}
}

// ListSignals returns recent confirmed signals, newest first, optionally
// filtered by symbol.
// GET /api/signals?symbol=BTCUSDT&limit=50
func (h *SignalHandler) ListSignals(w http.ResponseWriter, r *http.Request) {
	limit := parseLimit(r)
	symbol := r.URL.Query().Get("symbol")

	var (
		signals []domain.Signal
		err     error
	)
	if symbol != "" {
		signals, err = h.store.RecentBySymbol(r.Context(), symbol, limit)
	} else {
		signals, err = h.store.Recent(r.Context(), limit)
	}
	if err != nil {
		h.logger.ErrorContext(r.Context(), "list signals failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to list signals")
		return
	}
	if signals == nil {
		signals = []domain.Signal{}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"signals": signals,
		"count":   len(signals),
	})
}

// CountSignals returns the stored signal count per type.
// GET /api/signals/counts
func (h *SignalHandler) CountSignals(w http.ResponseWriter, r *http.Request) {
	counts, err := h.store.CountByType(r.Context())
	if err != nil {
		h.logger.ErrorContext(r.Context(), "count signals failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to count signals")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"counts": counts})
}

// ReplaySignals reads the durable signal stream starting after last_id,
// returning each entry's stream ID alongside the decoded signal. Consumers
// resume by passing the last seen ID back.
// GET /api/signals/replay?last_id=0&limit=50
func (h *SignalHandler) ReplaySignals(w http.ResponseWriter, r *http.Request) {
	if h.stream == nil {
		writeError(w, http.StatusNotFound, "signal stream not configured")
		return
	}

	lastID := r.URL.Query().Get("last_id")
	if lastID == "" {
		lastID = "0"
	}

	messages, err := h.stream.StreamRead(r.Context(), h.streamKey, lastID, parseLimit(r))
	if err != nil {
		h.logger.ErrorContext(r.Context(), "stream replay failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to read signal stream")
		return
	}

	type entry struct {
		StreamID string        `json:"stream_id"`
		Signal   domain.Signal `json:"signal"`
	}
	entries := make([]entry, 0, len(messages))
	for _, msg := range messages {
		var sig domain.Signal
		if err := json.Unmarshal(msg.Payload, &sig); err != nil {
			continue
		}
		entries = append(entries, entry{StreamID: msg.ID, Signal: sig})
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"entries": entries,
		"count":   len(entries),
	})
}
