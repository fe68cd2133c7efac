package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/quantlab/orderflow/internal/domain"
)

// StatsProvider reads coordinator statistics snapshots. The Redis StatsCache
// satisfies it.
type StatsProvider interface {
	GetStats(ctx context.Context, symbol string) (domain.StatsSnapshot, error)
	GetAllStats(ctx context.Context, symbols []string) (map[string]domain.StatsSnapshot, error)
}

// StatsHandler serves per-symbol coordinator statistics.
type StatsHandler struct {
	provider StatsProvider
	symbols  []string
	logger   *slog.Logger
}

// NewStatsHandler creates a StatsHandler over the configured symbols.
func NewStatsHandler(provider StatsProvider, symbols []string, logger *slog.Logger) *StatsHandler {
	return &StatsHandler{
		provider: provider,
		symbols:  symbols,
		logger:   logger.With(slog.String("handler", "stats")),
	}
}

// GetAllStats returns the latest snapshot for every tracked symbol. Symbols
// without a fresh snapshot are omitted.
// GET /api/stats
func (h *StatsHandler) GetAllStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.provider.GetAllStats(r.Context(), h.symbols)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "get all stats failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to read stats")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"stats": stats})
}

// GetStats returns the latest snapshot for one symbol.
// GET /api/stats/{symbol}
func (h *StatsHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	symbol := r.PathValue("symbol")
	snap, err := h.provider.GetStats(r.Context(), symbol)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "no stats for symbol "+symbol)
			return
		}
		h.logger.ErrorContext(r.Context(), "get stats failed",
			slog.String("symbol", symbol),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to read stats")
		return
	}
	writeJSON(w, http.StatusOK, snap)
}
