// Package notify pushes human-facing alerts for high-confidence signals to
// one or more channels (Telegram, Discord). Alerting is best-effort: a failed
// push is logged and reported but never feeds back into detection.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/quantlab/orderflow/internal/domain"
)

// Sender is one delivery channel.
type Sender interface {
	// Send delivers a notification with the given title and message body.
	Send(ctx context.Context, title, message string) error
	// Name returns the channel identifier (e.g. "telegram").
	Name() string
}

// Config controls which signals are pushed and how prices are rendered.
type Config struct {
	// MinConfidence is the push threshold; signals below it are skipped.
	MinConfidence float64

	// PriceScale converts fixed-point signal prices back to display values.
	PriceScale domain.Scale
}

// SignalNotifier implements domain.SignalNotifier by formatting each signal
// and fanning it out to every configured sender.
type SignalNotifier struct {
	senders []Sender
	cfg     Config
	logger  *slog.Logger
}

// NewSignalNotifier creates a SignalNotifier delivering to the given senders.
func NewSignalNotifier(senders []Sender, cfg Config, logger *slog.Logger) *SignalNotifier {
	return &SignalNotifier{
		senders: senders,
		cfg:     cfg,
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// NotifySignal pushes one signal to all senders when it clears the confidence
// threshold. A failure on one sender does not block delivery to the rest; the
// failures are combined into the returned error.
func (n *SignalNotifier) NotifySignal(ctx context.Context, sig domain.Signal) error {
	if sig.Confidence < n.cfg.MinConfidence {
		n.logger.DebugContext(ctx, "signal below notify threshold",
			slog.String("signal_id", sig.ID),
			slog.Float64("confidence", sig.Confidence),
		)
		return nil
	}
	if len(n.senders) == 0 {
		return nil
	}

	title, message := n.format(sig)

	var errs []string
	for _, s := range n.senders {
		if err := s.Send(ctx, title, message); err != nil {
			n.logger.ErrorContext(ctx, "sender failed",
				slog.String("sender", s.Name()),
				slog.String("signal_id", sig.ID),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Sprintf("%s: %v", s.Name(), err))
			continue
		}
		n.logger.DebugContext(ctx, "notification sent",
			slog.String("sender", s.Name()),
			slog.String("signal_id", sig.ID),
		)
	}

	if len(errs) > 0 {
		return fmt.Errorf("notify: %d sender(s) failed: %s", len(errs), strings.Join(errs, "; "))
	}
	return nil
}

// format renders a signal as a short title and a multi-line body.
func (n *SignalNotifier) format(sig domain.Signal) (title, message string) {
	title = fmt.Sprintf("%s %s %s",
		strings.ToUpper(string(sig.Type)), sig.Symbol, sig.Side.String())

	price := strconv.FormatFloat(n.cfg.PriceScale.FromTicks(sig.Price), 'f', -1, 64)

	var b strings.Builder
	fmt.Fprintf(&b, "Price: %s\n", price)
	fmt.Fprintf(&b, "Confidence: %.0f%%\n", sig.Confidence*100)
	fmt.Fprintf(&b, "Detector: %s", sig.DetectorID)
	if sig.CorrelatedWith != "" {
		fmt.Fprintf(&b, "\nCorrelated with %s (%.2f)", sig.CorrelatedWith, sig.CorrelationStrength)
	}
	if sig.ConflictPenalized {
		b.WriteString("\nConfidence reduced by a conflicting opposite-side signal")
	}
	return title, b.String()
}

var _ domain.SignalNotifier = (*SignalNotifier)(nil)
