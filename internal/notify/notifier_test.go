package notify

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/quantlab/orderflow/internal/domain"
)

type fakeSender struct {
	name     string
	fail     bool
	titles   []string
	messages []string
}

func (f *fakeSender) Send(_ context.Context, title, message string) error {
	if f.fail {
		return errors.New("delivery failed")
	}
	f.titles = append(f.titles, title)
	f.messages = append(f.messages, message)
	return nil
}

func (f *fakeSender) Name() string { return f.name }

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testSignal(confidence float64) domain.Signal {
	return domain.Signal{
		ID:         "sig-1",
		Symbol:     "BTCUSDT",
		Type:       domain.SignalAbsorption,
		DetectorID: "absorption",
		Price:      4200050,
		Side:       domain.SideBuy,
		Confidence: confidence,
	}
}

func TestNotifySignalBelowThresholdSkipped(t *testing.T) {
	s := &fakeSender{name: "telegram"}
	n := NewSignalNotifier([]Sender{s},
		Config{MinConfidence: 0.85, PriceScale: domain.Scale(2)}, discard())

	if err := n.NotifySignal(context.Background(), testSignal(0.5)); err != nil {
		t.Fatalf("NotifySignal: %v", err)
	}
	if len(s.titles) != 0 {
		t.Fatalf("expected no deliveries, got %d", len(s.titles))
	}
}

func TestNotifySignalFansOutToAllSenders(t *testing.T) {
	a := &fakeSender{name: "telegram"}
	b := &fakeSender{name: "discord"}
	n := NewSignalNotifier([]Sender{a, b},
		Config{MinConfidence: 0.85, PriceScale: domain.Scale(2)}, discard())

	if err := n.NotifySignal(context.Background(), testSignal(0.9)); err != nil {
		t.Fatalf("NotifySignal: %v", err)
	}
	if len(a.titles) != 1 || len(b.titles) != 1 {
		t.Fatalf("deliveries = %d/%d, want 1/1", len(a.titles), len(b.titles))
	}

	title := a.titles[0]
	if !strings.Contains(title, "ABSORPTION") || !strings.Contains(title, "BTCUSDT") {
		t.Fatalf("title = %q", title)
	}
	msg := a.messages[0]
	if !strings.Contains(msg, "Price: 42000.5") {
		t.Fatalf("message missing rendered price: %q", msg)
	}
	if !strings.Contains(msg, "Confidence: 90%") {
		t.Fatalf("message missing confidence: %q", msg)
	}
}

func TestNotifySignalPartialFailureStillDelivers(t *testing.T) {
	bad := &fakeSender{name: "telegram", fail: true}
	good := &fakeSender{name: "discord"}
	n := NewSignalNotifier([]Sender{bad, good},
		Config{MinConfidence: 0, PriceScale: domain.Scale(2)}, discard())

	err := n.NotifySignal(context.Background(), testSignal(0.9))
	if err == nil {
		t.Fatal("expected combined error from failed sender")
	}
	if !strings.Contains(err.Error(), "telegram") {
		t.Fatalf("error = %v, want telegram named", err)
	}
	if len(good.titles) != 1 {
		t.Fatalf("healthy sender deliveries = %d, want 1", len(good.titles))
	}
}

func TestNotifySignalIncludesCorrelation(t *testing.T) {
	s := &fakeSender{name: "discord"}
	n := NewSignalNotifier([]Sender{s},
		Config{MinConfidence: 0, PriceScale: domain.Scale(2)}, discard())

	sig := testSignal(0.9)
	sig.CorrelatedWith = "sig-0"
	sig.CorrelationStrength = 0.72
	sig.ConflictPenalized = true

	if err := n.NotifySignal(context.Background(), sig); err != nil {
		t.Fatalf("NotifySignal: %v", err)
	}
	msg := s.messages[0]
	if !strings.Contains(msg, "Correlated with sig-0 (0.72)") {
		t.Fatalf("message missing correlation: %q", msg)
	}
	if !strings.Contains(msg, "reduced by a conflicting") {
		t.Fatalf("message missing conflict note: %q", msg)
	}
}
