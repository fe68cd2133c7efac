package confirm

import (
	"log/slog"
	"testing"
	"time"

	"github.com/quantlab/orderflow/internal/domain"
)

func testMachine(t *testing.T) *Machine {
	t.Helper()
	m, err := NewMachine(Config{
		MinMoveTicks:    10,
		MaxRevisitTicks: 20,
		Timeout:         30 * time.Second,
	}, slog.Default())
	if err != nil {
		t.Fatalf("new machine: %v", err)
	}
	return m
}

func candidate(id string, side domain.Side, price int64, created time.Time) domain.Candidate {
	return domain.Candidate{
		ID:        id,
		Type:      domain.SignalAbsorption,
		Side:      side,
		Price:     price,
		CreatedAt: created,
	}
}

func TestConfirmOnFavorableMove(t *testing.T) {
	m := testMachine(t)
	now := time.Now()
	m.Add(candidate("a", domain.SideBuy, 1000, now))

	if res := m.OnPrice(1005, now.Add(time.Second)); len(res) != 0 {
		t.Fatalf("resolved before minimum move: %+v", res)
	}
	res := m.OnPrice(1010, now.Add(2*time.Second))
	if len(res) != 1 || res[0].Outcome != OutcomeConfirmed {
		t.Fatalf("expected confirmation, got %+v", res)
	}
	if !res[0].Candidate.Confirmed {
		t.Fatalf("confirmed flag not set")
	}
	if m.Pending() != 0 {
		t.Fatalf("resolved candidate still pending")
	}
}

func TestInvalidateOnRevisit(t *testing.T) {
	m := testMachine(t)
	now := time.Now()
	m.Add(candidate("a", domain.SideSell, 1000, now))

	// Sell candidate confirms downward; price rallying past the revisit
	// tolerance invalidates it.
	res := m.OnPrice(1021, now.Add(time.Second))
	if len(res) != 1 || res[0].Outcome != OutcomeInvalidated {
		t.Fatalf("expected invalidation, got %+v", res)
	}
}

func TestTimeoutAfterBound(t *testing.T) {
	m := testMachine(t)
	now := time.Now()
	m.Add(candidate("a", domain.SideBuy, 1000, now))

	if res := m.OnPrice(1001, now.Add(29*time.Second)); len(res) != 0 {
		t.Fatalf("timed out early: %+v", res)
	}
	res := m.OnPrice(1001, now.Add(31*time.Second))
	if len(res) != 1 || res[0].Outcome != OutcomeTimedOut {
		t.Fatalf("expected timeout, got %+v", res)
	}
}

func TestConfirmationTakesPrecedence(t *testing.T) {
	m := testMachine(t)
	now := time.Now()
	m.Add(candidate("a", domain.SideBuy, 1000, now))

	// Both the favorable-move and timeout conditions hold on the same
	// observation; confirmation must win.
	res := m.OnPrice(1015, now.Add(time.Minute))
	if len(res) != 1 || res[0].Outcome != OutcomeConfirmed {
		t.Fatalf("confirmation did not take precedence: %+v", res)
	}
}

func TestExactlyOneTerminalState(t *testing.T) {
	m := testMachine(t)
	now := time.Now()
	m.Add(candidate("a", domain.SideBuy, 1000, now))
	m.Add(candidate("b", domain.SideSell, 1000, now))

	seen := map[string]int{}
	for i := 1; i <= 10; i++ {
		for _, r := range m.OnPrice(1000+int64(i)*5, now.Add(time.Duration(i)*time.Second)) {
			seen[r.Candidate.ID]++
		}
	}
	for id, n := range seen {
		if n != 1 {
			t.Fatalf("candidate %s resolved %d times", id, n)
		}
	}
	if len(seen) != 2 {
		t.Fatalf("expected both candidates resolved, got %v", seen)
	}
}

func TestConfigValidation(t *testing.T) {
	if _, err := NewMachine(Config{MinMoveTicks: 0, MaxRevisitTicks: 10, Timeout: time.Second}, slog.Default()); err == nil {
		t.Fatalf("expected error for zero min move")
	}
	if _, err := NewMachine(Config{MinMoveTicks: 5, MaxRevisitTicks: 10, Timeout: -time.Second}, slog.Default()); err == nil {
		t.Fatalf("expected error for negative timeout")
	}
}
