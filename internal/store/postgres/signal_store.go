package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/quantlab/orderflow/internal/domain"
)

// SignalStore implements domain.SignalStore using PostgreSQL.
type SignalStore struct {
	pool *pgxpool.Pool
}

// NewSignalStore creates a SignalStore backed by the given connection pool.
func NewSignalStore(pool *pgxpool.Pool) *SignalStore {
	return &SignalStore{pool: pool}
}

const signalSelectCols = `id, symbol, type, detector_id, price, side, confidence,
	timestamp, metrics, correlated_with, correlation_strength, conflict_penalized`

func scanSignalRows(rows pgx.Rows) ([]domain.Signal, error) {
	var signals []domain.Signal
	for rows.Next() {
		var (
			sig      domain.Signal
			typ      string
			side     string
			metrics  []byte
			corrWith *string
		)
		if err := rows.Scan(
			&sig.ID, &sig.Symbol, &typ, &sig.DetectorID, &sig.Price, &side,
			&sig.Confidence, &sig.Timestamp, &metrics, &corrWith,
			&sig.CorrelationStrength, &sig.ConflictPenalized,
		); err != nil {
			return nil, err
		}
		sig.Type = domain.SignalType(typ)
		if side == domain.SideSell.String() {
			sig.Side = domain.SideSell
		}
		if corrWith != nil {
			sig.CorrelatedWith = *corrWith
		}
		if len(metrics) > 0 {
			if err := json.Unmarshal(metrics, &sig.Metrics); err != nil {
				return nil, err
			}
		}
		signals = append(signals, sig)
	}
	return signals, rows.Err()
}

// Insert persists one confirmed signal. Re-inserting an already stored ID is
// a no-op so a retried emission never duplicates rows.
func (s *SignalStore) Insert(ctx context.Context, sig domain.Signal) error {
	var metrics []byte
	if sig.Metrics != nil {
		var err error
		metrics, err = json.Marshal(sig.Metrics)
		if err != nil {
			return fmt.Errorf("postgres: marshal signal metrics %s: %w", sig.ID, err)
		}
	}
	var corrWith *string
	if sig.CorrelatedWith != "" {
		corrWith = &sig.CorrelatedWith
	}

	const query = `
		INSERT INTO signals (
			id, symbol, type, detector_id, price, side, confidence,
			timestamp, metrics, correlated_with, correlation_strength,
			conflict_penalized
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7,
			$8, $9, $10, $11,
			$12
		) ON CONFLICT (id) DO NOTHING`

	_, err := s.pool.Exec(ctx, query,
		sig.ID, sig.Symbol, string(sig.Type), sig.DetectorID, sig.Price,
		sig.Side.String(), sig.Confidence, sig.Timestamp, metrics, corrWith,
		sig.CorrelationStrength, sig.ConflictPenalized,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert signal %s: %w", sig.ID, err)
	}
	return nil
}

// Recent returns the newest signals across all symbols, newest first.
func (s *SignalStore) Recent(ctx context.Context, limit int) ([]domain.Signal, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT ` + signalSelectCols + ` FROM signals ORDER BY timestamp DESC LIMIT $1`
	rows, err := s.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: recent signals: %w", err)
	}
	defer rows.Close()

	signals, err := scanSignalRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan recent signals: %w", err)
	}
	return signals, nil
}

// RecentBySymbol returns the newest signals for one symbol, newest first.
func (s *SignalStore) RecentBySymbol(ctx context.Context, symbol string, limit int) ([]domain.Signal, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT ` + signalSelectCols + ` FROM signals WHERE symbol = $1 ORDER BY timestamp DESC LIMIT $2`
	rows, err := s.pool.Query(ctx, query, symbol, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: recent signals for %s: %w", symbol, err)
	}
	defer rows.Close()

	signals, err := scanSignalRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan recent signals for %s: %w", symbol, err)
	}
	return signals, nil
}

// CountByType returns the stored signal count per type.
func (s *SignalStore) CountByType(ctx context.Context) (map[domain.SignalType]int64, error) {
	rows, err := s.pool.Query(ctx, `SELECT type, COUNT(*) FROM signals GROUP BY type`)
	if err != nil {
		return nil, fmt.Errorf("postgres: count signals by type: %w", err)
	}
	defer rows.Close()

	counts := make(map[domain.SignalType]int64)
	for rows.Next() {
		var (
			typ string
			n   int64
		)
		if err := rows.Scan(&typ, &n); err != nil {
			return nil, fmt.Errorf("postgres: scan signal counts: %w", err)
		}
		counts[domain.SignalType(typ)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: signal counts rows: %w", err)
	}
	return counts, nil
}

// ListBefore returns all signals older than the cutoff, oldest first. Used
// by the cold-storage archiver before the matching DeleteBefore.
func (s *SignalStore) ListBefore(ctx context.Context, before time.Time) ([]domain.Signal, error) {
	query := `SELECT ` + signalSelectCols + ` FROM signals WHERE timestamp < $1 ORDER BY timestamp ASC`
	rows, err := s.pool.Query(ctx, query, before)
	if err != nil {
		return nil, fmt.Errorf("postgres: list signals before: %w", err)
	}
	defer rows.Close()

	signals, err := scanSignalRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan signals before: %w", err)
	}
	return signals, nil
}

// DeleteBefore deletes all signals older than the given time. Returns the
// number deleted; used to trim the table after cold-storage archival.
func (s *SignalStore) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM signals WHERE timestamp < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete signals before: %w", err)
	}
	return tag.RowsAffected(), nil
}

// Compile-time interface check.
var _ domain.SignalStore = (*SignalStore)(nil)
