package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/quantlab/orderflow/internal/domain"
)

// SignalArchiveStore is the narrow read surface the signal archiver needs.
// The Postgres SignalStore satisfies it.
type SignalArchiveStore interface {
	// ListBefore returns all signals with a timestamp strictly before the
	// cutoff, oldest first.
	ListBefore(ctx context.Context, before time.Time) ([]domain.Signal, error)
}

// archiveWriter is the upload surface the archivers need. Writer satisfies
// it; tests substitute an in-memory fake.
type archiveWriter interface {
	domain.BlobWriter
	PutMultipart(ctx context.Context, key string, data io.Reader, partSize int64) error
}

// StatsArchiver implements domain.StatsArchiver by uploading each statistics
// snapshot as a JSON object keyed by symbol and capture time:
//
//	stats/BTCUSDT/2025/08/31/1756608000.json
type StatsArchiver struct {
	writer archiveWriter
}

// NewStatsArchiver creates a StatsArchiver that uploads through w.
func NewStatsArchiver(w *Writer) *StatsArchiver {
	return &StatsArchiver{writer: w}
}

// Archive uploads one snapshot. Snapshots are immutable once taken, so a
// retried upload overwrites an identical object.
func (a *StatsArchiver) Archive(ctx context.Context, snap domain.StatsSnapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("s3blob: marshal stats snapshot %s: %w", snap.Symbol, err)
	}

	key := statsKey(snap.Symbol, snap.TakenAt)
	if err := a.writer.Put(ctx, key, data, "application/json"); err != nil {
		return fmt.Errorf("s3blob: archive stats %s: %w", snap.Symbol, err)
	}
	return nil
}

func statsKey(symbol string, takenAt time.Time) string {
	t := takenAt.UTC()
	return fmt.Sprintf("stats/%s/%s/%d.json", symbol, t.Format("2006/01/02"), t.Unix())
}

// SignalArchiver copies aged-out signals from the primary store into object
// storage as JSONL. Each run writes its own object, partitioned by the
// cutoff month and keyed by the cutoff instant:
//
//	archive/signals/2025-08/1756608000.jsonl
//
// Runs within the same month therefore never overwrite an earlier batch.
// Deletion from the primary store is intentionally NOT performed here. The
// caller trims the table with DeleteBefore only after the archive object has
// been verified to exist.
type SignalArchiver struct {
	writer archiveWriter
	store  SignalArchiveStore
}

// NewSignalArchiver creates a SignalArchiver reading from store and uploading
// through w.
func NewSignalArchiver(w *Writer, store SignalArchiveStore) *SignalArchiver {
	return &SignalArchiver{writer: w, store: store}
}

// ArchiveBefore uploads all signals older than the cutoff and returns the
// archived count. A cutoff month with no matching signals uploads nothing.
func (a *SignalArchiver) ArchiveBefore(ctx context.Context, before time.Time) (int64, error) {
	signals, err := a.store.ListBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive signals query: %w", err)
	}
	if len(signals) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(signals)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive signals marshal: %w", err)
	}

	key := SignalArchiveKey(before)
	if int64(len(buf)) >= minPartSize {
		err = a.writer.PutMultipart(ctx, key, bytes.NewReader(buf), minPartSize)
	} else {
		err = a.writer.Put(ctx, key, buf, "application/x-ndjson")
	}
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive signals upload: %w", err)
	}

	return int64(len(signals)), nil
}

// SignalArchiveKey is the object key ArchiveBefore writes for a given
// cutoff. Callers use it to verify the archive before trimming the store.
// The cutoff instant is part of the key so distinct runs yield distinct
// objects.
func SignalArchiveKey(before time.Time) string {
	t := before.UTC()
	return fmt.Sprintf("archive/signals/%s/%d.jsonl", t.Format("2006-01"), t.Unix())
}

// marshalJSONL serialises records as newline-delimited JSON, one compact line
// per record.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}

var _ domain.StatsArchiver = (*StatsArchiver)(nil)
