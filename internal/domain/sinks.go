package domain

import (
	"context"
	"io"
	"time"
)

// StreamMessage is a single entry read back from a durable signal stream.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// SignalBus is the broadcast sink for confirmed signals. Implementations are
// fire-and-forget relative to detection: a publish failure never propagates
// back into detector state.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
	StreamRead(ctx context.Context, stream, lastID string, count int) ([]StreamMessage, error)
}

// SignalStore is the persistence sink for confirmed signals.
type SignalStore interface {
	Insert(ctx context.Context, sig Signal) error
	Recent(ctx context.Context, limit int) ([]Signal, error)
	CountByType(ctx context.Context) (map[SignalType]int64, error)
}

// StatsArchiver archives coordinator statistics snapshots to long-term
// storage for offline analysis.
type StatsArchiver interface {
	Archive(ctx context.Context, snap StatsSnapshot) error
}

// BlobWriter writes an object to blob storage.
type BlobWriter interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
}

// BlobInfo describes one stored object.
type BlobInfo struct {
	Key          string
	Size         int64
	LastModified time.Time
}

// BlobReader reads archived objects back from blob storage. Get returns
// ErrNotFound when no object exists at the key.
type BlobReader interface {
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	List(ctx context.Context, prefix string) ([]BlobInfo, error)
	Exists(ctx context.Context, key string) (bool, error)
}

// SignalNotifier pushes human-facing alerts for selected signals.
type SignalNotifier interface {
	NotifySignal(ctx context.Context, sig Signal) error
}

// RateLimiter bounds request rates per key over a sliding window.
type RateLimiter interface {
	// Allow reports whether one more request under key fits inside the
	// window. An allowed request is counted.
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}
