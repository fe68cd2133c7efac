package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/quantlab/orderflow/internal/domain"
)

type fakeWriter struct {
	puts       map[string][]byte
	types      map[string]string
	multiparts map[string][]byte
	fail       bool
}

func newFakeWriter() *fakeWriter {
	return &fakeWriter{
		puts:       make(map[string][]byte),
		types:      make(map[string]string),
		multiparts: make(map[string][]byte),
	}
}

func (w *fakeWriter) Put(_ context.Context, key string, data []byte, contentType string) error {
	if w.fail {
		return errors.New("upload failed")
	}
	w.puts[key] = append([]byte(nil), data...)
	w.types[key] = contentType
	return nil
}

func (w *fakeWriter) PutMultipart(_ context.Context, key string, data io.Reader, _ int64) error {
	if w.fail {
		return errors.New("upload failed")
	}
	buf, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	w.multiparts[key] = buf
	return nil
}

type fakeSignalStore struct {
	signals []domain.Signal
	err     error
}

func (s *fakeSignalStore) ListBefore(context.Context, time.Time) ([]domain.Signal, error) {
	return s.signals, s.err
}

func TestStatsArchiverKeyLayout(t *testing.T) {
	w := newFakeWriter()
	a := &StatsArchiver{writer: w}

	takenAt := time.Date(2025, 8, 31, 12, 0, 0, 0, time.UTC)
	snap := domain.StatsSnapshot{
		Symbol:  "BTCUSDT",
		TakenAt: takenAt,
		Emitted: 7,
	}
	if err := a.Archive(context.Background(), snap); err != nil {
		t.Fatalf("Archive: %v", err)
	}

	wantKey := "stats/BTCUSDT/2025/08/31/1756641600.json"
	data, ok := w.puts[wantKey]
	if !ok {
		t.Fatalf("expected object at %s, got keys %v", wantKey, w.puts)
	}
	if ct := w.types[wantKey]; ct != "application/json" {
		t.Fatalf("content type = %q, want application/json", ct)
	}

	var got domain.StatsSnapshot
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("unmarshal archived snapshot: %v", err)
	}
	if got.Symbol != "BTCUSDT" || got.Emitted != 7 {
		t.Fatalf("archived snapshot = %+v", got)
	}
}

func TestStatsArchiverUploadError(t *testing.T) {
	w := newFakeWriter()
	w.fail = true
	a := &StatsArchiver{writer: w}

	err := a.Archive(context.Background(), domain.StatsSnapshot{Symbol: "BTCUSDT"})
	if err == nil {
		t.Fatal("expected upload error")
	}
}

func TestSignalArchiverWritesJSONL(t *testing.T) {
	w := newFakeWriter()
	store := &fakeSignalStore{signals: []domain.Signal{
		{ID: "a", Symbol: "BTCUSDT", Type: domain.SignalAbsorption},
		{ID: "b", Symbol: "BTCUSDT", Type: domain.SignalExhaustion},
		{ID: "c", Symbol: "BTCUSDT", Type: domain.SignalAbsorption},
	}}
	a := &SignalArchiver{writer: w, store: store}

	cutoff := time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC)
	n, err := a.ArchiveBefore(context.Background(), cutoff)
	if err != nil {
		t.Fatalf("ArchiveBefore: %v", err)
	}
	if n != 3 {
		t.Fatalf("archived count = %d, want 3", n)
	}

	wantKey := "archive/signals/2025-07/1751328000.jsonl"
	data, ok := w.puts[wantKey]
	if !ok {
		t.Fatalf("expected object at %s, got keys %v", wantKey, w.puts)
	}

	lines := bytes.Split(bytes.TrimRight(data, "\n"), []byte("\n"))
	if len(lines) != 3 {
		t.Fatalf("jsonl lines = %d, want 3", len(lines))
	}
	var first domain.Signal
	if err := json.Unmarshal(lines[0], &first); err != nil {
		t.Fatalf("unmarshal first line: %v", err)
	}
	if first.ID != "a" {
		t.Fatalf("first archived signal ID = %q, want a", first.ID)
	}
}

func TestSignalArchiverRunsKeepDistinctObjects(t *testing.T) {
	w := newFakeWriter()
	store := &fakeSignalStore{signals: []domain.Signal{
		{ID: "a", Symbol: "BTCUSDT", Type: domain.SignalAbsorption},
	}}
	a := &SignalArchiver{writer: w, store: store}

	first := time.Date(2025, 7, 10, 0, 0, 0, 0, time.UTC)
	if _, err := a.ArchiveBefore(context.Background(), first); err != nil {
		t.Fatalf("first run: %v", err)
	}

	// A later run within the same month must not overwrite the first
	// batch, which may already have been trimmed from the store.
	store.signals = []domain.Signal{
		{ID: "b", Symbol: "BTCUSDT", Type: domain.SignalExhaustion},
	}
	second := first.Add(time.Hour)
	if _, err := a.ArchiveBefore(context.Background(), second); err != nil {
		t.Fatalf("second run: %v", err)
	}

	if len(w.puts) != 2 {
		t.Fatalf("objects = %d, want 2 (keys %v)", len(w.puts), w.puts)
	}
	if SignalArchiveKey(first) == SignalArchiveKey(second) {
		t.Fatalf("runs share key %s", SignalArchiveKey(first))
	}
	if _, ok := w.puts[SignalArchiveKey(first)]; !ok {
		t.Fatal("first batch lost after second run")
	}
}

func TestSignalArchiverEmptySkipsUpload(t *testing.T) {
	w := newFakeWriter()
	a := &SignalArchiver{writer: w, store: &fakeSignalStore{}}

	n, err := a.ArchiveBefore(context.Background(), time.Now())
	if err != nil {
		t.Fatalf("ArchiveBefore: %v", err)
	}
	if n != 0 {
		t.Fatalf("archived count = %d, want 0", n)
	}
	if len(w.puts) != 0 || len(w.multiparts) != 0 {
		t.Fatal("expected no uploads for empty range")
	}
}

func TestSignalArchiverStoreError(t *testing.T) {
	a := &SignalArchiver{
		writer: newFakeWriter(),
		store:  &fakeSignalStore{err: errors.New("query failed")},
	}
	if _, err := a.ArchiveBefore(context.Background(), time.Now()); err == nil {
		t.Fatal("expected store error")
	}
}

func TestNormaliseEndpoint(t *testing.T) {
	cases := []struct {
		in     string
		useSSL bool
		want   string
	}{
		{"https://s3.example.com", false, "https://s3.example.com"},
		{"s3.example.com", false, "http://s3.example.com"},
		{"s3.example.com", true, "https://s3.example.com"},
	}
	for _, tc := range cases {
		if got := normaliseEndpoint(tc.in, tc.useSSL); got != tc.want {
			t.Fatalf("normaliseEndpoint(%q, %v) = %q, want %q", tc.in, tc.useSSL, got, tc.want)
		}
	}
}
