package writer

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/SteelMorgan/serverpulse-agent/internal/domain"
)

type sentBatches struct {
	mu      sync.Mutex
	batches [][]eventRow
	failN   int
}

func (s *sentBatches) send(ctx context.Context, rows []eventRow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failN > 0 {
		s.failN--
		return errors.New("dial tcp 127.0.0.1:9000: connection refused")
	}
	s.batches = append(s.batches, append([]eventRow(nil), rows...))
	return nil
}

func (s *sentBatches) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, b := range s.batches {
		n += len(b)
	}
	return n
}

func testWriter(cfg BatchConfig, sink *sentBatches) *ClickHouseWriter {
	w := newWriter(cfg)
	w.retryCfg.InitialDelay = time.Millisecond
	w.send = sink.send
	return w
}

func event(line string) *domain.Event {
	return &domain.Event{
		ID:         "id-" + line,
		Monitor:    "log_monitor",
		Type:       domain.EventTypeLog,
		Timestamp:  "Dec 25 14:30:45",
		DetectedAt: time.Date(2024, 12, 25, 14, 30, 46, 0, time.UTC),
		SourcePath: "/var/log/app.log",
		SourceKind: domain.KindGeneric,
		RawLine:    line,
		Severity:   domain.SeverityHigh,
		Cause:      domain.CauseUnknown,
		Fields:     map[string]string{"process": "app", "pid": "12"},
	}
}

func TestFingerprint(t *testing.T) {
	a := event("error one")
	b := event("error one")
	b.ID = "other"
	b.DetectedAt = b.DetectedAt.Add(time.Hour)

	if Fingerprint(a) != Fingerprint(b) {
		t.Error("redelivered line must keep its fingerprint")
	}
	if Fingerprint(a) == Fingerprint(event("error two")) {
		t.Error("different lines must differ")
	}
	c := event("error one")
	c.SourcePath = "/var/log/other.log"
	if Fingerprint(a) == Fingerprint(c) {
		t.Error("same line in another file must differ")
	}
	if len(Fingerprint(a)) != 64 {
		t.Errorf("expected hex sha256, got %q", Fingerprint(a))
	}
}

func TestWriteEvent_FlushesWhenFull(t *testing.T) {
	sink := &sentBatches{}
	w := testWriter(BatchConfig{MaxSize: 2, FlushInterval: time.Hour, AgentID: "agent-1", Hostname: "web-1"}, sink)
	ctx := context.Background()

	if err := w.WriteEvent(ctx, event("error a")); err != nil {
		t.Fatal(err)
	}
	if sink.count() != 0 || w.Pending() != 1 {
		t.Fatalf("batch flushed too early: sent=%d pending=%d", sink.count(), w.Pending())
	}
	if err := w.WriteEvent(ctx, event("error b")); err != nil {
		t.Fatal(err)
	}
	if sink.count() != 2 || w.Pending() != 0 {
		t.Fatalf("expected full batch to be sent: sent=%d pending=%d", sink.count(), w.Pending())
	}

	row := sink.batches[0][0]
	if row.AgentID != "agent-1" || row.Hostname != "web-1" || row.Severity != "high" || row.Parser != "generic" {
		t.Errorf("unexpected row %+v", row)
	}
	if len(row.FieldKeys) != 2 || row.FieldKeys[0] != "pid" || row.FieldValues[0] != "12" {
		t.Errorf("fields must be sorted parallel arrays, got %v %v", row.FieldKeys, row.FieldValues)
	}
	if len(row.values()) != 16 {
		t.Errorf("row must match the events table column count, got %d", len(row.values()))
	}
}

func TestFlush_DropsDuplicates(t *testing.T) {
	sink := &sentBatches{}
	w := testWriter(BatchConfig{MaxSize: 100, FlushInterval: time.Hour, EnableDeduplication: true}, sink)
	w.exists = func(ctx context.Context, fp string) (bool, error) {
		return fp == Fingerprint(event("already stored")), nil
	}
	ctx := context.Background()

	for _, line := range []string{"error a", "error a", "already stored", "error b"} {
		if err := w.WriteEvent(ctx, event(line)); err != nil {
			t.Fatal(err)
		}
	}
	if err := w.Flush(ctx); err != nil {
		t.Fatal(err)
	}
	if got := sink.count(); got != 2 {
		t.Errorf("expected 2 unique new rows, got %d", got)
	}
}

func TestFlush_RetriesTransientErrors(t *testing.T) {
	sink := &sentBatches{failN: 2}
	w := testWriter(BatchConfig{MaxSize: 100, FlushInterval: time.Hour}, sink)

	if err := w.WriteEvent(context.Background(), event("error a")); err != nil {
		t.Fatal(err)
	}
	if err := w.Flush(context.Background()); err != nil {
		t.Fatalf("Flush() error = %v", err)
	}
	if sink.count() != 1 {
		t.Errorf("expected row after retries, got %d", sink.count())
	}
}

func TestClose_FlushesPending(t *testing.T) {
	sink := &sentBatches{}
	w := testWriter(BatchConfig{MaxSize: 100, FlushInterval: time.Hour}, sink)

	if err := w.WriteEvent(context.Background(), event("error a")); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	if sink.count() != 1 {
		t.Errorf("Close must flush pending rows, sent %d", sink.count())
	}
	if err := w.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
}

func TestEnsureValidDateTime(t *testing.T) {
	valid := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	tests := []struct {
		name string
		in   time.Time
		want time.Time
	}{
		{"valid", valid, valid},
		{"zero", time.Time{}, minClickHouseDateTime},
		{"too early", time.Date(1900, 1, 1, 0, 0, 0, 0, time.UTC), minClickHouseDateTime},
		{"too late", time.Date(2300, 1, 1, 0, 0, 0, 0, time.UTC), minClickHouseDateTime},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ensureValidDateTime(tt.in); !got.Equal(tt.want) {
				t.Errorf("ensureValidDateTime() = %v, want %v", got, tt.want)
			}
		})
	}
}
