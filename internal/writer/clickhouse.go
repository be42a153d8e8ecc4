package writer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/rs/zerolog/log"

	"github.com/SteelMorgan/serverpulse-agent/internal/domain"
	"github.com/SteelMorgan/serverpulse-agent/internal/retry"
)

// ClickHouse DateTime64 valid range: 1925-01-01 to 2283-11-11
var (
	minClickHouseDateTime = time.Date(1925, 1, 1, 0, 0, 0, 0, time.UTC)
	maxClickHouseDateTime = time.Date(2283, 11, 11, 23, 59, 59, 999999999, time.UTC)
)

// ensureValidDateTime clamps t into the ClickHouse DateTime64 range
func ensureValidDateTime(t time.Time) time.Time {
	if t.IsZero() || t.Before(minClickHouseDateTime) || t.After(maxClickHouseDateTime) {
		return minClickHouseDateTime
	}
	return t
}

// eventRow is one row of the events table
type eventRow struct {
	DetectedAt     time.Time
	EventID        string
	AgentID        string
	Hostname       string
	Monitor        string
	EventType      string
	Parser         string
	LogFile        string
	LineTimestamp  string
	Severity       string
	Cause          string
	PatternMatched string
	RawLine        string
	FieldKeys      []string
	FieldValues    []string
	Fingerprint    string
}

func (r *eventRow) values() []interface{} {
	return []interface{}{
		r.DetectedAt, r.EventID, r.AgentID, r.Hostname, r.Monitor, r.EventType, r.Parser,
		r.LogFile, r.LineTimestamp, r.Severity, r.Cause, r.PatternMatched, r.RawLine,
		r.FieldKeys, r.FieldValues, r.Fingerprint,
	}
}

// ClickHouseWriter writes events to ClickHouse in batches
type ClickHouseWriter struct {
	conn     clickhouse.Conn
	cfg      BatchConfig
	table    string
	retryCfg retry.Config

	// send and exists are swapped in tests
	send   func(ctx context.Context, rows []eventRow) error
	exists func(ctx context.Context, fingerprint string) (bool, error)

	mu        sync.Mutex
	batch     []eventRow
	lastFlush time.Time

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewClickHouseWriter creates a batch writer for database.events and starts
// its interval flusher
func NewClickHouseWriter(conn clickhouse.Conn, database string, cfg BatchConfig) *ClickHouseWriter {
	w := newWriter(cfg)
	w.conn = conn
	w.table = database + ".events"
	w.send = w.sendBatch
	w.exists = w.checkFingerprintExists
	w.start()
	return w
}

func newWriter(cfg BatchConfig) *ClickHouseWriter {
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = 500
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 5 * time.Second
	}
	return &ClickHouseWriter{
		cfg:       cfg,
		retryCfg:  retry.ArchiveConfig(),
		batch:     make([]eventRow, 0, cfg.MaxSize),
		lastFlush: time.Now(),
		stopCh:    make(chan struct{}),
	}
}

func (w *ClickHouseWriter) start() {
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		ticker := time.NewTicker(w.cfg.FlushInterval)
		defer ticker.Stop()
		for {
			select {
			case <-w.stopCh:
				return
			case <-ticker.C:
				ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
				if err := w.Flush(ctx); err != nil {
					log.Warn().Err(err).Msg("Periodic archive flush failed")
				}
				cancel()
			}
		}
	}()
}

// WriteEvent adds an event to the batch
func (w *ClickHouseWriter) WriteEvent(ctx context.Context, ev *domain.Event) error {
	row := w.toRow(ev)

	w.mu.Lock()
	w.batch = append(w.batch, row)
	full := len(w.batch) >= w.cfg.MaxSize || time.Since(w.lastFlush) >= w.cfg.FlushInterval
	var snapshot []eventRow
	if full {
		snapshot = w.takeLocked()
	}
	w.mu.Unlock()

	if snapshot == nil {
		return nil
	}
	return w.flushSnapshot(ctx, snapshot)
}

// Flush forces writing all pending events
func (w *ClickHouseWriter) Flush(ctx context.Context) error {
	w.mu.Lock()
	snapshot := w.takeLocked()
	w.mu.Unlock()
	return w.flushSnapshot(ctx, snapshot)
}

// Close stops the flusher and writes what is pending
func (w *ClickHouseWriter) Close() error {
	w.stopOnce.Do(func() { close(w.stopCh) })
	w.wg.Wait()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return w.Flush(ctx)
}

// Pending returns the number of buffered events
func (w *ClickHouseWriter) Pending() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.batch)
}

func (w *ClickHouseWriter) takeLocked() []eventRow {
	if len(w.batch) == 0 {
		return nil
	}
	snapshot := make([]eventRow, len(w.batch))
	copy(snapshot, w.batch)
	w.batch = w.batch[:0]
	w.lastFlush = time.Now()
	return snapshot
}

func (w *ClickHouseWriter) toRow(ev *domain.Event) eventRow {
	keys, values := fieldArrays(ev.Fields)
	return eventRow{
		DetectedAt:     ensureValidDateTime(ev.DetectedAt.UTC()),
		EventID:        ev.ID,
		AgentID:        w.cfg.AgentID,
		Hostname:       w.cfg.Hostname,
		Monitor:        ev.Monitor,
		EventType:      ev.Type,
		Parser:         string(ev.SourceKind),
		LogFile:        ev.SourcePath,
		LineTimestamp:  ev.Timestamp,
		Severity:       ev.Severity.String(),
		Cause:          string(ev.Cause),
		PatternMatched: ev.MatchedPattern,
		RawLine:        ev.RawLine,
		FieldKeys:      keys,
		FieldValues:    values,
		Fingerprint:    Fingerprint(ev),
	}
}

// flushSnapshot drops duplicates and sends the rest
func (w *ClickHouseWriter) flushSnapshot(ctx context.Context, snapshot []eventRow) error {
	if len(snapshot) == 0 {
		return nil
	}
	start := time.Now()

	rows := make([]eventRow, 0, len(snapshot))
	seen := make(map[string]bool, len(snapshot))
	for _, row := range snapshot {
		if seen[row.Fingerprint] {
			continue
		}
		seen[row.Fingerprint] = true

		if w.cfg.EnableDeduplication && w.exists != nil {
			exists, err := w.exists(ctx, row.Fingerprint)
			if err != nil {
				log.Warn().Err(err).Str("fingerprint", row.Fingerprint).Msg("Failed to check fingerprint, will try to insert")
			} else if exists {
				continue
			}
		}
		rows = append(rows, row)
	}

	if len(rows) == 0 {
		log.Debug().Int("total", len(snapshot)).Msg("All archived events were duplicates, skipping batch")
		return nil
	}

	if err := retry.Do(ctx, w.retryCfg, func() error {
		return w.send(ctx, rows)
	}); err != nil {
		log.Error().
			Err(err).
			Int("records_to_write", len(rows)).
			Msg("Failed to send event batch to ClickHouse")
		return fmt.Errorf("failed to send batch (to_write=%d): %w", len(rows), err)
	}

	log.Info().
		Int("total", len(snapshot)).
		Int("written", len(rows)).
		Int("duplicates", len(snapshot)-len(rows)).
		Dur("total_time_ms", time.Since(start)).
		Msg("Flushed event batch to ClickHouse")
	return nil
}

func (w *ClickHouseWriter) sendBatch(ctx context.Context, rows []eventRow) error {
	batch, err := w.conn.PrepareBatch(ctx, "INSERT INTO "+w.table)
	if err != nil {
		return fmt.Errorf("failed to prepare batch: %w", err)
	}
	for i := range rows {
		if err := batch.Append(rows[i].values()...); err != nil {
			_ = batch.Abort()
			return fmt.Errorf("failed to append to batch (record index %d): %w", i, err)
		}
	}
	if err := batch.Send(); err != nil {
		return fmt.Errorf("failed to send batch: %w", err)
	}
	return nil
}

func (w *ClickHouseWriter) checkFingerprintExists(ctx context.Context, fingerprint string) (bool, error) {
	var count uint64
	query := "SELECT count() FROM " + w.table + " WHERE fingerprint = ?"
	if err := w.conn.QueryRow(ctx, query, fingerprint).Scan(&count); err != nil {
		return false, fmt.Errorf("failed to check fingerprint: %w", err)
	}
	return count > 0, nil
}
