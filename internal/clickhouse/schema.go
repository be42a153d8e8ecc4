package clickhouse

import "fmt"

// EventsTable is the archive table name
const EventsTable = "events"

// SchemaStatements returns the DDL for the event archive.
// Rows are deduplicated by fingerprint on merge; retentionDays <= 0 keeps rows forever.
func SchemaStatements(database string, retentionDays int) []string {
	ttl := ""
	if retentionDays > 0 {
		ttl = fmt.Sprintf("\nTTL detected_at + INTERVAL %d DAY", retentionDays)
	}

	return []string{
		fmt.Sprintf("CREATE DATABASE IF NOT EXISTS %s", database),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.%s
(
    detected_at     DateTime64(3, 'UTC'),
    event_id        String,
    agent_id        LowCardinality(String),
    hostname        LowCardinality(String),
    monitor         LowCardinality(String),
    event_type      LowCardinality(String),
    parser          LowCardinality(String),
    log_file        String,
    line_timestamp  String,
    severity        LowCardinality(String),
    cause           LowCardinality(String),
    pattern_matched String,
    raw_line        String,
    field_keys      Array(String),
    field_values    Array(String),
    fingerprint     String
)
ENGINE = ReplacingMergeTree
PARTITION BY toYYYYMM(detected_at)
ORDER BY (monitor, log_file, fingerprint)%s`, database, EventsTable, ttl),
	}
}
