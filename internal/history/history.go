// Package history keeps a rolling, queryable audit log of reconcile
// outcomes, separate from and never a substitute for the manifest
// store: the manifest store is the durable session source of truth,
// while this log exists purely so a host application can answer "what
// happened over the last N reconciles" without replaying the store.
package history

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Log wraps a SQLite-backed append-only reconcile audit trail.
type Log struct {
	db *sql.DB
}

// Open creates or opens the audit log at path. Use ":memory:" for a
// throwaway, process-local log.
func Open(path string) (*Log, error) {
	db, err := sql.Open("sqlite3", path+"?_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("open history database: %w", err)
	}

	l := &Log{db: db}
	if err := l.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("init history schema: %w", err)
	}
	return l, nil
}

func (l *Log) initSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS reconcile_events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			instance_id TEXT NOT NULL,
			mode TEXT NOT NULL,
			status TEXT NOT NULL,
			blocked_reason TEXT NOT NULL DEFAULT '',
			action_count INTEGER NOT NULL,
			conflict_count INTEGER NOT NULL,
			offline_peer_count INTEGER NOT NULL,
			occurred_at INTEGER NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_reconcile_events_instance ON reconcile_events(instance_id);
		CREATE INDEX IF NOT EXISTS idx_reconcile_events_occurred ON reconcile_events(occurred_at);
	`
	_, err := l.db.Exec(schema)
	return err
}

// Event is one recorded reconcile outcome.
type Event struct {
	InstanceID       string
	Mode             string
	Status           string
	BlockedReason    string
	ActionCount      int
	ConflictCount    int
	OfflinePeerCount int
	OccurredAt       time.Time
}

// Record appends ev to the log.
func (l *Log) Record(ev Event) error {
	_, err := l.db.Exec(`
		INSERT INTO reconcile_events (
			instance_id, mode, status, blocked_reason,
			action_count, conflict_count, offline_peer_count, occurred_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, ev.InstanceID, ev.Mode, ev.Status, ev.BlockedReason,
		ev.ActionCount, ev.ConflictCount, ev.OfflinePeerCount, ev.OccurredAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("record reconcile event: %w", err)
	}
	return nil
}

// Recent returns the most recent limit events for instanceID, newest first.
func (l *Log) Recent(instanceID string, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := l.db.Query(`
		SELECT mode, status, blocked_reason, action_count, conflict_count, offline_peer_count, occurred_at
		FROM reconcile_events
		WHERE instance_id = ?
		ORDER BY occurred_at DESC, id DESC
		LIMIT ?
	`, instanceID, limit)
	if err != nil {
		return nil, fmt.Errorf("query recent reconcile events: %w", err)
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var ev Event
		var occurredMs int64
		if err := rows.Scan(&ev.Mode, &ev.Status, &ev.BlockedReason, &ev.ActionCount, &ev.ConflictCount, &ev.OfflinePeerCount, &occurredMs); err != nil {
			return nil, fmt.Errorf("scan reconcile event: %w", err)
		}
		ev.InstanceID = instanceID
		ev.OccurredAt = time.UnixMilli(occurredMs).UTC()
		out = append(out, ev)
	}
	return out, rows.Err()
}

// Prune deletes events for instanceID older than keepAfter, bounding the
// log's growth without needing a separate compaction job.
func (l *Log) Prune(instanceID string, keepAfter time.Time) error {
	_, err := l.db.Exec(`
		DELETE FROM reconcile_events WHERE instance_id = ? AND occurred_at < ?
	`, instanceID, keepAfter.UnixMilli())
	if err != nil {
		return fmt.Errorf("prune reconcile events: %w", err)
	}
	return nil
}

// Close releases the underlying database handle.
func (l *Log) Close() error {
	return l.db.Close()
}
