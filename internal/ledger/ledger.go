// Package ledger keeps an append-only history of transmitter bursts for
// auditing what was sent, and when, after the fact.
package ledger

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dokzlo13/nexad/internal/radio"
)

// EventType represents the type of event in the ledger
type EventType string

const (
	EventTransmissionCompleted EventType = "transmission_completed"
	EventTransmissionFailed    EventType = "transmission_failed"
	EventBatchSkipped          EventType = "batch_skipped"
)

// Entry represents a single event in the ledger
type Entry struct {
	ID         int64          `json:"id"`
	EventType  EventType      `json:"event_type"`
	Timestamp  time.Time      `json:"timestamp"`
	BatchID    string         `json:"batch_id"`
	Operations int            `json:"operations"`
	Commands   radio.Sequence `json:"commands"`
	Strategy   string         `json:"strategy,omitempty"`
	ExitCode   int            `json:"exit_code"`
	Duration   time.Duration  `json:"duration"`
	Error      string         `json:"error,omitempty"`
}

// Ledger provides append-only event logging
type Ledger struct {
	db *sql.DB
}

// New creates a new Ledger using the provided database connection
func New(db *sql.DB) *Ledger {
	return &Ledger{db: db}
}

// Append records an entry. A batch id is recorded at most once per event
// type ("first writer wins"); duplicates are silently ignored.
func (l *Ledger) Append(e Entry) error {
	var commandsJSON []byte
	var err error

	if e.Commands != nil {
		commandsJSON, err = json.Marshal(e.Commands)
		if err != nil {
			return fmt.Errorf("failed to marshal commands: %w", err)
		}
	}

	ts := e.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	_, err = l.db.Exec(`
		INSERT OR IGNORE INTO transmission_ledger
			(event_type, timestamp, batch_id, operations, commands, strategy, exit_code, duration_ms, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, string(e.EventType), ts.UTC().UnixMilli(), e.BatchID, e.Operations, string(commandsJSON),
		e.Strategy, e.ExitCode, e.Duration.Milliseconds(), e.Error)

	return err
}

// HasRecorded checks if any outcome has been recorded for a batch
func (l *Ledger) HasRecorded(batchID string) bool {
	if batchID == "" {
		return false
	}

	var exists int
	err := l.db.QueryRow(`
		SELECT 1 FROM transmission_ledger WHERE batch_id = ? LIMIT 1
	`, batchID).Scan(&exists)

	return err == nil && exists == 1
}

// Recent returns the latest entries, newest first
func (l *Ledger) Recent(limit int) ([]*Entry, error) {
	rows, err := l.db.Query(`
		SELECT id, event_type, timestamp, batch_id, operations, commands, strategy, exit_code, duration_ms, error
		FROM transmission_ledger
		ORDER BY timestamp DESC, id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return l.scanEntries(rows)
}

// GetByType returns entries filtered by event type
func (l *Ledger) GetByType(eventType EventType, limit int) ([]*Entry, error) {
	rows, err := l.db.Query(`
		SELECT id, event_type, timestamp, batch_id, operations, commands, strategy, exit_code, duration_ms, error
		FROM transmission_ledger
		WHERE event_type = ?
		ORDER BY timestamp DESC, id DESC
		LIMIT ?
	`, string(eventType), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return l.scanEntries(rows)
}

// DeleteOlderThan removes entries older than the specified duration (retention policy)
func (l *Ledger) DeleteOlderThan(retention time.Duration) (int64, error) {
	cutoff := time.Now().Add(-retention).UTC().UnixMilli()
	result, err := l.db.Exec(`
		DELETE FROM transmission_ledger WHERE timestamp < ?
	`, cutoff)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func (l *Ledger) scanEntries(rows *sql.Rows) ([]*Entry, error) {
	var entries []*Entry
	for rows.Next() {
		var entry Entry
		var commands, strategy, errText sql.NullString
		var exitCode, durationMs sql.NullInt64
		var timestamp int64

		err := rows.Scan(
			&entry.ID, &entry.EventType, &timestamp, &entry.BatchID, &entry.Operations,
			&commands, &strategy, &exitCode, &durationMs, &errText,
		)
		if err != nil {
			return nil, err
		}

		entry.Timestamp = time.UnixMilli(timestamp).UTC()
		entry.Strategy = strategy.String
		entry.Error = errText.String
		entry.ExitCode = int(exitCode.Int64)
		entry.Duration = time.Duration(durationMs.Int64) * time.Millisecond

		if commands.Valid && commands.String != "" {
			if err := json.Unmarshal([]byte(commands.String), &entry.Commands); err != nil {
				return nil, fmt.Errorf("failed to unmarshal commands: %w", err)
			}
		}

		entries = append(entries, &entry)
	}

	return entries, rows.Err()
}
