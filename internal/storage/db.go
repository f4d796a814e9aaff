package storage

import (
	"database/sql"
	"fmt"
	"log/slog"

	_ "github.com/mattn/go-sqlite3"

	"github.com/cptspacemanspiff/gpu-power-monitor/internal/report"
)

const schema = `
CREATE TABLE IF NOT EXISTS command_events (
	id TEXT PRIMARY KEY,
	timestamp INTEGER NOT NULL,
	kind TEXT NOT NULL,
	target TEXT NOT NULL,
	ok INTEGER NOT NULL,
	error TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_command_events_ts ON command_events(timestamp);
`

// DB wraps a SQLite database holding the command audit log.
type DB struct {
	db *sql.DB
}

// Open opens or creates the SQLite database at the given path.
func Open(path string) (*DB, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}
	return &DB{db: db}, nil
}

// Close closes the database.
func (d *DB) Close() error {
	return d.db.Close()
}

// InsertEvent inserts a command event. Events with an existing id are ignored.
func (d *DB) InsertEvent(e report.Event) error {
	ok := 0
	if e.OK {
		ok = 1
	}
	_, err := d.db.Exec(
		"INSERT OR IGNORE INTO command_events (id, timestamp, kind, target, ok, error) VALUES (?, ?, ?, ?, ?, ?)",
		e.ID, e.Timestamp, string(e.Kind), e.Target, ok, e.Error,
	)
	return err
}

// EventsInRange returns command events within the given time range, oldest first.
func (d *DB) EventsInRange(from, to int64) ([]report.Event, error) {
	rows, err := d.db.Query(
		"SELECT id, timestamp, kind, target, ok, error FROM command_events WHERE timestamp >= ? AND timestamp <= ? ORDER BY timestamp, rowid",
		from, to,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var events []report.Event
	for rows.Next() {
		var (
			e    report.Event
			kind string
			ok   int
		)
		if err := rows.Scan(&e.ID, &e.Timestamp, &kind, &e.Target, &ok, &e.Error); err != nil {
			return nil, err
		}
		e.Kind = report.Kind(kind)
		e.OK = ok != 0
		events = append(events, e)
	}
	return events, rows.Err()
}

// Recorder is a report.Sink that persists command events. Telemetry events
// are not stored.
type Recorder struct {
	DB  *DB
	Log *slog.Logger
}

func (r Recorder) Report(e report.Event) {
	if !e.IsCommand() {
		return
	}
	if err := r.DB.InsertEvent(e); err != nil && r.Log != nil {
		r.Log.Error("store command event", "id", e.ID, "err", err)
	}
}
