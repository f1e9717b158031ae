// Package store provides durable persistence for cron scheduler entries
// (spec §3 "Schedule entry ... Persisted in the state store of the
// pluggable platform; owned by the cron scheduler"), so a recurring job
// registration survives a host process restart.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// Record is the durable shape of one schedule registration: everything
// a host needs to re-derive a jobs.SubmitRequest and re-register it with
// the scheduler on startup. Live objects (manifest, platform services)
// are not persisted; the host supplies those fresh each boot and only
// uses Record to know which schedules existed.
type Record struct {
	ScheduleID     string
	PluginID       string
	HandlerFile    string
	HandlerExport  string
	CronOrInterval string
	Input          json.RawMessage
	MinIntervalMs  int64
	MaxDurationMs  int64
	Priority       int
	CreatedAt      time.Time
}

// SQLiteStore persists schedule Records in a single-file SQLite
// database, opened via sql.Open("sqlite", path) with
// db.SetMaxOpenConns(1) to keep writes serialized.
type SQLiteStore struct {
	db *sql.DB
}

// Open creates or opens the schedule store at path and ensures its
// schema exists.
func Open(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("jobs/store: open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("jobs/store: ping: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) migrate(ctx context.Context) error {
	const schema = `
	CREATE TABLE IF NOT EXISTS schedule_entries (
		schedule_id       TEXT PRIMARY KEY,
		plugin_id         TEXT NOT NULL,
		handler_file      TEXT NOT NULL,
		handler_export    TEXT NOT NULL,
		cron_or_interval  TEXT NOT NULL,
		input_json        TEXT NOT NULL,
		min_interval_ms   INTEGER NOT NULL DEFAULT 0,
		max_duration_ms   INTEGER NOT NULL DEFAULT 0,
		priority          INTEGER NOT NULL DEFAULT 0,
		created_at        TIMESTAMP NOT NULL
	)`
	_, err := s.db.ExecContext(ctx, schema)
	if err != nil {
		return fmt.Errorf("jobs/store: migrate: %w", err)
	}
	return nil
}

// Close releases the underlying database handle.
func (s *SQLiteStore) Close() error { return s.db.Close() }

// Save upserts one Record.
func (s *SQLiteStore) Save(ctx context.Context, r Record) error {
	input := r.Input
	if input == nil {
		input = json.RawMessage("null")
	}
	const q = `
	INSERT INTO schedule_entries
		(schedule_id, plugin_id, handler_file, handler_export, cron_or_interval, input_json, min_interval_ms, max_duration_ms, priority, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(schedule_id) DO UPDATE SET
		plugin_id=excluded.plugin_id,
		handler_file=excluded.handler_file,
		handler_export=excluded.handler_export,
		cron_or_interval=excluded.cron_or_interval,
		input_json=excluded.input_json,
		min_interval_ms=excluded.min_interval_ms,
		max_duration_ms=excluded.max_duration_ms,
		priority=excluded.priority`
	_, err := s.db.ExecContext(ctx, q,
		r.ScheduleID, r.PluginID, r.HandlerFile, r.HandlerExport, r.CronOrInterval,
		string(input), r.MinIntervalMs, r.MaxDurationMs, r.Priority, r.CreatedAt)
	if err != nil {
		return fmt.Errorf("jobs/store: save %s: %w", r.ScheduleID, err)
	}
	return nil
}

// Delete removes a Record by schedule ID. Idempotent: deleting an
// already-absent ID is not an error.
func (s *SQLiteStore) Delete(ctx context.Context, scheduleID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM schedule_entries WHERE schedule_id = ?`, scheduleID)
	if err != nil {
		return fmt.Errorf("jobs/store: delete %s: %w", scheduleID, err)
	}
	return nil
}

// List returns every persisted Record, ordered by creation time, so a
// host can replay them through the scheduler on startup.
func (s *SQLiteStore) List(ctx context.Context) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT schedule_id, plugin_id, handler_file, handler_export, cron_or_interval,
		       input_json, min_interval_ms, max_duration_ms, priority, created_at
		FROM schedule_entries ORDER BY created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("jobs/store: list: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var r Record
		var input string
		if err := rows.Scan(&r.ScheduleID, &r.PluginID, &r.HandlerFile, &r.HandlerExport,
			&r.CronOrInterval, &input, &r.MinIntervalMs, &r.MaxDurationMs, &r.Priority, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("jobs/store: scan: %w", err)
		}
		r.Input = json.RawMessage(input)
		out = append(out, r)
	}
	return out, rows.Err()
}
