package healthstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	appLog "sleepcal/internal/log"
	"sleepcal/internal/metrics"
	"sleepcal/internal/schedule"
)

const currentVersion = 1

// AppSource tags samples written by this application. Samples from any
// other source are never modified.
const AppSource = "sleepcal"

// timeLayout keeps stored times in UTC at second precision so that string
// comparison in SQL matches time order.
const timeLayout = "2006-01-02T15:04:05Z"

// StoredSample is one row of sleep_samples.
type StoredSample struct {
	UID    string    `json:"uid"`
	Start  time.Time `json:"start"`
	End    time.Time `json:"end"`
	Title  string    `json:"title"`
	Source string    `json:"source"`
}

// Store is a SQLite-backed sleep-sample store. It also keeps a small
// key/value table for persisted process state.
type Store struct {
	db *sql.DB
}

// New opens (or creates) the database at dbPath and runs migrations.
func New(dbPath string) (*Store, error) {
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o700); err != nil {
			return nil, fmt.Errorf("create db directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("exec pragma %q: %w", p, err)
		}
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// NewMemory creates an in-memory store for testing.
func NewMemory() (*Store, error) {
	return New(":memory:")
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Name() string {
	return "healthstore"
}

func (s *Store) migrate() error {
	var version int
	if err := s.db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("read user_version: %w", err)
	}
	if version >= currentVersion {
		return nil
	}
	if version < 1 {
		if err := s.migrateV1(); err != nil {
			return err
		}
	}
	_, err := s.db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentVersion))
	return err
}

func (s *Store) migrateV1() error {
	const ddl = `
	CREATE TABLE IF NOT EXISTS sleep_samples (
		uid         TEXT PRIMARY KEY,
		start_time  TEXT NOT NULL,
		end_time    TEXT NOT NULL,
		title       TEXT NOT NULL DEFAULT '',
		source      TEXT NOT NULL,
		created_at  TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%SZ','now'))
	);

	CREATE INDEX IF NOT EXISTS idx_samples_start ON sleep_samples(start_time);

	CREATE TABLE IF NOT EXISTS settings (
		key   TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);
	`
	_, err := s.db.Exec(ddl)
	return err
}

// ReplaceSleepSamples deletes this application's samples overlapping
// [start, end) and inserts samples, in one transaction. Samples from other
// sources are left alone.
func (s *Store) ReplaceSleepSamples(ctx context.Context, start, end time.Time, samples []schedule.Sample) (err error) {
	defer metrics.ObserveDBLatency(ctx, "replace_sleep_samples", time.Now())

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	res, err := tx.ExecContext(ctx,
		`DELETE FROM sleep_samples WHERE source = ? AND start_time < ? AND end_time > ?`,
		AppSource, formatTime(end), formatTime(start),
	)
	if err != nil {
		return fmt.Errorf("delete samples: %w", err)
	}
	deleted, _ := res.RowsAffected()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO sleep_samples (uid, start_time, end_time, title, source) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(uid) DO UPDATE SET start_time = excluded.start_time, end_time = excluded.end_time, title = excluded.title`,
	)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	inserted := 0
	for _, smp := range samples {
		if !smp.End.After(smp.Start) {
			continue
		}
		if _, err = stmt.ExecContext(ctx, smp.UID(), formatTime(smp.Start), formatTime(smp.End), smp.Summary(), AppSource); err != nil {
			return fmt.Errorf("insert sample: %w", err)
		}
		inserted++
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	appLog.Info("sleep samples replaced", "deleted", deleted, "inserted", inserted, "skipped", len(samples)-inserted)
	return nil
}

// Samples lists samples from every source overlapping [from, to), ordered
// by start.
func (s *Store) Samples(ctx context.Context, from, to time.Time) ([]StoredSample, error) {
	defer metrics.ObserveDBLatency(ctx, "list_samples", time.Now())

	rows, err := s.db.QueryContext(ctx,
		`SELECT uid, start_time, end_time, title, source FROM sleep_samples
		 WHERE start_time < ? AND end_time > ? ORDER BY start_time, uid`,
		formatTime(to), formatTime(from),
	)
	if err != nil {
		return nil, fmt.Errorf("list samples: %w", err)
	}
	defer rows.Close()

	out := make([]StoredSample, 0)
	for rows.Next() {
		var smp StoredSample
		var startStr, endStr string
		if err := rows.Scan(&smp.UID, &startStr, &endStr, &smp.Title, &smp.Source); err != nil {
			return nil, err
		}
		if smp.Start, err = time.Parse(timeLayout, startStr); err != nil {
			return nil, fmt.Errorf("sample %s: start_time: %w", smp.UID, err)
		}
		if smp.End, err = time.Parse(timeLayout, endStr); err != nil {
			return nil, fmt.Errorf("sample %s: end_time: %w", smp.UID, err)
		}
		out = append(out, smp)
	}
	return out, rows.Err()
}

// GetSetting returns the value for key; ok is false when it was never set.
func (s *Store) GetSetting(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get setting %q: %w", key, err)
	}
	return value, true, nil
}

func (s *Store) SetSetting(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO settings (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		key, value,
	)
	if err != nil {
		return fmt.Errorf("set setting %q: %w", key, err)
	}
	return nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}
