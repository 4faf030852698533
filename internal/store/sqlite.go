package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	_ "modernc.org/sqlite"

	"github.com/rcliao/accessmind/internal/model"
)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db      *sql.DB
	entropy *rand.Rand
	now     func() time.Time
}

// NewSQLiteStore opens or creates a SQLite database at the given path.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	s := &SQLiteStore{
		db:      db,
		entropy: rand.New(rand.NewSource(time.Now().UnixNano())),
		now:     time.Now,
	}

	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return s, nil
}

func (s *SQLiteStore) newID(t time.Time) string {
	return ulid.MustNew(ulid.Timestamp(t), s.entropy).String()
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS events (
		id           TEXT PRIMARY KEY,
		kind         TEXT NOT NULL,
		ts           TEXT NOT NULL,
		importance   REAL NOT NULL,
		counterparty TEXT,
		category     TEXT,
		environment  TEXT,
		payload      TEXT NOT NULL,
		sync_gen     INTEGER NOT NULL DEFAULT 0
	);
	CREATE INDEX IF NOT EXISTS idx_events_ts ON events(ts);
	CREATE INDEX IF NOT EXISTS idx_events_kind ON events(kind);
	CREATE INDEX IF NOT EXISTS idx_events_counterparty ON events(counterparty);

	CREATE TABLE IF NOT EXISTS decisions (
		id               TEXT PRIMARY KEY,
		counterparty     TEXT NOT NULL,
		category         TEXT NOT NULL,
		approved         INTEGER NOT NULL,
		reason           TEXT NOT NULL,
		duration_ns      INTEGER NOT NULL DEFAULT 0,
		fee              REAL NOT NULL DEFAULT 0,
		proof_suggested  INTEGER NOT NULL DEFAULT 0,
		proof_ref        TEXT,
		offered          REAL,
		counter_fee      REAL,
		counter_duration INTEGER,
		created_at       TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_decisions_counterparty ON decisions(counterparty);
	CREATE INDEX IF NOT EXISTS idx_decisions_created ON decisions(created_at DESC);

	CREATE TABLE IF NOT EXISTS settings (
		key        TEXT PRIMARY KEY,
		value      TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// tsLayout is fixed-width so timestamps sort lexically.
const tsLayout = "2006-01-02T15:04:05.000000000Z"

func (s *SQLiteStore) SyncEvents(ctx context.Context, events []model.Event) (SyncResult, error) {
	var res SyncResult
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return res, err
	}
	defer tx.Rollback()

	var gen int64
	if err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(sync_gen), 0) + 1 FROM events`).Scan(&gen); err != nil {
		return res, fmt.Errorf("next sync generation: %w", err)
	}

	for _, ev := range events {
		payload, err := json.Marshal(ev)
		if err != nil {
			return res, fmt.Errorf("encode event %s: %w", ev.ID, err)
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO events (id, kind, ts, importance, counterparty, category, environment, payload, sync_gen)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			 ON CONFLICT(id) DO UPDATE SET importance = excluded.importance, payload = excluded.payload, sync_gen = excluded.sync_gen`,
			ev.ID, ev.Kind.String(), ev.Timestamp.UTC().Format(tsLayout), ev.Importance,
			nullString(ev.Context.Counterparty), nullString(ev.Context.Category.String()),
			nullString(ev.Context.Environment), string(payload), gen)
		if err != nil {
			return res, fmt.Errorf("upsert event %s: %w", ev.ID, err)
		}
		res.Upserted++
	}

	r, err := tx.ExecContext(ctx, `DELETE FROM events WHERE sync_gen <> ?`, gen)
	if err != nil {
		return res, fmt.Errorf("prune events: %w", err)
	}
	pruned, _ := r.RowsAffected()
	res.Pruned = int(pruned)

	return res, tx.Commit()
}

func (s *SQLiteStore) AppendEvents(ctx context.Context, events []model.Event) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	added := 0
	for _, ev := range events {
		if ev.ID == "" {
			return added, fmt.Errorf("event without id: %w", model.ErrInvalidInput)
		}
		payload, err := json.Marshal(ev)
		if err != nil {
			return added, fmt.Errorf("encode event %s: %w", ev.ID, err)
		}
		r, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO events (id, kind, ts, importance, counterparty, category, environment, payload)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			ev.ID, ev.Kind.String(), ev.Timestamp.UTC().Format(tsLayout), ev.Importance,
			nullString(ev.Context.Counterparty), nullString(ev.Context.Category.String()),
			nullString(ev.Context.Environment), string(payload))
		if err != nil {
			return added, fmt.Errorf("insert event %s: %w", ev.ID, err)
		}
		if n, _ := r.RowsAffected(); n > 0 {
			added++
		}
	}
	return added, tx.Commit()
}

func (s *SQLiteStore) Events(ctx context.Context, f EventFilter) ([]model.Event, error) {
	var where []string
	var args []any

	if f.Kind != nil {
		where = append(where, "kind = ?")
		args = append(args, f.Kind.String())
	}
	if f.Environment != "" {
		where = append(where, "environment = ?")
		args = append(args, f.Environment)
	}
	if !f.Since.IsZero() {
		where = append(where, "ts > ?")
		args = append(args, f.Since.UTC().Format(tsLayout))
	}

	cond := ""
	if len(where) > 0 {
		cond = " WHERE " + strings.Join(where, " AND ")
	}
	query := `SELECT payload FROM events` + cond + ` ORDER BY ts, id`
	if f.Limit > 0 {
		// newest N, still returned oldest first
		query = `SELECT payload FROM (SELECT ts, id, payload FROM events` + cond +
			` ORDER BY ts DESC, id DESC LIMIT ?) ORDER BY ts, id`
		args = append(args, f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []model.Event
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		var ev model.Event
		if err := json.Unmarshal([]byte(payload), &ev); err != nil {
			return nil, fmt.Errorf("decode event: %w", err)
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

func (s *SQLiteStore) Setting(ctx context.Context, key string) (string, error) {
	var v string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("setting %q: %w", key, ErrNotFound)
	}
	return v, err
}

func (s *SQLiteStore) SetSetting(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO settings (key, value, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, s.now().UTC().Format(time.RFC3339))
	return err
}

// Settings returns every stored setting.
func (s *SQLiteStore) Settings(ctx context.Context) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key, value FROM settings ORDER BY key`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := map[string]string{}
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, err
		}
		out[k] = v
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
