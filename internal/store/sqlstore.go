package store

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"rpreport/internal/reporting"
	"rpreport/internal/rp"

	_ "modernc.org/sqlite"
)

// nowUTC returns the current UTC time as an ISO 8601 string.
func nowUTC() string { return time.Now().UTC().Format(time.RFC3339) }

// nullStr converts a sql.NullString to a plain string (empty if null).
func nullStr(ns sql.NullString) string {
	if ns.Valid {
		return ns.String
	}
	return ""
}

func nilIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func toMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}

// currentSchemaVersion is the target schema version for this build.
const currentSchemaVersion = schemaVersionV2

// SqlStore implements Store with SQLite.
type SqlStore struct {
	db *sql.DB
}

// Open opens or creates a SQLite DB at path and runs migrations.
// Creates the parent directory (e.g. .rpreport) if it does not exist.
func Open(path string) (*SqlStore, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create store dir: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	s := &SqlStore{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SqlStore) migrate() error {
	var tableCount int
	err := s.db.QueryRow(
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='schema_version'",
	).Scan(&tableCount)
	if err != nil {
		return fmt.Errorf("check schema_version table: %w", err)
	}

	if tableCount == 0 {
		return s.freshInstall()
	}

	var v int
	err = s.db.QueryRow("SELECT version FROM schema_version LIMIT 1").Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		// schema_version exists but is empty: treat as v1.
		v = schemaVersionV1
		if _, err := s.db.Exec("INSERT INTO schema_version(version) VALUES(?)", v); err != nil {
			return fmt.Errorf("set schema version: %w", err)
		}
	} else if err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}

	switch v {
	case currentSchemaVersion:
		return nil
	case schemaVersionV1:
		return s.migrateV1ToV2()
	default:
		return fmt.Errorf("unknown schema version %d", v)
	}
}

func (s *SqlStore) freshInstall() error {
	if _, err := s.db.Exec(schemaV2); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	if _, err := s.db.Exec("INSERT INTO schema_version(version) VALUES(?)", currentSchemaVersion); err != nil {
		return fmt.Errorf("set schema version: %w", err)
	}
	return nil
}

// migrateV1ToV2 runs inside a transaction so a failed upgrade leaves v1 intact.
func (s *SqlStore) migrateV1ToV2() error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin migration tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(migrationV1ToV2); err != nil {
		return fmt.Errorf("v1→v2 migration: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit migration tx: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *SqlStore) Close() error {
	return s.db.Close()
}

// SaveSession implements Store.
func (s *SqlStore) SaveSession(name string, snap *reporting.Snapshot) error {
	if snap == nil {
		return errors.New("snapshot is nil")
	}
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin save tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := deleteSession(tx, name); err != nil {
		return err
	}
	if _, err := tx.Exec(
		`INSERT INTO sessions(name, launch_uuid, launch_state, updated_at) VALUES(?, ?, ?, ?)`,
		name, snap.LaunchUUID, snap.LaunchState.String(), nowUTC(),
	); err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	for i, it := range snap.Items {
		if _, err := tx.Exec(
			`INSERT INTO items(session, seq, uuid, name, type, parent_uuid, state, start_time)
			 VALUES(?, ?, ?, ?, ?, ?, ?, ?)`,
			name, i, it.UUID, it.Name, string(it.Type), nilIfEmpty(it.ParentUUID),
			it.State.String(), toMillis(it.StartTime),
		); err != nil {
			return fmt.Errorf("insert item %s: %w", it.UUID, err)
		}
	}
	for key, uuid := range snap.Suites {
		if _, err := tx.Exec(
			`INSERT INTO suite_paths(session, path_key, uuid) VALUES(?, ?, ?)`,
			name, key, uuid,
		); err != nil {
			return fmt.Errorf("insert suite path: %w", err)
		}
	}
	for i, rec := range snap.Pending {
		var attName, attMIME any
		var attData []byte
		if rec.Attachment != nil {
			attName, attMIME = rec.Attachment.Name, rec.Attachment.MIME
			attData = rec.Attachment.Data
			if attData == nil {
				attData = []byte{}
			}
		}
		if _, err := tx.Exec(
			`INSERT INTO pending_logs(session, seq, time_ms, message, level, item_uuid, att_name, att_mime, att_data)
			 VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			name, i, toMillis(rec.Time), rec.Message, nilIfEmpty(string(rec.Level)),
			nilIfEmpty(rec.ItemUUID), attName, attMIME, attData,
		); err != nil {
			return fmt.Errorf("insert pending log: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit save tx: %w", err)
	}
	return nil
}

// LoadSession implements Store.
func (s *SqlStore) LoadSession(name string) (*reporting.Snapshot, error) {
	var launchUUID, state string
	err := s.db.QueryRow(
		`SELECT launch_uuid, launch_state FROM sessions WHERE name = ?`, name,
	).Scan(&launchUUID, &state)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	ls, err := reporting.ParseLaunchState(state)
	if err != nil {
		return nil, fmt.Errorf("session %s: %w", name, err)
	}
	snap := &reporting.Snapshot{LaunchUUID: launchUUID, LaunchState: ls}

	if snap.Items, err = s.loadItems(name); err != nil {
		return nil, err
	}
	if snap.Suites, err = s.loadSuites(name); err != nil {
		return nil, err
	}
	if snap.Pending, err = s.loadPending(name); err != nil {
		return nil, err
	}
	return snap, nil
}

func (s *SqlStore) loadItems(name string) ([]reporting.ItemInfo, error) {
	rows, err := s.db.Query(
		`SELECT uuid, name, type, parent_uuid, state, start_time
		 FROM items WHERE session = ? ORDER BY seq`, name,
	)
	if err != nil {
		return nil, fmt.Errorf("list items: %w", err)
	}
	defer rows.Close()
	var out []reporting.ItemInfo
	for rows.Next() {
		var it reporting.ItemInfo
		var typ, state string
		var parent sql.NullString
		var start int64
		if err := rows.Scan(&it.UUID, &it.Name, &typ, &parent, &state, &start); err != nil {
			return nil, fmt.Errorf("scan item: %w", err)
		}
		if it.State, err = reporting.ParseItemState(state); err != nil {
			return nil, fmt.Errorf("item %s: %w", it.UUID, err)
		}
		it.Type = rp.ItemType(typ)
		it.ParentUUID = nullStr(parent)
		it.StartTime = fromMillis(start)
		out = append(out, it)
	}
	return out, rows.Err()
}

func (s *SqlStore) loadSuites(name string) (map[string]string, error) {
	rows, err := s.db.Query(`SELECT path_key, uuid FROM suite_paths WHERE session = ?`, name)
	if err != nil {
		return nil, fmt.Errorf("list suite paths: %w", err)
	}
	defer rows.Close()
	out := make(map[string]string)
	for rows.Next() {
		var key, uuid string
		if err := rows.Scan(&key, &uuid); err != nil {
			return nil, fmt.Errorf("scan suite path: %w", err)
		}
		out[key] = uuid
	}
	return out, rows.Err()
}

func (s *SqlStore) loadPending(name string) ([]reporting.LogRecord, error) {
	rows, err := s.db.Query(
		`SELECT time_ms, message, level, item_uuid, att_name, att_mime, att_data
		 FROM pending_logs WHERE session = ? ORDER BY seq`, name,
	)
	if err != nil {
		return nil, fmt.Errorf("list pending logs: %w", err)
	}
	defer rows.Close()
	var out []reporting.LogRecord
	for rows.Next() {
		var rec reporting.LogRecord
		var ms int64
		var level, item, attName, attMIME sql.NullString
		var attData []byte
		if err := rows.Scan(&ms, &rec.Message, &level, &item, &attName, &attMIME, &attData); err != nil {
			return nil, fmt.Errorf("scan pending log: %w", err)
		}
		rec.Time = fromMillis(ms)
		rec.Level = rp.LogLevel(nullStr(level))
		rec.ItemUUID = nullStr(item)
		if attName.Valid {
			rec.Attachment = &reporting.Attachment{
				Name: attName.String,
				MIME: nullStr(attMIME),
				Data: attData,
			}
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// DeleteSession implements Store. Deleting an unknown session is a no-op.
func (s *SqlStore) DeleteSession(name string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin delete tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()
	if err := deleteSession(tx, name); err != nil {
		return err
	}
	return tx.Commit()
}

func deleteSession(tx *sql.Tx, name string) error {
	for _, table := range []string{"pending_logs", "suite_paths", "items", "sessions"} {
		col := "session"
		if table == "sessions" {
			col = "name"
		}
		if _, err := tx.Exec("DELETE FROM "+table+" WHERE "+col+" = ?", name); err != nil {
			return fmt.Errorf("clear %s: %w", table, err)
		}
	}
	return nil
}

// ListSessions implements Store, ordered by name.
func (s *SqlStore) ListSessions() ([]SessionRow, error) {
	rows, err := s.db.Query(`SELECT name, updated_at FROM sessions ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	type entry struct {
		name    string
		updated time.Time
	}
	var entries []entry
	for rows.Next() {
		var e entry
		var updated string
		if err := rows.Scan(&e.name, &updated); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan session: %w", err)
		}
		e.updated, _ = time.Parse(time.RFC3339, updated)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	out := make([]SessionRow, 0, len(entries))
	for _, e := range entries {
		snap, err := s.LoadSession(e.name)
		if err != nil {
			return nil, err
		}
		if snap == nil {
			continue
		}
		out = append(out, summarize(e.name, snap, e.updated))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}
