package state

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/TheMichaelB/drivesync/internal/events"
	"github.com/TheMichaelB/drivesync/internal/models"
)

// SQLiteStore persists the pending log in a SQLite database. Each Save is one
// transaction, so a crash never leaves a half-written queue.
type SQLiteStore struct {
	db     *sql.DB
	path   string
	logger *events.Logger
}

// NewSQLiteStore opens (and if needed creates) the pending-log database.
func NewSQLiteStore(path string, logger *events.Logger) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("create state directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open pending database: %w", err)
	}

	store := &SQLiteStore{
		db:     db,
		path:   path,
		logger: logger.WithField("component", "sqlite_pending_store"),
	}

	if err := store.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS pending_items (
		seq           INTEGER PRIMARY KEY AUTOINCREMENT,
		action        TEXT NOT NULL,
		file_id       TEXT NOT NULL,
		ts_unix_ms    INTEGER NOT NULL,
		new_file_name TEXT NOT NULL DEFAULT '',
		is_binary     INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS final_names (
		file_id TEXT PRIMARY KEY,
		path    TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS resolved_ids (
		surrogate_id TEXT PRIMARY KEY,
		remote_id    TEXT NOT NULL
	);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("migrate pending database: %w", err)
	}
	return nil
}

// Load reads the persisted pending state.
func (s *SQLiteStore) Load() (*PendingState, error) {
	state := NewPendingState()

	rows, err := s.db.Query(
		`SELECT action, file_id, ts_unix_ms, new_file_name, is_binary
		 FROM pending_items ORDER BY seq`)
	if err != nil {
		return nil, fmt.Errorf("load pending items: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			action   string
			fileID   string
			tsMillis int64
			newName  string
			isBinary int
		)
		if err := rows.Scan(&action, &fileID, &tsMillis, &newName, &isBinary); err != nil {
			return nil, fmt.Errorf("scan pending item: %w", err)
		}
		state.Items = append(state.Items, models.PendingSyncItem{
			Action:       models.PendingAction(action),
			FileID:       fileID,
			TimeStamp:    time.UnixMilli(tsMillis).UTC(),
			NewFileName:  newName,
			IsBinaryFile: isBinary != 0,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pending items: %w", err)
	}

	if err := s.loadMap("SELECT file_id, path FROM final_names", state.FinalNames); err != nil {
		return nil, err
	}
	if err := s.loadMap("SELECT surrogate_id, remote_id FROM resolved_ids", state.ResolvedIDs); err != nil {
		return nil, err
	}

	return state, nil
}

func (s *SQLiteStore) loadMap(query string, dst map[string]string) error {
	rows, err := s.db.Query(query)
	if err != nil {
		return fmt.Errorf("load pending map: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return fmt.Errorf("scan pending map: %w", err)
		}
		dst[key] = value
	}
	return rows.Err()
}

// Save replaces the persisted state in a single transaction.
func (s *SQLiteStore) Save(state *PendingState) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin save: %w", err)
	}
	defer tx.Rollback()

	for _, table := range []string{"pending_items", "final_names", "resolved_ids"} {
		if _, err := tx.Exec("DELETE FROM " + table); err != nil {
			return fmt.Errorf("clear %s: %w", table, err)
		}
	}

	insert, err := tx.Prepare(
		`INSERT INTO pending_items (action, file_id, ts_unix_ms, new_file_name, is_binary)
		 VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer insert.Close()

	for _, item := range state.Items {
		binary := 0
		if item.IsBinaryFile {
			binary = 1
		}
		if _, err := insert.Exec(
			string(item.Action), item.FileID, item.TimeStamp.UnixMilli(),
			item.NewFileName, binary); err != nil {
			return fmt.Errorf("insert pending item: %w", err)
		}
	}

	for id, path := range state.FinalNames {
		if _, err := tx.Exec(
			"INSERT INTO final_names (file_id, path) VALUES (?, ?)", id, path); err != nil {
			return fmt.Errorf("insert final name: %w", err)
		}
	}
	for surrogate, real := range state.ResolvedIDs {
		if _, err := tx.Exec(
			"INSERT INTO resolved_ids (surrogate_id, remote_id) VALUES (?, ?)",
			surrogate, real); err != nil {
			return fmt.Errorf("insert resolved id: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit save: %w", err)
	}
	return nil
}

// Reset drops all persisted state.
func (s *SQLiteStore) Reset() error {
	for _, table := range []string{"pending_items", "final_names", "resolved_ids"} {
		if _, err := s.db.Exec("DELETE FROM " + table); err != nil {
			return fmt.Errorf("reset %s: %w", table, err)
		}
	}
	return nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
