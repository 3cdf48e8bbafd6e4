package database

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"mdsync/internal/database/migrations"
	"mdsync/internal/mdsync"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// SQLiteDatabase implements mdsync.Database using SQLite.
type SQLiteDatabase struct {
	db    *sql.DB
	clock mdsync.Clock
	path  string
}

// NewSQLiteDatabase creates a new SQLite database connection.
// path can be a file path or ":memory:" for in-memory database.
// clock stamps kv updates; nil means the wall clock.
func NewSQLiteDatabase(path string, clock mdsync.Clock) (*SQLiteDatabase, error) {
	db, err := OpenConnection(path)
	if err != nil {
		return nil, err
	}
	return NewSQLiteDatabaseFromDB(db, path, clock), nil
}

// NewSQLiteDatabaseFromDB wraps an existing database connection.
// The caller is responsible for ensuring the connection is properly configured.
func NewSQLiteDatabaseFromDB(db *sql.DB, path string, clock mdsync.Clock) *SQLiteDatabase {
	if clock == nil {
		clock = mdsync.RealClock{}
	}
	return &SQLiteDatabase{db: db, clock: clock, path: path}
}

// OpenConnection opens and configures a SQLite database connection with appropriate PRAGMAs.
// path can be a file path or ":memory:" for in-memory database.
func OpenConnection(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// One connection: an in-memory database exists per connection, and SQLite
	// allows a single writer anyway. Concurrent readers queue on the pool.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	return db, nil
}

// Key-value entries

func (s *SQLiteDatabase) Get(key string) ([]byte, error) {
	var value []byte
	err := s.db.QueryRow("SELECT value FROM kv_entries WHERE key = ?", key).Scan(&value)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading key %s: %w", key, err)
	}
	if value == nil {
		value = []byte{}
	}
	return value, nil
}

func (s *SQLiteDatabase) Put(key string, value []byte) error {
	if value == nil {
		value = []byte{}
	}
	_, err := s.db.Exec(`
		INSERT INTO kv_entries (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, s.clock.Now().UTC())
	if err != nil {
		return fmt.Errorf("writing key %s: %w", key, err)
	}
	return nil
}

func (s *SQLiteDatabase) Delete(key string) error {
	if _, err := s.db.Exec("DELETE FROM kv_entries WHERE key = ?", key); err != nil {
		return fmt.Errorf("deleting key %s: %w", key, err)
	}
	return nil
}

// Vault handles

func (s *SQLiteDatabase) SaveHandle(rec *mdsync.HandleRecord) error {
	_, err := s.db.Exec(`
		INSERT INTO vault_handles (id, name, locator, added_at, last_opened) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET name = excluded.name, locator = excluded.locator,
			last_opened = excluded.last_opened`,
		rec.ID, rec.Name, rec.Locator, rec.AddedAt.UTC(), rec.LastOpened.UTC())
	if err != nil {
		return fmt.Errorf("saving vault handle %s: %w", rec.ID, err)
	}
	return nil
}

func (s *SQLiteDatabase) FindHandle(id string) (*mdsync.HandleRecord, error) {
	row := s.db.QueryRow(
		"SELECT id, name, locator, added_at, last_opened FROM vault_handles WHERE id = ?", id)
	rec, err := scanHandle(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // Not found
		}
		return nil, fmt.Errorf("finding vault handle %s: %w", id, err)
	}
	return rec, nil
}

func (s *SQLiteDatabase) ListHandles() ([]*mdsync.HandleRecord, error) {
	rows, err := s.db.Query(
		"SELECT id, name, locator, added_at, last_opened FROM vault_handles ORDER BY added_at, id")
	if err != nil {
		return nil, fmt.Errorf("listing vault handles: %w", err)
	}
	defer rows.Close()

	var result []*mdsync.HandleRecord
	for rows.Next() {
		rec, err := scanHandle(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning vault handle: %w", err)
		}
		result = append(result, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing vault handles: %w", err)
	}
	return result, nil
}

func (s *SQLiteDatabase) DeleteHandle(id string) error {
	if _, err := s.db.Exec("DELETE FROM vault_handles WHERE id = ?", id); err != nil {
		return fmt.Errorf("deleting vault handle %s: %w", id, err)
	}
	return nil
}

func (s *SQLiteDatabase) TouchHandle(id string, at time.Time) error {
	res, err := s.db.Exec("UPDATE vault_handles SET last_opened = ? WHERE id = ?", at.UTC(), id)
	if err != nil {
		return fmt.Errorf("touching vault handle %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("vault handle %s: %w", id, mdsync.ErrNotFound)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanHandle(row scanner) (*mdsync.HandleRecord, error) {
	var rec mdsync.HandleRecord
	if err := row.Scan(&rec.ID, &rec.Name, &rec.Locator, &rec.AddedAt, &rec.LastOpened); err != nil {
		return nil, err
	}
	return &rec, nil
}

// Sync operation history

func (s *SQLiteDatabase) CreateSyncOperation(vaultID, kind string, startedAt time.Time) (*mdsync.SyncOperation, error) {
	res, err := s.db.Exec(
		"INSERT INTO sync_operations (vault_id, kind, status, started_at) VALUES (?, ?, ?, ?)",
		vaultID, kind, mdsync.OpRunning, startedAt.UTC())
	if err != nil {
		return nil, fmt.Errorf("creating sync operation: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("creating sync operation: %w", err)
	}
	return &mdsync.SyncOperation{
		ID:        id,
		VaultID:   vaultID,
		Kind:      kind,
		Status:    mdsync.OpRunning,
		StartedAt: startedAt.UTC(),
	}, nil
}

func (s *SQLiteDatabase) FinishSyncOperation(id int64, status, message string, finishedAt time.Time) error {
	res, err := s.db.Exec(
		"UPDATE sync_operations SET status = ?, message = ?, finished_at = ? WHERE id = ?",
		status, message, finishedAt.UTC(), id)
	if err != nil {
		return fmt.Errorf("finishing sync operation: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("sync operation %d: %w", id, mdsync.ErrNotFound)
	}
	return nil
}

func (s *SQLiteDatabase) LastSuccessfulSync(vaultID, kind string) (*time.Time, error) {
	var finished sql.NullTime
	err := s.db.QueryRow(`
		SELECT finished_at FROM sync_operations
		WHERE vault_id = ? AND kind = ? AND status = ? AND finished_at IS NOT NULL
		ORDER BY finished_at DESC, id DESC LIMIT 1`,
		vaultID, kind, mdsync.OpSuccess).Scan(&finished)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("finding last sync: %w", err)
	}
	if !finished.Valid {
		return nil, nil
	}
	t := finished.Time
	return &t, nil
}

func (s *SQLiteDatabase) ListSyncOperations(vaultID string, limit int) ([]*mdsync.SyncOperation, error) {
	query := `SELECT id, vault_id, kind, status, message, started_at, finished_at
		FROM sync_operations`
	var args []any
	if vaultID != "" {
		query += " WHERE vault_id = ?"
		args = append(args, vaultID)
	}
	query += " ORDER BY id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing sync operations: %w", err)
	}
	defer rows.Close()

	var result []*mdsync.SyncOperation
	for rows.Next() {
		var op mdsync.SyncOperation
		var finished sql.NullTime
		if err := rows.Scan(&op.ID, &op.VaultID, &op.Kind, &op.Status, &op.Message, &op.StartedAt, &finished); err != nil {
			return nil, fmt.Errorf("scanning sync operation: %w", err)
		}
		if finished.Valid {
			t := finished.Time
			op.FinishedAt = &t
		}
		result = append(result, &op)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing sync operations: %w", err)
	}
	return result, nil
}

// Path returns the database file path (or ":memory:" for in-memory databases).
func (s *SQLiteDatabase) Path() string {
	return s.path
}

// Migrate applies pending schema migrations.
func (s *SQLiteDatabase) Migrate() error {
	return migrations.MigrateUp(s.db)
}

// CheckMigrations verifies the database schema is up-to-date.
func (s *SQLiteDatabase) CheckMigrations() error {
	return migrations.CheckDBMigrationStatus(s.db)
}

// BackupTo creates a complete copy of the database at destPath using VACUUM INTO.
func (s *SQLiteDatabase) BackupTo(destPath string) error {
	_, err := s.db.Exec("VACUUM INTO ?", destPath)
	if err != nil {
		return fmt.Errorf("backing up database: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteDatabase) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

var _ mdsync.Database = (*SQLiteDatabase)(nil)
