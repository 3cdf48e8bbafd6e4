package migrations

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed files/*.sql
var migrationFiles embed.FS

// stateTables maps each table of the state database to the schema version
// that creates it.
var stateTables = map[string]uint{
	"kv_entries":      1,
	"vault_handles":   1,
	"sync_operations": 2,
}

// ErrNoSchema is returned for a state database that has never been migrated.
var ErrNoSchema = errors.New("state database has no schema version")

// CheckDBMigrationStatus verifies that the state database is at the latest
// schema version and that every state table exists. Errors name the tables a
// pending migration would create or the tables found missing.
func CheckDBMigrationStatus(db *sql.DB) error {
	m, err := newMigrate(db)
	if err != nil {
		return err
	}
	// m is not closed: closing it closes db, which the caller owns.

	latest, err := latestVersion()
	if err != nil {
		return err
	}

	version, dirty, err := m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return fmt.Errorf("%w (run migrations to create %s)", ErrNoSchema, strings.Join(tablesAfter(0, latest), ", "))
	}
	if err != nil {
		return fmt.Errorf("reading state schema version: %w", err)
	}
	if dirty {
		return fmt.Errorf("state database is dirty at version %d (a migration failed part way)", version)
	}
	if version < latest {
		return fmt.Errorf("state database is at version %d, latest is %d (missing %s)",
			version, latest, strings.Join(tablesAfter(version, latest), ", "))
	}
	if version > latest {
		return fmt.Errorf("state database version %d is newer than this binary supports (%d)", version, latest)
	}

	missing, err := missingTables(db)
	if err != nil {
		return err
	}
	if len(missing) > 0 {
		return fmt.Errorf("state database at version %d lacks tables: %s", version, strings.Join(missing, ", "))
	}
	return nil
}

// MigrateUp runs all pending migrations. An up-to-date database is not an error.
func MigrateUp(db *sql.DB) error {
	m, err := newMigrate(db)
	if err != nil {
		return err
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migrating state database: %w", err)
	}
	return nil
}

func newMigrate(db *sql.DB) (*migrate.Migrate, error) {
	src, err := iofs.New(migrationFiles, "files")
	if err != nil {
		return nil, fmt.Errorf("loading state migrations: %w", err)
	}
	driver, err := sqlite3.WithInstance(db, &sqlite3.Config{})
	if err != nil {
		src.Close()
		return nil, fmt.Errorf("opening state database for migration: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite3", driver)
	if err != nil {
		src.Close()
		return nil, fmt.Errorf("preparing state migrations: %w", err)
	}
	return m, nil
}

func latestVersion() (uint, error) {
	src, err := iofs.New(migrationFiles, "files")
	if err != nil {
		return 0, fmt.Errorf("loading state migrations: %w", err)
	}
	defer src.Close()
	return lastVersion(src)
}

// lastVersion walks the source to its final migration.
func lastVersion(src source.Driver) (uint, error) {
	v, err := src.First()
	if err != nil {
		return 0, fmt.Errorf("reading first state migration: %w", err)
	}
	for {
		next, err := src.Next(v)
		if errors.Is(err, fs.ErrNotExist) {
			return v, nil
		}
		if err != nil {
			return 0, fmt.Errorf("reading state migration after %d: %w", v, err)
		}
		v = next
	}
}

// tablesAfter lists, sorted, the tables created by versions in (from, to].
func tablesAfter(from, to uint) []string {
	var names []string
	for name, v := range stateTables {
		if v > from && v <= to {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

func missingTables(db *sql.DB) ([]string, error) {
	var missing []string
	for _, name := range tablesAfter(0, ^uint(0)) {
		var found string
		err := db.QueryRow("SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?", name).Scan(&found)
		if errors.Is(err, sql.ErrNoRows) {
			missing = append(missing, name)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("looking up state table %s: %w", name, err)
		}
	}
	return missing, nil
}
