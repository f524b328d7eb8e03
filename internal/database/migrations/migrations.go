// Package migrations holds the ordered, immutable set of schema changes for
// the index store and applies the ones a database has not seen yet.
//
// Scripts are embedded from files/ and named NNNN_description.up.sql. Every
// applied version gets its own row in schema_version; the existence of that
// row is the only thing consulted when deciding whether to run a script, so a
// shipped script must never be edited without adding a new version.
package migrations

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"sort"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4/source"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed files/*.sql
var migrationFiles embed.FS

const createVersionTable = `
CREATE TABLE IF NOT EXISTS schema_version (
	version INTEGER PRIMARY KEY,
	applied_at TEXT NOT NULL
)`

// Migration is one versioned schema change.
type Migration struct {
	Version uint
	Name    string
	Script  string
}

// MigrationError reports a migration that could not be applied. A database
// that returns one must not be used.
type MigrationError struct {
	Version uint
	Name    string
	Err     error
}

func (e *MigrationError) Error() string {
	return fmt.Sprintf("migration %d (%s) failed: %v", e.Version, e.Name, e.Err)
}

func (e *MigrationError) Unwrap() error { return e.Err }

// Set is an ordered list of migrations, ascending by version.
type Set struct {
	migrations []Migration
}

// Default returns the migrations compiled into the binary.
func Default() (*Set, error) {
	return Load(migrationFiles, "files")
}

// Load reads every up-migration under dir in fsys.
func Load(fsys fs.FS, dir string) (*Set, error) {
	src, err := iofs.New(fsys, dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read migration files: %w", err)
	}
	defer src.Close()

	var set Set
	version, err := src.First()
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return &set, nil // no migrations at all
		}
		return nil, fmt.Errorf("failed to read first migration: %w", err)
	}

	for {
		m, ok, err := readUp(src, version)
		if err != nil {
			return nil, err
		}
		if ok {
			set.migrations = append(set.migrations, m)
		}

		next, err := src.Next(version)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				break
			}
			return nil, fmt.Errorf("failed to read migration after %d: %w", version, err)
		}
		version = next
	}

	sort.Slice(set.migrations, func(i, j int) bool {
		return set.migrations[i].Version < set.migrations[j].Version
	})
	return &set, nil
}

// readUp returns the up script for version. ok is false for a version that
// only ships a down script.
func readUp(src source.Driver, version uint) (Migration, bool, error) {
	r, name, err := src.ReadUp(version)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Migration{}, false, nil
		}
		return Migration{}, false, fmt.Errorf("failed to open migration %d: %w", version, err)
	}
	defer r.Close()

	body, err := io.ReadAll(r)
	if err != nil {
		return Migration{}, false, fmt.Errorf("failed to read migration %d: %w", version, err)
	}
	return Migration{Version: version, Name: name, Script: string(body)}, true, nil
}

// Migrations returns a copy of the ordered migration list.
func (s *Set) Migrations() []Migration {
	out := make([]Migration, len(s.migrations))
	copy(out, s.migrations)
	return out
}

// Latest returns the highest version in the set, or 0 if it is empty.
func (s *Set) Latest() uint {
	if len(s.migrations) == 0 {
		return 0
	}
	return s.migrations[len(s.migrations)-1].Version
}

// ApplyAll runs, in ascending order, every migration without a schema_version
// row. Each migration and its version row commit together, so a failure
// leaves all earlier migrations applied and the failing one absent.
// It returns the versions that were applied by this call.
func (s *Set) ApplyAll(ctx context.Context, db *sql.DB) ([]uint, error) {
	applied, err := appliedVersions(ctx, db)
	if err != nil {
		return nil, err
	}

	var done []uint
	for _, m := range s.migrations {
		if applied[m.Version] {
			continue
		}
		if err := apply(ctx, db, m); err != nil {
			return done, &MigrationError{Version: m.Version, Name: m.Name, Err: err}
		}
		done = append(done, m.Version)
	}
	return done, nil
}

func apply(ctx context.Context, db *sql.DB, m Migration) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	if strings.TrimSpace(m.Script) != "" {
		if _, err := tx.ExecContext(ctx, m.Script); err != nil {
			return fmt.Errorf("executing script: %w", err)
		}
	}

	if _, err := tx.ExecContext(ctx,
		"INSERT INTO schema_version (version, applied_at) VALUES (?, ?)",
		m.Version, time.Now().Format("2006-01-02T15:04:05"),
	); err != nil {
		return fmt.Errorf("recording version: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing: %w", err)
	}
	return nil
}

// Pending returns the versions of the set that the database has not applied.
func (s *Set) Pending(ctx context.Context, db *sql.DB) ([]uint, error) {
	applied, err := appliedVersions(ctx, db)
	if err != nil {
		return nil, err
	}

	var pending []uint
	for _, m := range s.migrations {
		if !applied[m.Version] {
			pending = append(pending, m.Version)
		}
	}
	return pending, nil
}

// CheckStatus verifies that the database is exactly at this set's schema.
func (s *Set) CheckStatus(ctx context.Context, db *sql.DB) error {
	applied, err := appliedVersions(ctx, db)
	if err != nil {
		return err
	}
	if len(applied) == 0 && len(s.migrations) > 0 {
		return fmt.Errorf("database has no schema version (needs migration)")
	}

	known := make(map[uint]bool, len(s.migrations))
	var pending int
	for _, m := range s.migrations {
		known[m.Version] = true
		if !applied[m.Version] {
			pending++
		}
	}

	for v := range applied {
		if !known[v] {
			return fmt.Errorf("database has version %d unknown to this binary (binary needs update)", v)
		}
	}
	if pending > 0 {
		return fmt.Errorf("database is %d migrations behind (latest is %d)", pending, s.Latest())
	}
	return nil
}

// appliedVersions creates the tracking table if needed and reads it.
func appliedVersions(ctx context.Context, db *sql.DB) (map[uint]bool, error) {
	if _, err := db.ExecContext(ctx, createVersionTable); err != nil {
		return nil, &MigrationError{Name: "schema_version", Err: err}
	}

	rows, err := db.QueryContext(ctx, "SELECT version FROM schema_version")
	if err != nil {
		return nil, fmt.Errorf("failed to read applied versions: %w", err)
	}
	defer rows.Close()

	applied := make(map[uint]bool)
	for rows.Next() {
		var v int64
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("failed to scan applied version: %w", err)
		}
		applied[uint(v)] = true
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read applied versions: %w", err)
	}
	return applied, nil
}

// MigrateUp runs all pending embedded migrations to bring database to latest version.
func MigrateUp(ctx context.Context, db *sql.DB) error {
	set, err := Default()
	if err != nil {
		return err
	}
	if _, err := set.ApplyAll(ctx, db); err != nil {
		return err
	}
	return nil
}

// CheckDBMigrationStatus verifies that the database schema is up-to-date
// with the embedded migrations.
func CheckDBMigrationStatus(ctx context.Context, db *sql.DB) error {
	set, err := Default()
	if err != nil {
		return err
	}
	return set.CheckStatus(ctx, db)
}
