package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"modidx/internal/database/migrations"
	"modidx/internal/modidx"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// MemoryPath opens a private in-memory database.
const MemoryPath = ":memory:"

// SQLiteDatabase is the persistent store. It owns exactly one connection,
// shared by every caller; statements from concurrent callers are serialized
// by that connection.
type SQLiteDatabase struct {
	db   *sql.DB
	path string
}

// NewSQLiteDatabase opens the store at path, creating parent directories
// as needed. path can be a file path or ":memory:" for an in-memory database.
// The schema is not touched; call Initialize before use.
func NewSQLiteDatabase(path string) (*SQLiteDatabase, error) {
	if path != MemoryPath {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, storeErr("creating database directory", err)
		}
	}

	db, err := OpenConnection(path)
	if err != nil {
		return nil, err
	}

	return &SQLiteDatabase{
		db:   db,
		path: path,
	}, nil
}

// OpenConnection opens and configures a SQLite database connection with appropriate PRAGMAs.
// The pool is capped at one connection: an in-memory database lives only as
// long as its connection, and a single writer keeps scan statements ordered.
func OpenConnection(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, storeErr("opening database", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	// Enable foreign key constraints (SQLite default is OFF for backward compatibility)
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, storeErr("enabling foreign keys", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, storeErr("setting busy timeout", err)
	}

	return db, nil
}

// Initialize applies pending migrations and then makes sure the file index
// table exists. It must run before any other component uses the store.
func (s *SQLiteDatabase) Initialize(ctx context.Context) error {
	if err := migrations.MigrateUp(ctx, s.db); err != nil {
		return err
	}
	return s.EnsureFileIndexSchema(ctx)
}

// CheckMigrations verifies the database schema is up-to-date.
func (s *SQLiteDatabase) CheckMigrations(ctx context.Context) error {
	return migrations.CheckDBMigrationStatus(ctx, s.db)
}

// Exec runs one parameterized statement outside any explicit transaction.
func (s *SQLiteDatabase) Exec(ctx context.Context, stmt string, args ...any) (sql.Result, error) {
	res, err := s.db.ExecContext(ctx, stmt, args...)
	if err != nil {
		return nil, storeErr("exec", err)
	}
	return res, nil
}

// ExecBatch runs stmt once per argument list inside one transaction and
// returns the total number of affected rows.
func (s *SQLiteDatabase) ExecBatch(ctx context.Context, stmt string, argsSeq [][]any) (int64, error) {
	tx, err := s.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	n, err := tx.ExecBatch(ctx, stmt, argsSeq)
	if err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return n, nil
}

// Query runs a parameterized query. The caller must close the rows.
func (s *SQLiteDatabase) Query(ctx context.Context, stmt string, args ...any) (*sql.Rows, error) {
	rows, err := s.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, storeErr("query", err)
	}
	return rows, nil
}

// Begin starts a transaction. Writes made through it become visible on Commit.
func (s *SQLiteDatabase) Begin(ctx context.Context) (*Tx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, storeErr("starting transaction", err)
	}
	return &Tx{tx: tx}, nil
}

// Path returns the database file path (or ":memory:" for in-memory databases).
func (s *SQLiteDatabase) Path() string {
	return s.path
}

// BackupTo creates a complete copy of the database at destPath using VACUUM INTO.
func (s *SQLiteDatabase) BackupTo(destPath string) error {
	_, err := s.db.Exec("VACUUM INTO ?", destPath)
	if err != nil {
		return storeErr("backing up database", err)
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteDatabase) Close() error {
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			return storeErr("closing database", err)
		}
	}
	return nil
}

// Tx is an open transaction on the store.
type Tx struct {
	tx *sql.Tx
}

// Exec runs one parameterized statement inside the transaction.
func (t *Tx) Exec(ctx context.Context, stmt string, args ...any) (sql.Result, error) {
	res, err := t.tx.ExecContext(ctx, stmt, args...)
	if err != nil {
		return nil, storeErr("exec", err)
	}
	return res, nil
}

// ExecBatch prepares stmt once and runs it for every argument list.
func (t *Tx) ExecBatch(ctx context.Context, stmt string, argsSeq [][]any) (int64, error) {
	if len(argsSeq) == 0 {
		return 0, nil
	}

	prepared, err := t.tx.PrepareContext(ctx, stmt)
	if err != nil {
		return 0, storeErr("preparing batch", err)
	}
	defer prepared.Close()

	var total int64
	for _, args := range argsSeq {
		res, err := prepared.ExecContext(ctx, args...)
		if err != nil {
			return total, storeErr("exec batch", err)
		}
		if n, err := res.RowsAffected(); err == nil {
			total += n
		}
	}
	return total, nil
}

// Query runs a parameterized query inside the transaction.
func (t *Tx) Query(ctx context.Context, stmt string, args ...any) (*sql.Rows, error) {
	rows, err := t.tx.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, storeErr("query", err)
	}
	return rows, nil
}

// Commit makes every write of the transaction durable.
func (t *Tx) Commit() error {
	if err := t.tx.Commit(); err != nil {
		return storeErr("committing transaction", err)
	}
	return nil
}

// Rollback discards the transaction. Calling it after Commit is a no-op.
func (t *Tx) Rollback() error {
	if err := t.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return storeErr("rolling back transaction", err)
	}
	return nil
}

// storeErr wraps err as a *modidx.StoreIOError. Context cancellation and
// deadline errors are returned as-is: the store did not fail, the caller
// gave up.
func storeErr(op string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return &modidx.StoreIOError{Op: op, Err: err}
}

// Compile-time check that SQLiteDatabase implements modidx.Database interface
var _ modidx.Database = (*SQLiteDatabase)(nil)
