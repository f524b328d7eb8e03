package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"modidx/internal/modidx"
)

const fileIndexSchema = `
CREATE TABLE IF NOT EXISTS file_index (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	abs_path TEXT NOT NULL UNIQUE,
	rel_path TEXT NOT NULL,
	file_name TEXT NOT NULL,
	extension TEXT NOT NULL DEFAULT '',
	size INTEGER NOT NULL,
	mtime REAL NOT NULL,
	quick_signature TEXT NOT NULL,
	checksum TEXT,
	first_seen_at TEXT NOT NULL,
	last_seen_at TEXT NOT NULL,
	status TEXT NOT NULL DEFAULT 'normal',
	source TEXT NOT NULL DEFAULT 'external'
);
CREATE INDEX IF NOT EXISTS idx_file_index_abs_path ON file_index(abs_path);
`

const entryColumns = `abs_path, rel_path, file_name, extension, size, mtime, quick_signature,
	checksum, first_seen_at, last_seen_at, status, source`

// EnsureFileIndexSchema creates the file_index table and its abs_path index.
func (s *SQLiteDatabase) EnsureFileIndexSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, fileIndexSchema); err != nil {
		return storeErr("creating file_index schema", err)
	}
	return nil
}

// LoadIndexEntries returns every entry at or below root, keyed by abs_path.
func (s *SQLiteDatabase) LoadIndexEntries(ctx context.Context, root string) (map[string]*modidx.IndexEntry, error) {
	prefix := root
	if !strings.HasSuffix(prefix, string(filepath.Separator)) {
		prefix += string(filepath.Separator)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+entryColumns+` FROM file_index
		 WHERE abs_path = ? OR abs_path LIKE ? ESCAPE '\'`,
		root, escapeLike(prefix)+"%",
	)
	if err != nil {
		return nil, storeErr("loading index entries", err)
	}
	defer rows.Close()

	entries := make(map[string]*modidx.IndexEntry)
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, storeErr("loading index entries", err)
		}
		entries[e.AbsPath] = e
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("loading index entries", err)
	}
	return entries, nil
}

// ListIndexEntries returns entries ordered by abs_path, optionally filtered by status.
func (s *SQLiteDatabase) ListIndexEntries(ctx context.Context, status modidx.Status) ([]*modidx.IndexEntry, error) {
	query := `SELECT ` + entryColumns + ` FROM file_index`
	var args []any
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, string(status))
	}
	query += ` ORDER BY abs_path`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storeErr("listing index entries", err)
	}
	defer rows.Close()

	var entries []*modidx.IndexEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, storeErr("listing index entries", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("listing index entries", err)
	}
	return entries, nil
}

// FindIndexEntry returns the entry for absPath, or nil if not found.
func (s *SQLiteDatabase) FindIndexEntry(ctx context.Context, absPath string) (*modidx.IndexEntry, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+entryColumns+` FROM file_index WHERE abs_path = ?`, absPath)
	e, err := scanEntry(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // Not found
		}
		return nil, storeErr("finding index entry", err)
	}
	return e, nil
}

// BeginScan opens the transaction one scan writes through.
func (s *SQLiteDatabase) BeginScan(ctx context.Context) (modidx.ScanWriter, error) {
	tx, err := s.Begin(ctx)
	if err != nil {
		return nil, err
	}
	return &scanTx{ctx: ctx, tx: tx}, nil
}

// scanTx implements modidx.ScanWriter on top of a store transaction.
type scanTx struct {
	ctx context.Context
	tx  *Tx
}

func (t *scanTx) InsertEntry(e *modidx.IndexEntry) error {
	_, err := t.tx.Exec(t.ctx,
		`INSERT INTO file_index (`+entryColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.AbsPath, e.RelPath, e.FileName, e.Extension, e.Size, e.MTime, e.QuickSignature,
		e.Checksum,
		modidx.FormatTimestamp(e.FirstSeenAt), modidx.FormatTimestamp(e.LastSeenAt),
		string(e.Status), e.Source,
	)
	if err != nil {
		return fmt.Errorf("inserting %s: %w", e.AbsPath, err)
	}
	return nil
}

func (t *scanTx) UpdateEntry(e *modidx.IndexEntry) error {
	_, err := t.tx.Exec(t.ctx,
		`UPDATE file_index
		 SET rel_path = ?, file_name = ?, extension = ?, size = ?, mtime = ?,
		     quick_signature = ?, last_seen_at = ?, status = ?
		 WHERE abs_path = ?`,
		e.RelPath, e.FileName, e.Extension, e.Size, e.MTime,
		e.QuickSignature, modidx.FormatTimestamp(e.LastSeenAt), string(e.Status),
		e.AbsPath,
	)
	if err != nil {
		return fmt.Errorf("updating %s: %w", e.AbsPath, err)
	}
	return nil
}

func (t *scanTx) TouchEntry(absPath string, seenAt time.Time, status modidx.Status) error {
	_, err := t.tx.Exec(t.ctx,
		`UPDATE file_index SET last_seen_at = ?, status = ? WHERE abs_path = ?`,
		modidx.FormatTimestamp(seenAt), string(status), absPath,
	)
	if err != nil {
		return fmt.Errorf("touching %s: %w", absPath, err)
	}
	return nil
}

func (t *scanTx) MarkMissing(absPaths []string, seenAt time.Time) error {
	ts := modidx.FormatTimestamp(seenAt)
	argsSeq := make([][]any, len(absPaths))
	for i, p := range absPaths {
		argsSeq[i] = []any{string(modidx.StatusMissing), ts, p}
	}
	_, err := t.tx.ExecBatch(t.ctx,
		`UPDATE file_index SET status = ?, last_seen_at = ? WHERE abs_path = ?`, argsSeq)
	return err
}

func (t *scanTx) Commit() error   { return t.tx.Commit() }
func (t *scanTx) Rollback() error { return t.tx.Rollback() }

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (*modidx.IndexEntry, error) {
	var (
		e         modidx.IndexEntry
		checksum  sql.NullString
		firstSeen string
		lastSeen  string
		status    string
	)
	err := row.Scan(
		&e.AbsPath, &e.RelPath, &e.FileName, &e.Extension, &e.Size, &e.MTime, &e.QuickSignature,
		&checksum, &firstSeen, &lastSeen, &status, &e.Source,
	)
	if err != nil {
		return nil, err
	}

	if checksum.Valid {
		e.Checksum = &checksum.String
	}
	e.Status = modidx.Status(status)
	if e.FirstSeenAt, err = modidx.ParseTimestamp(firstSeen); err != nil {
		return nil, fmt.Errorf("parsing first_seen_at of %s: %w", e.AbsPath, err)
	}
	if e.LastSeenAt, err = modidx.ParseTimestamp(lastSeen); err != nil {
		return nil, fmt.Errorf("parsing last_seen_at of %s: %w", e.AbsPath, err)
	}
	return &e, nil
}

// escapeLike escapes the LIKE wildcards in s using '\' as escape character.
func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
