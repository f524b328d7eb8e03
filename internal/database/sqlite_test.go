package database

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"modidx/internal/modidx"
)

// newTestDB creates a new in-memory database with migrations applied.
func newTestDB(t *testing.T) *SQLiteDatabase {
	t.Helper()

	db, err := NewSQLiteDatabase(MemoryPath)
	if err != nil {
		t.Fatalf("failed to create database: %v", err)
	}

	if err := db.Initialize(context.Background()); err != nil {
		db.Close()
		t.Fatalf("failed to initialize database: %v", err)
	}

	t.Cleanup(func() {
		db.Close()
	})

	return db
}

func testEntry(absPath string, size int64, mtime float64, seen time.Time) *modidx.IndexEntry {
	return &modidx.IndexEntry{
		AbsPath:        absPath,
		RelPath:        filepath.Base(absPath),
		FileName:       filepath.Base(absPath),
		Extension:      filepath.Ext(absPath),
		Size:           size,
		MTime:          mtime,
		QuickSignature: modidx.QuickSignature(size, mtime),
		FirstSeenAt:    seen,
		LastSeenAt:     seen,
		Status:         modidx.StatusNormal,
		Source:         modidx.DefaultSource,
	}
}

// insertEntries writes entries through one committed scan transaction.
func insertEntries(t *testing.T, db *SQLiteDatabase, entries ...*modidx.IndexEntry) {
	t.Helper()
	ctx := context.Background()

	w, err := db.BeginScan(ctx)
	if err != nil {
		t.Fatalf("BeginScan() error = %v", err)
	}
	for _, e := range entries {
		if err := w.InsertEntry(e); err != nil {
			w.Rollback()
			t.Fatalf("InsertEntry() error = %v", err)
		}
	}
	if err := w.Commit(); err != nil {
		t.Fatalf("Commit() error = %v", err)
	}
}

func TestSQLiteDatabase_Initialize(t *testing.T) {
	t.Run("creates every table and index", func(t *testing.T) {
		db := newTestDB(t)
		ctx := context.Background()

		for _, name := range []string{"schema_version", "op_log", "file_index", "idx_file_index_abs_path", "idx_op_log_created_at"} {
			rows, err := db.Query(ctx, "SELECT name FROM sqlite_master WHERE name = ?", name)
			if err != nil {
				t.Fatalf("Query() error = %v", err)
			}
			found := rows.Next()
			rows.Close()
			if !found {
				t.Errorf("%s was not created", name)
			}
		}
	})

	t.Run("is idempotent", func(t *testing.T) {
		db := newTestDB(t)
		ctx := context.Background()

		if err := db.Initialize(ctx); err != nil {
			t.Fatalf("second Initialize() error = %v", err)
		}
		if err := db.EnsureFileIndexSchema(ctx); err != nil {
			t.Fatalf("EnsureFileIndexSchema() error = %v", err)
		}

		rows, err := db.Query(ctx, "SELECT COUNT(*) FROM sqlite_master WHERE name = 'file_index'")
		if err != nil {
			t.Fatalf("Query() error = %v", err)
		}
		defer rows.Close()
		var count int
		if rows.Next() {
			rows.Scan(&count)
		}
		if count != 1 {
			t.Errorf("file_index tables = %d, want 1", count)
		}
	})
}

func TestSQLiteDatabase_ExecAndQuery(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	if _, err := db.Exec(ctx, "CREATE TABLE kv (k TEXT PRIMARY KEY, v INTEGER)"); err != nil {
		t.Fatalf("Exec() error = %v", err)
	}

	n, err := db.ExecBatch(ctx, "INSERT INTO kv (k, v) VALUES (?, ?)", [][]any{
		{"a", 1}, {"b", 2}, {"c", 3},
	})
	if err != nil {
		t.Fatalf("ExecBatch() error = %v", err)
	}
	if n != 3 {
		t.Errorf("ExecBatch() affected = %d, want 3", n)
	}

	rows, err := db.Query(ctx, "SELECT SUM(v) FROM kv")
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	defer rows.Close()
	var sum int
	if !rows.Next() {
		t.Fatal("Query() returned no rows")
	}
	if err := rows.Scan(&sum); err != nil {
		t.Fatalf("Scan() error = %v", err)
	}
	if sum != 6 {
		t.Errorf("SUM(v) = %d, want 6", sum)
	}
}

func TestSQLiteDatabase_ExecBatchIsAtomic(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	if _, err := db.Exec(ctx, "CREATE TABLE kv (k TEXT PRIMARY KEY)"); err != nil {
		t.Fatalf("Exec() error = %v", err)
	}

	_, err := db.ExecBatch(ctx, "INSERT INTO kv (k) VALUES (?)", [][]any{{"a"}, {"a"}})
	if err == nil {
		t.Fatal("ExecBatch() expected constraint error, got nil")
	}
	var storeErr *modidx.StoreIOError
	if !errors.As(err, &storeErr) {
		t.Errorf("ExecBatch() error = %T, want *modidx.StoreIOError", err)
	}

	rows, err := db.Query(ctx, "SELECT COUNT(*) FROM kv")
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	defer rows.Close()
	var count int
	rows.Next()
	rows.Scan(&count)
	if count != 0 {
		t.Errorf("rows after failed batch = %d, want 0", count)
	}
}

func TestSQLiteDatabase_Tx(t *testing.T) {
	t.Run("rollback discards writes", func(t *testing.T) {
		db := newTestDB(t)
		ctx := context.Background()
		db.Exec(ctx, "CREATE TABLE t (v INTEGER)")

		tx, err := db.Begin(ctx)
		if err != nil {
			t.Fatalf("Begin() error = %v", err)
		}
		if _, err := tx.Exec(ctx, "INSERT INTO t (v) VALUES (1)"); err != nil {
			t.Fatalf("Tx.Exec() error = %v", err)
		}
		if err := tx.Rollback(); err != nil {
			t.Fatalf("Rollback() error = %v", err)
		}

		rows, _ := db.Query(ctx, "SELECT COUNT(*) FROM t")
		defer rows.Close()
		var count int
		rows.Next()
		rows.Scan(&count)
		if count != 0 {
			t.Errorf("count = %d, want 0", count)
		}
	})

	t.Run("rollback after commit is a no-op", func(t *testing.T) {
		db := newTestDB(t)
		ctx := context.Background()

		tx, err := db.Begin(ctx)
		if err != nil {
			t.Fatalf("Begin() error = %v", err)
		}
		if err := tx.Commit(); err != nil {
			t.Fatalf("Commit() error = %v", err)
		}
		if err := tx.Rollback(); err != nil {
			t.Errorf("Rollback() after Commit() error = %v", err)
		}
	})
}

func TestSQLiteDatabase_StoreErrors(t *testing.T) {
	db := newTestDB(t)

	_, err := db.Exec(context.Background(), "INSERT INTO no_such_table VALUES (1)")
	if err == nil {
		t.Fatal("Exec() expected error, got nil")
	}
	var storeErr *modidx.StoreIOError
	if !errors.As(err, &storeErr) {
		t.Fatalf("Exec() error = %T, want *modidx.StoreIOError", err)
	}
	if storeErr.Op != "exec" {
		t.Errorf("StoreIOError.Op = %q, want %q", storeErr.Op, "exec")
	}
}

func TestSQLiteDatabase_CancelledContext(t *testing.T) {
	db := newTestDB(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := db.LoadIndexEntries(ctx, "/mods")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("LoadIndexEntries() error = %v, want context.Canceled", err)
	}
	var storeErr *modidx.StoreIOError
	if errors.As(err, &storeErr) {
		t.Errorf("cancellation reported as a store failure: %v", err)
	}
}

func TestSQLiteDatabase_IndexEntries(t *testing.T) {
	seen := time.Date(2024, 3, 1, 12, 0, 0, 0, time.Local)

	t.Run("insert and find", func(t *testing.T) {
		db := newTestDB(t)
		ctx := context.Background()
		insertEntries(t, db, testEntry("/mods/a.esp", 100, 1700000000.5, seen))

		got, err := db.FindIndexEntry(ctx, "/mods/a.esp")
		if err != nil {
			t.Fatalf("FindIndexEntry() error = %v", err)
		}
		if got == nil {
			t.Fatal("FindIndexEntry() returned nil")
		}
		if got.Size != 100 {
			t.Errorf("Size = %d, want 100", got.Size)
		}
		if got.MTime != 1700000000.5 {
			t.Errorf("MTime = %v, want 1700000000.5", got.MTime)
		}
		if got.QuickSignature != "100:1700000000.5" {
			t.Errorf("QuickSignature = %q, want %q", got.QuickSignature, "100:1700000000.5")
		}
		if got.Extension != ".esp" {
			t.Errorf("Extension = %q, want %q", got.Extension, ".esp")
		}
		if got.Checksum != nil {
			t.Errorf("Checksum = %v, want nil", *got.Checksum)
		}
		if !got.FirstSeenAt.Equal(seen) {
			t.Errorf("FirstSeenAt = %v, want %v", got.FirstSeenAt, seen)
		}
		if got.Status != modidx.StatusNormal {
			t.Errorf("Status = %q, want %q", got.Status, modidx.StatusNormal)
		}
	})

	t.Run("find returns nil when absent", func(t *testing.T) {
		db := newTestDB(t)

		got, err := db.FindIndexEntry(context.Background(), "/nope")
		if err != nil {
			t.Fatalf("FindIndexEntry() error = %v", err)
		}
		if got != nil {
			t.Errorf("FindIndexEntry() = %v, want nil", got)
		}
	})

	t.Run("abs_path is unique", func(t *testing.T) {
		db := newTestDB(t)
		insertEntries(t, db, testEntry("/mods/a.esp", 1, 1, seen))

		w, err := db.BeginScan(context.Background())
		if err != nil {
			t.Fatalf("BeginScan() error = %v", err)
		}
		defer w.Rollback()
		if err := w.InsertEntry(testEntry("/mods/a.esp", 2, 2, seen)); err == nil {
			t.Error("InsertEntry() duplicate expected error, got nil")
		}
	})

	t.Run("load is scoped to root", func(t *testing.T) {
		db := newTestDB(t)
		insertEntries(t, db,
			testEntry("/mods/a.esp", 1, 1, seen),
			testEntry("/mods/sub/b.esp", 1, 1, seen),
			testEntry("/mods2/c.esp", 1, 1, seen),
			testEntry("/modsXa/d.esp", 1, 1, seen),
		)

		got, err := db.LoadIndexEntries(context.Background(), "/mods")
		if err != nil {
			t.Fatalf("LoadIndexEntries() error = %v", err)
		}
		if len(got) != 2 {
			t.Fatalf("len(LoadIndexEntries()) = %d, want 2", len(got))
		}
		if _, ok := got["/mods/sub/b.esp"]; !ok {
			t.Error("nested entry not loaded")
		}
	})

	t.Run("load escapes like wildcards", func(t *testing.T) {
		db := newTestDB(t)
		insertEntries(t, db,
			testEntry("/mod_s/a.esp", 1, 1, seen),
			testEntry("/modXs/b.esp", 1, 1, seen),
		)

		got, err := db.LoadIndexEntries(context.Background(), "/mod_s")
		if err != nil {
			t.Fatalf("LoadIndexEntries() error = %v", err)
		}
		if len(got) != 1 {
			t.Errorf("len(LoadIndexEntries()) = %d, want 1", len(got))
		}
	})

	t.Run("update touch and mark missing", func(t *testing.T) {
		db := newTestDB(t)
		ctx := context.Background()
		insertEntries(t, db,
			testEntry("/mods/a.esp", 1, 1, seen),
			testEntry("/mods/b.esp", 1, 1, seen),
			testEntry("/mods/c.esp", 1, 1, seen),
		)
		later := seen.Add(time.Hour)

		w, err := db.BeginScan(ctx)
		if err != nil {
			t.Fatalf("BeginScan() error = %v", err)
		}
		changed := testEntry("/mods/a.esp", 5, 2, later)
		changed.Status = modidx.StatusChanged
		if err := w.UpdateEntry(changed); err != nil {
			t.Fatalf("UpdateEntry() error = %v", err)
		}
		if err := w.TouchEntry("/mods/b.esp", later, modidx.StatusNormal); err != nil {
			t.Fatalf("TouchEntry() error = %v", err)
		}
		if err := w.MarkMissing([]string{"/mods/c.esp"}, later); err != nil {
			t.Fatalf("MarkMissing() error = %v", err)
		}
		if err := w.Commit(); err != nil {
			t.Fatalf("Commit() error = %v", err)
		}

		a, _ := db.FindIndexEntry(ctx, "/mods/a.esp")
		if a.Status != modidx.StatusChanged || a.Size != 5 {
			t.Errorf("a = {Status:%s Size:%d}, want {changed 5}", a.Status, a.Size)
		}
		if !a.FirstSeenAt.Equal(seen) {
			t.Errorf("a.FirstSeenAt = %v, want %v (unchanged)", a.FirstSeenAt, seen)
		}

		b, _ := db.FindIndexEntry(ctx, "/mods/b.esp")
		if !b.LastSeenAt.Equal(later) {
			t.Errorf("b.LastSeenAt = %v, want %v", b.LastSeenAt, later)
		}

		c, _ := db.FindIndexEntry(ctx, "/mods/c.esp")
		if c.Status != modidx.StatusMissing {
			t.Errorf("c.Status = %q, want %q", c.Status, modidx.StatusMissing)
		}

		missing, err := db.ListIndexEntries(ctx, modidx.StatusMissing)
		if err != nil {
			t.Fatalf("ListIndexEntries() error = %v", err)
		}
		if len(missing) != 1 || missing[0].AbsPath != "/mods/c.esp" {
			t.Errorf("ListIndexEntries(missing) = %v, want [/mods/c.esp]", missing)
		}

		all, err := db.ListIndexEntries(ctx, "")
		if err != nil {
			t.Fatalf("ListIndexEntries() error = %v", err)
		}
		if len(all) != 3 {
			t.Errorf("len(ListIndexEntries(\"\")) = %d, want 3", len(all))
		}
	})

	t.Run("rollback discards scan", func(t *testing.T) {
		db := newTestDB(t)
		ctx := context.Background()

		w, err := db.BeginScan(ctx)
		if err != nil {
			t.Fatalf("BeginScan() error = %v", err)
		}
		if err := w.InsertEntry(testEntry("/mods/a.esp", 1, 1, seen)); err != nil {
			t.Fatalf("InsertEntry() error = %v", err)
		}
		if err := w.Rollback(); err != nil {
			t.Fatalf("Rollback() error = %v", err)
		}

		got, _ := db.FindIndexEntry(ctx, "/mods/a.esp")
		if got != nil {
			t.Error("entry visible after rollback")
		}
	})
}

func TestSQLiteDatabase_Operations(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.Local)

	for i, opType := range []string{"index.scan", "settings.set", "index.scan"} {
		op := &modidx.StoredOperation{
			OpType:      opType,
			PayloadJSON: `{"n":1}`,
			Status:      "done",
			CreatedAt:   base.Add(time.Duration(i) * time.Minute),
		}
		if err := db.InsertOperation(ctx, op); err != nil {
			t.Fatalf("InsertOperation() error = %v", err)
		}
		if op.ID != int64(i+1) {
			t.Errorf("op.ID = %d, want %d", op.ID, i+1)
		}
	}

	got, err := db.RecentOperations(ctx, 2)
	if err != nil {
		t.Fatalf("RecentOperations() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len(RecentOperations()) = %d, want 2", len(got))
	}
	if got[0].ID != 3 || got[1].ID != 2 {
		t.Errorf("RecentOperations() IDs = [%d %d], want [3 2]", got[0].ID, got[1].ID)
	}
	if got[1].OpType != "settings.set" {
		t.Errorf("OpType = %q, want %q", got[1].OpType, "settings.set")
	}
	if !got[0].CreatedAt.Equal(base.Add(2 * time.Minute)) {
		t.Errorf("CreatedAt = %v, want %v", got[0].CreatedAt, base.Add(2*time.Minute))
	}
}

func TestSQLiteDatabase_BackupTo(t *testing.T) {
	db := newTestDB(t)
	insertEntries(t, db, testEntry("/mods/a.esp", 1, 1, time.Now()))

	destPath := filepath.Join(t.TempDir(), "backup.db")
	if err := db.BackupTo(destPath); err != nil {
		t.Fatalf("BackupTo() error = %v", err)
	}

	// Open the backup and verify it has the data
	backup, err := NewSQLiteDatabase(destPath)
	if err != nil {
		t.Fatalf("opening backup: %v", err)
	}
	defer backup.Close()

	if err := backup.CheckMigrations(context.Background()); err != nil {
		t.Errorf("backup CheckMigrations() error = %v", err)
	}

	entry, err := backup.FindIndexEntry(context.Background(), "/mods/a.esp")
	if err != nil {
		t.Fatalf("FindIndexEntry() error = %v", err)
	}
	if entry == nil {
		t.Error("backup does not contain the entry")
	}
}

func TestSQLiteDatabase_CheckMigrations(t *testing.T) {
	t.Run("fails on DB without migrations applied", func(t *testing.T) {
		db, err := NewSQLiteDatabase(MemoryPath)
		if err != nil {
			t.Fatalf("NewSQLiteDatabase() error = %v", err)
		}
		defer db.Close()

		// DB has no schema at all, so this must fail
		if err := db.CheckMigrations(context.Background()); err == nil {
			t.Error("CheckMigrations() expected error for missing schema")
		}
	})

	t.Run("passes after Initialize", func(t *testing.T) {
		db := newTestDB(t)

		if err := db.CheckMigrations(context.Background()); err != nil {
			t.Errorf("CheckMigrations() error = %v", err)
		}
	})
}
