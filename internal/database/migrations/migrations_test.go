package migrations

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"testing"
	"testing/fstest"

	_ "github.com/mattn/go-sqlite3"
)

func TestMigrateUp_FreshDatabase(t *testing.T) {
	db := openTestDB(t)
	defer db.Close()

	if err := MigrateUp(context.Background(), db); err != nil {
		t.Fatalf("MigrateUp() failed: %v", err)
	}

	// Verify tables were created
	tables := []string{"op_log", "schema_version"}
	for _, table := range tables {
		var name string
		err := db.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&name)
		if err != nil {
			t.Errorf("Table %s was not created: %v", table, err)
		}
	}

	var name string
	err := db.QueryRow("SELECT name FROM sqlite_master WHERE type='index' AND name='idx_op_log_created_at'").Scan(&name)
	if err != nil {
		t.Errorf("created_at index was not created: %v", err)
	}
}

func TestCheckDBMigrationStatus_FreshDatabase(t *testing.T) {
	db := openTestDB(t)
	defer db.Close()

	// Fresh database should need migration
	err := CheckDBMigrationStatus(context.Background(), db)
	if err == nil {
		t.Fatal("CheckDBMigrationStatus() expected error for fresh database, got nil")
	}

	if err.Error() != "database has no schema version (needs migration)" {
		t.Errorf("CheckDBMigrationStatus() error = %q, want error about needing migration", err.Error())
	}
}

func TestCheckDBMigrationStatus_AfterMigration(t *testing.T) {
	db := openTestDB(t)
	defer db.Close()

	if err := MigrateUp(context.Background(), db); err != nil {
		t.Fatalf("MigrateUp() failed: %v", err)
	}

	if err := CheckDBMigrationStatus(context.Background(), db); err != nil {
		t.Errorf("CheckDBMigrationStatus() after migration returned error: %v", err)
	}
}

func TestMigrateUp_Idempotent(t *testing.T) {
	db := openTestDB(t)
	defer db.Close()
	ctx := context.Background()

	if err := MigrateUp(ctx, db); err != nil {
		t.Fatalf("First MigrateUp() failed: %v", err)
	}
	if err := MigrateUp(ctx, db); err != nil {
		t.Errorf("Second MigrateUp() failed: %v (should be idempotent)", err)
	}

	set, err := Default()
	if err != nil {
		t.Fatalf("Default() error = %v", err)
	}

	var count int
	if err := db.QueryRow("SELECT COUNT(*) FROM schema_version").Scan(&count); err != nil {
		t.Fatalf("counting versions: %v", err)
	}
	if count != len(set.Migrations()) {
		t.Errorf("schema_version rows = %d, want %d", count, len(set.Migrations()))
	}

	applied, err := set.ApplyAll(ctx, db)
	if err != nil {
		t.Fatalf("ApplyAll() error = %v", err)
	}
	if len(applied) != 0 {
		t.Errorf("ApplyAll() on migrated db applied %v, want nothing", applied)
	}
}

func TestLoad_OrdersByVersion(t *testing.T) {
	fsys := fstest.MapFS{
		"m/10_third.up.sql": {Data: []byte("CREATE TABLE c (id INTEGER);")},
		"m/2_second.up.sql": {Data: []byte("CREATE TABLE b (id INTEGER);")},
		"m/1_first.up.sql":  {Data: []byte("CREATE TABLE a (id INTEGER);")},
		"m/README.md":       {Data: []byte("not a migration")},
	}

	set, err := Load(fsys, "m")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	got := set.Migrations()
	want := []uint{1, 2, 10}
	if len(got) != len(want) {
		t.Fatalf("len(Migrations()) = %d, want %d", len(got), len(want))
	}
	for i, v := range want {
		if got[i].Version != v {
			t.Errorf("Migrations()[%d].Version = %d, want %d", i, got[i].Version, v)
		}
	}
	if got[0].Name != "first" {
		t.Errorf("Migrations()[0].Name = %q, want %q", got[0].Name, "first")
	}
	if set.Latest() != 10 {
		t.Errorf("Latest() = %d, want 10", set.Latest())
	}
}

func TestLoad_EmptyDirectory(t *testing.T) {
	fsys := fstest.MapFS{
		"m/notes.txt": {Data: []byte("nothing here")},
	}

	set, err := Load(fsys, "m")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(set.Migrations()) != 0 {
		t.Errorf("len(Migrations()) = %d, want 0", len(set.Migrations()))
	}
	if set.Latest() != 0 {
		t.Errorf("Latest() = %d, want 0", set.Latest())
	}
}

func TestApplyAll_StopsAtFailingMigration(t *testing.T) {
	db := openTestDB(t)
	defer db.Close()
	ctx := context.Background()

	set := mustLoad(t, fstest.MapFS{
		"m/1_good.up.sql":  {Data: []byte("CREATE TABLE one (id INTEGER);")},
		"m/2_bad.up.sql":   {Data: []byte("CREATE TABLE two (id INTEGER); THIS IS NOT SQL;")},
		"m/3_later.up.sql": {Data: []byte("CREATE TABLE three (id INTEGER);")},
	})

	applied, err := set.ApplyAll(ctx, db)
	if err == nil {
		t.Fatal("ApplyAll() expected error, got nil")
	}

	var migErr *MigrationError
	if !errors.As(err, &migErr) {
		t.Fatalf("ApplyAll() error = %T, want *MigrationError", err)
	}
	if migErr.Version != 2 {
		t.Errorf("MigrationError.Version = %d, want 2", migErr.Version)
	}
	if len(applied) != 1 || applied[0] != 1 {
		t.Errorf("applied = %v, want [1]", applied)
	}

	// Version 1 is committed, version 2 rolled back entirely, version 3 never ran.
	assertTable(t, db, "one", true)
	assertTable(t, db, "two", false)
	assertTable(t, db, "three", false)

	pending, err := set.Pending(ctx, db)
	if err != nil {
		t.Fatalf("Pending() error = %v", err)
	}
	if len(pending) != 2 || pending[0] != 2 || pending[1] != 3 {
		t.Errorf("Pending() = %v, want [2 3]", pending)
	}
}

func TestApplyAll_RecordedVersionIsNeverReapplied(t *testing.T) {
	db := openTestDB(t)
	defer db.Close()
	ctx := context.Background()

	original := mustLoad(t, fstest.MapFS{
		"m/1_init.up.sql": {Data: []byte("CREATE TABLE original (id INTEGER);")},
	})
	if _, err := original.ApplyAll(ctx, db); err != nil {
		t.Fatalf("ApplyAll() error = %v", err)
	}

	edited := mustLoad(t, fstest.MapFS{
		"m/1_init.up.sql": {Data: []byte("CREATE TABLE edited (id INTEGER);")},
	})
	applied, err := edited.ApplyAll(ctx, db)
	if err != nil {
		t.Fatalf("ApplyAll() with edited script error = %v", err)
	}
	if len(applied) != 0 {
		t.Errorf("applied = %v, want nothing", applied)
	}
	assertTable(t, db, "edited", false)
}

func TestCheckStatus(t *testing.T) {
	ctx := context.Background()
	v1 := fstest.MapFS{"m/1_a.up.sql": {Data: []byte("CREATE TABLE a (id INTEGER);")}}
	v2 := fstest.MapFS{
		"m/1_a.up.sql": {Data: []byte("CREATE TABLE a (id INTEGER);")},
		"m/2_b.up.sql": {Data: []byte("CREATE TABLE b (id INTEGER);")},
	}

	t.Run("behind", func(t *testing.T) {
		db := openTestDB(t)
		defer db.Close()
		if _, err := mustLoad(t, v1).ApplyAll(ctx, db); err != nil {
			t.Fatalf("ApplyAll() error = %v", err)
		}

		err := mustLoad(t, v2).CheckStatus(ctx, db)
		if err == nil || !strings.Contains(err.Error(), "behind") {
			t.Errorf("CheckStatus() error = %v, want behind", err)
		}
	})

	t.Run("ahead of binary", func(t *testing.T) {
		db := openTestDB(t)
		defer db.Close()
		if _, err := mustLoad(t, v2).ApplyAll(ctx, db); err != nil {
			t.Fatalf("ApplyAll() error = %v", err)
		}

		err := mustLoad(t, v1).CheckStatus(ctx, db)
		if err == nil || !strings.Contains(err.Error(), "unknown to this binary") {
			t.Errorf("CheckStatus() error = %v, want unknown version", err)
		}
	})
}

func mustLoad(t *testing.T, fsys fstest.MapFS) *Set {
	t.Helper()
	set, err := Load(fsys, "m")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	return set
}

func assertTable(t *testing.T, db *sql.DB, table string, want bool) {
	t.Helper()
	var count int
	err := db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&count)
	if err != nil {
		t.Fatalf("checking table %s: %v", table, err)
	}
	if (count == 1) != want {
		t.Errorf("table %s exists = %v, want %v", table, count == 1, want)
	}
}

// openTestDB opens an in-memory SQLite database for testing.
func openTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		t.Fatalf("Failed to enable foreign keys: %v", err)
	}

	return db
}
