package database

import (
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"mdsync/internal/mdsync"
)

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

var testTime = time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)

// newTestDB creates a new in-memory database with schema applied.
func newTestDB(t *testing.T) *SQLiteDatabase {
	t.Helper()

	db, err := NewSQLiteDatabase(":memory:", fixedClock{testTime})
	if err != nil {
		t.Fatalf("failed to create database: %v", err)
	}

	if err := db.Migrate(); err != nil {
		db.Close()
		t.Fatalf("failed to apply migrations: %v", err)
	}

	t.Cleanup(func() {
		db.Close()
	})

	return db
}

func TestSQLiteDatabase_KV(t *testing.T) {
	t.Run("missing key returns nil without error", func(t *testing.T) {
		db := newTestDB(t)

		got, err := db.Get("absent")
		if err != nil {
			t.Fatalf("Get() error = %v", err)
		}
		if got != nil {
			t.Errorf("Get() = %q, want nil", got)
		}
	})

	t.Run("put overwrites", func(t *testing.T) {
		db := newTestDB(t)

		if err := db.Put("k", []byte("one")); err != nil {
			t.Fatalf("Put() error = %v", err)
		}
		if err := db.Put("k", []byte("two")); err != nil {
			t.Fatalf("second Put() error = %v", err)
		}
		got, err := db.Get("k")
		if err != nil {
			t.Fatalf("Get() error = %v", err)
		}
		if string(got) != "two" {
			t.Errorf("Get() = %q, want %q", got, "two")
		}
	})

	t.Run("empty value is distinct from missing", func(t *testing.T) {
		db := newTestDB(t)

		if err := db.Put("k", nil); err != nil {
			t.Fatalf("Put() error = %v", err)
		}
		got, err := db.Get("k")
		if err != nil {
			t.Fatalf("Get() error = %v", err)
		}
		if got == nil || len(got) != 0 {
			t.Errorf("Get() = %v, want empty non-nil", got)
		}
	})

	t.Run("delete", func(t *testing.T) {
		db := newTestDB(t)

		if err := db.Put("k", []byte("v")); err != nil {
			t.Fatalf("Put() error = %v", err)
		}
		if err := db.Delete("k"); err != nil {
			t.Fatalf("Delete() error = %v", err)
		}
		if err := db.Delete("k"); err != nil {
			t.Fatalf("Delete() of missing key error = %v", err)
		}
		got, _ := db.Get("k")
		if got != nil {
			t.Errorf("Get() after Delete = %q, want nil", got)
		}
	})
}

func TestSQLiteDatabase_Handles(t *testing.T) {
	t.Run("save, find, list, delete", func(t *testing.T) {
		db := newTestDB(t)

		for i, name := range []string{"notes", "work"} {
			rec := &mdsync.HandleRecord{
				ID:         fmt.Sprintf("id-%d", i+1),
				Name:       name,
				Locator:    "/vaults/" + name,
				AddedAt:    testTime.Add(time.Duration(i) * time.Minute),
				LastOpened: testTime,
			}
			if err := db.SaveHandle(rec); err != nil {
				t.Fatalf("SaveHandle() error = %v", err)
			}
		}

		got, err := db.FindHandle("id-2")
		if err != nil {
			t.Fatalf("FindHandle() error = %v", err)
		}
		if got == nil || got.Name != "work" || got.Locator != "/vaults/work" {
			t.Fatalf("FindHandle() = %+v", got)
		}
		if !got.AddedAt.Equal(testTime.Add(time.Minute)) {
			t.Errorf("AddedAt = %v", got.AddedAt)
		}

		missing, err := db.FindHandle("nope")
		if err != nil || missing != nil {
			t.Errorf("FindHandle(nope) = %v, %v; want nil, nil", missing, err)
		}

		list, err := db.ListHandles()
		if err != nil {
			t.Fatalf("ListHandles() error = %v", err)
		}
		if len(list) != 2 || list[0].ID != "id-1" || list[1].ID != "id-2" {
			t.Errorf("ListHandles() = %v", list)
		}

		if err := db.DeleteHandle("id-1"); err != nil {
			t.Fatalf("DeleteHandle() error = %v", err)
		}
		list, _ = db.ListHandles()
		if len(list) != 1 {
			t.Errorf("len(ListHandles()) = %d, want 1", len(list))
		}
	})

	t.Run("touch updates last opened", func(t *testing.T) {
		db := newTestDB(t)
		rec := &mdsync.HandleRecord{ID: "v", Name: "v", Locator: "/v", AddedAt: testTime, LastOpened: testTime}
		if err := db.SaveHandle(rec); err != nil {
			t.Fatalf("SaveHandle() error = %v", err)
		}

		later := testTime.Add(time.Hour)
		if err := db.TouchHandle("v", later); err != nil {
			t.Fatalf("TouchHandle() error = %v", err)
		}
		got, _ := db.FindHandle("v")
		if !got.LastOpened.Equal(later) {
			t.Errorf("LastOpened = %v, want %v", got.LastOpened, later)
		}

		err := db.TouchHandle("missing", later)
		if !errors.Is(err, mdsync.ErrNotFound) {
			t.Errorf("TouchHandle(missing) error = %v, want ErrNotFound", err)
		}
	})

	t.Run("concurrent reads", func(t *testing.T) {
		db := newTestDB(t)
		for i := range 3 {
			id := fmt.Sprintf("v%d", i)
			if err := db.SaveHandle(&mdsync.HandleRecord{ID: id, Name: id, Locator: "/" + id, AddedAt: testTime, LastOpened: testTime}); err != nil {
				t.Fatalf("SaveHandle() error = %v", err)
			}
		}

		var wg sync.WaitGroup
		errs := make(chan error, 3)
		for i := range 3 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				rec, err := db.FindHandle(fmt.Sprintf("v%d", i))
				if err == nil && rec == nil {
					err = fmt.Errorf("v%d not found", i)
				}
				errs <- err
			}()
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			if err != nil {
				t.Error(err)
			}
		}
	})
}

func TestSQLiteDatabase_SyncOperations(t *testing.T) {
	t.Run("create and finish", func(t *testing.T) {
		db := newTestDB(t)

		op, err := db.CreateSyncOperation("vault-1", mdsync.OpGitSync, testTime)
		if err != nil {
			t.Fatalf("CreateSyncOperation() error = %v", err)
		}
		if op.ID == 0 || op.Status != mdsync.OpRunning {
			t.Errorf("CreateSyncOperation() = %+v", op)
		}

		if err := db.FinishSyncOperation(op.ID, mdsync.OpSuccess, "pulled 2", testTime.Add(time.Second)); err != nil {
			t.Fatalf("FinishSyncOperation() error = %v", err)
		}

		ops, err := db.ListSyncOperations("vault-1", 10)
		if err != nil {
			t.Fatalf("ListSyncOperations() error = %v", err)
		}
		if len(ops) != 1 {
			t.Fatalf("len(ops) = %d, want 1", len(ops))
		}
		if ops[0].Status != mdsync.OpSuccess || ops[0].Message != "pulled 2" || ops[0].FinishedAt == nil {
			t.Errorf("op = %+v", ops[0])
		}
	})

	t.Run("finish unknown operation", func(t *testing.T) {
		db := newTestDB(t)
		err := db.FinishSyncOperation(42, mdsync.OpFailed, "", testTime)
		if !errors.Is(err, mdsync.ErrNotFound) {
			t.Errorf("FinishSyncOperation() error = %v, want ErrNotFound", err)
		}
	})

	t.Run("last successful sync ignores failures", func(t *testing.T) {
		db := newTestDB(t)

		none, err := db.LastSuccessfulSync("vault-1", mdsync.OpGitSync)
		if err != nil || none != nil {
			t.Fatalf("LastSuccessfulSync() = %v, %v; want nil, nil", none, err)
		}

		ok, _ := db.CreateSyncOperation("vault-1", mdsync.OpGitSync, testTime)
		db.FinishSyncOperation(ok.ID, mdsync.OpSuccess, "", testTime.Add(time.Minute))
		failed, _ := db.CreateSyncOperation("vault-1", mdsync.OpGitSync, testTime.Add(time.Hour))
		db.FinishSyncOperation(failed.ID, mdsync.OpFailed, "boom", testTime.Add(time.Hour))
		other, _ := db.CreateSyncOperation("vault-2", mdsync.OpGitSync, testTime)
		db.FinishSyncOperation(other.ID, mdsync.OpSuccess, "", testTime.Add(2*time.Hour))

		last, err := db.LastSuccessfulSync("vault-1", mdsync.OpGitSync)
		if err != nil {
			t.Fatalf("LastSuccessfulSync() error = %v", err)
		}
		if last == nil || !last.Equal(testTime.Add(time.Minute)) {
			t.Errorf("LastSuccessfulSync() = %v, want %v", last, testTime.Add(time.Minute))
		}

		all, _ := db.ListSyncOperations("", 10)
		if len(all) != 3 {
			t.Errorf("len(ListSyncOperations(all)) = %d, want 3", len(all))
		}
		limited, _ := db.ListSyncOperations("", 2)
		if len(limited) != 2 || limited[0].ID != other.ID {
			t.Errorf("ListSyncOperations(limit 2) = %v", limited)
		}
	})
}

func TestSQLiteDatabase_FilePersistence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.db")

	db, err := NewSQLiteDatabase(path, fixedClock{testTime})
	if err != nil {
		t.Fatalf("NewSQLiteDatabase() error = %v", err)
	}
	if err := db.CheckMigrations(); err == nil {
		t.Error("CheckMigrations() on fresh file returned nil")
	}
	if err := db.Migrate(); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	if err := db.Put("k", []byte("persisted")); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	db.Close()

	reopened, err := NewSQLiteDatabase(path, nil)
	if err != nil {
		t.Fatalf("reopen error = %v", err)
	}
	defer reopened.Close()

	if err := reopened.CheckMigrations(); err != nil {
		t.Errorf("CheckMigrations() after reopen = %v", err)
	}
	got, _ := reopened.Get("k")
	if string(got) != "persisted" {
		t.Errorf("Get() = %q, want %q", got, "persisted")
	}
	if reopened.Path() != path {
		t.Errorf("Path() = %q", reopened.Path())
	}
}
