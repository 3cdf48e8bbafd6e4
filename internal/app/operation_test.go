package app

import (
	"testing"
	"time"

	"mdsync/internal/mdsync"
	"mdsync/internal/testutil"
)

func TestNewOperation(t *testing.T) {
	tests := []struct {
		name    string
		kind    string
		vaultID string
	}{
		{name: "git operation", kind: mdsync.OpGitSync, vaultID: "v1"},
		{name: "cloud operation", kind: mdsync.OpCloudSync, vaultID: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			op := NewOperation(tt.kind, tt.vaultID)
			if op.Kind != tt.kind || op.VaultID != tt.vaultID {
				t.Errorf("op = %+v", op)
			}
			if op.Status != mdsync.OpRunning {
				t.Errorf("Status = %q, want %q", op.Status, mdsync.OpRunning)
			}
			if op.Persisted() {
				t.Error("new operation reports persisted")
			}
		})
	}
}

func TestOperationLifecycle(t *testing.T) {
	db := testutil.NewTestDatabase(t)
	start := time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)

	op := NewOperation(mdsync.OpGitPush, "v1")
	if err := op.start(db, start); err != nil {
		t.Fatalf("start() error = %v", err)
	}
	if !op.Persisted() {
		t.Fatal("operation not persisted after start")
	}
	id := op.ID
	if err := op.start(db, start); err != nil || op.ID != id {
		t.Errorf("second start() = %d, %v; want no new record", op.ID, err)
	}
	if err := op.finish(db, mdsync.OpConflict, "push rejected", start.Add(time.Second)); err != nil {
		t.Fatalf("finish() error = %v", err)
	}

	ops, err := db.ListSyncOperations("v1", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(ops) != 1 || ops[0].Status != mdsync.OpConflict || ops[0].Message != "push rejected" {
		t.Errorf("history = %+v", ops)
	}
}

func TestHistoryStatus(t *testing.T) {
	tests := map[string]string{
		"success":  mdsync.OpSuccess,
		"no-data":  mdsync.OpSuccess,
		"conflict": mdsync.OpConflict,
		"paused":   mdsync.OpConflict,
		"failure":  mdsync.OpFailed,
		"":         mdsync.OpFailed,
	}
	for in, want := range tests {
		if got := historyStatus(in); got != want {
			t.Errorf("historyStatus(%q) = %q, want %q", in, got, want)
		}
	}
}
