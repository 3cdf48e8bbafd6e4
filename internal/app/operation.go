package app

import (
	"fmt"
	"time"

	"mdsync/internal/mdsync"
)

// Operation tracks one sync-affecting step of a CLI command. Operations are
// created in memory with ID=0 and persisted to the history store by start.
type Operation struct {
	ID      int64
	VaultID string // empty for cloud operations
	Kind    string
	Status  string
	Message string
}

// NewOperation creates a running, unpersisted operation.
func NewOperation(kind, vaultID string) *Operation {
	return &Operation{Kind: kind, VaultID: vaultID, Status: mdsync.OpRunning}
}

// Persisted returns true if this operation has been saved to the database.
func (op *Operation) Persisted() bool {
	return op.ID != 0
}

func (op *Operation) start(h mdsync.HistoryStore, at time.Time) error {
	if op.Persisted() {
		return nil
	}
	rec, err := h.CreateSyncOperation(op.VaultID, op.Kind, at)
	if err != nil {
		return fmt.Errorf("recording %s operation: %w", op.Kind, err)
	}
	op.ID = rec.ID
	return nil
}

func (op *Operation) finish(h mdsync.HistoryStore, status, message string, at time.Time) error {
	op.Status, op.Message = status, message
	if !op.Persisted() {
		return nil
	}
	if err := h.FinishSyncOperation(op.ID, status, message, at); err != nil {
		return fmt.Errorf("finishing %s operation: %w", op.Kind, err)
	}
	return nil
}

// historyStatus maps a result outcome to a history status.
func historyStatus(outcome string) string {
	switch outcome {
	case "success", "no-data":
		return mdsync.OpSuccess
	case "conflict", "paused":
		return mdsync.OpConflict
	default:
		return mdsync.OpFailed
	}
}
