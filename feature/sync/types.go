package sync

import (
	"fmt"
	"time"

	"matricula-sync/feature/sync/models"
	"matricula-sync/feature/sync/reconcile"
)

// SubmitRequest is the wire format of a device's sync submission.
type SubmitRequest struct {
	Batch          []reconcile.ChangeItem `json:"batch"`
	UserID         string                 `json:"user_id"`
	DeviceID       string                 `json:"device_id"`
	AppVersion     string                 `json:"app_version"`
	LastSync       *time.Time             `json:"last_sync"`
	IdempotencyKey string                 `json:"idempotency_key"`
}

// Outcome is the client-visible state of a batch: the ledger row projected
// for polling, with mappings and conflicts attached once terminal. Success
// and SyncedAt duplicate Status/CompletedAt in the shape offline clients
// persist: a boolean gate plus the timestamp they store as their new
// last_sync watermark.
type Outcome struct {
	BatchID      string                `json:"batch_id"`
	Status       models.BatchStatus    `json:"status"`
	Success      bool                  `json:"success"`
	SyncedAt     *time.Time            `json:"synced_at,omitempty"`
	RecordsCount int                   `json:"records_count"`
	SuccessCount int                   `json:"success_count"`
	FailureCount int                   `json:"failure_count"`
	Mappings     []reconcile.IdMapping `json:"mappings,omitempty"`
	Conflicts    []reconcile.Conflict  `json:"conflicts,omitempty"`
	Error        *string               `json:"error,omitempty"`
	CompletedAt  *time.Time            `json:"completed_at,omitempty"`
}

// SubmitResult is what Submit hands the HTTP layer: the outcome, plus
// whether the batch was queued (202) instead of finished inline (200).
type SubmitResult struct {
	Queued  bool
	Outcome *Outcome
}

// ValidationError rejects a submission wholesale: nothing from the batch is
// applied. The handler maps it to HTTP 400.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid submission: %s", e.Reason)
}
