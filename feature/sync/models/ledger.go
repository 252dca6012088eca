package models

import "time"

// BatchStatus is the processing state of a submitted batch.
type BatchStatus string

const (
	BatchPending    BatchStatus = "pending"
	BatchProcessing BatchStatus = "processing"
	// BatchCompleted means every item was attempted. It does not imply zero
	// conflicts; per-item failures are counted in FailureCount.
	BatchCompleted BatchStatus = "completed"
	// BatchFailed means the job aborted before attempting all items
	// (engine-level fault only, after retries were exhausted).
	BatchFailed BatchStatus = "failed"
)

// SyncBatch is the durable ledger entry for one submitted batch. It is
// created at submission time and driven to a terminal state by whichever
// path (inline or worker) finishes the batch.
//
// Payload holds the raw submission so any worker process can execute a queued
// batch; Outcome holds the final mappings/conflicts JSON served to pollers.
type SyncBatch struct {
	ID             string      `gorm:"primaryKey;size:36" json:"id"`
	UserID         string      `gorm:"size:64;index" json:"user_id"`
	DeviceID       string      `gorm:"size:64;index" json:"device_id"`
	AppVersion     string      `gorm:"size:32" json:"app_version"`
	IdempotencyKey *string     `gorm:"size:64;uniqueIndex" json:"idempotency_key"`
	Status         BatchStatus `gorm:"size:16;not null;index" json:"status"`
	RecordsCount   int         `gorm:"not null" json:"records_count"`
	SuccessCount   int         `gorm:"not null" json:"success_count"`
	FailureCount   int         `gorm:"not null" json:"failure_count"`
	Error          *string     `gorm:"type:text" json:"error"`
	Payload        []byte      `gorm:"type:longtext" json:"-"`
	Outcome        []byte      `gorm:"type:longtext" json:"-"`
	LastSync       *time.Time  `json:"last_sync"`
	StartedAt      *time.Time  `json:"started_at"`
	CompletedAt    *time.Time  `json:"completed_at"`
	CreatedAt      time.Time   `json:"created_at"`
	UpdatedAt      time.Time   `json:"updated_at"`
}

// EditConflict parks a cross-device edit conflict for manual review: an
// update whose target record changed on the server after the submitting
// device last synced. No automatic merge is attempted.
type EditConflict struct {
	ID              uint       `gorm:"primaryKey" json:"id"`
	Entity          string     `gorm:"size:20;not null;index" json:"entity"`
	IDGlobal        uint       `gorm:"not null;index" json:"id_global"`
	BatchID         string     `gorm:"size:36;not null;index" json:"batch_id"`
	DeviceID        string     `gorm:"size:64" json:"device_id"`
	Payload         []byte     `gorm:"type:longtext" json:"payload"`
	ServerUpdatedAt time.Time  `json:"server_updated_at"`
	ClientLastSync  *time.Time `json:"client_last_sync"`
	Resolved        bool       `gorm:"not null;default:false;index" json:"resolved"`
	CreatedAt       time.Time  `json:"created_at"`
}
