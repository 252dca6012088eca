package sync

import (
	"context"
	"errors"
	"time"

	"matricula-sync/feature/sync/models"

	"gorm.io/gorm"
)

// ErrNotFound is returned when no ledger entry exists for a batch id.
var ErrNotFound = errors.New("sync: batch not found")

// Ledger is the repository over the durable batch ledger. Every submitted
// batch gets a row at submission time; the row is driven to a terminal state
// by whichever path finishes the batch.
type Ledger struct {
	db *gorm.DB
}

// NewLedger creates a ledger repository.
func NewLedger(db *gorm.DB) *Ledger {
	return &Ledger{db: db}
}

// Create inserts a new ledger entry. A duplicate idempotency key surfaces
// as gorm.ErrDuplicatedKey; the dispatcher turns that into a replay.
func (l *Ledger) Create(ctx context.Context, entry *models.SyncBatch) error {
	return l.db.WithContext(ctx).Create(entry).Error
}

// Get loads a ledger entry by batch id.
func (l *Ledger) Get(ctx context.Context, batchID string) (*models.SyncBatch, error) {
	var entry models.SyncBatch
	err := l.db.WithContext(ctx).First(&entry, "id = ?", batchID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &entry, nil
}

// GetByIdempotencyKey loads the ledger entry recorded for a client key.
func (l *Ledger) GetByIdempotencyKey(ctx context.Context, key string) (*models.SyncBatch, error) {
	var entry models.SyncBatch
	err := l.db.WithContext(ctx).First(&entry, "idempotency_key = ?", key).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &entry, nil
}

// MarkProcessing moves an entry into the processing state. It is set before
// a batch is enqueued so a poll between enqueue and pickup never 404s.
func (l *Ledger) MarkProcessing(ctx context.Context, batchID string) error {
	now := time.Now().UTC()
	return l.db.WithContext(ctx).Model(&models.SyncBatch{}).
		Where("id = ?", batchID).
		Updates(map[string]any{
			"status":     models.BatchProcessing,
			"started_at": &now,
		}).Error
}

// Finish records a completed batch: counts and the outcome JSON served to
// pollers. Completed does not imply zero conflicts.
func (l *Ledger) Finish(ctx context.Context, batchID string, success, failure int, outcome []byte) error {
	now := time.Now().UTC()
	return l.db.WithContext(ctx).Model(&models.SyncBatch{}).
		Where("id = ?", batchID).
		Updates(map[string]any{
			"status":        models.BatchCompleted,
			"success_count": success,
			"failure_count": failure,
			"outcome":       outcome,
			"completed_at":  &now,
		}).Error
}

// Fail records a terminal engine-level failure: the batch aborted before
// attempting all items and its retries are exhausted.
func (l *Ledger) Fail(ctx context.Context, batchID string, cause string) error {
	now := time.Now().UTC()
	return l.db.WithContext(ctx).Model(&models.SyncBatch{}).
		Where("id = ?", batchID).
		Updates(map[string]any{
			"status":       models.BatchFailed,
			"error":        &cause,
			"completed_at": &now,
		}).Error
}

// UnresolvedConflicts lists parked cross-device edit conflicts awaiting
// manual review, newest first.
func (l *Ledger) UnresolvedConflicts(ctx context.Context, limit int) ([]models.EditConflict, error) {
	if limit <= 0 {
		limit = 100
	}
	var rows []models.EditConflict
	err := l.db.WithContext(ctx).
		Where("resolved = ?", false).
		Order("created_at DESC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}
