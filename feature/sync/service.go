package sync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"matricula-sync/core/cache"
	"matricula-sync/core/logger"
	"matricula-sync/core/queue"
	"matricula-sync/feature/sync/models"
	"matricula-sync/feature/sync/reconcile"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Reconciler applies one batch against the authoritative store.
type Reconciler interface {
	Reconcile(ctx context.Context, batch *reconcile.Batch) (*reconcile.Result, error)
}

// Enqueuer is the broker surface the dispatcher needs.
type Enqueuer interface {
	Enqueue(ctx context.Context, job queue.Job, priority float64) error
}

// Service is the sync dispatcher: it validates submissions, owns the batch
// ledger, and decides between inline reconciliation and queueing.
type Service struct {
	cfg      Config
	ledger   *Ledger
	rec      Reconciler
	broker   Enqueuer
	cache    *cache.Client
	status   *StatusReader
	archiver *Archiver
	logger   *zap.Logger
}

// NewService wires the dispatcher. broker and cacheClient may be nil; the
// service then always reconciles inline and serves status from the ledger.
func NewService(cfg Config, db *gorm.DB, rec Reconciler, broker Enqueuer, cacheClient *cache.Client, archiver *Archiver, log *zap.Logger) *Service {
	if cfg.InlineThreshold <= 0 {
		cfg.InlineThreshold = 50
	}
	ledger := NewLedger(db)
	ttl := time.Duration(cfg.StatusCacheTTLSeconds) * time.Second
	return &Service{
		cfg:      cfg,
		ledger:   ledger,
		rec:      rec,
		broker:   broker,
		cache:    cacheClient,
		status:   NewStatusReader(ledger, cacheClient, ttl, log),
		archiver: archiver,
		logger:   log,
	}
}

// Submit handles one device submission end to end: validation, idempotency
// replay, ledger entry, then inline reconciliation or enqueue depending on
// the batch size.
func (s *Service) Submit(ctx context.Context, req *SubmitRequest) (*SubmitResult, error) {
	if err := validateSubmission(req); err != nil {
		return nil, err
	}

	// A replayed idempotency key returns the recorded outcome; the batch is
	// never applied twice.
	if req.IdempotencyKey != "" {
		entry, err := s.ledger.GetByIdempotencyKey(ctx, req.IdempotencyKey)
		if err == nil {
			return s.replay(entry), nil
		}
		if !errors.Is(err, ErrNotFound) {
			return nil, err
		}
	}

	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to encode submission: %w", err)
	}

	entry := &models.SyncBatch{
		ID:           uuid.NewString(),
		UserID:       req.UserID,
		DeviceID:     req.DeviceID,
		AppVersion:   req.AppVersion,
		Status:       models.BatchPending,
		RecordsCount: len(req.Batch),
		LastSync:     req.LastSync,
		Payload:      payload,
	}
	if req.IdempotencyKey != "" {
		entry.IdempotencyKey = &req.IdempotencyKey
	}

	if err := s.ledger.Create(ctx, entry); err != nil {
		// Two concurrent submissions with the same key: the loser replays
		// the winner's entry.
		if errors.Is(err, gorm.ErrDuplicatedKey) && req.IdempotencyKey != "" {
			existing, lookupErr := s.ledger.GetByIdempotencyKey(ctx, req.IdempotencyKey)
			if lookupErr == nil {
				return s.replay(existing), nil
			}
		}
		return nil, fmt.Errorf("failed to record batch: %w", err)
	}

	s.archiver.ArchiveSubmission(ctx, entry.ID, payload)

	log := logger.WithBatchID(s.logger, entry.ID)

	if len(req.Batch) <= s.cfg.InlineThreshold {
		return s.runInline(ctx, entry, log)
	}

	// Ledger goes to processing before the enqueue so a poll racing the
	// worker never sees an unknown batch.
	if err := s.ledger.MarkProcessing(ctx, entry.ID); err != nil {
		return nil, fmt.Errorf("failed to mark batch processing: %w", err)
	}
	job := queue.Job{BatchID: entry.ID}
	// Priority score is the batch size: small submissions are delivered
	// ahead of bulk ones.
	if err := s.enqueue(ctx, job, float64(len(req.Batch))); err != nil {
		log.Warn("broker unreachable, reconciling inline", zap.Error(err))
		return s.runInline(ctx, entry, log)
	}

	log.Info("batch queued",
		zap.Int("records", len(req.Batch)),
		zap.String("device_id", req.DeviceID))
	return &SubmitResult{
		Queued: true,
		Outcome: &Outcome{
			BatchID:      entry.ID,
			Status:       models.BatchProcessing,
			RecordsCount: entry.RecordsCount,
		},
	}, nil
}

func (s *Service) enqueue(ctx context.Context, job queue.Job, priority float64) error {
	if s.broker == nil {
		return queue.ErrUnavailable
	}
	return s.broker.Enqueue(ctx, job, priority)
}

// replay projects an existing ledger entry for a repeated submission.
func (s *Service) replay(entry *models.SyncBatch) *SubmitResult {
	return &SubmitResult{
		Queued:  entry.Status == models.BatchPending || entry.Status == models.BatchProcessing,
		Outcome: outcomeFromEntry(entry),
	}
}

// runInline executes a batch in the request path.
func (s *Service) runInline(ctx context.Context, entry *models.SyncBatch, log *zap.Logger) (*SubmitResult, error) {
	if err := s.ledger.MarkProcessing(ctx, entry.ID); err != nil {
		return nil, fmt.Errorf("failed to mark batch processing: %w", err)
	}
	outcome, err := s.execute(ctx, entry)
	if err != nil {
		// Inline has no retry budget: the engine fault is terminal for this
		// submission and the device resubmits.
		s.Fail(ctx, entry.ID, err)
		return nil, err
	}
	log.Info("batch reconciled inline",
		zap.Int("records", entry.RecordsCount),
		zap.Int("mapped", outcome.SuccessCount),
		zap.Int("conflicts", outcome.FailureCount))
	return &SubmitResult{Outcome: outcome}, nil
}

// Process executes a previously recorded batch. It is the worker pool's
// entry point and is idempotent over terminal entries.
func (s *Service) Process(ctx context.Context, batchID string) error {
	entry, err := s.ledger.Get(ctx, batchID)
	if err != nil {
		return err
	}
	if entry.Status == models.BatchCompleted || entry.Status == models.BatchFailed {
		return nil
	}
	if entry.Status != models.BatchProcessing {
		if err := s.ledger.MarkProcessing(ctx, entry.ID); err != nil {
			return err
		}
	}
	_, err = s.execute(ctx, entry)
	return err
}

// execute runs the reconciler over the entry's stored payload and finalizes
// the ledger and the status cache.
func (s *Service) execute(ctx context.Context, entry *models.SyncBatch) (*Outcome, error) {
	var req SubmitRequest
	if err := json.Unmarshal(entry.Payload, &req); err != nil {
		return nil, fmt.Errorf("stored payload unreadable: %w", err)
	}

	batch := &reconcile.Batch{
		ID:       entry.ID,
		DeviceID: entry.DeviceID,
		LastSync: entry.LastSync,
		Items:    req.Batch,
	}
	result, err := s.rec.Reconcile(ctx, batch)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	outcome := &Outcome{
		BatchID:      entry.ID,
		Status:       models.BatchCompleted,
		Success:      true,
		SyncedAt:     &now,
		RecordsCount: entry.RecordsCount,
		SuccessCount: len(result.Mappings),
		FailureCount: len(result.Conflicts),
		Mappings:     result.Mappings,
		Conflicts:    result.Conflicts,
		CompletedAt:  &now,
	}
	encoded, err := json.Marshal(outcome)
	if err != nil {
		return nil, fmt.Errorf("failed to encode outcome: %w", err)
	}
	if err := s.ledger.Finish(ctx, entry.ID, outcome.SuccessCount, outcome.FailureCount, encoded); err != nil {
		return nil, fmt.Errorf("failed to finalize batch: %w", err)
	}

	s.status.put(ctx, outcome)
	s.archiver.ArchiveOutcome(ctx, entry.ID, encoded)
	return outcome, nil
}

// Fail drives a batch to the terminal failed state after its retries are
// exhausted. The cause ends up in the ledger and the status cache.
func (s *Service) Fail(ctx context.Context, batchID string, cause error) {
	log := logger.WithBatchID(s.logger, batchID)
	msg := cause.Error()
	if err := s.ledger.Fail(ctx, batchID, msg); err != nil {
		log.Error("failed to mark batch failed", zap.Error(err))
		return
	}
	s.status.put(ctx, &Outcome{
		BatchID: batchID,
		Status:  models.BatchFailed,
		Error:   &msg,
	})
	log.Error("batch failed", zap.String("cause", msg))
}

// Status serves a poll for a batch outcome.
func (s *Service) Status(ctx context.Context, batchID string) (*Outcome, error) {
	return s.status.Get(ctx, batchID)
}

// Conflicts lists parked cross-device edit conflicts awaiting review.
func (s *Service) Conflicts(ctx context.Context, limit int) ([]models.EditConflict, error) {
	return s.ledger.UnresolvedConflicts(ctx, limit)
}

// validateSubmission rejects structurally invalid submissions outright;
// nothing from a rejected batch is applied. Per-item payload problems are
// not checked here: they surface as item conflicts during reconciliation.
func validateSubmission(req *SubmitRequest) error {
	if len(req.Batch) == 0 {
		return &ValidationError{Reason: "batch is empty"}
	}
	for i, item := range req.Batch {
		if err := reconcile.ValidItem(item); err != nil {
			return &ValidationError{Reason: fmt.Sprintf("item %d: %v", i, err)}
		}
	}
	return nil
}
