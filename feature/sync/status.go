package sync

import (
	"context"
	"encoding/json"
	"time"

	"matricula-sync/core/cache"
	"matricula-sync/feature/sync/models"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

const statusKeyPrefix = "sync:status:"

func statusKey(batchID string) string {
	return statusKeyPrefix + batchID
}

// StatusReader serves batch status polls: Redis first, ledger on miss, with
// a write-through so the next poll is a hit. The cache is never
// authoritative; any cache error silently degrades to the ledger.
type StatusReader struct {
	ledger *Ledger
	cache  *cache.Client
	ttl    time.Duration
	group  singleflight.Group
	logger *zap.Logger
}

// NewStatusReader creates a status reader. cacheClient may be nil.
func NewStatusReader(ledger *Ledger, cacheClient *cache.Client, ttl time.Duration, logger *zap.Logger) *StatusReader {
	if ttl <= 0 {
		ttl = 60 * time.Second
	}
	return &StatusReader{ledger: ledger, cache: cacheClient, ttl: ttl, logger: logger}
}

// Get returns the outcome for a batch, or ErrNotFound.
func (s *StatusReader) Get(ctx context.Context, batchID string) (*Outcome, error) {
	var cached Outcome
	hit, err := s.cache.GetJSON(ctx, statusKey(batchID), &cached)
	if err != nil {
		s.logger.Debug("status cache read failed", zap.String("batch_id", batchID), zap.Error(err))
	}
	if hit {
		return &cached, nil
	}

	// Collapse concurrent polls for the same batch into one ledger read.
	v, err, _ := s.group.Do(batchID, func() (any, error) {
		entry, err := s.ledger.Get(ctx, batchID)
		if err != nil {
			return nil, err
		}
		outcome := outcomeFromEntry(entry)
		s.put(ctx, outcome)
		return outcome, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Outcome), nil
}

// put writes an outcome through to the cache, best effort.
func (s *StatusReader) put(ctx context.Context, outcome *Outcome) {
	if err := s.cache.SetJSON(ctx, statusKey(outcome.BatchID), outcome, s.ttl); err != nil {
		s.logger.Debug("status cache write failed", zap.String("batch_id", outcome.BatchID), zap.Error(err))
	}
}

// outcomeFromEntry projects a ledger row into the client-visible outcome.
// For terminal entries the stored result JSON is expanded back into
// mappings and conflicts.
func outcomeFromEntry(entry *models.SyncBatch) *Outcome {
	outcome := &Outcome{
		BatchID:      entry.ID,
		Status:       entry.Status,
		Success:      entry.Status == models.BatchCompleted,
		SyncedAt:     entry.CompletedAt,
		RecordsCount: entry.RecordsCount,
		SuccessCount: entry.SuccessCount,
		FailureCount: entry.FailureCount,
		Error:        entry.Error,
		CompletedAt:  entry.CompletedAt,
	}
	if entry.Status == models.BatchCompleted && len(entry.Outcome) > 0 {
		// Tolerate a corrupt stored outcome: the counts are still served.
		var stored Outcome
		if err := json.Unmarshal(entry.Outcome, &stored); err == nil {
			outcome.Mappings = stored.Mappings
			outcome.Conflicts = stored.Conflicts
		}
	}
	return outcome
}
