package reconcile

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"
	"time"

	"matricula-sync/feature/sync/models"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Reconciler applies one batch of device-local changes against the
// authoritative store. Items are visited strictly in submission order,
// single-threaded within the batch, so later items can reference canonical
// ids minted by earlier ones.
type Reconciler struct {
	db      *gorm.DB
	arbiter *Arbiter
	seq     *Sequencer
	logger  *zap.Logger
}

// NewReconciler creates a reconciler over the authoritative store.
func NewReconciler(db *gorm.DB, logger *zap.Logger) *Reconciler {
	return &Reconciler{
		db:      db,
		arbiter: NewArbiter(db),
		seq:     NewSequencer(),
		logger:  logger,
	}
}

// Arbiter exposes the capacity arbiter for callers that need seat
// operations outside a batch (administrative corrections).
func (r *Reconciler) Arbiter() *Arbiter {
	return r.arbiter
}

// Reconcile processes every item of the batch and returns the accumulated
// mappings and conflicts: exactly one of the two per item, so
// len(mappings)+len(conflicts) always equals the item count. A local id
// touched by several items (create then update) yields one mapping per
// item. Item-level failures never abort the batch; only engine-level
// faults (store unreachable, context canceled) are returned as an error.
func (r *Reconciler) Reconcile(ctx context.Context, batch *Batch) (*Result, error) {
	table := NewMappingTable()
	mappings := make([]IdMapping, 0, len(batch.Items))
	conflicts := make([]Conflict, 0)

	for i := range batch.Items {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		item := batch.Items[i]

		idGlobal, err := r.applyItem(ctx, batch, table, item)
		if err == nil {
			table.Put(item.Entity, item.IDLocal, idGlobal)
			mappings = append(mappings, IdMapping{
				Entity:   item.Entity,
				IDLocal:  item.IDLocal,
				IDGlobal: idGlobal,
			})
			continue
		}
		if isSystemError(err) {
			return nil, fmt.Errorf("reconciliation aborted at item %d: %w", i, err)
		}

		// A stale cross-device edit is parked for manual review in addition
		// to surfacing as a conflict. The park row is written outside the
		// rolled-back item transaction.
		var stale *staleUpdateError
		if errors.As(err, &stale) {
			if parkErr := r.parkEditConflict(ctx, batch, item, stale); parkErr != nil {
				if isSystemError(parkErr) {
					return nil, parkErr
				}
				r.logger.Warn("failed to record edit conflict",
					zap.String("entity", string(item.Entity)),
					zap.Uint("id_global", stale.idGlobal),
					zap.Error(parkErr))
			}
		}

		r.logger.Debug("item conflict",
			zap.String("entity", string(item.Entity)),
			zap.String("id_local", item.IDLocal),
			zap.Error(err))
		conflicts = append(conflicts, Conflict{
			Entity:  item.Entity,
			IDLocal: item.IDLocal,
			Error:   err.Error(),
		})
	}

	return &Result{Mappings: mappings, Conflicts: conflicts}, nil
}

// applyItem runs one item inside its own transaction so a failing item
// leaves no partial effects (a claimed seat is returned by the rollback).
func (r *Reconciler) applyItem(ctx context.Context, batch *Batch, table *MappingTable, item ChangeItem) (uint, error) {
	if err := ValidItem(item); err != nil {
		return 0, err
	}
	payload, err := DecodePayload(item)
	if err != nil {
		return 0, err
	}

	var idGlobal uint
	err = r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		ap := &applier{
			tx:      tx,
			batch:   batch,
			table:   table,
			arbiter: r.arbiter.WithTx(tx),
			seq:     r.seq,
		}
		id, applyErr := ap.apply(ctx, item, payload)
		if applyErr != nil {
			return applyErr
		}
		idGlobal = id
		return nil
	})
	if err != nil {
		return 0, err
	}
	return idGlobal, nil
}

func (r *Reconciler) parkEditConflict(ctx context.Context, batch *Batch, item ChangeItem, stale *staleUpdateError) error {
	row := models.EditConflict{
		Entity:          string(item.Entity),
		IDGlobal:        stale.idGlobal,
		BatchID:         batch.ID,
		DeviceID:        batch.DeviceID,
		Payload:         item.Data,
		ServerUpdatedAt: stale.serverUpdatedAt,
		ClientLastSync:  batch.LastSync,
	}
	return r.db.WithContext(ctx).Create(&row).Error
}

// staleUpdateError marks an update whose target changed on the server after
// the device last synced. It is an item-level conflict with the side effect
// of parking the payload for manual review.
type staleUpdateError struct {
	idGlobal        uint
	serverUpdatedAt time.Time
}

func (e *staleUpdateError) Error() string {
	return fmt.Sprintf("record %d changed on the server at %s after the device last synced; parked for review",
		e.idGlobal, e.serverUpdatedAt.UTC().Format(time.RFC3339))
}

// isSystemError separates engine-level faults, which abort the batch and are
// retried by the worker, from per-item failures, which become conflicts.
func isSystemError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, sql.ErrConnDone) || errors.Is(err, sql.ErrTxDone) || errors.Is(err, driver.ErrBadConn) {
		return true
	}
	if errors.Is(err, gorm.ErrInvalidDB) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}
