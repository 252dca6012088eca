package reconcile

import (
	"context"

	"matricula-sync/feature/sync/models"

	"gorm.io/gorm"
)

// Arbiter claims and releases classroom seats. Every mutation is a single
// conditional UPDATE so two concurrent batches can never both take the last
// seat: "zero rows affected" is the defined signal for "no seat".
type Arbiter struct {
	db *gorm.DB
}

// NewArbiter creates an arbiter over the given connection (or transaction).
func NewArbiter(db *gorm.DB) *Arbiter {
	return &Arbiter{db: db}
}

// WithTx returns an arbiter bound to the given transaction.
func (a *Arbiter) WithTx(tx *gorm.DB) *Arbiter {
	return &Arbiter{db: tx}
}

// ClaimSeat atomically takes one seat from the classroom. It returns false
// when the classroom has no seats available.
func (a *Arbiter) ClaimSeat(ctx context.Context, turmaID uint) (bool, error) {
	res := a.db.WithContext(ctx).
		Model(&models.Turma{}).
		Where("id = ? AND vagas_disponiveis > 0", turmaID).
		UpdateColumn("vagas_disponiveis", gorm.Expr("vagas_disponiveis - 1"))
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// ReleaseSeat atomically returns one seat to the classroom, capped at the
// classroom's capacity. Used on enrollment removal or transfer.
func (a *Arbiter) ReleaseSeat(ctx context.Context, turmaID uint) (bool, error) {
	res := a.db.WithContext(ctx).
		Model(&models.Turma{}).
		Where("id = ? AND vagas_disponiveis < capacidade", turmaID).
		UpdateColumn("vagas_disponiveis", gorm.Expr("vagas_disponiveis + 1"))
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}
