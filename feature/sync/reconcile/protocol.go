package reconcile

import (
	"context"
	"fmt"
	"strings"

	"matricula-sync/feature/sync/models"

	"gorm.io/gorm"
)

// maxProtocolAttempts bounds the sequencer's retries on protocol collisions.
const maxProtocolAttempts = 5

// ErrProtocolExhausted is returned when no unique protocol could be minted
// within the attempt budget. The affected item becomes a conflict.
var ErrProtocolExhausted = fmt.Errorf("protocol sequencer exhausted after %d attempts", maxProtocolAttempts)

// Sequencer mints the human-facing enrollment protocol, formatted
// "ETAPA - YEAR - NNN". Counting rows is only a starting guess; uniqueness
// is owned by the database's unique index on protocolo, and callers step to
// the next candidate when an insert collides.
type Sequencer struct{}

// NewSequencer creates a sequencer.
func NewSequencer() *Sequencer {
	return &Sequencer{}
}

// Candidate returns the protocol candidate for the given attempt offset.
// Attempt 0 uses count+1; each retry advances the sequence by one.
func (s *Sequencer) Candidate(ctx context.Context, tx *gorm.DB, etapa string, year int, attempt int) (string, error) {
	var count int64
	err := tx.WithContext(ctx).
		Model(&models.Matricula{}).
		Where("etapa = ? AND ano_letivo = ?", strings.ToUpper(etapa), year).
		Count(&count).Error
	if err != nil {
		return "", err
	}
	return Format(etapa, year, int(count)+1+attempt), nil
}

// Format renders a protocol value: zero-padded sequence, upper-cased stage.
func Format(etapa string, year, seq int) string {
	return fmt.Sprintf("%s - %d - %03d", strings.ToUpper(etapa), year, seq)
}
