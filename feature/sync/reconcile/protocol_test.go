package reconcile

import (
	"context"
	"testing"

	"matricula-sync/core/database"
	"matricula-sync/feature/sync/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormat(t *testing.T) {
	assert.Equal(t, "INFANTIL - 2026 - 001", Format("infantil", 2026, 1))
	assert.Equal(t, "FUNDAMENTAL - 2025 - 042", Format("Fundamental", 2025, 42))
	assert.Equal(t, "MEDIO - 2026 - 120", Format("MEDIO", 2026, 120))
}

func TestCandidateSequence(t *testing.T) {
	db, err := database.Connect(database.Config{Driver: "sqlite", Name: ":memory:"})
	require.NoError(t, err)
	require.NoError(t, models.Migrate(db))

	seq := NewSequencer()
	ctx := context.Background()

	// Empty table: first candidate is 001, each retry steps by one.
	p, err := seq.Candidate(ctx, db, "infantil", 2026, 0)
	require.NoError(t, err)
	assert.Equal(t, "INFANTIL - 2026 - 001", p)

	p, err = seq.Candidate(ctx, db, "infantil", 2026, 2)
	require.NoError(t, err)
	assert.Equal(t, "INFANTIL - 2026 - 003", p)

	// Existing enrollments of the same stage and year advance the count;
	// other stages and years do not.
	require.NoError(t, db.Create(&models.Matricula{
		Protocolo: "INFANTIL - 2026 - 001", AlunoID: 1, ResponsavelID: 1,
		Etapa: "INFANTIL", AnoLetivo: 2026, Status: models.StatusPre,
	}).Error)
	require.NoError(t, db.Create(&models.Matricula{
		Protocolo: "MEDIO - 2026 - 001", AlunoID: 2, ResponsavelID: 2,
		Etapa: "MEDIO", AnoLetivo: 2026, Status: models.StatusPre,
	}).Error)

	p, err = seq.Candidate(ctx, db, "infantil", 2026, 0)
	require.NoError(t, err)
	assert.Equal(t, "INFANTIL - 2026 - 002", p)

	p, err = seq.Candidate(ctx, db, "infantil", 2025, 0)
	require.NoError(t, err)
	assert.Equal(t, "INFANTIL - 2025 - 001", p)
}
