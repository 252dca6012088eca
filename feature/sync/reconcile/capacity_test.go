package reconcile

import (
	"context"
	"testing"

	"matricula-sync/core/database"
	"matricula-sync/feature/sync/models"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
)

func setupMockDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("Failed to open mock sql db: %v", err)
	}

	dialector := mysql.New(mysql.Config{
		Conn:                      db,
		SkipInitializeWithVersion: true,
	})

	gormDB, err := gorm.Open(dialector, &gorm.Config{})
	if err != nil {
		t.Fatalf("Failed to open gorm db: %v", err)
	}

	return gormDB, mock
}

func TestClaimSeatSingleConditionalUpdate(t *testing.T) {
	db, mock := setupMockDB(t)
	arbiter := NewArbiter(db)

	// The claim must be one conditional UPDATE; the guard lives in the WHERE
	// clause, never in a separate read.
	mock.ExpectBegin()
	mock.ExpectExec("UPDATE `turmas` SET `vagas_disponiveis`=vagas_disponiveis - 1 WHERE id = \\? AND vagas_disponiveis > 0").
		WithArgs(7).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	claimed, err := arbiter.ClaimSeat(context.Background(), 7)
	require.NoError(t, err)
	assert.True(t, claimed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestClaimSeatFullClassroom(t *testing.T) {
	db, mock := setupMockDB(t)
	arbiter := NewArbiter(db)

	// Zero rows affected is the "no seat" signal, not an error.
	mock.ExpectBegin()
	mock.ExpectExec("UPDATE `turmas`").
		WithArgs(7).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	claimed, err := arbiter.ClaimSeat(context.Background(), 7)
	require.NoError(t, err)
	assert.False(t, claimed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSeatAccounting(t *testing.T) {
	db, err := database.Connect(database.Config{Driver: "sqlite", Name: ":memory:"})
	require.NoError(t, err)
	require.NoError(t, models.Migrate(db))

	turma := models.Turma{Nome: "A", Etapa: "INFANTIL", AnoLetivo: 2026, Capacidade: 2, VagasDisponiveis: 2}
	require.NoError(t, db.Create(&turma).Error)

	arbiter := NewArbiter(db)
	ctx := context.Background()

	vagas := func() int {
		var rec models.Turma
		require.NoError(t, db.First(&rec, turma.ID).Error)
		return rec.VagasDisponiveis
	}

	claimed, err := arbiter.ClaimSeat(ctx, turma.ID)
	require.NoError(t, err)
	assert.True(t, claimed)
	claimed, err = arbiter.ClaimSeat(ctx, turma.ID)
	require.NoError(t, err)
	assert.True(t, claimed)
	assert.Equal(t, 0, vagas())

	// Classroom is full.
	claimed, err = arbiter.ClaimSeat(ctx, turma.ID)
	require.NoError(t, err)
	assert.False(t, claimed)
	assert.Equal(t, 0, vagas())

	released, err := arbiter.ReleaseSeat(ctx, turma.ID)
	require.NoError(t, err)
	assert.True(t, released)
	released, err = arbiter.ReleaseSeat(ctx, turma.ID)
	require.NoError(t, err)
	assert.True(t, released)
	assert.Equal(t, 2, vagas())

	// Releases never push the count past capacity.
	released, err = arbiter.ReleaseSeat(ctx, turma.ID)
	require.NoError(t, err)
	assert.False(t, released)
	assert.Equal(t, 2, vagas())
}

func TestClaimSeatUnknownTurma(t *testing.T) {
	db, err := database.Connect(database.Config{Driver: "sqlite", Name: ":memory:"})
	require.NoError(t, err)
	require.NoError(t, models.Migrate(db))

	claimed, err := NewArbiter(db).ClaimSeat(context.Background(), 999)
	require.NoError(t, err)
	assert.False(t, claimed)
}
