package sync

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"matricula-sync/core/database"
	"matricula-sync/core/queue"
	"matricula-sync/core/storage/mocks"
	"matricula-sync/feature/sync/models"
	"matricula-sync/feature/sync/reconcile"

	"github.com/minio/minio-go/v7"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type fakeEnqueuer struct {
	jobs       []queue.Job
	priorities []float64
	err        error
}

func (f *fakeEnqueuer) Enqueue(ctx context.Context, job queue.Job, priority float64) error {
	if f.err != nil {
		return f.err
	}
	f.jobs = append(f.jobs, job)
	f.priorities = append(f.priorities, priority)
	return nil
}

func setupService(t *testing.T, cfg Config, broker Enqueuer) (*Service, *gorm.DB) {
	db, err := database.Connect(database.Config{Driver: "sqlite", Name: ":memory:"})
	require.NoError(t, err)
	require.NoError(t, models.Migrate(db))

	log := zap.NewNop()
	rec := reconcile.NewReconciler(db, log)
	svc := NewService(cfg, db, rec, broker, nil, NewArchiver(nil, "", log), log)
	return svc, db
}

func respItem(t *testing.T, idLocal, nome, cpf string) reconcile.ChangeItem {
	raw, err := json.Marshal(reconcile.ResponsavelPayload{Nome: nome, CPF: cpf})
	require.NoError(t, err)
	return reconcile.ChangeItem{
		Entity:    reconcile.EntityResponsavel,
		Operation: reconcile.OpCreate,
		IDLocal:   idLocal,
		Data:      raw,
	}
}

func TestSubmitRejectsInvalidSubmissions(t *testing.T) {
	svc, _ := setupService(t, Config{}, nil)
	ctx := context.Background()

	_, err := svc.Submit(ctx, &SubmitRequest{})
	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Contains(t, ve.Error(), "empty")

	_, err = svc.Submit(ctx, &SubmitRequest{Batch: []reconcile.ChangeItem{
		{Entity: "unknown", Operation: reconcile.OpCreate, IDLocal: "x"},
	}})
	require.ErrorAs(t, err, &ve)
}

func TestSubmitInline(t *testing.T) {
	svc, db := setupService(t, Config{}, nil)

	result, err := svc.Submit(context.Background(), &SubmitRequest{
		Batch:    []reconcile.ChangeItem{respItem(t, "tmp-1", "Maria", "111")},
		DeviceID: "tablet-1",
	})
	require.NoError(t, err)
	assert.False(t, result.Queued)
	assert.Equal(t, models.BatchCompleted, result.Outcome.Status)
	assert.True(t, result.Outcome.Success)
	assert.NotNil(t, result.Outcome.SyncedAt)
	require.Len(t, result.Outcome.Mappings, 1)
	assert.Empty(t, result.Outcome.Conflicts)

	var entry models.SyncBatch
	require.NoError(t, db.First(&entry, "id = ?", result.Outcome.BatchID).Error)
	assert.Equal(t, models.BatchCompleted, entry.Status)
	assert.Equal(t, 1, entry.SuccessCount)
	assert.NotNil(t, entry.CompletedAt)
}

func TestSubmitInlineCountsEveryItem(t *testing.T) {
	svc, db := setupService(t, Config{}, nil)

	update := respItem(t, "tmp-1", "Maria Silva", "111")
	update.Operation = reconcile.OpUpdate
	result, err := svc.Submit(context.Background(), &SubmitRequest{
		Batch: []reconcile.ChangeItem{
			respItem(t, "tmp-1", "Maria", "111"),
			update,
			respItem(t, "tmp-2", "Outra", "111"), // duplicate CPF, conflicts
		},
		DeviceID: "tablet-1",
	})
	require.NoError(t, err)
	assert.Len(t, result.Outcome.Mappings, 2)
	assert.Len(t, result.Outcome.Conflicts, 1)

	// Every item lands in exactly one ledger column.
	var entry models.SyncBatch
	require.NoError(t, db.First(&entry, "id = ?", result.Outcome.BatchID).Error)
	assert.Equal(t, 3, entry.RecordsCount)
	assert.Equal(t, 2, entry.SuccessCount)
	assert.Equal(t, 1, entry.FailureCount)
}

func TestSubmitQueuedOverThreshold(t *testing.T) {
	broker := &fakeEnqueuer{}
	svc, db := setupService(t, Config{InlineThreshold: 1}, broker)

	result, err := svc.Submit(context.Background(), &SubmitRequest{
		Batch: []reconcile.ChangeItem{
			respItem(t, "tmp-1", "Maria", "111"),
			respItem(t, "tmp-2", "Joana", "222"),
		},
	})
	require.NoError(t, err)
	assert.True(t, result.Queued)
	assert.Equal(t, models.BatchProcessing, result.Outcome.Status)

	// Priority score is the batch size.
	require.Len(t, broker.jobs, 1)
	assert.Equal(t, result.Outcome.BatchID, broker.jobs[0].BatchID)
	assert.Equal(t, float64(2), broker.priorities[0])

	// The ledger is already processing, so a poll racing the worker
	// resolves instead of 404ing.
	var entry models.SyncBatch
	require.NoError(t, db.First(&entry, "id = ?", result.Outcome.BatchID).Error)
	assert.Equal(t, models.BatchProcessing, entry.Status)
	assert.NotEmpty(t, entry.Payload)

	// The worker path executes the stored payload to completion.
	require.NoError(t, svc.Process(context.Background(), result.Outcome.BatchID))
	outcome, err := svc.Status(context.Background(), result.Outcome.BatchID)
	require.NoError(t, err)
	assert.Equal(t, models.BatchCompleted, outcome.Status)
	assert.Len(t, outcome.Mappings, 2)
}

func TestSubmitBrokerDownFallsBackInline(t *testing.T) {
	broker := &fakeEnqueuer{err: queue.ErrUnavailable}
	svc, _ := setupService(t, Config{InlineThreshold: 1}, broker)

	result, err := svc.Submit(context.Background(), &SubmitRequest{
		Batch: []reconcile.ChangeItem{
			respItem(t, "tmp-1", "Maria", "111"),
			respItem(t, "tmp-2", "Joana", "222"),
		},
	})
	require.NoError(t, err)
	assert.False(t, result.Queued)
	assert.Equal(t, models.BatchCompleted, result.Outcome.Status)
	assert.Len(t, result.Outcome.Mappings, 2)
}

func TestSubmitIdempotencyReplay(t *testing.T) {
	svc, db := setupService(t, Config{}, nil)
	req := &SubmitRequest{
		Batch:          []reconcile.ChangeItem{respItem(t, "tmp-1", "Maria", "111")},
		IdempotencyKey: "device-1-42",
	}

	first, err := svc.Submit(context.Background(), req)
	require.NoError(t, err)

	second, err := svc.Submit(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, first.Outcome.BatchID, second.Outcome.BatchID)
	assert.Equal(t, models.BatchCompleted, second.Outcome.Status)
	require.Len(t, second.Outcome.Mappings, 1)
	assert.Equal(t, first.Outcome.Mappings[0].IDGlobal, second.Outcome.Mappings[0].IDGlobal)

	// The batch was applied exactly once.
	var count int64
	require.NoError(t, db.Model(&models.Responsavel{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestProcessIsIdempotentOverTerminalBatches(t *testing.T) {
	svc, db := setupService(t, Config{}, nil)

	result, err := svc.Submit(context.Background(), &SubmitRequest{
		Batch: []reconcile.ChangeItem{respItem(t, "tmp-1", "Maria", "111")},
	})
	require.NoError(t, err)

	// A redelivered job for a finished batch is a no-op.
	require.NoError(t, svc.Process(context.Background(), result.Outcome.BatchID))
	var count int64
	require.NoError(t, db.Model(&models.Responsavel{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestStatusUnknownBatch(t *testing.T) {
	svc, _ := setupService(t, Config{}, nil)
	_, err := svc.Status(context.Background(), "nope")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestFailRecordsTerminalState(t *testing.T) {
	svc, db := setupService(t, Config{InlineThreshold: 1}, &fakeEnqueuer{})

	result, err := svc.Submit(context.Background(), &SubmitRequest{
		Batch: []reconcile.ChangeItem{
			respItem(t, "tmp-1", "Maria", "111"),
			respItem(t, "tmp-2", "Joana", "222"),
		},
	})
	require.NoError(t, err)

	svc.Fail(context.Background(), result.Outcome.BatchID, errors.New("store unreachable"))

	var entry models.SyncBatch
	require.NoError(t, db.First(&entry, "id = ?", result.Outcome.BatchID).Error)
	assert.Equal(t, models.BatchFailed, entry.Status)
	require.NotNil(t, entry.Error)
	assert.Equal(t, "store unreachable", *entry.Error)
}

func TestArchiverStoresSubmissionAndOutcome(t *testing.T) {
	db, err := database.Connect(database.Config{Driver: "sqlite", Name: ":memory:"})
	require.NoError(t, err)
	require.NoError(t, models.Migrate(db))

	mockClient := new(mocks.Client)
	mockClient.On("PutObject", mock.Anything, "audit", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(minio.UploadInfo{}, nil)

	log := zap.NewNop()
	svc := NewService(Config{}, db, reconcile.NewReconciler(db, log), nil,
		nil, NewArchiver(mockClient, "audit", log), log)

	result, err := svc.Submit(context.Background(), &SubmitRequest{
		Batch: []reconcile.ChangeItem{respItem(t, "tmp-1", "Maria", "111")},
	})
	require.NoError(t, err)

	// One object for the raw submission, one for the final outcome.
	mockClient.AssertNumberOfCalls(t, "PutObject", 2)
	mockClient.AssertCalled(t, "PutObject", mock.Anything, "audit",
		"archive/batches/"+result.Outcome.BatchID+".json",
		mock.Anything, mock.Anything, mock.Anything)
}
