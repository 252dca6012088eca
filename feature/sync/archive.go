package sync

import (
	"bytes"
	"context"
	"fmt"

	"matricula-sync/core/storage"

	"github.com/minio/minio-go/v7"
	"go.uber.org/zap"
)

// Archiver writes raw submissions and final outcomes to object storage for
// audit. Everything here is best effort: an archive failure is logged and
// never blocks or fails reconciliation.
type Archiver struct {
	client storage.Client
	bucket string
	logger *zap.Logger
}

// NewArchiver creates an archiver. client may be nil (archiving disabled).
func NewArchiver(client storage.Client, bucket string, logger *zap.Logger) *Archiver {
	return &Archiver{client: client, bucket: bucket, logger: logger}
}

// Enabled reports whether an object store is configured.
func (a *Archiver) Enabled() bool {
	return a != nil && a.client != nil
}

// ArchiveSubmission stores the raw submission JSON for a batch.
func (a *Archiver) ArchiveSubmission(ctx context.Context, batchID string, payload []byte) {
	a.archive(ctx, fmt.Sprintf("archive/batches/%s.json", batchID), payload)
}

// ArchiveOutcome stores the final mappings/conflicts JSON for a batch.
func (a *Archiver) ArchiveOutcome(ctx context.Context, batchID string, outcome []byte) {
	a.archive(ctx, fmt.Sprintf("archive/outcomes/%s.json", batchID), outcome)
}

func (a *Archiver) archive(ctx context.Context, objectName string, data []byte) {
	if !a.Enabled() || len(data) == 0 {
		return
	}
	_, err := a.client.PutObject(ctx, a.bucket, objectName,
		bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: "application/json"})
	if err != nil {
		a.logger.Warn("batch archive failed",
			zap.String("object", objectName),
			zap.Error(err))
	}
}
