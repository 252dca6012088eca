// Package storage provides the object storage client used by the batch audit
// archive. It wraps the Minio S3-compatible client behind a narrow interface
// so features can be tested with mocks.
package storage
