// Package storage holds ciphertext blobs for uploaded files. Metadata lives
// in PostgreSQL; the store only sees opaque bytes under a storage key.
package storage

import (
	"context"
	"fmt"
	"time"

	sc "github.com/dmitrijs2005/clinicvault/internal/server/config"
	"github.com/google/uuid"
)

// ObjectStore is the blob backend. Get returns common.ErrorNotFound for a
// missing key; Delete of a missing key is not an error.
type ObjectStore interface {
	Put(ctx context.Context, key string, data []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
}

// New builds the backend selected by cfg.StorageBackend.
func New(ctx context.Context, cfg *sc.Config) (ObjectStore, error) {
	switch cfg.StorageBackend {
	case "s3":
		return NewS3Store(ctx, cfg)
	case "minio":
		return NewMinioStore(cfg)
	case "memory":
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.StorageBackend)
	}
}

// NewStorageKey returns a fresh, date-partitioned object key.
func NewStorageKey(now time.Time) string {
	return fmt.Sprintf("files/%d/%02d/%02d/%v", now.Year(), now.Month(), now.Day(), uuid.New())
}
