// Package storage keeps ciphertext blobs in object storage. Keys combine user
// and file identifiers so two users can never collide.
package storage

import (
	"context"
	"fmt"
	"time"
)

// Store is the object-storage capability used by ingest and processing.
type Store interface {
	// Put stores data under key and returns the location to persist.
	Put(ctx context.Context, key string, data []byte) (string, error)
	// Get returns the bytes at location or common.ErrorNotFound.
	Get(ctx context.Context, location string) ([]byte, error)
	Delete(ctx context.Context, location string) error
}

// Linker is implemented by stores that can hand out time-limited read URLs
// for a ciphertext. *S3Store is one; the in-memory store is not.
type Linker interface {
	PresignGet(ctx context.Context, location string, ttl time.Duration) (string, error)
}

// ObjectKey is the storage key of a file's ciphertext.
func ObjectKey(userID, fileID string) string {
	return fmt.Sprintf("users/%s/files/%s.bin", userID, fileID)
}
