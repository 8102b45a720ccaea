package store

import (
	"context"
	"errors"
	"fmt"
)

// ErrQuotaExceeded is returned by a KVStore when a write would not fit.
var ErrQuotaExceeded = errors.New("storage quota exceeded")

// KVStore is the single bounded key-value slot the session list lives in.
type KVStore interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Remove(ctx context.Context, key string) error
}

// StorageError represents a failure of the backing store.
type StorageError struct {
	Op  string // "get", "set", "remove"
	Key string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage error: %s %s: %v", e.Op, e.Key, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// IsQuotaExceeded reports whether err is a capacity failure.
func IsQuotaExceeded(err error) bool {
	return errors.Is(err, ErrQuotaExceeded)
}

func quotaError(key string, size, capacity int) error {
	return &StorageError{
		Op:  "set",
		Key: key,
		Err: fmt.Errorf("%w: %d bytes over a %d byte bound", ErrQuotaExceeded, size, capacity),
	}
}
