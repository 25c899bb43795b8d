package queue

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound means the queued match does not exist (already synced,
	// removed, or never queued).
	ErrNotFound = errors.New("queued match not found")

	// ErrStorage marks a storage-layer failure (quota, corruption, I/O).
	// Callers must surface it rather than silently dropping a record.
	ErrStorage = errors.New("queue storage failure")
)

// StorageError wraps an underlying database failure with the operation that
// hit it. It matches ErrStorage under errors.Is.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("queue storage: %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

func (e *StorageError) Is(target error) bool { return target == ErrStorage }

func storageError(op string, err error) error {
	return &StorageError{Op: op, Err: err}
}
