package catalog

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound matches every NotFoundError.
	ErrNotFound = errors.New("plugin not found")
	// ErrSyncFailed matches every SyncFailedError.
	ErrSyncFailed = errors.New("catalog sync failed")
	// ErrPersistence matches every PersistenceError.
	ErrPersistence = errors.New("catalog persistence error")
)

// NotFoundError is returned when a mutator or lookup targets an unknown id.
type NotFoundError struct {
	ID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("plugin %q not found", e.ID)
}

// Is lets errors.Is(err, ErrNotFound) match.
func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

// SyncFailedError is returned when the registry is unreachable or its
// response cannot be decoded.
type SyncFailedError struct {
	Cause error
}

func (e *SyncFailedError) Error() string {
	return fmt.Sprintf("catalog sync failed: %v", e.Cause)
}

func (e *SyncFailedError) Unwrap() error {
	return e.Cause
}

// Is lets errors.Is(err, ErrSyncFailed) match.
func (e *SyncFailedError) Is(target error) bool {
	return target == ErrSyncFailed
}

// PersistenceError wraps a failure of the underlying database.
type PersistenceError struct {
	Op    string
	Cause error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("catalog %s: %v", e.Op, e.Cause)
}

func (e *PersistenceError) Unwrap() error {
	return e.Cause
}

// Is lets errors.Is(err, ErrPersistence) match.
func (e *PersistenceError) Is(target error) bool {
	return target == ErrPersistence
}

func persistenceError(op string, err error) error {
	if err == nil {
		return nil
	}
	var pe *PersistenceError
	if errors.As(err, &pe) {
		return err
	}
	var nf *NotFoundError
	if errors.As(err, &nf) {
		return err
	}
	return &PersistenceError{Op: op, Cause: err}
}
