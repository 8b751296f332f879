package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrEmptyCollection is returned when an operation needs at least one stored item.
	ErrEmptyCollection = errors.New("item collection is empty")
	// ErrUnknownCallback indicates a callback payload that cannot be decoded.
	ErrUnknownCallback = errors.New("unknown callback payload")
	// ErrCallbackTooLong indicates an encoded payload exceeding the platform limit.
	ErrCallbackTooLong = errors.New("callback payload exceeds 64 bytes")
	// ErrNotAdmin is returned when a non-admin triggers an admin action.
	ErrNotAdmin = errors.New("sender is not an administrator")
	// ErrNoTargets is returned when a scheduled dispense has nowhere to post.
	ErrNoTargets = errors.New("no dispense targets registered")
)

// ValidationError reports a malformed or incomplete record.
type ValidationError struct {
	Field  string
	Reason string
	// Line is the 1-based record position within an ingested batch, if known.
	Line int
}

func (e *ValidationError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("record %d: %s %s", e.Line, e.Field, e.Reason)
	}
	return fmt.Sprintf("%s %s", e.Field, e.Reason)
}

// NotFoundError reports an index or id outside the current bounds.
type NotFoundError struct {
	What string
	ID   string
	// Size is the number of addressable entries; valid indexes are [0, Size).
	Size int
}

func (e *NotFoundError) Error() string {
	if e.Size > 0 {
		return fmt.Sprintf("%s %s not found (valid range 0-%d)", e.What, e.ID, e.Size-1)
	}
	return fmt.Sprintf("%s %s not found", e.What, e.ID)
}

// DataIntegrityError reports stored data that fails the checks its write path enforces.
type DataIntegrityError struct {
	Key    string
	Reason string
}

func (e *DataIntegrityError) Error() string {
	return fmt.Sprintf("integrity: %s: %s", e.Key, e.Reason)
}

// TransientStoreError wraps a failed read or write against the backing store.
type TransientStoreError struct {
	Op  string
	Key string
	Err error
}

func (e *TransientStoreError) Error() string {
	return fmt.Sprintf("store %s %q: %v", e.Op, e.Key, e.Err)
}

func (e *TransientStoreError) Unwrap() error { return e.Err }

// IsNotFound reports whether err carries a NotFoundError or ErrEmptyCollection.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf) || errors.Is(err, ErrEmptyCollection)
}
