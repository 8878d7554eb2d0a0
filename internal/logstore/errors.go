// Package logstore provides ClickHouse access to the query-log table: the
// checkpointed reader the monitor polls, and the batched writer the ingest
// bridge feeds.
package logstore

import (
	"errors"
	"fmt"
)

// Error categories for log-store failures.
var (
	// ErrConnectionFailed indicates the store could not be reached.
	ErrConnectionFailed = errors.New("logstore: connection failed")

	// ErrQueryFailed indicates a query execution failure.
	ErrQueryFailed = errors.New("logstore: query failed")

	// ErrBatchInsertFailed indicates a batch insert failure.
	ErrBatchInsertFailed = errors.New("logstore: batch insert failed")

	// ErrMalformedRecord indicates a row that could not be read as a record.
	ErrMalformedRecord = errors.New("logstore: malformed record")

	// ErrInvalidMapping indicates a table mapping that is not identifier-safe.
	ErrInvalidMapping = errors.New("logstore: invalid table mapping")
)

// StoreError wraps log-store failures with operation context.
type StoreError struct {
	Op      string // operation that failed (e.g. "Poll", "Insert")
	Table   string // table involved, if applicable
	Err     error
	Retries int // retries attempted, if applicable
}

// Error returns the error message.
func (e *StoreError) Error() string {
	if e.Table != "" {
		return fmt.Sprintf("logstore.%s(%s): %v", e.Op, e.Table, e.Err)
	}
	return fmt.Sprintf("logstore.%s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *StoreError) Unwrap() error {
	return e.Err
}

// IsConnectionError reports whether err is a connectivity failure.
func IsConnectionError(err error) bool {
	return errors.Is(err, ErrConnectionFailed)
}

// IsQueryError reports whether err is a query failure.
func IsQueryError(err error) bool {
	return errors.Is(err, ErrQueryFailed)
}

func wrapConnectionError(op string, err error) error {
	return &StoreError{Op: op, Err: fmt.Errorf("%w: %v", ErrConnectionFailed, err)}
}

func wrapQueryError(op, table string, err error) error {
	return &StoreError{Op: op, Table: table, Err: fmt.Errorf("%w: %v", ErrQueryFailed, err)}
}

func wrapBatchError(op, table string, err error, retries int) error {
	return &StoreError{Op: op, Table: table, Retries: retries, Err: fmt.Errorf("%w: %v", ErrBatchInsertFailed, err)}
}
