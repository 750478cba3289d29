package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/mattn/go-sqlite3"
	"modernc.org/sqlite"
)

// SQLite primary result codes the store inspects.
const (
	CodeBusy       = 5
	CodeLocked     = 6
	CodeConstraint = 19
)

// UnsupportedBindTypeError is returned when a bind value cannot be normalized
// to one of the types SQLite stores: NULL, integer, real, text or blob.
type UnsupportedBindTypeError struct {
	// Position is the zero-based index of the value in the argument list.
	Position int

	// Value is the rejected value.
	Value any

	// Reason is set when the type is supported but this value is not,
	// e.g. a uint64 above the signed 64-bit range.
	Reason string
}

// Error implements the error interface.
func (e *UnsupportedBindTypeError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("unsupported bind value %T at position %d: %s", e.Value, e.Position, e.Reason)
	}
	return fmt.Sprintf("unsupported bind type %T at position %d", e.Value, e.Position)
}

// IsUnsupportedBindType reports whether err is, or wraps, an UnsupportedBindTypeError.
func IsUnsupportedBindType(err error) bool {
	var ue *UnsupportedBindTypeError
	return errors.As(err, &ue)
}

// StorageEngineError wraps a failure reported by the SQLite driver.
//
// Code and ExtendedCode are the SQLite result codes when the driver exposes
// them, zero otherwise. Unwrap returns the driver error unchanged, so
// errors.As against sqlite3.Error or *sqlite.Error keeps working.
type StorageEngineError struct {
	Op           string
	SQL          string
	Code         int
	ExtendedCode int
	Err          error
}

// Error implements the error interface.
func (e *StorageEngineError) Error() string {
	if e.SQL != "" {
		return fmt.Sprintf("storage engine: %s %q: %v", e.Op, e.SQL, e.Err)
	}
	return fmt.Sprintf("storage engine: %s: %v", e.Op, e.Err)
}

// Unwrap returns the driver error.
func (e *StorageEngineError) Unwrap() error {
	return e.Err
}

// IsStorageEngineError reports whether err is, or wraps, a StorageEngineError.
func IsStorageEngineError(err error) bool {
	var se *StorageEngineError
	return errors.As(err, &se)
}

// IsConstraintViolation reports whether err is a SQLite constraint failure
// (UNIQUE, NOT NULL, FOREIGN KEY, CHECK).
func IsConstraintViolation(err error) bool {
	var se *StorageEngineError
	if errors.As(err, &se) {
		return se.Code == CodeConstraint
	}
	return false
}

// IsBusy reports whether err is SQLITE_BUSY or SQLITE_LOCKED.
func IsBusy(err error) bool {
	var se *StorageEngineError
	if errors.As(err, &se) {
		return se.Code == CodeBusy || se.Code == CodeLocked
	}
	return false
}

// engineError wraps err in a StorageEngineError. Context cancellation and
// sql.ErrNoRows are not engine failures and are returned wrapped with op only.
func engineError(op, query string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", op, err)
	}

	code, extended := engineCodes(err)
	return &StorageEngineError{
		Op:           op,
		SQL:          query,
		Code:         code,
		ExtendedCode: extended,
		Err:          err,
	}
}

// engineCodes extracts result codes from either supported driver.
func engineCodes(err error) (code, extended int) {
	var cgoErr sqlite3.Error
	if errors.As(err, &cgoErr) {
		return int(cgoErr.Code), int(cgoErr.ExtendedCode)
	}

	var pureErr *sqlite.Error
	if errors.As(err, &pureErr) {
		c := pureErr.Code()
		return c & 0xff, c
	}

	return 0, 0
}
