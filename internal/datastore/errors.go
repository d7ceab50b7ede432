package datastore

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/mattn/go-sqlite3"

	"github.com/roach88/repostore/internal/codec"
)

// ErrorCode categorizes data access failures.
type ErrorCode string

const (
	// ErrCodeDataAccess is any persistence failure without a finer code.
	ErrCodeDataAccess ErrorCode = "DATA_ACCESS"

	// ErrCodeDuplicateKey indicates a unique or primary key violation.
	ErrCodeDuplicateKey ErrorCode = "DUPLICATE_KEY"

	// ErrCodeCodec indicates a value could not be converted to or from its
	// column form. The cause is always a *codec.Error.
	ErrCodeCodec ErrorCode = "CODEC"

	// ErrCodeSession indicates misuse of a session: a statement after
	// commit, rollback or close, or an access type not registered.
	ErrCodeSession ErrorCode = "SESSION"

	// ErrCodeNotStarted indicates the store has not been started.
	ErrCodeNotStarted ErrorCode = "NOT_STARTED"

	// ErrCodeUnsupported indicates the active engine cannot perform the
	// operation.
	ErrCodeUnsupported ErrorCode = "UNSUPPORTED"
)

// DataAccessError is the single failure type surfaced by sessions and
// accessors. Driver errors never escape unwrapped.
type DataAccessError struct {
	// Code identifies the error category.
	Code ErrorCode

	// Message is a human-readable description.
	Message string

	// Statement is the statement id, when the failure came from one.
	Statement string

	// Err is the original cause, nil for policy failures.
	Err error
}

// Error implements the error interface.
func (e *DataAccessError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.Statement != "" {
		msg = fmt.Sprintf("%s (statement=%s)", msg, e.Statement)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

// Unwrap returns the cause.
func (e *DataAccessError) Unwrap() error {
	return e.Err
}

// FrozenError is returned for a mutating statement issued while the store
// is frozen, unless its access type is immune.
type FrozenError struct {
	Store     string
	Statement string
}

// Error implements the error interface.
func (e *FrozenError) Error() string {
	return fmt.Sprintf("data store %s is frozen: %s rejected", e.Store, e.Statement)
}

// SchemaError is returned when DDL placeholder types cannot be resolved or
// a mapper document cannot be expanded. It is fatal to Start and Register.
type SchemaError struct {
	Store   string
	Message string
	Err     error
}

// Error implements the error interface.
func (e *SchemaError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("data store %s: schema: %s: %v", e.Store, e.Message, e.Err)
	}
	return fmt.Sprintf("data store %s: schema: %s", e.Store, e.Message)
}

// Unwrap returns the cause.
func (e *SchemaError) Unwrap() error {
	return e.Err
}

// IsFrozen reports whether err is a frozen-store violation.
func IsFrozen(err error) bool {
	var fe *FrozenError
	return errors.As(err, &fe)
}

// IsSchemaError reports whether err is a schema configuration failure.
func IsSchemaError(err error) bool {
	var se *SchemaError
	return errors.As(err, &se)
}

// IsDataAccess reports whether err is a data access failure of any code.
func IsDataAccess(err error) bool {
	var de *DataAccessError
	return errors.As(err, &de)
}

// IsDuplicateKey reports whether err is a unique key violation.
func IsDuplicateKey(err error) bool {
	return CodeOf(err) == ErrCodeDuplicateKey
}

// CodeOf returns the code of the first DataAccessError in err's chain, or
// "" if there is none.
func CodeOf(err error) ErrorCode {
	var de *DataAccessError
	if errors.As(err, &de) {
		return de.Code
	}
	return ""
}

func newError(code ErrorCode, stmt, format string, args ...any) *DataAccessError {
	return &DataAccessError{Code: code, Statement: stmt, Message: fmt.Sprintf(format, args...)}
}

// translate converts a failure from the driver or a handler into the layer's
// own types. Frozen and data access failures pass through unchanged.
func translate(stmt string, err error) error {
	if err == nil {
		return nil
	}
	var fe *FrozenError
	if errors.As(err, &fe) {
		return err
	}
	var de *DataAccessError
	if errors.As(err, &de) {
		return err
	}

	var ce *codec.Error
	if errors.As(err, &ce) {
		return &DataAccessError{Code: ErrCodeCodec, Statement: stmt, Message: "value conversion failed", Err: err}
	}
	if isDuplicateKey(err) {
		return &DataAccessError{Code: ErrCodeDuplicateKey, Statement: stmt, Message: "duplicate key", Err: err}
	}
	return &DataAccessError{Code: ErrCodeDataAccess, Statement: stmt, Message: "statement failed", Err: err}
}

func isDuplicateKey(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		return liteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			liteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}
