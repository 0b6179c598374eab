package jelstor

import (
	"database/sql"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/google/uuid"
	"modernc.org/sqlite"
)

var (
	ErrDB                  = errors.New("an error occured with the DB")
	ErrNotFound            = errors.New("the requested entity could not be found")
	ErrConstraintViolation = errors.New("a uniqueness constraint was violated")
	ErrDecodingFailure     = errors.New("field could not be decoded from storage format")
	ErrNoResolver          = errors.New("no put resolver is available for the type")
	ErrClosed              = errors.New("the store has been closed")
	ErrTxDone              = errors.New("the transaction has already ended")
	ErrInvalidResult       = errors.New("the put result is not valid")
)

// Error is a typed error returned by functions in jelstor and its
// sub-packages. It contains both a message explaining what happened as well as
// one or more error values it considers to be its causes. Error is compatible
// with the use of errors.Is() - calling errors.Is on some Error value err along
// with any value of error it holds as one of its causes will return true.
//
// If Error has at least one cause defined, the result of calling Error.Error()
// will be its primary message with the result of calling Error() on its first
// cause appended to it.
//
// Error should not be used directly; call NewError to create one.
type Error struct {
	msg   string
	cause []error
}

// Error returns the message defined for the Error. If a message was defined for
// it when created, that message is returned, concatenated with the result of
// calling Error() on the its first cause if one is defined. If no message or an
// empty message was defined for it when created, but there is at least one
// cause defined for it, the result of calling Error() on the first cause is
// returned. If no message is defined and no causes are defined, returns the
// empty string.
func (e Error) Error() string {
	if e.msg == "" && e.cause != nil {
		return e.cause[0].Error()
	}

	if e.cause != nil {
		return e.msg + ": " + e.cause[0].Error()
	}

	return e.msg
}

// Unwrap returns the causes of Error. The return value will be nil if no causes
// were defined for it.
func (e Error) Unwrap() []error {
	if len(e.cause) > 0 {
		return e.cause
	}
	return nil
}

// Is returns whether Error either Is itself the given target error, or one of
// its causes is.
func (e Error) Is(target error) bool {
	errTarget, ok := target.(Error)
	if !ok || e.msg != errTarget.msg || len(e.cause) != len(errTarget.cause) {
		return false
	}

	for i := range e.cause {
		if e.cause[i] != errTarget.cause[i] {
			return false
		}
	}
	return true
}

// NewError creates a new Error with the given message, along with any errors it
// should wrap as its causes. Providing cause errors is not required, but will
// cause it to return true when it is checked against that error via a call to
// errors.Is.
func NewError(msg string, causes ...error) Error {
	err := Error{msg: msg}
	if len(causes) > 0 {
		err.cause = make([]error, len(causes))
		copy(err.cause, causes)
	}
	return err
}

func convertDBError(err error) error {
	sqliteErr := &sqlite.Error{}
	if errors.As(err, &sqliteErr) {
		primaryCode := sqliteErr.Code() & 0xff
		if primaryCode == 19 {
			// preserve the error message for constraints violations
			return NewError(ErrConstraintViolation.Error(), err, ErrConstraintViolation)
		} else if primaryCode == 1 {
			// 1 is a generic error and thus the string is not descriptive, so
			// do not use the error code string
			return err
		}

		return NewError(sqlite.ErrorCodeString[sqliteErr.Code()], err)
	} else if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}

	return err
}

// WrapDBError creates a new Error that wraps the given error as a cause and
// automatically adds ErrDB as another cause. A user-set message may be provided
// if desired with msg, but it may be left as "".
//
// The provided error being wrapped will itself be converted to an Error of the
// approriate jelstor type if possible; e.g. SQLite-specific errors indicating
// that a uniqueness constraint failed would be converted to an Error that
// returns true for errors.Is(err, jelstor.ErrConstraintViolation).
func WrapDBError(err error, msg ...any) Error {
	err = convertDBError(err)

	var errMsg string
	if len(msg) > 0 {
		errMsg = fmt.Sprint(msg...)
	}

	return Error{
		msg:   errMsg,
		cause: []error{err, ErrDB},
	}
}

// WrapDBErrorf is WrapDBError with a format string for the message.
func WrapDBErrorf(err error, format string, a ...any) Error {
	err = convertDBError(err)

	return Error{
		msg:   fmt.Sprintf(format, a...),
		cause: []error{err, ErrDB},
	}
}

// ResolverError is returned when no put resolver could be found for an object,
// either because none was given explicitly and its type is not registered, or
// because the object cannot be used as a key in a batch's results. It matches
// ErrNoResolver with errors.Is.
type ResolverError struct {
	// Type is the dynamic type of the offending object.
	Type reflect.Type

	// Reason is a short explanation. If empty, the type is assumed to be
	// unregistered.
	Reason string
}

func (e *ResolverError) Error() string {
	reason := e.Reason
	if reason == "" {
		reason = "type is not registered and no explicit resolver was given"
	}
	return fmt.Sprintf("%s: %v: %s", ErrNoResolver.Error(), e.Type, reason)
}

func (e *ResolverError) Is(target error) bool {
	return target == ErrNoResolver
}

// OperationError is the single error type returned at the boundary of a put
// operation. The cause of the failure is available by unwrapping it; Op names
// the operation and Subjects holds the objects that were being put.
type OperationError struct {
	Op       string
	BatchID  uuid.UUID
	Subjects []any
	Err      error
}

func (e *OperationError) Error() string {
	var sb strings.Builder
	sb.WriteString(e.Op)
	if e.BatchID != uuid.Nil {
		sb.WriteString(" ")
		sb.WriteString(e.BatchID.String())
	}
	switch len(e.Subjects) {
	case 0:
	case 1:
		sb.WriteString(fmt.Sprintf(" (object = %v)", e.Subjects[0]))
	default:
		sb.WriteString(fmt.Sprintf(" (%d objects)", len(e.Subjects)))
	}
	if e.Err != nil {
		sb.WriteString(": ")
		sb.WriteString(e.Err.Error())
	}
	return sb.String()
}

func (e *OperationError) Unwrap() error {
	return e.Err
}
