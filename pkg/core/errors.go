package core

import (
	"errors"
	"fmt"
)

// Kind classifies engine errors so callers can decide on retries and status codes.
type Kind string

// Error kinds.
const (
	KindUnsupportedDimension Kind = "UnsupportedDimensionError"
	KindUnresolvedSource     Kind = "UnresolvedSourceError"
	KindNoData               Kind = "NoDataError"
	KindFormula              Kind = "FormulaError"
	KindNotFound             Kind = "NotFoundError"
	KindCyclicDependency     Kind = "CyclicDependencyError"
	KindValidation           Kind = "ValidationError"
	KindConflict             Kind = "ConflictError"
	KindConfig               Kind = "ConfigError"
	KindInternal             Kind = "InternalError"
)

// Sentinels for errors.Is. Each matches any *Error of the same kind.
var (
	ErrUnsupportedDimension = &Error{Kind: KindUnsupportedDimension}
	ErrUnresolvedSource     = &Error{Kind: KindUnresolvedSource}
	ErrNoData               = &Error{Kind: KindNoData}
	ErrFormula              = &Error{Kind: KindFormula}
	ErrNotFound             = &Error{Kind: KindNotFound}
	ErrCyclicDependency     = &Error{Kind: KindCyclicDependency}
	ErrValidation           = &Error{Kind: KindValidation}
	ErrConflict             = &Error{Kind: KindConflict}
	ErrConfig               = &Error{Kind: KindConfig}
)

// Error is the typed error returned by engine components.
type Error struct {
	Kind Kind
	// Op is the operation that failed, e.g. "calculate".
	Op string
	// ID is the metric or variant id the error is about.
	ID  string
	Msg string
	Err error
	// Path carries the offending chain for cyclic dependencies.
	Path []string
}

// Errorf builds an *Error with a formatted message.
func Errorf(kind Kind, id, format string, args ...any) *Error {
	return &Error{Kind: kind, ID: id, Msg: fmt.Sprintf(format, args...)}
}

// Wrap builds an *Error around an underlying cause.
func Wrap(kind Kind, id string, err error, msg string) *Error {
	return &Error{Kind: kind, ID: id, Msg: msg, Err: err}
}

func (e *Error) Error() string {
	msg := e.Msg
	if msg == "" {
		msg = string(e.Kind)
	}
	if e.ID != "" {
		msg = e.ID + ": " + msg
	}
	if e.Op != "" {
		msg = e.Op + " " + msg
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error { return e.Err }

// Is matches sentinel errors by kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Msg == "" && t.ID == ""
}

// Retryable reports whether the same request may succeed later.
// Only missing data qualifies: it can land after the next load.
func (e *Error) Retryable() bool { return e.Kind == KindNoData }

// KindOf extracts the error kind, or KindInternal for foreign errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	var k interface{ ErrorKind() Kind }
	if errors.As(err, &k) {
		return k.ErrorKind()
	}
	return KindInternal
}

// IsRetryable reports whether err is safe to retry.
func IsRetryable(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Retryable()
}

// IsClientError reports whether err stems from caller misuse.
func IsClientError(err error) bool {
	switch KindOf(err) {
	case KindUnsupportedDimension, KindNotFound, KindValidation, KindConflict:
		return true
	}
	return false
}

// Annotate returns a copy of err's *Error with id set and where prefixed to
// its message. Foreign errors are wrapped with the fallback kind.
func Annotate(err error, fallback Kind, id, where string) error {
	var e *Error
	if errors.As(err, &e) {
		c := *e
		c.ID = id
		c.Msg = where + ": " + c.Msg
		return &c
	}
	return Wrap(fallback, id, err, where)
}
