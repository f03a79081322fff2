package errs

import (
	"errors"
	"fmt"
)

// Error kinds. Callers classify with errors.Is against these sentinels.
var (
	ErrConfig            = errors.New("configuration error")
	ErrTransient         = errors.New("transient error")
	ErrProtocol          = errors.New("protocol error")
	ErrInvalidInput      = errors.New("invalid input")
	ErrInvalidTransition = errors.New("invalid state transition")
	ErrNotFound          = errors.New("not found")
	ErrPermissionDenied  = errors.New("permission denied")
	ErrRateLimited       = errors.New("rate limit exceeded")
)

type kindError struct {
	kind  error
	cause error
	msg   string
}

func (e *kindError) Error() string {
	if e.cause == nil {
		return e.msg
	}
	if e.msg == "" {
		return e.cause.Error()
	}
	return e.msg + ": " + e.cause.Error()
}

func (e *kindError) Unwrap() error {
	if e.cause != nil {
		return e.cause
	}
	return e.kind
}

func (e *kindError) Is(target error) bool {
	return target == e.kind
}

// Wrap annotates cause with a kind so that errors.Is(err, kind) holds while
// the cause chain stays inspectable.
func Wrap(kind, cause error, msg string) error {
	return &kindError{kind: kind, cause: cause, msg: msg}
}

func Wrapf(kind, cause error, format string, args ...any) error {
	return &kindError{kind: kind, cause: cause, msg: fmt.Sprintf(format, args...)}
}

// New creates a kinded error without a cause.
func New(kind error, msg string) error {
	return &kindError{kind: kind, msg: msg}
}

func Newf(kind error, format string, args ...any) error {
	return &kindError{kind: kind, msg: fmt.Sprintf(format, args...)}
}

// IsTransient reports whether err should be retried or surfaced as a
// generic "try again" message instead of failing the enclosing update.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransient) || errors.Is(err, ErrProtocol)
}
