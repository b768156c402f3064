package types

import (
	"errors"
	"fmt"
)

// ErrorKind categorizes a failure reported across the call boundary.
type ErrorKind string

const (
	KindNotFound     ErrorKind = "not_found"
	KindInvalidState ErrorKind = "invalid_state"
	KindEngine       ErrorKind = "engine"
	KindTimeout      ErrorKind = "timeout"
	KindRequest      ErrorKind = "request"
)

var (
	// ErrNotFound is returned when a handle is absent from the registry it was
	// looked up in: stale, closed, finalized, or belonging to another kind.
	ErrNotFound = errors.New("handle not found")
	// ErrInvalidState is returned when a resource exists but cannot accept
	// the requested operation.
	ErrInvalidState = errors.New("invalid state")
	// ErrTimeout is returned when a bounded operation exceeded its deadline.
	ErrTimeout = errors.New("operation timed out")
)

// EngineError wraps a failure surfaced by the underlying database engine.
type EngineError struct {
	Op  string
	Err error
}

func (e *EngineError) Error() string {
	return fmt.Sprintf("%s failed: %v", e.Op, e.Err)
}

func (e *EngineError) Unwrap() error {
	return e.Err
}

// Engine wraps err as an EngineError for operation op. A nil err stays nil.
func Engine(op string, err error) error {
	if err == nil {
		return nil
	}
	return &EngineError{Op: op, Err: err}
}

// KindOf maps err onto the wire error kind.
func KindOf(err error) ErrorKind {
	var engineErr *EngineError
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrInvalidState):
		return KindInvalidState
	case errors.Is(err, ErrTimeout):
		return KindTimeout
	case errors.As(err, &engineErr):
		return KindEngine
	}
	return KindRequest
}

// RemoteError is an error reconstructed from a host response. It matches
// the sentinel corresponding to its kind under errors.Is.
type RemoteError struct {
	Kind    ErrorKind
	Message string
}

func (e *RemoteError) Error() string {
	return e.Message
}

func (e *RemoteError) Is(target error) bool {
	switch target {
	case ErrNotFound:
		return e.Kind == KindNotFound
	case ErrInvalidState:
		return e.Kind == KindInvalidState
	case ErrTimeout:
		return e.Kind == KindTimeout
	}
	return false
}
