package node

import (
	"errors"
	"fmt"
)

// ErrInterrupted is the cause of a startup stopped on request.
var ErrInterrupted = errors.New("interrupted by shutdown request")

// ErrorKind classifies a startup or supervision failure.
type ErrorKind int

const (
	KindConfig ErrorKind = iota + 1
	KindStorage
	KindBlock0
	KindBootstrap
	KindInterrupted
	KindSecret
	KindService
)

func (k ErrorKind) String() string {
	switch k {
	case KindConfig:
		return "invalid configuration"
	case KindStorage:
		return "storage error"
	case KindBlock0:
		return "block0 error"
	case KindBootstrap:
		return "bootstrap failed"
	case KindInterrupted:
		return "startup interrupted"
	case KindSecret:
		return "leader secret error"
	case KindService:
		return "service error"
	default:
		return fmt.Sprintf("ErrorKind(%d)", int(k))
	}
}

// Error is a node failure. Its message is the kind only; the cause is
// reachable through Unwrap.
type Error struct {
	Kind ErrorKind
	Err  error
}

func (e *Error) Error() string { return e.Kind.String() }

func (e *Error) Unwrap() error { return e.Err }

// Code is the process exit code for the failure. A startup interrupted on
// request exits cleanly.
func (e *Error) Code() int {
	switch e.Kind {
	case KindInterrupted:
		return 0
	case KindConfig:
		return 2
	case KindStorage:
		return 3
	case KindBlock0:
		return 4
	case KindBootstrap:
		return 5
	case KindSecret:
		return 6
	case KindService:
		return 7
	default:
		return 1
	}
}

func newError(kind ErrorKind, err error) *Error {
	return &Error{Kind: kind, Err: err}
}
