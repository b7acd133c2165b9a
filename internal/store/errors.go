package store

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
)

// ErrorKind classifies store failures so callers can tell a dead connection
// from a bad query or an undecodable row.
type ErrorKind string

const (
	KindConnection ErrorKind = "connection"
	KindTimeout    ErrorKind = "timeout"
	KindQuery      ErrorKind = "query"
	KindDecode     ErrorKind = "decode"
)

// Error wraps a store failure with its kind and the operation that failed.
type Error struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("store %s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Is supports errors.Is matching on the kind via sentinel errors below.
func (e *Error) Is(target error) bool {
	switch target {
	case ErrConnection:
		return e.Kind == KindConnection
	case ErrTimeout:
		return e.Kind == KindTimeout
	case ErrQuery:
		return e.Kind == KindQuery
	case ErrDecode:
		return e.Kind == KindDecode
	}
	return false
}

// Sentinel errors for errors.Is checks.
var (
	ErrConnection = errors.New("store connection error")
	ErrTimeout    = errors.New("store timeout")
	ErrQuery      = errors.New("store query error")
	ErrDecode     = errors.New("store decode error")
)

// wrapErr classifies err and wraps it. Decode failures are classified by the
// caller since the driver reports them as plain errors.
func wrapErr(op string, err error) error {
	if err == nil {
		return nil
	}
	kind := KindQuery
	var netErr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, os.ErrDeadlineExceeded):
		kind = KindTimeout
	case errors.As(err, &netErr):
		if netErr.Timeout() {
			kind = KindTimeout
		} else {
			kind = KindConnection
		}
	case errors.Is(err, context.Canceled):
		kind = KindConnection
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// decodeErr wraps a row-scan failure.
func decodeErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: KindDecode, Op: op, Err: err}
}
