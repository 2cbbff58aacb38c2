package recordstore

import (
	"errors"
	"fmt"
)

var (
	// ErrConfiguration means a domain handle is missing a credential.
	ErrConfiguration = errors.New("record store configuration error")
	// ErrUpstreamUnavailable covers network failures, timeouts, exhausted
	// retries and rejected credentials. Callers may retry.
	ErrUpstreamUnavailable = errors.New("record store unavailable")
	// ErrUpstreamRejected means the store refused the request as invalid
	// (unknown field, wrong type, name collision).
	ErrUpstreamRejected = errors.New("record store rejected request")
	// ErrNotFound is a logical absence: collection, record, user or content.
	ErrNotFound = errors.New("not found")
	// ErrPartialFetch means one shard failed while fanning out a read.
	ErrPartialFetch = errors.New("partial fetch failure")
)

// Error carries the operation and upstream status behind a failure. It
// unwraps to its Kind sentinel and to the underlying cause.
type Error struct {
	Kind    error
	Op      string
	Status  int
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Kind.Error()
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Status != 0 {
		msg = fmt.Sprintf("%s (status %d)", msg, e.Status)
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// Conflict reports whether the store rejected the request because of a
// naming or uniqueness collision.
func (e *Error) Conflict() bool {
	return errors.Is(e.Kind, ErrUpstreamRejected) && e.Status == 409
}

func newError(kind error, op string, status int, message string, cause error) *Error {
	return &Error{Kind: kind, Op: op, Status: status, Message: message, Err: cause}
}

// ShardError names the shard whose read broke a fan-out.
type ShardError struct {
	Domain string
	Shard  string
	Err    error
}

func (e *ShardError) Error() string {
	return fmt.Sprintf("%s: domain %s shard %s: %v", ErrPartialFetch, e.Domain, e.Shard, e.Err)
}

func (e *ShardError) Unwrap() []error { return []error{ErrPartialFetch, e.Err} }
