package domain

import (
	"errors"
	"fmt"
)

// ErrStaleAuthorization blocks a feedback submission whose credential no
// longer covers the pair's next index (or has expired). The caller must
// refresh the credential; submitting anyway would be rejected on chain.
var ErrStaleAuthorization = errors.New("stale authorization credential")

// ErrNotFound is returned by read-model lookups for absent rows.
var ErrNotFound = errors.New("not found")

// TransientError marks a chain interaction failure that is safe to retry:
// network faults, timeouts, temporarily unavailable nodes.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient chain error in %s: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// IsTransient reports whether err may succeed on retry.
func IsTransient(err error) bool {
	var t *TransientError
	return errors.As(err, &t)
}

// RejectedWriteError is a deterministic on-chain rejection: retrying the
// same write cannot succeed, the owning task moves to failed.
type RejectedWriteError struct {
	Op   string
	Code string
}

func (e *RejectedWriteError) Error() string {
	return fmt.Sprintf("chain rejected %s: %s", e.Op, e.Code)
}

// IsRejected reports whether err is a deterministic rejection.
func IsRejected(err error) bool {
	var r *RejectedWriteError
	return errors.As(err, &r)
}

// MalformedEventError marks an event the indexer could not normalize. Such
// events are quarantined and indexing continues.
type MalformedEventError struct {
	Kind   EventKind
	Reason string
}

func (e *MalformedEventError) Error() string {
	return fmt.Sprintf("malformed %s event: %s", e.Kind, e.Reason)
}
