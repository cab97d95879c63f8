package engine

import (
	"errors"
	"fmt"
)

var (
	// ErrConcurrentModification means an optimistic precondition failed:
	// another writer changed the contact between read and write. The
	// caller should retry with a fresh read.
	ErrConcurrentModification = errors.New("concurrent modification")

	// ErrMissingReason is returned for a move to lost without a reason.
	ErrMissingReason = errors.New("lost_reason required when moving to lost")

	// ErrSweepActive means another escalation sweep holds the lease.
	ErrSweepActive = errors.New("escalation sweep already running")
)

// InvalidTransitionError is an illegal pipeline move.
type InvalidTransitionError struct {
	From string
	To   string
}

func (e InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid stage transition %s -> %s", e.From, e.To)
}

// ValidationError is malformed or missing input, detected at the boundary.
type ValidationError string

func (e ValidationError) Error() string { return string(e) }
