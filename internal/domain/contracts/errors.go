package contracts

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned for an unknown contract id.
	ErrNotFound = errors.New("contract not found")
	// ErrForbidden is returned when the actor may not perform the action
	// on this contract (wrong party, wrong role, or not a party at all).
	ErrForbidden = errors.New("actor not authorized for this action")
	// ErrInvalidStateTransition is returned when the action is not a legal
	// edge from the contract's current status.
	ErrInvalidStateTransition = errors.New("invalid state transition")
	// ErrValidation is returned for malformed terms or durations.
	ErrValidation = errors.New("validation failed")
	// ErrBusy is returned when the per-farmer lock could not be acquired
	// within the request deadline. Clients may retry with backoff.
	ErrBusy = errors.New("contract busy, retry later")
)

// ErrAlreadyInState flags a duplicate lifecycle call (e.g. mark_delivered on
// an already delivered contract). It matches ErrInvalidStateTransition under
// errors.Is so callers that only care about legality need one check.
var ErrAlreadyInState = fmt.Errorf("%w: already in state", ErrInvalidStateTransition)
