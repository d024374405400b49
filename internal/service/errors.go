package service

import "errors"

var (
	// ErrDuplicateRequest means another request holds the charge claim
	// for this order. The money side is already in motion; the caller
	// answers "in flight" and must not dispatch a second charge.
	ErrDuplicateRequest = errors.New("duplicate request, charge in flight")

	// ErrInvalidTransition means the requested status is not reachable
	// from the order's current status. State is left untouched.
	ErrInvalidTransition = errors.New("invalid status transition")

	ErrOrderNotFound = errors.New("order not found")

	// ErrStorageConflict means the uniqueness constraint could not be
	// resolved atomically; the caller should retry the whole admit.
	ErrStorageConflict = errors.New("storage conflict")

	ErrInvalidCredentials = errors.New("invalid login or password")
)
