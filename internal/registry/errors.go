package registry

import "errors"

var (
	ErrContextAlreadyRegistered = errors.New("registry: context already registered")
	ErrUnknownSessionID         = errors.New("registry: unknown session id")
	ErrRegistrationFull         = errors.New("registry: registration table full")
	ErrNotRegistered            = errors.New("registry: context not registered")
	ErrNoMatchingContext        = errors.New("registry: no matching context")
	ErrInvalidValue             = errors.New("registry: value out of range")
	ErrInvalidID                = errors.New("registry: invalid identifier")
	ErrInvalidChannel           = errors.New("registry: invalid channel")
	ErrSnapshotMismatch         = errors.New("registry: snapshot does not match live table")
)
