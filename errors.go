package pubsub

import "errors"

// Error taxonomy for the PubSub control plane. Each kind is a
// sentinel so callers can use errors.Is; operations wrap a sentinel with
// fmt.Errorf("...: %w", ErrKind) to add context.
var (
	// ErrInvalidArgument: null/missing required input.
	ErrInvalidArgument = errors.New("pubsub: invalid argument")

	// ErrNotFound: identifier does not resolve.
	ErrNotFound = errors.New("pubsub: identifier not found")

	// ErrOutOfMemory: allocation failure; caller sees no partial state.
	ErrOutOfMemory = errors.New("pubsub: out of memory")

	// ErrConfigurationError: frozen configuration blocks mutation, or
	// freeze preconditions are violated.
	ErrConfigurationError = errors.New("pubsub: configuration error")

	// ErrNotSupported: valid but unsupported combination.
	ErrNotSupported = errors.New("pubsub: not supported")

	// ErrNotImplemented: valid but not implemented in this revision.
	ErrNotImplemented = errors.New("pubsub: not implemented")

	// ErrResourceUnavailable: parent disabled/erroring; propagated as the
	// cause to children.
	ErrResourceUnavailable = errors.New("pubsub: resource unavailable")

	// ErrInternalError: state-machine invariants violated; indicates a defect.
	ErrInternalError = errors.New("pubsub: internal error")
)
