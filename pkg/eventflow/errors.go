package eventflow

import "errors"

// Sentinel errors for descriptors and contexts.
var (
	// ErrNotAnEvent indicates a descriptor was requested for a type that
	// does not implement Event.
	ErrNotAnEvent = errors.New("type does not implement eventflow.Event")

	// ErrTypeMismatch indicates an event's runtime type differs from its
	// descriptor's type.
	ErrTypeMismatch = errors.New("event type does not match descriptor")

	// ErrDuplicateFeature indicates a feature of the same type is already
	// attached to the context.
	ErrDuplicateFeature = errors.New("feature already attached")

	// ErrDuplicateEventName indicates two different types were declared
	// under one event name.
	ErrDuplicateEventName = errors.New("event name already declared")

	// ErrUnknownEvent indicates an event name has no declared type.
	ErrUnknownEvent = errors.New("unknown event name")
)

// Sentinel errors for processing.
var (
	// ErrEventCanceled indicates a handler canceled its own event through
	// the Cancelable feature. Errors carrying it also match context.Canceled.
	ErrEventCanceled = errors.New("event canceled")

	// ErrNoStore indicates a persistent event reached StoreBehavior without
	// a configured store.
	ErrNoStore = errors.New("no event store configured")
)
