package eventflow

// Cancelable lets handler code cancel processing of its own event.
// CancelBehavior attaches it to events declared Cancelable.
type Cancelable interface {
	// Cancel stops the rest of the pipeline for this event.
	Cancel()
	// Canceled reports whether Cancel was called.
	Canceled() bool
}

// Stored marks a context that was read back from an event store, so
// StoreBehavior dispatches it instead of storing it again.
type Stored struct {
	Stream string
	Offset Offset
}

// MarkStored attaches the Stored feature and the matching reserved items.
// Stores call it on every context they return from Read.
func MarkStored(ec *EventContext, stream string, offset Offset) error {
	if err := AddFeature(ec, &Stored{Stream: stream, Offset: offset}); err != nil {
		return err
	}
	ec.SetOffset(offset)
	ec.SetItem(ItemStream, stream)
	return nil
}

// IsStored reports whether ec came from an event store.
func IsStored(ec *EventContext) bool {
	_, ok := Feature[*Stored](ec)
	return ok
}
