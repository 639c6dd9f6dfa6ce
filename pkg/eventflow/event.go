package eventflow

import (
	"reflect"
	"strconv"
)

// Event is an application-defined payload. Its runtime type identifies it
// inside the process; EventName identifies it on the wire and is the
// default topic.
//
// EventName must not depend on field values: it is called on a zero value
// when the type's descriptor is built.
type Event interface {
	EventName() string
}

// eventInterface is the reflect.Type of Event.
var eventInterface = reflect.TypeFor[Event]()

// isEventType reports whether t is a concrete type implementing Event.
func isEventType(t reflect.Type) bool {
	return t != nil && t.Kind() != reflect.Interface && t.Implements(eventInterface)
}

// Offset is a position in a queue or stream. Real offsets are >= 0.
type Offset int64

const (
	// OffsetStart requests reading from the first retained entry.
	OffsetStart Offset = -1

	// OffsetNext requests reading from the tail, i.e. only entries written
	// after the read begins.
	OffsetNext Offset = -2
)

// IsSentinel reports whether o is OffsetStart or OffsetNext.
func (o Offset) IsSentinel() bool {
	return o == OffsetStart || o == OffsetNext
}

// String returns the offset, or its sentinel name.
func (o Offset) String() string {
	switch o {
	case OffsetStart:
		return "start"
	case OffsetNext:
		return "next"
	default:
		return strconv.FormatInt(int64(o), 10)
	}
}
