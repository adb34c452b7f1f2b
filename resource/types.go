package resource

import (
	"errors"
	"fmt"
)

// Handle is an opaque reference to a resource in a table.
// Handle 0 is reserved and always invalid.
//
// The low 20 bits select a slot, the high 12 bits carry the slot generation.
type Handle uint32

const (
	indexBits = 20
	genBits   = 12

	maxIndex = 1<<indexBits - 1
	maxGen   = 1<<genBits - 1
)

func makeHandle(index uint32, gen uint16) Handle {
	return Handle(uint32(gen)<<indexBits | index)
}

func (h Handle) index() uint32 {
	return uint32(h) & maxIndex
}

func (h Handle) generation() uint16 {
	return uint16(uint32(h) >> indexBits)
}

// String formats the handle as index/generation.
func (h Handle) String() string {
	return fmt.Sprintf("%d/%d", h.index(), h.generation())
}

var (
	// ErrNotFound is returned for handles that were never issued or are no longer live.
	ErrNotFound = errors.New("resource not found")

	// ErrTransferred is returned for handles whose value was moved by Take or Transfer.
	// It matches ErrNotFound.
	ErrTransferred = fmt.Errorf("%w: ownership transferred", ErrNotFound)

	ErrTypeMismatch = errors.New("resource type mismatch")
	ErrBorrowed     = errors.New("cannot delete through a borrowed handle")
	ErrClosed       = errors.New("resource table closed")
	ErrExhausted    = errors.New("resource handle space exhausted")
)

// EventType identifies a resource lifecycle notification.
type EventType uint8

const (
	EventCreated EventType = iota
	EventDropped
	EventTransferred
)

func (t EventType) String() string {
	switch t {
	case EventCreated:
		return "created"
	case EventDropped:
		return "dropped"
	case EventTransferred:
		return "transferred"
	default:
		return "unknown"
	}
}

// Event represents a resource lifecycle event.
// Target is set for EventTransferred to the handle now holding the value.
type Event struct {
	Value  any
	Handle Handle
	Target Handle
	TypeID uint32
	Type   EventType
}

// Observer receives notifications about resource lifecycle events.
// Observers run after the table lock is released and may call back into the table.
type Observer interface {
	OnResourceEvent(Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Event)

func (f ObserverFunc) OnResourceEvent(e Event) { f(e) }

// Dropper is optionally implemented by resource values that need cleanup.
type Dropper interface {
	Drop()
}
