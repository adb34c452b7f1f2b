package resource

import (
	"sync"
)

// Table maps guest-visible handles to host values for one execution context.
// It is safe for concurrent use.
type Table struct {
	arena     arena
	observers []subscription
	mu        sync.Mutex
	obsMu     sync.RWMutex
	nextSub   Subscription
	closed    bool
}

// Subscription identifies an observer registered with Subscribe.
type Subscription uint64

type subscription struct {
	observer Observer
	id       Subscription
}

// NewTable creates an empty table.
func NewTable() *Table {
	return &Table{arena: newArena()}
}

// Insert stores value under a fresh handle.
func (t *Table) Insert(value any) (Handle, error) {
	return t.InsertTyped(0, value)
}

// InsertTyped stores value tagged with typeID under a fresh handle.
func (t *Table) InsertTyped(typeID uint32, value any) (Handle, error) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return 0, ErrClosed
	}
	h, err := t.arena.insert(typeID, value)
	t.mu.Unlock()
	if err != nil {
		return 0, err
	}

	t.notify(Event{Type: EventCreated, Handle: h, TypeID: typeID, Value: value})
	return h, nil
}

// Get returns the value behind h.
func (t *Table) Get(h Handle) (any, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	s, err := t.arena.lookup(h)
	if err != nil {
		return nil, err
	}
	return s.value, nil
}

// GetTyped returns the value behind h if it was inserted with typeID.
func (t *Table) GetTyped(h Handle, typeID uint32) (any, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	s, err := t.arena.lookup(h)
	if err != nil {
		return nil, err
	}
	if s.typeID != typeID {
		return nil, ErrTypeMismatch
	}
	return s.value, nil
}

// TypeID returns the type tag of a live handle.
func (t *Table) TypeID(h Handle) (uint32, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	s, err := t.arena.lookup(h)
	if err != nil {
		return 0, err
	}
	return s.typeID, nil
}

// Contains reports whether h is live.
func (t *Table) Contains(h Handle) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	_, err := t.arena.lookup(h)
	return err == nil
}

// Remove deletes h and hands its value back to the caller.
// No Dropper runs; the caller owns the value from here on.
// Removing a transferred handle reports ErrTransferred and releases its slot.
func (t *Table) Remove(h Handle) (any, error) {
	t.mu.Lock()
	if _, err := t.arena.lookup(h); err != nil {
		if err == ErrTransferred {
			t.arena.settle(h)
		}
		t.mu.Unlock()
		return nil, err
	}
	value, typeID := t.arena.tombstone(h, slotRemoved)
	t.arena.recycle(h)
	t.mu.Unlock()

	t.notify(Event{Type: EventDropped, Handle: h, TypeID: typeID, Value: value})
	return value, nil
}

// Take moves the value behind h to a fresh handle in the same table.
// The old handle resolves to ErrTransferred afterwards.
func (t *Table) Take(h Handle) (Handle, error) {
	t.mu.Lock()
	s, err := t.arena.lookup(h)
	if err != nil {
		t.mu.Unlock()
		return 0, err
	}
	value, typeID := s.value, s.typeID

	next, err := t.arena.insert(typeID, value)
	if err != nil {
		t.mu.Unlock()
		return 0, err
	}
	t.arena.tombstone(h, slotTransferred)
	t.mu.Unlock()

	t.notify(Event{Type: EventTransferred, Handle: h, Target: next, TypeID: typeID, Value: value})
	return next, nil
}

// Transfer moves the value behind h into dst and returns its handle there.
func (t *Table) Transfer(h Handle, dst *Table) (Handle, error) {
	if dst == t {
		return t.Take(h)
	}

	t.mu.Lock()
	if _, err := t.arena.lookup(h); err != nil {
		t.mu.Unlock()
		return 0, err
	}
	value, typeID := t.arena.tombstone(h, slotTransferred)
	t.mu.Unlock()

	next, err := dst.InsertTyped(typeID, value)

	t.mu.Lock()
	if err != nil {
		t.arena.revive(h, typeID, value)
		t.mu.Unlock()
		return 0, err
	}
	t.mu.Unlock()

	t.notify(Event{Type: EventTransferred, Handle: h, Target: next, TypeID: typeID, Value: value})
	return next, nil
}

// Len returns the number of live handles.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.arena.live
}

// Each calls fn for every live handle until fn returns false.
// fn must not modify the table.
func (t *Table) Each(fn func(h Handle, typeID uint32, value any) bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.arena.each(func(h Handle, s *slot) bool {
		return fn(h, s.typeID, s.value)
	})
}

// Clear removes every live handle, running Droppers.
func (t *Table) Clear() {
	t.mu.Lock()
	events := t.drain()
	t.mu.Unlock()

	t.dropAll(events)
}

// Close clears the table and rejects further inserts.
func (t *Table) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	events := t.drain()
	t.mu.Unlock()

	t.dropAll(events)
	return nil
}

// Closed reports whether Close has been called.
func (t *Table) Closed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

func (t *Table) drain() []Event {
	var handles []Handle
	t.arena.each(func(h Handle, _ *slot) bool {
		handles = append(handles, h)
		return true
	})

	events := make([]Event, 0, len(handles))
	for _, h := range handles {
		value, typeID := t.arena.tombstone(h, slotRemoved)
		t.arena.recycle(h)
		events = append(events, Event{Type: EventDropped, Handle: h, TypeID: typeID, Value: value})
	}
	return events
}

func (t *Table) dropAll(events []Event) {
	for _, e := range events {
		if d, ok := e.Value.(Dropper); ok {
			d.Drop()
		}
		t.notify(e)
	}
}

// Subscribe registers an observer for lifecycle events and returns the
// token that removes it.
func (t *Table) Subscribe(o Observer) Subscription {
	t.obsMu.Lock()
	defer t.obsMu.Unlock()
	t.nextSub++
	t.observers = append(t.observers, subscription{observer: o, id: t.nextSub})
	return t.nextSub
}

// Unsubscribe removes the observer registered under id.
func (t *Table) Unsubscribe(id Subscription) {
	t.obsMu.Lock()
	defer t.obsMu.Unlock()
	for i, sub := range t.observers {
		if sub.id == id {
			// copy so a concurrent notify keeps iterating its own snapshot
			next := make([]subscription, 0, len(t.observers)-1)
			next = append(next, t.observers[:i]...)
			t.observers = append(next, t.observers[i+1:]...)
			return
		}
	}
}

func (t *Table) notify(e Event) {
	t.obsMu.RLock()
	observers := t.observers
	t.obsMu.RUnlock()

	for _, sub := range observers {
		sub.observer.OnResourceEvent(e)
	}
}
