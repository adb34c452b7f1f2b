package resource

type slotState uint8

const (
	slotLive slotState = iota + 1
	slotRemoved
	slotTransferred
)

type slot struct {
	value  any
	typeID uint32
	gen    uint16
	state  slotState
}

// arena is the slot storage behind Table. Not safe for concurrent use.
//
// A released slot keeps its tombstone until it is reissued with a bumped
// generation; slots at the last generation are retired instead of reissued,
// so a handle value never resolves twice. A transferred slot is held back
// from reuse until its old handle is dropped, so the old handle keeps
// reporting ErrTransferred.
type arena struct {
	slots   []slot
	free    []uint32
	live    int
	retired int
}

func newArena() arena {
	return arena{
		// slot 0 backs the reserved zero handle
		slots: make([]slot, 1, 64),
		free:  make([]uint32, 0, 16),
	}
}

func (a *arena) insert(typeID uint32, value any) (Handle, error) {
	if len(a.free) > 0 {
		idx := a.free[0]
		a.free = a.free[1:]
		s := &a.slots[idx]
		s.gen++
		s.value = value
		s.typeID = typeID
		s.state = slotLive
		a.live++
		return makeHandle(idx, s.gen), nil
	}

	if len(a.slots) > maxIndex {
		return 0, ErrExhausted
	}

	idx := uint32(len(a.slots))
	a.slots = append(a.slots, slot{
		value:  value,
		typeID: typeID,
		state:  slotLive,
	})
	a.live++
	return makeHandle(idx, 0), nil
}

// lookup returns the live slot for h.
func (a *arena) lookup(h Handle) (*slot, error) {
	idx := h.index()
	if idx == 0 || int(idx) >= len(a.slots) {
		return nil, ErrNotFound
	}

	s := &a.slots[idx]
	if s.gen != h.generation() {
		return nil, ErrNotFound
	}

	switch s.state {
	case slotLive:
		return s, nil
	case slotTransferred:
		return nil, ErrTransferred
	default:
		return nil, ErrNotFound
	}
}

// tombstone marks a live slot dead and returns its value.
// The slot is not reusable until recycle is called.
func (a *arena) tombstone(h Handle, state slotState) (any, uint32) {
	s := &a.slots[h.index()]
	value, typeID := s.value, s.typeID
	s.value = nil
	s.state = state
	a.live--
	return value, typeID
}

// settle acknowledges the drop of a transferred handle and frees its slot.
func (a *arena) settle(h Handle) {
	a.slots[h.index()].state = slotRemoved
	a.recycle(h)
}

// revive undoes a tombstone that was never recycled.
func (a *arena) revive(h Handle, typeID uint32, value any) {
	s := &a.slots[h.index()]
	s.value = value
	s.typeID = typeID
	s.state = slotLive
	a.live++
}

// recycle queues a tombstoned slot for reuse, or retires it.
func (a *arena) recycle(h Handle) {
	idx := h.index()
	if a.slots[idx].gen == maxGen {
		a.retired++
		return
	}
	a.free = append(a.free, idx)
}

func (a *arena) each(fn func(Handle, *slot) bool) {
	for i := 1; i < len(a.slots); i++ {
		s := &a.slots[i]
		if s.state != slotLive {
			continue
		}
		if !fn(makeHandle(uint32(i), s.gen), s) {
			return
		}
	}
}
