package resource

import "sync"

// Scope tracks handles acquired for the duration of one call.
// Release removes whatever is still live and runs Droppers, so a call
// that fails or is cancelled midway leaves nothing behind.
type Scope struct {
	table    *Table
	handles  []Handle
	mu       sync.Mutex
	released bool
}

// NewScope opens a scope over t.
func (t *Table) NewScope() *Scope {
	return &Scope{table: t}
}

// Table returns the table the scope releases into.
func (s *Scope) Table() *Table {
	return s.table
}

// Insert stores value and ties its handle to the scope.
func (s *Scope) Insert(value any) (Handle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.released {
		return 0, ErrClosed
	}

	h, err := s.table.Insert(value)
	if err != nil {
		return 0, err
	}
	s.handles = append(s.handles, h)
	return h, nil
}

// Adopt ties an existing handle to the scope.
func (s *Scope) Adopt(h Handle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.released {
		s.handles = append(s.handles, h)
	}
}

// Forget unties h so Release leaves it in place.
func (s *Scope) Forget(h Handle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, held := range s.handles {
		if held == h {
			s.handles = append(s.handles[:i], s.handles[i+1:]...)
			return
		}
	}
}

// Release removes every still-live handle in reverse acquisition order
// and returns how many were removed. It is idempotent.
func (s *Scope) Release() int {
	s.mu.Lock()
	if s.released {
		s.mu.Unlock()
		return 0
	}
	s.released = true
	handles := s.handles
	s.handles = nil
	s.mu.Unlock()

	n := 0
	for i := len(handles) - 1; i >= 0; i-- {
		v, err := s.table.Remove(handles[i])
		if err != nil {
			continue
		}
		if d, ok := v.(Dropper); ok {
			d.Drop()
		}
		n++
	}
	return n
}
