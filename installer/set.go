package installer

import "sync"

// Set is an insertion-ordered set of package names. Names are never
// removed.
type Set struct {
	mu    sync.Mutex
	order []string
	seen  map[string]struct{}
}

func (s *Set) Has(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.seen[name]
	return ok
}

// Add inserts name and reports whether it was new.
func (s *Set) Add(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.seen[name]; ok {
		return false
	}
	if s.seen == nil {
		s.seen = make(map[string]struct{})
	}
	s.seen[name] = struct{}{}
	s.order = append(s.order, name)
	return true
}

// List returns the names in insertion order. It never returns nil.
func (s *Set) List() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append(make([]string, 0, len(s.order)), s.order...)
}

func (s *Set) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.order)
}
