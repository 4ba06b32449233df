package ecs

// Store keeps one component per entity and iterates in insertion order, so
// every peer walks its entities the same way each tick.
type Store[T any] struct {
	index map[EntityID]int
	ids   []EntityID
	data  []*T
}

func NewStore[T any]() *Store[T] {
	return &Store[T]{index: make(map[EntityID]int, 64)}
}

// Set inserts or replaces the component for id.
func (s *Store[T]) Set(id EntityID, c *T) {
	if i, ok := s.index[id]; ok {
		s.data[i] = c
		return
	}
	s.index[id] = len(s.ids)
	s.ids = append(s.ids, id)
	s.data = append(s.data, c)
}

func (s *Store[T]) Get(id EntityID) (*T, bool) {
	i, ok := s.index[id]
	if !ok {
		return nil, false
	}
	return s.data[i], true
}

func (s *Store[T]) Has(id EntityID) bool {
	_, ok := s.index[id]
	return ok
}

// Remove deletes id, preserving the order of the remaining entries.
func (s *Store[T]) Remove(id EntityID) {
	i, ok := s.index[id]
	if !ok {
		return
	}
	delete(s.index, id)
	s.ids = append(s.ids[:i], s.ids[i+1:]...)
	s.data = append(s.data[:i], s.data[i+1:]...)
	for j := i; j < len(s.ids); j++ {
		s.index[s.ids[j]] = j
	}
}

func (s *Store[T]) Len() int {
	return len(s.ids)
}

// Each visits a snapshot of the entries, so fn may add or remove components.
func (s *Store[T]) Each(fn func(EntityID, *T)) {
	ids := append([]EntityID(nil), s.ids...)
	for _, id := range ids {
		if c, ok := s.Get(id); ok {
			fn(id, c)
		}
	}
}
