package listview

import "github.com/pitabwire/console/model"

// Store is the in-memory collection behind one screen. Entities are treated
// as immutable: patches swap in new maps instead of editing shared ones.
// Store is not safe for concurrent use; the owning Screen serializes access.
type Store struct {
	idField string
	items   []model.Entity
}

// NewStore creates an empty store keyed by idField.
func NewStore(idField string) *Store {
	return &Store{idField: idField}
}

// Replace swaps the whole collection, keeping the given order.
func (s *Store) Replace(items []model.Entity) {
	s.items = append([]model.Entity(nil), items...)
}

// All returns the collection in order. The slice is a copy.
func (s *Store) All() []model.Entity {
	return append([]model.Entity(nil), s.items...)
}

// Len returns the number of entities.
func (s *Store) Len() int {
	return len(s.items)
}

// Get returns the entity with the given id.
func (s *Store) Get(id string) (model.Entity, bool) {
	i := s.index(id)
	if i < 0 {
		return nil, false
	}
	return s.items[i], true
}

// Append adds an entity at the end.
func (s *Store) Append(e model.Entity) {
	s.items = append(s.items, e)
}

// ReplaceByID swaps the entity with the given id in place, keeping its
// position. It reports whether the id was found.
func (s *Store) ReplaceByID(id string, e model.Entity) bool {
	i := s.index(id)
	if i < 0 {
		return false
	}
	s.items[i] = e
	return true
}

// RemoveByID drops the entity with the given id. It reports whether the id
// was found.
func (s *Store) RemoveByID(id string) bool {
	i := s.index(id)
	if i < 0 {
		return false
	}
	s.items = append(s.items[:i:i], s.items[i+1:]...)
	return true
}

func (s *Store) index(id string) int {
	if id == "" {
		return -1
	}
	for i, e := range s.items {
		if e.ID(s.idField) == id {
			return i
		}
	}
	return -1
}
