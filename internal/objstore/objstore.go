// Package objstore maps protocol object IDs to objects for a single
// connection.
package objstore

import (
	"golang.org/x/exp/slices"

	"deedles.dev/wlcomp/wire"
)

// ServerIDStart is the first ID in the range reserved for objects
// created by the server side of a connection.
const ServerIDStart = 0xFF000000

type Store struct {
	objects map[uint32]wire.Object
	nextID  uint32
}

func New(start uint32) *Store {
	return &Store{
		objects: make(map[uint32]wire.Object),
		nextID:  start,
	}
}

// Add inserts obj. If obj does not yet have an ID, one is allocated
// from the store's range.
func (s *Store) Add(obj wire.Object) {
	id := obj.ID()
	if id == 0 {
		id = s.nextID
		obj.SetID(id)
		s.nextID++
	}

	s.objects[id] = obj
}

func (s *Store) Get(id uint32) wire.Object {
	return s.objects[id]
}

// Has reports whether id is in use.
func (s *Store) Has(id uint32) bool {
	_, ok := s.objects[id]
	return ok
}

func (s *Store) Delete(id uint32) {
	obj := s.objects[id]
	delete(s.objects, id)
	if obj != nil {
		obj.Delete()
	}
}

// Clear deletes every object, newest first, so that objects are torn
// down before the objects they were created from.
func (s *Store) Clear() {
	ids := make([]uint32, 0, len(s.objects))
	for id := range s.objects {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	for i := len(ids) - 1; i >= 0; i-- {
		s.Delete(ids[i])
	}
}
