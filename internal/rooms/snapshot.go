package rooms

import (
	"slices"

	"github.com/vovakirdan/wiresync/internal/core"
)

// snapshot is the room set in insertion order.
type snapshot struct {
	order []string
	rooms map[string]core.Room
}

func newSnapshot() snapshot {
	return snapshot{rooms: make(map[string]core.Room)}
}

// apply merges one event and reports whether the set changed. Create is
// ignored for known ids, Update of an unknown id inserts it and Delete of
// an unknown id is a no-op. Events are applied in arrival order.
func (s *snapshot) apply(ev core.RoomEvent) bool {
	id := ev.Room.ID
	_, exists := s.rooms[id]

	switch ev.Type {
	case core.RoomEventCreate:
		if exists {
			return false
		}
		s.order = append(s.order, id)
		s.rooms[id] = ev.Room
	case core.RoomEventUpdate:
		if !exists {
			s.order = append(s.order, id)
		}
		s.rooms[id] = ev.Room
	case core.RoomEventDelete:
		if !exists {
			return false
		}
		delete(s.rooms, id)
		s.order = slices.DeleteFunc(s.order, func(v string) bool { return v == id })
	default:
		return false
	}
	return true
}

func (s *snapshot) list() []core.Room {
	out := make([]core.Room, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.rooms[id])
	}
	return out
}

func (s *snapshot) get(id string) (core.Room, bool) {
	r, ok := s.rooms[id]
	return r, ok
}
