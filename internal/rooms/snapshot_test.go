package rooms

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vovakirdan/wiresync/internal/core"
)

func roomEvent(typ core.RoomEventType, id, name string) core.RoomEvent {
	return core.RoomEvent{
		Type:      typ,
		Timestamp: time.UnixMilli(1),
		Room:      core.Room{ID: id, Name: name, Creator: "0xABC", Code: "ABCDEF"},
	}
}

func TestSnapshotCreateIsIdempotent(t *testing.T) {
	s := newSnapshot()
	ev := roomEvent(core.RoomEventCreate, "r1", "Morning Yoga")

	assert.True(t, s.apply(ev))
	assert.False(t, s.apply(ev))
	require.Len(t, s.list(), 1)
}

func TestSnapshotCreateDoesNotOverwrite(t *testing.T) {
	s := newSnapshot()
	s.apply(roomEvent(core.RoomEventCreate, "r1", "first"))
	s.apply(roomEvent(core.RoomEventCreate, "r1", "second"))

	r, ok := s.get("r1")
	require.True(t, ok)
	assert.Equal(t, "first", r.Name)
}

func TestSnapshotUpdateBeforeCreate(t *testing.T) {
	s := newSnapshot()

	assert.True(t, s.apply(roomEvent(core.RoomEventUpdate, "r1", "updated")))
	assert.False(t, s.apply(roomEvent(core.RoomEventCreate, "r1", "original")))

	r, ok := s.get("r1")
	require.True(t, ok)
	assert.Equal(t, "updated", r.Name)
}

func TestSnapshotDeleteThenRecreate(t *testing.T) {
	s := newSnapshot()
	s.apply(roomEvent(core.RoomEventCreate, "r1", "old"))

	assert.True(t, s.apply(roomEvent(core.RoomEventDelete, "r1", "")))
	_, ok := s.get("r1")
	assert.False(t, ok)
	assert.Empty(t, s.list())

	assert.True(t, s.apply(roomEvent(core.RoomEventCreate, "r1", "new")))
	r, ok := s.get("r1")
	require.True(t, ok)
	assert.Equal(t, "new", r.Name)
}

func TestSnapshotDeleteUnknownIsNoop(t *testing.T) {
	s := newSnapshot()
	assert.False(t, s.apply(roomEvent(core.RoomEventDelete, "ghost", "")))
}

func TestSnapshotKeepsInsertionOrder(t *testing.T) {
	s := newSnapshot()
	for _, id := range []string{"c", "a", "b"} {
		s.apply(roomEvent(core.RoomEventCreate, id, id))
	}
	s.apply(roomEvent(core.RoomEventUpdate, "c", "c2"))
	s.apply(roomEvent(core.RoomEventDelete, "a", ""))

	var ids []string
	for _, r := range s.list() {
		ids = append(ids, r.ID)
	}
	assert.Equal(t, []string{"c", "b"}, ids)
	assert.Equal(t, "c2", s.list()[0].Name)
}
