package core

import (
	"strings"
	"time"

	"github.com/google/uuid"
	nanoid "github.com/jaevor/go-nanoid"
)

const (
	// JoinCodeAlphabet omits characters that are easy to confuse (0/O, 1/I).
	JoinCodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	JoinCodeLength   = 6
)

var joinCode = func() func() string {
	gen, err := nanoid.CustomASCII(JoinCodeAlphabet, JoinCodeLength)
	if err != nil {
		panic(err)
	}
	return gen
}()

// Room is a chat channel snapshot. ID never changes once created.
type Room struct {
	ID               string
	Name             string
	Creator          string
	CreatedAt        time.Time
	Code             string
	LastActivity     time.Time
	ParticipantCount uint32
	IsPublic         bool
}

// NewRoom builds a fresh public room owned by creator.
func NewRoom(name, creator string, now time.Time) Room {
	now = Millis(now)
	return Room{
		ID:           uuid.NewString(),
		Name:         name,
		Creator:      creator,
		CreatedAt:    now,
		Code:         NewJoinCode(),
		LastActivity: now,
		IsPublic:     true,
	}
}

// NewJoinCode returns a random join code.
func NewJoinCode() string {
	return joinCode()
}

// IsJoinCode reports whether code is well formed, ignoring case.
func IsJoinCode(code string) bool {
	if len(code) != JoinCodeLength {
		return false
	}
	for _, r := range strings.ToUpper(code) {
		if !strings.ContainsRune(JoinCodeAlphabet, r) {
			return false
		}
	}
	return true
}

// Touch returns a copy of r whose LastActivity is moved to now, or one
// millisecond past the current value when now is not later.
func (r Room) Touch(now time.Time) Room {
	next := Millis(now)
	if !next.After(r.LastActivity) {
		next = r.LastActivity.Add(time.Millisecond)
	}
	r.LastActivity = next
	return r
}

// Millis truncates t to the millisecond precision used on the wire.
func Millis(t time.Time) time.Time {
	if t.IsZero() {
		return t
	}
	return time.UnixMilli(t.UnixMilli())
}

// RoomEventType tags a room event.
type RoomEventType string

const (
	RoomEventCreate RoomEventType = "create"
	RoomEventUpdate RoomEventType = "update"
	RoomEventDelete RoomEventType = "delete"
)

// Valid reports whether t is a known event type.
func (t RoomEventType) Valid() bool {
	switch t {
	case RoomEventCreate, RoomEventUpdate, RoomEventDelete:
		return true
	}
	return false
}

// RoomEvent is the unit broadcast on the rooms topic.
type RoomEvent struct {
	Type      RoomEventType
	Timestamp time.Time
	Room      Room
}
