package http

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/wiresync/internal/core"
	"github.com/vovakirdan/wiresync/internal/rooms"
)

// resolveWait bounds how long a lookup waits for the room replay.
const resolveWait = 5 * time.Second

// RoomHandlers provides HTTP handlers for room directory endpoints.
type RoomHandlers struct {
	deps Deps
	log  *zerolog.Logger
}

// NewRoomHandlers creates a new room handlers instance.
func NewRoomHandlers(deps Deps, logger *zerolog.Logger) *RoomHandlers {
	return &RoomHandlers{deps: deps, log: logger}
}

// CreateRoomRequest represents the create room request body.
type CreateRoomRequest struct {
	Name string `json:"name" binding:"max=64"`
}

// UpdateRoomRequest represents the update room request body.
type UpdateRoomRequest struct {
	Name     string `json:"name" binding:"max=64"`
	IsPublic *bool  `json:"is_public,omitempty"`
}

// QueuedResponse is returned when an operation waits for the network.
type QueuedResponse struct {
	Queued bool   `json:"queued"`
	Code   string `json:"code"`
}

// ListRooms handles listing known rooms.
// GET /api/rooms
func (h *RoomHandlers) ListRooms(c *gin.Context) {
	c.JSON(http.StatusOK, roomsToProto(h.deps.Rooms.List()))
}

// CreateRoom publishes a new room created by the connected wallet. When the
// network is not ready the create is queued and 202 is returned.
// POST /api/rooms
func (h *RoomHandlers) CreateRoom(c *gin.Context) {
	var req CreateRoomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.log.Debug().Err(err).Msg("invalid create room request")
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body", Code: core.ErrCodeBadRequest})
		return
	}
	creator := h.deps.Wallet.Address()
	if creator == "" {
		writeError(c, h.log, core.ErrIdentityAbsent)
		return
	}

	room, err := h.deps.Rooms.Create(c.Request.Context(), req.Name, creator)
	if errors.Is(err, core.ErrNotReady) {
		h.log.Info().Str("room_name", req.Name).Msg("room create queued until ready")
		c.JSON(http.StatusAccepted, QueuedResponse{Queued: true, Code: core.ErrCodeNotReady})
		return
	}
	if err != nil {
		writeError(c, h.log, err)
		return
	}

	h.log.Info().Str("room_id", room.ID).Str("room_name", room.Name).Msg("room created")
	c.JSON(http.StatusCreated, roomToProto(room))
}

// GetRoom looks a room up by id, waiting for the first replay if needed.
// GET /api/rooms/:id
func (h *RoomHandlers) GetRoom(c *gin.Context) {
	room, err := resolveRoom(c.Request.Context(), h.deps.Rooms, c.Param("id"))
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, roomToProto(room))
}

// GetRoomByCode looks a room up by join code.
// GET /api/rooms/code/:code
func (h *RoomHandlers) GetRoomByCode(c *gin.Context) {
	room, ok := h.deps.Rooms.GetByCode(c.Param("code"))
	if !ok {
		writeError(c, h.log, core.ErrRoomNotFound)
		return
	}
	c.JSON(http.StatusOK, roomToProto(room))
}

// UpdateRoom renames a room or changes its visibility.
// PUT /api/rooms/:id
func (h *RoomHandlers) UpdateRoom(c *gin.Context) {
	var req UpdateRoomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.log.Debug().Err(err).Msg("invalid update room request")
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body", Code: core.ErrCodeBadRequest})
		return
	}

	room, ok := h.deps.Rooms.GetByID(c.Param("id"))
	if !ok {
		writeError(c, h.log, core.ErrRoomNotFound)
		return
	}
	room.Name = req.Name
	if req.IsPublic != nil {
		room.IsPublic = *req.IsPublic
	}

	updated, err := h.deps.Rooms.Update(c.Request.Context(), room)
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, roomToProto(updated))
}

// DeleteRoom deletes a room created by the connected wallet.
// DELETE /api/rooms/:id
func (h *RoomHandlers) DeleteRoom(c *gin.Context) {
	requester := h.deps.Wallet.Address()
	if requester == "" {
		writeError(c, h.log, core.ErrIdentityAbsent)
		return
	}
	if err := h.deps.Rooms.Delete(c.Request.Context(), c.Param("id"), requester); err != nil {
		writeError(c, h.log, err)
		return
	}
	h.log.Info().Str("room_id", c.Param("id")).Msg("room deleted")
	c.Status(http.StatusNoContent)
}

// resolveRoom returns the room of id. A lookup issued before the first
// replay waits for it; once the wait ends without a replay the network is
// reported as not ready.
func resolveRoom(ctx context.Context, dir Directory, id string) (core.Room, error) {
	room, res := dir.Resolve(id)
	if res == rooms.ResolutionPending {
		waitCtx, cancel := context.WithTimeout(ctx, resolveWait)
		defer cancel()
		if err := dir.WaitLoaded(waitCtx); err != nil {
			return core.Room{}, core.ErrNotReady
		}
		room, res = dir.Resolve(id)
	}
	switch res {
	case rooms.ResolutionFound:
		return room, nil
	case rooms.ResolutionNotFound:
		return core.Room{}, core.ErrRoomNotFound
	default:
		return core.Room{}, core.ErrNotReady
	}
}
