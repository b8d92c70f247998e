package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/wiresync/internal/channel"
	"github.com/vovakirdan/wiresync/internal/core"
	"github.com/vovakirdan/wiresync/internal/rooms"
)

// MessageHandlers provides HTTP handlers for room message endpoints.
type MessageHandlers struct {
	deps Deps
	log  *zerolog.Logger
}

// NewMessageHandlers creates a new message handlers instance.
func NewMessageHandlers(deps Deps, logger *zerolog.Logger) *MessageHandlers {
	return &MessageHandlers{deps: deps, log: logger}
}

// SendMessageRequest represents the send message request body.
type SendMessageRequest struct {
	Content string `json:"content" binding:"max=4096"`
}

// ListMessages returns the message window of a room, opening its channel.
// GET /api/rooms/:id/messages
func (h *MessageHandlers) ListMessages(c *gin.Context) {
	ch, ok := h.open(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, historyToProto(ch.RoomID(), ch.History()))
}

// SendMessage publishes a message from the connected wallet.
// POST /api/rooms/:id/messages
func (h *MessageHandlers) SendMessage(c *gin.Context) {
	var req SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.log.Debug().Err(err).Msg("invalid send message request")
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body", Code: core.ErrCodeBadRequest})
		return
	}

	ch, ok := h.open(c)
	if !ok {
		return
	}
	msg, err := ch.Send(c.Request.Context(), h.deps.Wallet.Address(), req.Content)
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusCreated, messageToProto(msg))
}

// ClearMessages empties the local window of a room. Nothing is published.
// DELETE /api/rooms/:id/messages
func (h *MessageHandlers) ClearMessages(c *gin.Context) {
	ch, ok := h.open(c)
	if !ok {
		return
	}
	if err := ch.Clear(c.Request.Context()); err != nil {
		writeError(c, h.log, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// CloseChannel tears the channel of a room down.
// POST /api/rooms/:id/close
func (h *MessageHandlers) CloseChannel(c *gin.Context) {
	if !h.deps.Channels.Close(c.Param("id")) {
		writeError(c, h.log, core.ErrRoomNotFound)
		return
	}
	c.Status(http.StatusNoContent)
}

// open returns the channel of the room in the path. Rooms the directory
// no longer knows after its replay are rejected.
func (h *MessageHandlers) open(c *gin.Context) (*channel.Channel, bool) {
	ch, err := openChannel(h.deps, c.Param("id"))
	if err != nil {
		writeError(c, h.log, err)
		return nil, false
	}
	return ch, true
}

// openChannel opens the channel of a room the directory does not know to be
// absent. Before the first replay a room may still be unknown and is opened.
func openChannel(deps Deps, roomID string) (*channel.Channel, error) {
	if _, res := deps.Rooms.Resolve(roomID); res == rooms.ResolutionNotFound {
		return nil, core.ErrRoomNotFound
	}
	return deps.Channels.Open(roomID)
}
