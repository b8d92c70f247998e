package http

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/wiresync/internal/channel"
	"github.com/vovakirdan/wiresync/internal/core"
	"github.com/vovakirdan/wiresync/internal/identity"
)

// ErrorResponse represents an error response body.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// APIHandlers serves the connection and wallet endpoints.
type APIHandlers struct {
	deps Deps
	log  *zerolog.Logger
}

// NewAPIHandlers creates a new API handlers instance.
func NewAPIHandlers(deps Deps, logger *zerolog.Logger) *APIHandlers {
	return &APIHandlers{deps: deps, log: logger}
}

// WalletResponse represents the wallet state.
type WalletResponse struct {
	Address   string `json:"address"`
	Connected bool   `json:"connected"`
}

// ConnectWalletRequest represents the wallet connect request body.
type ConnectWalletRequest struct {
	Address string `json:"address" binding:"required"`
}

// GetConnection returns the connection state.
// GET /api/connection
func (h *APIHandlers) GetConnection(c *gin.Context) {
	c.JSON(http.StatusOK, connectionToProto(h.deps.Conn.Status()))
}

// Reconnect restarts a failed or disconnected session.
// POST /api/connection/reconnect
func (h *APIHandlers) Reconnect(c *gin.Context) {
	if err := h.deps.Conn.Reconnect(c.Request.Context()); err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusAccepted, connectionToProto(h.deps.Conn.Status()))
}

// GetWallet returns the wallet state.
// GET /api/wallet
func (h *APIHandlers) GetWallet(c *gin.Context) {
	c.JSON(http.StatusOK, WalletResponse{
		Address:   h.deps.Wallet.Address(),
		Connected: h.deps.Wallet.IsConnected(),
	})
}

// ConnectWallet connects the wallet to an address. With authentication on,
// only the address named by the token may be connected.
// POST /api/wallet/connect
func (h *APIHandlers) ConnectWallet(c *gin.Context) {
	var req ConnectWalletRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.log.Debug().Err(err).Msg("invalid wallet connect request")
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body", Code: core.ErrCodeBadRequest})
		return
	}

	if authed, ok := c.Get(ContextKeyAddress); ok {
		if addr, _ := authed.(string); !strings.EqualFold(addr, strings.TrimSpace(req.Address)) {
			c.JSON(http.StatusForbidden, ErrorResponse{Error: "token does not match address", Code: core.ErrCodeForbidden})
			return
		}
	}

	if err := h.deps.Wallet.Connect(req.Address); err != nil {
		if errors.Is(err, identity.ErrEmptyAddress) {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error(), Code: core.ErrCodeBadRequest})
			return
		}
		writeError(c, h.log, err)
		return
	}

	h.log.Info().Str("address", h.deps.Wallet.Address()).Msg("wallet connected")
	h.GetWallet(c)
}

// DisconnectWallet disconnects the wallet and tears the session down.
// POST /api/wallet/disconnect
func (h *APIHandlers) DisconnectWallet(c *gin.Context) {
	h.deps.Wallet.Disconnect()
	h.log.Info().Msg("wallet disconnected")
	h.GetWallet(c)
}

// writeError maps a domain error onto a status code and error body.
func writeError(c *gin.Context, logger *zerolog.Logger, err error) {
	code := core.ErrorCode(err)
	status := http.StatusInternalServerError
	switch code {
	case core.ErrCodeNotReady:
		status = http.StatusServiceUnavailable
	case core.ErrCodeEmptyRoomName, core.ErrCodeEmptyMessage, core.ErrCodeBadRequest:
		status = http.StatusBadRequest
	case core.ErrCodeRoomNotFound:
		status = http.StatusNotFound
	case core.ErrCodeForbidden:
		status = http.StatusForbidden
	case core.ErrCodeIdentityAbsent:
		status = http.StatusConflict
	}
	if errors.Is(err, channel.ErrClosed) {
		status = http.StatusGone
	}

	msg := err.Error()
	if status == http.StatusInternalServerError {
		logger.Error().Err(err).Str("path", c.Request.URL.Path).Msg("request failed")
		msg = "internal server error"
	}
	c.JSON(status, ErrorResponse{Error: msg, Code: code})
}
