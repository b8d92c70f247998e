package http

import (
	"context"
	stdhttp "net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/wiresync/internal/channel"
	"github.com/vovakirdan/wiresync/internal/config"
	"github.com/vovakirdan/wiresync/internal/connection"
	"github.com/vovakirdan/wiresync/internal/core"
	"github.com/vovakirdan/wiresync/internal/identity"
	"github.com/vovakirdan/wiresync/internal/rooms"
)

// Connection is the part of connection.Manager the gateway exposes.
type Connection interface {
	Status() connection.Status
	Reconnect(ctx context.Context) error
}

// Directory is the part of rooms.Directory the gateway exposes.
type Directory interface {
	List() []core.Room
	GetByID(id string) (core.Room, bool)
	GetByCode(code string) (core.Room, bool)
	Resolve(id string) (core.Room, rooms.Resolution)
	WaitLoaded(ctx context.Context) error
	Create(ctx context.Context, name, creator string) (core.Room, error)
	Update(ctx context.Context, room core.Room) (core.Room, error)
	Delete(ctx context.Context, id, requester string) error
}

// Channels opens and closes room message channels.
type Channels interface {
	Open(roomID string) (*channel.Channel, error)
	Close(roomID string) bool
}

// Wallet is the identity the gateway acts for.
type Wallet interface {
	Address() string
	IsConnected() bool
	Connect(address string) error
	Disconnect()
}

// Deps are the engine components served by the gateway.
type Deps struct {
	Hub      *core.Hub
	Conn     Connection
	Rooms    Directory
	Channels Channels
	Wallet   Wallet
	// Tokens enables bearer authentication when it carries a secret.
	Tokens *identity.TokenConfig
}

// NewRouter builds the gin engine with every REST route.
func NewRouter(deps Deps, cfg config.HTTPConfig, logger *zerolog.Logger) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), LoggerMiddleware(logger))

	router.GET("/health", healthHandler)

	api := router.Group("/api")
	api.Use(AuthMiddleware(deps.Tokens, logger))

	apiHandlers := NewAPIHandlers(deps, logger)
	api.GET("/connection", apiHandlers.GetConnection)
	api.POST("/connection/reconnect", apiHandlers.Reconnect)
	api.GET("/wallet", apiHandlers.GetWallet)
	api.POST("/wallet/connect", apiHandlers.ConnectWallet)
	api.POST("/wallet/disconnect", apiHandlers.DisconnectWallet)

	roomHandlers := NewRoomHandlers(deps, logger)
	api.GET("/rooms", roomHandlers.ListRooms)
	api.POST("/rooms", roomHandlers.CreateRoom)
	api.GET("/rooms/code/:code", roomHandlers.GetRoomByCode)
	api.GET("/rooms/:id", roomHandlers.GetRoom)
	api.PUT("/rooms/:id", roomHandlers.UpdateRoom)
	api.DELETE("/rooms/:id", roomHandlers.DeleteRoom)

	messageHandlers := NewMessageHandlers(deps, logger)
	api.GET("/rooms/:id/messages", messageHandlers.ListMessages)
	api.POST("/rooms/:id/messages", messageHandlers.SendMessage)
	api.DELETE("/rooms/:id/messages", messageHandlers.ClearMessages)
	api.POST("/rooms/:id/close", messageHandlers.CloseChannel)

	return router
}

// NewHandler serves /ws on a plain mux outside gin; gin cannot hand the
// connection over after the upgrade status is written. Everything else goes
// through the router.
func NewHandler(deps Deps, cfg config.HTTPConfig, logger *zerolog.Logger) stdhttp.Handler {
	mux := stdhttp.NewServeMux()
	mux.Handle("/ws", NewWSHandler(deps, cfg, logger))
	mux.Handle("/", NewRouter(deps, cfg, logger))
	return mux
}

// NewServer builds the HTTP server for the gateway.
func NewServer(deps Deps, cfg config.HTTPConfig, logger *zerolog.Logger) *stdhttp.Server {
	return &stdhttp.Server{
		Addr:              cfg.Addr,
		Handler:           NewHandler(deps, cfg, logger),
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}
}

func healthHandler(c *gin.Context) {
	c.String(stdhttp.StatusOK, "ok")
}
