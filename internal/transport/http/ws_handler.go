package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	stdhttp "net/http"
	"sync/atomic"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/wiresync/internal/config"
	"github.com/vovakirdan/wiresync/internal/core"
	"github.com/vovakirdan/wiresync/internal/identity"
	"github.com/vovakirdan/wiresync/internal/proto"
	"github.com/vovakirdan/wiresync/internal/rooms"
)

// WSHandler upgrades HTTP connections and bridges them to core.Client.
type WSHandler struct {
	deps Deps
	cfg  config.HTTPConfig
	log  *zerolog.Logger
}

// NewWSHandler builds a new WebSocket handler.
func NewWSHandler(deps Deps, cfg config.HTTPConfig, logger *zerolog.Logger) stdhttp.Handler {
	return &WSHandler{deps: deps, cfg: cfg, log: logger}
}

// wsSession is the per-connection state owned by the read loop.
type wsSession struct {
	client  *core.Client
	conn    *websocket.Conn
	authed  atomic.Bool
	limiter *sendLimiter
}

func (h *WSHandler) ServeHTTP(w stdhttp.ResponseWriter, r *stdhttp.Request) {
	ctx := r.Context()

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		h.log.Error().Err(err).Msg("ws accept error")
		return
	}
	defer conn.Close(websocket.StatusInternalError, "internal error")

	client := core.NewClient(uuid.NewString(), "")
	h.deps.Hub.RegisterClient(client)
	defer h.deps.Hub.UnregisterClient(client)

	s := &wsSession{
		client:  client,
		conn:    conn,
		limiter: newSendLimiter(h.cfg.SendRate, h.cfg.SendBurst),
	}
	s.authed.Store(!h.deps.Tokens.Enabled())

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, 2)
	go func() {
		errCh <- h.readLoop(ctx, s)
	}()
	go func() {
		errCh <- h.writeLoop(ctx, s)
	}()

	err = <-errCh
	cancel() // stop the other goroutine
	<-errCh

	status := websocket.StatusNormalClosure
	reason := "closing"
	if err != nil && !errors.Is(err, context.Canceled) {
		if errors.Is(err, io.EOF) {
			err = nil
		}
		if cs := websocket.CloseStatus(err); cs != -1 {
			status = cs
		}
		if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway {
			err = nil
		}
		if err != nil {
			if status == websocket.StatusNormalClosure {
				status = websocket.StatusInternalError
			}
			reason = err.Error()
			h.log.Warn().Err(err).Msg("ws connection closed with error")
		}
	}

	conn.Close(status, reason)
}

func (h *WSHandler) readLoop(ctx context.Context, s *wsSession) error {
	for {
		var inbound proto.Inbound
		if err := wsjson.Read(ctx, s.conn, &inbound); err != nil {
			h.log.Debug().Err(err).Str("client_id", s.client.ID).Msg("read ws inbound")
			return err
		}

		protoErr, err := h.handleInbound(ctx, s, inbound)
		if err != nil {
			h.log.Warn().Err(err).Str("client_id", s.client.ID).Msg("failed to map inbound")
			protoErr = &proto.Error{Code: proto.ErrCodeInvalidMessage, Msg: "malformed data"}
		}
		if protoErr != nil {
			if err := writeOutbound(ctx, s.conn, proto.Outbound{Type: proto.OutboundTypeError, Error: protoErr}); err != nil {
				return err
			}
		}
	}
}

func (h *WSHandler) handleInbound(ctx context.Context, s *wsSession, inbound proto.Inbound) (*proto.Error, error) {
	if inbound.Type == proto.InboundTypeHello {
		return h.hello(s, inbound)
	}
	if !s.authed.Load() {
		return &proto.Error{Code: core.ErrCodeUnauthorized, Msg: "send hello with a valid token first"}, nil
	}

	switch inbound.Type {
	case proto.InboundTypeWatch, proto.InboundTypeUnwatch:
		topic, protoErr, err := watchTopic(inbound)
		if protoErr != nil || err != nil {
			return protoErr, err
		}
		kind := core.CommandWatch
		if inbound.Type == proto.InboundTypeUnwatch {
			kind = core.CommandUnwatch
		}
		if roomID, ok := core.ParseRoomTopic(topic); ok && kind == core.CommandWatch {
			if _, res := h.deps.Rooms.Resolve(roomID); res == rooms.ResolutionNotFound {
				return errorToProto(core.ErrRoomNotFound), nil
			}
		}
		select {
		case s.client.Commands <- &core.Command{Kind: kind, Topic: topic}:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		if kind == core.CommandWatch {
			return h.snapshot(ctx, s, topic)
		}
		return nil, nil
	case proto.InboundTypeMsg:
		var msg proto.MsgData
		if err := json.Unmarshal(inbound.Data, &msg); err != nil {
			return nil, err
		}
		if msg.Room == "" {
			return &proto.Error{Code: core.ErrCodeBadRequest, Msg: "room is required"}, nil
		}
		if !s.limiter.allow() {
			return &proto.Error{Code: core.ErrCodeRateLimited, Msg: "sending too fast"}, nil
		}
		ch, err := openChannel(h.deps, msg.Room)
		if err != nil {
			return errorToProto(err), nil
		}
		if _, err := ch.Send(ctx, h.deps.Wallet.Address(), msg.Text); err != nil {
			return errorToProto(err), nil
		}
		return nil, nil
	default:
		return &proto.Error{Code: proto.ErrCodeInvalidMessage, Msg: "unknown message type"}, nil
	}
}

func (h *WSHandler) hello(s *wsSession, inbound proto.Inbound) (*proto.Error, error) {
	var hello proto.HelloData
	if len(inbound.Data) > 0 {
		if err := json.Unmarshal(inbound.Data, &hello); err != nil {
			return nil, err
		}
	}
	if hello.Protocol != 0 && hello.Protocol != proto.ProtocolVersion {
		return &proto.Error{Code: proto.ErrCodeUnsupportedVersion, Msg: "unsupported protocol version"}, nil
	}
	if !h.deps.Tokens.Enabled() {
		return nil, nil
	}

	claims, err := identity.ValidateToken(h.deps.Tokens, hello.Token)
	if err != nil {
		h.log.Debug().Err(err).Str("client_id", s.client.ID).Msg("ws hello rejected")
		return &proto.Error{Code: core.ErrCodeUnauthorized, Msg: "invalid token"}, nil
	}
	s.authed.Store(true)
	h.log.Debug().Str("client_id", s.client.ID).Str("address", claims.Address).Msg("ws client authenticated")
	return nil, nil
}

// snapshot sends the current state of a freshly watched topic.
func (h *WSHandler) snapshot(ctx context.Context, s *wsSession, topic string) (*proto.Error, error) {
	var out proto.Outbound
	switch topic {
	case core.TopicRooms:
		out = outboundFromEvent(&core.Event{Kind: core.EventRoomsChanged, Rooms: h.deps.Rooms.List()})
	case core.TopicConnection:
		out = outboundFromEvent(ConnectionEvent(h.deps.Conn.Status()))
	default:
		roomID, _ := core.ParseRoomTopic(topic)
		ch, err := openChannel(h.deps, roomID)
		if err != nil {
			return errorToProto(err), nil
		}
		out = outboundFromEvent(&core.Event{Kind: core.EventHistory, RoomID: roomID, Messages: ch.History()})
	}
	return nil, writeOutbound(ctx, s.conn, out)
}

func (h *WSHandler) writeLoop(ctx context.Context, s *wsSession) error {
	for {
		select {
		case event, ok := <-s.client.Events:
			if !ok {
				return nil
			}
			if err := writeOutbound(ctx, s.conn, outboundFromEvent(event)); err != nil {
				h.log.Error().Err(err).Str("client_id", s.client.ID).Msg("write ws event")
				return err
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func writeOutbound(ctx context.Context, conn *websocket.Conn, out proto.Outbound) error {
	return wsjson.Write(ctx, conn, out)
}
