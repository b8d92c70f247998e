package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/vovakirdan/wiresync/internal/proto"
)

type inbound struct {
	Type  string          `json:"type"`
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
	Error *proto.Error    `json:"error"`
}

func main() {
	if err := run(); err != nil {
		log.Printf("ws_smoke: %v", err)
		os.Exit(1)
	}
}

func run() error {
	addr := flag.String("addr", "ws://localhost:8080/ws", "WebSocket address")
	token := flag.String("token", "", "bearer token for hello, if the gateway requires one")
	room := flag.String("room", "", "room id to send into")
	text := flag.String("text", "hello from smoke test", "message text to send")
	timeout := flag.Duration("timeout", 5*time.Second, "total timeout for the run")
	flag.Parse()

	if *room == "" {
		return errors.New("-room is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, *addr, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "bye")

	steps := []struct {
		typ  string
		data any
	}{
		{proto.InboundTypeHello, proto.HelloData{Token: *token, Protocol: proto.ProtocolVersion}},
		{proto.InboundTypeWatch, proto.WatchData{Topic: "rooms"}},
		{proto.InboundTypeWatch, proto.WatchData{Room: *room}},
		{proto.InboundTypeMsg, proto.MsgData{Room: *room, Text: *text}},
	}
	for _, s := range steps {
		payload, err := json.Marshal(s.data)
		if err != nil {
			return fmt.Errorf("marshal %s: %w", s.typ, err)
		}
		if err := wsjson.Write(ctx, conn, proto.Inbound{Type: s.typ, Data: payload}); err != nil {
			return fmt.Errorf("send %s: %w", s.typ, err)
		}
	}

	for {
		var in inbound
		if err := wsjson.Read(ctx, conn, &in); err != nil {
			return fmt.Errorf("read: %w", err)
		}

		fmt.Printf("Received outbound: type=%s", in.Type)
		if in.Event != "" {
			fmt.Printf(" event=%s", in.Event)
		}
		fmt.Println()

		if in.Error != nil {
			return fmt.Errorf("gateway error %s: %s", in.Error.Code, in.Error.Msg)
		}

		switch in.Event {
		case proto.EventNameRooms:
			var evt proto.EventRoomsData
			if err := json.Unmarshal(in.Data, &evt); err == nil {
				fmt.Printf("Rooms: %d known\n", len(evt.Rooms))
			}
		case proto.EventNameHistory:
			var evt proto.EventHistory
			if err := json.Unmarshal(in.Data, &evt); err == nil {
				fmt.Printf("History: room=%s messages=%d\n", evt.Room, len(evt.Messages))
			}
		case proto.EventNameMessage:
			var evt proto.EventMessage
			if err := json.Unmarshal(in.Data, &evt); err != nil {
				fmt.Printf("Raw data: %s\n", string(in.Data))
				return fmt.Errorf("unmarshal message: %w", err)
			}
			fmt.Printf("EventMessage: room=%s user=%s text=%q ts=%d\n", evt.Room, evt.User, evt.Text, evt.TS)
			if evt.Text == *text {
				return nil
			}
		}
	}
}
