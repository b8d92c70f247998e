package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/vovakirdan/wiresync/internal/proto"
)

// inbound mirrors proto.Outbound with the payload left raw for decoding.
type inbound struct {
	Type  string          `json:"type"`
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
	Error *proto.Error    `json:"error"`
}

func main() {
	if err := run(); err != nil {
		log.Printf("ws_chat: %v", err)
		os.Exit(1)
	}
}

func run() error {
	addr := flag.String("addr", "ws://localhost:8080/ws", "WebSocket address")
	token := flag.String("token", "", "bearer token for hello, if the gateway requires one")
	room := flag.String("room", "", "room id to watch and chat in")
	flag.Parse()

	if *room == "" {
		return errors.New("-room is required")
	}

	baseCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(baseCtx)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, *addr, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "bye")

	if err := send(ctx, conn, proto.InboundTypeHello, proto.HelloData{Token: *token, Protocol: proto.ProtocolVersion}); err != nil {
		return err
	}
	if err := send(ctx, conn, proto.InboundTypeWatch, proto.WatchData{Topic: "connection"}); err != nil {
		return err
	}
	if err := send(ctx, conn, proto.InboundTypeWatch, proto.WatchData{Room: *room}); err != nil {
		return err
	}

	fmt.Printf("Connected to %s, watching room %s\n", *addr, *room)
	fmt.Println("Type messages and press Enter to send. Ctrl+C to exit.")

	go func() {
		defer cancel()
		readLoop(ctx, conn)
	}()

	writeLoop(ctx, conn, *room)

	stop()
	cancel()
	_ = conn.Close(websocket.StatusNormalClosure, "bye")
	return nil
}

func send(ctx context.Context, conn *websocket.Conn, typ string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", typ, err)
	}
	if err := wsjson.Write(ctx, conn, proto.Inbound{Type: typ, Data: payload}); err != nil {
		return fmt.Errorf("send %s: %w", typ, err)
	}
	return nil
}

func readLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		var in inbound
		if err := wsjson.Read(ctx, conn, &in); err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			switch websocket.CloseStatus(err) {
			case websocket.StatusNormalClosure, websocket.StatusGoingAway:
				return
			}
			log.Printf("read error: %v", err)
			return
		}

		if in.Type == proto.OutboundTypeError && in.Error != nil {
			fmt.Printf("error %s: %s\n", in.Error.Code, in.Error.Msg)
			continue
		}

		switch in.Event {
		case proto.EventNameMessage:
			var evt proto.EventMessage
			if err := json.Unmarshal(in.Data, &evt); err != nil {
				log.Printf("unmarshal message: %v", err)
				continue
			}
			printMessage(evt)
		case proto.EventNameHistory:
			var evt proto.EventHistory
			if err := json.Unmarshal(in.Data, &evt); err != nil {
				log.Printf("unmarshal history: %v", err)
				continue
			}
			fmt.Printf("[room %s] %d messages in history\n", evt.Room, len(evt.Messages))
			for _, m := range evt.Messages {
				printMessage(m)
			}
		case proto.EventNameConnection:
			var evt proto.EventConnection
			if err := json.Unmarshal(in.Data, &evt); err != nil {
				log.Printf("unmarshal connection: %v", err)
				continue
			}
			fmt.Printf("[connection] %s attempt=%d %s\n", evt.State, evt.Attempt, evt.Error)
		default:
			fmt.Printf("event=%s data=%s\n", in.Event, in.Data)
		}
	}
}

func printMessage(m proto.EventMessage) {
	ts := time.UnixMilli(m.TS).Format(time.TimeOnly)
	fmt.Printf("%s [%s] %s: %s\n", ts, m.Room, m.User, m.Text)
}

func writeLoop(ctx context.Context, conn *websocket.Conn, room string) {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			text := strings.TrimSpace(line)
			if text == "" {
				continue
			}
			if err := send(ctx, conn, proto.InboundTypeMsg, proto.MsgData{Room: room, Text: text}); err != nil {
				log.Printf("%v", err)
				return
			}
		}
	}
}
