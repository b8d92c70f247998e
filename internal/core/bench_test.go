package core

import (
	"context"
	"strconv"
	"testing"
	"time"
)

func benchmarkTopicBroadcast(b *testing.B, recipients int) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := NewHub(nil)
	go hub.Run(ctx)

	topic := RoomTopic("bench")
	clients := make([]*Client, 0, recipients)
	for i := range recipients {
		c := NewClient("c"+strconv.Itoa(i), "client")
		hub.RegisterClient(c)
		c.Commands <- &Command{Kind: CommandWatch, Topic: topic}
		clients = append(clients, c)
	}

	// Drain events for all but the first recipient to avoid channel backpressure.
	target := clients[0]
	for _, c := range clients[1:] {
		go func(cl *Client) {
			for range cl.Events {
			}
		}(c)
	}

	// Wait until the target is subscribed.
	for {
		hub.Publish(topic, &Event{Kind: EventMessage})
		select {
		case <-target.Events:
		case <-time.After(time.Millisecond):
			continue
		}
		break
	}

	b.ReportAllocs()
	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		hub.Publish(topic, &Event{Kind: EventMessage, Message: ChatMessage{Content: "payload"}})
		<-target.Events
	}
}

func BenchmarkTopicBroadcast_10(b *testing.B)  { benchmarkTopicBroadcast(b, 10) }
func BenchmarkTopicBroadcast_100(b *testing.B) { benchmarkTopicBroadcast(b, 100) }
func BenchmarkTopicBroadcast_500(b *testing.B) { benchmarkTopicBroadcast(b, 500) }
