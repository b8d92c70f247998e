package core

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startHub(t *testing.T) (*Hub, context.CancelFunc) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	hub := NewHub(nil)
	go hub.Run(ctx)
	t.Cleanup(cancel)
	return hub, cancel
}

// expectError waits for an error event with code, skipping anything else
// delivered to c meanwhile.
func expectError(t *testing.T, c *Client, code string) {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case ev, ok := <-c.Events:
			require.True(t, ok, "events closed before %s", code)
			if ev.Kind == EventError && ev.Error != nil && ev.Error.Code == code {
				return
			}
		case <-timeout:
			t.Fatalf("no %s error for client %s", code, c.ID)
		}
	}
}

func TestHubWatchPublishAndUnwatch(t *testing.T) {
	hub, _ := startHub(t)

	alice := NewClient("a", "alice")
	bob := NewClient("b", "bob")
	hub.RegisterClient(alice)
	hub.RegisterClient(bob)

	alice.Commands <- &Command{Kind: CommandWatch, Topic: TopicRooms}
	bob.Commands <- &Command{Kind: CommandWatch, Topic: RoomTopic("r1")}

	// Commands are processed asynchronously; publish until alice sees it.
	require.Eventually(t, func() bool {
		hub.Publish(TopicRooms, &Event{Kind: EventRoomsChanged, Rooms: []Room{{ID: "r1"}}})
		select {
		case ev := <-alice.Events:
			return ev.Kind == EventRoomsChanged && ev.Topic == TopicRooms
		default:
			return false
		}
	}, 2*time.Second, 10*time.Millisecond)

	var ev *Event
	require.Eventually(t, func() bool {
		hub.Publish(RoomTopic("r1"), &Event{Kind: EventMessage, RoomID: "r1", Message: ChatMessage{Content: "hi"}})
		select {
		case ev = <-bob.Events:
			return true
		default:
			return false
		}
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, EventMessage, ev.Kind)
	assert.Equal(t, "hi", ev.Message.Content)
	assert.Equal(t, RoomTopic("r1"), ev.Topic)

	bob.Commands <- &Command{Kind: CommandUnwatch, Topic: RoomTopic("r1")}
	bob.Commands <- &Command{Kind: CommandUnwatch, Topic: RoomTopic("r1")}
	expectError(t, bob, ErrCodeNotWatching)
}

func TestHubDoubleWatchProducesError(t *testing.T) {
	hub, _ := startHub(t)

	alice := NewClient("a", "alice")
	hub.RegisterClient(alice)

	alice.Commands <- &Command{Kind: CommandWatch, Topic: TopicRooms}
	alice.Commands <- &Command{Kind: CommandWatch, Topic: TopicRooms}

	expectError(t, alice, ErrCodeAlreadyWatching)
}

func TestHubUnregisterClosesEvents(t *testing.T) {
	hub, _ := startHub(t)

	alice := NewClient("a", "")
	assert.Equal(t, "a", alice.Name)
	hub.RegisterClient(alice)
	hub.UnregisterClient(alice)

	select {
	case _, ok := <-alice.Events:
		assert.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("events channel not closed")
	}
}

func TestHubStopClosesClientsAndUnblocksPublish(t *testing.T) {
	hub, cancel := startHub(t)

	alice := NewClient("a", "alice")
	hub.RegisterClient(alice)
	cancel()

	select {
	case _, ok := <-alice.Events:
		assert.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("events channel not closed on stop")
	}

	done := make(chan struct{})
	go func() {
		for range 1000 {
			hub.Publish(TopicRooms, &Event{Kind: EventRoomsChanged})
		}
		hub.RegisterClient(NewClient("late", ""))
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked after hub stopped")
	}
}

func TestHubDropsEventsForSlowConsumer(t *testing.T) {
	hub, _ := startHub(t)

	slow := NewClient("s", "slow")
	hub.RegisterClient(slow)
	slow.Commands <- &Command{Kind: CommandWatch, Topic: TopicConnection}

	require.Eventually(t, func() bool {
		hub.Publish(TopicConnection, &Event{Kind: EventConnection})
		return len(slow.Events) == cap(slow.Events)
	}, 2*time.Second, time.Millisecond)

	for range 10 {
		hub.Publish(TopicConnection, &Event{Kind: EventConnection})
	}
	assert.Equal(t, cap(slow.Events), len(slow.Events))
}
