package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	comms "github.com/nats-io/nats.go"

	"github.com/morezero/ipc-bridge/internal/commstest"
)

const commsTestPrefix = "events:comms_publisher_integration_test"

func subscribeEvents(t *testing.T, nc *comms.Conn, subject string) chan *Event {
	t.Helper()
	received := make(chan *Event, 4)
	sub, err := nc.Subscribe(subject, func(msg *comms.Msg) {
		var event Event
		if err := json.Unmarshal(msg.Data, &event); err != nil {
			t.Errorf("%s - failed to unmarshal: %v", commsTestPrefix, err)
			return
		}
		received <- &event
	})
	if err != nil {
		t.Fatalf("%s - failed to subscribe: %v", commsTestPrefix, err)
	}
	t.Cleanup(func() { sub.Unsubscribe() })
	return received
}

func waitEvent(t *testing.T, ch chan *Event, what string) *Event {
	t.Helper()
	select {
	case got := <-ch:
		return got
	case <-time.After(5 * time.Second):
		t.Fatalf("%s - timeout waiting for %s event", commsTestPrefix, what)
		return nil
	}
}

func TestCommsPublisher_ErrorEvent_BothSubjects(t *testing.T) {
	nc := commstest.Start(t)
	publisher := NewCommsPublisher(nc, nil)

	granular := subscribeEvents(t, nc, "ipc.events.ipc_error.test")
	global := subscribeEvents(t, nc, "ipc.events")

	event := &Event{
		Name:      NameError,
		Endpoint:  "test",
		Error:     "boom",
		RequestID: "req-1",
		Timestamp: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	if err := publisher.Publish(context.Background(), event); err != nil {
		t.Fatalf("%s - Publish failed: %v", commsTestPrefix, err)
	}
	nc.Flush()

	got := waitEvent(t, granular, "granular")
	if got.Endpoint != "test" {
		t.Errorf("%s - Endpoint = %q, want %q", commsTestPrefix, got.Endpoint, "test")
	}
	if got.Error != "boom" {
		t.Errorf("%s - Error = %q, want %q", commsTestPrefix, got.Error, "boom")
	}
	if got.RequestID != "req-1" {
		t.Errorf("%s - RequestID = %q, want %q", commsTestPrefix, got.RequestID, "req-1")
	}
	if !got.Timestamp.Equal(event.Timestamp) {
		t.Errorf("%s - Timestamp = %v, want %v", commsTestPrefix, got.Timestamp, event.Timestamp)
	}

	got = waitEvent(t, global, "global")
	if got.Name != NameError {
		t.Errorf("%s - Name = %q, want %q", commsTestPrefix, got.Name, NameError)
	}
}

func TestCommsPublisher_LifecycleEvent(t *testing.T) {
	nc := commstest.Start(t)
	publisher := NewCommsPublisher(nc, nil)

	ready := subscribeEvents(t, nc, "ipc.events.ipc_ready")

	err := publisher.Publish(context.Background(), &Event{Name: NameReady, Addr: "127.0.0.1:8080", Path: "/ipc"})
	if err != nil {
		t.Fatalf("%s - Publish failed: %v", commsTestPrefix, err)
	}
	nc.Flush()

	got := waitEvent(t, ready, "ready")
	if got.Addr != "127.0.0.1:8080" || got.Path != "/ipc" {
		t.Errorf("%s - unexpected ready event %+v", commsTestPrefix, got)
	}
}

func TestCommsPublisher_CustomPrefix(t *testing.T) {
	nc := commstest.Start(t)

	publisher := NewCommsPublisher(nc, &CommsPublisherOpts{SubjectPrefix: "bot.ipc"})
	received := subscribeEvents(t, nc, "bot.ipc.ipc_setup")

	if err := publisher.Publish(context.Background(), &Event{Name: NameSetup}); err != nil {
		t.Fatalf("%s - Publish failed: %v", commsTestPrefix, err)
	}
	nc.Flush()

	waitEvent(t, received, "custom prefix")
}

func TestNewCommsPublisher_Defaults(t *testing.T) {
	nc := commstest.Start(t)

	for _, opts := range []*CommsPublisherOpts{nil, {SubjectPrefix: ""}} {
		publisher := NewCommsPublisher(nc, opts)
		if publisher.subjectPrefix != "ipc.events" {
			t.Errorf("%s - subjectPrefix = %q, want %q", commsTestPrefix, publisher.subjectPrefix, "ipc.events")
		}
	}
}

func TestCommsPublisher_Headers(t *testing.T) {
	nc := commstest.Start(t)
	publisher := NewCommsPublisher(nc, nil)

	msgs := make(chan *comms.Msg, 1)
	sub, err := nc.ChanSubscribe("ipc.events.ipc_error.>", msgs)
	if err != nil {
		t.Fatalf("%s - failed to subscribe: %v", commsTestPrefix, err)
	}
	defer sub.Unsubscribe()

	event := NewErrorEvent("user.profile", "req-9", errors.New("boom"))
	if err := publisher.Publish(context.Background(), event); err != nil {
		t.Fatalf("%s - Publish failed: %v", commsTestPrefix, err)
	}
	nc.Flush()

	select {
	case msg := <-msgs:
		if msg.Subject != "ipc.events.ipc_error.user_profile" {
			t.Errorf("%s - Subject = %q", commsTestPrefix, msg.Subject)
		}
		if got := msg.Header.Get(HeaderEvent); got != NameError {
			t.Errorf("%s - %s = %q, want %q", commsTestPrefix, HeaderEvent, got, NameError)
		}
		if got := msg.Header.Get(HeaderRequestID); got != "req-9" {
			t.Errorf("%s - %s = %q, want req-9", commsTestPrefix, HeaderRequestID, got)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("%s - timeout waiting for event", commsTestPrefix)
	}
}
