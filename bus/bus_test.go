package bus

import (
	"testing"
	"time"
)

func TestPublishSubscribe(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("gateway.", 10)
	defer unsub()

	if n := b.Publish(Event{Kind: "gateway.ready", Timestamp: time.Now()}); n != 1 {
		t.Errorf("Publish matched %d subscribers, want 1", n)
	}

	select {
	case evt := <-ch:
		if evt.Kind != "gateway.ready" {
			t.Errorf("got kind %q, want gateway.ready", evt.Kind)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}
}

func TestNamespaceFiltering(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("message.", 10)
	defer unsub()

	b.Publish(Event{Kind: "gateway.gap"})
	b.Publish(Event{Kind: "message.created"})

	select {
	case evt := <-ch:
		if evt.Kind != "message.created" {
			t.Errorf("got kind %q, want message.created", evt.Kind)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}

	// Ensure the gateway event was not delivered.
	select {
	case evt := <-ch:
		t.Errorf("unexpected event: %v", evt)
	case <-time.After(50 * time.Millisecond):
		// Expected: no more events.
	}
}

func TestPublishReturnsZeroWithoutSubscribers(t *testing.T) {
	b := New()
	if n := b.Publish(Event{Kind: "gateway.error"}); n != 0 {
		t.Errorf("Publish matched %d subscribers, want 0", n)
	}
}

func TestUnsubscribe(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("conn.", 10)
	unsub()

	b.Publish(Event{Kind: "conn.status_changed"})

	select {
	case evt := <-ch:
		t.Errorf("received event after unsubscribe: %v", evt)
	case <-time.After(50 * time.Millisecond):
		// Expected.
	}
}

func TestDropOnFullBuffer(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("test.", 1)
	defer unsub()

	// Fill buffer.
	b.Publish(Event{Kind: "test.one"})
	// This should be dropped (non-blocking).
	b.Publish(Event{Kind: "test.two"})

	evt := <-ch
	if evt.Kind != "test.one" {
		t.Errorf("got %q, want test.one", evt.Kind)
	}
}
