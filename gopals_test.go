package gopals

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/pals-labs/gopals/auth"
	"github.com/pals-labs/gopals/dispatch"
	"github.com/pals-labs/gopals/gateway"
	"github.com/pals-labs/gopals/palserr"
	"github.com/pals-labs/gopals/status"
)

type stubTransport struct {
	mu        sync.Mutex
	in        chan []byte
	closed    chan struct{}
	closeOnce sync.Once
}

func newStubTransport() *stubTransport {
	return &stubTransport{in: make(chan []byte, 16), closed: make(chan struct{})}
}

func (t *stubTransport) ReadMessage() ([]byte, error) {
	select {
	case data := <-t.in:
		return data, nil
	case <-t.closed:
		return nil, errors.New("closed")
	}
}

func (t *stubTransport) WriteMessage([]byte) error { return nil }
func (t *stubTransport) Ping([]byte) error         { return nil }
func (t *stubTransport) SetPongHandler(func())     {}
func (t *stubTransport) Close() error {
	t.closeOnce.Do(func() { close(t.closed) })
	return nil
}

type stubDialer struct {
	mu         sync.Mutex
	transports []*stubTransport
}

func (d *stubDialer) Dial(context.Context, string) (gateway.Transport, error) {
	tr := newStubTransport()
	d.mu.Lock()
	d.transports = append(d.transports, tr)
	d.mu.Unlock()
	return tr, nil
}

func TestNewRequiresCredentials(t *testing.T) {
	_, err := New(Options{})
	if !errors.Is(err, palserr.ErrNoCredentials) {
		t.Fatalf("err = %v, want ErrNoCredentials", err)
	}
}

func TestNewRejectsUnknownIntents(t *testing.T) {
	_, err := New(Options{
		Credentials: auth.Static{Token: "tok"},
		Intents:     "telepathy",
	})
	if err == nil {
		t.Fatal("expected intent resolution error")
	}
}

func TestClientEndToEnd(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/users/u2" {
			_ = json.NewEncoder(w).Encode(map[string]any{"id": "u2", "name": "Remote"})
			return
		}
		http.NotFound(w, r)
	}))
	defer srv.Close()

	dialer := &stubDialer{}
	client, err := New(Options{
		BaseURL:     srv.URL,
		Credentials: auth.Static{Token: "tok", SessionID: "s1"},
		Dialer:      dialer,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	msgCh, unsub := client.Subscribe("message.created", 16)
	defer unsub()
	typingCh, unsubTyping := client.Subscribe("typing.started", 16)
	defer unsubTyping()

	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer client.Close()

	if client.State() != status.Connected {
		t.Fatalf("state = %s, want CONNECTED", client.State())
	}

	tr := dialer.transports[0]
	tr.in <- []byte(`{"t":"THREAD_NEW_MESSAGE","s":1,"d":{"id":"m1","thread_id":"t1","sender_id":"u2","body":"hey"}}`)
	tr.in <- []byte(`{"t":"THREAD_TYPING","s":2,"d":{"thread_id":"t1","user_id":"u2"}}`)

	select {
	case evt := <-msgCh:
		created := evt.Payload.(dispatch.MessageCreated)
		if created.Message.Body != "hey" {
			t.Errorf("message = %+v", created.Message)
		}
		cached, ok := client.Messages.Resolve("m1")
		if !ok || cached != created.Message {
			t.Error("event message is not the live cached instance")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no message.created event")
	}

	select {
	case evt := <-typingCh:
		typing := evt.Payload.(dispatch.TypingStarted)
		if typing.User == nil || typing.User.Name != "Remote" {
			t.Errorf("typing user = %+v", typing.User)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no typing.started event")
	}

	if err := client.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if client.State() != status.Disconnected {
		t.Errorf("state after close = %s", client.State())
	}
}
