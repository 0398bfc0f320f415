package gateway

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const writeWait = 10 * time.Second

// Transport is the duplex byte-stream connection the gateway rides on.
// The production implementation is a websocket; tests use an in-memory fake.
type Transport interface {
	// ReadMessage blocks until the next data message or a terminal error.
	ReadMessage() ([]byte, error)
	WriteMessage(data []byte) error
	// Ping sends a transport-level liveness probe.
	Ping(data []byte) error
	// SetPongHandler registers the callback invoked on transport-level pongs.
	// Must be called before the read loop starts.
	SetPongHandler(fn func())
	Close() error
}

// Dialer opens a Transport for a gateway URL.
type Dialer interface {
	Dial(ctx context.Context, url string) (Transport, error)
}

// WebsocketDialer dials gateway URLs over websocket.
type WebsocketDialer struct {
	// HandshakeTimeout bounds the websocket handshake; the connect timeout
	// in gateway.Config bounds the whole dial via context.
	HandshakeTimeout time.Duration
}

// Dial opens a websocket connection.
func (d *WebsocketDialer) Dial(ctx context.Context, url string) (Transport, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: d.HandshakeTimeout,
		ReadBufferSize:   4096,
		WriteBufferSize:  4096,
	}
	c, resp, err := dialer.DialContext(ctx, url, http.Header{})
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, err
	}
	return &wsTransport{c: c}, nil
}

// wsTransport adapts a gorilla websocket connection. Writes are serialized;
// gorilla allows one concurrent writer only.
type wsTransport struct {
	mu sync.Mutex
	c  *websocket.Conn
}

func (t *wsTransport) ReadMessage() ([]byte, error) {
	for {
		mt, data, err := t.c.ReadMessage()
		if err != nil {
			return nil, err
		}
		if mt != websocket.TextMessage && mt != websocket.BinaryMessage {
			continue
		}
		return data, nil
	}
}

func (t *wsTransport) WriteMessage(data []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	_ = t.c.SetWriteDeadline(time.Now().Add(writeWait))
	return t.c.WriteMessage(websocket.TextMessage, data)
}

func (t *wsTransport) Ping(data []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.c.WriteControl(websocket.PingMessage, data, time.Now().Add(writeWait))
}

func (t *wsTransport) SetPongHandler(fn func()) {
	t.c.SetPongHandler(func(string) error {
		fn()
		return nil
	})
}

func (t *wsTransport) Close() error {
	t.mu.Lock()
	_ = t.c.SetWriteDeadline(time.Now().Add(writeWait))
	_ = t.c.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	t.mu.Unlock()
	return t.c.Close()
}
