// Package gateway maintains the persistent realtime connection to the Pals
// event gateway: authentication, the hello/heartbeat liveness protocol,
// sequence tracking with gap signaling, and automatic reconnection. Inbound
// frames are classified and re-published as bus signals; the dispatch package
// turns those into domain events.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/pals-labs/gopals/auth"
	"github.com/pals-labs/gopals/bus"
	"github.com/pals-labs/gopals/palserr"
	"github.com/pals-labs/gopals/status"
	"go.uber.org/zap"
)

// Defaults for the liveness protocol. The server's HELLO frame can override
// the heartbeat interval at runtime.
const (
	DefaultHeartbeatInterval = 25 * time.Second
	DefaultAckTimeout        = 8 * time.Second
	DefaultConnectTimeout    = 20 * time.Second
)

// legacyAliases are the extra per-event signals emitted alongside the generic
// dispatch signal, kept for consumers predating the generic signal.
var legacyAliases = map[string]string{
	"THREAD_NEW_MESSAGE": "gateway.message",
	"THREAD_TYPING":      "gateway.typing",
	"COUNTER_UPDATE":     "gateway.counter",
	"PROFILE_VIEW":       "gateway.profile_view",
}

// Config configures a gateway connection.
type Config struct {
	// URL is the gateway endpoint; token and intents are appended as query
	// parameters at connect time.
	URL     string
	Intents Intent
	Creds   auth.Source

	Bus     *bus.Bus
	Machine *status.Machine
	Dialer  Dialer
	Logger  *zap.Logger

	HeartbeatInterval time.Duration
	AckTimeout        time.Duration
	ConnectTimeout    time.Duration

	// Reconnect controls the delay between automatic reconnect attempts.
	// The default is a constant zero delay (immediate); install an
	// exponential policy here if the deployment calls for it.
	Reconnect backoff.BackOff
}

// ReadyPayload is carried on "gateway.ready" bus events.
type ReadyPayload struct {
	ConnID    string
	SessionID string
}

// ClosePayload is carried on "gateway.closed" bus events.
type ClosePayload struct {
	Operator bool
}

// Conn owns one transport connection and its liveness state. All inbound
// frames are processed in arrival order on a single read goroutine; the
// sequence-gap check relies on that.
type Conn struct {
	cfg       Config
	log       *zap.Logger
	bus       *bus.Bus
	machine   *status.Machine
	dialer    Dialer
	reconnect backoff.BackOff

	mu             sync.Mutex
	ws             Transport
	gen            int // incremented per connection; stale timers check it
	connID         string
	closing        bool
	lastSeq        int64
	hbStop         chan struct{}
	hbReset        chan time.Duration
	awaitingAck    bool
	ackTimer       *time.Timer
	reconnectTimer *time.Timer
	readDone       chan struct{}
}

// NewConn creates a gateway connection with defaults applied. The connection
// is idle until Connect is called.
func NewConn(cfg Config) *Conn {
	if cfg.Bus == nil {
		cfg.Bus = bus.New()
	}
	if cfg.Machine == nil {
		cfg.Machine = status.NewMachine(cfg.Bus)
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Intents == 0 {
		cfg.Intents = IntentsDefault
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if cfg.AckTimeout <= 0 {
		cfg.AckTimeout = DefaultAckTimeout
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = DefaultConnectTimeout
	}
	if cfg.Dialer == nil {
		cfg.Dialer = &WebsocketDialer{HandshakeTimeout: cfg.ConnectTimeout}
	}
	if cfg.Reconnect == nil {
		cfg.Reconnect = backoff.NewConstantBackOff(0)
	}
	return &Conn{
		cfg:       cfg,
		log:       cfg.Logger,
		bus:       cfg.Bus,
		machine:   cfg.Machine,
		dialer:    cfg.Dialer,
		reconnect: cfg.Reconnect,
	}
}

// Connect authenticates and opens the transport. It fails with an
// AuthenticationError when no credential is available, a TimeoutError when
// the connect timeout elapses first, and a ConnectionError otherwise. A
// failed explicit Connect never schedules a reconnect.
func (c *Conn) Connect(ctx context.Context) error {
	creds, err := c.cfg.Creds.Credentials()
	if err != nil {
		return &palserr.AuthenticationError{Reason: "gateway connect", Err: err}
	}
	if creds.Token == "" {
		return &palserr.AuthenticationError{Reason: "empty token"}
	}

	c.mu.Lock()
	if c.ws != nil {
		c.mu.Unlock()
		return palserr.ErrAlreadyConnected
	}
	c.mu.Unlock()

	if err := c.machine.Transition(status.Connecting); err != nil {
		return fmt.Errorf("connect: %w", err)
	}

	dialCtx, cancel := context.WithTimeout(ctx, c.cfg.ConnectTimeout)
	defer cancel()
	ws, err := c.dialer.Dial(dialCtx, c.gatewayURL(creds))
	if err != nil {
		// The open and the timeout race; closing any transport the loser
		// produced keeps the outcome single-sided.
		if ws != nil {
			_ = ws.Close()
		}
		_ = c.machine.Transition(status.Disconnected)
		if errors.Is(dialCtx.Err(), context.DeadlineExceeded) {
			return &palserr.TimeoutError{Op: "gateway connect", After: c.cfg.ConnectTimeout}
		}
		return &palserr.ConnectionError{Op: "dial", Err: err}
	}

	c.mu.Lock()
	c.gen++
	gen := c.gen
	c.ws = ws
	c.closing = false
	c.lastSeq = 0 // the sequence counter is per connection
	c.connID = uuid.NewString()
	c.awaitingAck = false
	hbStop := make(chan struct{})
	hbReset := make(chan time.Duration, 1)
	readDone := make(chan struct{})
	c.hbStop = hbStop
	c.hbReset = hbReset
	c.readDone = readDone
	connID := c.connID
	c.mu.Unlock()

	ws.SetPongHandler(func() { c.heartbeatAck(gen) })

	c.reconnect.Reset()
	_ = c.machine.Transition(status.Connected)

	go c.heartbeatLoop(gen, c.cfg.HeartbeatInterval, hbStop, hbReset)
	go c.readLoop(gen, ws, readDone)

	c.publish(bus.Event{Kind: "gateway.ready", Payload: ReadyPayload{
		ConnID:    connID,
		SessionID: creds.SessionID,
	}})
	c.log.Info("gateway connected",
		zap.String("conn_id", connID),
		zap.Stringer("intents", c.cfg.Intents))
	return nil
}

// Disconnect closes the connection and suppresses automatic reconnection.
// Heartbeat timers are torn down before the transport closes so the resulting
// close event cannot schedule a reconnect. It waits for the read loop to
// confirm the close.
func (c *Conn) Disconnect() error {
	c.mu.Lock()
	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
		c.reconnectTimer = nil
	}
	if c.ws == nil {
		c.mu.Unlock()
		if c.machine.Current() == status.Reconnecting {
			_ = c.machine.Transition(status.Disconnected)
		}
		return nil
	}
	c.closing = true
	c.stopHeartbeatLocked()
	ws := c.ws
	readDone := c.readDone
	c.mu.Unlock()

	err := ws.Close()
	<-readDone
	return err
}

// Send serializes v and writes it to the transport. It fails with a
// ConnectionError when the transport is not open.
func (c *Conn) Send(v any) error {
	c.mu.Lock()
	ws := c.ws
	c.mu.Unlock()
	if ws == nil {
		return &palserr.ConnectionError{Op: "send", Err: palserr.ErrNotConnected}
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}
	if err := ws.WriteMessage(data); err != nil {
		return &palserr.ConnectionError{Op: "send", Err: err}
	}
	return nil
}

// LastSeq returns the last observed frame sequence number.
func (c *Conn) LastSeq() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastSeq
}

// ConnID returns the id of the current (or most recent) connection.
func (c *Conn) ConnID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connID
}

func (c *Conn) gatewayURL(creds auth.Credentials) string {
	u, err := url.Parse(c.cfg.URL)
	if err != nil {
		return c.cfg.URL
	}
	q := u.Query()
	q.Set("token", creds.Token)
	q.Set("intents", strconv.FormatUint(uint64(c.cfg.Intents), 10))
	if creds.SessionID != "" {
		q.Set("session", creds.SessionID)
	}
	u.RawQuery = q.Encode()
	return u.String()
}

func (c *Conn) readLoop(gen int, ws Transport, done chan struct{}) {
	defer close(done)
	for {
		data, err := ws.ReadMessage()
		if err != nil {
			c.handleClose(gen, err)
			return
		}
		c.handleFrame(gen, data)
	}
}

func (c *Conn) handleClose(gen int, err error) {
	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return
	}
	operator := c.closing
	c.stopHeartbeatLocked()
	c.ws = nil
	c.closing = false
	c.gen++ // in-flight timers for this connection become no-ops
	c.mu.Unlock()

	_ = c.machine.Transition(status.Disconnected)

	if operator {
		c.log.Info("gateway closed")
		c.publish(bus.Event{Kind: "gateway.closed", Payload: ClosePayload{Operator: true}})
		return
	}

	c.log.Warn("gateway connection lost", zap.Error(err))
	c.publish(bus.Event{Kind: "gateway.closed", Payload: ClosePayload{}, Err: err})
	c.scheduleReconnect()
}

func (c *Conn) handleFrame(gen int, data []byte) {
	f, err := parseFrame(data)
	if err != nil {
		// Not structured data; forward verbatim rather than discarding.
		c.log.Debug("unparseable frame forwarded raw", zap.Int("len", len(data)))
		c.publish(bus.Event{Kind: "gateway.raw", Payload: append([]byte(nil), data...)})
		return
	}

	if f.HasSeq {
		var gap *GapPayload
		c.mu.Lock()
		if gen == c.gen {
			if c.lastSeq != 0 && f.Seq != c.lastSeq+1 {
				gap = &GapPayload{Expected: c.lastSeq + 1, Got: f.Seq}
			}
			c.lastSeq = f.Seq
		}
		c.mu.Unlock()
		if gap != nil {
			c.log.Warn("sequence gap",
				zap.Int64("expected", gap.Expected),
				zap.Int64("got", gap.Got))
			c.publish(bus.Event{Kind: "gateway.gap", Payload: *gap})
		}
	}

	switch f.Op {
	case OpHello:
		c.handleHello(f.Data)
	case OpHeartbeat:
		// Server-requested heartbeat.
		c.sendHeartbeat(gen)
	case OpHeartbeatAck:
		c.heartbeatAck(gen)
	case OpInvalidSession:
		c.mu.Lock()
		if gen == c.gen {
			c.lastSeq = 0
		}
		c.mu.Unlock()
		c.log.Warn("session invalidated by server, sequence reset")
	default:
		// DISPATCH and every unrecognized opcode route onward.
		payload := DispatchPayload{Type: f.Event, Data: f.Data}
		c.publish(bus.Event{Kind: "gateway.dispatch", Payload: payload})
		if alias, ok := legacyAliases[f.Event]; ok {
			c.publish(bus.Event{Kind: alias, Payload: payload})
		}
	}
}

func (c *Conn) handleHello(data []byte) {
	var hello helloPayload
	if err := json.Unmarshal(data, &hello); err != nil || hello.HeartbeatInterval <= 0 {
		c.log.Warn("hello frame without usable heartbeat interval")
		return
	}
	iv := time.Duration(hello.HeartbeatInterval) * time.Millisecond
	c.mu.Lock()
	reset := c.hbReset
	c.mu.Unlock()
	if reset != nil {
		select {
		case reset <- iv:
		default:
		}
	}
	c.log.Info("heartbeat interval set by server", zap.Duration("interval", iv))
}

func (c *Conn) heartbeatLoop(gen int, interval time.Duration, stop chan struct{}, reset chan time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.sendHeartbeat(gen)
		case iv := <-reset:
			ticker.Reset(iv)
		case <-stop:
			return
		}
	}
}

func (c *Conn) sendHeartbeat(gen int) {
	c.mu.Lock()
	if gen != c.gen || c.ws == nil {
		c.mu.Unlock()
		return
	}
	ws := c.ws
	seq := c.lastSeq
	if !c.awaitingAck {
		c.awaitingAck = true
		c.ackTimer = time.AfterFunc(c.cfg.AckTimeout, func() { c.heartbeatTimeout(gen) })
	}
	c.mu.Unlock()

	frame, _ := json.Marshal(map[string]any{
		"op": OpHeartbeat,
		"d":  map[string]int64{"seq": seq},
	})
	if err := ws.WriteMessage(frame); err != nil {
		// The read loop observes the broken transport and runs the close path.
		c.emitError(&palserr.ConnectionError{Op: "heartbeat", Err: err})
		return
	}
	_ = ws.Ping(nil)
}

// heartbeatAck clears the pending ack deadline. Reached from both the
// transport-level pong handler and application-level HEARTBEAT_ACK frames.
func (c *Conn) heartbeatAck(gen int) {
	c.mu.Lock()
	if gen == c.gen {
		c.awaitingAck = false
		if c.ackTimer != nil {
			c.ackTimer.Stop()
			c.ackTimer = nil
		}
	}
	c.mu.Unlock()
}

func (c *Conn) heartbeatTimeout(gen int) {
	c.mu.Lock()
	if gen != c.gen || !c.awaitingAck {
		c.mu.Unlock()
		return
	}
	c.awaitingAck = false
	c.ackTimer = nil
	ws := c.ws
	c.mu.Unlock()

	c.log.Warn("no heartbeat ack, terminating connection",
		zap.Duration("after", c.cfg.AckTimeout))
	c.emitError(&palserr.TimeoutError{Op: "heartbeat ack", After: c.cfg.AckTimeout})
	if ws != nil {
		_ = ws.Close()
	}
}

// scheduleReconnect arms the reconnect timer. Single-flight: a pending timer
// is never duplicated.
func (c *Conn) scheduleReconnect() {
	c.mu.Lock()
	if c.closing || c.reconnectTimer != nil {
		c.mu.Unlock()
		return
	}
	delay := c.reconnect.NextBackOff()
	if delay == backoff.Stop {
		c.mu.Unlock()
		c.emitError(&palserr.ConnectionError{Op: "reconnect", Err: errors.New("backoff exhausted")})
		return
	}
	// Transition before arming the timer: with a zero delay the attempt
	// could otherwise reach Connecting first and observers would never see
	// the Reconnecting phase.
	_ = c.machine.Transition(status.Reconnecting)
	c.reconnectTimer = time.AfterFunc(delay, c.attemptReconnect)
	c.mu.Unlock()

	c.log.Info("reconnect scheduled", zap.Duration("delay", delay))
}

func (c *Conn) attemptReconnect() {
	c.mu.Lock()
	c.reconnectTimer = nil
	c.mu.Unlock()

	if err := c.Connect(context.Background()); err != nil {
		if errors.Is(err, palserr.ErrAlreadyConnected) {
			return
		}
		c.emitError(&palserr.ConnectionError{Op: "reconnect", Err: err})
		c.scheduleReconnect()
	}
}

func (c *Conn) stopHeartbeatLocked() {
	if c.hbStop != nil {
		close(c.hbStop)
		c.hbStop = nil
	}
	if c.ackTimer != nil {
		c.ackTimer.Stop()
		c.ackTimer = nil
	}
	c.awaitingAck = false
}

func (c *Conn) publish(evt bus.Event) {
	evt.Timestamp = time.Now()
	c.bus.Publish(evt)
}

// emitError surfaces a gateway-layer error as a bus signal, or logs it when
// nobody subscribed; background errors are never thrown.
func (c *Conn) emitError(err error) {
	if c.bus.Publish(bus.Event{Kind: "gateway.error", Timestamp: time.Now(), Err: err}) == 0 {
		c.log.Warn("gateway error with no subscribers", zap.Error(err))
	}
}
