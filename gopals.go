// Package gopals is a client library for the Pals social network. It wraps
// the REST API and the realtime event gateway behind one Client: resource
// managers keep a single live object per user, thread, and message, the
// gateway connection maintains liveness and reconnects on its own, and
// domain events arrive over a subscription bus.
package gopals

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/pals-labs/gopals/auth"
	"github.com/pals-labs/gopals/bus"
	"github.com/pals-labs/gopals/dispatch"
	"github.com/pals-labs/gopals/entity"
	"github.com/pals-labs/gopals/gateway"
	"github.com/pals-labs/gopals/palserr"
	"github.com/pals-labs/gopals/rest"
	"github.com/pals-labs/gopals/status"
	"go.uber.org/zap"
)

const (
	DefaultBaseURL    = "https://api.pals.chat"
	DefaultGatewayURL = "wss://gateway.pals.chat/connect"
)

// Options configure a Client. Zero values fall back to production defaults.
type Options struct {
	BaseURL    string
	GatewayURL string

	// Credentials supplies the API token and session id. Required.
	Credentials auth.Source

	// Intents selects the gateway event categories. Accepts anything
	// gateway.ResolveIntents accepts; nil means the default set.
	Intents any

	// MessageCacheSize bounds the message LRU. Zero means the default.
	MessageCacheSize int

	HTTPClient *http.Client
	Logger     *zap.Logger

	HeartbeatInterval time.Duration
	AckTimeout        time.Duration
	ConnectTimeout    time.Duration

	// Reconnect controls the delay between automatic gateway reconnects.
	Reconnect backoff.BackOff

	// Dialer overrides the websocket dialer. Used by tests.
	Dialer gateway.Dialer
}

// Client is the top-level handle on the Pals service.
type Client struct {
	Users    *entity.UserManager
	Threads  *entity.ThreadManager
	Messages *entity.MessageManager
	REST     *rest.Client
	Gateway  *gateway.Conn

	bus        *bus.Bus
	machine    *status.Machine
	dispatcher *dispatch.Dispatcher
	log        *zap.Logger

	mu      sync.Mutex
	started bool
}

// New assembles a Client from options. The client is idle until Connect.
func New(opts Options) (*Client, error) {
	if opts.Credentials == nil {
		return nil, palserr.ErrNoCredentials
	}
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}
	if opts.GatewayURL == "" {
		opts.GatewayURL = DefaultGatewayURL
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	intents, err := gateway.ResolveIntents(opts.Intents)
	if err != nil {
		return nil, err
	}

	b := bus.New()
	machine := status.NewMachine(b)
	restc := rest.NewClient(opts.BaseURL, opts.Credentials, opts.HTTPClient, opts.Logger)

	users := entity.NewUserManager(restc, opts.Logger)
	threads := entity.NewThreadManager(restc, opts.Logger)
	messages := entity.NewMessageManager(restc, opts.MessageCacheSize, opts.Logger)

	conn := gateway.NewConn(gateway.Config{
		URL:               opts.GatewayURL,
		Intents:           intents,
		Creds:             opts.Credentials,
		Bus:               b,
		Machine:           machine,
		Dialer:            opts.Dialer,
		Logger:            opts.Logger,
		HeartbeatInterval: opts.HeartbeatInterval,
		AckTimeout:        opts.AckTimeout,
		ConnectTimeout:    opts.ConnectTimeout,
		Reconnect:         opts.Reconnect,
	})

	return &Client{
		Users:      users,
		Threads:    threads,
		Messages:   messages,
		REST:       restc,
		Gateway:    conn,
		bus:        b,
		machine:    machine,
		dispatcher: dispatch.New(users, threads, messages, b, opts.Logger),
		log:        opts.Logger,
	}, nil
}

// Connect starts the event dispatcher and opens the gateway connection.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if !c.started {
		c.dispatcher.Start(context.Background())
		c.started = true
	}
	c.mu.Unlock()

	return c.Gateway.Connect(ctx)
}

// Close disconnects the gateway and stops the event dispatcher.
func (c *Client) Close() error {
	err := c.Gateway.Disconnect()

	c.mu.Lock()
	if c.started {
		c.dispatcher.Stop()
		c.started = false
	}
	c.mu.Unlock()
	return err
}

// State returns the current connection state.
func (c *Client) State() status.State {
	return c.machine.Current()
}

// Subscribe returns a channel of events whose kind starts with namespace
// ("message.", "typing.", "gateway.", or "" for everything) and a function
// that cancels the subscription.
func (c *Client) Subscribe(namespace string, bufSize int) (<-chan bus.Event, func()) {
	return c.bus.Subscribe(namespace, bufSize)
}

// Bus exposes the underlying event bus for advanced composition.
func (c *Client) Bus() *bus.Bus {
	return c.bus
}
