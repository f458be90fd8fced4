// Package natsprovider implements upstream.Provider over NATS, standing
// in for a remote PVA network transport: one gateway instance publishes
// connect/update/terminal events for a named channel, another subscribes.
package natsprovider

import (
	"fmt"
	"sync"

	"github.com/nats-io/nats.go"

	"github.com/epics-base/pva2go/internal/upstream"
	"github.com/epics-base/pva2go/pkg/log"
)

// Client wraps a NATS connection with subscription tracking, following the
// teacher codebase's pkg/nats client shape for this provider's needs: it tracks
// subscriptions per caller-supplied key so Provider can unsubscribe an
// individual channel's three subjects without tearing down the whole
// connection. It also tracks the upstream.EventHandler registered under
// each key, so a connection-level transition can be broadcast to every
// channel currently monitoring over this connection (§4.E, §4.C).
type Client struct {
	conn *nats.Conn

	mu       sync.Mutex
	subs     map[string][]*nats.Subscription
	handlers map[string]upstream.EventHandler
}

// NewClient dials addr using the optional auth fields in cfg.
func NewClient(cfg Config) (*Client, error) {
	if cfg.Address == "" {
		return nil, fmt.Errorf("natsprovider: address is required")
	}

	client := &Client{
		subs:     make(map[string][]*nats.Subscription),
		handlers: make(map[string]upstream.EventHandler),
	}

	var opts []nats.Option
	if cfg.Username != "" && cfg.Password != "" {
		opts = append(opts, nats.UserInfo(cfg.Username, cfg.Password))
	}
	if cfg.CredsFilePath != "" {
		opts = append(opts, nats.UserCredentials(cfg.CredsFilePath))
	}
	opts = append(opts,
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warnf("natsprovider: disconnected: %v", err)
			}
			client.broadcastState(upstream.StatusDisconnected)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Infof("natsprovider: reconnected to %s", nc.ConnectedUrl())
			client.broadcastState(upstream.StatusConnected)
		}),
		nats.ClosedHandler(func(*nats.Conn) {
			log.Warnf("natsprovider: connection closed")
			client.broadcastState(upstream.StatusDestroyed)
		}),
		nats.ErrorHandler(func(_ *nats.Conn, _ *nats.Subscription, err error) {
			log.Errorf("natsprovider: connection error: %v", err)
		}),
	)

	nc, err := nats.Connect(cfg.Address, opts...)
	if err != nil {
		return nil, fmt.Errorf("natsprovider: connect failed: %w", err)
	}
	log.Infof("natsprovider: connected to %s", cfg.Address)

	client.conn = nc
	return client, nil
}

// IsConnected reports whether the underlying NATS connection is currently
// up, for a periodic health probe job (§4.K).
func (c *Client) IsConnected() bool {
	return c.conn.IsConnected()
}

// Status reports the connection's lifecycle as an upstream.Status, for
// Channel.Status().
func (c *Client) Status() upstream.Status {
	switch {
	case c.conn.IsClosed():
		return upstream.StatusDestroyed
	case c.conn.IsConnected():
		return upstream.StatusConnected
	default:
		return upstream.StatusDisconnected
	}
}

// trackHandler registers handler under key so a connection-level state
// transition reaches every channel currently monitoring, not just the one
// that happens to read the next message.
func (c *Client) trackHandler(key string, handler upstream.EventHandler) {
	c.mu.Lock()
	c.handlers[key] = handler
	c.mu.Unlock()
}

// broadcastState fans a connection-level transition out to every handler
// currently registered, outside the lock (§4.C "no suspension while
// holding a lock").
func (c *Client) broadcastState(status upstream.Status) {
	c.mu.Lock()
	targets := make([]upstream.EventHandler, 0, len(c.handlers))
	for _, h := range c.handlers {
		targets = append(targets, h)
	}
	c.mu.Unlock()

	for _, h := range targets {
		h.OnStateChange(status)
	}
}

// track registers a subscription under key so UnsubscribeKey can tear down
// every subject a single Channel.Monitor call opened together.
func (c *Client) track(key string, sub *nats.Subscription) {
	c.mu.Lock()
	c.subs[key] = append(c.subs[key], sub)
	c.mu.Unlock()
}

// UnsubscribeKey unsubscribes and forgets every subscription registered
// under key.
func (c *Client) UnsubscribeKey(key string) {
	c.mu.Lock()
	subs := c.subs[key]
	delete(c.subs, key)
	delete(c.handlers, key)
	c.mu.Unlock()

	for _, sub := range subs {
		if err := sub.Unsubscribe(); err != nil {
			log.Warnf("natsprovider: unsubscribe failed: %v", err)
		}
	}
}

// Close unsubscribes everything and closes the underlying connection.
func (c *Client) Close() {
	c.mu.Lock()
	all := c.subs
	c.subs = make(map[string][]*nats.Subscription)
	c.handlers = make(map[string]upstream.EventHandler)
	c.mu.Unlock()

	for _, subs := range all {
		for _, sub := range subs {
			_ = sub.Unsubscribe()
		}
	}
	c.conn.Close()
	log.Info("natsprovider: connection closed")
}
