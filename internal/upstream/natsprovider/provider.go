package natsprovider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"golang.org/x/sync/errgroup"

	"github.com/epics-base/pva2go/internal/fingerprint"
	"github.com/epics-base/pva2go/internal/typemap"
	"github.com/epics-base/pva2go/internal/upstream"
	"github.com/epics-base/pva2go/pkg/log"
)

// requestTimeout bounds Read and Write's NATS request/reply round trip.
const requestTimeout = 5 * time.Second

// Provider opens upstream.Channels backed by subjects under prefix on one
// NATS connection (§1 domain-stack note: a remote PVA network or a peer
// gateway, reached over messaging rather than a direct PVA socket).
type Provider struct {
	client *Client
	prefix string
}

// NewProvider builds a Provider over an already-connected Client.
func NewProvider(client *Client, subjectPrefix string) *Provider {
	return &Provider{client: client, prefix: subjectPrefix}
}

// Open implements upstream.Provider. It does not itself contact NATS;
// subjects are only subscribed to once Monitor is called.
func (p *Provider) Open(ctx context.Context, name string) (upstream.Channel, error) {
	return &channel{provider: p, name: name}, nil
}

func (p *Provider) subject(name, suffix string) string {
	return fmt.Sprintf("%s.%s.%s", p.prefix, name, suffix)
}

type channel struct {
	provider *Provider
	name     string

	mu   sync.Mutex
	desc *typemap.StructureDescriptor
}

func (c *channel) Name() string { return c.name }

// Monitor subscribes to this channel's connect/update/terminal subjects
// and translates each message into the matching upstream.EventHandler
// call. The three subscriptions are supervised as one errgroup so that an
// unrecoverable subscribe error on any of them tears down the others
// before Monitor returns an error, rather than leaking a partial set.
func (c *channel) Monitor(ctx context.Context, req fingerprint.Request, handler upstream.EventHandler) (upstream.Subscription, error) {
	nc := c.provider.client.conn
	key := fmt.Sprintf("%p-%s-%d", handler, c.name, time.Now().UnixNano())

	g, _ := errgroup.WithContext(ctx)
	var connectSub, updateSub, terminalSub *nats.Subscription

	g.Go(func() error {
		sub, err := nc.Subscribe(c.provider.subject(c.name, "connect"), func(msg *nats.Msg) {
			c.handleConnect(msg.Data, handler)
		})
		connectSub = sub
		return err
	})
	g.Go(func() error {
		sub, err := nc.Subscribe(c.provider.subject(c.name, "update"), func(msg *nats.Msg) {
			c.handleUpdate(msg.Data, handler)
		})
		updateSub = sub
		return err
	})
	g.Go(func() error {
		sub, err := nc.Subscribe(c.provider.subject(c.name, "terminal"), func(msg *nats.Msg) {
			c.handleTerminal(msg.Data, handler)
		})
		terminalSub = sub
		return err
	})

	if err := g.Wait(); err != nil {
		for _, sub := range []*nats.Subscription{connectSub, updateSub, terminalSub} {
			if sub != nil {
				_ = sub.Unsubscribe()
			}
		}
		return nil, fmt.Errorf("natsprovider: subscribe %q: %w", c.name, err)
	}

	for _, sub := range []*nats.Subscription{connectSub, updateSub, terminalSub} {
		c.provider.client.track(key, sub)
	}
	c.provider.client.trackHandler(key, handler)

	return &subscription{client: c.provider.client, key: key}, nil
}

// Status implements upstream.Channel by reporting the shared connection's
// lifecycle; NATS gives no per-subject connectivity, only per-connection.
func (c *channel) Status() upstream.Status {
	return c.provider.client.Status()
}

func (c *channel) handleConnect(data []byte, handler upstream.EventHandler) {
	var m connectMsg
	if err := json.Unmarshal(data, &m); err != nil {
		log.Errorf("natsprovider: decode connect for %q: %v", c.name, err)
		return
	}
	c.mu.Lock()
	c.desc = m.Desc
	c.mu.Unlock()

	result := upstream.StartResult{Connected: m.Connected}
	if m.Err != "" {
		result.Err = errors.New(m.Err)
	}
	handler.OnConnect(result, m.Desc)
}

func (c *channel) handleUpdate(data []byte, handler upstream.EventHandler) {
	c.mu.Lock()
	desc := c.desc
	c.mu.Unlock()
	if desc == nil {
		log.Warnf("natsprovider: update for %q before connect, dropped", c.name)
		return
	}
	sv, changed, err := decodeUpdate(desc, data)
	if err != nil {
		log.Errorf("natsprovider: decode update for %q: %v", c.name, err)
		return
	}
	handler.OnUpdate(sv, changed)
}

func (c *channel) handleTerminal(data []byte, handler upstream.EventHandler) {
	var m terminalMsg
	if err := json.Unmarshal(data, &m); err != nil {
		log.Errorf("natsprovider: decode terminal for %q: %v", c.name, err)
		return
	}
	var err error
	if m.Err != "" {
		err = errors.New(m.Err)
	}
	handler.OnTerminal(err)
}

// Read issues a request/reply round trip on this channel's read subject.
func (c *channel) Read(ctx context.Context) (interface{}, error) {
	c.mu.Lock()
	desc := c.desc
	c.mu.Unlock()
	if desc == nil {
		return nil, fmt.Errorf("natsprovider: %w: %q has not connected yet", ErrNotConnected, c.name)
	}

	cctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()
	msg, err := c.provider.client.conn.RequestWithContext(cctx, c.provider.subject(c.name, "read.req"), nil)
	if err != nil {
		return nil, fmt.Errorf("natsprovider: read %q: %w", c.name, err)
	}
	sv, _, err := decodeUpdate(desc, msg.Data)
	if err != nil {
		return nil, fmt.Errorf("natsprovider: decode read reply for %q: %w", c.name, err)
	}
	return sv, nil
}

// Write expects value to be a *typemap.StructuredValue, matching
// memorystore.Channel's same contract across the upstream.Channel
// interface, and issues a request/reply round trip for the ack.
func (c *channel) Write(ctx context.Context, value interface{}, mask map[int]struct{}) error {
	sv, ok := value.(*typemap.StructuredValue)
	if !ok {
		return fmt.Errorf("natsprovider: %w: write value must be *typemap.StructuredValue, got %T", upstream.ErrUnsupportedValue, value)
	}

	payload, err := encodeWriteReq(sv, mask)
	if err != nil {
		return fmt.Errorf("natsprovider: encode write for %q: %w", c.name, err)
	}

	cctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()
	msg, err := c.provider.client.conn.RequestWithContext(cctx, c.provider.subject(c.name, "write.req"), payload)
	if err != nil {
		return fmt.Errorf("natsprovider: write %q: %w", c.name, err)
	}

	var ack writeAck
	if err := json.Unmarshal(msg.Data, &ack); err != nil {
		return fmt.Errorf("natsprovider: decode write ack for %q: %w", c.name, err)
	}
	if ack.Err != "" {
		return fmt.Errorf("natsprovider: write %q rejected: %s", c.name, ack.Err)
	}
	return nil
}

// Close is a no-op: the channel wrapper carries no subscription of its
// own; every subscription belongs to a Subscription returned by Monitor.
func (c *channel) Close() {}

type subscription struct {
	client *Client
	key    string
}

func (s *subscription) Close() {
	s.client.UnsubscribeKey(s.key)
}
