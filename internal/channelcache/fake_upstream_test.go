package channelcache

import (
	"context"
	"errors"
	"sync"

	"github.com/epics-base/pva2go/internal/fingerprint"
	"github.com/epics-base/pva2go/internal/typemap"
	"github.com/epics-base/pva2go/internal/upstream"
)

// fakeSubscription and fakeChannel give tests direct control over when
// OnConnect/OnUpdate/OnTerminal fire, standing in for a real PVA network
// or record-database provider. A fakeChannel remembers whether it is
// "connected" and its last value, and replays both synchronously to any
// handler registered by a later Monitor call — mirroring how a real PVA
// server answers a new monitor against an already-connected channel with
// the current value immediately, without a fresh network round trip.
type fakeSubscription struct {
	closed bool
}

func (s *fakeSubscription) Close() { s.closed = true }

type fakeReg struct {
	handler upstream.EventHandler
	sub     *fakeSubscription
}

type fakeChannel struct {
	name string

	mu           sync.Mutex
	regs         []fakeReg
	monitorCalls int
	closed       bool

	connected   bool
	status      upstream.Status
	desc        *typemap.StructureDescriptor
	hasLast     bool
	lastPayload interface{}
	lastChanged map[int]struct{}
}

func (c *fakeChannel) Name() string { return c.name }

func (c *fakeChannel) Monitor(ctx context.Context, req fingerprint.Request, h upstream.EventHandler) (upstream.Subscription, error) {
	sub := &fakeSubscription{}

	c.mu.Lock()
	c.regs = append(c.regs, fakeReg{h, sub})
	c.monitorCalls++
	connected, desc, hasLast, payload, changed := c.connected, c.desc, c.hasLast, c.lastPayload, c.lastChanged
	c.mu.Unlock()

	if connected {
		h.OnConnect(upstream.StartResult{Connected: true}, desc)
		if hasLast {
			h.OnUpdate(payload, changed)
		}
	}
	return sub, nil
}

// Status implements upstream.Channel.
func (c *fakeChannel) Status() upstream.Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

func (c *fakeChannel) Read(ctx context.Context) (interface{}, error) { return nil, nil }

func (c *fakeChannel) Write(ctx context.Context, value interface{}, mask map[int]struct{}) error {
	return nil
}

func (c *fakeChannel) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
}

func (c *fakeChannel) liveRegs() []fakeReg {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]fakeReg, 0, len(c.regs))
	for _, r := range c.regs {
		if !r.sub.closed {
			out = append(out, r)
		}
	}
	return out
}

func (c *fakeChannel) connect(desc *typemap.StructureDescriptor) {
	c.mu.Lock()
	c.connected = true
	c.status = upstream.StatusConnected
	c.desc = desc
	c.mu.Unlock()

	for _, r := range c.liveRegs() {
		r.handler.OnConnect(upstream.StartResult{Connected: true}, desc)
	}
}

// disconnect simulates a channel-level connectivity drop (§4.E): every
// handler currently registered via Monitor, not just one, learns of it.
func (c *fakeChannel) disconnect() {
	c.mu.Lock()
	c.status = upstream.StatusDisconnected
	c.mu.Unlock()

	for _, r := range c.liveRegs() {
		r.handler.OnStateChange(upstream.StatusDisconnected)
	}
}

func (c *fakeChannel) update(payload interface{}, changed map[int]struct{}) {
	c.mu.Lock()
	c.hasLast = true
	c.lastPayload = payload
	c.lastChanged = changed
	c.mu.Unlock()

	for _, r := range c.liveRegs() {
		r.handler.OnUpdate(payload, changed)
	}
}

func (c *fakeChannel) terminal(err error) {
	for _, r := range c.liveRegs() {
		r.handler.OnTerminal(err)
	}
}

func (c *fakeChannel) calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.monitorCalls
}

type fakeProvider struct {
	mu        sync.Mutex
	channels  map[string]*fakeChannel
	opens     int
	failNames map[string]bool
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{channels: make(map[string]*fakeChannel), failNames: make(map[string]bool)}
}

func (p *fakeProvider) Open(ctx context.Context, name string) (upstream.Channel, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failNames[name] {
		return nil, errors.New("fake open failure")
	}
	p.opens++
	ch := &fakeChannel{name: name}
	p.channels[name] = ch
	return ch, nil
}

func (p *fakeProvider) channel(name string) *fakeChannel {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.channels[name]
}

func (p *fakeProvider) openCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.opens
}
