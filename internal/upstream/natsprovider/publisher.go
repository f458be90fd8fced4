package natsprovider

import (
	"context"
	"encoding/json"
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

// Publisher is the other half of Provider: it takes a locally-owned
// upstream.Channel (typically from memorystore) and relays its
// connect/update/terminal lifecycle onto this provider's NATS subjects,
// answering read/write requests from the local channel directly. Running
// both a Provider and a Publisher lets two gateway instances share
// channels over NATS as a stand-in for a direct PVA network link (§1
// domain-stack note).
type Publisher struct {
	client *Client
	prefix string
}

// NewPublisher builds a Publisher over an already-connected Client.
func NewPublisher(client *Client, subjectPrefix string) *Publisher {
	return &Publisher{client: client, prefix: subjectPrefix}
}

func (p *Publisher) subject(name, suffix string) string {
	return fmt.Sprintf("%s.%s.%s", p.prefix, name, suffix)
}

// relay implements upstream.EventHandler by publishing every event onto
// the matching subject for name.
type relay struct {
	pub  *Publisher
	name string
}

func (r *relay) OnConnect(result upstream.StartResult, desc *typemap.StructureDescriptor) {
	m := connectMsg{Connected: result.Connected, Desc: desc}
	if result.Err != nil {
		m.Err = result.Err.Error()
	}
	data, err := json.Marshal(m)
	if err != nil {
		log.Errorf("natsprovider: encode connect for %q: %v", r.name, err)
		return
	}
	if err := r.pub.client.conn.Publish(r.pub.subject(r.name, "connect"), data); err != nil {
		log.Errorf("natsprovider: publish connect for %q: %v", r.name, err)
	}
}

func (r *relay) OnUpdate(payload interface{}, changed map[int]struct{}) {
	sv, ok := payload.(*typemap.StructuredValue)
	if !ok {
		log.Errorf("natsprovider: relay %q: OnUpdate payload is %T, want *typemap.StructuredValue", r.name, payload)
		return
	}
	data, err := encodeUpdate(sv.Desc, sv, changed)
	if err != nil {
		log.Errorf("natsprovider: encode update for %q: %v", r.name, err)
		return
	}
	if err := r.pub.client.conn.Publish(r.pub.subject(r.name, "update"), data); err != nil {
		log.Errorf("natsprovider: publish update for %q: %v", r.name, err)
	}
}

func (r *relay) OnTerminal(err error) {
	m := terminalMsg{}
	if err != nil {
		m.Err = err.Error()
	}
	data, encErr := json.Marshal(m)
	if encErr != nil {
		log.Errorf("natsprovider: encode terminal for %q: %v", r.name, encErr)
		return
	}
	if pubErr := r.pub.client.conn.Publish(r.pub.subject(r.name, "terminal"), data); pubErr != nil {
		log.Errorf("natsprovider: publish terminal for %q: %v", r.name, pubErr)
	}
}

func (r *relay) OnStateChange(status upstream.Status) {
	if status == upstream.StatusDisconnected || status == upstream.StatusDestroyed {
		r.OnTerminal(nil)
	}
}

// Expose relays src's lifecycle onto NATS under name and answers
// read.req/write.req by delegating to src.Read/src.Write. The two request
// responder goroutines and the upstream Monitor call are brought up
// together under one errgroup so a failure standing any of them up tears
// down what succeeded rather than leaving a half-exposed channel.
func (p *Publisher) Expose(ctx context.Context, name string, src upstream.Channel) (upstream.Subscription, error) {
	key := fmt.Sprintf("expose-%s-%d", name, time.Now().UnixNano())

	var mu sync.Mutex
	var desc *typemap.StructureDescriptor
	captureDesc := func(d *typemap.StructureDescriptor) {
		mu.Lock()
		desc = d
		mu.Unlock()
	}

	r := &relay{pub: p, name: name}
	wrapped := &captureRelay{relay: r, onDesc: captureDesc}

	g, gctx := errgroup.WithContext(ctx)
	var upstreamSub upstream.Subscription
	var readSub, writeSub *nats.Subscription

	g.Go(func() error {
		sub, err := src.Monitor(gctx, fingerprint.Request{}, wrapped)
		upstreamSub = sub
		return err
	})
	g.Go(func() error {
		sub, err := p.client.conn.Subscribe(p.subject(name, "read.req"), func(msg *nats.Msg) {
			p.handleReadReq(gctx, name, src, msg)
		})
		readSub = sub
		return err
	})
	g.Go(func() error {
		sub, err := p.client.conn.Subscribe(p.subject(name, "write.req"), func(msg *nats.Msg) {
			mu.Lock()
			d := desc
			mu.Unlock()
			p.handleWriteReq(gctx, name, src, d, msg)
		})
		writeSub = sub
		return err
	})

	if err := g.Wait(); err != nil {
		if upstreamSub != nil {
			upstreamSub.Close()
		}
		for _, sub := range []*nats.Subscription{readSub, writeSub} {
			if sub != nil {
				_ = sub.Unsubscribe()
			}
		}
		return nil, fmt.Errorf("natsprovider: expose %q: %w", name, err)
	}

	p.client.track(key, readSub)
	p.client.track(key, writeSub)

	return &exposeSubscription{client: p.client, key: key, upstream: upstreamSub}, nil
}

func (p *Publisher) handleReadReq(ctx context.Context, name string, src upstream.Channel, msg *nats.Msg) {
	val, err := src.Read(ctx)
	if err != nil {
		log.Errorf("natsprovider: local read for %q: %v", name, err)
		return
	}
	sv, ok := val.(*typemap.StructuredValue)
	if !ok {
		log.Errorf("natsprovider: local read for %q returned %T, want *typemap.StructuredValue", name, val)
		return
	}
	data, err := encodeUpdate(sv.Desc, sv, fullSetFor(sv.Desc))
	if err != nil {
		log.Errorf("natsprovider: encode read reply for %q: %v", name, err)
		return
	}
	if err := msg.Respond(data); err != nil {
		log.Errorf("natsprovider: respond to read for %q: %v", name, err)
	}
}

func (p *Publisher) handleWriteReq(ctx context.Context, name string, src upstream.Channel, desc *typemap.StructureDescriptor, msg *nats.Msg) {
	var ack writeAck
	if desc == nil {
		ack.Err = "channel has not connected yet"
	} else if sv, changed, err := decodeWriteReq(desc, msg.Data); err != nil {
		ack.Err = err.Error()
	} else if err := src.Write(ctx, sv, changed); err != nil {
		ack.Err = err.Error()
	}

	data, err := json.Marshal(ack)
	if err != nil {
		log.Errorf("natsprovider: encode write ack for %q: %v", name, err)
		return
	}
	if err := msg.Respond(data); err != nil {
		log.Errorf("natsprovider: respond to write for %q: %v", name, err)
	}
}

func fullSetFor(desc *typemap.StructureDescriptor) map[int]struct{} {
	out := make(map[int]struct{}, len(desc.Fields))
	for _, f := range desc.Fields {
		out[int(f.Offset)] = struct{}{}
	}
	return out
}

// captureRelay wraps relay to also record the negotiated descriptor,
// which handleWriteReq needs to decode incoming write payloads.
type captureRelay struct {
	*relay
	onDesc func(*typemap.StructureDescriptor)
}

func (c *captureRelay) OnConnect(result upstream.StartResult, desc *typemap.StructureDescriptor) {
	c.onDesc(desc)
	c.relay.OnConnect(result, desc)
}

type exposeSubscription struct {
	client   *Client
	key      string
	upstream upstream.Subscription
}

func (e *exposeSubscription) Close() {
	e.client.UnsubscribeKey(e.key)
	e.upstream.Close()
}

