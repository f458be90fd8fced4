// Package memorystore is the local record-database upstream.Provider: a
// flat table of named NativeFields, each with its own TypeMapper, that a
// test harness or an in-process simulator can drive directly via Put. It
// stands in for the "local record database" collaborator that §1 and
// internal/typemap's package doc both treat as external to the gateway.
package memorystore

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/epics-base/pva2go/internal/fingerprint"
	"github.com/epics-base/pva2go/internal/typemap"
	"github.com/epics-base/pva2go/internal/upstream"
	"github.com/epics-base/pva2go/pkg/log"
)

// record is one named field and everything needed to serve it as an
// upstream.Channel: its native buffer, the mapper built for it, the
// structured snapshot last delivered, and the subscriptions currently
// attached. mu guards every mutable field below, borrowed for the
// subscription set the same way channelcache borrows its monitor mutex.
type record struct {
	mu sync.Mutex

	name   string
	field  *typemap.NativeField
	mapper typemap.TypeMapper
	desc   *typemap.StructureDescriptor

	hasValue bool
	last     *typemap.StructuredValue

	subs map[*subscription]upstream.EventHandler

	closed bool
}

type subscription struct {
	rec *record
}

func (s *subscription) Close() {
	s.rec.mu.Lock()
	delete(s.rec.subs, s)
	s.rec.mu.Unlock()
}

// Store is a Provider backed by a fixed table of named records, built up
// front via Define. Open never creates a record implicitly — an unknown
// name is ErrUnknownRecord — mirroring a real record database where the
// set of PVs is a configuration artifact, not created on first access.
type Store struct {
	mu      sync.Mutex
	records map[string]*record
}

// New returns an empty Store. Callers populate it with Define before
// handing it to channelcache as an upstream.Provider.
func New() *Store {
	return &Store{records: make(map[string]*record)}
}

// Define registers a named record backed by a TypeMapper built from field
// via reg. Calling Define twice for the same name replaces the prior
// definition and drops any subscribers still attached to it.
func (s *Store) Define(name, selector string, field *typemap.NativeField, reg *typemap.Registry) error {
	mapper, err := reg.Build(selector, field)
	if err != nil {
		return fmt.Errorf("memorystore: define %q: %w", name, err)
	}
	desc, err := mapper.Describe()
	if err != nil {
		return fmt.Errorf("memorystore: define %q: %w", name, err)
	}

	r := &record{
		name:   name,
		field:  field,
		mapper: mapper,
		desc:   desc,
		subs:   make(map[*subscription]upstream.EventHandler),
	}

	s.mu.Lock()
	s.records[name] = r
	s.mu.Unlock()
	return nil
}

// Open implements upstream.Provider.
func (s *Store) Open(ctx context.Context, name string) (upstream.Channel, error) {
	s.mu.Lock()
	r, ok := s.records[name]
	s.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("memorystore: %w: %q", ErrUnknownRecord, name)
	}
	return &channel{rec: r}, nil
}

// Put pushes a new native value into name's record and fans the resulting
// structured update out to every attached subscription, outside the
// record's own lock (§4.C "no suspension while holding a lock", applied
// here to the provider side of the boundary as well as the cache side).
func (s *Store) Put(name string, value interface{}, bits typemap.EventBits) error {
	s.mu.Lock()
	r, ok := s.records[name]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("memorystore: %w: %q", ErrUnknownRecord, name)
	}

	r.mu.Lock()
	r.field.Value = value
	r.field.Time = typemap.TimeStamp{SecondsPastEpoch: time.Now().Unix()}
	sv := typemap.NewStructuredValue(r.desc)
	mask := typemap.NewChangeMask()
	if err := r.mapper.Put(sv, mask, bits); err != nil {
		r.mu.Unlock()
		return err
	}
	r.last = sv
	r.hasValue = true

	targets := make([]upstream.EventHandler, 0, len(r.subs))
	for _, h := range r.subs {
		targets = append(targets, h)
	}
	r.mu.Unlock()

	changed := toIntSet(mask)
	for _, h := range targets {
		h.OnUpdate(sv, changed)
	}
	return nil
}

// Terminal marks name's record as permanently done, notifying every
// attached subscription. Intended for test harnesses simulating a record
// being removed from the database while a gateway still watches it.
func (s *Store) Terminal(name string, err error) {
	s.mu.Lock()
	r, ok := s.records[name]
	s.mu.Unlock()
	if !ok {
		return
	}

	r.mu.Lock()
	r.closed = true
	targets := make([]upstream.EventHandler, 0, len(r.subs))
	for _, h := range r.subs {
		targets = append(targets, h)
	}
	r.mu.Unlock()

	for _, h := range targets {
		h.OnTerminal(err)
	}
}

type channel struct {
	rec *record
}

func (c *channel) Name() string { return c.rec.name }

// Monitor registers handler and, if the record already has a value or is
// already closed, replays that state synchronously before returning — the
// same "connect/last-value replay" behavior channelcache's own cache
// relies on for keep-warm reconnects (§4.D).
func (c *channel) Monitor(ctx context.Context, req fingerprint.Request, handler upstream.EventHandler) (upstream.Subscription, error) {
	r := c.rec
	sub := &subscription{rec: r}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		handler.OnTerminal(nil)
		return sub, nil
	}
	r.subs[sub] = handler
	desc := r.desc
	hasValue, last := r.hasValue, r.last
	r.mu.Unlock()

	handler.OnConnect(upstream.StartResult{Connected: true}, desc)
	if hasValue {
		handler.OnUpdate(last, fullMask(desc))
	}
	return sub, nil
}

// Status implements upstream.Channel. A record is CONNECTED from the
// moment it is defined until Terminal marks it closed; memorystore has no
// network link to lose underneath an already-defined record.
func (c *channel) Status() upstream.Status {
	r := c.rec
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return upstream.StatusDestroyed
	}
	return upstream.StatusConnected
}

func (c *channel) Read(ctx context.Context) (interface{}, error) {
	r := c.rec
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, ErrRecordClosed
	}
	sv := typemap.NewStructuredValue(r.desc)
	mask := typemap.NewChangeMask()
	if err := r.mapper.Put(sv, mask, typemap.Value|typemap.Alarm|typemap.Property); err != nil {
		return nil, err
	}
	return sv, nil
}

// Write expects value to be a *typemap.StructuredValue built by the same
// mapper this channel's record uses (the TypeMapper boundary, not a raw
// native value — callers compose one via typemap.NewStructuredValue and
// the relevant setter fields before calling Write).
func (c *channel) Write(ctx context.Context, value interface{}, mask map[int]struct{}) error {
	sv, ok := value.(*typemap.StructuredValue)
	if !ok {
		return fmt.Errorf("memorystore: %w: write value must be *typemap.StructuredValue, got %T", upstream.ErrUnsupportedValue, value)
	}
	r := c.rec

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrRecordClosed
	}
	cmask := toChangeMask(mask)
	if err := r.mapper.Get(sv, cmask); err != nil {
		r.mu.Unlock()
		return err
	}
	r.field.Time = typemap.TimeStamp{SecondsPastEpoch: time.Now().Unix()}

	out := typemap.NewStructuredValue(r.desc)
	outMask := typemap.NewChangeMask()
	if err := r.mapper.Put(out, outMask, typemap.Value|typemap.Alarm); err != nil {
		r.mu.Unlock()
		return err
	}
	r.last = out
	r.hasValue = true

	targets := make([]upstream.EventHandler, 0, len(r.subs))
	for _, h := range r.subs {
		targets = append(targets, h)
	}
	r.mu.Unlock()

	changed := toIntSet(outMask)
	for _, h := range targets {
		h.OnUpdate(out, changed)
	}
	return nil
}

// Close is a no-op: a record's definition outlives any one
// ChannelCacheEntry's lifetime, so there is nothing to release here. A
// sweeper-driven teardown only ever discards the entry's wrapper channel,
// never the underlying record (§4.E).
func (c *channel) Close() {
	log.Debugf("memorystore: channel %q released by cache", c.rec.name)
}

func fullMask(desc *typemap.StructureDescriptor) map[int]struct{} {
	out := make(map[int]struct{}, len(desc.Fields))
	for _, f := range desc.Fields {
		out[int(f.Offset)] = struct{}{}
	}
	return out
}

func toChangeMask(mask map[int]struct{}) typemap.ChangeMask {
	cm := typemap.NewChangeMask()
	for k := range mask {
		cm.Set(typemap.Offset(k))
	}
	return cm
}

func toIntSet(mask typemap.ChangeMask) map[int]struct{} {
	out := make(map[int]struct{}, len(mask))
	for o := range mask {
		out[int(o)] = struct{}{}
	}
	return out
}
