package channelcache

import (
	"sync"

	"github.com/google/uuid"

	"github.com/epics-base/pva2go/internal/fingerprint"
	"github.com/epics-base/pva2go/internal/typemap"
	"github.com/epics-base/pva2go/internal/upstream"
	"github.com/epics-base/pva2go/pkg/log"
)

// UpstreamMonitor is one upstream subscription shared by every Subscriber
// that asked for the same (channel, RequestFingerprint) pair (§3, §4.C). A
// single mutex protects its own mutable fields and every attached
// Subscriber's queue — the "borrowed mutex" pattern documented in §9.
type UpstreamMonitor struct {
	mu sync.Mutex

	parent *ChannelCacheEntry
	key    fingerprint.Fingerprint
	sub    upstream.Subscription

	hasTypeDesc bool
	typeDesc    *typemap.StructureDescriptor

	hasStartStatus bool
	startStatus    upstream.StartResult

	hasLastElement bool
	lastElement    interface{}
	lastChanged    map[int]struct{}

	subscribers map[*Subscriber]struct{}

	done        bool
	terminalErr error

	wakeups uint64
	events  uint64
}

func newUpstreamMonitor(parent *ChannelCacheEntry, key fingerprint.Fingerprint) *UpstreamMonitor {
	return &UpstreamMonitor{
		parent:      parent,
		key:         key,
		subscribers: make(map[*Subscriber]struct{}),
	}
}

// Key returns the RequestFingerprint this monitor is registered under.
func (m *UpstreamMonitor) Key() fingerprint.Fingerprint { return m.key }

// Wakeups returns the number of fan-out wakeup callbacks this monitor has
// issued across all of its subscribers (§6 counters).
func (m *UpstreamMonitor) Wakeups() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.wakeups
}

// Events returns the number of upstream updates this monitor has received.
func (m *UpstreamMonitor) Events() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.events
}

// Subscribe attaches a new Subscriber under the monitor's mutex. If the
// monitor already connected, onConnect fires synchronously before
// Subscribe returns. If a last element is already known, it is posted as
// an initial filled slot so the new subscriber is guaranteed one sample
// before it has seen any live fan-out (§4.C "Subscriber lifecycle"). If
// the monitor already went terminal, onUnlisten fires immediately since a
// brand new subscriber has nothing in use yet.
func (m *UpstreamMonitor) Subscribe(req fingerprint.Request, onWakeup WakeupFunc, onConnect ConnectFunc, onUnlisten UnlistenFunc) *Subscriber {
	s := newSubscriber(m, req.QueueSize, onWakeup, onConnect, onUnlisten)
	log.Debugf("channelcache: subscriber %s attached to monitor %s", s.id, m.key)

	m.mu.Lock()
	m.subscribers[s] = struct{}{}
	hasDesc, desc, status := m.hasTypeDesc, m.typeDesc, m.startStatus
	done, termErr := m.done, m.terminalErr

	if m.hasLastElement {
		s.queue.Offer(m.lastElement, m.lastChanged)
	}
	s.running = true

	unlistenNow := false
	if done {
		s.terminal = true
		s.terminalErr = termErr
		if s.queue.Idle() {
			s.unlistenSent = true
			unlistenNow = true
		}
	}
	m.mu.Unlock()

	if hasDesc && onConnect != nil {
		onConnect(status, desc)
	}
	if unlistenNow && onUnlisten != nil {
		onUnlisten(termErr)
	}
	return s
}

// removeSubscriber detaches s from the monitor (Q5: it will never again be
// included in an OnUpdate fan-out). Once the last subscriber is gone, the
// monitor releases itself from its parent entry and tears down its
// upstream subscription — the deterministic form of §4.D's weak-reference
// reclaim.
func (m *UpstreamMonitor) removeSubscriber(s *Subscriber) {
	m.mu.Lock()
	delete(m.subscribers, s)
	empty := len(m.subscribers) == 0
	m.mu.Unlock()

	if empty {
		m.parent.releaseMonitor(m)
	}
}

// subscriberCount reports the number of subscribers currently attached,
// for diagnostics (§6).
func (m *UpstreamMonitor) subscriberCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.subscribers)
}

// subscriberIDs reports the diagnostic id of every subscriber currently
// attached, for /debug/cache's per-monitor dump.
func (m *UpstreamMonitor) subscriberIDs() []uuid.UUID {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]uuid.UUID, 0, len(m.subscribers))
	for s := range m.subscribers {
		ids = append(ids, s.id)
	}
	return ids
}

func (m *UpstreamMonitor) snapshotSubscribersLocked() []*Subscriber {
	targets := make([]*Subscriber, 0, len(m.subscribers))
	for s := range m.subscribers {
		targets = append(targets, s)
	}
	return targets
}

// setSubscription records the handle returned by the upstream Channel's
// Monitor call, so Close can tear it down.
func (m *UpstreamMonitor) setSubscription(sub upstream.Subscription) {
	m.mu.Lock()
	m.sub = sub
	m.mu.Unlock()
}

// OnConnect implements upstream.EventHandler. It stores the negotiated
// type and start outcome, then fans out onConnect to every currently
// attached subscriber outside the lock (§4.C, §5 "no suspension while
// holding a lock").
func (m *UpstreamMonitor) OnConnect(result upstream.StartResult, desc *typemap.StructureDescriptor) {
	m.mu.Lock()
	m.hasTypeDesc = true
	m.typeDesc = desc
	m.hasStartStatus = true
	m.startStatus = result
	targets := m.snapshotSubscribersLocked()
	m.mu.Unlock()

	for _, s := range targets {
		if s.onConnect != nil {
			s.onConnect(result, desc)
		}
	}
}

// OnUpdate implements upstream.EventHandler. Every attached subscriber
// receives the update via its own queue; a subscriber not yet running, or
// already behind, accumulates into overflow regardless of ring space
// (§4.C). Wakeup callbacks fire after the lock is released.
func (m *UpstreamMonitor) OnUpdate(payload interface{}, changed map[int]struct{}) {
	m.mu.Lock()
	m.lastElement = payload
	m.lastChanged = changed
	m.hasLastElement = true
	m.events++

	var wakeTargets []*Subscriber
	for s := range m.subscribers {
		var wake bool
		if !s.running || s.queue.InOverflow() {
			s.queue.OfferOverflow(payload, changed)
		} else {
			wake = s.queue.Offer(payload, changed)
		}
		s.events++
		if wake {
			s.wakeups++
			wakeTargets = append(wakeTargets, s)
		}
	}
	m.wakeups += uint64(len(wakeTargets))
	m.mu.Unlock()

	for _, s := range wakeTargets {
		if s.onWakeup != nil {
			s.onWakeup()
		}
	}
}

// OnTerminal implements upstream.EventHandler. Subscribers with no slot
// currently in use are notified immediately; subscribers with an
// outstanding inUse slot are marked terminal and notified by Subscriber's
// own Release once their last slot comes back (§4.C, §8 Scenario 5).
func (m *UpstreamMonitor) OnTerminal(err error) {
	m.mu.Lock()
	m.done = true
	m.terminalErr = err

	var fireNow []*Subscriber
	for s := range m.subscribers {
		s.terminal = true
		s.terminalErr = err
		if s.queue.Idle() && !s.unlistenSent {
			s.unlistenSent = true
			fireNow = append(fireNow, s)
		}
	}
	m.mu.Unlock()

	for _, s := range fireNow {
		if s.onUnlisten != nil {
			s.onUnlisten(err)
		}
	}
}

// OnStateChange implements upstream.EventHandler. A provider that cannot
// distinguish per-subscription disconnects from channel-level ones calls
// this instead of OnTerminal for every handler it has registered against
// the channel. On DISCONNECTED/DESTROYED, this evicts the owning entry
// from the cache first, then treats the transition as equivalent to a
// terminal signal for this monitor's own subscribers (§4.E) — eviction
// happens before any fan-out, so a concurrent Lookup for the same name
// opens a fresh upstream subscription rather than attaching to a dying
// one.
func (m *UpstreamMonitor) OnStateChange(status upstream.Status) {
	if status == upstream.StatusDisconnected || status == upstream.StatusDestroyed {
		m.parent.evict()
		m.OnTerminal(nil)
	}
}

// close tears down the underlying subscription. Called by
// ChannelCacheEntry once this monitor's weak reference can no longer be
// promoted, or during entry destruction.
func (m *UpstreamMonitor) close() {
	m.mu.Lock()
	sub := m.sub
	m.mu.Unlock()
	if sub != nil {
		sub.Close()
	}
}
