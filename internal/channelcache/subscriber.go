package channelcache

import (
	"github.com/google/uuid"

	"github.com/epics-base/pva2go/internal/monitorqueue"
	"github.com/epics-base/pva2go/internal/typemap"
	"github.com/epics-base/pva2go/internal/upstream"
)

// WakeupFunc is invoked outside any internal lock whenever a Subscriber's
// queue gains its first filled slot, or regains one via overflow hand-off.
type WakeupFunc func()

// ConnectFunc delivers the negotiated structure type and start outcome,
// either synchronously at subscribe time (if the monitor already
// connected) or later via fan-out (§4.C).
type ConnectFunc func(result upstream.StartResult, desc *typemap.StructureDescriptor)

// UnlistenFunc is invoked exactly once, when the owning UpstreamMonitor has
// gone terminal and this Subscriber has no slot in use (§8 Scenario 5).
type UnlistenFunc func(err error)

// Subscriber is one downstream consumer's bounded view of an
// UpstreamMonitor (§3). Every field below is read or written only while
// holding the owning UpstreamMonitor's mutex — the "borrowed mutex"
// pattern (§9) — including the wakeup and event counters, which the
// accessors below read under that mutex.
type Subscriber struct {
	id      uuid.UUID
	monitor *UpstreamMonitor
	queue   *monitorqueue.Queue

	running      bool
	terminal     bool
	terminalErr  error
	unlistenSent bool

	onWakeup   WakeupFunc
	onConnect  ConnectFunc
	onUnlisten UnlistenFunc

	wakeups uint64
	events  uint64
}

func newSubscriber(m *UpstreamMonitor, queueSize uint, onWakeup WakeupFunc, onConnect ConnectFunc, onUnlisten UnlistenFunc) *Subscriber {
	if queueSize < 1 {
		queueSize = 1
	}
	return &Subscriber{
		id:         uuid.New(),
		monitor:    m,
		queue:      monitorqueue.New(int(queueSize)),
		onWakeup:   onWakeup,
		onConnect:  onConnect,
		onUnlisten: onUnlisten,
	}
}

// ID returns the subscriber's identifier, used only for diagnostics
// output and log correlation (§6) — it plays no role in fan-out or
// lifecycle logic.
func (s *Subscriber) ID() uuid.UUID { return s.id }

// Wakeups returns the number of times this subscriber's wakeup callback
// fired (§6 counters). Guarded by the owning monitor's mutex like every
// other Subscriber field (§9 "borrowed mutex pattern").
func (s *Subscriber) Wakeups() uint64 {
	s.monitor.mu.Lock()
	defer s.monitor.mu.Unlock()
	return s.wakeups
}

// Events returns the number of upstream updates this subscriber observed,
// including ones folded into overflow.
func (s *Subscriber) Events() uint64 {
	s.monitor.mu.Lock()
	defer s.monitor.mu.Unlock()
	return s.events
}

// Dropped returns the number of updates folded into overflow because the
// consumer was behind (§3 Subscriber.dropped).
func (s *Subscriber) Dropped() uint64 {
	s.monitor.mu.Lock()
	defer s.monitor.mu.Unlock()
	return s.queue.Dropped()
}

// Poll returns the oldest undelivered update, or (nil, false) if none is
// available yet.
func (s *Subscriber) Poll() (*monitorqueue.Update, bool) {
	s.monitor.mu.Lock()
	defer s.monitor.mu.Unlock()
	upd, ok := s.queue.Poll()
	return upd, ok
}

// Release returns a polled update to the pool. If the monitor has gone
// terminal and this was the subscriber's last outstanding slot, the
// subscriber's UnlistenFunc fires after the lock is released (§4.C, §8
// Scenario 5). If the release hands the overflow accumulator to the
// consumer as a filled slot, the WakeupFunc fires after the lock is
// released as well.
func (s *Subscriber) Release(upd *monitorqueue.Update) error {
	var fireUnlisten bool
	var terminalErr error

	s.monitor.mu.Lock()
	err := s.queue.Release(upd)
	// The queue stays in overflow after a Release only when that Release
	// pushed the accumulated overflow content onto filled.
	handoff := err == nil && s.queue.InOverflow()
	if handoff {
		s.wakeups++
	}
	if err == nil && s.terminal && !s.unlistenSent && s.queue.Idle() {
		s.unlistenSent = true
		fireUnlisten = true
		terminalErr = s.terminalErr
	}
	s.monitor.mu.Unlock()

	if err != nil {
		return ErrInvalidUsage
	}
	if handoff && s.onWakeup != nil {
		s.onWakeup()
	}
	if fireUnlisten && s.onUnlisten != nil {
		s.onUnlisten(terminalErr)
	}
	return nil
}

// start marks the subscriber running. UpstreamMonitor.Subscribe sets
// running itself when it registers a subscriber, so nothing in this
// package calls start; a registered subscriber that is not running folds
// every update into its overflow slot (see UpstreamMonitor.OnUpdate).
func (s *Subscriber) start() {
	s.monitor.mu.Lock()
	s.running = true
	s.monitor.mu.Unlock()
}

// Close removes this subscriber from its UpstreamMonitor. After Close
// returns, no further OnUpdate fan-out reaches it (Q5) — any callback
// already in flight holds its own strong reference and completes, but no
// new one is dispatched.
func (s *Subscriber) Close() {
	s.monitor.removeSubscriber(s)
}
