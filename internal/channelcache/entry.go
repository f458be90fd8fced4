package channelcache

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/epics-base/pva2go/internal/fingerprint"
	"github.com/epics-base/pva2go/internal/upstream"
	"github.com/epics-base/pva2go/pkg/log"
)

// admissionRate and admissionBurst bound the advisory rate limiter each
// entry applies to its own downstream Read/Write calls (§5 "no timeouts at
// this layer", DOMAIN STACK). These are generous enough to never engage
// under normal client behavior; they exist to smooth retry storms from a
// single misbehaving client, not to police steady-state traffic.
const (
	admissionRate  = rate.Limit(200)
	admissionBurst = 200
)

// ChannelCacheEntry is one cached upstream channel: the connection itself,
// every UpstreamMonitor opened against it keyed by RequestFingerprint, and
// the set of DownstreamChannels currently bound to it (§3 CacheEntry).
//
// mu is borrowed for both the attached set and every other mutable field
// on the entry (§9 "borrowed mutex pattern"), mirroring how UpstreamMonitor
// reuses its subscriber-set mutex for its own state.
type ChannelCacheEntry struct {
	mu sync.Mutex

	cache   *ChannelCache
	name    string
	channel upstream.Channel

	evicted  bool
	dropPoke bool
	attached map[*DownstreamChannel]struct{}

	// monitors holds the entry's strong references to live UpstreamMonitors;
	// beyond these, each Subscriber references only its own monitor.
	// A monitor is removed the instant its subscriber count reaches zero
	// (see UpstreamMonitor.removeSubscriber / releaseMonitor below), so an
	// unused monitor never outlives its last subscriber — the weak
	// reference §4.D and §9 describe, realized here as an explicit
	// subscriber-count gate rather than a garbage-collector promise, since
	// that keeps reclaim timing deterministic and independent of when a GC
	// cycle happens to run.
	monitors map[fingerprint.Fingerprint]*UpstreamMonitor

	// admission is an advisory rate limiter over this entry's Read/Write
	// traffic. It never blocks or rejects a call; exceeding it only logs
	// a warning, since downstream callers get no timeout at this layer.
	admission *rate.Limiter
}

func newChannelCacheEntry(cache *ChannelCache, name string, channel upstream.Channel) *ChannelCacheEntry {
	return &ChannelCacheEntry{
		cache:     cache,
		name:      name,
		channel:   channel,
		attached:  make(map[*DownstreamChannel]struct{}),
		monitors:  make(map[fingerprint.Fingerprint]*UpstreamMonitor),
		admission: rate.NewLimiter(admissionRate, admissionBurst),
	}
}

// Status reports the entry's connectivity as reported by its upstream
// channel right now (§3, §4.F): CONNECTED iff the channel itself reports
// CONNECTED, independent of any individual monitor's own state.
func (e *ChannelCacheEntry) Status() upstream.Status {
	return e.channel.Status()
}

// Connected is Status() narrowed to the common case.
func (e *ChannelCacheEntry) Connected() bool {
	return e.Status() == upstream.StatusConnected
}

// evict removes this entry from its owning ChannelCache so a concurrent
// Lookup for the same name opens a fresh upstream subscription instead of
// attaching to a dead one (§4.E, Q3). Called by UpstreamMonitor.OnStateChange
// before it fans DISCONNECTED/DESTROYED out to its own subscribers as a
// terminal signal, and safe to call more than once — only the first call
// for a given entry has any effect.
func (e *ChannelCacheEntry) evict() {
	e.mu.Lock()
	if e.evicted {
		e.mu.Unlock()
		return
	}
	e.evicted = true
	cache := e.cache
	e.mu.Unlock()

	if cache != nil {
		cache.removeDeadEntry(e)
	}
}

// admit applies the entry's advisory admission check for op ("read" or
// "write"). It is non-blocking by construction (rate.Limiter.Allow never
// waits) and never causes the caller to fail: a denial only means the
// current burst is logged, since the limiter exists to smooth retry
// storms, not to enforce a quota.
func (e *ChannelCacheEntry) admit(op string) {
	if !e.admission.Allow() {
		log.Warnf("channelcache: %s: %s admission rate exceeded, proceeding anyway", e.name, op)
	}
}

// Name returns the cached channel's name.
func (e *ChannelCacheEntry) Name() string { return e.name }

// touch implements "every lookup sets dropPoke=true" (§4.E).
func (e *ChannelCacheEntry) touch() {
	e.mu.Lock()
	e.dropPoke = true
	e.mu.Unlock()
}

// attach registers a DownstreamChannel under the entry's lock (§4.F).
func (e *ChannelCacheEntry) attach(d *DownstreamChannel) {
	e.mu.Lock()
	e.attached[d] = struct{}{}
	e.dropPoke = true
	e.mu.Unlock()
}

// detach removes a DownstreamChannel and marks the entry touched so it
// survives to the next sweep even if it is now idle (§4.F).
func (e *ChannelCacheEntry) detach(d *DownstreamChannel) {
	e.mu.Lock()
	delete(e.attached, d)
	e.dropPoke = true
	e.mu.Unlock()
}

// Monitor returns the shared UpstreamMonitor for req, creating and
// starting one if none is currently alive for its fingerprint (§4.D). ctx
// bounds only the call to open the new subscription, not the
// subscription's lifetime.
func (e *ChannelCacheEntry) Monitor(ctx context.Context, name string, req fingerprint.Request) (*UpstreamMonitor, error) {
	fp := fingerprint.Of(name, req)

	e.mu.Lock()
	if m, ok := e.monitors[fp]; ok {
		e.mu.Unlock()
		return m, nil
	}
	e.mu.Unlock()

	m := newUpstreamMonitor(e, fp)
	sub, err := e.channel.Monitor(ctx, req, m)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrUpstreamUnavailable, name, err)
	}
	m.setSubscription(sub)

	e.mu.Lock()
	if existing, ok := e.monitors[fp]; ok {
		// Lost the race with a concurrent Monitor call for the same
		// fingerprint: keep the winner, discard ours.
		e.mu.Unlock()
		m.close()
		return existing, nil
	}
	e.monitors[fp] = m
	e.mu.Unlock()

	return m, nil
}

// releaseMonitor drops m from the entry's map once it has no subscribers
// left, and tears down its upstream subscription. Called by
// UpstreamMonitor.removeSubscriber, never while holding m's own mutex.
func (e *ChannelCacheEntry) releaseMonitor(m *UpstreamMonitor) {
	e.mu.Lock()
	if cur, ok := e.monitors[m.key]; ok && cur == m {
		delete(e.monitors, m.key)
	}
	e.mu.Unlock()
	m.close()
}

// sweepCheck applies one sweeper tick's decision for this entry: if idle
// and not recently touched, report that it should be destroyed; otherwise
// clear dropPoke for the next interval (§4.E).
func (e *ChannelCacheEntry) sweepCheck() (destroy bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.attached) == 0 && !e.dropPoke {
		return true
	}
	e.dropPoke = false
	return false
}

// destroy tears down the entry's upstream channel and every live monitor's
// subscription. Must be called with the ChannelCache lock and this entry's
// own lock both released, since channel teardown may synchronously invoke
// a state-change callback that re-enters the cache (§4.D, §9).
func (e *ChannelCacheEntry) destroy() {
	e.mu.Lock()
	monitors := make([]*UpstreamMonitor, 0, len(e.monitors))
	for _, m := range e.monitors {
		monitors = append(monitors, m)
	}
	e.monitors = make(map[fingerprint.Fingerprint]*UpstreamMonitor)
	e.mu.Unlock()

	for _, m := range monitors {
		m.close()
	}
	e.channel.Close()
}

// MonitorStats reports one UpstreamMonitor's fan-out counters, for
// diagnostics (§6).
type MonitorStats struct {
	Fingerprint     string
	Subscribers     int
	SubscriberIDs   []uuid.UUID
	Wakeups, Events uint64
}

// EntryStats reports one cached channel's attachment and monitor state,
// for the diagnostics HTTP endpoint (§6 "/debug/cache").
type EntryStats struct {
	Name     string
	Attached int
	Monitors []MonitorStats
}

// Stats snapshots the entry's current attachment and monitor state.
func (e *ChannelCacheEntry) Stats() EntryStats {
	e.mu.Lock()
	defer e.mu.Unlock()

	st := EntryStats{Name: e.name, Attached: len(e.attached)}
	for fp, m := range e.monitors {
		st.Monitors = append(st.Monitors, MonitorStats{
			Fingerprint:   string(fp),
			Subscribers:   m.subscriberCount(),
			SubscriberIDs: m.subscriberIDs(),
			Wakeups:       m.Wakeups(),
			Events:        m.Events(),
		})
	}
	return st
}
