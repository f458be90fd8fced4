package channelcache

import (
	"context"
	"sync"

	"github.com/epics-base/pva2go/internal/fingerprint"
	"github.com/epics-base/pva2go/internal/upstream"
)

// DownstreamChannel is one client's handle on one named channel (§3, §4.F).
// It forwards reads, writes and subscribes to its ChannelCacheEntry's
// current upstream channel, and keeps the entry alive (via the attached
// set) for as long as the client holds it open.
type DownstreamChannel struct {
	entry *ChannelCacheEntry

	closeOnce sync.Once
}

// Open creates a DownstreamChannel bound to name, registering it with the
// cache entry's attached set (§4.F). The entry is created and its upstream
// channel opened if this is the first reference to name.
func Open(ctx context.Context, cache *ChannelCache, name string) (*DownstreamChannel, error) {
	entry, err := cache.Lookup(ctx, name)
	if err != nil {
		return nil, err
	}
	d := &DownstreamChannel{entry: entry}
	entry.attach(d)
	return d, nil
}

// Name returns the underlying channel name.
func (d *DownstreamChannel) Name() string { return d.entry.Name() }

// Status reports this handle's connectivity, mirrored straight from the
// underlying cache entry's upstream channel (§3, §4.F): CONNECTED iff the
// entry's upstream channel currently reports CONNECTED.
func (d *DownstreamChannel) Status() upstream.Status { return d.entry.Status() }

// Connected is Status() narrowed to the common case.
func (d *DownstreamChannel) Connected() bool { return d.entry.Connected() }

// Read performs one synchronous fetch against the entry's current upstream
// channel, subject to the entry's advisory admission check (§5).
func (d *DownstreamChannel) Read(ctx context.Context) (interface{}, error) {
	d.entry.admit("read")
	return d.entry.channel.Read(ctx)
}

// Write pushes a structured value upstream, limited to mask, subject to the
// entry's advisory admission check (§5).
func (d *DownstreamChannel) Write(ctx context.Context, value interface{}, mask map[int]struct{}) error {
	d.entry.admit("write")
	return d.entry.channel.Write(ctx, value, mask)
}

// Subscribe serializes opts into a RequestFingerprint, obtains (or shares)
// the corresponding UpstreamMonitor, and returns a freshly attached
// Subscriber (§4.F). Warnings produced while canonicalizing opts are
// returned alongside the Subscriber so the caller can log them as
// ConfigWarning-class diagnostics (§7); they never fail the subscribe.
func (d *DownstreamChannel) Subscribe(ctx context.Context, opts map[string]interface{}, onWakeup WakeupFunc, onConnect ConnectFunc, onUnlisten UnlistenFunc) (*Subscriber, []string, error) {
	req, warnings := fingerprint.Canonicalize(opts)

	mon, err := d.entry.Monitor(ctx, d.Name(), req)
	if err != nil {
		return nil, warnings, err
	}

	sub := mon.Subscribe(req, onWakeup, onConnect, onUnlisten)
	return sub, warnings, nil
}

// Close detaches this handle from its cache entry. The entry itself
// survives until the sweeper decides it is both idle and untouched
// (§4.F, §4.E).
func (d *DownstreamChannel) Close() {
	d.closeOnce.Do(func() {
		d.entry.detach(d)
	})
}
