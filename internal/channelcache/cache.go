// Package channelcache implements the subscription/channel cache and
// monitor fan-out engine: deduplicating upstream subscriptions by
// (channel name, request fingerprint), fanning out updates to many
// downstream subscribers under bounded per-subscriber queues, and
// garbage-collecting idle cache entries on a timer (§1, §2).
package channelcache

import (
	"context"
	"fmt"
	"sync"

	"github.com/epics-base/pva2go/internal/upstream"
	"github.com/epics-base/pva2go/pkg/log"
)

// ChannelCache maps channel name to ChannelCacheEntry, opening new
// upstream channels on demand and sweeping idle ones on a timer (§4.E).
type ChannelCache struct {
	mu       sync.Mutex
	entries  map[string]*ChannelCacheEntry
	provider upstream.Provider
}

// New builds an empty ChannelCache backed by provider for opening new
// upstream channels.
func New(provider upstream.Provider) *ChannelCache {
	return &ChannelCache{
		entries:  make(map[string]*ChannelCacheEntry),
		provider: provider,
	}
}

// Lookup returns the entry for name, creating and opening its upstream
// channel if this is the first lookup since the entry was last swept away
// (§4.E, §8 Q3). Every call — hit or miss — marks the entry's dropPoke.
func (c *ChannelCache) Lookup(ctx context.Context, name string) (*ChannelCacheEntry, error) {
	c.mu.Lock()
	if e, ok := c.entries[name]; ok {
		c.mu.Unlock()
		e.touch()
		return e, nil
	}
	c.mu.Unlock()

	ch, err := c.provider.Open(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrUpstreamUnavailable, name, err)
	}

	e := newChannelCacheEntry(c, name, ch)
	e.dropPoke = true

	c.mu.Lock()
	if existing, ok := c.entries[name]; ok {
		c.mu.Unlock()
		ch.Close()
		existing.touch()
		return existing, nil
	}
	c.entries[name] = e
	c.mu.Unlock()

	return e, nil
}

// Sweep runs one sweeper tick (§4.E): entries with no attached downstream
// channel and an unset dropPoke are removed from the map and destroyed
// after the cache lock is released, so that synchronous teardown callbacks
// racing a concurrent Lookup never deadlock on it. It returns the number of
// entries destroyed, for the sweeper's own metrics.
func (c *ChannelCache) Sweep() int {
	var toDestroy []*ChannelCacheEntry

	c.mu.Lock()
	for name, e := range c.entries {
		if e.sweepCheck() {
			delete(c.entries, name)
			toDestroy = append(toDestroy, e)
		}
	}
	c.mu.Unlock()

	for _, e := range toDestroy {
		log.Debugf("channelcache: sweeping idle entry %q", e.Name())
		e.destroy()
	}
	return len(toDestroy)
}

// removeDeadEntry removes e from the map, but only if e is still the entry
// registered under its name (§4.E): a Lookup that already raced ahead and
// installed a replacement entry for the same name must not be undone by a
// late eviction for the old one. Called by ChannelCacheEntry.evict, before
// that entry notifies any of its monitors that the upstream channel died.
func (c *ChannelCache) removeDeadEntry(e *ChannelCacheEntry) {
	c.mu.Lock()
	if cur, ok := c.entries[e.name]; ok && cur == e {
		delete(c.entries, e.name)
	}
	c.mu.Unlock()
}

// Len reports the number of cached entries, for diagnostics.
func (c *ChannelCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Stats snapshots every cached entry's attachment and monitor state, for
// the diagnostics HTTP endpoint (§6 "/debug/cache").
func (c *ChannelCache) Stats() []EntryStats {
	c.mu.Lock()
	entries := make([]*ChannelCacheEntry, 0, len(c.entries))
	for _, e := range c.entries {
		entries = append(entries, e)
	}
	c.mu.Unlock()

	stats := make([]EntryStats, 0, len(entries))
	for _, e := range entries {
		stats = append(stats, e.Stats())
	}
	return stats
}

// Close destroys every cached entry, halting delivery to all attached
// subscribers. Intended for process shutdown, after the sweeper's own
// scheduled task has been stopped.
func (c *ChannelCache) Close() {
	c.mu.Lock()
	all := make([]*ChannelCacheEntry, 0, len(c.entries))
	for name, e := range c.entries {
		all = append(all, e)
		delete(c.entries, name)
	}
	c.mu.Unlock()

	for _, e := range all {
		e.destroy()
	}
}
