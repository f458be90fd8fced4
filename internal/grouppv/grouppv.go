// Package grouppv implements GroupPV (§3, §4.G): a composite view over
// several independently-cached channels, presented and written as one
// atomic or per-field unit, with trigger-driven coherent notification.
//
// A GroupPV is built directly on channelcache.DownstreamChannel — it is
// just another client of the cache, one per member field, so every member
// gets the same dedup, bounded-queue and sweep-survival guarantees any
// other subscriber gets. Nothing here talks to an upstream.Provider
// directly.
package grouppv

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/epics-base/pva2go/internal/channelcache"
	"github.com/epics-base/pva2go/internal/groupconfig"
	"github.com/epics-base/pva2go/internal/typemap"
	"github.com/epics-base/pva2go/internal/upstream"
	"github.com/epics-base/pva2go/pkg/log"
)

// UpdateFunc receives one coherent group-level notification: the full
// snapshot of every member touched by the triggering event, and the mask
// of offsets within each that changed.
type UpdateFunc func(value *Value, mask ChangeMask)

// GroupPV is the engine-side representation of one configured group (§3).
type GroupPV struct {
	name   string
	fieldType string // the group's +id, if declared

	atomic       bool // §4.G: whether reads/writes observe/apply as one unit
	atomicNotify bool // whether any field's trigger set reaches beyond itself

	members        []*member
	indexByName    map[string]int
	triggerTargets []map[int]struct{} // T(s) per source member index

	mu      sync.Mutex
	closed  bool
	closers []func()
}

// New opens every member's upstream channel and assembles a GroupPV ready
// for Read/Write/Subscribe. Fields are processed in declaration order
// (groupconfig.Load already preserves it), since that order is what a
// composite schema's pre-order field layout would otherwise depend on.
func New(ctx context.Context, cache *channelcache.ChannelCache, def groupconfig.GroupDef) (*GroupPV, error) {
	g := &GroupPV{
		name:        def.Name,
		fieldType:   def.ID,
		atomic:      def.HasAtomic && def.Atomic,
		indexByName: make(map[string]int, len(def.Fields)),
	}

	for i, f := range def.Fields {
		dc, err := channelcache.Open(ctx, cache, f.Channel)
		if err != nil {
			g.closeOpened()
			return nil, fmt.Errorf("grouppv: group %q: opening field %q (%s): %w", def.Name, f.Name, f.Channel, err)
		}
		m := &member{
			index:      i,
			name:       f.Name,
			sourceName: f.Channel,
			attachPath: f.Name,
			dc:         dc,
		}
		g.members = append(g.members, m)
		g.indexByName[f.Name] = i
		g.closers = append(g.closers, dc.Close)
	}

	targets, atomicNotify, warnings := groupconfig.ResolveTriggers(def.Fields)
	for _, w := range warnings {
		log.Warnf("grouppv: group %q: %s", def.Name, w)
	}
	g.triggerTargets = targets
	g.atomicNotify = atomicNotify

	return g, nil
}

func (g *GroupPV) closeOpened() {
	for _, c := range g.closers {
		c()
	}
}

// Name returns the group's configured name.
func (g *GroupPV) Name() string { return g.name }

// FieldType returns the group's declared +id, or "" if none was given.
func (g *GroupPV) FieldType() string { return g.fieldType }

// AtomicNotify reports whether this group's trigger map couples any two
// distinct fields, per §4.G.
func (g *GroupPV) AtomicNotify() bool { return g.atomicNotify }

func allIndices(n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = i
	}
	return out
}

func sortedIndices(set map[int]struct{}) []int {
	out := make([]int, 0, len(set))
	for i := range set {
		out = append(out, i)
	}
	sort.Ints(out)
	return out
}

// Read assembles the group's composite value from each member's current
// cache (bootstrapping any member that has never been read or subscribed
// yet with one upstream fetch). In atomic mode every member lock is held
// for the whole assembly, so no concurrently-delivered trigger event can
// interleave a partial update into the snapshot being built (§4.G).
func (g *GroupPV) Read(ctx context.Context) (*Value, ChangeMask, error) {
	out := newValue()
	mask := newChangeMask()

	if g.atomic {
		unlock := lockMembers(g.members, allIndices(len(g.members)))
		defer unlock()
		for _, m := range g.members {
			if err := m.copyLocked(ctx, out, mask); err != nil {
				return nil, nil, fmt.Errorf("grouppv: read %q.%q: %w", g.name, m.name, err)
			}
		}
		return out, mask, nil
	}

	for _, m := range g.members {
		m.mu.Lock()
		err := m.copyLocked(ctx, out, mask)
		m.mu.Unlock()
		if err != nil {
			return nil, nil, fmt.Errorf("grouppv: read %q.%q: %w", g.name, m.name, err)
		}
	}
	return out, mask, nil
}

// Write pushes value upstream for every field named in mask. In atomic
// mode every touched member is locked before any of them is written;
// otherwise each member is written independently under its own lock,
// matching §4.G's per-member fallback for a non-atomic group.
func (g *GroupPV) Write(ctx context.Context, value *Value, mask ChangeMask) error {
	touched := make([]int, 0, len(mask))
	for name := range mask {
		idx, ok := g.indexByName[name]
		if !ok {
			return fmt.Errorf("%w: %q", ErrUnknownField, name)
		}
		touched = append(touched, idx)
	}
	if len(touched) == 0 {
		return nil
	}

	if g.atomic {
		unlock := lockMembers(g.members, touched)
		defer unlock()
		for _, idx := range touched {
			m := g.members[idx]
			if err := m.writeLocked(ctx, value, mask[m.name]); err != nil {
				return fmt.Errorf("grouppv: write %q.%q: %w", g.name, m.name, err)
			}
		}
		return nil
	}

	for _, idx := range touched {
		m := g.members[idx]
		m.mu.Lock()
		err := m.writeLocked(ctx, value, mask[m.name])
		m.mu.Unlock()
		if err != nil {
			return fmt.Errorf("grouppv: write %q.%q: %w", g.name, m.name, err)
		}
	}
	return nil
}

// Subscribe opens one upstream subscription per member and delivers one
// coherent UpdateFunc call per triggering event: when member s's
// subscription produces an event, every member in T(s) is locked (in
// ascending index order) and re-assembled into one Value/ChangeMask pair
// before the locks are released and onUpdate is called outside them (§9
// fan-out-outside-the-lock).
func (g *GroupPV) Subscribe(ctx context.Context, onUpdate UpdateFunc) ([]string, error) {
	var allWarnings []string

	for i, m := range g.members {
		wake := make(chan struct{}, 1)
		notify := func() {
			select {
			case wake <- struct{}{}:
			default:
			}
		}

		idx := i
		onConnect := func(result upstream.StartResult, desc *typemap.StructureDescriptor) {
			g.members[idx].applyConnect(result.Connected, result.Err, desc)
		}
		onUnlisten := func(err error) {
			g.members[idx].mu.Lock()
			g.members[idx].connected = false
			g.members[idx].lastErr = err
			g.members[idx].mu.Unlock()
			if err != nil {
				log.Warnf("grouppv: group %q field %q: upstream terminated: %v", g.name, g.members[idx].name, err)
			}
		}

		sub, warnings, err := m.dc.Subscribe(ctx, nil, notify, onConnect, onUnlisten)
		allWarnings = append(allWarnings, warnings...)
		if err != nil {
			return allWarnings, fmt.Errorf("grouppv: group %q: subscribing field %q: %w", g.name, m.name, err)
		}
		m.sub = sub

		go g.runMember(ctx, idx, wake, onUpdate)
	}

	return allWarnings, nil
}

func (g *GroupPV) runMember(ctx context.Context, idx int, wake <-chan struct{}, onUpdate UpdateFunc) {
	m := g.members[idx]
	for {
		select {
		case <-ctx.Done():
			return
		case <-wake:
			for {
				upd, ok := m.sub.Poll()
				if !ok {
					break
				}
				g.deliverTriggered(ctx, idx, upd.Payload, upd.Changed, onUpdate)
				if err := m.sub.Release(upd); err != nil {
					log.Errorf("grouppv: group %q field %q: release: %v", g.name, m.name, err)
				}
			}
		}
	}
}

// deliverTriggered handles one event sourced at member idx: it locks every
// member in T(idx), rebuilds each one's contribution to the composite
// (using the event payload directly for idx itself, and a fresh re-read
// for every other coupled member), then calls onUpdate outside the locks.
func (g *GroupPV) deliverTriggered(ctx context.Context, idx int, payload interface{}, changed map[int]struct{}, onUpdate UpdateFunc) {
	targets := g.triggerTargets[idx]
	order := sortedIndices(targets)
	unlock := lockMembers(g.members, order)

	out := newValue()
	mask := newChangeMask()
	src := g.members[idx]

	for _, t := range order {
		tm := g.members[t]
		if t == idx {
			sv, ok := payload.(*typemap.StructuredValue)
			if !ok {
				log.Errorf("grouppv: group %q field %q: update payload is %T, want *typemap.StructuredValue", g.name, src.name, payload)
				continue
			}
			tm.last = sv
			if sv.Desc != nil {
				tm.desc = sv.Desc
			}
			out.Fields[tm.name] = sv
			mask.merge(tm.name, intSetToChangeMask(changed))
			continue
		}
		sv, err := tm.refreshLocked(ctx)
		if err != nil {
			log.Warnf("grouppv: group %q field %q: re-read triggered by %q: %v", g.name, tm.name, src.name, err)
			continue
		}
		out.Fields[tm.name] = sv
		mask.merge(tm.name, fullMask(tm.desc))
	}

	unlock()
	onUpdate(out, mask)
}

// Close tears down every member's subscription and DownstreamChannel.
func (g *GroupPV) Close() {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return
	}
	g.closed = true
	g.mu.Unlock()

	for _, m := range g.members {
		if m.sub != nil {
			m.sub.Close()
		}
		m.dc.Close()
	}
}
