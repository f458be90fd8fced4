package grouppv

import (
	"context"
	"fmt"
	"sync"

	"github.com/epics-base/pva2go/internal/channelcache"
	"github.com/epics-base/pva2go/internal/typemap"
)

// member is one field of a GroupPV: a named attachment point bound to one
// DownstreamChannel (§3 GroupPV.members[i]).
//
// The mutex below is this member's own "borrowed mutex" (§9): it guards
// desc/last/connected/lastErr, and doubles as the per-member trigger lock a
// GroupPV acquires (in ascending member-index order, never the reverse) when
// rebuilding a snapshot for Read, Write, or a triggered notification.
type member struct {
	index      int
	name       string // the group field's own name, e.g. "value" or "status"
	sourceName string // upstream channel name (the field's +channel)
	attachPath string // dotted path this field occupies in the group's value

	dc *channelcache.DownstreamChannel

	mu        sync.Mutex
	desc      *typemap.StructureDescriptor
	last      *typemap.StructuredValue
	connected bool
	lastErr   error

	sub *channelcache.Subscriber
}

// snapshot returns this member's last known value and descriptor under its
// own lock, or (nil, desc, false) if it holds no value yet; desc is nil
// until a connect or read has delivered one.
func (m *member) snapshot() (*typemap.StructuredValue, *typemap.StructureDescriptor, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.last == nil {
		return nil, m.desc, false
	}
	return m.last, m.desc, true
}

// refresh performs one synchronous upstream read and stores the result as
// this member's current snapshot under its own lock, returning the
// refreshed value.
func (m *member) refresh(ctx context.Context) (*typemap.StructuredValue, error) {
	val, err := m.dc.Read(ctx)
	m.mu.Lock()
	defer m.mu.Unlock()
	if err != nil {
		m.lastErr = err
		return nil, err
	}
	sv, ok := val.(*typemap.StructuredValue)
	if !ok {
		return nil, &typemap.ErrTypeMismatch{Want: "*typemap.StructuredValue", Got: fmt.Sprintf("%T", val)}
	}
	m.last = sv
	m.desc = sv.Desc
	m.connected = true
	m.lastErr = nil
	return sv, nil
}

// applyConnect records a connect outcome delivered via subscription.
func (m *member) applyConnect(connected bool, err error, desc *typemap.StructureDescriptor) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connected = connected
	m.lastErr = err
	if desc != nil {
		m.desc = desc
	}
}

// applyUpdate stores a freshly delivered update as this member's snapshot.
func (m *member) applyUpdate(sv *typemap.StructuredValue) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.last = sv
	if sv.Desc != nil {
		m.desc = sv.Desc
	}
}

// refreshLocked is refresh's body for a caller that already holds m.mu —
// used by copyLocked as a one-shot bootstrap when a composite Read finds a
// member with no cached value yet, and by triggered delivery to re-read
// every coupled member on each trigger event. The upstream fetch happens
// while the lock is held, so a concurrent caller of the same member waits
// for it.
func (m *member) refreshLocked(ctx context.Context) (*typemap.StructuredValue, error) {
	val, err := m.dc.Read(ctx)
	if err != nil {
		m.lastErr = err
		return nil, err
	}
	sv, ok := val.(*typemap.StructuredValue)
	if !ok {
		return nil, &typemap.ErrTypeMismatch{Want: "*typemap.StructuredValue", Got: fmt.Sprintf("%T", val)}
	}
	m.last = sv
	m.desc = sv.Desc
	m.connected = true
	m.lastErr = nil
	return sv, nil
}

// copyLocked writes this member's current (or freshly bootstrapped) value
// into into, merging its full field mask into mask. Caller must hold m.mu.
func (m *member) copyLocked(ctx context.Context, into *Value, mask ChangeMask) error {
	if m.last == nil {
		if _, err := m.refreshLocked(ctx); err != nil {
			return err
		}
	}
	into.Fields[m.name] = m.last
	mask.merge(m.name, fullMask(m.desc))
	return nil
}

// writeLocked pushes value.Fields[m.name] upstream, limited to sub, and
// optimistically updates this member's cached snapshot. Caller must hold
// m.mu.
func (m *member) writeLocked(ctx context.Context, value *Value, sub typemap.ChangeMask) error {
	sv, ok := value.Fields[m.name]
	if !ok {
		return fmt.Errorf("grouppv: write missing value for field %q", m.name)
	}
	intMask := make(map[int]struct{}, len(sub))
	for o := range sub {
		intMask[int(o)] = struct{}{}
	}
	if err := m.dc.Write(ctx, sv, intMask); err != nil {
		return err
	}
	m.last = sv
	if sv.Desc != nil {
		m.desc = sv.Desc
	}
	return nil
}

// lockMembers locks the given members in ascending index order, returning
// an unlock function. §5's lock-order rule extends to this package: members
// are always locked low-index-first, whether the caller wants one of them
// or all of them, so no two code paths can ever acquire the same pair of
// member locks in opposite orders.
func lockMembers(members []*member, indices []int) func() {
	ordered := make([]int, len(indices))
	copy(ordered, indices)
	for i := 1; i < len(ordered); i++ {
		for j := i; j > 0 && ordered[j-1] > ordered[j]; j-- {
			ordered[j-1], ordered[j] = ordered[j], ordered[j-1]
		}
	}
	for _, idx := range ordered {
		members[idx].mu.Lock()
	}
	return func() {
		for i := len(ordered) - 1; i >= 0; i-- {
			members[ordered[i]].mu.Unlock()
		}
	}
}
