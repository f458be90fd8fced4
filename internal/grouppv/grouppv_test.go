package grouppv_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/epics-base/pva2go/internal/channelcache"
	"github.com/epics-base/pva2go/internal/groupconfig"
	"github.com/epics-base/pva2go/internal/grouppv"
	"github.com/epics-base/pva2go/internal/typemap"
	"github.com/epics-base/pva2go/internal/upstream/memorystore"
)

func newFloatStore(t *testing.T, names ...string) *memorystore.Store {
	t.Helper()
	reg := typemap.NewRegistry()
	store := memorystore.New()
	for _, name := range names {
		field := typemap.NewNativeField(name, typemap.KindFloat64, false)
		require.NoError(t, store.Define(name, "scalar", field, reg))
	}
	return store
}

type captured struct {
	value *grouppv.Value
	mask  grouppv.ChangeMask
}

func waitUpdate(t *testing.T, ch <-chan captured) captured {
	t.Helper()
	select {
	case c := <-ch:
		return c
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for group update")
		return captured{}
	}
}

// TestGroupTriggerCoupling exercises the coupled-trigger scenario: field a
// triggers {a,b}, field b triggers only {b}. An event sourced at recB
// should surface only field b; an event sourced at recA should surface
// both a and b in one notification, with b's value freshly re-read under
// the shared trigger lock.
func TestGroupTriggerCoupling(t *testing.T) {
	store := newFloatStore(t, "recA", "recB")
	cache := channelcache.New(store)
	ctx := context.Background()

	def := groupconfig.GroupDef{
		Name: "grp:coupled",
		Fields: []groupconfig.FieldDef{
			{Name: "a", Channel: "recA", HasTrigger: true, Trigger: "a,b"},
			{Name: "b", Channel: "recB", HasTrigger: true, Trigger: "b"},
		},
	}

	g, err := grouppv.New(ctx, cache, def)
	require.NoError(t, err)
	defer g.Close()
	assert.True(t, g.AtomicNotify())

	updates := make(chan captured, 8)
	_, err = g.Subscribe(ctx, func(v *grouppv.Value, m grouppv.ChangeMask) {
		updates <- captured{v, m}
	})
	require.NoError(t, err)

	require.NoError(t, store.Put("recB", 2.0, typemap.Value|typemap.Alarm))
	bOnly := waitUpdate(t, updates)
	assert.Contains(t, bOnly.mask, "b")
	assert.NotContains(t, bOnly.mask, "a")
	require.Contains(t, bOnly.value.Fields, "b")
	assert.Equal(t, 2.0, bOnly.value.Fields["b"].Scalars[typemap.OffsetValue])

	require.NoError(t, store.Put("recA", 1.0, typemap.Value|typemap.Alarm))
	both := waitUpdate(t, updates)
	assert.Contains(t, both.mask, "a")
	assert.Contains(t, both.mask, "b")
	require.Contains(t, both.value.Fields, "a")
	require.Contains(t, both.value.Fields, "b")
	assert.Equal(t, 1.0, both.value.Fields["a"].Scalars[typemap.OffsetValue])
	assert.Equal(t, 2.0, both.value.Fields["b"].Scalars[typemap.OffsetValue])
}

// TestGroupAtomicReadIsConsistentSnapshot checks that an atomic group's
// Read returns every member's value in one call, bootstrapping members
// that have not been touched yet.
func TestGroupAtomicReadIsConsistentSnapshot(t *testing.T) {
	store := newFloatStore(t, "recA", "recB")
	cache := channelcache.New(store)
	ctx := context.Background()

	require.NoError(t, store.Put("recA", 5.0, typemap.Value|typemap.Alarm))
	require.NoError(t, store.Put("recB", 6.0, typemap.Value|typemap.Alarm))

	def := groupconfig.GroupDef{
		Name:      "grp:atomic",
		HasAtomic: true,
		Atomic:    true,
		Fields: []groupconfig.FieldDef{
			{Name: "a", Channel: "recA"},
			{Name: "b", Channel: "recB"},
		},
	}
	g, err := grouppv.New(ctx, cache, def)
	require.NoError(t, err)
	defer g.Close()

	val, mask, err := g.Read(ctx)
	require.NoError(t, err)
	assert.Contains(t, mask, "a")
	assert.Contains(t, mask, "b")
	assert.Equal(t, 5.0, val.Fields["a"].Scalars[typemap.OffsetValue])
	assert.Equal(t, 6.0, val.Fields["b"].Scalars[typemap.OffsetValue])
}

func TestGroupWriteRejectsUnknownField(t *testing.T) {
	store := newFloatStore(t, "recA")
	cache := channelcache.New(store)
	ctx := context.Background()

	def := groupconfig.GroupDef{
		Name:   "grp:write",
		Fields: []groupconfig.FieldDef{{Name: "a", Channel: "recA"}},
	}
	g, err := grouppv.New(ctx, cache, def)
	require.NoError(t, err)
	defer g.Close()

	mask := grouppv.ChangeMask{"nope": typemap.NewChangeMask()}
	err = g.Write(ctx, &grouppv.Value{Fields: map[string]*typemap.StructuredValue{}}, mask)
	assert.ErrorIs(t, err, grouppv.ErrUnknownField)
}

func TestNewFailsWhenChannelUnknown(t *testing.T) {
	store := newFloatStore(t, "recA")
	cache := channelcache.New(store)
	ctx := context.Background()

	def := groupconfig.GroupDef{
		Name:   "grp:bad",
		Fields: []groupconfig.FieldDef{{Name: "a", Channel: "doesNotExist"}},
	}
	_, err := grouppv.New(ctx, cache, def)
	assert.Error(t, err)
}
