package groupconfig

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadPreservesFieldOrder(t *testing.T) {
	raw := []byte(`{
		"grp:status": {
			"+id": "epics:nt/NTScalar:1.0",
			"third": {"+channel": "recC"},
			"first": {"+channel": "recA"},
			"second": {"+channel": "recB"}
		}
	}`)

	doc, err := Load(raw)
	require.NoError(t, err)
	require.Len(t, doc.Groups, 1)

	g := doc.Groups[0]
	assert.Equal(t, "grp:status", g.Name)
	assert.Equal(t, "epics:nt/NTScalar:1.0", g.ID)
	require.Len(t, g.Fields, 3)
	assert.Equal(t, []string{"third", "first", "second"}, []string{g.Fields[0].Name, g.Fields[1].Name, g.Fields[2].Name})
}

func TestLoadWarnsOnUnknownFieldOption(t *testing.T) {
	raw := []byte(`{
		"g": {
			"a": {"+channel": "recA", "+bogus": 1}
		}
	}`)
	doc, err := Load(raw)
	require.NoError(t, err)
	require.Len(t, doc.Groups, 1)
	assert.Contains(t, doc.Warnings[0], "unknown option")
}

func TestLoadSkipsFieldMissingChannel(t *testing.T) {
	raw := []byte(`{
		"g": {
			"a": {"+id": "x"},
			"b": {"+channel": "recB"}
		}
	}`)
	doc, err := Load(raw)
	require.NoError(t, err)
	require.Len(t, doc.Groups, 1)
	require.Len(t, doc.Groups[0].Fields, 1)
	assert.Equal(t, "b", doc.Groups[0].Fields[0].Name)
	found := false
	for _, w := range doc.Warnings {
		if w == `group "g": field "a": missing +channel` {
			found = true
		}
	}
	assert.True(t, found, "expected a missing-channel warning, got %v", doc.Warnings)
}

func TestLoadRejectsNonObjectDocument(t *testing.T) {
	_, err := Load([]byte(`[1,2,3]`))
	assert.Error(t, err)
}

func TestLoadDropsGroupWithNoFields(t *testing.T) {
	raw := []byte(`{"g": {"+id": "x"}}`)
	doc, err := Load(raw)
	require.NoError(t, err)
	assert.Empty(t, doc.Groups)
	assert.NotEmpty(t, doc.Warnings)
}

func TestResolveTriggersDefaultsToSelf(t *testing.T) {
	fields := []FieldDef{{Name: "a", Channel: "recA"}, {Name: "b", Channel: "recB"}}
	targets, atomicNotify, warnings := ResolveTriggers(fields)
	assert.Empty(t, warnings)
	assert.False(t, atomicNotify)
	assert.Equal(t, map[int]struct{}{0: {}}, targets[0])
	assert.Equal(t, map[int]struct{}{1: {}}, targets[1])
}

func TestResolveTriggersExpandsNamesAndStar(t *testing.T) {
	fields := []FieldDef{
		{Name: "a", Channel: "recA", HasTrigger: true, Trigger: "a,b"},
		{Name: "b", Channel: "recB", HasTrigger: true, Trigger: "b"},
		{Name: "c", Channel: "recC", HasTrigger: true, Trigger: "*"},
	}
	targets, atomicNotify, warnings := ResolveTriggers(fields)
	assert.Empty(t, warnings)
	assert.True(t, atomicNotify)
	assert.Equal(t, map[int]struct{}{0: {}, 1: {}}, targets[0])
	assert.Equal(t, map[int]struct{}{1: {}}, targets[1])
	assert.Equal(t, map[int]struct{}{0: {}, 1: {}, 2: {}}, targets[2])
}

func TestResolveTriggersWarnsOnUnknownTarget(t *testing.T) {
	fields := []FieldDef{{Name: "a", Channel: "recA", HasTrigger: true, Trigger: "nope"}}
	targets, _, warnings := ResolveTriggers(fields)
	require.Len(t, warnings, 1)
	assert.Equal(t, map[int]struct{}{0: {}}, targets[0])
}
