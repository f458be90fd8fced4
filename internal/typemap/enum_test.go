package typemap

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnumMapperRoundTrip(t *testing.T) {
	field := &NativeField{
		Name: "mode", Kind: KindEnum,
		Choices: []string{"Off", "On", "Fault"},
		Value:   int32(1),
	}
	mapper, err := NewEnumMapper(field)
	require.NoError(t, err)

	desc, err := mapper.Describe()
	require.NoError(t, err)

	sv := NewStructuredValue(desc)
	mask := NewChangeMask()
	require.NoError(t, mapper.Put(sv, mask, Value))
	assert.Equal(t, int32(1), sv.Scalars[OffsetValue])
	assert.Equal(t, []string{"Off", "On", "Fault"}, sv.EnumChoices)

	out := &NativeField{Name: "mode", Kind: KindEnum}
	outMapper, err := NewEnumMapper(out)
	require.NoError(t, err)
	require.NoError(t, outMapper.Get(sv, mask))
	assert.Equal(t, field.Value, out.Value)
	assert.Equal(t, field.Choices, out.Choices)
}

func TestRegistryBuild(t *testing.T) {
	reg := NewRegistry()
	field := &NativeField{Name: "v", Kind: KindInt64}
	m, err := reg.Build("scalar", field)
	require.NoError(t, err)
	assert.NotNil(t, m)

	_, err = reg.Build("nope", field)
	assert.Error(t, err)
}
