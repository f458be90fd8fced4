package typemap

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScalarMapperRoundTrip(t *testing.T) {
	field := &NativeField{
		Name: "value", Kind: KindFloat64,
		Value: 42.2,
		Alarm: Alarm{Severity: 2, Status: 1, Message: "MINOR"},
		Time:  TimeStamp{SecondsPastEpoch: 0x12345678, Nanoseconds: 12345678},
	}

	mapper, err := NewScalarMapper(field)
	require.NoError(t, err)

	desc, err := mapper.Describe()
	require.NoError(t, err)
	assert.NotEmpty(t, desc.Fields)

	sv := NewStructuredValue(desc)
	mask := NewChangeMask()
	require.NoError(t, mapper.Put(sv, mask, Value|Alarm|Archive))

	assert.True(t, mask.Has(OffsetValue))
	assert.True(t, mask.Has(OffsetAlarmSeverity))
	assert.True(t, mask.Has(OffsetTimeSeconds), "timestamp is always set")
	assert.Equal(t, 42.2, sv.Scalars[OffsetValue])

	out := &NativeField{Name: "value", Kind: KindFloat64}
	getMapper, err := NewScalarMapper(out)
	require.NoError(t, err)
	require.NoError(t, getMapper.Get(sv, mask))

	assert.Equal(t, field.Value, out.Value)
	assert.Equal(t, field.Alarm, out.Alarm)
	assert.Equal(t, field.Time, out.Time)
}

func TestScalarMapperGetHonorsMask(t *testing.T) {
	field := &NativeField{Name: "v", Kind: KindInt32, Value: int32(5)}
	mapper, err := NewScalarMapper(field)
	require.NoError(t, err)
	desc, err := mapper.Describe()
	require.NoError(t, err)

	sv := NewStructuredValue(desc)
	sv.Scalars[OffsetValue] = int32(99)

	// mask does not include OffsetValue: Get must leave field untouched.
	mask := NewChangeMask()
	mask.Set(OffsetAlarmSeverity)
	require.NoError(t, mapper.Get(sv, mask))
	assert.Equal(t, int32(5), field.Value)
}

func TestUnsupportedKindFails(t *testing.T) {
	field := &NativeField{Name: "v", Kind: KindEnum}
	_, err := NewScalarMapper(field)
	assert.Error(t, err)
	var unsupported *ErrUnsupportedType
	assert.ErrorAs(t, err, &unsupported)
}

func TestArrayValueRoundTrip(t *testing.T) {
	field := &NativeField{Name: "arr", Kind: KindFloat32, Array: true, Value: []float32{1, 2, 3}}
	mapper, err := NewScalarMapper(field)
	require.NoError(t, err)
	desc, err := mapper.Describe()
	require.NoError(t, err)

	sv := NewStructuredValue(desc)
	mask := NewChangeMask()
	require.NoError(t, mapper.Put(sv, mask, Value))
	assert.Equal(t, []float32{1, 2, 3}, sv.Arrays[OffsetValue])

	out := &NativeField{Name: "arr", Kind: KindFloat32, Array: true}
	getMapper, err := NewScalarMapper(out)
	require.NoError(t, err)
	require.NoError(t, getMapper.Get(sv, mask))
	assert.Equal(t, field.Value, out.Value)
}
