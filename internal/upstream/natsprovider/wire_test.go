package natsprovider

import (
	"testing"

	"github.com/epics-base/pva2go/internal/typemap"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUpdateRoundTrip(t *testing.T) {
	desc := &typemap.StructureDescriptor{
		Fields: []typemap.FieldDescriptor{
			{Name: "value", Offset: typemap.OffsetValue, Kind: typemap.KindFloat64},
		},
	}
	sv := typemap.NewStructuredValue(desc)
	sv.Scalars[typemap.OffsetValue] = 4.5
	sv.Alarm = typemap.Alarm{Severity: 1, Message: "minor"}
	changed := map[int]struct{}{int(typemap.OffsetValue): {}}

	data, err := encodeUpdate(desc, sv, changed)
	require.NoError(t, err)

	gotSV, gotChanged, err := decodeUpdate(desc, data)
	require.NoError(t, err)
	assert.Equal(t, 4.5, gotSV.Scalars[typemap.OffsetValue])
	assert.Equal(t, "minor", gotSV.Alarm.Message)
	assert.Equal(t, changed, gotChanged)
}

func TestWriteReqRoundTrip(t *testing.T) {
	desc := &typemap.StructureDescriptor{
		Fields: []typemap.FieldDescriptor{
			{Name: "value", Offset: typemap.OffsetValue, Kind: typemap.KindInt32},
		},
	}
	sv := typemap.NewStructuredValue(desc)
	sv.Scalars[typemap.OffsetValue] = int32(7)
	changed := map[int]struct{}{int(typemap.OffsetValue): {}}

	data, err := encodeWriteReq(sv, changed)
	require.NoError(t, err)

	gotSV, gotChanged, err := decodeWriteReq(desc, data)
	require.NoError(t, err)
	assert.EqualValues(t, 7, gotSV.Scalars[typemap.OffsetValue])
	assert.Equal(t, changed, gotChanged)
}

func TestDecodeConfigRejectsUnknownField(t *testing.T) {
	_, err := DecodeConfig([]byte(`{"address":"nats://x","subject-prefix":"pva","bogus":1}`))
	require.Error(t, err)
}

func TestDecodeConfigOK(t *testing.T) {
	cfg, err := DecodeConfig([]byte(`{"address":"nats://localhost:4222","subject-prefix":"pva"}`))
	require.NoError(t, err)
	assert.Equal(t, "nats://localhost:4222", cfg.Address)
	assert.Equal(t, "pva", cfg.SubjectPrefix)
}
