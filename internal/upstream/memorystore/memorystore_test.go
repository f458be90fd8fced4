package memorystore

import (
	"context"
	"errors"
	"testing"

	"github.com/epics-base/pva2go/internal/fingerprint"
	"github.com/epics-base/pva2go/internal/typemap"
	"github.com/epics-base/pva2go/internal/upstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingHandler struct {
	connects int
	updates  []interface{}
	terminal error
	done     bool
}

func (h *recordingHandler) OnConnect(upstream.StartResult, *typemap.StructureDescriptor) { h.connects++ }
func (h *recordingHandler) OnUpdate(payload interface{}, _ map[int]struct{}) {
	h.updates = append(h.updates, payload)
}
func (h *recordingHandler) OnTerminal(err error) { h.done = true; h.terminal = err }
func (h *recordingHandler) OnStateChange(upstream.Status) {}

func defineFloat(t *testing.T, s *Store, name string) {
	t.Helper()
	reg := typemap.NewRegistry()
	f := typemap.NewNativeField(name, typemap.KindFloat64, false)
	require.NoError(t, s.Define(name, "scalar", f, reg))
}

func TestOpenUnknownRecord(t *testing.T) {
	s := New()
	_, err := s.Open(context.Background(), "nope")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnknownRecord)
}

func TestMonitorThenPutDelivers(t *testing.T) {
	s := New()
	defineFloat(t, s, "X")

	ch, err := s.Open(context.Background(), "X")
	require.NoError(t, err)

	h := &recordingHandler{}
	_, err = ch.Monitor(context.Background(), fingerprint.Request{}, h)
	require.NoError(t, err)
	assert.Equal(t, 1, h.connects)
	assert.Empty(t, h.updates, "no value yet")

	require.NoError(t, s.Put("X", 3.5, typemap.Value))
	require.Len(t, h.updates, 1)
	sv, ok := h.updates[0].(*typemap.StructuredValue)
	require.True(t, ok)
	assert.Equal(t, 3.5, sv.Scalars[typemap.OffsetValue])
}

// A subscriber joining after a value already exists is replayed that
// value synchronously within Monitor, the same keep-warm contract
// channelcache itself relies on.
func TestLateMonitorReplaysLastValue(t *testing.T) {
	s := New()
	defineFloat(t, s, "Y")
	require.NoError(t, s.Put("Y", 1.0, typemap.Value))

	ch, err := s.Open(context.Background(), "Y")
	require.NoError(t, err)

	h := &recordingHandler{}
	_, err = ch.Monitor(context.Background(), fingerprint.Request{}, h)
	require.NoError(t, err)
	require.Len(t, h.updates, 1)
	sv := h.updates[0].(*typemap.StructuredValue)
	assert.Equal(t, 1.0, sv.Scalars[typemap.OffsetValue])
}

func TestWriteRoundTripsThroughMapper(t *testing.T) {
	s := New()
	defineFloat(t, s, "W")

	ch, err := s.Open(context.Background(), "W")
	require.NoError(t, err)

	h := &recordingHandler{}
	_, err = ch.Monitor(context.Background(), fingerprint.Request{}, h)
	require.NoError(t, err)

	reg := typemap.NewRegistry()
	f := typemap.NewNativeField("scratch", typemap.KindFloat64, false)
	mapper, err := reg.Build("scalar", f)
	require.NoError(t, err)
	desc, err := mapper.Describe()
	require.NoError(t, err)

	sv := typemap.NewStructuredValue(desc)
	sv.Scalars[typemap.OffsetValue] = 9.25
	mask := map[int]struct{}{int(typemap.OffsetValue): {}}

	require.NoError(t, ch.Write(context.Background(), sv, mask))
	require.Len(t, h.updates, 1)
	got := h.updates[0].(*typemap.StructuredValue)
	assert.Equal(t, 9.25, got.Scalars[typemap.OffsetValue])

	val, err := ch.Read(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 9.25, val.(*typemap.StructuredValue).Scalars[typemap.OffsetValue])
}

func TestWriteRejectsWrongValueType(t *testing.T) {
	s := New()
	defineFloat(t, s, "V")
	ch, err := s.Open(context.Background(), "V")
	require.NoError(t, err)

	err = ch.Write(context.Background(), 42, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, upstream.ErrUnsupportedValue)
}

func TestTerminalNotifiesAndClosesRecord(t *testing.T) {
	s := New()
	defineFloat(t, s, "T")
	ch, err := s.Open(context.Background(), "T")
	require.NoError(t, err)

	h := &recordingHandler{}
	_, err = ch.Monitor(context.Background(), fingerprint.Request{}, h)
	require.NoError(t, err)

	boom := errors.New("record retired")
	s.Terminal("T", boom)
	assert.True(t, h.done)
	assert.ErrorIs(t, h.terminal, boom)

	_, err = ch.Read(context.Background())
	assert.ErrorIs(t, err, ErrRecordClosed)

	late := &recordingHandler{}
	_, err = ch.Monitor(context.Background(), fingerprint.Request{}, late)
	require.NoError(t, err)
	assert.True(t, late.done, "monitor on a closed record replays terminal immediately")
}
