package natsprovider

import (
	"encoding/json"

	"github.com/epics-base/pva2go/internal/typemap"
)

// The wire envelopes below are the JSON encoding this provider puts on
// NATS subjects. They carry exactly the fields typemap.StructuredValue
// and typemap.StructureDescriptor already define; this package owns no
// independent wire format of its own, only the subject layout and framing.

type connectMsg struct {
	Connected bool                         `json:"connected"`
	Err       string                       `json:"err,omitempty"`
	Desc      *typemap.StructureDescriptor `json:"desc,omitempty"`
}

type updateMsg struct {
	Scalars     map[int]interface{}  `json:"scalars,omitempty"`
	Arrays      map[int]interface{}  `json:"arrays,omitempty"`
	Alarm       typemap.Alarm        `json:"alarm"`
	Time        typemap.TimeStamp    `json:"time"`
	Display     typemap.DisplayMeta  `json:"display"`
	Control     typemap.ControlMeta  `json:"control"`
	ValueAlarm  typemap.ValueAlarmMeta `json:"valueAlarm"`
	EnumChoices []string             `json:"enumChoices,omitempty"`
	Changed     []int                `json:"changed"`
}

type terminalMsg struct {
	Err string `json:"err,omitempty"`
}

type writeReq struct {
	Scalars map[int]interface{} `json:"scalars,omitempty"`
	Arrays  map[int]interface{} `json:"arrays,omitempty"`
	Alarm   typemap.Alarm       `json:"alarm"`
	Time    typemap.TimeStamp   `json:"time"`
	Changed []int               `json:"changed"`
}

type writeAck struct {
	Err string `json:"err,omitempty"`
}

func encodeUpdate(desc *typemap.StructureDescriptor, sv *typemap.StructuredValue, changed map[int]struct{}) ([]byte, error) {
	m := updateMsg{
		Scalars:     sv.Scalars,
		Arrays:      sv.Arrays,
		Alarm:       sv.Alarm,
		Time:        sv.Time,
		Display:     sv.Display,
		Control:     sv.Control,
		ValueAlarm:  sv.ValueAlarm,
		EnumChoices: sv.EnumChoices,
		Changed:     intSetToSlice(changed),
	}
	return json.Marshal(m)
}

func decodeUpdate(desc *typemap.StructureDescriptor, data []byte) (*typemap.StructuredValue, map[int]struct{}, error) {
	var m updateMsg
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, nil, err
	}
	sv := typemap.NewStructuredValue(desc)
	sv.Scalars = m.Scalars
	sv.Arrays = m.Arrays
	sv.Alarm = m.Alarm
	sv.Time = m.Time
	sv.Display = m.Display
	sv.Control = m.Control
	sv.ValueAlarm = m.ValueAlarm
	sv.EnumChoices = m.EnumChoices
	return sv, intSliceToSet(m.Changed), nil
}

func encodeWriteReq(sv *typemap.StructuredValue, changed map[int]struct{}) ([]byte, error) {
	return json.Marshal(writeReq{
		Scalars: sv.Scalars,
		Arrays:  sv.Arrays,
		Alarm:   sv.Alarm,
		Time:    sv.Time,
		Changed: intSetToSlice(changed),
	})
}

func decodeWriteReq(desc *typemap.StructureDescriptor, data []byte) (*typemap.StructuredValue, map[int]struct{}, error) {
	var m writeReq
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, nil, err
	}
	sv := typemap.NewStructuredValue(desc)
	sv.Scalars = m.Scalars
	sv.Arrays = m.Arrays
	sv.Alarm = m.Alarm
	sv.Time = m.Time
	return sv, intSliceToSet(m.Changed), nil
}

func intSetToSlice(m map[int]struct{}) []int {
	out := make([]int, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}

func intSliceToSet(s []int) map[int]struct{} {
	out := make(map[int]struct{}, len(s))
	for _, v := range s {
		out[v] = struct{}{}
	}
	return out
}
