package typemap

// NativeField is the native-side buffer a TypeMapper reads from and writes
// to. It stands in for whatever concrete representation a real record
// database or PVA client would expose; the gateway only ever touches
// fields through a TypeMapper, never NativeField directly, except in the
// in-memory upstream provider that owns these records.
type NativeField struct {
	Name  string
	Kind  Kind
	Array bool

	// Choices is only meaningful when Kind == KindEnum.
	Choices []string

	HasDisplay    bool
	HasControl    bool
	HasValueAlarm bool

	// Value holds the current native value: a scalar of the matching Go
	// type, or a slice of it when Array is true, or an int32 index when
	// Kind == KindEnum.
	Value interface{}

	Alarm      Alarm
	Time       TimeStamp
	Display    DisplayMeta
	Control    ControlMeta
	ValueAlarm ValueAlarmMeta
}

// NewNativeField builds a zero-valued native field of the given kind.
func NewNativeField(name string, kind Kind, array bool) *NativeField {
	return &NativeField{Name: name, Kind: kind, Array: array}
}
