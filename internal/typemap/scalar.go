package typemap

import "fmt"

// ScalarMapper maps a single non-enum NativeField (scalar or array) of a
// fixed Kind onto the composite structured schema described in §4.A:
// value, alarm, timeStamp, and the optional display/control/valueAlarm
// subtrees the underlying field declares.
type ScalarMapper struct {
	field *NativeField
}

// NewScalarMapper constructs a TypeMapper for the given native field. It
// fails with ErrUnsupportedType if the field's Kind has no structured
// representation (currently every Kind except KindEnum is supported here;
// KindEnum uses EnumMapper instead).
func NewScalarMapper(field *NativeField) (*ScalarMapper, error) {
	switch field.Kind {
	case KindBool, KindInt32, KindInt64, KindUint32, KindUint64, KindFloat32, KindFloat64, KindString:
		return &ScalarMapper{field: field}, nil
	default:
		return nil, &ErrUnsupportedType{Kind: fmt.Sprintf("%v", field.Kind)}
	}
}

func (m *ScalarMapper) Describe() (*StructureDescriptor, error) {
	f := m.field
	desc := &StructureDescriptor{
		ID:            "epics:nt/" + kindName(f.Kind) + (map[bool]string{true: "Array", false: ""}[f.Array]),
		Fields:        baseOffsets(f.Kind, f.Array, nil),
		HasDisplay:    f.HasDisplay,
		HasControl:    f.HasControl,
		HasValueAlarm: f.HasValueAlarm,
	}
	if f.HasDisplay {
		desc.Fields = append(desc.Fields, displayOffsets()...)
	}
	if f.HasControl {
		desc.Fields = append(desc.Fields, controlOffsets()...)
	}
	if f.HasValueAlarm {
		desc.Fields = append(desc.Fields, valueAlarmOffsets()...)
	}
	return desc, nil
}

func (m *ScalarMapper) Put(target *StructuredValue, mask ChangeMask, bits EventBits) error {
	f := m.field
	applyAlwaysSet(target, mask, f.Time)

	if bits&(Value|Archive) != 0 {
		if f.Array {
			target.Arrays[OffsetValue] = f.Value
		} else {
			target.Scalars[OffsetValue] = f.Value
		}
		mask.Set(OffsetValue)
	}

	if bits&Alarm != 0 {
		applyAlarmSet(target, mask, f.Alarm)
	}

	if bits&Property != 0 {
		applyPropertySet(target, mask, target.Desc, f.Display, f.Control, f.ValueAlarm)
	}

	return nil
}

func (m *ScalarMapper) Get(source *StructuredValue, mask ChangeMask) error {
	f := m.field

	if mask.Has(OffsetValue) {
		if f.Array {
			v, ok := source.Arrays[OffsetValue]
			if !ok {
				return &ErrTypeMismatch{Want: "array value", Got: "missing"}
			}
			f.Value = v
		} else {
			v, ok := source.Scalars[OffsetValue]
			if !ok {
				return &ErrTypeMismatch{Want: "scalar value", Got: "missing"}
			}
			f.Value = v
		}
	}

	if mask.Has(OffsetAlarmSeverity) || mask.Has(OffsetAlarmStatus) || mask.Has(OffsetAlarmMessage) {
		f.Alarm = source.Alarm
	}

	if mask.Has(OffsetTimeSeconds) || mask.Has(OffsetTimeNanos) || mask.Has(OffsetTimeUserTag) {
		f.Time = source.Time
	}

	if f.HasDisplay && mask.Has(OffsetDisplayLimitLow) {
		f.Display = source.Display
	}
	if f.HasControl && mask.Has(OffsetControlLimitLow) {
		f.Control = source.Control
	}
	if f.HasValueAlarm && mask.Has(OffsetValueAlarmHighWarning) {
		f.ValueAlarm = source.ValueAlarm
	}

	return nil
}

func kindName(k Kind) string {
	switch k {
	case KindBool:
		return "bool"
	case KindInt32:
		return "int32"
	case KindInt64:
		return "int64"
	case KindUint32:
		return "uint32"
	case KindUint64:
		return "uint64"
	case KindFloat32:
		return "float32"
	case KindFloat64:
		return "float64"
	case KindString:
		return "string"
	case KindEnum:
		return "enum"
	default:
		return "unknown"
	}
}
