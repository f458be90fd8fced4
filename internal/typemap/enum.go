package typemap

// EnumMapper maps a NativeField with Kind == KindEnum onto the
// {index, choices[]} pair the spec requires for enumerated fields, plus
// the same alarm/timeStamp/property subtrees as ScalarMapper.
type EnumMapper struct {
	field *NativeField
}

func NewEnumMapper(field *NativeField) (*EnumMapper, error) {
	if field.Kind != KindEnum {
		return nil, &ErrUnsupportedType{Kind: kindName(field.Kind)}
	}
	return &EnumMapper{field: field}, nil
}

func (m *EnumMapper) Describe() (*StructureDescriptor, error) {
	f := m.field
	desc := &StructureDescriptor{
		ID:            "epics:nt/NTEnum",
		Fields:        baseOffsets(KindEnum, false, append([]string(nil), f.Choices...)),
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

func (m *EnumMapper) Put(target *StructuredValue, mask ChangeMask, bits EventBits) error {
	f := m.field
	applyAlwaysSet(target, mask, f.Time)

	if bits&(Value|Archive) != 0 {
		target.Scalars[OffsetValue] = f.Value
		target.EnumChoices = append([]string(nil), f.Choices...)
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

func (m *EnumMapper) Get(source *StructuredValue, mask ChangeMask) error {
	f := m.field

	if mask.Has(OffsetValue) {
		idx, ok := source.Scalars[OffsetValue]
		if !ok {
			return &ErrTypeMismatch{Want: "enum index", Got: "missing"}
		}
		f.Value = idx
		if len(source.EnumChoices) > 0 {
			f.Choices = append([]string(nil), source.EnumChoices...)
		}
	}

	if mask.Has(OffsetAlarmSeverity) {
		f.Alarm = source.Alarm
	}
	if mask.Has(OffsetTimeSeconds) {
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
