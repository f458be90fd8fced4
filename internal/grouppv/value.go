package grouppv

import "github.com/epics-base/pva2go/internal/typemap"

// Value is a GroupPV's composite value: one typemap.StructuredValue per
// member field, keyed by the field's own name within the group.
//
// A single typemap.StructuredValue carries exactly one alarm/timeStamp
// subtree, by design (§4.A) — it describes one native field. A group
// spans many independently alarmed, independently timestamped fields, so
// the composite cannot be flattened into a single StructuredValue without
// losing that per-field metadata. Keeping one StructuredValue per field
// name is the direct generalization: GroupPV.Read/Write/Subscribe operate
// over these per-field values exactly the way a DownstreamChannel operates
// over a single one.
type Value struct {
	Fields map[string]*typemap.StructuredValue
}

func newValue() *Value {
	return &Value{Fields: make(map[string]*typemap.StructuredValue)}
}

// ChangeMask is a group-level change set: which member fields changed, and
// within each, which of its own offsets changed.
type ChangeMask map[string]typemap.ChangeMask

func newChangeMask() ChangeMask { return make(ChangeMask) }

func (m ChangeMask) merge(field string, sub typemap.ChangeMask) {
	existing, ok := m[field]
	if !ok {
		existing = typemap.NewChangeMask()
		m[field] = existing
	}
	for o := range sub {
		existing[o] = struct{}{}
	}
}

// fullMask returns a mask covering every offset desc describes, for a read
// that observes the whole field.
func fullMask(desc *typemap.StructureDescriptor) typemap.ChangeMask {
	mask := typemap.NewChangeMask()
	for _, f := range desc.Fields {
		mask.Set(f.Offset)
	}
	return mask
}

// intSetToChangeMask converts the upstream package's map[int]struct{}
// change representation into a typemap.ChangeMask.
func intSetToChangeMask(m map[int]struct{}) typemap.ChangeMask {
	out := typemap.NewChangeMask()
	for k := range m {
		out.Set(typemap.Offset(k))
	}
	return out
}
