// Package groupconfig decodes and validates the group-configuration JSON
// format (§6): a document of named groups, each a declaration-ordered list
// of fields naming the upstream channel they attach and how they
// participate in trigger-driven notification.
//
// Validation follows §7's policy for this input: malformed individual
// groups or fields degrade to a warning and are skipped rather than
// aborting the whole document, since one operator typo in a thousand-group
// file should not take the rest of the file down with it.
package groupconfig

import (
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// FieldDef is one field entry within a group, decoded from its `+channel`
// / `+type` / `+id` / `+trigger` / `+putorder` keys (§6).
type FieldDef struct {
	Name        string
	Channel     string
	Type        string // defaults to "scalar" when +type is absent
	ID          string
	Trigger     string // raw +trigger value; "" means "self only" (§4.G)
	HasTrigger  bool
	PutOrder    int
	HasPutOrder bool
}

// GroupDef is one decoded group, with Fields in declaration order.
type GroupDef struct {
	Name      string
	ID        string
	Atomic    bool
	HasAtomic bool
	Fields    []FieldDef
}

// Document is a fully decoded group-configuration file: the groups that
// decoded cleanly, plus every non-fatal warning collected along the way.
type Document struct {
	Groups   []GroupDef
	Warnings []string
}

var schema = func() *jsonschema.Schema {
	sch, err := jsonschema.CompileString("groupconfig.schema.json", documentSchema)
	if err != nil {
		panic(fmt.Sprintf("groupconfig: invalid embedded schema: %v", err))
	}
	return sch
}()

// Load decodes and validates raw as a group-configuration document. A
// schema violation on the outer shape (not a JSON object of objects) is
// fatal; everything past that point degrades to a Document.Warnings entry
// per §7's ConfigWarning policy.
func Load(raw []byte) (*Document, error) {
	var v interface{}
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Errorf("groupconfig: invalid JSON: %w", err)
	}
	if err := schema.Validate(v); err != nil {
		return nil, fmt.Errorf("groupconfig: %w", err)
	}

	topFields, err := decodeOrderedObject(raw)
	if err != nil {
		return nil, err
	}

	doc := &Document{}
	for _, gf := range topFields {
		group, warnings, err := decodeGroup(gf.Key, gf.Value)
		doc.Warnings = append(doc.Warnings, warnings...)
		if err != nil {
			doc.Warnings = append(doc.Warnings, fmt.Sprintf("group %q: %v", gf.Key, err))
			continue
		}
		doc.Groups = append(doc.Groups, group)
	}
	return doc, nil
}

func decodeGroup(name string, raw json.RawMessage) (GroupDef, []string, error) {
	fields, err := decodeOrderedObject(raw)
	if err != nil {
		return GroupDef{}, nil, err
	}

	g := GroupDef{Name: name}
	var warnings []string

	for _, f := range fields {
		switch f.Key {
		case "+id":
			var s string
			if err := json.Unmarshal(f.Value, &s); err != nil {
				warnings = append(warnings, fmt.Sprintf("group %q: +id: %v", name, err))
				continue
			}
			g.ID = s
		case "+atomic":
			var b bool
			if err := json.Unmarshal(f.Value, &b); err != nil {
				warnings = append(warnings, fmt.Sprintf("group %q: +atomic: %v", name, err))
				continue
			}
			g.Atomic = b
			g.HasAtomic = true
		default:
			fd, fwarnings, err := decodeField(f.Key, f.Value)
			warnings = append(warnings, fwarnings...)
			if err != nil {
				warnings = append(warnings, fmt.Sprintf("group %q: field %q: %v", name, f.Key, err))
				continue
			}
			g.Fields = append(g.Fields, fd)
		}
	}

	if len(g.Fields) == 0 {
		return g, warnings, fmt.Errorf("group has no fields")
	}
	return g, warnings, nil
}

var recognizedFieldKeys = map[string]bool{
	"+channel": true, "+type": true, "+id": true, "+trigger": true, "+putorder": true,
}

func decodeField(name string, raw json.RawMessage) (FieldDef, []string, error) {
	fields, err := decodeOrderedObject(raw)
	if err != nil {
		return FieldDef{}, nil, err
	}

	fd := FieldDef{Name: name, Type: "scalar"}
	var warnings []string

	for _, f := range fields {
		if !recognizedFieldKeys[f.Key] {
			warnings = append(warnings, fmt.Sprintf("unknown option %q on field %q", f.Key, name))
			continue
		}
		var decodeErr error
		switch f.Key {
		case "+channel":
			decodeErr = json.Unmarshal(f.Value, &fd.Channel)
		case "+type":
			decodeErr = json.Unmarshal(f.Value, &fd.Type)
		case "+id":
			decodeErr = json.Unmarshal(f.Value, &fd.ID)
		case "+trigger":
			decodeErr = json.Unmarshal(f.Value, &fd.Trigger)
			fd.HasTrigger = decodeErr == nil
		case "+putorder":
			var n int
			if decodeErr = json.Unmarshal(f.Value, &n); decodeErr == nil {
				fd.PutOrder = n
				fd.HasPutOrder = true
			}
		}
		if decodeErr != nil {
			warnings = append(warnings, fmt.Sprintf("field %q: option %q: %v", name, f.Key, decodeErr))
		}
	}

	// A field may omit +channel only when +type names a pre-defined
	// composite the group builder resolves without opening an upstream
	// channel directly; this gateway defines no such composite types yet,
	// so +channel is effectively always required.
	if fd.Channel == "" && fd.Type != "composite" {
		return fd, warnings, fmt.Errorf("missing +channel")
	}
	return fd, warnings, nil
}
