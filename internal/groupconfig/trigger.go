package groupconfig

import (
	"fmt"
	"strings"
)

// ResolveTriggers computes, for every field in fields (in the same order),
// the set of field indices a source event on that field must notify —
// T(s) in §4.G. A field with no +trigger notifies only itself. A +trigger
// value is a comma-separated list of field names, "*" expanding to every
// field in the group. Unknown target names produce a warning and are
// dropped rather than failing the whole group (§7 ConfigWarning policy).
//
// atomicNotify is true iff any field's target set reaches beyond itself —
// the composite-read-under-triggerLocks path only pays for itself when a
// group actually declares cross-field triggers.
func ResolveTriggers(fields []FieldDef) (targets []map[int]struct{}, atomicNotify bool, warnings []string) {
	byName := make(map[string]int, len(fields))
	for i, f := range fields {
		byName[f.Name] = i
	}

	targets = make([]map[int]struct{}, len(fields))
	for i, f := range fields {
		set := make(map[int]struct{})
		if !f.HasTrigger || strings.TrimSpace(f.Trigger) == "" {
			set[i] = struct{}{}
			targets[i] = set
			continue
		}
		for _, name := range strings.Split(f.Trigger, ",") {
			name = strings.TrimSpace(name)
			switch {
			case name == "":
				continue
			case name == "*":
				for j := range fields {
					set[j] = struct{}{}
				}
			default:
				j, ok := byName[name]
				if !ok {
					warnings = append(warnings, fmt.Sprintf("field %q: +trigger names unknown field %q", f.Name, name))
					continue
				}
				set[j] = struct{}{}
			}
		}
		// The source field is always part of its own target set: an event
		// on field i must always surface field i's own new value, whatever
		// else +trigger names alongside it.
		set[i] = struct{}{}
		targets[i] = set
	}

	for i, set := range targets {
		if _, onlySelf := set[i]; !onlySelf || len(set) != 1 {
			atomicNotify = true
			break
		}
	}
	return targets, atomicNotify, warnings
}
