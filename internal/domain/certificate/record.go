package certificate

import (
	"sort"
	"strings"
)

// Record is a flat certificate record keyed by content column name. It is
// the wire shape of wizard form data and the payload handed to Save.
type Record map[string]any

// Clone returns a shallow copy of r.
func (r Record) Clone() Record {
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// Merge copies every key of partial into r. Keys absent from partial are
// left untouched.
func (r Record) Merge(partial Record) {
	for k, v := range partial {
		r[k] = v
	}
}

// Blank reports whether the field is absent, null or whitespace.
func (r Record) Blank(name string) bool {
	v, ok := r[name]
	if !ok || v == nil {
		return true
	}
	if s, ok := v.(string); ok {
		return strings.TrimSpace(s) == ""
	}
	return false
}

// String returns a text field, or "" when it is not a string.
func (r Record) String(name string) string {
	s, _ := r[name].(string)
	return s
}

// Bool returns a boolean field, false when absent.
func (r Record) Bool(name string) bool {
	b, _ := r[name].(bool)
	return b
}

// Keys returns the record's keys in sorted order.
func (r Record) Keys() []string {
	keys := make([]string, 0, len(r))
	for k := range r {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Prepare turns a raw record into a storage payload. Keys that are not
// content columns are dropped, empty strings become nil and every value is
// coerced to its canonical type. Fields whose gate is closed are set to nil,
// provided the controlling field is part of the payload. Integer bounds
// are enforced on every value that survives, whatever the target status.
func Prepare(rec Record) (Record, []FieldError) {
	out := make(Record, len(rec))
	var errs []FieldError
	for k, v := range rec {
		def, ok := Lookup(k)
		if !ok {
			continue
		}
		cv, err := Coerce(def, v)
		if err != nil {
			errs = append(errs, FieldError{Field: k, Message: def.Label + " " + err.Error()})
			continue
		}
		out[k] = cv
	}

	for _, def := range Fields {
		if def.Gate == nil {
			continue
		}
		if _, present := out[def.Gate.Field]; !present {
			continue
		}
		if !def.Gate.holds(out) {
			out[def.Name] = nil
		}
	}
	for k, v := range out {
		def, _ := Lookup(k)
		if fe, bad := checkRange(def, v); bad {
			errs = append(errs, fe)
		}
	}
	sort.Slice(errs, func(i, j int) bool { return errs[i].Field < errs[j].Field })
	return out, errs
}
