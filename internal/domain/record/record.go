// Package record defines the flat field maps exchanged with the remote store
// and held in the local cache.
package record

import (
	"fmt"
	"sort"
	"time"
)

// Collection names mirrored in the local cache.
const (
	Leads     = "leads"
	Calls     = "calls"
	Walkins   = "walkins"
	Followups = "followups"
	Callbacks = "callbacks"
	Users     = "users"
)

// Collections lists every cached collection in a stable order.
var Collections = []string{Leads, Calls, Walkins, Followups, Callbacks, Users}

// IsCollection reports whether name is a known collection.
func IsCollection(name string) bool {
	for _, c := range Collections {
		if c == name {
			return true
		}
	}
	return false
}

// Common field names.
const (
	FieldID         = "id"
	FieldPhone      = "phone"
	FieldCreatedAt  = "created_at"
	FieldUpdatedAt  = "updated_at"
	FieldIsSpam     = "is_spam"
	FieldAssignedTo = "assigned_to"
	FieldStage      = "stage"
	FieldStatus     = "status"
	FieldName       = "name"
)

// Record is a flat map of field name to value. Every cached record carries
// a string "id".
type Record map[string]any

// ID returns the record's id field, or "" if absent.
func (r Record) ID() string {
	switch v := r[FieldID].(type) {
	case string:
		return v
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

// String returns the named field as a string, or "".
func (r Record) String(field string) string {
	switch v := r[field].(type) {
	case string:
		return v
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

// Bool returns the named field as a bool, false when missing or not a bool.
func (r Record) Bool(field string) bool {
	b, _ := r[field].(bool)
	return b
}

// Clone returns a shallow copy of r.
func (r Record) Clone() Record {
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// Merge returns a copy of r with every field of partial applied on top.
func (r Record) Merge(partial Record) Record {
	out := r.Clone()
	for k, v := range partial {
		out[k] = v
	}
	return out
}

// Without returns a copy of r without the named fields.
func (r Record) Without(fields ...string) Record {
	out := r.Clone()
	for _, f := range fields {
		delete(out, f)
	}
	return out
}

// Filter is a set of field equality constraints.
type Filter map[string]any

// Matches reports whether every constraint in f equals the corresponding field in r.
// Values are compared by their string form so JSON-decoded numbers match ints.
func (f Filter) Matches(r Record) bool {
	for k, want := range f {
		got, ok := r[k]
		if !ok {
			return false
		}
		if fmt.Sprint(got) != fmt.Sprint(want) {
			return false
		}
	}
	return true
}

// Keys returns the filter's field names in sorted order.
func (f Filter) Keys() []string {
	keys := make([]string, 0, len(f))
	for k := range f {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Apply returns the records in rs matching f. A nil or empty filter matches all.
func (f Filter) Apply(rs []Record) []Record {
	if len(f) == 0 {
		return rs
	}
	out := make([]Record, 0, len(rs))
	for _, r := range rs {
		if f.Matches(r) {
			out = append(out, r)
		}
	}
	return out
}

// Timestamp formats t the way records store times.
func Timestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// SortNewestFirst orders rs by created_at descending. Records without a
// parseable created_at sort last.
func SortNewestFirst(rs []Record) {
	sort.SliceStable(rs, func(i, j int) bool {
		ti, oki := parseTime(rs[i].String(FieldCreatedAt))
		tj, okj := parseTime(rs[j].String(FieldCreatedAt))
		if oki != okj {
			return oki
		}
		return ti.After(tj)
	})
}

func parseTime(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05.999999"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
