// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package record

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
)

var (
	ErrFieldKind = errors.New("record: operation not supported by field kind")
	ErrNoWriter  = errors.New("record: no writer attached")
)

// Lookup resolves references against the live object set.
type Lookup interface {
	ByRef(ref string) *Record
	Pool() *Record
}

// Writer issues the RPCs behind record write affordances.
type Writer interface {
	SetField(ctx context.Context, rec *Record, field string, value any) error
	AddToField(ctx context.Context, rec *Record, field string, values ...any) error
	SetFieldEntries(ctx context.Context, rec *Record, field string, entries map[string]*string) error
}

// Record is an immutable snapshot of one remote object. A changed object is
// represented by a new Record replacing the old one in the cache.
type Record struct {
	id     string
	ref    string
	typ    string
	fields map[string]any
	schema *Schema
	reg    *Registry
}

// ID is the stable identifier: the uuid when the object has one, else the ref.
func (r *Record) ID() string { return r.id }

// Ref is the opaque reference, the only handle valid for write calls.
func (r *Record) Ref() string { return r.ref }

// Type is the lower-case type tag ("vm", "host", "pool", "task", ...).
func (r *Record) Type() string { return r.typ }

// Schema returns the schema shared by every record of this type.
func (r *Record) Schema() *Schema { return r.schema }

// UUID returns the uuid field, or "".
func (r *Record) UUID() string { return r.String("uuid") }

// Get returns the raw value of field. Returned maps and slices are shared and
// must not be modified.
func (r *Record) Get(field string) (any, bool) {
	v, ok := r.fields[field]
	return v, ok
}

// String returns field as a string, or "" when absent or not a string.
func (r *Record) String(field string) string {
	s, _ := r.fields[field].(string)
	return s
}

// StringMap returns a string-valued map field, skipping non-string values.
func (r *Record) StringMap(field string) map[string]string {
	m, _ := r.fields[field].(map[string]any)
	out := make(map[string]string, len(m))
	for k, v := range m {
		if s, ok := v.(string); ok {
			out[k] = s
		}
	}
	return out
}

// Fields returns a shallow copy of the field map.
func (r *Record) Fields() map[string]any {
	out := make(map[string]any, len(r.fields))
	for k, v := range r.fields {
		out[k] = v
	}
	return out
}

func (r *Record) lookup() Lookup {
	if r.reg == nil {
		return nil
	}
	return r.reg.lookup
}

func (r *Record) kind(field string) Kind {
	k, _ := r.schema.Kind(field)
	return k
}

func (r *Record) resolve(ref any) *Record {
	s, ok := ref.(string)
	if !ok || s == "" || s == NullRef {
		return nil
	}
	l := r.lookup()
	if l == nil {
		return nil
	}
	return l.ByRef(s)
}

// Link resolves a reference field. It returns nil when the field is not a
// reference, is the null reference, or the target is not cached yet.
func (r *Record) Link(field string) *Record {
	if r.kind(field) != KindRef {
		return nil
	}
	return r.resolve(r.fields[field])
}

// Links resolves a reference-list field element-wise; uncached targets are nil.
func (r *Record) Links(field string) []*Record {
	if r.kind(field) != KindRefSet {
		return nil
	}
	refs, _ := r.fields[field].([]any)
	out := make([]*Record, len(refs))
	for i, ref := range refs {
		out[i] = r.resolve(ref)
	}
	return out
}

// LinkMap resolves a map field value-wise; non-reference or uncached values are nil.
func (r *Record) LinkMap(field string) map[string]*Record {
	if r.kind(field) != KindMap {
		return nil
	}
	m, _ := r.fields[field].(map[string]any)
	out := make(map[string]*Record, len(m))
	for k, ref := range m {
		out[k] = r.resolve(ref)
	}
	return out
}

// Pool returns the current pool record.
func (r *Record) Pool() *Record {
	l := r.lookup()
	if l == nil {
		return nil
	}
	return l.Pool()
}

func (r *Record) writer() (Writer, error) {
	if r.reg == nil || r.reg.writer == nil {
		return nil, ErrNoWriter
	}
	return r.reg.writer, nil
}

// Set issues <type>.set_<field>(ref, value).
func (r *Record) Set(ctx context.Context, field string, value any) error {
	w, err := r.writer()
	if err != nil {
		return err
	}
	return w.SetField(ctx, r, field, value)
}

// AddTo appends values to a list field with <type>.add_<field>.
func (r *Record) AddTo(ctx context.Context, field string, values ...any) error {
	if !r.kind(field).IsCollection() {
		return fmt.Errorf("%s.%s is %s: %w", r.typ, field, r.kind(field), ErrFieldKind)
	}
	w, err := r.writer()
	if err != nil {
		return err
	}
	return w.AddToField(ctx, r, field, values...)
}

// Update sets or removes (nil value) entries of a map field.
func (r *Record) Update(ctx context.Context, field string, entries map[string]*string) error {
	if r.kind(field) != KindMap {
		return fmt.Errorf("%s.%s is %s: %w", r.typ, field, r.kind(field), ErrFieldKind)
	}
	w, err := r.writer()
	if err != nil {
		return err
	}
	return w.SetFieldEntries(ctx, r, field, entries)
}

// MarshalJSON renders the fields plus $id, $ref and $type.
func (r *Record) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(r.fields)+3)
	for k, v := range r.fields {
		out[k] = v
	}
	out["$id"] = r.id
	out["$ref"] = r.ref
	out["$type"] = r.typ
	return json.Marshal(out)
}

// SortByID orders records by ID, for stable listings.
func SortByID(recs []*Record) {
	sort.Slice(recs, func(i, j int) bool { return recs[i].id < recs[j].id })
}
