// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package record wraps raw object snapshots into immutable, schema-driven
// records whose reference fields resolve through a shared lookup.
package record

import (
	"sort"
	"strings"
	"sync"
)

// NullRef is the reference the server uses for "no object".
const NullRef = "OpaqueRef:NULL"

const opaqueRefPrefix = "OpaqueRef:"

// IsOpaqueRef reports whether v is an opaque reference string.
func IsOpaqueRef(v any) bool {
	s, ok := v.(string)
	return ok && strings.HasPrefix(s, opaqueRefPrefix)
}

// Kind classifies a field for accessor and write-affordance purposes.
type Kind int

const (
	KindPlain  Kind = iota // scalar or opaque value
	KindRef                // single reference
	KindSet                // list of non-reference values
	KindRefSet             // list of references
	KindMap                // string-keyed map, values resolved as references
)

func (k Kind) String() string {
	switch k {
	case KindRef:
		return "ref"
	case KindSet:
		return "set"
	case KindRefSet:
		return "ref_set"
	case KindMap:
		return "map"
	default:
		return "plain"
	}
}

// IsCollection reports whether values can be appended to the field.
func (k Kind) IsCollection() bool {
	return k == KindSet || k == KindRefSet
}

// Schema is the field layout of one object type, derived from the first
// snapshot observed for it and shared by every record of that type.
type Schema struct {
	typ    string
	fields []string
	kinds  map[string]Kind
}

func newSchema(typ string, snapshot map[string]any) *Schema {
	s := &Schema{
		typ:    typ,
		fields: make([]string, 0, len(snapshot)),
		kinds:  make(map[string]Kind, len(snapshot)),
	}
	for field, value := range snapshot {
		s.fields = append(s.fields, field)
		s.kinds[field] = classify(value)
	}
	sort.Strings(s.fields)
	return s
}

func classify(value any) Kind {
	switch v := value.(type) {
	case []any:
		if len(v) == 0 || IsOpaqueRef(v[0]) {
			return KindRefSet
		}
		return KindSet
	case map[string]any:
		return KindMap
	case string:
		if IsOpaqueRef(v) {
			return KindRef
		}
	}
	return KindPlain
}

// Type returns the lower-case type tag.
func (s *Schema) Type() string { return s.typ }

// Fields returns the sorted field names.
func (s *Schema) Fields() []string {
	return append([]string(nil), s.fields...)
}

// Kind returns the kind of field; unknown fields are plain.
func (s *Schema) Kind(field string) (Kind, bool) {
	k, ok := s.kinds[field]
	return k, ok
}

// Registry holds one Schema per type for the lifetime of a cache.
type Registry struct {
	mu      sync.RWMutex
	schemas map[string]*Schema
	lookup  Lookup
	writer  Writer
}

// NewRegistry returns a registry whose records resolve references through
// lookup and issue writes through writer. Either may be nil.
func NewRegistry(lookup Lookup, writer Writer) *Registry {
	return &Registry{
		schemas: make(map[string]*Schema),
		lookup:  lookup,
		writer:  writer,
	}
}

// Schema returns the schema for typ, building it from snapshot on first use.
func (r *Registry) Schema(typ string, snapshot map[string]any) *Schema {
	r.mu.RLock()
	s, ok := r.schemas[typ]
	r.mu.RUnlock()
	if ok {
		return s
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.schemas[typ]; ok {
		return s
	}
	s = newSchema(typ, snapshot)
	r.schemas[typ] = s
	return s
}

// Types returns the names of the types seen so far.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.schemas))
	for t := range r.schemas {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// Wrap builds an immutable Record from a raw snapshot.
func (r *Registry) Wrap(typ, ref string, snapshot map[string]any) *Record {
	typ = strings.ToLower(typ)
	fields := make(map[string]any, len(snapshot))
	for k, v := range snapshot {
		fields[k] = v
	}

	id := ref
	if uuid, ok := fields["uuid"].(string); ok && uuid != "" {
		id = uuid
	}

	return &Record{
		id:     id,
		ref:    ref,
		typ:    typ,
		fields: fields,
		schema: r.Schema(typ, fields),
		reg:    r,
	}
}
