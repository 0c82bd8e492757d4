// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package record

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mapLookup struct {
	byRef map[string]*Record
	pool  *Record
}

func (m *mapLookup) ByRef(ref string) *Record { return m.byRef[ref] }
func (m *mapLookup) Pool() *Record            { return m.pool }

type writeCall struct {
	op     string
	ref    string
	field  string
	values []any
}

type recordingWriter struct {
	calls []writeCall
}

func (w *recordingWriter) SetField(_ context.Context, rec *Record, field string, value any) error {
	w.calls = append(w.calls, writeCall{op: "set", ref: rec.Ref(), field: field, values: []any{value}})
	return nil
}

func (w *recordingWriter) AddToField(_ context.Context, rec *Record, field string, values ...any) error {
	w.calls = append(w.calls, writeCall{op: "add", ref: rec.Ref(), field: field, values: values})
	return nil
}

func (w *recordingWriter) SetFieldEntries(_ context.Context, rec *Record, field string, entries map[string]*string) error {
	w.calls = append(w.calls, writeCall{op: "update", ref: rec.Ref(), field: field, values: []any{len(entries)}})
	return nil
}

func vmSnapshot() map[string]any {
	return map[string]any{
		"uuid":          "vm-uuid",
		"name_label":    "web01",
		"resident_on":   "OpaqueRef:host1",
		"VBDs":          []any{"OpaqueRef:vbd1", "OpaqueRef:vbd2"},
		"tags":          []any{"prod"},
		"other_config":  map[string]any{"base": "OpaqueRef:host1", "note": "x"},
		"memory_target": "1024",
		"affinity":      NullRef,
	}
}

func TestRegistry_Wrap_IDAndType(t *testing.T) {
	reg := NewRegistry(nil, nil)

	rec := reg.Wrap("VM", "OpaqueRef:vm1", vmSnapshot())
	assert.Equal(t, "vm-uuid", rec.ID())
	assert.Equal(t, "OpaqueRef:vm1", rec.Ref())
	assert.Equal(t, "vm", rec.Type())
	assert.Equal(t, "web01", rec.String("name_label"))

	noUUID := reg.Wrap("console", "OpaqueRef:c1", map[string]any{"location": "x"})
	assert.Equal(t, "OpaqueRef:c1", noUUID.ID(), "records without uuid are keyed by ref")
}

func TestSchema_Kinds(t *testing.T) {
	reg := NewRegistry(nil, nil)
	rec := reg.Wrap("vm", "OpaqueRef:vm1", vmSnapshot())

	kinds := map[string]Kind{
		"name_label":   KindPlain,
		"resident_on":  KindRef,
		"VBDs":         KindRefSet,
		"tags":         KindSet,
		"other_config": KindMap,
		"affinity":     KindRef,
	}
	for field, want := range kinds {
		got, ok := rec.Schema().Kind(field)
		assert.True(t, ok, field)
		assert.Equal(t, want, got, field)
	}

	// The schema is built once and shared by later records of the type.
	other := reg.Wrap("vm", "OpaqueRef:vm2", map[string]any{"uuid": "u2", "tags": []any{"OpaqueRef:odd"}})
	assert.Same(t, rec.Schema(), other.Schema())
	k, _ := other.Schema().Kind("tags")
	assert.Equal(t, KindSet, k)
	assert.Equal(t, []string{"vm"}, reg.Types())
}

func TestRecord_Links(t *testing.T) {
	lookup := &mapLookup{byRef: map[string]*Record{}}
	reg := NewRegistry(lookup, nil)

	host := reg.Wrap("host", "OpaqueRef:host1", map[string]any{"uuid": "h1", "address": "10.0.0.1"})
	vbd := reg.Wrap("vbd", "OpaqueRef:vbd1", map[string]any{"uuid": "b1"})
	lookup.byRef[host.Ref()] = host
	lookup.byRef[vbd.Ref()] = vbd

	vm := reg.Wrap("vm", "OpaqueRef:vm1", vmSnapshot())

	assert.Same(t, host, vm.Link("resident_on"))
	assert.Nil(t, vm.Link("affinity"), "null ref resolves to nothing")
	assert.Nil(t, vm.Link("name_label"), "plain fields do not resolve")

	links := vm.Links("VBDs")
	require.Len(t, links, 2)
	assert.Same(t, vbd, links[0])
	assert.Nil(t, links[1], "uncached targets resolve to nil")

	m := vm.LinkMap("other_config")
	assert.Same(t, host, m["base"])
	assert.Nil(t, m["note"])
}

func TestRecord_Pool(t *testing.T) {
	lookup := &mapLookup{byRef: map[string]*Record{}}
	reg := NewRegistry(lookup, nil)
	lookup.pool = reg.Wrap("pool", "OpaqueRef:pool", map[string]any{"uuid": "p"})

	vm := reg.Wrap("vm", "OpaqueRef:vm1", vmSnapshot())
	assert.Same(t, lookup.pool, vm.Pool())
}

func TestRecord_WriteAffordances(t *testing.T) {
	w := &recordingWriter{}
	reg := NewRegistry(nil, w)
	vm := reg.Wrap("vm", "OpaqueRef:vm1", vmSnapshot())
	ctx := context.Background()

	require.NoError(t, vm.Set(ctx, "name_label", "web02"))
	require.NoError(t, vm.AddTo(ctx, "tags", "a", "b"))
	v := "1"
	require.NoError(t, vm.Update(ctx, "other_config", map[string]*string{"k": &v}))

	require.Len(t, w.calls, 3)
	assert.Equal(t, writeCall{op: "set", ref: "OpaqueRef:vm1", field: "name_label", values: []any{"web02"}}, w.calls[0])
	assert.Equal(t, writeCall{op: "add", ref: "OpaqueRef:vm1", field: "tags", values: []any{"a", "b"}}, w.calls[1])
	assert.Equal(t, "update", w.calls[2].op)

	assert.True(t, errors.Is(vm.AddTo(ctx, "name_label", "x"), ErrFieldKind))
	assert.True(t, errors.Is(vm.Update(ctx, "tags", nil), ErrFieldKind))
}

func TestRecord_NoWriter(t *testing.T) {
	vm := NewRegistry(nil, nil).Wrap("vm", "OpaqueRef:vm1", vmSnapshot())
	assert.ErrorIs(t, vm.Set(context.Background(), "name_label", "x"), ErrNoWriter)
}

func TestRecord_Immutable(t *testing.T) {
	snap := vmSnapshot()
	vm := NewRegistry(nil, nil).Wrap("vm", "OpaqueRef:vm1", snap)

	snap["name_label"] = "changed"
	assert.Equal(t, "web01", vm.String("name_label"))

	f := vm.Fields()
	f["name_label"] = "changed"
	assert.Equal(t, "web01", vm.String("name_label"))
}

func TestRecord_MarshalJSON(t *testing.T) {
	vm := NewRegistry(nil, nil).Wrap("vm", "OpaqueRef:vm1", map[string]any{"uuid": "u", "name_label": "a"})
	raw, err := json.Marshal(vm)
	require.NoError(t, err)
	assert.JSONEq(t, `{"$id":"u","$ref":"OpaqueRef:vm1","$type":"vm","uuid":"u","name_label":"a"}`, string(raw))
}

func TestIsOpaqueRef(t *testing.T) {
	assert.True(t, IsOpaqueRef("OpaqueRef:abc"))
	assert.True(t, IsOpaqueRef(NullRef))
	assert.False(t, IsOpaqueRef("abc"))
	assert.False(t, IsOpaqueRef(42))
}
