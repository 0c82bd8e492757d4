// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package objects

import (
	"context"
	"fmt"
	"testing"

	"github.com/ManuGH/xapiwatch/internal/xapi/record"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func vm(uuid, label string) map[string]any {
	return map[string]any{"uuid": uuid, "name_label": label, "resident_on": "OpaqueRef:host1"}
}

func TestCache_AddThenDelete_LeavesNoEntries(t *testing.T) {
	c := New(nil, Hooks{})

	var events []Event
	for i := 0; i < 5; i++ {
		ref := fmt.Sprintf("OpaqueRef:vm%d", i)
		events = append(events, Event{Class: "VM", Ref: ref, Operation: OpAdd, Snapshot: vm(fmt.Sprintf("u%d", i), "x")})
	}
	c.Apply(context.Background(), events)
	require.Equal(t, 5, c.Len())

	for i := range events {
		events[i] = Event{Class: "VM", Ref: events[i].Ref, Operation: OpDel}
	}
	c.Apply(context.Background(), events)

	assert.Equal(t, 0, c.Len())
	assert.Equal(t, 0, c.IDLen())
	for i := 0; i < 5; i++ {
		assert.Nil(t, c.ByID(fmt.Sprintf("u%d", i)))
		assert.Nil(t, c.ByRef(fmt.Sprintf("OpaqueRef:vm%d", i)))
	}
}

func TestCache_Apply_StopsWhenContextDone(t *testing.T) {
	c := New(nil, Hooks{})
	ctx, cancel := context.WithCancel(context.Background())

	var events []Event
	for i := 0; i < 4; i++ {
		events = append(events, Event{Class: "VM", Ref: fmt.Sprintf("OpaqueRef:vm%d", i), Operation: OpAdd, Snapshot: vm(fmt.Sprintf("u%d", i), "x")})
	}
	require.Equal(t, 2, c.Apply(ctx, events[:2]))

	cancel()
	assert.Zero(t, c.Apply(ctx, events[2:]))
	assert.Equal(t, 2, c.Len())
}

func TestCache_UUIDChange_Reindexes(t *testing.T) {
	c := New(nil, Hooks{})

	c.Add("vm", "OpaqueRef:vm1", vm("old-uuid", "a"))
	c.Add("vm", "OpaqueRef:vm1", vm("new-uuid", "b"))

	assert.Nil(t, c.ByID("old-uuid"))
	require.NotNil(t, c.ByID("new-uuid"))
	assert.Equal(t, "b", c.ByRef("OpaqueRef:vm1").String("name_label"))
	assert.Same(t, c.ByID("new-uuid"), c.ByRef("OpaqueRef:vm1"))
	assert.Equal(t, 1, c.IDLen())
}

func TestCache_DuplicateAdd_IsIdempotent(t *testing.T) {
	c := New(nil, Hooks{})

	c.Apply(context.Background(), []Event{
		{Class: "vm", Ref: "OpaqueRef:vm1", Operation: OpAdd, Snapshot: vm("u1", "first")},
		{Class: "vm", Ref: "OpaqueRef:vm1", Operation: OpAdd, Snapshot: vm("u1", "second")},
	})

	assert.Equal(t, 1, c.Len())
	assert.Equal(t, 1, c.IDLen())
	assert.Equal(t, "second", c.Get("u1").String("name_label"))
}

func TestCache_Get_ByIDThenRef(t *testing.T) {
	c := New(nil, Hooks{})
	c.Add("console", "OpaqueRef:c1", map[string]any{"location": "x"})
	c.Add("vm", "OpaqueRef:vm1", vm("u1", "a"))

	assert.NotNil(t, c.Get("OpaqueRef:c1"), "ref is the id of objects without uuid")
	assert.NotNil(t, c.Get("u1"))
	assert.NotNil(t, c.Get("OpaqueRef:vm1"))
	assert.Nil(t, c.Get("missing"))
	assert.Nil(t, c.ByRef(record.NullRef))
}

func TestCache_TaskCounter(t *testing.T) {
	c := New(nil, Hooks{})
	task := func(status string) map[string]any {
		return map[string]any{"uuid": "t-" + status, "status": status}
	}

	c.Add("task", "OpaqueRef:t1", task("pending"))
	c.Add("task", "OpaqueRef:t1", task("pending"))
	c.Add("task", "OpaqueRef:t2", task("pending"))
	assert.Equal(t, 2, c.TaskCount())

	c.Remove("task", "OpaqueRef:t1")
	c.Remove("task", "OpaqueRef:unknown")
	assert.Equal(t, 1, c.TaskCount())

	c.Clear()
	assert.Equal(t, 0, c.TaskCount())
}

func TestCache_Hooks(t *testing.T) {
	var pools, tasks []*record.Record
	var removed []string

	c := New(nil, Hooks{
		OnPool: func(p *record.Record) { pools = append(pools, p) },
		OnTask: func(tk *record.Record) { tasks = append(tasks, tk) },
		OnRemove: func(typ, ref string, prev *record.Record) {
			removed = append(removed, fmt.Sprintf("%s/%s/%t", typ, ref, prev != nil))
		},
	})

	c.Add("pool", "OpaqueRef:pool", map[string]any{"uuid": "p", "other_config": map[string]any{}})
	c.Add("task", "OpaqueRef:t1", map[string]any{"uuid": "t", "status": "pending"})
	c.Remove("task", "OpaqueRef:t1")
	c.Remove("Task", "OpaqueRef:gone")

	require.Len(t, pools, 1)
	assert.Same(t, pools[0], c.Pool())
	assert.Len(t, tasks, 1)
	assert.Equal(t, []string{"task/OpaqueRef:t1/true", "task/OpaqueRef:gone/false"}, removed)
}

func TestCache_ClearKeepsPool_ResetDropsIt(t *testing.T) {
	c := New(nil, Hooks{})
	c.Add("pool", "OpaqueRef:pool", map[string]any{"uuid": "p"})
	c.Add("vm", "OpaqueRef:vm1", vm("u1", "a"))

	c.Clear()
	assert.Equal(t, 0, c.Len())
	assert.NotNil(t, c.Pool())

	c.Reset()
	assert.Nil(t, c.Pool())
}

func TestCache_ReplaceType(t *testing.T) {
	c := New(nil, Hooks{})
	c.Add("task", "OpaqueRef:t1", map[string]any{"uuid": "t1", "status": "pending"})
	c.Add("task", "OpaqueRef:t2", map[string]any{"uuid": "t2", "status": "pending"})
	c.Add("vm", "OpaqueRef:vm1", vm("u1", "a"))

	c.ReplaceType("task", map[string]map[string]any{
		"OpaqueRef:t2": {"uuid": "t2", "status": "success"},
		"OpaqueRef:t3": {"uuid": "t3", "status": "pending"},
	})

	assert.Nil(t, c.ByRef("OpaqueRef:t1"))
	assert.Equal(t, "success", c.ByRef("OpaqueRef:t2").String("status"))
	assert.NotNil(t, c.ByRef("OpaqueRef:t3"))
	assert.NotNil(t, c.ByRef("OpaqueRef:vm1"))
	assert.Equal(t, 2, c.TaskCount())
	assert.Len(t, c.OfType("TASK"), 2)
}

func TestCache_RecordsResolveThroughCache(t *testing.T) {
	c := New(nil, Hooks{})
	c.Add("host", "OpaqueRef:host1", map[string]any{"uuid": "h1", "address": "10.0.0.1"})
	v := c.Add("vm", "OpaqueRef:vm1", vm("u1", "a"))

	require.NotNil(t, v.Link("resident_on"))
	assert.Equal(t, "10.0.0.1", v.Link("resident_on").String("address"))

	c.Remove("host", "OpaqueRef:host1")
	assert.Nil(t, v.Link("resident_on"))
}
