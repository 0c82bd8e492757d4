// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package objects is the live object cache: every known record indexed by
// stable id and by opaque reference.
package objects

import (
	"strings"
	"sync"

	"github.com/ManuGH/xapiwatch/internal/metrics"
	"github.com/ManuGH/xapiwatch/internal/xapi/record"
)

const (
	TypePool = "pool"
	TypeTask = "task"
)

// Hooks are type-specific side effects run after the cache has been
// updated, outside its lock.
type Hooks struct {
	// OnPool runs whenever the pool singleton is replaced.
	OnPool func(pool *record.Record)
	// OnTask runs on every task insert or replace.
	OnTask func(task *record.Record)
	// OnRemove runs for every removal request, even when ref was unknown.
	OnRemove func(typ, ref string, prev *record.Record)
}

// Cache holds two synchronized indexes over the live record set.
type Cache struct {
	mu     sync.RWMutex
	reg    *record.Registry
	byID   map[string]*record.Record
	byRef  map[string]*record.Record
	pool   *record.Record
	nTasks int
	hooks  Hooks
}

// New returns an empty cache. Records it creates issue writes through writer.
func New(writer record.Writer, hooks Hooks) *Cache {
	c := &Cache{
		byID:  make(map[string]*record.Record),
		byRef: make(map[string]*record.Record),
		hooks: hooks,
	}
	c.reg = record.NewRegistry(c, writer)
	return c
}

// Registry returns the schema registry shared by the cached records.
func (c *Cache) Registry() *record.Registry {
	return c.reg
}

// Add inserts or replaces the object at ref from a raw snapshot.
func (c *Cache) Add(typ, ref string, snapshot map[string]any) *record.Record {
	rec := c.reg.Wrap(typ, ref, snapshot)

	c.mu.Lock()
	prev := c.byRef[ref]
	if prev != nil && prev.ID() != rec.ID() && c.byID[prev.ID()] == prev {
		// uuid reassigned under the same reference
		delete(c.byID, prev.ID())
	}
	c.byID[rec.ID()] = rec
	c.byRef[ref] = rec

	switch rec.Type() {
	case TypePool:
		c.pool = rec
	case TypeTask:
		if prev == nil {
			c.nTasks++
		}
	}
	size := len(c.byRef)
	c.mu.Unlock()

	metrics.SetCacheObjects(size)

	switch rec.Type() {
	case TypePool:
		if c.hooks.OnPool != nil {
			c.hooks.OnPool(rec)
		}
	case TypeTask:
		if c.hooks.OnTask != nil {
			c.hooks.OnTask(rec)
		}
	}
	return rec
}

// Remove drops the object at ref from both indexes and returns it.
func (c *Cache) Remove(typ, ref string) *record.Record {
	typ = strings.ToLower(typ)

	c.mu.Lock()
	prev := c.byRef[ref]
	if prev != nil {
		delete(c.byRef, ref)
		if c.byID[prev.ID()] == prev {
			delete(c.byID, prev.ID())
		}
		if prev.Type() == TypeTask {
			c.nTasks--
		}
	}
	size := len(c.byRef)
	c.mu.Unlock()

	metrics.SetCacheObjects(size)

	if c.hooks.OnRemove != nil {
		c.hooks.OnRemove(typ, ref, prev)
	}
	return prev
}

// Clear empties both indexes. The pool singleton is kept until the next
// pool snapshot replaces it.
func (c *Cache) Clear() {
	c.mu.Lock()
	c.byID = make(map[string]*record.Record)
	c.byRef = make(map[string]*record.Record)
	c.nTasks = 0
	c.mu.Unlock()

	metrics.SetCacheObjects(0)
}

// Reset clears the cache and forgets the pool singleton.
func (c *Cache) Reset() {
	c.Clear()
	c.mu.Lock()
	c.pool = nil
	c.mu.Unlock()
}

// ReplaceType makes the cached objects of typ match snapshots exactly:
// every snapshot is upserted and every other object of typ is removed.
func (c *Cache) ReplaceType(typ string, snapshots map[string]map[string]any) {
	typ = strings.ToLower(typ)
	stale := make(map[string]struct{})
	for _, rec := range c.OfType(typ) {
		stale[rec.Ref()] = struct{}{}
	}
	for ref, snap := range snapshots {
		delete(stale, ref)
		c.Add(typ, ref, snap)
	}
	for ref := range stale {
		c.Remove(typ, ref)
	}
}

// ByRef implements record.Lookup.
func (c *Cache) ByRef(ref string) *record.Record {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.byRef[ref]
}

// ByID returns the record with the given stable id (uuid, or ref for objects without one).
func (c *Cache) ByID(id string) *record.Record {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.byID[id]
}

// Get looks key up as an id first, then as a reference.
func (c *Cache) Get(key string) *record.Record {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if rec, ok := c.byID[key]; ok {
		return rec
	}
	return c.byRef[key]
}

// Pool implements record.Lookup.
func (c *Cache) Pool() *record.Record {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.pool
}

// TaskCount returns the number of cached task objects.
func (c *Cache) TaskCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.nTasks
}

// Len returns the number of cached objects.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.byRef)
}

// IDLen returns the size of the id index. It equals Len except transiently.
func (c *Cache) IDLen() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.byID)
}

// All returns every cached record, ordered by id.
func (c *Cache) All() []*record.Record {
	c.mu.RLock()
	out := make([]*record.Record, 0, len(c.byRef))
	for _, rec := range c.byRef {
		out = append(out, rec)
	}
	c.mu.RUnlock()
	record.SortByID(out)
	return out
}

// OfType returns the cached records of one type, ordered by id.
func (c *Cache) OfType(typ string) []*record.Record {
	typ = strings.ToLower(typ)
	c.mu.RLock()
	var out []*record.Record
	for _, rec := range c.byRef {
		if rec.Type() == typ {
			out = append(out, rec)
		}
	}
	c.mu.RUnlock()
	record.SortByID(out)
	return out
}
