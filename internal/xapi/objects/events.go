// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package objects

import (
	"context"
	"strings"

	"github.com/ManuGH/xapiwatch/internal/metrics"
)

// Event operations.
const (
	OpAdd = "add"
	OpMod = "mod"
	OpDel = "del"
)

// Event is one delta of the remote change log.
type Event struct {
	Class     string         `json:"class"`
	Ref       string         `json:"ref"`
	Operation string         `json:"operation"`
	Snapshot  map[string]any `json:"snapshot"`
}

// Apply applies deltas in order: del removes, anything else upserts. It
// stops between events once ctx is done and returns how many it applied.
func (c *Cache) Apply(ctx context.Context, events []Event) int {
	for i, ev := range events {
		if ctx.Err() != nil {
			return i
		}
		class := strings.ToLower(ev.Class)
		metrics.IncEventApplied(class, ev.Operation)
		if ev.Operation == OpDel {
			c.Remove(class, ev.Ref)
			continue
		}
		if ev.Snapshot == nil {
			continue
		}
		c.Add(class, ev.Ref, ev.Snapshot)
	}
	return len(events)
}
