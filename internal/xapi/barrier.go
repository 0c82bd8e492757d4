// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package xapi

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/ManuGH/xapiwatch/internal/log"
	"github.com/ManuGH/xapiwatch/internal/xapi/record"
)

const (
	barrierPrefix        = "xapi:barrier:"
	markerCleanupTimeout = 10 * time.Second
)

// Barrier waits until every event emitted before the call has been applied
// to the cache. It writes a marker into pool.other_config and waits for the
// watcher to see it. When ref is not empty the cached record at ref is
// returned.
func (c *Client) Barrier(ctx context.Context, ref string) (*record.Record, error) {
	if !c.watchEvents {
		return nil, ErrEventsDisabled
	}
	pool := c.cache.Pool()
	if pool == nil {
		return nil, ErrNoPool
	}

	key := barrierPrefix + uuid.NewString()
	seen := make(chan struct{})
	c.barriersMu.Lock()
	c.barriers[key] = seen
	c.barriersMu.Unlock()
	defer func() {
		c.barriersMu.Lock()
		delete(c.barriers, key)
		c.barriersMu.Unlock()
	}()

	if err := c.callInto(ctx, nil, "pool.add_to_other_config", pool.Ref(), key, ""); err != nil {
		return nil, err
	}

	conn := c.backgroundContext()
	select {
	case <-seen:
	case <-ctx.Done():
		c.removeMarker(ctx, pool.Ref(), key)
		return nil, ctx.Err()
	case <-conn.Done():
		return nil, ErrDisconnected
	}

	c.removeMarker(ctx, pool.Ref(), key)
	c.log.Debug().
		Str(log.FieldEvent, "xapi.barrier").
		Str("marker", key).
		Msg("barrier passed")

	if ref == "" {
		return nil, nil
	}
	return c.GetObjectByRef(ref)
}

// removeMarker drops key from pool.other_config. It outlives the caller's
// ctx so an abandoned barrier does not leave its marker behind.
func (c *Client) removeMarker(ctx context.Context, poolRef, key string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), markerCleanupTimeout)
	defer cancel()
	c.bestEffort(ctx, "pool.remove_from_other_config", func(ctx context.Context) error {
		return c.callInto(ctx, nil, "pool.remove_from_other_config", poolRef, key)
	})
}

// resolveBarriers is the cache hook for pool updates.
func (c *Client) resolveBarriers(pool *record.Record) {
	markers := pool.StringMap("other_config")
	c.barriersMu.Lock()
	defer c.barriersMu.Unlock()
	for key, seen := range c.barriers {
		if _, ok := markers[key]; ok {
			close(seen)
			delete(c.barriers, key)
		}
	}
}

func (c *Client) cancelBarriers() {
	c.barriersMu.Lock()
	defer c.barriersMu.Unlock()
	for key := range c.barriers {
		delete(c.barriers, key)
	}
}
