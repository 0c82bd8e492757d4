// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package xapi

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/xapiwatch/internal/xapi/xapitest"
)

func pool(otherConfig map[string]any) xapitest.Snapshot {
	return xapitest.Snapshot{
		"uuid":         "pool-uuid",
		"name_label":   "lab",
		"master":       "OpaqueRef:host",
		"other_config": otherConfig,
	}
}

func TestBarrier(t *testing.T) {
	c, srv, feed := watchingClient(t)

	var marker string
	srv.Handle("pool.add_to_other_config", func(_ context.Context, params []any) (any, error) {
		marker = params[2].(string)
		feed.Push(
			xapitest.Mod("VM", "OpaqueRef:vm1", vm("uuid-1", "updated")),
			xapitest.Mod("pool", "OpaqueRef:pool", pool(map[string]any{marker: ""})),
		)
		return "", nil
	})
	srv.Reply("pool.remove_from_other_config", "")
	connect(t, c)

	feed.Push(
		xapitest.Add("pool", "OpaqueRef:pool", pool(map[string]any{})),
		xapitest.Add("VM", "OpaqueRef:vm1", vm("uuid-1", "one")),
	)
	waitForObject(t, c, "OpaqueRef:vm1")
	require.NotNil(t, c.Pool())

	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	rec, err := c.Barrier(ctx, "OpaqueRef:vm1")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, "updated", rec.String("name_label"), "events before the marker are applied")

	assert.True(t, strings.HasPrefix(marker, barrierPrefix))
	removes := srv.CallsTo("pool.remove_from_other_config")
	require.Len(t, removes, 1)
	assert.Equal(t, []any{xapitest.Session, "OpaqueRef:pool", marker}, removes[0].Params)
}

func TestBarrier_CallerGivesUpRemovesMarker(t *testing.T) {
	c, srv, feed := watchingClient(t)

	markers := make(chan string, 1)
	srv.Handle("pool.add_to_other_config", func(_ context.Context, params []any) (any, error) {
		markers <- params[2].(string)
		return "", nil
	})
	srv.Reply("pool.remove_from_other_config", "")
	connect(t, c)

	feed.Push(xapitest.Add("pool", "OpaqueRef:pool", pool(map[string]any{})))
	require.Eventually(t, func() bool { return c.Pool() != nil }, waitFor, tick)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := c.Barrier(ctx, "")
	require.ErrorIs(t, err, context.DeadlineExceeded)

	marker := <-markers
	removes := srv.CallsTo("pool.remove_from_other_config")
	require.Len(t, removes, 1)
	assert.Equal(t, []any{xapitest.Session, "OpaqueRef:pool", marker}, removes[0].Params)
}

func TestBarrier_Preconditions(t *testing.T) {
	srv := xapitest.NewServer(t)
	c := newTestClient(t, srv, nil)
	_, err := c.Barrier(context.Background(), "")
	require.ErrorIs(t, err, ErrEventsDisabled)

	w, _, _ := watchingClient(t)
	connect(t, w)
	_, err = w.Barrier(context.Background(), "")
	require.ErrorIs(t, err, ErrNoPool)
}
