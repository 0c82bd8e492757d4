// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package xapi

import (
	"context"
	"errors"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ManuGH/xapiwatch/internal/log"
	"github.com/ManuGH/xapiwatch/internal/metrics"
	"github.com/ManuGH/xapiwatch/internal/xapi/objects"
	"github.com/ManuGH/xapiwatch/internal/xapi/rpc"
)

// Event watcher modes reported by EventMode.
const (
	EventModeToken   = "token"
	EventModeLegacy  = "legacy"
	EventModeStopped = "stopped"

	// eventPollWindow is the server-side wait of event.from, in seconds.
	// Sent as a float on purpose.
	eventPollWindow = 60.1
	// eventPollTimeout is 10% longer than the server-side wait.
	eventPollTimeout = 66 * time.Second

	legacyFetchConcurrency = 8
)

var allClasses = []string{"*"}

var getAllRecordsRE = regexp.MustCompile(`^[^.]+\.get_all_records$`)

var errLegacyFallback = errors.New("xapi: token events unsupported")

type eventBatch struct {
	Events         []objects.Event `json:"events"`
	Token          string          `json:"token"`
	ValidRefCounts map[string]any  `json:"valid_ref_counts"`
}

// taskCount returns the live task count reported by the server.
func (b *eventBatch) taskCount() (int, bool) {
	switch v := b.ValidRefCounts[objects.TypeTask].(type) {
	case float64:
		return int(v), true
	case string:
		n, err := strconv.Atoi(v)
		return n, err == nil
	default:
		return 0, false
	}
}

// startWatcher runs on every connected signal. At most one watcher lives
// per connection.
func (c *Client) startWatcher() {
	if !c.watchEvents {
		return
	}
	c.mu.Lock()
	conn := c.conn
	if conn == nil || conn.done != nil {
		c.mu.Unlock()
		return
	}
	conn.done = make(chan struct{})
	c.mu.Unlock()

	go c.watch(conn)
}

func (c *Client) watch(conn *connection) {
	defer close(conn.done)
	defer c.clearAfterTeardown(conn)
	defer c.setEventMode(EventModeStopped)

	err := c.watchTokens(conn)
	if errors.Is(err, errLegacyFallback) {
		c.log.Info().
			Str(log.FieldEvent, "xapi.events.fallback").
			Msg("event.from unavailable, falling back to legacy events")
		err = c.watchLegacy(conn)
	}
	if err != nil && conn.ctx.Err() == nil {
		c.log.Error().
			Err(err).
			Str(log.FieldEvent, "xapi.events.stopped").
			Msg("event watcher stopped")
	}
}

// clearAfterTeardown empties the cache once the watcher of a torn down
// connection has applied its last event. A newer connection owns the cache
// and is left alone.
func (c *Client) clearAfterTeardown(conn *connection) {
	if conn.ctx.Err() == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil || c.conn == conn {
		c.cache.Clear()
	}
}

func (c *Client) setEventMode(mode string) {
	c.mu.Lock()
	c.eventMode = mode
	c.mu.Unlock()
	metrics.SetEventMode(mode)
}

// active reports whether conn is still the live, connected session.
func (c *Client) active(conn *connection) bool {
	if conn.ctx.Err() != nil {
		return false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.status == StatusConnected && c.conn == conn
}

func (c *Client) pause(ctx context.Context) error {
	if c.debounce <= 0 {
		return ctx.Err()
	}
	return c.sleep(ctx, c.debounce)
}

// watchTokens is the event.from loop. It returns errLegacyFallback when the
// server cannot serve it.
func (c *Client) watchTokens(conn *connection) error {
	ctx := conn.ctx
	c.setEventMode(EventModeToken)

	token := ""
	for c.active(conn) {
		pollCtx, cancel := context.WithTimeout(ctx, c.pollTimeout)
		var batch eventBatch
		err := c.callInto(pollCtx, &batch, "event.from", allClasses, token, eventPollWindow)
		cancel()

		if err != nil {
			switch {
			case ctx.Err() != nil:
				return nil
			case errors.Is(err, context.DeadlineExceeded):
				continue
			case rpc.IsCode(err, rpc.CodeEventsLost):
				metrics.IncEventsLost()
				c.log.Warn().
					Str(log.FieldEvent, "xapi.events.lost").
					Msg("events lost, resynchronizing")
				token = ""
				c.cache.Clear()
				continue
			case rpc.IsCode(err, rpc.CodeMethodUnknown), rpc.StatusOf(err) == http.StatusInternalServerError:
				// A 500 is most likely an oversized response.
				return errLegacyFallback
			default:
				return err
			}
		}

		token = batch.Token
		c.cache.Apply(ctx, batch.Events)

		if n, ok := batch.taskCount(); ok && n != c.cache.TaskCount() {
			c.reconcileTasks(ctx)
		}

		if err := c.pause(ctx); err != nil {
			return nil
		}
	}
	return nil
}

// reconcileTasks makes the cached task set match the server's.
func (c *Client) reconcileTasks(ctx context.Context) {
	var tasks map[string]map[string]any
	if err := c.callInto(ctx, &tasks, "task.get_all_records"); err != nil {
		c.log.Debug().
			Err(err).
			Str(log.FieldEvent, "xapi.tasks.reconcile_failed").
			Msg("task reconciliation failed")
		return
	}
	c.cache.ReplaceType(objects.TypeTask, tasks)
	c.log.Debug().
		Str(log.FieldEvent, "xapi.tasks.reconciled").
		Int("tasks", len(tasks)).
		Msg("task count drift reconciled")
}

// watchLegacy bootstraps the cache from every get_all_records method, then
// loops on event.next.
func (c *Client) watchLegacy(conn *connection) error {
	ctx := conn.ctx
	c.setEventMode(EventModeLegacy)

	if err := c.loadAllObjects(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return err
	}

	for c.active(conn) {
		if err := c.callInto(ctx, nil, "event.register", allClasses); err != nil {
			return ignoreCancel(ctx, err)
		}

		lost, err := c.nextEvents(conn)
		if err != nil || !lost {
			return ignoreCancel(ctx, err)
		}

		metrics.IncEventsLost()
		c.log.Warn().
			Str(log.FieldEvent, "xapi.events.lost").
			Msg("events lost, registering again")
		if err := c.callInto(ctx, nil, "event.unregister", allClasses); err != nil {
			return ignoreCancel(ctx, err)
		}
	}
	return nil
}

// nextEvents loops on event.next until the connection ends or the server
// reports lost events.
func (c *Client) nextEvents(conn *connection) (lost bool, err error) {
	ctx := conn.ctx
	for c.active(conn) {
		var events []objects.Event
		if err := c.callInto(ctx, &events, "event.next"); err != nil {
			if rpc.IsCode(err, rpc.CodeEventsLost) {
				return true, nil
			}
			return false, err
		}
		c.cache.Apply(ctx, events)
		if err := c.pause(ctx); err != nil {
			return false, nil
		}
	}
	return false, nil
}

func (c *Client) loadAllObjects(ctx context.Context) error {
	var methods []string
	if err := c.callInto(ctx, &methods, "system.listMethods"); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(legacyFetchConcurrency)
	for _, method := range methods {
		if !getAllRecordsRE.MatchString(method) {
			continue
		}
		typ := strings.ToLower(method[:strings.IndexByte(method, '.')])
		g.Go(func() error {
			var snapshots map[string]map[string]any
			if err := c.callInto(gctx, &snapshots, method); err != nil {
				if rpc.IsCode(err, rpc.CodeMessageRemoved) {
					return nil
				}
				return err
			}
			for ref, snapshot := range snapshots {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				c.cache.Add(typ, ref, snapshot)
			}
			return nil
		})
	}
	return g.Wait()
}

func ignoreCancel(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return nil
	}
	return err
}
