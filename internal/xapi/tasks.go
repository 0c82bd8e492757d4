// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package xapi

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel/trace"

	"github.com/ManuGH/xapiwatch/internal/log"
	"github.com/ManuGH/xapiwatch/internal/metrics"
	"github.com/ManuGH/xapiwatch/internal/telemetry"
	"github.com/ManuGH/xapiwatch/internal/xapi/objects"
	"github.com/ManuGH/xapiwatch/internal/xapi/record"
	"github.com/ManuGH/xapiwatch/internal/xapi/rpc"
)

// Task status values.
const (
	TaskPending   = "pending"
	TaskSuccess   = "success"
	TaskFailure   = "failure"
	TaskCancelled = "cancelled"
)

// TaskFuture settles once with the terminal outcome of a server task.
type TaskFuture struct {
	ref    string
	done   chan struct{}
	once   sync.Once
	result string
	err    error
}

func newTaskFuture(ref string) *TaskFuture {
	return &TaskFuture{ref: ref, done: make(chan struct{})}
}

// Ref is the task reference.
func (f *TaskFuture) Ref() string { return f.ref }

// Done is closed when the future has settled.
func (f *TaskFuture) Done() <-chan struct{} { return f.done }

// Wait blocks until the task settles or ctx ends. On success it returns the
// task result: "", an opaque reference or an encoded value.
func (f *TaskFuture) Wait(ctx context.Context) (string, error) {
	select {
	case <-f.done:
		return f.result, f.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Err returns the settled error, or nil while pending.
func (f *TaskFuture) Err() error {
	select {
	case <-f.done:
		return f.err
	default:
		return nil
	}
}

func (f *TaskFuture) settle(result string, err error) bool {
	settled := false
	f.once.Do(func() {
		f.result, f.err = result, err
		close(f.done)
		settled = true
	})
	return settled
}

// taskOutcome maps a terminal task to its result; done is false while the
// task is still running.
func taskOutcome(task *record.Record) (done bool, result string, err error) {
	switch task.String("status") {
	case TaskSuccess:
		return true, task.String("result"), nil
	case TaskFailure:
		info, _ := task.Get("error_info")
		e := rpc.Normalize(info)
		e.Task = task
		return true, "", e
	case TaskCancelled:
		return true, "", fmt.Errorf("task %s: %w", task.Ref(), ErrTaskCancelled)
	default:
		return false, "", nil
	}
}

// WatchTask returns a future for the task at ref. A task already cached in
// a terminal state yields a settled future. The client must be connected.
func (c *Client) WatchTask(ref string) (*TaskFuture, error) {
	if !c.watchEvents {
		return nil, ErrEventsDisabled
	}

	c.tasksMu.Lock()
	defer c.tasksMu.Unlock()

	// A disconnect flips the status before rejecting watchers under
	// tasksMu, so a waiter registered here is always rejected or settled.
	if c.Status() != StatusConnected {
		return nil, ErrNotConnected
	}
	if f, ok := c.watchers[ref]; ok {
		return f, nil
	}
	// Checked under tasksMu so a concurrent settlement cannot slip between
	// the lookup and the registration.
	if task := c.cache.ByRef(ref); task != nil && task.Type() == objects.TypeTask {
		if done, result, err := taskOutcome(task); done {
			f := newTaskFuture(ref)
			f.settle(result, err)
			return f, nil
		}
	}

	f := newTaskFuture(ref)
	c.watchers[ref] = f
	metrics.SetTasksWatched(len(c.watchers))
	return f, nil
}

// settleTask is the cache hook for task inserts.
func (c *Client) settleTask(task *record.Record) {
	done, result, err := taskOutcome(task)
	if !done {
		return
	}
	c.tasksMu.Lock()
	f, found := c.watchers[task.Ref()]
	if found {
		delete(c.watchers, task.Ref())
		metrics.SetTasksWatched(len(c.watchers))
	}
	c.tasksMu.Unlock()

	if found {
		f.settle(result, err)
	}
}

// onRemove is the cache hook for removals.
func (c *Client) onRemove(_ string, ref string, _ *record.Record) {
	c.tasksMu.Lock()
	f, found := c.watchers[ref]
	if found {
		delete(c.watchers, ref)
		metrics.SetTasksWatched(len(c.watchers))
	}
	c.tasksMu.Unlock()

	if found {
		f.settle("", fmt.Errorf("task %s: %w", ref, ErrTaskDestroyed))
	}
}

func (c *Client) rejectWatchers(err error) {
	c.tasksMu.Lock()
	pending := c.watchers
	c.watchers = make(map[string]*TaskFuture)
	metrics.SetTasksWatched(0)
	c.tasksMu.Unlock()

	for ref, f := range pending {
		f.settle("", fmt.Errorf("task %s: %w", ref, err))
	}
}

// backgroundContext returns the context of the live connection, or an
// already cancelled one.
func (c *Client) backgroundContext() context.Context {
	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()
	if conn != nil {
		return conn.ctx
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	return ctx
}

// destroyAfter destroys the task once f settles.
func (c *Client) destroyAfter(f *TaskFuture) {
	ctx := c.backgroundContext()
	go func() {
		<-f.Done()
		c.bestEffort(ctx, "task.destroy", func(ctx context.Context) error {
			return c.callInto(ctx, nil, "task.destroy", f.Ref())
		})
	}()
}

// CreateTask creates a throwaway task and destroys it once it settles.
func (c *Client) CreateTask(ctx context.Context, label, description string) (*TaskFuture, error) {
	if !c.watchEvents {
		return nil, ErrEventsDisabled
	}
	var ref string
	if err := c.callInto(ctx, &ref, "task.create", label, description); err != nil {
		return nil, err
	}
	f, err := c.WatchTask(ref)
	if err != nil {
		return nil, err
	}
	c.destroyAfter(f)
	c.log.Debug().
		Str(log.FieldEvent, "xapi.task.created").
		Str(log.FieldTaskRef, ref).
		Msg("task created")
	return f, nil
}

// CallAsync runs method under the Async namespace and waits for its task.
// Cancelling ctx cancels the server task (best effort) and returns
// ctx.Err(). The task is destroyed once settled in every case.
func (c *Client) CallAsync(ctx context.Context, method string, args ...any) (string, error) {
	if c.ReadOnly() && !isReadOnlyCall(method, args) {
		return "", fmt.Errorf("cannot call %s(): %w", method, ErrReadOnly)
	}
	if !c.watchEvents {
		return "", ErrEventsDisabled
	}

	res, err := c.sessionCall(ctx, "Async."+method, rpc.PrepareParams(args))
	if err != nil {
		return "", err
	}
	var ref string
	if err := json.Unmarshal(res, &ref); err != nil {
		return "", &rpc.Error{Code: rpc.CodeBadResponse, Params: []string{}, Method: "Async." + method, Err: err}
	}
	span := trace.SpanFromContext(ctx)
	span.SetAttributes(telemetry.TaskAttributes(ref, "")...)

	f, err := c.WatchTask(ref)
	if err != nil {
		return "", err
	}
	c.destroyAfter(f)

	select {
	case <-f.Done():
		result, err := f.Wait(context.Background())
		status := TaskSuccess
		if err != nil {
			status = TaskFailure
		}
		span.SetAttributes(telemetry.TaskAttributes(ref, status)...)
		return result, err
	case <-ctx.Done():
		bg := c.backgroundContext()
		go c.bestEffort(bg, "task.cancel", func(ctx context.Context) error {
			return c.callInto(ctx, nil, "task.cancel", ref)
		})
		return "", ctx.Err()
	}
}
