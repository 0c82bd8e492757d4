// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package xapitest

import (
	"context"
	"strconv"
	"sync"

	"github.com/ManuGH/xapiwatch/internal/xapi/objects"
)

// Feed serves event.from from a queue of batches. A poll with nothing
// queued blocks until a batch is pushed or the request is abandoned.
type Feed struct {
	mu        sync.Mutex
	queue     []feedItem
	wake      chan struct{}
	tokens    []string
	seq       int
	tasks     map[string]struct{}
	taskDrift int
}

type feedItem struct {
	events []objects.Event
	err    error
}

// NewFeed returns a feed registered as the event.from handler of s.
func NewFeed(s *Server) *Feed {
	f := &Feed{
		wake:  make(chan struct{}),
		tasks: make(map[string]struct{}),
	}
	s.Handle("event.from", f.serve)
	return f
}

// Push queues one batch.
func (f *Feed) Push(events ...objects.Event) {
	f.enqueue(feedItem{events: events})
}

// Fail queues an error reply.
func (f *Feed) Fail(err error) {
	f.enqueue(feedItem{err: err})
}

// SkewTaskCount makes every following batch report n extra live tasks.
func (f *Feed) SkewTaskCount(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.taskDrift = n
}

// Tokens returns the token of every poll received so far.
func (f *Feed) Tokens() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.tokens...)
}

func (f *Feed) enqueue(item feedItem) {
	f.mu.Lock()
	f.queue = append(f.queue, item)
	close(f.wake)
	f.wake = make(chan struct{})
	f.mu.Unlock()
}

func (f *Feed) serve(ctx context.Context, params []any) (any, error) {
	token := ""
	if len(params) > 2 {
		token, _ = params[2].(string)
	}

	f.mu.Lock()
	f.tokens = append(f.tokens, token)
	for len(f.queue) == 0 {
		wake := f.wake
		f.mu.Unlock()
		select {
		case <-wake:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		f.mu.Lock()
	}
	item := f.queue[0]
	f.queue = f.queue[1:]
	defer f.mu.Unlock()

	if item.err != nil {
		return nil, item.err
	}

	for _, ev := range item.events {
		if ev.Class != objects.TypeTask {
			continue
		}
		if ev.Operation == objects.OpDel {
			delete(f.tasks, ev.Ref)
		} else {
			f.tasks[ev.Ref] = struct{}{}
		}
	}
	f.seq++

	events := item.events
	if events == nil {
		events = []objects.Event{}
	}
	return map[string]any{
		"events": events,
		"token":  strconv.Itoa(f.seq),
		"valid_ref_counts": map[string]any{
			objects.TypeTask: len(f.tasks) + f.taskDrift,
		},
	}, nil
}

// Snapshot is a helper for building event snapshots.
type Snapshot = map[string]any

// Add returns an add event.
func Add(class, ref string, snapshot Snapshot) objects.Event {
	return objects.Event{Class: class, Ref: ref, Operation: objects.OpAdd, Snapshot: snapshot}
}

// Mod returns a mod event.
func Mod(class, ref string, snapshot Snapshot) objects.Event {
	return objects.Event{Class: class, Ref: ref, Operation: objects.OpMod, Snapshot: snapshot}
}

// Del returns a del event.
func Del(class, ref string) objects.Event {
	return objects.Event{Class: class, Ref: ref, Operation: objects.OpDel}
}
