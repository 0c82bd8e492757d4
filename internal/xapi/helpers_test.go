// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package xapi

import (
	"context"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/xapiwatch/internal/bus"
	"github.com/ManuGH/xapiwatch/internal/xapi/xapitest"
)

const waitFor = 2 * time.Second
const tick = 5 * time.Millisecond

func noSleep(ctx context.Context, _ time.Duration) error { return ctx.Err() }

// newTestClient builds a client against srv. Keep-alives are off so no
// transport goroutine outlives a test.
func newTestClient(t *testing.T, srv *xapitest.Server, mutate func(*Options)) *Client {
	t.Helper()
	nop := zerolog.Nop()
	opts := Options{
		URL:        srv.URLWithCredentials(),
		Debounce:   -1,
		Logger:     &nop,
		HTTPClient: &http.Client{Transport: &http.Transport{DisableKeepAlives: true}},
	}
	if mutate != nil {
		mutate(&opts)
	}
	c, err := New(opts)
	require.NoError(t, err)
	c.sleep = noSleep
	t.Cleanup(func() {
		if c.Status() != StatusDisconnected {
			_ = c.Disconnect(context.Background())
		}
	})
	return c
}

func connect(t *testing.T, c *Client) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	require.NoError(t, c.Connect(ctx))
}

// signalRecorder collects lifecycle signals.
type signalRecorder struct {
	mu      sync.Mutex
	signals []bus.Signal
}

func (r *signalRecorder) handle(s bus.Signal) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.signals = append(r.signals, s)
}

func (r *signalRecorder) subscriptions() []Subscription {
	return []Subscription{
		{Kind: bus.Connected, Handler: r.handle},
		{Kind: bus.Disconnected, Handler: r.handle},
		{Kind: bus.Redirect, Handler: r.handle},
	}
}

func (r *signalRecorder) count(kind bus.Kind) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, s := range r.signals {
		if s.Kind == kind {
			n++
		}
	}
	return n
}

func (r *signalRecorder) last(kind bus.Kind) (bus.Signal, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.signals) - 1; i >= 0; i-- {
		if r.signals[i].Kind == kind {
			return r.signals[i], true
		}
	}
	return bus.Signal{}, false
}
