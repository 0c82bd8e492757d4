// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package bus carries client lifecycle signals to subscribers registered
// while the client is being constructed.
package bus

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ManuGH/xapiwatch/internal/log"
	"github.com/ManuGH/xapiwatch/internal/metrics"
)

// Kind enumerates the signals a client emits.
type Kind string

const (
	Connected    Kind = "connected"
	Disconnected Kind = "disconnected"
	Redirect     Kind = "redirect"
)

var kinds = map[Kind]struct{}{
	Connected:    {},
	Disconnected: {},
	Redirect:     {},
}

// ErrSealed is returned when subscribing after construction has finished.
var ErrSealed = errors.New("bus: subscriptions are closed")

// Signal is one lifecycle notification.
type Signal struct {
	Kind Kind
	Host string // endpoint host at emission time; the new master for Redirect
	At   time.Time
}

// Handler receives signals synchronously, in subscription order.
type Handler func(Signal)

// Bus is a fixed-kind, synchronous signal dispatcher.
type Bus struct {
	mu     sync.RWMutex
	subs   map[Kind][]Handler
	sealed bool
}

func New() *Bus {
	return &Bus{subs: make(map[Kind][]Handler)}
}

// Subscribe registers h for kind. It fails once the bus is sealed.
func (b *Bus) Subscribe(kind Kind, h Handler) error {
	if _, ok := kinds[kind]; !ok {
		return fmt.Errorf("bus: unknown signal kind %q", kind)
	}
	if h == nil {
		return fmt.Errorf("bus: nil handler for %q", kind)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.sealed {
		return ErrSealed
	}
	b.subs[kind] = append(b.subs[kind], h)
	return nil
}

// SubscribeAll registers h for every kind.
func (b *Bus) SubscribeAll(h Handler) error {
	for _, k := range []Kind{Connected, Disconnected, Redirect} {
		if err := b.Subscribe(k, h); err != nil {
			return err
		}
	}
	return nil
}

// Seal closes the subscription list.
func (b *Bus) Seal() {
	b.mu.Lock()
	b.sealed = true
	b.mu.Unlock()
}

// Publish dispatches s to every handler of its kind. A panicking handler is
// logged and does not prevent the others from running.
func (b *Bus) Publish(s Signal) {
	if s.At.IsZero() {
		s.At = time.Now()
	}
	b.mu.RLock()
	hs := append([]Handler(nil), b.subs[s.Kind]...)
	b.mu.RUnlock()

	metrics.IncSignal(string(s.Kind))
	for _, h := range hs {
		dispatch(h, s)
	}
}

func dispatch(h Handler, s Signal) {
	defer func() {
		if r := recover(); r != nil {
			log.L().Error().
				Str(log.FieldEvent, "bus.handler_panic").
				Str("kind", string(s.Kind)).
				Interface("panic", r).
				Msg("signal handler panicked")
		}
	}()
	h(s)
}
