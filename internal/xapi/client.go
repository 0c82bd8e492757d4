// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package xapi is a long-lived client for the hypervisor management API. It
// keeps an authenticated session, mirrors the remote objects into a live
// cache fed by the event stream, turns server tasks into futures and
// exposes the raw resource transfer endpoints.
package xapi

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/ManuGH/xapiwatch/internal/bus"
	"github.com/ManuGH/xapiwatch/internal/log"
	"github.com/ManuGH/xapiwatch/internal/platform/httpx"
	"github.com/ManuGH/xapiwatch/internal/xapi/endpoint"
	"github.com/ManuGH/xapiwatch/internal/xapi/objects"
	"github.com/ManuGH/xapiwatch/internal/xapi/record"
	"github.com/ManuGH/xapiwatch/internal/xapi/rpc"
)

// DefaultDebounce is the pause between two event batches.
const DefaultDebounce = 200 * time.Millisecond

// Status is the session state.
type Status string

const (
	StatusDisconnected Status = "disconnected"
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
)

// Credentials authenticate the session.
type Credentials struct {
	Username string
	Password string
}

// Subscription binds a handler to a lifecycle signal.
type Subscription struct {
	Kind    bus.Kind
	Handler bus.Handler
}

// Options configures a Client.
type Options struct {
	// URL is "[http[s]://][user:password@]host[:port]".
	URL string
	// Auth overrides credentials embedded in URL.
	Auth *Credentials
	// ReadOnly permits only single-reference get_* calls.
	ReadOnly bool
	// WatchEvents mirrors remote objects into the cache while connected.
	WatchEvents bool
	// Debounce is the pause between event batches. Zero selects
	// DefaultDebounce, a negative value disables it.
	Debounce time.Duration
	// AllowUnauthorized disables TLS certificate verification.
	AllowUnauthorized bool
	// RateLimit caps outgoing calls per second; zero means unlimited.
	RateLimit float64
	RateBurst int
	// HTTPClient carries RPCs and resource transfers. Built from
	// AllowUnauthorized when nil.
	HTTPClient *http.Client
	// TransportFactory builds the wire transport for an endpoint.
	// Defaults to JSON-RPC over HTTPClient.
	TransportFactory rpc.Factory
	// Logger replaces the component logger.
	Logger *zerolog.Logger
	// Subscriptions are registered before the client is returned.
	Subscriptions []Subscription
}

// connection is the state owned by one connected session.
type connection struct {
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{} // closed when the event watcher exits, nil if none
}

// Client is safe for concurrent use.
type Client struct {
	id       string
	log      zerolog.Logger
	auth     *Credentials
	bus      *bus.Bus
	http     *http.Client
	factory  rpc.Factory
	limiter  *rate.Limiter
	readOnly atomic.Bool
	insecure bool

	watchEvents bool
	debounce    time.Duration
	pollTimeout time.Duration
	sleep       func(context.Context, time.Duration) error

	mu        sync.RWMutex
	ep        endpoint.Endpoint
	transport rpc.Transport
	status    Status
	session   string
	conn      *connection
	eventMode string

	call    CallFunc // full pipeline
	logout  CallFunc // pipeline without retry, for cleanup
	relogin singleflight.Group

	cache *objects.Cache

	tasksMu  sync.Mutex
	watchers map[string]*TaskFuture

	barriersMu sync.Mutex
	barriers   map[string]chan struct{}
}

// New builds a disconnected client.
func New(opts Options) (*Client, error) {
	ep, err := endpoint.Parse(opts.URL)
	if err != nil {
		return nil, err
	}

	auth := opts.Auth
	if auth == nil && ep.HasCredentials() {
		auth = &Credentials{Username: ep.Username, Password: ep.Password}
	}
	ep = ep.WithoutCredentials()

	c := &Client{
		id:          uuid.NewString(),
		auth:        auth,
		bus:         bus.New(),
		http:        opts.HTTPClient,
		factory:     opts.TransportFactory,
		insecure:    opts.AllowUnauthorized,
		watchEvents: opts.WatchEvents,
		debounce:    opts.Debounce,
		pollTimeout: eventPollTimeout,
		sleep:       sleepWithContext,
		ep:          ep,
		status:      StatusDisconnected,
		eventMode:   EventModeStopped,
		watchers:    make(map[string]*TaskFuture),
		barriers:    make(map[string]chan struct{}),
	}
	if c.debounce == 0 {
		c.debounce = DefaultDebounce
	}
	c.readOnly.Store(opts.ReadOnly)

	if opts.Logger != nil {
		c.log = opts.Logger.With().Str(log.FieldComponent, "xapi").Logger()
	} else {
		c.log = log.WithComponent("xapi")
	}
	c.log = c.log.With().Str(log.FieldClientID, c.id).Logger()

	if c.http == nil {
		c.http = httpx.NewClient(httpx.Options{
			AllowUnauthorized: opts.AllowUnauthorized,
			Traced:            true,
		})
	}
	if c.factory == nil {
		client := c.http
		c.factory = func(ep endpoint.Endpoint) rpc.Transport {
			return rpc.NewJSONRPC(ep, client)
		}
	}
	c.transport = c.factory(ep)

	if opts.RateLimit > 0 {
		burst := opts.RateBurst
		if burst <= 0 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), burst)
	}

	c.call = Chain(c.invoke, c.withRetry, c.withRedirect, c.withTrace)
	c.logout = Chain(c.invoke, c.withTrace)

	c.cache = objects.New(c, objects.Hooks{
		OnPool:   c.resolveBarriers,
		OnTask:   c.settleTask,
		OnRemove: c.onRemove,
	})

	if err := c.bus.Subscribe(bus.Connected, func(bus.Signal) { c.startWatcher() }); err != nil {
		return nil, err
	}
	for _, s := range opts.Subscriptions {
		if err := c.bus.Subscribe(s.Kind, s.Handler); err != nil {
			return nil, fmt.Errorf("subscribe %s: %w", s.Kind, err)
		}
	}
	c.bus.Seal()

	return c, nil
}

// ID identifies this client instance in logs.
func (c *Client) ID() string { return c.id }

// Status returns the session state.
func (c *Client) Status() Status {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.status
}

// SessionID returns the session token, or "" unless connected.
func (c *Client) SessionID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.status != StatusConnected {
		return ""
	}
	return c.session
}

// Endpoint returns the current endpoint, without credentials. Its host
// changes when the client follows a master redirect.
func (c *Client) Endpoint() endpoint.Endpoint {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.ep
}

// ReadOnly reports whether mutating calls are refused.
func (c *Client) ReadOnly() bool { return c.readOnly.Load() }

// SetReadOnly toggles read-only mode at runtime.
func (c *Client) SetReadOnly(ro bool) {
	if c.readOnly.Swap(ro) != ro {
		c.log.Info().
			Str(log.FieldEvent, "xapi.read_only").
			Bool("read_only", ro).
			Msg("read only mode changed")
	}
}

// WatchesEvents reports whether the object cache is maintained.
func (c *Client) WatchesEvents() bool { return c.watchEvents }

// EventMode returns "token", "legacy" or "stopped".
func (c *Client) EventMode() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.eventMode
}

// Pool returns the cached pool record, or nil.
func (c *Client) Pool() *record.Record {
	return c.cache.Pool()
}

// GetObject looks key up as a uuid first, then as an opaque reference.
func (c *Client) GetObject(key string) (*record.Record, error) {
	if !c.watchEvents {
		return nil, ErrEventsDisabled
	}
	if rec := c.cache.Get(key); rec != nil {
		return rec, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrNoSuchObject, key)
}

// GetObjectByRef returns the cached record at ref.
func (c *Client) GetObjectByRef(ref string) (*record.Record, error) {
	if !c.watchEvents {
		return nil, ErrEventsDisabled
	}
	if rec := c.cache.ByRef(ref); rec != nil {
		return rec, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrNoSuchObject, ref)
}

// GetObjectByUUID returns the cached record with the given uuid.
func (c *Client) GetObjectByUUID(id string) (*record.Record, error) {
	if !c.watchEvents {
		return nil, ErrEventsDisabled
	}
	if rec := c.cache.ByID(id); rec != nil {
		return rec, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrNoSuchObject, id)
}

// Objects returns the cached records of typ, or all of them when typ is "".
func (c *Client) Objects(typ string) []*record.Record {
	if typ == "" {
		return c.cache.All()
	}
	return c.cache.OfType(typ)
}

// ObjectCount returns the number of cached objects.
func (c *Client) ObjectCount() int {
	return c.cache.Len()
}

// GetRecord fetches a fresh snapshot with <typ>.get_record. The result is
// not inserted into the cache.
func (c *Client) GetRecord(ctx context.Context, typ, ref string) (*record.Record, error) {
	var snapshot map[string]any
	if err := c.callInto(ctx, &snapshot, typ+".get_record", ref); err != nil {
		return nil, err
	}
	return c.cache.Registry().Wrap(typ, ref, snapshot), nil
}

// GetRecordByUUID resolves uuid with <typ>.get_by_uuid, then fetches the record.
func (c *Client) GetRecordByUUID(ctx context.Context, typ, id string) (*record.Record, error) {
	var ref string
	if err := c.callInto(ctx, &ref, typ+".get_by_uuid", id); err != nil {
		return nil, err
	}
	return c.GetRecord(ctx, typ, ref)
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
