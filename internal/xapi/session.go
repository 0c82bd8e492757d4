// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package xapi

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/ManuGH/xapiwatch/internal/bus"
	"github.com/ManuGH/xapiwatch/internal/log"
	"github.com/ManuGH/xapiwatch/internal/metrics"
	"github.com/ManuGH/xapiwatch/internal/xapi/rpc"
)

const logoutTimeout = 5 * time.Second

var readOnlyMethodRE = regexp.MustCompile(`^[^.]+\.get_`)

// isReadOnlyCall accepts getters taking a single reference.
func isReadOnlyCall(method string, args []any) bool {
	if len(args) != 1 {
		return false
	}
	if _, ok := args[0].(string); !ok {
		return false
	}
	return readOnlyMethodRE.MatchString(method)
}

// Connect logs in and starts the event watcher when enabled.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	switch c.status {
	case StatusConnected:
		c.mu.Unlock()
		return ErrAlreadyConnected
	case StatusConnecting:
		c.mu.Unlock()
		return ErrAlreadyConnecting
	}
	if c.auth == nil {
		c.mu.Unlock()
		return ErrMissingCredentials
	}
	c.status = StatusConnecting
	host := c.ep.Host()
	c.mu.Unlock()

	sid, err := c.login(ctx)
	if err != nil {
		c.mu.Lock()
		if c.status == StatusConnecting {
			c.status = StatusDisconnected
		}
		c.mu.Unlock()
		metrics.IncLogin("failure")
		c.log.Warn().
			Err(err).
			Str(log.FieldEvent, "xapi.connect.failed").
			Str(log.FieldHost, host).
			Msg("login failed")
		return fmt.Errorf("connect to %s: %w", host, err)
	}

	c.mu.Lock()
	if c.status != StatusConnecting {
		// Disconnect raced with the login.
		c.mu.Unlock()
		c.logoutSession(ctx, sid)
		return ErrDisconnected
	}
	connCtx, cancel := context.WithCancel(context.Background())
	c.conn = &connection{ctx: connCtx, cancel: cancel}
	c.session = sid
	c.status = StatusConnected
	host = c.ep.Host()
	c.mu.Unlock()

	c.cache.Reset()
	metrics.IncLogin("success")
	c.log.Info().
		Str(log.FieldEvent, "xapi.connected").
		Str(log.FieldHost, host).
		Msg("connected")
	c.bus.Publish(bus.Signal{Kind: bus.Connected, Host: host, At: time.Now()})
	return nil
}

// Disconnect logs out (best effort) and tears the connection down. It waits
// for the event watcher to stop, so the cache is empty once it returns nil.
// When ctx ends first the client is still disconnected and ctx.Err() is
// returned.
func (c *Client) Disconnect(ctx context.Context) error {
	sid, conn, host, ok := c.markDisconnected()
	if !ok {
		return ErrAlreadyDisconnected
	}
	if sid != "" {
		c.logoutSession(ctx, sid)
	}
	c.teardown(conn)
	var err error
	if conn != nil && conn.done != nil {
		select {
		case <-conn.done:
		case <-ctx.Done():
			err = ctx.Err()
		}
	}

	c.log.Info().
		Str(log.FieldEvent, "xapi.disconnected").
		Str(log.FieldHost, host).
		Msg("disconnected")
	c.bus.Publish(bus.Signal{Kind: bus.Disconnected, Host: host, At: time.Now()})
	return err
}

// dropConnection marks the client disconnected after a fatal transport
// failure. The server is unreachable so there is no logout.
func (c *Client) dropConnection(cause error) {
	c.mu.RLock()
	connected := c.status == StatusConnected
	c.mu.RUnlock()
	if !connected {
		return
	}

	_, conn, host, ok := c.markDisconnected()
	if !ok {
		return
	}
	c.teardown(conn)
	c.log.Warn().
		Err(cause).
		Str(log.FieldEvent, "xapi.disconnected").
		Str(log.FieldHost, host).
		Msg("connection lost")
	c.bus.Publish(bus.Signal{Kind: bus.Disconnected, Host: host, At: time.Now()})
}

func (c *Client) markDisconnected() (sid string, conn *connection, host string, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.status == StatusDisconnected {
		return "", nil, "", false
	}
	if c.status == StatusConnected {
		sid = c.session
	}
	conn = c.conn
	host = c.ep.Host()
	c.status = StatusDisconnected
	c.session = ""
	c.conn = nil
	return sid, conn, host, true
}

// teardown stops background work of conn, rejects pending futures and
// clears the cache. A running watcher clears it again when it exits.
func (c *Client) teardown(conn *connection) {
	if conn != nil {
		conn.cancel()
	}
	c.rejectWatchers(ErrDisconnected)
	c.cancelBarriers()
	c.cache.Clear()
}

func (c *Client) logoutSession(ctx context.Context, sid string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), logoutTimeout)
	defer cancel()
	c.bestEffort(ctx, "session.logout", func(ctx context.Context) error {
		_, err := c.logout(ctx, "session.logout", []any{sid})
		return err
	})
}

func (c *Client) login(ctx context.Context) (string, error) {
	c.mu.RLock()
	auth := c.auth
	c.mu.RUnlock()

	res, err := c.call(ctx, "session.login_with_password", []any{auth.Username, auth.Password})
	if err != nil {
		return "", err
	}
	var sid string
	if err := json.Unmarshal(res, &sid); err != nil {
		return "", &rpc.Error{Code: rpc.CodeBadResponse, Params: []string{}, Method: "session.login_with_password", Err: err}
	}
	return sid, nil
}

// renewSession replaces a session the server no longer knows. Concurrent
// callers that saw the same stale session share a single login.
func (c *Client) renewSession(ctx context.Context, stale string) error {
	_, err, _ := c.relogin.Do("login", func() (any, error) {
		c.mu.RLock()
		status, current := c.status, c.session
		c.mu.RUnlock()
		if status != StatusConnected {
			return nil, ErrNotConnected
		}
		if current != stale {
			return nil, nil
		}

		c.log.Info().
			Str(log.FieldEvent, "xapi.session.renew").
			Msg("the session has been reinitialized, logging in again")
		sid, err := c.login(ctx)
		if err != nil {
			metrics.IncLogin("failure")
			return nil, err
		}

		c.mu.Lock()
		if c.status == StatusConnected && c.session == stale {
			c.session = sid
		}
		c.mu.Unlock()
		metrics.IncLogin("renewed")
		return nil, nil
	})
	return err
}

// sessionCall prepends the session token and recovers once from an
// invalidated session.
func (c *Client) sessionCall(ctx context.Context, method string, params []any) (json.RawMessage, error) {
	if strings.HasPrefix(method, "session.") {
		return nil, fmt.Errorf("%s: %w", method, ErrSessionMethod)
	}

	sid := c.SessionID()
	if sid == "" {
		return nil, fmt.Errorf("%s: %w", method, ErrNotConnected)
	}

	res, err := c.call(ctx, method, withSession(sid, params))
	if err == nil || !rpc.IsCode(err, rpc.CodeSessionInvalid) {
		return res, err
	}

	if err := c.renewSession(ctx, sid); err != nil {
		return nil, fmt.Errorf("%s: renew session: %w", method, err)
	}
	sid = c.SessionID()
	if sid == "" {
		return nil, fmt.Errorf("%s: %w", method, ErrNotConnected)
	}
	return c.call(ctx, method, withSession(sid, params))
}

func withSession(sid string, params []any) []any {
	out := make([]any, 0, len(params)+1)
	out = append(out, sid)
	return append(out, params...)
}

// Call invokes method with args and returns the raw JSON result. Integers
// are sent as decimal strings and nil map entries are dropped.
func (c *Client) Call(ctx context.Context, method string, args ...any) (json.RawMessage, error) {
	if c.ReadOnly() && !isReadOnlyCall(method, args) {
		return nil, fmt.Errorf("cannot call %s(): %w", method, ErrReadOnly)
	}
	return c.sessionCall(ctx, method, rpc.PrepareParams(args))
}

// CallInto is Call followed by decoding the result into out.
func (c *Client) CallInto(ctx context.Context, out any, method string, args ...any) error {
	res, err := c.Call(ctx, method, args...)
	if err != nil {
		return err
	}
	return decodeResult(method, res, out)
}

// callInto bypasses the read-only gate for the client's own reads.
func (c *Client) callInto(ctx context.Context, out any, method string, args ...any) error {
	res, err := c.sessionCall(ctx, method, rpc.PrepareParams(args))
	if err != nil {
		return err
	}
	return decodeResult(method, res, out)
}

func decodeResult(method string, res json.RawMessage, out any) error {
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(res, out); err != nil {
		return &rpc.Error{Code: rpc.CodeBadResponse, Params: []string{}, Method: method, Err: err}
	}
	return nil
}
