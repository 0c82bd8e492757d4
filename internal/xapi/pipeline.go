// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package xapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ManuGH/xapiwatch/internal/bus"
	"github.com/ManuGH/xapiwatch/internal/log"
	"github.com/ManuGH/xapiwatch/internal/metrics"
	"github.com/ManuGH/xapiwatch/internal/telemetry"
	"github.com/ManuGH/xapiwatch/internal/xapi/rpc"
)

// CallFunc performs one method call with already prepared parameters.
type CallFunc func(ctx context.Context, method string, params []any) (json.RawMessage, error)

// Middleware decorates a CallFunc.
type Middleware func(CallFunc) CallFunc

// Chain wraps base with mws. The first middleware is the innermost one.
func Chain(base CallFunc, mws ...Middleware) CallFunc {
	call := base
	for _, mw := range mws {
		call = mw(call)
	}
	return call
}

const (
	retryUnit      = time.Second
	maxRetryDelay  = 60 * time.Second
	maxRetries     = 10
	maxRedirects   = 16
	tracerName     = "github.com/ManuGH/xapiwatch/internal/xapi"
	spanNamePrefix = "xapi."
)

// retryDelays is the Fibonacci backoff: 1, 1, 2, 3, 5, ... seconds, each
// step capped at maxRetryDelay.
var retryDelays = fibonacciDelays(maxRetries, retryUnit, maxRetryDelay)

func fibonacciDelays(n int, unit, limit time.Duration) []time.Duration {
	out := make([]time.Duration, 0, n)
	a, b := time.Duration(1), time.Duration(1)
	for i := 0; i < n; i++ {
		d := a * unit
		if d > limit {
			d = limit
		}
		out = append(out, d)
		a, b = b, a+b
	}
	return out
}

// invoke is the raw stage: it runs the wire call on the current transport
// and normalizes every failure into an *rpc.Error naming the method.
func (c *Client) invoke(ctx context.Context, method string, params []any) (json.RawMessage, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	c.mu.RLock()
	transport := c.transport
	c.mu.RUnlock()

	res, err := transport.Call(ctx, method, params)
	if err != nil {
		e := rpc.Wrap(err)
		if e.Method == "" {
			e.Method = method
		}
		return nil, e
	}
	return res, nil
}

func isRetryable(err error) bool {
	return rpc.IsNetworkError(err) || rpc.IsHostNotReady(err)
}

// withRetry retries connectivity and host-not-ready failures. When the
// backoff is exhausted the connection is dropped and the error propagated.
func (c *Client) withRetry(next CallFunc) CallFunc {
	return func(ctx context.Context, method string, params []any) (json.RawMessage, error) {
		for attempt := 0; ; attempt++ {
			res, err := next(ctx, method, params)
			if err == nil || !isRetryable(err) {
				return res, err
			}

			code := rpc.CodeOf(err)
			if attempt >= len(retryDelays) {
				c.log.Warn().
					Err(err).
					Str(log.FieldEvent, "xapi.call.retries_exhausted").
					Str(log.FieldMethod, method).
					Int(log.FieldAttempt, attempt+1).
					Msg("giving up after repeated failures")
				c.dropConnection(err)
				return nil, err
			}

			delay := retryDelays[attempt]
			metrics.IncCallRetry(code)
			c.log.Debug().
				Str(log.FieldEvent, "xapi.call.retry").
				Str(log.FieldMethod, method).
				Str(log.FieldCode, code).
				Int(log.FieldAttempt, attempt+1).
				Dur(log.FieldDelay, delay).
				Msg("retrying call")

			if err := c.sleep(ctx, delay); err != nil {
				return nil, err
			}
		}
	}
}

// withRedirect follows HOST_IS_SLAVE replies to the pool master.
func (c *Client) withRedirect(next CallFunc) CallFunc {
	return func(ctx context.Context, method string, params []any) (json.RawMessage, error) {
		for hops := 0; ; hops++ {
			res, err := next(ctx, method, params)
			var e *rpc.Error
			if err == nil || !errors.As(err, &e) || e.Code != rpc.CodeHostIsSlave || len(e.Params) == 0 {
				return res, err
			}
			if hops >= maxRedirects {
				return nil, fmt.Errorf("%s: too many redirects: %w", method, err)
			}
			c.redirect(e.Params[0])
		}
	}
}

// redirect points the client at master and rebuilds the transport.
func (c *Client) redirect(master string) {
	c.mu.Lock()
	c.ep = c.ep.WithHostname(master)
	c.transport = c.factory(c.ep)
	c.mu.Unlock()

	metrics.IncRedirect()
	c.log.Info().
		Str(log.FieldEvent, "xapi.redirect").
		Str(log.FieldHost, master).
		Msg("host is slave, switching to pool master")
	c.bus.Publish(bus.Signal{Kind: bus.Redirect, Host: master, At: time.Now()})
}

// withTrace records duration and outcome. It does not alter control flow.
func (c *Client) withTrace(next CallFunc) CallFunc {
	tracer := telemetry.Tracer(tracerName)
	return func(ctx context.Context, method string, params []any) (json.RawMessage, error) {
		host := c.Endpoint().Host()
		ctx, span := tracer.Start(ctx, spanNamePrefix+method,
			trace.WithSpanKind(trace.SpanKindClient),
			trace.WithAttributes(telemetry.RPCAttributes(method, host)...),
		)
		defer span.End()

		start := time.Now()
		res, err := next(ctx, method, params)
		dur := time.Since(start)

		metrics.ObserveCall(method, dur, err)
		evt := c.log.Debug()
		if err != nil {
			code := rpc.CodeOf(err)
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			span.SetAttributes(telemetry.ErrorAttributes(code)...)
			evt = evt.Err(err).Str(log.FieldCode, code).Str(log.FieldResult, "error")
		} else {
			span.SetStatus(codes.Ok, "")
			evt = evt.Str(log.FieldResult, "ok")
		}
		evt.Str(log.FieldEvent, "xapi.call").
			Str(log.FieldMethod, method).
			Str(log.FieldHost, host).
			Dur(log.FieldDuration, dur).
			Msg("call")

		return res, err
	}
}
