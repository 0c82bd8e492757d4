// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package httpx builds the HTTP clients used for RPC and resource transfers.
package httpx

import (
	"crypto/tls"
	"net"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const (
	defaultDialTimeout           = 10 * time.Second
	defaultTLSHandshakeTimeout   = 10 * time.Second
	defaultIdleConnTimeout       = 90 * time.Second
	defaultExpectContinueTimeout = 1 * time.Second
	defaultMaxIdleConns          = 32
	defaultMaxIdleConnsPerHost   = 8
)

// Options configures a client.
type Options struct {
	// Timeout bounds a whole exchange. Zero leaves it to the request context,
	// which long-polling RPCs rely on.
	Timeout time.Duration
	// AllowUnauthorized disables TLS certificate verification.
	AllowUnauthorized bool
	// NoRedirects returns 3xx responses to the caller instead of following them.
	NoRedirects bool
	// Traced wraps the transport with OpenTelemetry instrumentation.
	Traced bool
}

// TLSConfig returns the TLS settings for the verification toggle.
func TLSConfig(allowUnauthorized bool) *tls.Config {
	return &tls.Config{
		MinVersion:         tls.VersionTLS12,
		InsecureSkipVerify: allowUnauthorized, // #nosec G402 -- operator opt-in for self-signed pool certificates
	}
}

// NewTransport returns the hardened base transport.
func NewTransport(allowUnauthorized bool) *http.Transport {
	return &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: defaultDialTimeout, KeepAlive: 30 * time.Second}).DialContext,
		ForceAttemptHTTP2:     false,
		MaxIdleConns:          defaultMaxIdleConns,
		MaxIdleConnsPerHost:   defaultMaxIdleConnsPerHost,
		IdleConnTimeout:       defaultIdleConnTimeout,
		TLSHandshakeTimeout:   defaultTLSHandshakeTimeout,
		ExpectContinueTimeout: defaultExpectContinueTimeout,
		TLSClientConfig:       TLSConfig(allowUnauthorized),
	}
}

// NewClient returns a client configured by opts.
func NewClient(opts Options) *http.Client {
	var rt http.RoundTripper = NewTransport(opts.AllowUnauthorized)
	if opts.Traced {
		rt = otelhttp.NewTransport(rt)
	}

	c := &http.Client{
		Timeout:   opts.Timeout,
		Transport: rt,
	}
	if opts.NoRedirects {
		c.CheckRedirect = func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		}
	}
	return c
}

// WithoutRedirects returns a shallow copy of c that does not follow redirects.
func WithoutRedirects(c *http.Client) *http.Client {
	cp := *c
	cp.CheckRedirect = func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}
	return &cp
}
