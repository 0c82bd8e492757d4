// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package xapi

import (
	"bufio"
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/ManuGH/xapiwatch/internal/log"
	"github.com/ManuGH/xapiwatch/internal/platform/httpx"
	"github.com/ManuGH/xapiwatch/internal/xapi/rpc"
)

// Task selection for resource transfers.
const (
	// TaskAuto creates a tracking task when events are watched.
	TaskAuto = ""
	// TaskNone transfers without a task.
	TaskNone = "-"
)

// fakeContentLength (1 PiB) is declared for streams of unknown length: the
// server does not accept chunked uploads.
const fakeContentLength int64 = 1 << 50

const (
	resourceDialTimeout = 10 * time.Second
	maxErrorSnippet     = 4 << 10
)

// ResourceOptions tunes GetResource and PutResource.
type ResourceOptions struct {
	// Host is the id or ref of a cached host whose address is targeted
	// instead of the pool master.
	Host string
	// Query is added to the session_id and task_id parameters.
	Query url.Values
	// Task is TaskAuto, TaskNone or the reference of an existing task.
	Task string
}

// Resource is a streamed download. The caller must Close it.
type Resource struct {
	Body          io.ReadCloser
	Header        http.Header
	StatusCode    int
	ContentLength int64
	URL           string
	// Task settles with the server-side outcome of the transfer; nil when
	// no task was used.
	Task *TaskFuture
}

func (r *Resource) Close() error {
	return r.Body.Close()
}

// resourceTask resolves opt to a task reference and, when events are
// watched, its future.
func (c *Client) resourceTask(ctx context.Context, opt, name string) (string, *TaskFuture, bool, error) {
	switch opt {
	case TaskNone:
		return "", nil, false, nil
	case TaskAuto:
		if !c.watchEvents {
			return "", nil, false, nil
		}
		f, err := c.CreateTask(ctx, name, "")
		if err != nil {
			return "", nil, false, err
		}
		return f.Ref(), f, true, nil
	default:
		if !c.watchEvents {
			return opt, nil, false, nil
		}
		f, err := c.WatchTask(opt)
		if err != nil {
			return "", nil, false, err
		}
		return opt, f, false, nil
	}
}

// cancelResourceTask cancels, best effort, a task created for a transfer
// that failed. Cancellation settles it, which lets destroyAfter clean up.
func (c *Client) cancelResourceTask(created bool, ref string) {
	if !created {
		return
	}
	bg := c.backgroundContext()
	go c.bestEffort(bg, "task.cancel", func(ctx context.Context) error {
		return c.callInto(ctx, nil, "task.cancel", ref)
	})
}

func (c *Client) resourceURL(path string, opts ResourceOptions, taskRef string) (*url.URL, url.Values, error) {
	sid := c.SessionID()
	if sid == "" {
		return nil, nil, ErrNotConnected
	}

	query := url.Values{}
	for k, vs := range opts.Query {
		query[k] = append([]string(nil), vs...)
	}
	query.Set("session_id", sid)
	if taskRef != "" {
		query.Set("task_id", taskRef)
	}

	ep := c.Endpoint()
	if opts.Host != "" {
		host, err := c.GetObject(opts.Host)
		if err != nil {
			return nil, nil, err
		}
		ep = ep.WithHostname(host.String("address"))
	}
	return ep.URL(path, query), query, nil
}

// GetResource starts a streamed GET of path.
func (c *Client) GetResource(ctx context.Context, path string, opts ResourceOptions) (*Resource, error) {
	if c.SessionID() == "" {
		return nil, ErrNotConnected
	}
	taskRef, task, created, err := c.resourceTask(ctx, opts.Task, "xapi.GetResource "+path)
	if err != nil {
		return nil, err
	}
	u, _, err := c.resourceURL(path, opts, taskRef)
	if err != nil {
		c.cancelResourceTask(created, taskRef)
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		c.cancelResourceTask(created, taskRef)
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		c.cancelResourceTask(created, taskRef)
		return nil, transferError(u, err)
	}
	if resp.StatusCode != http.StatusOK {
		defer func() { _ = resp.Body.Close() }()
		c.cancelResourceTask(created, taskRef)
		return nil, statusError(u, resp)
	}

	c.log.Debug().
		Str(log.FieldEvent, "xapi.resource.get").
		Str(log.FieldPath, path).
		Str(log.FieldTaskRef, taskRef).
		Msg("resource download started")

	return &Resource{
		Body:          resp.Body,
		Header:        resp.Header,
		StatusCode:    resp.StatusCode,
		ContentLength: resp.ContentLength,
		URL:           safeURL(resp.Request.URL),
		Task:          task,
	}, nil
}

// PutResource uploads body to path. A negative size means the length is
// unknown: a bodiless probe discovers the redirect target first, then the
// body is streamed behind a fake Content-Length. It returns the task result
// when a task tracks the transfer.
func (c *Client) PutResource(ctx context.Context, body io.Reader, size int64, path string, opts ResourceOptions) (string, error) {
	if c.ReadOnly() {
		return "", fmt.Errorf("cannot put resource: %w", ErrReadOnly)
	}
	if c.SessionID() == "" {
		return "", ErrNotConnected
	}
	taskRef, task, created, err := c.resourceTask(ctx, opts.Task, "xapi.PutResource "+path)
	if err != nil {
		return "", err
	}
	target, query, err := c.resourceURL(path, opts, taskRef)
	if err != nil {
		c.cancelResourceTask(created, taskRef)
		return "", err
	}

	if size < 0 {
		probe := *target
		probeQuery := url.Values{}
		for k, vs := range query {
			if k != "task_id" {
				probeQuery[k] = vs
			}
		}
		probe.RawQuery = probeQuery.Encode()

		location, perr := c.probePut(ctx, &probe)
		if perr != nil {
			err = perr
		} else {
			if location != nil {
				location.RawQuery = query.Encode()
				target = location
			}
			err = c.streamPut(ctx, target, body)
		}
	} else {
		err = c.sizedPut(ctx, target, body, size)
	}
	if err != nil {
		c.cancelResourceTask(created, taskRef)
		return "", err
	}

	c.log.Debug().
		Str(log.FieldEvent, "xapi.resource.put").
		Str(log.FieldPath, path).
		Str(log.FieldTaskRef, taskRef).
		Msg("resource uploaded")

	if task == nil {
		return "", nil
	}
	result, err := task.Wait(ctx)
	var e *rpc.Error
	if errors.As(err, &e) {
		annotated := *e
		annotated.URL = safeURL(target)
		return "", &annotated
	}
	return result, err
}

// probePut sends an empty PUT and returns the 302 target, or nil when the
// original endpoint accepts the upload.
func (c *Client) probePut(ctx context.Context, u *url.URL) (*url.URL, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, u.String(), http.NoBody)
	if err != nil {
		return nil, err
	}
	req.ContentLength = 0
	req.Close = true

	resp, err := httpx.WithoutRedirects(c.http).Do(req)
	if err != nil {
		return nil, transferError(u, err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode < http.StatusMultipleChoices:
		return nil, nil
	case resp.StatusCode == http.StatusFound && resp.Header.Get("Location") != "":
		loc, err := resp.Location()
		if err != nil {
			return nil, transferError(u, err)
		}
		c.log.Debug().
			Str(log.FieldEvent, "xapi.resource.redirect").
			Str(log.FieldHost, loc.Host).
			Msg("upload redirected")
		return loc, nil
	default:
		return nil, statusError(u, resp)
	}
}

// sizedPut uploads a body of known length in a single request.
func (c *Client) sizedPut(ctx context.Context, u *url.URL, body io.Reader, size int64) error {
	if size == 0 || body == nil {
		body = http.NoBody
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, u.String(), body)
	if err != nil {
		return err
	}
	req.ContentLength = size
	req.Close = true

	resp, err := httpx.WithoutRedirects(c.http).Do(req)
	if err != nil {
		return transferError(u, err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode >= http.StatusMultipleChoices {
		return statusError(u, resp)
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxErrorSnippet))
	return nil
}

// streamPut writes the request by hand: net/http refuses to send fewer
// bytes than the declared Content-Length. Once the body is written the
// write side is shut down and the response is read before the connection
// is closed.
func (c *Client) streamPut(ctx context.Context, u *url.URL, body io.Reader) error {
	conn, err := c.dialResource(ctx, u)
	if err != nil {
		return transferError(u, err)
	}
	defer func() { _ = conn.Close() }()
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	w := bufio.NewWriter(conn)
	fmt.Fprintf(w, "PUT %s HTTP/1.1\r\n", u.RequestURI())
	fmt.Fprintf(w, "Host: %s\r\n", u.Host)
	fmt.Fprintf(w, "Content-Length: %d\r\n", fakeContentLength)
	fmt.Fprintf(w, "Connection: close\r\n\r\n")
	_, werr := io.Copy(w, body)
	if werr == nil {
		werr = w.Flush()
	}
	if cw, ok := conn.(interface{ CloseWrite() error }); ok {
		_ = cw.CloseWrite()
	}

	// A server rejecting the upload may answer before the body is through,
	// so the response is read even after a failed write.
	resp, rerr := http.ReadResponse(bufio.NewReader(conn), &http.Request{Method: http.MethodPut, URL: u})
	if rerr == nil {
		defer func() { _ = resp.Body.Close() }()
		if resp.StatusCode >= http.StatusMultipleChoices {
			return statusError(u, resp)
		}
	}
	switch {
	case ctx.Err() != nil:
		return ctx.Err()
	case werr != nil:
		return transferError(u, werr)
	case rerr != nil:
		return transferError(u, rerr)
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxErrorSnippet))
	return nil
}

func (c *Client) dialResource(ctx context.Context, u *url.URL) (net.Conn, error) {
	port := u.Port()
	if port == "" {
		port = "80"
		if u.Scheme == "https" {
			port = "443"
		}
	}
	addr := net.JoinHostPort(u.Hostname(), port)
	dialer := &net.Dialer{Timeout: resourceDialTimeout, KeepAlive: 30 * time.Second}
	if u.Scheme != "https" {
		return dialer.DialContext(ctx, "tcp", addr)
	}
	cfg := httpx.TLSConfig(c.insecure)
	cfg.ServerName = u.Hostname()
	td := &tls.Dialer{NetDialer: dialer, Config: cfg}
	return td.DialContext(ctx, "tcp", addr)
}

func transferError(u *url.URL, err error) error {
	if ctxErr := contextError(err); ctxErr != nil {
		return ctxErr
	}
	e := rpc.Wrap(err)
	annotated := *e
	annotated.URL = safeURL(u)
	return &annotated
}

func contextError(err error) error {
	switch {
	case errors.Is(err, context.Canceled):
		return context.Canceled
	case errors.Is(err, context.DeadlineExceeded):
		return context.DeadlineExceeded
	}
	return nil
}

func statusError(u *url.URL, resp *http.Response) error {
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorSnippet))
	params := []string{http.StatusText(resp.StatusCode)}
	if s := bytes.TrimSpace(snippet); len(s) > 0 {
		params = append(params, string(s))
	}
	return &rpc.Error{
		Code:       rpc.CodeHTTPStatus,
		Params:     params,
		URL:        safeURL(u),
		StatusCode: resp.StatusCode,
	}
}

// safeURL renders u without the session token.
func safeURL(u *url.URL) string {
	cp := *u
	cp.User = nil
	q := cp.Query()
	if q.Has("session_id") {
		q.Set("session_id", "REDACTED")
		cp.RawQuery = q.Encode()
	}
	return cp.String()
}
