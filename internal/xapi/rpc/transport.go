// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package rpc implements the wire side of the management protocol: the
// JSON-RPC transport, parameter sanitizing and error normalization.
package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"

	"github.com/ManuGH/xapiwatch/internal/xapi/endpoint"
)

// Transport performs a single method call against one endpoint.
type Transport interface {
	Call(ctx context.Context, method string, params []any) (json.RawMessage, error)
}

// Factory builds a Transport for an endpoint. The client rebuilds its
// transport whenever the endpoint changes (master redirect).
type Factory func(ep endpoint.Endpoint) Transport

// TransportFunc adapts a plain function to Transport.
type TransportFunc func(ctx context.Context, method string, params []any) (json.RawMessage, error)

func (f TransportFunc) Call(ctx context.Context, method string, params []any) (json.RawMessage, error) {
	return f(ctx, method, params)
}

// JSONRPCPath is the server path accepting JSON-RPC calls.
const JSONRPCPath = "/jsonrpc"

const maxErrorBody = 4 << 10

// JSONRPC is a JSON-RPC 2.0 transport over HTTP POST.
type JSONRPC struct {
	url    string
	client *http.Client
	seq    atomic.Uint64
}

// NewJSONRPC returns a transport posting to ep's JSON-RPC path.
func NewJSONRPC(ep endpoint.Endpoint, client *http.Client) *JSONRPC {
	if client == nil {
		client = http.DefaultClient
	}
	return &JSONRPC{
		url:    ep.URL(JSONRPCPath, nil).String(),
		client: client,
	}
}

type request struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
	ID      uint64 `json:"id"`
}

type response struct {
	Result json.RawMessage `json:"result"`
	Error  json.RawMessage `json:"error"`
	ID     json.RawMessage `json:"id"`
}

// Call sends method(params...) and returns the raw result. Remote faults are
// returned as *Error; transport failures are returned unchanged.
func (t *JSONRPC) Call(ctx context.Context, method string, params []any) (json.RawMessage, error) {
	if params == nil {
		params = []any{}
	}
	body, err := json.Marshal(request{
		JSONRPC: "2.0",
		Method:  method,
		Params:  params,
		ID:      t.seq.Add(1),
	})
	if err != nil {
		return nil, fmt.Errorf("encode %s request: %w", method, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		params := []string{http.StatusText(resp.StatusCode)}
		if len(snippet) > 0 {
			params = append(params, string(bytes.TrimSpace(snippet)))
		}
		return nil, &Error{
			Code:       CodeHTTPStatus,
			Params:     params,
			StatusCode: resp.StatusCode,
		}
	}

	var out response
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, &Error{Code: CodeBadResponse, Params: []string{}, Err: err}
	}
	if len(out.Error) > 0 && !bytes.Equal(out.Error, []byte("null")) {
		var fault any
		if err := json.Unmarshal(out.Error, &fault); err != nil {
			return nil, &Error{Code: CodeBadResponse, Params: []string{}, Err: err}
		}
		return nil, Normalize(fault)
	}
	if len(out.Result) == 0 {
		return json.RawMessage("null"), nil
	}
	return out.Result, nil
}
