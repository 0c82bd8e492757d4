// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package xapitest provides an in-process fake of the management API:
// JSON-RPC dispatch, resource routes and an event feed.
package xapitest

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/ManuGH/xapiwatch/internal/xapi/rpc"
)

// Default credentials accepted by session.login_with_password.
const (
	Username = "root"
	Password = "secret"
	Session  = "OpaqueRef:session-1"
)

// Handler serves one method. For session calls params[0] is the session
// token. Returning an *rpc.Error sends a fault.
type Handler func(ctx context.Context, params []any) (any, error)

// Call is one recorded request.
type Call struct {
	Method string
	Params []any
}

// Server is an httptest server speaking the JSON-RPC dialect.
type Server struct {
	*httptest.Server

	router chi.Router

	mu       sync.Mutex
	handlers map[string]Handler
	calls    []Call
	sessions int
}

// NewServer starts a server with login and logout handlers. It is closed
// when the test ends.
func NewServer(t testing.TB) *Server {
	t.Helper()
	s := &Server{handlers: make(map[string]Handler)}

	r := chi.NewRouter()
	r.Post(rpc.JSONRPCPath, s.serveRPC)
	s.router = r
	s.Server = httptest.NewServer(r)
	t.Cleanup(s.Close)

	s.Handle("session.login_with_password", func(_ context.Context, params []any) (any, error) {
		if len(params) != 2 || params[0] != Username || params[1] != Password {
			return nil, Fault("SESSION_AUTHENTICATION_FAILED", Username, "Authentication failure")
		}
		s.mu.Lock()
		s.sessions++
		s.mu.Unlock()
		return Session, nil
	})
	s.Handle("session.logout", func(context.Context, []any) (any, error) {
		return "", nil
	})
	return s
}

// Fault builds a remote error.
func Fault(code string, params ...string) error {
	return rpc.NewError(code, params...)
}

// Handle registers h for method, replacing any previous handler.
func (s *Server) Handle(method string, h Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[method] = h
}

// Reply registers a handler always returning result.
func (s *Server) Reply(method string, result any) {
	s.Handle(method, func(context.Context, []any) (any, error) { return result, nil })
}

// HandleResource mounts a resource route.
func (s *Server) HandleResource(method, path string, h http.HandlerFunc) {
	s.router.Method(method, path, h)
}

// URLWithCredentials returns the base URL with the default credentials embedded.
func (s *Server) URLWithCredentials() string {
	return strings.Replace(s.Server.URL, "://", "://"+Username+":"+Password+"@", 1)
}

// Logins returns the number of successful logins.
func (s *Server) Logins() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessions
}

// Calls returns every recorded call, in arrival order.
func (s *Server) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Call(nil), s.calls...)
}

// CallsTo returns the recorded calls of one method.
func (s *Server) CallsTo(method string) []Call {
	var out []Call
	for _, c := range s.Calls() {
		if c.Method == method {
			out = append(out, c)
		}
	}
	return out
}

type rpcRequest struct {
	Method string          `json:"method"`
	Params []any           `json:"params"`
	ID     json.RawMessage `json:"id"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	Result  any             `json:"result,omitempty"`
	Error   *rpcFault       `json:"error,omitempty"`
	ID      json.RawMessage `json:"id"`
}

type rpcFault struct {
	Code    int      `json:"code"`
	Message string   `json:"message"`
	Data    []string `json:"data"`
}

func (s *Server) serveRPC(w http.ResponseWriter, r *http.Request) {
	var req rpcRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	s.calls = append(s.calls, Call{Method: req.Method, Params: req.Params})
	h, ok := s.handlers[req.Method]
	s.mu.Unlock()

	resp := rpcResponse{JSONRPC: "2.0", ID: req.ID}
	if !ok {
		resp.Error = &rpcFault{Code: 1, Message: rpc.CodeMethodUnknown, Data: []string{req.Method}}
	} else {
		result, err := h(r.Context(), req.Params)
		if err != nil {
			var status statusError
			if errors.As(err, &status) {
				http.Error(w, status.msg, status.code)
				return
			}
			e := rpc.Wrap(err)
			resp.Error = &rpcFault{Code: 1, Message: e.Code, Data: e.Params}
		} else {
			if result == nil {
				result = ""
			}
			resp.Result = result
		}
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

type statusError struct {
	code int
	msg  string
}

func (e statusError) Error() string { return e.msg }

// HTTPStatus makes a handler answer with a bare HTTP status instead of a
// JSON-RPC reply.
func HTTPStatus(code int) error {
	return statusError{code: code, msg: http.StatusText(code)}
}
