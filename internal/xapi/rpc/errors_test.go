// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package rpc

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalize_Shapes(t *testing.T) {
	cases := []struct {
		name   string
		fault  any
		code   string
		params []string
	}{
		{
			name:   "legacy positional list",
			fault:  []any{"HOST_IS_SLAVE", "10.0.0.2"},
			code:   CodeHostIsSlave,
			params: []string{"10.0.0.2"},
		},
		{
			name:   "message/data object",
			fault:  map[string]any{"code": 1.0, "message": "SESSION_INVALID", "data": []any{"OpaqueRef:abc"}},
			code:   CodeSessionInvalid,
			params: []string{"OpaqueRef:abc"},
		},
		{
			name:   "object without data",
			fault:  map[string]any{"message": "EVENTS_LOST"},
			code:   CodeEventsLost,
			params: []string{},
		},
		{
			name:   "empty list",
			fault:  []any{},
			code:   CodeBadResponse,
			params: []string{},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			e := Normalize(tc.fault)
			assert.Equal(t, tc.code, e.Code)
			assert.Equal(t, tc.params, e.Params)
		})
	}
}

func TestWrap_ClassifiesNetworkErrors(t *testing.T) {
	opErr := func(errno syscall.Errno) error {
		return &net.OpError{Op: "dial", Net: "tcp", Err: os.NewSyscallError("connect", errno)}
	}

	cases := []struct {
		name string
		err  error
		code string
	}{
		{"refused", opErr(syscall.ECONNREFUSED), CodeConnRefused},
		{"reset", opErr(syscall.ECONNRESET), CodeConnReset},
		{"host unreachable", opErr(syscall.EHOSTUNREACH), CodeHostUnreach},
		{"net unreachable", opErr(syscall.ENETUNREACH), CodeNetUnreach},
		{"dns timeout", &net.DNSError{IsTimeout: true}, CodeTimedOut},
		{"context deadline", context.DeadlineExceeded, CodeTransportError},
		{"canceled", context.Canceled, CodeTransportError},
		{"generic", errors.New("boom"), CodeTransportError},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			wrapped := Wrap(fmt.Errorf("post: %w", tc.err))
			assert.Equal(t, tc.code, wrapped.Code)
			assert.ErrorIs(t, wrapped, tc.err)
		})
	}
}

func TestWrap_KeepsProtocolErrors(t *testing.T) {
	orig := NewError(CodeMapDuplicateKey, "other_config", "k")
	assert.Same(t, orig, Wrap(fmt.Errorf("ctx: %w", orig)))
}

func TestPredicates(t *testing.T) {
	assert.True(t, IsNetworkError(NewError(CodeConnRefused)))
	assert.False(t, IsNetworkError(NewError(CodeSessionInvalid)))
	assert.True(t, IsHostNotReady(NewError(CodeHostStillBooting)))
	assert.True(t, IsHostNotReady(NewError(CodeHostHasNoManagementIP)))
	assert.False(t, IsCode(errors.New("plain"), CodeEventsLost))
	assert.Equal(t, 500, StatusOf(&Error{Code: CodeHTTPStatus, StatusCode: 500}))
}

func TestError_Message(t *testing.T) {
	e := &Error{Code: "VM_BAD_POWER_STATE", Params: []string{"OpaqueRef:vm", "halted", "running"}, Method: "VM.start"}
	assert.Equal(t, "VM.start: VM_BAD_POWER_STATE(OpaqueRef:vm, halted, running)", e.Error())
}
