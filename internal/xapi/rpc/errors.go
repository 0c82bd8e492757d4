// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package rpc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"syscall"

	"github.com/ManuGH/xapiwatch/internal/xapi/record"
)

// Remote error codes this client reacts to.
const (
	CodeSessionInvalid        = "SESSION_INVALID"
	CodeMethodUnknown         = "MESSAGE_METHOD_UNKNOWN"
	CodeMessageRemoved        = "MESSAGE_REMOVED"
	CodeEventsLost            = "EVENTS_LOST"
	CodeHostIsSlave           = "HOST_IS_SLAVE"
	CodeMapDuplicateKey       = "MAP_DUPLICATE_KEY"
	CodeHostStillBooting      = "HOST_STILL_BOOTING"
	CodeHostHasNoManagementIP = "HOST_HAS_NO_MANAGEMENT_IP"
)

// Local codes assigned to failures that never reached a structured reply.
const (
	CodeConnReset      = "ECONNRESET"
	CodeConnAborted    = "ECONNABORTED"
	CodeConnRefused    = "ECONNREFUSED"
	CodeInvalid        = "EINVAL"
	CodeHostUnreach    = "EHOSTUNREACH"
	CodeNetUnreach     = "ENETUNREACH"
	CodeTimedOut       = "ETIMEDOUT"
	CodeHTTPStatus     = "HTTP_ERROR"
	CodeBadResponse    = "BAD_RESPONSE"
	CodeTransportError = "TRANSPORT_ERROR"
)

// Error is a protocol error: a remote fault, or a local transport failure
// normalized into the same shape.
type Error struct {
	Code       string
	Params     []string
	Method     string         // RPC method that failed, set by the call pipeline
	URL        string         // resource URL, set by resource transfers
	StatusCode int            // HTTP status when the failure happened at HTTP level
	Task       *record.Record // originating task for task outcome errors
	Err        error          // lower-level cause (net.Error, context error, ...)
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s(%s)", e.Code, strings.Join(e.Params, ", "))
	if e.Method != "" {
		msg = e.Method + ": " + msg
	}
	if e.StatusCode > 0 {
		msg = fmt.Sprintf("%s (HTTP %d)", msg, e.StatusCode)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// CodeOf returns the protocol code carried by err, or "".
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// IsCode reports whether err carries one of the given codes.
func IsCode(err error, codes ...string) bool {
	code := CodeOf(err)
	if code == "" {
		return false
	}
	for _, c := range codes {
		if c == code {
			return true
		}
	}
	return false
}

// StatusOf returns the HTTP status attached to err, or 0.
func StatusOf(err error) int {
	var e *Error
	if errors.As(err, &e) {
		return e.StatusCode
	}
	return 0
}

// NewError builds an Error from a code and its parameters.
func NewError(code string, params ...string) *Error {
	if params == nil {
		params = []string{}
	}
	return &Error{Code: code, Params: params}
}

// Normalize converts a remote fault payload into an Error. Two shapes exist:
// a positional list [code, params...] from older servers and an object
// {message: code, data: params}.
func Normalize(fault any) *Error {
	switch f := fault.(type) {
	case []any:
		if len(f) == 0 {
			return NewError(CodeBadResponse)
		}
		return NewError(stringify(f[0]), stringifyAll(f[1:])...)
	case []string:
		if len(f) == 0 {
			return NewError(CodeBadResponse)
		}
		return NewError(f[0], f[1:]...)
	case map[string]any:
		code := stringify(f["message"])
		var params []string
		switch data := f["data"].(type) {
		case []any:
			params = stringifyAll(data)
		case nil:
		default:
			params = []string{stringify(data)}
		}
		return NewError(code, params...)
	case *Error:
		return f
	default:
		return NewError(CodeBadResponse, stringify(fault))
	}
}

// Wrap returns err as an *Error, classifying transport failures on the way.
func Wrap(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	code := NetworkCode(err)
	if code == "" {
		code = CodeTransportError
	}
	return &Error{Code: code, Params: []string{}, Err: err}
}

// NetworkCode maps low-level connectivity failures onto errno names. Context
// cancellation and deadlines are not network failures and yield "".
func NetworkCode(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return ""
	case errors.Is(err, syscall.ECONNRESET), errors.Is(err, syscall.EPIPE):
		return CodeConnReset
	case errors.Is(err, syscall.ECONNABORTED):
		return CodeConnAborted
	case errors.Is(err, syscall.ECONNREFUSED):
		return CodeConnRefused
	case errors.Is(err, syscall.EINVAL):
		return CodeInvalid
	case errors.Is(err, syscall.EHOSTUNREACH):
		return CodeHostUnreach
	case errors.Is(err, syscall.ENETUNREACH):
		return CodeNetUnreach
	case errors.Is(err, syscall.ETIMEDOUT):
		return CodeTimedOut
	case errors.Is(err, io.ErrUnexpectedEOF), errors.Is(err, io.EOF):
		return CodeConnReset
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return CodeTimedOut
	}
	return ""
}

// IsNetworkError reports whether err is a retryable connectivity failure.
func IsNetworkError(err error) bool {
	return IsCode(err,
		CodeConnReset, CodeConnAborted, CodeConnRefused, CodeInvalid,
		CodeHostUnreach, CodeNetUnreach, CodeTimedOut,
	)
}

// IsHostNotReady reports whether the remote host cannot serve calls yet.
func IsHostNotReady(err error) bool {
	return IsCode(err, CodeHostStillBooting, CodeHostHasNoManagementIP)
}

func stringify(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	default:
		return fmt.Sprint(x)
	}
}

func stringifyAll(vs []any) []string {
	out := make([]string, 0, len(vs))
	for _, v := range vs {
		out = append(out, stringify(v))
	}
	return out
}
