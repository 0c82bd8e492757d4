// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package telemetry

import (
	"go.opentelemetry.io/otel/attribute"
)

// Common attribute keys for consistent tracing across the application.
const (
	// RPC attributes
	RPCSystemKey = "rpc.system"
	RPCMethodKey = "rpc.method"
	RPCHostKey   = "rpc.host"
	RPCCodeKey   = "rpc.error_code"

	// HTTP attributes
	HTTPMethodKey     = "http.method"
	HTTPStatusCodeKey = "http.status_code"
	HTTPRouteKey      = "http.route"

	// Task attributes
	TaskRefKey    = "task.ref"
	TaskStatusKey = "task.status"

	// Error attributes
	ErrorKey     = "error"
	ErrorTypeKey = "error.type"
)

// RPCAttributes creates span attributes for one RPC call.
func RPCAttributes(method, host string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(RPCSystemKey, "xapi"),
		attribute.String(RPCMethodKey, method),
		attribute.String(RPCHostKey, host),
	}
}

// HTTPAttributes creates common HTTP span attributes.
func HTTPAttributes(method, route string, statusCode int) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(HTTPMethodKey, method),
		attribute.String(HTTPRouteKey, route),
		attribute.Int(HTTPStatusCodeKey, statusCode),
	}
}

// TaskAttributes creates task-related span attributes.
func TaskAttributes(ref, status string) []attribute.KeyValue {
	attrs := []attribute.KeyValue{attribute.String(TaskRefKey, ref)}
	if status != "" {
		attrs = append(attrs, attribute.String(TaskStatusKey, status))
	}
	return attrs
}

// ErrorAttributes creates error-related span attributes.
func ErrorAttributes(code string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.Bool(ErrorKey, true),
		attribute.String(ErrorTypeKey, "rpc"),
		attribute.String(RPCCodeKey, code),
	}
}
