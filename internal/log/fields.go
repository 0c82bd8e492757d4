// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package log

// Canonical field name constants for structured logging.
const (
	// Identity fields
	FieldRequestID     = "request_id"
	FieldCorrelationID = "correlation_id"
	FieldClientID      = "client_id"
	FieldTaskRef       = "task_ref"
	FieldObjectRef     = "object_ref"
	FieldObjectID      = "object_id"

	// Process fields
	FieldEvent     = "event"
	FieldComponent = "component"

	// RPC fields
	FieldMethod   = "method"
	FieldCode     = "code"
	FieldDuration = "duration"
	FieldAttempt  = "attempt"
	FieldDelay    = "delay"
	FieldResult   = "result"

	// State fields
	FieldOldState = "old_state"
	FieldNewState = "new_state"

	// Network fields
	FieldEndpoint = "endpoint"
	FieldHost     = "host"
	FieldPath     = "path"
)
