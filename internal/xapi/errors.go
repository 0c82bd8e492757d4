// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package xapi

import (
	"context"
	"errors"

	"github.com/ManuGH/xapiwatch/internal/log"
)

// Local precondition errors. They are returned before anything reaches the
// wire. Protocol failures are *rpc.Error values.
var (
	ErrReadOnly            = errors.New("xapi: not allowed in read only mode")
	ErrEventsDisabled      = errors.New("xapi: requires events watching")
	ErrNoSuchObject        = errors.New("xapi: no object with this UUID or opaque ref")
	ErrAlreadyConnected    = errors.New("xapi: already connected")
	ErrAlreadyConnecting   = errors.New("xapi: already connecting")
	ErrAlreadyDisconnected = errors.New("xapi: already disconnected")
	ErrMissingCredentials  = errors.New("xapi: missing credentials")
	ErrNotConnected        = errors.New("xapi: not connected")
	ErrSessionMethod       = errors.New("xapi: session.* methods are disabled from this interface")
	ErrTaskCancelled       = errors.New("xapi: task cancelled")
	ErrTaskDestroyed       = errors.New("xapi: task has been destroyed before completion")
	ErrDisconnected        = errors.New("xapi: disconnected while waiting")
	ErrNoPool              = errors.New("xapi: pool not known yet")
)

// bestEffort runs a cleanup operation and discards its failure. It is only
// used for logout, task destruction and marker removal.
func (c *Client) bestEffort(ctx context.Context, what string, fn func(context.Context) error) {
	if err := fn(ctx); err != nil {
		c.log.Debug().
			Err(err).
			Str(log.FieldEvent, "xapi.cleanup.failed").
			Str("operation", what).
			Msg("best-effort cleanup failed")
	}
}
