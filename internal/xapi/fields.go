// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package xapi

import (
	"context"
	"errors"

	"golang.org/x/sync/errgroup"

	"github.com/ManuGH/xapiwatch/internal/xapi/record"
	"github.com/ManuGH/xapiwatch/internal/xapi/rpc"
)

// maxEntryAttempts bounds the remove-then-add cycle of SetFieldEntry.
const maxEntryAttempts = 3

var _ record.Writer = (*Client)(nil)

// SetField issues <type>.set_<field>(ref, value).
func (c *Client) SetField(ctx context.Context, rec *record.Record, field string, value any) error {
	_, err := c.Call(ctx, rec.Type()+".set_"+field, rec.Ref(), value)
	return err
}

// AddToField issues <type>.add_<field>(ref, values).
func (c *Client) AddToField(ctx context.Context, rec *record.Record, field string, values ...any) error {
	if values == nil {
		values = []any{}
	}
	_, err := c.Call(ctx, rec.Type()+".add_"+field, rec.Ref(), values)
	return err
}

// SetFieldEntries sets every entry of a map field concurrently. A nil value
// removes the entry.
func (c *Client) SetFieldEntries(ctx context.Context, rec *record.Record, field string, entries map[string]*string) error {
	g, gctx := errgroup.WithContext(ctx)
	for entry, value := range entries {
		g.Go(func() error {
			if value == nil {
				return c.UnsetFieldEntry(gctx, rec, field, entry)
			}
			return c.SetFieldEntry(gctx, rec, field, entry, *value)
		})
	}
	return g.Wait()
}

// SetFieldEntry issues <type>.add_to_<field>(ref, entry, value). An
// existing entry is removed first.
func (c *Client) SetFieldEntry(ctx context.Context, rec *record.Record, field, entry, value string) error {
	var err error
	for attempt := 0; attempt < maxEntryAttempts; attempt++ {
		_, err = c.Call(ctx, rec.Type()+".add_to_"+field, rec.Ref(), entry, value)
		var e *rpc.Error
		if err == nil || !errors.As(err, &e) || e.Code != rpc.CodeMapDuplicateKey {
			return err
		}
		if err := c.UnsetFieldEntry(ctx, rec, field, entry); err != nil {
			return err
		}
	}
	return err
}

// UnsetFieldEntry issues <type>.remove_from_<field>(ref, entry).
func (c *Client) UnsetFieldEntry(ctx context.Context, rec *record.Record, field, entry string) error {
	_, err := c.Call(ctx, rec.Type()+".remove_from_"+field, rec.Ref(), entry)
	return err
}
