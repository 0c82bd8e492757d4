// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"time"

	"github.com/google/renameio/v2"

	"github.com/ManuGH/xapiwatch/internal/config"
	xlog "github.com/ManuGH/xapiwatch/internal/log"
	"github.com/ManuGH/xapiwatch/internal/xapi"
	"github.com/ManuGH/xapiwatch/internal/xapi/record"
)

const poolWait = 30 * time.Second

// snapshot is the document written by dump.
type snapshot struct {
	Endpoint string           `json:"endpoint"`
	TakenAt  time.Time        `json:"takenAt"`
	Count    int              `json:"count"`
	Objects  []*record.Record `json:"objects"`
}

func runDump(ctx context.Context, cfg config.Config, args []string, stderr io.Writer) int {
	fs := flag.NewFlagSet("dump", flag.ContinueOnError)
	fs.SetOutput(stderr)
	out := fs.String("o", "", "output file (required)")
	typ := fs.String("type", "", "only dump objects of this type")
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}
	if *out == "" {
		fmt.Fprintln(stderr, "Usage: xapiwatch dump -o objects.json [-type vm]")
		return exitUsage
	}

	opts := clientOptions(cfg)
	opts.WatchEvents = true
	client, err := xapi.New(opts)
	if err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		return exitError
	}
	if err := client.Connect(ctx); err != nil {
		fmt.Fprintf(stderr, "connect: %v\n", err)
		return exitError
	}
	defer func() { _ = client.Disconnect(context.WithoutCancel(ctx)) }()

	if err := waitForPool(ctx, client, poolWait); err != nil {
		fmt.Fprintf(stderr, "initial load: %v\n", err)
		return exitError
	}
	// The barrier returns once every event preceding it is in the cache.
	if _, err := client.Barrier(ctx, ""); err != nil {
		fmt.Fprintf(stderr, "barrier: %v\n", err)
		return exitError
	}

	objs := client.Objects(*typ)
	snap := snapshot{
		Endpoint: client.Endpoint().String(),
		TakenAt:  time.Now().UTC(),
		Count:    len(objs),
		Objects:  objs,
	}
	if snap.Objects == nil {
		snap.Objects = []*record.Record{}
	}
	if err := writeSnapshot(ctx, *out, snap); err != nil {
		fmt.Fprintf(stderr, "write: %v\n", err)
		return exitError
	}

	logger := xlog.WithComponent("cli")
	logger.Info().
		Str(xlog.FieldEvent, "dump.written").
		Str(xlog.FieldPath, *out).
		Int("objects", snap.Count).
		Msg("snapshot written")
	return exitOK
}

// waitForPool blocks until the initial object load has cached the pool.
func waitForPool(ctx context.Context, client *xapi.Client, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for client.Pool() == nil {
		select {
		case <-ctx.Done():
			return fmt.Errorf("pool not loaded: %w", ctx.Err())
		case <-ticker.C:
		}
	}
	return nil
}

// writeSnapshot replaces path atomically: readers see the old file or the
// complete new one.
func writeSnapshot(ctx context.Context, path string, snap snapshot) error {
	logger := xlog.FromContext(ctx)

	pending, err := renameio.NewPendingFile(path)
	if err != nil {
		return fmt.Errorf("create pending snapshot file: %w", err)
	}
	defer func() {
		if err := pending.Cleanup(); err != nil {
			logger.Debug().Err(err).Msg("cleanup pending snapshot file")
		}
	}()

	enc := json.NewEncoder(pending)
	enc.SetIndent("", "  ")
	if err := enc.Encode(snap); err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	if err := pending.CloseAtomicallyReplace(); err != nil {
		return fmt.Errorf("atomically replace snapshot file: %w", err)
	}
	return nil
}
