// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/ManuGH/xapiwatch/internal/config"
	"github.com/ManuGH/xapiwatch/internal/xapi"
)

// runCall performs one call and prints its result as indented JSON.
// Each argument is decoded as JSON; anything that is not valid JSON is
// passed as a plain string, so opaque references need no quoting.
func runCall(ctx context.Context, cfg config.Config, args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		fmt.Fprintln(stderr, "Usage: xapiwatch call <method> [json-arg...]")
		return exitUsage
	}
	method, params := args[0], parseCallArgs(args[1:])

	opts := clientOptions(cfg)
	opts.WatchEvents = false
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

	result, err := client.Call(ctx, method, params...)
	if err != nil {
		fmt.Fprintf(stderr, "%s: %v\n", method, err)
		return exitError
	}

	var out bytes.Buffer
	if err := json.Indent(&out, result, "", "  "); err != nil {
		out.Reset()
		out.Write(result)
	}
	out.WriteByte('\n')
	if _, err := stdout.Write(out.Bytes()); err != nil {
		return exitError
	}
	return exitOK
}

func parseCallArgs(raw []string) []any {
	params := make([]any, 0, len(raw))
	for _, a := range raw {
		var v any
		if err := json.Unmarshal([]byte(a), &v); err != nil {
			v = a
		}
		params = append(params, v)
	}
	return params
}
