// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// xapiwatch connects to a xen-api pool and mirrors its objects.
//
// Usage:
//
//	xapiwatch [-config file.yaml] [watch]
//	xapiwatch [-config file.yaml] call <method> [json-arg...]
//	xapiwatch [-config file.yaml] dump -o objects.json
//	xapiwatch version
//
// Exit codes:
//   - 0: success
//   - 1: runtime error
//   - 2: usage error
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/ManuGH/xapiwatch/internal/config"
	xlog "github.com/ManuGH/xapiwatch/internal/log"
	"github.com/ManuGH/xapiwatch/internal/version"
	"github.com/ManuGH/xapiwatch/internal/xapi"
)

const (
	exitOK    = 0
	exitError = 1
	exitUsage = 2
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("xapiwatch", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", config.ParseString("XAPI_CONFIG", ""), "path to config file (YAML)")
	fs.Usage = func() {
		fmt.Fprintln(stderr, "Usage: xapiwatch [-config file.yaml] <watch|call|dump|version> [args]")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}

	cmd, rest := "watch", fs.Args()
	if len(rest) > 0 {
		cmd, rest = rest[0], rest[1:]
	}

	if cmd == "version" {
		fmt.Fprintln(stdout, version.String())
		return exitOK
	}

	xlog.Configure(xlog.Config{Level: "info", Output: stderr, Service: "xapiwatch", Version: version.Version})
	logger := xlog.WithComponent("cli")

	loader := config.NewLoader(strings.TrimSpace(*configPath))
	cfg, err := loader.Load()
	if err != nil {
		logger.Error().
			Err(err).
			Str(xlog.FieldEvent, "config.load_failed").
			Str(xlog.FieldPath, loader.Path()).
			Msg("failed to load configuration")
		return exitError
	}
	xlog.Configure(xlog.Config{Level: cfg.LogLevel, Output: stderr, Service: "xapiwatch", Version: version.Version})

	switch cmd {
	case "watch":
		return runWatch(ctx, loader, cfg, rest)
	case "call":
		return runCall(ctx, cfg, rest, stdout, stderr)
	case "dump":
		return runDump(ctx, cfg, rest, stderr)
	default:
		fmt.Fprintf(stderr, "unknown command %q\n", cmd)
		fs.Usage()
		return exitUsage
	}
}

// clientOptions maps the configuration onto client options.
func clientOptions(cfg config.Config) xapi.Options {
	opts := xapi.Options{
		URL:               cfg.URL,
		ReadOnly:          cfg.ReadOnly,
		WatchEvents:       cfg.WatchEvents,
		Debounce:          cfg.Debounce,
		AllowUnauthorized: cfg.AllowUnauthorized,
		RateLimit:         cfg.RateLimit,
		RateBurst:         cfg.RateBurst,
	}
	if cfg.Username != "" {
		opts.Auth = &xapi.Credentials{Username: cfg.Username, Password: cfg.Password}
	}
	return opts
}
