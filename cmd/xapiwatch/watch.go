// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package main

import (
	"context"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/ManuGH/xapiwatch/internal/api"
	"github.com/ManuGH/xapiwatch/internal/bus"
	"github.com/ManuGH/xapiwatch/internal/config"
	xlog "github.com/ManuGH/xapiwatch/internal/log"
	"github.com/ManuGH/xapiwatch/internal/telemetry"
	"github.com/ManuGH/xapiwatch/internal/version"
	"github.com/ManuGH/xapiwatch/internal/xapi"
)

const shutdownTimeout = 10 * time.Second

func runWatch(ctx context.Context, loader *config.Loader, cfg config.Config, _ []string) int {
	logger := xlog.WithComponent("daemon")

	opts := clientOptions(cfg)
	opts.Subscriptions = lifecycleLogging(logger)
	client, err := xapi.New(opts)
	if err != nil {
		logger.Error().Err(err).Str(xlog.FieldEvent, "xapi.init_failed").Msg("invalid client options")
		return exitError
	}

	tp, err := telemetry.NewProvider(ctx, telemetryConfig(cfg, client))
	if err != nil {
		logger.Error().Err(err).Str(xlog.FieldEvent, "telemetry.init_failed").Msg("failed to start tracing")
		return exitError
	}
	defer func() {
		if err := tp.Shutdown(context.WithoutCancel(ctx)); err != nil {
			logger.Warn().Err(err).Msg("tracer shutdown")
		}
	}()

	if err := client.Connect(ctx); err != nil {
		logger.Error().
			Err(err).
			Str(xlog.FieldEvent, "xapi.connect_failed").
			Str(xlog.FieldEndpoint, client.Endpoint().String()).
			Msg("failed to connect")
		return exitError
	}

	var srv *api.Server
	if cfg.ListenAddr != "" {
		srv = api.New(api.Config{
			Addr:           cfg.ListenAddr,
			Endpoint:       client.Endpoint().String(),
			Version:        version.Version,
			TracingService: tracingService(cfg),
			RateLimit:      600,
		}, client)
		if _, err := srv.Start(); err != nil {
			logger.Error().Err(err).Str(xlog.FieldEvent, "api.start_failed").Msg("failed to start ops API")
			_ = client.Disconnect(context.WithoutCancel(ctx))
			return exitError
		}
	}

	holder := config.NewHolder(cfg, loader)
	updates := make(chan config.Config, 1)
	holder.RegisterListener(updates)
	if err := holder.StartWatcher(ctx); err != nil {
		logger.Warn().Err(err).Str(xlog.FieldEvent, "config.watcher_failed").Msg("hot reload unavailable")
	}
	defer holder.Stop()

	logger.Info().
		Str(xlog.FieldEvent, "daemon.started").
		Str(xlog.FieldClientID, client.ID()).
		Bool("read_only", client.ReadOnly()).
		Str("event_mode", client.EventMode()).
		Msg("xapiwatch running")

loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case next := <-updates:
			applyReload(client, next)
		}
	}

	logger.Info().Str(xlog.FieldEvent, "daemon.stopping").Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()

	if srv != nil {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn().Err(err).Msg("ops API shutdown")
		}
	}
	if err := client.Disconnect(shutdownCtx); err != nil {
		logger.Warn().Err(err).Str(xlog.FieldEvent, "xapi.disconnect_failed").Msg("disconnect")
	}
	return exitOK
}

// applyReload applies the settings that can change without reconnecting.
func applyReload(client *xapi.Client, cfg config.Config) {
	if client.ReadOnly() != cfg.ReadOnly {
		client.SetReadOnly(cfg.ReadOnly)
	}
	xlog.Configure(xlog.Config{Level: cfg.LogLevel, Output: os.Stderr, Service: "xapiwatch", Version: version.Version})
}

func lifecycleLogging(logger zerolog.Logger) []xapi.Subscription {
	handler := func(s bus.Signal) {
		logger.Info().
			Str(xlog.FieldEvent, "xapi.signal").
			Str("kind", string(s.Kind)).
			Str(xlog.FieldHost, s.Host).
			Msg("connection signal")
	}
	return []xapi.Subscription{
		{Kind: bus.Connected, Handler: handler},
		{Kind: bus.Disconnected, Handler: handler},
		{Kind: bus.Redirect, Handler: handler},
	}
}

func tracingService(cfg config.Config) string {
	if !cfg.Telemetry.Enabled {
		return ""
	}
	return cfg.Telemetry.ServiceName
}

// telemetryConfig tags traces with the client instance and its pool.
func telemetryConfig(cfg config.Config, client *xapi.Client) telemetry.Config {
	return telemetry.Config{
		Enabled:      cfg.Telemetry.Enabled,
		ServiceName:  cfg.Telemetry.ServiceName,
		Version:      version.Version,
		Exporter:     cfg.Telemetry.Exporter,
		Endpoint:     cfg.Telemetry.Endpoint,
		SamplingRate: cfg.Telemetry.SamplingRate,
		ClientID:     client.ID(),
		PoolEndpoint: client.Endpoint().String(),
	}
}
