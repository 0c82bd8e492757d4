// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"errors"
	"net/url"

	"github.com/ManuGH/xapiwatch/internal/validate"
)

var logLevels = []string{"trace", "debug", "info", "warn", "error"}

// Validate checks the effective configuration.
func Validate(cfg Config) error {
	v := validate.New()

	v.URL("url", cfg.URL, []string{"http", "https"})
	if cfg.URL != "" {
		v.Custom("username", cfg, func(any) error {
			if cfg.Username != "" {
				return nil
			}
			if u, err := url.Parse(cfg.URL); err == nil && u.User != nil && u.User.Username() != "" {
				return nil
			}
			return errors.New("username required (set username or embed it in url)")
		})
	}

	v.NonNegative("rate_limit", cfg.RateLimit)
	if cfg.RateLimit > 0 {
		v.Range("rate_burst", cfg.RateBurst, 1, 1<<16)
	}

	v.OneOf("log_level", cfg.LogLevel, logLevels)

	if cfg.ListenAddr != "" {
		v.Addr("listen_addr", cfg.ListenAddr)
	}

	if cfg.Telemetry.Enabled {
		v.NotEmpty("telemetry.service_name", cfg.Telemetry.ServiceName)
		v.OneOf("telemetry.exporter", cfg.Telemetry.Exporter, []string{"grpc", "http"})
		v.NotEmpty("telemetry.endpoint", cfg.Telemetry.Endpoint)
		v.FloatRange("telemetry.sampling_rate", cfg.Telemetry.SamplingRate, 0, 1)
	}

	return v.Err()
}
