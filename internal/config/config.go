// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package config loads the xapiwatch configuration.
//
// Precedence is ENV > file > defaults. The file is YAML and decoded
// strictly: unknown keys are an error.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Environment variable names.
const (
	EnvURL               = "XAPI_URL"
	EnvUsername          = "XAPI_USERNAME"
	EnvPassword          = "XAPI_PASSWORD"
	EnvReadOnly          = "XAPI_READ_ONLY"
	EnvWatchEvents       = "XAPI_WATCH_EVENTS"
	EnvDebounce          = "XAPI_DEBOUNCE"
	EnvAllowUnauthorized = "XAPI_ALLOW_UNAUTHORIZED"
	EnvRateLimit         = "XAPI_RATE_LIMIT"
	EnvRateBurst         = "XAPI_RATE_BURST"
	EnvLogLevel          = "XAPI_LOG_LEVEL"
	EnvListenAddr        = "XAPI_LISTEN_ADDR"
)

// Config is the effective runtime configuration.
type Config struct {
	URL               string
	Username          string
	Password          string
	ReadOnly          bool
	WatchEvents       bool
	Debounce          time.Duration
	AllowUnauthorized bool
	RateLimit         float64
	RateBurst         int
	LogLevel          string
	ListenAddr        string
	Telemetry         TelemetryConfig
}

// TelemetryConfig configures OpenTelemetry tracing.
type TelemetryConfig struct {
	Enabled      bool
	ServiceName  string
	Exporter     string
	Endpoint     string
	SamplingRate float64
}

// FileConfig is the on-disk YAML shape. Pointer fields distinguish
// "absent" from the zero value so a file can turn a default off.
type FileConfig struct {
	URL               string         `yaml:"url,omitempty"`
	Username          string         `yaml:"username,omitempty"`
	Password          string         `yaml:"password,omitempty"`
	ReadOnly          *bool          `yaml:"read_only,omitempty"`
	WatchEvents       *bool          `yaml:"watch_events,omitempty"`
	Debounce          string         `yaml:"debounce,omitempty"`
	AllowUnauthorized *bool          `yaml:"allow_unauthorized,omitempty"`
	RateLimit         *float64       `yaml:"rate_limit,omitempty"`
	RateBurst         *int           `yaml:"rate_burst,omitempty"`
	LogLevel          string         `yaml:"log_level,omitempty"`
	ListenAddr        string         `yaml:"listen_addr,omitempty"`
	Telemetry         *TelemetryFile `yaml:"telemetry,omitempty"`
}

// TelemetryFile is the YAML shape of the telemetry block.
type TelemetryFile struct {
	Enabled      *bool    `yaml:"enabled,omitempty"`
	ServiceName  string   `yaml:"service_name,omitempty"`
	Exporter     string   `yaml:"exporter,omitempty"`
	Endpoint     string   `yaml:"endpoint,omitempty"`
	SamplingRate *float64 `yaml:"sampling_rate,omitempty"`
}

// Defaults returns the built-in configuration.
func Defaults() Config {
	return Config{
		WatchEvents: true,
		Debounce:    200 * time.Millisecond,
		RateBurst:   1,
		LogLevel:    "info",
		ListenAddr:  ":9464",
		Telemetry: TelemetryConfig{
			ServiceName:  "xapiwatch",
			Exporter:     "grpc",
			Endpoint:     "localhost:4317",
			SamplingRate: 1.0,
		},
	}
}

// Loader handles configuration loading with precedence
type Loader struct {
	configPath string
	lookup     func(string) (string, bool)

	// ConsumedEnvKeys records every environment key the last Load consulted.
	ConsumedEnvKeys map[string]struct{}
}

// NewLoader creates a new configuration loader. An empty path means ENV-only.
func NewLoader(configPath string) *Loader {
	return &Loader{
		configPath:      configPath,
		lookup:          os.LookupEnv,
		ConsumedEnvKeys: make(map[string]struct{}),
	}
}

// Path returns the configuration file path, if any.
func (l *Loader) Path() string {
	return l.configPath
}

// Load builds the effective configuration and validates it.
func (l *Loader) Load() (Config, error) {
	cfg := Defaults()

	if l.configPath != "" {
		fileCfg, err := l.loadFile(l.configPath)
		if err != nil {
			return Config{}, fmt.Errorf("load config file: %w", err)
		}
		if err := mergeFileConfig(&cfg, fileCfg); err != nil {
			return Config{}, fmt.Errorf("merge config file: %w", err)
		}
	}

	l.ConsumedEnvKeys = make(map[string]struct{})
	l.mergeEnvConfig(&cfg)

	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (l *Loader) loadFile(path string) (*FileConfig, error) {
	path = filepath.Clean(path)

	ext := strings.ToLower(filepath.Ext(path))
	if ext != ".yaml" && ext != ".yml" {
		return nil, fmt.Errorf("unsupported config format: %s (only YAML supported)", ext)
	}

	// #nosec G304 -- configuration file paths are provided by the operator via CLI/ENV
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}

	var fileCfg FileConfig
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	if err := dec.Decode(&fileCfg); err != nil {
		if errors.Is(err, io.EOF) {
			return &FileConfig{}, nil
		}
		return nil, fmt.Errorf("strict config parse error: %w", err)
	}

	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config file contains multiple documents or trailing content")
	}

	return &fileCfg, nil
}

func mergeFileConfig(dst *Config, src *FileConfig) error {
	if src.URL != "" {
		dst.URL = os.ExpandEnv(src.URL)
	}
	if src.Username != "" {
		dst.Username = src.Username
	}
	if src.Password != "" {
		dst.Password = os.ExpandEnv(src.Password)
	}
	if src.ReadOnly != nil {
		dst.ReadOnly = *src.ReadOnly
	}
	if src.WatchEvents != nil {
		dst.WatchEvents = *src.WatchEvents
	}
	if src.Debounce != "" {
		d, err := time.ParseDuration(src.Debounce)
		if err != nil {
			return fmt.Errorf("debounce: %w", err)
		}
		dst.Debounce = d
	}
	if src.AllowUnauthorized != nil {
		dst.AllowUnauthorized = *src.AllowUnauthorized
	}
	if src.RateLimit != nil {
		dst.RateLimit = *src.RateLimit
	}
	if src.RateBurst != nil {
		dst.RateBurst = *src.RateBurst
	}
	if src.LogLevel != "" {
		dst.LogLevel = src.LogLevel
	}
	if src.ListenAddr != "" {
		dst.ListenAddr = src.ListenAddr
	}
	if t := src.Telemetry; t != nil {
		if t.Enabled != nil {
			dst.Telemetry.Enabled = *t.Enabled
		}
		if t.ServiceName != "" {
			dst.Telemetry.ServiceName = t.ServiceName
		}
		if t.Exporter != "" {
			dst.Telemetry.Exporter = t.Exporter
		}
		if t.Endpoint != "" {
			dst.Telemetry.Endpoint = t.Endpoint
		}
		if t.SamplingRate != nil {
			dst.Telemetry.SamplingRate = *t.SamplingRate
		}
	}
	return nil
}

func (l *Loader) mergeEnvConfig(cfg *Config) {
	cfg.URL = l.envString(EnvURL, cfg.URL)
	cfg.Username = l.envString(EnvUsername, cfg.Username)
	cfg.Password = l.envString(EnvPassword, cfg.Password)
	cfg.ReadOnly = l.envBool(EnvReadOnly, cfg.ReadOnly)
	cfg.WatchEvents = l.envBool(EnvWatchEvents, cfg.WatchEvents)
	cfg.Debounce = l.envDuration(EnvDebounce, cfg.Debounce)
	cfg.AllowUnauthorized = l.envBool(EnvAllowUnauthorized, cfg.AllowUnauthorized)
	cfg.RateLimit = l.envFloat(EnvRateLimit, cfg.RateLimit)
	cfg.RateBurst = l.envInt(EnvRateBurst, cfg.RateBurst)
	cfg.LogLevel = l.envString(EnvLogLevel, cfg.LogLevel)
	cfg.ListenAddr = l.envString(EnvListenAddr, cfg.ListenAddr)
}

// Wrapper methods for mechanical key tracking

func (l *Loader) envString(key, defaultVal string) string {
	l.ConsumedEnvKeys[key] = struct{}{}
	return parseString(l.lookup, key, defaultVal)
}

func (l *Loader) envBool(key string, defaultVal bool) bool {
	l.ConsumedEnvKeys[key] = struct{}{}
	return parseBool(l.lookup, key, defaultVal)
}

func (l *Loader) envInt(key string, defaultVal int) int {
	l.ConsumedEnvKeys[key] = struct{}{}
	return parseInt(l.lookup, key, defaultVal)
}

func (l *Loader) envFloat(key string, defaultVal float64) float64 {
	l.ConsumedEnvKeys[key] = struct{}{}
	return parseFloat(l.lookup, key, defaultVal)
}

func (l *Loader) envDuration(key string, defaultVal time.Duration) time.Duration {
	l.ConsumedEnvKeys[key] = struct{}{}
	return parseDuration(l.lookup, key, defaultVal)
}
