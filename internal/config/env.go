// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/ManuGH/xapiwatch/internal/log"
)

type lookupFunc func(string) (string, bool)

// envValue resolves one key and logs where the value came from.
// Values of sensitive keys are never logged.
func envValue[T any](
	lookup lookupFunc,
	key string,
	defaultValue T,
	parse func(string) (T, error),
	field func(*zerolog.Event, string, T) *zerolog.Event,
) T {
	logger := log.WithComponent("config")
	sensitive := isSensitiveKey(key)
	withValue := func(ev *zerolog.Event, name string, v T) *zerolog.Event {
		if sensitive {
			return ev.Str(name, "***")
		}
		return field(ev, name, v)
	}

	v, ok := lookup(key)
	if !ok {
		withValue(logger.Debug().Str("key", key), "default", defaultValue).
			Str("source", "default").
			Msg("using default value")
		return defaultValue
	}
	if v == "" {
		withValue(logger.Debug().Str("key", key), "default", defaultValue).
			Str("source", "default").
			Msg("using default value (environment variable is empty)")
		return defaultValue
	}

	parsed, err := parse(v)
	if err != nil {
		ev := logger.Warn().Str("key", key)
		if !sensitive {
			ev = ev.Str("value", v)
		}
		withValue(ev, "default", defaultValue).
			Err(err).
			Msg("invalid value in environment variable, using default")
		return defaultValue
	}

	withValue(logger.Debug().Str("key", key), "value", parsed).
		Str("source", "environment").
		Msg("using environment variable")
	return parsed
}

func isSensitiveKey(key string) bool {
	k := strings.ToUpper(key)
	return strings.Contains(k, "PASSWORD") || strings.Contains(k, "TOKEN") || strings.Contains(k, "SECRET")
}

func parseString(lookup lookupFunc, key, defaultValue string) string {
	return envValue(lookup, key, defaultValue,
		func(s string) (string, error) { return s, nil },
		(*zerolog.Event).Str)
}

func parseInt(lookup lookupFunc, key string, defaultValue int) int {
	return envValue(lookup, key, defaultValue, strconv.Atoi, (*zerolog.Event).Int)
}

func parseFloat(lookup lookupFunc, key string, defaultValue float64) float64 {
	return envValue(lookup, key, defaultValue,
		func(s string) (float64, error) { return strconv.ParseFloat(s, 64) },
		(*zerolog.Event).Float64)
}

func parseDuration(lookup lookupFunc, key string, defaultValue time.Duration) time.Duration {
	return envValue(lookup, key, defaultValue, time.ParseDuration, (*zerolog.Event).Dur)
}

func parseBool(lookup lookupFunc, key string, defaultValue bool) bool {
	return envValue(lookup, key, defaultValue, parseBoolValue, (*zerolog.Event).Bool)
}

// parseBoolValue accepts true/false, 1/0 and yes/no in any case.
func parseBoolValue(s string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true", "1", "yes":
		return true, nil
	case "false", "0", "no":
		return false, nil
	}
	return false, fmt.Errorf("invalid boolean %q", s)
}

// ParseString reads a string from environment variable or returns default value.
func ParseString(key, defaultValue string) string {
	return parseString(os.LookupEnv, key, defaultValue)
}

// ParseInt reads an integer from environment variable or returns default value.
func ParseInt(key string, defaultValue int) int {
	return parseInt(os.LookupEnv, key, defaultValue)
}

// ParseFloat reads a float64 from environment variable or returns default value.
func ParseFloat(key string, defaultValue float64) float64 {
	return parseFloat(os.LookupEnv, key, defaultValue)
}

// ParseDuration reads a duration from environment variable or returns default value.
func ParseDuration(key string, defaultValue time.Duration) time.Duration {
	return parseDuration(os.LookupEnv, key, defaultValue)
}

// ParseBool reads a boolean from environment variable or returns default value.
func ParseBool(key string, defaultValue bool) bool {
	return parseBool(os.LookupEnv, key, defaultValue)
}
