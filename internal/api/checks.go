// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package api

import (
	"context"

	"github.com/ManuGH/xapiwatch/internal/health"
	"github.com/ManuGH/xapiwatch/internal/xapi"
)

// sessionCheck reports the connection state of src.
func sessionCheck(src Source) health.Checker {
	return health.NewFuncChecker("session", func(context.Context) health.CheckResult {
		switch st := src.Status(); st {
		case xapi.StatusConnected:
			return health.CheckResult{Status: health.StatusHealthy, Message: string(st)}
		case xapi.StatusConnecting:
			return health.CheckResult{Status: health.StatusDegraded, Message: string(st)}
		default:
			return health.CheckResult{Status: health.StatusUnhealthy, Message: string(st)}
		}
	})
}

// eventsCheck reports the event watcher. The legacy event API works but
// is degraded; a stopped watcher leaves the cache stale.
func eventsCheck(src Source) health.Checker {
	return health.NewFuncChecker("events", func(context.Context) health.CheckResult {
		if !src.WatchesEvents() {
			return health.CheckResult{Status: health.StatusHealthy, Message: "disabled"}
		}
		switch mode := src.EventMode(); mode {
		case xapi.EventModeToken:
			return health.CheckResult{Status: health.StatusHealthy, Message: mode}
		case xapi.EventModeLegacy:
			return health.CheckResult{Status: health.StatusDegraded, Message: mode}
		default:
			return health.CheckResult{Status: health.StatusUnhealthy, Message: mode}
		}
	})
}
