// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

// Package handlers exposes the auth core over a thin JSON API. All domain
// decisions live in the services; handlers only translate outcomes to
// status codes.
package handlers

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
)

// Handlers contains the non-auth endpoints.
type Handlers struct {
	startedAt time.Time
}

// New creates a new Handlers instance.
func New() *Handlers {
	return &Handlers{startedAt: time.Now()}
}

// Health reports process liveness.
func (h *Handlers) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

// Uptime reports how long the process has been running.
func (h *Handlers) Uptime(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"uptime_seconds": int64(time.Since(h.startedAt).Seconds()),
	})
}
