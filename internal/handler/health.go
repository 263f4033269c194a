package handler // declare the package name; contains HTTP handlers

import (
    "net/http"

    "github.com/labstack/echo/v4"

    "github.com/iliyamo/page-tracker/internal/repository"
)

// Health is a liveness probe.  It does not touch the store, so a Redis
// outage does not get the process restarted.
func Health(c echo.Context) error {
    return c.String(http.StatusOK, "ok")
}

// ReadyHandler reports whether the counter store currently answers.
type ReadyHandler struct {
    Store repository.CounterStore
}

func (h *ReadyHandler) Ready(c echo.Context) error {
    if err := h.Store.Ping(c.Request().Context()); err != nil {
        return c.String(http.StatusServiceUnavailable, "store unavailable")
    }
    return c.String(http.StatusOK, "ready")
}
