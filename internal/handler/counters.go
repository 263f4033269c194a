package handler

import (
    "errors"
    "net/http"

    "github.com/labstack/echo/v4"
    "go.uber.org/zap"

    "github.com/iliyamo/page-tracker/internal/repository"
)

// CounterHandler serves read-only admin access to any counter key.
type CounterHandler struct {
    Store repository.CounterStore
    Log   *zap.Logger
}

type counterResp struct {
    Key   string `json:"key"`
    Value int64  `json:"value"`
}

// Get returns the current value of :key straight from the store.  A key
// that was never incremented reports 0.
func (h *CounterHandler) Get(c echo.Context) error {
    key := c.Param("key")
    n, err := h.Store.Get(c.Request().Context(), key)
    if err != nil {
        if errors.Is(err, repository.ErrInvalidKey) {
            return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid key"})
        }
        h.Log.Error("counter read failed", zap.String("key", key), zap.Error(err))
        return c.JSON(http.StatusServiceUnavailable, echo.Map{"error": "store unavailable"})
    }
    return c.JSON(http.StatusOK, counterResp{Key: key, Value: n})
}
