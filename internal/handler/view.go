package handler

import (
    "context"
    "errors"
    "fmt"
    "net/http"
    "sync"
    "time"

    "github.com/labstack/echo/v4"
    "go.uber.org/zap"

    "github.com/iliyamo/page-tracker/internal/metrics"
    "github.com/iliyamo/page-tracker/internal/queue"
    "github.com/iliyamo/page-tracker/internal/repository"
)

// FailureBody is the only thing a client learns when the store fails.
const FailureBody = "Sorry, something went wrong."

const publishTimeout = 5 * time.Second

// EventPublisher receives a page.viewed event after each counted view.
type EventPublisher interface {
    PublishPageViewed(ctx context.Context, ev queue.PageViewedEvent) error
}

// ViewHandler turns one GET / into one increment of Key.
type ViewHandler struct {
    Store   repository.CounterStore
    Key     string
    Events  EventPublisher // may be nil
    Metrics *metrics.Metrics // may be nil
    Log     *zap.Logger

    pending sync.WaitGroup
}

// NewViewHandler fails with repository.ErrInvalidKey when key is unusable so
// a bad COUNTER_KEY stops the process at startup instead of on every request.
func NewViewHandler(store repository.CounterStore, key string, events EventPublisher, m *metrics.Metrics, zl *zap.Logger) (*ViewHandler, error) {
    if err := repository.ValidateKey(key); err != nil {
        return nil, err
    }
    if zl == nil {
        zl = zap.NewNop()
    }
    return &ViewHandler{Store: store, Key: key, Events: events, Metrics: m, Log: zl}, nil
}

// Index increments the counter and reports the new value.  Every call is a
// mutation; store failures are answered with 503 and never retried here.
func (h *ViewHandler) Index(c echo.Context) error {
    n, err := h.Store.IncrementAndGet(c.Request().Context(), h.Key)
    if err != nil {
        h.logFailure(err)
        return c.String(http.StatusServiceUnavailable, FailureBody)
    }
    if h.Metrics != nil {
        h.Metrics.Views.Inc()
    }
    h.publish(queue.PageViewedEvent{
        Key:       h.Key,
        Count:     n,
        ViewedAt:  time.Now().UTC().Format(time.RFC3339),
        RemoteIP:  c.RealIP(),
        UserAgent: c.Request().UserAgent(),
    })
    return c.String(http.StatusOK, ViewMessage(n))
}

// ViewMessage renders the response body for count n.
func ViewMessage(n int64) string {
    return fmt.Sprintf("This page has been viewed %d time(s).", n)
}

func (h *ViewHandler) logFailure(err error) {
    switch {
    case errors.Is(err, repository.ErrStoreUnavailable):
        h.Log.Error("counter store unavailable", zap.String("key", h.Key), zap.Error(err))
    case errors.Is(err, repository.ErrStoreProtocol):
        h.Log.Error("counter store protocol error", zap.String("key", h.Key), zap.Error(err))
    default:
        h.Log.Error("counter increment failed", zap.String("key", h.Key), zap.Error(err))
    }
}

// publish sends ev in the background; the response never waits on the broker.
func (h *ViewHandler) publish(ev queue.PageViewedEvent) {
    if h.Events == nil {
        return
    }
    h.pending.Add(1)
    go func() {
        defer h.pending.Done()
        ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
        defer cancel()
        if err := h.Events.PublishPageViewed(ctx, ev); err != nil {
            h.Log.Warn("page.viewed publish failed", zap.Int64("count", ev.Count), zap.Error(err))
        }
    }()
}

// Wait blocks until background publishes started by Index have finished.
func (h *ViewHandler) Wait() { h.pending.Wait() }
