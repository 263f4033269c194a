package router // package router defines how HTTP routes are registered for the service

import (
    "github.com/labstack/echo/v4"
    "github.com/prometheus/client_golang/prometheus"
    "github.com/prometheus/client_golang/prometheus/promhttp"

    "github.com/iliyamo/page-tracker/internal/handler"
    "github.com/iliyamo/page-tracker/internal/middleware"
)

// RegisterRoutes registers the public surface: the view counter at "/" and
// the liveness/readiness probes.  limiter wraps only the view route so
// probes are never throttled.
func RegisterRoutes(e *echo.Echo, v *handler.ViewHandler, r *handler.ReadyHandler, limiter echo.MiddlewareFunc) {
    e.GET("/", v.Index, limiter)
    e.GET("/healthz", handler.Health)
    e.GET("/readyz", r.Ready)
}

// RegisterMetrics exposes g in the Prometheus text format at /metrics.
func RegisterMetrics(e *echo.Echo, g prometheus.Gatherer) {
    e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(g, promhttp.HandlerOpts{})))
}

// RegisterAdmin registers token issuance under /v1/auth and the read-only
// counter API under /v1, which requires an ADMIN access token.
func RegisterAdmin(e *echo.Echo, a *handler.AuthHandler, ch *handler.CounterHandler, jwtSecret string) {
    e.POST("/v1/auth/token", a.Token)

    admin := e.Group("/v1")
    admin.Use(middleware.JWTAuth(jwtSecret))
    admin.Use(middleware.RequireRole(handler.AdminRole))
    admin.GET("/counters/:key", ch.Get)
}
