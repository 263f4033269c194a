package middleware

import (
    "net/http"
    "net/http/httptest"
    "testing"
    "time"

    "github.com/alicebob/miniredis/v2"
    "github.com/labstack/echo/v4"
    "github.com/redis/go-redis/v9"
    "github.com/stretchr/testify/assert"
    "github.com/stretchr/testify/require"
    "go.uber.org/zap"

    "github.com/iliyamo/page-tracker/internal/config"
    "github.com/iliyamo/page-tracker/internal/utils"
)

func ok(c echo.Context) error { return c.String(http.StatusOK, "ok") }

func serve(e *echo.Echo, req *http.Request) *httptest.ResponseRecorder {
    rec := httptest.NewRecorder()
    e.ServeHTTP(rec, req)
    return rec
}

func TestTokenBucketBlocksAfterCapacity(t *testing.T) {
    m := miniredis.RunT(t)
    rdb := redis.NewClient(&redis.Options{Addr: m.Addr()})
    t.Cleanup(func() { _ = rdb.Close() })

    cfg := config.RateLimitConfig{
        Enabled: true, Capacity: 2, RefillTokens: 1,
        RefillInterval: time.Minute, TTL: 10 * time.Minute,
        KeyStrategy: "ip", Prefix: "rl",
    }
    e := echo.New()
    e.GET("/", ok, NewTokenBucket(cfg, rdb, zap.NewNop()))

    for i := 0; i < 2; i++ {
        rec := serve(e, httptest.NewRequest(http.MethodGet, "/", nil))
        assert.Equal(t, http.StatusOK, rec.Code)
    }
    rec := serve(e, httptest.NewRequest(http.MethodGet, "/", nil))
    assert.Equal(t, http.StatusTooManyRequests, rec.Code)
    assert.NotEmpty(t, rec.Header().Get("Retry-After"))
    assert.Equal(t, "0", rec.Header().Get("X-RateLimit-Remaining"))
}

func TestTokenBucketFailsOpen(t *testing.T) {
    m := miniredis.RunT(t)
    rdb := redis.NewClient(&redis.Options{Addr: m.Addr(), MaxRetries: -1})
    t.Cleanup(func() { _ = rdb.Close() })
    m.Close()

    cfg := config.RateLimitConfig{Enabled: true, Capacity: 1, RefillTokens: 1, RefillInterval: time.Second, TTL: time.Minute}
    e := echo.New()
    e.GET("/", ok, NewTokenBucket(cfg, rdb, zap.NewNop()))

    for i := 0; i < 3; i++ {
        assert.Equal(t, http.StatusOK, serve(e, httptest.NewRequest(http.MethodGet, "/", nil)).Code)
    }
}

func TestTokenBucketDisabled(t *testing.T) {
    e := echo.New()
    e.GET("/", ok, NewTokenBucket(config.RateLimitConfig{}, nil, zap.NewNop()))
    assert.Equal(t, http.StatusOK, serve(e, httptest.NewRequest(http.MethodGet, "/", nil)).Code)
}

func TestJWTAuthAndRole(t *testing.T) {
    const secret = "s3cret"
    e := echo.New()
    g := e.Group("/v1", JWTAuth(secret), RequireRole("ADMIN"))
    g.GET("/x", func(c echo.Context) error { return c.String(http.StatusOK, c.Get("subject").(string)) })

    rec := serve(e, httptest.NewRequest(http.MethodGet, "/v1/x", nil))
    assert.Equal(t, http.StatusUnauthorized, rec.Code)

    req := httptest.NewRequest(http.MethodGet, "/v1/x", nil)
    req.Header.Set("Authorization", "Bearer garbage")
    assert.Equal(t, http.StatusUnauthorized, serve(e, req).Code)

    viewer, err := utils.NewAccessToken(secret, "bob", "VIEWER", 5)
    require.NoError(t, err)
    req = httptest.NewRequest(http.MethodGet, "/v1/x", nil)
    req.Header.Set("Authorization", "Bearer "+viewer.Token)
    assert.Equal(t, http.StatusForbidden, serve(e, req).Code)

    admin, err := utils.NewAccessToken(secret, "alice", "ADMIN", 5)
    require.NoError(t, err)
    req = httptest.NewRequest(http.MethodGet, "/v1/x", nil)
    req.Header.Set("Authorization", "Bearer "+admin.Token)
    rec = serve(e, req)
    assert.Equal(t, http.StatusOK, rec.Code)
    assert.Equal(t, "alice", rec.Body.String())

    other, err := utils.NewAccessToken("different", "alice", "ADMIN", 5)
    require.NoError(t, err)
    req = httptest.NewRequest(http.MethodGet, "/v1/x", nil)
    req.Header.Set("Authorization", "Bearer "+other.Token)
    assert.Equal(t, http.StatusUnauthorized, serve(e, req).Code)
}
