package main

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"github.com/iliyamo/page-tracker/internal/repository"
)

func TestWaitForStore(t *testing.T) {
	m := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: m.Addr(), MaxRetries: -1, ContextTimeoutEnabled: true})
	t.Cleanup(func() { _ = client.Close() })
	store := repository.NewRedisCounterRepo(client, repository.CounterOptions{Timeout: 200 * time.Millisecond})

	assert.NoError(t, waitForStore(context.Background(), store, time.Second, zap.NewNop()))

	m.Close()
	start := time.Now()
	err := waitForStore(context.Background(), store, 500*time.Millisecond, zap.NewNop())
	assert.Error(t, err)
	assert.Less(t, time.Since(start), 3*time.Second)
}
