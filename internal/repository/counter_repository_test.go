package repository

import (
	"context"
	"net"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedisRepo(t *testing.T, addr string, timeout time.Duration) *RedisCounterRepo {
	t.Helper()
	client := redis.NewClient(&redis.Options{Addr: addr, MaxRetries: -1, ContextTimeoutEnabled: true})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisCounterRepo(client, CounterOptions{Timeout: timeout})
}

func TestRedisIncrementSequential(t *testing.T) {
	m := miniredis.RunT(t)
	repo := newRedisRepo(t, m.Addr(), time.Second)
	ctx := context.Background()

	for k := int64(1); k <= 5; k++ {
		n, err := repo.IncrementAndGet(ctx, "page_views")
		require.NoError(t, err)
		assert.Equal(t, k, n)
	}
	v, err := m.Get("page_views")
	require.NoError(t, err)
	assert.Equal(t, "5", v)
}

func TestRedisGetMissingKeyIsZero(t *testing.T) {
	m := miniredis.RunT(t)
	repo := newRedisRepo(t, m.Addr(), time.Second)

	n, err := repo.Get(context.Background(), "never_touched")
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestRedisGetDoesNotMutate(t *testing.T) {
	m := miniredis.RunT(t)
	require.NoError(t, m.Set("page_views", "7"))
	repo := newRedisRepo(t, m.Addr(), time.Second)

	for i := 0; i < 3; i++ {
		n, err := repo.Get(context.Background(), "page_views")
		require.NoError(t, err)
		assert.Equal(t, int64(7), n)
	}
}

func TestRedisConcurrentIncrements(t *testing.T) {
	m := miniredis.RunT(t)
	require.NoError(t, m.Set("page_views", "10"))
	repo := newRedisRepo(t, m.Addr(), 5*time.Second)

	const callers = 50
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		seen []int64
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			n, err := repo.IncrementAndGet(context.Background(), "page_views")
			if !assert.NoError(t, err) {
				return
			}
			mu.Lock()
			seen = append(seen, n)
			mu.Unlock()
		}()
	}
	wg.Wait()

	require.Len(t, seen, callers)
	sort.Slice(seen, func(i, j int) bool { return seen[i] < seen[j] })
	for i, n := range seen {
		assert.Equal(t, int64(11+i), n)
	}
	final, err := repo.Get(context.Background(), "page_views")
	require.NoError(t, err)
	assert.Equal(t, int64(60), final)
}

func TestRedisConnectionRefused(t *testing.T) {
	m := miniredis.RunT(t)
	addr := m.Addr()
	m.Close()
	repo := newRedisRepo(t, addr, time.Second)

	_, err := repo.IncrementAndGet(context.Background(), "page_views")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrStoreUnavailable)

	_, err = repo.Get(context.Background(), "page_views")
	assert.ErrorIs(t, err, ErrStoreUnavailable)
	assert.ErrorIs(t, repo.Ping(context.Background()), ErrStoreUnavailable)
}

// silentListener accepts connections but never answers.
func silentListener(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	var (
		mu    sync.Mutex
		conns []net.Conn
	)
	t.Cleanup(func() {
		_ = ln.Close()
		mu.Lock()
		defer mu.Unlock()
		for _, c := range conns {
			_ = c.Close()
		}
	})
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			mu.Lock()
			conns = append(conns, c)
			mu.Unlock()
		}
	}()
	return ln.Addr().String()
}

func TestRedisTimeoutIsUnavailable(t *testing.T) {
	repo := newRedisRepo(t, silentListener(t), 100*time.Millisecond)

	start := time.Now()
	_, err := repo.IncrementAndGet(context.Background(), "page_views")
	assert.ErrorIs(t, err, ErrStoreUnavailable)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestRedisCallTimeoutOverridesClientReadTimeout(t *testing.T) {
	client := redis.NewClient(&redis.Options{
		Addr:                  silentListener(t),
		MaxRetries:            -1,
		ReadTimeout:           10 * time.Second,
		WriteTimeout:          10 * time.Second,
		ContextTimeoutEnabled: true,
	})
	t.Cleanup(func() { _ = client.Close() })
	repo := NewRedisCounterRepo(client, CounterOptions{Timeout: 100 * time.Millisecond})

	for _, call := range []func() error{
		func() error { _, err := repo.IncrementAndGet(context.Background(), "page_views"); return err },
		func() error { _, err := repo.Get(context.Background(), "page_views"); return err },
		func() error { return repo.Ping(context.Background()) },
	} {
		start := time.Now()
		assert.ErrorIs(t, call(), ErrStoreUnavailable)
		assert.Less(t, time.Since(start), 2*time.Second)
	}
}

func TestRedisCallerDeadlineDoesNotShortenIncrement(t *testing.T) {
	repo := newRedisRepo(t, silentListener(t), 300*time.Millisecond)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := repo.IncrementAndGet(ctx, "page_views")
	assert.ErrorIs(t, err, ErrStoreUnavailable)
	// bounded by the call timeout, not by the caller's 10ms deadline
	assert.GreaterOrEqual(t, time.Since(start), 250*time.Millisecond)
}

func TestRedisWrongTypeIsProtocolError(t *testing.T) {
	m := miniredis.RunT(t)
	_, err := m.Lpush("page_views", "x")
	require.NoError(t, err)
	repo := newRedisRepo(t, m.Addr(), time.Second)

	_, err = repo.IncrementAndGet(context.Background(), "page_views")
	assert.ErrorIs(t, err, ErrStoreProtocol)
	assert.NotErrorIs(t, err, ErrStoreUnavailable)
}

func TestRedisNonIntegerValueIsProtocolError(t *testing.T) {
	m := miniredis.RunT(t)
	require.NoError(t, m.Set("page_views", "abc"))
	repo := newRedisRepo(t, m.Addr(), time.Second)

	_, err := repo.Get(context.Background(), "page_views")
	assert.ErrorIs(t, err, ErrStoreProtocol)

	_, err = repo.IncrementAndGet(context.Background(), "page_views")
	assert.ErrorIs(t, err, ErrStoreProtocol)
	v, _ := m.Get("page_views")
	assert.Equal(t, "abc", v)
}

func TestRedisInvalidKeyNeverReachesStore(t *testing.T) {
	m := miniredis.RunT(t)
	repo := newRedisRepo(t, m.Addr(), time.Second)

	_, err := repo.IncrementAndGet(context.Background(), "")
	assert.ErrorIs(t, err, ErrInvalidKey)
	_, err = repo.Get(context.Background(), "page views")
	assert.ErrorIs(t, err, ErrInvalidKey)
	assert.Equal(t, 0, m.TotalConnectionCount())
}

func TestRedisIncrementSurvivesCallerCancel(t *testing.T) {
	m := miniredis.RunT(t)
	repo := newRedisRepo(t, m.Addr(), time.Second)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	n, err := repo.IncrementAndGet(ctx, "page_views")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestRedisObserveCalled(t *testing.T) {
	m := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: m.Addr(), MaxRetries: -1, ContextTimeoutEnabled: true})
	t.Cleanup(func() { _ = client.Close() })

	var ops []string
	repo := NewRedisCounterRepo(client, CounterOptions{
		Observe: func(op string, _ time.Duration, err error) {
			assert.NoError(t, err)
			ops = append(ops, op)
		},
	})
	_, _ = repo.IncrementAndGet(context.Background(), "page_views")
	_, _ = repo.Get(context.Background(), "page_views")
	assert.Equal(t, []string{"incr", "get"}, ops)
}
