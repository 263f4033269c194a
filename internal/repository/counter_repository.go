package repository

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultTimeout bounds a single store call when CounterOptions leaves
// Timeout unset.
const DefaultTimeout = 2 * time.Second

// CounterStore is the contract the handlers depend on. A key that was never
// incremented reads as zero on every backend.
type CounterStore interface {
	// IncrementAndGet atomically adds one to key and returns the new value.
	IncrementAndGet(ctx context.Context, key string) (int64, error)
	// Get returns the current value of key without changing it.
	Get(ctx context.Context, key string) (int64, error)
	// Ping checks that the store answers.
	Ping(ctx context.Context) error
}

// CounterOptions tunes a counter repository.
type CounterOptions struct {
	Timeout time.Duration
	// Observe, if set, is called after every store round trip.
	Observe func(op string, took time.Duration, err error)
}

func (o CounterOptions) timeout() time.Duration {
	if o.Timeout <= 0 {
		return DefaultTimeout
	}
	return o.Timeout
}

func (o CounterOptions) observe(op string, start time.Time, err error) {
	if o.Observe != nil {
		o.Observe(op, time.Since(start), err)
	}
}

// callContext detaches the store call from the caller's cancellation so an
// increment already sent is not abandoned when the client goes away, while
// still bounding the wait.
func callContext(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), d)
}

var _ CounterStore = (*RedisCounterRepo)(nil)

// RedisCounterRepo keeps counters as plain integer strings in Redis.
type RedisCounterRepo struct {
	client redis.UniversalClient
	opts   CounterOptions
}

func NewRedisCounterRepo(client redis.UniversalClient, opts CounterOptions) *RedisCounterRepo {
	return &RedisCounterRepo{client: client, opts: opts}
}

// IncrementAndGet issues a single INCR; Redis creates a missing key at 0
// before incrementing, so the first call returns 1.
func (r *RedisCounterRepo) IncrementAndGet(ctx context.Context, key string) (n int64, err error) {
	if err := ValidateKey(key); err != nil {
		return 0, err
	}
	ctx, cancel := callContext(ctx, r.opts.timeout())
	defer cancel()
	start := time.Now()
	defer func() { r.opts.observe("incr", start, err) }()

	n, err = r.client.Incr(ctx, key).Result()
	if err != nil {
		return 0, classify("incr", key, err)
	}
	return n, nil
}

// Get reads key; a missing key is zero, not an error.
func (r *RedisCounterRepo) Get(ctx context.Context, key string) (n int64, err error) {
	if err := ValidateKey(key); err != nil {
		return 0, err
	}
	ctx, cancel := callContext(ctx, r.opts.timeout())
	defer cancel()
	start := time.Now()
	defer func() { r.opts.observe("get", start, err) }()

	n, err = r.client.Get(ctx, key).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, classify("get", key, err)
	}
	if n < 0 {
		return 0, &StoreError{Op: "get", Key: key, Kind: ErrStoreProtocol}
	}
	return n, nil
}

func (r *RedisCounterRepo) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, r.opts.timeout())
	defer cancel()
	if err := r.client.Ping(ctx).Err(); err != nil {
		return classify("ping", "", err)
	}
	return nil
}

func (r *RedisCounterRepo) Close() error {
	return r.client.Close()
}
