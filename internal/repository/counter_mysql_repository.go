package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// CountersSchema creates the single table the MySQL backend needs.
const CountersSchema = `CREATE TABLE IF NOT EXISTS counters (
	name  VARCHAR(191) NOT NULL PRIMARY KEY,
	value BIGINT UNSIGNED NOT NULL DEFAULT 0
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`

// incrementSQL upserts and increments in one statement. LAST_INSERT_ID(expr)
// makes the new value come back in the OK packet of this same connection,
// so no follow-up SELECT (and no race with other writers) is needed.
const incrementSQL = "INSERT INTO counters (name, value) VALUES (?, LAST_INSERT_ID(1)) " +
	"ON DUPLICATE KEY UPDATE value = LAST_INSERT_ID(value + 1)"

var _ CounterStore = (*MySQLCounterRepo)(nil)

// MySQLCounterRepo keeps counters as rows of the counters table.
type MySQLCounterRepo struct {
	DB   *sql.DB
	opts CounterOptions
}

func NewMySQLCounterRepo(db *sql.DB, opts CounterOptions) *MySQLCounterRepo {
	return &MySQLCounterRepo{DB: db, opts: opts}
}

// IncrementAndGet adds one to the named row, creating it at 1 if missing.
func (r *MySQLCounterRepo) IncrementAndGet(ctx context.Context, key string) (n int64, err error) {
	if err := ValidateKey(key); err != nil {
		return 0, err
	}
	ctx, cancel := callContext(ctx, r.opts.timeout())
	defer cancel()
	start := time.Now()
	defer func() { r.opts.observe("incr", start, err) }()

	res, err := r.DB.ExecContext(ctx, incrementSQL, key)
	if err != nil {
		return 0, classify("incr", key, err)
	}
	n, err = res.LastInsertId()
	if err != nil {
		return 0, classify("incr", key, err)
	}
	if n < 1 {
		return 0, &StoreError{Op: "incr", Key: key, Kind: ErrStoreProtocol}
	}
	return n, nil
}

// Get returns the stored value or zero when the row does not exist.
func (r *MySQLCounterRepo) Get(ctx context.Context, key string) (n int64, err error) {
	if err := ValidateKey(key); err != nil {
		return 0, err
	}
	ctx, cancel := callContext(ctx, r.opts.timeout())
	defer cancel()
	start := time.Now()
	defer func() { r.opts.observe("get", start, err) }()

	err = r.DB.QueryRowContext(ctx, "SELECT value FROM counters WHERE name = ? LIMIT 1", key).Scan(&n)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, classify("get", key, err)
	}
	return n, nil
}

func (r *MySQLCounterRepo) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, r.opts.timeout())
	defer cancel()
	if err := r.DB.PingContext(ctx); err != nil {
		return classify("ping", "", err)
	}
	return nil
}

// EnsureSchema creates the counters table if it is missing.
func (r *MySQLCounterRepo) EnsureSchema(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	_, err := r.DB.ExecContext(ctx, CountersSchema)
	return err
}
