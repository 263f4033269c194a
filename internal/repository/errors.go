// Package repository holds the counter store adapters and the error kinds
// they report. Handlers only ever look at the kind sentinels below; the
// backend-specific failures are folded into one of them by classify.
package repository

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"unicode"

	"github.com/go-sql-driver/mysql"
	"github.com/redis/go-redis/v9"
)

// ErrStoreUnavailable is returned when the store cannot be reached or does
// not answer within the call timeout. Handlers translate it into 503.
var ErrStoreUnavailable = errors.New("store unavailable")

// ErrStoreProtocol is returned when the store answered but the reply was
// not what the command should produce (non-integer value, WRONGTYPE, ...).
var ErrStoreProtocol = errors.New("store protocol error")

// ErrInvalidKey is a configuration error: the counter key is empty or
// contains characters no backend accepts.
var ErrInvalidKey = errors.New("invalid counter key")

// maxKeyLen matches the width of counters.name in the MySQL schema.
const maxKeyLen = 191

// StoreError carries the operation and key next to the error kind so logs
// can say what failed without the handler knowing about the backend.
type StoreError struct {
	Op   string
	Key  string
	Kind error
	Err  error
}

func (e *StoreError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s %q: %v", e.Op, e.Key, e.Kind)
	}
	return fmt.Sprintf("%s %q: %v: %v", e.Op, e.Key, e.Kind, e.Err)
}

// Is lets errors.Is match the kind sentinel.
func (e *StoreError) Is(target error) bool { return target == e.Kind }

func (e *StoreError) Unwrap() error { return e.Err }

// ValidateKey reports ErrInvalidKey for keys that are empty, too long or
// contain whitespace/control characters.
func ValidateKey(key string) error {
	if key == "" {
		return fmt.Errorf("%w: empty", ErrInvalidKey)
	}
	if len(key) > maxKeyLen {
		return fmt.Errorf("%w: longer than %d bytes", ErrInvalidKey, maxKeyLen)
	}
	for _, r := range key {
		if unicode.IsSpace(r) || unicode.IsControl(r) {
			return fmt.Errorf("%w: %q contains whitespace or control characters", ErrInvalidKey, key)
		}
	}
	return nil
}

// classify maps a backend error onto ErrStoreUnavailable or ErrStoreProtocol.
// Anything it does not recognise is treated as the store being unreachable.
func classify(op, key string, err error) error {
	return &StoreError{Op: op, Key: key, Kind: kindOf(err), Err: err}
}

func kindOf(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return ErrStoreUnavailable
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return ErrStoreUnavailable
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, redis.ErrClosed) || errors.Is(err, driver.ErrBadConn) ||
		errors.Is(err, sql.ErrConnDone) || errors.Is(err, mysql.ErrInvalidConn) {
		return ErrStoreUnavailable
	}

	var numErr *strconv.NumError
	if errors.As(err, &numErr) {
		return ErrStoreProtocol
	}
	var redisErr redis.Error
	if errors.As(err, &redisErr) {
		if transientReply(redisErr.Error()) {
			return ErrStoreUnavailable
		}
		return ErrStoreProtocol
	}
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		return ErrStoreProtocol
	}
	if errors.Is(err, sql.ErrNoRows) {
		return ErrStoreProtocol
	}
	return ErrStoreUnavailable
}

// transientReply reports Redis error replies that mean "not serving right
// now" rather than "bad command".
func transientReply(msg string) bool {
	for _, p := range []string{"LOADING", "BUSY", "MASTERDOWN", "TRYAGAIN", "CLUSTERDOWN"} {
		if strings.HasPrefix(msg, p) {
			return true
		}
	}
	return false
}
