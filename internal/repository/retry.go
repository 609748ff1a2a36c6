package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// ErrLockContention is returned when the storage lock stayed busy for the
// whole retry budget.
var ErrLockContention = errors.New("storage lock contention")

// RetryPolicy retries operations that fail on storage lock contention with
// a fixed delay. Any other error is returned immediately.
type RetryPolicy struct {
	MaxAttempts int
	Delay       time.Duration
}

// DefaultRetryPolicy bounds lock waits to about three seconds.
var DefaultRetryPolicy = RetryPolicy{MaxAttempts: 150, Delay: 20 * time.Millisecond}

// IsLockContention reports whether err is a SQLite busy or locked error.
func IsLockContention(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrLockContention) {
		return true
	}
	var se *sqlite.Error
	if errors.As(err, &se) {
		switch se.Code() & 0xff {
		case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
			return true
		}
	}
	msg := err.Error()
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "SQLITE_BUSY")
}

// Do runs op until it succeeds, fails with a non-contention error, the
// attempt budget is spent, or ctx is done.
func (p RetryPolicy) Do(ctx context.Context, op func() error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	// WithMaxRetries treats 0 as unlimited, so a single attempt stops outright.
	var b backoff.BackOff = &backoff.StopBackOff{}
	if attempts > 1 {
		b = backoff.WithMaxRetries(backoff.NewConstantBackOff(p.Delay), uint64(attempts-1))
	}
	b = backoff.WithContext(b, ctx)

	tries := 0
	err := backoff.Retry(func() error {
		tries++
		err := op()
		if err == nil {
			return nil
		}
		if !IsLockContention(err) {
			return backoff.Permanent(err)
		}
		return err
	}, b)

	if err != nil && IsLockContention(err) && !errors.Is(err, ErrLockContention) {
		return fmt.Errorf("%w after %d attempts: %v", ErrLockContention, tries, err)
	}
	return err
}
