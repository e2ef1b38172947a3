package store

import (
	"context"
	"math/rand"
	"strings"
	"time"
)

// IsBusy reports whether err looks like transient SQLite write
// contention (SQLITE_BUSY / SQLITE_LOCKED surfaced through the
// driver). Such errors are safe to retry; everything else is not.
func IsBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "database table is locked") ||
		strings.Contains(msg, "SQLITE_BUSY")
}

// Retry runs fn up to attempts times, backing off with jitter between
// tries while the error remains transient contention. It never retries
// a non-busy error: retrying a failed claim, for example, would break
// at-most-once semantics. Bounded attempts with jittered backoff keep
// concurrent sweepers from thundering.
func Retry(ctx context.Context, attempts int, backoff time.Duration, fn func() error) error {
	if attempts < 1 {
		attempts = 1
	}

	var err error
	for i := 0; i < attempts; i++ {
		err = fn()
		if err == nil || !IsBusy(err) {
			return err
		}
		if i == attempts-1 {
			break
		}

		// Full jitter on an exponential base.
		sleep := backoff << uint(i)
		sleep = time.Duration(rand.Int63n(int64(sleep) + 1))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(sleep):
		}
	}
	return err
}
