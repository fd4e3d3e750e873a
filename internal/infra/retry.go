package infra

import (
	"context"
	"errors"
	"net"
	"net/url"
	"time"
)

const (
	retryBase   = time.Second
	retryFactor = 2
	retryCap    = 30 * time.Second
)

// Retry runs op up to attempts times with exponential backoff (1s base,
// doubling, capped at 30s). Only transient network failures are retried;
// any other error returns immediately.
func Retry(ctx context.Context, attempts int, op func(ctx context.Context) error) error {
	if attempts < 1 {
		attempts = 1
	}
	delay := retryBase
	var err error
	for i := 0; i < attempts; i++ {
		if err = op(ctx); err == nil {
			return nil
		}
		if !IsRetryable(err) || i == attempts-1 {
			return err
		}
		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
		delay *= retryFactor
		if delay > retryCap {
			delay = retryCap
		}
	}
	return err
}

// IsRetryable reports whether err is a transient network or timeout error.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		// A per-request timeout is transient; the caller's own context
		// being done is handled by the Retry loop itself.
		return true
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return true
	}
	var ue *url.Error
	if errors.As(err, &ue) {
		return true
	}
	var oe *net.OpError
	return errors.As(err, &oe)
}
