package util

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strings"
	"syscall"
	"time"

	"github.com/sethvargo/go-retry"
)

// RetryConfig holds retry configuration
type RetryConfig struct {
	MaxAttempts int           // Total attempts including the first one
	InitialWait time.Duration // Wait before the second attempt, doubled afterwards
	MaxWait     time.Duration // Cap for a single wait

	// Retryable decides whether an error is transient. nil means IsRetryableError.
	Retryable func(error) bool

	Logger *slog.Logger
}

// DefaultRetryConfig returns the default retry configuration
func DefaultRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxAttempts: 3,
		InitialWait: 100 * time.Millisecond,
		MaxWait:     5 * time.Second,
	}
}

// RemoteRetryConfig returns the retry policy for object storage calls:
// 0.5s initial wait, doubling, capped at 10s, 5 attempts.
func RemoteRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxAttempts: 5,
		InitialWait: 500 * time.Millisecond,
		MaxWait:     10 * time.Second,
	}
}

// WithLogger returns a copy of cfg that logs through l
func (cfg *RetryConfig) WithLogger(l *slog.Logger) *RetryConfig {
	c := *cfg
	c.Logger = l
	return &c
}

// IsRetryableError checks if an error is worth retrying
// Returns true for transient network/filesystem errors
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	var pathError *os.PathError
	var syscallError syscall.Errno

	if errors.As(err, &pathError) {
		err = pathError.Err
	}

	if errors.As(err, &syscallError) {
		switch syscallError {
		case syscall.EAGAIN,
			syscall.ETIMEDOUT,
			syscall.ECONNRESET,
			syscall.ECONNABORTED,
			syscall.ECONNREFUSED,
			syscall.ENETDOWN,
			syscall.ENETUNREACH,
			syscall.EHOSTDOWN,
			syscall.EHOSTUNREACH,
			syscall.EPIPE,
			syscall.EIO:
			return true
		}
	}

	// Check error messages for common transient patterns
	errMsg := strings.ToLower(err.Error())
	transientPatterns := []string{
		"timeout",
		"timed out",
		"connection reset",
		"connection refused",
		"connection aborted",
		"broken pipe",
		"no route to host",
		"network is unreachable",
		"network is down",
		"host is down",
		"temporary failure",
		"resource temporarily unavailable",
		"unexpected eof",
		"i/o error",
		"too many requests",
		"service unavailable",
	}

	for _, pattern := range transientPatterns {
		if strings.Contains(errMsg, pattern) {
			return true
		}
	}

	return false
}

// RetryWithBackoff executes a function with exponential backoff retry logic.
// Non-retryable errors are returned immediately; after MaxAttempts the last
// error is returned wrapped.
func RetryWithBackoff[T any](ctx context.Context, cfg *RetryConfig, operation func(context.Context) (T, error), operationName string) (T, error) {
	var zero T

	if cfg == nil {
		cfg = DefaultRetryConfig()
	}
	maxAttempts := cfg.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	retryable := cfg.Retryable
	if retryable == nil {
		retryable = IsRetryableError
	}
	logger := OrNop(cfg.Logger)

	initial := cfg.InitialWait
	if initial <= 0 {
		initial = time.Millisecond
	}
	backoff := retry.NewExponential(initial)
	if cfg.MaxWait > 0 {
		backoff = retry.WithCappedDuration(cfg.MaxWait, backoff)
	}
	backoff = retry.WithMaxRetries(uint64(maxAttempts-1), backoff)

	var (
		result  T
		attempt int
		lastErr error
	)

	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		r, err := operation(ctx)
		if err == nil {
			result = r
			if attempt > 1 {
				logger.Debug("retry succeeded", "op", operationName, "attempt", attempt, "max", maxAttempts)
			}
			return nil
		}

		lastErr = err
		if !retryable(err) {
			logger.Debug("non-retryable error", "op", operationName, "error", err)
			return err
		}
		if attempt < maxAttempts {
			logger.Debug("retrying", "op", operationName, "attempt", attempt, "max", maxAttempts, "error", err)
		}
		return retry.RetryableError(err)
	})
	if err == nil {
		return result, nil
	}

	if attempt >= maxAttempts && lastErr != nil && retryable(lastErr) {
		logger.Warn("retries exhausted", "op", operationName, "attempts", maxAttempts, "error", lastErr)
		return zero, fmt.Errorf("max retries exceeded (%d attempts): %w", maxAttempts, lastErr)
	}
	return zero, err
}

// Retry executes a function with retry logic (no return value)
func Retry(ctx context.Context, cfg *RetryConfig, operation func(context.Context) error, operationName string) error {
	_, err := RetryWithBackoff(ctx, cfg, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, operation(ctx)
	}, operationName)
	return err
}
