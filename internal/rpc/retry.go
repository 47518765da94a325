package rpc

import (
	"context"
	"errors"
	"net"
	"strings"
	"syscall"

	"github.com/goran-ethernal/ChainPipeline/internal/retry"
	"github.com/goran-ethernal/ChainPipeline/pkg/config"
)

// IsTransient reports whether an RPC error is worth retrying:
// network failures, timeouts, rate limiting and temporary server errors.
func IsTransient(err error) bool {
	return retryableError(err)
}

// retryableError checks if an error should trigger a retry.
func retryableError(err error) bool {
	if err == nil {
		return false
	}

	errStr := strings.ToLower(err.Error())

	// Network errors
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	// Connection errors
	if errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EPIPE) {
		return true
	}

	// Timeout errors
	if strings.Contains(errStr, "timeout") ||
		strings.Contains(errStr, "deadline exceeded") {
		return true
	}

	// Rate limiting
	if strings.Contains(errStr, "429") ||
		strings.Contains(errStr, "too many requests") ||
		strings.Contains(errStr, "rate limit") {
		return true
	}

	// Temporary server errors
	if strings.Contains(errStr, "502") ||
		strings.Contains(errStr, "503") ||
		strings.Contains(errStr, "504") ||
		strings.Contains(errStr, "bad gateway") ||
		strings.Contains(errStr, "service unavailable") ||
		strings.Contains(errStr, "gateway timeout") {
		return true
	}

	// Connection pool exhausted
	if strings.Contains(errStr, "connection pool") ||
		strings.Contains(errStr, "no available connection") {
		return true
	}

	return false
}

// retryWithBackoff executes a function with exponential backoff, retrying transient RPC errors.
func retryWithBackoff(ctx context.Context, cfg *config.RetryConfig, operation string, fn func() error) error {
	return retry.Do(ctx, cfg, operation, retryableError, fn)
}

func errorType(err error) string {
	if retryableError(err) {
		return "transient"
	}
	return "permanent"
}
