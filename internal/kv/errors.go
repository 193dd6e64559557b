package kv

import (
	"context"
	"errors"
	"io"
	"net"
	"syscall"

	"github.com/culture-survey/backend/pkg/circuitbreaker"
	"github.com/culture-survey/backend/pkg/retry"
)

var (
	// ErrNotConfigured means no backend is configured (or it cannot be built)
	// and the caller has no usable fallback. Never retried.
	ErrNotConfigured = errors.New("storage backend not configured")
	// ErrTransient marks connection-level failures that are worth retrying.
	ErrTransient = errors.New("transient backend error")
	// ErrStorageUnavailable is returned once retries are exhausted or while
	// the backend is marked degraded.
	ErrStorageUnavailable = errors.New("storage unavailable")
	// ErrSerialization covers malformed stored JSON and unencodable values.
	ErrSerialization = errors.New("serialization error")
	// ErrAuth is a credential rejection from the backend.
	ErrAuth = errors.New("backend rejected credentials")
	// ErrConflict is returned when a compare-and-swap keeps losing to
	// concurrent writers.
	ErrConflict = errors.New("concurrent modification")
)

// IsTransient reports whether err is a connection-level failure that a
// retry could plausibly fix.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrTransient) {
		return true
	}
	if errors.Is(err, ErrSerialization) ||
		errors.Is(err, ErrAuth) ||
		errors.Is(err, ErrNotConfigured) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNABORTED) ||
		errors.Is(err, syscall.EPIPE) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}

	var netErr net.Error
	return errors.As(err, &netErr)
}

// countsAgainstBackend decides which outcomes mark the client degraded.
func countsAgainstBackend(err error) bool {
	return errors.Is(err, retry.ErrExhausted) || IsTransient(err)
}

func isFastFail(err error) bool {
	return errors.Is(err, circuitbreaker.ErrCircuitOpen) || errors.Is(err, circuitbreaker.ErrProbePending)
}
