package provider

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"regexp"
	"strconv"
	"syscall"

	"github.com/opencode-ai/agentcore/pkg/types"
)

// Error is a failure reported by a model provider.
type Error struct {
	ProviderID string
	StatusCode int
	Retryable  bool
	Cause      error
}

func (e *Error) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("provider %s: status %d: %v", e.ProviderID, e.StatusCode, e.Cause)
	}
	return fmt.Sprintf("provider %s: %v", e.ProviderID, e.Cause)
}

func (e *Error) Unwrap() error { return e.Cause }

// IsRetryable reports whether repeating the request may succeed.
func (e *Error) IsRetryable() bool { return e.Retryable }

// HTTPStatus returns the upstream status code, or 0 when unknown.
func (e *Error) HTTPStatus() int { return e.StatusCode }

// Provider returns the id of the failing provider.
func (e *Error) Provider() string { return e.ProviderID }

// ErrorName distinguishes credential failures from other provider errors.
func (e *Error) ErrorName() string {
	if e.StatusCode == 401 || e.StatusCode == 403 {
		return types.ErrNameProviderAuth
	}
	return types.ErrNameProvider
}

// IsRetryable reports whether err is a provider error worth retrying.
func IsRetryable(err error) bool {
	var pe *Error
	return errors.As(err, &pe) && pe.Retryable
}

// Upstream SDKs only expose the status code through their error text, e.g.
// "error, status code: 429, ..." or `POST "https://...": 529 Overloaded`.
var statusPattern = regexp.MustCompile(`(?:status code:?\s*|status\s+|":\s*)([1-5]\d\d)\b`)

// Wrap classifies err as a provider Error. Context cancellation is returned
// unchanged so callers can tell an abort from a failure.
func Wrap(providerID string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	var pe *Error
	if errors.As(err, &pe) {
		return err
	}

	out := &Error{ProviderID: providerID, Cause: err}
	if m := statusPattern.FindStringSubmatch(err.Error()); m != nil {
		out.StatusCode, _ = strconv.Atoi(m[1])
	}
	out.Retryable = retryable(out.StatusCode, err)
	return out
}

func retryable(status int, err error) bool {
	switch {
	case status == 408, status == 409, status == 429:
		return true
	case status >= 500:
		return true
	case status != 0:
		return false
	}

	if errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
