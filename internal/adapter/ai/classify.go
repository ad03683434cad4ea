package ai

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/fairyhunter13/ai-legal-assistant/internal/domain"
)

// Provider error texts that identify a failure class regardless of status code.
var (
	invalidKeyMarkers = []string{
		"invalid api key", "invalid_api_key", "incorrect api key", "api key not valid",
		"invalid x-api-key", "authentication_error", "unauthorized", "permission denied",
	}
	rateLimitMarkers = []string{
		"rate limit", "rate_limit", "ratelimit", "too many requests", "quota",
		"resource_exhausted", "insufficient_quota", "overloaded",
	}
)

// Classify maps an upstream outcome onto the failure taxonomy. status is 0 when
// no HTTP response was received; body is the (possibly truncated) response text.
func Classify(provider string, status int, body string, header http.Header, err error) *domain.ProviderError {
	lower := strings.ToLower(body)
	if err != nil && body == "" {
		lower = strings.ToLower(err.Error())
	}
	kind := domain.FailureFatal
	switch {
	case err != nil && status == 0 && isTransientNetErr(err):
		kind = domain.FailureTransient
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		kind = domain.FailureInvalidCredential
	case status == http.StatusTooManyRequests:
		kind = domain.FailureQuotaExceeded
	case status == http.StatusRequestTimeout || status >= 500:
		kind = domain.FailureTransient
		// some providers report exhausted quota as 503 "overloaded"
		if containsAny(lower, rateLimitMarkers) && status == http.StatusServiceUnavailable {
			kind = domain.FailureQuotaExceeded
		}
	case containsAny(lower, invalidKeyMarkers):
		kind = domain.FailureInvalidCredential
	case containsAny(lower, rateLimitMarkers):
		kind = domain.FailureQuotaExceeded
	}

	cause := err
	if cause == nil {
		msg := "status " + strconv.Itoa(status)
		if snippet := truncate(body, 512); snippet != "" {
			msg += ": " + snippet
		}
		cause = errors.New(msg)
	}
	pe := domain.NewProviderError(provider, kind, status, cause)
	if kind == domain.FailureQuotaExceeded {
		pe.RetryAfter = ParseRetryAfter(header, time.Now())
	}
	return pe
}

// MissingCredential builds the error returned before any network call when no key is available.
func MissingCredential(provider string) *domain.ProviderError {
	return domain.NewProviderError(provider, domain.FailureMissingCredential, 0, errors.New("no API key configured"))
}

// ClassifyContext turns a cancelled or timed-out call into a transient failure.
func ClassifyContext(provider string, err error) *domain.ProviderError {
	return domain.NewProviderError(provider, domain.FailureTransient, 0, err)
}

func isTransientNetErr(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return true
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "connection reset") ||
		strings.Contains(msg, "eof") ||
		strings.Contains(msg, "timeout")
}

// ParseRetryAfter reads Retry-After (seconds or HTTP date) and the common
// x-ratelimit-reset-* headers. Zero means unknown.
func ParseRetryAfter(h http.Header, now time.Time) time.Duration {
	if h == nil {
		return 0
	}
	if v := strings.TrimSpace(h.Get("Retry-After")); v != "" {
		if secs, err := strconv.ParseFloat(v, 64); err == nil && secs > 0 {
			return time.Duration(secs * float64(time.Second))
		}
		if at, err := http.ParseTime(v); err == nil && at.After(now) {
			return at.Sub(now)
		}
	}
	for _, name := range []string{"X-Ratelimit-Reset-Requests", "X-Ratelimit-Reset-Tokens"} {
		if v := strings.TrimSpace(h.Get(name)); v != "" {
			if d, err := time.ParseDuration(v); err == nil && d > 0 {
				return d
			}
		}
	}
	return 0
}

func containsAny(s string, markers []string) bool {
	for _, m := range markers {
		if strings.Contains(s, m) {
			return true
		}
	}
	return false
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
