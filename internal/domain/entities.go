// Package domain holds the entities, error taxonomy and ports shared by the
// orchestration pipeline.
package domain

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Error taxonomy (sentinels)
var (
	ErrInvalidArgument       = errors.New("invalid argument")
	ErrMissingCredential     = errors.New("missing credential")
	ErrInvalidCredential     = errors.New("invalid credential")
	ErrQuotaExceeded         = errors.New("quota exceeded")
	ErrUpstreamTransient     = errors.New("upstream transient error")
	ErrUpstreamFatal         = errors.New("upstream fatal error")
	ErrAllProvidersExhausted = errors.New("all providers exhausted")
)

// Disclaimer is appended verbatim to every advice-producing response.
const Disclaimer = "\n\n---\n*Disclaimer: This information is provided for general informational purposes only and does not constitute legal advice. Laws vary by jurisdiction and change over time. Please consult a licensed attorney in your jurisdiction for advice about your specific situation.*"

// FailureKind classifies a provider failure at the gateway boundary.
type FailureKind string

const (
	FailureMissingCredential FailureKind = "missing_credential"
	FailureInvalidCredential FailureKind = "invalid_credential"
	FailureQuotaExceeded     FailureKind = "quota_exceeded"
	FailureTransient         FailureKind = "upstream_transient"
	FailureFatal             FailureKind = "upstream_fatal"
)

// Sentinel returns the taxonomy sentinel for the kind.
func (k FailureKind) Sentinel() error {
	switch k {
	case FailureMissingCredential:
		return ErrMissingCredential
	case FailureInvalidCredential:
		return ErrInvalidCredential
	case FailureQuotaExceeded:
		return ErrQuotaExceeded
	case FailureTransient:
		return ErrUpstreamTransient
	default:
		return ErrUpstreamFatal
	}
}

// ProviderError is the normalized failure returned by every Provider.
// errors.Is matches the taxonomy sentinel for Kind.
type ProviderError struct {
	Provider   string
	Kind       FailureKind
	Status     int
	RetryAfter time.Duration
	Err        error
}

func (e *ProviderError) Error() string {
	msg := fmt.Sprintf("provider %s: %s", e.Provider, e.Kind)
	if e.Status != 0 {
		msg += fmt.Sprintf(" (status %d)", e.Status)
	}
	if e.RetryAfter > 0 {
		msg += fmt.Sprintf(" retry after %s", e.RetryAfter)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap exposes both the taxonomy sentinel and the underlying cause.
func (e *ProviderError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind.Sentinel()}
	}
	return []error{e.Kind.Sentinel(), e.Err}
}

// NewProviderError builds a ProviderError of the given kind.
func NewProviderError(provider string, kind FailureKind, status int, err error) *ProviderError {
	return &ProviderError{Provider: provider, Kind: kind, Status: status, Err: err}
}

// IsRecoverable reports whether the orchestrator may advance to the next
// provider after err. Fatal upstream errors are excluded here even though the
// orchestrator also advances past them; callers use this to label failures.
func IsRecoverable(err error) bool {
	return errors.Is(err, ErrMissingCredential) ||
		errors.Is(err, ErrInvalidCredential) ||
		errors.Is(err, ErrQuotaExceeded) ||
		errors.Is(err, ErrUpstreamTransient)
}

// KindOf returns the failure kind carried by err, defaulting to fatal.
func KindOf(err error) FailureKind {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	switch {
	case errors.Is(err, ErrMissingCredential):
		return FailureMissingCredential
	case errors.Is(err, ErrInvalidCredential):
		return FailureInvalidCredential
	case errors.Is(err, ErrQuotaExceeded):
		return FailureQuotaExceeded
	case errors.Is(err, ErrUpstreamTransient):
		return FailureTransient
	}
	return FailureFatal
}

// Tier is a provider account class.
type Tier string

const (
	TierUnknown Tier = ""
	TierFree    Tier = "free"
	TierPaid    Tier = "paid"
)

// ParseTier maps user input onto a Tier. Unrecognized values are TierUnknown.
func ParseTier(s string) Tier {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "free":
		return TierFree
	case "paid", "pro", "premium":
		return TierPaid
	}
	return TierUnknown
}

// ProviderCredential is supplied per call and never persisted.
type ProviderCredential struct {
	ProviderID string
	Key        string
	Tier       Tier
}

// Empty reports whether no key material is present.
func (c ProviderCredential) Empty() bool { return c.Key == "" }

// String never prints key material.
func (c ProviderCredential) String() string {
	return fmt.Sprintf("credential{provider=%s, tier=%s, present=%t}", c.ProviderID, c.Tier, c.Key != "")
}

// QuotaDecision is the result of a quota check.
type QuotaDecision struct {
	Allowed    bool          `json:"allowed"`
	Remaining  int           `json:"remaining"`
	Limit      int           `json:"limit"`
	ResetAt    time.Time     `json:"reset_at"`
	RetryAfter time.Duration `json:"retry_after,omitempty"`
}

// QuotaReservation is one call taken from a window before the upstream answers.
// It is settled with Commit on success or Release on failure.
type QuotaReservation struct {
	QuotaDecision
	Provider string
	// Tier is the account class the window was resolved for.
	Tier Tier
	// Held is false when nothing was taken, either because the call was denied
	// or because the store failed open.
	Held bool
}

// QuotaStatus is the read-only view polled by status widgets.
type QuotaStatus struct {
	Provider    string    `json:"provider"`
	Tier        Tier      `json:"tier"`
	Used        int       `json:"used"`
	Limit       int       `json:"limit"`
	Remaining   int       `json:"remaining"`
	ResetAt     time.Time `json:"reset_at"`
	PercentUsed float64   `json:"percent_used"`
}

// QuotaExceededError carries the retry-after computed by the tracker.
type QuotaExceededError struct {
	Provider   string
	RetryAfter time.Duration
	ResetAt    time.Time
}

func (e *QuotaExceededError) Error() string {
	return fmt.Sprintf("quota exceeded for %s, retry after %s", e.Provider, e.RetryAfter.Round(time.Second))
}

// Unwrap lets errors.Is match ErrQuotaExceeded.
func (e *QuotaExceededError) Unwrap() error { return ErrQuotaExceeded }

// Context is an alias to allow decoupling from std context in domain
type Context = context.Context
