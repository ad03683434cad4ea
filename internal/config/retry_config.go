package config

import (
	"time"

	"github.com/fairyhunter13/ai-legal-assistant/internal/domain"
)

// RetryConfig holds the transient-retry policy applied inside a single provider call.
type RetryConfig struct {
	// MaxRetries bounds the number of retries after the first attempt
	MaxRetries uint64
	// InitialInterval is the delay before the first retry
	InitialInterval time.Duration
	// MaxInterval caps the delay between retries
	MaxInterval time.Duration
	// MaxElapsedTime stops retrying once exceeded
	MaxElapsedTime time.Duration
	// Multiplier is the exponential backoff multiplier
	Multiplier float64
}

// GetRetryConfig returns the retry configuration, shortened in test environments.
func (c Config) GetRetryConfig() RetryConfig {
	maxElapsed, initial, maxInterval, mult := c.GetAIBackoffConfig()
	return RetryConfig{
		MaxRetries:      c.AIBackoffMaxRetries,
		InitialInterval: initial,
		MaxInterval:     maxInterval,
		MaxElapsedTime:  maxElapsed,
		Multiplier:      mult,
	}
}

// TierLimit is a fixed request ceiling over a window.
type TierLimit struct {
	Limit  int
	Window time.Duration
}

// TierLimits returns the quota ceilings keyed by tier. Unknown tiers use the free ceiling.
func (c Config) TierLimits() map[domain.Tier]TierLimit {
	free := TierLimit{Limit: c.FreeTierLimit, Window: c.FreeTierWindow}
	return map[domain.Tier]TierLimit{
		domain.TierFree:    free,
		domain.TierUnknown: free,
		domain.TierPaid:    {Limit: c.PaidTierLimit, Window: c.PaidTierWindow},
	}
}
