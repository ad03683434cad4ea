package domain

import "time"

// Prompt is the provider-agnostic request sent through the gateway.
type Prompt struct {
	System      string
	User        string
	Model       string
	Temperature float32
	MaxTokens   int
}

// TokenUsage reports prompt/completion token counts for a call.
type TokenUsage struct {
	PromptTokens     int  `json:"prompt_tokens"`
	CompletionTokens int  `json:"completion_tokens"`
	TotalTokens      int  `json:"total_tokens"`
	Estimated        bool `json:"estimated"`
}

// Completion is a normalized successful provider answer.
type Completion struct {
	Text     string        `json:"text"`
	Provider string        `json:"provider"`
	Model    string        `json:"model"`
	Usage    TokenUsage    `json:"usage"`
	Elapsed  time.Duration `json:"elapsed"`
	Attempts []Attempt     `json:"attempts,omitempty"`
	FellBack bool          `json:"fell_back"`
	Degraded bool          `json:"degraded"`
}

// Attempt records one orchestrator step.
type Attempt struct {
	Provider string        `json:"provider"`
	Outcome  string        `json:"outcome"`
	Kind     FailureKind   `json:"kind,omitempty"`
	Error    string        `json:"error,omitempty"`
	Elapsed  time.Duration `json:"elapsed"`
}

// Provider is one upstream AI service behind the gateway.
//
//go:generate mockery --name=Provider --with-expecter --filename=provider_mock.go
type Provider interface {
	ID() string
	// RequiresCredential is false only for the offline fallback provider.
	RequiresCredential() bool
	// Call returns the answer text or a *ProviderError.
	Call(ctx Context, p Prompt, cred ProviderCredential) (Completion, error)
}

// QuotaTracker is the port consumed by the orchestrator.
type QuotaTracker interface {
	Check(ctx Context, provider string, cred ProviderCredential, tier Tier) (QuotaDecision, error)
	// Reserve checks and spends one call atomically.
	Reserve(ctx Context, provider string, cred ProviderCredential, tier Tier) (QuotaReservation, error)
	Commit(ctx Context, cred ProviderCredential, r QuotaReservation) error
	Release(ctx Context, cred ProviderCredential, r QuotaReservation) error
	Block(ctx Context, provider string, cred ProviderCredential, retryAfter time.Duration) error
	DetectTier(provider string, cred ProviderCredential) Tier
	Status(ctx Context, provider string, cred ProviderCredential, tier Tier) (QuotaStatus, error)
}
