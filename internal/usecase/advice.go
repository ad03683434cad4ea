package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/fairyhunter13/ai-legal-assistant/internal/adapter/ai"
	"github.com/fairyhunter13/ai-legal-assistant/internal/domain"
	"github.com/fairyhunter13/ai-legal-assistant/internal/observability"
)

// Messages returned in place of an answer when no provider could respond.
const (
	UnavailableMessage = "We could not reach any AI provider to answer your question right now. " +
		"This can happen when provider quotas are exhausted or credentials are missing. Please try again shortly."
	EmptyQueryMessage = "Please enter a question so we can help."
)

// AdviceRequest is one legal or general question.
type AdviceRequest struct {
	Query        string
	Provider     string
	Jurisdiction string
	Credentials  map[string]string
	Tiers        map[string]domain.Tier
}

// AdviceResult is an adapter-usecase DTO for advice and chat responses.
type AdviceResult struct {
	Answer   string            `json:"answer"`
	Provider string            `json:"provider"`
	Model    string            `json:"model,omitempty"`
	FellBack bool              `json:"fell_back"`
	Degraded bool              `json:"degraded"`
	Usage    domain.TokenUsage `json:"usage"`
	Attempts []domain.Attempt  `json:"attempts,omitempty"`
}

// AdviceService answers legal questions through the orchestrator.
type AdviceService struct {
	Orchestrator *Orchestrator
	MaxTokens    int
}

// NewAdviceService constructs an AdviceService with its dependencies.
func NewAdviceService(o *Orchestrator, maxTokens int) AdviceService {
	return AdviceService{Orchestrator: o, MaxTokens: maxTokens}
}

// Advise returns a jurisdiction-aware answer followed by the disclaimer.
// Exhaustion yields a degraded answer and a nil error; only invalid input and
// cancellation are errors.
func (s AdviceService) Advise(ctx context.Context, r AdviceRequest) (AdviceResult, error) {
	if strings.TrimSpace(r.Query) == "" {
		return AdviceResult{}, fmt.Errorf("op=advice.Advise: %w: query required", domain.ErrInvalidArgument)
	}
	jur := domain.NormalizeJurisdiction(r.Jurisdiction)
	c, err := s.Orchestrator.Complete(ctx, CompletionRequest{
		Operation:    OpAdvice,
		Prompt:       ai.AdvicePrompt(r.Query, jur, s.MaxTokens),
		Query:        r.Query,
		Jurisdiction: jur,
		Provider:     r.Provider,
		Credentials:  r.Credentials,
		Tiers:        r.Tiers,
	})
	if err != nil {
		res, err := unavailable(ctx, "advice", c, err)
		if err != nil {
			return AdviceResult{}, err
		}
		res.Answer += domain.Disclaimer
		return res, nil
	}
	return resultOf(c, strings.TrimSpace(c.Text)+domain.Disclaimer), nil
}

// Chat returns a general-purpose answer without the legal disclaimer.
func (s AdviceService) Chat(ctx context.Context, r AdviceRequest) (AdviceResult, error) {
	if strings.TrimSpace(r.Query) == "" {
		return AdviceResult{}, fmt.Errorf("op=advice.Chat: %w: query required", domain.ErrInvalidArgument)
	}
	c, err := s.Orchestrator.Complete(ctx, CompletionRequest{
		Operation:   OpChat,
		Prompt:      ai.ChatPrompt(r.Query, s.MaxTokens),
		Query:       r.Query,
		Provider:    r.Provider,
		Credentials: r.Credentials,
		Tiers:       r.Tiers,
	})
	if err != nil {
		return unavailable(ctx, "chat", c, err)
	}
	return resultOf(c, strings.TrimSpace(c.Text)), nil
}

// GetLegalAdvice is the string-only form of Advise. It never fails.
func (s AdviceService) GetLegalAdvice(ctx context.Context, query, provider, jurisdiction string, credentials map[string]string) string {
	res, err := s.Advise(ctx, AdviceRequest{Query: query, Provider: provider, Jurisdiction: jurisdiction, Credentials: credentials})
	if err != nil {
		if errors.Is(err, domain.ErrInvalidArgument) {
			return EmptyQueryMessage + domain.Disclaimer
		}
		return UnavailableMessage + domain.Disclaimer
	}
	return res.Answer
}

// GetAIResponse is the string-only form of Chat. It never fails.
func (s AdviceService) GetAIResponse(ctx context.Context, query, provider string, credentials map[string]string) string {
	res, err := s.Chat(ctx, AdviceRequest{Query: query, Provider: provider, Credentials: credentials})
	if err != nil {
		if errors.Is(err, domain.ErrInvalidArgument) {
			return EmptyQueryMessage
		}
		return UnavailableMessage
	}
	return res.Answer
}

// GetQuotaStatus reports the window for one provider credential. An empty key
// falls back to the environment-level key.
func (s AdviceService) GetQuotaStatus(ctx context.Context, provider, key string, tier domain.Tier) (domain.QuotaStatus, error) {
	return s.Orchestrator.QuotaStatus(ctx, provider, key, tier)
}

func resultOf(c domain.Completion, answer string) AdviceResult {
	return AdviceResult{
		Answer:   answer,
		Provider: c.Provider,
		Model:    c.Model,
		FellBack: c.FellBack,
		Degraded: c.Degraded,
		Usage:    c.Usage,
		Attempts: c.Attempts,
	}
}

// unavailable turns exhaustion into a degraded answer. Cancellation and bad
// input are passed through.
func unavailable(ctx context.Context, op string, c domain.Completion, err error) (AdviceResult, error) {
	if !errors.Is(err, domain.ErrAllProvidersExhausted) {
		return AdviceResult{}, err
	}
	observability.Logger(ctx).Warn("answering with unavailable message",
		slog.String("op", op), slog.Int("attempts", len(c.Attempts)))
	return AdviceResult{Answer: UnavailableMessage, Degraded: true, FellBack: len(c.Attempts) > 1, Attempts: c.Attempts}, nil
}
