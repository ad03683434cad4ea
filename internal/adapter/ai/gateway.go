// Package ai adapts upstream LLM providers behind a single gateway and
// classifies their failures into the domain taxonomy.
package ai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/fairyhunter13/ai-legal-assistant/internal/adapter/ai/tokencount"
	obsmetrics "github.com/fairyhunter13/ai-legal-assistant/internal/adapter/observability"
	"github.com/fairyhunter13/ai-legal-assistant/internal/config"
	"github.com/fairyhunter13/ai-legal-assistant/internal/domain"
	"github.com/fairyhunter13/ai-legal-assistant/internal/observability"
)

// Gateway owns the registered providers and applies the cross-cutting call
// policy: pacing, upstream deadline, circuit breaking, metrics and token
// accounting. It never falls back; that is the orchestrator's job.
type Gateway struct {
	providers map[string]domain.Provider
	order     []string

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	interval time.Duration

	breaker *observability.CircuitBreaker
	timeout time.Duration
	counter *tokencount.Counter
	now     func() time.Time
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithProvider registers p and appends it to the fallback order.
func WithProvider(p domain.Provider) Option {
	return func(g *Gateway) {
		id := strings.ToLower(p.ID())
		if _, dup := g.providers[id]; !dup && id != BuiltinID {
			g.order = append(g.order, id)
		}
		g.providers[id] = p
	}
}

// WithBreaker sets the per-provider circuit breaker.
func WithBreaker(cb *observability.CircuitBreaker) Option {
	return func(g *Gateway) { g.breaker = cb }
}

// WithPacing enforces a minimum interval between calls to one provider.
func WithPacing(interval time.Duration) Option {
	return func(g *Gateway) { g.interval = interval }
}

// WithTimeout bounds every upstream call.
func WithTimeout(d time.Duration) Option {
	return func(g *Gateway) { g.timeout = d }
}

// WithTokenCounter overrides the usage estimator.
func WithTokenCounter(c *tokencount.Counter) Option {
	return func(g *Gateway) { g.counter = c }
}

// NewGateway builds a gateway. The builtin provider is always registered.
func NewGateway(opts ...Option) *Gateway {
	g := &Gateway{
		providers: map[string]domain.Provider{BuiltinID: NewBuiltinProvider()},
		limiters:  map[string]*rate.Limiter{},
		counter:   tokencount.DefaultCounter,
		now:       time.Now,
	}
	for _, o := range opts {
		o(g)
	}
	return g
}

// NewFromConfig registers every enabled catalog provider in catalog order.
// Catalog model and base URL values override the environment defaults.
func NewFromConfig(cfg config.Config, cat config.Catalog) *Gateway {
	hc := NewHTTPClient(cfg.UpstreamTimeout)
	rc := cfg.GetRetryConfig()

	opts := []Option{
		WithBreaker(observability.NewCircuitBreaker(cfg.BreakerMaxFailures, cfg.BreakerCooldown)),
		WithPacing(cfg.ProviderMinInterval),
		WithTimeout(cfg.UpstreamTimeout),
	}
	for _, id := range cat.Order() {
		spec, _ := cat.Lookup(id)
		p := buildProvider(cfg, spec, hc, rc)
		if p == nil {
			slog.Warn("unknown provider in catalog, skipping", slog.String("provider", id))
			continue
		}
		opts = append(opts, WithProvider(p))
	}
	return NewGateway(opts...)
}

func buildProvider(cfg config.Config, spec config.ProviderSpec, hc *http.Client, rc config.RetryConfig) domain.Provider {
	switch spec.ID {
	case "openai":
		return NewOpenAIProvider(firstNonEmpty(spec.BaseURL, cfg.OpenAIBaseURL), firstNonEmpty(spec.Model, cfg.OpenAIModel), hc)
	case "anthropic":
		return NewAnthropicProvider(firstNonEmpty(spec.BaseURL, cfg.AnthropicBaseURL), firstNonEmpty(spec.Model, cfg.AnthropicModel), hc)
	case "gemini":
		return NewGeminiProvider(firstNonEmpty(spec.BaseURL, cfg.GeminiBaseURL), firstNonEmpty(spec.Model, cfg.GeminiModel), hc, rc)
	case "groq":
		return NewGroqProvider(firstNonEmpty(spec.BaseURL, cfg.GroqBaseURL), firstNonEmpty(spec.Model, cfg.GroqModel), hc, rc)
	case "openrouter":
		return NewOpenRouterProvider(firstNonEmpty(spec.BaseURL, cfg.OpenRouterBaseURL), firstNonEmpty(spec.Model, cfg.OpenRouterModel),
			cfg.OpenRouterReferer, cfg.OpenRouterTitle, hc, rc)
	}
	return nil
}

// Order returns the configured provider order, builtin excluded.
func (g *Gateway) Order() []string {
	return append([]string(nil), g.order...)
}

// Has reports whether id is registered.
func (g *Gateway) Has(id string) bool {
	_, ok := g.providers[strings.ToLower(id)]
	return ok
}

// RequiresCredential reports whether the provider needs a key; unknown ids do.
func (g *Gateway) RequiresCredential(id string) bool {
	p, ok := g.providers[strings.ToLower(id)]
	return !ok || p.RequiresCredential()
}

func (g *Gateway) limiter(id string) *rate.Limiter {
	if g.interval <= 0 {
		return nil
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	l, ok := g.limiters[id]
	if !ok {
		l = rate.NewLimiter(rate.Every(g.interval), 1)
		g.limiters[id] = l
	}
	return l
}

// Call sends prompt to a single provider. Every failure is a *domain.ProviderError.
// operation labels metrics (advice, chat, research, compare).
func (g *Gateway) Call(ctx context.Context, id, operation string, prompt domain.Prompt, cred domain.ProviderCredential) (domain.Completion, error) {
	id = strings.ToLower(id)
	lg := observability.Logger(ctx).With(slog.String("provider", id), slog.String("operation", operation))
	p, ok := g.providers[id]
	if !ok {
		return domain.Completion{}, domain.NewProviderError(id, domain.FailureFatal, 0, fmt.Errorf("unknown provider %q", id))
	}
	if p.RequiresCredential() && cred.Empty() {
		obsmetrics.ObserveProviderFailure(id, string(domain.FailureMissingCredential))
		return domain.Completion{}, MissingCredential(id)
	}

	guarded := p.RequiresCredential()
	if guarded {
		if allowed, wait := g.breaker.Allow(id); !allowed {
			obsmetrics.ObserveProviderFailure(id, string(domain.FailureTransient))
			return domain.Completion{}, domain.NewProviderError(id, domain.FailureTransient, 0,
				fmt.Errorf("circuit open, next trial in %s", wait.Round(time.Millisecond)))
		}
	}
	if l := g.limiter(id); l != nil && guarded {
		if err := l.Wait(ctx); err != nil {
			g.breaker.RecordSuccess(id)
			return domain.Completion{}, ClassifyContext(id, err)
		}
	}

	callCtx := ctx
	if g.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	start := g.now()
	c, err := p.Call(callCtx, prompt, cred)
	elapsed := g.now().Sub(start)
	obsmetrics.ObserveAIRequest(id, operation, elapsed)

	if err != nil {
		pe := asProviderError(id, err)
		obsmetrics.ObserveProviderFailure(id, string(pe.Kind))
		switch {
		case !guarded:
		case ctx.Err() != nil:
			// caller went away; says nothing about the provider
			g.breaker.RecordSuccess(id)
		case pe.Kind == domain.FailureTransient || pe.Kind == domain.FailureFatal:
			g.breaker.RecordFailure(id)
		default:
			g.breaker.RecordSuccess(id)
		}
		lg.Warn("ai provider call failed",
			slog.String("kind", string(pe.Kind)),
			slog.Int("status", pe.Status),
			slog.Duration("elapsed", elapsed),
			slog.Any("error", pe.Err))
		return domain.Completion{}, pe
	}
	if guarded {
		g.breaker.RecordSuccess(id)
	}

	if c.Provider == "" {
		c.Provider = id
	}
	if c.Usage.TotalTokens == 0 && c.Usage.PromptTokens == 0 && c.Usage.CompletionTokens == 0 {
		c.Usage = g.counter.Estimate(prompt, c.Text, c.Model)
	}
	c.Elapsed = elapsed
	obsmetrics.ObserveTokens(id, c.Usage.PromptTokens, c.Usage.CompletionTokens)
	lg.Info("ai provider call succeeded",
		slog.String("model", c.Model),
		slog.Int("prompt_tokens", c.Usage.PromptTokens),
		slog.Int("completion_tokens", c.Usage.CompletionTokens),
		slog.Bool("tokens_estimated", c.Usage.Estimated),
		slog.Duration("elapsed", elapsed))
	return c, nil
}

func asProviderError(id string, err error) *domain.ProviderError {
	var pe *domain.ProviderError
	if errors.As(err, &pe) {
		return pe
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return ClassifyContext(id, err)
	}
	return domain.NewProviderError(id, domain.FailureFatal, 0, err)
}
