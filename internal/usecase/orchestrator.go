// Package usecase contains application business logic services.
package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/fairyhunter13/ai-legal-assistant/internal/adapter/ai"
	obsmetrics "github.com/fairyhunter13/ai-legal-assistant/internal/adapter/observability"
	"github.com/fairyhunter13/ai-legal-assistant/internal/domain"
	"github.com/fairyhunter13/ai-legal-assistant/internal/observability"
	"github.com/fairyhunter13/ai-legal-assistant/internal/service/respcache"
)

var tracer = otel.Tracer("usecase")

// Gateway is the provider port consumed by the orchestrator.
type Gateway interface {
	Order() []string
	Has(id string) bool
	RequiresCredential(id string) bool
	Call(ctx context.Context, id, operation string, prompt domain.Prompt, cred domain.ProviderCredential) (domain.Completion, error)
}

// Operation labels a request kind for metrics, cache TTLs and cache keys.
type Operation string

const (
	OpAdvice   Operation = "advice"
	OpChat     Operation = "chat"
	OpResearch Operation = "research"
	OpCompare  Operation = "compare"
)

// Attempt outcomes.
const (
	OutcomeSuccess = "success"
	OutcomeFailed  = "failed"
)

// CompletionRequest is one orchestrated question.
type CompletionRequest struct {
	Operation    Operation
	Prompt       domain.Prompt
	Query        string
	Jurisdiction string
	// Provider is tried first; empty means the configured order.
	Provider string
	// Credentials maps provider id to API key. Never cached or logged.
	Credentials map[string]string
	// Tiers optionally declares a credential's account class per provider.
	Tiers map[string]domain.Tier
	// Single disables fallback: only Provider is attempted.
	Single bool
}

// Orchestrator walks the candidate providers until one answers.
type Orchestrator struct {
	gateway Gateway
	quota   domain.QuotaTracker
	envKey  func(string) string

	cache       *respcache.Cache
	chatTTL     time.Duration
	researchTTL time.Duration

	chat     func(context.Context, CompletionRequest) (domain.Completion, error)
	research func(context.Context, CompletionRequest) (domain.Completion, error)
}

// OrchestratorOption customizes an Orchestrator.
type OrchestratorOption func(*Orchestrator)

// WithEnvKeys supplies environment-level keys used when the caller has none.
func WithEnvKeys(fn func(provider string) string) OrchestratorOption {
	return func(o *Orchestrator) { o.envKey = fn }
}

// WithCache memoizes completions. Advice and chat use chatTTL; research and
// compare use researchTTL.
func WithCache(c *respcache.Cache, chatTTL, researchTTL time.Duration) OrchestratorOption {
	return func(o *Orchestrator) {
		o.cache = c
		o.chatTTL = chatTTL
		o.researchTTL = researchTTL
	}
}

// NewOrchestrator constructs an Orchestrator. A nil quota tracker disables quota accounting.
func NewOrchestrator(gw Gateway, quota domain.QuotaTracker, opts ...OrchestratorOption) *Orchestrator {
	o := &Orchestrator{gateway: gw, quota: quota, envKey: func(string) string { return "" }}
	for _, opt := range opts {
		opt(o)
	}
	skipDegraded := respcache.SkipIf(func(c domain.Completion) bool { return c.Degraded })
	o.chat = respcache.Wrap(o.cache, "completion.chat", o.chatTTL, cacheKey, o.run, skipDegraded)
	o.research = respcache.Wrap(o.cache, "completion.research", o.researchTTL, cacheKey, o.run, skipDegraded)
	return o
}

func cacheKey(r CompletionRequest) string {
	return respcache.Key(string(r.Operation),
		strings.ToLower(strings.TrimSpace(r.Provider)),
		strconv.FormatBool(r.Single),
		r.Query,
		domain.NormalizeJurisdiction(r.Jurisdiction),
		r.Prompt.Model,
		r.Prompt.System,
		r.Prompt.User,
		strconv.Itoa(r.Prompt.MaxTokens),
	)
}

// Complete answers req through the first provider that succeeds. When every
// candidate fails the error matches domain.ErrAllProvidersExhausted and every
// attempt error.
func (o *Orchestrator) Complete(ctx context.Context, req CompletionRequest) (domain.Completion, error) {
	if strings.TrimSpace(req.Prompt.User) == "" {
		return domain.Completion{}, fmt.Errorf("op=orchestrator.Complete: %w: empty prompt", domain.ErrInvalidArgument)
	}
	if req.Operation == "" {
		req.Operation = OpChat
	}
	switch req.Operation {
	case OpResearch, OpCompare:
		return o.research(ctx, req)
	default:
		return o.chat(ctx, req)
	}
}

// Candidates returns the provider ids Complete would try, in order.
func (o *Orchestrator) Candidates(preferred string, single bool) []string {
	seen := map[string]bool{}
	var out []string
	add := func(id string) {
		id = strings.ToLower(strings.TrimSpace(id))
		if id == "" || seen[id] || !o.gateway.Has(id) {
			return
		}
		seen[id] = true
		out = append(out, id)
	}
	add(preferred)
	if single {
		return out
	}
	for _, id := range o.gateway.Order() {
		add(id)
	}
	add(ai.BuiltinID)
	return out
}

func (o *Orchestrator) run(ctx context.Context, req CompletionRequest) (domain.Completion, error) {
	ctx, span := tracer.Start(ctx, "orchestrator.Complete")
	defer span.End()
	span.SetAttributes(attribute.String("operation", string(req.Operation)))
	lg := observability.Logger(ctx).With(slog.String("operation", string(req.Operation)))

	candidates := o.Candidates(req.Provider, req.Single)
	attempts := make([]domain.Attempt, 0, len(candidates))
	errs := make([]error, 0, len(candidates))
	for i, id := range candidates {
		if err := ctx.Err(); err != nil {
			span.SetStatus(codes.Error, "cancelled")
			return domain.Completion{Attempts: attempts}, fmt.Errorf("op=orchestrator.Complete: %w", err)
		}
		start := time.Now()
		c, err := o.attempt(ctx, req, id)
		at := domain.Attempt{Provider: id, Elapsed: time.Since(start)}
		if err == nil {
			at.Outcome = OutcomeSuccess
			c.Attempts = append(attempts, at)
			c.FellBack = i > 0
			if c.FellBack {
				obsmetrics.FallbacksTotal.WithLabelValues(id).Inc()
			}
			span.SetAttributes(
				attribute.String("provider", id),
				attribute.Int("attempts", len(c.Attempts)),
				attribute.Bool("fell_back", c.FellBack),
			)
			return c, nil
		}
		at.Outcome = OutcomeFailed
		at.Kind = domain.KindOf(err)
		at.Error = err.Error()
		attempts = append(attempts, at)
		errs = append(errs, err)
		lg.Info("provider attempt failed, advancing",
			slog.String("provider", id),
			slog.String("kind", string(at.Kind)),
			slog.Int("attempt", i+1),
			slog.Int("candidates", len(candidates)))
	}

	obsmetrics.ExhaustedTotal.Inc()
	span.SetStatus(codes.Error, "all providers exhausted")
	lg.Warn("all providers exhausted", slog.Int("attempts", len(attempts)))
	return domain.Completion{Attempts: attempts},
		fmt.Errorf("op=orchestrator.Complete: %w", errors.Join(append([]error{domain.ErrAllProvidersExhausted}, errs...)...))
}

func (o *Orchestrator) attempt(ctx context.Context, req CompletionRequest, id string) (domain.Completion, error) {
	cred := domain.ProviderCredential{ProviderID: id, Tier: req.Tiers[id]}
	guarded := o.gateway.RequiresCredential(id)
	var res domain.QuotaReservation
	if guarded {
		cred.Key = o.resolveKey(req.Credentials, id)
		if cred.Key == "" {
			return domain.Completion{}, ai.MissingCredential(id)
		}
		var err error
		if res, err = o.reserveQuota(ctx, id, cred); err != nil {
			return domain.Completion{}, err
		}
	}

	c, err := o.gateway.Call(ctx, id, string(req.Operation), req.Prompt, cred)
	if err != nil {
		if guarded && o.quota != nil {
			// settle even when the request itself was cancelled
			settleCtx := context.WithoutCancel(ctx)
			_ = o.quota.Release(settleCtx, cred, res)
			var pe *domain.ProviderError
			if errors.As(err, &pe) && pe.Kind == domain.FailureQuotaExceeded {
				_ = o.quota.Block(settleCtx, id, cred, pe.RetryAfter)
			}
		}
		return domain.Completion{}, err
	}
	if guarded && o.quota != nil {
		_ = o.quota.Commit(ctx, cred, res)
	}
	return c, nil
}

// reserveQuota takes one call from the credential's window. Store failures
// are logged by the tracker and allow the call without holding anything.
func (o *Orchestrator) reserveQuota(ctx context.Context, id string, cred domain.ProviderCredential) (domain.QuotaReservation, error) {
	if o.quota == nil {
		return domain.QuotaReservation{}, nil
	}
	r, _ := o.quota.Reserve(ctx, id, cred, cred.Tier)
	if r.Allowed {
		return r, nil
	}
	obsmetrics.QuotaDeniedTotal.WithLabelValues(id).Inc()
	return r, &domain.QuotaExceededError{Provider: id, RetryAfter: r.RetryAfter, ResetAt: r.ResetAt}
}

func (o *Orchestrator) resolveKey(creds map[string]string, id string) string {
	if k := strings.TrimSpace(creds[id]); k != "" {
		return k
	}
	for p, k := range creds {
		if strings.EqualFold(p, id) && strings.TrimSpace(k) != "" {
			return strings.TrimSpace(k)
		}
	}
	return strings.TrimSpace(o.envKey(id))
}

// QuotaStatus resolves the credential the same way Complete does and reports its window.
func (o *Orchestrator) QuotaStatus(ctx context.Context, provider, key string, tier domain.Tier) (domain.QuotaStatus, error) {
	provider = strings.ToLower(strings.TrimSpace(provider))
	if provider == "" || !o.gateway.Has(provider) {
		return domain.QuotaStatus{}, fmt.Errorf("op=orchestrator.QuotaStatus: %w: unknown provider %q", domain.ErrInvalidArgument, provider)
	}
	if !o.gateway.RequiresCredential(provider) {
		return domain.QuotaStatus{Provider: provider}, nil
	}
	if o.quota == nil {
		return domain.QuotaStatus{}, fmt.Errorf("op=orchestrator.QuotaStatus: %w: quota tracking disabled", domain.ErrInvalidArgument)
	}
	cred := domain.ProviderCredential{ProviderID: provider, Tier: tier}
	cred.Key = o.resolveKey(map[string]string{provider: key}, provider)
	if cred.Key == "" {
		return domain.QuotaStatus{}, fmt.Errorf("op=orchestrator.QuotaStatus: %w", domain.ErrMissingCredential)
	}
	st, err := o.quota.Status(ctx, provider, cred, tier)
	if err != nil {
		return domain.QuotaStatus{}, fmt.Errorf("op=orchestrator.QuotaStatus: %w", err)
	}
	return st, nil
}
