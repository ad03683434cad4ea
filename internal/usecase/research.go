package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/fairyhunter13/ai-legal-assistant/internal/adapter/ai"
	obsmetrics "github.com/fairyhunter13/ai-legal-assistant/internal/adapter/observability"
	"github.com/fairyhunter13/ai-legal-assistant/internal/domain"
	"github.com/fairyhunter13/ai-legal-assistant/internal/observability"
	"github.com/fairyhunter13/ai-legal-assistant/internal/service/casestudy"
	"github.com/fairyhunter13/ai-legal-assistant/internal/service/scoring"
	"github.com/fairyhunter13/ai-legal-assistant/internal/service/synthesis"
)

// ResearchRequest asks for a full research pass over one question.
type ResearchRequest struct {
	Query        string
	Provider     string
	Jurisdiction string
	Credentials  map[string]string
	Tiers        map[string]domain.Tier
}

// ResearchResult is the synthesized research view of one answer.
type ResearchResult struct {
	Answer       string                       `json:"answer"`
	Provider     string                       `json:"provider"`
	Model        string                       `json:"model,omitempty"`
	Jurisdiction string                       `json:"jurisdiction"`
	FellBack     bool                         `json:"fell_back"`
	Degraded     bool                         `json:"degraded"`
	Usage        domain.TokenUsage            `json:"usage"`
	Attempts     []domain.Attempt             `json:"attempts,omitempty"`
	Analysis     domain.LegalResearchAnalysis `json:"analysis"`
	Metrics      domain.PerformanceMetrics    `json:"metrics"`
	CaseStudies  []domain.CaseStudy           `json:"case_studies"`
}

// CompareRequest asks several providers the same question.
type CompareRequest struct {
	Query        string
	Jurisdiction string
	// Providers to ask; empty means the configured order.
	Providers   []string
	Credentials map[string]string
	Tiers       map[string]domain.Tier
}

// CompareCandidate is one provider's scored answer.
type CompareCandidate struct {
	Provider string                    `json:"provider"`
	Model    string                    `json:"model,omitempty"`
	Answer   string                    `json:"answer,omitempty"`
	Metrics  domain.PerformanceMetrics `json:"metrics"`
	Elapsed  time.Duration             `json:"elapsed"`
	Error    string                    `json:"error,omitempty"`
}

// CompareResult lists every candidate and the winning provider.
type CompareResult struct {
	Candidates []CompareCandidate `json:"candidates"`
	Winner     string             `json:"winner"`
}

// ResearchService runs the full research pipeline.
type ResearchService struct {
	Orchestrator *Orchestrator
	Engine       *synthesis.Engine
	Cases        *casestudy.Synthesizer
	MaxTokens    int
	CompareMax   int
}

// NewResearchService constructs a ResearchService with its dependencies.
func NewResearchService(o *Orchestrator, e *synthesis.Engine, cs *casestudy.Synthesizer, maxTokens, compareMax int) ResearchService {
	return ResearchService{Orchestrator: o, Engine: e, Cases: cs, MaxTokens: maxTokens, CompareMax: compareMax}
}

// Research answers the question, then extracts entities and scores the answer
// in parallel and finally builds case studies from both.
func (s ResearchService) Research(ctx context.Context, r ResearchRequest) (ResearchResult, error) {
	if strings.TrimSpace(r.Query) == "" {
		return ResearchResult{}, fmt.Errorf("op=research.Research: %w: query required", domain.ErrInvalidArgument)
	}
	ctx, span := tracer.Start(ctx, "research.Research")
	defer span.End()

	jur := domain.NormalizeJurisdiction(r.Jurisdiction)
	c, err := s.Orchestrator.Complete(ctx, CompletionRequest{
		Operation:    OpResearch,
		Prompt:       ai.ResearchPrompt(r.Query, jur, s.MaxTokens),
		Query:        r.Query,
		Jurisdiction: jur,
		Provider:     r.Provider,
		Credentials:  r.Credentials,
		Tiers:        r.Tiers,
	})
	if err != nil {
		return ResearchResult{}, fmt.Errorf("op=research.Research: %w", err)
	}

	prose := proseOf(c.Text)
	var (
		analysis domain.LegalResearchAnalysis
		metrics  domain.PerformanceMetrics
	)
	g, _ := errgroup.WithContext(ctx)
	g.Go(func() error {
		analysis = s.Engine.Analyze(c.Text, r.Query, jur)
		return nil
	})
	g.Go(func() error {
		metrics = scoring.Score(prose, c.Elapsed)
		return nil
	})
	_ = g.Wait()

	studies := s.Cases.Build(c.Text, r.Query, jur, analysis, metrics)
	obsmetrics.ObserveAnalysis(string(analysis.Variant), analysis.EntityCount(), metrics.Overall)
	observability.Logger(ctx).Info("research completed",
		slog.String("provider", c.Provider),
		slog.String("variant", string(analysis.Variant)),
		slog.Int("entities", analysis.EntityCount()),
		slog.Int("case_studies", len(studies)),
		slog.Float64("overall", metrics.Overall))

	return ResearchResult{
		Answer:       prose + domain.Disclaimer,
		Provider:     c.Provider,
		Model:        c.Model,
		Jurisdiction: jur,
		FellBack:     c.FellBack,
		Degraded:     c.Degraded,
		Usage:        c.Usage,
		Attempts:     c.Attempts,
		Analysis:     analysis,
		Metrics:      metrics,
		CaseStudies:  studies,
	}, nil
}

// Compare asks each provider once without fallback, scores every answer and
// picks the best one. Failed candidates are reported but never win.
func (s ResearchService) Compare(ctx context.Context, r CompareRequest) (CompareResult, error) {
	if strings.TrimSpace(r.Query) == "" {
		return CompareResult{}, fmt.Errorf("op=research.Compare: %w: query required", domain.ErrInvalidArgument)
	}
	providers := s.compareSet(r.Providers)
	if len(providers) == 0 {
		return CompareResult{}, fmt.Errorf("op=research.Compare: %w: no known providers", domain.ErrInvalidArgument)
	}
	ctx, span := tracer.Start(ctx, "research.Compare")
	defer span.End()

	jur := domain.NormalizeJurisdiction(r.Jurisdiction)
	prompt := ai.AdvicePrompt(r.Query, jur, s.MaxTokens)
	out := make([]CompareCandidate, len(providers))
	errs := make([]error, len(providers))

	g, gctx := errgroup.WithContext(ctx)
	for i, id := range providers {
		g.Go(func() error {
			c, err := s.Orchestrator.Complete(gctx, CompletionRequest{
				Operation:    OpCompare,
				Prompt:       prompt,
				Query:        r.Query,
				Jurisdiction: jur,
				Provider:     id,
				Credentials:  r.Credentials,
				Tiers:        r.Tiers,
				Single:       true,
			})
			if err != nil {
				out[i] = CompareCandidate{Provider: id, Error: string(domain.KindOf(err))}
				errs[i] = err
				return nil
			}
			text := strings.TrimSpace(c.Text)
			out[i] = CompareCandidate{
				Provider: id,
				Model:    c.Model,
				Answer:   text,
				Metrics:  scoring.Score(text, c.Elapsed),
				Elapsed:  c.Elapsed,
			}
			return nil
		})
	}
	_ = g.Wait()

	var cands []scoring.Candidate
	for i, c := range out {
		if errs[i] == nil {
			cands = append(cands, scoring.Candidate{ID: c.Provider, Metrics: c.Metrics})
		}
	}
	best := scoring.Rank(cands)
	if best < 0 {
		return CompareResult{Candidates: out}, fmt.Errorf("op=research.Compare: %w",
			errors.Join(append([]error{domain.ErrAllProvidersExhausted}, errs...)...))
	}
	return CompareResult{Candidates: out, Winner: cands[best].ID}, nil
}

func (s ResearchService) compareSet(requested []string) []string {
	gw := s.Orchestrator.gateway
	if len(requested) == 0 {
		requested = append(gw.Order(), ai.BuiltinID)
	}
	seen := map[string]bool{}
	var out []string
	for _, id := range requested {
		id = strings.ToLower(strings.TrimSpace(id))
		if id == "" || seen[id] || !gw.Has(id) {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	if s.CompareMax > 0 && len(out) > s.CompareMax {
		out = out[:s.CompareMax]
	}
	return out
}

func proseOf(raw string) string {
	if st, ok := synthesis.Parse(raw).(synthesis.Structured); ok && st.Prose != "" {
		return st.Prose
	}
	return strings.TrimSpace(raw)
}
