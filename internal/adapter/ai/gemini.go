package ai

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/fairyhunter13/ai-legal-assistant/internal/config"
	"github.com/fairyhunter13/ai-legal-assistant/internal/domain"
)

// GeminiProvider calls the generateContent REST endpoint.
type GeminiProvider struct {
	baseURL string
	model   string
	hc      *http.Client
	retry   config.RetryConfig
}

func NewGeminiProvider(baseURL, model string, hc *http.Client, retry config.RetryConfig) *GeminiProvider {
	return &GeminiProvider{baseURL: strings.TrimRight(baseURL, "/"), model: model, hc: hc, retry: retry}
}

func (p *GeminiProvider) ID() string               { return "gemini" }
func (p *GeminiProvider) RequiresCredential() bool { return true }

type geminiPart struct {
	Text string `json:"text"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiRequest struct {
	SystemInstruction *geminiContent `json:"systemInstruction,omitempty"`
	Contents          []geminiContent `json:"contents"`
	GenerationConfig  struct {
		Temperature     float32 `json:"temperature"`
		MaxOutputTokens int     `json:"maxOutputTokens,omitempty"`
	} `json:"generationConfig"`
}

type geminiResponse struct {
	Candidates []struct {
		Content      geminiContent `json:"content"`
		FinishReason string        `json:"finishReason"`
	} `json:"candidates"`
	UsageMetadata struct {
		PromptTokenCount     int `json:"promptTokenCount"`
		CandidatesTokenCount int `json:"candidatesTokenCount"`
		TotalTokenCount      int `json:"totalTokenCount"`
	} `json:"usageMetadata"`
	ModelVersion string `json:"modelVersion"`
}

func (p *GeminiProvider) Call(ctx context.Context, prompt domain.Prompt, cred domain.ProviderCredential) (domain.Completion, error) {
	if cred.Empty() {
		return domain.Completion{}, MissingCredential(p.ID())
	}
	model := firstNonEmpty(prompt.Model, p.model)

	var body geminiRequest
	if prompt.System != "" {
		body.SystemInstruction = &geminiContent{Parts: []geminiPart{{Text: prompt.System}}}
	}
	body.Contents = []geminiContent{{Role: "user", Parts: []geminiPart{{Text: prompt.User}}}}
	body.GenerationConfig.Temperature = prompt.Temperature
	body.GenerationConfig.MaxOutputTokens = prompt.MaxTokens

	endpoint := p.baseURL + "/models/" + url.PathEscape(model) + ":generateContent"
	var out geminiResponse
	if err := postJSON(ctx, p.hc, p.retry, p.ID(), endpoint, map[string]string{"x-goog-api-key": cred.Key}, body, &out); err != nil {
		return domain.Completion{}, err
	}
	if len(out.Candidates) == 0 {
		return domain.Completion{}, domain.NewProviderError(p.ID(), domain.FailureFatal, http.StatusOK, errors.New("no candidates"))
	}
	var b strings.Builder
	for _, part := range out.Candidates[0].Content.Parts {
		b.WriteString(part.Text)
	}
	if strings.TrimSpace(b.String()) == "" {
		return domain.Completion{}, domain.NewProviderError(p.ID(), domain.FailureFatal, http.StatusOK,
			errors.New("empty candidate, finish reason "+out.Candidates[0].FinishReason))
	}
	return domain.Completion{
		Text:     b.String(),
		Provider: p.ID(),
		Model:    firstNonEmpty(out.ModelVersion, model),
		Usage: domain.TokenUsage{
			PromptTokens:     out.UsageMetadata.PromptTokenCount,
			CompletionTokens: out.UsageMetadata.CandidatesTokenCount,
			TotalTokens:      out.UsageMetadata.TotalTokenCount,
		},
	}, nil
}
