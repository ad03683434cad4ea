package ai

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/fairyhunter13/ai-legal-assistant/internal/config"
	"github.com/fairyhunter13/ai-legal-assistant/internal/domain"
)

// CompatProvider calls any OpenAI-compatible chat completions endpoint over
// plain HTTP. Groq and OpenRouter are both served by it.
type CompatProvider struct {
	id      string
	baseURL string
	model   string
	headers map[string]string
	hc      *http.Client
	retry   config.RetryConfig
}

// NewCompatProvider builds a provider named id. extraHeaders are sent on every request.
func NewCompatProvider(id, baseURL, model string, extraHeaders map[string]string, hc *http.Client, retry config.RetryConfig) *CompatProvider {
	return &CompatProvider{
		id:      id,
		baseURL: strings.TrimRight(baseURL, "/"),
		model:   model,
		headers: extraHeaders,
		hc:      hc,
		retry:   retry,
	}
}

// NewGroqProvider returns the Groq provider.
func NewGroqProvider(baseURL, model string, hc *http.Client, retry config.RetryConfig) *CompatProvider {
	return NewCompatProvider("groq", baseURL, model, nil, hc, retry)
}

// NewOpenRouterProvider returns the OpenRouter provider with its attribution headers.
func NewOpenRouterProvider(baseURL, model, referer, title string, hc *http.Client, retry config.RetryConfig) *CompatProvider {
	return NewCompatProvider("openrouter", baseURL, model, map[string]string{
		"HTTP-Referer": referer,
		"X-Title":      title,
	}, hc, retry)
}

func (p *CompatProvider) ID() string               { return p.id }
func (p *CompatProvider) RequiresCredential() bool { return true }

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Temperature float32       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Messages    []chatMessage `json:"messages"`
}

type chatResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
	// some gateways return 200 with an embedded error
	Error *struct {
		Message string `json:"message"`
		Code    any    `json:"code"`
	} `json:"error"`
}

func (p *CompatProvider) Call(ctx context.Context, prompt domain.Prompt, cred domain.ProviderCredential) (domain.Completion, error) {
	if cred.Empty() {
		return domain.Completion{}, MissingCredential(p.ID())
	}
	model := firstNonEmpty(prompt.Model, p.model)
	body := chatRequest{
		Model:       model,
		Temperature: prompt.Temperature,
		MaxTokens:   prompt.MaxTokens,
		Messages: []chatMessage{
			{Role: "system", Content: prompt.System},
			{Role: "user", Content: prompt.User},
		},
	}
	headers := map[string]string{"Authorization": "Bearer " + cred.Key}
	for k, v := range p.headers {
		headers[k] = v
	}

	var out chatResponse
	if err := postJSON(ctx, p.hc, p.retry, p.ID(), p.baseURL+"/chat/completions", headers, body, &out); err != nil {
		return domain.Completion{}, err
	}
	if out.Error != nil {
		return domain.Completion{}, Classify(p.ID(), http.StatusOK, out.Error.Message, nil, nil)
	}
	if len(out.Choices) == 0 || strings.TrimSpace(out.Choices[0].Message.Content) == "" {
		return domain.Completion{}, domain.NewProviderError(p.ID(), domain.FailureFatal, http.StatusOK, errors.New("empty choices"))
	}
	return domain.Completion{
		Text:     out.Choices[0].Message.Content,
		Provider: p.ID(),
		Model:    firstNonEmpty(out.Model, model),
		Usage: domain.TokenUsage{
			PromptTokens:     out.Usage.PromptTokens,
			CompletionTokens: out.Usage.CompletionTokens,
			TotalTokens:      out.Usage.TotalTokens,
		},
	}, nil
}
