package ai

import (
	"context"
	"errors"
	"net/http"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/fairyhunter13/ai-legal-assistant/internal/domain"
)

// OpenAIProvider calls the OpenAI chat completions API through the official-style SDK.
type OpenAIProvider struct {
	baseURL string
	model   string
	hc      *http.Client
}

// NewOpenAIProvider builds the provider; the key arrives per call.
func NewOpenAIProvider(baseURL, model string, hc *http.Client) *OpenAIProvider {
	return &OpenAIProvider{baseURL: strings.TrimRight(baseURL, "/"), model: model, hc: hc}
}

func (p *OpenAIProvider) ID() string               { return "openai" }
func (p *OpenAIProvider) RequiresCredential() bool { return true }

func (p *OpenAIProvider) Call(ctx context.Context, prompt domain.Prompt, cred domain.ProviderCredential) (domain.Completion, error) {
	if cred.Empty() {
		return domain.Completion{}, MissingCredential(p.ID())
	}
	cfg := openai.DefaultConfig(cred.Key)
	if p.baseURL != "" {
		cfg.BaseURL = p.baseURL
	}
	if p.hc != nil {
		cfg.HTTPClient = p.hc
	}
	client := openai.NewClientWithConfig(cfg)

	model := firstNonEmpty(prompt.Model, p.model)
	resp, err := client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       model,
		Temperature: prompt.Temperature,
		MaxTokens:   prompt.MaxTokens,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: prompt.System},
			{Role: openai.ChatMessageRoleUser, Content: prompt.User},
		},
	})
	if err != nil {
		return domain.Completion{}, p.classify(err)
	}
	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
		return domain.Completion{}, domain.NewProviderError(p.ID(), domain.FailureFatal, http.StatusOK, errors.New("empty choices"))
	}
	return domain.Completion{
		Text:     resp.Choices[0].Message.Content,
		Provider: p.ID(),
		Model:    firstNonEmpty(resp.Model, model),
		Usage: domain.TokenUsage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
	}, nil
}

func (p *OpenAIProvider) classify(err error) *domain.ProviderError {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		body := apiErr.Message
		if apiErr.Type != "" {
			body = apiErr.Type + ": " + body
		}
		pe := Classify(p.ID(), apiErr.HTTPStatusCode, body, nil, nil)
		pe.Err = err
		return pe
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		pe := Classify(p.ID(), reqErr.HTTPStatusCode, string(reqErr.Body), nil, nil)
		pe.Err = err
		return pe
	}
	return Classify(p.ID(), 0, "", nil, err)
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
