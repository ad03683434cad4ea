package ai

import (
	"context"
	"errors"
	"net/http"
	"strings"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/fairyhunter13/ai-legal-assistant/internal/domain"
)

// AnthropicProvider calls the Messages API through anthropic-sdk-go. SDK
// retries are disabled; fallback across providers is the orchestrator's job.
type AnthropicProvider struct {
	baseURL string
	model   string
	hc      *http.Client
}

func NewAnthropicProvider(baseURL, model string, hc *http.Client) *AnthropicProvider {
	return &AnthropicProvider{baseURL: strings.TrimRight(baseURL, "/"), model: model, hc: hc}
}

func (p *AnthropicProvider) ID() string               { return "anthropic" }
func (p *AnthropicProvider) RequiresCredential() bool { return true }

func (p *AnthropicProvider) Call(ctx context.Context, prompt domain.Prompt, cred domain.ProviderCredential) (domain.Completion, error) {
	if cred.Empty() {
		return domain.Completion{}, MissingCredential(p.ID())
	}
	opts := []option.RequestOption{option.WithAPIKey(cred.Key), option.WithMaxRetries(0)}
	if p.baseURL != "" {
		opts = append(opts, option.WithBaseURL(p.baseURL))
	}
	if p.hc != nil {
		opts = append(opts, option.WithHTTPClient(p.hc))
	}
	client := sdk.NewClient(opts...)

	maxTokens := prompt.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 1024
	}
	model := firstNonEmpty(prompt.Model, p.model)
	params := sdk.MessageNewParams{
		Model:       sdk.Model(model),
		MaxTokens:   int64(maxTokens),
		Messages:    []sdk.MessageParam{sdk.NewUserMessage(sdk.NewTextBlock(prompt.User))},
		Temperature: sdk.Float(float64(prompt.Temperature)),
	}
	if prompt.System != "" {
		params.System = []sdk.TextBlockParam{{Text: prompt.System}}
	}

	msg, err := client.Messages.New(ctx, params)
	if err != nil {
		return domain.Completion{}, p.classify(err)
	}
	var b strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			b.WriteString(block.Text)
		}
	}
	text := b.String()
	if strings.TrimSpace(text) == "" {
		return domain.Completion{}, domain.NewProviderError(p.ID(), domain.FailureFatal, http.StatusOK, errors.New("no text content"))
	}
	in, out := int(msg.Usage.InputTokens), int(msg.Usage.OutputTokens)
	return domain.Completion{
		Text:     text,
		Provider: p.ID(),
		Model:    firstNonEmpty(string(msg.Model), model),
		Usage:    domain.TokenUsage{PromptTokens: in, CompletionTokens: out, TotalTokens: in + out},
	}, nil
}

func (p *AnthropicProvider) classify(err error) *domain.ProviderError {
	var apiErr *sdk.Error
	if errors.As(err, &apiErr) {
		var header http.Header
		if apiErr.Response != nil {
			header = apiErr.Response.Header
		}
		pe := Classify(p.ID(), apiErr.StatusCode, apiErr.Error(), header, nil)
		pe.Err = err
		return pe
	}
	return Classify(p.ID(), 0, "", nil, err)
}
