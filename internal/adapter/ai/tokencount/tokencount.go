// Package tokencount estimates token usage for providers that do not report it.
//
// Counting uses tiktoken-go with the cl100k_base family as the approximation
// for non-OpenAI models. When no encoding can be loaded the counter falls back
// to a rune-length heuristic so usage is never reported as zero.
package tokencount

import (
	"log/slog"
	"strings"
	"sync"
	"unicode/utf8"

	tiktoken "github.com/pkoukk/tiktoken-go"

	"github.com/fairyhunter13/ai-legal-assistant/internal/domain"
)

// chat framing overhead per message, plus the assistant priming tokens
const (
	tokensPerMessage = 3
	tokensPerRole    = 1
	replyPriming     = 3
)

type encodeFunc func(text, model string) (int, error)

// Counter is safe for concurrent use.
type Counter struct {
	mu     sync.RWMutex
	cache  map[string]*tiktoken.Tiktoken
	encode encodeFunc
}

// NewCounter returns a counter backed by tiktoken.
func NewCounter() *Counter {
	c := &Counter{cache: make(map[string]*tiktoken.Tiktoken)}
	c.encode = c.tiktokenCount
	return c
}

// NewHeuristicCounter returns a counter that never loads BPE ranks.
func NewHeuristicCounter() *Counter {
	c := &Counter{cache: make(map[string]*tiktoken.Tiktoken)}
	c.encode = func(text, _ string) (int, error) { return Heuristic(text), nil }
	return c
}

// DefaultCounter is shared by the gateway.
var DefaultCounter = NewCounter()

func (c *Counter) encoding(model string) (*tiktoken.Tiktoken, error) {
	name := normalizeModelName(model)

	c.mu.RLock()
	enc, ok := c.cache[name]
	c.mu.RUnlock()
	if ok {
		return enc, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if enc, ok := c.cache[name]; ok {
		return enc, nil
	}
	enc, err := tiktoken.EncodingForModel(name)
	if err != nil {
		slog.Debug("falling back to cl100k_base encoding", slog.String("model", model), slog.Any("error", err))
		enc, err = tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			return nil, err
		}
	}
	c.cache[name] = enc
	return enc, nil
}

func (c *Counter) tiktokenCount(text, model string) (int, error) {
	enc, err := c.encoding(model)
	if err != nil {
		return 0, err
	}
	return len(enc.Encode(text, nil, nil)), nil
}

// normalizeModelName maps provider model ids onto a tiktoken model name.
func normalizeModelName(model string) string {
	model = strings.ToLower(model)
	if i := strings.LastIndex(model, "/"); i >= 0 {
		model = model[i+1:]
	}
	model = strings.TrimSuffix(model, ":free")
	switch {
	case strings.HasPrefix(model, "gpt-4o"), strings.HasPrefix(model, "o1"), strings.HasPrefix(model, "o3"):
		return "gpt-4o"
	case strings.Contains(model, "gpt-3.5"):
		return "gpt-3.5-turbo"
	default:
		// claude, gemini, llama and the rest are approximated with the gpt-4 encoding
		return "gpt-4"
	}
}

// Heuristic is the fallback estimate of roughly four characters per token.
func Heuristic(text string) int {
	n := utf8.RuneCountInString(text)
	if n == 0 {
		return 0
	}
	return (n + 3) / 4
}

// Count returns the token count for text, falling back to Heuristic.
func (c *Counter) Count(text, model string) int {
	n, err := c.encode(text, model)
	if err != nil {
		slog.Warn("token count failed, using heuristic", slog.String("model", model), slog.Any("error", err))
		return Heuristic(text)
	}
	return n
}

// CountChat counts a system plus user exchange including message framing.
func (c *Counter) CountChat(system, user, model string) int {
	n := replyPriming
	for _, m := range [][2]string{{"system", system}, {"user", user}} {
		n += tokensPerMessage + tokensPerRole + c.Count(m[0], model) + c.Count(m[1], model)
	}
	return n
}

// Estimate builds an estimated usage record for a prompt and its answer.
func (c *Counter) Estimate(p domain.Prompt, completion, model string) domain.TokenUsage {
	prompt := c.CountChat(p.System, p.User, model)
	out := c.Count(completion, model)
	return domain.TokenUsage{
		PromptTokens:     prompt,
		CompletionTokens: out,
		TotalTokens:      prompt + out,
		Estimated:        true,
	}
}

// Estimate uses DefaultCounter.
func Estimate(p domain.Prompt, completion, model string) domain.TokenUsage {
	return DefaultCounter.Estimate(p, completion, model)
}
