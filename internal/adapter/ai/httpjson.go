package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	backoff "github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/fairyhunter13/ai-legal-assistant/internal/config"
	"github.com/fairyhunter13/ai-legal-assistant/internal/domain"
	"github.com/fairyhunter13/ai-legal-assistant/internal/observability"
)

const maxResponseBytes = 4 << 20

// NewHTTPClient returns a client with tracing and a hard timeout.
func NewHTTPClient(timeout time.Duration) *http.Client {
	transport := otelhttp.NewTransport(http.DefaultTransport,
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return fmt.Sprintf("AI %s %s", r.Method, r.URL.Host)
		}),
	)
	return &http.Client{Timeout: timeout, Transport: transport}
}

func newBackoff(ctx context.Context, rc config.RetryConfig) backoff.BackOff {
	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = rc.InitialInterval
	expo.MaxInterval = rc.MaxInterval
	expo.MaxElapsedTime = rc.MaxElapsedTime
	if rc.Multiplier > 0 {
		expo.Multiplier = rc.Multiplier
	}
	return backoff.WithContext(backoff.WithMaxRetries(expo, rc.MaxRetries), ctx)
}

// postJSON posts body to url and decodes a 2xx answer into out. Transient
// failures (network errors, 5xx) are retried with backoff; every other
// failure returns immediately as a *domain.ProviderError so the caller can
// fall back to another provider.
func postJSON(ctx context.Context, hc *http.Client, rc config.RetryConfig, provider, url string, headers map[string]string, body, out any) error {
	lg := observability.Logger(ctx).With(slog.String("provider", provider))
	payload, err := json.Marshal(body)
	if err != nil {
		return domain.NewProviderError(provider, domain.FailureFatal, 0, fmt.Errorf("encode request: %w", err))
	}

	op := func() error {
		// Recreate request each attempt to avoid reusing consumed bodies
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
		if err != nil {
			return backoff.Permanent(domain.NewProviderError(provider, domain.FailureFatal, 0, err))
		}
		req.Header.Set("Content-Type", "application/json")
		for k, v := range headers {
			if v != "" {
				req.Header.Set(k, v)
			}
		}
		resp, err := hc.Do(req)
		if err != nil {
			pe := Classify(provider, 0, "", nil, err)
			if pe.Kind == domain.FailureTransient && ctx.Err() == nil {
				lg.Warn("ai provider network error, retrying", slog.Any("error", err))
				return pe
			}
			return backoff.Permanent(pe)
		}
		defer func() { _ = resp.Body.Close() }()

		raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
		if err != nil {
			return domain.NewProviderError(provider, domain.FailureTransient, resp.StatusCode, fmt.Errorf("read body: %w", err))
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			pe := Classify(provider, resp.StatusCode, string(raw), resp.Header, nil)
			lg.Warn("ai provider non-2xx",
				slog.Int("status", resp.StatusCode),
				slog.String("kind", string(pe.Kind)),
				slog.String("x_request_id", resp.Header.Get("X-Request-Id")),
				slog.String("body", truncate(string(raw), 512)))
			if pe.Kind == domain.FailureTransient {
				return pe
			}
			return backoff.Permanent(pe)
		}
		if err := json.Unmarshal(raw, out); err != nil {
			return backoff.Permanent(domain.NewProviderError(provider, domain.FailureFatal, resp.StatusCode, fmt.Errorf("decode response: %w", err)))
		}
		return nil
	}

	if err := backoff.Retry(op, newBackoff(ctx, rc)); err != nil {
		var pe *domain.ProviderError
		if errors.As(err, &pe) {
			return pe
		}
		return ClassifyContext(provider, err)
	}
	return nil
}
