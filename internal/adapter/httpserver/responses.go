// Package httpserver contains HTTP handlers and middleware.
//
// It exposes the advice, chat, research, compare and quota endpoints over
// JSON and maps the domain error taxonomy onto HTTP status codes.
package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"math"
	"net/http"
	"strconv"

	"github.com/fairyhunter13/ai-legal-assistant/internal/domain"
)

type errorEnvelope struct {
	Error apiError `json:"error"`
}

type apiError struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, err error, details interface{}) {
	code := http.StatusInternalServerError
	codeStr := "INTERNAL"
	var qe *domain.QuotaExceededError
	switch {
	case errors.Is(err, domain.ErrInvalidArgument):
		code = http.StatusBadRequest
		codeStr = "INVALID_ARGUMENT"
	case errors.Is(err, domain.ErrAllProvidersExhausted):
		code = http.StatusServiceUnavailable
		codeStr = "PROVIDERS_EXHAUSTED"
	case errors.As(err, &qe):
		code = http.StatusTooManyRequests
		codeStr = "QUOTA_EXCEEDED"
		w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(qe.RetryAfter.Seconds()))))
	case errors.Is(err, domain.ErrQuotaExceeded):
		code = http.StatusTooManyRequests
		codeStr = "QUOTA_EXCEEDED"
	case errors.Is(err, domain.ErrMissingCredential):
		code = http.StatusUnauthorized
		codeStr = "MISSING_CREDENTIAL"
	case errors.Is(err, domain.ErrInvalidCredential):
		code = http.StatusUnauthorized
		codeStr = "INVALID_CREDENTIAL"
	case errors.Is(err, domain.ErrUpstreamTransient):
		code = http.StatusServiceUnavailable
		codeStr = "UPSTREAM_UNAVAILABLE"
	case errors.Is(err, domain.ErrUpstreamFatal):
		code = http.StatusBadGateway
		codeStr = "UPSTREAM_ERROR"
	case errors.Is(err, context.DeadlineExceeded):
		code = http.StatusGatewayTimeout
		codeStr = "TIMEOUT"
	}
	if code >= http.StatusInternalServerError {
		LoggerFrom(r).Error("request failed", slog.String("code", codeStr), slog.Any("error", err))
	}
	writeJSON(w, code, errorEnvelope{Error: apiError{Code: codeStr, Message: err.Error(), Details: details}})
}
