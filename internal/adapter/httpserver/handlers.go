package httpserver

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/fairyhunter13/ai-legal-assistant/internal/config"
	"github.com/fairyhunter13/ai-legal-assistant/internal/domain"
	"github.com/fairyhunter13/ai-legal-assistant/internal/usecase"
)

// ProviderKeyHeader carries the credential for quota lookups so it never
// appears in URLs or access logs.
const ProviderKeyHeader = "X-Provider-Key"

const maxBodyBytes = 1 << 20

// Server aggregates handlers dependencies.
type Server struct {
	Cfg      config.Config
	Advice   usecase.AdviceService
	Research usecase.ResearchService
	Ready    usecase.ReadinessService
}

// NewServer constructs an HTTP server with all handlers and checks wired.
func NewServer(cfg config.Config, advice usecase.AdviceService, research usecase.ResearchService, ready usecase.ReadinessService) *Server {
	return &Server{Cfg: cfg, Advice: advice, Research: research, Ready: ready}
}

type adviceRequest struct {
	Query        string            `json:"query" validate:"required,max=4000"`
	Provider     string            `json:"provider" validate:"providerid"`
	Jurisdiction string            `json:"jurisdiction" validate:"max=64"`
	Credentials  map[string]string `json:"credentials"`
	Tiers        map[string]string `json:"tiers" validate:"dive,tier"`
}

type compareRequest struct {
	Query        string            `json:"query" validate:"required,max=4000"`
	Jurisdiction string            `json:"jurisdiction" validate:"max=64"`
	Providers    []string          `json:"providers" validate:"max=8,dive,providerid"`
	Credentials  map[string]string `json:"credentials"`
	Tiers        map[string]string `json:"tiers" validate:"dive,tier"`
}

// notAcceptable rejects clients that cannot read JSON.
func notAcceptable(w http.ResponseWriter, r *http.Request) bool {
	a := r.Header.Get("Accept")
	if a == "" || a == "*/*" || strings.Contains(a, "application/json") {
		return false
	}
	writeJSON(w, http.StatusNotAcceptable, errorEnvelope{Error: apiError{
		Code: "INVALID_ARGUMENT", Message: "not acceptable", Details: map[string]any{"accept": a},
	}})
	return true
}

// decodeRequest reads, sanitizes and validates a JSON body. It writes the
// error response itself and reports whether the handler should continue.
func decodeRequest(w http.ResponseWriter, r *http.Request, dst interface{}, sanitize func()) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, r, fmt.Errorf("%w: invalid json", domain.ErrInvalidArgument), nil)
		return false
	}
	sanitize()
	if err := getValidator().Struct(dst); err != nil {
		writeError(w, r, fmt.Errorf("%w: validation failed", domain.ErrInvalidArgument), validationDetails(err))
		return false
	}
	return true
}

func (req *adviceRequest) sanitize() {
	req.Query = SanitizeString(req.Query)
	req.Provider = strings.ToLower(strings.TrimSpace(req.Provider))
	req.Jurisdiction = SanitizeString(req.Jurisdiction)
	req.Credentials = SanitizeCredentials(req.Credentials)
}

func (req *compareRequest) sanitize() {
	req.Query = SanitizeString(req.Query)
	req.Jurisdiction = SanitizeString(req.Jurisdiction)
	for i, p := range req.Providers {
		req.Providers[i] = strings.ToLower(strings.TrimSpace(p))
	}
	req.Credentials = SanitizeCredentials(req.Credentials)
}

func parseTiers(in map[string]string) map[string]domain.Tier {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]domain.Tier, len(in))
	for p, t := range in {
		out[strings.ToLower(strings.TrimSpace(p))] = domain.ParseTier(t)
	}
	return out
}

func credentialsOK(w http.ResponseWriter, r *http.Request, creds map[string]string) bool {
	if res := ValidateCredentials(creds); !res.Valid {
		writeError(w, r, fmt.Errorf("%w: invalid credentials", domain.ErrInvalidArgument), res.Errors)
		return false
	}
	return true
}

// AdviceHandler answers a jurisdiction-aware legal question.
func (s *Server) AdviceHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if notAcceptable(w, r) {
			return
		}
		var req adviceRequest
		if !decodeRequest(w, r, &req, req.sanitize) || !credentialsOK(w, r, req.Credentials) {
			return
		}
		res, err := s.Advice.Advise(r.Context(), usecase.AdviceRequest{
			Query:        req.Query,
			Provider:     req.Provider,
			Jurisdiction: req.Jurisdiction,
			Credentials:  req.Credentials,
			Tiers:        parseTiers(req.Tiers),
		})
		if err != nil {
			writeError(w, r, fmt.Errorf("advice: %w", err), nil)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

// ChatHandler answers a general question without the legal disclaimer.
func (s *Server) ChatHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if notAcceptable(w, r) {
			return
		}
		var req adviceRequest
		if !decodeRequest(w, r, &req, req.sanitize) || !credentialsOK(w, r, req.Credentials) {
			return
		}
		res, err := s.Advice.Chat(r.Context(), usecase.AdviceRequest{
			Query:       req.Query,
			Provider:    req.Provider,
			Credentials: req.Credentials,
			Tiers:       parseTiers(req.Tiers),
		})
		if err != nil {
			writeError(w, r, fmt.Errorf("chat: %w", err), nil)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

// ResearchHandler runs the full research pipeline.
func (s *Server) ResearchHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if notAcceptable(w, r) {
			return
		}
		var req adviceRequest
		if !decodeRequest(w, r, &req, req.sanitize) || !credentialsOK(w, r, req.Credentials) {
			return
		}
		res, err := s.Research.Research(r.Context(), usecase.ResearchRequest{
			Query:        req.Query,
			Provider:     req.Provider,
			Jurisdiction: req.Jurisdiction,
			Credentials:  req.Credentials,
			Tiers:        parseTiers(req.Tiers),
		})
		if err != nil {
			writeError(w, r, fmt.Errorf("research: %w", err), nil)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

// CompareHandler asks several providers and returns every scored candidate.
func (s *Server) CompareHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if notAcceptable(w, r) {
			return
		}
		var req compareRequest
		if !decodeRequest(w, r, &req, req.sanitize) || !credentialsOK(w, r, req.Credentials) {
			return
		}
		res, err := s.Research.Compare(r.Context(), usecase.CompareRequest{
			Query:        req.Query,
			Jurisdiction: req.Jurisdiction,
			Providers:    req.Providers,
			Credentials:  req.Credentials,
			Tiers:        parseTiers(req.Tiers),
		})
		if err != nil {
			var details interface{}
			if errors.Is(err, domain.ErrAllProvidersExhausted) {
				details = map[string]any{"candidates": res.Candidates}
			}
			writeError(w, r, fmt.Errorf("compare: %w", err), details)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

// QuotaHandler reports the quota window of the credential in X-Provider-Key.
func (s *Server) QuotaHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if notAcceptable(w, r) {
			return
		}
		provider := strings.ToLower(chi.URLParam(r, "provider"))
		if res := ValidateProvider(provider); !res.Valid {
			writeError(w, r, fmt.Errorf("%w: invalid provider", domain.ErrInvalidArgument), res.Errors)
			return
		}
		tierParam := r.URL.Query().Get("tier")
		tier := domain.ParseTier(tierParam)
		if tierParam != "" && tier == domain.TierUnknown {
			writeError(w, r, fmt.Errorf("%w: tier must be free or paid", domain.ErrInvalidArgument), map[string]string{"tier": tierParam})
			return
		}
		st, err := s.Advice.GetQuotaStatus(r.Context(), provider, strings.TrimSpace(r.Header.Get(ProviderKeyHeader)), tier)
		if err != nil {
			writeError(w, r, fmt.Errorf("quota: %w", err), nil)
			return
		}
		writeJSON(w, http.StatusOK, st)
	}
}

// HealthzHandler reports liveness.
func (s *Server) HealthzHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

// ReadyzHandler returns a readiness handler that probes the configured stores.
func (s *Server) ReadyzHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		checks := s.Ready.Readiness(r.Context())
		st := http.StatusOK
		if !usecase.Ready(checks) {
			st = http.StatusServiceUnavailable
		}
		writeJSON(w, st, map[string]any{"checks": checks})
	}
}
