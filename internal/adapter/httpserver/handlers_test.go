package httpserver_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/ai-legal-assistant/internal/adapter/ai"
	"github.com/fairyhunter13/ai-legal-assistant/internal/adapter/ai/tokencount"
	"github.com/fairyhunter13/ai-legal-assistant/internal/adapter/httpserver"
	"github.com/fairyhunter13/ai-legal-assistant/internal/config"
	"github.com/fairyhunter13/ai-legal-assistant/internal/domain"
	"github.com/fairyhunter13/ai-legal-assistant/internal/service/casestudy"
	"github.com/fairyhunter13/ai-legal-assistant/internal/service/quota"
	"github.com/fairyhunter13/ai-legal-assistant/internal/service/synthesis"
	"github.com/fairyhunter13/ai-legal-assistant/internal/usecase"
)

type stubProvider struct {
	id   string
	text string
	err  error
}

func (s stubProvider) ID() string               { return s.id }
func (s stubProvider) RequiresCredential() bool { return true }
func (s stubProvider) Call(_ context.Context, _ domain.Prompt, _ domain.ProviderCredential) (domain.Completion, error) {
	if s.err != nil {
		return domain.Completion{}, s.err
	}
	return domain.Completion{Text: s.text, Model: s.id + "-model"}, nil
}

func fatal(id string, kind domain.FailureKind, status int) stubProvider {
	return stubProvider{id: id, err: domain.NewProviderError(id, kind, status, errors.New("stub failure"))}
}

const answer = `Under California Civil Code Section 1946 a landlord must give 30 days notice. In Jordan v. Talbot (1961) the court held forcible entry unlawful. You should keep copies of every notice.`

func newServer(t *testing.T, ps ...domain.Provider) (*httpserver.Server, *quota.Tracker) {
	t.Helper()
	opts := []ai.Option{ai.WithTokenCounter(tokencount.NewHeuristicCounter())}
	for _, p := range ps {
		opts = append(opts, ai.WithProvider(p))
	}
	gw := ai.NewGateway(opts...)
	tr := quota.NewTracker(quota.NewMemoryStore(100), map[domain.Tier]config.TierLimit{
		domain.TierFree: {Limit: 50, Window: 24 * time.Hour},
		domain.TierPaid: {Limit: 60, Window: time.Minute},
	})
	o := usecase.NewOrchestrator(gw, tr)
	return httpserver.NewServer(config.Config{},
		usecase.NewAdviceService(o, 512),
		usecase.NewResearchService(o, synthesis.New(), casestudy.NewSeeded(1), 1024, 3),
		usecase.NewReadinessService(time.Second),
	), tr
}

func router(s *httpserver.Server) http.Handler {
	r := chi.NewRouter()
	r.Post("/v1/advice", s.AdviceHandler())
	r.Post("/v1/chat", s.ChatHandler())
	r.Post("/v1/research", s.ResearchHandler())
	r.Post("/v1/compare", s.CompareHandler())
	r.Get("/v1/quota/{provider}", s.QuotaHandler())
	r.Get("/healthz", s.HealthzHandler())
	r.Get("/readyz", s.ReadyzHandler())
	return r
}

func post(t *testing.T, h http.Handler, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	body := decode(t, rec)
	e, ok := body["error"].(map[string]any)
	require.True(t, ok, "body: %s", rec.Body.String())
	return e["code"].(string)
}

func TestAdviceHandler_OK(t *testing.T) {
	s, _ := newServer(t, stubProvider{id: "openai", text: answer})
	rec := post(t, router(s), "/v1/advice", `{"query":"Can my landlord evict me?","jurisdiction":"CA","credentials":{"OpenAI":"sk-test"}}`)

	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "openai", body["provider"])
	assert.Equal(t, false, body["fell_back"])
	assert.Equal(t, false, body["degraded"])
	assert.True(t, strings.HasSuffix(body["answer"].(string), domain.Disclaimer))
}

func TestAdviceHandler_FallsBackToBuiltin(t *testing.T) {
	s, _ := newServer(t, stubProvider{id: "openai", text: answer})
	rec := post(t, router(s), "/v1/advice", `{"query":"Can my landlord evict me?"}`)

	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, ai.BuiltinID, body["provider"])
	assert.Equal(t, true, body["fell_back"])
	assert.Equal(t, true, body["degraded"])
}

func TestAdviceHandler_Validation(t *testing.T) {
	s, _ := newServer(t, stubProvider{id: "openai", text: answer})
	h := router(s)

	cases := map[string]string{
		"bad json":        `{"query":`,
		"missing query":   `{"query":"   "}`,
		"bad provider":    `{"query":"q","provider":"Open AI!"}`,
		"bad tier":        `{"query":"q","tiers":{"openai":"gold"}}`,
		"bad credential":  `{"query":"q","credentials":{"bad id!":"k"}}`,
		"long credential": `{"query":"q","credentials":{"openai":"` + strings.Repeat("k", 600) + `"}}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			rec := post(t, h, "/v1/advice", body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, "INVALID_ARGUMENT", errorCode(t, rec))
		})
	}
}

func TestAdviceHandler_NotAcceptable(t *testing.T) {
	s, _ := newServer(t)
	req := httptest.NewRequest(http.MethodPost, "/v1/advice", strings.NewReader(`{"query":"q"}`))
	req.Header.Set("Accept", "text/html")
	rec := httptest.NewRecorder()
	router(s).ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotAcceptable, rec.Code)
}

func TestChatHandler_NoDisclaimer(t *testing.T) {
	s, _ := newServer(t, stubProvider{id: "groq", text: "Hello there."})
	rec := post(t, router(s), "/v1/chat", `{"query":"hi","credentials":{"groq":"gsk"}}`)

	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "Hello there.", body["answer"])
	assert.NotContains(t, body["answer"], domain.Disclaimer)
}

func TestResearchHandler_OK(t *testing.T) {
	s, _ := newServer(t, stubProvider{id: "openai", text: answer})
	rec := post(t, router(s), "/v1/research", `{"query":"How much notice must a landlord give?","jurisdiction":"california","credentials":{"openai":"sk"}}`)

	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "california", body["jurisdiction"])
	analysis, ok := body["analysis"].(map[string]any)
	require.True(t, ok)
	assert.NotEmpty(t, analysis["cases"])
	assert.NotEmpty(t, body["case_studies"])
	assert.Contains(t, body, "metrics")
}

func TestCompareHandler(t *testing.T) {
	s, _ := newServer(t,
		stubProvider{id: "openai", text: answer},
		fatal("anthropic", domain.FailureInvalidCredential, http.StatusUnauthorized),
	)
	rec := post(t, router(s), "/v1/compare", `{"query":"How much notice must a landlord give?","providers":["openai","anthropic"],"credentials":{"openai":"sk","anthropic":"sk-ant"}}`)

	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "openai", body["winner"])
	cands := body["candidates"].([]any)
	require.Len(t, cands, 2)
	assert.Equal(t, string(domain.FailureInvalidCredential), cands[1].(map[string]any)["error"])
}

func TestCompareHandler_AllFailed(t *testing.T) {
	s, _ := newServer(t, fatal("openai", domain.FailureTransient, http.StatusBadGateway))
	rec := post(t, router(s), "/v1/compare", `{"query":"q","providers":["openai"],"credentials":{"openai":"sk"}}`)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "PROVIDERS_EXHAUSTED", errorCode(t, rec))
}

func TestCompareHandler_TooManyProviders(t *testing.T) {
	s, _ := newServer(t)
	rec := post(t, router(s), "/v1/compare", `{"query":"q","providers":["a","b","c","d","e","f","g","h","i"]}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestQuotaHandler(t *testing.T) {
	s, tr := newServer(t, stubProvider{id: "openai", text: answer})
	cred := domain.ProviderCredential{ProviderID: "openai", Key: "sk-test"}
	require.NoError(t, tr.Record(context.Background(), "openai", cred, domain.TierFree))
	h := router(s)

	req := httptest.NewRequest(http.MethodGet, "/v1/quota/openai?tier=free", nil)
	req.Header.Set(httpserver.ProviderKeyHeader, "sk-test")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var st domain.QuotaStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))
	assert.Equal(t, "openai", st.Provider)
	assert.Equal(t, 1, st.Used)
	assert.Equal(t, 49, st.Remaining)
}

func TestQuotaHandler_Errors(t *testing.T) {
	s, _ := newServer(t, stubProvider{id: "openai", text: answer})
	h := router(s)

	cases := []struct {
		name   string
		path   string
		key    string
		status int
		code   string
	}{
		{"unknown provider", "/v1/quota/mistral", "k", http.StatusBadRequest, "INVALID_ARGUMENT"},
		{"bad tier", "/v1/quota/openai?tier=gold", "k", http.StatusBadRequest, "INVALID_ARGUMENT"},
		{"missing key", "/v1/quota/openai", "", http.StatusUnauthorized, "MISSING_CREDENTIAL"},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, c.path, nil)
			if c.key != "" {
				req.Header.Set(httpserver.ProviderKeyHeader, c.key)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			assert.Equal(t, c.status, rec.Code)
			assert.Equal(t, c.code, errorCode(t, rec))
		})
	}
}

type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

func TestReadyzHandler(t *testing.T) {
	s, _ := newServer(t)
	s.Ready = usecase.NewReadinessService(time.Second,
		usecase.NamedCheck{Name: "redis", Checker: pingFunc(func(context.Context) error { return nil })},
	)
	h := router(s)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	s.Ready = usecase.NewReadinessService(time.Second,
		usecase.NamedCheck{Name: "postgres", Checker: pingFunc(func(context.Context) error { return errors.New("down") })},
	)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "postgres")
}

func TestHealthzHandler(t *testing.T) {
	s, _ := newServer(t)
	rec := httptest.NewRecorder()
	router(s).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}
