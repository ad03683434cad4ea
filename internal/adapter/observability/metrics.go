package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"route", "method", "status"},
	)
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"route", "method"},
	)

	AIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ai_requests_total",
			Help: "Total number of AI requests by provider and operation",
		},
		[]string{"provider", "operation"},
	)
	AIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ai_request_duration_seconds",
			Help:    "AI request duration in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"provider", "operation"},
	)
	AIProviderFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ai_provider_failures_total",
			Help: "Provider call failures by normalized failure kind",
		},
		[]string{"provider", "kind"},
	)
	AITokensTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ai_tokens_total",
			Help: "Prompt and completion tokens by provider",
		},
		[]string{"provider", "type"},
	)

	FallbacksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orchestrator_fallbacks_total",
			Help: "Requests answered by a provider other than the first candidate",
		},
		[]string{"provider"},
	)
	ExhaustedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "orchestrator_exhausted_total",
			Help: "Requests for which every provider candidate failed",
		},
	)
	QuotaDeniedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quota_denied_total",
			Help: "Quota checks that denied a provider call",
		},
		[]string{"provider"},
	)

	CacheRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_requests_total",
			Help: "Response cache lookups by operation and result",
		},
		[]string{"op", "result"},
	)

	// Synthesis and scoring outcome distributions
	ExtractedEntitiesHistogram = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "synthesis_entities",
			Help:    "Entities per analysis by extraction variant",
			Buckets: []float64{0, 1, 2, 3, 5, 8, 13, 21},
		},
		[]string{"variant"},
	)
	OverallScoreHistogram = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "scoring_overall",
			Help:    "Distribution of heuristic overall scores ([0,100])",
			Buckets: []float64{10, 20, 30, 40, 50, 60, 70, 80, 90, 100},
		},
	)
)

var initOnce sync.Once

// InitMetrics registers all collectors with the default registry. Safe to call more than once.
func InitMetrics() {
	initOnce.Do(func() {
		prometheus.MustRegister(HTTPRequestsTotal)
		prometheus.MustRegister(HTTPRequestDuration)
		prometheus.MustRegister(AIRequestsTotal)
		prometheus.MustRegister(AIRequestDuration)
		prometheus.MustRegister(AIProviderFailuresTotal)
		prometheus.MustRegister(AITokensTotal)
		prometheus.MustRegister(FallbacksTotal)
		prometheus.MustRegister(ExhaustedTotal)
		prometheus.MustRegister(QuotaDeniedTotal)
		prometheus.MustRegister(CacheRequestsTotal)
		prometheus.MustRegister(ExtractedEntitiesHistogram)
		prometheus.MustRegister(OverallScoreHistogram)
	})
}

// HTTPMetricsMiddleware records Prometheus metrics for each request.
func HTTPMetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		dur := time.Since(start).Seconds()
		// Route pattern may be unavailable outside chi router; guard nil
		var route string
		if rc := chi.RouteContext(r.Context()); rc != nil {
			route = rc.RoutePattern()
		}
		if route == "" {
			route = r.URL.Path
		}
		method := r.Method
		status := ww.Status()
		HTTPRequestsTotal.WithLabelValues(route, method, http.StatusText(status)).Inc()
		HTTPRequestDuration.WithLabelValues(route, method).Observe(dur)
	})
}

// ObserveAIRequest records one provider call.
func ObserveAIRequest(provider, operation string, elapsed time.Duration) {
	AIRequestsTotal.WithLabelValues(provider, operation).Inc()
	AIRequestDuration.WithLabelValues(provider, operation).Observe(elapsed.Seconds())
}

// ObserveProviderFailure counts a failed call by failure kind.
func ObserveProviderFailure(provider, kind string) {
	AIProviderFailuresTotal.WithLabelValues(provider, kind).Inc()
}

// ObserveTokens records token usage for a completed call.
func ObserveTokens(provider string, prompt, completion int) {
	if prompt > 0 {
		AITokensTotal.WithLabelValues(provider, "prompt").Add(float64(prompt))
	}
	if completion > 0 {
		AITokensTotal.WithLabelValues(provider, "completion").Add(float64(completion))
	}
}

// ObserveCache records a cache lookup result: hit, miss, error or bypass.
func ObserveCache(op, result string) {
	CacheRequestsTotal.WithLabelValues(op, result).Inc()
}

// ObserveAnalysis records the outcome of text synthesis and scoring.
func ObserveAnalysis(variant string, entities int, overall float64) {
	ExtractedEntitiesHistogram.WithLabelValues(variant).Observe(float64(entities))
	if overall >= 0 && overall <= 100 {
		OverallScoreHistogram.Observe(overall)
	}
}
