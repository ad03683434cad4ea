// Package app wires configuration, stores and services into the HTTP router.
package app

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	httpserver "github.com/fairyhunter13/ai-legal-assistant/internal/adapter/httpserver"
	"github.com/fairyhunter13/ai-legal-assistant/internal/adapter/observability"
	"github.com/fairyhunter13/ai-legal-assistant/internal/config"
)

// ParseOrigins splits a comma-separated origin list into a slice, trimming spaces.
// If the input is empty, returns ["*"].
func ParseOrigins(s string) []string {
	s = strings.TrimSpace(s)
	if s == "" || s == "*" {
		return []string{"*"}
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return []string{"*"}
	}
	return out
}

// BuildRouter constructs the HTTP handler with all middlewares and routes.
func BuildRouter(cfg config.Config, srv *httpserver.Server) http.Handler {
	r := chi.NewRouter()
	r.Use(httpserver.TraceMiddleware)
	r.Use(httpserver.RequestID())
	r.Use(httpserver.Recoverer())
	if cfg.RequestTimeout > 0 {
		r.Use(httpserver.TimeoutMiddleware(cfg.RequestTimeout))
	}
	r.Use(httpserver.AccessLog())
	r.Use(observability.HTTPMetricsMiddleware)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   ParseOrigins(cfg.CORSAllowOrigins),
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Request-Id", httpserver.ProviderKeyHeader},
		ExposedHeaders:   []string{"X-Request-Id", "Retry-After"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	// Every /v1 call can reach a paid upstream.
	r.Route("/v1", func(v1 chi.Router) {
		if cfg.RateLimitPerMin > 0 {
			v1.Use(httprate.LimitByIP(cfg.RateLimitPerMin, time.Minute))
		}
		v1.Post("/advice", srv.AdviceHandler())
		v1.Post("/chat", srv.ChatHandler())
		v1.Post("/research", srv.ResearchHandler())
		v1.Post("/compare", srv.CompareHandler())
		v1.Get("/quota/{provider}", srv.QuotaHandler())
	})

	r.Get("/healthz", srv.HealthzHandler())
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) { promhttp.Handler().ServeHTTP(w, r) })
	r.Get("/readyz", srv.ReadyzHandler())

	return httpserver.SecurityHeaders(r)
}
