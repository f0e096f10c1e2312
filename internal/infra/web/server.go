package web

import (
	"context"
	"net"
	"net/http"
	"strings"
	"time"

	"codepolish/internal/config"
	"codepolish/internal/domain/ports/adapter"
	"codepolish/internal/domain/ports/repository"
	"codepolish/internal/infra/api"
	"codepolish/internal/infra/ratelimit"
	"codepolish/internal/usecase"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"github.com/rs/zerolog"
)

// Deps is everything the HTTP surface talks to. Identity and Payments may be
// nil, which disables the login and webhook routes.
type Deps struct {
	Users    usecase.UserUseCase
	Polishes usecase.PolishUseCase
	Subs     usecase.SubscriptionUseCase
	APIKeys  usecase.APIKeyUseCase
	Prefs    usecase.PreferencesUseCase

	Identity adapter.IdentityProvider
	Payments adapter.PaymentGateway
	States   repository.StateStore
	Limiter  *ratelimit.Limiter
	Auth     *AuthManager

	// Health reports whether the backing stores are reachable.
	Health func(ctx context.Context) error
}

type Server struct {
	deps  Deps
	cfg   config.HTTPConfig
	procs map[string]procedure
	log   *zerolog.Logger
}

func NewServer(deps Deps, cfg config.HTTPConfig, logger *zerolog.Logger) *Server {
	l := logger.With().Str("component", "web").Logger()
	s := &Server{deps: deps, cfg: cfg, log: &l}
	s.procs = s.procedures()
	return s
}

// Handler builds the router with middleware and CORS applied.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(
		api.TraceID(),
		api.RequestLog(s.log),
		api.Recover(s.log),
		api.Timeout(s.cfg.RequestTimeout),
		s.identify,
	)

	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Get("/auth/login", s.handleLogin)
	r.Get("/auth/callback", s.handleCallback)
	r.Post("/webhooks/stripe", s.handleStripeWebhook)

	r.Get("/rpc/{procedure}", s.handleRPC)
	r.Post("/rpc/{procedure}", s.handleRPC)

	c := cors.New(cors.Options{
		AllowedOrigins:   s.allowedOrigins(),
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Authorization", "Content-Type", api.TraceHeader},
		ExposedHeaders:   []string{"Retry-After", api.TraceHeader},
		AllowCredentials: true,
	})
	return c.Handler(r)
}

// HTTPServer wraps Handler with the configured address and timeouts.
func (s *Server) HTTPServer() *http.Server {
	return &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
}

func (s *Server) allowedOrigins() []string {
	if len(s.cfg.AllowedOrigins) > 0 {
		return s.cfg.AllowedOrigins
	}
	return []string{strings.TrimRight(s.cfg.PublicURL, "/")}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.deps.Health != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.deps.Health(ctx); err != nil {
			s.log.Warn().Err(err).Msg("health check failed")
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// clientIP honours X-Forwarded-For only behind a trusted proxy.
func (s *Server) clientIP(r *http.Request) string {
	if s.cfg.TrustProxy {
		if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
			first, _, _ := strings.Cut(fwd, ",")
			if ip := strings.TrimSpace(first); ip != "" {
				return ip
			}
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
