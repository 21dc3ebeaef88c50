// Package api serves the kernel's operations over HTTP. Handlers are
// thin: decode the body, validate it against a request schema, call the
// kernel package, write JSON. Errors leave as RFC 7807 problem documents.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/tillerlabs/tiller/pkg/audit"
	"github.com/tillerlabs/tiller/pkg/config"
	"github.com/tillerlabs/tiller/pkg/identity"
	"github.com/tillerlabs/tiller/pkg/maintenance"
	"github.com/tillerlabs/tiller/pkg/mandate"
	"github.com/tillerlabs/tiller/pkg/observability"
	"github.com/tillerlabs/tiller/pkg/policy"
	"github.com/tillerlabs/tiller/pkg/risk"
	"github.com/tillerlabs/tiller/pkg/store"
)

// Options wires the server's dependencies. Store is required; everything
// else has a working default.
type Options struct {
	Store store.Store

	// Tokens authenticates bearer tokens. Nil rejects every non-public
	// request.
	Tokens *identity.TokenManager

	// MandateSecret signs and validates mandate tokens. Empty disables
	// the mandate endpoints with a 503.
	MandateSecret []byte

	// Profile carries operator policy: risk tolerance, mandate floors,
	// gate clauses, report retention. Nil means kernel defaults.
	Profile *config.GovernanceProfile

	Audit  audit.Logger
	Obs    *observability.Provider
	Logger *slog.Logger

	// Limiter plus Limit enable per-client rate limiting when set.
	Limiter LimiterStore
	Limit   Limit
}

// Server exposes the kernel over HTTP.
type Server struct {
	store   store.Store
	tokens  *identity.TokenManager
	secret  []byte
	profile *config.GovernanceProfile

	issuer    *mandate.Issuer
	evaluator *policy.Evaluator
	clauses   []policy.Clause
	riskBase  risk.Constraints
	reportCap int

	audit   audit.Logger
	obs     *observability.Provider
	logger  *slog.Logger
	limiter LimiterStore
	limit   Limit
	schemas *schemaSet
	clock   func() time.Time

	httpServer *http.Server
}

// NewServer builds a Server from options.
func NewServer(opts Options) (*Server, error) {
	if opts.Store == nil {
		return nil, errors.New("api: store is required")
	}

	evaluator, err := policy.NewEvaluator()
	if err != nil {
		return nil, fmt.Errorf("api: policy evaluator: %w", err)
	}
	schemas, err := compileSchemas()
	if err != nil {
		return nil, err
	}

	s := &Server{
		store:     opts.Store,
		tokens:    opts.Tokens,
		secret:    opts.MandateSecret,
		profile:   opts.Profile,
		evaluator: evaluator,
		reportCap: maintenance.DefaultMaxReports,
		audit:     opts.Audit,
		obs:       opts.Obs,
		logger:    opts.Logger,
		limiter:   opts.Limiter,
		limit:     opts.Limit,
		schemas:   schemas,
		clock:     time.Now,
	}
	if s.audit == nil {
		s.audit = audit.Nop()
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}

	ttl := time.Duration(0)
	if p := opts.Profile; p != nil {
		s.riskBase = p.RiskConstraints()
		s.clauses = p.GateClauses()
		s.reportCap = p.ReportCap()
		ttl = p.MandateTTL()
	}
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	s.issuer = mandate.NewIssuer(ttl)

	return s, nil
}

// WithClock overrides the server clock for tests.
func (s *Server) WithClock(clock func() time.Time) *Server {
	s.clock = clock
	s.issuer = s.issuer.WithClock(clock)
	return s
}

// Routes returns the fully middleware-wrapped handler.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/v1/intents/score", s.handleIntentScore)
	mux.HandleFunc("/v1/intents/gate", s.handleIntentGate)
	mux.HandleFunc("/v1/mandates/sign", s.handleMandateSign)
	mux.HandleFunc("/v1/mandates/validate", s.handleMandateValidate)
	mux.HandleFunc("/v1/decisions", s.handleDecisions)
	mux.HandleFunc("/v1/governance/mode", s.handleGovernanceMode)
	mux.HandleFunc("/v1/outcomes/normalize", s.handleOutcomeNormalize)
	mux.HandleFunc("/v1/maintenance/preflight", s.handlePreflight)
	mux.HandleFunc("/v1/maintenance/drift", s.handleDrift)

	var handler http.Handler = mux
	handler = NewAuthMiddleware(s.tokens)(handler)
	if s.limiter != nil {
		handler = NewRateLimitMiddleware(s.limiter, s.limit)(handler)
	}
	handler = RequestIDMiddleware(handler)
	return s.instrument(handler)
}

// statusRecorder captures the response status for instrumentation.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// instrument records request rate, errors, and duration per route when an
// observability provider is configured.
func (s *Server) instrument(next http.Handler) http.Handler {
	if s.obs == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		attrs := []attribute.KeyValue{
			attribute.String("http.route", r.URL.Path),
			attribute.String("http.method", r.Method),
		}
		s.obs.RecordRequest(r.Context(), attrs...)

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		s.obs.RecordDuration(r.Context(), time.Since(start), attrs...)
		if rec.status >= http.StatusInternalServerError {
			s.obs.RecordError(r.Context(), fmt.Errorf("http %d", rec.status), attrs...)
		}
	})
}

// Start serves on addr until Shutdown or listener failure.
func (s *Server) Start(addr string) error {
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.Routes(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	s.logger.Info("api server listening", "addr", addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown drains in-flight requests and stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}
