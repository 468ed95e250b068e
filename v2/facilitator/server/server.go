// Package server exposes a scheme.Registry as a standalone chi-routed HTTP
// facilitator service: POST /verify, POST /settle, GET /supported, plus a
// Prometheus /metrics endpoint. It is the server-side counterpart to the
// v2/http.FacilitatorClient, which this package's handlers are wire-compatible
// with.
package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	v2 "github.com/x402rail/x402-go/v2"
	"github.com/x402rail/x402-go/v2/facilitator"
	"github.com/x402rail/x402-go/v2/facilitator/scheme"
)

// Metrics are the Prometheus collectors the facilitator server records
// verify/settle outcomes into. Callers construct one with NewMetrics and
// register it with their own prometheus.Registerer (or use the default).
type Metrics struct {
	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// NewMetrics builds and registers the facilitator's request metrics against reg.
// Passing prometheus.DefaultRegisterer matches the package-level promhttp.Handler().
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "x402_facilitator_requests_total",
			Help: "Facilitator requests by operation and outcome.",
		}, []string{"operation", "network", "scheme", "outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "x402_facilitator_request_duration_seconds",
			Help:    "Facilitator request latency by operation.",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation"}),
	}
	reg.MustRegister(m.requests, m.duration)
	return m
}

func (m *Metrics) observe(operation, network, schemeName, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(operation, network, schemeName, outcome).Inc()
	m.duration.WithLabelValues(operation).Observe(elapsed.Seconds())
}

// Server wires a scheme.Registry into a chi.Router and an *http.Server.
type Server struct {
	registry *scheme.Registry
	metrics  *Metrics
	logger   zerolog.Logger
	http     *http.Server
}

// Config controls how New builds the facilitator's router.
type Config struct {
	Address            string
	ReadTimeout        time.Duration
	WriteTimeout       time.Duration
	IdleTimeout        time.Duration
	RoutePrefix        string
	CORSAllowedOrigins []string
	MetricsAPIKey      string
}

// New builds a facilitator server around registry. metrics may be nil, in
// which case /metrics still exists but records nothing.
func New(cfg Config, registry *scheme.Registry, metrics *Metrics, logger zerolog.Logger) *Server {
	router := chi.NewRouter()

	s := &Server{
		registry: registry,
		metrics:  metrics,
		logger:   logger,
		http: &http.Server{
			Addr:         cfg.Address,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
			IdleTimeout:  cfg.IdleTimeout,
			Handler:      router,
		},
	}

	s.configureRouter(router, cfg)
	return s
}

func (s *Server) configureRouter(router chi.Router, cfg Config) {
	if len(cfg.CORSAllowedOrigins) > 0 {
		router.Use(cors.New(cors.Options{
			AllowedOrigins: cfg.CORSAllowedOrigins,
			AllowedMethods: []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders: []string{"*"},
			MaxAge:         300,
		}).Handler)
	}

	router.Use(requestLogger(s.logger))
	router.Use(chimiddleware.RequestID)
	router.Use(chimiddleware.Recoverer)
	router.Use(chimiddleware.Timeout(30 * time.Second))

	prefix := cfg.RoutePrefix

	router.Get(prefix+"/healthz", s.handleHealth)
	router.With(metricsAuth(cfg.MetricsAPIKey)).Handle(prefix+"/metrics", promhttp.Handler())
	router.Post(prefix+"/verify", s.handleVerify)
	router.Post(prefix+"/settle", s.handleSettle)
	router.Get(prefix+"/supported", s.handleSupported)
}

// requestLogger logs one structured line per request at completion rather
// than start-and-finish.
func requestLogger(logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			logger.Info().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", ww.Status()).
				Dur("elapsed", time.Since(start)).
				Str("request_id", chimiddleware.GetReqID(r.Context())).
				Msg("facilitator.request")
		})
	}
}

// metricsAuth gates /metrics behind a static API key when one is configured;
// an empty key leaves the endpoint open.
func metricsAuth(apiKey string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if apiKey == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("X-API-Key") != apiKey {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleSupported(w http.ResponseWriter, r *http.Request) {
	resp := v2.SupportedResponse{
		Kinds:      s.registry.Supported(),
		Extensions: nil,
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	var req facilitator.VerifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid_request", err))
		return
	}

	if !supportedVersion(req.X402Version) {
		s.metrics.observe("verify", req.PaymentRequirements.Network, req.PaymentRequirements.Scheme, "bad_version", time.Since(start))
		writeJSON(w, http.StatusOK, v2.VerifyResponse{
			IsValid:            false,
			InvalidReason:      string(v2.InvalidReasonInvalidX402Version),
			InvalidDescription: v2.DescribeInvalidReason(v2.InvalidReasonInvalidX402Version),
		})
		return
	}

	handler, ok := s.registry.Lookup(req.X402Version, req.PaymentRequirements.Network, req.PaymentRequirements.Scheme)
	if !ok {
		s.metrics.observe("verify", req.PaymentRequirements.Network, req.PaymentRequirements.Scheme, "unsupported", time.Since(start))
		writeJSON(w, http.StatusOK, v2.VerifyResponse{
			IsValid:       false,
			InvalidReason: string(v2.InvalidReasonUnsupportedScheme),
		})
		return
	}

	resp, err := handler.Verify(r.Context(), req.PaymentPayload, req.PaymentRequirements)
	if err != nil {
		s.metrics.observe("verify", req.PaymentRequirements.Network, req.PaymentRequirements.Scheme, "error", time.Since(start))
		writeJSON(w, http.StatusInternalServerError, errorBody("verify_failed", err))
		return
	}

	outcome := "invalid"
	if resp.IsValid {
		outcome = "valid"
	}
	s.metrics.observe("verify", req.PaymentRequirements.Network, req.PaymentRequirements.Scheme, outcome, time.Since(start))
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleSettle(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	var req facilitator.SettleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid_request", err))
		return
	}

	if !supportedVersion(req.X402Version) {
		s.metrics.observe("settle", req.PaymentRequirements.Network, req.PaymentRequirements.Scheme, "bad_version", time.Since(start))
		writeJSON(w, http.StatusOK, v2.SettleResponse{
			Success:      false,
			ErrorReason:  string(v2.InvalidReasonInvalidX402Version),
			ErrorMessage: v2.DescribeInvalidReason(v2.InvalidReasonInvalidX402Version),
			Network:      req.PaymentRequirements.Network,
		})
		return
	}

	handler, ok := s.registry.Lookup(req.X402Version, req.PaymentRequirements.Network, req.PaymentRequirements.Scheme)
	if !ok {
		s.metrics.observe("settle", req.PaymentRequirements.Network, req.PaymentRequirements.Scheme, "unsupported", time.Since(start))
		writeJSON(w, http.StatusOK, v2.SettleResponse{
			Success:      false,
			ErrorReason:  string(v2.InvalidReasonUnsupportedScheme),
			ErrorMessage: "no handler registered for this (version, network, scheme)",
			Network:      req.PaymentRequirements.Network,
		})
		return
	}

	resp, err := handler.Settle(r.Context(), req.PaymentPayload, req.PaymentRequirements)
	if err != nil {
		s.metrics.observe("settle", req.PaymentRequirements.Network, req.PaymentRequirements.Scheme, "error", time.Since(start))
		writeJSON(w, http.StatusInternalServerError, errorBody("settle_failed", err))
		return
	}

	outcome := "failure"
	if resp.Success {
		outcome = "success"
	}
	s.metrics.observe("settle", req.PaymentRequirements.Network, req.PaymentRequirements.Scheme, outcome, time.Since(start))
	writeJSON(w, http.StatusOK, resp)
}

// supportedVersion reports whether this facilitator implements the given
// x402 protocol version. Anything else is rejected with invalid_x402_version
// before registry dispatch, so an unknown version never reads as a merely
// unregistered scheme.
func supportedVersion(version int) bool {
	return version == 1 || version == v2.X402Version
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func errorBody(reason string, err error) map[string]string {
	return map[string]string{"error": reason, "message": err.Error()}
}

// ListenAndServe starts the facilitator HTTP server and blocks until it
// returns an error (including http.ErrServerClosed after a graceful Shutdown).
func (s *Server) ListenAndServe() error {
	return s.http.ListenAndServe()
}

// Shutdown gracefully stops the server, waiting for in-flight requests to
// finish or ctx to expire, whichever comes first.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

// Addr returns the address the underlying http.Server is configured with.
func (s *Server) Addr() string { return s.http.Addr }

// Handler returns the configured router, so callers can mount the
// facilitator inside a larger server or drive it from httptest.
func (s *Server) Handler() http.Handler { return s.http.Handler }
