// Command resourceserver is a runnable example resource server: it wires the
// x402 v2 payment middleware in front of a single paid demo route using
// go-chi/chi routing, so the full client -> 402 -> pay -> 200 loop can be
// exercised end-to-end against a real or local facilitator.
package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/x402rail/x402-go/config"
	v2 "github.com/x402rail/x402-go/v2"
	"github.com/x402rail/x402-go/v2/extensions"
	x402http "github.com/x402rail/x402-go/v2/http"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "resourceserver:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load(os.Getenv("X402_CONFIG_FILE"))
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if cfg.Facilitator.BaseURL == "" {
		return fmt.Errorf("facilitator.base_url must be set to run the demo resource server")
	}

	logger := newLogger(cfg.Logging)

	payTo := os.Getenv("X402_DEMO_PAY_TO")
	if payTo == "" {
		return fmt.Errorf("X402_DEMO_PAY_TO must name the address demo payments settle to")
	}
	network := os.Getenv("X402_DEMO_NETWORK")
	if network == "" {
		network = v2.NetworkBaseSepolia
	}
	price := os.Getenv("X402_DEMO_PRICE")
	if price == "" {
		price = "$0.01"
	}

	requirements, err := v2.ExpandOptions("/premium", []v2.PaymentOption{
		{
			Price:   price,
			Network: network,
			PayTo:   payTo,
			Asset:   os.Getenv("X402_DEMO_ASSET"),
			Config: &v2.PaymentOptionConfig{
				Description:       "Demo paid resource",
				MimeType:          "application/json",
				MaxTimeoutSeconds: 60,
			},
		},
	})
	if err != nil {
		return fmt.Errorf("expand payment options: %w", err)
	}

	registry := extensions.NewRegistry()
	registry.Register(&extensions.Bazaar{})
	registry.Register(&extensions.PaymentIdentifier{})

	paymentMiddleware := x402http.NewX402Middleware(x402http.Config{
		FacilitatorURL: cfg.Facilitator.BaseURL,
		Resource: v2.ResourceInfo{
			URL:         "/premium",
			Description: "Demo paid resource",
			MimeType:    "application/json",
		},
		PaymentRequirements: requirements,
		Extensions:          registry,
	})

	router := chi.NewRouter()
	router.Use(requestLogger(logger))
	router.Use(chimiddleware.RequestID)
	router.Use(chimiddleware.Recoverer)
	if len(cfg.Server.CORSAllowedOrigins) > 0 {
		router.Use(cors.New(cors.Options{
			AllowedOrigins: cfg.Server.CORSAllowedOrigins,
			AllowedMethods: []string{"GET", "OPTIONS"},
		}).Handler)
	}

	router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	router.Group(func(r chi.Router) {
		r.Use(paymentMiddleware)
		r.Get("/premium", handlePremium)
	})

	server := &http.Server{
		Addr:         cfg.Server.Address,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout.Duration,
		WriteTimeout: cfg.Server.WriteTimeout.Duration,
		IdleTimeout:  cfg.Server.IdleTimeout.Duration,
	}

	logger.Info().Str("addr", cfg.Server.Address).Str("network", network).Msg("resourceserver.listening")
	return server.ListenAndServe()
}

func handlePremium(w http.ResponseWriter, r *http.Request) {
	payment, _ := r.Context().Value(x402http.PaymentContextKey).(*v2.VerifyResponse)
	body := map[string]interface{}{
		"message": "this content cost money",
	}
	if payment != nil {
		body["payer"] = payment.Payer
	}
	writeJSON(w, http.StatusOK, body)
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

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
				Msg("resourceserver.request")
		})
	}
}

func newLogger(cfg config.LoggingConfig) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	var logger zerolog.Logger
	if cfg.Format == "console" {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339})
	} else {
		logger = zerolog.New(os.Stdout)
	}
	return logger.With().Timestamp().Str("service", "x402-resourceserver").Logger()
}
