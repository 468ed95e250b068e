// Command facilitator runs a standalone x402 v2 facilitator service: it
// verifies and settles exact-scheme payments for every network listed in its
// configuration, over the scheme.Registry built from v2/facilitator/evm and
// v2/facilitator/svm.
package main

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/gagliardetto/solana-go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	v2 "github.com/x402rail/x402-go/v2"
	"github.com/x402rail/x402-go/config"
	"github.com/x402rail/x402-go/v2/facilitator/evm"
	"github.com/x402rail/x402-go/v2/facilitator/scheme"
	"github.com/x402rail/x402-go/v2/facilitator/server"
	"github.com/x402rail/x402-go/v2/facilitator/svm"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "facilitator:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load(os.Getenv("X402_CONFIG_FILE"))
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := newLogger(cfg.Logging)

	registry := scheme.NewRegistry()
	if err := registerNetworks(context.Background(), registry, cfg, logger); err != nil {
		return fmt.Errorf("register networks: %w", err)
	}

	metrics := server.NewMetrics(prometheus.DefaultRegisterer)
	srv := server.New(server.Config{
		Address:            cfg.Server.Address,
		ReadTimeout:        cfg.Server.ReadTimeout.Duration,
		WriteTimeout:       cfg.Server.WriteTimeout.Duration,
		IdleTimeout:        cfg.Server.IdleTimeout.Duration,
		RoutePrefix:        cfg.Server.RoutePrefix,
		CORSAllowedOrigins: cfg.Server.CORSAllowedOrigins,
		MetricsAPIKey:      cfg.Server.MetricsAPIKey,
	}, registry, metrics, logger)

	return serveUntilSignal(srv, logger)
}

// registerNetworks builds one chain client and one scheme.Handler per
// configured network, dispatching on the CAIP-2 namespace, and registers
// each under both x402 v2 and the legacy v1 envelope (the verification rules
// are shared; only the wire envelope differs above this layer).
func registerNetworks(ctx context.Context, registry *scheme.Registry, cfg *config.Config, logger zerolog.Logger) error {
	if len(cfg.Networks) == 0 {
		return errors.New("no networks configured; set at least one entry under \"networks\"")
	}

	for name, network := range cfg.Networks {
		networkType, err := v2.ValidateNetwork(name)
		if err != nil {
			return fmt.Errorf("network %s: %w", name, err)
		}

		key := os.Getenv(network.FeePayerKeyEnv)
		if key == "" {
			return fmt.Errorf("network %s: env var %s (fee_payer_key_env) is unset", name, network.FeePayerKeyEnv)
		}

		var handler scheme.Handler
		switch networkType {
		case v2.NetworkTypeEVM:
			handler, err = newEVMHandler(ctx, name, network.RPCURL, key)
		case v2.NetworkTypeSVM:
			handler, err = newSVMHandler(name, network.RPCURL, key)
		default:
			err = fmt.Errorf("unsupported network namespace for %s", name)
		}
		if err != nil {
			return fmt.Errorf("network %s: %w", name, err)
		}

		if err := registry.RegisterScheme(name, handler.Scheme(), handler); err != nil {
			return err
		}
		if err := registry.RegisterSchemeV1(name, handler.Scheme(), handler); err != nil {
			return err
		}

		logger.Info().Str("network", name).Str("scheme", handler.Scheme()).Msg("facilitator.network_registered")
	}

	return nil
}

func newEVMHandler(ctx context.Context, network, rpcURL, privateKeyHex string) (scheme.Handler, error) {
	chainID, err := v2.GetChainID(network)
	if err != nil {
		return nil, err
	}
	privateKey, err := crypto.HexToECDSA(privateKeyHex)
	if err != nil {
		return nil, fmt.Errorf("parse fee payer private key: %w", err)
	}
	client, err := evm.NewEthClient(ctx, rpcURL, privateKey, big.NewInt(chainID))
	if err != nil {
		return nil, err
	}
	return evm.NewHandler(network, client), nil
}

func newSVMHandler(network, rpcURL, privateKeyBase58 string) (scheme.Handler, error) {
	privateKey, err := solana.PrivateKeyFromBase58(privateKeyBase58)
	if err != nil {
		return nil, fmt.Errorf("parse fee payer private key: %w", err)
	}
	client := svm.NewRPCClient(rpcURL, privateKey)
	return svm.NewHandler(network, client), nil
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
	return logger.With().Timestamp().Str("service", "x402-facilitator").Logger()
}

// serveUntilSignal runs srv until SIGINT/SIGTERM, then shuts it down
// gracefully with a bounded deadline.
func serveUntilSignal(srv *server.Server, logger zerolog.Logger) error {
	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", srv.Addr()).Msg("facilitator.listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-sigCh:
		logger.Info().Str("signal", sig.String()).Msg("facilitator.shutting_down")
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			return fmt.Errorf("graceful shutdown: %w", err)
		}
		return <-errCh
	}
}
