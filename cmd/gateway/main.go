// Entry point for the analysis gateway server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/term"

	"github.com/scanforge/analysis-gateway/internal/analyzer"
	"github.com/scanforge/analysis-gateway/internal/config"
	"github.com/scanforge/analysis-gateway/internal/gateway"
	"github.com/scanforge/analysis-gateway/internal/identity"
	"github.com/scanforge/analysis-gateway/internal/ledger"
	"github.com/scanforge/analysis-gateway/internal/monitoring"
	"github.com/scanforge/analysis-gateway/internal/plan"
	"github.com/scanforge/analysis-gateway/internal/session"
	"github.com/scanforge/analysis-gateway/internal/utils"
)

func main() {
	var (
		configPath string
		debug      bool
	)
	flag.StringVar(&configPath, "config", "", "path to config.yaml")
	flag.BoolVar(&debug, "debug", false, "enable debug logging")
	flag.Parse()

	// .env is optional; real deployments set env vars directly.
	_ = godotenv.Load()

	setupLogging(debug)

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("config load failed")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		log.Fatal().Err(err).Msg("gateway exited")
	}
}

// setupLogging routes zerolog through a console writer on interactive
// terminals and plain JSON otherwise.
func setupLogging(debug bool) {
	level := zerolog.InfoLevel
	if debug {
		level = zerolog.DebugLevel
	}
	zerolog.SetGlobalLevel(level)

	if term.IsTerminal(int(os.Stdout.Fd())) {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	store, err := openLedgerStore(cfg)
	if err != nil {
		return fmt.Errorf("open ledger store: %w", err)
	}
	defer store.Close()

	ldg, err := ledger.New(ctx, store,
		ledger.WithSettleRetry(config.SettleRetryAttempts, config.SettleRetryBackoff))
	if err != nil {
		return fmt.Errorf("load ledger: %w", err)
	}
	for accountID, initial := range cfg.Ledger.Seed {
		if err := ldg.EnsureAccount(ctx, accountID, initial); err != nil {
			return fmt.Errorf("seed account %s: %w", accountID, err)
		}
	}

	metrics := monitoring.NewMetricsCollector()
	tracker, err := monitoring.NewTracker(monitoring.TelemetryConfig{
		Enabled:     cfg.Telemetry.Enabled,
		LogPath:     cfg.Telemetry.LogPath,
		LogToStdout: cfg.Telemetry.LogToStdout,
	})
	if err != nil {
		return fmt.Errorf("telemetry init: %w", err)
	}

	sessions := session.NewStore(session.Config{
		TTL:            cfg.Sessions.TTL,
		CompletedGrace: cfg.Sessions.CompletedGrace,
		SweepInterval:  cfg.Sessions.SweepInterval,
	}, gateway.RefundForSweep(ldg, metrics))
	go sessions.Run(ctx)

	upstream := buildUpstream(ctx, cfg)

	gw := gateway.New(gateway.Deps{
		Config:   cfg,
		Ledger:   ldg,
		Sessions: sessions,
		Upstream: upstream,
		Verifier: buildVerifier(cfg),
		Plans:    buildPlans(cfg),
		Tracker:  tracker,
		Metrics:  metrics,
	})

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      gw.Routes(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().
			Int("port", cfg.Server.Port).
			Str("upstream", cfg.Upstream.BaseURL).
			Str("upstream_key", utils.MaskKey(cfg.Upstream.APIKey)).
			Bool("sigv4", cfg.Upstream.SigV4.Enabled).
			Str("ledger_db", cfg.Ledger.DBPath).
			Msg("gateway listening")
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

func openLedgerStore(cfg *config.Config) (ledger.Store, error) {
	if cfg.Ledger.DBPath == "" {
		log.Warn().Msg("no ledger db configured, balances will not survive restarts")
		return ledger.NewMemoryStore(), nil
	}
	return ledger.NewSQLiteStore(cfg.Ledger.DBPath)
}

func buildUpstream(ctx context.Context, cfg *config.Config) *analyzer.Client {
	opts := []analyzer.ClientOption{
		analyzer.WithConnectTimeout(cfg.Upstream.ConnectTimeout),
	}
	if cfg.Upstream.SigV4.Enabled {
		signer := analyzer.NewSigner(ctx, cfg.Upstream.SigV4.Region, cfg.Upstream.SigV4.Service)
		if !signer.IsConfigured() {
			log.Warn().Msg("sigv4 enabled but aws credentials unavailable, requests will not be signed")
		}
		opts = append(opts, analyzer.WithSigner(signer))
	}
	return analyzer.NewClient(cfg.Upstream.BaseURL, cfg.Upstream.APIKey, opts...)
}

func buildVerifier(cfg *config.Config) identity.Verifier {
	if len(cfg.Auth.Accounts) > 0 {
		return identity.NewStaticVerifier(cfg.Auth.Accounts)
	}
	return identity.NewHMACVerifier(cfg.Auth.Secret)
}

func buildPlans(cfg *config.Config) plan.Resolver {
	tiers := make(map[string]plan.Limits, len(cfg.Plans.Tiers))
	for name, info := range cfg.Plans.Tiers {
		tiers[name] = plan.Limits{MaxScanCost: int64(info.MaxScanCost)}
	}
	return plan.NewStaticResolver(cfg.Plans.DefaultTier, tiers, cfg.Plans.Accounts)
}
