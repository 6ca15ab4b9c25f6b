package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"moneymarket/native/lending"
	"moneymarket/observability/logging"
	telemetry "moneymarket/observability/otel"
	"moneymarket/services/lending/engine"
	lendingserver "moneymarket/services/lending/server"
	"moneymarket/services/lendingd/config"
	"moneymarket/services/lendingd/genesis"
)

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "services/lendingd/config.yaml", "path to lendingd config")
	flag.Parse()

	env := strings.TrimSpace(os.Getenv("MM_ENV"))
	cfg, err := config.Load(cfgPath)
	if err != nil {
		logging.Setup("lendingd", env).Error("load config", slog.String("error", err.Error()))
		os.Exit(1)
	}
	opts := []logging.Option{logging.WithLevel(cfg.Log.Level)}
	if cfg.Log.File != "" {
		opts = append(opts, logging.WithFile(cfg.Log.File, cfg.Log.MaxSizeMB, cfg.Log.MaxBackups))
	}
	logger := logging.Setup("lendingd", env, opts...)
	if err := run(cfg, logger); err != nil {
		logger.Error("lendingd stopped", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run(cfg config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := telemetry.Init(ctx, telemetry.FromEnv("lendingd"))
	if err != nil {
		return err
	}
	defer func() {
		if shutdownTelemetry != nil {
			_ = shutdownTelemetry(context.Background())
		}
	}()

	doc, err := genesis.Load(cfg.Genesis)
	if err != nil {
		return err
	}
	db, err := openStore(cfg.Storage)
	if err != nil {
		return err
	}
	defer db.Close()
	start, err := genesisTime(db, time.Now())
	if err != nil {
		return err
	}
	rt, err := boot(db, doc, lending.IntervalClock{Genesis: start, Interval: cfg.BlockInterval}, logger)
	if err != nil {
		return err
	}
	logger.Info("ledger ready",
		slog.String("storage", cfg.Storage.Backend),
		slog.Uint64("block", rt.ledger.BlockNumber()),
		slog.Duration("block_interval", cfg.BlockInterval))

	srv, err := lendingserver.New(lendingserver.Config{
		ListenAddress: cfg.ListenAddress,
		CertFile:      cfg.TLS.CertPath,
		KeyFile:       cfg.TLS.KeyPath,
		Auth: lendingserver.AuthConfig{
			Disabled:   cfg.Auth.Disabled,
			HMACSecret: cfg.Auth.HMACSecret,
			Issuer:     cfg.Auth.Issuer,
			Audience:   cfg.Auth.Audience,
			ClockSkew:  cfg.Auth.ClockSkew,
		},
		RateLimit: lendingserver.RateLimit{
			RequestsPerMinute: cfg.RateLimit.RequestsPerMinute,
			Burst:             cfg.RateLimit.Burst,
		},
	}, engine.NewLedgerEngine(rt.ledger, rt.oracle, rt.lender), logger)
	if err != nil {
		return err
	}
	if cfg.Auth.Disabled {
		logger.Warn("authentication disabled; callers are trusted via " + lendingserver.AccountHeader)
	}

	go reportMarkets(ctx, rt.ledger, cfg.MetricsInterval, logger)
	err = srv.Run(ctx)
	logger.Info("shutdown complete")
	return err
}
