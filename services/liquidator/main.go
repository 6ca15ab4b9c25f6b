package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"moneymarket/observability/logging"
	telemetry "moneymarket/observability/otel"
	"moneymarket/services/lending/client"
	"moneymarket/services/liquidator/audit"
	"moneymarket/services/liquidator/bot"
	"moneymarket/services/liquidator/config"
)

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "services/liquidator/config.yaml", "path to liquidator config")
	flag.Parse()

	env := strings.TrimSpace(os.Getenv("MM_ENV"))
	cfg, err := config.Load(cfgPath)
	if err != nil {
		logging.Setup("liquidator", env).Error("load config", slog.String("error", err.Error()))
		os.Exit(1)
	}
	opts := []logging.Option{logging.WithLevel(cfg.Log.Level)}
	if cfg.Log.File != "" {
		opts = append(opts, logging.WithFile(cfg.Log.File, cfg.Log.MaxSizeMB, cfg.Log.MaxBackups))
	}
	logger := logging.Setup("liquidator", env, opts...)
	if err := run(cfg, logger); err != nil {
		logger.Error("liquidator stopped", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run(cfg config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := telemetry.Init(ctx, telemetry.FromEnv("liquidator"))
	if err != nil {
		return err
	}
	defer func() {
		if shutdownTelemetry != nil {
			_ = shutdownTelemetry(context.Background())
		}
	}()

	store, err := audit.Open(cfg.AuditDSN)
	if err != nil {
		return err
	}
	defer store.Close()
	logger.Info("audit store ready",
		slog.String("driver", driverName(cfg.AuditDSN)),
		slog.String("dsn", logging.MaskDSN(cfg.AuditDSN)))

	lendingClient, err := client.New(client.Config{
		BaseURL:  cfg.Endpoint,
		Token:    cfg.Token,
		Account:  cfg.Account,
		RetryMax: cfg.RetryMax,
		Timeout:  cfg.RequestTimeout,
		Logger:   logger,
	})
	if err != nil {
		return err
	}
	liquidator, err := bot.New(bot.Config{
		Account:              cfg.Account,
		MaxAttempts:          cfg.MaxAttempts,
		SubmissionsPerSecond: cfg.SubmissionsPerSecond,
		MinProfitUSD:         cfg.MinProfitUSD(),
	}, lendingClient, bot.WithAuditor(store), bot.WithLogger(logger))
	if err != nil {
		return err
	}

	if cfg.MetricsListen != "" {
		metricsServer := serveMetrics(cfg.MetricsListen, logger)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = metricsServer.Shutdown(shutdownCtx)
		}()
	}

	logger.Info("liquidator started",
		slog.String("endpoint", cfg.Endpoint),
		slog.String("account", cfg.Account),
		slog.Duration("interval", cfg.Interval),
		slog.String("min_profit_usd", cfg.MinProfit))
	err = liquidator.Run(ctx, cfg.Interval)
	logger.Info("shutdown complete")
	return err
}

func driverName(dsn string) string {
	if audit.IsPostgres(dsn) {
		return "postgres"
	}
	return "sqlite"
}

func serveMetrics(addr string, logger *slog.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics listener stopped", slog.String("error", err.Error()))
		}
	}()
	return srv
}
