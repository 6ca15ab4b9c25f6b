// Package server exposes a lending engine over JSON/HTTP.
package server

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"moneymarket/observability"
	"moneymarket/services/lending/api"
	"moneymarket/services/lending/engine"
)

// RequestIDHeader carries the per-request correlation id.
const RequestIDHeader = "X-Request-ID"

// Config defines HTTP server parameters.
type Config struct {
	ListenAddress string

	// CertFile and KeyFile enable TLS when both are set.
	CertFile        string
	KeyFile         string
	Auth            AuthConfig
	RateLimit       RateLimit
	ShutdownTimeout time.Duration
}

// Server serves the lending API.
type Server struct {
	cfg     Config
	engine  engine.Engine
	logger  *slog.Logger
	auth    *Authenticator
	limiter *RateLimiter
}

// New constructs a server over eng.
func New(cfg Config, eng engine.Engine, logger *slog.Logger) (*Server, error) {
	if eng == nil {
		return nil, errors.New("lending server: engine required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	auth, err := NewAuthenticator(cfg.Auth, logger)
	if err != nil {
		return nil, err
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 5 * time.Second
	}
	return &Server{
		cfg:     cfg,
		engine:  eng,
		logger:  logger,
		auth:    auth,
		limiter: NewRateLimiter(cfg.RateLimit),
	}, nil
}

// Handler returns the routed, instrumented API.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(requestID, s.instrument)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(v1 chi.Router) {
		v1.Group(func(read chi.Router) {
			read.Use(s.limiter.Middleware)
			read.Get("/markets", s.listMarkets)
			read.Get("/markets/{market}", s.getMarket)
			read.Get("/risk", s.getRisk)
			read.Get("/accounts", s.listAccounts)
			read.Get("/accounts/{account}/liquidity", s.getLiquidity)
			read.Get("/accounts/{account}/positions", s.getPositions)
			read.Get("/flash/pools/{asset}", s.getFlashPool)
		})
		v1.Group(func(write chi.Router) {
			write.Use(s.auth.Middleware(api.ScopeWrite), s.limiter.Middleware)
			write.Post("/markets/enter", s.enterMarkets)
			write.Post("/markets/{market}/exit", s.exitMarket)
			write.Post("/markets/{market}/mint", s.amountOp(s.engine.Mint))
			write.Post("/markets/{market}/redeem", s.amountOp(s.engine.Redeem))
			write.Post("/markets/{market}/redeem-underlying", s.amountOp(s.engine.RedeemUnderlying))
			write.Post("/markets/{market}/borrow", s.amountOp(s.engine.Borrow))
			write.Post("/markets/{market}/repay", s.repay)
			write.Post("/markets/{market}/transfer", s.transfer)
			write.Post("/markets/{market}/liquidate", s.liquidate)
			write.Post("/liquidations/flash", s.flashLiquidate)
		})
		v1.Group(func(admin chi.Router) {
			admin.Use(s.auth.Middleware(api.ScopeAdmin), s.limiter.Middleware)
			admin.Put("/admin/markets/{market}/price", s.adminValue(s.engine.SetPrice))
			admin.Put("/admin/markets/{market}/collateral-factor", s.adminValue(s.engine.SetCollateralFactor))
			admin.Put("/admin/markets/{market}/borrow-cap", s.adminValue(s.engine.SetBorrowCap))
			admin.Put("/admin/pause", s.setPaused)
		})
	})
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, fmt.Errorf("%w: %s", api.ErrNotFound, r.URL.Path))
	})
	return otelhttp.NewHandler(r, "lending.http")
}

// Run starts the HTTP server and blocks until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	if s == nil {
		return errors.New("lending server: not configured")
	}
	srv := &http.Server{
		Addr:              s.cfg.ListenAddress,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	tlsEnabled := s.cfg.CertFile != "" && s.cfg.KeyFile != ""
	s.logger.Info("lending http server listening",
		slog.String("addr", s.cfg.ListenAddress), slog.Bool("tls", tlsEnabled))
	var err error
	if tlsEnabled {
		srv.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
		err = srv.ListenAndServeTLS(s.cfg.CertFile, s.cfg.KeyFile)
	} else {
		err = srv.ListenAndServe()
	}
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("listen and serve: %w", err)
	}
	return nil
}

func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get(RequestIDHeader))
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, id)
		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				route = pattern
			}
		}
		elapsed := time.Since(start)
		observability.ModuleMetrics().Observe("lending", r.Method+" "+route, rec.status, elapsed)
		s.logger.Debug("lending request",
			slog.String("method", r.Method),
			slog.String("route", route),
			slog.Int("status", rec.status),
			slog.Duration("duration", elapsed),
			slog.String("request_id", w.Header().Get(RequestIDHeader)))
	})
}
