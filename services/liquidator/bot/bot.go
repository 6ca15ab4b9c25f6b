// Package bot scans the lending service for accounts in shortfall and closes
// them with flash-loan funded liquidations.
package bot

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"moneymarket/native/flashloan"
	"moneymarket/native/lending"
	"moneymarket/observability"
	"moneymarket/services/lending/api"
	"moneymarket/services/liquidator/audit"
)

// ErrAttemptsExhausted is returned when every halving retry failed.
var ErrAttemptsExhausted = errors.New("liquidator: attempts exhausted")

// Lending is the subset of the lending API the bot drives.
type Lending interface {
	Markets(ctx context.Context) ([]api.Market, error)
	RiskParams(ctx context.Context) (api.RiskParams, error)
	Accounts(ctx context.Context) ([]string, error)
	Liquidity(ctx context.Context, account string) (api.Liquidity, error)
	Positions(ctx context.Context, account string) (api.AccountPositions, error)
	FlashPool(ctx context.Context, asset string) (api.FlashPool, error)
	FlashLiquidate(ctx context.Context, req api.FlashLiquidationRequest) (api.FlashLiquidationResult, error)
}

// Auditor persists liquidation attempts.
type Auditor interface {
	Record(ctx context.Context, attempt *audit.Attempt) error
}

// Config tunes the bot.
type Config struct {
	// Account is the liquidator; it is never picked as a borrower.
	Account              string
	MaxAttempts          int
	SubmissionsPerSecond float64
	MinProfitUSD         decimal.Decimal
}

// Candidate is an account found in shortfall.
type Candidate struct {
	Borrower  string
	Shortfall decimal.Decimal
}

// Result summarises the liquidation of one candidate.
type Result struct {
	Outcome  string
	Attempts int
	Repaid   string
	Profit   string
}

// Report summarises one scan and liquidation round.
type Report struct {
	Round      uuid.UUID
	Candidates int
	Liquidated int
	Skipped    int
	Failed     int
}

// Bot runs scan and liquidation rounds against the lending API.
type Bot struct {
	cfg     Config
	lending Lending
	auditor Auditor
	limiter *rate.Limiter
	metrics *observability.LiquidatorMetrics
	logger  *slog.Logger
	now     func() time.Time
}

// Option customises the bot instance.
type Option func(*Bot)

// WithAuditor records every attempt in a.
func WithAuditor(a Auditor) Option {
	return func(b *Bot) { b.auditor = a }
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(b *Bot) { b.logger = logger }
}

// WithMetrics overrides the default metrics registry.
func WithMetrics(m *observability.LiquidatorMetrics) Option {
	return func(b *Bot) { b.metrics = m }
}

// WithClock sets the function used to time scans.
func WithClock(clock func() time.Time) Option {
	return func(b *Bot) { b.now = clock }
}

// New constructs a bot driving lending.
func New(cfg Config, lending Lending, opts ...Option) (*Bot, error) {
	if lending == nil {
		return nil, fmt.Errorf("liquidator: lending client required")
	}
	cfg.Account = strings.TrimSpace(cfg.Account)
	if cfg.Account == "" {
		return nil, fmt.Errorf("liquidator: account required")
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.SubmissionsPerSecond <= 0 {
		cfg.SubmissionsPerSecond = 1
	}
	if cfg.MinProfitUSD.IsNegative() {
		return nil, fmt.Errorf("liquidator: min profit must not be negative")
	}
	b := &Bot{
		cfg:     cfg,
		lending: lending,
		limiter: rate.NewLimiter(rate.Limit(cfg.SubmissionsPerSecond), 1),
		metrics: observability.Liquidator(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.logger == nil {
		b.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return b, nil
}

// Run executes a round every interval until ctx is cancelled.
func (b *Bot) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		return fmt.Errorf("liquidator: interval must be positive")
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		report, err := b.RunOnce(ctx)
		switch {
		case ctx.Err() != nil:
			return nil
		case err != nil:
			b.logger.Warn("liquidation round failed", slog.String("error", err.Error()))
		case report.Candidates > 0:
			b.logger.Info("liquidation round complete",
				slog.String("round", report.Round.String()),
				slog.Int("candidates", report.Candidates),
				slog.Int("liquidated", report.Liquidated),
				slog.Int("skipped", report.Skipped),
				slog.Int("failed", report.Failed))
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// RunOnce scans for shortfalls and attempts one liquidation per candidate,
// largest shortfall first.
func (b *Bot) RunOnce(ctx context.Context) (Report, error) {
	report := Report{Round: uuid.New()}
	candidates, err := b.Scan(ctx)
	if err != nil {
		return report, err
	}
	report.Candidates = len(candidates)
	if len(candidates) == 0 {
		return report, nil
	}
	bk, err := b.loadBook(ctx)
	if err != nil {
		return report, err
	}
	for _, candidate := range candidates {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		logger := b.logger.With(slog.String("borrower", candidate.Borrower))
		plan, err := b.plan(ctx, bk, candidate.Borrower)
		if errors.Is(err, ErrNothingToLiquidate) {
			report.Skipped++
			b.metrics.RecordAttempt("", "skipped")
			logger.Debug("borrower skipped", slog.String("reason", err.Error()))
			continue
		}
		if err != nil {
			report.Failed++
			logger.Warn("plan liquidation", slog.String("error", err.Error()))
			continue
		}
		res, err := b.Liquidate(ctx, report.Round, plan)
		switch {
		case err != nil:
			report.Failed++
			logger.Warn("liquidation failed",
				slog.String("market", plan.RepayMarket.Symbol),
				slog.Int("attempt", res.Attempts),
				slog.String("error", err.Error()))
		case res.Outcome == audit.OutcomeLiquidated:
			report.Liquidated++
		default:
			report.Skipped++
		}
	}
	return report, nil
}

// Scan lists every account in shortfall other than the bot's own, largest
// shortfall first. Accounts whose liquidity cannot be read are skipped.
func (b *Bot) Scan(ctx context.Context) (candidates []Candidate, err error) {
	start := b.now()
	defer func() {
		b.metrics.ObserveScan(len(candidates), err, b.now().Sub(start))
	}()
	accounts, err := b.lending.Accounts(ctx)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	for _, account := range accounts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if strings.EqualFold(account, b.cfg.Account) {
			continue
		}
		liq, err := b.lending.Liquidity(ctx, account)
		if err != nil {
			b.logger.Warn("read liquidity", slog.String("account", account), slog.String("error", err.Error()))
			continue
		}
		shortfall, err := decimal.NewFromString(liq.Shortfall)
		if err != nil || !shortfall.IsPositive() {
			continue
		}
		candidates = append(candidates, Candidate{Borrower: account, Shortfall: shortfall})
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Shortfall.GreaterThan(candidates[j].Shortfall)
	})
	return candidates, nil
}

// Liquidate submits plan, halving the repay after each rejected attempt
// until it settles, the borrower turns healthy, or MaxAttempts is reached.
func (b *Bot) Liquidate(ctx context.Context, round uuid.UUID, plan Plan) (Result, error) {
	repay := plan.Repay
	symbol := plan.RepayMarket.Symbol
	for attempt := 1; attempt <= b.cfg.MaxAttempts; attempt++ {
		if err := b.limiter.Wait(ctx); err != nil {
			return Result{Outcome: audit.OutcomeFailed, Attempts: attempt - 1}, err
		}
		out, err := b.lending.FlashLiquidate(ctx, plan.Request(repay))
		next := repay.Div(decimal.NewFromInt(2)).Floor()
		outcome := classify(err, attempt < b.cfg.MaxAttempts && next.IsPositive())
		b.metrics.RecordAttempt(symbol, outcome)
		b.record(ctx, round, plan, attempt, repay, outcome, out, err)

		switch outcome {
		case audit.OutcomeLiquidated:
			b.recordProfit(plan, out.Profit)
			b.logger.Info("borrower liquidated",
				slog.String("borrower", plan.Borrower),
				slog.String("market", symbol),
				slog.String("amount", out.Repaid),
				slog.Uint64("block", out.Block))
			return Result{Outcome: outcome, Attempts: attempt, Repaid: out.Repaid, Profit: out.Profit}, nil
		case audit.OutcomeHealthy:
			return Result{Outcome: outcome, Attempts: attempt}, nil
		case audit.OutcomeRetried:
			b.logger.Debug("liquidation rejected, halving repay",
				slog.String("borrower", plan.Borrower),
				slog.Int("attempt", attempt),
				slog.String("amount", repay.String()),
				slog.String("error", err.Error()))
			repay = next
		default:
			if retryable(err) {
				err = fmt.Errorf("%w after %d attempts: %w", ErrAttemptsExhausted, attempt, err)
			}
			return Result{Outcome: outcome, Attempts: attempt}, err
		}
	}
	return Result{Outcome: audit.OutcomeFailed, Attempts: b.cfg.MaxAttempts}, ErrAttemptsExhausted
}

func retryable(err error) bool {
	return errors.Is(err, lending.ErrTooMuchRepay) ||
		errors.Is(err, lending.ErrSeizeTooMuch) ||
		errors.Is(err, flashloan.ErrFlashLoanUnwound)
}

func classify(err error, canRetry bool) string {
	switch {
	case err == nil:
		return audit.OutcomeLiquidated
	case errors.Is(err, lending.ErrBorrowerHealthy):
		return audit.OutcomeHealthy
	case retryable(err) && canRetry:
		return audit.OutcomeRetried
	default:
		return audit.OutcomeFailed
	}
}

func (b *Bot) record(ctx context.Context, round uuid.UUID, plan Plan, attempt int, repay decimal.Decimal, outcome string, out api.FlashLiquidationResult, err error) {
	if b.auditor == nil {
		return
	}
	entry := &audit.Attempt{
		RoundID:          round,
		Borrower:         plan.Borrower,
		RepayMarket:      plan.RepayMarket.Address,
		CollateralMarket: plan.CollateralMarket.Address,
		Attempt:          attempt,
		RepayAmount:      repay.String(),
		MinProfit:        plan.MinProfit.String(),
		Outcome:          outcome,
	}
	if err != nil {
		entry.Error = err.Error()
		if body, _ := api.ToError(err); body != nil {
			entry.Code = body.Code
		}
	} else {
		entry.SeizedTokens = out.SeizedTokens
		entry.Fee = out.Fee
		entry.Profit = out.Profit
		entry.Block = out.Block
	}
	if recErr := b.auditor.Record(context.WithoutCancel(ctx), entry); recErr != nil {
		b.logger.Error("record liquidation attempt",
			slog.String("borrower", plan.Borrower),
			slog.Int("attempt", attempt),
			slog.String("error", recErr.Error()))
	}
}

func (b *Bot) recordProfit(plan Plan, profit string) {
	value, err := decimal.NewFromString(profit)
	if err != nil {
		return
	}
	b.metrics.RecordProfit(plan.RepayMarket.Symbol, value.Shift(-int32(plan.RepayMarket.Decimals)).InexactFloat64())
}
