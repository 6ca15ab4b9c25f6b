package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"moneymarket/services/lending/api"
)

// ErrNothingToLiquidate is returned when a borrower in shortfall offers no
// debt, collateral or flash liquidity the bot can act on.
var ErrNothingToLiquidate = errors.New("liquidator: nothing to liquidate")

// book is the market snapshot a round plans against.
type book struct {
	markets     map[string]api.Market
	closeFactor decimal.Decimal
	incentive   decimal.Decimal
}

// Plan is a sized flash liquidation for one borrower.
type Plan struct {
	Borrower         string
	RepayMarket      api.Market
	CollateralMarket api.Market
	// Repay and MinProfit are in the smallest unit of the repay asset.
	Repay     decimal.Decimal
	MinProfit decimal.Decimal
}

// Request renders the plan for the lending API with the given repay amount.
func (p Plan) Request(repay decimal.Decimal) api.FlashLiquidationRequest {
	req := api.FlashLiquidationRequest{
		Borrower:         p.Borrower,
		RepayMarket:      p.RepayMarket.Address,
		CollateralMarket: p.CollateralMarket.Address,
		Amount:           repay.String(),
	}
	if p.MinProfit.IsPositive() {
		req.MinProfit = p.MinProfit.String()
	}
	return req
}

func (b *Bot) loadBook(ctx context.Context) (*book, error) {
	markets, err := b.lending.Markets(ctx)
	if err != nil {
		return nil, fmt.Errorf("list markets: %w", err)
	}
	params, err := b.lending.RiskParams(ctx)
	if err != nil {
		return nil, fmt.Errorf("risk params: %w", err)
	}
	closeFactor, err := decimal.NewFromString(params.CloseFactor)
	if err != nil {
		return nil, fmt.Errorf("close factor %q: %w", params.CloseFactor, err)
	}
	incentive, err := decimal.NewFromString(params.LiquidationIncentive)
	if err != nil {
		return nil, fmt.Errorf("liquidation incentive %q: %w", params.LiquidationIncentive, err)
	}
	bk := &book{
		markets:     make(map[string]api.Market, len(markets)),
		closeFactor: closeFactor,
		incentive:   incentive,
	}
	for _, market := range markets {
		bk.markets[strings.ToLower(market.Address)] = market
	}
	return bk, nil
}

func (bk *book) market(address string) (api.Market, decimal.Decimal, bool) {
	market, ok := bk.markets[strings.ToLower(address)]
	if !ok || market.Price == "" {
		return market, decimal.Zero, false
	}
	price, err := decimal.NewFromString(market.Price)
	if err != nil || !price.IsPositive() {
		return market, decimal.Zero, false
	}
	return market, price, true
}

// usd values a smallest-unit amount of market's underlying.
func usd(amount decimal.Decimal, market api.Market, price decimal.Decimal) decimal.Decimal {
	return amount.Shift(-int32(market.Decimals)).Mul(price)
}

// plan picks the largest debt and the largest entered collateral of borrower
// and sizes the repay. The repay never exceeds closeFactor times the debt,
// the amount whose seize the collateral balance covers, or the flash
// liquidity of the repay asset.
func (b *Bot) plan(ctx context.Context, bk *book, borrower string) (Plan, error) {
	positions, err := b.lending.Positions(ctx, borrower)
	if err != nil {
		return Plan{}, fmt.Errorf("positions %s: %w", borrower, err)
	}
	var (
		debt, collateral           api.Market
		debtPrice, debtAmount      decimal.Decimal
		debtValue, collateralValue decimal.Decimal
	)
	for _, pos := range positions.Positions {
		market, price, ok := bk.market(pos.Market)
		if !ok {
			continue
		}
		if borrow, err := decimal.NewFromString(pos.Borrow); err == nil && borrow.IsPositive() {
			if value := usd(borrow, market, price); value.GreaterThan(debtValue) {
				debt, debtPrice, debtAmount, debtValue = market, price, borrow, value
			}
		}
		if !pos.Entered {
			continue
		}
		if balance, err := decimal.NewFromString(pos.UnderlyingBalance); err == nil && balance.IsPositive() {
			if value := usd(balance, market, price); value.GreaterThan(collateralValue) {
				collateral, collateralValue = market, value
			}
		}
	}
	if !debtValue.IsPositive() || !collateralValue.IsPositive() {
		return Plan{}, ErrNothingToLiquidate
	}

	repay := debtAmount.Mul(bk.closeFactor).Floor()
	if bk.incentive.IsPositive() {
		seizable := collateralValue.Div(bk.incentive.Mul(debtPrice)).Shift(int32(debt.Decimals)).Floor()
		repay = decimal.Min(repay, seizable)
	}
	pool, err := b.lending.FlashPool(ctx, debt.Underlying)
	if err != nil {
		return Plan{}, fmt.Errorf("flash pool %s: %w", debt.Symbol, err)
	}
	available, err := decimal.NewFromString(pool.Available)
	if err != nil {
		return Plan{}, fmt.Errorf("flash pool %s available %q: %w", debt.Symbol, pool.Available, err)
	}
	repay = decimal.Min(repay, available)
	if !repay.IsPositive() {
		return Plan{}, ErrNothingToLiquidate
	}
	return Plan{
		Borrower:         borrower,
		RepayMarket:      debt,
		CollateralMarket: collateral,
		Repay:            repay,
		MinProfit:        b.cfg.MinProfitUSD.Div(debtPrice).Shift(int32(debt.Decimals)).Ceil(),
	}, nil
}
