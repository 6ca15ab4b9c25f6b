package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"moneymarket/native/flashloan"
	"moneymarket/native/lending"
	"moneymarket/services/lending/api"
)

// EventPriceUpdated is emitted when an admin sets a price through the API.
const EventPriceUpdated = "oracle.price_updated"

var expScale = uint256.NewInt(1_000_000_000_000_000_000)

// LedgerEngine serves the API directly from an in-process ledger.
type LedgerEngine struct {
	ledger     *lending.Ledger
	oracle     *lending.SimplePriceOracle
	lender     *flashloan.Lender
	liquidator *flashloan.Liquidator
	tracer     trace.Tracer
}

var _ Engine = (*LedgerEngine)(nil)

// NewLedgerEngine wires the engine to ledger. The oracle receives admin price
// updates and lender funds flash liquidations; either may be nil to disable
// those routes.
func NewLedgerEngine(ledger *lending.Ledger, oracle *lending.SimplePriceOracle, lender *flashloan.Lender) *LedgerEngine {
	e := &LedgerEngine{
		ledger: ledger,
		oracle: oracle,
		lender: lender,
		tracer: otel.Tracer("moneymarket/services/lending/engine"),
	}
	if lender != nil {
		e.liquidator = flashloan.NewLiquidator(lender)
	}
	return e
}

func (e *LedgerEngine) start(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, func(*error)) {
	ctx, span := e.tracer.Start(ctx, "lending."+name, trace.WithAttributes(attrs...))
	return ctx, func(errp *error) {
		if errp != nil && *errp != nil {
			span.RecordError(*errp)
			span.SetStatus(codes.Error, (*errp).Error())
		}
		span.End()
	}
}

func (e *LedgerEngine) update(ctx context.Context, fn func(tx *lending.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if e == nil || e.ledger == nil {
		return fmt.Errorf("%w: ledger unavailable", api.ErrInternal)
	}
	return e.ledger.Update(fn)
}

func (e *LedgerEngine) view(ctx context.Context, fn func(tx *lending.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if e == nil || e.ledger == nil {
		return fmt.Errorf("%w: ledger unavailable", api.ErrInternal)
	}
	return e.ledger.View(fn)
}

func parseAccount(value string) (common.Address, error) {
	trimmed := strings.TrimSpace(value)
	if !common.IsHexAddress(trimmed) {
		return common.Address{}, fmt.Errorf("%w: account %q", api.ErrInvalidRequest, trimmed)
	}
	return common.HexToAddress(trimmed), nil
}

func resolveMarket(tx *lending.Tx, id string) (common.Address, error) {
	trimmed := strings.TrimSpace(id)
	if trimmed == "" {
		return common.Address{}, fmt.Errorf("%w: market required", api.ErrInvalidRequest)
	}
	if common.IsHexAddress(trimmed) {
		return common.HexToAddress(trimmed), nil
	}
	markets, err := tx.Comptroller().Markets()
	if err != nil {
		return common.Address{}, err
	}
	for _, addr := range markets {
		m, err := tx.Market(addr)
		if err != nil {
			return common.Address{}, err
		}
		state, err := m.Snapshot()
		if err != nil {
			return common.Address{}, err
		}
		if strings.EqualFold(state.Symbol, trimmed) {
			return addr, nil
		}
	}
	return common.Address{}, fmt.Errorf("%w: market %q", api.ErrNotFound, trimmed)
}

func marketFor(tx *lending.Tx, id string) (*lending.Market, error) {
	addr, err := resolveMarket(tx, id)
	if err != nil {
		return nil, err
	}
	return tx.Market(addr)
}

func marketDTO(tx *lending.Tx, addr common.Address) (api.Market, error) {
	m, err := tx.Market(addr)
	if err != nil {
		return api.Market{}, err
	}
	if err := m.AccrueInterest(); err != nil {
		return api.Market{}, err
	}
	state, err := m.Snapshot()
	if err != nil {
		return api.Market{}, err
	}
	cash, err := m.Cash()
	if err != nil {
		return api.Market{}, err
	}
	rate, err := m.ExchangeRateStored()
	if err != nil {
		return api.Market{}, err
	}
	borrowRate, err := m.BorrowRatePerBlock()
	if err != nil {
		return api.Market{}, err
	}
	supplyRate, err := m.SupplyRatePerBlock()
	if err != nil {
		return api.Market{}, err
	}
	risk, err := tx.Comptroller().MarketRisk(addr)
	if err != nil {
		return api.Market{}, err
	}
	out := api.Market{
		Address:            addr.Hex(),
		Underlying:         state.Underlying.Hex(),
		Symbol:             state.Symbol,
		Decimals:           state.Decimals,
		Cash:               api.Amount(cash),
		TotalSupply:        api.Amount(state.TotalSupply),
		TotalBorrows:       api.Amount(state.TotalBorrows),
		TotalReserves:      api.Amount(state.TotalReserves),
		ExchangeRate:       lending.FormatMantissa(rate),
		BorrowRatePerBlock: lending.FormatMantissa(borrowRate),
		SupplyRatePerBlock: lending.FormatMantissa(supplyRate),
		BorrowAPR:          lending.FormatMantissa(lending.AnnualRate(borrowRate)),
		SupplyAPR:          lending.FormatMantissa(lending.AnnualRate(supplyRate)),
		ReserveFactor:      lending.FormatMantissa(state.ReserveFactor),
		CollateralFactor:   lending.FormatMantissa(risk.CollateralFactor),
		BorrowCap:          api.Amount(risk.BorrowCap),
		MintPaused:         risk.MintPaused,
		BorrowPaused:       risk.BorrowPaused,
		AccrualBlock:       state.AccrualBlock,
	}
	if oracle := tx.Oracle(); oracle != nil {
		if price := oracle.UnderlyingPrice(addr); price != nil && state.Decimals <= 36 {
			out.Price = lending.FormatAmount(price, 36-state.Decimals)
		}
	}
	return out, nil
}

func liquidityDTO(tx *lending.Tx, account common.Address) (api.Liquidity, error) {
	liq, err := tx.Comptroller().GetAccountLiquidity(account)
	if err != nil {
		return api.Liquidity{}, err
	}
	return api.Liquidity{
		Account:   account.Hex(),
		Liquidity: lending.FormatMantissa(liq.Liquidity),
		Shortfall: lending.FormatMantissa(liq.Shortfall),
		Healthy:   liq.Healthy(),
		Block:     tx.BlockNumber(),
	}, nil
}

// Markets lists every listed market.
func (e *LedgerEngine) Markets(ctx context.Context) (out []api.Market, err error) {
	ctx, end := e.start(ctx, "markets")
	defer end(&err)
	err = e.view(ctx, func(tx *lending.Tx) error {
		addrs, err := tx.Comptroller().Markets()
		if err != nil {
			return err
		}
		out = make([]api.Market, 0, len(addrs))
		for _, addr := range addrs {
			dto, err := marketDTO(tx, addr)
			if err != nil {
				return err
			}
			out = append(out, dto)
		}
		return nil
	})
	return out, err
}

// Market returns one market.
func (e *LedgerEngine) Market(ctx context.Context, market string) (out api.Market, err error) {
	ctx, end := e.start(ctx, "market", attribute.String("market", market))
	defer end(&err)
	err = e.view(ctx, func(tx *lending.Tx) error {
		addr, err := resolveMarket(tx, market)
		if err != nil {
			return err
		}
		out, err = marketDTO(tx, addr)
		return err
	})
	return out, err
}

// RiskParams returns the global risk parameters.
func (e *LedgerEngine) RiskParams(ctx context.Context) (out api.RiskParams, err error) {
	ctx, end := e.start(ctx, "risk_params")
	defer end(&err)
	err = e.view(ctx, func(tx *lending.Tx) error {
		params, err := tx.Comptroller().RiskParams()
		if err != nil {
			return err
		}
		out = api.RiskParams{
			Admin:                params.Admin.Hex(),
			CloseFactor:          lending.FormatMantissa(params.CloseFactor),
			LiquidationIncentive: lending.FormatMantissa(params.LiquidationIncentive),
			ProtocolSeizeShare:   lending.FormatMantissa(params.ProtocolSeizeShare),
			TransferPaused:       params.TransferPaused,
			SeizePaused:          params.SeizePaused,
		}
		if params.PauseGuardian != (common.Address{}) {
			out.PauseGuardian = params.PauseGuardian.Hex()
		}
		return nil
	})
	return out, err
}

// Accounts lists every account that ever held a position.
func (e *LedgerEngine) Accounts(ctx context.Context) (out []string, err error) {
	ctx, end := e.start(ctx, "accounts")
	defer end(&err)
	err = e.view(ctx, func(tx *lending.Tx) error {
		accounts, err := tx.Comptroller().Accounts()
		if err != nil {
			return err
		}
		out = make([]string, 0, len(accounts))
		for _, account := range accounts {
			out = append(out, account.Hex())
		}
		return nil
	})
	return out, err
}

// Liquidity returns the account's liquidity or shortfall.
func (e *LedgerEngine) Liquidity(ctx context.Context, account string) (out api.Liquidity, err error) {
	ctx, end := e.start(ctx, "liquidity", attribute.String("account", account))
	defer end(&err)
	addr, err := parseAccount(account)
	if err != nil {
		return out, err
	}
	err = e.view(ctx, func(tx *lending.Tx) error {
		out, err = liquidityDTO(tx, addr)
		return err
	})
	return out, err
}

// Positions returns every market position of account plus its liquidity.
func (e *LedgerEngine) Positions(ctx context.Context, account string) (out api.AccountPositions, err error) {
	ctx, end := e.start(ctx, "positions", attribute.String("account", account))
	defer end(&err)
	addr, err := parseAccount(account)
	if err != nil {
		return out, err
	}
	err = e.view(ctx, func(tx *lending.Tx) error {
		positions, err := tx.Comptroller().AccountPositions(addr)
		if err != nil {
			return err
		}
		out = api.AccountPositions{Account: addr.Hex(), Positions: make([]api.Position, 0, len(positions))}
		for _, pos := range positions {
			m, err := tx.Market(pos.Market)
			if err != nil {
				return err
			}
			state, err := m.Snapshot()
			if err != nil {
				return err
			}
			underlying, overflow := new(uint256.Int).MulDivOverflow(pos.Tokens, pos.ExchangeRate, expScale)
			if overflow {
				return lending.ErrMathOverflow
			}
			out.Positions = append(out.Positions, api.Position{
				Market:            pos.Market.Hex(),
				Symbol:            state.Symbol,
				Underlying:        state.Underlying.Hex(),
				Tokens:            api.Amount(pos.Tokens),
				UnderlyingBalance: api.Amount(underlying),
				Borrow:            api.Amount(pos.Borrow),
				ExchangeRate:      lending.FormatMantissa(pos.ExchangeRate),
				Entered:           pos.Entered,
			})
		}
		out.Liquidity, err = liquidityDTO(tx, addr)
		return err
	})
	return out, err
}

// FlashPool reports flash liquidity for an asset address or for the
// underlying of a market.
func (e *LedgerEngine) FlashPool(ctx context.Context, asset string) (out api.FlashPool, err error) {
	ctx, end := e.start(ctx, "flash_pool", attribute.String("asset", asset))
	defer end(&err)
	if e.lender == nil {
		return out, fmt.Errorf("%w: flash loans disabled", api.ErrNotFound)
	}
	err = e.view(ctx, func(tx *lending.Tx) error {
		addr, err := resolveAsset(tx, asset)
		if err != nil {
			return err
		}
		available, err := e.lender.Available(tx, addr)
		if err != nil {
			return err
		}
		out = api.FlashPool{Asset: addr.Hex(), Available: api.Amount(available), FeeBps: e.lender.FeeBps}
		return nil
	})
	return out, err
}

func resolveAsset(tx *lending.Tx, id string) (common.Address, error) {
	addr, err := resolveMarket(tx, id)
	if err != nil {
		return common.Address{}, err
	}
	m, err := tx.Market(addr)
	if errors.Is(err, lending.ErrMarketNotListed) {
		return addr, nil
	}
	if err != nil {
		return common.Address{}, err
	}
	return m.Underlying(), nil
}

type marketOp func(tx *lending.Tx, m *lending.Market, account common.Address, amount *uint256.Int) (*uint256.Int, error)

func (e *LedgerEngine) marketOp(ctx context.Context, name, account, market, amount string, allowMax bool, op marketOp) (out api.OpResult, err error) {
	ctx, end := e.start(ctx, name, attribute.String("account", account), attribute.String("market", market))
	defer end(&err)
	addr, err := parseAccount(account)
	if err != nil {
		return out, err
	}
	value, err := api.ParseAmount(amount, allowMax)
	if err != nil {
		return out, err
	}
	err = e.update(ctx, func(tx *lending.Tx) error {
		m, err := marketFor(tx, market)
		if err != nil {
			return err
		}
		moved, err := op(tx, m, addr, value)
		if err != nil {
			return err
		}
		out = api.OpResult{Market: m.Address().Hex(), Amount: api.Amount(moved), Block: tx.BlockNumber()}
		return nil
	})
	return out, err
}

// Mint supplies amount of underlying and reports the receipt tokens minted.
func (e *LedgerEngine) Mint(ctx context.Context, account, market, amount string) (api.OpResult, error) {
	return e.marketOp(ctx, "mint", account, market, amount, false,
		func(_ *lending.Tx, m *lending.Market, who common.Address, v *uint256.Int) (*uint256.Int, error) {
			return m.Mint(who, v)
		})
}

// Redeem burns receipt tokens and reports the underlying paid out.
func (e *LedgerEngine) Redeem(ctx context.Context, account, market, tokens string) (api.OpResult, error) {
	return e.marketOp(ctx, "redeem", account, market, tokens, false,
		func(_ *lending.Tx, m *lending.Market, who common.Address, v *uint256.Int) (*uint256.Int, error) {
			return m.Redeem(who, v)
		})
}

// RedeemUnderlying withdraws an underlying amount and reports the tokens burned.
func (e *LedgerEngine) RedeemUnderlying(ctx context.Context, account, market, amount string) (api.OpResult, error) {
	return e.marketOp(ctx, "redeem_underlying", account, market, amount, false,
		func(_ *lending.Tx, m *lending.Market, who common.Address, v *uint256.Int) (*uint256.Int, error) {
			return m.RedeemUnderlying(who, v)
		})
}

// Borrow lends amount of underlying to account.
func (e *LedgerEngine) Borrow(ctx context.Context, account, market, amount string) (api.OpResult, error) {
	return e.marketOp(ctx, "borrow", account, market, amount, false,
		func(_ *lending.Tx, m *lending.Market, who common.Address, v *uint256.Int) (*uint256.Int, error) {
			if err := m.Borrow(who, v); err != nil {
				return nil, err
			}
			return v, nil
		})
}

// Repay repays borrower's debt from payer. An empty borrower repays the
// payer's own debt; "max" repays all of it.
func (e *LedgerEngine) Repay(ctx context.Context, payer, borrower, market, amount string) (api.OpResult, error) {
	var debtor *common.Address
	if strings.TrimSpace(borrower) != "" {
		addr, err := parseAccount(borrower)
		if err != nil {
			return api.OpResult{}, err
		}
		debtor = &addr
	}
	return e.marketOp(ctx, "repay", payer, market, amount, true,
		func(_ *lending.Tx, m *lending.Market, who common.Address, v *uint256.Int) (*uint256.Int, error) {
			if debtor == nil || *debtor == who {
				return m.RepayBorrow(who, v)
			}
			return m.RepayBorrowBehalf(who, *debtor, v)
		})
}

// Transfer moves receipt tokens from account to another account.
func (e *LedgerEngine) Transfer(ctx context.Context, account, market, to, tokens string) (api.OpResult, error) {
	dst, err := parseAccount(to)
	if err != nil {
		return api.OpResult{}, err
	}
	return e.marketOp(ctx, "transfer", account, market, tokens, false,
		func(_ *lending.Tx, m *lending.Market, who common.Address, v *uint256.Int) (*uint256.Int, error) {
			if err := m.Transfer(who, dst, v); err != nil {
				return nil, err
			}
			return v, nil
		})
}

// EnterMarkets adds markets to account's collateral set.
func (e *LedgerEngine) EnterMarkets(ctx context.Context, account string, markets []string) (err error) {
	ctx, end := e.start(ctx, "enter_markets", attribute.String("account", account), attribute.StringSlice("markets", markets))
	defer end(&err)
	addr, err := parseAccount(account)
	if err != nil {
		return err
	}
	if len(markets) == 0 {
		return fmt.Errorf("%w: markets required", api.ErrInvalidRequest)
	}
	return e.update(ctx, func(tx *lending.Tx) error {
		resolved := make([]common.Address, 0, len(markets))
		for _, id := range markets {
			market, err := resolveMarket(tx, id)
			if err != nil {
				return err
			}
			resolved = append(resolved, market)
		}
		return tx.Comptroller().EnterMarkets(addr, resolved...)
	})
}

// ExitMarket removes market from account's collateral set.
func (e *LedgerEngine) ExitMarket(ctx context.Context, account, market string) (err error) {
	ctx, end := e.start(ctx, "exit_market", attribute.String("account", account), attribute.String("market", market))
	defer end(&err)
	addr, err := parseAccount(account)
	if err != nil {
		return err
	}
	return e.update(ctx, func(tx *lending.Tx) error {
		resolved, err := resolveMarket(tx, market)
		if err != nil {
			return err
		}
		return tx.Comptroller().ExitMarket(addr, resolved)
	})
}

// Liquidate repays part of a borrower's debt in market from the liquidator's
// own funds and seizes collateral.
func (e *LedgerEngine) Liquidate(ctx context.Context, liquidator, market string, req api.LiquidateRequest) (out api.LiquidateResult, err error) {
	ctx, end := e.start(ctx, "liquidate",
		attribute.String("liquidator", liquidator),
		attribute.String("borrower", req.Borrower),
		attribute.String("market", market))
	defer end(&err)
	liq, err := parseAccount(liquidator)
	if err != nil {
		return out, err
	}
	borrower, err := parseAccount(req.Borrower)
	if err != nil {
		return out, err
	}
	amount, err := api.ParseAmount(req.Amount, false)
	if err != nil {
		return out, err
	}
	err = e.update(ctx, func(tx *lending.Tx) error {
		m, err := marketFor(tx, market)
		if err != nil {
			return err
		}
		collateral, err := resolveMarket(tx, req.CollateralMarket)
		if err != nil {
			return err
		}
		repaid, seized, err := m.LiquidateBorrow(liq, borrower, amount, collateral)
		if err != nil {
			return err
		}
		out = api.LiquidateResult{Repaid: api.Amount(repaid), SeizedTokens: api.Amount(seized), Block: tx.BlockNumber()}
		return nil
	})
	return out, err
}

// FlashLiquidate runs a flash-loan funded liquidation for liquidator.
func (e *LedgerEngine) FlashLiquidate(ctx context.Context, liquidator string, req api.FlashLiquidationRequest) (out api.FlashLiquidationResult, err error) {
	ctx, end := e.start(ctx, "flash_liquidate",
		attribute.String("liquidator", liquidator),
		attribute.String("borrower", req.Borrower),
		attribute.String("repay_market", req.RepayMarket),
		attribute.String("collateral_market", req.CollateralMarket))
	defer end(&err)
	if e.liquidator == nil {
		return out, fmt.Errorf("%w: flash loans disabled", api.ErrNotFound)
	}
	liq, err := parseAccount(liquidator)
	if err != nil {
		return out, err
	}
	borrower, err := parseAccount(req.Borrower)
	if err != nil {
		return out, err
	}
	amount, err := api.ParseAmount(req.Amount, false)
	if err != nil {
		return out, err
	}
	minProfit, err := api.ParseOptionalAmount(req.MinProfit)
	if err != nil {
		return out, err
	}
	minSwapOut, err := api.ParseOptionalAmount(req.MinSwapOut)
	if err != nil {
		return out, err
	}
	err = e.update(ctx, func(tx *lending.Tx) error {
		repayMarket, err := resolveMarket(tx, req.RepayMarket)
		if err != nil {
			return err
		}
		collateral, err := resolveMarket(tx, req.CollateralMarket)
		if err != nil {
			return err
		}
		result, err := e.liquidator.Execute(tx, flashloan.Params{
			Liquidator:       liq,
			Borrower:         borrower,
			RepayMarket:      repayMarket,
			CollateralMarket: collateral,
			RepayAmount:      amount,
			MinProfit:        minProfit,
			MinSwapOut:       minSwapOut,
		})
		if err != nil {
			return err
		}
		out = api.FlashLiquidationResult{
			Repaid:       api.Amount(result.Repaid),
			SeizedTokens: api.Amount(result.SeizedTokens),
			Redeemed:     api.Amount(result.Redeemed),
			Proceeds:     api.Amount(result.Proceeds),
			Fee:          api.Amount(result.Fee),
			Profit:       api.Amount(result.Profit),
			Block:        tx.BlockNumber(),
		}
		return nil
	})
	return out, err
}

// SetPrice sets the USD price of one whole unit of market's underlying.
func (e *LedgerEngine) SetPrice(ctx context.Context, caller, market, usdPerUnit string) (err error) {
	ctx, end := e.start(ctx, "set_price", attribute.String("market", market))
	defer end(&err)
	if e.oracle == nil {
		return fmt.Errorf("%w: price feed is read-only", api.ErrNotFound)
	}
	admin, err := parseAccount(caller)
	if err != nil {
		return err
	}
	price, err := lending.ParseMantissa(usdPerUnit)
	if err != nil {
		return fmt.Errorf("%w: %v", api.ErrInvalidRequest, err)
	}
	var (
		target common.Address
		scaled *uint256.Int
	)
	err = e.update(ctx, func(tx *lending.Tx) error {
		current, err := tx.Comptroller().Admin()
		if err != nil {
			return err
		}
		if current != admin {
			return lending.ErrUnauthorized
		}
		m, err := marketFor(tx, market)
		if err != nil {
			return err
		}
		state, err := m.Snapshot()
		if err != nil {
			return err
		}
		if scaled, err = lending.ScalePrice(price, state.Decimals); err != nil {
			return err
		}
		target = m.Address()
		tx.Emit(lending.Event{Type: EventPriceUpdated, Attributes: map[string]string{
			"market": target.Hex(),
			"price":  lending.FormatMantissa(price),
		}})
		return nil
	})
	if err != nil {
		return err
	}
	// The feed lives outside the ledger, so it only moves once the
	// authorising transaction has committed.
	e.oracle.SetUnderlyingPrice(target, scaled)
	return nil
}

// SetCollateralFactor sets a market's collateral factor from a decimal string.
func (e *LedgerEngine) SetCollateralFactor(ctx context.Context, caller, market, factor string) (err error) {
	ctx, end := e.start(ctx, "set_collateral_factor", attribute.String("market", market))
	defer end(&err)
	admin, err := parseAccount(caller)
	if err != nil {
		return err
	}
	value, err := lending.ParseMantissa(factor)
	if err != nil {
		return fmt.Errorf("%w: %v", api.ErrInvalidRequest, err)
	}
	return e.update(ctx, func(tx *lending.Tx) error {
		addr, err := resolveMarket(tx, market)
		if err != nil {
			return err
		}
		return tx.Comptroller().SetCollateralFactor(admin, addr, value)
	})
}

// SetBorrowCap sets a market's borrow cap in whole units. Zero removes it.
func (e *LedgerEngine) SetBorrowCap(ctx context.Context, caller, market, wholeUnits string) (err error) {
	ctx, end := e.start(ctx, "set_borrow_cap", attribute.String("market", market))
	defer end(&err)
	admin, err := parseAccount(caller)
	if err != nil {
		return err
	}
	return e.update(ctx, func(tx *lending.Tx) error {
		m, err := marketFor(tx, market)
		if err != nil {
			return err
		}
		state, err := m.Snapshot()
		if err != nil {
			return err
		}
		limit, err := lending.ParseAmount(wholeUnits, state.Decimals)
		if err != nil {
			return fmt.Errorf("%w: %v", api.ErrInvalidRequest, err)
		}
		return tx.Comptroller().SetBorrowCap(admin, m.Address(), limit)
	})
}

// SetActionPaused pauses or resumes an action.
func (e *LedgerEngine) SetActionPaused(ctx context.Context, caller string, req api.PauseRequest) (err error) {
	ctx, end := e.start(ctx, "set_action_paused",
		attribute.String("action", req.Action), attribute.Bool("paused", req.Paused))
	defer end(&err)
	who, err := parseAccount(caller)
	if err != nil {
		return err
	}
	action := strings.ToLower(strings.TrimSpace(req.Action))
	return e.update(ctx, func(tx *lending.Tx) error {
		var market common.Address
		if strings.TrimSpace(req.Market) != "" {
			if market, err = resolveMarket(tx, req.Market); err != nil {
				return err
			}
		}
		return tx.Comptroller().SetActionPaused(who, market, action, req.Paused)
	})
}
