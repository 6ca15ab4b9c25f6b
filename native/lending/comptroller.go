package lending

import (
	"fmt"
	"slices"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	nativecommon "moneymarket/native/common"
)

// MarketView is what the comptroller reads from a market when pricing an
// account.
type MarketView interface {
	Snapshot() (*MarketState, error)
	// AccountSnapshot returns tokens held, debt owed and the exchange rate,
	// projected to the current block.
	AccountSnapshot(account common.Address) (tokens, borrow, exchangeRate *uint256.Int, err error)
	ExchangeRateStored() (*uint256.Int, error)
}

// Comptroller is the risk engine shared by every market. It owns listing,
// collateral factors, membership, pause flags and the liquidity arithmetic.
type Comptroller struct {
	tx      *Tx
	markets func(common.Address) (MarketView, error)
}

func (c *Comptroller) store() store { return c.tx.store() }

// Initialize sets the first admin. It fails once an admin exists.
func (c *Comptroller) Initialize(admin common.Address) error {
	return c.tx.Atomic(func() error {
		if admin == (common.Address{}) {
			return ErrUnauthorized
		}
		params, err := c.store().global()
		if err != nil {
			return err
		}
		if params.Admin != (common.Address{}) {
			return ErrUnauthorized
		}
		params.Admin = admin
		return c.store().putGlobal(params)
	})
}

// Admin returns the current admin.
func (c *Comptroller) Admin() (common.Address, error) {
	params, err := c.store().global()
	if err != nil {
		return common.Address{}, err
	}
	return params.Admin, nil
}

// ProtocolSeizeShare returns the share of seized collateral kept as reserves.
func (c *Comptroller) ProtocolSeizeShare() (*uint256.Int, error) {
	params, err := c.store().global()
	if err != nil {
		return nil, err
	}
	return clone(params.ProtocolSeizeShare), nil
}

func (c *Comptroller) requireAdmin(caller common.Address) (GlobalRiskParams, error) {
	params, err := c.store().global()
	if err != nil {
		return GlobalRiskParams{}, err
	}
	if params.Admin == (common.Address{}) || caller != params.Admin {
		return GlobalRiskParams{}, ErrUnauthorized
	}
	return params, nil
}

func (c *Comptroller) listedRisk(market common.Address) (MarketRisk, error) {
	risk, err := c.store().risk(market)
	if err != nil {
		return MarketRisk{}, err
	}
	if !risk.Listed {
		return MarketRisk{}, fmt.Errorf("%w: %s", ErrMarketNotListed, market.Hex())
	}
	return risk, nil
}

func (c *Comptroller) price(market common.Address) *uint256.Int {
	oracle := c.tx.Oracle()
	if oracle == nil {
		return nil
	}
	price := oracle.UnderlyingPrice(market)
	if price == nil || price.IsZero() {
		return nil
	}
	return price
}

// SupportMarket lists a new market with a zero collateral factor.
func (c *Comptroller) SupportMarket(caller common.Address, params MarketParams) error {
	return c.tx.Atomic(func() error {
		if _, err := c.requireAdmin(caller); err != nil {
			return err
		}
		if params.Address == (common.Address{}) || params.Underlying == (common.Address{}) {
			return fmt.Errorf("lending: market and underlying addresses required")
		}
		if params.InitialExchangeRate == nil || params.InitialExchangeRate.IsZero() {
			return fmt.Errorf("lending: initial exchange rate must be positive")
		}
		if params.RateModel == nil {
			return ErrRateModelMissing
		}
		reserveFactor := clone(params.ReserveFactor)
		if err := validateReserveFactor(reserveFactor); err != nil {
			return err
		}
		st := c.store()
		if _, ok, err := st.market(params.Address); err != nil {
			return err
		} else if ok {
			return fmt.Errorf("%w: %s", ErrMarketAlreadyListed, params.Address.Hex())
		}
		state := &MarketState{
			Address:             params.Address,
			Underlying:          params.Underlying,
			Symbol:              params.Symbol,
			Decimals:            params.Decimals,
			InitialExchangeRate: clone(params.InitialExchangeRate),
			ReserveFactor:       reserveFactor,
			TotalSupply:         zero(),
			TotalBorrows:        zero(),
			TotalReserves:       zero(),
			AccrualBlock:        c.tx.block,
			BorrowIndex:         clone(mantissaOne),
		}
		if err := st.putMarket(state); err != nil {
			return err
		}
		if err := st.putRisk(params.Address, MarketRisk{Listed: true, CollateralFactor: zero(), BorrowCap: zero()}); err != nil {
			return err
		}
		index, err := st.marketIndex()
		if err != nil {
			return err
		}
		if err := st.putMarketIndex(append(index, params.Address)); err != nil {
			return err
		}

		if c.tx.pendingModels == nil {
			c.tx.pendingModels = make(map[common.Address]InterestRateModel)
		}
		c.tx.pendingModels[params.Address] = params.RateModel
		ledger, addr, model := c.tx.ledger, params.Address, params.RateModel
		c.tx.afterCommit(func() { ledger.models[addr] = model })

		c.tx.Emit(newEvent(EventMarketListed, params.Address).addr("underlying", params.Underlying).
			str("symbol", params.Symbol).amount("initialExchangeRate", params.InitialExchangeRate).event)
		return nil
	})
}

// SetInterestRateModel replaces the model of a listed market. Interest up to
// the current block accrues under the old model.
func (c *Comptroller) SetInterestRateModel(caller, market common.Address, model InterestRateModel) error {
	return c.tx.Atomic(func() error {
		if _, err := c.requireAdmin(caller); err != nil {
			return err
		}
		if model == nil {
			return ErrRateModelMissing
		}
		m, err := c.tx.Market(market)
		if err != nil {
			return err
		}
		if _, err := m.accrueInterest(); err != nil {
			return err
		}
		if c.tx.pendingModels == nil {
			c.tx.pendingModels = make(map[common.Address]InterestRateModel)
		}
		c.tx.pendingModels[market] = model
		ledger := c.tx.ledger
		c.tx.afterCommit(func() { ledger.models[market] = model })
		c.tx.Emit(newEvent(EventRiskParamsUpdated, market).str("param", "interestRateModel").event)
		return nil
	})
}

// SetCollateralFactor updates a market's collateral factor. A non-zero factor
// needs a price for the market.
func (c *Comptroller) SetCollateralFactor(caller, market common.Address, factor *uint256.Int) error {
	return c.tx.Atomic(func() error {
		if _, err := c.requireAdmin(caller); err != nil {
			return err
		}
		risk, err := c.listedRisk(market)
		if err != nil {
			return err
		}
		if err := validateCollateralFactor(factor); err != nil {
			return err
		}
		if !factor.IsZero() && c.price(market) == nil {
			return fmt.Errorf("%w: %s", ErrPriceUnavailable, market.Hex())
		}
		risk.CollateralFactor = clone(factor)
		if err := c.store().putRisk(market, risk); err != nil {
			return err
		}
		c.tx.Emit(newEvent(EventRiskParamsUpdated, market).amount("collateralFactor", factor).event)
		return nil
	})
}

// SetCloseFactor updates the maximum share of a debt repayable in one
// liquidation.
func (c *Comptroller) SetCloseFactor(caller common.Address, factor *uint256.Int) error {
	return c.updateGlobal(caller, func(params *GlobalRiskParams) (string, *uint256.Int, error) {
		if err := validateCloseFactor(factor); err != nil {
			return "", nil, err
		}
		params.CloseFactor = clone(factor)
		return "closeFactor", factor, nil
	})
}

// SetLiquidationIncentive updates the collateral bonus paid to liquidators.
func (c *Comptroller) SetLiquidationIncentive(caller common.Address, incentive *uint256.Int) error {
	return c.updateGlobal(caller, func(params *GlobalRiskParams) (string, *uint256.Int, error) {
		if err := validateLiquidationIncentive(incentive); err != nil {
			return "", nil, err
		}
		params.LiquidationIncentive = clone(incentive)
		return "liquidationIncentive", incentive, nil
	})
}

// SetProtocolSeizeShare updates the share of seized tokens kept as reserves.
func (c *Comptroller) SetProtocolSeizeShare(caller common.Address, share *uint256.Int) error {
	return c.updateGlobal(caller, func(params *GlobalRiskParams) (string, *uint256.Int, error) {
		if err := validateSeizeShare(share); err != nil {
			return "", nil, err
		}
		params.ProtocolSeizeShare = clone(share)
		return "protocolSeizeShare", share, nil
	})
}

func (c *Comptroller) updateGlobal(caller common.Address, apply func(*GlobalRiskParams) (string, *uint256.Int, error)) error {
	return c.tx.Atomic(func() error {
		params, err := c.requireAdmin(caller)
		if err != nil {
			return err
		}
		name, value, err := apply(&params)
		if err != nil {
			return err
		}
		if err := c.store().putGlobal(params); err != nil {
			return err
		}
		c.tx.Emit(newEvent(EventRiskParamsUpdated, common.Address{}).amount(name, value).event)
		return nil
	})
}

// SetPriceOracle swaps the oracle. The new oracle is visible to the rest of
// the transaction and to the ledger once it commits.
func (c *Comptroller) SetPriceOracle(caller common.Address, oracle PriceOracle) error {
	return c.tx.Atomic(func() error {
		if _, err := c.requireAdmin(caller); err != nil {
			return err
		}
		if oracle == nil {
			return fmt.Errorf("lending: oracle required")
		}
		c.tx.pendingOracle = oracle
		ledger := c.tx.ledger
		c.tx.afterCommit(func() { ledger.oracle = oracle })
		c.tx.Emit(newEvent(EventRiskParamsUpdated, common.Address{}).str("param", "priceOracle").event)
		return nil
	})
}

// SetBorrowCap bounds total borrows of a market. Zero removes the cap.
func (c *Comptroller) SetBorrowCap(caller, market common.Address, limit *uint256.Int) error {
	return c.tx.Atomic(func() error {
		if _, err := c.requireAdmin(caller); err != nil {
			return err
		}
		risk, err := c.listedRisk(market)
		if err != nil {
			return err
		}
		risk.BorrowCap = clone(limit)
		if err := c.store().putRisk(market, risk); err != nil {
			return err
		}
		c.tx.Emit(newEvent(EventRiskParamsUpdated, market).amount("borrowCap", risk.BorrowCap).event)
		return nil
	})
}

// SetPauseGuardian names the account allowed to pause actions.
func (c *Comptroller) SetPauseGuardian(caller, guardian common.Address) error {
	return c.tx.Atomic(func() error {
		params, err := c.requireAdmin(caller)
		if err != nil {
			return err
		}
		params.PauseGuardian = guardian
		if err := c.store().putGlobal(params); err != nil {
			return err
		}
		c.tx.Emit(newEvent(EventRiskParamsUpdated, common.Address{}).addr("pauseGuardian", guardian).event)
		return nil
	})
}

// SetAdmin hands the admin role to next.
func (c *Comptroller) SetAdmin(caller, next common.Address) error {
	return c.tx.Atomic(func() error {
		params, err := c.requireAdmin(caller)
		if err != nil {
			return err
		}
		if next == (common.Address{}) {
			return ErrUnauthorized
		}
		params.Admin = next
		if err := c.store().putGlobal(params); err != nil {
			return err
		}
		c.tx.Emit(newEvent(EventRiskParamsUpdated, common.Address{}).addr("admin", next).event)
		return nil
	})
}

// SetActionPaused toggles an action. Mint and borrow are paused per market;
// transfer and seize ignore market. The guardian may pause but only the admin
// may unpause.
func (c *Comptroller) SetActionPaused(caller, market common.Address, action string, paused bool) error {
	return c.tx.Atomic(func() error {
		st := c.store()
		params, err := st.global()
		if err != nil {
			return err
		}
		isAdmin := params.Admin != (common.Address{}) && caller == params.Admin
		isGuardian := params.PauseGuardian != (common.Address{}) && caller == params.PauseGuardian
		if !isAdmin && !(isGuardian && paused) {
			return ErrUnauthorized
		}
		switch action {
		case ActionMint, ActionBorrow:
			risk, err := c.listedRisk(market)
			if err != nil {
				return err
			}
			if action == ActionMint {
				risk.MintPaused = paused
			} else {
				risk.BorrowPaused = paused
			}
			if err := st.putRisk(market, risk); err != nil {
				return err
			}
		case ActionTransfer:
			params.TransferPaused = paused
			market = common.Address{}
		case ActionSeize:
			params.SeizePaused = paused
			market = common.Address{}
		default:
			return fmt.Errorf("lending: unknown action %q", action)
		}
		if market == (common.Address{}) {
			if err := st.putGlobal(params); err != nil {
				return err
			}
		}
		state := "false"
		if paused {
			state = "true"
		}
		c.tx.Emit(newEvent(EventActionPaused, market).str("action", action).str("paused", state).event)
		return nil
	})
}

// EnterMarkets adds markets to the set counted as account's collateral and
// debt. Entering a market twice is a no-op.
func (c *Comptroller) EnterMarkets(account common.Address, markets ...common.Address) error {
	return c.tx.Atomic(func() error {
		for _, market := range markets {
			if err := c.enterMarket(account, market); err != nil {
				return err
			}
		}
		return nil
	})
}

func (c *Comptroller) enterMarket(account, market common.Address) error {
	if _, err := c.listedRisk(market); err != nil {
		return err
	}
	st := c.store()
	assets, err := st.membership(account)
	if err != nil {
		return err
	}
	if slices.Contains(assets, market) {
		return nil
	}
	if err := st.putMembership(account, append(assets, market)); err != nil {
		return err
	}
	if err := st.trackAccount(account); err != nil {
		return err
	}
	c.tx.Emit(newEvent(EventMarketEntered, market).addr("account", account).event)
	return nil
}

// ExitMarket removes market from account's collateral set. The account must
// owe nothing there and must stay solvent without the collateral.
func (c *Comptroller) ExitMarket(account, market common.Address) error {
	return c.tx.Atomic(func() error {
		view, err := c.markets(market)
		if err != nil {
			return err
		}
		tokens, borrow, _, err := view.AccountSnapshot(account)
		if err != nil {
			return err
		}
		if !borrow.IsZero() {
			return ErrNonzeroBorrowBalance
		}
		st := c.store()
		assets, err := st.membership(account)
		if err != nil {
			return err
		}
		idx := slices.Index(assets, market)
		if idx < 0 {
			return nil
		}
		liquidity, err := c.hypotheticalLiquidity(account, market, tokens, zero())
		if err != nil {
			return err
		}
		if !liquidity.Healthy() {
			return fmt.Errorf("%w: shortfall %s", ErrInsufficientLiquidityAfterExit, liquidity.Shortfall.Dec())
		}
		if err := st.putMembership(account, slices.Delete(assets, idx, idx+1)); err != nil {
			return err
		}
		c.tx.Emit(newEvent(EventMarketExited, market).addr("account", account).event)
		return nil
	})
}

// GetAccountLiquidity values account's entered positions at current prices.
func (c *Comptroller) GetAccountLiquidity(account common.Address) (AccountLiquidity, error) {
	return c.hypotheticalLiquidity(account, common.Address{}, zero(), zero())
}

// GetHypotheticalAccountLiquidity values account's positions as if it also
// redeemed redeemTokens and borrowed borrowAmount in market.
func (c *Comptroller) GetHypotheticalAccountLiquidity(account, market common.Address, redeemTokens, borrowAmount *uint256.Int) (AccountLiquidity, error) {
	return c.hypotheticalLiquidity(account, market, clone(redeemTokens), clone(borrowAmount))
}

func (c *Comptroller) hypotheticalLiquidity(account, modify common.Address, redeemTokens, borrowAmount *uint256.Int) (AccountLiquidity, error) {
	st := c.store()
	assets, err := st.membership(account)
	if err != nil {
		return AccountLiquidity{}, err
	}
	sumCollateral, sumBorrowPlusEffects := zero(), zero()
	for _, asset := range assets {
		view, err := c.markets(asset)
		if err != nil {
			return AccountLiquidity{}, err
		}
		tokens, borrow, rate, err := view.AccountSnapshot(account)
		if err != nil {
			return AccountLiquidity{}, err
		}
		risk, err := st.risk(asset)
		if err != nil {
			return AccountLiquidity{}, err
		}
		modified := asset == modify && (!redeemTokens.IsZero() || !borrowAmount.IsZero())
		price := c.price(asset)
		if price == nil {
			if !borrow.IsZero() || modified {
				return AccountLiquidity{}, fmt.Errorf("%w: %s", ErrPriceUnavailable, asset.Hex())
			}
			continue
		}

		// tokensToDenom = collateralFactor * exchangeRate * price
		tokensToDenom, err := mulExp(risk.CollateralFactor, rate)
		if err != nil {
			return AccountLiquidity{}, err
		}
		if tokensToDenom, err = mulExp(tokensToDenom, price); err != nil {
			return AccountLiquidity{}, err
		}
		if sumCollateral, err = mulScalarTruncateAdd(tokensToDenom, tokens, sumCollateral); err != nil {
			return AccountLiquidity{}, err
		}
		if sumBorrowPlusEffects, err = mulScalarTruncateAdd(price, borrow, sumBorrowPlusEffects); err != nil {
			return AccountLiquidity{}, err
		}
		if asset == modify {
			if sumBorrowPlusEffects, err = mulScalarTruncateAdd(tokensToDenom, redeemTokens, sumBorrowPlusEffects); err != nil {
				return AccountLiquidity{}, err
			}
			if sumBorrowPlusEffects, err = mulScalarTruncateAdd(price, borrowAmount, sumBorrowPlusEffects); err != nil {
				return AccountLiquidity{}, err
			}
		}
	}
	if sumCollateral.Gt(sumBorrowPlusEffects) {
		return AccountLiquidity{Liquidity: new(uint256.Int).Sub(sumCollateral, sumBorrowPlusEffects), Shortfall: zero()}, nil
	}
	return AccountLiquidity{Liquidity: zero(), Shortfall: new(uint256.Int).Sub(sumBorrowPlusEffects, sumCollateral)}, nil
}

// AllowMint rejects unlisted or mint-paused markets.
func (c *Comptroller) AllowMint(market, minter common.Address, amount *uint256.Int) error {
	risk, err := c.listedRisk(market)
	if err != nil {
		return err
	}
	return nativecommon.Guard(risk, ActionMint)
}

// AllowRedeem requires the redeemer to stay solvent when the market backs
// their debt.
func (c *Comptroller) AllowRedeem(market, redeemer common.Address, tokens *uint256.Int) error {
	if _, err := c.listedRisk(market); err != nil {
		return err
	}
	return c.requireLiquidity(redeemer, market, tokens, zero())
}

func (c *Comptroller) requireLiquidity(account, market common.Address, redeemTokens, borrowAmount *uint256.Int) error {
	member, err := c.CheckMembership(account, market)
	if err != nil {
		return err
	}
	if !member {
		return nil
	}
	liquidity, err := c.hypotheticalLiquidity(account, market, redeemTokens, borrowAmount)
	if err != nil {
		return err
	}
	if !liquidity.Healthy() {
		return fmt.Errorf("%w: shortfall %s", ErrInsufficientLiquidity, liquidity.Shortfall.Dec())
	}
	return nil
}

// AllowBorrow enters the market on the borrower's behalf, then checks the
// pause flag, price, borrow cap and resulting liquidity.
func (c *Comptroller) AllowBorrow(market, borrower common.Address, amount *uint256.Int) error {
	risk, err := c.listedRisk(market)
	if err != nil {
		return err
	}
	if err := nativecommon.Guard(risk, ActionBorrow); err != nil {
		return err
	}
	if err := c.enterMarket(borrower, market); err != nil {
		return err
	}
	if c.price(market) == nil {
		return fmt.Errorf("%w: %s", ErrPriceUnavailable, market.Hex())
	}
	if !risk.BorrowCap.IsZero() {
		view, err := c.markets(market)
		if err != nil {
			return err
		}
		state, err := view.Snapshot()
		if err != nil {
			return err
		}
		next, err := add(state.TotalBorrows, amount)
		if err != nil {
			return err
		}
		if !next.Lt(risk.BorrowCap) {
			return fmt.Errorf("%w: cap %s", ErrBorrowCapReached, risk.BorrowCap.Dec())
		}
	}
	return c.requireLiquidity(borrower, market, zero(), amount)
}

// AllowRepay only requires the market to be listed.
func (c *Comptroller) AllowRepay(market, payer, borrower common.Address, amount *uint256.Int) error {
	_, err := c.listedRisk(market)
	return err
}

// AllowLiquidate requires a shortfall and a repay within the close factor.
func (c *Comptroller) AllowLiquidate(borrowed, collateral, liquidator, borrower common.Address, repay *uint256.Int) error {
	if _, err := c.listedRisk(borrowed); err != nil {
		return err
	}
	if _, err := c.listedRisk(collateral); err != nil {
		return err
	}
	liquidity, err := c.GetAccountLiquidity(borrower)
	if err != nil {
		return err
	}
	if liquidity.Healthy() {
		return ErrBorrowerHealthy
	}
	view, err := c.markets(borrowed)
	if err != nil {
		return err
	}
	_, owed, _, err := view.AccountSnapshot(borrower)
	if err != nil {
		return err
	}
	params, err := c.store().global()
	if err != nil {
		return err
	}
	maxClose, err := mulScalarTruncate(params.CloseFactor, owed)
	if err != nil {
		return err
	}
	if repay.Gt(maxClose) {
		return fmt.Errorf("%w: max %s", ErrTooMuchRepay, maxClose.Dec())
	}
	return nil
}

// AllowSeize requires both markets listed and seizing unpaused.
func (c *Comptroller) AllowSeize(collateral, borrowed, liquidator, borrower common.Address, tokens *uint256.Int) error {
	params, err := c.store().global()
	if err != nil {
		return err
	}
	if err := nativecommon.Guard(params, ActionSeize); err != nil {
		return err
	}
	if _, err := c.listedRisk(collateral); err != nil {
		return err
	}
	_, err = c.listedRisk(borrowed)
	return err
}

// AllowTransfer applies the redeem rules to the sender.
func (c *Comptroller) AllowTransfer(market, src, dst common.Address, tokens *uint256.Int) error {
	params, err := c.store().global()
	if err != nil {
		return err
	}
	if err := nativecommon.Guard(params, ActionTransfer); err != nil {
		return err
	}
	return c.AllowRedeem(market, src, tokens)
}

// LiquidateCalculateSeizeTokens converts a repay in the borrowed market into
// collateral tokens:
//
//	seize = repay * incentive * priceBorrowed / (priceCollateral * exchangeRate)
func (c *Comptroller) LiquidateCalculateSeizeTokens(borrowed, collateral common.Address, repay *uint256.Int) (*uint256.Int, error) {
	priceBorrowed := c.price(borrowed)
	if priceBorrowed == nil {
		return nil, fmt.Errorf("%w: %s", ErrPriceUnavailable, borrowed.Hex())
	}
	priceCollateral := c.price(collateral)
	if priceCollateral == nil {
		return nil, fmt.Errorf("%w: %s", ErrPriceUnavailable, collateral.Hex())
	}
	view, err := c.markets(collateral)
	if err != nil {
		return nil, err
	}
	rate, err := view.ExchangeRateStored()
	if err != nil {
		return nil, err
	}
	params, err := c.store().global()
	if err != nil {
		return nil, err
	}
	numerator, err := mulExp(params.LiquidationIncentive, priceBorrowed)
	if err != nil {
		return nil, err
	}
	denominator, err := mulExp(priceCollateral, rate)
	if err != nil {
		return nil, err
	}
	if denominator.IsZero() {
		return nil, ErrMathOverflow
	}
	ratio, err := divExp(numerator, denominator)
	if err != nil {
		return nil, err
	}
	return mulScalarTruncate(ratio, repay)
}

// Markets lists every listed market in listing order.
func (c *Comptroller) Markets() ([]common.Address, error) {
	return c.store().marketIndex()
}

// AssetsIn returns the markets account has entered.
func (c *Comptroller) AssetsIn(account common.Address) ([]common.Address, error) {
	return c.store().membership(account)
}

// CheckMembership reports whether account entered market.
func (c *Comptroller) CheckMembership(account, market common.Address) (bool, error) {
	assets, err := c.store().membership(account)
	if err != nil {
		return false, err
	}
	return slices.Contains(assets, market), nil
}

// MarketRisk returns the comptroller parameters of market.
func (c *Comptroller) MarketRisk(market common.Address) (MarketRisk, error) {
	return c.listedRisk(market)
}

// RiskParams returns the global risk parameters.
func (c *Comptroller) RiskParams() (GlobalRiskParams, error) {
	return c.store().global()
}

// Accounts returns every account that ever held a position.
func (c *Comptroller) Accounts() ([]common.Address, error) {
	return c.store().accounts()
}

// AccountPositions returns account's non-empty or entered positions.
func (c *Comptroller) AccountPositions(account common.Address) ([]AccountPosition, error) {
	markets, err := c.Markets()
	if err != nil {
		return nil, err
	}
	assets, err := c.AssetsIn(account)
	if err != nil {
		return nil, err
	}
	var positions []AccountPosition
	for _, market := range markets {
		view, err := c.markets(market)
		if err != nil {
			return nil, err
		}
		tokens, borrow, rate, err := view.AccountSnapshot(account)
		if err != nil {
			return nil, err
		}
		entered := slices.Contains(assets, market)
		if tokens.IsZero() && borrow.IsZero() && !entered {
			continue
		}
		positions = append(positions, AccountPosition{
			Market:       market,
			Tokens:       tokens,
			Borrow:       borrow,
			ExchangeRate: rate,
			Entered:      entered,
		})
	}
	return positions, nil
}
