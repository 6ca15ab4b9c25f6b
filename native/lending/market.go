package lending

import (
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"moneymarket/observability"
)

// Token is the fungible-token surface a market needs from its underlying
// asset. A failed transfer aborts the whole market call.
type Token interface {
	BalanceOf(account common.Address) (*uint256.Int, error)
	Transfer(from, to common.Address, amount *uint256.Int) error
}

// RiskEngine is the capability a market consults before committing balance
// changes.
type RiskEngine interface {
	AllowMint(market, minter common.Address, amount *uint256.Int) error
	AllowRedeem(market, redeemer common.Address, tokens *uint256.Int) error
	AllowBorrow(market, borrower common.Address, amount *uint256.Int) error
	AllowRepay(market, payer, borrower common.Address, amount *uint256.Int) error
	AllowLiquidate(borrowed, collateral, liquidator, borrower common.Address, repay *uint256.Int) error
	AllowSeize(collateral, borrowed, liquidator, borrower common.Address, tokens *uint256.Int) error
	AllowTransfer(market, src, dst common.Address, tokens *uint256.Int) error
	LiquidateCalculateSeizeTokens(borrowed, collateral common.Address, repay *uint256.Int) (*uint256.Int, error)
	ProtocolSeizeShare() (*uint256.Int, error)
	Admin() (common.Address, error)
}

// Market is the handle of one listed market inside a transaction.
type Market struct {
	tx         *Tx
	addr       common.Address
	underlying common.Address
	risk       RiskEngine
}

// Address returns the market identifier.
func (m *Market) Address() common.Address { return m.addr }

// Underlying returns the underlying asset identifier.
func (m *Market) Underlying() common.Address { return m.underlying }

func (m *Market) token() Token { return m.tx.Bank().Token(m.underlying) }

// run executes fn atomically and records the outcome.
func (m *Market) run(op string, fn func() error) error {
	start := time.Now()
	err := m.tx.Atomic(fn)
	observability.Lending().ObserveOp(op, err, time.Since(start))
	return err
}

func (m *Market) state() (*MarketState, error) {
	state, ok, err := m.tx.store().market(m.addr)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrMarketNotListed, m.addr.Hex())
	}
	return state, nil
}

func (m *Market) save(state *MarketState) error {
	return m.tx.store().putMarket(state)
}

func (m *Market) cash() (*uint256.Int, error) {
	return m.token().BalanceOf(m.addr)
}

// accrue returns state advanced to block. It is pure: nothing is written.
func accrue(state *MarketState, model InterestRateModel, cash *uint256.Int, block uint64) (*MarketState, *uint256.Int, error) {
	next := state.Clone()
	if block <= state.AccrualBlock {
		return next, zero(), nil
	}
	if model == nil {
		return nil, nil, fmt.Errorf("%w: %s", ErrRateModelMissing, state.Address.Hex())
	}
	rate, err := model.BorrowRate(cash, state.TotalBorrows, state.TotalReserves)
	if err != nil {
		return nil, nil, fmt.Errorf("lending: borrow rate: %w", err)
	}
	if rate.Gt(MaxBorrowRatePerBlock) {
		return nil, nil, ErrBorrowRateTooHigh
	}
	simpleInterestFactor, err := mul(rate, uint256.NewInt(block-state.AccrualBlock))
	if err != nil {
		return nil, nil, err
	}
	interest, err := mulScalarTruncate(simpleInterestFactor, state.TotalBorrows)
	if err != nil {
		return nil, nil, err
	}
	if next.TotalBorrows, err = add(interest, state.TotalBorrows); err != nil {
		return nil, nil, err
	}
	if next.TotalReserves, err = mulScalarTruncateAdd(state.ReserveFactor, interest, state.TotalReserves); err != nil {
		return nil, nil, err
	}
	if next.BorrowIndex, err = mulScalarTruncateAdd(simpleInterestFactor, state.BorrowIndex, state.BorrowIndex); err != nil {
		return nil, nil, err
	}
	next.AccrualBlock = block
	return next, interest, nil
}

// exchangeRate is (cash + borrows - reserves) / supply, or the initial rate
// while nothing is supplied.
func exchangeRate(state *MarketState, cash *uint256.Int) (*uint256.Int, error) {
	if state.TotalSupply.IsZero() {
		return clone(state.InitialExchangeRate), nil
	}
	total, err := add(cash, state.TotalBorrows)
	if err != nil {
		return nil, err
	}
	total, err = sub(total, state.TotalReserves)
	if err != nil {
		return nil, err
	}
	return mulDiv(total, expScale, state.TotalSupply)
}

// borrowBalance projects a snapshot onto the market's current index.
func borrowBalance(state *MarketState, snapshot BorrowSnapshot) (*uint256.Int, error) {
	if snapshot.Principal == nil || snapshot.Principal.IsZero() {
		return zero(), nil
	}
	return mulDiv(snapshot.Principal, state.BorrowIndex, snapshot.InterestIndex)
}

// accrueInterest persists accrual up to the transaction's block.
func (m *Market) accrueInterest() (*MarketState, error) {
	state, err := m.state()
	if err != nil {
		return nil, err
	}
	if state.AccrualBlock >= m.tx.block {
		return state, nil
	}
	cash, err := m.cash()
	if err != nil {
		return nil, err
	}
	next, interest, err := accrue(state, m.tx.model(m.addr), cash, m.tx.block)
	if err != nil {
		return nil, err
	}
	if err := m.save(next); err != nil {
		return nil, err
	}
	if !interest.IsZero() {
		m.tx.Emit(newEvent(EventAccrueInterest, m.addr).
			amount("interest", interest).
			amount("borrowIndex", next.BorrowIndex).
			amount("totalBorrows", next.TotalBorrows).event)
	}
	return next, nil
}

// projected returns the market state accrued to the transaction's block
// without persisting it.
func (m *Market) projected() (*MarketState, *uint256.Int, error) {
	state, err := m.state()
	if err != nil {
		return nil, nil, err
	}
	cash, err := m.cash()
	if err != nil {
		return nil, nil, err
	}
	next, _, err := accrue(state, m.tx.model(m.addr), cash, m.tx.block)
	if err != nil {
		return nil, nil, err
	}
	return next, cash, nil
}

// AccrueInterest brings the market up to the current block. Calling it again
// in the same block is a no-op.
func (m *Market) AccrueInterest() error {
	return m.run("accrue_interest", func() error {
		_, err := m.accrueInterest()
		return err
	})
}

// Mint supplies amount of underlying from minter and credits receipt tokens
// at the current exchange rate. It returns the minted token amount.
func (m *Market) Mint(minter common.Address, amount *uint256.Int) (*uint256.Int, error) {
	var minted *uint256.Int
	err := m.run("mint", func() error {
		if amount == nil || amount.IsZero() {
			return ErrInvalidAmount
		}
		state, err := m.accrueInterest()
		if err != nil {
			return err
		}
		if err := m.risk.AllowMint(m.addr, minter, amount); err != nil {
			return err
		}
		cash, err := m.cash()
		if err != nil {
			return err
		}
		rate, err := exchangeRate(state, cash)
		if err != nil {
			return err
		}
		tokens, err := divScalarByExpTruncate(amount, rate)
		if err != nil {
			return err
		}
		if err := m.token().Transfer(minter, m.addr, amount); err != nil {
			return fmt.Errorf("lending: transfer in: %w", err)
		}
		if state.TotalSupply, err = add(state.TotalSupply, tokens); err != nil {
			return err
		}
		st := m.tx.store()
		balance, err := st.tokens(m.addr, minter)
		if err != nil {
			return err
		}
		if balance, err = add(balance, tokens); err != nil {
			return err
		}
		if err := st.putTokens(m.addr, minter, balance); err != nil {
			return err
		}
		if err := m.save(state); err != nil {
			return err
		}
		if err := st.trackAccount(minter); err != nil {
			return err
		}
		m.tx.Emit(newEvent(EventMint, m.addr).addr("minter", minter).
			amount("amount", amount).amount("tokens", tokens).event)
		minted = tokens
		return nil
	})
	return minted, err
}

// Redeem burns tokens receipt tokens and returns the underlying amount paid out.
func (m *Market) Redeem(redeemer common.Address, tokens *uint256.Int) (*uint256.Int, error) {
	var paid *uint256.Int
	err := m.run("redeem", func() error {
		if tokens == nil || tokens.IsZero() {
			return ErrInvalidAmount
		}
		_, amount, err := m.redeemFresh(redeemer, tokens, nil)
		paid = amount
		return err
	})
	return paid, err
}

// RedeemUnderlying pays out amount of underlying and returns the receipt
// tokens burned. The burned amount is rounded up.
func (m *Market) RedeemUnderlying(redeemer common.Address, amount *uint256.Int) (*uint256.Int, error) {
	var burned *uint256.Int
	err := m.run("redeem_underlying", func() error {
		if amount == nil || amount.IsZero() {
			return ErrInvalidAmount
		}
		tokens, _, err := m.redeemFresh(redeemer, nil, amount)
		burned = tokens
		return err
	})
	return burned, err
}

func (m *Market) redeemFresh(redeemer common.Address, tokensIn, amountIn *uint256.Int) (*uint256.Int, *uint256.Int, error) {
	state, err := m.accrueInterest()
	if err != nil {
		return nil, nil, err
	}
	cash, err := m.cash()
	if err != nil {
		return nil, nil, err
	}
	rate, err := exchangeRate(state, cash)
	if err != nil {
		return nil, nil, err
	}
	var tokens, amount *uint256.Int
	if tokensIn != nil {
		tokens = clone(tokensIn)
		if amount, err = mulScalarTruncate(rate, tokens); err != nil {
			return nil, nil, err
		}
	} else {
		amount = clone(amountIn)
		if tokens, err = mulDivUp(amount, expScale, rate); err != nil {
			return nil, nil, err
		}
	}

	st := m.tx.store()
	balance, err := st.tokens(m.addr, redeemer)
	if err != nil {
		return nil, nil, err
	}
	if balance.Lt(tokens) {
		return nil, nil, fmt.Errorf("%w: holds %s, redeeming %s", ErrInsufficientBalance, balance.Dec(), tokens.Dec())
	}
	if err := m.risk.AllowRedeem(m.addr, redeemer, tokens); err != nil {
		return nil, nil, err
	}
	if cash.Lt(amount) {
		return nil, nil, fmt.Errorf("%w: %w", ErrInsufficientLiquidity, ErrMarketCashInsufficient)
	}
	if state.TotalSupply, err = sub(state.TotalSupply, tokens); err != nil {
		return nil, nil, err
	}
	if err := st.putTokens(m.addr, redeemer, new(uint256.Int).Sub(balance, tokens)); err != nil {
		return nil, nil, err
	}
	if err := m.save(state); err != nil {
		return nil, nil, err
	}
	if err := m.token().Transfer(m.addr, redeemer, amount); err != nil {
		return nil, nil, fmt.Errorf("lending: transfer out: %w", err)
	}
	m.tx.Emit(newEvent(EventRedeem, m.addr).addr("redeemer", redeemer).
		amount("amount", amount).amount("tokens", tokens).event)
	return tokens, amount, nil
}

// Borrow lends amount of underlying to borrower against their entered
// collateral.
func (m *Market) Borrow(borrower common.Address, amount *uint256.Int) error {
	return m.run("borrow", func() error {
		if amount == nil || amount.IsZero() {
			return ErrInvalidAmount
		}
		state, err := m.accrueInterest()
		if err != nil {
			return err
		}
		cash, err := m.cash()
		if err != nil {
			return err
		}
		if cash.Lt(amount) {
			return fmt.Errorf("%w: cash %s, requested %s", ErrMarketCashInsufficient, cash.Dec(), amount.Dec())
		}
		if err := m.risk.AllowBorrow(m.addr, borrower, amount); err != nil {
			return err
		}
		st := m.tx.store()
		snapshot, err := st.borrow(m.addr, borrower)
		if err != nil {
			return err
		}
		owed, err := borrowBalance(state, snapshot)
		if err != nil {
			return err
		}
		if owed, err = add(owed, amount); err != nil {
			return err
		}
		if state.TotalBorrows, err = add(state.TotalBorrows, amount); err != nil {
			return err
		}
		if err := st.putBorrow(m.addr, borrower, BorrowSnapshot{Principal: owed, InterestIndex: clone(state.BorrowIndex)}); err != nil {
			return err
		}
		if err := m.save(state); err != nil {
			return err
		}
		if err := m.token().Transfer(m.addr, borrower, amount); err != nil {
			return fmt.Errorf("lending: transfer out: %w", err)
		}
		if err := st.trackAccount(borrower); err != nil {
			return err
		}
		m.tx.Emit(newEvent(EventBorrow, m.addr).addr("borrower", borrower).
			amount("amount", amount).amount("accountBorrows", owed).
			amount("totalBorrows", state.TotalBorrows).event)
		return nil
	})
}

// RepayBorrow repays the caller's own debt. MaxAmount repays all of it.
func (m *Market) RepayBorrow(payer common.Address, amount *uint256.Int) (*uint256.Int, error) {
	return m.RepayBorrowBehalf(payer, payer, amount)
}

// RepayBorrowBehalf repays borrower's debt with payer's funds and returns the
// amount actually repaid.
func (m *Market) RepayBorrowBehalf(payer, borrower common.Address, amount *uint256.Int) (*uint256.Int, error) {
	var repaid *uint256.Int
	err := m.run("repay_borrow", func() error {
		var err error
		repaid, err = m.repayBorrowFresh(payer, borrower, amount)
		return err
	})
	return repaid, err
}

func (m *Market) repayBorrowFresh(payer, borrower common.Address, amount *uint256.Int) (*uint256.Int, error) {
	if amount == nil || amount.IsZero() {
		return nil, ErrInvalidAmount
	}
	state, err := m.accrueInterest()
	if err != nil {
		return nil, err
	}
	if err := m.risk.AllowRepay(m.addr, payer, borrower, amount); err != nil {
		return nil, err
	}
	st := m.tx.store()
	snapshot, err := st.borrow(m.addr, borrower)
	if err != nil {
		return nil, err
	}
	owed, err := borrowBalance(state, snapshot)
	if err != nil {
		return nil, err
	}
	repay := clone(amount)
	if IsMaxAmount(amount) {
		repay = clone(owed)
	}
	if repay.Gt(owed) {
		return nil, fmt.Errorf("%w: owed %s, repaying %s", ErrRepayAmountExceedsDebt, owed.Dec(), repay.Dec())
	}
	if err := m.token().Transfer(payer, m.addr, repay); err != nil {
		return nil, fmt.Errorf("lending: transfer in: %w", err)
	}
	remaining := new(uint256.Int).Sub(owed, repay)
	// Individual balances round down, so their sum never exceeds the total.
	state.TotalBorrows = subFloor(state.TotalBorrows, repay)
	if err := st.putBorrow(m.addr, borrower, BorrowSnapshot{Principal: remaining, InterestIndex: clone(state.BorrowIndex)}); err != nil {
		return nil, err
	}
	if err := m.save(state); err != nil {
		return nil, err
	}
	m.tx.Emit(newEvent(EventRepayBorrow, m.addr).addr("payer", payer).addr("borrower", borrower).
		amount("amount", repay).amount("accountBorrows", remaining).
		amount("totalBorrows", state.TotalBorrows).event)
	return repay, nil
}

// LiquidateBorrow repays part of an underwater borrower's debt in this market
// on their behalf and seizes their receipt tokens in collateralMarket. The
// repay and the seize commit together or not at all.
func (m *Market) LiquidateBorrow(liquidator, borrower common.Address, repay *uint256.Int, collateralMarket common.Address) (repaid, seized *uint256.Int, err error) {
	err = m.run("liquidate_borrow", func() error {
		if borrower == liquidator {
			return ErrLiquidatorIsBorrower
		}
		if repay == nil || repay.IsZero() || IsMaxAmount(repay) {
			return ErrInvalidAmount
		}
		if _, err := m.accrueInterest(); err != nil {
			return err
		}
		collateral := m
		if collateralMarket != m.addr {
			other, err := m.tx.Market(collateralMarket)
			if err != nil {
				return err
			}
			collateral = other
		}
		if _, err := collateral.accrueInterest(); err != nil {
			return err
		}
		if err := m.risk.AllowLiquidate(m.addr, collateralMarket, liquidator, borrower, repay); err != nil {
			return err
		}
		actual, err := m.repayBorrowFresh(liquidator, borrower, repay)
		if err != nil {
			return err
		}
		seizeTokens, err := m.risk.LiquidateCalculateSeizeTokens(m.addr, collateralMarket, actual)
		if err != nil {
			return err
		}
		held, err := m.tx.store().tokens(collateralMarket, borrower)
		if err != nil {
			return err
		}
		if held.Lt(seizeTokens) {
			return fmt.Errorf("%w: holds %s, seizing %s", ErrSeizeTooMuch, held.Dec(), seizeTokens.Dec())
		}
		if err := collateral.seize(m.addr, liquidator, borrower, seizeTokens); err != nil {
			return err
		}
		m.tx.Emit(newEvent(EventLiquidateBorrow, m.addr).addr("liquidator", liquidator).
			addr("borrower", borrower).addr("collateral", collateralMarket).
			amount("repay", actual).amount("seizeTokens", seizeTokens).event)
		repaid, seized = actual, seizeTokens
		return nil
	})
	return repaid, seized, err
}

// seize moves tokens of borrower's receipt tokens in this market to the
// liquidator, keeping the protocol share as reserves. It has no entry point
// of its own: LiquidateBorrow on seizerMarket calls it after the shortfall
// check and the repay, inside the same atomic unit.
func (m *Market) seize(seizerMarket, liquidator, borrower common.Address, tokens *uint256.Int) error {
	if err := m.risk.AllowSeize(m.addr, seizerMarket, liquidator, borrower, tokens); err != nil {
		return err
	}
	if borrower == liquidator {
		return ErrLiquidatorIsBorrower
	}
	state, err := m.state()
	if err != nil {
		return err
	}
	share, err := m.risk.ProtocolSeizeShare()
	if err != nil {
		return err
	}
	protocolTokens, err := mulScalarTruncate(share, tokens)
	if err != nil {
		return err
	}
	liquidatorTokens := new(uint256.Int).Sub(tokens, protocolTokens)
	cash, err := m.cash()
	if err != nil {
		return err
	}
	rate, err := exchangeRate(state, cash)
	if err != nil {
		return err
	}
	protocolAmount, err := mulScalarTruncate(rate, protocolTokens)
	if err != nil {
		return err
	}

	st := m.tx.store()
	borrowerTokens, err := st.tokens(m.addr, borrower)
	if err != nil {
		return err
	}
	if borrowerTokens.Lt(tokens) {
		return fmt.Errorf("%w: holds %s, seizing %s", ErrSeizeTooMuch, borrowerTokens.Dec(), tokens.Dec())
	}
	liquidatorBalance, err := st.tokens(m.addr, liquidator)
	if err != nil {
		return err
	}
	if liquidatorBalance, err = add(liquidatorBalance, liquidatorTokens); err != nil {
		return err
	}
	if state.TotalReserves, err = add(state.TotalReserves, protocolAmount); err != nil {
		return err
	}
	if state.TotalSupply, err = sub(state.TotalSupply, protocolTokens); err != nil {
		return err
	}
	if err := st.putTokens(m.addr, borrower, new(uint256.Int).Sub(borrowerTokens, tokens)); err != nil {
		return err
	}
	if err := st.putTokens(m.addr, liquidator, liquidatorBalance); err != nil {
		return err
	}
	if err := m.save(state); err != nil {
		return err
	}
	if err := st.trackAccount(liquidator); err != nil {
		return err
	}
	m.tx.Emit(newEvent(EventSeize, m.addr).addr("liquidator", liquidator).addr("borrower", borrower).
		amount("tokens", tokens).amount("liquidatorTokens", liquidatorTokens).
		amount("protocolTokens", protocolTokens).event)
	return nil
}

// Transfer moves receipt tokens between accounts. The sender must stay
// solvent without them.
func (m *Market) Transfer(src, dst common.Address, tokens *uint256.Int) error {
	return m.run("transfer", func() error {
		if tokens == nil || tokens.IsZero() || src == dst {
			return ErrInvalidAmount
		}
		if _, err := m.accrueInterest(); err != nil {
			return err
		}
		st := m.tx.store()
		srcBalance, err := st.tokens(m.addr, src)
		if err != nil {
			return err
		}
		if srcBalance.Lt(tokens) {
			return fmt.Errorf("%w: holds %s, sending %s", ErrInsufficientBalance, srcBalance.Dec(), tokens.Dec())
		}
		if err := m.risk.AllowTransfer(m.addr, src, dst, tokens); err != nil {
			return err
		}
		dstBalance, err := st.tokens(m.addr, dst)
		if err != nil {
			return err
		}
		if dstBalance, err = add(dstBalance, tokens); err != nil {
			return err
		}
		if err := st.putTokens(m.addr, src, new(uint256.Int).Sub(srcBalance, tokens)); err != nil {
			return err
		}
		if err := st.putTokens(m.addr, dst, dstBalance); err != nil {
			return err
		}
		if err := st.trackAccount(dst); err != nil {
			return err
		}
		m.tx.Emit(newEvent(EventTransfer, m.addr).addr("from", src).addr("to", dst).amount("tokens", tokens).event)
		return nil
	})
}

func (m *Market) requireAdmin(caller common.Address) error {
	admin, err := m.risk.Admin()
	if err != nil {
		return err
	}
	if caller != admin || admin == (common.Address{}) {
		return ErrUnauthorized
	}
	return nil
}

// SetReserveFactor updates the share of future interest kept as reserves.
func (m *Market) SetReserveFactor(caller common.Address, factor *uint256.Int) error {
	return m.run("set_reserve_factor", func() error {
		if err := m.requireAdmin(caller); err != nil {
			return err
		}
		if err := validateReserveFactor(factor); err != nil {
			return err
		}
		state, err := m.accrueInterest()
		if err != nil {
			return err
		}
		state.ReserveFactor = clone(factor)
		if err := m.save(state); err != nil {
			return err
		}
		m.tx.Emit(newEvent(EventRiskParamsUpdated, m.addr).amount("reserveFactor", factor).event)
		return nil
	})
}

// AddReserves moves amount of underlying from the caller into reserves.
func (m *Market) AddReserves(from common.Address, amount *uint256.Int) error {
	return m.run("add_reserves", func() error {
		if amount == nil || amount.IsZero() {
			return ErrInvalidAmount
		}
		state, err := m.accrueInterest()
		if err != nil {
			return err
		}
		if err := m.token().Transfer(from, m.addr, amount); err != nil {
			return fmt.Errorf("lending: transfer in: %w", err)
		}
		if state.TotalReserves, err = add(state.TotalReserves, amount); err != nil {
			return err
		}
		if err := m.save(state); err != nil {
			return err
		}
		m.tx.Emit(newEvent(EventReservesAdded, m.addr).addr("benefactor", from).
			amount("amount", amount).amount("totalReserves", state.TotalReserves).event)
		return nil
	})
}

// ReduceReserves withdraws amount of reserves to the admin-chosen recipient.
func (m *Market) ReduceReserves(caller common.Address, amount *uint256.Int, to common.Address) error {
	return m.run("reduce_reserves", func() error {
		if err := m.requireAdmin(caller); err != nil {
			return err
		}
		if amount == nil || amount.IsZero() {
			return ErrInvalidAmount
		}
		state, err := m.accrueInterest()
		if err != nil {
			return err
		}
		cash, err := m.cash()
		if err != nil {
			return err
		}
		if cash.Lt(amount) {
			return ErrMarketCashInsufficient
		}
		if state.TotalReserves.Lt(amount) {
			return fmt.Errorf("%w: reserves %s", ErrInvalidAmount, state.TotalReserves.Dec())
		}
		state.TotalReserves = new(uint256.Int).Sub(state.TotalReserves, amount)
		if err := m.save(state); err != nil {
			return err
		}
		if err := m.token().Transfer(m.addr, to, amount); err != nil {
			return fmt.Errorf("lending: transfer out: %w", err)
		}
		m.tx.Emit(newEvent(EventReservesReduced, m.addr).addr("to", to).
			amount("amount", amount).amount("totalReserves", state.TotalReserves).event)
		return nil
	})
}

// Snapshot returns the stored market state.
func (m *Market) Snapshot() (*MarketState, error) { return m.state() }

// Cash returns the underlying held by the market.
func (m *Market) Cash() (*uint256.Int, error) { return m.cash() }

// ExchangeRateStored computes the exchange rate from stored state.
func (m *Market) ExchangeRateStored() (*uint256.Int, error) {
	state, err := m.state()
	if err != nil {
		return nil, err
	}
	cash, err := m.cash()
	if err != nil {
		return nil, err
	}
	return exchangeRate(state, cash)
}

// ExchangeRateCurrent accrues interest and returns the exchange rate.
func (m *Market) ExchangeRateCurrent() (*uint256.Int, error) {
	var rate *uint256.Int
	err := m.tx.Atomic(func() error {
		if _, err := m.accrueInterest(); err != nil {
			return err
		}
		var err error
		rate, err = m.ExchangeRateStored()
		return err
	})
	return rate, err
}

// BalanceOf returns account's receipt token balance.
func (m *Market) BalanceOf(account common.Address) (*uint256.Int, error) {
	return m.tx.store().tokens(m.addr, account)
}

// BalanceOfUnderlying accrues interest and values account's tokens in underlying.
func (m *Market) BalanceOfUnderlying(account common.Address) (*uint256.Int, error) {
	rate, err := m.ExchangeRateCurrent()
	if err != nil {
		return nil, err
	}
	tokens, err := m.BalanceOf(account)
	if err != nil {
		return nil, err
	}
	return mulScalarTruncate(rate, tokens)
}

// BorrowBalanceStored projects account's debt onto the stored borrow index.
func (m *Market) BorrowBalanceStored(account common.Address) (*uint256.Int, error) {
	state, err := m.state()
	if err != nil {
		return nil, err
	}
	snapshot, err := m.tx.store().borrow(m.addr, account)
	if err != nil {
		return nil, err
	}
	return borrowBalance(state, snapshot)
}

// BorrowBalanceCurrent accrues interest and returns account's debt.
func (m *Market) BorrowBalanceCurrent(account common.Address) (*uint256.Int, error) {
	var owed *uint256.Int
	err := m.tx.Atomic(func() error {
		if _, err := m.accrueInterest(); err != nil {
			return err
		}
		var err error
		owed, err = m.BorrowBalanceStored(account)
		return err
	})
	return owed, err
}

// TotalBorrowsCurrent accrues interest and returns total borrows.
func (m *Market) TotalBorrowsCurrent() (*uint256.Int, error) {
	var total *uint256.Int
	err := m.tx.Atomic(func() error {
		state, err := m.accrueInterest()
		if err != nil {
			return err
		}
		total = clone(state.TotalBorrows)
		return nil
	})
	return total, err
}

// BorrowRatePerBlock returns the model's borrow rate for stored balances.
func (m *Market) BorrowRatePerBlock() (*uint256.Int, error) {
	borrow, _, err := m.rates()
	return borrow, err
}

// SupplyRatePerBlock returns the model's supply rate for stored balances.
func (m *Market) SupplyRatePerBlock() (*uint256.Int, error) {
	_, supply, err := m.rates()
	return supply, err
}

func (m *Market) rates() (*uint256.Int, *uint256.Int, error) {
	state, err := m.state()
	if err != nil {
		return nil, nil, err
	}
	cash, err := m.cash()
	if err != nil {
		return nil, nil, err
	}
	return Rates(m.tx.model(m.addr), cash, state.TotalBorrows, state.TotalReserves, state.ReserveFactor)
}

// AccountSnapshot returns account's token balance, debt and the exchange rate,
// all projected to the transaction's block without writing anything.
func (m *Market) AccountSnapshot(account common.Address) (tokens, borrow, rate *uint256.Int, err error) {
	state, cash, err := m.projected()
	if err != nil {
		return nil, nil, nil, err
	}
	st := m.tx.store()
	if tokens, err = st.tokens(m.addr, account); err != nil {
		return nil, nil, nil, err
	}
	snapshot, err := st.borrow(m.addr, account)
	if err != nil {
		return nil, nil, nil, err
	}
	if borrow, err = borrowBalance(state, snapshot); err != nil {
		return nil, nil, nil, err
	}
	if rate, err = exchangeRate(state, cash); err != nil {
		return nil, nil, nil, err
	}
	return tokens, borrow, rate, nil
}

// ProjectedState returns the market state accrued to the transaction's block
// without writing it.
func (m *Market) ProjectedState() (*MarketState, error) {
	state, _, err := m.projected()
	return state, err
}
