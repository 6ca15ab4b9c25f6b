package flashloan

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"moneymarket/native/lending"
	"moneymarket/native/swap"
)

// ErrUnprofitable indicates the liquidation proceeds did not cover the loan,
// its fee and the requested minimum profit.
var ErrUnprofitable = errors.New("flashloan: liquidation unprofitable")

const EventFlashLiquidation = "flashloan.liquidation"

// Params describe one flash liquidation.
type Params struct {
	Liquidator       common.Address
	Borrower         common.Address
	RepayMarket      common.Address
	CollateralMarket common.Address
	RepayAmount      *uint256.Int
	// MinProfit is in units of the repay asset.
	MinProfit *uint256.Int
	// MinSwapOut bounds slippage on the collateral swap. Nil accepts any output.
	MinSwapOut *uint256.Int
}

// Result reports what a successful flash liquidation did.
type Result struct {
	Repaid       *uint256.Int
	SeizedTokens *uint256.Int
	Redeemed     *uint256.Int
	Proceeds     *uint256.Int
	Fee          *uint256.Int
	Profit       *uint256.Int
}

// Liquidator runs the flash-funded liquidation sequence inside one ledger
// transaction: borrow, liquidate, redeem, swap, repay.
type Liquidator struct {
	Lender *Lender
}

// NewLiquidator binds the sequence to lender.
func NewLiquidator(lender *Lender) *Liquidator {
	return &Liquidator{Lender: lender}
}

// Execute performs the liquidation. On any failure no state changes and the
// error wraps ErrFlashLoanUnwound and the cause.
func (l *Liquidator) Execute(tx *lending.Tx, p Params) (*Result, error) {
	if l == nil || l.Lender == nil {
		return nil, fmt.Errorf("flashloan: lender not configured")
	}
	repayMarket, err := tx.Market(p.RepayMarket)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFlashLoanUnwound, err)
	}
	collateralMarket, err := tx.Market(p.CollateralMarket)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFlashLoanUnwound, err)
	}
	repayAsset := repayMarket.Underlying()
	collateralAsset := collateralMarket.Underlying()
	minProfit := p.MinProfit
	if minProfit == nil {
		minProfit = new(uint256.Int)
	}

	result := &Result{}
	fee, err := l.Lender.FlashLoan(tx, p.Liquidator, repayAsset, p.RepayAmount, func(amount, fee *uint256.Int) error {
		repaid, seized, err := repayMarket.LiquidateBorrow(p.Liquidator, p.Borrower, amount, p.CollateralMarket)
		if err != nil {
			return err
		}
		result.Repaid, result.SeizedTokens = repaid, seized

		redeemed := new(uint256.Int)
		if !seized.IsZero() {
			if redeemed, err = collateralMarket.Redeem(p.Liquidator, seized); err != nil {
				return err
			}
		}
		result.Redeemed = redeemed

		proceeds := redeemed
		if collateralAsset != repayAsset && !redeemed.IsZero() {
			proceeds, err = swap.New(tx.DB()).SwapExactIn(p.Liquidator, collateralAsset, repayAsset, redeemed, p.MinSwapOut)
			if err != nil {
				return err
			}
		}
		result.Proceeds = proceeds

		owed := new(uint256.Int).Add(amount, fee)
		required := new(uint256.Int).Add(owed, minProfit)
		if proceeds.Lt(required) {
			return fmt.Errorf("%w: proceeds %s, need %s", ErrUnprofitable, proceeds.Dec(), required.Dec())
		}
		result.Profit = new(uint256.Int).Sub(proceeds, owed)
		return nil
	})
	if err != nil {
		return nil, err
	}
	result.Fee = fee
	tx.Emit(lending.Event{Type: EventFlashLiquidation, Attributes: map[string]string{
		"liquidator":  p.Liquidator.Hex(),
		"borrower":    p.Borrower.Hex(),
		"repayMarket": p.RepayMarket.Hex(),
		"collateral":  p.CollateralMarket.Hex(),
		"repaid":      result.Repaid.Dec(),
		"seizeTokens": result.SeizedTokens.Dec(),
		"profit":      result.Profit.Dec(),
	}})
	return result, nil
}
