package lending

import (
	"errors"

	nativecommon "moneymarket/native/common"
)

var (
	ErrMarketNotListed                = errors.New("lending: market not listed")
	ErrMarketAlreadyListed            = errors.New("lending: market already listed")
	ErrMarketCashInsufficient         = errors.New("lending: market cash insufficient")
	ErrInsufficientLiquidity          = errors.New("lending: insufficient liquidity")
	ErrInsufficientLiquidityAfterExit = errors.New("lending: insufficient liquidity after exit")
	ErrBorrowerHealthy                = errors.New("lending: borrower has no shortfall")
	ErrTooMuchRepay                   = errors.New("lending: repay exceeds close factor")
	ErrSeizeTooMuch                   = errors.New("lending: seize exceeds borrower collateral")
	ErrRepayAmountExceedsDebt         = errors.New("lending: repay amount exceeds debt")
	ErrNonzeroBorrowBalance           = errors.New("lending: nonzero borrow balance")
	ErrPriceUnavailable               = errors.New("lending: price unavailable")
	ErrUnauthorized                   = errors.New("lending: caller not authorized")
	ErrLiquidatorIsBorrower           = errors.New("lending: liquidator is borrower")
	ErrMathOverflow                   = errors.New("lending: math overflow")
	ErrInvalidAmount                  = errors.New("lending: invalid amount")
	ErrInsufficientBalance            = errors.New("lending: insufficient token balance")
	ErrBorrowCapReached               = errors.New("lending: borrow cap reached")
	ErrBorrowRateTooHigh              = errors.New("lending: borrow rate too high")
	ErrRateModelMissing               = errors.New("lending: interest rate model not configured")
	ErrInvalidCollateralFactor        = errors.New("lending: collateral factor out of range")
	ErrInvalidCloseFactor             = errors.New("lending: close factor out of range")
	ErrInvalidLiquidationIncentive    = errors.New("lending: liquidation incentive out of range")
	ErrInvalidReserveFactor           = errors.New("lending: reserve factor out of range")
	ErrInvalidSeizeShare              = errors.New("lending: protocol seize share out of range")

	// ErrActionPaused is returned when the guardian paused the requested action.
	ErrActionPaused = nativecommon.ErrModulePaused
)
