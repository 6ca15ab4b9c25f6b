package api

import (
	"errors"
	"fmt"
	"net/http"

	"moneymarket/native/bank"
	"moneymarket/native/flashloan"
	"moneymarket/native/lending"
	"moneymarket/native/swap"
)

var (
	// ErrNotFound indicates an unknown market, account or asset identifier.
	ErrNotFound = errors.New("lending: not found")
	// ErrInvalidRequest indicates a malformed request body or parameter.
	ErrInvalidRequest = errors.New("lending: invalid request")
	// ErrInternal is returned for failures without a stable code.
	ErrInternal = errors.New("lending: internal error")
	// ErrUnauthenticated indicates a missing or invalid bearer token.
	ErrUnauthenticated = errors.New("lending: unauthenticated")
	// ErrRateLimited indicates the caller exceeded its request budget.
	ErrRateLimited = errors.New("lending: rate limited")
)

// Error is the JSON body of every non-2xx response. Cause carries the code of
// the underlying failure when Code is flash_loan_unwound.
type Error struct {
	Code    string `json:"code"`
	Cause   string `json:"cause,omitempty"`
	Message string `json:"message"`
}

func (e *Error) Error() string {
	if e.Cause != "" {
		return fmt.Sprintf("%s (%s): %s", e.Code, e.Cause, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

type codeEntry struct {
	code   string
	status int
	err    error
}

// Order matters: an error wrapping several sentinels takes the first match.
var codes = []codeEntry{
	{"not_found", http.StatusNotFound, ErrNotFound},
	{"invalid_request", http.StatusBadRequest, ErrInvalidRequest},
	{"unauthenticated", http.StatusUnauthorized, ErrUnauthenticated},
	{"rate_limited", http.StatusTooManyRequests, ErrRateLimited},
	{"market_not_listed", http.StatusNotFound, lending.ErrMarketNotListed},
	{"market_already_listed", http.StatusConflict, lending.ErrMarketAlreadyListed},
	{"market_cash_insufficient", http.StatusConflict, lending.ErrMarketCashInsufficient},
	{"insufficient_liquidity_after_exit", http.StatusUnprocessableEntity, lending.ErrInsufficientLiquidityAfterExit},
	{"insufficient_liquidity", http.StatusUnprocessableEntity, lending.ErrInsufficientLiquidity},
	{"borrower_healthy", http.StatusConflict, lending.ErrBorrowerHealthy},
	{"too_much_repay", http.StatusUnprocessableEntity, lending.ErrTooMuchRepay},
	{"seize_too_much", http.StatusUnprocessableEntity, lending.ErrSeizeTooMuch},
	{"liquidator_is_borrower", http.StatusUnprocessableEntity, lending.ErrLiquidatorIsBorrower},
	{"repay_exceeds_debt", http.StatusUnprocessableEntity, lending.ErrRepayAmountExceedsDebt},
	{"nonzero_borrow_balance", http.StatusConflict, lending.ErrNonzeroBorrowBalance},
	{"price_unavailable", http.StatusServiceUnavailable, lending.ErrPriceUnavailable},
	{"unauthorized", http.StatusForbidden, lending.ErrUnauthorized},
	{"action_paused", http.StatusServiceUnavailable, lending.ErrActionPaused},
	{"math_overflow", http.StatusUnprocessableEntity, lending.ErrMathOverflow},
	{"invalid_amount", http.StatusBadRequest, lending.ErrInvalidAmount},
	{"insufficient_balance", http.StatusUnprocessableEntity, lending.ErrInsufficientBalance},
	{"borrow_cap_reached", http.StatusUnprocessableEntity, lending.ErrBorrowCapReached},
	{"borrow_rate_too_high", http.StatusUnprocessableEntity, lending.ErrBorrowRateTooHigh},
	{"rate_model_missing", http.StatusConflict, lending.ErrRateModelMissing},
	{"invalid_collateral_factor", http.StatusBadRequest, lending.ErrInvalidCollateralFactor},
	{"invalid_close_factor", http.StatusBadRequest, lending.ErrInvalidCloseFactor},
	{"invalid_liquidation_incentive", http.StatusBadRequest, lending.ErrInvalidLiquidationIncentive},
	{"invalid_reserve_factor", http.StatusBadRequest, lending.ErrInvalidReserveFactor},
	{"invalid_seize_share", http.StatusBadRequest, lending.ErrInvalidSeizeShare},
	{"insufficient_funds", http.StatusUnprocessableEntity, bank.ErrInsufficientFunds},
	{"flash_liquidity_insufficient", http.StatusUnprocessableEntity, flashloan.ErrInsufficientLiquidity},
	{"flash_loan_not_repaid", http.StatusUnprocessableEntity, flashloan.ErrNotRepaid},
	{"liquidation_unprofitable", http.StatusUnprocessableEntity, flashloan.ErrUnprofitable},
	{"flash_invalid_amount", http.StatusBadRequest, flashloan.ErrInvalidAmount},
	{"pool_not_found", http.StatusNotFound, swap.ErrPoolNotFound},
	{"slippage", http.StatusUnprocessableEntity, swap.ErrSlippage},
	{"swap_liquidity_insufficient", http.StatusUnprocessableEntity, swap.ErrInsufficientLiquidity},
}

const (
	codeUnwound  = "flash_loan_unwound"
	codeInternal = "internal"
)

func lookup(err error) (codeEntry, bool) {
	for _, entry := range codes {
		if errors.Is(err, entry.err) {
			return entry, true
		}
	}
	return codeEntry{}, false
}

// ToError converts err into its wire form and HTTP status. Unknown errors
// become a 500 with a generic message.
func ToError(err error) (*Error, int) {
	if err == nil {
		return nil, http.StatusOK
	}
	entry, known := lookup(err)
	if errors.Is(err, flashloan.ErrFlashLoanUnwound) {
		out := &Error{Code: codeUnwound, Message: err.Error()}
		if known {
			out.Cause = entry.code
		}
		return out, http.StatusUnprocessableEntity
	}
	if !known {
		return &Error{Code: codeInternal, Message: "internal error"}, http.StatusInternalServerError
	}
	return &Error{Code: entry.code, Message: err.Error()}, entry.status
}

// FromError rebuilds an error from its wire form so callers can keep using
// errors.Is against the native sentinels.
func FromError(e *Error) error {
	if e == nil {
		return nil
	}
	if e.Code == codeUnwound {
		if cause := sentinel(e.Cause); cause != nil {
			return fmt.Errorf("%w: %w: %s", flashloan.ErrFlashLoanUnwound, cause, e.Message)
		}
		return fmt.Errorf("%w: %s", flashloan.ErrFlashLoanUnwound, e.Message)
	}
	if err := sentinel(e.Code); err != nil {
		return fmt.Errorf("%w: %s", err, e.Message)
	}
	return fmt.Errorf("%w: %s", ErrInternal, e.Message)
}

func sentinel(code string) error {
	for _, entry := range codes {
		if entry.code == code {
			return entry.err
		}
	}
	return nil
}
