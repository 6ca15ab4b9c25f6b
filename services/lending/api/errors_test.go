package api

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"

	"moneymarket/native/flashloan"
	"moneymarket/native/lending"
	"moneymarket/native/swap"
)

func TestErrorRoundTripPreservesSentinels(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		err    error
		code   string
		status int
	}{
		{"not listed", lending.ErrMarketNotListed, "market_not_listed", http.StatusNotFound},
		{"shortfall", lending.ErrInsufficientLiquidity, "insufficient_liquidity", http.StatusUnprocessableEntity},
		{"healthy", lending.ErrBorrowerHealthy, "borrower_healthy", http.StatusConflict},
		{"close factor", lending.ErrTooMuchRepay, "too_much_repay", http.StatusUnprocessableEntity},
		{"paused", fmt.Errorf("%w: mint", lending.ErrActionPaused), "action_paused", http.StatusServiceUnavailable},
		{"unauthorized", lending.ErrUnauthorized, "unauthorized", http.StatusForbidden},
		{"slippage", swap.ErrSlippage, "slippage", http.StatusUnprocessableEntity},
		{"bad body", ErrInvalidRequest, "invalid_request", http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			wrapped := fmt.Errorf("engine: %w", tc.err)
			wire, status := ToError(wrapped)
			require.Equal(t, tc.code, wire.Code)
			require.Equal(t, tc.status, status)
			require.ErrorIs(t, FromError(wire), tc.err)
		})
	}
}

func TestCashShortageTakesPrecedence(t *testing.T) {
	t.Parallel()
	err := fmt.Errorf("%w: %w", lending.ErrInsufficientLiquidity, lending.ErrMarketCashInsufficient)
	wire, status := ToError(err)
	require.Equal(t, "market_cash_insufficient", wire.Code)
	require.Equal(t, http.StatusConflict, status)
}

func TestUnwoundCarriesCause(t *testing.T) {
	t.Parallel()
	err := fmt.Errorf("%w: %w", flashloan.ErrFlashLoanUnwound, lending.ErrSeizeTooMuch)
	wire, status := ToError(err)
	require.Equal(t, "flash_loan_unwound", wire.Code)
	require.Equal(t, "seize_too_much", wire.Cause)
	require.Equal(t, http.StatusUnprocessableEntity, status)

	back := FromError(wire)
	require.ErrorIs(t, back, flashloan.ErrFlashLoanUnwound)
	require.ErrorIs(t, back, lending.ErrSeizeTooMuch)
}

func TestUnknownErrorsAreInternal(t *testing.T) {
	t.Parallel()
	wire, status := ToError(errors.New("disk on fire"))
	require.Equal(t, http.StatusInternalServerError, status)
	require.Equal(t, "internal error", wire.Message)
	require.ErrorIs(t, FromError(wire), ErrInternal)
}

func TestParseAmount(t *testing.T) {
	t.Parallel()
	amount, err := ParseAmount(" 2500000000 ", false)
	require.NoError(t, err)
	require.Equal(t, uint64(2_500_000_000), amount.Uint64())

	max, err := ParseAmount("MAX", true)
	require.NoError(t, err)
	require.True(t, lending.IsMaxAmount(max))

	_, err = ParseAmount("max", false)
	require.ErrorIs(t, err, ErrInvalidRequest)
	_, err = ParseAmount("1.5", false)
	require.ErrorIs(t, err, ErrInvalidRequest)

	none, err := ParseOptionalAmount("")
	require.NoError(t, err)
	require.Nil(t, none)
}
