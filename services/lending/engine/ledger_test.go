package engine_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"moneymarket/native/flashloan"
	"moneymarket/native/lending"
	"moneymarket/services/lending/api"
	"moneymarket/services/lending/engine/enginetest"
)

func TestLedgerEngineMarkets(t *testing.T) {
	t.Parallel()
	s := enginetest.New(t)
	ctx := context.Background()

	markets, err := s.Engine.Markets(ctx)
	require.NoError(t, err)
	require.Len(t, markets, 2)

	usdc, err := s.Engine.Market(ctx, "cusdc")
	require.NoError(t, err)
	require.Equal(t, s.CUSDC.Hex(), usdc.Address)
	require.Equal(t, s.USDC.Hex(), usdc.Underlying)
	require.Equal(t, uint8(6), usdc.Decimals)
	require.Equal(t, "5000000000", usdc.Cash)
	require.Equal(t, "5000000000", usdc.TotalBorrows)
	require.Equal(t, "0.9", usdc.CollateralFactor)
	require.Equal(t, "1", usdc.Price)

	byAddress, err := s.Engine.Market(ctx, s.CUNI.Hex())
	require.NoError(t, err)
	require.Equal(t, "cUNI", byAddress.Symbol)
	require.Equal(t, "10", byAddress.Price)

	_, err = s.Engine.Market(ctx, "cDOGE")
	require.ErrorIs(t, err, api.ErrNotFound)

	risk, err := s.Engine.RiskParams(ctx)
	require.NoError(t, err)
	require.Equal(t, enginetest.Admin.Hex(), risk.Admin)
	require.Equal(t, "0.5", risk.CloseFactor)
	require.Equal(t, "1.1", risk.LiquidationIncentive)
}

func TestLedgerEnginePositionsAndLiquidity(t *testing.T) {
	t.Parallel()
	s := enginetest.New(t)
	ctx := context.Background()

	accounts, err := s.Engine.Accounts(ctx)
	require.NoError(t, err)
	require.Contains(t, accounts, enginetest.Borrower.Hex())
	require.Contains(t, accounts, enginetest.Supplier.Hex())

	positions, err := s.Engine.Positions(ctx, enginetest.Borrower.Hex())
	require.NoError(t, err)
	require.True(t, positions.Liquidity.Healthy)
	bySymbol := make(map[string]api.Position, len(positions.Positions))
	for _, pos := range positions.Positions {
		bySymbol[pos.Symbol] = pos
	}
	require.Equal(t, "1000000000000000000000", bySymbol["cUNI"].Tokens)
	require.Equal(t, "1000000000000000000000", bySymbol["cUNI"].UnderlyingBalance)
	require.True(t, bySymbol["cUNI"].Entered)
	require.Equal(t, "5000000000", bySymbol["cUSDC"].Borrow)

	s.DropPrice(t)
	liq, err := s.Engine.Liquidity(ctx, enginetest.Borrower.Hex())
	require.NoError(t, err)
	require.False(t, liq.Healthy)
	require.Equal(t, "1900", liq.Shortfall)
	require.Equal(t, "0", liq.Liquidity)

	_, err = s.Engine.Liquidity(ctx, "not-an-address")
	require.ErrorIs(t, err, api.ErrInvalidRequest)
}

func TestLedgerEngineSupplyBorrowRepay(t *testing.T) {
	t.Parallel()
	s := enginetest.New(t)
	ctx := context.Background()
	admin := enginetest.Admin.Hex()

	minted, err := s.Engine.Mint(ctx, admin, "cUSDC", "1000000000")
	require.NoError(t, err)
	require.Equal(t, s.CUSDC.Hex(), minted.Market)
	require.Equal(t, "1000000000000000000000", minted.Amount)

	borrowed, err := s.Engine.Borrow(ctx, admin, "cUSDC", "100000000")
	require.NoError(t, err)
	require.Equal(t, "100000000", borrowed.Amount)

	_, err = s.Engine.Borrow(ctx, admin, "cUSDC", "max")
	require.ErrorIs(t, err, api.ErrInvalidRequest)

	repaid, err := s.Engine.Repay(ctx, admin, "", "cUSDC", "max")
	require.NoError(t, err)
	require.Equal(t, "100000000", repaid.Amount)

	redeemed, err := s.Engine.RedeemUnderlying(ctx, admin, "cUSDC", "500000000")
	require.NoError(t, err)
	require.Equal(t, "500000000000000000000", redeemed.Amount)

	moved, err := s.Engine.Transfer(ctx, admin, "cUSDC", enginetest.Keeper.Hex(), "100000000000000000000")
	require.NoError(t, err)
	require.Equal(t, "100000000000000000000", moved.Amount)

	out, err := s.Engine.Redeem(ctx, enginetest.Keeper.Hex(), "cUSDC", "100000000000000000000")
	require.NoError(t, err)
	require.Equal(t, "100000000", out.Amount)
}

func TestLedgerEngineRepayOnBehalf(t *testing.T) {
	t.Parallel()
	s := enginetest.New(t)
	ctx := context.Background()

	res, err := s.Engine.Repay(ctx, enginetest.Admin.Hex(), enginetest.Borrower.Hex(), "cUSDC", "1000000000")
	require.NoError(t, err)
	require.Equal(t, "1000000000", res.Amount)

	positions, err := s.Engine.Positions(ctx, enginetest.Borrower.Hex())
	require.NoError(t, err)
	for _, pos := range positions.Positions {
		if pos.Symbol == "cUSDC" {
			require.Equal(t, "4000000000", pos.Borrow)
		}
	}
}

func TestLedgerEngineCollateralMembership(t *testing.T) {
	t.Parallel()
	s := enginetest.New(t)
	ctx := context.Background()

	err := s.Engine.ExitMarket(ctx, enginetest.Borrower.Hex(), "cUNI")
	require.ErrorIs(t, err, lending.ErrInsufficientLiquidityAfterExit)

	require.NoError(t, s.Engine.EnterMarkets(ctx, enginetest.Supplier.Hex(), []string{"cUSDC", "cUNI"}))
	require.NoError(t, s.Engine.ExitMarket(ctx, enginetest.Supplier.Hex(), "cUNI"))

	err = s.Engine.EnterMarkets(ctx, enginetest.Supplier.Hex(), nil)
	require.ErrorIs(t, err, api.ErrInvalidRequest)
}

func TestLedgerEngineAdminRoutes(t *testing.T) {
	t.Parallel()
	s := enginetest.New(t)
	ctx := context.Background()
	admin := enginetest.Admin.Hex()

	err := s.Engine.SetPrice(ctx, enginetest.Keeper.Hex(), "cUNI", "6.2")
	require.ErrorIs(t, err, lending.ErrUnauthorized)
	market, err := s.Engine.Market(ctx, "cUNI")
	require.NoError(t, err)
	require.Equal(t, "10", market.Price)

	require.NoError(t, s.Engine.SetPrice(ctx, admin, "cUNI", "6.2"))
	liq, err := s.Engine.Liquidity(ctx, enginetest.Borrower.Hex())
	require.NoError(t, err)
	require.Equal(t, "1900", liq.Shortfall)

	require.NoError(t, s.Engine.SetCollateralFactor(ctx, admin, "cUNI", "0.85"))
	liq, err = s.Engine.Liquidity(ctx, enginetest.Borrower.Hex())
	require.NoError(t, err)
	require.True(t, liq.Healthy)
	require.Equal(t, "270", liq.Liquidity)

	require.NoError(t, s.Engine.SetBorrowCap(ctx, admin, "cUSDC", "5000"))
	_, err = s.Engine.Borrow(ctx, enginetest.Supplier.Hex(), "cUSDC", "1")
	require.ErrorIs(t, err, lending.ErrBorrowCapReached)

	require.NoError(t, s.Engine.SetActionPaused(ctx, admin, api.PauseRequest{Market: "cUSDC", Action: "mint", Paused: true}))
	_, err = s.Engine.Mint(ctx, admin, "cUSDC", "1")
	require.ErrorIs(t, err, lending.ErrActionPaused)

	err = s.Engine.SetCollateralFactor(ctx, admin, "cUNI", "nope")
	require.ErrorIs(t, err, api.ErrInvalidRequest)
}

func TestLedgerEngineFlashLiquidate(t *testing.T) {
	t.Parallel()
	s := enginetest.New(t)
	ctx := context.Background()
	s.DropPrice(t)

	pool, err := s.Engine.FlashPool(ctx, "cUSDC")
	require.NoError(t, err)
	require.Equal(t, s.USDC.Hex(), pool.Asset)
	require.Equal(t, "10000000000", pool.Available)
	require.Equal(t, uint64(5), pool.FeeBps)

	req := api.FlashLiquidationRequest{
		Borrower:         enginetest.Borrower.Hex(),
		RepayMarket:      "cUSDC",
		CollateralMarket: "cUNI",
		Amount:           "2500000000",
		MinProfit:        "1000000000",
	}
	_, err = s.Engine.FlashLiquidate(ctx, enginetest.Keeper.Hex(), req)
	require.ErrorIs(t, err, flashloan.ErrFlashLoanUnwound)
	require.ErrorIs(t, err, flashloan.ErrUnprofitable)

	liq, err := s.Engine.Liquidity(ctx, enginetest.Borrower.Hex())
	require.NoError(t, err)
	require.Equal(t, "1900", liq.Shortfall)

	req.MinProfit = ""
	res, err := s.Engine.FlashLiquidate(ctx, enginetest.Keeper.Hex(), req)
	require.NoError(t, err)
	require.Equal(t, "2500000000", res.Repaid)
	require.Equal(t, "443548387096774193548", res.SeizedTokens)
	require.Equal(t, "1250000", res.Fee)
	require.NotEqual(t, "0", res.Profit)

	pool, err = s.Engine.FlashPool(ctx, s.USDC.Hex())
	require.NoError(t, err)
	require.Equal(t, "10001250000", pool.Available)
}

func TestLedgerEngineHonoursCancelledContext(t *testing.T) {
	t.Parallel()
	s := enginetest.New(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.Engine.Mint(ctx, enginetest.Admin.Hex(), "cUSDC", "1")
	require.ErrorIs(t, err, context.Canceled)
	_, err = s.Engine.Markets(ctx)
	require.ErrorIs(t, err, context.Canceled)
}
