package server_test

import (
	"context"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"moneymarket/native/flashloan"
	"moneymarket/native/lending"
	"moneymarket/services/lending/api"
	"moneymarket/services/lending/client"
	"moneymarket/services/lending/engine/enginetest"
	"moneymarket/services/lending/server"
)

func newStack(t *testing.T, account string) (*enginetest.Scenario, *client.Client) {
	t.Helper()
	s := enginetest.New(t)
	srv, err := server.New(server.Config{Auth: server.AuthConfig{Disabled: true}}, s.Engine, nil)
	require.NoError(t, err)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	c, err := client.New(client.Config{BaseURL: ts.URL, Account: account, RetryMax: 1, HTTPClient: ts.Client()})
	require.NoError(t, err)
	return s, c
}

func TestIntegrationReadsThroughClient(t *testing.T) {
	t.Parallel()
	s, c := newStack(t, enginetest.Keeper.Hex())
	ctx := context.Background()

	markets, err := c.Markets(ctx)
	require.NoError(t, err)
	require.Len(t, markets, 2)

	uni, err := c.Market(ctx, "cUNI")
	require.NoError(t, err)
	require.Equal(t, s.CUNI.Hex(), uni.Address)

	_, err = c.Market(ctx, "cDOGE")
	require.ErrorIs(t, err, api.ErrNotFound)

	accounts, err := c.Accounts(ctx)
	require.NoError(t, err)
	require.Contains(t, accounts, enginetest.Borrower.Hex())

	pool, err := c.FlashPool(ctx, "cUSDC")
	require.NoError(t, err)
	require.Equal(t, "10000000000", pool.Available)
}

func TestIntegrationFlashLiquidationOverHTTP(t *testing.T) {
	t.Parallel()
	s, c := newStack(t, enginetest.Keeper.Hex())
	ctx := context.Background()

	liq, err := c.Liquidity(ctx, enginetest.Borrower.Hex())
	require.NoError(t, err)
	require.True(t, liq.Healthy)

	req := api.FlashLiquidationRequest{
		Borrower:         enginetest.Borrower.Hex(),
		RepayMarket:      "cUSDC",
		CollateralMarket: "cUNI",
		Amount:           "2500000000",
	}
	_, err = c.FlashLiquidate(ctx, req)
	require.ErrorIs(t, err, flashloan.ErrFlashLoanUnwound)
	require.ErrorIs(t, err, lending.ErrBorrowerHealthy)

	s.DropPrice(t)
	req.Amount = "2600000000"
	_, err = c.FlashLiquidate(ctx, req)
	require.ErrorIs(t, err, lending.ErrTooMuchRepay)

	req.Amount = "2500000000"
	res, err := c.FlashLiquidate(ctx, req)
	require.NoError(t, err)
	require.Equal(t, "443548387096774193548", res.SeizedTokens)
	require.Equal(t, "1250000", res.Fee)

	positions, err := c.Positions(ctx, enginetest.Borrower.Hex())
	require.NoError(t, err)
	for _, pos := range positions.Positions {
		if pos.Symbol == "cUSDC" {
			require.Equal(t, "2500000000", pos.Borrow)
		}
	}
}

func TestIntegrationSupplyAndAdmin(t *testing.T) {
	t.Parallel()
	_, admin := newStack(t, enginetest.Admin.Hex())
	ctx := context.Background()

	minted, err := admin.Mint(ctx, "cUSDC", "1000000000")
	require.NoError(t, err)
	require.Equal(t, "1000000000000000000000", minted.Amount)

	_, err = admin.Borrow(ctx, "cUSDC", "2000000000")
	require.ErrorIs(t, err, lending.ErrInsufficientLiquidity)

	require.NoError(t, admin.SetPrice(ctx, "cUNI", "6.2"))
	liq, err := admin.Liquidity(ctx, enginetest.Borrower.Hex())
	require.NoError(t, err)
	require.Equal(t, "1900", liq.Shortfall)

	require.NoError(t, admin.SetActionPaused(ctx, api.PauseRequest{Market: "cUSDC", Action: "borrow", Paused: true}))
	_, err = admin.Borrow(ctx, "cUSDC", "1")
	require.ErrorIs(t, err, lending.ErrActionPaused)
}
