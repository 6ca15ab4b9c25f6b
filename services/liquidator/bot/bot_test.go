package bot_test

import (
	"context"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"moneymarket/services/lending/client"
	"moneymarket/services/lending/engine/enginetest"
	"moneymarket/services/lending/server"
	"moneymarket/services/liquidator/audit"
	"moneymarket/services/liquidator/bot"
)

func newStack(t *testing.T) (*enginetest.Scenario, *client.Client, *audit.Store) {
	t.Helper()
	s := enginetest.New(t)
	srv, err := server.New(server.Config{Auth: server.AuthConfig{Disabled: true}}, s.Engine, nil)
	require.NoError(t, err)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	c, err := client.New(client.Config{BaseURL: ts.URL, Account: enginetest.Keeper.Hex(), RetryMax: 1, HTTPClient: ts.Client()})
	require.NoError(t, err)
	store, err := audit.Open("file:" + uuid.NewString() + "?mode=memory&cache=shared")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return s, c, store
}

func newBot(t *testing.T, c *client.Client, store *audit.Store, minProfitUSD int64) *bot.Bot {
	t.Helper()
	b, err := bot.New(bot.Config{
		Account:              enginetest.Keeper.Hex(),
		MaxAttempts:          3,
		SubmissionsPerSecond: 1000,
		MinProfitUSD:         decimal.NewFromInt(minProfitUSD),
	}, c, bot.WithAuditor(store))
	require.NoError(t, err)
	return b
}

func TestBotIgnoresHealthyLedger(t *testing.T) {
	t.Parallel()
	_, c, store := newStack(t)
	report, err := newBot(t, c, store, 0).RunOnce(context.Background())
	require.NoError(t, err)
	require.Zero(t, report.Candidates)

	recent, err := store.Recent(context.Background(), 10)
	require.NoError(t, err)
	require.Empty(t, recent)
}

func TestBotLiquidatesThroughHTTP(t *testing.T) {
	t.Parallel()
	s, c, store := newStack(t)
	ctx := context.Background()
	s.DropPrice(t)

	candidates, err := newBot(t, c, store, 0).Scan(ctx)
	require.NoError(t, err)
	require.Len(t, candidates, 1)
	require.Equal(t, enginetest.Borrower.Hex(), candidates[0].Borrower)
	require.Equal(t, "1900", candidates[0].Shortfall.String())

	// An unreachable profit floor unwinds every attempt and leaves the ledger as it was.
	report, err := newBot(t, c, store, 1_000_000).RunOnce(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, report.Failed)
	liq, err := c.Liquidity(ctx, enginetest.Borrower.Hex())
	require.NoError(t, err)
	require.Equal(t, "1900", liq.Shortfall)

	report, err = newBot(t, c, store, 0).RunOnce(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, report.Liquidated)

	liq, err = c.Liquidity(ctx, enginetest.Borrower.Hex())
	require.NoError(t, err)
	shortfall, err := decimal.NewFromString(liq.Shortfall)
	require.NoError(t, err)
	require.True(t, shortfall.LessThan(decimal.NewFromInt(1900)), "shortfall %s", liq.Shortfall)

	history, err := store.Borrower(ctx, enginetest.Borrower.Hex())
	require.NoError(t, err)
	require.Len(t, history, 4)
	outcomes := make([]string, len(history))
	for i, attempt := range history {
		outcomes[i] = attempt.Outcome
	}
	require.Equal(t, []string{audit.OutcomeRetried, audit.OutcomeRetried, audit.OutcomeFailed, audit.OutcomeLiquidated}, outcomes)
	require.Equal(t, "flash_loan_unwound", history[0].Code)
	require.NotEmpty(t, history[3].Profit)
}
