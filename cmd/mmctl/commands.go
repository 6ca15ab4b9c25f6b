package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/golang-jwt/jwt/v5"

	"moneymarket/services/lending/api"
	"moneymarket/services/liquidator/audit"
)

// parseArgs parses fs flags interleaved with positional arguments.
func parseArgs(fs *flag.FlagSet, args []string) ([]string, error) {
	fs.SetOutput(io.Discard)
	var positional []string
	for {
		if err := fs.Parse(args); err != nil {
			return nil, usageErr("%s: %v", fs.Name(), err)
		}
		args = fs.Args()
		if len(args) == 0 {
			return positional, nil
		}
		positional = append(positional, args[0])
		args = args[1:]
	}
}

func (c *cli) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.timeout)
}

func cmdMarkets(ctx context.Context, c *cli, args []string) error {
	lc, err := c.lending()
	if err != nil {
		return err
	}
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	switch len(args) {
	case 0:
		markets, err := lc.Markets(ctx)
		if err != nil {
			return err
		}
		return c.print(markets)
	case 1:
		market, err := lc.Market(ctx, args[0])
		if err != nil {
			return err
		}
		return c.print(market)
	default:
		return usageErr("markets takes at most one market")
	}
}

func cmdParams(ctx context.Context, c *cli, _ []string) error {
	lc, err := c.lending()
	if err != nil {
		return err
	}
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	params, err := lc.RiskParams(ctx)
	if err != nil {
		return err
	}
	return c.print(params)
}

func cmdAccounts(ctx context.Context, c *cli, _ []string) error {
	lc, err := c.lending()
	if err != nil {
		return err
	}
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	accounts, err := lc.Accounts(ctx)
	if err != nil {
		return err
	}
	return c.print(api.Accounts{Accounts: accounts})
}

func cmdPositions(ctx context.Context, c *cli, args []string) error {
	if len(args) != 1 {
		return usageErr("positions <account>")
	}
	lc, err := c.lending()
	if err != nil {
		return err
	}
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	positions, err := lc.Positions(ctx, args[0])
	if err != nil {
		return err
	}
	return c.print(positions)
}

func cmdLiquidity(ctx context.Context, c *cli, args []string) error {
	if len(args) != 1 {
		return usageErr("liquidity <account>")
	}
	lc, err := c.lending()
	if err != nil {
		return err
	}
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	liq, err := lc.Liquidity(ctx, args[0])
	if err != nil {
		return err
	}
	return c.print(liq)
}

func cmdFlashPool(ctx context.Context, c *cli, args []string) error {
	if len(args) != 1 {
		return usageErr("flash-pool <asset|market>")
	}
	lc, err := c.lending()
	if err != nil {
		return err
	}
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	pool, err := lc.FlashPool(ctx, args[0])
	if err != nil {
		return err
	}
	return c.print(pool)
}

func amountCommand(name string) command {
	return func(ctx context.Context, c *cli, args []string) error {
		if len(args) != 2 {
			return usageErr("%s <market> <amount>", name)
		}
		lc, err := c.lending()
		if err != nil {
			return err
		}
		ctx, cancel := c.withTimeout(ctx)
		defer cancel()
		var res api.OpResult
		switch name {
		case "mint":
			res, err = lc.Mint(ctx, args[0], args[1])
		case "redeem":
			res, err = lc.Redeem(ctx, args[0], args[1])
		case "redeem-underlying":
			res, err = lc.RedeemUnderlying(ctx, args[0], args[1])
		case "borrow":
			res, err = lc.Borrow(ctx, args[0], args[1])
		default:
			return fmt.Errorf("unknown amount command %q", name)
		}
		if err != nil {
			return err
		}
		return c.print(res)
	}
}

func cmdRepay(ctx context.Context, c *cli, args []string) error {
	fs := flag.NewFlagSet("repay", flag.ContinueOnError)
	borrower := fs.String("borrower", "", "repay on behalf of this account")
	positional, err := parseArgs(fs, args)
	if err != nil {
		return err
	}
	if len(positional) != 2 {
		return usageErr("repay <market> <amount|max> [--borrower 0x..]")
	}
	lc, err := c.lending()
	if err != nil {
		return err
	}
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	res, err := lc.Repay(ctx, positional[0], *borrower, positional[1])
	if err != nil {
		return err
	}
	return c.print(res)
}

func cmdTransfer(ctx context.Context, c *cli, args []string) error {
	if len(args) != 3 {
		return usageErr("transfer <market> <to> <tokens>")
	}
	lc, err := c.lending()
	if err != nil {
		return err
	}
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	res, err := lc.Transfer(ctx, args[0], args[1], args[2])
	if err != nil {
		return err
	}
	return c.print(res)
}

func cmdEnter(ctx context.Context, c *cli, args []string) error {
	if len(args) == 0 {
		return usageErr("enter <market>...")
	}
	lc, err := c.lending()
	if err != nil {
		return err
	}
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	if err := lc.EnterMarkets(ctx, args...); err != nil {
		return err
	}
	return c.print(api.EnterMarketsRequest{Markets: args})
}

func cmdExit(ctx context.Context, c *cli, args []string) error {
	if len(args) != 1 {
		return usageErr("exit <market>")
	}
	lc, err := c.lending()
	if err != nil {
		return err
	}
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	if err := lc.ExitMarket(ctx, args[0]); err != nil {
		return err
	}
	fmt.Fprintf(c.stdout, "exited %s\n", args[0])
	return nil
}

func cmdLiquidate(ctx context.Context, c *cli, args []string) error {
	fs := flag.NewFlagSet("liquidate", flag.ContinueOnError)
	var req api.LiquidateRequest
	fs.StringVar(&req.Borrower, "borrower", "", "account in shortfall")
	fs.StringVar(&req.Amount, "amount", "", "repay amount in the smallest unit")
	fs.StringVar(&req.CollateralMarket, "collateral", "", "market to seize from")
	positional, err := parseArgs(fs, args)
	if err != nil {
		return err
	}
	if len(positional) != 1 || req.Borrower == "" || req.Amount == "" || req.CollateralMarket == "" {
		return usageErr("liquidate <market> --borrower 0x.. --amount N --collateral <market>")
	}
	lc, err := c.lending()
	if err != nil {
		return err
	}
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	res, err := lc.Liquidate(ctx, positional[0], req)
	if err != nil {
		return err
	}
	return c.print(res)
}

func cmdFlashLiquidate(ctx context.Context, c *cli, args []string) error {
	fs := flag.NewFlagSet("flash-liquidate", flag.ContinueOnError)
	var req api.FlashLiquidationRequest
	fs.StringVar(&req.Borrower, "borrower", "", "account in shortfall")
	fs.StringVar(&req.RepayMarket, "repay", "", "market whose debt is repaid")
	fs.StringVar(&req.CollateralMarket, "collateral", "", "market to seize from")
	fs.StringVar(&req.Amount, "amount", "", "repay amount in the smallest unit")
	fs.StringVar(&req.MinProfit, "min-profit", "", "minimum profit in the repay asset")
	fs.StringVar(&req.MinSwapOut, "min-swap-out", "", "minimum swap output")
	positional, err := parseArgs(fs, args)
	if err != nil {
		return err
	}
	if len(positional) != 0 || req.Borrower == "" || req.RepayMarket == "" || req.CollateralMarket == "" || req.Amount == "" {
		return usageErr("flash-liquidate --borrower 0x.. --repay <market> --collateral <market> --amount N")
	}
	lc, err := c.lending()
	if err != nil {
		return err
	}
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	res, err := lc.FlashLiquidate(ctx, req)
	if err != nil {
		return err
	}
	return c.print(res)
}

func cmdAdmin(ctx context.Context, c *cli, args []string) error {
	if len(args) == 0 {
		return usageErr("admin <set-price|set-collateral-factor|set-borrow-cap|pause> ...")
	}
	sub, args := strings.ToLower(args[0]), args[1:]
	if sub == "pause" {
		return cmdPause(ctx, c, args)
	}
	if len(args) != 2 {
		return usageErr("admin %s <market> <value>", sub)
	}
	lc, err := c.lending()
	if err != nil {
		return err
	}
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	switch sub {
	case "set-price":
		err = lc.SetPrice(ctx, args[0], args[1])
	case "set-collateral-factor":
		err = lc.SetCollateralFactor(ctx, args[0], args[1])
	case "set-borrow-cap":
		err = lc.SetBorrowCap(ctx, args[0], args[1])
	default:
		return usageErr("unknown admin subcommand %q", sub)
	}
	if err != nil {
		return err
	}
	market, err := lc.Market(ctx, args[0])
	if err != nil {
		return err
	}
	return c.print(market)
}

func cmdPause(ctx context.Context, c *cli, args []string) error {
	fs := flag.NewFlagSet("pause", flag.ContinueOnError)
	market := fs.String("market", "", "market for mint and borrow pauses")
	resume := fs.Bool("resume", false, "clear the pause instead of setting it")
	positional, err := parseArgs(fs, args)
	if err != nil {
		return err
	}
	if len(positional) != 1 {
		return usageErr("admin pause <action> [--market <market>] [--resume]")
	}
	lc, err := c.lending()
	if err != nil {
		return err
	}
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	req := api.PauseRequest{Market: *market, Action: positional[0], Paused: !*resume}
	if err := lc.SetActionPaused(ctx, req); err != nil {
		return err
	}
	return c.print(req)
}

// tokenNow is replaced in tests.
var tokenNow = time.Now

func cmdToken(_ context.Context, c *cli, args []string) error {
	fs := flag.NewFlagSet("token", flag.ContinueOnError)
	secret := fs.String("secret", "", "HMAC secret shared with lendingd")
	subject := fs.String("sub", "", "caller account")
	scope := fs.String("scope", api.ScopeWrite, "space separated scopes")
	issuer := fs.String("issuer", "moneymarket", "token issuer")
	audience := fs.String("audience", "", "token audience")
	ttl := fs.Duration("ttl", time.Hour, "token lifetime")
	positional, err := parseArgs(fs, args)
	if err != nil {
		return err
	}
	if len(positional) != 0 || *secret == "" || *subject == "" {
		return usageErr("token --secret S --sub 0x.. [--scope ...] [--ttl 1h]")
	}
	if !common.IsHexAddress(*subject) {
		return usageErr("sub %q must be a hex address", *subject)
	}
	if *ttl <= 0 {
		return usageErr("ttl must be positive")
	}
	now := tokenNow()
	claims := jwt.MapClaims{
		"sub":   common.HexToAddress(*subject).Hex(),
		"scope": strings.Join(strings.Fields(*scope), " "),
		"iat":   now.Unix(),
		"exp":   now.Add(*ttl).Unix(),
	}
	if *issuer != "" {
		claims["iss"] = *issuer
	}
	if *audience != "" {
		claims["aud"] = *audience
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(*secret))
	if err != nil {
		return fmt.Errorf("sign token: %w", err)
	}
	_, err = fmt.Fprintln(c.stdout, signed)
	return err
}

func cmdAudit(ctx context.Context, c *cli, args []string) error {
	fs := flag.NewFlagSet("audit", flag.ContinueOnError)
	dsn := fs.String("dsn", envOr("LIQUIDATOR_AUDIT_DSN", "liquidator_audit.db"), "liquidator audit database")
	limit := fs.Int("limit", 20, "maximum attempts to show")
	borrower := fs.String("borrower", "", "only attempts against this account")
	positional, err := parseArgs(fs, args)
	if err != nil {
		return err
	}
	if len(positional) != 0 {
		return usageErr("audit [--dsn DSN] [--limit N] [--borrower 0x..]")
	}
	store, err := audit.Open(*dsn)
	if err != nil {
		return err
	}
	defer store.Close()
	var attempts []audit.Attempt
	if *borrower != "" {
		attempts, err = store.Borrower(ctx, *borrower)
	} else {
		attempts, err = store.Recent(ctx, *limit)
	}
	if err != nil {
		return err
	}
	return c.print(attempts)
}
