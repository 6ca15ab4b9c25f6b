// Command mmctl is the operator CLI for the lending service.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"moneymarket/services/lending/api"
	"moneymarket/services/lending/client"
)

const usage = `Usage: mmctl [--endpoint URL] [--token JWT] [--account 0x..] <command> [args]

Reads:
  markets [market]                    list markets or show one
  params                              comptroller risk parameters
  accounts                            accounts that ever supplied or borrowed
  positions <account>                 positions and liquidity of an account
  liquidity <account>                 liquidity and shortfall of an account
  flash-pool <asset|market>           flash liquidity for an asset

Writes (caller is the token subject, or --account when auth is disabled):
  mint <market> <amount>
  redeem <market> <tokens>
  redeem-underlying <market> <amount>
  borrow <market> <amount>
  repay <market> <amount|max> [--borrower 0x..]
  transfer <market> <to> <tokens>
  enter <market>...
  exit <market>
  liquidate <market> --borrower 0x.. --amount N --collateral <market>
  flash-liquidate --borrower 0x.. --repay <market> --collateral <market> --amount N [--min-profit N]

Admin:
  admin set-price <market> <usd>
  admin set-collateral-factor <market> <factor>
  admin set-borrow-cap <market> <whole units>
  admin pause <action> [--market <market>] [--resume]

Offline:
  token --secret S --sub 0x.. [--scope lending:write] [--ttl 1h]
  audit [--dsn liquidator_audit.db] [--limit 20] [--borrower 0x..]
`

type cli struct {
	endpoint string
	token    string
	account  string
	timeout  time.Duration
	stdout   io.Writer
	stderr   io.Writer
	client   *client.Client
}

type command func(ctx context.Context, c *cli, args []string) error

var commands = map[string]command{
	"markets":           cmdMarkets,
	"params":            cmdParams,
	"accounts":          cmdAccounts,
	"positions":         cmdPositions,
	"liquidity":         cmdLiquidity,
	"flash-pool":        cmdFlashPool,
	"mint":              amountCommand("mint"),
	"redeem":            amountCommand("redeem"),
	"redeem-underlying": amountCommand("redeem-underlying"),
	"borrow":            amountCommand("borrow"),
	"repay":             cmdRepay,
	"transfer":          cmdTransfer,
	"enter":             cmdEnter,
	"exit":              cmdExit,
	"liquidate":         cmdLiquidate,
	"flash-liquidate":   cmdFlashLiquidate,
	"admin":             cmdAdmin,
	"token":             cmdToken,
	"audit":             cmdAudit,
}

// errUsage marks argument errors; run prints the usage text for them.
var errUsage = errors.New("usage")

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("mmctl", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() { fmt.Fprint(stderr, usage) }
	c := &cli{stdout: stdout, stderr: stderr}
	fs.StringVar(&c.endpoint, "endpoint", envOr("MM_ENDPOINT", "http://localhost:8080"), "lending service URL")
	fs.StringVar(&c.token, "token", os.Getenv("MM_TOKEN"), "bearer token")
	fs.StringVar(&c.account, "account", os.Getenv("MM_ACCOUNT"), "caller account when auth is disabled")
	fs.DurationVar(&c.timeout, "timeout", 15*time.Second, "per-request timeout")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	rest := fs.Args()
	if len(rest) == 0 {
		fmt.Fprint(stderr, usage)
		return 1
	}
	cmd, ok := commands[strings.ToLower(rest[0])]
	if !ok {
		fmt.Fprintf(stderr, "Unknown command %q\n\n%s", rest[0], usage)
		return 1
	}
	if err := cmd(ctx, c, rest[1:]); err != nil {
		if errors.Is(err, errUsage) {
			fmt.Fprintf(stderr, "Error: %v\n\n%s", err, usage)
			return 1
		}
		fmt.Fprintf(stderr, "Error: %v\n", err)
		if hasCode(err) {
			return 3
		}
		return 1
	}
	return 0
}

// hasCode reports whether err maps to a stable lending error code.
func hasCode(err error) bool {
	body, _ := api.ToError(err)
	return body != nil && body.Code != "internal"
}

func envOr(key, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return fallback
}

func (c *cli) lending() (*client.Client, error) {
	if c.client != nil {
		return c.client, nil
	}
	lc, err := client.New(client.Config{
		BaseURL: c.endpoint,
		Token:   c.token,
		Account: c.account,
		Timeout: c.timeout,
	})
	if err != nil {
		return nil, err
	}
	c.client = lc
	return lc, nil
}

func (c *cli) print(v interface{}) error {
	pretty, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(c.stdout, string(pretty))
	return err
}

func usageErr(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", errUsage, fmt.Sprintf(format, args...))
}
