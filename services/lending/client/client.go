// Package client is a typed HTTP client for the lending service.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"moneymarket/services/lending/api"
)

// Config configures a Client.
type Config struct {
	// BaseURL is the service root, e.g. http://127.0.0.1:8080.
	BaseURL string
	// Token is sent as a bearer token when set.
	Token string
	// Account is sent in the X-Account header for services running with
	// authentication disabled.
	Account  string
	RetryMax int
	Timeout  time.Duration
	Logger   *slog.Logger
	// HTTPClient overrides the transport, mainly for tests.
	HTTPClient *http.Client
}

// Client calls the lending API. Reads and admin updates are retried on
// transport errors and 5xx responses; state-changing POSTs are sent once.
type Client struct {
	base    *url.URL
	token   string
	account string
	http    *retryablehttp.Client
}

type noRetryKey struct{}

// New validates cfg and returns a client.
func New(cfg Config) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("lending client: invalid base url %q", cfg.BaseURL)
	}
	rc := retryablehttp.NewClient()
	rc.RetryMax = 3
	if cfg.RetryMax > 0 {
		rc.RetryMax = cfg.RetryMax
	}
	rc.RetryWaitMin = 200 * time.Millisecond
	rc.RetryWaitMax = 2 * time.Second
	rc.Logger = nil
	if cfg.Logger != nil {
		rc.Logger = cfg.Logger
	}
	if cfg.HTTPClient != nil {
		rc.HTTPClient = cfg.HTTPClient
	}
	if cfg.Timeout > 0 {
		rc.HTTPClient.Timeout = cfg.Timeout
	}
	rc.CheckRetry = func(ctx context.Context, resp *http.Response, err error) (bool, error) {
		if once, _ := ctx.Value(noRetryKey{}).(bool); once {
			return false, nil
		}
		return retryablehttp.DefaultRetryPolicy(ctx, resp, err)
	}
	// Hand non-2xx bodies back to the caller instead of a generic error.
	rc.ErrorHandler = retryablehttp.PassthroughErrorHandler
	return &Client{base: base, token: strings.TrimSpace(cfg.Token), account: strings.TrimSpace(cfg.Account), http: rc}, nil
}

func (c *Client) endpoint(segments ...string) string {
	escaped := make([]string, len(segments))
	for i, seg := range segments {
		escaped[i] = url.PathEscape(seg)
	}
	return c.base.String() + "/v1/" + strings.Join(escaped, "/")
}

func (c *Client) do(ctx context.Context, method, endpoint string, body, out interface{}) error {
	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return fmt.Errorf("lending client: encode request: %w", err)
		}
	}
	if method == http.MethodPost {
		ctx = context.WithValue(ctx, noRetryKey{}, true)
	}
	req, err := retryablehttp.NewRequestWithContext(ctx, method, endpoint, payload)
	if err != nil {
		return fmt.Errorf("lending client: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if c.account != "" {
		req.Header.Set("X-Account", c.account)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("lending client: %s %s: %w", method, endpoint, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("lending client: read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var wire api.Error
		if err := json.Unmarshal(data, &wire); err != nil || wire.Code == "" {
			return fmt.Errorf("%w: status %d: %s", api.ErrInternal, resp.StatusCode, bytes.TrimSpace(data))
		}
		return api.FromError(&wire)
	}
	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("lending client: decode response: %w", err)
	}
	return nil
}

// Markets lists every listed market.
func (c *Client) Markets(ctx context.Context) ([]api.Market, error) {
	var out api.Markets
	err := c.do(ctx, http.MethodGet, c.endpoint("markets"), nil, &out)
	return out.Markets, err
}

// Market returns one market by symbol or address.
func (c *Client) Market(ctx context.Context, market string) (api.Market, error) {
	var out api.Market
	err := c.do(ctx, http.MethodGet, c.endpoint("markets", market), nil, &out)
	return out, err
}

// RiskParams returns the global risk parameters.
func (c *Client) RiskParams(ctx context.Context) (api.RiskParams, error) {
	var out api.RiskParams
	err := c.do(ctx, http.MethodGet, c.endpoint("risk"), nil, &out)
	return out, err
}

// Accounts lists every account that ever held a position.
func (c *Client) Accounts(ctx context.Context) ([]string, error) {
	var out api.Accounts
	err := c.do(ctx, http.MethodGet, c.endpoint("accounts"), nil, &out)
	return out.Accounts, err
}

// Liquidity returns an account's liquidity or shortfall.
func (c *Client) Liquidity(ctx context.Context, account string) (api.Liquidity, error) {
	var out api.Liquidity
	err := c.do(ctx, http.MethodGet, c.endpoint("accounts", account, "liquidity"), nil, &out)
	return out, err
}

// Positions returns an account's positions.
func (c *Client) Positions(ctx context.Context, account string) (api.AccountPositions, error) {
	var out api.AccountPositions
	err := c.do(ctx, http.MethodGet, c.endpoint("accounts", account, "positions"), nil, &out)
	return out, err
}

// FlashPool reports flash liquidity for an asset or market symbol.
func (c *Client) FlashPool(ctx context.Context, asset string) (api.FlashPool, error) {
	var out api.FlashPool
	err := c.do(ctx, http.MethodGet, c.endpoint("flash", "pools", asset), nil, &out)
	return out, err
}

func (c *Client) amountOp(ctx context.Context, market, op string, req api.AmountRequest) (api.OpResult, error) {
	var out api.OpResult
	err := c.do(ctx, http.MethodPost, c.endpoint("markets", market, op), req, &out)
	return out, err
}

// Mint supplies underlying to market.
func (c *Client) Mint(ctx context.Context, market, amount string) (api.OpResult, error) {
	return c.amountOp(ctx, market, "mint", api.AmountRequest{Amount: amount})
}

// Redeem burns receipt tokens.
func (c *Client) Redeem(ctx context.Context, market, tokens string) (api.OpResult, error) {
	return c.amountOp(ctx, market, "redeem", api.AmountRequest{Amount: tokens})
}

// RedeemUnderlying withdraws an exact underlying amount.
func (c *Client) RedeemUnderlying(ctx context.Context, market, amount string) (api.OpResult, error) {
	return c.amountOp(ctx, market, "redeem-underlying", api.AmountRequest{Amount: amount})
}

// Borrow borrows underlying from market.
func (c *Client) Borrow(ctx context.Context, market, amount string) (api.OpResult, error) {
	return c.amountOp(ctx, market, "borrow", api.AmountRequest{Amount: amount})
}

// Repay repays borrower's debt. An empty borrower repays the caller's own.
func (c *Client) Repay(ctx context.Context, market, borrower, amount string) (api.OpResult, error) {
	return c.amountOp(ctx, market, "repay", api.AmountRequest{Amount: amount, Borrower: borrower})
}

// Transfer moves receipt tokens to another account.
func (c *Client) Transfer(ctx context.Context, market, to, tokens string) (api.OpResult, error) {
	var out api.OpResult
	err := c.do(ctx, http.MethodPost, c.endpoint("markets", market, "transfer"), api.TransferRequest{To: to, Tokens: tokens}, &out)
	return out, err
}

// EnterMarkets uses markets as collateral.
func (c *Client) EnterMarkets(ctx context.Context, markets ...string) error {
	return c.do(ctx, http.MethodPost, c.endpoint("markets", "enter"), api.EnterMarketsRequest{Markets: markets}, nil)
}

// ExitMarket stops using market as collateral.
func (c *Client) ExitMarket(ctx context.Context, market string) error {
	return c.do(ctx, http.MethodPost, c.endpoint("markets", market, "exit"), struct{}{}, nil)
}

// Liquidate repays borrower's debt in market from the caller's own funds.
func (c *Client) Liquidate(ctx context.Context, market string, req api.LiquidateRequest) (api.LiquidateResult, error) {
	var out api.LiquidateResult
	err := c.do(ctx, http.MethodPost, c.endpoint("markets", market, "liquidate"), req, &out)
	return out, err
}

// FlashLiquidate runs a flash-loan funded liquidation.
func (c *Client) FlashLiquidate(ctx context.Context, req api.FlashLiquidationRequest) (api.FlashLiquidationResult, error) {
	var out api.FlashLiquidationResult
	err := c.do(ctx, http.MethodPost, c.endpoint("liquidations", "flash"), req, &out)
	return out, err
}

// SetPrice sets the USD price of one whole unit of market's underlying.
func (c *Client) SetPrice(ctx context.Context, market, usdPerUnit string) error {
	return c.do(ctx, http.MethodPut, c.endpoint("admin", "markets", market, "price"), api.ValueRequest{Value: usdPerUnit}, nil)
}

// SetCollateralFactor sets market's collateral factor, e.g. "0.75".
func (c *Client) SetCollateralFactor(ctx context.Context, market, factor string) error {
	return c.do(ctx, http.MethodPut, c.endpoint("admin", "markets", market, "collateral-factor"), api.ValueRequest{Value: factor}, nil)
}

// SetBorrowCap sets market's borrow cap in whole units.
func (c *Client) SetBorrowCap(ctx context.Context, market, wholeUnits string) error {
	return c.do(ctx, http.MethodPut, c.endpoint("admin", "markets", market, "borrow-cap"), api.ValueRequest{Value: wholeUnits}, nil)
}

// SetActionPaused pauses or resumes an action.
func (c *Client) SetActionPaused(ctx context.Context, req api.PauseRequest) error {
	return c.do(ctx, http.MethodPut, c.endpoint("admin", "pause"), req, nil)
}

// IsRetryable reports whether err is a transient failure worth retrying on a
// later pass.
func IsRetryable(err error) bool {
	return errors.Is(err, api.ErrInternal) || errors.Is(err, api.ErrRateLimited)
}
