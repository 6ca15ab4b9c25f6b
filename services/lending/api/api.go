// Package api defines the JSON wire types shared by the lending HTTP server
// and its clients. Amounts are base-10 integers in the smallest unit of the
// relevant asset; mantissas are decimal strings ("0.9" for 0.9e18).
package api

import (
	"fmt"
	"strings"

	"github.com/holiman/uint256"

	"moneymarket/native/lending"
)

// Scopes carried in the bearer token.
const (
	ScopeWrite = "lending:write"
	ScopeAdmin = "lending:admin"
)

// MaxKeyword requests the full outstanding debt on repay.
const MaxKeyword = "max"

// Market is the public snapshot of one market, accrued to the current block.
type Market struct {
	Address            string `json:"address"`
	Underlying         string `json:"underlying"`
	Symbol             string `json:"symbol"`
	Decimals           uint8  `json:"decimals"`
	Cash               string `json:"cash"`
	TotalSupply        string `json:"totalSupply"`
	TotalBorrows       string `json:"totalBorrows"`
	TotalReserves      string `json:"totalReserves"`
	ExchangeRate       string `json:"exchangeRate"`
	BorrowRatePerBlock string `json:"borrowRatePerBlock"`
	SupplyRatePerBlock string `json:"supplyRatePerBlock"`
	BorrowAPR          string `json:"borrowApr"`
	SupplyAPR          string `json:"supplyApr"`
	ReserveFactor      string `json:"reserveFactor"`
	CollateralFactor   string `json:"collateralFactor"`
	BorrowCap          string `json:"borrowCap"`
	Price              string `json:"price,omitempty"`
	MintPaused         bool   `json:"mintPaused"`
	BorrowPaused       bool   `json:"borrowPaused"`
	AccrualBlock       uint64 `json:"accrualBlock"`
}

// RiskParams mirrors the comptroller's global parameters.
type RiskParams struct {
	Admin                string `json:"admin"`
	PauseGuardian        string `json:"pauseGuardian,omitempty"`
	CloseFactor          string `json:"closeFactor"`
	LiquidationIncentive string `json:"liquidationIncentive"`
	ProtocolSeizeShare   string `json:"protocolSeizeShare"`
	TransferPaused       bool   `json:"transferPaused"`
	SeizePaused          bool   `json:"seizePaused"`
}

// Liquidity is an account's solvency in USD mantissas.
type Liquidity struct {
	Account   string `json:"account"`
	Liquidity string `json:"liquidity"`
	Shortfall string `json:"shortfall"`
	Healthy   bool   `json:"healthy"`
	Block     uint64 `json:"block"`
}

// Position is an account's exposure to one market.
type Position struct {
	Market            string `json:"market"`
	Symbol            string `json:"symbol"`
	Underlying        string `json:"underlying"`
	Tokens            string `json:"tokens"`
	UnderlyingBalance string `json:"underlyingBalance"`
	Borrow            string `json:"borrow"`
	ExchangeRate      string `json:"exchangeRate"`
	Entered           bool   `json:"entered"`
}

// AccountPositions groups every market position of an account.
type AccountPositions struct {
	Account   string     `json:"account"`
	Positions []Position `json:"positions"`
	Liquidity Liquidity  `json:"liquidity"`
}

// Accounts lists every account that ever supplied or borrowed.
type Accounts struct {
	Accounts []string `json:"accounts"`
}

// Markets lists the listed markets.
type Markets struct {
	Markets []Market `json:"markets"`
}

// AmountRequest carries a single amount. Borrower is only read by repay and
// defaults to the caller.
type AmountRequest struct {
	Amount   string `json:"amount"`
	Borrower string `json:"borrower,omitempty"`
}

// TransferRequest moves receipt tokens to another account.
type TransferRequest struct {
	To     string `json:"to"`
	Tokens string `json:"tokens"`
}

// EnterMarketsRequest lists markets to use as collateral.
type EnterMarketsRequest struct {
	Markets []string `json:"markets"`
}

// OpResult reports the amount an operation actually moved.
type OpResult struct {
	Market string `json:"market"`
	Amount string `json:"amount"`
	Block  uint64 `json:"block"`
}

// LiquidateRequest repays Amount of Borrower's debt in the path market and
// seizes collateral from CollateralMarket.
type LiquidateRequest struct {
	Borrower         string `json:"borrower"`
	Amount           string `json:"amount"`
	CollateralMarket string `json:"collateralMarket"`
}

// LiquidateResult reports a direct liquidation.
type LiquidateResult struct {
	Repaid       string `json:"repaid"`
	SeizedTokens string `json:"seizedTokens"`
	Block        uint64 `json:"block"`
}

// FlashLiquidationRequest funds a liquidation with a flash loan.
type FlashLiquidationRequest struct {
	Borrower         string `json:"borrower"`
	RepayMarket      string `json:"repayMarket"`
	CollateralMarket string `json:"collateralMarket"`
	Amount           string `json:"amount"`
	MinProfit        string `json:"minProfit,omitempty"`
	MinSwapOut       string `json:"minSwapOut,omitempty"`
}

// FlashLiquidationResult reports a completed flash liquidation.
type FlashLiquidationResult struct {
	Repaid       string `json:"repaid"`
	SeizedTokens string `json:"seizedTokens"`
	Redeemed     string `json:"redeemed"`
	Proceeds     string `json:"proceeds"`
	Fee          string `json:"fee"`
	Profit       string `json:"profit"`
	Block        uint64 `json:"block"`
}

// FlashPool reports flash liquidity for one asset.
type FlashPool struct {
	Asset     string `json:"asset"`
	Available string `json:"available"`
	FeeBps    uint64 `json:"feeBps"`
}

// ValueRequest carries a decimal admin value: a USD price per whole unit, a
// mantissa, or a whole-unit borrow cap depending on the route.
type ValueRequest struct {
	Value string `json:"value"`
}

// PauseRequest toggles an action. Market is required for mint and borrow.
type PauseRequest struct {
	Market string `json:"market,omitempty"`
	Action string `json:"action"`
	Paused bool   `json:"paused"`
}

// ParseAmount parses a smallest-unit integer. "max" yields the repay-all
// sentinel when allowMax is set.
func ParseAmount(value string, allowMax bool) (*uint256.Int, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil, fmt.Errorf("%w: amount required", ErrInvalidRequest)
	}
	if strings.EqualFold(trimmed, MaxKeyword) {
		if !allowMax {
			return nil, fmt.Errorf("%w: max not accepted here", ErrInvalidRequest)
		}
		return lending.MaxAmount(), nil
	}
	amount, err := uint256.FromDecimal(trimmed)
	if err != nil {
		return nil, fmt.Errorf("%w: amount %q: %v", ErrInvalidRequest, trimmed, err)
	}
	return amount, nil
}

// ParseOptionalAmount parses value or returns nil when it is empty.
func ParseOptionalAmount(value string) (*uint256.Int, error) {
	if strings.TrimSpace(value) == "" {
		return nil, nil
	}
	return ParseAmount(value, false)
}

// Amount formats an amount for the wire. Nil is zero.
func Amount(value *uint256.Int) string {
	if value == nil {
		return "0"
	}
	return value.Dec()
}
