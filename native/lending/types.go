package lending

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// MarketState is the persisted ledger of a single market (a receipt token
// issuer for one underlying asset). Cash is not stored: it is the bank
// balance of the market address in the underlying asset.
type MarketState struct {
	// Address identifies the market and holds its cash.
	Address common.Address
	// Underlying is the asset supplied and borrowed through this market.
	Underlying common.Address
	Symbol     string
	// Decimals of the underlying asset. Informational; prices already
	// account for it.
	Decimals uint8
	// InitialExchangeRate is used while TotalSupply is zero.
	InitialExchangeRate *uint256.Int
	// ReserveFactor is the share of accrued interest set aside as reserves.
	ReserveFactor *uint256.Int
	TotalSupply   *uint256.Int
	TotalBorrows  *uint256.Int
	TotalReserves *uint256.Int
	// AccrualBlock is the block at which interest was last accrued.
	AccrualBlock uint64
	// BorrowIndex is the cumulative interest multiplier since listing.
	BorrowIndex *uint256.Int
}

// Clone returns a deep copy of the market state.
func (m *MarketState) Clone() *MarketState {
	if m == nil {
		return nil
	}
	out := *m
	out.InitialExchangeRate = clone(m.InitialExchangeRate)
	out.ReserveFactor = clone(m.ReserveFactor)
	out.TotalSupply = clone(m.TotalSupply)
	out.TotalBorrows = clone(m.TotalBorrows)
	out.TotalReserves = clone(m.TotalReserves)
	out.BorrowIndex = clone(m.BorrowIndex)
	return &out
}

func (m *MarketState) ensureDefaults() {
	if m.InitialExchangeRate == nil {
		m.InitialExchangeRate = clone(mantissaOne)
	}
	if m.ReserveFactor == nil {
		m.ReserveFactor = zero()
	}
	if m.TotalSupply == nil {
		m.TotalSupply = zero()
	}
	if m.TotalBorrows == nil {
		m.TotalBorrows = zero()
	}
	if m.TotalReserves == nil {
		m.TotalReserves = zero()
	}
	if m.BorrowIndex == nil || m.BorrowIndex.IsZero() {
		m.BorrowIndex = clone(mantissaOne)
	}
}

// BorrowSnapshot stores an account's debt lazily: the owed amount is
// Principal * market.BorrowIndex / InterestIndex.
type BorrowSnapshot struct {
	Principal     *uint256.Int
	InterestIndex *uint256.Int
}

// MarketRisk holds the comptroller-owned parameters of a market.
type MarketRisk struct {
	Listed           bool
	CollateralFactor *uint256.Int
	// BorrowCap bounds TotalBorrows. Zero means unlimited.
	BorrowCap    *uint256.Int
	MintPaused   bool
	BorrowPaused bool
}

// IsPaused implements the pause view for market level actions.
func (r MarketRisk) IsPaused(action string) bool {
	switch action {
	case ActionMint:
		return r.MintPaused
	case ActionBorrow:
		return r.BorrowPaused
	default:
		return false
	}
}

// GlobalRiskParams are the process-wide risk settings.
type GlobalRiskParams struct {
	Admin                common.Address
	PauseGuardian        common.Address
	CloseFactor          *uint256.Int
	LiquidationIncentive *uint256.Int
	// ProtocolSeizeShare is the share of seized tokens added to the
	// collateral market's reserves instead of paid to the liquidator.
	ProtocolSeizeShare *uint256.Int
	TransferPaused     bool
	SeizePaused        bool
}

// IsPaused implements the pause view for protocol wide actions.
func (g GlobalRiskParams) IsPaused(action string) bool {
	switch action {
	case ActionTransfer:
		return g.TransferPaused
	case ActionSeize:
		return g.SeizePaused
	default:
		return false
	}
}

func (g *GlobalRiskParams) ensureDefaults() {
	if g.CloseFactor == nil {
		g.CloseFactor = zero()
	}
	if g.LiquidationIncentive == nil || g.LiquidationIncentive.IsZero() {
		g.LiquidationIncentive = clone(mantissaOne)
	}
	if g.ProtocolSeizeShare == nil {
		g.ProtocolSeizeShare = zero()
	}
}

// AccountLiquidity is the solvency summary of an account. At most one of
// Liquidity and Shortfall is non-zero.
type AccountLiquidity struct {
	Liquidity *uint256.Int
	Shortfall *uint256.Int
}

// Healthy reports whether the account has no shortfall.
func (l AccountLiquidity) Healthy() bool {
	return l.Shortfall == nil || l.Shortfall.IsZero()
}

// AccountPosition summarises an account's exposure to one market.
type AccountPosition struct {
	Market       common.Address
	Tokens       *uint256.Int
	Borrow       *uint256.Int
	ExchangeRate *uint256.Int
	Entered      bool
}

// MarketParams describe a market being listed.
type MarketParams struct {
	Address             common.Address
	Underlying          common.Address
	Symbol              string
	Decimals            uint8
	InitialExchangeRate *uint256.Int
	ReserveFactor       *uint256.Int
	RateModel           InterestRateModel
}
