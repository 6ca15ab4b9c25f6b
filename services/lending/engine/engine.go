package engine

import (
	"context"

	"moneymarket/services/lending/api"
)

// Engine describes the operations required by the lending HTTP surface.
// Accounts are hex addresses. Markets are hex addresses or symbols.
type Engine interface {
	Markets(ctx context.Context) ([]api.Market, error)
	Market(ctx context.Context, market string) (api.Market, error)
	RiskParams(ctx context.Context) (api.RiskParams, error)
	Accounts(ctx context.Context) ([]string, error)
	Liquidity(ctx context.Context, account string) (api.Liquidity, error)
	Positions(ctx context.Context, account string) (api.AccountPositions, error)
	FlashPool(ctx context.Context, asset string) (api.FlashPool, error)

	Mint(ctx context.Context, account, market, amount string) (api.OpResult, error)
	Redeem(ctx context.Context, account, market, tokens string) (api.OpResult, error)
	RedeemUnderlying(ctx context.Context, account, market, amount string) (api.OpResult, error)
	Borrow(ctx context.Context, account, market, amount string) (api.OpResult, error)
	Repay(ctx context.Context, payer, borrower, market, amount string) (api.OpResult, error)
	Transfer(ctx context.Context, account, market, to, tokens string) (api.OpResult, error)
	EnterMarkets(ctx context.Context, account string, markets []string) error
	ExitMarket(ctx context.Context, account, market string) error
	Liquidate(ctx context.Context, liquidator, market string, req api.LiquidateRequest) (api.LiquidateResult, error)
	FlashLiquidate(ctx context.Context, liquidator string, req api.FlashLiquidationRequest) (api.FlashLiquidationResult, error)

	SetPrice(ctx context.Context, caller, market, usdPerUnit string) error
	SetCollateralFactor(ctx context.Context, caller, market, factor string) error
	SetBorrowCap(ctx context.Context, caller, market, wholeUnits string) error
	SetActionPaused(ctx context.Context, caller string, req api.PauseRequest) error
}
