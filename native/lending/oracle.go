package lending

import (
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// PriceOracle resolves the price of a market's underlying asset.
//
// Prices are mantissas of USD per smallest unit of the underlying, i.e. a
// whole-unit USD price scaled by 1e(36-decimals): $1 for a 6-decimal asset is
// 1e30 and $100 for an 18-decimal asset is 100e18. A nil or zero price means
// unavailable. The comptroller then values that market's collateral at zero
// and refuses any operation that needs the price of debt in it.
type PriceOracle interface {
	UnderlyingPrice(market common.Address) *uint256.Int
}

// ScalePrice converts a whole-unit USD price mantissa into the per-smallest-unit
// mantissa expected by the comptroller.
func ScalePrice(usdPerUnit *uint256.Int, decimals uint8) (*uint256.Int, error) {
	if usdPerUnit == nil {
		return nil, fmt.Errorf("lending: price required")
	}
	if decimals > 36 {
		return nil, fmt.Errorf("lending: unsupported decimals %d", decimals)
	}
	if decimals <= 18 {
		factor := new(uint256.Int).Exp(uint256.NewInt(10), uint256.NewInt(uint64(18-decimals)))
		return mul(usdPerUnit, factor)
	}
	factor := new(uint256.Int).Exp(uint256.NewInt(10), uint256.NewInt(uint64(decimals-18)))
	return new(uint256.Int).Div(usdPerUnit, factor), nil
}

// SimplePriceOracle stores prices set by an operator or feeder.
type SimplePriceOracle struct {
	mu     sync.RWMutex
	prices map[common.Address]*uint256.Int
}

// NewSimplePriceOracle returns an empty oracle.
func NewSimplePriceOracle() *SimplePriceOracle {
	return &SimplePriceOracle{prices: make(map[common.Address]*uint256.Int)}
}

// SetUnderlyingPrice records the price of market's underlying. A zero price
// marks the market unavailable.
func (o *SimplePriceOracle) SetUnderlyingPrice(market common.Address, price *uint256.Int) {
	if o == nil {
		return
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if price == nil || price.IsZero() {
		delete(o.prices, market)
		return
	}
	o.prices[market] = new(uint256.Int).Set(price)
}

func (o *SimplePriceOracle) UnderlyingPrice(market common.Address) *uint256.Int {
	if o == nil {
		return nil
	}
	o.mu.RLock()
	defer o.mu.RUnlock()
	price, ok := o.prices[market]
	if !ok {
		return nil
	}
	return new(uint256.Int).Set(price)
}
