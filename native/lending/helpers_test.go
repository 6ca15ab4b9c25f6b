package lending

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"moneymarket/storage"
)

var (
	ownerAddr  = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	user1Addr  = common.HexToAddress("0x00000000000000000000000000000000000000b1")
	user2Addr  = common.HexToAddress("0x00000000000000000000000000000000000000b2")
	tokenAAddr = common.HexToAddress("0x00000000000000000000000000000000000000ca")
	tokenBAddr = common.HexToAddress("0x00000000000000000000000000000000000000cb")
	cTokenA    = common.HexToAddress("0x00000000000000000000000000000000000001ca")
	cTokenB    = common.HexToAddress("0x00000000000000000000000000000000000001cb")
)

func u(v uint64) *uint256.Int { return uint256.NewInt(v) }

// e18 returns v * 1e18.
func e18(v uint64) *uint256.Int { return new(uint256.Int).Mul(u(v), expScale) }

type fixture struct {
	ledger *Ledger
	clock  *ManualClock
	oracle *SimplePriceOracle
}

// newFixture lists two 18-decimal markets priced at $1 (A) and $100 (B) with
// collateral factors 0.9 and 0.5, close factor 0.5, incentive 1.08 and a
// zero-rate model. owner holds 6,000,000e18 of both underlyings.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		clock:  NewManualClock(100),
		oracle: NewSimplePriceOracle(),
	}
	f.ledger = NewLedger(storage.NewMemDB(), f.clock)
	f.oracle.SetUnderlyingPrice(cTokenA, e18(1))
	f.oracle.SetUnderlyingPrice(cTokenB, e18(100))

	f.update(t, func(tx *Tx) error {
		bank := tx.Bank()
		for _, asset := range []common.Address{tokenAAddr, tokenBAddr} {
			if err := bank.Mint(asset, ownerAddr, e18(6_000_000)); err != nil {
				return err
			}
		}
		c := tx.Comptroller()
		if err := c.Initialize(ownerAddr); err != nil {
			return err
		}
		if err := c.SetPriceOracle(ownerAddr, f.oracle); err != nil {
			return err
		}
		zeroModel := NewWhitePaperModel(zero(), zero())
		for _, p := range []MarketParams{
			{Address: cTokenA, Underlying: tokenAAddr, Symbol: "CTA", Decimals: 18, InitialExchangeRate: e18(1), RateModel: zeroModel},
			{Address: cTokenB, Underlying: tokenBAddr, Symbol: "CTB", Decimals: 18, InitialExchangeRate: e18(1), RateModel: zeroModel},
		} {
			if err := c.SupportMarket(ownerAddr, p); err != nil {
				return err
			}
		}
		if err := c.SetCollateralFactor(ownerAddr, cTokenA, Mantissa(9, 10)); err != nil {
			return err
		}
		if err := c.SetCollateralFactor(ownerAddr, cTokenB, Mantissa(5, 10)); err != nil {
			return err
		}
		if err := c.SetCloseFactor(ownerAddr, Mantissa(5, 10)); err != nil {
			return err
		}
		return c.SetLiquidationIncentive(ownerAddr, Mantissa(108, 100))
	})
	return f
}

func (f *fixture) update(t *testing.T, fn func(tx *Tx) error) {
	t.Helper()
	if err := f.ledger.Update(fn); err != nil {
		t.Fatalf("update: %v", err)
	}
}

func (f *fixture) view(t *testing.T, fn func(tx *Tx) error) {
	t.Helper()
	if err := f.ledger.View(fn); err != nil {
		t.Fatalf("view: %v", err)
	}
}

func (f *fixture) fund(t *testing.T, asset, to common.Address, amount *uint256.Int) {
	t.Helper()
	f.update(t, func(tx *Tx) error {
		return tx.Bank().Transfer(asset, ownerAddr, to, amount)
	})
}

func (f *fixture) market(t *testing.T, tx *Tx, addr common.Address) *Market {
	t.Helper()
	m, err := tx.Market(addr)
	if err != nil {
		t.Fatalf("market %s: %v", addr.Hex(), err)
	}
	return m
}

func (f *fixture) mint(t *testing.T, market, account common.Address, amount *uint256.Int) {
	t.Helper()
	f.update(t, func(tx *Tx) error {
		_, err := f.market(t, tx, market).Mint(account, amount)
		return err
	})
}

func (f *fixture) liquidity(t *testing.T, account common.Address) AccountLiquidity {
	t.Helper()
	var out AccountLiquidity
	f.view(t, func(tx *Tx) error {
		var err error
		out, err = tx.Comptroller().GetAccountLiquidity(account)
		return err
	})
	return out
}

func (f *fixture) tokenBalance(t *testing.T, market, account common.Address) *uint256.Int {
	t.Helper()
	var out *uint256.Int
	f.view(t, func(tx *Tx) error {
		var err error
		out, err = f.market(t, tx, market).BalanceOf(account)
		return err
	})
	return out
}

func (f *fixture) borrowBalance(t *testing.T, market, account common.Address) *uint256.Int {
	t.Helper()
	var out *uint256.Int
	f.view(t, func(tx *Tx) error {
		var err error
		out, err = f.market(t, tx, market).BorrowBalanceStored(account)
		return err
	})
	return out
}

func (f *fixture) underlying(t *testing.T, asset, account common.Address) *uint256.Int {
	t.Helper()
	var out *uint256.Int
	f.view(t, func(tx *Tx) error {
		var err error
		out, err = tx.Bank().BalanceOf(asset, account)
		return err
	})
	return out
}

// borrowScenario: owner supplies 100 A, user1 supplies 1 B as collateral and
// borrows 50 A, leaving exactly zero liquidity.
func (f *fixture) borrowScenario(t *testing.T, scale func(uint64) *uint256.Int) {
	t.Helper()
	f.mint(t, cTokenA, ownerAddr, scale(100))
	f.fund(t, tokenBAddr, user1Addr, scale(1))
	f.mint(t, cTokenB, user1Addr, scale(1))
	f.update(t, func(tx *Tx) error {
		if err := tx.Comptroller().EnterMarkets(user1Addr, cTokenB); err != nil {
			return err
		}
		return f.market(t, tx, cTokenA).Borrow(user1Addr, scale(50))
	})
}

func expectAmount(t *testing.T, label string, got, want *uint256.Int) {
	t.Helper()
	if got == nil || !got.Eq(want) {
		t.Fatalf("%s: got %v, want %s", label, got, want.Dec())
	}
}
