// Package enginetest seeds a ledger-backed engine with a two-market book used
// by the service, client and bot tests.
package enginetest

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"moneymarket/native/flashloan"
	"moneymarket/native/lending"
	"moneymarket/native/swap"
	"moneymarket/services/lending/engine"
	"moneymarket/storage"
)

var (
	Admin    = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	Supplier = common.HexToAddress("0x00000000000000000000000000000000000000a2")
	Borrower = common.HexToAddress("0x00000000000000000000000000000000000000b1")
	Keeper   = common.HexToAddress("0x00000000000000000000000000000000000000b2")
)

// Config lists cUSDC (6 decimals, $1) and cUNI (18 decimals, $10) with zero
// interest so balances stay exact across blocks.
func Config() lending.Config {
	return lending.Config{
		Admin:                Admin.Hex(),
		CloseFactor:          "0.5",
		LiquidationIncentive: "1.1",
		Markets: []lending.MarketConfig{
			{
				Symbol:              "cUSDC",
				UnderlyingSymbol:    "USDC",
				Decimals:            6,
				InitialExchangeRate: "0.000000000001",
				CollateralFactor:    "0.9",
				Price:               "1",
			},
			{
				Symbol:              "cUNI",
				UnderlyingSymbol:    "UNI",
				Decimals:            18,
				InitialExchangeRate: "1",
				CollateralFactor:    "0.5",
				Price:               "10",
			},
		},
	}
}

// Scenario is a seeded book: Supplier provides 10,000 USDC and Borrower
// borrows 5,000 USDC against 1,000 UNI. A 10,000 USDC flash pool and a
// UNI/USDC pool priced at $6.2 are funded, and Admin keeps 10,000 USDC.
type Scenario struct {
	Ledger *lending.Ledger
	Clock  *lending.ManualClock
	Oracle *lending.SimplePriceOracle
	Lender *flashloan.Lender
	Engine *engine.LedgerEngine

	USDC, UNI   common.Address
	CUSDC, CUNI common.Address
}

// Whole converts whole units to smallest units.
func Whole(units uint64, decimals uint8) *uint256.Int {
	scale := new(uint256.Int).Exp(uint256.NewInt(10), uint256.NewInt(uint64(decimals)))
	return new(uint256.Int).Mul(uint256.NewInt(units), scale)
}

// New builds the scenario. The borrower is healthy until DropPrice.
func New(tb testing.TB) *Scenario {
	tb.Helper()
	cfg := Config()
	s := &Scenario{
		Clock:  lending.NewManualClock(1),
		Oracle: lending.NewSimplePriceOracle(),
	}
	s.Ledger = lending.NewLedger(storage.NewMemDB(), s.Clock)
	lender, err := flashloan.NewLender(5)
	if err != nil {
		tb.Fatalf("lender: %v", err)
	}
	s.Lender = lender
	for i, dst := range []*common.Address{&s.CUSDC, &s.CUNI} {
		if *dst, err = cfg.Markets[i].MarketAddress(); err != nil {
			tb.Fatalf("market address: %v", err)
		}
	}
	for i, dst := range []*common.Address{&s.USDC, &s.UNI} {
		if *dst, err = cfg.Markets[i].UnderlyingAddress(); err != nil {
			tb.Fatalf("underlying address: %v", err)
		}
	}

	err = s.Ledger.Update(func(tx *lending.Tx) error {
		if err := cfg.Apply(tx, s.Oracle); err != nil {
			return err
		}
		b := tx.Bank()
		mints := []struct {
			asset, to common.Address
			amount    *uint256.Int
		}{
			{s.USDC, Supplier, Whole(10_000, 6)},
			{s.UNI, Borrower, Whole(1_000, 18)},
			{s.USDC, Admin, Whole(620_000, 6)},
			{s.UNI, Admin, Whole(100_000, 18)},
			{s.USDC, Admin, Whole(20_000, 6)},
		}
		for _, m := range mints {
			if err := b.Mint(m.asset, m.to, m.amount); err != nil {
				return err
			}
		}
		if err := lender.Deposit(tx, Admin, s.USDC, Whole(10_000, 6)); err != nil {
			return err
		}
		ex := swap.New(tx.DB())
		if _, err := ex.CreatePool(s.UNI, s.USDC, 30); err != nil {
			return err
		}
		return ex.AddLiquidity(Admin, s.UNI, s.USDC, Whole(100_000, 18), Whole(620_000, 6))
	})
	if err != nil {
		tb.Fatalf("seed ledger: %v", err)
	}

	err = s.Ledger.Update(func(tx *lending.Tx) error {
		usdc, err := tx.Market(s.CUSDC)
		if err != nil {
			return err
		}
		if _, err := usdc.Mint(Supplier, Whole(10_000, 6)); err != nil {
			return err
		}
		uni, err := tx.Market(s.CUNI)
		if err != nil {
			return err
		}
		if _, err := uni.Mint(Borrower, Whole(1_000, 18)); err != nil {
			return err
		}
		if err := tx.Comptroller().EnterMarkets(Borrower, s.CUNI); err != nil {
			return err
		}
		return usdc.Borrow(Borrower, Whole(5_000, 6))
	})
	if err != nil {
		tb.Fatalf("open positions: %v", err)
	}
	s.Engine = engine.NewLedgerEngine(s.Ledger, s.Oracle, s.Lender)
	return s
}

// DropPrice moves UNI to $6.2, leaving the borrower 1,900 USD short.
func (s *Scenario) DropPrice(tb testing.TB) {
	tb.Helper()
	price, err := lending.ScalePrice(lending.Mantissa(62, 10), 18)
	if err != nil {
		tb.Fatalf("scale price: %v", err)
	}
	s.Oracle.SetUnderlyingPrice(s.CUNI, price)
}
