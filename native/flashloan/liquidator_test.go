package flashloan

import (
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"moneymarket/native/lending"
	"moneymarket/native/swap"
	"moneymarket/storage"
)

var (
	owner    = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	borrower = common.HexToAddress("0x00000000000000000000000000000000000000b1")
	keeper   = common.HexToAddress("0x00000000000000000000000000000000000000b2")
	usdc     = common.HexToAddress("0x00000000000000000000000000000000000000c1")
	uni      = common.HexToAddress("0x00000000000000000000000000000000000000c2")
	cUSDC    = common.HexToAddress("0x00000000000000000000000000000000000001c1")
	cUNI     = common.HexToAddress("0x00000000000000000000000000000000000001c2")
)

func pow10(n uint64) *uint256.Int {
	return new(uint256.Int).Exp(uint256.NewInt(10), uint256.NewInt(n))
}

func amount(whole, decimals uint64) *uint256.Int {
	return new(uint256.Int).Mul(uint256.NewInt(whole), pow10(decimals))
}

type scenario struct {
	ledger *lending.Ledger
	oracle *lending.SimplePriceOracle
	lender *Lender
}

// newScenario: 10,000 USDC supplied, the borrower posts 1,000 UNI at $10 with
// a 0.5 collateral factor and borrows 5,000 USDC, then UNI drops to $6.2.
func newScenario(t *testing.T) *scenario {
	t.Helper()
	lender, err := NewLender(5)
	if err != nil {
		t.Fatalf("lender: %v", err)
	}
	s := &scenario{
		ledger: lending.NewLedger(storage.NewMemDB(), lending.NewManualClock(1)),
		oracle: lending.NewSimplePriceOracle(),
		lender: lender,
	}
	s.oracle.SetUnderlyingPrice(cUSDC, new(uint256.Int).Mul(lending.Mantissa(1, 1), pow10(12)))
	s.oracle.SetUnderlyingPrice(cUNI, amount(10, 18))

	s.update(t, func(tx *lending.Tx) error {
		b := tx.Bank()
		mints := []struct {
			asset, to common.Address
			amount    *uint256.Int
		}{
			{usdc, owner, amount(10_000, 6)},
			{uni, borrower, amount(1_000, 18)},
			{usdc, lender.Pool, amount(10_000, 6)},
			{usdc, owner, amount(620_000, 6)},
			{uni, owner, amount(100_000, 18)},
		}
		for _, m := range mints {
			if err := b.Mint(m.asset, m.to, m.amount); err != nil {
				return err
			}
		}
		ex := swap.New(tx.DB())
		if _, err := ex.CreatePool(uni, usdc, 30); err != nil {
			return err
		}
		if err := ex.AddLiquidity(owner, uni, usdc, amount(100_000, 18), amount(620_000, 6)); err != nil {
			return err
		}

		c := tx.Comptroller()
		if err := c.Initialize(owner); err != nil {
			return err
		}
		if err := c.SetPriceOracle(owner, s.oracle); err != nil {
			return err
		}
		zeroModel := lending.NewWhitePaperModel(new(uint256.Int), new(uint256.Int))
		if err := c.SupportMarket(owner, lending.MarketParams{
			Address: cUSDC, Underlying: usdc, Symbol: "cUSDC", Decimals: 6,
			InitialExchangeRate: pow10(6), RateModel: zeroModel,
		}); err != nil {
			return err
		}
		if err := c.SupportMarket(owner, lending.MarketParams{
			Address: cUNI, Underlying: uni, Symbol: "cUNI", Decimals: 18,
			InitialExchangeRate: pow10(18), RateModel: zeroModel,
		}); err != nil {
			return err
		}
		if err := c.SetCollateralFactor(owner, cUSDC, lending.Mantissa(9, 10)); err != nil {
			return err
		}
		if err := c.SetCollateralFactor(owner, cUNI, lending.Mantissa(5, 10)); err != nil {
			return err
		}
		if err := c.SetCloseFactor(owner, lending.Mantissa(5, 10)); err != nil {
			return err
		}
		return c.SetLiquidationIncentive(owner, lending.Mantissa(11, 10))
	})

	s.update(t, func(tx *lending.Tx) error {
		usdcMarket, err := tx.Market(cUSDC)
		if err != nil {
			return err
		}
		minted, err := usdcMarket.Mint(owner, amount(10_000, 6))
		if err != nil {
			return err
		}
		if !minted.Eq(amount(10_000, 18)) {
			t.Fatalf("unexpected cUSDC minted %s", minted.Dec())
		}
		uniMarket, err := tx.Market(cUNI)
		if err != nil {
			return err
		}
		if _, err := uniMarket.Mint(borrower, amount(1_000, 18)); err != nil {
			return err
		}
		if err := tx.Comptroller().EnterMarkets(borrower, cUNI); err != nil {
			return err
		}
		return usdcMarket.Borrow(borrower, amount(5_000, 6))
	})
	s.oracle.SetUnderlyingPrice(cUNI, lending.Mantissa(62, 10))
	return s
}

func (s *scenario) update(t *testing.T, fn func(tx *lending.Tx) error) {
	t.Helper()
	if err := s.ledger.Update(fn); err != nil {
		t.Fatalf("update: %v", err)
	}
}

type snapshot struct {
	debt, collateral, keeperUSDC, keeperCUNI, poolUSDC *uint256.Int
}

func (s *scenario) snapshot(t *testing.T) snapshot {
	t.Helper()
	var out snapshot
	err := s.ledger.View(func(tx *lending.Tx) error {
		usdcMarket, err := tx.Market(cUSDC)
		if err != nil {
			return err
		}
		uniMarket, err := tx.Market(cUNI)
		if err != nil {
			return err
		}
		if out.debt, err = usdcMarket.BorrowBalanceStored(borrower); err != nil {
			return err
		}
		if out.collateral, err = uniMarket.BalanceOf(borrower); err != nil {
			return err
		}
		if out.keeperCUNI, err = uniMarket.BalanceOf(keeper); err != nil {
			return err
		}
		if out.keeperUSDC, err = tx.Bank().BalanceOf(usdc, keeper); err != nil {
			return err
		}
		out.poolUSDC, err = s.lender.Available(tx, usdc)
		return err
	})
	if err != nil {
		t.Fatalf("view: %v", err)
	}
	return out
}

func TestFlashLiquidationUSDCAgainstUNI(t *testing.T) {
	s := newScenario(t)

	var liq lending.AccountLiquidity
	if err := s.ledger.View(func(tx *lending.Tx) error {
		var err error
		liq, err = tx.Comptroller().GetAccountLiquidity(borrower)
		return err
	}); err != nil {
		t.Fatalf("liquidity: %v", err)
	}
	if !liq.Liquidity.IsZero() || liq.Shortfall.IsZero() {
		t.Fatalf("expected shortfall, got liquidity=%s shortfall=%s", liq.Liquidity.Dec(), liq.Shortfall.Dec())
	}
	// 5000 - 1000*6.2*0.5
	if !liq.Shortfall.Eq(amount(1_900, 18)) {
		t.Fatalf("unexpected shortfall %s", liq.Shortfall.Dec())
	}

	var result *Result
	s.update(t, func(tx *lending.Tx) error {
		var err error
		result, err = NewLiquidator(s.lender).Execute(tx, Params{
			Liquidator:       keeper,
			Borrower:         borrower,
			RepayMarket:      cUSDC,
			CollateralMarket: cUNI,
			RepayAmount:      amount(2_500, 6),
		})
		return err
	})

	seized, _ := uint256.FromDecimal("443548387096774193548")
	if !result.SeizedTokens.Eq(seized) {
		t.Fatalf("unexpected seized tokens %s", result.SeizedTokens.Dec())
	}
	if !result.Redeemed.Eq(seized) {
		t.Fatalf("unexpected redeemed UNI %s", result.Redeemed.Dec())
	}
	if !result.Fee.Eq(uint256.NewInt(1_250_000)) {
		t.Fatalf("unexpected fee %s", result.Fee.Dec())
	}
	if result.Profit.IsZero() {
		t.Fatalf("expected profit")
	}
	owed := new(uint256.Int).Add(result.Repaid, result.Fee)
	if !new(uint256.Int).Sub(result.Proceeds, owed).Eq(result.Profit) {
		t.Fatalf("profit %s does not match proceeds %s", result.Profit.Dec(), result.Proceeds.Dec())
	}

	after := s.snapshot(t)
	if !after.debt.Eq(amount(2_500, 6)) {
		t.Fatalf("unexpected remaining debt %s", after.debt.Dec())
	}
	if !after.keeperUSDC.Eq(result.Profit) {
		t.Fatalf("keeper holds %s, profit %s", after.keeperUSDC.Dec(), result.Profit.Dec())
	}
	if !after.keeperCUNI.IsZero() {
		t.Fatalf("keeper kept receipt tokens %s", after.keeperCUNI.Dec())
	}
	if !after.poolUSDC.Eq(new(uint256.Int).Add(amount(10_000, 6), result.Fee)) {
		t.Fatalf("pool not repaid: %s", after.poolUSDC.Dec())
	}
	if !after.collateral.Eq(new(uint256.Int).Sub(amount(1_000, 18), seized)) {
		t.Fatalf("unexpected borrower collateral %s", after.collateral.Dec())
	}
}

func TestFlashLiquidationUnwindsWithoutStateChange(t *testing.T) {
	s := newScenario(t)
	before := s.snapshot(t)

	cases := []struct {
		name  string
		p     Params
		cause error
	}{
		{"unprofitable", Params{Liquidator: keeper, Borrower: borrower, RepayMarket: cUSDC, CollateralMarket: cUNI,
			RepayAmount: amount(2_500, 6), MinProfit: amount(1_000, 6)}, ErrUnprofitable},
		{"too much repay", Params{Liquidator: keeper, Borrower: borrower, RepayMarket: cUSDC, CollateralMarket: cUNI,
			RepayAmount: amount(2_600, 6)}, lending.ErrTooMuchRepay},
		{"pool too small", Params{Liquidator: keeper, Borrower: borrower, RepayMarket: cUSDC, CollateralMarket: cUNI,
			RepayAmount: amount(20_000, 6)}, ErrInsufficientLiquidity},
		{"slippage", Params{Liquidator: keeper, Borrower: borrower, RepayMarket: cUSDC, CollateralMarket: cUNI,
			RepayAmount: amount(2_500, 6), MinSwapOut: amount(5_000, 6)}, swap.ErrSlippage},
	}
	for _, tc := range cases {
		err := s.ledger.Update(func(tx *lending.Tx) error {
			_, err := NewLiquidator(s.lender).Execute(tx, tc.p)
			return err
		})
		if !errors.Is(err, ErrFlashLoanUnwound) || !errors.Is(err, tc.cause) {
			t.Fatalf("%s: expected unwound %v, got %v", tc.name, tc.cause, err)
		}
		after := s.snapshot(t)
		if !after.debt.Eq(before.debt) || !after.collateral.Eq(before.collateral) ||
			!after.keeperUSDC.Eq(before.keeperUSDC) || !after.poolUSDC.Eq(before.poolUSDC) {
			t.Fatalf("%s: state changed after unwind", tc.name)
		}
	}
}

func TestFlashLoanUnwindInsideCommittedTransaction(t *testing.T) {
	s := newScenario(t)
	before := s.snapshot(t)

	// The outer transaction commits; only the flash loan's writes are dropped.
	s.update(t, func(tx *lending.Tx) error {
		_, err := NewLiquidator(s.lender).Execute(tx, Params{
			Liquidator: keeper, Borrower: borrower, RepayMarket: cUSDC, CollateralMarket: cUNI,
			RepayAmount: amount(2_500, 6), MinProfit: amount(1_000_000, 6),
		})
		if !errors.Is(err, ErrUnprofitable) {
			t.Fatalf("expected ErrUnprofitable, got %v", err)
		}
		return nil
	})
	after := s.snapshot(t)
	if !after.debt.Eq(before.debt) || !after.poolUSDC.Eq(before.poolUSDC) {
		t.Fatalf("flash loan writes leaked into the committed transaction")
	}
}

func TestFlashLoanRequiresRepayment(t *testing.T) {
	s := newScenario(t)
	sink := common.HexToAddress("0x00000000000000000000000000000000000000dd")
	err := s.ledger.Update(func(tx *lending.Tx) error {
		_, err := s.lender.FlashLoan(tx, keeper, usdc, amount(100, 6), func(amt, fee *uint256.Int) error {
			return tx.Bank().Transfer(usdc, keeper, sink, amt)
		})
		return err
	})
	if !errors.Is(err, ErrFlashLoanUnwound) || !errors.Is(err, ErrNotRepaid) {
		t.Fatalf("expected unrepaid loan to unwind, got %v", err)
	}
	if got := s.snapshot(t).poolUSDC; !got.Eq(amount(10_000, 6)) {
		t.Fatalf("pool balance changed: %s", got.Dec())
	}
}

func TestLenderFeeRoundsUp(t *testing.T) {
	lender, err := NewLender(9)
	if err != nil {
		t.Fatalf("lender: %v", err)
	}
	cases := []struct {
		amount *uint256.Int
		want   uint64
	}{
		{uint256.NewInt(1_000), 1},
		{uint256.NewInt(10_000), 9},
		{uint256.NewInt(0), 0},
	}
	for _, tc := range cases {
		fee, err := lender.Fee(tc.amount)
		if err != nil {
			t.Fatalf("fee on %s: %v", tc.amount.Dec(), err)
		}
		if fee.Uint64() != tc.want {
			t.Fatalf("fee on %s: got %s, want %d", tc.amount.Dec(), fee.Dec(), tc.want)
		}
	}
	if _, err := NewLender(MaxFeeBps + 1); err == nil {
		t.Fatalf("expected fee cap to be enforced")
	}
}

func TestLenderFeeDoesNotWrapOnHugeAmounts(t *testing.T) {
	lender, err := NewLender(9)
	if err != nil {
		t.Fatalf("lender: %v", err)
	}
	huge := new(uint256.Int).SetAllOne()
	fee, err := lender.Fee(huge)
	if err != nil {
		t.Fatalf("fee: %v", err)
	}
	product := new(big.Int).Mul(huge.ToBig(), big.NewInt(9))
	want, rem := new(big.Int).QuoRem(product, big.NewInt(10_000), new(big.Int))
	if rem.Sign() != 0 {
		want.Add(want, big.NewInt(1))
	}
	if fee.ToBig().Cmp(want) != 0 {
		t.Fatalf("fee on max amount: got %s, want %s", fee.Dec(), want)
	}

	ledger := lending.NewLedger(storage.NewMemDB(), lending.NewManualClock(1))
	err = ledger.Update(func(tx *lending.Tx) error {
		_, err := lender.FlashLoan(tx, keeper, usdc, huge, func(_, _ *uint256.Int) error {
			t.Fatal("callback must not run when principal plus fee overflows")
			return nil
		})
		return err
	})
	if !errors.Is(err, ErrFlashLoanUnwound) || !errors.Is(err, lending.ErrMathOverflow) {
		t.Fatalf("expected overflow to unwind the loan, got %v", err)
	}
}
