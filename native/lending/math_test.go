package lending

import (
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

func pow2(n uint64) *uint256.Int {
	return new(uint256.Int).Lsh(u(1), uint(n))
}

func TestMulDivUpUsesWideProduct(t *testing.T) {
	// 2^252 * 16 does not fit in 256 bits; the quotient by 32 does.
	exact, err := mulDiv(pow2(252), u(16), u(32))
	if err != nil {
		t.Fatalf("mulDiv: %v", err)
	}
	up, err := mulDivUp(pow2(252), u(16), u(32))
	if err != nil {
		t.Fatalf("mulDivUp: %v", err)
	}
	expectAmount(t, "exact quotient", exact, pow2(251))
	expectAmount(t, "exact quotient rounded up", up, pow2(251))

	odd := new(uint256.Int).Add(pow2(252), u(1))
	up, err = mulDivUp(odd, u(16), u(32))
	if err != nil {
		t.Fatalf("mulDivUp with remainder: %v", err)
	}
	expectAmount(t, "inexact quotient rounded up", up, new(uint256.Int).Add(pow2(251), u(1)))

	if _, err := mulDivUp(pow2(255), u(4), u(1)); !errors.Is(err, ErrMathOverflow) {
		t.Fatalf("expected ErrMathOverflow, got %v", err)
	}
	if _, err := MulDivUp(u(1), u(1), u(0)); !errors.Is(err, ErrMathOverflow) {
		t.Fatalf("expected ErrMathOverflow on zero divisor, got %v", err)
	}
}

func TestMintOverflowFailsWithoutWrapping(t *testing.T) {
	f := newFixture(t)
	cTokenC := common.HexToAddress("0x00000000000000000000000000000000000001cc")
	huge := pow2(200)
	f.update(t, func(tx *Tx) error {
		// One receipt token per 1e-18 underlying: minting multiplies by 1e18.
		if err := tx.Comptroller().SupportMarket(ownerAddr, MarketParams{
			Address: cTokenC, Underlying: tokenAAddr, Symbol: "CTC", Decimals: 18,
			InitialExchangeRate: u(1), RateModel: NewWhitePaperModel(zero(), zero()),
		}); err != nil {
			return err
		}
		return tx.Bank().Mint(tokenAAddr, user1Addr, huge)
	})

	err := f.ledger.Update(func(tx *Tx) error {
		_, err := f.market(t, tx, cTokenC).Mint(user1Addr, huge)
		return err
	})
	if !errors.Is(err, ErrMathOverflow) {
		t.Fatalf("expected ErrMathOverflow, got %v", err)
	}
	expectAmount(t, "underlying untouched", f.underlying(t, tokenAAddr, user1Addr), huge)
	expectAmount(t, "no tokens minted", f.tokenBalance(t, cTokenC, user1Addr), u(0))
	f.view(t, func(tx *Tx) error {
		state, err := f.market(t, tx, cTokenC).Snapshot()
		if err != nil {
			return err
		}
		expectAmount(t, "total supply", state.TotalSupply, u(0))
		return nil
	})
}

func TestAccrualOverflowFailsWithoutWrapping(t *testing.T) {
	f := newFixture(t)
	f.borrowScenario(t, e18)
	withInterest(t, f, MaxBorrowRatePerBlock.Uint64())
	f.update(t, func(tx *Tx) error {
		st := tx.store()
		state, _, err := st.market(cTokenA)
		if err != nil {
			return err
		}
		state.TotalBorrows = pow2(254)
		return st.putMarket(state)
	})
	// sif = 5e12 * 1e6 = 5e18, so interest = 5 * 2^254 exceeds 256 bits.
	f.clock.Advance(1_000_000)

	err := f.ledger.Update(func(tx *Tx) error {
		return f.market(t, tx, cTokenA).AccrueInterest()
	})
	if !errors.Is(err, ErrMathOverflow) {
		t.Fatalf("accrue: expected ErrMathOverflow, got %v", err)
	}
	err = f.ledger.Update(func(tx *Tx) error {
		_, err := f.market(t, tx, cTokenA).Mint(ownerAddr, e18(1))
		return err
	})
	if !errors.Is(err, ErrMathOverflow) {
		t.Fatalf("mint: expected ErrMathOverflow, got %v", err)
	}
	err = f.ledger.View(func(tx *Tx) error {
		_, err := f.market(t, tx, cTokenA).TotalBorrowsCurrent()
		return err
	})
	if !errors.Is(err, ErrMathOverflow) {
		t.Fatalf("total borrows current: expected ErrMathOverflow, got %v", err)
	}

	f.view(t, func(tx *Tx) error {
		state, err := f.market(t, tx, cTokenA).Snapshot()
		if err != nil {
			return err
		}
		expectAmount(t, "stored borrows", state.TotalBorrows, pow2(254))
		if state.AccrualBlock != 100 {
			t.Fatalf("failed accrual persisted: block %d", state.AccrualBlock)
		}
		return nil
	})
	expectAmount(t, "owner tokens", f.tokenBalance(t, cTokenA, ownerAddr), e18(100))
}

func TestCurrentGettersProjectInterest(t *testing.T) {
	f := newFixture(t)
	f.borrowScenario(t, e18)
	withInterest(t, f, 1_000_000_000_000)
	f.clock.Advance(1_000)

	f.view(t, func(tx *Tx) error {
		m := f.market(t, tx, cTokenA)
		total, err := m.TotalBorrowsCurrent()
		if err != nil {
			return err
		}
		// interest = 1e12 * 1000 * 50e18 / 1e18 = 5e16, a tenth to reserves
		expectAmount(t, "total borrows current", total, new(uint256.Int).Add(e18(50), u(50_000_000_000_000_000)))
		underlying, err := m.BalanceOfUnderlying(ownerAddr)
		if err != nil {
			return err
		}
		// exchange rate 1.00045 on 100 tokens
		expectAmount(t, "balance of underlying", underlying, new(uint256.Int).Add(e18(100), u(45_000_000_000_000_000)))
		return nil
	})

	f.view(t, func(tx *Tx) error {
		state, err := f.market(t, tx, cTokenA).Snapshot()
		if err != nil {
			return err
		}
		expectAmount(t, "stored borrows", state.TotalBorrows, e18(50))
		return nil
	})
}
