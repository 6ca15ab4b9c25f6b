package lending

import (
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

func TestLiquidityAndShortfallAreExclusive(t *testing.T) {
	f := newFixture(t)
	f.mint(t, cTokenA, ownerAddr, u(100))
	f.fund(t, tokenBAddr, user1Addr, u(1))
	f.mint(t, cTokenB, user1Addr, u(1))
	f.update(t, func(tx *Tx) error {
		return tx.Comptroller().EnterMarkets(user1Addr, cTokenB)
	})

	liq := f.liquidity(t, user1Addr)
	expectAmount(t, "liquidity", liq.Liquidity, u(50))
	expectAmount(t, "shortfall", liq.Shortfall, u(0))

	f.update(t, func(tx *Tx) error {
		return f.market(t, tx, cTokenA).Borrow(user1Addr, u(20))
	})
	liq = f.liquidity(t, user1Addr)
	expectAmount(t, "liquidity after borrow", liq.Liquidity, u(30))
	expectAmount(t, "shortfall after borrow", liq.Shortfall, u(0))

	f.update(t, func(tx *Tx) error {
		return tx.Comptroller().SetCollateralFactor(ownerAddr, cTokenB, Mantissa(1, 10))
	})
	liq = f.liquidity(t, user1Addr)
	expectAmount(t, "liquidity underwater", liq.Liquidity, u(0))
	expectAmount(t, "shortfall underwater", liq.Shortfall, u(10))
	if liq.Healthy() {
		t.Fatalf("expected unhealthy account")
	}
}

func TestCollateralFactorDropCreatesShortfall(t *testing.T) {
	f := newFixture(t)
	f.borrowScenario(t, u)

	f.update(t, func(tx *Tx) error {
		return tx.Comptroller().SetCollateralFactor(ownerAddr, cTokenB, Mantissa(4, 10))
	})
	liq := f.liquidity(t, user1Addr)
	expectAmount(t, "liquidity", liq.Liquidity, u(0))
	expectAmount(t, "shortfall", liq.Shortfall, u(10))

	f.fund(t, tokenAAddr, user2Addr, u(100))

	err := f.ledger.Update(func(tx *Tx) error {
		_, _, err := f.market(t, tx, cTokenA).LiquidateBorrow(user2Addr, user1Addr, u(26), cTokenB)
		return err
	})
	if !errors.Is(err, ErrTooMuchRepay) {
		t.Fatalf("expected ErrTooMuchRepay, got %v", err)
	}

	err = f.ledger.Update(func(tx *Tx) error {
		_, _, err := f.market(t, tx, cTokenA).LiquidateBorrow(user1Addr, user1Addr, u(10), cTokenB)
		return err
	})
	if !errors.Is(err, ErrLiquidatorIsBorrower) {
		t.Fatalf("expected ErrLiquidatorIsBorrower, got %v", err)
	}

	f.update(t, func(tx *Tx) error {
		repaid, seized, err := f.market(t, tx, cTokenA).LiquidateBorrow(user2Addr, user1Addr, u(25), cTokenB)
		if err != nil {
			return err
		}
		expectAmount(t, "repaid", repaid, u(25))
		// 25 * 1.08 * $1 / $100 truncates to zero whole tokens.
		expectAmount(t, "seized", seized, u(0))
		return nil
	})
	expectAmount(t, "remaining debt", f.borrowBalance(t, cTokenA, user1Addr), u(25))
	expectAmount(t, "liquidator paid", f.underlying(t, tokenAAddr, user2Addr), u(75))
}

func TestPriceRiseCreatesShortfall(t *testing.T) {
	f := newFixture(t)
	f.borrowScenario(t, u)

	f.oracle.SetUnderlyingPrice(cTokenA, Mantissa(15, 10))
	liq := f.liquidity(t, user1Addr)
	expectAmount(t, "liquidity", liq.Liquidity, u(0))
	expectAmount(t, "shortfall", liq.Shortfall, u(25))

	f.fund(t, tokenAAddr, user2Addr, u(100))
	f.update(t, func(tx *Tx) error {
		repaid, _, err := f.market(t, tx, cTokenA).LiquidateBorrow(user2Addr, user1Addr, u(25), cTokenB)
		if err != nil {
			return err
		}
		expectAmount(t, "repaid", repaid, u(25))
		return nil
	})
}

func TestHealthyBorrowerCannotBeLiquidated(t *testing.T) {
	f := newFixture(t)
	f.borrowScenario(t, u)
	f.fund(t, tokenAAddr, user2Addr, u(100))
	err := f.ledger.Update(func(tx *Tx) error {
		_, _, err := f.market(t, tx, cTokenA).LiquidateBorrow(user2Addr, user1Addr, u(10), cTokenB)
		return err
	})
	if !errors.Is(err, ErrBorrowerHealthy) {
		t.Fatalf("expected ErrBorrowerHealthy, got %v", err)
	}
	expectAmount(t, "debt untouched", f.borrowBalance(t, cTokenA, user1Addr), u(50))
}

func TestHealthyCollateralCannotBeSeized(t *testing.T) {
	f := newFixture(t)
	f.fund(t, tokenBAddr, user1Addr, u(10))
	f.mint(t, cTokenB, user1Addr, u(10))
	if liq := f.liquidity(t, user1Addr); !liq.Healthy() {
		t.Fatalf("expected a healthy account, shortfall %s", liq.Shortfall.Dec())
	}
	f.fund(t, tokenAAddr, user2Addr, u(100))

	err := f.ledger.Update(func(tx *Tx) error {
		_, _, err := f.market(t, tx, cTokenA).LiquidateBorrow(user2Addr, user1Addr, u(1), cTokenB)
		return err
	})
	if !errors.Is(err, ErrBorrowerHealthy) {
		t.Fatalf("expected ErrBorrowerHealthy, got %v", err)
	}
	// The seize step itself still refuses a seizer that is not a listed market.
	err = f.ledger.Update(func(tx *Tx) error {
		return f.market(t, tx, cTokenB).seize(tokenAAddr, user2Addr, user1Addr, u(10))
	})
	if !errors.Is(err, ErrMarketNotListed) {
		t.Fatalf("expected ErrMarketNotListed, got %v", err)
	}
	expectAmount(t, "victim collateral", f.tokenBalance(t, cTokenB, user1Addr), u(10))
	expectAmount(t, "caller collateral", f.tokenBalance(t, cTokenB, user2Addr), u(0))
}

func TestLiquidationSeizesCollateralWithProtocolShare(t *testing.T) {
	f := newFixture(t)
	f.borrowScenario(t, e18)
	f.update(t, func(tx *Tx) error {
		c := tx.Comptroller()
		if err := c.SetCollateralFactor(ownerAddr, cTokenB, Mantissa(4, 10)); err != nil {
			return err
		}
		return c.SetProtocolSeizeShare(ownerAddr, Mantissa(28, 1000))
	})
	f.fund(t, tokenAAddr, user2Addr, e18(100))

	f.update(t, func(tx *Tx) error {
		_, seized, err := f.market(t, tx, cTokenA).LiquidateBorrow(user2Addr, user1Addr, e18(25), cTokenB)
		if err != nil {
			return err
		}
		expectAmount(t, "seized", seized, u(270_000_000_000_000_000))
		return nil
	})
	expectAmount(t, "borrower collateral", f.tokenBalance(t, cTokenB, user1Addr), u(730_000_000_000_000_000))
	expectAmount(t, "liquidator collateral", f.tokenBalance(t, cTokenB, user2Addr), u(262_440_000_000_000_000))
	f.view(t, func(tx *Tx) error {
		state, err := f.market(t, tx, cTokenB).Snapshot()
		if err != nil {
			return err
		}
		expectAmount(t, "protocol reserves", state.TotalReserves, u(7_560_000_000_000_000))
		expectAmount(t, "total supply", state.TotalSupply, new(uint256.Int).Sub(e18(1), u(7_560_000_000_000_000)))
		return nil
	})
}

func TestSeizeTooMuchLeavesStateUntouched(t *testing.T) {
	f := newFixture(t)
	f.borrowScenario(t, e18)
	// Collapse the collateral price so the incentive needs more than the borrower holds.
	f.oracle.SetUnderlyingPrice(cTokenB, e18(10))
	f.fund(t, tokenAAddr, user2Addr, e18(100))

	err := f.ledger.Update(func(tx *Tx) error {
		_, _, err := f.market(t, tx, cTokenA).LiquidateBorrow(user2Addr, user1Addr, e18(25), cTokenB)
		return err
	})
	if !errors.Is(err, ErrSeizeTooMuch) {
		t.Fatalf("expected ErrSeizeTooMuch, got %v", err)
	}
	expectAmount(t, "debt untouched", f.borrowBalance(t, cTokenA, user1Addr), e18(50))
	expectAmount(t, "liquidator funds untouched", f.underlying(t, tokenAAddr, user2Addr), e18(100))
}

func TestAdminGuardsAndRanges(t *testing.T) {
	f := newFixture(t)
	cases := []struct {
		name string
		fn   func(c *Comptroller) error
		want error
	}{
		{"non-admin close factor", func(c *Comptroller) error { return c.SetCloseFactor(user1Addr, Mantissa(5, 10)) }, ErrUnauthorized},
		{"zero close factor", func(c *Comptroller) error { return c.SetCloseFactor(ownerAddr, u(0)) }, ErrInvalidCloseFactor},
		{"close factor above one", func(c *Comptroller) error {
			return c.SetCloseFactor(ownerAddr, new(uint256.Int).Add(mantissaOne, u(1)))
		}, ErrInvalidCloseFactor},
		{"collateral factor of one", func(c *Comptroller) error { return c.SetCollateralFactor(ownerAddr, cTokenA, e18(1)) }, ErrInvalidCollateralFactor},
		{"incentive below one", func(c *Comptroller) error { return c.SetLiquidationIncentive(ownerAddr, Mantissa(9, 10)) }, ErrInvalidLiquidationIncentive},
		{"seize share above one", func(c *Comptroller) error { return c.SetProtocolSeizeShare(ownerAddr, e18(2)) }, ErrInvalidSeizeShare},
		{"unlisted market", func(c *Comptroller) error { return c.SetCollateralFactor(ownerAddr, user2Addr, Mantissa(1, 2)) }, ErrMarketNotListed},
		{"listed twice", func(c *Comptroller) error {
			return c.SupportMarket(ownerAddr, MarketParams{Address: cTokenA, Underlying: tokenAAddr, InitialExchangeRate: e18(1), RateModel: NewWhitePaperModel(zero(), zero())})
		}, ErrMarketAlreadyListed},
		{"second initialize", func(c *Comptroller) error { return c.Initialize(user1Addr) }, ErrUnauthorized},
	}
	for _, tc := range cases {
		err := f.ledger.Update(func(tx *Tx) error { return tc.fn(tx.Comptroller()) })
		if !errors.Is(err, tc.want) {
			t.Fatalf("%s: expected %v, got %v", tc.name, tc.want, err)
		}
	}

	// Re-applying the current value is accepted.
	f.update(t, func(tx *Tx) error {
		return tx.Comptroller().SetCloseFactor(ownerAddr, Mantissa(5, 10))
	})
}

func TestCollateralFactorRequiresPrice(t *testing.T) {
	f := newFixture(t)
	f.oracle.SetUnderlyingPrice(cTokenB, nil)
	err := f.ledger.Update(func(tx *Tx) error {
		return tx.Comptroller().SetCollateralFactor(ownerAddr, cTokenB, Mantissa(6, 10))
	})
	if !errors.Is(err, ErrPriceUnavailable) {
		t.Fatalf("expected ErrPriceUnavailable, got %v", err)
	}
}

func TestMissingPriceValuesCollateralAtZero(t *testing.T) {
	f := newFixture(t)
	f.borrowScenario(t, u)

	f.oracle.SetUnderlyingPrice(cTokenB, nil)
	liq := f.liquidity(t, user1Addr)
	expectAmount(t, "shortfall without collateral price", liq.Shortfall, u(50))

	f.oracle.SetUnderlyingPrice(cTokenA, nil)
	err := f.ledger.View(func(tx *Tx) error {
		_, err := tx.Comptroller().GetAccountLiquidity(user1Addr)
		return err
	})
	if !errors.Is(err, ErrPriceUnavailable) {
		t.Fatalf("expected ErrPriceUnavailable, got %v", err)
	}
}

func TestPauseGuardian(t *testing.T) {
	f := newFixture(t)
	guardian := common.HexToAddress("0x00000000000000000000000000000000000000ee")
	f.update(t, func(tx *Tx) error {
		return tx.Comptroller().SetPauseGuardian(ownerAddr, guardian)
	})
	f.update(t, func(tx *Tx) error {
		return tx.Comptroller().SetActionPaused(guardian, cTokenA, ActionMint, true)
	})

	err := f.ledger.Update(func(tx *Tx) error {
		_, err := f.market(t, tx, cTokenA).Mint(ownerAddr, u(1))
		return err
	})
	if !errors.Is(err, ErrActionPaused) {
		t.Fatalf("expected ErrActionPaused, got %v", err)
	}

	err = f.ledger.Update(func(tx *Tx) error {
		return tx.Comptroller().SetActionPaused(guardian, cTokenA, ActionMint, false)
	})
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected guardian unpause to fail, got %v", err)
	}

	f.update(t, func(tx *Tx) error {
		return tx.Comptroller().SetActionPaused(ownerAddr, cTokenA, ActionMint, false)
	})
	f.mint(t, cTokenA, ownerAddr, u(1))

	f.update(t, func(tx *Tx) error {
		return tx.Comptroller().SetActionPaused(guardian, common.Address{}, ActionTransfer, true)
	})
	err = f.ledger.Update(func(tx *Tx) error {
		return f.market(t, tx, cTokenA).Transfer(ownerAddr, user1Addr, u(1))
	})
	if !errors.Is(err, ErrActionPaused) {
		t.Fatalf("expected paused transfer, got %v", err)
	}
}

func TestExitMarket(t *testing.T) {
	f := newFixture(t)
	f.borrowScenario(t, u)

	err := f.ledger.Update(func(tx *Tx) error {
		return tx.Comptroller().ExitMarket(user1Addr, cTokenA)
	})
	if !errors.Is(err, ErrNonzeroBorrowBalance) {
		t.Fatalf("expected ErrNonzeroBorrowBalance, got %v", err)
	}
	err = f.ledger.Update(func(tx *Tx) error {
		return tx.Comptroller().ExitMarket(user1Addr, cTokenB)
	})
	if !errors.Is(err, ErrInsufficientLiquidityAfterExit) {
		t.Fatalf("expected ErrInsufficientLiquidityAfterExit, got %v", err)
	}

	f.update(t, func(tx *Tx) error {
		if _, err := f.market(t, tx, cTokenA).RepayBorrow(user1Addr, MaxAmount()); err != nil {
			return err
		}
		return tx.Comptroller().ExitMarket(user1Addr, cTokenB)
	})
	f.view(t, func(tx *Tx) error {
		assets, err := tx.Comptroller().AssetsIn(user1Addr)
		if err != nil {
			return err
		}
		if len(assets) != 1 || assets[0] != cTokenA {
			t.Fatalf("unexpected assets after exit: %v", assets)
		}
		return nil
	})
}

func TestEnterMarketsIsAllOrNothing(t *testing.T) {
	f := newFixture(t)
	err := f.ledger.Update(func(tx *Tx) error {
		return tx.Comptroller().EnterMarkets(user1Addr, cTokenA, user2Addr)
	})
	if !errors.Is(err, ErrMarketNotListed) {
		t.Fatalf("expected ErrMarketNotListed, got %v", err)
	}
	f.update(t, func(tx *Tx) error {
		c := tx.Comptroller()
		if err := c.EnterMarkets(user1Addr, cTokenB); err != nil {
			return err
		}
		return c.EnterMarkets(user1Addr, cTokenB, cTokenA)
	})
	f.view(t, func(tx *Tx) error {
		assets, err := tx.Comptroller().AssetsIn(user1Addr)
		if err != nil {
			return err
		}
		if len(assets) != 2 || assets[0] != cTokenB || assets[1] != cTokenA {
			t.Fatalf("unexpected membership: %v", assets)
		}
		return nil
	})
}

func TestBorrowCap(t *testing.T) {
	f := newFixture(t)
	f.mint(t, cTokenA, ownerAddr, u(100))
	f.mint(t, cTokenB, ownerAddr, u(100))
	f.update(t, func(tx *Tx) error {
		return tx.Comptroller().SetBorrowCap(ownerAddr, cTokenA, u(30))
	})
	err := f.ledger.Update(func(tx *Tx) error {
		return f.market(t, tx, cTokenA).Borrow(ownerAddr, u(30))
	})
	if !errors.Is(err, ErrBorrowCapReached) {
		t.Fatalf("expected ErrBorrowCapReached, got %v", err)
	}
	f.update(t, func(tx *Tx) error {
		return f.market(t, tx, cTokenA).Borrow(ownerAddr, u(29))
	})
}

func TestAccountPositionsAndIndex(t *testing.T) {
	f := newFixture(t)
	f.borrowScenario(t, u)
	f.view(t, func(tx *Tx) error {
		c := tx.Comptroller()
		accounts, err := c.Accounts()
		if err != nil {
			return err
		}
		if len(accounts) != 2 || accounts[0] != ownerAddr || accounts[1] != user1Addr {
			t.Fatalf("unexpected account index: %v", accounts)
		}
		positions, err := c.AccountPositions(user1Addr)
		if err != nil {
			return err
		}
		if len(positions) != 2 {
			t.Fatalf("expected 2 positions, got %d", len(positions))
		}
		for _, p := range positions {
			if !p.Entered {
				t.Fatalf("position %s not entered", p.Market.Hex())
			}
		}
		return nil
	})
}
