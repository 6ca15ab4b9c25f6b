package genesis

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"moneymarket/native/lending"
	"moneymarket/native/swap"
	"moneymarket/storage"
)

const samplePath = "../testdata/genesis.toml"

func TestLoadSample(t *testing.T) {
	g, err := Load(samplePath)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(g.Lending.Markets) != 2 {
		t.Fatalf("expected 2 markets, got %d", len(g.Lending.Markets))
	}
	if g.FlashLoan.FeeBps != 5 || len(g.FlashLoan.Reserves) != 1 {
		t.Fatalf("unexpected flash config: %+v", g.FlashLoan)
	}
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "genesis.toml")
	if err := os.WriteFile(path, []byte("[lending]\nadmin = \"0x01\"\nbogus = 1\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected unknown key error")
	}
}

func TestValidateRejectsUnlistedAsset(t *testing.T) {
	g, err := Load(samplePath)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	g.Balances = append(g.Balances, Balance{Account: "0x00000000000000000000000000000000000000c1", Asset: "DOGE", Amount: "1"})
	if err := g.Validate(); err == nil {
		t.Fatal("expected unlisted asset to be rejected")
	}
	g.Balances = g.Balances[:len(g.Balances)-1]
	g.Swap.Pools = append(g.Swap.Pools, Pool{AssetA: "UNI", AssetB: "UNI", AmountA: "1", AmountB: "1"})
	if err := g.Validate(); err == nil {
		t.Fatal("expected self-paired pool to be rejected")
	}
}

func TestApplySeedsLedger(t *testing.T) {
	g, err := Load(samplePath)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	oracle := lending.NewSimplePriceOracle()
	db := storage.NewMemDB()
	ledger := lending.NewLedger(db, lending.NewManualClock(1), lending.WithOracle(oracle))
	lender, err := g.Lender()
	if err != nil {
		t.Fatalf("lender: %v", err)
	}
	if err := g.Apply(ledger, oracle, lender, nil); err != nil {
		t.Fatalf("apply: %v", err)
	}

	usdc, _ := g.Lending.Markets[0].UnderlyingAddress()
	uni, _ := g.Lending.Markets[1].UnderlyingAddress()
	supplier := common.HexToAddress("0x00000000000000000000000000000000000000a2")
	err = ledger.View(func(tx *lending.Tx) error {
		markets, err := tx.Comptroller().Markets()
		if err != nil {
			return err
		}
		if len(markets) != 2 {
			t.Fatalf("expected 2 listed markets, got %d", len(markets))
		}
		available, err := lender.Available(tx, usdc)
		if err != nil {
			return err
		}
		if available.Uint64() != 10_000_000_000 {
			t.Fatalf("unexpected flash reserve %s", available.Dec())
		}
		balance, err := tx.Bank().BalanceOf(usdc, supplier)
		if err != nil {
			return err
		}
		if balance.Uint64() != 10_000_000_000 {
			t.Fatalf("unexpected supplier balance %s", balance.Dec())
		}
		if _, err := swap.New(tx.DB()).Pool(uni, usdc); err != nil {
			t.Fatalf("pool missing: %v", err)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("view: %v", err)
	}

	if err := g.Apply(ledger, oracle, lender, nil); !errors.Is(err, ErrAlreadyInitialized) {
		t.Fatalf("expected ErrAlreadyInitialized, got %v", err)
	}
}

func TestRestoreReloadsPricesAndModels(t *testing.T) {
	g, err := Load(samplePath)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	db := storage.NewMemDB()
	lender, _ := g.Lender()
	first := lending.NewSimplePriceOracle()
	if err := g.Apply(lending.NewLedger(db, lending.NewManualClock(1), lending.WithOracle(first)), first, lender, nil); err != nil {
		t.Fatalf("apply: %v", err)
	}

	oracle := lending.NewSimplePriceOracle()
	ledger := lending.NewLedger(db, lending.NewManualClock(100), lending.WithOracle(oracle))
	if err := g.Restore(ledger, oracle); err != nil {
		t.Fatalf("restore: %v", err)
	}
	market, _ := g.Lending.Markets[1].MarketAddress()
	if oracle.UnderlyingPrice(market) == nil {
		t.Fatal("expected cUNI price after restore")
	}
	err = ledger.Update(func(tx *lending.Tx) error {
		m, err := tx.Market(market)
		if err != nil {
			return err
		}
		return m.AccrueInterest()
	})
	if err != nil {
		t.Fatalf("accrue after restore: %v", err)
	}
}
