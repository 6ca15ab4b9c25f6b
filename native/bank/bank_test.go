package bank

import (
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"moneymarket/storage"
)

func TestTransferMovesBalances(t *testing.T) {
	b := New(storage.NewMemDB())
	asset := common.HexToAddress("0xa0")
	alice := common.HexToAddress("0x01")
	bob := common.HexToAddress("0x02")

	if err := b.Mint(asset, alice, uint256.NewInt(100)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	if err := b.Transfer(asset, alice, bob, uint256.NewInt(40)); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	aliceBal, _ := b.BalanceOf(asset, alice)
	bobBal, _ := b.BalanceOf(asset, bob)
	if aliceBal.Uint64() != 60 || bobBal.Uint64() != 40 {
		t.Fatalf("unexpected balances alice=%s bob=%s", aliceBal.Dec(), bobBal.Dec())
	}
	supply, _ := b.TotalSupply(asset)
	if supply.Uint64() != 100 {
		t.Fatalf("unexpected supply %s", supply.Dec())
	}
}

func TestTransferRejectsOverdraft(t *testing.T) {
	b := New(storage.NewMemDB())
	asset := common.HexToAddress("0xa0")
	alice := common.HexToAddress("0x01")

	if err := b.Mint(asset, alice, uint256.NewInt(5)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	err := b.Token(asset).Transfer(alice, common.HexToAddress("0x02"), uint256.NewInt(6))
	if !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
	bal, _ := b.BalanceOf(asset, alice)
	if bal.Uint64() != 5 {
		t.Fatalf("balance changed after failed transfer: %s", bal.Dec())
	}
}
