// Package bank keeps fungible balances of the underlying assets listed in the
// money market. Balances live in the same KV store as the lending state so a
// discarded ledger transaction also discards the transfers it made.
package bank

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"moneymarket/storage"
)

var (
	// ErrInsufficientFunds is returned when the sender's balance cannot cover a transfer.
	ErrInsufficientFunds = errors.New("bank: insufficient funds")
	// ErrInvalidAmount is returned for nil amounts.
	ErrInvalidAmount = errors.New("bank: invalid amount")
	// ErrSupplyOverflow is returned when minting would overflow 256 bits.
	ErrSupplyOverflow = errors.New("bank: supply overflow")
)

// Bank reads and writes balances through the supplied database, usually a
// ledger transaction overlay.
type Bank struct {
	db storage.Database
}

// New wraps db.
func New(db storage.Database) *Bank {
	return &Bank{db: db}
}

func (b *Bank) withState() (storage.Database, error) {
	if b == nil || b.db == nil {
		return nil, fmt.Errorf("bank: state not initialised")
	}
	return b.db, nil
}

// BalanceOf returns the balance of account in asset. Unknown accounts hold zero.
func (b *Bank) BalanceOf(asset, account common.Address) (*uint256.Int, error) {
	db, err := b.withState()
	if err != nil {
		return nil, err
	}
	balance := new(uint256.Int)
	if _, err := storage.GetRLP(db, balanceKey(asset, account), balance); err != nil {
		return nil, fmt.Errorf("bank: load balance: %w", err)
	}
	return balance, nil
}

// TotalSupply returns the amount of asset minted into the bank.
func (b *Bank) TotalSupply(asset common.Address) (*uint256.Int, error) {
	db, err := b.withState()
	if err != nil {
		return nil, err
	}
	supply := new(uint256.Int)
	if _, err := storage.GetRLP(db, supplyKey(asset), supply); err != nil {
		return nil, fmt.Errorf("bank: load supply: %w", err)
	}
	return supply, nil
}

// Mint credits amount of asset to account. It backs genesis allocations and
// test faucets; protocol flows only ever move existing balances.
func (b *Bank) Mint(asset, to common.Address, amount *uint256.Int) error {
	db, err := b.withState()
	if err != nil {
		return err
	}
	if amount == nil {
		return ErrInvalidAmount
	}
	supply, err := b.TotalSupply(asset)
	if err != nil {
		return err
	}
	if _, overflow := supply.AddOverflow(supply, amount); overflow {
		return ErrSupplyOverflow
	}
	balance, err := b.BalanceOf(asset, to)
	if err != nil {
		return err
	}
	balance.Add(balance, amount)
	if err := storage.PutRLP(db, supplyKey(asset), supply); err != nil {
		return fmt.Errorf("bank: persist supply: %w", err)
	}
	if err := storage.PutRLP(db, balanceKey(asset, to), balance); err != nil {
		return fmt.Errorf("bank: persist balance: %w", err)
	}
	return nil
}

// Transfer moves amount of asset from one account to another. Self-transfers
// are validated but leave balances untouched.
func (b *Bank) Transfer(asset, from, to common.Address, amount *uint256.Int) error {
	db, err := b.withState()
	if err != nil {
		return err
	}
	if amount == nil {
		return ErrInvalidAmount
	}
	fromBalance, err := b.BalanceOf(asset, from)
	if err != nil {
		return err
	}
	if fromBalance.Lt(amount) {
		return fmt.Errorf("%w: %s has %s, needs %s", ErrInsufficientFunds, from.Hex(), fromBalance.Dec(), amount.Dec())
	}
	if amount.IsZero() || from == to {
		return nil
	}
	toBalance, err := b.BalanceOf(asset, to)
	if err != nil {
		return err
	}
	fromBalance.Sub(fromBalance, amount)
	// Cannot overflow: the sum of balances is bounded by the asset supply.
	toBalance.Add(toBalance, amount)
	if err := storage.PutRLP(db, balanceKey(asset, from), fromBalance); err != nil {
		return fmt.Errorf("bank: persist balance: %w", err)
	}
	if err := storage.PutRLP(db, balanceKey(asset, to), toBalance); err != nil {
		return fmt.Errorf("bank: persist balance: %w", err)
	}
	return nil
}

// Token binds the bank to a single asset.
func (b *Bank) Token(asset common.Address) *Token {
	return &Token{bank: b, asset: asset}
}

// Token is a single-asset view over the bank.
type Token struct {
	bank  *Bank
	asset common.Address
}

// Asset returns the asset identifier.
func (t *Token) Asset() common.Address { return t.asset }

func (t *Token) BalanceOf(account common.Address) (*uint256.Int, error) {
	return t.bank.BalanceOf(t.asset, account)
}

func (t *Token) Transfer(from, to common.Address, amount *uint256.Int) error {
	return t.bank.Transfer(t.asset, from, to, amount)
}
