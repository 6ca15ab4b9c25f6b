// Package flashloan lends pool liquidity for the duration of one ledger
// transaction. The loan plus fee must be back in the pool before the callback
// returns, otherwise everything done inside the loan is discarded.
package flashloan

import (
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	nativecommon "moneymarket/native/common"
	"moneymarket/native/lending"
	"moneymarket/observability"
)

var (
	// ErrFlashLoanUnwound wraps every failure inside a flash loan. The cause
	// stays reachable through errors.Is.
	ErrFlashLoanUnwound = errors.New("flashloan: unwound")
	// ErrInsufficientLiquidity indicates the pool holds less than requested.
	ErrInsufficientLiquidity = errors.New("flashloan: insufficient pool liquidity")
	// ErrNotRepaid indicates the receiver did not return principal plus fee.
	ErrNotRepaid = errors.New("flashloan: loan not repaid")
	// ErrInvalidAmount indicates a zero or missing loan amount.
	ErrInvalidAmount = errors.New("flashloan: invalid amount")
)

const (
	EventFlashLoan = "flashloan.executed"

	basisPoints = 10_000
	// MaxFeeBps caps the loan fee at 1%.
	MaxFeeBps = 100
)

// DefaultPoolAddress is the account holding flash liquidity unless configured.
var DefaultPoolAddress = nativecommon.DeriveAddress("flashloan", "pool")

// Callback runs while the receiver holds the borrowed funds.
type Callback func(amount, fee *uint256.Int) error

// Lender lends balances held by Pool.
type Lender struct {
	Pool   common.Address
	FeeBps uint64
}

// NewLender returns a lender over DefaultPoolAddress.
func NewLender(feeBps uint64) (*Lender, error) {
	if feeBps > MaxFeeBps {
		return nil, fmt.Errorf("flashloan: fee %d bps exceeds %d", feeBps, MaxFeeBps)
	}
	return &Lender{Pool: DefaultPoolAddress, FeeBps: feeBps}, nil
}

// Fee returns the fee charged on amount, rounded up.
func (l *Lender) Fee(amount *uint256.Int) (*uint256.Int, error) {
	if l.FeeBps == 0 || amount.IsZero() {
		return new(uint256.Int), nil
	}
	return lending.MulDivUp(amount, uint256.NewInt(l.FeeBps), uint256.NewInt(basisPoints))
}

// Available returns the pool balance of asset.
func (l *Lender) Available(tx *lending.Tx, asset common.Address) (*uint256.Int, error) {
	return tx.Bank().BalanceOf(asset, l.Pool)
}

// Deposit moves liquidity from provider into the pool.
func (l *Lender) Deposit(tx *lending.Tx, provider, asset common.Address, amount *uint256.Int) error {
	if amount == nil || amount.IsZero() {
		return ErrInvalidAmount
	}
	return tx.Bank().Transfer(asset, provider, l.Pool, amount)
}

// FlashLoan sends amount of asset to receiver, runs fn and pulls back amount
// plus fee. Any failure, including a missing repayment, discards every write
// made since the loan started and returns an error wrapping
// ErrFlashLoanUnwound.
func (l *Lender) FlashLoan(tx *lending.Tx, receiver, asset common.Address, amount *uint256.Int, fn Callback) (fee *uint256.Int, err error) {
	start := time.Now()
	defer func() {
		observability.Lending().ObserveOp("flash_loan", err, time.Since(start))
	}()
	if amount == nil || amount.IsZero() {
		return nil, fmt.Errorf("%w: %w", ErrFlashLoanUnwound, ErrInvalidAmount)
	}
	if fee, err = l.Fee(amount); err != nil {
		return nil, fmt.Errorf("%w: fee: %w", ErrFlashLoanUnwound, err)
	}
	owed, overflow := new(uint256.Int).AddOverflow(amount, fee)
	if overflow {
		return nil, fmt.Errorf("%w: %w", ErrFlashLoanUnwound, lending.ErrMathOverflow)
	}
	err = tx.Atomic(func() error {
		bank := tx.Bank()
		before, err := bank.BalanceOf(asset, l.Pool)
		if err != nil {
			return err
		}
		if before.Lt(amount) {
			return fmt.Errorf("%w: have %s, want %s", ErrInsufficientLiquidity, before.Dec(), amount.Dec())
		}
		if err := bank.Transfer(asset, l.Pool, receiver, amount); err != nil {
			return err
		}
		if err := fn(amount, fee); err != nil {
			return err
		}
		if err := bank.Transfer(asset, receiver, l.Pool, owed); err != nil {
			return fmt.Errorf("%w: %w", ErrNotRepaid, err)
		}
		after, err := bank.BalanceOf(asset, l.Pool)
		if err != nil {
			return err
		}
		expected, overflow := new(uint256.Int).AddOverflow(before, fee)
		if overflow || after.Lt(expected) {
			return ErrNotRepaid
		}
		tx.Emit(lending.Event{Type: EventFlashLoan, Attributes: map[string]string{
			"receiver": receiver.Hex(),
			"asset":    asset.Hex(),
			"amount":   amount.Dec(),
			"fee":      fee.Dec(),
		}})
		return nil
	})
	if err != nil {
		tx.Logger().Warn("flash loan unwound",
			"receiver", receiver.Hex(),
			"asset", asset.Hex(),
			"amount", amount.Dec(),
			"error", err)
		return nil, fmt.Errorf("%w: %w", ErrFlashLoanUnwound, err)
	}
	return fee, nil
}
