// Package swap implements constant-product pools over the bank ledger. The
// liquidation flow uses them to turn seized collateral back into the asset it
// must repay.
package swap

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"moneymarket/native/bank"
	nativecommon "moneymarket/native/common"
	"moneymarket/storage"
)

var (
	// ErrPoolNotFound indicates no pool exists for the requested pair.
	ErrPoolNotFound = errors.New("swap: pool not found")
	// ErrPoolExists indicates the pair already has a pool.
	ErrPoolExists = errors.New("swap: pool already exists")
	// ErrSlippage indicates the output fell below the caller's minimum.
	ErrSlippage = errors.New("swap: output below minimum")
	// ErrInvalidAmount indicates a zero or missing amount.
	ErrInvalidAmount = errors.New("swap: invalid amount")
	// ErrInvalidPair indicates both sides of the pair are the same asset.
	ErrInvalidPair = errors.New("swap: invalid pair")
	// ErrInsufficientLiquidity indicates the pool cannot pay the output.
	ErrInsufficientLiquidity = errors.New("swap: insufficient liquidity")
)

const (
	basisPoints = 10_000
	// MaxFeeBps caps the pool fee at 10%.
	MaxFeeBps = 1_000
)

// Pool is the persisted state of a pair. AssetA sorts before AssetB.
type Pool struct {
	AssetA   common.Address
	AssetB   common.Address
	ReserveA *uint256.Int
	ReserveB *uint256.Int
	FeeBps   uint64
}

// Address returns the account holding the pool's reserves.
func (p *Pool) Address() common.Address {
	return PoolAddress(p.AssetA, p.AssetB)
}

func (p *Pool) reserves(assetIn common.Address) (in, out *uint256.Int) {
	if assetIn == p.AssetA {
		return p.ReserveA, p.ReserveB
	}
	return p.ReserveB, p.ReserveA
}

// PoolAddress derives the reserve account of a pair.
func PoolAddress(a, b common.Address) common.Address {
	lo, hi := sortPair(a, b)
	return nativecommon.DeriveAddress("swap", "pool", lo.Hex(), hi.Hex())
}

func sortPair(a, b common.Address) (common.Address, common.Address) {
	if bytes.Compare(a.Bytes(), b.Bytes()) > 0 {
		return b, a
	}
	return a, b
}

// Exchange reads and writes pools through db, normally a ledger transaction
// overlay, so swaps commit or roll back with the surrounding transaction.
type Exchange struct {
	db storage.Database
}

// New binds an exchange to db.
func New(db storage.Database) *Exchange {
	return &Exchange{db: db}
}

func (e *Exchange) bank() *bank.Bank { return bank.New(e.db) }

// CreatePool registers an empty pool for the pair.
func (e *Exchange) CreatePool(a, b common.Address, feeBps uint64) (*Pool, error) {
	if a == b {
		return nil, ErrInvalidPair
	}
	if feeBps > MaxFeeBps {
		return nil, fmt.Errorf("swap: fee %d bps exceeds %d", feeBps, MaxFeeBps)
	}
	if _, err := e.Pool(a, b); err == nil {
		return nil, ErrPoolExists
	} else if !errors.Is(err, ErrPoolNotFound) {
		return nil, err
	}
	lo, hi := sortPair(a, b)
	pool := &Pool{AssetA: lo, AssetB: hi, ReserveA: new(uint256.Int), ReserveB: new(uint256.Int), FeeBps: feeBps}
	if err := e.putPool(pool); err != nil {
		return nil, err
	}
	var index [][2]common.Address
	if _, err := storage.GetRLP(e.db, poolIndexKey, &index); err != nil {
		return nil, fmt.Errorf("swap: load pool index: %w", err)
	}
	index = append(index, [2]common.Address{lo, hi})
	if err := storage.PutRLP(e.db, poolIndexKey, index); err != nil {
		return nil, fmt.Errorf("swap: persist pool index: %w", err)
	}
	return pool, nil
}

// Pool loads the pool of the pair.
func (e *Exchange) Pool(a, b common.Address) (*Pool, error) {
	var pool Pool
	ok, err := storage.GetRLP(e.db, poolKey(a, b), &pool)
	if err != nil {
		return nil, fmt.Errorf("swap: load pool: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s", ErrPoolNotFound, a.Hex(), b.Hex())
	}
	if pool.ReserveA == nil {
		pool.ReserveA = new(uint256.Int)
	}
	if pool.ReserveB == nil {
		pool.ReserveB = new(uint256.Int)
	}
	return &pool, nil
}

// Pools lists every pool in creation order.
func (e *Exchange) Pools() ([]*Pool, error) {
	var index [][2]common.Address
	if _, err := storage.GetRLP(e.db, poolIndexKey, &index); err != nil {
		return nil, fmt.Errorf("swap: load pool index: %w", err)
	}
	pools := make([]*Pool, 0, len(index))
	for _, pair := range index {
		pool, err := e.Pool(pair[0], pair[1])
		if err != nil {
			return nil, err
		}
		pools = append(pools, pool)
	}
	return pools, nil
}

func (e *Exchange) putPool(pool *Pool) error {
	if err := storage.PutRLP(e.db, poolKey(pool.AssetA, pool.AssetB), pool); err != nil {
		return fmt.Errorf("swap: persist pool: %w", err)
	}
	return nil
}

// AddLiquidity moves both amounts from provider into the pool's reserves.
func (e *Exchange) AddLiquidity(provider, assetA, assetB common.Address, amountA, amountB *uint256.Int) error {
	if amountA == nil || amountB == nil || amountA.IsZero() || amountB.IsZero() {
		return ErrInvalidAmount
	}
	pool, err := e.Pool(assetA, assetB)
	if err != nil {
		return err
	}
	if assetA != pool.AssetA {
		amountA, amountB = amountB, amountA
	}
	b := e.bank()
	if err := b.Transfer(pool.AssetA, provider, pool.Address(), amountA); err != nil {
		return err
	}
	if err := b.Transfer(pool.AssetB, provider, pool.Address(), amountB); err != nil {
		return err
	}
	pool.ReserveA = new(uint256.Int).Add(pool.ReserveA, amountA)
	pool.ReserveB = new(uint256.Int).Add(pool.ReserveB, amountB)
	return e.putPool(pool)
}

// Quote returns the output of swapping amountIn of assetIn for assetOut:
//
//	out = in*(1-fee)*reserveOut / (reserveIn + in*(1-fee))
func (e *Exchange) Quote(assetIn, assetOut common.Address, amountIn *uint256.Int) (*uint256.Int, error) {
	pool, err := e.Pool(assetIn, assetOut)
	if err != nil {
		return nil, err
	}
	return quote(pool, assetIn, amountIn)
}

func quote(pool *Pool, assetIn common.Address, amountIn *uint256.Int) (*uint256.Int, error) {
	if amountIn == nil || amountIn.IsZero() {
		return nil, ErrInvalidAmount
	}
	reserveIn, reserveOut := pool.reserves(assetIn)
	if reserveIn.IsZero() || reserveOut.IsZero() {
		return nil, ErrInsufficientLiquidity
	}
	inWithFee, overflow := new(uint256.Int).MulOverflow(amountIn, uint256.NewInt(basisPoints-pool.FeeBps))
	if overflow {
		return nil, fmt.Errorf("swap: amount overflow")
	}
	denominator, overflow := new(uint256.Int).MulOverflow(reserveIn, uint256.NewInt(basisPoints))
	if overflow {
		return nil, fmt.Errorf("swap: reserve overflow")
	}
	if _, overflow = denominator.AddOverflow(denominator, inWithFee); overflow {
		return nil, fmt.Errorf("swap: reserve overflow")
	}
	out, overflow := new(uint256.Int).MulDivOverflow(inWithFee, reserveOut, denominator)
	if overflow {
		return nil, fmt.Errorf("swap: output overflow")
	}
	if out.IsZero() || !out.Lt(reserveOut) {
		return nil, ErrInsufficientLiquidity
	}
	return out, nil
}

// SwapExactIn trades amountIn of assetIn from trader for at least minOut of
// assetOut and returns the output.
func (e *Exchange) SwapExactIn(trader, assetIn, assetOut common.Address, amountIn, minOut *uint256.Int) (*uint256.Int, error) {
	pool, err := e.Pool(assetIn, assetOut)
	if err != nil {
		return nil, err
	}
	out, err := quote(pool, assetIn, amountIn)
	if err != nil {
		return nil, err
	}
	if minOut != nil && out.Lt(minOut) {
		return nil, fmt.Errorf("%w: got %s, want %s", ErrSlippage, out.Dec(), minOut.Dec())
	}
	b := e.bank()
	if err := b.Transfer(assetIn, trader, pool.Address(), amountIn); err != nil {
		return nil, err
	}
	if err := b.Transfer(assetOut, pool.Address(), trader, out); err != nil {
		return nil, err
	}
	if assetIn == pool.AssetA {
		pool.ReserveA = new(uint256.Int).Add(pool.ReserveA, amountIn)
		pool.ReserveB = new(uint256.Int).Sub(pool.ReserveB, out)
	} else {
		pool.ReserveB = new(uint256.Int).Add(pool.ReserveB, amountIn)
		pool.ReserveA = new(uint256.Int).Sub(pool.ReserveA, out)
	}
	if err := e.putPool(pool); err != nil {
		return nil, err
	}
	return out, nil
}
