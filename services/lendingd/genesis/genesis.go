// Package genesis seeds a fresh lending ledger from a TOML document: the risk
// configuration, flash-loan reserves, swap pools and opening balances.
package genesis

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"moneymarket/native/flashloan"
	"moneymarket/native/lending"
	"moneymarket/native/swap"
)

// Genesis is the full boot document. Amounts are whole units of the asset.
type Genesis struct {
	Lending   lending.Config  `toml:"lending"`
	FlashLoan FlashLoanConfig `toml:"flashloan"`
	Swap      SwapConfig      `toml:"swap"`
	Balances  []Balance       `toml:"balances"`
}

// FlashLoanConfig configures the flash lender and its opening reserves.
type FlashLoanConfig struct {
	FeeBps   uint64    `toml:"fee_bps"`
	Reserves []Reserve `toml:"reserves"`
}

// Reserve funds the flash pool with Amount of Asset.
type Reserve struct {
	Asset  string `toml:"asset"`
	Amount string `toml:"amount"`
}

// SwapConfig lists constant-product pools used to unwind seized collateral.
type SwapConfig struct {
	Pools []Pool `toml:"pools"`
}

// Pool is one swap pool with its opening reserves.
type Pool struct {
	AssetA  string `toml:"asset_a"`
	AssetB  string `toml:"asset_b"`
	AmountA string `toml:"amount_a"`
	AmountB string `toml:"amount_b"`
	FeeBps  uint64 `toml:"fee_bps"`
}

// Balance credits Account with Amount of Asset.
type Balance struct {
	Account string `toml:"account"`
	Asset   string `toml:"asset"`
	Amount  string `toml:"amount"`
}

// Load decodes and validates a genesis file.
func Load(path string) (Genesis, error) {
	var g Genesis
	meta, err := toml.DecodeFile(path, &g)
	if err != nil {
		return Genesis{}, fmt.Errorf("genesis: decode %s: %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return Genesis{}, fmt.Errorf("genesis: unknown keys %v", undecoded)
	}
	if err := g.Validate(); err != nil {
		return Genesis{}, err
	}
	return g, nil
}

type asset struct {
	addr     common.Address
	decimals uint8
}

// assets indexes every listed underlying by symbol and address.
func (g Genesis) assets() (map[string]asset, error) {
	out := make(map[string]asset, 2*len(g.Lending.Markets))
	for _, market := range g.Lending.Markets {
		addr, err := market.UnderlyingAddress()
		if err != nil {
			return nil, err
		}
		entry := asset{addr: addr, decimals: market.Decimals}
		if symbol := strings.ToUpper(strings.TrimSpace(market.UnderlyingSymbol)); symbol != "" {
			out[symbol] = entry
		}
		out[strings.ToLower(addr.Hex())] = entry
	}
	return out, nil
}

func lookup(assets map[string]asset, id string) (asset, error) {
	trimmed := strings.TrimSpace(id)
	if a, ok := assets[strings.ToUpper(trimmed)]; ok {
		return a, nil
	}
	if a, ok := assets[strings.ToLower(trimmed)]; ok {
		return a, nil
	}
	return asset{}, fmt.Errorf("genesis: asset %q is not the underlying of a listed market", trimmed)
}

func amount(a asset, value string) (*uint256.Int, error) {
	out, err := lending.ParseAmount(value, a.decimals)
	if err != nil {
		return nil, err
	}
	if out.IsZero() {
		return nil, fmt.Errorf("genesis: amount %q must be positive", value)
	}
	return out, nil
}

// Validate checks the document without touching a ledger.
func (g Genesis) Validate() error {
	if err := g.Lending.Validate(); err != nil {
		return err
	}
	if g.FlashLoan.FeeBps > flashloan.MaxFeeBps {
		return fmt.Errorf("genesis: flash fee %d bps exceeds %d", g.FlashLoan.FeeBps, flashloan.MaxFeeBps)
	}
	assets, err := g.assets()
	if err != nil {
		return err
	}
	for _, r := range g.FlashLoan.Reserves {
		a, err := lookup(assets, r.Asset)
		if err != nil {
			return err
		}
		if _, err := amount(a, r.Amount); err != nil {
			return err
		}
	}
	for _, p := range g.Swap.Pools {
		a, err := lookup(assets, p.AssetA)
		if err != nil {
			return err
		}
		b, err := lookup(assets, p.AssetB)
		if err != nil {
			return err
		}
		if a.addr == b.addr {
			return fmt.Errorf("genesis: pool %s/%s pairs an asset with itself", p.AssetA, p.AssetB)
		}
		if _, err := amount(a, p.AmountA); err != nil {
			return err
		}
		if _, err := amount(b, p.AmountB); err != nil {
			return err
		}
	}
	for _, bal := range g.Balances {
		if !common.IsHexAddress(strings.TrimSpace(bal.Account)) {
			return fmt.Errorf("genesis: balance account %q is not an address", bal.Account)
		}
		a, err := lookup(assets, bal.Asset)
		if err != nil {
			return err
		}
		if _, err := amount(a, bal.Amount); err != nil {
			return err
		}
	}
	return nil
}

// Lender returns the flash lender described by the document.
func (g Genesis) Lender() (*flashloan.Lender, error) {
	return flashloan.NewLender(g.FlashLoan.FeeBps)
}

// ErrAlreadyInitialized is returned by Apply when the ledger has an admin.
var ErrAlreadyInitialized = errors.New("genesis: ledger already initialised")

// Apply seeds an empty ledger in a single transaction. Reserves and pool
// liquidity are minted to the admin and then deposited, so the admin ends
// up owning the pool shares.
func (g Genesis) Apply(ledger *lending.Ledger, oracle *lending.SimplePriceOracle, lender *flashloan.Lender, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	assets, err := g.assets()
	if err != nil {
		return err
	}
	admin := common.HexToAddress(strings.TrimSpace(g.Lending.Admin))
	return ledger.Update(func(tx *lending.Tx) error {
		current, err := tx.Comptroller().Admin()
		if err != nil {
			return err
		}
		if current != (common.Address{}) {
			return ErrAlreadyInitialized
		}
		if err := g.Lending.Apply(tx, oracle); err != nil {
			return err
		}
		bank := tx.Bank()
		for _, bal := range g.Balances {
			a, _ := lookup(assets, bal.Asset)
			value, _ := amount(a, bal.Amount)
			if err := bank.Mint(a.addr, common.HexToAddress(strings.TrimSpace(bal.Account)), value); err != nil {
				return fmt.Errorf("genesis: credit %s: %w", bal.Account, err)
			}
		}
		for _, r := range g.FlashLoan.Reserves {
			a, _ := lookup(assets, r.Asset)
			value, _ := amount(a, r.Amount)
			if err := bank.Mint(a.addr, admin, value); err != nil {
				return err
			}
			if err := lender.Deposit(tx, admin, a.addr, value); err != nil {
				return fmt.Errorf("genesis: flash reserve %s: %w", r.Asset, err)
			}
		}
		exchange := swap.New(tx.DB())
		for _, p := range g.Swap.Pools {
			a, _ := lookup(assets, p.AssetA)
			b, _ := lookup(assets, p.AssetB)
			amountA, _ := amount(a, p.AmountA)
			amountB, _ := amount(b, p.AmountB)
			if err := bank.Mint(a.addr, admin, amountA); err != nil {
				return err
			}
			if err := bank.Mint(b.addr, admin, amountB); err != nil {
				return err
			}
			if _, err := exchange.CreatePool(a.addr, b.addr, p.FeeBps); err != nil {
				return fmt.Errorf("genesis: pool %s/%s: %w", p.AssetA, p.AssetB, err)
			}
			if err := exchange.AddLiquidity(admin, a.addr, b.addr, amountA, amountB); err != nil {
				return fmt.Errorf("genesis: pool %s/%s: %w", p.AssetA, p.AssetB, err)
			}
		}
		logger.Info("genesis applied",
			slog.Int("markets", len(g.Lending.Markets)),
			slog.Int("balances", len(g.Balances)),
			slog.Int("pools", len(g.Swap.Pools)),
			slog.Uint64("block", tx.BlockNumber()))
		return nil
	})
}

// Restore prepares a ledger whose state was seeded by an earlier process:
// rate models are re-attached and configured prices loaded into oracle.
func (g Genesis) Restore(ledger *lending.Ledger, oracle *lending.SimplePriceOracle) error {
	if err := g.Lending.AttachModels(ledger); err != nil {
		return err
	}
	prices, err := g.Lending.Prices()
	if err != nil {
		return err
	}
	for market, price := range prices {
		oracle.SetUnderlyingPrice(market, price)
	}
	return nil
}
