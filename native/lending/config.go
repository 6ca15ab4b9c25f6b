package lending

import (
	"fmt"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"

	nativecommon "moneymarket/native/common"
)

// Config captures the risk configuration applied when the ledger is first
// initialised. Ratios and prices are decimal strings ("0.5", "1.08", "6.2").
type Config struct {
	Admin                string         `toml:"admin"`
	PauseGuardian        string         `toml:"pause_guardian"`
	CloseFactor          string         `toml:"close_factor"`
	LiquidationIncentive string         `toml:"liquidation_incentive"`
	ProtocolSeizeShare   string         `toml:"protocol_seize_share"`
	Markets              []MarketConfig `toml:"markets"`
}

// MarketConfig describes one market listing.
type MarketConfig struct {
	// Address defaults to an address derived from Symbol.
	Address string `toml:"address"`
	// Underlying defaults to an address derived from UnderlyingSymbol.
	Underlying       string `toml:"underlying"`
	UnderlyingSymbol string `toml:"underlying_symbol"`
	Symbol           string `toml:"symbol"`
	Decimals         uint8  `toml:"decimals"`
	// InitialExchangeRate is underlying units per receipt token unit, e.g.
	// "0.000000000001" for a 6-decimal asset.
	InitialExchangeRate string `toml:"initial_exchange_rate"`
	CollateralFactor    string `toml:"collateral_factor"`
	ReserveFactor       string `toml:"reserve_factor"`
	// BorrowCap is in whole units of the underlying. Empty or zero is unlimited.
	BorrowCap string `toml:"borrow_cap"`
	// Price is USD per whole unit of the underlying.
	Price     string          `toml:"price"`
	RateModel RateModelConfig `toml:"rate_model"`
}

// RateModelConfig selects and parameterises an interest rate model.
type RateModelConfig struct {
	Kind                  string `toml:"kind"`
	BaseRatePerYear       string `toml:"base_rate_per_year"`
	MultiplierPerYear     string `toml:"multiplier_per_year"`
	JumpMultiplierPerYear string `toml:"jump_multiplier_per_year"`
	Kink                  string `toml:"kink"`
}

// LoadConfig decodes a TOML risk configuration file.
func LoadConfig(path string) (Config, error) {
	var cfg Config
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return Config{}, fmt.Errorf("lending: decode config: %w", err)
	}
	return cfg, nil
}

// ParseMantissa converts a decimal string into an 18-decimal mantissa,
// truncating extra precision. Empty strings parse as zero.
func ParseMantissa(value string) (*uint256.Int, error) {
	return parseScaled(value, 18)
}

// ParseAmount converts a whole-unit decimal amount into smallest units.
func ParseAmount(value string, decimals uint8) (*uint256.Int, error) {
	return parseScaled(value, int32(decimals))
}

// FormatMantissa renders an 18-decimal mantissa as a decimal string.
func FormatMantissa(value *uint256.Int) string {
	return FormatAmount(value, 18)
}

// FormatAmount renders smallest units as a whole-unit decimal string.
func FormatAmount(value *uint256.Int, decimals uint8) string {
	if value == nil {
		return "0"
	}
	return decimal.NewFromBigInt(value.ToBig(), -int32(decimals)).String()
}

func parseScaled(value string, shift int32) (*uint256.Int, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return zero(), nil
	}
	d, err := decimal.NewFromString(value)
	if err != nil {
		return nil, fmt.Errorf("lending: parse %q: %w", value, err)
	}
	if d.IsNegative() {
		return nil, fmt.Errorf("lending: parse %q: negative value", value)
	}
	out, overflow := uint256.FromBig(d.Shift(shift).BigInt())
	if overflow {
		return nil, fmt.Errorf("lending: parse %q: %w", value, ErrMathOverflow)
	}
	return out, nil
}

// MarketAddress returns the configured or derived market address.
func (m MarketConfig) MarketAddress() (common.Address, error) {
	addr, ok := nativecommon.ParseAddress(m.Address, "market", m.Symbol)
	if !ok || m.Symbol == "" && m.Address == "" {
		return common.Address{}, fmt.Errorf("lending: market %q: invalid address", m.Symbol)
	}
	return addr, nil
}

// UnderlyingAddress returns the configured or derived underlying asset address.
func (m MarketConfig) UnderlyingAddress() (common.Address, error) {
	addr, ok := nativecommon.ParseAddress(m.Underlying, "asset", m.UnderlyingSymbol)
	if !ok || m.Underlying == "" && m.UnderlyingSymbol == "" {
		return common.Address{}, fmt.Errorf("lending: market %q: invalid underlying", m.Symbol)
	}
	return addr, nil
}

// Model builds the configured interest rate model.
func (r RateModelConfig) Model() (InterestRateModel, error) {
	base, err := ParseMantissa(r.BaseRatePerYear)
	if err != nil {
		return nil, err
	}
	multiplier, err := ParseMantissa(r.MultiplierPerYear)
	if err != nil {
		return nil, err
	}
	switch strings.ToLower(strings.TrimSpace(r.Kind)) {
	case "", "whitepaper", "linear":
		return NewWhitePaperModel(base, multiplier), nil
	case "jump", "jumprate":
		jump, err := ParseMantissa(r.JumpMultiplierPerYear)
		if err != nil {
			return nil, err
		}
		kink, err := ParseMantissa(r.Kink)
		if err != nil {
			return nil, err
		}
		return NewJumpRateModel(base, multiplier, jump, kink)
	default:
		return nil, fmt.Errorf("lending: unknown rate model %q", r.Kind)
	}
}

// Validate checks that every field parses and every address resolves.
func (c Config) Validate() error {
	if _, ok := nativecommon.ParseAddress(c.Admin); !ok {
		return fmt.Errorf("lending: admin address required")
	}
	if c.PauseGuardian != "" {
		if _, ok := nativecommon.ParseAddress(c.PauseGuardian); !ok {
			return fmt.Errorf("lending: invalid pause guardian")
		}
	}
	for _, value := range []string{c.CloseFactor, c.LiquidationIncentive, c.ProtocolSeizeShare} {
		if _, err := ParseMantissa(value); err != nil {
			return err
		}
	}
	seen := make(map[common.Address]struct{}, len(c.Markets))
	for _, market := range c.Markets {
		addr, err := market.MarketAddress()
		if err != nil {
			return err
		}
		if _, dup := seen[addr]; dup {
			return fmt.Errorf("%w: %s", ErrMarketAlreadyListed, market.Symbol)
		}
		seen[addr] = struct{}{}
		if _, err := market.UnderlyingAddress(); err != nil {
			return err
		}
		if _, err := market.RateModel.Model(); err != nil {
			return err
		}
	}
	return nil
}

// Apply initialises the comptroller and lists every configured market inside
// tx. Prices are written to oracle, which becomes the ledger's oracle.
func (c Config) Apply(tx *Tx, oracle *SimplePriceOracle) error {
	if err := c.Validate(); err != nil {
		return err
	}
	admin, _ := nativecommon.ParseAddress(c.Admin)
	comptroller := tx.Comptroller()
	return tx.Atomic(func() error {
		if err := comptroller.Initialize(admin); err != nil {
			return err
		}
		if err := comptroller.SetPriceOracle(admin, oracle); err != nil {
			return err
		}
		if c.PauseGuardian != "" {
			guardian, _ := nativecommon.ParseAddress(c.PauseGuardian)
			if err := comptroller.SetPauseGuardian(admin, guardian); err != nil {
				return err
			}
		}
		if c.CloseFactor != "" {
			factor, _ := ParseMantissa(c.CloseFactor)
			if err := comptroller.SetCloseFactor(admin, factor); err != nil {
				return err
			}
		}
		if c.LiquidationIncentive != "" {
			incentive, _ := ParseMantissa(c.LiquidationIncentive)
			if err := comptroller.SetLiquidationIncentive(admin, incentive); err != nil {
				return err
			}
		}
		if c.ProtocolSeizeShare != "" {
			share, _ := ParseMantissa(c.ProtocolSeizeShare)
			if err := comptroller.SetProtocolSeizeShare(admin, share); err != nil {
				return err
			}
		}
		for _, market := range c.Markets {
			if err := market.list(comptroller, admin, oracle); err != nil {
				return fmt.Errorf("lending: list %s: %w", market.Symbol, err)
			}
		}
		return nil
	})
}

func (m MarketConfig) list(comptroller *Comptroller, admin common.Address, oracle *SimplePriceOracle) error {
	addr, err := m.MarketAddress()
	if err != nil {
		return err
	}
	underlying, err := m.UnderlyingAddress()
	if err != nil {
		return err
	}
	model, err := m.RateModel.Model()
	if err != nil {
		return err
	}
	initialRate, err := ParseMantissa(m.InitialExchangeRate)
	if err != nil {
		return err
	}
	if initialRate.IsZero() {
		initialRate = clone(mantissaOne)
	}
	reserveFactor, err := ParseMantissa(m.ReserveFactor)
	if err != nil {
		return err
	}
	if err := comptroller.SupportMarket(admin, MarketParams{
		Address:             addr,
		Underlying:          underlying,
		Symbol:              m.Symbol,
		Decimals:            m.Decimals,
		InitialExchangeRate: initialRate,
		ReserveFactor:       reserveFactor,
		RateModel:           model,
	}); err != nil {
		return err
	}
	if m.Price != "" {
		usd, err := ParseMantissa(m.Price)
		if err != nil {
			return err
		}
		price, err := ScalePrice(usd, m.Decimals)
		if err != nil {
			return err
		}
		oracle.SetUnderlyingPrice(addr, price)
	}
	if m.CollateralFactor != "" {
		factor, err := ParseMantissa(m.CollateralFactor)
		if err != nil {
			return err
		}
		if err := comptroller.SetCollateralFactor(admin, addr, factor); err != nil {
			return err
		}
	}
	if m.BorrowCap != "" {
		limit, err := ParseAmount(m.BorrowCap, m.Decimals)
		if err != nil {
			return err
		}
		if err := comptroller.SetBorrowCap(admin, addr, limit); err != nil {
			return err
		}
	}
	return nil
}

// AttachModels re-binds the configured rate models to a ledger whose markets
// were listed by an earlier process.
func (c Config) AttachModels(ledger *Ledger) error {
	for _, market := range c.Markets {
		addr, err := market.MarketAddress()
		if err != nil {
			return err
		}
		model, err := market.RateModel.Model()
		if err != nil {
			return err
		}
		ledger.SetInterestRateModel(addr, model)
	}
	return nil
}

// Prices returns the configured prices keyed by market, scaled for the oracle.
func (c Config) Prices() (map[common.Address]*uint256.Int, error) {
	out := make(map[common.Address]*uint256.Int, len(c.Markets))
	for _, market := range c.Markets {
		if market.Price == "" {
			continue
		}
		addr, err := market.MarketAddress()
		if err != nil {
			return nil, err
		}
		usd, err := ParseMantissa(market.Price)
		if err != nil {
			return nil, err
		}
		price, err := ScalePrice(usd, market.Decimals)
		if err != nil {
			return nil, err
		}
		out[addr] = price
	}
	return out, nil
}
