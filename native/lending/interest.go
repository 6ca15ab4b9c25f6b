package lending

import (
	"fmt"

	"github.com/holiman/uint256"
)

// InterestRateModel prices borrowing in a market from its balances. Rates are
// per-block mantissas and must be non-decreasing in utilisation.
type InterestRateModel interface {
	BorrowRate(cash, borrows, reserves *uint256.Int) (*uint256.Int, error)
	SupplyRate(cash, borrows, reserves, reserveFactor *uint256.Int) (*uint256.Int, error)
}

// UtilizationRate returns borrows / (cash + borrows - reserves) as a mantissa.
// It is zero when nothing is borrowed.
func UtilizationRate(cash, borrows, reserves *uint256.Int) (*uint256.Int, error) {
	if borrows == nil || borrows.IsZero() {
		return zero(), nil
	}
	total, err := add(cash, borrows)
	if err != nil {
		return nil, err
	}
	total, err = sub(total, reserves)
	if err != nil {
		return nil, fmt.Errorf("reserves exceed pool: %w", err)
	}
	return mulDiv(borrows, expScale, total)
}

// supplyRate derives the supply rate from a borrow rate:
// utilisation * borrowRate * (1 - reserveFactor).
func supplyRate(borrowRate, cash, borrows, reserves, reserveFactor *uint256.Int) (*uint256.Int, error) {
	if reserveFactor.Gt(mantissaOne) {
		return nil, ErrInvalidReserveFactor
	}
	oneMinusReserveFactor := new(uint256.Int).Sub(mantissaOne, reserveFactor)
	rateToPool, err := mulExp(borrowRate, oneMinusReserveFactor)
	if err != nil {
		return nil, err
	}
	util, err := UtilizationRate(cash, borrows, reserves)
	if err != nil {
		return nil, err
	}
	return mulExp(util, rateToPool)
}

// Rates returns both per-block rates of model for the supplied balances.
func Rates(model InterestRateModel, cash, borrows, reserves, reserveFactor *uint256.Int) (borrow, supply *uint256.Int, err error) {
	if model == nil {
		return nil, nil, ErrRateModelMissing
	}
	borrow, err = model.BorrowRate(cash, borrows, reserves)
	if err != nil {
		return nil, nil, err
	}
	supply, err = model.SupplyRate(cash, borrows, reserves, reserveFactor)
	if err != nil {
		return nil, nil, err
	}
	return borrow, supply, nil
}

// AnnualRate converts a per-block mantissa into a simple yearly mantissa.
func AnnualRate(perBlock *uint256.Int) *uint256.Int {
	if perBlock == nil {
		return zero()
	}
	out, overflow := new(uint256.Int).MulOverflow(perBlock, uint256.NewInt(BlocksPerYear))
	if overflow {
		return new(uint256.Int).Set(maxUint256)
	}
	return out
}

func perBlock(perYear *uint256.Int) *uint256.Int {
	if perYear == nil {
		return zero()
	}
	return new(uint256.Int).Div(perYear, uint256.NewInt(BlocksPerYear))
}

// WhitePaperModel is the linear model: base + utilisation * multiplier.
type WhitePaperModel struct {
	BaseRatePerBlock   *uint256.Int
	MultiplierPerBlock *uint256.Int
}

// NewWhitePaperModel builds the model from yearly mantissas. Both zero yields
// a model that never charges interest.
func NewWhitePaperModel(baseRatePerYear, multiplierPerYear *uint256.Int) *WhitePaperModel {
	return &WhitePaperModel{
		BaseRatePerBlock:   perBlock(baseRatePerYear),
		MultiplierPerBlock: perBlock(multiplierPerYear),
	}
}

func (m *WhitePaperModel) BorrowRate(cash, borrows, reserves *uint256.Int) (*uint256.Int, error) {
	util, err := UtilizationRate(cash, borrows, reserves)
	if err != nil {
		return nil, err
	}
	variable, err := mulExp(util, clone(m.MultiplierPerBlock))
	if err != nil {
		return nil, err
	}
	return add(variable, clone(m.BaseRatePerBlock))
}

func (m *WhitePaperModel) SupplyRate(cash, borrows, reserves, reserveFactor *uint256.Int) (*uint256.Int, error) {
	borrowRate, err := m.BorrowRate(cash, borrows, reserves)
	if err != nil {
		return nil, err
	}
	return supplyRate(borrowRate, cash, borrows, reserves, reserveFactor)
}

// JumpRateModel is linear up to Kink utilisation and applies the steeper
// JumpMultiplierPerBlock to the utilisation above it.
type JumpRateModel struct {
	BaseRatePerBlock       *uint256.Int
	MultiplierPerBlock     *uint256.Int
	JumpMultiplierPerBlock *uint256.Int
	Kink                   *uint256.Int
}

// NewJumpRateModel builds the model from yearly mantissas. The multiplier is
// the slope reached at the kink, so a 15% multiplier with an 80% kink
// charges base+15% at 80% utilisation.
func NewJumpRateModel(baseRatePerYear, multiplierPerYear, jumpMultiplierPerYear, kink *uint256.Int) (*JumpRateModel, error) {
	if kink == nil || kink.IsZero() || kink.Gt(mantissaOne) {
		return nil, fmt.Errorf("lending: kink must be in (0, 1]")
	}
	multiplier, err := mulDiv(clone(multiplierPerYear), expScale, new(uint256.Int).Mul(uint256.NewInt(BlocksPerYear), kink))
	if err != nil {
		return nil, err
	}
	return &JumpRateModel{
		BaseRatePerBlock:       perBlock(baseRatePerYear),
		MultiplierPerBlock:     multiplier,
		JumpMultiplierPerBlock: perBlock(jumpMultiplierPerYear),
		Kink:                   clone(kink),
	}, nil
}

func (m *JumpRateModel) BorrowRate(cash, borrows, reserves *uint256.Int) (*uint256.Int, error) {
	util, err := UtilizationRate(cash, borrows, reserves)
	if err != nil {
		return nil, err
	}
	if !util.Gt(m.Kink) {
		variable, err := mulExp(util, clone(m.MultiplierPerBlock))
		if err != nil {
			return nil, err
		}
		return add(variable, clone(m.BaseRatePerBlock))
	}
	atKink, err := mulExp(clone(m.Kink), clone(m.MultiplierPerBlock))
	if err != nil {
		return nil, err
	}
	normal, err := add(atKink, clone(m.BaseRatePerBlock))
	if err != nil {
		return nil, err
	}
	excess := new(uint256.Int).Sub(util, m.Kink)
	jump, err := mulExp(excess, clone(m.JumpMultiplierPerBlock))
	if err != nil {
		return nil, err
	}
	return add(normal, jump)
}

func (m *JumpRateModel) SupplyRate(cash, borrows, reserves, reserveFactor *uint256.Int) (*uint256.Int, error) {
	borrowRate, err := m.BorrowRate(cash, borrows, reserves)
	if err != nil {
		return nil, err
	}
	return supplyRate(borrowRate, cash, borrows, reserves, reserveFactor)
}
