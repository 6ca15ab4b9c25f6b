package lending

import "github.com/holiman/uint256"

// Pausable actions.
const (
	ActionMint     = "mint"
	ActionBorrow   = "borrow"
	ActionTransfer = "transfer"
	ActionSeize    = "seize"
)

// BlocksPerYear assumes a 15 second block interval.
const BlocksPerYear = 2_102_400

// MaxBorrowRatePerBlock caps the rate a model may return (0.0005% per block).
var MaxBorrowRatePerBlock = uint256.NewInt(5_000_000_000_000)

var (
	// collateralFactorMax is exclusive.
	collateralFactorMax = mantissaOne
	closeFactorMax      = mantissaOne
	reserveFactorMax    = mantissaOne
	seizeShareMax       = mantissaOne
)

func validateCollateralFactor(f *uint256.Int) error {
	if f == nil || !f.Lt(collateralFactorMax) {
		return ErrInvalidCollateralFactor
	}
	return nil
}

func validateCloseFactor(f *uint256.Int) error {
	if f == nil || f.IsZero() || f.Gt(closeFactorMax) {
		return ErrInvalidCloseFactor
	}
	return nil
}

func validateLiquidationIncentive(i *uint256.Int) error {
	if i == nil || i.Lt(mantissaOne) {
		return ErrInvalidLiquidationIncentive
	}
	return nil
}

func validateReserveFactor(f *uint256.Int) error {
	if f == nil || f.Gt(reserveFactorMax) {
		return ErrInvalidReserveFactor
	}
	return nil
}

func validateSeizeShare(s *uint256.Int) error {
	if s == nil || s.Gt(seizeShareMax) {
		return ErrInvalidSeizeShare
	}
	return nil
}
