package lending

import "github.com/holiman/uint256"

// All mantissas carry 18 decimals. Products of two mantissas are computed with
// a 512-bit intermediate (MulDivOverflow) and truncate toward zero.
var (
	expScale    = uint256.NewInt(1_000_000_000_000_000_000)
	mantissaOne = expScale
	maxUint256  = new(uint256.Int).SetAllOne()
)

// MaxAmount is the sentinel accepted by RepayBorrow to settle the whole
// outstanding debt.
func MaxAmount() *uint256.Int {
	return new(uint256.Int).Set(maxUint256)
}

// IsMaxAmount reports whether amount is the repay-everything sentinel.
func IsMaxAmount(amount *uint256.Int) bool {
	return amount != nil && amount.Eq(maxUint256)
}

// Mantissa returns a mantissa of numerator/denominator, e.g. Mantissa(9, 10) = 0.9e18.
func Mantissa(numerator, denominator uint64) *uint256.Int {
	out, _ := new(uint256.Int).MulDivOverflow(uint256.NewInt(numerator), expScale, uint256.NewInt(denominator))
	return out
}

func zero() *uint256.Int { return new(uint256.Int) }

func clone(v *uint256.Int) *uint256.Int {
	if v == nil {
		return new(uint256.Int)
	}
	return new(uint256.Int).Set(v)
}

func add(a, b *uint256.Int) (*uint256.Int, error) {
	out, overflow := new(uint256.Int).AddOverflow(a, b)
	if overflow {
		return nil, ErrMathOverflow
	}
	return out, nil
}

func sub(a, b *uint256.Int) (*uint256.Int, error) {
	out, underflow := new(uint256.Int).SubOverflow(a, b)
	if underflow {
		return nil, ErrMathOverflow
	}
	return out, nil
}

// subFloor subtracts b from a, clamping at zero.
func subFloor(a, b *uint256.Int) *uint256.Int {
	if a.Lt(b) {
		return zero()
	}
	return new(uint256.Int).Sub(a, b)
}

func mul(a, b *uint256.Int) (*uint256.Int, error) {
	out, overflow := new(uint256.Int).MulOverflow(a, b)
	if overflow {
		return nil, ErrMathOverflow
	}
	return out, nil
}

// mulDiv computes a*b/d with a wide intermediate. d must be non-zero.
func mulDiv(a, b, d *uint256.Int) (*uint256.Int, error) {
	if d.IsZero() {
		return nil, ErrMathOverflow
	}
	if a.IsZero() || b.IsZero() {
		return zero(), nil
	}
	out, overflow := new(uint256.Int).MulDivOverflow(a, b, d)
	if overflow {
		return nil, ErrMathOverflow
	}
	return out, nil
}

// mulDivUp is mulDiv rounded toward positive infinity. The remainder is taken
// from the same wide product, so it fails only where mulDiv does.
func mulDivUp(a, b, d *uint256.Int) (*uint256.Int, error) {
	out, err := mulDiv(a, b, d)
	if err != nil {
		return nil, err
	}
	if !new(uint256.Int).MulMod(a, b, d).IsZero() {
		return add(out, uint256.NewInt(1))
	}
	return out, nil
}

// MulDivUp returns a*b/d rounded up, or ErrMathOverflow when the result does
// not fit in 256 bits or d is zero.
func MulDivUp(a, b, d *uint256.Int) (*uint256.Int, error) {
	return mulDivUp(a, b, d)
}

// mulExp multiplies two mantissas.
func mulExp(a, b *uint256.Int) (*uint256.Int, error) {
	return mulDiv(a, b, expScale)
}

// divExp divides mantissa a by mantissa b.
func divExp(a, b *uint256.Int) (*uint256.Int, error) {
	return mulDiv(a, expScale, b)
}

// mulScalarTruncate returns truncate(exp * scalar).
func mulScalarTruncate(exp, scalar *uint256.Int) (*uint256.Int, error) {
	return mulDiv(exp, scalar, expScale)
}

// mulScalarTruncateAdd returns truncate(exp * scalar) + addend.
func mulScalarTruncateAdd(exp, scalar, addend *uint256.Int) (*uint256.Int, error) {
	product, err := mulScalarTruncate(exp, scalar)
	if err != nil {
		return nil, err
	}
	return add(product, addend)
}

// divScalarByExpTruncate returns truncate(scalar / exp).
func divScalarByExpTruncate(scalar, exp *uint256.Int) (*uint256.Int, error) {
	return mulDiv(scalar, expScale, exp)
}
