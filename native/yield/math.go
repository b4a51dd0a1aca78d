package yield

import "math/big"

var (
	basisPoints = big.NewInt(10_000)
	wad         = mustBigInt("1000000000000000000") // 1e18 precision shared by every index consumer
)

func mustBigInt(value string) *big.Int {
	v, ok := new(big.Int).SetString(value, 10)
	if !ok {
		panic("invalid big integer constant")
	}
	return v
}

// Wad returns a copy of the shared 1e18 precision constant.
func Wad() *big.Int {
	return new(big.Int).Set(wad)
}

// BasisPointsDenominator returns the 10_000 bps denominator.
func BasisPointsDenominator() *big.Int {
	return new(big.Int).Set(basisPoints)
}

// MulDiv computes floor(a * b / den) with full-width intermediates. All
// accrual arithmetic routes through this helper so intermediate products can
// never truncate before the precision reduction.
func MulDiv(a, b, den *big.Int) *big.Int {
	if a == nil || b == nil || den == nil || den.Sign() == 0 {
		return big.NewInt(0)
	}
	product := new(big.Int).Mul(a, b)
	return product.Quo(product, den)
}

// BpsShare computes floor(amount * bps / 10000).
func BpsShare(amount *big.Int, bps uint64) *big.Int {
	if amount == nil || bps == 0 {
		return big.NewInt(0)
	}
	return MulDiv(amount, new(big.Int).SetUint64(bps), basisPoints)
}
