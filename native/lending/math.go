package lending

import "math/big"

var (
	basisPoints = big.NewInt(10_000)
	ray         = mustBigInt("1000000000000000000000000000") // 1e27 precision
	wad         = mustBigInt("1000000000000000000")          // 1e18 precision
	one         = big.NewInt(1)
)

// SecondsPerYear converts annualised rates into per-second accrual deltas.
const SecondsPerYear = 31_536_000

func mustBigInt(value string) *big.Int {
	v, ok := new(big.Int).SetString(value, 10)
	if !ok {
		panic("invalid big integer constant")
	}
	return v
}

// The rounding direction of every helper is deliberate: anything credited to
// users rounds down, anything charged to users rounds up, so the protocol
// never loses dust to rounding.

func rayMulDown(a, b *big.Int) *big.Int {
	if a == nil || b == nil {
		return big.NewInt(0)
	}
	product := new(big.Int).Mul(a, b)
	return product.Quo(product, ray)
}

func rayMulUp(a, b *big.Int) *big.Int {
	if a == nil || b == nil {
		return big.NewInt(0)
	}
	product := new(big.Int).Mul(a, b)
	if product.Sign() == 0 {
		return product
	}
	product.Add(product, new(big.Int).Sub(ray, one))
	return product.Quo(product, ray)
}

func rayDivDown(a, b *big.Int) *big.Int {
	if a == nil || b == nil || b.Sign() == 0 {
		return big.NewInt(0)
	}
	numerator := new(big.Int).Mul(a, ray)
	return numerator.Quo(numerator, b)
}

func rayDivUp(a, b *big.Int) *big.Int {
	if a == nil || b == nil || b.Sign() == 0 {
		return big.NewInt(0)
	}
	numerator := new(big.Int).Mul(a, ray)
	if numerator.Sign() == 0 {
		return numerator
	}
	numerator.Add(numerator, new(big.Int).Sub(b, one))
	return numerator.Quo(numerator, b)
}

func wadDivDown(a, b *big.Int) *big.Int {
	if a == nil || b == nil || b.Sign() == 0 {
		return big.NewInt(0)
	}
	numerator := new(big.Int).Mul(a, wad)
	return numerator.Quo(numerator, b)
}

func percentMulDown(amount *big.Int, bps uint64) *big.Int {
	if amount == nil || amount.Sign() == 0 || bps == 0 {
		return big.NewInt(0)
	}
	product := new(big.Int).Mul(amount, new(big.Int).SetUint64(bps))
	return product.Quo(product, basisPoints)
}

func percentDivDown(amount *big.Int, bps uint64) *big.Int {
	if amount == nil || amount.Sign() == 0 || bps == 0 {
		return big.NewInt(0)
	}
	product := new(big.Int).Mul(amount, basisPoints)
	return product.Quo(product, new(big.Int).SetUint64(bps))
}

// linearFactorDown computes ray + rate*elapsed/SecondsPerYear rounded down,
// the per-call simple-interest factor applied to the liquidity index.
func linearFactorDown(rate *big.Int, elapsed uint64) *big.Int {
	if rate == nil || rate.Sign() == 0 || elapsed == 0 {
		return new(big.Int).Set(ray)
	}
	cumulated := new(big.Int).Mul(rate, new(big.Int).SetUint64(elapsed))
	cumulated.Quo(cumulated, big.NewInt(SecondsPerYear))
	return cumulated.Add(cumulated, ray)
}

// linearFactorUp is the borrow-side counterpart, rounded up.
func linearFactorUp(rate *big.Int, elapsed uint64) *big.Int {
	if rate == nil || rate.Sign() == 0 || elapsed == 0 {
		return new(big.Int).Set(ray)
	}
	cumulated := new(big.Int).Mul(rate, new(big.Int).SetUint64(elapsed))
	cumulated.Add(cumulated, big.NewInt(SecondsPerYear-1))
	cumulated.Quo(cumulated, big.NewInt(SecondsPerYear))
	return cumulated.Add(cumulated, ray)
}

// ratToRay converts a rational rate into ray fixed point, rounding half up so
// the configured curve survives the conversion without systematic drift.
func ratToRay(r *big.Rat) *big.Int {
	if r == nil || r.Sign() <= 0 {
		return big.NewInt(0)
	}
	scaled := new(big.Rat).Mul(r, new(big.Rat).SetInt(ray))
	num := scaled.Num()
	den := scaled.Denom()
	half := new(big.Int).Rsh(new(big.Int).Add(den, one), 1)
	return new(big.Int).Quo(new(big.Int).Add(num, half), den)
}

func pow10(decimals uint8) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
}

func bigMin(a, b *big.Int) *big.Int {
	if a.Cmp(b) <= 0 {
		return a
	}
	return b
}
