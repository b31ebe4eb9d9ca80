package lending

import "math/big"

// RateStrategy recomputes the reserve rates after an action. Implementations
// receive the post-action debt and idle liquidity and return annualised ray
// rates; the curve shape is a pluggable policy, not part of the ledger.
type RateStrategy interface {
	Rates(totalDebt, availableLiquidity *big.Int, reserveFactorBps uint64) (liquidityRate, borrowRate *big.Int)
}

// KinkedRateModel is a piecewise-linear borrow curve: a base rate, a gentle
// slope up to the kink utilisation and a steeper slope beyond it to defend
// liquidity.
type KinkedRateModel struct {
	BaseRate *big.Rat
	Slope1   *big.Rat
	Slope2   *big.Rat
	Kink     *big.Rat
}

// NewKinkedRateModel constructs a model from rational parameters. A 2% base
// rate is 1/50, an 80% kink is 4/5.
func NewKinkedRateModel(baseRate, slope1, slope2, kink *big.Rat) *KinkedRateModel {
	return &KinkedRateModel{
		BaseRate: cloneRat(baseRate),
		Slope1:   cloneRat(slope1),
		Slope2:   cloneRat(slope2),
		Kink:     cloneRat(kink),
	}
}

// Clone returns a deep copy of the model.
func (m *KinkedRateModel) Clone() *KinkedRateModel {
	if m == nil {
		return nil
	}
	return NewKinkedRateModel(m.BaseRate, m.Slope1, m.Slope2, m.Kink)
}

// Utilisation computes U = totalDebt / (totalDebt + availableLiquidity).
// An empty reserve has zero utilisation.
func (m *KinkedRateModel) Utilisation(totalDebt, availableLiquidity *big.Int) *big.Rat {
	if totalDebt == nil || totalDebt.Sign() == 0 {
		return new(big.Rat)
	}
	total := new(big.Int).Set(totalDebt)
	if availableLiquidity != nil {
		total.Add(total, availableLiquidity)
	}
	if total.Sign() == 0 {
		return new(big.Rat)
	}
	return new(big.Rat).SetFrac(totalDebt, total)
}

// BorrowAPR derives the annualised borrow rate for the given utilisation.
func (m *KinkedRateModel) BorrowAPR(utilisation *big.Rat) *big.Rat {
	if m == nil {
		return new(big.Rat)
	}
	rate := cloneRat(m.BaseRate)
	if utilisation == nil || utilisation.Sign() == 0 {
		return rate
	}

	kink := cloneRat(m.Kink)
	slope1 := cloneRat(m.Slope1)
	slope2 := cloneRat(m.Slope2)
	if kink.Sign() == 0 || utilisation.Cmp(kink) <= 0 {
		// Linear region before the kink.
		return rate.Add(rate, new(big.Rat).Mul(slope1, utilisation))
	}

	// Rate at the kink using slope1, plus the excess using slope2.
	rate.Add(rate, new(big.Rat).Mul(slope1, kink))
	excess := new(big.Rat).Sub(utilisation, kink)
	return rate.Add(rate, new(big.Rat).Mul(slope2, excess))
}

// Rates implements RateStrategy. The liquidity rate is the borrow rate scaled
// by utilisation and reduced by the reserve factor slice that accrues to the
// protocol instead of suppliers.
func (m *KinkedRateModel) Rates(totalDebt, availableLiquidity *big.Int, reserveFactorBps uint64) (*big.Int, *big.Int) {
	utilisation := m.Utilisation(totalDebt, availableLiquidity)
	borrowAPR := m.BorrowAPR(utilisation)

	if reserveFactorBps > 10_000 {
		reserveFactorBps = 10_000
	}
	oneMinusReserve := new(big.Rat).Sub(
		big.NewRat(1, 1),
		new(big.Rat).SetFrac64(int64(reserveFactorBps), 10_000),
	)
	liquidityAPR := new(big.Rat).Mul(borrowAPR, utilisation)
	liquidityAPR.Mul(liquidityAPR, oneMinusReserve)

	return ratToRay(liquidityAPR), ratToRay(borrowAPR)
}

func cloneRat(r *big.Rat) *big.Rat {
	if r == nil {
		return new(big.Rat)
	}
	return new(big.Rat).Set(r)
}

// DefaultRateModel is a reasonable starting curve: 2% base, 15% slope to an
// 80% kink, 60% beyond it.
var DefaultRateModel = NewKinkedRateModel(
	big.NewRat(1, 50),
	big.NewRat(3, 20),
	big.NewRat(3, 5),
	big.NewRat(4, 5),
)
