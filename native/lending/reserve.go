package lending

import "math/big"

// NewReserve lists an asset with fresh indices. The configuration is
// validated up front so later accounting can trust the ranges.
func NewReserve(id uint16, asset string, cfg ReserveConfig) (*Reserve, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Reserve{
		ID:                        id,
		Asset:                     asset,
		Config:                    cfg,
		LiquidityIndex:            new(big.Int).Set(ray),
		VariableBorrowIndex:       new(big.Int).Set(ray),
		CurrentLiquidityRate:      big.NewInt(0),
		CurrentVariableBorrowRate: big.NewInt(0),
		TotalScaledSupply:         big.NewInt(0),
		TotalScaledDebt:           big.NewInt(0),
		AvailableLiquidity:        big.NewInt(0),
	}, nil
}

// ensureDefaults backfills nil big.Int fields after deserialization.
func (r *Reserve) ensureDefaults() {
	if r.LiquidityIndex == nil || r.LiquidityIndex.Sign() == 0 {
		r.LiquidityIndex = new(big.Int).Set(ray)
	}
	if r.VariableBorrowIndex == nil || r.VariableBorrowIndex.Sign() == 0 {
		r.VariableBorrowIndex = new(big.Int).Set(ray)
	}
	if r.CurrentLiquidityRate == nil {
		r.CurrentLiquidityRate = big.NewInt(0)
	}
	if r.CurrentVariableBorrowRate == nil {
		r.CurrentVariableBorrowRate = big.NewInt(0)
	}
	if r.TotalScaledSupply == nil {
		r.TotalScaledSupply = big.NewInt(0)
	}
	if r.TotalScaledDebt == nil {
		r.TotalScaledDebt = big.NewInt(0)
	}
	if r.AvailableLiquidity == nil {
		r.AvailableLiquidity = big.NewInt(0)
	}
}

// Accrue brings both indices current using simple interest since the last
// update. Calling it twice at the same timestamp is a no-op, and it never
// fails: accrual is a prerequisite for every protocol action.
//
// The liquidity index rounds down and the borrow index rounds up. That is the
// one deliberate asymmetry in the ledger: lenders are credited slightly less
// and borrowers charged slightly more, so rounding dust accrues to the
// protocol rather than leaking out of it.
func (r *Reserve) Accrue(now uint64) {
	r.ensureDefaults()
	if now <= r.LastUpdateTimestamp {
		return
	}
	elapsed := now - r.LastUpdateTimestamp

	if r.CurrentLiquidityRate.Sign() > 0 {
		r.LiquidityIndex = rayMulDown(r.LiquidityIndex, linearFactorDown(r.CurrentLiquidityRate, elapsed))
	}
	if r.CurrentVariableBorrowRate.Sign() > 0 && r.TotalScaledDebt.Sign() > 0 {
		r.VariableBorrowIndex = rayMulUp(r.VariableBorrowIndex, linearFactorUp(r.CurrentVariableBorrowRate, elapsed))
	}
	r.LastUpdateTimestamp = now
}

// NormalizedIncome projects the liquidity index to the given timestamp
// without mutating the reserve. Used by read-only callers that must not pay
// the side effect of a write.
func (r *Reserve) NormalizedIncome(now uint64) *big.Int {
	r.ensureDefaults()
	if now <= r.LastUpdateTimestamp || r.CurrentLiquidityRate.Sign() == 0 {
		return new(big.Int).Set(r.LiquidityIndex)
	}
	elapsed := now - r.LastUpdateTimestamp
	return rayMulDown(r.LiquidityIndex, linearFactorDown(r.CurrentLiquidityRate, elapsed))
}

// NormalizedVariableDebt is the read-only projection of the borrow index.
func (r *Reserve) NormalizedVariableDebt(now uint64) *big.Int {
	r.ensureDefaults()
	if now <= r.LastUpdateTimestamp || r.CurrentVariableBorrowRate.Sign() == 0 || r.TotalScaledDebt.Sign() == 0 {
		return new(big.Int).Set(r.VariableBorrowIndex)
	}
	elapsed := now - r.LastUpdateTimestamp
	return rayMulUp(r.VariableBorrowIndex, linearFactorUp(r.CurrentVariableBorrowRate, elapsed))
}

// TotalSupplied is the current underlying value of all supplier balances.
func (r *Reserve) TotalSupplied() *big.Int {
	r.ensureDefaults()
	return rayMulDown(r.TotalScaledSupply, r.LiquidityIndex)
}

// TotalDebt is the current underlying value of all outstanding debt.
func (r *Reserve) TotalDebt() *big.Int {
	r.ensureDefaults()
	return rayMulUp(r.TotalScaledDebt, r.VariableBorrowIndex)
}

// UpdateRates refreshes the reserve rates from the utilisation curve after an
// action has moved liquidity. liquidityAdded and liquidityTaken describe the
// pending movement so the curve sees the post-action balance.
func (r *Reserve) UpdateRates(strategy RateStrategy, liquidityAdded, liquidityTaken *big.Int) {
	r.ensureDefaults()
	if strategy == nil {
		return
	}
	available := new(big.Int).Set(r.AvailableLiquidity)
	if liquidityAdded != nil {
		available.Add(available, liquidityAdded)
	}
	if liquidityTaken != nil {
		available.Sub(available, liquidityTaken)
	}
	if available.Sign() < 0 {
		available.SetInt64(0)
	}
	liquidityRate, borrowRate := strategy.Rates(r.TotalDebt(), available, r.Config.ReserveFactorBps)
	if liquidityRate != nil {
		r.CurrentLiquidityRate = liquidityRate
	}
	if borrowRate != nil {
		r.CurrentVariableBorrowRate = borrowRate
	}
}

// unit returns 10^decimals for converting between whole-token caps and raw
// amounts.
func (r *Reserve) unit() *big.Int {
	return pow10(r.Config.Decimals)
}
