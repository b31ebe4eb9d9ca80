package lending

import "math/big"

// ReserveConfig groups the governance controlled parameters for a single
// reserve. Fields are plain typed values validated at construction; the
// packed-integer layout used on chain is a serialization concern, not part of
// this model.
type ReserveConfig struct {
	// LTVBps is the maximum borrowing power per unit of collateral,
	// expressed in basis points.
	LTVBps uint64
	// LiquidationThresholdBps is the collateral ratio at which positions
	// become eligible for liquidation, expressed in basis points.
	LiquidationThresholdBps uint64
	// LiquidationBonusBps is the extra collateral awarded to liquidators,
	// expressed in basis points over the repaid value.
	LiquidationBonusBps uint64
	// LiquidationProtocolFeeBps is the slice of the liquidation bonus routed
	// to the protocol treasury.
	LiquidationProtocolFeeBps uint64
	// ReserveFactorBps is the share of borrow interest routed to protocol
	// reserves.
	ReserveFactorBps uint64
	// Decimals is the underlying token precision.
	Decimals uint8
	// BorrowCap and SupplyCap bound outstanding debt and deposits in whole
	// token units; zero disables the cap.
	BorrowCap uint64
	SupplyCap uint64
	// DebtCeiling bounds isolated debt exposure in base currency units;
	// zero disables it.
	DebtCeiling uint64

	Active           bool
	Frozen           bool
	Paused           bool
	BorrowingEnabled bool
}

// Validate checks every field range up front instead of relying on storage
// mask widths to bound values implicitly.
func (c ReserveConfig) Validate() error {
	if c.LTVBps > 10_000 || c.LiquidationThresholdBps > 10_000 {
		return ErrInvalidConfig
	}
	if c.LTVBps > c.LiquidationThresholdBps {
		return ErrInvalidConfig
	}
	if c.LiquidationThresholdBps > 0 && c.LiquidationBonusBps > 10_000 {
		return ErrInvalidConfig
	}
	if c.LiquidationProtocolFeeBps > 10_000 || c.ReserveFactorBps > 10_000 {
		return ErrInvalidConfig
	}
	if c.Decimals > 36 {
		return ErrInvalidConfig
	}
	return nil
}

// Reserve captures the accrual state for one listed asset. Indices are ray
// (1e27) fixed-point multipliers that only ever increase; rates are annualised
// ray values.
type Reserve struct {
	ID     uint16
	Asset  string
	Config ReserveConfig

	// LiquidityIndex is the cumulative interest multiplier applied to
	// supplier balances.
	LiquidityIndex *big.Int
	// VariableBorrowIndex is the cumulative interest multiplier applied to
	// borrower debt.
	VariableBorrowIndex *big.Int
	// CurrentLiquidityRate and CurrentVariableBorrowRate are annualised
	// rates in ray precision, refreshed after every action.
	CurrentLiquidityRate      *big.Int
	CurrentVariableBorrowRate *big.Int
	// LastUpdateTimestamp records the accrual point in unix seconds.
	LastUpdateTimestamp uint64

	// TotalScaledSupply and TotalScaledDebt aggregate the scaled balances
	// of all participants; actual totals are derived through the indices.
	TotalScaledSupply *big.Int
	TotalScaledDebt   *big.Int
	// AvailableLiquidity is the underlying amount currently idle in the
	// reserve.
	AvailableLiquidity *big.Int
}

// Clone returns a deep copy of the reserve.
func (r *Reserve) Clone() *Reserve {
	if r == nil {
		return nil
	}
	clone := &Reserve{
		ID:                  r.ID,
		Asset:               r.Asset,
		Config:              r.Config,
		LastUpdateTimestamp: r.LastUpdateTimestamp,
	}
	clone.LiquidityIndex = cloneBig(r.LiquidityIndex)
	clone.VariableBorrowIndex = cloneBig(r.VariableBorrowIndex)
	clone.CurrentLiquidityRate = cloneBig(r.CurrentLiquidityRate)
	clone.CurrentVariableBorrowRate = cloneBig(r.CurrentVariableBorrowRate)
	clone.TotalScaledSupply = cloneBig(r.TotalScaledSupply)
	clone.TotalScaledDebt = cloneBig(r.TotalScaledDebt)
	clone.AvailableLiquidity = cloneBig(r.AvailableLiquidity)
	return clone
}

// UserReserveData stores one participant's position in a reserve. Only scaled
// units are persisted; actual balances are always derived through the current
// index so they can never desync from accrual.
type UserReserveData struct {
	User         string
	Asset        string
	ScaledSupply *big.Int
	ScaledDebt   *big.Int
}

// Clone returns a deep copy of the position.
func (u *UserReserveData) Clone() *UserReserveData {
	if u == nil {
		return nil
	}
	return &UserReserveData{
		User:         u.User,
		Asset:        u.Asset,
		ScaledSupply: cloneBig(u.ScaledSupply),
		ScaledDebt:   cloneBig(u.ScaledDebt),
	}
}

// FeeAccrual tracks the protocol's claim on a reserve, denominated in the
// underlying asset.
type FeeAccrual struct {
	Asset        string
	ProtocolFees *big.Int
}

// Clone returns a deep copy of the fee accrual.
func (f *FeeAccrual) Clone() *FeeAccrual {
	if f == nil {
		return nil
	}
	return &FeeAccrual{Asset: f.Asset, ProtocolFees: cloneBig(f.ProtocolFees)}
}

// HealthSnapshot is the ephemeral result of aggregating a user's positions
// across every reserve. Values are in base currency; the health factor is wad
// (1e18) fixed point.
type HealthSnapshot struct {
	TotalCollateralBase        *big.Int
	TotalDebtBase              *big.Int
	AvgLTVBps                  uint64
	AvgLiquidationThresholdBps uint64
	HealthFactor               *big.Int
}

// Healthy reports whether the snapshot permits risk-increasing actions.
// The boundary is inclusive: a health factor of exactly 1.0 passes.
func (s HealthSnapshot) Healthy() bool {
	if s.TotalDebtBase == nil || s.TotalDebtBase.Sign() == 0 {
		return true
	}
	return s.HealthFactor.Cmp(wad) >= 0
}

func cloneBig(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}
