package lending

import "math/big"

// CloseType reports whether a liquidation cleared the borrower's debt in the
// covered asset entirely. Informational only; nothing is stored.
type CloseType uint8

const (
	PartialClose CloseType = iota + 1
	FullClose
)

// LiquidationPolicy holds the partial-liquidation policy constants. These are
// configuration, not invariants: the close factor bounds how much of a
// position one call may repay, and positions whose total debt value sits
// below the dust threshold may be closed in full.
type LiquidationPolicy struct {
	CloseFactorBps uint64
	// DustThresholdBase is denominated in base currency units.
	DustThresholdBase *big.Int
}

// DefaultLiquidationPolicy allows closing half a position per call.
var DefaultLiquidationPolicy = LiquidationPolicy{CloseFactorBps: 5_000}

// LiquidationInput carries everything the close computation needs. Prices are
// base-currency quotes; units are 10^decimals of the respective assets.
type LiquidationInput struct {
	Snapshot        HealthSnapshot
	DebtToCover     *big.Int
	UserTotalDebt   *big.Int
	UserCollateral  *big.Int
	DebtPrice       *big.Int
	CollateralPrice *big.Int
	DebtUnit        *big.Int
	CollateralUnit  *big.Int
	BonusBps        uint64
	ProtocolFeeBps  uint64
}

// LiquidationQuote is the outcome: how much debt is actually repaid, how much
// collateral the caller seizes, and the protocol's slice of the bonus.
type LiquidationQuote struct {
	DebtRepaid       *big.Int
	CollateralSeized *big.Int
	ProtocolFee      *big.Int
	CloseType        CloseType
}

// CalculateLiquidation computes the seizable collateral for an unhealthy
// position. The requested debt is clamped to the close factor (or the full
// debt below the dust threshold), and the seize amount is clamped to the
// collateral that actually exists; when that second clamp binds, the repaid
// debt shrinks proportionally so the caller never pays for collateral that
// is not there.
func CalculateLiquidation(policy LiquidationPolicy, in LiquidationInput) (LiquidationQuote, error) {
	if in.DebtToCover == nil || in.DebtToCover.Sign() <= 0 {
		return LiquidationQuote{}, ErrInvalidAmount
	}
	if in.UserTotalDebt == nil || in.UserTotalDebt.Sign() == 0 {
		return LiquidationQuote{}, ErrNoDebtToRepay
	}
	if in.Snapshot.Healthy() {
		return LiquidationQuote{}, ErrNotLiquidatable
	}

	maxClose := new(big.Int).Set(in.UserTotalDebt)
	dust := policy.DustThresholdBase != nil &&
		in.Snapshot.TotalDebtBase != nil &&
		in.Snapshot.TotalDebtBase.Cmp(policy.DustThresholdBase) <= 0
	if !dust && policy.CloseFactorBps > 0 && policy.CloseFactorBps < 10_000 {
		maxClose = percentMulDown(in.UserTotalDebt, policy.CloseFactorBps)
	}
	debtRepaid := new(big.Int).Set(bigMin(in.DebtToCover, maxClose))

	// Convert the repaid debt into collateral terms and apply the bonus.
	baseValue := new(big.Int).Mul(debtRepaid, in.DebtPrice)
	baseValue.Quo(baseValue, in.DebtUnit)
	collateralAmount := new(big.Int).Mul(baseValue, in.CollateralUnit)
	collateralAmount.Quo(collateralAmount, in.CollateralPrice)
	seized := percentMulDown(collateralAmount, 10_000+in.BonusBps)

	if in.UserCollateral != nil && seized.Cmp(in.UserCollateral) > 0 {
		seized = new(big.Int).Set(in.UserCollateral)
		// Invert the seize computation to find the debt this much
		// collateral can actually cover.
		covered := new(big.Int).Mul(percentDivDown(seized, 10_000+in.BonusBps), in.CollateralPrice)
		covered.Quo(covered, in.CollateralUnit)
		debtRepaid = covered.Mul(covered, in.DebtUnit)
		debtRepaid.Quo(debtRepaid, in.DebtPrice)
	}

	// The bonus slice of the seized collateral funds the protocol fee.
	bonusPart := new(big.Int).Sub(seized, percentDivDown(seized, 10_000+in.BonusBps))
	protocolFee := percentMulDown(bonusPart, in.ProtocolFeeBps)

	closeType := PartialClose
	if debtRepaid.Cmp(in.UserTotalDebt) >= 0 {
		closeType = FullClose
	}
	return LiquidationQuote{
		DebtRepaid:       debtRepaid,
		CollateralSeized: seized,
		ProtocolFee:      protocolFee,
		CloseType:        closeType,
	}, nil
}
