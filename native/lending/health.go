package lending

import (
	"math/big"

	"github.com/holiman/uint256"

	"basin/pricing"
)

// MaxHealthFactor is the sentinel returned when a user has no debt. It is
// large enough that no real position can reach it.
var MaxHealthFactor = new(big.Int).Sub(new(big.Int).Lsh(one, 256), one)

// MaxReserves bounds the reserve list so health evaluation and the user
// bitmap stay fixed-size.
const MaxReserves = 128

// UserConfiguration is a 256-bit bitmap recording, per reserve, whether the
// user is borrowing and whether their deposit counts as collateral. Two bits
// per reserve: bit 2*id for borrowing, bit 2*id+1 for collateral.
type UserConfiguration struct {
	data uint256.Int
}

func (c *UserConfiguration) setBit(offset uint, on bool) {
	mask := new(uint256.Int).Lsh(uint256.NewInt(1), offset)
	if on {
		c.data.Or(&c.data, mask)
	} else {
		c.data.And(&c.data, mask.Not(mask))
	}
}

func (c *UserConfiguration) bit(offset uint) bool {
	shifted := new(uint256.Int).Rsh(&c.data, offset)
	return shifted.And(shifted, uint256.NewInt(1)).Sign() != 0
}

// SetBorrowing flags the reserve as borrowed from.
func (c *UserConfiguration) SetBorrowing(reserveID uint16, on bool) {
	c.setBit(uint(reserveID)*2, on)
}

// SetUsingAsCollateral flags the reserve's deposit as collateral.
func (c *UserConfiguration) SetUsingAsCollateral(reserveID uint16, on bool) {
	c.setBit(uint(reserveID)*2+1, on)
}

// IsBorrowing reports whether the user borrows from the reserve.
func (c *UserConfiguration) IsBorrowing(reserveID uint16) bool {
	return c.bit(uint(reserveID) * 2)
}

// IsUsingAsCollateral reports whether the reserve's deposit counts as
// collateral.
func (c *UserConfiguration) IsUsingAsCollateral(reserveID uint16) bool {
	return c.bit(uint(reserveID)*2 + 1)
}

// IsEmpty reports whether the user has no flagged positions at all.
func (c *UserConfiguration) IsEmpty() bool {
	return c.data.IsZero()
}

// Clone returns a deep copy of the bitmap.
func (c *UserConfiguration) Clone() *UserConfiguration {
	clone := &UserConfiguration{}
	clone.data.Set(&c.data)
	return clone
}

// MarshalJSON encodes the bitmap as a hex string.
func (c *UserConfiguration) MarshalJSON() ([]byte, error) {
	return []byte(`"` + c.data.Hex() + `"`), nil
}

// UnmarshalJSON decodes the hex representation.
func (c *UserConfiguration) UnmarshalJSON(data []byte) error {
	if len(data) >= 2 && data[0] == '"' && data[len(data)-1] == '"' {
		data = data[1 : len(data)-1]
	}
	parsed, err := uint256.FromHex(string(data))
	if err != nil {
		return err
	}
	c.data.Set(parsed)
	return nil
}

// ReserveView pairs a reserve with one user's scaled balances in it, the unit
// health evaluation iterates over.
type ReserveView struct {
	Reserve      *Reserve
	ScaledSupply *big.Int
	ScaledDebt   *big.Int
}

// EvaluateHealth aggregates the user's positions into base-currency collateral
// and debt totals, weighted averages and a wad health factor.
//
// Indices are projected to the supplied timestamp via the read-only
// normalizers; callers that want committed indices must accrue first. A stale
// timestamp silently yields an optimistic or pessimistic snapshot, which is a
// documented precondition rather than a runtime check.
//
// Inactive reserves contribute nothing regardless of balances. Oracle errors
// propagate unchanged: a snapshot is never built from a guessed price.
func EvaluateHealth(cfg *UserConfiguration, views []ReserveView, oracle pricing.Oracle, now uint64) (HealthSnapshot, error) {
	snapshot := HealthSnapshot{
		TotalCollateralBase: big.NewInt(0),
		TotalDebtBase:       big.NewInt(0),
		HealthFactor:        new(big.Int).Set(MaxHealthFactor),
	}
	if cfg == nil || cfg.IsEmpty() {
		return snapshot, nil
	}

	ltvWeighted := big.NewInt(0)
	thresholdWeighted := big.NewInt(0)

	for _, view := range views {
		reserve := view.Reserve
		if reserve == nil || !reserve.Config.Active {
			continue
		}
		usingAsCollateral := cfg.IsUsingAsCollateral(reserve.ID)
		borrowing := cfg.IsBorrowing(reserve.ID)
		if !usingAsCollateral && !borrowing {
			continue
		}

		price, err := oracle.PriceInUSD(reserve.Asset)
		if err != nil {
			return HealthSnapshot{}, err
		}
		unit := reserve.unit()

		if usingAsCollateral && view.ScaledSupply != nil && view.ScaledSupply.Sign() > 0 {
			balance := rayMulDown(view.ScaledSupply, reserve.NormalizedIncome(now))
			value := new(big.Int).Mul(balance, price)
			value.Quo(value, unit)

			snapshot.TotalCollateralBase.Add(snapshot.TotalCollateralBase, value)
			ltvWeighted.Add(ltvWeighted, new(big.Int).Mul(value, new(big.Int).SetUint64(reserve.Config.LTVBps)))
			thresholdWeighted.Add(thresholdWeighted, new(big.Int).Mul(value, new(big.Int).SetUint64(reserve.Config.LiquidationThresholdBps)))
		}

		if borrowing && view.ScaledDebt != nil && view.ScaledDebt.Sign() > 0 {
			debt := rayMulUp(view.ScaledDebt, reserve.NormalizedVariableDebt(now))
			value := new(big.Int).Mul(debt, price)
			value.Quo(value, unit)
			snapshot.TotalDebtBase.Add(snapshot.TotalDebtBase, value)
		}
	}

	if snapshot.TotalCollateralBase.Sign() > 0 {
		snapshot.AvgLTVBps = new(big.Int).Quo(ltvWeighted, snapshot.TotalCollateralBase).Uint64()
		snapshot.AvgLiquidationThresholdBps = new(big.Int).Quo(thresholdWeighted, snapshot.TotalCollateralBase).Uint64()
	}
	if snapshot.TotalDebtBase.Sign() > 0 {
		weighted := percentMulDown(snapshot.TotalCollateralBase, snapshot.AvgLiquidationThresholdBps)
		snapshot.HealthFactor = wadDivDown(weighted, snapshot.TotalDebtBase)
	}
	return snapshot, nil
}
