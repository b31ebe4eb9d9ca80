package lending

import (
	"math/big"
	"testing"
)

func testConfig() ReserveConfig {
	return ReserveConfig{
		LTVBps:                  7_500,
		LiquidationThresholdBps: 8_000,
		LiquidationBonusBps:     500,
		ReserveFactorBps:        1_000,
		Decimals:                6,
		Active:                  true,
		BorrowingEnabled:        true,
	}
}

func rayFraction(numerator, denominator int64) *big.Int {
	v := new(big.Int).Mul(ray, big.NewInt(numerator))
	return v.Quo(v, big.NewInt(denominator))
}

func TestReserveConfigValidation(t *testing.T) {
	cfg := testConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}

	bad := testConfig()
	bad.LTVBps = 9_000 // above threshold
	if err := bad.Validate(); err == nil {
		t.Fatalf("expected LTV above threshold to be rejected")
	}

	bad = testConfig()
	bad.LiquidationThresholdBps = 11_000
	if err := bad.Validate(); err == nil {
		t.Fatalf("expected threshold above 100%% to be rejected")
	}

	bad = testConfig()
	bad.Decimals = 40
	if err := bad.Validate(); err == nil {
		t.Fatalf("expected absurd decimals to be rejected")
	}
}

func TestAccrueOneYearAtFivePercent(t *testing.T) {
	reserve, err := NewReserve(0, "USDX", testConfig())
	if err != nil {
		t.Fatalf("new reserve: %v", err)
	}
	reserve.CurrentLiquidityRate = rayFraction(5, 100)

	reserve.Accrue(SecondsPerYear)

	expected := rayFraction(105, 100)
	if reserve.LiquidityIndex.Cmp(expected) != 0 {
		t.Fatalf("unexpected liquidity index: got %s want %s", reserve.LiquidityIndex, expected)
	}
	if reserve.LastUpdateTimestamp != SecondsPerYear {
		t.Fatalf("timestamp not advanced: %d", reserve.LastUpdateTimestamp)
	}
}

func TestAccrueIdempotentWithinSameSecond(t *testing.T) {
	reserve, err := NewReserve(0, "USDX", testConfig())
	if err != nil {
		t.Fatalf("new reserve: %v", err)
	}
	reserve.CurrentLiquidityRate = rayFraction(5, 100)
	reserve.CurrentVariableBorrowRate = rayFraction(8, 100)
	reserve.TotalScaledDebt = big.NewInt(1_000_000)

	reserve.Accrue(1_000)
	liquidityOnce := new(big.Int).Set(reserve.LiquidityIndex)
	borrowOnce := new(big.Int).Set(reserve.VariableBorrowIndex)

	reserve.Accrue(1_000)
	if reserve.LiquidityIndex.Cmp(liquidityOnce) != 0 {
		t.Fatalf("liquidity index changed on repeated accrual: %s != %s", reserve.LiquidityIndex, liquidityOnce)
	}
	if reserve.VariableBorrowIndex.Cmp(borrowOnce) != 0 {
		t.Fatalf("borrow index changed on repeated accrual: %s != %s", reserve.VariableBorrowIndex, borrowOnce)
	}
}

func TestAccrueMonotonic(t *testing.T) {
	rates := []*big.Int{big.NewInt(0), big.NewInt(1), rayFraction(1, 100), rayFraction(50, 100), ray}
	elapsed := []uint64{0, 1, 13, 3600, SecondsPerYear}

	for _, rate := range rates {
		for _, dt := range elapsed {
			reserve, err := NewReserve(0, "USDX", testConfig())
			if err != nil {
				t.Fatalf("new reserve: %v", err)
			}
			reserve.CurrentLiquidityRate = new(big.Int).Set(rate)
			reserve.CurrentVariableBorrowRate = new(big.Int).Set(rate)
			reserve.TotalScaledDebt = big.NewInt(1)
			liquidityBefore := new(big.Int).Set(reserve.LiquidityIndex)
			borrowBefore := new(big.Int).Set(reserve.VariableBorrowIndex)

			reserve.Accrue(dt)

			if reserve.LiquidityIndex.Cmp(liquidityBefore) < 0 {
				t.Fatalf("liquidity index decreased: rate=%s dt=%d", rate, dt)
			}
			if reserve.VariableBorrowIndex.Cmp(borrowBefore) < 0 {
				t.Fatalf("borrow index decreased: rate=%s dt=%d", rate, dt)
			}
		}
	}
}

func TestBorrowIndexRoundsUpLiquidityDown(t *testing.T) {
	reserve, err := NewReserve(0, "USDX", testConfig())
	if err != nil {
		t.Fatalf("new reserve: %v", err)
	}
	// One ray-wei per year: a single elapsed second leaves a sub-unit
	// remainder that must vanish on the lender side and persist on the
	// borrower side.
	reserve.CurrentLiquidityRate = big.NewInt(1)
	reserve.CurrentVariableBorrowRate = big.NewInt(1)
	reserve.TotalScaledDebt = big.NewInt(1)

	reserve.Accrue(1)

	if reserve.LiquidityIndex.Cmp(ray) != 0 {
		t.Fatalf("liquidity index should floor away dust: %s", reserve.LiquidityIndex)
	}
	if reserve.VariableBorrowIndex.Cmp(ray) <= 0 {
		t.Fatalf("borrow index should round dust up: %s", reserve.VariableBorrowIndex)
	}
}

func TestNormalizedProjectionsMatchAccrual(t *testing.T) {
	reserve, err := NewReserve(0, "USDX", testConfig())
	if err != nil {
		t.Fatalf("new reserve: %v", err)
	}
	reserve.CurrentLiquidityRate = rayFraction(7, 100)
	reserve.CurrentVariableBorrowRate = rayFraction(11, 100)
	reserve.TotalScaledDebt = big.NewInt(500)

	const now = 123_456
	income := reserve.NormalizedIncome(now)
	debt := reserve.NormalizedVariableDebt(now)

	if reserve.LastUpdateTimestamp != 0 {
		t.Fatalf("projection mutated the reserve")
	}

	reserve.Accrue(now)
	if reserve.LiquidityIndex.Cmp(income) != 0 {
		t.Fatalf("normalized income mismatch: got %s want %s", income, reserve.LiquidityIndex)
	}
	if reserve.VariableBorrowIndex.Cmp(debt) != 0 {
		t.Fatalf("normalized debt mismatch: got %s want %s", debt, reserve.VariableBorrowIndex)
	}
}

func TestUpdateRatesUsesPostActionLiquidity(t *testing.T) {
	reserve, err := NewReserve(0, "USDX", testConfig())
	if err != nil {
		t.Fatalf("new reserve: %v", err)
	}
	reserve.TotalScaledDebt = big.NewInt(500)
	reserve.AvailableLiquidity = big.NewInt(1_000)

	model := NewKinkedRateModel(big.NewRat(0, 1), big.NewRat(1, 1), big.NewRat(0, 1), big.NewRat(1, 1))
	// Pending withdrawal of 500 pushes utilisation from 1/3 to 1/2.
	reserve.UpdateRates(model, nil, big.NewInt(500))

	expectedBorrow := rayFraction(1, 2)
	if reserve.CurrentVariableBorrowRate.Cmp(expectedBorrow) != 0 {
		t.Fatalf("unexpected borrow rate: got %s want %s", reserve.CurrentVariableBorrowRate, expectedBorrow)
	}
}
