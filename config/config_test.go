package config

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"
)

const sampleTOML = `
[lending]
base_rate = "0.02"
slope1 = "0.15"
slope2 = "0.60"
kink = "0.80"
close_factor_bps = 5000
dust_threshold_base = "100000000"

[[lending.reserves]]
asset = "USDX"
ltv_bps = 7500
liquidation_threshold_bps = 8000
liquidation_bonus_bps = 500
liquidation_protocol_fee_bps = 1000
reserve_factor_bps = 1000
decimals = 6
active = true
borrowing_enabled = true

[vault]
asset = "USDX"
share_supply_cap = "1000000"
allowed_rebalance_deviation_bps = 3

[[vault.alternative_assets]]
asset = "ALT"
fee_bps = 100
`

func TestParseSample(t *testing.T) {
	cfg, err := Parse(sampleTOML)
	require.NoError(t, err)

	require.Len(t, cfg.Lending.Reserves, 1)
	require.Equal(t, "USDX", cfg.Lending.Reserves[0].Asset)
	require.Equal(t, uint64(5_000), cfg.Lending.CloseFactorBps)
	require.Equal(t, uint64(3), cfg.Vault.AllowedRebalanceDeviationBps)
	require.Len(t, cfg.Vault.AlternativeAssets, 1)
}

func TestRateModelParsesDecimalsExactly(t *testing.T) {
	cfg, err := Parse(sampleTOML)
	require.NoError(t, err)

	model, err := cfg.Lending.RateModel()
	require.NoError(t, err)
	require.Zero(t, model.BaseRate.Cmp(big.NewRat(1, 50)))
	require.Zero(t, model.Slope1.Cmp(big.NewRat(3, 20)))
	require.Zero(t, model.Slope2.Cmp(big.NewRat(3, 5)))
	require.Zero(t, model.Kink.Cmp(big.NewRat(4, 5)))
}

func TestLiquidationPolicyParsing(t *testing.T) {
	cfg, err := Parse(sampleTOML)
	require.NoError(t, err)

	policy, err := cfg.Lending.LiquidationPolicy()
	require.NoError(t, err)
	require.Equal(t, uint64(5_000), policy.CloseFactorBps)
	require.Zero(t, policy.DustThresholdBase.Cmp(big.NewInt(100_000_000)))

	bad := cfg.Lending
	bad.DustThresholdBase = "not a number"
	_, err = bad.LiquidationPolicy()
	require.Error(t, err)
}

func TestReserveNativeConversion(t *testing.T) {
	cfg, err := Parse(sampleTOML)
	require.NoError(t, err)

	native, err := cfg.Lending.Reserves[0].Native()
	require.NoError(t, err)
	require.Equal(t, uint64(7_500), native.LTVBps)
	require.Equal(t, uint64(8_000), native.LiquidationThresholdBps)
	require.True(t, native.Active)

	// LTV above the liquidation threshold fails the engine's own check.
	bad := cfg.Lending.Reserves[0]
	bad.LTVBps = 9_000
	_, err = bad.Native()
	require.Error(t, err)
}

func TestShareCapParsing(t *testing.T) {
	cfg, err := Parse(sampleTOML)
	require.NoError(t, err)

	cap, err := cfg.Vault.ShareCap()
	require.NoError(t, err)
	require.Zero(t, cap.Cmp(big.NewInt(1_000_000)))

	uncapped := cfg.Vault
	uncapped.ShareSupplyCap = ""
	cap, err = uncapped.ShareCap()
	require.NoError(t, err)
	require.Nil(t, cap)
}

func TestValidationRejectsBadValues(t *testing.T) {
	_, err := Parse(`
[lending]
base_rate = "0.02"
slope1 = "0.15"
slope2 = "0.60"
kink = "0.80"

[[lending.reserves]]
ltv_bps = 7000
`)
	require.Error(t, err, "missing reserve asset must fail validation")

	_, err = Parse(`
[lending]
base_rate = "0.02"
slope1 = "0.15"
slope2 = "0.60"
kink = "0.80"
close_factor_bps = 20000
`)
	require.Error(t, err, "close factor above 100% must fail validation")
}

func TestDecimalParsingRejectsGarbage(t *testing.T) {
	bad := LendingConfig{BaseRate: "abc", Slope1: "0", Slope2: "0", Kink: "1"}
	_, err := bad.RateModel()
	require.Error(t, err)

	inf := LendingConfig{BaseRate: "Infinity", Slope1: "0", Slope2: "0", Kink: "1"}
	_, err = inf.RateModel()
	require.Error(t, err)
}
