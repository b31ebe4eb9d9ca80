package config

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/BurntSushi/toml"
	"github.com/cockroachdb/apd/v3"
	"github.com/go-playground/validator/v10"

	"basin/native/lending"
)

// Config is the TOML-backed configuration for the accounting core. Rates are
// decimal strings parsed exactly; nothing goes through a float.
type Config struct {
	Lending LendingConfig `toml:"lending" validate:"required"`
	Vault   VaultConfig   `toml:"vault"`
}

// LendingConfig carries the interest curve, the liquidation policy and the
// reserve listings.
type LendingConfig struct {
	BaseRate string `toml:"base_rate" validate:"required"`
	Slope1   string `toml:"slope1" validate:"required"`
	Slope2   string `toml:"slope2" validate:"required"`
	Kink     string `toml:"kink" validate:"required"`

	CloseFactorBps    uint64 `toml:"close_factor_bps" validate:"lte=10000"`
	DustThresholdBase string `toml:"dust_threshold_base"`

	Reserves []ReserveConfig `toml:"reserves" validate:"dive"`
}

// ReserveConfig mirrors lending.ReserveConfig with TOML tags plus the asset
// symbol the reserve is listed under.
type ReserveConfig struct {
	Asset                     string `toml:"asset" validate:"required"`
	LTVBps                    uint64 `toml:"ltv_bps" validate:"lte=10000"`
	LiquidationThresholdBps   uint64 `toml:"liquidation_threshold_bps" validate:"lte=10000"`
	LiquidationBonusBps       uint64 `toml:"liquidation_bonus_bps" validate:"lte=10000"`
	LiquidationProtocolFeeBps uint64 `toml:"liquidation_protocol_fee_bps" validate:"lte=10000"`
	ReserveFactorBps          uint64 `toml:"reserve_factor_bps" validate:"lte=10000"`
	Decimals                  uint8  `toml:"decimals" validate:"lte=36"`
	BorrowCap                 uint64 `toml:"borrow_cap"`
	SupplyCap                 uint64 `toml:"supply_cap"`
	DebtCeiling               uint64 `toml:"debt_ceiling"`
	Active                    bool   `toml:"active"`
	Frozen                    bool   `toml:"frozen"`
	Paused                    bool   `toml:"paused"`
	BorrowingEnabled          bool   `toml:"borrowing_enabled"`
}

// VaultConfig carries the vault listing parameters.
type VaultConfig struct {
	Asset                        string             `toml:"asset"`
	ShareSupplyCap               string             `toml:"share_supply_cap"`
	AllowedRebalanceDeviationBps uint64             `toml:"allowed_rebalance_deviation_bps" validate:"lte=10000"`
	AlternativeAssets            []AlternativeAsset `toml:"alternative_assets" validate:"dive"`
}

// AlternativeAsset lists a non-native deposit asset and its fee.
type AlternativeAsset struct {
	Asset  string `toml:"asset" validate:"required"`
	FeeBps uint64 `toml:"fee_bps" validate:"lte=10000"`
}

// Load reads and validates a TOML configuration file.
func Load(path string) (*Config, error) {
	var cfg Config
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, fmt.Errorf("config: decode %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Parse decodes and validates TOML from a string.
func Parse(data string) (*Config, error) {
	var cfg Config
	if _, err := toml.Decode(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: decode: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate runs struct-tag validation over the whole tree.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

// RateModel builds the kinked interest model from the configured decimal
// strings.
func (c LendingConfig) RateModel() (*lending.KinkedRateModel, error) {
	base, err := decimalToRat(c.BaseRate)
	if err != nil {
		return nil, err
	}
	slope1, err := decimalToRat(c.Slope1)
	if err != nil {
		return nil, err
	}
	slope2, err := decimalToRat(c.Slope2)
	if err != nil {
		return nil, err
	}
	kink, err := decimalToRat(c.Kink)
	if err != nil {
		return nil, err
	}
	return lending.NewKinkedRateModel(base, slope1, slope2, kink), nil
}

// LiquidationPolicy builds the partial-liquidation policy. An empty dust
// threshold leaves the dust rule disabled.
func (c LendingConfig) LiquidationPolicy() (lending.LiquidationPolicy, error) {
	policy := lending.LiquidationPolicy{CloseFactorBps: c.CloseFactorBps}
	if c.DustThresholdBase != "" {
		threshold, ok := new(big.Int).SetString(c.DustThresholdBase, 10)
		if !ok || threshold.Sign() < 0 {
			return lending.LiquidationPolicy{}, fmt.Errorf("config: invalid dust threshold %q", c.DustThresholdBase)
		}
		policy.DustThresholdBase = threshold
	}
	return policy, nil
}

// Native converts the reserve listing into the engine's configuration type,
// applying the engine's own range checks.
func (r ReserveConfig) Native() (lending.ReserveConfig, error) {
	cfg := lending.ReserveConfig{
		LTVBps:                    r.LTVBps,
		LiquidationThresholdBps:   r.LiquidationThresholdBps,
		LiquidationBonusBps:       r.LiquidationBonusBps,
		LiquidationProtocolFeeBps: r.LiquidationProtocolFeeBps,
		ReserveFactorBps:          r.ReserveFactorBps,
		Decimals:                  r.Decimals,
		BorrowCap:                 r.BorrowCap,
		SupplyCap:                 r.SupplyCap,
		DebtCeiling:               r.DebtCeiling,
		Active:                    r.Active,
		Frozen:                    r.Frozen,
		Paused:                    r.Paused,
		BorrowingEnabled:          r.BorrowingEnabled,
	}
	if err := cfg.Validate(); err != nil {
		return lending.ReserveConfig{}, fmt.Errorf("config: reserve %s: %w", r.Asset, err)
	}
	return cfg, nil
}

// ShareCap parses the vault's share supply cap. Empty means uncapped.
func (v VaultConfig) ShareCap() (*big.Int, error) {
	if v.ShareSupplyCap == "" {
		return nil, nil
	}
	cap, ok := new(big.Int).SetString(v.ShareSupplyCap, 10)
	if !ok || cap.Sign() < 0 {
		return nil, fmt.Errorf("config: invalid share supply cap %q", v.ShareSupplyCap)
	}
	return cap, nil
}

// decimalToRat parses a decimal string exactly into a rational.
func decimalToRat(value string) (*big.Rat, error) {
	dec, _, err := apd.NewFromString(value)
	if err != nil {
		return nil, fmt.Errorf("config: parse decimal %q: %w", value, err)
	}
	if dec.Form != apd.Finite {
		return nil, errors.New("config: decimal must be finite: " + value)
	}

	coeff := new(big.Int).Set(dec.Coeff.MathBigInt())
	if dec.Negative {
		coeff.Neg(coeff)
	}
	rat := new(big.Rat).SetInt(coeff)
	scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(absInt32(dec.Exponent)), nil)
	if dec.Exponent >= 0 {
		rat.Mul(rat, new(big.Rat).SetInt(scale))
	} else {
		rat.Quo(rat, new(big.Rat).SetInt(scale))
	}
	return rat, nil
}

func absInt32(v int32) int64 {
	if v < 0 {
		return -int64(v)
	}
	return int64(v)
}
