package lending

import (
	"log/slog"
	"math/big"
	"time"

	"basin/native/common"
	"basin/observability"
	"basin/pricing"
)

const moduleName = "lending"

// State is the persistence layer the engine runs against. Lookups for absent
// records return (nil, nil); implementations must hand out copies the engine
// may freely mutate before deciding whether to persist them.
type State interface {
	GetReserve(asset string) (*Reserve, error)
	PutReserve(asset string, reserve *Reserve) error
	DeleteReserve(asset string) error
	ListReserveAssets() ([]string, error)
	GetPosition(user, asset string) (*UserReserveData, error)
	PutPosition(user, asset string, position *UserReserveData) error
	GetUserConfig(user string) (*UserConfiguration, error)
	PutUserConfig(user string, cfg *UserConfiguration) error
	GetFeeAccrual(asset string) (*FeeAccrual, error)
	PutFeeAccrual(asset string, fees *FeeAccrual) error
}

// Engine orchestrates the primary state transitions for the lending module.
// Every mutating entry point runs the same fixed sequence: accrue indices,
// validate preconditions, move value, update scaled balances, recompute
// rates. An exclusive entry latch keeps re-entrant calls from interleaving.
type Engine struct {
	state  State
	oracle pricing.Oracle
	rates  RateStrategy
	policy LiquidationPolicy
	pauses common.PauseView
	entry  common.EntryGuard
	now    uint64
	logger *slog.Logger
}

// NewEngine constructs a lending engine bound to a price oracle and a rate
// strategy.
func NewEngine(oracle pricing.Oracle, rates RateStrategy) *Engine {
	return &Engine{
		oracle: oracle,
		rates:  rates,
		policy: DefaultLiquidationPolicy,
		logger: slog.Default(),
	}
}

// SetState wires the engine to the external persistence layer.
func (e *Engine) SetState(state State) { e.state = state }

// SetPauses wires the governance pause switches.
func (e *Engine) SetPauses(p common.PauseView) {
	if e == nil {
		return
	}
	e.pauses = p
}

// SetLiquidationPolicy replaces the partial-liquidation policy constants.
func (e *Engine) SetLiquidationPolicy(policy LiquidationPolicy) {
	if e == nil {
		return
	}
	e.policy = policy
	if policy.DustThresholdBase != nil {
		e.policy.DustThresholdBase = new(big.Int).Set(policy.DustThresholdBase)
	}
}

// SetTimestamp records the clock used when computing accrual deltas.
func (e *Engine) SetTimestamp(now uint64) {
	if e == nil {
		return
	}
	e.now = now
}

// SetLogger replaces the structured logger.
func (e *Engine) SetLogger(logger *slog.Logger) {
	if e == nil || logger == nil {
		return
	}
	e.logger = logger
}

// begin runs the shared entry sequence: state wired, module not paused,
// exclusive latch taken. The returned release must be deferred.
func (e *Engine) begin() (func(), error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	if err := common.Guard(e.pauses, moduleName); err != nil {
		return nil, err
	}
	return e.entry.Enter()
}

// InitReserve lists a new asset and returns its reserve id.
func (e *Engine) InitReserve(asset string, cfg ReserveConfig) (id uint16, err error) {
	defer func(start time.Time) { observability.ModuleMetrics().Observe(moduleName, "init_reserve", start, err) }(time.Now())
	release, err := e.begin()
	if err != nil {
		return 0, err
	}
	defer release()

	existing, err := e.state.GetReserve(asset)
	if err != nil {
		return 0, err
	}
	if existing != nil {
		return 0, ErrReserveAlreadyListed
	}
	assets, err := e.state.ListReserveAssets()
	if err != nil {
		return 0, err
	}
	if len(assets) >= MaxReserves {
		return 0, ErrInvalidConfig
	}
	id, err = e.nextReserveID(assets)
	if err != nil {
		return 0, err
	}

	reserve, err := NewReserve(id, asset, cfg)
	if err != nil {
		return 0, err
	}
	reserve.LastUpdateTimestamp = e.now
	if err := e.state.PutReserve(asset, reserve); err != nil {
		return 0, err
	}
	e.logger.Info("reserve listed", "asset", asset, "id", reserve.ID)
	return reserve.ID, nil
}

// DropReserve delists an asset. Only reserves with zero outstanding
// liquidity, zero debt and a settled treasury claim may be dropped.
func (e *Engine) DropReserve(asset string) (err error) {
	defer func(start time.Time) { observability.ModuleMetrics().Observe(moduleName, "drop_reserve", start, err) }(time.Now())
	release, err := e.begin()
	if err != nil {
		return err
	}
	defer release()

	reserve, err := e.ensureReserve(asset)
	if err != nil {
		return err
	}
	if reserve.TotalScaledSupply.Sign() != 0 || reserve.TotalScaledDebt.Sign() != 0 {
		return ErrReserveNotEmpty
	}
	fees, err := e.ensureFees(asset)
	if err != nil {
		return err
	}
	if fees.ProtocolFees.Sign() != 0 {
		return ErrReserveNotEmpty
	}
	if err := e.state.DeleteReserve(asset); err != nil {
		return err
	}
	e.logger.Info("reserve dropped", "asset", asset)
	return nil
}

// Supply deposits underlying into the reserve and credits the supplier with
// scaled units. The minted scaled amount is returned. A first deposit enables
// the asset as collateral for the supplier.
func (e *Engine) Supply(user, asset string, amount *big.Int) (minted *big.Int, err error) {
	defer func(start time.Time) { observability.ModuleMetrics().Observe(moduleName, "supply", start, err) }(time.Now())
	release, err := e.begin()
	if err != nil {
		return nil, err
	}
	defer release()
	if amount == nil || amount.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}

	reserve, err := e.ensureReserve(asset)
	if err != nil {
		return nil, err
	}
	if err := checkReserveUsable(reserve, true); err != nil {
		return nil, err
	}

	fees, feesChanged, err := e.accrueReserve(reserve)
	if err != nil {
		return nil, err
	}

	if cap := reserve.Config.SupplyCap; cap > 0 {
		projected := new(big.Int).Add(reserve.TotalSupplied(), amount)
		limit := new(big.Int).Mul(new(big.Int).SetUint64(cap), reserve.unit())
		if projected.Cmp(limit) > 0 {
			return nil, ErrSupplyCapExceeded
		}
	}

	minted = rayDivDown(amount, reserve.LiquidityIndex)
	if minted.Sign() == 0 {
		return nil, ErrInvalidAmount
	}

	position, err := e.ensurePosition(user, asset)
	if err != nil {
		return nil, err
	}
	firstSupply := position.ScaledSupply.Sign() == 0

	position.ScaledSupply = new(big.Int).Add(position.ScaledSupply, minted)
	reserve.TotalScaledSupply = new(big.Int).Add(reserve.TotalScaledSupply, minted)
	reserve.AvailableLiquidity = new(big.Int).Add(reserve.AvailableLiquidity, amount)
	reserve.UpdateRates(e.rates, nil, nil)

	if firstSupply {
		cfg, err := e.ensureUserConfig(user)
		if err != nil {
			return nil, err
		}
		cfg.SetUsingAsCollateral(reserve.ID, true)
		if err := e.state.PutUserConfig(user, cfg); err != nil {
			return nil, err
		}
	}
	if err := e.persist(asset, reserve, position, fees, feesChanged); err != nil {
		return nil, err
	}
	return minted, nil
}

// Withdraw releases underlying back to the supplier, burning scaled units.
// When the asset is flagged as collateral the withdrawal is simulated against
// the health engine first and rejected if the resulting factor would drop
// below one. Returns the burned scaled amount.
func (e *Engine) Withdraw(user, asset string, amount *big.Int) (burned *big.Int, err error) {
	defer func(start time.Time) { observability.ModuleMetrics().Observe(moduleName, "withdraw", start, err) }(time.Now())
	release, err := e.begin()
	if err != nil {
		return nil, err
	}
	defer release()
	if amount == nil || amount.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}

	reserve, err := e.ensureReserve(asset)
	if err != nil {
		return nil, err
	}
	// Frozen reserves still allow exits, paused ones do not.
	if err := checkReserveUsable(reserve, false); err != nil {
		return nil, err
	}

	fees, feesChanged, err := e.accrueReserve(reserve)
	if err != nil {
		return nil, err
	}

	position, err := e.ensurePosition(user, asset)
	if err != nil {
		return nil, err
	}
	balance := rayMulDown(position.ScaledSupply, reserve.LiquidityIndex)
	if balance.Cmp(amount) < 0 {
		return nil, ErrInsufficientBalance
	}
	if reserve.AvailableLiquidity.Cmp(amount) < 0 {
		return nil, ErrInsufficientLiquidity
	}

	burned = rayDivUp(amount, reserve.LiquidityIndex)
	if burned.Cmp(position.ScaledSupply) > 0 {
		burned = new(big.Int).Set(position.ScaledSupply)
	}

	cfg, err := e.ensureUserConfig(user)
	if err != nil {
		return nil, err
	}
	if cfg.IsUsingAsCollateral(reserve.ID) {
		provisional := position.Clone()
		provisional.ScaledSupply = new(big.Int).Sub(provisional.ScaledSupply, burned)
		snapshot, err := e.evaluateUser(user, map[string]*UserReserveData{asset: provisional}, nil)
		if err != nil {
			return nil, err
		}
		if !snapshot.Healthy() {
			return nil, ErrHealthFactorTooLow
		}
	}

	position.ScaledSupply = new(big.Int).Sub(position.ScaledSupply, burned)
	reserve.TotalScaledSupply = new(big.Int).Sub(reserve.TotalScaledSupply, burned)
	reserve.AvailableLiquidity = new(big.Int).Sub(reserve.AvailableLiquidity, amount)
	reserve.UpdateRates(e.rates, nil, nil)

	if position.ScaledSupply.Sign() == 0 && cfg.IsUsingAsCollateral(reserve.ID) {
		cfg.SetUsingAsCollateral(reserve.ID, false)
		if err := e.state.PutUserConfig(user, cfg); err != nil {
			return nil, err
		}
	}
	if err := e.persist(asset, reserve, position, fees, feesChanged); err != nil {
		return nil, err
	}
	return burned, nil
}

// Borrow draws underlying from the reserve against the user's collateral.
// The projected position must stay at or above a health factor of one; the
// boundary is inclusive.
func (e *Engine) Borrow(user, asset string, amount *big.Int) (err error) {
	defer func(start time.Time) { observability.ModuleMetrics().Observe(moduleName, "borrow", start, err) }(time.Now())
	release, err := e.begin()
	if err != nil {
		return err
	}
	defer release()
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}

	reserve, err := e.ensureReserve(asset)
	if err != nil {
		return err
	}
	if err := checkReserveUsable(reserve, true); err != nil {
		return err
	}
	if !reserve.Config.BorrowingEnabled {
		return ErrBorrowingDisabled
	}

	fees, feesChanged, err := e.accrueReserve(reserve)
	if err != nil {
		return err
	}

	if cap := reserve.Config.BorrowCap; cap > 0 {
		projected := new(big.Int).Add(reserve.TotalDebt(), amount)
		limit := new(big.Int).Mul(new(big.Int).SetUint64(cap), reserve.unit())
		if projected.Cmp(limit) > 0 {
			return ErrBorrowCapExceeded
		}
	}
	if reserve.AvailableLiquidity.Cmp(amount) < 0 {
		return ErrInsufficientLiquidity
	}

	drawn := rayDivUp(amount, reserve.VariableBorrowIndex)
	if drawn.Sign() == 0 {
		return ErrInvalidAmount
	}

	position, err := e.ensurePosition(user, asset)
	if err != nil {
		return err
	}
	cfg, err := e.ensureUserConfig(user)
	if err != nil {
		return err
	}

	provisionalCfg := cfg.Clone()
	provisionalCfg.SetBorrowing(reserve.ID, true)
	provisional := position.Clone()
	provisional.ScaledDebt = new(big.Int).Add(provisional.ScaledDebt, drawn)
	snapshot, err := e.evaluateUser(user, map[string]*UserReserveData{asset: provisional}, provisionalCfg)
	if err != nil {
		return err
	}
	if !snapshot.Healthy() {
		return ErrHealthFactorTooLow
	}

	position.ScaledDebt = new(big.Int).Add(position.ScaledDebt, drawn)
	reserve.TotalScaledDebt = new(big.Int).Add(reserve.TotalScaledDebt, drawn)
	reserve.AvailableLiquidity = new(big.Int).Sub(reserve.AvailableLiquidity, amount)
	reserve.UpdateRates(e.rates, nil, nil)

	cfg.SetBorrowing(reserve.ID, true)
	if err := e.state.PutUserConfig(user, cfg); err != nil {
		return err
	}
	return e.persist(asset, reserve, position, fees, feesChanged)
}

// Repay settles outstanding debt, clamped to what is owed. The underlying
// amount actually repaid is returned.
func (e *Engine) Repay(user, asset string, amount *big.Int) (repaid *big.Int, err error) {
	defer func(start time.Time) { observability.ModuleMetrics().Observe(moduleName, "repay", start, err) }(time.Now())
	release, err := e.begin()
	if err != nil {
		return nil, err
	}
	defer release()
	if amount == nil || amount.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}

	reserve, err := e.ensureReserve(asset)
	if err != nil {
		return nil, err
	}
	if err := checkReserveUsable(reserve, false); err != nil {
		return nil, err
	}

	fees, feesChanged, err := e.accrueReserve(reserve)
	if err != nil {
		return nil, err
	}

	position, err := e.ensurePosition(user, asset)
	if err != nil {
		return nil, err
	}
	debt := rayMulUp(position.ScaledDebt, reserve.VariableBorrowIndex)
	if debt.Sign() == 0 {
		return nil, ErrNoDebtToRepay
	}

	repaid = new(big.Int).Set(bigMin(amount, debt))
	var settled *big.Int
	if repaid.Cmp(debt) == 0 {
		settled = new(big.Int).Set(position.ScaledDebt)
	} else {
		settled = rayDivDown(repaid, reserve.VariableBorrowIndex)
		if settled.Cmp(position.ScaledDebt) > 0 {
			settled = new(big.Int).Set(position.ScaledDebt)
		}
	}

	position.ScaledDebt = new(big.Int).Sub(position.ScaledDebt, settled)
	reserve.TotalScaledDebt = new(big.Int).Sub(reserve.TotalScaledDebt, settled)
	reserve.AvailableLiquidity = new(big.Int).Add(reserve.AvailableLiquidity, repaid)
	reserve.UpdateRates(e.rates, nil, nil)

	if position.ScaledDebt.Sign() == 0 {
		cfg, err := e.ensureUserConfig(user)
		if err != nil {
			return nil, err
		}
		cfg.SetBorrowing(reserve.ID, false)
		if err := e.state.PutUserConfig(user, cfg); err != nil {
			return nil, err
		}
	}
	if err := e.persist(asset, reserve, position, fees, feesChanged); err != nil {
		return nil, err
	}
	return repaid, nil
}

// SetUsingAsCollateral toggles the collateral flag for a reserve. Disabling
// is simulated first: the remaining collateral must keep the health factor at
// or above one.
func (e *Engine) SetUsingAsCollateral(user, asset string, using bool) (err error) {
	defer func(start time.Time) { observability.ModuleMetrics().Observe(moduleName, "set_collateral", start, err) }(time.Now())
	release, err := e.begin()
	if err != nil {
		return err
	}
	defer release()

	reserve, err := e.ensureReserve(asset)
	if err != nil {
		return err
	}
	cfg, err := e.ensureUserConfig(user)
	if err != nil {
		return err
	}
	if cfg.IsUsingAsCollateral(reserve.ID) == using {
		return nil
	}

	if using {
		if !reserve.Config.Active {
			return ErrReserveInactive
		}
		position, err := e.ensurePosition(user, asset)
		if err != nil {
			return err
		}
		if position.ScaledSupply.Sign() == 0 {
			return ErrInsufficientBalance
		}
	} else {
		provisional := cfg.Clone()
		provisional.SetUsingAsCollateral(reserve.ID, false)
		snapshot, err := e.evaluateUser(user, nil, provisional)
		if err != nil {
			return err
		}
		if !snapshot.Healthy() {
			return ErrHealthFactorTooLow
		}
	}

	cfg.SetUsingAsCollateral(reserve.ID, using)
	return e.state.PutUserConfig(user, cfg)
}

// LiquidationCall lets a third party repay part of an unhealthy borrower's
// debt in exchange for a bonus-discounted slice of their collateral. The
// seized collateral is credited to the liquidator as a supply position; the
// protocol fee slice of the bonus accrues to the treasury claim.
func (e *Engine) LiquidationCall(liquidator, user, collateralAsset, debtAsset string, debtToCover *big.Int) (quote LiquidationQuote, err error) {
	defer func(start time.Time) { observability.ModuleMetrics().Observe(moduleName, "liquidation_call", start, err) }(time.Now())
	release, err := e.begin()
	if err != nil {
		return LiquidationQuote{}, err
	}
	defer release()
	if debtToCover == nil || debtToCover.Sign() <= 0 {
		return LiquidationQuote{}, ErrInvalidAmount
	}

	collateralReserve, err := e.ensureReserve(collateralAsset)
	if err != nil {
		return LiquidationQuote{}, err
	}
	debtReserve := collateralReserve
	if debtAsset != collateralAsset {
		debtReserve, err = e.ensureReserve(debtAsset)
		if err != nil {
			return LiquidationQuote{}, err
		}
	}
	if !collateralReserve.Config.Active || !debtReserve.Config.Active {
		return LiquidationQuote{}, ErrReserveInactive
	}
	if collateralReserve.Config.Paused || debtReserve.Config.Paused {
		return LiquidationQuote{}, ErrReservePaused
	}

	collateralFees, collateralFeesChanged, err := e.accrueReserve(collateralReserve)
	if err != nil {
		return LiquidationQuote{}, err
	}
	var debtFees *FeeAccrual
	debtFeesChanged := false
	if debtReserve != collateralReserve {
		debtFees, debtFeesChanged, err = e.accrueReserve(debtReserve)
		if err != nil {
			return LiquidationQuote{}, err
		}
	}

	cfg, err := e.ensureUserConfig(user)
	if err != nil {
		return LiquidationQuote{}, err
	}
	if !cfg.IsUsingAsCollateral(collateralReserve.ID) {
		return LiquidationQuote{}, ErrCollateralNotEnabled
	}

	snapshot, err := e.evaluateUser(user, nil, nil)
	if err != nil {
		return LiquidationQuote{}, err
	}

	debtPosition, err := e.ensurePosition(user, debtAsset)
	if err != nil {
		return LiquidationQuote{}, err
	}
	userDebt := rayMulUp(debtPosition.ScaledDebt, debtReserve.VariableBorrowIndex)
	collateralPosition, err := e.ensurePosition(user, collateralAsset)
	if err != nil {
		return LiquidationQuote{}, err
	}
	userCollateral := rayMulDown(collateralPosition.ScaledSupply, collateralReserve.LiquidityIndex)

	debtPrice, err := e.oracle.PriceInUSD(debtAsset)
	if err != nil {
		return LiquidationQuote{}, err
	}
	collateralPrice, err := e.oracle.PriceInUSD(collateralAsset)
	if err != nil {
		return LiquidationQuote{}, err
	}

	quote, err = CalculateLiquidation(e.policy, LiquidationInput{
		Snapshot:        snapshot,
		DebtToCover:     debtToCover,
		UserTotalDebt:   userDebt,
		UserCollateral:  userCollateral,
		DebtPrice:       debtPrice,
		CollateralPrice: collateralPrice,
		DebtUnit:        debtReserve.unit(),
		CollateralUnit:  collateralReserve.unit(),
		BonusBps:        collateralReserve.Config.LiquidationBonusBps,
		ProtocolFeeBps:  collateralReserve.Config.LiquidationProtocolFeeBps,
	})
	if err != nil {
		return LiquidationQuote{}, err
	}

	// Settle the borrower's debt with the repaid underlying.
	var settled *big.Int
	if quote.CloseType == FullClose {
		settled = new(big.Int).Set(debtPosition.ScaledDebt)
	} else {
		settled = rayDivDown(quote.DebtRepaid, debtReserve.VariableBorrowIndex)
		if settled.Cmp(debtPosition.ScaledDebt) > 0 {
			settled = new(big.Int).Set(debtPosition.ScaledDebt)
		}
	}
	debtPosition.ScaledDebt = new(big.Int).Sub(debtPosition.ScaledDebt, settled)
	debtReserve.TotalScaledDebt = new(big.Int).Sub(debtReserve.TotalScaledDebt, settled)
	debtReserve.AvailableLiquidity = new(big.Int).Add(debtReserve.AvailableLiquidity, quote.DebtRepaid)
	if debtPosition.ScaledDebt.Sign() == 0 {
		cfg.SetBorrowing(debtReserve.ID, false)
	}

	// Move the seized collateral from the borrower to the liquidator,
	// keeping the protocol fee slice as a treasury claim.
	seizedScaled := rayDivUp(quote.CollateralSeized, collateralReserve.LiquidityIndex)
	if seizedScaled.Cmp(collateralPosition.ScaledSupply) > 0 {
		seizedScaled = new(big.Int).Set(collateralPosition.ScaledSupply)
	}
	liquidatorShare := new(big.Int).Sub(quote.CollateralSeized, quote.ProtocolFee)
	liquidatorScaled := rayDivDown(liquidatorShare, collateralReserve.LiquidityIndex)

	collateralPosition.ScaledSupply = new(big.Int).Sub(collateralPosition.ScaledSupply, seizedScaled)
	if collateralPosition.ScaledSupply.Sign() == 0 {
		cfg.SetUsingAsCollateral(collateralReserve.ID, false)
	}

	liquidatorPosition, err := e.ensurePosition(liquidator, collateralAsset)
	if err != nil {
		return LiquidationQuote{}, err
	}
	liquidatorFirstSupply := liquidatorPosition.ScaledSupply.Sign() == 0
	liquidatorPosition.ScaledSupply = new(big.Int).Add(liquidatorPosition.ScaledSupply, liquidatorScaled)
	collateralReserve.TotalScaledSupply = new(big.Int).Sub(collateralReserve.TotalScaledSupply, new(big.Int).Sub(seizedScaled, liquidatorScaled))

	if quote.ProtocolFee.Sign() > 0 {
		collateralFees.ProtocolFees = new(big.Int).Add(collateralFees.ProtocolFees, quote.ProtocolFee)
		collateralFeesChanged = true
	}

	debtReserve.UpdateRates(e.rates, nil, nil)
	if collateralReserve != debtReserve {
		collateralReserve.UpdateRates(e.rates, nil, nil)
	}

	if err := e.state.PutUserConfig(user, cfg); err != nil {
		return LiquidationQuote{}, err
	}
	if liquidatorFirstSupply && liquidatorScaled.Sign() > 0 {
		liquidatorCfg, err := e.ensureUserConfig(liquidator)
		if err != nil {
			return LiquidationQuote{}, err
		}
		liquidatorCfg.SetUsingAsCollateral(collateralReserve.ID, true)
		if err := e.state.PutUserConfig(liquidator, liquidatorCfg); err != nil {
			return LiquidationQuote{}, err
		}
	}
	if err := e.state.PutPosition(user, debtAsset, debtPosition); err != nil {
		return LiquidationQuote{}, err
	}
	if err := e.state.PutPosition(user, collateralAsset, collateralPosition); err != nil {
		return LiquidationQuote{}, err
	}
	if err := e.state.PutPosition(liquidator, collateralAsset, liquidatorPosition); err != nil {
		return LiquidationQuote{}, err
	}
	if err := e.state.PutReserve(debtAsset, debtReserve); err != nil {
		return LiquidationQuote{}, err
	}
	if collateralReserve != debtReserve {
		if err := e.state.PutReserve(collateralAsset, collateralReserve); err != nil {
			return LiquidationQuote{}, err
		}
	}
	if collateralFeesChanged {
		if err := e.state.PutFeeAccrual(collateralAsset, collateralFees); err != nil {
			return LiquidationQuote{}, err
		}
	}
	if debtFeesChanged {
		if err := e.state.PutFeeAccrual(debtAsset, debtFees); err != nil {
			return LiquidationQuote{}, err
		}
	}

	e.logger.Info("liquidation",
		"user", user,
		"liquidator", liquidator,
		"debt_asset", debtAsset,
		"collateral_asset", collateralAsset,
		"debt_repaid", quote.DebtRepaid.String(),
		"collateral_seized", quote.CollateralSeized.String(),
		"close", quote.CloseType == FullClose,
	)
	return quote, nil
}

// WithdrawProtocolFees transfers part of the treasury claim out of a reserve.
func (e *Engine) WithdrawProtocolFees(asset string, amount *big.Int) (withdrawn *big.Int, err error) {
	defer func(start time.Time) { observability.ModuleMetrics().Observe(moduleName, "withdraw_fees", start, err) }(time.Now())
	release, err := e.begin()
	if err != nil {
		return nil, err
	}
	defer release()
	if amount == nil || amount.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}

	reserve, err := e.ensureReserve(asset)
	if err != nil {
		return nil, err
	}
	fees, err := e.ensureFees(asset)
	if err != nil {
		return nil, err
	}
	if fees.ProtocolFees.Cmp(amount) < 0 {
		return nil, ErrInsufficientBalance
	}
	if reserve.AvailableLiquidity.Cmp(amount) < 0 {
		return nil, ErrInsufficientLiquidity
	}

	fees.ProtocolFees = new(big.Int).Sub(fees.ProtocolFees, amount)
	reserve.AvailableLiquidity = new(big.Int).Sub(reserve.AvailableLiquidity, amount)

	if err := e.state.PutFeeAccrual(asset, fees); err != nil {
		return nil, err
	}
	if err := e.state.PutReserve(asset, reserve); err != nil {
		return nil, err
	}
	return new(big.Int).Set(amount), nil
}

// UserHealth is the read-only health snapshot for a user at the engine's
// current timestamp.
func (e *Engine) UserHealth(user string) (HealthSnapshot, error) {
	if e == nil || e.state == nil {
		return HealthSnapshot{}, ErrNilState
	}
	return e.evaluateUser(user, nil, nil)
}

// NormalizedIncome projects the liquidity index of a reserve without writing.
func (e *Engine) NormalizedIncome(asset string) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	reserve, err := e.ensureReserve(asset)
	if err != nil {
		return nil, err
	}
	return reserve.NormalizedIncome(e.now), nil
}

// NormalizedVariableDebt projects the borrow index of a reserve without
// writing.
func (e *Engine) NormalizedVariableDebt(asset string) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	reserve, err := e.ensureReserve(asset)
	if err != nil {
		return nil, err
	}
	return reserve.NormalizedVariableDebt(e.now), nil
}

func checkReserveUsable(reserve *Reserve, rejectFrozen bool) error {
	if !reserve.Config.Active {
		return ErrReserveInactive
	}
	if reserve.Config.Paused {
		return ErrReservePaused
	}
	if rejectFrozen && reserve.Config.Frozen {
		return ErrReserveFrozen
	}
	return nil
}

// nextReserveID hands out the lowest id no live reserve holds. Counting the
// listed assets is not enough: dropping a reserve frees its id, and handing
// out the id of a still-listed reserve would alias two reserves onto the
// same bitmap bit pair. Recycling a dropped id is safe because a reserve can
// only be dropped once every scaled balance is gone, which also cleared the
// user bits for that id.
func (e *Engine) nextReserveID(assets []string) (uint16, error) {
	var used [MaxReserves]bool
	for _, listed := range assets {
		reserve, err := e.state.GetReserve(listed)
		if err != nil {
			return 0, err
		}
		if reserve != nil && int(reserve.ID) < MaxReserves {
			used[reserve.ID] = true
		}
	}
	for id := range used {
		if !used[id] {
			return uint16(id), nil
		}
	}
	return 0, ErrInvalidConfig
}

func (e *Engine) ensureReserve(asset string) (*Reserve, error) {
	reserve, err := e.state.GetReserve(asset)
	if err != nil {
		return nil, err
	}
	if reserve == nil {
		return nil, ErrReserveNotFound
	}
	reserve.ensureDefaults()
	return reserve, nil
}

func (e *Engine) ensurePosition(user, asset string) (*UserReserveData, error) {
	position, err := e.state.GetPosition(user, asset)
	if err != nil {
		return nil, err
	}
	if position == nil {
		position = &UserReserveData{User: user, Asset: asset}
	}
	if position.ScaledSupply == nil {
		position.ScaledSupply = big.NewInt(0)
	}
	if position.ScaledDebt == nil {
		position.ScaledDebt = big.NewInt(0)
	}
	return position, nil
}

func (e *Engine) ensureUserConfig(user string) (*UserConfiguration, error) {
	cfg, err := e.state.GetUserConfig(user)
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		cfg = &UserConfiguration{}
	}
	return cfg, nil
}

func (e *Engine) ensureFees(asset string) (*FeeAccrual, error) {
	fees, err := e.state.GetFeeAccrual(asset)
	if err != nil {
		return nil, err
	}
	if fees == nil {
		fees = &FeeAccrual{Asset: asset}
	}
	if fees.ProtocolFees == nil {
		fees.ProtocolFees = big.NewInt(0)
	}
	return fees, nil
}

// accrueReserve brings the reserve indices current and books the reserve
// factor slice of the borrow interest as a treasury claim.
func (e *Engine) accrueReserve(reserve *Reserve) (*FeeAccrual, bool, error) {
	fees, err := e.ensureFees(reserve.Asset)
	if err != nil {
		return nil, false, err
	}

	previousIndex := new(big.Int).Set(reserve.VariableBorrowIndex)
	reserve.Accrue(e.now)

	growth := new(big.Int).Sub(reserve.VariableBorrowIndex, previousIndex)
	if growth.Sign() <= 0 || reserve.TotalScaledDebt.Sign() == 0 {
		return fees, false, nil
	}
	interest := rayMulDown(reserve.TotalScaledDebt, growth)
	fee := percentMulDown(interest, reserve.Config.ReserveFactorBps)
	if fee.Sign() == 0 {
		return fees, false, nil
	}
	fees.ProtocolFees = new(big.Int).Add(fees.ProtocolFees, fee)
	return fees, true, nil
}

// evaluateUser builds the per-reserve views for a user, optionally overriding
// individual positions or the bitmap to simulate an action before committing.
func (e *Engine) evaluateUser(user string, overrides map[string]*UserReserveData, cfgOverride *UserConfiguration) (HealthSnapshot, error) {
	cfg := cfgOverride
	if cfg == nil {
		stored, err := e.ensureUserConfig(user)
		if err != nil {
			return HealthSnapshot{}, err
		}
		cfg = stored
	}

	assets, err := e.state.ListReserveAssets()
	if err != nil {
		return HealthSnapshot{}, err
	}
	views := make([]ReserveView, 0, len(assets))
	for _, asset := range assets {
		reserve, err := e.state.GetReserve(asset)
		if err != nil {
			return HealthSnapshot{}, err
		}
		if reserve == nil {
			continue
		}
		reserve.ensureDefaults()

		position := overrides[asset]
		if position == nil {
			position, err = e.ensurePosition(user, asset)
			if err != nil {
				return HealthSnapshot{}, err
			}
		}
		views = append(views, ReserveView{
			Reserve:      reserve,
			ScaledSupply: position.ScaledSupply,
			ScaledDebt:   position.ScaledDebt,
		})
	}
	return EvaluateHealth(cfg, views, e.oracle, e.now)
}

func (e *Engine) persist(asset string, reserve *Reserve, position *UserReserveData, fees *FeeAccrual, feesChanged bool) error {
	if err := e.state.PutPosition(position.User, asset, position); err != nil {
		return err
	}
	if err := e.state.PutReserve(asset, reserve); err != nil {
		return err
	}
	if feesChanged {
		if err := e.state.PutFeeAccrual(asset, fees); err != nil {
			return err
		}
	}
	return nil
}
