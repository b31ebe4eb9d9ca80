package vault

import (
	"log/slog"
	"math/big"
	"time"

	"github.com/holiman/uint256"

	"basin/native/common"
	"basin/observability"
	"basin/pricing"
)

const moduleName = "vault"

// Vault tracks capital spread across catalogued adaptor positions and the
// shares outstanding against it. All value is denominated in the vault's
// native asset; positions in other assets are converted through the price
// router at read time. Every mutating entry point runs under an exclusive
// non-reentrant latch.
type Vault struct {
	asset     string
	router    pricing.Router
	catalogue *Catalogue

	creditPositions []uint32
	debtPositions   []uint32
	positions       map[uint32]*Position
	used            uint256.Int
	holdingID       uint32
	hasHolding      bool

	totalShares    *big.Int
	balances       map[string]*big.Int
	shareSupplyCap *big.Int

	altDepositFeeBps map[string]uint64
	deviationBps     uint64
	shutdown         bool

	pauses common.PauseView
	entry  common.EntryGuard
	logger *slog.Logger
}

// DefaultRebalanceDeviationBps bounds how far a rebalance may move total
// assets, in basis points.
const DefaultRebalanceDeviationBps = 3

// NewVault constructs a vault denominated in the given asset, valuing
// positions through the router and dispatching to adaptors from the
// catalogue.
func NewVault(asset string, router pricing.Router, catalogue *Catalogue) (*Vault, error) {
	if asset == "" || router == nil || catalogue == nil {
		return nil, ErrInvalidConfig
	}
	return &Vault{
		asset:            asset,
		router:           router,
		catalogue:        catalogue,
		positions:        make(map[uint32]*Position),
		totalShares:      big.NewInt(0),
		balances:         make(map[string]*big.Int),
		altDepositFeeBps: make(map[string]uint64),
		deviationBps:     DefaultRebalanceDeviationBps,
		logger:           slog.Default(),
	}, nil
}

// SetPauses wires the governance pause switches.
func (v *Vault) SetPauses(p common.PauseView) {
	if v == nil {
		return
	}
	v.pauses = p
}

// SetLogger replaces the structured logger.
func (v *Vault) SetLogger(logger *slog.Logger) {
	if v == nil || logger == nil {
		return
	}
	v.logger = logger
}

// SetShareSupplyCap bounds total shares outstanding; nil removes the cap.
func (v *Vault) SetShareSupplyCap(cap *big.Int) {
	if cap == nil {
		v.shareSupplyCap = nil
		return
	}
	v.shareSupplyCap = new(big.Int).Set(cap)
}

// SetAllowedDeviation replaces the rebalance deviation tolerance.
func (v *Vault) SetAllowedDeviation(bps uint64) error {
	if bps > 10_000 {
		return ErrInvalidConfig
	}
	v.deviationBps = bps
	return nil
}

// SetAlternativeAssetFee lists a non-native asset for deposit with the fee,
// in basis points, taken off its converted value.
func (v *Vault) SetAlternativeAssetFee(asset string, feeBps uint64) error {
	if asset == "" || asset == v.asset || feeBps > 10_000 {
		return ErrInvalidConfig
	}
	v.altDepositFeeBps[asset] = feeBps
	return nil
}

// DropAlternativeAsset delists a non-native deposit asset.
func (v *Vault) DropAlternativeAsset(asset string) {
	delete(v.altDepositFeeBps, asset)
}

// InitiateShutdown latches the vault closed for deposits and rebalances.
// Withdrawals stay open so holders can exit.
func (v *Vault) InitiateShutdown() { v.shutdown = true }

// LiftShutdown reopens the vault.
func (v *Vault) LiftShutdown() { v.shutdown = false }

// IsShutdown reports the shutdown latch.
func (v *Vault) IsShutdown() bool { return v.shutdown }

// begin is the entry sequence for operations blocked by a pause: pause check
// then exclusive latch.
func (v *Vault) begin() (func(), error) {
	if err := common.Guard(v.pauses, moduleName); err != nil {
		return nil, err
	}
	return v.entry.Enter()
}

// enter takes only the latch. Withdrawals use it so holders can always exit.
func (v *Vault) enter() (func(), error) {
	return v.entry.Enter()
}

// AddPosition appends a position to the credit or debt list. The adaptor must
// already be trusted.
func (v *Vault) AddPosition(id uint32, adaptorID string, isDebt bool, adaptorData, configData []byte) (err error) {
	defer func(start time.Time) { observability.ModuleMetrics().Observe(moduleName, "add_position", start, err) }(time.Now())
	release, err := v.begin()
	if err != nil {
		return err
	}
	defer release()

	if id > maxPositionID {
		return ErrInvalidConfig
	}
	if v.isUsed(id) {
		return ErrPositionAlreadyUsed
	}
	if len(v.positions) >= MaxPositions {
		return ErrTooManyPositions
	}
	if _, err := v.catalogue.Lookup(adaptorID); err != nil {
		return err
	}

	position := (&Position{
		ID:          id,
		AdaptorID:   adaptorID,
		IsDebt:      isDebt,
		AdaptorData: adaptorData,
		ConfigData:  configData,
	}).Clone()
	v.positions[id] = position
	if isDebt {
		v.debtPositions = append(v.debtPositions, id)
	} else {
		v.creditPositions = append(v.creditPositions, id)
	}
	v.setUsed(id, true)
	return nil
}

// RemovePosition delists an empty position. The holding position cannot be
// removed.
func (v *Vault) RemovePosition(id uint32) (err error) {
	defer func(start time.Time) { observability.ModuleMetrics().Observe(moduleName, "remove_position", start, err) }(time.Now())
	release, err := v.begin()
	if err != nil {
		return err
	}
	defer release()

	position, ok := v.positions[id]
	if !ok {
		return ErrPositionNotFound
	}
	if v.hasHolding && v.holdingID == id {
		return ErrHoldingPosition
	}
	adaptor, err := v.catalogue.Lookup(position.AdaptorID)
	if err != nil {
		return err
	}
	balance, err := adaptor.BalanceOf(position.AdaptorData)
	if err != nil {
		return err
	}
	if balance != nil && balance.Sign() != 0 {
		return ErrPositionNotEmpty
	}

	if position.IsDebt {
		v.debtPositions = removeID(v.debtPositions, id)
	} else {
		v.creditPositions = removeID(v.creditPositions, id)
	}
	delete(v.positions, id)
	v.setUsed(id, false)
	return nil
}

// SetHoldingPosition designates where newly deposited native capital lands.
// It must be a used credit position denominated in the vault asset.
func (v *Vault) SetHoldingPosition(id uint32) (err error) {
	defer func(start time.Time) { observability.ModuleMetrics().Observe(moduleName, "set_holding", start, err) }(time.Now())
	release, err := v.begin()
	if err != nil {
		return err
	}
	defer release()

	position, ok := v.positions[id]
	if !ok {
		return ErrPositionNotFound
	}
	if position.IsDebt {
		return ErrHoldingPosition
	}
	adaptor, err := v.catalogue.Lookup(position.AdaptorID)
	if err != nil {
		return err
	}
	asset, err := adaptor.AssetOf(position.AdaptorData)
	if err != nil {
		return err
	}
	if asset != v.asset {
		return ErrAssetMismatch
	}
	v.holdingID = id
	v.hasHolding = true
	return nil
}

// SwapPositions reorders two entries of the credit or debt list. Withdrawals
// walk the credit list in order, so ordering is policy.
func (v *Vault) SwapPositions(i, j int, inDebtList bool) (err error) {
	defer func(start time.Time) { observability.ModuleMetrics().Observe(moduleName, "swap_positions", start, err) }(time.Now())
	release, err := v.begin()
	if err != nil {
		return err
	}
	defer release()

	list := v.creditPositions
	if inDebtList {
		list = v.debtPositions
	}
	if i < 0 || j < 0 || i >= len(list) || j >= len(list) {
		return ErrInvalidConfig
	}
	list[i], list[j] = list[j], list[i]
	return nil
}

// TotalAssets values the whole ledger in the vault asset: credit positions
// minus debt positions, each converted through the price router.
func (v *Vault) TotalAssets() (*big.Int, error) {
	release, err := v.enter()
	if err != nil {
		return nil, err
	}
	defer release()
	return v.totalAssets(newPriceCache(v.router))
}

// TotalSupply reports shares outstanding.
func (v *Vault) TotalSupply() *big.Int {
	return new(big.Int).Set(v.totalShares)
}

// BalanceOf reports the holder's share balance.
func (v *Vault) BalanceOf(owner string) *big.Int {
	balance, ok := v.balances[owner]
	if !ok {
		return big.NewInt(0)
	}
	return new(big.Int).Set(balance)
}

// Deposit takes native assets, mints shares at the current price and routes
// the capital into the holding position. Rejects dust deposits that would
// mint zero shares.
func (v *Vault) Deposit(receiver string, assets *big.Int) (shares *big.Int, err error) {
	defer func(start time.Time) { observability.ModuleMetrics().Observe(moduleName, "deposit", start, err) }(time.Now())
	release, err := v.begin()
	if err != nil {
		return nil, err
	}
	defer release()
	if v.shutdown {
		return nil, ErrShutdown
	}
	if assets == nil || assets.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}

	holding, adaptor, err := v.holdingPosition()
	if err != nil {
		return nil, err
	}
	total, err := v.totalAssets(newPriceCache(v.router))
	if err != nil {
		return nil, err
	}

	shares = ConvertToShares(assets, total, v.totalShares)
	if shares.Sign() == 0 {
		return nil, ErrZeroShares
	}
	if err := v.checkShareCap(shares); err != nil {
		return nil, err
	}
	if err := adaptor.Deposit(assets, holding.AdaptorData, holding.ConfigData); err != nil {
		return nil, err
	}
	v.mint(receiver, shares)
	return shares, nil
}

// Mint issues an exact share count, charging the asset cost rounded up.
func (v *Vault) Mint(receiver string, shares *big.Int) (assets *big.Int, err error) {
	defer func(start time.Time) { observability.ModuleMetrics().Observe(moduleName, "mint", start, err) }(time.Now())
	release, err := v.begin()
	if err != nil {
		return nil, err
	}
	defer release()
	if v.shutdown {
		return nil, ErrShutdown
	}
	if shares == nil || shares.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}

	holding, adaptor, err := v.holdingPosition()
	if err != nil {
		return nil, err
	}
	total, err := v.totalAssets(newPriceCache(v.router))
	if err != nil {
		return nil, err
	}

	assets = PreviewMint(shares, total, v.totalShares)
	if assets.Sign() == 0 {
		return nil, ErrInvalidAmount
	}
	if err := v.checkShareCap(shares); err != nil {
		return nil, err
	}
	if err := adaptor.Deposit(assets, holding.AdaptorData, holding.ConfigData); err != nil {
		return nil, err
	}
	v.mint(receiver, shares)
	return assets, nil
}

// DepositAlternative takes a listed non-native asset. Its value is converted
// through the router, the listing fee is taken off the converted value before
// share math, and the capital is routed into the first credit position
// denominated in that asset. The fee is not collected anywhere: it stays in
// the vault and accrues to existing holders.
func (v *Vault) DepositAlternative(receiver, asset string, assets *big.Int) (shares *big.Int, err error) {
	defer func(start time.Time) { observability.ModuleMetrics().Observe(moduleName, "deposit_alternative", start, err) }(time.Now())
	release, err := v.begin()
	if err != nil {
		return nil, err
	}
	defer release()
	if v.shutdown {
		return nil, ErrShutdown
	}
	if assets == nil || assets.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	feeBps, listed := v.altDepositFeeBps[asset]
	if !listed {
		return nil, ErrUnsupportedAsset
	}

	cache := newPriceCache(v.router)
	target, adaptor, err := v.creditPositionFor(asset)
	if err != nil {
		return nil, err
	}
	total, err := v.totalAssets(cache)
	if err != nil {
		return nil, err
	}

	// Two values are threaded: the gross converted value enters the vault,
	// the fee-adjusted value is what the depositor is credited for.
	gross, err := cache.value(asset, assets, v.asset)
	if err != nil {
		return nil, err
	}
	feeAdjusted := new(big.Int).Sub(gross, mulDivDown(gross, new(big.Int).SetUint64(feeBps), basisPoints))

	shares = ConvertToShares(feeAdjusted, total, v.totalShares)
	if shares.Sign() == 0 {
		return nil, ErrZeroShares
	}
	if err := v.checkShareCap(shares); err != nil {
		return nil, err
	}
	if err := adaptor.Deposit(assets, target.AdaptorData, target.ConfigData); err != nil {
		return nil, err
	}
	v.mint(receiver, shares)
	return shares, nil
}

// Withdraw sources the requested native-asset value from the credit positions
// in list order and burns the owner's shares, rounded up. Withdrawals are
// never blocked by pause or shutdown.
func (v *Vault) Withdraw(receiver, owner string, assets *big.Int) (shares *big.Int, err error) {
	defer func(start time.Time) { observability.ModuleMetrics().Observe(moduleName, "withdraw", start, err) }(time.Now())
	release, err := v.enter()
	if err != nil {
		return nil, err
	}
	defer release()
	if assets == nil || assets.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}

	cache := newPriceCache(v.router)
	total, err := v.totalAssets(cache)
	if err != nil {
		return nil, err
	}
	shares = PreviewWithdraw(assets, total, v.totalShares)
	if err := v.checkShareBalance(owner, shares); err != nil {
		return nil, err
	}
	if err := v.withdrawInOrder(assets, receiver, cache); err != nil {
		return nil, err
	}
	v.burn(owner, shares)
	return shares, nil
}

// Redeem burns an exact share count and pays out the value they represent,
// rounded down.
func (v *Vault) Redeem(receiver, owner string, shares *big.Int) (assets *big.Int, err error) {
	defer func(start time.Time) { observability.ModuleMetrics().Observe(moduleName, "redeem", start, err) }(time.Now())
	release, err := v.enter()
	if err != nil {
		return nil, err
	}
	defer release()
	if shares == nil || shares.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	if err := v.checkShareBalance(owner, shares); err != nil {
		return nil, err
	}

	cache := newPriceCache(v.router)
	total, err := v.totalAssets(cache)
	if err != nil {
		return nil, err
	}
	assets = ConvertToAssets(shares, total, v.totalShares)
	if assets.Sign() == 0 {
		return nil, ErrInvalidAmount
	}
	if err := v.withdrawInOrder(assets, receiver, cache); err != nil {
		return nil, err
	}
	v.burn(owner, shares)
	return assets, nil
}

// withdrawInOrder walks the credit positions front to back, planning how much
// to pull from each until the target value is covered, then executes the
// plan. Prices are cached per call. If the withdrawable balances cannot cover
// the target nothing is withdrawn and the shortfall is surfaced.
func (v *Vault) withdrawInOrder(target *big.Int, receiver string, cache *priceCache) error {
	type leg struct {
		position *Position
		adaptor  Adaptor
		amount   *big.Int
	}

	remaining := new(big.Int).Set(target)
	var plan []leg
	for _, id := range v.creditPositions {
		if remaining.Sign() == 0 {
			break
		}
		position := v.positions[id]
		adaptor, err := v.catalogue.Lookup(position.AdaptorID)
		if err != nil {
			return err
		}
		withdrawable, err := adaptor.WithdrawableFrom(position.AdaptorData, position.ConfigData)
		if err != nil {
			return err
		}
		if withdrawable == nil || withdrawable.Sign() == 0 {
			continue
		}
		asset, err := adaptor.AssetOf(position.AdaptorData)
		if err != nil {
			return err
		}
		available, err := cache.value(asset, withdrawable, v.asset)
		if err != nil {
			return err
		}
		if available.Sign() == 0 {
			continue
		}

		take := available
		amount := withdrawable
		if remaining.Cmp(available) < 0 {
			take = remaining
			amount, err = cache.value(v.asset, take, asset)
			if err != nil {
				return err
			}
			if amount.Sign() == 0 {
				continue
			}
		}
		plan = append(plan, leg{position: position, adaptor: adaptor, amount: new(big.Int).Set(amount)})
		remaining = new(big.Int).Sub(remaining, take)
	}
	if remaining.Sign() > 0 {
		return ErrIncompleteWithdraw
	}

	for _, step := range plan {
		if err := step.adaptor.Withdraw(step.amount, receiver, step.position.AdaptorData, step.position.ConfigData); err != nil {
			return err
		}
	}
	return nil
}

func (v *Vault) totalAssets(cache *priceCache) (*big.Int, error) {
	total := big.NewInt(0)
	for _, id := range v.creditPositions {
		value, err := v.positionValue(id, cache)
		if err != nil {
			return nil, err
		}
		total.Add(total, value)
	}
	for _, id := range v.debtPositions {
		value, err := v.positionValue(id, cache)
		if err != nil {
			return nil, err
		}
		total.Sub(total, value)
	}
	return total, nil
}

func (v *Vault) positionValue(id uint32, cache *priceCache) (*big.Int, error) {
	position := v.positions[id]
	adaptor, err := v.catalogue.Lookup(position.AdaptorID)
	if err != nil {
		return nil, err
	}
	balance, err := adaptor.BalanceOf(position.AdaptorData)
	if err != nil {
		return nil, err
	}
	if balance == nil || balance.Sign() == 0 {
		return big.NewInt(0), nil
	}
	asset, err := adaptor.AssetOf(position.AdaptorData)
	if err != nil {
		return nil, err
	}
	return cache.value(asset, balance, v.asset)
}

func (v *Vault) holdingPosition() (*Position, Adaptor, error) {
	if !v.hasHolding {
		return nil, nil, ErrHoldingPosition
	}
	position := v.positions[v.holdingID]
	adaptor, err := v.catalogue.Lookup(position.AdaptorID)
	if err != nil {
		return nil, nil, err
	}
	return position, adaptor, nil
}

// creditPositionFor finds the first credit position denominated in the asset.
func (v *Vault) creditPositionFor(asset string) (*Position, Adaptor, error) {
	for _, id := range v.creditPositions {
		position := v.positions[id]
		adaptor, err := v.catalogue.Lookup(position.AdaptorID)
		if err != nil {
			return nil, nil, err
		}
		positionAsset, err := adaptor.AssetOf(position.AdaptorData)
		if err != nil {
			return nil, nil, err
		}
		if positionAsset == asset {
			return position, adaptor, nil
		}
	}
	return nil, nil, ErrUnsupportedAsset
}

func (v *Vault) checkShareCap(minted *big.Int) error {
	if v.shareSupplyCap == nil {
		return nil
	}
	projected := new(big.Int).Add(v.totalShares, minted)
	if projected.Cmp(v.shareSupplyCap) > 0 {
		return ErrShareCapExceeded
	}
	return nil
}

func (v *Vault) checkShareBalance(owner string, shares *big.Int) error {
	balance, ok := v.balances[owner]
	if !ok || balance.Cmp(shares) < 0 {
		return ErrInsufficientShares
	}
	return nil
}

func (v *Vault) mint(receiver string, shares *big.Int) {
	balance, ok := v.balances[receiver]
	if !ok {
		balance = big.NewInt(0)
	}
	v.balances[receiver] = new(big.Int).Add(balance, shares)
	v.totalShares = new(big.Int).Add(v.totalShares, shares)
}

func (v *Vault) burn(owner string, shares *big.Int) {
	v.balances[owner] = new(big.Int).Sub(v.balances[owner], shares)
	v.totalShares = new(big.Int).Sub(v.totalShares, shares)
}

func (v *Vault) isUsed(id uint32) bool {
	shifted := new(uint256.Int).Rsh(&v.used, uint(id))
	return shifted.And(shifted, uint256.NewInt(1)).Sign() != 0
}

func (v *Vault) setUsed(id uint32, on bool) {
	mask := new(uint256.Int).Lsh(uint256.NewInt(1), uint(id))
	if on {
		v.used.Or(&v.used, mask)
	} else {
		v.used.And(&v.used, mask.Not(mask))
	}
}

func removeID(list []uint32, id uint32) []uint32 {
	for i, candidate := range list {
		if candidate == id {
			return append(list[:i], list[i+1:]...)
		}
	}
	return list
}
