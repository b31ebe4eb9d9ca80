package vault

import (
	"errors"
	"io"
	"math/big"
	"testing"

	"basin/native/common"
	"basin/observability/logging"
	"basin/pricing"
)

type testAdaptor struct {
	asset    string
	debt     bool
	balances map[string]*big.Int
	locked   map[string]*big.Int
	payouts  map[string]*big.Int
}

func newTestAdaptor(asset string) *testAdaptor {
	return &testAdaptor{
		asset:    asset,
		balances: make(map[string]*big.Int),
		locked:   make(map[string]*big.Int),
		payouts:  make(map[string]*big.Int),
	}
}

func (a *testAdaptor) AssetOf(data []byte) (string, error) { return a.asset, nil }

func (a *testAdaptor) BalanceOf(data []byte) (*big.Int, error) {
	if balance, ok := a.balances[string(data)]; ok {
		return new(big.Int).Set(balance), nil
	}
	return big.NewInt(0), nil
}

func (a *testAdaptor) WithdrawableFrom(data, config []byte) (*big.Int, error) {
	if a.debt {
		return big.NewInt(0), nil
	}
	balance, _ := a.BalanceOf(data)
	if locked, ok := a.locked[string(data)]; ok {
		balance.Sub(balance, locked)
	}
	if balance.Sign() < 0 {
		balance.SetInt64(0)
	}
	return balance, nil
}

func (a *testAdaptor) Deposit(assets *big.Int, data, config []byte) error {
	key := string(data)
	balance, ok := a.balances[key]
	if !ok {
		balance = big.NewInt(0)
	}
	a.balances[key] = new(big.Int).Add(balance, assets)
	return nil
}

func (a *testAdaptor) Withdraw(assets *big.Int, receiver string, data, config []byte) error {
	key := string(data)
	balance := a.balances[key]
	if balance == nil || balance.Cmp(assets) < 0 {
		return errors.New("test adaptor: insufficient balance")
	}
	a.balances[key] = new(big.Int).Sub(balance, assets)
	paid, ok := a.payouts[receiver]
	if !ok {
		paid = big.NewInt(0)
	}
	a.payouts[receiver] = new(big.Int).Add(paid, assets)
	return nil
}

func (a *testAdaptor) balance(key string) *big.Int {
	if balance, ok := a.balances[key]; ok {
		return new(big.Int).Set(balance)
	}
	return big.NewInt(0)
}

type pauseSwitch struct {
	paused map[string]bool
}

func (p pauseSwitch) IsPaused(module string) bool { return p.paused[module] }

func testRouter(t *testing.T) *pricing.StaticRouter {
	t.Helper()
	router := pricing.NewStaticRouter()
	oneUSD := new(big.Int).Exp(big.NewInt(10), big.NewInt(pricing.BaseDecimals), nil)
	if err := router.RegisterAsset("USDX", 0, oneUSD); err != nil {
		t.Fatalf("register USDX: %v", err)
	}
	if err := router.RegisterAsset("ALT", 0, new(big.Int).Mul(oneUSD, big.NewInt(2))); err != nil {
		t.Fatalf("register ALT: %v", err)
	}
	return router
}

func newTestVault(t *testing.T) (*Vault, *testAdaptor, *Catalogue) {
	t.Helper()
	catalogue := NewCatalogue()
	hold := newTestAdaptor("USDX")
	if err := catalogue.Trust("hold", hold); err != nil {
		t.Fatalf("trust: %v", err)
	}

	v, err := NewVault("USDX", testRouter(t), catalogue)
	if err != nil {
		t.Fatalf("new vault: %v", err)
	}
	v.SetLogger(logging.New(io.Discard, "vault", "test"))
	if err := v.AddPosition(0, "hold", false, []byte("hold"), nil); err != nil {
		t.Fatalf("add holding position: %v", err)
	}
	if err := v.SetHoldingPosition(0); err != nil {
		t.Fatalf("set holding position: %v", err)
	}
	return v, hold, catalogue
}

func TestDepositMintsAtSharePrice(t *testing.T) {
	v, hold, _ := newTestVault(t)

	// Empty vault: one share per asset unit.
	shares, err := v.Deposit("alice", big.NewInt(1_000))
	if err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if shares.Cmp(big.NewInt(1_000)) != 0 {
		t.Fatalf("unexpected shares: %s", shares)
	}

	// 1000 assets / 1000 shares: a 100 deposit mints exactly 100 shares.
	shares, err = v.Deposit("bob", big.NewInt(100))
	if err != nil {
		t.Fatalf("second deposit: %v", err)
	}
	if shares.Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("unexpected shares: %s", shares)
	}
	if v.TotalSupply().Cmp(big.NewInt(1_100)) != 0 {
		t.Fatalf("unexpected supply: %s", v.TotalSupply())
	}
	if hold.balance("hold").Cmp(big.NewInt(1_100)) != 0 {
		t.Fatalf("capital not routed to holding position: %s", hold.balance("hold"))
	}
	total, err := v.TotalAssets()
	if err != nil {
		t.Fatalf("total assets: %v", err)
	}
	if total.Cmp(big.NewInt(1_100)) != 0 {
		t.Fatalf("unexpected total assets: %s", total)
	}
}

func TestShareRoundTripNeverCreatesValue(t *testing.T) {
	totals := []int64{1, 3, 999, 1_000, 7_777}
	supplies := []int64{1, 2, 500, 1_000, 9_001}
	amounts := []int64{1, 7, 99, 1_000, 123_456}

	for _, total := range totals {
		for _, supply := range supplies {
			for _, amount := range amounts {
				x := big.NewInt(amount)
				shares := ConvertToShares(x, big.NewInt(total), big.NewInt(supply))
				back := ConvertToAssets(shares, big.NewInt(total), big.NewInt(supply))
				if back.Cmp(x) > 0 {
					t.Fatalf("round trip created value: x=%d total=%d supply=%d back=%s", amount, total, supply, back)
				}
			}
		}
	}

	// Empty vault is exactly 1:1.
	if got := ConvertToShares(big.NewInt(42), big.NewInt(0), big.NewInt(0)); got.Cmp(big.NewInt(42)) != 0 {
		t.Fatalf("empty vault not 1:1: %s", got)
	}
}

func TestDepositDustRejected(t *testing.T) {
	v, hold, _ := newTestVault(t)
	if _, err := v.Deposit("alice", big.NewInt(1_000)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	// A donation inflates the share price far above one asset unit.
	if err := hold.Deposit(big.NewInt(10_000_000), []byte("hold"), nil); err != nil {
		t.Fatalf("donate: %v", err)
	}

	if _, err := v.Deposit("bob", big.NewInt(1)); !errors.Is(err, ErrZeroShares) {
		t.Fatalf("expected ErrZeroShares, got %v", err)
	}
	if _, err := v.Deposit("bob", big.NewInt(0)); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount, got %v", err)
	}
}

func TestShareSupplyCapLeavesStateUnchanged(t *testing.T) {
	v, hold, _ := newTestVault(t)
	v.SetShareSupplyCap(big.NewInt(1_050))

	if _, err := v.Deposit("alice", big.NewInt(1_000)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if _, err := v.Deposit("bob", big.NewInt(100)); !errors.Is(err, ErrShareCapExceeded) {
		t.Fatalf("expected ErrShareCapExceeded, got %v", err)
	}
	if v.TotalSupply().Cmp(big.NewInt(1_000)) != 0 {
		t.Fatalf("rejected deposit changed supply: %s", v.TotalSupply())
	}
	if hold.balance("hold").Cmp(big.NewInt(1_000)) != 0 {
		t.Fatalf("rejected deposit moved assets: %s", hold.balance("hold"))
	}
}

func TestMintChargesRoundedUp(t *testing.T) {
	v, hold, _ := newTestVault(t)
	if _, err := v.Deposit("alice", big.NewInt(300)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	// Donation: 500 assets against 300 shares.
	if err := hold.Deposit(big.NewInt(200), []byte("hold"), nil); err != nil {
		t.Fatalf("donate: %v", err)
	}

	assets, err := v.Mint("bob", big.NewInt(100))
	if err != nil {
		t.Fatalf("mint: %v", err)
	}
	// 100 * 500 / 300 = 166.67, charged as 167.
	if assets.Cmp(big.NewInt(167)) != 0 {
		t.Fatalf("unexpected asset charge: %s", assets)
	}
	if v.BalanceOf("bob").Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("shares not minted: %s", v.BalanceOf("bob"))
	}
}

func TestWithdrawPaysFromHoldingPosition(t *testing.T) {
	v, hold, _ := newTestVault(t)
	if _, err := v.Deposit("alice", big.NewInt(500)); err != nil {
		t.Fatalf("deposit: %v", err)
	}

	shares, err := v.Withdraw("alice", "alice", big.NewInt(200))
	if err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if shares.Cmp(big.NewInt(200)) != 0 {
		t.Fatalf("unexpected shares burned: %s", shares)
	}
	if hold.payouts["alice"].Cmp(big.NewInt(200)) != 0 {
		t.Fatalf("payout not delivered: %s", hold.payouts["alice"])
	}
	if v.TotalSupply().Cmp(big.NewInt(300)) != 0 {
		t.Fatalf("unexpected supply: %s", v.TotalSupply())
	}

	if _, err := v.Withdraw("alice", "bob", big.NewInt(10)); !errors.Is(err, ErrInsufficientShares) {
		t.Fatalf("expected ErrInsufficientShares, got %v", err)
	}
}

func TestWithdrawWalksPositionsInOrder(t *testing.T) {
	v, hold, catalogue := newTestVault(t)
	yield := newTestAdaptor("ALT")
	if err := catalogue.Trust("yield", yield); err != nil {
		t.Fatalf("trust: %v", err)
	}
	if err := v.AddPosition(1, "yield", false, []byte("yield"), nil); err != nil {
		t.Fatalf("add position: %v", err)
	}

	if _, err := v.Deposit("alice", big.NewInt(300)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	// 100 ALT at $2 adds 200 of value: 500 assets against 300 shares.
	if err := yield.Deposit(big.NewInt(100), []byte("yield"), nil); err != nil {
		t.Fatalf("seed yield position: %v", err)
	}

	shares, err := v.Withdraw("alice", "alice", big.NewInt(400))
	if err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	// ceil(400 * 300 / 500) = 240 shares.
	if shares.Cmp(big.NewInt(240)) != 0 {
		t.Fatalf("unexpected shares burned: %s", shares)
	}
	// The holding position is drained first, the remainder comes from the
	// second position: 100 of value is 50 ALT.
	if hold.payouts["alice"].Cmp(big.NewInt(300)) != 0 {
		t.Fatalf("unexpected holding payout: %s", hold.payouts["alice"])
	}
	if yield.payouts["alice"].Cmp(big.NewInt(50)) != 0 {
		t.Fatalf("unexpected yield payout: %s", yield.payouts["alice"])
	}
	if v.TotalSupply().Cmp(big.NewInt(60)) != 0 {
		t.Fatalf("unexpected supply: %s", v.TotalSupply())
	}
}

func TestWithdrawIncompleteIsAtomic(t *testing.T) {
	v, hold, _ := newTestVault(t)
	if _, err := v.Deposit("alice", big.NewInt(1_000)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	// 900 of the position is locked up and cannot be withdrawn.
	hold.locked["hold"] = big.NewInt(900)

	if _, err := v.Withdraw("alice", "alice", big.NewInt(400)); !errors.Is(err, ErrIncompleteWithdraw) {
		t.Fatalf("expected ErrIncompleteWithdraw, got %v", err)
	}
	if v.TotalSupply().Cmp(big.NewInt(1_000)) != 0 {
		t.Fatalf("failed withdraw burned shares: %s", v.TotalSupply())
	}
	if hold.balance("hold").Cmp(big.NewInt(1_000)) != 0 {
		t.Fatalf("failed withdraw moved assets: %s", hold.balance("hold"))
	}
	if len(hold.payouts) != 0 {
		t.Fatalf("failed withdraw paid out: %+v", hold.payouts)
	}
}

func TestRedeemPaysRoundedDown(t *testing.T) {
	v, hold, _ := newTestVault(t)
	if _, err := v.Deposit("alice", big.NewInt(300)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	// 500 assets against 300 shares.
	if err := hold.Deposit(big.NewInt(200), []byte("hold"), nil); err != nil {
		t.Fatalf("donate: %v", err)
	}

	assets, err := v.Redeem("alice", "alice", big.NewInt(100))
	if err != nil {
		t.Fatalf("redeem: %v", err)
	}
	// floor(100 * 500 / 300) = 166.
	if assets.Cmp(big.NewInt(166)) != 0 {
		t.Fatalf("unexpected assets paid: %s", assets)
	}
	if v.BalanceOf("alice").Cmp(big.NewInt(200)) != 0 {
		t.Fatalf("shares not burned: %s", v.BalanceOf("alice"))
	}
}

func TestDebtPositionsReduceTotalAssets(t *testing.T) {
	v, _, catalogue := newTestVault(t)
	borrowed := newTestAdaptor("USDX")
	borrowed.debt = true
	if err := catalogue.Trust("borrowed", borrowed); err != nil {
		t.Fatalf("trust: %v", err)
	}
	if err := v.AddPosition(1, "borrowed", true, []byte("loan"), nil); err != nil {
		t.Fatalf("add debt position: %v", err)
	}
	if _, err := v.Deposit("alice", big.NewInt(500)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if err := borrowed.Deposit(big.NewInt(100), []byte("loan"), nil); err != nil {
		t.Fatalf("seed debt: %v", err)
	}

	total, err := v.TotalAssets()
	if err != nil {
		t.Fatalf("total assets: %v", err)
	}
	if total.Cmp(big.NewInt(400)) != 0 {
		t.Fatalf("debt not netted out: %s", total)
	}
}

func TestDepositAlternativeDonatesFee(t *testing.T) {
	v, _, catalogue := newTestVault(t)
	yield := newTestAdaptor("ALT")
	if err := catalogue.Trust("yield", yield); err != nil {
		t.Fatalf("trust: %v", err)
	}
	if err := v.AddPosition(1, "yield", false, []byte("yield"), nil); err != nil {
		t.Fatalf("add position: %v", err)
	}
	if err := v.SetAlternativeAssetFee("ALT", 100); err != nil {
		t.Fatalf("set fee: %v", err)
	}
	if _, err := v.Deposit("alice", big.NewInt(1_000)); err != nil {
		t.Fatalf("deposit: %v", err)
	}

	// 100 ALT converts to 200 of value; the 1% fee credits bob for 198.
	shares, err := v.DepositAlternative("bob", "ALT", big.NewInt(100))
	if err != nil {
		t.Fatalf("alternative deposit: %v", err)
	}
	if shares.Cmp(big.NewInt(198)) != 0 {
		t.Fatalf("unexpected shares: %s", shares)
	}
	if yield.balance("yield").Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("alt capital not routed: %s", yield.balance("yield"))
	}

	if _, err := v.DepositAlternative("bob", "UNLISTED", big.NewInt(1)); !errors.Is(err, ErrUnsupportedAsset) {
		t.Fatalf("expected ErrUnsupportedAsset, got %v", err)
	}
}

func TestPositionManagement(t *testing.T) {
	v, hold, catalogue := newTestVault(t)

	if err := v.AddPosition(1, "ghost", false, nil, nil); !errors.Is(err, ErrUntrustedAdaptor) {
		t.Fatalf("expected ErrUntrustedAdaptor, got %v", err)
	}
	if err := v.AddPosition(0, "hold", false, []byte("other"), nil); !errors.Is(err, ErrPositionAlreadyUsed) {
		t.Fatalf("expected ErrPositionAlreadyUsed, got %v", err)
	}
	if err := v.AddPosition(300, "hold", false, nil, nil); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}

	if err := v.RemovePosition(0); !errors.Is(err, ErrHoldingPosition) {
		t.Fatalf("holding position must not be removable, got %v", err)
	}

	if err := v.AddPosition(1, "hold", false, []byte("spare"), nil); err != nil {
		t.Fatalf("add position: %v", err)
	}
	if err := hold.Deposit(big.NewInt(5), []byte("spare"), nil); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if err := v.RemovePosition(1); !errors.Is(err, ErrPositionNotEmpty) {
		t.Fatalf("expected ErrPositionNotEmpty, got %v", err)
	}
	if err := hold.Withdraw(big.NewInt(5), "out", []byte("spare"), nil); err != nil {
		t.Fatalf("drain: %v", err)
	}
	if err := v.RemovePosition(1); err != nil {
		t.Fatalf("remove empty position: %v", err)
	}
	if err := v.RemovePosition(1); !errors.Is(err, ErrPositionNotFound) {
		t.Fatalf("expected ErrPositionNotFound, got %v", err)
	}

	alt := newTestAdaptor("ALT")
	if err := catalogue.Trust("alt", alt); err != nil {
		t.Fatalf("trust: %v", err)
	}
	if err := v.AddPosition(2, "alt", false, []byte("alt"), nil); err != nil {
		t.Fatalf("add position: %v", err)
	}
	if err := v.SetHoldingPosition(2); !errors.Is(err, ErrAssetMismatch) {
		t.Fatalf("expected ErrAssetMismatch, got %v", err)
	}
}

func TestShutdownBlocksEntriesNotExits(t *testing.T) {
	v, _, _ := newTestVault(t)
	if _, err := v.Deposit("alice", big.NewInt(500)); err != nil {
		t.Fatalf("deposit: %v", err)
	}

	v.InitiateShutdown()
	if _, err := v.Deposit("alice", big.NewInt(1)); !errors.Is(err, ErrShutdown) {
		t.Fatalf("expected ErrShutdown, got %v", err)
	}
	if _, err := v.Withdraw("alice", "alice", big.NewInt(100)); err != nil {
		t.Fatalf("withdraw during shutdown: %v", err)
	}

	v.LiftShutdown()
	if _, err := v.Deposit("alice", big.NewInt(1)); err != nil {
		t.Fatalf("deposit after lift: %v", err)
	}
}

func TestPauseBlocksEntriesNotExits(t *testing.T) {
	v, _, _ := newTestVault(t)
	if _, err := v.Deposit("alice", big.NewInt(500)); err != nil {
		t.Fatalf("deposit: %v", err)
	}

	v.SetPauses(pauseSwitch{paused: map[string]bool{"vault": true}})
	if _, err := v.Deposit("alice", big.NewInt(1)); !errors.Is(err, common.ErrModulePaused) {
		t.Fatalf("expected ErrModulePaused, got %v", err)
	}
	if _, err := v.Withdraw("alice", "alice", big.NewInt(100)); err != nil {
		t.Fatalf("withdraw while paused: %v", err)
	}
}
