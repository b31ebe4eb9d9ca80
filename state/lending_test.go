package state

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"

	"basin/native/lending"
	"basin/storage"
)

func testReserve(asset string, id uint16) *lending.Reserve {
	reserve, err := lending.NewReserve(id, asset, lending.ReserveConfig{
		LTVBps:                  7_000,
		LiquidationThresholdBps: 7_500,
		LiquidationBonusBps:     500,
		ReserveFactorBps:        1_000,
		Decimals:                6,
		Active:                  true,
		BorrowingEnabled:        true,
	})
	if err != nil {
		panic(err)
	}
	return reserve
}

func TestReserveRoundTrip(t *testing.T) {
	store := NewLendingStore(storage.NewMemDB())

	missing, err := store.GetReserve("USDX")
	require.NoError(t, err)
	require.Nil(t, missing)

	reserve := testReserve("USDX", 0)
	reserve.TotalScaledDebt = big.NewInt(12_345)
	reserve.LastUpdateTimestamp = 99
	require.NoError(t, store.PutReserve("USDX", reserve))

	loaded, err := store.GetReserve("USDX")
	require.NoError(t, err)
	require.Equal(t, reserve.ID, loaded.ID)
	require.Equal(t, reserve.Config, loaded.Config)
	require.Zero(t, loaded.TotalScaledDebt.Cmp(big.NewInt(12_345)))
	require.Zero(t, loaded.LiquidityIndex.Cmp(reserve.LiquidityIndex))
	require.Equal(t, uint64(99), loaded.LastUpdateTimestamp)
}

func TestReadsReturnFreshCopies(t *testing.T) {
	store := NewLendingStore(storage.NewMemDB())
	require.NoError(t, store.PutReserve("USDX", testReserve("USDX", 0)))

	first, err := store.GetReserve("USDX")
	require.NoError(t, err)
	first.TotalScaledSupply = big.NewInt(777)

	second, err := store.GetReserve("USDX")
	require.NoError(t, err)
	require.Zero(t, second.TotalScaledSupply.Sign(), "mutation of one copy leaked into another")
}

func TestAssetIndexTracksListings(t *testing.T) {
	store := NewLendingStore(storage.NewMemDB())

	assets, err := store.ListReserveAssets()
	require.NoError(t, err)
	require.Empty(t, assets)

	require.NoError(t, store.PutReserve("USDX", testReserve("USDX", 0)))
	require.NoError(t, store.PutReserve("WETH", testReserve("WETH", 1)))
	// Rewriting an existing reserve must not duplicate the index entry.
	require.NoError(t, store.PutReserve("USDX", testReserve("USDX", 0)))

	assets, err = store.ListReserveAssets()
	require.NoError(t, err)
	require.Equal(t, []string{"USDX", "WETH"}, assets)

	require.NoError(t, store.DeleteReserve("USDX"))
	assets, err = store.ListReserveAssets()
	require.NoError(t, err)
	require.Equal(t, []string{"WETH"}, assets)

	gone, err := store.GetReserve("USDX")
	require.NoError(t, err)
	require.Nil(t, gone)
}

func TestPositionRoundTrip(t *testing.T) {
	store := NewLendingStore(storage.NewMemDB())

	missing, err := store.GetPosition("alice", "USDX")
	require.NoError(t, err)
	require.Nil(t, missing)

	position := &lending.UserReserveData{
		User:         "alice",
		Asset:        "USDX",
		ScaledSupply: big.NewInt(500),
		ScaledDebt:   big.NewInt(120),
	}
	require.NoError(t, store.PutPosition("alice", "USDX", position))

	loaded, err := store.GetPosition("alice", "USDX")
	require.NoError(t, err)
	require.Zero(t, loaded.ScaledSupply.Cmp(big.NewInt(500)))
	require.Zero(t, loaded.ScaledDebt.Cmp(big.NewInt(120)))

	// Positions are keyed per user and asset.
	other, err := store.GetPosition("bob", "USDX")
	require.NoError(t, err)
	require.Nil(t, other)
}

func TestUserConfigRoundTrip(t *testing.T) {
	store := NewLendingStore(storage.NewMemDB())

	missing, err := store.GetUserConfig("alice")
	require.NoError(t, err)
	require.Nil(t, missing)

	cfg := &lending.UserConfiguration{}
	cfg.SetBorrowing(1, true)
	cfg.SetUsingAsCollateral(0, true)
	require.NoError(t, store.PutUserConfig("alice", cfg))

	loaded, err := store.GetUserConfig("alice")
	require.NoError(t, err)
	require.True(t, loaded.IsBorrowing(1))
	require.True(t, loaded.IsUsingAsCollateral(0))
	require.False(t, loaded.IsBorrowing(0))
}

func TestFeeAccrualRoundTrip(t *testing.T) {
	store := NewLendingStore(storage.NewMemDB())

	missing, err := store.GetFeeAccrual("USDX")
	require.NoError(t, err)
	require.Nil(t, missing)

	require.NoError(t, store.PutFeeAccrual("USDX", &lending.FeeAccrual{
		Asset:        "USDX",
		ProtocolFees: big.NewInt(42),
	}))

	loaded, err := store.GetFeeAccrual("USDX")
	require.NoError(t, err)
	require.Zero(t, loaded.ProtocolFees.Cmp(big.NewInt(42)))
}
