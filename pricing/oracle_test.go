package pricing

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"
)

func usd(dollars int64) *big.Int {
	price := big.NewInt(dollars)
	return price.Mul(price, pow10(BaseDecimals))
}

func TestStaticRouterValueConversion(t *testing.T) {
	router := NewStaticRouter()
	require.NoError(t, router.RegisterAsset("WETH", 18, usd(2000)))
	require.NoError(t, router.RegisterAsset("USDX", 6, usd(1)))

	oneEth := new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)
	value, err := router.Value("WETH", oneEth, "USDX")
	require.NoError(t, err)
	require.Equal(t, big.NewInt(2000_000000), value)

	// Inverse direction: 2000 USDX buys one WETH.
	back, err := router.Value("USDX", big.NewInt(2000_000000), "WETH")
	require.NoError(t, err)
	require.Equal(t, oneEth, back)
}

func TestStaticRouterFailsClosed(t *testing.T) {
	router := NewStaticRouter()
	require.NoError(t, router.RegisterAsset("WETH", 18, usd(2000)))

	_, err := router.PriceInUSD("UNLISTED")
	require.ErrorIs(t, err, ErrUnknownAsset)

	require.NoError(t, router.MarkStale("WETH"))
	_, err = router.PriceInUSD("WETH")
	require.ErrorIs(t, err, ErrStalePrice)
	_, err = router.Value("WETH", big.NewInt(1), "WETH")
	require.ErrorIs(t, err, ErrStalePrice)

	require.NoError(t, router.SetPrice("WETH", usd(2100)))
	price, err := router.PriceInUSD("WETH")
	require.NoError(t, err)
	require.Equal(t, usd(2100), price)
}

func TestStaticRouterRejectsNonPositivePrice(t *testing.T) {
	router := NewStaticRouter()
	require.ErrorIs(t, router.RegisterAsset("WETH", 18, big.NewInt(0)), ErrInvalidPrice)
	require.NoError(t, router.RegisterAsset("WETH", 18, usd(1)))
	require.ErrorIs(t, router.SetPrice("WETH", big.NewInt(-1)), ErrInvalidPrice)
}
