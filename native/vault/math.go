package vault

import (
	"math/big"

	"basin/pricing"
)

var basisPoints = big.NewInt(10_000)

func mulDivDown(a, b, denominator *big.Int) *big.Int {
	product := new(big.Int).Mul(a, b)
	return product.Quo(product, denominator)
}

func mulDivUp(a, b, denominator *big.Int) *big.Int {
	product := new(big.Int).Mul(a, b)
	quotient, remainder := new(big.Int).QuoRem(product, denominator, new(big.Int))
	if remainder.Sign() != 0 {
		quotient.Add(quotient, big.NewInt(1))
	}
	return quotient
}

// ConvertToShares prices a deposit at the current share price, rounding down.
// An empty vault mints one share per asset unit.
func ConvertToShares(assets, totalAssets, totalSupply *big.Int) *big.Int {
	if totalSupply.Sign() == 0 || totalAssets.Sign() <= 0 {
		return new(big.Int).Set(assets)
	}
	return mulDivDown(assets, totalSupply, totalAssets)
}

// ConvertToAssets values shares at the current share price, rounding down.
func ConvertToAssets(shares, totalAssets, totalSupply *big.Int) *big.Int {
	if totalSupply.Sign() == 0 {
		return new(big.Int).Set(shares)
	}
	return mulDivDown(shares, totalAssets, totalSupply)
}

// PreviewMint reports the asset cost of an exact share count, rounding up so
// the vault never under-charges.
func PreviewMint(shares, totalAssets, totalSupply *big.Int) *big.Int {
	if totalSupply.Sign() == 0 {
		return new(big.Int).Set(shares)
	}
	return mulDivUp(shares, totalAssets, totalSupply)
}

// PreviewWithdraw reports the share cost of an exact asset amount, rounding
// up so the vault never over-pays.
func PreviewWithdraw(assets, totalAssets, totalSupply *big.Int) *big.Int {
	if totalSupply.Sign() == 0 || totalAssets.Sign() <= 0 {
		return new(big.Int).Set(assets)
	}
	return mulDivUp(assets, totalSupply, totalAssets)
}

// priceCache memoises oracle lookups for the duration of a single call. It is
// never shared across calls: prices must be read fresh per operation.
type priceCache struct {
	router   pricing.Router
	prices   map[string]*big.Int
	decimals map[string]uint8
}

func newPriceCache(router pricing.Router) *priceCache {
	return &priceCache{
		router:   router,
		prices:   make(map[string]*big.Int),
		decimals: make(map[string]uint8),
	}
}

func (c *priceCache) lookup(asset string) (*big.Int, uint8, error) {
	if price, ok := c.prices[asset]; ok {
		return price, c.decimals[asset], nil
	}
	price, err := c.router.PriceInUSD(asset)
	if err != nil {
		return nil, 0, err
	}
	decimals, err := c.router.Decimals(asset)
	if err != nil {
		return nil, 0, err
	}
	c.prices[asset] = price
	c.decimals[asset] = decimals
	return price, decimals, nil
}

// value converts an amount of the base asset into quote asset units, rounding
// down.
func (c *priceCache) value(base string, amount *big.Int, quote string) (*big.Int, error) {
	if base == quote {
		return new(big.Int).Set(amount), nil
	}
	basePrice, baseDecimals, err := c.lookup(base)
	if err != nil {
		return nil, err
	}
	quotePrice, quoteDecimals, err := c.lookup(quote)
	if err != nil {
		return nil, err
	}
	numerator := new(big.Int).Mul(amount, basePrice)
	numerator.Mul(numerator, pow10(quoteDecimals))
	denominator := new(big.Int).Mul(pow10(baseDecimals), quotePrice)
	return numerator.Quo(numerator, denominator), nil
}

func pow10(decimals uint8) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
}
