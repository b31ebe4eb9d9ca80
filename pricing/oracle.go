package pricing

import (
	"errors"
	"math/big"
	"sync"
)

var (
	ErrUnknownAsset = errors.New("pricing: asset not listed")
	ErrStalePrice   = errors.New("pricing: price is stale")
	ErrInvalidPrice = errors.New("pricing: price must be positive")
)

// BaseDecimals is the fixed-point precision of base-currency prices.
const BaseDecimals = 8

// Oracle reports asset prices in the base currency. Implementations must
// fail closed: a stale or out-of-bound price is an error, never a guess.
type Oracle interface {
	PriceInUSD(asset string) (*big.Int, error)
}

// Router extends the oracle with cross-asset conversion and the decimals
// metadata needed to value raw token amounts.
type Router interface {
	Oracle
	Decimals(asset string) (uint8, error)
	Value(base string, amount *big.Int, quote string) (*big.Int, error)
}

type listing struct {
	price    *big.Int
	decimals uint8
	stale    bool
}

// StaticRouter is a registry-backed Router used for tests and local
// deployments where prices are pushed rather than pulled from a feed.
type StaticRouter struct {
	mu     sync.RWMutex
	assets map[string]*listing
}

func NewStaticRouter() *StaticRouter {
	return &StaticRouter{assets: make(map[string]*listing)}
}

// RegisterAsset lists an asset with its decimals and initial price.
func (r *StaticRouter) RegisterAsset(asset string, decimals uint8, price *big.Int) error {
	if price == nil || price.Sign() <= 0 {
		return ErrInvalidPrice
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.assets[asset] = &listing{price: new(big.Int).Set(price), decimals: decimals}
	return nil
}

// SetPrice updates the quoted price and clears any stale marker.
func (r *StaticRouter) SetPrice(asset string, price *big.Int) error {
	if price == nil || price.Sign() <= 0 {
		return ErrInvalidPrice
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.assets[asset]
	if !ok {
		return ErrUnknownAsset
	}
	entry.price = new(big.Int).Set(price)
	entry.stale = false
	return nil
}

// MarkStale flags an asset so subsequent reads fail closed.
func (r *StaticRouter) MarkStale(asset string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.assets[asset]
	if !ok {
		return ErrUnknownAsset
	}
	entry.stale = true
	return nil
}

func (r *StaticRouter) lookup(asset string) (*listing, error) {
	entry, ok := r.assets[asset]
	if !ok {
		return nil, ErrUnknownAsset
	}
	if entry.stale {
		return nil, ErrStalePrice
	}
	return entry, nil
}

func (r *StaticRouter) PriceInUSD(asset string) (*big.Int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, err := r.lookup(asset)
	if err != nil {
		return nil, err
	}
	return new(big.Int).Set(entry.price), nil
}

func (r *StaticRouter) Decimals(asset string) (uint8, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.assets[asset]
	if !ok {
		return 0, ErrUnknownAsset
	}
	return entry.decimals, nil
}

// Value converts an amount of the base asset into the quote asset's units,
// rounding down.
func (r *StaticRouter) Value(base string, amount *big.Int, quote string) (*big.Int, error) {
	if amount == nil || amount.Sign() == 0 {
		return big.NewInt(0), nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	baseEntry, err := r.lookup(base)
	if err != nil {
		return nil, err
	}
	quoteEntry, err := r.lookup(quote)
	if err != nil {
		return nil, err
	}

	// amount * basePrice * 10^quoteDec / (10^baseDec * quotePrice)
	numerator := new(big.Int).Mul(amount, baseEntry.price)
	numerator.Mul(numerator, pow10(quoteEntry.decimals))
	denominator := new(big.Int).Mul(pow10(baseEntry.decimals), quoteEntry.price)
	return numerator.Quo(numerator, denominator), nil
}

func pow10(decimals uint8) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
}
