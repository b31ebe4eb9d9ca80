package vault

import (
	"math/big"
	"sync"
)

// Adaptor translates generic deposit, withdraw and balance calls into
// protocol-specific actions for one external position type. The adaptor data
// blob identifies the concrete position; the config blob carries per-position
// tuning the strategy understands. Debt-type adaptors must report zero from
// WithdrawableFrom.
type Adaptor interface {
	// AssetOf names the asset the position is denominated in.
	AssetOf(adaptorData []byte) (string, error)
	// BalanceOf reports the position's current balance in its own asset.
	BalanceOf(adaptorData []byte) (*big.Int, error)
	// WithdrawableFrom reports how much of the balance can be pulled out
	// right now. Illiquid or debt positions return zero.
	WithdrawableFrom(adaptorData, configData []byte) (*big.Int, error)
	// Deposit routes assets into the position.
	Deposit(assets *big.Int, adaptorData, configData []byte) error
	// Withdraw pulls assets out of the position to the receiver.
	Withdraw(assets *big.Int, receiver string, adaptorData, configData []byte) error
}

// Catalogue is the governance-maintained allow-list of adaptors a vault may
// delegate to, looked up by id. Untrusted ids fail closed.
type Catalogue struct {
	mu       sync.RWMutex
	adaptors map[string]Adaptor
}

func NewCatalogue() *Catalogue {
	return &Catalogue{adaptors: make(map[string]Adaptor)}
}

// Trust registers an adaptor under the given id.
func (c *Catalogue) Trust(id string, adaptor Adaptor) error {
	if id == "" || adaptor == nil {
		return ErrInvalidConfig
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.adaptors[id] = adaptor
	return nil
}

// Revoke removes an adaptor from the allow-list. Positions bound to a revoked
// adaptor become unreachable until it is trusted again.
func (c *Catalogue) Revoke(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.adaptors, id)
}

// Lookup resolves a trusted adaptor by id.
func (c *Catalogue) Lookup(id string) (Adaptor, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	adaptor, ok := c.adaptors[id]
	if !ok {
		return nil, ErrUntrustedAdaptor
	}
	return adaptor, nil
}

// IsTrusted reports whether the id resolves to a registered adaptor.
func (c *Catalogue) IsTrusted(id string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.adaptors[id]
	return ok
}
