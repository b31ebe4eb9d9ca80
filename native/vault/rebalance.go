package vault

import (
	"math/big"
	"time"

	"basin/observability"
)

// AdaptorCall is one entry of a rebalance batch: a trusted adaptor id and the
// actions to run against it in sequence.
type AdaptorCall struct {
	AdaptorID string
	Actions   []func(Adaptor) error
}

// CallOnAdaptor executes a strategist rebalance batch under the vault latch.
// Total assets are snapshotted before and re-read after; the batch fails if
// the value moved outside the allowed deviation band or if the share supply
// changed at all. Only asset composition may shift across a rebalance.
//
// Adaptor effects are external and cannot be unwound here, so every adaptor
// in the batch is resolved against the catalogue before the first action
// runs.
func (v *Vault) CallOnAdaptor(calls []AdaptorCall) (err error) {
	defer func(start time.Time) { observability.ModuleMetrics().Observe(moduleName, "call_on_adaptor", start, err) }(time.Now())
	release, err := v.begin()
	if err != nil {
		return err
	}
	defer release()
	if v.shutdown {
		return ErrShutdown
	}

	adaptors := make([]Adaptor, len(calls))
	for i, call := range calls {
		adaptor, err := v.catalogue.Lookup(call.AdaptorID)
		if err != nil {
			return err
		}
		adaptors[i] = adaptor
	}

	assetsBefore, err := v.totalAssets(newPriceCache(v.router))
	if err != nil {
		return err
	}
	sharesBefore := new(big.Int).Set(v.totalShares)
	deviation := new(big.Int).SetUint64(v.deviationBps)
	minAssets := mulDivDown(assetsBefore, new(big.Int).Sub(basisPoints, deviation), basisPoints)
	maxAssets := mulDivDown(assetsBefore, new(big.Int).Add(basisPoints, deviation), basisPoints)

	for i, call := range calls {
		for j, action := range call.Actions {
			if err := action(adaptors[i]); err != nil {
				return err
			}
			v.logger.Info("rebalance call",
				"adaptor", call.AdaptorID,
				"call", i,
				"action", j,
			)
		}
	}

	// Prices are re-read rather than reused so the check sees what the
	// calls actually did.
	assetsAfter, err := v.totalAssets(newPriceCache(v.router))
	if err != nil {
		return err
	}
	if assetsAfter.Cmp(minAssets) < 0 || assetsAfter.Cmp(maxAssets) > 0 {
		v.logger.Warn("rebalance deviation",
			"before", assetsBefore.String(),
			"after", assetsAfter.String(),
			"deviation_bps", v.deviationBps,
		)
		return ErrRebalanceDeviation
	}
	if v.totalShares.Cmp(sharesBefore) != 0 {
		return ErrTotalSharesChanged
	}
	return nil
}
