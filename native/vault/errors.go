package vault

import "errors"

var (
	ErrInvalidAmount       = errors.New("vault ledger: amount must be positive")
	ErrInvalidConfig       = errors.New("vault ledger: invalid configuration")
	ErrZeroShares          = errors.New("vault ledger: deposit would mint zero shares")
	ErrShareCapExceeded    = errors.New("vault ledger: share supply cap exceeded")
	ErrInsufficientShares  = errors.New("vault ledger: insufficient share balance")
	ErrIncompleteWithdraw  = errors.New("vault ledger: withdrawable balances cannot source the request")
	ErrPositionNotFound    = errors.New("vault ledger: position not found")
	ErrPositionAlreadyUsed = errors.New("vault ledger: position id already in use")
	ErrPositionNotEmpty    = errors.New("vault ledger: position still holds a balance")
	ErrTooManyPositions    = errors.New("vault ledger: position limit reached")
	ErrHoldingPosition     = errors.New("vault ledger: invalid holding position")
	ErrAssetMismatch       = errors.New("vault ledger: position asset does not match")
	ErrUntrustedAdaptor    = errors.New("vault ledger: adaptor not in catalogue")
	ErrUnsupportedAsset    = errors.New("vault ledger: asset not supported for deposit")
	ErrRebalanceDeviation  = errors.New("vault ledger: total assets deviated beyond tolerance")
	ErrTotalSharesChanged  = errors.New("vault ledger: share supply changed during rebalance")
	ErrShutdown            = errors.New("vault ledger: vault is shut down")
)
