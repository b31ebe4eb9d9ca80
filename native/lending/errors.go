package lending

import "errors"

var (
	ErrNilState              = errors.New("lending engine: state not configured")
	ErrReserveNotFound       = errors.New("lending engine: reserve not listed")
	ErrReserveAlreadyListed  = errors.New("lending engine: reserve already listed")
	ErrReserveNotEmpty       = errors.New("lending engine: reserve has outstanding liquidity or debt")
	ErrReserveInactive       = errors.New("lending engine: reserve inactive")
	ErrReserveFrozen         = errors.New("lending engine: reserve frozen")
	ErrReservePaused         = errors.New("lending engine: reserve paused")
	ErrBorrowingDisabled     = errors.New("lending engine: borrowing disabled for reserve")
	ErrInvalidAmount         = errors.New("lending engine: amount must be positive")
	ErrInsufficientBalance   = errors.New("lending engine: insufficient balance")
	ErrInsufficientLiquidity = errors.New("lending engine: insufficient liquidity")
	ErrSupplyCapExceeded     = errors.New("lending engine: supply cap exceeded")
	ErrBorrowCapExceeded     = errors.New("lending engine: borrow cap exceeded")
	ErrHealthFactorTooLow    = errors.New("lending engine: health factor below threshold")
	ErrNoDebtToRepay         = errors.New("lending engine: no outstanding debt to repay")
	ErrNotLiquidatable       = errors.New("lending engine: borrower not eligible for liquidation")
	ErrCollateralNotEnabled  = errors.New("lending engine: asset not enabled as collateral")
	ErrInvalidConfig         = errors.New("lending engine: invalid reserve configuration")
)
