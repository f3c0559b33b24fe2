package lending

import "errors"

var (
	errNilState = errors.New("lending engine: state not configured")

	// Validation failures.
	ErrInvalidAmount     = errors.New("lending engine: amount must be positive")
	ErrMarketNotFound    = errors.New("lending engine: market not initialised")
	ErrMarketExists      = errors.New("lending engine: market already initialised")
	ErrInvalidRiskParams = errors.New("lending engine: invalid risk parameters")

	// State failures.
	ErrInsufficientBalance    = errors.New("lending engine: insufficient balance")
	ErrInsufficientLiquidity  = errors.New("lending engine: insufficient liquidity")
	ErrInsufficientCollateral = errors.New("lending engine: insufficient collateral")
	ErrNoDebt                 = errors.New("lending engine: no outstanding debt")
	ErrBorrowCapExceeded      = errors.New("lending engine: borrow cap exceeded")

	// Safety failures.
	ErrHealthCheckFailed = errors.New("lending engine: health factor below 1 after operation")
	ErrNotLiquidatable   = errors.New("lending engine: borrower not eligible for liquidation")
	ErrZeroLiquidation   = errors.New("lending engine: liquidation would repay nothing")

	// Authorization failures.
	ErrNotAuthorized = errors.New("lending engine: caller not authorized")
)
