package domain

import "errors"

var (
	ErrNotFound        = errors.New("not found")
	ErrUnauthorized    = errors.New("unauthorized")
	ErrRateLimited     = errors.New("rate limited")
	ErrLockHeld        = errors.New("lock already held")
	ErrInvalidMarketID = errors.New("invalid market id")
	ErrInvalidAmount   = errors.New("invalid amount")
	ErrUnknownChain    = errors.New("unknown chain")
	ErrMissingAccount  = errors.New("user address is required")
	ErrNotConnected    = errors.New("wallet not connected")
	ErrTxReverted      = errors.New("transaction reverted")
	ErrReceiptTimeout  = errors.New("timed out waiting for receipt")
)
