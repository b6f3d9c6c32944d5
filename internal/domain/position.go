package domain

import (
	"math/big"
	"time"
)

// PositionSnapshot is a read-only view of a borrower's position in one
// market. Optional metrics are nil when the position service could not
// compute them (for example no borrow means no health factor).
type PositionSnapshot struct {
	MarketID            MarketID
	Account             string
	SupplyAssets        *big.Int
	BorrowAssets        *big.Int
	CollateralAssets    *big.Int
	MaxBorrowableAssets *big.Int
	IsHealthy           *bool
	LTV                 *big.Int // WAD
	HealthFactor        *big.Int // WAD
	BorrowCapacityUsage *big.Int // WAD
	LiquidationPrice    *big.Int
	FetchedAt           time.Time
}

// Healthy returns true only when the service reported the position as healthy.
func (p PositionSnapshot) Healthy() bool {
	return p.IsHealthy != nil && *p.IsHealthy
}

// PositionView is what the shell renders: the latest snapshot (nil after a
// failed fetch), whether the first fetch is still running, and the last
// fetch error.
type PositionView struct {
	Snapshot *PositionSnapshot
	Loading  bool
	Error    string
}
