package domain

import (
	"context"
	"time"
)

// ActionStatus is the outcome of one shell action.
type ActionStatus string

const (
	ActionSucceeded ActionStatus = "succeeded"
	ActionFailed    ActionStatus = "failed"
	ActionRejected  ActionStatus = "rejected" // stopped by a precondition, no bundler call
)

// Action names used in records, metrics and notifications.
const (
	ActionSupplyCollateralBorrow = "supply_collateral_borrow"
	ActionRepayWithdraw          = "repay_withdraw"
)

// ActionRecord is the persisted history of one shell action.
type ActionRecord struct {
	ID         string
	Action     string
	MarketID   MarketID
	Account    string
	Operations []OperationType
	Status     ActionStatus
	Log        []string
	TxHashes   []string
	Error      string
	StartedAt  time.Time
	FinishedAt time.Time
}

// ListOpts provides pagination for list queries.
type ListOpts struct {
	Limit  int
	Offset int
}

// ActionStore persists shell action history.
type ActionStore interface {
	Insert(ctx context.Context, rec ActionRecord) error
	ListRecent(ctx context.Context, opts ListOpts) ([]ActionRecord, error)
}
