package domain

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// OperationType tags one step of a bundle.
type OperationType string

const (
	OpSupply             OperationType = "Blue_Supply"
	OpSupplyCollateral   OperationType = "Blue_SupplyCollateral"
	OpBorrow             OperationType = "Blue_Borrow"
	OpRepay              OperationType = "Blue_Repay"
	OpWithdrawCollateral OperationType = "Blue_WithdrawCollateral"
	OpWithdraw           OperationType = "Blue_Withdraw"
)

// DefaultSlippageTolerance is 0.03% expressed in WAD (1e18 = 100%).
var DefaultSlippageTolerance = big.NewInt(300_000_000_000_000)

// OperationArgs carries the market, amount and beneficiaries of a step.
// Receiver is set on steps that move assets out of the protocol; Slippage is
// set on steps whose asset amount is converted to shares by estimation.
type OperationArgs struct {
	ID       MarketID
	Assets   *big.Int
	OnBehalf common.Address
	Receiver *common.Address
	Slippage *big.Int
}

// OperationRequest is one typed step submitted to the bundler. Steps of one
// action are dependent and must be executed in slice order.
type OperationRequest struct {
	Type    OperationType
	Sender  common.Address
	Address common.Address // lending contract
	Args    OperationArgs
}

// OperationTypes returns the tags of ops in order.
func OperationTypes(ops []OperationRequest) []OperationType {
	out := make([]OperationType, len(ops))
	for i, op := range ops {
		out[i] = op.Type
	}
	return out
}

// BundleResult is what the executor returns after every transaction of the
// bundle has been mined.
type BundleResult struct {
	TxHashes    []common.Hash
	BlockNumber uint64
	GasUsed     uint64
}
