package domain

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// WalletClient is the connected wallet as seen by the harness. Account
// returns false while no wallet is connected; ChainID is the chain the wallet
// is actually connected to (before any normalization).
type WalletClient interface {
	Account() (common.Address, bool)
	ChainID() uint64
}

// SimulationService loads a simulation snapshot for a query.
type SimulationService interface {
	FetchState(ctx context.Context, chainID uint64, q SimulationQuery) (SimulationFetch, error)
}

// PositionService loads the position of account in market.
type PositionService interface {
	FetchPosition(ctx context.Context, chainID uint64, account common.Address, market MarketID) (PositionSnapshot, error)
}

// BundleExecutor submits an ordered list of operations as one bundle.
type BundleExecutor interface {
	Execute(ctx context.Context, client WalletClient, state *SimulationState, ops []OperationRequest) (BundleResult, error)
}

// EncodedTx is an unsigned transaction returned by the bundle encoder.
type EncodedTx struct {
	To    common.Address
	Data  []byte
	Value *big.Int
}

// EncodedBundle lists the transactions needed to execute a bundle:
// requirements (approvals) first, then the bundler call itself.
type EncodedBundle struct {
	Requirements []EncodedTx
	Tx           EncodedTx
}

// Transactions returns requirements followed by the bundle transaction.
func (b EncodedBundle) Transactions() []EncodedTx {
	out := make([]EncodedTx, 0, len(b.Requirements)+1)
	out = append(out, b.Requirements...)
	return append(out, b.Tx)
}

// BundleEncoder turns operations into transactions.
type BundleEncoder interface {
	EncodeBundle(ctx context.Context, chainID uint64, account common.Address, state *SimulationState, ops []OperationRequest) (EncodedBundle, error)
}
