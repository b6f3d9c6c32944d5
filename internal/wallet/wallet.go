package wallet

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/alanyoungcy/bundlerlab/internal/domain"
)

// ChainIDReader reports the id of the chain behind an RPC endpoint.
type ChainIDReader interface {
	ChainID(ctx context.Context) (*big.Int, error)
}

// Wallet is a local signing key with an explicit connected state. While
// disconnected it reports no account, the way a browser wallet does.
type Wallet struct {
	key     *ecdsa.PrivateKey
	address common.Address

	mu        sync.RWMutex
	connected bool
	chainID   uint64
}

// New wraps key.
func New(key *ecdsa.PrivateKey) *Wallet {
	return &Wallet{
		key:     key,
		address: ethcrypto.PubkeyToAddress(key.PublicKey),
	}
}

// Address returns the key's address whether or not the wallet is connected.
func (w *Wallet) Address() common.Address {
	return w.address
}

// Connect reads the chain id from the node and marks the wallet connected.
func (w *Wallet) Connect(ctx context.Context, node ChainIDReader) (uint64, error) {
	id, err := node.ChainID(ctx)
	if err != nil {
		return 0, fmt.Errorf("wallet: read chain id: %w", err)
	}
	w.mu.Lock()
	w.connected = true
	w.chainID = id.Uint64()
	w.mu.Unlock()
	return id.Uint64(), nil
}

// Disconnect forgets the connection.
func (w *Wallet) Disconnect() {
	w.mu.Lock()
	w.connected = false
	w.chainID = 0
	w.mu.Unlock()
}

// Account implements domain.WalletClient.
func (w *Wallet) Account() (common.Address, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if !w.connected {
		return common.Address{}, false
	}
	return w.address, true
}

// ChainID implements domain.WalletClient. It is zero while disconnected.
func (w *Wallet) ChainID() uint64 {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.chainID
}

// SignTx signs tx for the connected chain.
func (w *Wallet) SignTx(tx *types.Transaction) (*types.Transaction, error) {
	w.mu.RLock()
	connected, chainID := w.connected, w.chainID
	w.mu.RUnlock()
	if !connected {
		return nil, domain.ErrNotConnected
	}
	signer := types.LatestSignerForChainID(new(big.Int).SetUint64(chainID))
	signed, err := types.SignTx(tx, signer, w.key)
	if err != nil {
		return nil, fmt.Errorf("wallet: sign tx: %w", err)
	}
	return signed, nil
}

var _ domain.WalletClient = (*Wallet)(nil)
