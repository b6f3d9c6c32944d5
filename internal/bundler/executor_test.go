package bundler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/bundlerlab/internal/domain"
	"github.com/alanyoungcy/bundlerlab/internal/wallet"
)

type stubEncoder struct {
	bundle  domain.EncodedBundle
	err     error
	gotOps  []domain.OperationRequest
	chainID uint64
}

func (s *stubEncoder) EncodeBundle(_ context.Context, chainID uint64, _ common.Address, _ *domain.SimulationState, ops []domain.OperationRequest) (domain.EncodedBundle, error) {
	s.gotOps = ops
	s.chainID = chainID
	return s.bundle, s.err
}

type fakeBackend struct {
	mu        sync.Mutex
	nonce     uint64
	sent      []*types.Transaction
	revertIdx int // index in sent that reverts; -1 for none
	pending   int // receipt lookups answered with NotFound before success
	lookups   int
}

func (f *fakeBackend) PendingNonceAt(context.Context, common.Address) (uint64, error) {
	return f.nonce, nil
}

func (f *fakeBackend) SuggestGasTipCap(context.Context) (*big.Int, error) {
	return big.NewInt(2), nil
}

func (f *fakeBackend) HeaderByNumber(context.Context, *big.Int) (*types.Header, error) {
	return &types.Header{Number: big.NewInt(100), BaseFee: big.NewInt(10)}, nil
}

func (f *fakeBackend) EstimateGas(context.Context, ethereum.CallMsg) (uint64, error) {
	return 100_000, nil
}

func (f *fakeBackend) SendTransaction(_ context.Context, tx *types.Transaction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, tx)
	return nil
}

func (f *fakeBackend) TransactionReceipt(_ context.Context, hash common.Hash) (*types.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lookups++
	if f.lookups <= f.pending {
		return nil, ethereum.NotFound
	}
	for i, tx := range f.sent {
		if tx.Hash() != hash {
			continue
		}
		status := types.ReceiptStatusSuccessful
		if i == f.revertIdx {
			status = types.ReceiptStatusFailed
		}
		return &types.Receipt{
			TxHash:      hash,
			Status:      status,
			GasUsed:     50_000,
			BlockNumber: big.NewInt(int64(101 + i)),
		}, nil
	}
	return nil, ethereum.NotFound
}

type fixedChain uint64

func (c fixedChain) ChainID(context.Context) (*big.Int, error) {
	return new(big.Int).SetUint64(uint64(c)), nil
}

func connectedWallet(t *testing.T, id uint64) *wallet.Wallet {
	t.Helper()
	key, err := ethcrypto.GenerateKey()
	require.NoError(t, err)
	w := wallet.New(key)
	_, err = w.Connect(context.Background(), fixedChain(id))
	require.NoError(t, err)
	return w
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func testBundle() domain.EncodedBundle {
	return domain.EncodedBundle{
		Requirements: []domain.EncodedTx{
			{To: common.HexToAddress("0x6B175474E89094C44Da98b954EedeAC495271d0F"), Data: []byte{0x09, 0x5e, 0xa7, 0xb3}},
		},
		Tx: domain.EncodedTx{To: common.HexToAddress("0x4095F064B8d3c3548A3bebfd0Bbfd04750E30077"), Data: []byte{0xde, 0xad}, Value: big.NewInt(0)},
	}
}

func fastOptions() Options {
	return Options{ReceiptPollInterval: time.Millisecond, ReceiptTimeout: time.Second, GasBufferPercent: 20}
}

func TestExecuteSendsInOrder(t *testing.T) {
	enc := &stubEncoder{bundle: testBundle()}
	backend := &fakeBackend{nonce: 7, revertIdx: -1, pending: 2}
	w := connectedWallet(t, 31337)
	state := &domain.SimulationState{ChainID: 1}
	ops := []domain.OperationRequest{{Type: domain.OpSupply}, {Type: domain.OpSupplyCollateral}, {Type: domain.OpBorrow}}

	exec := NewExecutor(enc, backend, fastOptions(), discardLogger())
	res, err := exec.Execute(context.Background(), w, state, ops)
	require.NoError(t, err)

	assert.Equal(t, uint64(1), enc.chainID)
	assert.Equal(t, ops, enc.gotOps)

	require.Len(t, backend.sent, 2)
	first, second := backend.sent[0], backend.sent[1]
	assert.Equal(t, uint64(7), first.Nonce())
	assert.Equal(t, uint64(8), second.Nonce())
	assert.Equal(t, common.HexToAddress("0x6B175474E89094C44Da98b954EedeAC495271d0F"), *first.To())
	assert.Equal(t, common.HexToAddress("0x4095F064B8d3c3548A3bebfd0Bbfd04750E30077"), *second.To())
	assert.Equal(t, uint64(120_000), first.Gas())
	assert.Equal(t, int64(22), first.GasFeeCap().Int64())
	assert.Equal(t, int64(2), first.GasTipCap().Int64())
	assert.Equal(t, int64(31337), first.ChainId().Int64())

	from, err := types.Sender(types.LatestSignerForChainID(big.NewInt(31337)), second)
	require.NoError(t, err)
	assert.Equal(t, w.Address(), from)

	assert.Equal(t, []common.Hash{first.Hash(), second.Hash()}, res.TxHashes)
	assert.Equal(t, uint64(100_000), res.GasUsed)
	assert.Equal(t, uint64(102), res.BlockNumber)
}

func TestExecuteRevertStops(t *testing.T) {
	enc := &stubEncoder{bundle: testBundle()}
	backend := &fakeBackend{revertIdx: 0}
	w := connectedWallet(t, 1)

	exec := NewExecutor(enc, backend, fastOptions(), discardLogger())
	res, err := exec.Execute(context.Background(), w, &domain.SimulationState{ChainID: 1}, nil)
	require.ErrorIs(t, err, domain.ErrTxReverted)
	assert.Len(t, backend.sent, 1)
	assert.Len(t, res.TxHashes, 1)
}

func TestExecuteReceiptTimeout(t *testing.T) {
	enc := &stubEncoder{bundle: testBundle()}
	backend := &fakeBackend{revertIdx: -1, pending: 1 << 30}
	w := connectedWallet(t, 1)

	exec := NewExecutor(enc, backend, Options{ReceiptPollInterval: time.Millisecond, ReceiptTimeout: 20 * time.Millisecond}, discardLogger())
	_, err := exec.Execute(context.Background(), w, &domain.SimulationState{ChainID: 1}, nil)
	require.ErrorIs(t, err, domain.ErrReceiptTimeout)
	assert.Len(t, backend.sent, 1)
}

func TestExecuteEncoderError(t *testing.T) {
	boom := errors.New("encoder unavailable")
	enc := &stubEncoder{err: boom}
	backend := &fakeBackend{revertIdx: -1}
	w := connectedWallet(t, 1)

	exec := NewExecutor(enc, backend, fastOptions(), discardLogger())
	_, err := exec.Execute(context.Background(), w, &domain.SimulationState{ChainID: 1}, nil)
	require.ErrorIs(t, err, boom)
	assert.Empty(t, backend.sent)
}

func TestExecuteRequiresConnection(t *testing.T) {
	key, err := ethcrypto.GenerateKey()
	require.NoError(t, err)
	enc := &stubEncoder{bundle: testBundle()}

	exec := NewExecutor(enc, &fakeBackend{revertIdx: -1}, fastOptions(), discardLogger())
	_, err = exec.Execute(context.Background(), wallet.New(key), &domain.SimulationState{}, nil)
	require.ErrorIs(t, err, domain.ErrNotConnected)
	assert.Nil(t, enc.gotOps)
}
