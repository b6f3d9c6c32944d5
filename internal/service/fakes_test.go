package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/bundlerlab/internal/domain"
	"github.com/alanyoungcy/bundlerlab/internal/wallet"
)

var (
	testAccount = common.HexToAddress("0x2c7536E3605D9C16a7a3D7b1898e529396a65c23")
	testMorpho  = common.HexToAddress("0xBBBBBbbBBb9cC5e90e3b3Af64bdAF62C37EEFFCb")
	testBundler = common.HexToAddress("0x4095F064B8d3c3548A3bebfd0Bbfd04750E30077")
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

// fakeWallet is a WalletConnector with a fixed account.
type fakeWallet struct {
	mu         sync.Mutex
	account    common.Address
	chainID    uint64
	connected  bool
	connectErr error
}

func (w *fakeWallet) Account() (common.Address, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.account, w.connected
}

func (w *fakeWallet) ChainID() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.connected {
		return 0
	}
	return w.chainID
}

func (w *fakeWallet) Connect(context.Context, wallet.ChainIDReader) (uint64, error) {
	if w.connectErr != nil {
		return 0, w.connectErr
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.connected = true
	return w.chainID, nil
}

func (w *fakeWallet) Disconnect() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.connected = false
}

// fakeSim answers FetchState from its fields and records queries.
type fakeSim struct {
	mu      sync.Mutex
	errs    *domain.SimulationErrors
	err     error
	noState bool
	queries []domain.SimulationQuery
}

func (f *fakeSim) FetchState(_ context.Context, chainID uint64, q domain.SimulationQuery) (domain.SimulationFetch, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, q)
	if f.err != nil {
		return domain.SimulationFetch{}, f.err
	}
	out := domain.SimulationFetch{Errors: f.errs}
	if !f.noState {
		var block domain.BlockRef
		if q.Block != nil {
			block = *q.Block
		}
		out.State = &domain.SimulationState{ChainID: chainID, Block: block, Raw: []byte(`{}`), FetchedAt: time.Now()}
	}
	return out, nil
}

func (f *fakeSim) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.queries)
}

// fakePositions returns a fixed snapshot or error.
type fakePositions struct {
	mu    sync.Mutex
	err   error
	calls int
}

func (f *fakePositions) FetchPosition(_ context.Context, _ uint64, account common.Address, market domain.MarketID) (domain.PositionSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return domain.PositionSnapshot{}, f.err
	}
	healthy := true
	return domain.PositionSnapshot{
		MarketID:         market,
		Account:          account.Hex(),
		SupplyAssets:     big.NewInt(1),
		BorrowAssets:     big.NewInt(2),
		CollateralAssets: big.NewInt(3),
		IsHealthy:        &healthy,
	}, nil
}

func (f *fakePositions) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// recordingExecutor records every Execute call.
type recordingExecutor struct {
	mu    sync.Mutex
	calls [][]domain.OperationRequest
	err   error
	// gate, when set, blocks Execute until closed.
	gate    chan struct{}
	entered chan struct{}
}

func (e *recordingExecutor) Execute(ctx context.Context, _ domain.WalletClient, _ *domain.SimulationState, ops []domain.OperationRequest) (domain.BundleResult, error) {
	e.mu.Lock()
	e.calls = append(e.calls, ops)
	e.mu.Unlock()
	if e.entered != nil {
		close(e.entered)
	}
	if e.gate != nil {
		<-e.gate
	}
	if err := ctx.Err(); err != nil {
		return domain.BundleResult{}, err
	}
	if e.err != nil {
		return domain.BundleResult{}, e.err
	}
	return domain.BundleResult{TxHashes: []common.Hash{common.HexToHash("0x01")}, BlockNumber: 5, GasUsed: 21000}, nil
}

func (e *recordingExecutor) callCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.calls)
}

// memBus keeps published payloads per channel.
type memBus struct {
	mu        sync.Mutex
	published map[string][][]byte
}

func newMemBus() *memBus {
	return &memBus{published: map[string][][]byte{}}
}

func (b *memBus) Publish(_ context.Context, channel string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.published[channel] = append(b.published[channel], payload)
	return nil
}

func (b *memBus) Subscribe(context.Context, string) (<-chan []byte, error) {
	return nil, errors.New("not supported")
}

func (b *memBus) count(channel string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.published[channel])
}

// memActions is an in-memory ActionStore.
type memActions struct {
	mu   sync.Mutex
	recs []domain.ActionRecord
}

func (m *memActions) Insert(_ context.Context, rec domain.ActionRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recs = append(m.recs, rec)
	return nil
}

func (m *memActions) ListRecent(context.Context, domain.ListOpts) ([]domain.ActionRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.ActionRecord(nil), m.recs...), nil
}

// heldLocks refuses every acquisition.
type heldLocks struct{}

func (heldLocks) Acquire(context.Context, string, time.Duration) (func(), error) {
	return nil, domain.ErrLockHeld
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []string
}

func (n *recordingNotifier) Notify(_ context.Context, event, _, _ string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event)
	return nil
}
