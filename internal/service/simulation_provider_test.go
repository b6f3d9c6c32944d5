package service

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/bundlerlab/internal/chain"
	"github.com/alanyoungcy/bundlerlab/internal/domain"
)

func newProvider(sim domain.SimulationService, w domain.WalletClient) *SimulationProvider {
	return NewSimulationProvider(sim, chain.NewRegistry(), w, DefaultMarketID, nil, nil, discardLogger())
}

func TestQueryUsers(t *testing.T) {
	tests := []struct {
		name   string
		wallet *fakeWallet
		want   []common.Address
	}{
		{"connected", &fakeWallet{account: testAccount, chainID: 1, connected: true}, []common.Address{testAccount, testBundler}},
		{"anvil normalizes to mainnet", &fakeWallet{account: testAccount, chainID: 31337, connected: true}, []common.Address{testAccount, testBundler}},
		{"account is bundler", &fakeWallet{account: testBundler, chainID: 1, connected: true}, []common.Address{testBundler}},
		{"disconnected", &fakeWallet{account: testAccount}, []common.Address{testBundler}},
		{"unknown chain", &fakeWallet{account: testAccount, chainID: 10, connected: true}, []common.Address{testAccount}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := newProvider(&fakeSim{}, tt.wallet).Query(DefaultMarketID)
			assert.Equal(t, tt.want, q.Users)
			assert.Equal(t, []domain.MarketID{DefaultMarketID}, q.MarketIDs)
			assert.Empty(t, q.Vaults)
		})
	}
}

func TestQueryTokens(t *testing.T) {
	p := newProvider(&fakeSim{}, &fakeWallet{account: testAccount, chainID: 1, connected: true})
	q := p.Query(DefaultMarketID)
	require.Len(t, q.Tokens, 3)
	assert.Equal(t, chain.NativeAddress, q.Tokens[0])
	assert.Equal(t, common.HexToAddress("0x6B175474E89094C44Da98b954EedeAC495271d0F"), q.Tokens[1])
	assert.Equal(t, common.HexToAddress("0x9D39A5DE30e57443BfF2A8307A4256c8797A3497"), q.Tokens[2])

	base := newProvider(&fakeSim{}, &fakeWallet{chainID: 8453, connected: true}).Query(DefaultMarketID)
	assert.Equal(t, []common.Address{chain.NativeAddress}, base.Tokens)
}

func TestProviderPendingUntilFirstBlock(t *testing.T) {
	sim := &fakeSim{}
	p := newProvider(sim, &fakeWallet{account: testAccount, chainID: 1, connected: true})

	p.Refresh(context.Background())
	v := p.View()
	assert.True(t, v.Pending)
	assert.Nil(t, v.State)
	assert.Zero(t, sim.calls())

	p.Observe(context.Background(), domain.BlockRef{Number: 100, Timestamp: 1})
	v = p.View()
	assert.False(t, v.Pending)
	require.NotNil(t, v.State)
	assert.Equal(t, uint64(100), v.State.Block.Number)
	assert.Equal(t, uint64(1), v.State.ChainID)
	assert.Empty(t, v.Error)

	// Same block number: no refetch.
	p.Observe(context.Background(), domain.BlockRef{Number: 100, Timestamp: 1})
	assert.Equal(t, 1, sim.calls())

	p.Observe(context.Background(), domain.BlockRef{Number: 101, Timestamp: 13})
	assert.Equal(t, 2, sim.calls())
	assert.Equal(t, uint64(101), p.View().State.Block.Number)
}

func TestProviderSetMarketResets(t *testing.T) {
	sim := &fakeSim{noState: true}
	p := newProvider(sim, &fakeWallet{account: testAccount, chainID: 1, connected: true})
	p.Observe(context.Background(), domain.BlockRef{Number: 7})
	assert.True(t, p.View().Pending)

	sim.noState = false
	other := domain.MarketID("0x" + strings.Repeat("ab", 32))
	p.SetMarket(context.Background(), other)

	v := p.View()
	assert.False(t, v.Pending)
	assert.Equal(t, other, p.Market())
	assert.Equal(t, []domain.MarketID{other}, v.Query.MarketIDs)
	require.NotNil(t, v.Query.Block)
	assert.Equal(t, uint64(7), v.Query.Block.Number)
}

func TestProviderErrorMessage(t *testing.T) {
	fee := "fee recipient fetch failed"
	tests := []struct {
		name    string
		sim     *fakeSim
		want    string
		contain string
	}{
		{"transport error", &fakeSim{err: errors.New("sidecar down")}, "sidecar down", ""},
		{"category error", &fakeSim{errs: &domain.SimulationErrors{Markets: map[string]string{"m": "bad market"}}}, "", "bad market"},
		{"global error", &fakeSim{errs: &domain.SimulationErrors{Global: domain.GlobalSimulationErrors{FeeRecipient: &fee}}}, "", fee},
		{"empty categories", &fakeSim{errs: &domain.SimulationErrors{Users: map[string]string{}}}, "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newProvider(tt.sim, &fakeWallet{account: testAccount, chainID: 1, connected: true})
			p.Observe(context.Background(), domain.BlockRef{Number: 1})
			v := p.View()
			if tt.want != "" {
				assert.Equal(t, tt.want, v.Error)
			}
			if tt.contain != "" {
				assert.Contains(t, v.Error, tt.contain)
			}
			if tt.want == "" && tt.contain == "" {
				assert.Empty(t, v.Error)
			}
		})
	}
}

func TestProviderPublishes(t *testing.T) {
	bus := newMemBus()
	p := NewSimulationProvider(&fakeSim{}, chain.NewRegistry(), &fakeWallet{}, DefaultMarketID, bus, nil, discardLogger())
	p.Observe(context.Background(), domain.BlockRef{Number: 3})
	assert.Equal(t, 1, bus.count(domain.ChannelSimulation))
}

func TestProviderRunStopsOnClose(t *testing.T) {
	sim := &fakeSim{}
	p := newProvider(sim, &fakeWallet{})
	blocks := make(chan domain.BlockRef, 3)
	blocks <- domain.BlockRef{Number: 1}
	blocks <- domain.BlockRef{Number: 1}
	blocks <- domain.BlockRef{Number: 2}
	close(blocks)

	require.NoError(t, p.Run(context.Background(), blocks))
	assert.Equal(t, 2, sim.calls())
}

// slowFirstSim fails its first fetch only after release is closed.
type slowFirstSim struct {
	fakeSim
	started chan struct{}
	release chan struct{}
	n       atomic.Int32
}

func (s *slowFirstSim) FetchState(ctx context.Context, chainID uint64, q domain.SimulationQuery) (domain.SimulationFetch, error) {
	if s.n.Add(1) == 1 {
		close(s.started)
		<-s.release
		return domain.SimulationFetch{}, errors.New("stale fetch failed")
	}
	return s.fakeSim.FetchState(ctx, chainID, q)
}

func TestProviderIgnoresOlderFetchResult(t *testing.T) {
	sim := &slowFirstSim{started: make(chan struct{}), release: make(chan struct{})}
	p := newProvider(sim, &fakeWallet{account: testAccount, chainID: 1, connected: true})

	done := make(chan struct{})
	go func() {
		defer close(done)
		p.Observe(context.Background(), domain.BlockRef{Number: 5})
	}()
	<-sim.started

	p.Observe(context.Background(), domain.BlockRef{Number: 6})
	close(sim.release)
	<-done

	v := p.View()
	require.NotNil(t, v.State)
	assert.Equal(t, uint64(6), v.State.Block.Number)
	assert.Empty(t, v.Error)
	assert.False(t, v.Pending)
}
