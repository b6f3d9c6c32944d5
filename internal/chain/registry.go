// Package chain holds the contract address registry, chain-id normalization
// and the go-ethereum backed block watcher.
package chain

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/bundlerlab/internal/domain"
)

// Well-known chain ids.
const (
	ChainIDMainnet uint64 = 1
	ChainIDBase    uint64 = 8453
	ChainIDAnvil   uint64 = 31337
)

// NativeAddress is the pseudo-token used for the chain's native asset.
var NativeAddress = common.HexToAddress("0xEeeeeEeeeEeEeeEeEeEeeEEEeeeeEeeeeeeeEEeE")

// Addresses are the contracts and tokens the harness needs on one chain.
type Addresses struct {
	Morpho  common.Address
	Bundler common.Address
	DAI     *common.Address
	Markets map[string]Market
}

// Market is a known market configuration on a chain.
type Market struct {
	ID              domain.MarketID
	LoanToken       common.Address
	CollateralToken common.Address
}

// MarketDAISUSDe is the sUSDe/DAI market the demo bundles target.
const MarketDAISUSDe = "dai_sUsde"

func addr(hex string) *common.Address {
	a := common.HexToAddress(hex)
	return &a
}

// Registry maps chain ids to their address sets.
type Registry struct {
	chains map[uint64]Addresses
}

// NewRegistry returns the built-in registry.
func NewRegistry() *Registry {
	dai := addr("0x6B175474E89094C44Da98b954EedeAC495271d0F")
	return &Registry{
		chains: map[uint64]Addresses{
			ChainIDMainnet: {
				Morpho:  common.HexToAddress("0xBBBBBbbBBb9cC5e90e3b3Af64bdAF62C37EEFFCb"),
				Bundler: common.HexToAddress("0x4095F064B8d3c3548A3bebfd0Bbfd04750E30077"),
				DAI:     dai,
				Markets: map[string]Market{
					MarketDAISUSDe: {
						ID:              "0x39d11026eae1c6ec02aa4c0910778664089cdd97c3fd23f68f7cd05e2e95af48",
						LoanToken:       *dai,
						CollateralToken: common.HexToAddress("0x9D39A5DE30e57443BfF2A8307A4256c8797A3497"),
					},
				},
			},
			ChainIDBase: {
				Morpho:  common.HexToAddress("0xBBBBBbbBBb9cC5e90e3b3Af64bdAF62C37EEFFCb"),
				Bundler: common.HexToAddress("0x23055618898e202386e6c13955a58D3C68200BFB"),
				Markets: map[string]Market{},
			},
		},
	}
}

// NormalizeChainID maps a local test network onto mainnet so that address
// lookups resolve to production contracts on a forked node. An unknown (zero)
// id also resolves to mainnet. Applying it twice yields the same id.
func NormalizeChainID(id uint64) uint64 {
	switch id {
	case 0, ChainIDAnvil:
		return ChainIDMainnet
	default:
		return id
	}
}

// Lookup returns the addresses for chainID after normalization.
func (r *Registry) Lookup(chainID uint64) (Addresses, error) {
	a, ok := r.chains[NormalizeChainID(chainID)]
	if !ok {
		return Addresses{}, fmt.Errorf("chain: %w: %d", domain.ErrUnknownChain, chainID)
	}
	return a, nil
}

// DemoTokens returns the token set the demo market needs: the native asset,
// DAI and the collateral token of the sUSDe/DAI market.
func (r *Registry) DemoTokens(chainID uint64) ([]common.Address, error) {
	a, err := r.Lookup(chainID)
	if err != nil {
		return nil, err
	}
	if a.DAI == nil {
		return nil, fmt.Errorf("chain: no DAI address for chain %d", chainID)
	}
	m, ok := a.Markets[MarketDAISUSDe]
	if !ok {
		return nil, fmt.Errorf("chain: market %s not configured on chain %d", MarketDAISUSDe, chainID)
	}
	return []common.Address{NativeAddress, *a.DAI, m.CollateralToken}, nil
}
