package domain

import (
	"encoding/json"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// BlockRef pins a simulation snapshot to an observed chain block.
type BlockRef struct {
	Number    uint64 `json:"number"`
	Timestamp uint64 `json:"timestamp"`
}

// SimulationQuery lists everything the simulation service has to load.
type SimulationQuery struct {
	MarketIDs []MarketID
	Users     []common.Address
	Tokens    []common.Address
	Vaults    []common.Address
	Block     *BlockRef
}

// SimulationState is an opaque snapshot produced by the simulation service.
// The harness never looks inside Raw; it hands the value back to the bundle
// encoder unmodified.
type SimulationState struct {
	ChainID   uint64
	Block     BlockRef
	Raw       json.RawMessage
	FetchedAt time.Time
}

// GlobalSimulationErrors holds errors not tied to a single entity.
type GlobalSimulationErrors struct {
	FeeRecipient *string `json:"feeRecipient,omitempty"`
}

// SimulationErrors is the typed error report returned alongside a
// simulation snapshot. Each category maps an entity key (market id, address,
// pair of addresses) to the error message raised while loading it.
type SimulationErrors struct {
	Global             GlobalSimulationErrors `json:"global"`
	Markets            map[string]string      `json:"markets,omitempty"`
	Users              map[string]string      `json:"users,omitempty"`
	Tokens             map[string]string      `json:"tokens,omitempty"`
	Vaults             map[string]string      `json:"vaults,omitempty"`
	Positions          map[string]string      `json:"positions,omitempty"`
	Holdings           map[string]string      `json:"holdings,omitempty"`
	VaultMarketConfigs map[string]string      `json:"vaultMarketConfigs,omitempty"`
	VaultUsers         map[string]string      `json:"vaultUsers,omitempty"`
}

// HasErrors reports whether any category actually carries an error. Empty
// containers do not count.
func (e *SimulationErrors) HasErrors() bool {
	if e == nil {
		return false
	}
	if e.Global.FeeRecipient != nil {
		return true
	}
	for _, m := range []map[string]string{
		e.Markets, e.Users, e.Tokens, e.Vaults,
		e.Positions, e.Holdings, e.VaultMarketConfigs, e.VaultUsers,
	} {
		if len(m) > 0 {
			return true
		}
	}
	return false
}

// Message returns the indented JSON form of the report when it carries at
// least one error.
func (e *SimulationErrors) Message() (string, bool) {
	if !e.HasErrors() {
		return "", false
	}
	data, err := json.MarshalIndent(e, "", "  ")
	if err != nil {
		return err.Error(), true
	}
	return string(data), true
}

// SimulationFetch is one response of the simulation service.
type SimulationFetch struct {
	State  *SimulationState
	Errors *SimulationErrors
}

// SimulationView is the provider state exposed to the shell.
type SimulationView struct {
	State   *SimulationState
	Pending bool
	Error   string
	Query   SimulationQuery
}
