package service

import (
	"math/big"
	"time"

	"github.com/alanyoungcy/bundlerlab/internal/domain"
)

// JSON shapes shared by the signal bus, the websocket hub and the HTTP API.
// Amounts are base-unit integers rendered as decimal strings.

type PositionJSON struct {
	Market              string    `json:"market"`
	Account             string    `json:"account"`
	SupplyAssets        string    `json:"supplyAssets"`
	BorrowAssets        string    `json:"borrowAssets"`
	Collateral          string    `json:"collateral"`
	MaxBorrowableAssets *string   `json:"maxBorrowableAssets,omitempty"`
	IsHealthy           *bool     `json:"isHealthy,omitempty"`
	LTV                 *string   `json:"ltv,omitempty"`
	HealthFactor        *string   `json:"healthFactor,omitempty"`
	BorrowCapacityUsage *string   `json:"borrowCapacityUsage,omitempty"`
	LiquidationPrice    *string   `json:"liquidationPrice,omitempty"`
	FetchedAt           time.Time `json:"fetchedAt"`
}

type PositionMessage struct {
	Loading  bool          `json:"loading"`
	Error    string        `json:"error,omitempty"`
	Position *PositionJSON `json:"position,omitempty"`
}

type SimulationMessage struct {
	Pending   bool     `json:"pending"`
	Error     string   `json:"error,omitempty"`
	ChainID   uint64   `json:"chainId,omitempty"`
	Block     *uint64  `json:"block,omitempty"`
	Markets   []string `json:"markets"`
	Users     []string `json:"users"`
	Tokens    []string `json:"tokens"`
	FetchedAt string   `json:"fetchedAt,omitempty"`
}

type ResultMessage struct {
	ID       string   `json:"id"`
	Action   string   `json:"action"`
	Status   string   `json:"status"`
	Log      []string `json:"log"`
	TxHashes []string `json:"txHashes,omitempty"`
}

func optString(v *big.Int) *string {
	if v == nil {
		return nil
	}
	s := v.String()
	return &s
}

func bigText(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

// NewPositionMessage renders a position view.
func NewPositionMessage(v domain.PositionView) PositionMessage {
	msg := PositionMessage{Loading: v.Loading, Error: v.Error}
	if p := v.Snapshot; p != nil {
		msg.Position = &PositionJSON{
			Market:              p.MarketID.String(),
			Account:             p.Account,
			SupplyAssets:        bigText(p.SupplyAssets),
			BorrowAssets:        bigText(p.BorrowAssets),
			Collateral:          bigText(p.CollateralAssets),
			MaxBorrowableAssets: optString(p.MaxBorrowableAssets),
			IsHealthy:           p.IsHealthy,
			LTV:                 optString(p.LTV),
			HealthFactor:        optString(p.HealthFactor),
			BorrowCapacityUsage: optString(p.BorrowCapacityUsage),
			LiquidationPrice:    optString(p.LiquidationPrice),
			FetchedAt:           p.FetchedAt,
		}
	}
	return msg
}

// NewSimulationMessage renders a simulation view without the opaque state.
func NewSimulationMessage(v domain.SimulationView) SimulationMessage {
	msg := SimulationMessage{
		Pending: v.Pending,
		Error:   v.Error,
		Markets: make([]string, 0, len(v.Query.MarketIDs)),
		Users:   make([]string, 0, len(v.Query.Users)),
		Tokens:  make([]string, 0, len(v.Query.Tokens)),
	}
	for _, m := range v.Query.MarketIDs {
		msg.Markets = append(msg.Markets, m.String())
	}
	for _, u := range v.Query.Users {
		msg.Users = append(msg.Users, u.Hex())
	}
	for _, tk := range v.Query.Tokens {
		msg.Tokens = append(msg.Tokens, tk.Hex())
	}
	if s := v.State; s != nil {
		n := s.Block.Number
		msg.ChainID = s.ChainID
		msg.Block = &n
		msg.FetchedAt = s.FetchedAt.Format(time.RFC3339)
	}
	return msg
}

// NewResultMessage renders an action record for the results channel.
func NewResultMessage(rec domain.ActionRecord) ResultMessage {
	return ResultMessage{
		ID:       rec.ID,
		Action:   rec.Action,
		Status:   string(rec.Status),
		Log:      rec.Log,
		TxHashes: rec.TxHashes,
	}
}
