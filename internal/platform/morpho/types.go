package morpho

import (
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/alanyoungcy/bundlerlab/internal/domain"
)

type errorBody struct {
	Error string `json:"error"`
}

// --------------------------------------------------------------------------
// Simulation state
// --------------------------------------------------------------------------

// APISimulationRequest is the body of POST /v1/simulation-state.
type APISimulationRequest struct {
	ChainID   uint64           `json:"chainId"`
	MarketIDs []string         `json:"marketIds"`
	Users     []common.Address `json:"users"`
	Tokens    []common.Address `json:"tokens"`
	Vaults    []common.Address `json:"vaults"`
	Block     *domain.BlockRef `json:"block,omitempty"`
}

// APISimulationResponse carries the opaque state and the per-category fetch
// errors the simulation engine reported while assembling it.
type APISimulationResponse struct {
	Block  domain.BlockRef          `json:"block"`
	State  json.RawMessage          `json:"state"`
	Errors *domain.SimulationErrors `json:"errors,omitempty"`
}

func newSimulationRequest(chainID uint64, q domain.SimulationQuery) APISimulationRequest {
	req := APISimulationRequest{
		ChainID:   chainID,
		MarketIDs: make([]string, 0, len(q.MarketIDs)),
		Users:     nonNil(q.Users),
		Tokens:    nonNil(q.Tokens),
		Vaults:    nonNil(q.Vaults),
		Block:     q.Block,
	}
	for _, id := range q.MarketIDs {
		req.MarketIDs = append(req.MarketIDs, id.String())
	}
	return req
}

func nonNil(in []common.Address) []common.Address {
	if in == nil {
		return []common.Address{}
	}
	return in
}

// --------------------------------------------------------------------------
// Positions
// --------------------------------------------------------------------------

// APIPosition is an accrued position as returned by
// GET /v1/markets/{id}/positions/{user}. Amounts are decimal strings.
type APIPosition struct {
	SupplyAssets        string  `json:"supplyAssets"`
	BorrowAssets        string  `json:"borrowAssets"`
	Collateral          string  `json:"collateral"`
	MaxBorrowableAssets *string `json:"maxBorrowableAssets"`
	IsHealthy           *bool   `json:"isHealthy"`
	LTV                 *string `json:"ltv"`
	HealthFactor        *string `json:"healthFactor"`
	BorrowCapacityUsage *string `json:"borrowCapacityUsage"`
	LiquidationPrice    *string `json:"liquidationPrice"`
}

// ToDomain converts the wire position into a snapshot.
func (p APIPosition) ToDomain(market domain.MarketID, account common.Address) (domain.PositionSnapshot, error) {
	snap := domain.PositionSnapshot{
		MarketID:  market,
		Account:   account.Hex(),
		IsHealthy: p.IsHealthy,
	}
	var err error
	if snap.SupplyAssets, err = parseBig("supplyAssets", p.SupplyAssets); err != nil {
		return domain.PositionSnapshot{}, err
	}
	if snap.BorrowAssets, err = parseBig("borrowAssets", p.BorrowAssets); err != nil {
		return domain.PositionSnapshot{}, err
	}
	if snap.CollateralAssets, err = parseBig("collateral", p.Collateral); err != nil {
		return domain.PositionSnapshot{}, err
	}
	for _, f := range []struct {
		name string
		in   *string
		out  **big.Int
	}{
		{"maxBorrowableAssets", p.MaxBorrowableAssets, &snap.MaxBorrowableAssets},
		{"ltv", p.LTV, &snap.LTV},
		{"healthFactor", p.HealthFactor, &snap.HealthFactor},
		{"borrowCapacityUsage", p.BorrowCapacityUsage, &snap.BorrowCapacityUsage},
		{"liquidationPrice", p.LiquidationPrice, &snap.LiquidationPrice},
	} {
		if f.in == nil {
			continue
		}
		if *f.out, err = parseBig(f.name, *f.in); err != nil {
			return domain.PositionSnapshot{}, err
		}
	}
	return snap, nil
}

// --------------------------------------------------------------------------
// Bundle encoding
// --------------------------------------------------------------------------

// APIOperationArgs mirrors domain.OperationArgs with amounts as strings.
type APIOperationArgs struct {
	ID       string          `json:"id"`
	Assets   string          `json:"assets"`
	OnBehalf common.Address  `json:"onBehalf"`
	Receiver *common.Address `json:"receiver,omitempty"`
	Slippage *string         `json:"slippage,omitempty"`
}

// APIOperation is one typed input operation.
type APIOperation struct {
	Type    domain.OperationType `json:"type"`
	Sender  common.Address       `json:"sender"`
	Address common.Address       `json:"address"`
	Args    APIOperationArgs     `json:"args"`
}

// APIEncodeRequest is the body of POST /v1/bundles/encode.
type APIEncodeRequest struct {
	ChainID    uint64          `json:"chainId"`
	Account    common.Address  `json:"account"`
	Block      domain.BlockRef `json:"block"`
	State      json.RawMessage `json:"state"`
	Operations []APIOperation  `json:"operations"`
}

// APITx is an unsigned transaction produced by the encoder.
type APITx struct {
	To    common.Address `json:"to"`
	Data  hexutil.Bytes  `json:"data"`
	Value string         `json:"value"`
}

// APIEncodeResponse lists approval/permit requirements followed by the
// bundle transaction itself.
type APIEncodeResponse struct {
	Requirements []APITx `json:"requirements"`
	Tx           APITx   `json:"tx"`
}

func newOperation(op domain.OperationRequest) APIOperation {
	out := APIOperation{
		Type:    op.Type,
		Sender:  op.Sender,
		Address: op.Address,
		Args: APIOperationArgs{
			ID:       op.Args.ID.String(),
			Assets:   bigString(op.Args.Assets),
			OnBehalf: op.Args.OnBehalf,
			Receiver: op.Args.Receiver,
		},
	}
	if op.Args.Slippage != nil {
		s := op.Args.Slippage.String()
		out.Args.Slippage = &s
	}
	return out
}

// ToDomain converts the wire transaction.
func (t APITx) ToDomain() (domain.EncodedTx, error) {
	value := new(big.Int)
	if t.Value != "" {
		var err error
		if value, err = parseBig("value", t.Value); err != nil {
			return domain.EncodedTx{}, err
		}
	}
	return domain.EncodedTx{To: t.To, Data: []byte(t.Data), Value: value}, nil
}

// ToDomain converts the wire bundle, preserving transaction order.
func (r APIEncodeResponse) ToDomain() (domain.EncodedBundle, error) {
	var out domain.EncodedBundle
	for i, req := range r.Requirements {
		tx, err := req.ToDomain()
		if err != nil {
			return domain.EncodedBundle{}, fmt.Errorf("requirement %d: %w", i, err)
		}
		out.Requirements = append(out.Requirements, tx)
	}
	tx, err := r.Tx.ToDomain()
	if err != nil {
		return domain.EncodedBundle{}, fmt.Errorf("bundle tx: %w", err)
	}
	out.Tx = tx
	return out, nil
}

func parseBig(field, s string) (*big.Int, error) {
	if s == "" {
		return new(big.Int), nil
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("invalid %s %q", field, s)
	}
	return v, nil
}

func bigString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}
