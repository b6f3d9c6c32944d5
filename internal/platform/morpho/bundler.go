package morpho

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/bundlerlab/internal/domain"
)

// EncodeBundle turns the typed operations into the ordered unsigned
// transactions (requirements first) that execute them against state.
func (c *Client) EncodeBundle(ctx context.Context, chainID uint64, account common.Address, state *domain.SimulationState, ops []domain.OperationRequest) (domain.EncodedBundle, error) {
	if state == nil {
		return domain.EncodedBundle{}, errors.New("morpho: encode bundle: simulation state is nil")
	}

	req := APIEncodeRequest{
		ChainID:    chainID,
		Account:    account,
		Block:      state.Block,
		State:      state.Raw,
		Operations: make([]APIOperation, 0, len(ops)),
	}
	for _, op := range ops {
		req.Operations = append(req.Operations, newOperation(op))
	}

	body, err := c.doPost(ctx, "/v1/bundles/encode", req)
	if err != nil {
		return domain.EncodedBundle{}, fmt.Errorf("morpho: encode bundle: %w", err)
	}

	var resp APIEncodeResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return domain.EncodedBundle{}, fmt.Errorf("morpho: decode bundle: %w", err)
	}
	bundle, err := resp.ToDomain()
	if err != nil {
		return domain.EncodedBundle{}, fmt.Errorf("morpho: decode bundle: %w", err)
	}
	return bundle, nil
}

var _ domain.BundleEncoder = (*Client)(nil)
