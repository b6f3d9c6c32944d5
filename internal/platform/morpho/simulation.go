package morpho

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/alanyoungcy/bundlerlab/internal/domain"
)

// FetchState asks the simulation engine for the state covering q. A
// response may carry both a state and per-category errors; a missing state
// leaves SimulationFetch.State nil.
func (c *Client) FetchState(ctx context.Context, chainID uint64, q domain.SimulationQuery) (domain.SimulationFetch, error) {
	body, err := c.doPost(ctx, "/v1/simulation-state", newSimulationRequest(chainID, q))
	if err != nil {
		return domain.SimulationFetch{}, fmt.Errorf("morpho: simulation state: %w", err)
	}

	var resp APISimulationResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return domain.SimulationFetch{}, fmt.Errorf("morpho: decode simulation state: %w", err)
	}

	out := domain.SimulationFetch{Errors: resp.Errors}
	if len(resp.State) > 0 && string(resp.State) != "null" {
		out.State = &domain.SimulationState{
			ChainID:   chainID,
			Block:     resp.Block,
			Raw:       resp.State,
			FetchedAt: time.Now().UTC(),
		}
	}
	return out, nil
}

var _ domain.SimulationService = (*Client)(nil)
