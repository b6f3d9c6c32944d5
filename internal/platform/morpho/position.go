package morpho

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/bundlerlab/internal/domain"
)

// FetchPosition returns the accrued position of account in market.
func (c *Client) FetchPosition(ctx context.Context, chainID uint64, account common.Address, market domain.MarketID) (domain.PositionSnapshot, error) {
	params := url.Values{}
	params.Set("chainId", strconv.FormatUint(chainID, 10))

	path := fmt.Sprintf("/v1/markets/%s/positions/%s?%s",
		url.PathEscape(market.String()), url.PathEscape(account.Hex()), params.Encode())

	body, err := c.doGet(ctx, path)
	if err != nil {
		return domain.PositionSnapshot{}, fmt.Errorf("morpho: get position: %w", err)
	}

	var p APIPosition
	if err := json.Unmarshal(body, &p); err != nil {
		return domain.PositionSnapshot{}, fmt.Errorf("morpho: decode position: %w", err)
	}

	snap, err := p.ToDomain(market, account)
	if err != nil {
		return domain.PositionSnapshot{}, fmt.Errorf("morpho: decode position: %w", err)
	}
	snap.FetchedAt = time.Now().UTC()
	return snap, nil
}

var _ domain.PositionService = (*Client)(nil)
