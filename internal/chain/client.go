package chain

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
)

// HeaderReader is the subset of the RPC used to poll the chain head.
type HeaderReader interface {
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
}

// HeadSubscriber is implemented by clients dialed over a websocket.
type HeadSubscriber interface {
	SubscribeNewHead(ctx context.Context, ch chan<- *types.Header) (ethereum.Subscription, error)
}

// Client bundles the RPC endpoints the harness talks to. WS is nil when no
// websocket endpoint is configured.
type Client struct {
	RPC *ethclient.Client
	WS  *ethclient.Client
}

// Dial connects to the HTTP endpoint and, when wsURL is set, to the websocket
// endpoint used for head subscriptions.
func Dial(ctx context.Context, rpcURL, wsURL string) (*Client, error) {
	rpcURL = strings.TrimSpace(rpcURL)
	if rpcURL == "" {
		return nil, fmt.Errorf("chain: rpc url required")
	}
	rpc, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("chain: dial rpc: %w", err)
	}
	c := &Client{RPC: rpc}

	if wsURL = strings.TrimSpace(wsURL); wsURL != "" {
		ws, err := ethclient.DialContext(ctx, wsURL)
		if err != nil {
			rpc.Close()
			return nil, fmt.Errorf("chain: dial ws: %w", err)
		}
		c.WS = ws
	}
	return c, nil
}

// Subscriber returns the websocket client when one is available.
func (c *Client) Subscriber() HeadSubscriber {
	if c.WS == nil {
		return nil
	}
	return c.WS
}

// Close releases both connections.
func (c *Client) Close() {
	if c.WS != nil {
		c.WS.Close()
	}
	c.RPC.Close()
}
