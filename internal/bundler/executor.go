// Package bundler submits encoded bundles on chain. Encoding is delegated to a
// domain.BundleEncoder; this package owns nonce, fee and gas selection,
// signing, broadcast and receipt confirmation.
package bundler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/alanyoungcy/bundlerlab/internal/domain"
)

// Backend is the subset of the Ethereum RPC the executor needs.
type Backend interface {
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// TxSigner is implemented by wallet clients able to sign for their account.
type TxSigner interface {
	SignTx(tx *types.Transaction) (*types.Transaction, error)
}

// Options tune transaction submission.
type Options struct {
	ReceiptPollInterval time.Duration
	ReceiptTimeout      time.Duration
	// GasBufferPercent is added on top of the node's gas estimate.
	GasBufferPercent uint64
}

// Executor implements domain.BundleExecutor.
type Executor struct {
	encoder domain.BundleEncoder
	backend Backend
	opts    Options
	logger  *slog.Logger
}

// NewExecutor creates an Executor.
func NewExecutor(encoder domain.BundleEncoder, backend Backend, opts Options, logger *slog.Logger) *Executor {
	if opts.ReceiptPollInterval <= 0 {
		opts.ReceiptPollInterval = time.Second
	}
	if opts.ReceiptTimeout <= 0 {
		opts.ReceiptTimeout = 2 * time.Minute
	}
	return &Executor{
		encoder: encoder,
		backend: backend,
		opts:    opts,
		logger:  logger.With(slog.String("component", "bundle_executor")),
	}
}

// Execute encodes ops against state and sends the resulting transactions in
// order, waiting for each to be mined before sending the next. The first
// failure aborts the bundle; transactions already mined stay mined.
func (e *Executor) Execute(ctx context.Context, client domain.WalletClient, state *domain.SimulationState, ops []domain.OperationRequest) (domain.BundleResult, error) {
	account, ok := client.Account()
	if !ok {
		return domain.BundleResult{}, domain.ErrNotConnected
	}
	signer, ok := client.(TxSigner)
	if !ok {
		return domain.BundleResult{}, errors.New("bundler: wallet client cannot sign transactions")
	}
	if state == nil {
		return domain.BundleResult{}, errors.New("bundler: simulation state is nil")
	}

	bundle, err := e.encoder.EncodeBundle(ctx, state.ChainID, account, state, ops)
	if err != nil {
		return domain.BundleResult{}, fmt.Errorf("bundler: %w", err)
	}
	txs := bundle.Transactions()

	log := e.logger.With(
		slog.String("account", account.Hex()),
		slog.Uint64("chain_id", client.ChainID()),
		slog.Int("txs", len(txs)),
	)
	log.InfoContext(ctx, "executing bundle", slog.Any("operations", domain.OperationTypes(ops)))

	nonce, err := e.backend.PendingNonceAt(ctx, account)
	if err != nil {
		return domain.BundleResult{}, fmt.Errorf("bundler: pending nonce: %w", err)
	}

	var result domain.BundleResult
	for i, etx := range txs {
		receipt, err := e.send(ctx, signer, account, client.ChainID(), nonce, etx)
		if receipt != nil {
			result.TxHashes = append(result.TxHashes, receipt.TxHash)
		}
		if err != nil {
			log.ErrorContext(ctx, "bundle transaction failed",
				slog.Int("index", i),
				slog.String("error", err.Error()),
			)
			return result, fmt.Errorf("bundler: tx %d/%d: %w", i+1, len(txs), err)
		}
		result.GasUsed += receipt.GasUsed
		if receipt.BlockNumber != nil {
			result.BlockNumber = receipt.BlockNumber.Uint64()
		}
		log.InfoContext(ctx, "bundle transaction mined",
			slog.Int("index", i),
			slog.String("tx_hash", receipt.TxHash.Hex()),
			slog.Uint64("gas_used", receipt.GasUsed),
		)
		nonce++
	}
	return result, nil
}

// send builds, signs and broadcasts one EIP-1559 transaction and waits for
// its receipt. A returned receipt may accompany an error when the
// transaction was mined but reverted.
func (e *Executor) send(ctx context.Context, signer TxSigner, from common.Address, chainID, nonce uint64, etx domain.EncodedTx) (*types.Receipt, error) {
	tip, err := e.backend.SuggestGasTipCap(ctx)
	if err != nil {
		return nil, fmt.Errorf("suggest tip: %w", err)
	}
	head, err := e.backend.HeaderByNumber(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("latest header: %w", err)
	}
	baseFee := head.BaseFee
	if baseFee == nil {
		baseFee = new(big.Int)
	}
	feeCap := new(big.Int).Add(new(big.Int).Mul(baseFee, big.NewInt(2)), tip)

	value := etx.Value
	if value == nil {
		value = new(big.Int)
	}
	to := etx.To

	gas, err := e.backend.EstimateGas(ctx, ethereum.CallMsg{
		From:      from,
		To:        &to,
		GasFeeCap: feeCap,
		GasTipCap: tip,
		Value:     value,
		Data:      etx.Data,
	})
	if err != nil {
		return nil, fmt.Errorf("estimate gas: %w", err)
	}
	gas += gas * e.opts.GasBufferPercent / 100

	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   new(big.Int).SetUint64(chainID),
		Nonce:     nonce,
		GasTipCap: tip,
		GasFeeCap: feeCap,
		Gas:       gas,
		To:        &to,
		Value:     value,
		Data:      etx.Data,
	})
	signed, err := signer.SignTx(tx)
	if err != nil {
		return nil, err
	}
	if err := e.backend.SendTransaction(ctx, signed); err != nil {
		return nil, fmt.Errorf("send: %w", err)
	}

	receipt, err := e.waitReceipt(ctx, signed.Hash())
	if err != nil {
		return nil, err
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return receipt, fmt.Errorf("%w: %s", domain.ErrTxReverted, signed.Hash().Hex())
	}
	return receipt, nil
}

func (e *Executor) waitReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	ctx, cancel := context.WithTimeout(ctx, e.opts.ReceiptTimeout)
	defer cancel()

	ticker := time.NewTicker(e.opts.ReceiptPollInterval)
	defer ticker.Stop()

	for {
		receipt, err := e.backend.TransactionReceipt(ctx, hash)
		switch {
		case err == nil && receipt != nil:
			return receipt, nil
		case err != nil && !errors.Is(err, ethereum.NotFound) && ctx.Err() == nil:
			e.logger.WarnContext(ctx, "receipt lookup failed",
				slog.String("tx_hash", hash.Hex()),
				slog.String("error", err.Error()),
			)
		}

		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return nil, fmt.Errorf("%w: %s", domain.ErrReceiptTimeout, hash.Hex())
			}
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

var _ domain.BundleExecutor = (*Executor)(nil)
