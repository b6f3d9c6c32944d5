package service

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/bundlerlab/internal/chain"
	"github.com/alanyoungcy/bundlerlab/internal/domain"
)

// BundleService builds the two demo bundles and hands them to the executor.
type BundleService struct {
	registry *chain.Registry
	executor domain.BundleExecutor
	logger   *slog.Logger
}

// NewBundleService creates a BundleService.
func NewBundleService(registry *chain.Registry, executor domain.BundleExecutor, logger *slog.Logger) *BundleService {
	return &BundleService{
		registry: registry,
		executor: executor,
		logger:   logger.With(slog.String("component", "bundle_service")),
	}
}

// BuildSupplyCollateralBorrow returns the ordered steps supply, supply
// collateral, borrow. The account is sender, beneficiary and borrow receiver.
func BuildSupplyCollateralBorrow(morpho, account common.Address, market domain.MarketID, supply, collateral, borrow *big.Int) []domain.OperationRequest {
	return []domain.OperationRequest{
		step(domain.OpSupply, morpho, account, market, supply, false, true),
		step(domain.OpSupplyCollateral, morpho, account, market, collateral, false, false),
		step(domain.OpBorrow, morpho, account, market, borrow, true, true),
	}
}

// BuildRepayWithdraw returns the ordered steps repay, withdraw collateral,
// withdraw. Withdrawn assets go to the account.
func BuildRepayWithdraw(morpho, account common.Address, market domain.MarketID, repay, withdrawCollateral, withdraw *big.Int) []domain.OperationRequest {
	return []domain.OperationRequest{
		step(domain.OpRepay, morpho, account, market, repay, false, true),
		step(domain.OpWithdrawCollateral, morpho, account, market, withdrawCollateral, true, false),
		step(domain.OpWithdraw, morpho, account, market, withdraw, true, true),
	}
}

// step builds one request. Steps whose share/asset conversion is estimated
// carry the default slippage tolerance; steps that pay out carry a receiver.
func step(typ domain.OperationType, morpho, account common.Address, market domain.MarketID, assets *big.Int, receiver, slippage bool) domain.OperationRequest {
	amount := new(big.Int)
	if assets != nil {
		amount.Set(assets)
	}
	op := domain.OperationRequest{
		Type:    typ,
		Sender:  account,
		Address: morpho,
		Args: domain.OperationArgs{
			ID:       market,
			Assets:   amount,
			OnBehalf: account,
		},
	}
	if receiver {
		r := account
		op.Args.Receiver = &r
	}
	if slippage {
		op.Args.Slippage = new(big.Int).Set(domain.DefaultSlippageTolerance)
	}
	return op
}

// SupplySupplyCollateralBorrow supplies loan assets, supplies collateral and
// borrows in one bundle.
func (s *BundleService) SupplySupplyCollateralBorrow(
	ctx context.Context,
	market domain.MarketID,
	client domain.WalletClient,
	state *domain.SimulationState,
	supply, collateral, borrow *big.Int,
) (domain.BundleResult, error) {
	return s.run(ctx, domain.ActionSupplyCollateralBorrow, client, state, func(morpho, account common.Address) []domain.OperationRequest {
		return BuildSupplyCollateralBorrow(morpho, account, market, supply, collateral, borrow)
	})
}

// RepayWithdrawCollateralWithdraw repays, withdraws collateral and withdraws
// supplied assets in one bundle.
func (s *BundleService) RepayWithdrawCollateralWithdraw(
	ctx context.Context,
	market domain.MarketID,
	client domain.WalletClient,
	state *domain.SimulationState,
	repay, withdrawCollateral, withdraw *big.Int,
) (domain.BundleResult, error) {
	return s.run(ctx, domain.ActionRepayWithdraw, client, state, func(morpho, account common.Address) []domain.OperationRequest {
		return BuildRepayWithdraw(morpho, account, market, repay, withdrawCollateral, withdraw)
	})
}

func (s *BundleService) run(
	ctx context.Context,
	name string,
	client domain.WalletClient,
	state *domain.SimulationState,
	build func(morpho, account common.Address) []domain.OperationRequest,
) (domain.BundleResult, error) {
	account, ok := client.Account()
	if !ok {
		return domain.BundleResult{}, domain.ErrMissingAccount
	}
	addrs, err := s.registry.Lookup(client.ChainID())
	if err != nil {
		return domain.BundleResult{}, fmt.Errorf("bundle: %s: %w", name, err)
	}

	ops := build(addrs.Morpho, account)
	s.logger.InfoContext(ctx, "submitting bundle",
		slog.String("bundle", name),
		slog.String("account", account.Hex()),
		slog.Any("operations", domain.OperationTypes(ops)),
	)

	res, err := s.executor.Execute(ctx, client, state, ops)
	if err != nil {
		return res, fmt.Errorf("bundle: %s: %w", name, err)
	}
	return res, nil
}
