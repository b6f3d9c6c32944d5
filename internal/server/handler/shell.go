package handler

import (
	"context"

	"github.com/alanyoungcy/bundlerlab/internal/domain"
	"github.com/alanyoungcy/bundlerlab/internal/service"
)

// Shell is the part of service.Shell the handlers drive.
type Shell interface {
	Inputs() service.Inputs
	SetInputs(ctx context.Context, in service.Inputs)
	Log() []string
	Busy() bool
	Position() domain.PositionView
	Simulation() domain.SimulationView
	Account() (string, bool)
	ChainID() uint64
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context)
	RunSupplyCollateralBorrow(ctx context.Context) []string
	RunRepayWithdraw(ctx context.Context) []string
}

var _ Shell = (*service.Shell)(nil)

// rejectedInFlight reports whether log is the in-flight rejection.
func rejectedInFlight(log []string) bool {
	return len(log) == 1 && log[0] == service.MsgInFlight
}
