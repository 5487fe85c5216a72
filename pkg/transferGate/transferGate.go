// Package transferGate moves value out of (and optionally into) distribution custody.
package transferGate

import (
	"context"
	"errors"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/Layr-Labs/merkle-distributor-go/pkg/types"
)

var (
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrTransferPending marks a transfer that was submitted but whose outcome
	// is unknown. The value may already have moved.
	ErrTransferPending = errors.New("transfer submitted, outcome unknown")
)

// ITransferGate performs the single outbound value transfer of a claim or a
// withdrawal. Implementations must never call back into the distributor.
type ITransferGate interface {
	// Transfer sends amount from custody to the recipient. A returned error
	// means nothing was transferred, unless it matches ErrTransferPending. In
	// that case the receipt identifying the submitted transfer is returned
	// alongside the error.
	Transfer(ctx context.Context, to common.Address, amount *uint256.Int) (*types.TransferReceipt, error)
}

// IDepositor is implemented by gates that take custody of the distributed
// value when the distribution opens.
type IDepositor interface {
	Deposit(ctx context.Context, from common.Address, amount *uint256.Int) error
}
