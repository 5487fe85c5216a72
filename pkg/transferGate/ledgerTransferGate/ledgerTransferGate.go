package ledgerTransferGate

import (
	"context"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/holiman/uint256"
	"go.uber.org/zap"

	"github.com/Layr-Labs/merkle-distributor-go/pkg/transferGate"
	"github.com/Layr-Labs/merkle-distributor-go/pkg/types"
)

// ReceiveHook runs after an account has been credited by a transfer, the way
// recipient code runs on receipt of value. Returning an error rejects the
// transfer and reverts the credit.
type ReceiveHook func(ctx context.Context, from common.Address, amount *uint256.Int) error

var (
	_ transferGate.ITransferGate = (*LedgerTransferGate)(nil)
	_ transferGate.IDepositor    = (*LedgerTransferGate)(nil)
)

// LedgerTransferGate is an in-memory balance book with a custody account
type LedgerTransferGate struct {
	mu       sync.Mutex
	custody  common.Address
	balances map[common.Address]*uint256.Int
	hooks    map[common.Address]ReceiveHook
	logger   *zap.Logger
}

func NewLedgerTransferGate(custody common.Address, logger *zap.Logger) *LedgerTransferGate {
	return &LedgerTransferGate{
		custody:  custody,
		balances: make(map[common.Address]*uint256.Int),
		hooks:    make(map[common.Address]ReceiveHook),
		logger:   logger,
	}
}

// Custody returns the account funds are held in
func (g *LedgerTransferGate) Custody() common.Address {
	return g.custody
}

// Credit mints amount into account
func (g *LedgerTransferGate) Credit(account common.Address, amount *uint256.Int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.add(account, amount)
}

// BalanceOf returns a copy of account's balance
func (g *LedgerTransferGate) BalanceOf(account common.Address) *uint256.Int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return new(uint256.Int).Set(g.balanceLocked(account))
}

// SetReceiveHook registers (or with nil, clears) the hook for account
func (g *LedgerTransferGate) SetReceiveHook(account common.Address, hook ReceiveHook) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if hook == nil {
		delete(g.hooks, account)
		return
	}
	g.hooks[account] = hook
}

// Deposit moves amount from the depositor into custody
func (g *LedgerTransferGate) Deposit(ctx context.Context, from common.Address, amount *uint256.Int) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if err := g.sub(from, amount); err != nil {
		return fmt.Errorf("deposit from %s: %w", from.Hex(), err)
	}
	g.add(g.custody, amount)

	g.logger.Sugar().Debugw("Ledger deposit", "from", from.Hex(), "amount", amount.Dec())
	return nil
}

// Transfer moves amount from custody to the recipient, then runs the
// recipient's receive hook outside the lock
func (g *LedgerTransferGate) Transfer(ctx context.Context, to common.Address, amount *uint256.Int) (*types.TransferReceipt, error) {
	if amount == nil {
		return nil, fmt.Errorf("amount cannot be nil")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	g.mu.Lock()
	if err := g.sub(g.custody, amount); err != nil {
		g.mu.Unlock()
		return nil, fmt.Errorf("transfer to %s: custody %w", to.Hex(), err)
	}
	g.add(to, amount)
	hook := g.hooks[to]
	g.mu.Unlock()

	if hook != nil {
		if hookErr := hook(ctx, g.custody, new(uint256.Int).Set(amount)); hookErr != nil {
			if err := g.revert(to, amount); err != nil {
				return nil, fmt.Errorf("receiver %s rejected transfer: %v, revert failed: %w", to.Hex(), hookErr, err)
			}
			g.logger.Sugar().Debugw("Ledger transfer rejected by receiver", "to", to.Hex(), "error", hookErr)
			return nil, fmt.Errorf("receiver %s rejected transfer: %w", to.Hex(), hookErr)
		}
	}

	receipt := &types.TransferReceipt{
		ID:     uuid.New().String(),
		From:   g.custody,
		To:     to,
		Amount: amount.Dec(),
	}
	g.logger.Sugar().Debugw("Ledger transfer", "id", receipt.ID, "to", to.Hex(), "amount", receipt.Amount)
	return receipt, nil
}

func (g *LedgerTransferGate) revert(to common.Address, amount *uint256.Int) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.sub(to, amount); err != nil {
		return err
	}
	g.add(g.custody, amount)
	return nil
}

func (g *LedgerTransferGate) balanceLocked(account common.Address) *uint256.Int {
	if b, ok := g.balances[account]; ok {
		return b
	}
	return new(uint256.Int)
}

func (g *LedgerTransferGate) add(account common.Address, amount *uint256.Int) {
	g.balances[account] = new(uint256.Int).Add(g.balanceLocked(account), amount)
}

func (g *LedgerTransferGate) sub(account common.Address, amount *uint256.Int) error {
	bal := g.balanceLocked(account)
	if bal.Lt(amount) {
		return fmt.Errorf("%w: balance %s, need %s", transferGate.ErrInsufficientFunds, bal.Dec(), amount.Dec())
	}
	g.balances[account] = new(uint256.Int).Sub(bal, amount)
	return nil
}
