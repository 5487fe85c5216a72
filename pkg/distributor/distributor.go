// Package distributor implements the claim state machine of a single
// merkle distribution round.
//
// A distribution moves from uninitialized to open when the authority commits
// a root, and from open to expired when the claim window elapses. Expiry is
// evaluated lazily against the configured clock. Every mutating operation is
// all-or-nothing: state is changed and persisted before any value transfer,
// and rolled back if the transfer fails. A transfer whose outcome is unknown
// is never rolled back and is reported as ErrTransferPending.
package distributor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"go.uber.org/zap"

	"github.com/Layr-Labs/merkle-distributor-go/pkg/access"
	"github.com/Layr-Labs/merkle-distributor-go/pkg/events"
	"github.com/Layr-Labs/merkle-distributor-go/pkg/merkle"
	"github.com/Layr-Labs/merkle-distributor-go/pkg/persistence"
	"github.com/Layr-Labs/merkle-distributor-go/pkg/transferGate"
	"github.com/Layr-Labs/merkle-distributor-go/pkg/types"
)

type Distributor struct {
	// held for the whole of every mutating operation, including the transfer
	entered atomic.Bool

	// guards the fields below; never held across a transfer
	mu             sync.RWMutex
	root           *common.Hash
	startTime      int64
	totalDeposited *uint256.Int
	balance        *uint256.Int
	paused         bool
	claimed        map[common.Address]bool

	claimWindow time.Duration
	clock       Clock
	guard       *access.Guard
	gate        transferGate.ITransferGate
	store       persistence.IDistributionPersistence
	sink        events.IEventSink
	logger      *zap.Logger
}

// NewDistributor creates a distributor and restores any state found in store.
// A stored authority that differs from cfg.Authority is an error.
func NewDistributor(
	cfg *Config,
	gate transferGate.ITransferGate,
	store persistence.IDistributionPersistence,
	sink events.IEventSink,
	l *zap.Logger,
) (*Distributor, error) {
	cfg, err := cfg.withDefaults()
	if err != nil {
		return nil, err
	}
	if gate == nil {
		return nil, fmt.Errorf("transfer gate cannot be nil")
	}
	if store == nil {
		return nil, fmt.Errorf("persistence cannot be nil")
	}
	if sink == nil {
		sink = events.NopSink{}
	}
	if l == nil {
		l = zap.NewNop()
	}

	d := &Distributor{
		totalDeposited: new(uint256.Int),
		balance:        new(uint256.Int),
		claimed:        make(map[common.Address]bool),
		claimWindow:    cfg.ClaimWindow,
		clock:          cfg.Clock,
		guard:          access.NewGuard(cfg.Authority, cfg.Owner),
		gate:           gate,
		store:          store,
		sink:           sink,
		logger:         l,
	}

	if err := d.restore(cfg); err != nil {
		return nil, err
	}
	return d, nil
}

func (d *Distributor) restore(cfg *Config) error {
	snap, err := d.store.LoadState()
	if err != nil {
		return fmt.Errorf("failed to load distribution state: %w", err)
	}

	if snap == nil {
		// first run, record the identities so a restart with a different
		// authority is detected
		if err := d.store.SaveState(d.snapshotLocked()); err != nil {
			return fmt.Errorf("failed to save initial distribution state: %w", err)
		}
		d.logger.Sugar().Infow("Initialized new distribution",
			"authority", cfg.Authority.Hex(),
			"owner", cfg.Owner.Hex(),
			"claimWindow", cfg.ClaimWindow.String(),
		)
		return nil
	}

	if snap.Authority != "" && common.HexToAddress(snap.Authority) != cfg.Authority {
		return fmt.Errorf("stored authority %s does not match configured authority %s", snap.Authority, cfg.Authority.Hex())
	}
	if snap.Owner != "" {
		if !common.IsHexAddress(snap.Owner) {
			return fmt.Errorf("stored owner %q is not an address", snap.Owner)
		}
		stored := common.HexToAddress(snap.Owner)
		if stored == cfg.Authority {
			return fmt.Errorf("stored owner %s is the authority", stored.Hex())
		}
		d.guard.SetOwner(stored)
	}
	d.paused = snap.Paused

	if snap.IsOpen() {
		root := common.HexToHash(snap.Root)
		total, err := uint256.FromDecimal(snap.TotalDeposited)
		if err != nil {
			return fmt.Errorf("stored total deposit %q is invalid: %w", snap.TotalDeposited, err)
		}
		balance, err := uint256.FromDecimal(snap.Balance)
		if err != nil {
			return fmt.Errorf("stored balance %q is invalid: %w", snap.Balance, err)
		}
		d.root = &root
		d.startTime = snap.StartTime
		d.totalDeposited = total
		d.balance = balance

		// the window the distribution was opened with is binding
		if snap.ClaimWindowSeconds > 0 {
			stored := time.Duration(snap.ClaimWindowSeconds) * time.Second
			if stored != d.claimWindow {
				d.logger.Sugar().Warnw("Configured claim window differs from the opened distribution, using stored window",
					"configured", d.claimWindow.String(),
					"stored", stored.String(),
				)
				d.claimWindow = stored
			}
		}
	}

	claimed, err := d.store.ListClaimed()
	if err != nil {
		return fmt.Errorf("failed to load claimed recipients: %w", err)
	}
	for _, r := range claimed {
		d.claimed[r] = true
	}

	d.logger.Sugar().Infow("Restored distribution state",
		"open", d.root != nil,
		"startTime", d.startTime,
		"balance", d.balance.Dec(),
		"claimed", len(d.claimed),
		"paused", d.paused,
		"owner", d.guard.Owner().Hex(),
	)
	return nil
}

// enter takes the reentrancy guard. A nested or concurrent mutating call is
// rejected rather than queued.
func (d *Distributor) enter() error {
	if !d.entered.CompareAndSwap(false, true) {
		return ErrReentrantCall
	}
	return nil
}

func (d *Distributor) exit() {
	d.entered.Store(false)
}

func (d *Distributor) now() int64 {
	return d.clock.Now().Unix()
}

func (d *Distributor) windowSeconds() int64 {
	return int64(d.claimWindow / time.Second)
}

// endTimeLocked is the first second at which the window is closed
func (d *Distributor) endTimeLocked() int64 {
	return d.startTime + d.windowSeconds()
}

func (d *Distributor) snapshotLocked() *persistence.DistributionSnapshot {
	snap := &persistence.DistributionSnapshot{
		TotalDeposited: d.totalDeposited.Dec(),
		Balance:        d.balance.Dec(),
		Paused:         d.paused,
		Authority:      d.guard.Authority().Hex(),
		Owner:          d.guard.Owner().Hex(),
	}
	if d.root != nil {
		snap.Root = d.root.Hex()
		snap.StartTime = d.startTime
		snap.ClaimWindowSeconds = d.windowSeconds()
	}
	return snap
}

func notPersisted(err error) error {
	return fmt.Errorf("%w: %w", ErrStateNotPersisted, err)
}

// transferFailed wraps the gate error and, if the rollback could not be
// persisted either, the storage error
func transferFailed(cause, rollbackErr error) error {
	if rollbackErr != nil {
		return fmt.Errorf("%w: %w; rollback failed: %w", ErrTransferFailed, cause, notPersisted(rollbackErr))
	}
	return fmt.Errorf("%w: %w", ErrTransferFailed, cause)
}

// OpenDistribution commits the merkle root and the total distributed value
// and starts the claim window. Authority only, at most once.
func (d *Distributor) OpenDistribution(ctx context.Context, caller common.Address, root common.Hash, value *uint256.Int) (*types.Event, error) {
	if err := d.enter(); err != nil {
		return nil, err
	}
	defer d.exit()

	if err := d.guard.RequireAuthority(caller); err != nil {
		return nil, err
	}

	d.mu.Lock()
	if d.root != nil {
		d.mu.Unlock()
		return nil, ErrAlreadyOpened
	}
	if value == nil || value.IsZero() {
		d.mu.Unlock()
		return nil, ErrInvalidDeposit
	}

	prev := d.snapshotLocked()
	committed := root
	d.root = &committed
	d.startTime = d.now()
	d.totalDeposited = new(uint256.Int).Set(value)
	d.balance = new(uint256.Int).Set(value)
	startTime := d.startTime

	if err := d.store.SaveState(d.snapshotLocked()); err != nil {
		d.resetOpenLocked()
		d.mu.Unlock()
		return nil, notPersisted(err)
	}
	d.mu.Unlock()

	if depositor, ok := d.gate.(transferGate.IDepositor); ok {
		if err := depositor.Deposit(ctx, caller, value); err != nil {
			d.mu.Lock()
			d.resetOpenLocked()
			rollbackErr := d.store.SaveState(prev)
			d.mu.Unlock()
			return nil, transferFailed(err, rollbackErr)
		}
	}

	event := types.NewDistributionOpenedEvent(root, value, startTime)
	d.sink.Emit(event)
	return event, nil
}

func (d *Distributor) resetOpenLocked() {
	d.root = nil
	d.startTime = 0
	d.totalDeposited = new(uint256.Int)
	d.balance = new(uint256.Int)
}

// Claim pays the caller's allocation after verifying its proof against the
// committed root. Each recipient can claim once.
func (d *Distributor) Claim(ctx context.Context, caller common.Address, amount *uint256.Int, proof []common.Hash) (*types.Event, *types.TransferReceipt, error) {
	if err := d.enter(); err != nil {
		return nil, nil, err
	}
	defer d.exit()

	d.mu.Lock()
	if err := d.checkClaimLocked(caller, amount, proof); err != nil {
		d.mu.Unlock()
		return nil, nil, err
	}
	amount = new(uint256.Int).Set(amount)

	prev := d.snapshotLocked()
	d.claimed[caller] = true
	d.balance = new(uint256.Int).Sub(d.balance, amount)

	if err := d.store.SaveClaim(caller, d.snapshotLocked()); err != nil {
		delete(d.claimed, caller)
		d.balance = new(uint256.Int).Add(d.balance, amount)
		d.mu.Unlock()
		return nil, nil, notPersisted(err)
	}
	d.mu.Unlock()

	receipt, err := d.gate.Transfer(ctx, caller, amount)
	if errors.Is(err, transferGate.ErrTransferPending) {
		// the value may have moved, so the claim stays recorded
		d.logger.Sugar().Warnw("Claim transfer pending, keeping claim recorded",
			"recipient", caller.Hex(),
			"amount", amount.Dec(),
			"error", err,
		)
		event := types.NewClaimedEvent(caller, amount, d.now())
		d.sink.Emit(event)
		return event, receipt, fmt.Errorf("%w: %w", ErrTransferPending, err)
	}
	if err != nil {
		d.mu.Lock()
		delete(d.claimed, caller)
		d.balance = new(uint256.Int).Add(d.balance, amount)
		rollbackErr := d.store.DeleteClaim(caller, prev)
		d.mu.Unlock()
		return nil, nil, transferFailed(err, rollbackErr)
	}

	event := types.NewClaimedEvent(caller, amount, d.now())
	d.sink.Emit(event)
	return event, receipt, nil
}

func (d *Distributor) checkClaimLocked(caller common.Address, amount *uint256.Int, proof []common.Hash) error {
	if d.paused {
		return ErrPaused
	}
	if d.root == nil {
		return ErrNotOpen
	}
	if d.now() >= d.endTimeLocked() {
		return ErrExpired
	}
	if d.claimed[caller] {
		return ErrAlreadyClaimed
	}
	if amount == nil || !merkle.VerifyProof(caller, amount, proof, *d.root) {
		return ErrInvalidProof
	}
	if amount.Gt(d.balance) {
		return ErrInsufficientCustody
	}
	return nil
}

// WithdrawRemaining sends whatever is left in custody to the authority once
// the claim window has ended. Not affected by pause.
func (d *Distributor) WithdrawRemaining(ctx context.Context, caller common.Address) (*types.Event, *types.TransferReceipt, error) {
	if err := d.enter(); err != nil {
		return nil, nil, err
	}
	defer d.exit()

	if err := d.guard.RequireAuthority(caller); err != nil {
		return nil, nil, err
	}

	d.mu.Lock()
	if d.root == nil {
		d.mu.Unlock()
		return nil, nil, ErrNotOpen
	}
	if d.now() < d.endTimeLocked() {
		d.mu.Unlock()
		return nil, nil, ErrNotExpiredYet
	}

	prev := d.snapshotLocked()
	amount := d.balance
	d.balance = new(uint256.Int)

	if err := d.store.SaveState(d.snapshotLocked()); err != nil {
		d.balance = amount
		d.mu.Unlock()
		return nil, nil, notPersisted(err)
	}
	d.mu.Unlock()

	authority := d.guard.Authority()
	receipt, err := d.gate.Transfer(ctx, authority, new(uint256.Int).Set(amount))
	if errors.Is(err, transferGate.ErrTransferPending) {
		d.logger.Sugar().Warnw("Withdrawal transfer pending, keeping balance withdrawn",
			"authority", authority.Hex(),
			"amount", amount.Dec(),
			"error", err,
		)
		event := types.NewRemainderWithdrawnEvent(authority, amount, d.now())
		d.sink.Emit(event)
		return event, receipt, fmt.Errorf("%w: %w", ErrTransferPending, err)
	}
	if err != nil {
		d.mu.Lock()
		d.balance = amount
		rollbackErr := d.store.SaveState(prev)
		d.mu.Unlock()
		return nil, nil, transferFailed(err, rollbackErr)
	}

	event := types.NewRemainderWithdrawnEvent(authority, amount, d.now())
	d.sink.Emit(event)
	return event, receipt, nil
}

// Pause blocks claims until Unpause. Owner only.
func (d *Distributor) Pause(ctx context.Context, caller common.Address) (*types.Event, error) {
	return d.setPaused(caller, true)
}

// Unpause lifts a pause. Owner only.
func (d *Distributor) Unpause(ctx context.Context, caller common.Address) (*types.Event, error) {
	return d.setPaused(caller, false)
}

func (d *Distributor) setPaused(caller common.Address, paused bool) (*types.Event, error) {
	if err := d.enter(); err != nil {
		return nil, err
	}
	defer d.exit()

	if err := d.guard.RequireOwner(caller); err != nil {
		return nil, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if paused && d.paused {
		return nil, ErrPaused
	}
	if !paused && !d.paused {
		return nil, ErrNotPaused
	}

	d.paused = paused
	if err := d.store.SaveState(d.snapshotLocked()); err != nil {
		d.paused = !paused
		return nil, notPersisted(err)
	}

	var event *types.Event
	if paused {
		event = types.NewPausedEvent(caller, d.now())
	} else {
		event = types.NewUnpausedEvent(caller, d.now())
	}
	d.sink.Emit(event)
	return event, nil
}

// TransferOwnership hands the owner role to newOwner. Owner only. The
// authority can never hold the owner role.
func (d *Distributor) TransferOwnership(ctx context.Context, caller common.Address, newOwner common.Address) (*types.Event, error) {
	if err := d.enter(); err != nil {
		return nil, err
	}
	defer d.exit()

	if err := d.guard.RequireOwner(caller); err != nil {
		return nil, err
	}
	if newOwner == (common.Address{}) || newOwner == d.guard.Authority() {
		return nil, ErrInvalidOwner
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	previous := d.guard.SetOwner(newOwner)
	if err := d.store.SaveState(d.snapshotLocked()); err != nil {
		d.guard.SetOwner(previous)
		return nil, notPersisted(err)
	}

	event := types.NewOwnershipTransferredEvent(previous, newOwner, d.now())
	d.sink.Emit(event)
	return event, nil
}

// IsClaimWindowActive reports whether claims are currently inside the window.
// Pause does not affect the window.
func (d *Distributor) IsClaimWindowActive() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.windowActiveLocked(d.now())
}

func (d *Distributor) windowActiveLocked(now int64) bool {
	return d.root != nil && now >= d.startTime && now < d.endTimeLocked()
}

// TimeRemaining returns the seconds left in the claim window, 0 before the
// distribution opens and after it expires
func (d *Distributor) TimeRemaining() int64 {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.timeRemainingLocked(d.now())
}

func (d *Distributor) timeRemainingLocked(now int64) int64 {
	if d.root == nil {
		return 0
	}
	remaining := d.endTimeLocked() - now
	if remaining < 0 {
		return 0
	}
	if w := d.windowSeconds(); remaining > w {
		return w
	}
	return remaining
}

// VerifyClaim checks a proof against the committed root without claiming.
// False before the distribution opens.
func (d *Distributor) VerifyClaim(recipient common.Address, amount *uint256.Int, proof []common.Hash) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.root == nil {
		return false
	}
	return merkle.VerifyProof(recipient, amount, proof, *d.root)
}

// Claimed reports whether recipient has claimed
func (d *Distributor) Claimed(recipient common.Address) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.claimed[recipient]
}

// Root returns the committed root, nil before open
func (d *Distributor) Root() *common.Hash {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.root == nil {
		return nil
	}
	root := *d.root
	return &root
}

// Balance returns the value still held in custody
func (d *Distributor) Balance() *uint256.Int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return new(uint256.Int).Set(d.balance)
}

func (d *Distributor) Authority() common.Address {
	return d.guard.Authority()
}

func (d *Distributor) Owner() common.Address {
	return d.guard.Owner()
}

// Status returns a consistent view of the whole state
func (d *Distributor) Status() *types.DistributionStatus {
	d.mu.RLock()
	defer d.mu.RUnlock()

	now := d.now()
	status := &types.DistributionStatus{
		TotalDeposited: d.totalDeposited.Dec(),
		Balance:        d.balance.Dec(),
		Paused:         d.paused,
		WindowActive:   d.windowActiveLocked(now),
		TimeRemaining:  d.timeRemainingLocked(now),
		ClaimCount:     len(d.claimed),
		Authority:      d.guard.Authority(),
		Owner:          d.guard.Owner(),
	}
	if d.root != nil {
		root := *d.root
		status.Root = &root
		status.StartTime = d.startTime
		status.EndTime = d.endTimeLocked()
	}
	return status
}
