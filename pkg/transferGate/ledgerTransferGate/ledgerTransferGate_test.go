package ledgerTransferGate

import (
	"context"
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Layr-Labs/merkle-distributor-go/pkg/logger"
	"github.com/Layr-Labs/merkle-distributor-go/pkg/transferGate"
)

var (
	custody   = common.HexToAddress("0x000000000000000000000000000000000000c000")
	authority = common.HexToAddress("0x000000000000000000000000000000000000a001")
	alice     = common.HexToAddress("0x00000000000000000000000000000000000000a1")
)

func newGate(t *testing.T) *LedgerTransferGate {
	t.Helper()
	l, err := logger.NewLogger(&logger.LoggerConfig{Debug: false})
	require.NoError(t, err)
	return NewLedgerTransferGate(custody, l)
}

func TestDeposit(t *testing.T) {
	g := newGate(t)
	g.Credit(authority, uint256.NewInt(1000))

	require.NoError(t, g.Deposit(context.Background(), authority, uint256.NewInt(600)))
	assert.Equal(t, uint64(400), g.BalanceOf(authority).Uint64())
	assert.Equal(t, uint64(600), g.BalanceOf(custody).Uint64())

	err := g.Deposit(context.Background(), authority, uint256.NewInt(401))
	assert.ErrorIs(t, err, transferGate.ErrInsufficientFunds)
	assert.Equal(t, uint64(400), g.BalanceOf(authority).Uint64())
}

func TestTransfer(t *testing.T) {
	g := newGate(t)
	g.Credit(custody, uint256.NewInt(300))

	receipt, err := g.Transfer(context.Background(), alice, uint256.NewInt(100))
	require.NoError(t, err)
	assert.Equal(t, custody, receipt.From)
	assert.Equal(t, alice, receipt.To)
	assert.Equal(t, "100", receipt.Amount)
	assert.Nil(t, receipt.TxHash)
	_, err = uuid.Parse(receipt.ID)
	assert.NoError(t, err)

	assert.Equal(t, uint64(100), g.BalanceOf(alice).Uint64())
	assert.Equal(t, uint64(200), g.BalanceOf(custody).Uint64())

	_, err = g.Transfer(context.Background(), alice, uint256.NewInt(201))
	assert.ErrorIs(t, err, transferGate.ErrInsufficientFunds)
	assert.Equal(t, uint64(100), g.BalanceOf(alice).Uint64())

	// zero value transfers succeed
	_, err = g.Transfer(context.Background(), alice, uint256.NewInt(0))
	require.NoError(t, err)
}

func TestTransferCancelledContext(t *testing.T) {
	g := newGate(t)
	g.Credit(custody, uint256.NewInt(10))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := g.Transfer(ctx, alice, uint256.NewInt(1))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, uint64(10), g.BalanceOf(custody).Uint64())
}

func TestReceiveHook(t *testing.T) {
	g := newGate(t)
	g.Credit(custody, uint256.NewInt(300))

	var seen *uint256.Int
	g.SetReceiveHook(alice, func(ctx context.Context, from common.Address, amount *uint256.Int) error {
		assert.Equal(t, custody, from)
		// the credit is visible to the receiver
		assert.Equal(t, amount.Uint64(), g.BalanceOf(alice).Uint64())
		seen = amount
		return nil
	})

	_, err := g.Transfer(context.Background(), alice, uint256.NewInt(50))
	require.NoError(t, err)
	require.NotNil(t, seen)
	assert.Equal(t, uint64(50), seen.Uint64())

	rejectErr := errors.New("no thanks")
	g.SetReceiveHook(alice, func(context.Context, common.Address, *uint256.Int) error {
		return rejectErr
	})

	_, err = g.Transfer(context.Background(), alice, uint256.NewInt(70))
	assert.ErrorIs(t, err, rejectErr)
	assert.Equal(t, uint64(50), g.BalanceOf(alice).Uint64())
	assert.Equal(t, uint64(250), g.BalanceOf(custody).Uint64())

	g.SetReceiveHook(alice, nil)
	_, err = g.Transfer(context.Background(), alice, uint256.NewInt(70))
	require.NoError(t, err)
	assert.Equal(t, uint64(120), g.BalanceOf(alice).Uint64())
}

func TestBalanceOfReturnsCopy(t *testing.T) {
	g := newGate(t)
	g.Credit(alice, uint256.NewInt(5))
	b := g.BalanceOf(alice)
	b.SetUint64(1000)
	assert.Equal(t, uint64(5), g.BalanceOf(alice).Uint64())
}
