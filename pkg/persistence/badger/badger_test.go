package badger

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Layr-Labs/merkle-distributor-go/pkg/logger"
	"github.com/Layr-Labs/merkle-distributor-go/pkg/persistence"
)

func sampleSnapshot() *persistence.DistributionSnapshot {
	return &persistence.DistributionSnapshot{
		Root:               "0x3333333333333333333333333333333333333333333333333333333333333333",
		StartTime:          1700000000,
		ClaimWindowSeconds: 7776000,
		TotalDeposited:     "600",
		Balance:            "600",
		Authority:          "0x000000000000000000000000000000000000a001",
		Owner:              "0x000000000000000000000000000000000000b001",
	}
}

func newTestBadger(t *testing.T, dir string) *BadgerPersistence {
	t.Helper()
	testLogger, _ := logger.NewLogger(&logger.LoggerConfig{Debug: false})

	bp, err := NewBadgerPersistence(dir, testLogger)
	require.NoError(t, err)
	return bp
}

func TestBadgerPersistence_SaveAndLoadState(t *testing.T) {
	bp := newTestBadger(t, t.TempDir())
	defer func() { _ = bp.Close() }()

	loaded, err := bp.LoadState()
	require.NoError(t, err)
	assert.Nil(t, loaded)

	original := sampleSnapshot()
	require.NoError(t, bp.SaveState(original))

	loaded, err = bp.LoadState()
	require.NoError(t, err)
	assert.Equal(t, original, loaded)
}

func TestBadgerPersistence_SaveState_Nil(t *testing.T) {
	bp := newTestBadger(t, t.TempDir())
	defer func() { _ = bp.Close() }()

	require.Error(t, bp.SaveState(nil))
	require.Error(t, bp.SaveClaim(common.Address{}, nil))
}

func TestBadgerPersistence_Claims(t *testing.T) {
	bp := newTestBadger(t, t.TempDir())
	defer func() { _ = bp.Close() }()

	a := common.HexToAddress("0x0a")
	b := common.HexToAddress("0x0b")

	list, err := bp.ListClaimed()
	require.NoError(t, err)
	assert.Empty(t, list)

	afterA := sampleSnapshot()
	afterA.Balance = "500"
	require.NoError(t, bp.SaveClaim(a, afterA))

	afterB := sampleSnapshot()
	afterB.Balance = "300"
	require.NoError(t, bp.SaveClaim(b, afterB))

	claimed, err := bp.IsClaimed(a)
	require.NoError(t, err)
	assert.True(t, claimed)

	list, err = bp.ListClaimed()
	require.NoError(t, err)
	assert.Equal(t, []common.Address{a, b}, list)

	state, err := bp.LoadState()
	require.NoError(t, err)
	assert.Equal(t, "300", state.Balance)

	require.NoError(t, bp.DeleteClaim(b, afterA))

	claimed, err = bp.IsClaimed(b)
	require.NoError(t, err)
	assert.False(t, claimed)

	state, err = bp.LoadState()
	require.NoError(t, err)
	assert.Equal(t, "500", state.Balance)

	// Deleting a missing record is fine
	require.NoError(t, bp.DeleteClaim(b, afterA))
}

func TestBadgerPersistence_SurvivesRestart(t *testing.T) {
	dir := t.TempDir()
	recipient := common.HexToAddress("0x0c")

	bp := newTestBadger(t, dir)
	snapshot := sampleSnapshot()
	snapshot.Balance = "400"
	require.NoError(t, bp.SaveClaim(recipient, snapshot))
	require.NoError(t, bp.Close())

	reopened := newTestBadger(t, dir)
	defer func() { _ = reopened.Close() }()

	state, err := reopened.LoadState()
	require.NoError(t, err)
	assert.Equal(t, snapshot, state)

	claimed, err := reopened.IsClaimed(recipient)
	require.NoError(t, err)
	assert.True(t, claimed)
}

func TestBadgerPersistence_Close(t *testing.T) {
	bp := newTestBadger(t, t.TempDir())

	require.NoError(t, bp.HealthCheck())
	require.NoError(t, bp.Close())
	require.NoError(t, bp.Close())

	require.Error(t, bp.HealthCheck())
	require.Error(t, bp.SaveState(sampleSnapshot()))
	_, err := bp.LoadState()
	require.Error(t, err)
	_, err = bp.ListClaimed()
	require.Error(t, err)
}
