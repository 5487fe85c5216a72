package memory

import (
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Layr-Labs/merkle-distributor-go/pkg/persistence"
)

func sampleSnapshot() *persistence.DistributionSnapshot {
	return &persistence.DistributionSnapshot{
		Root:               "0x2222222222222222222222222222222222222222222222222222222222222222",
		StartTime:          1700000000,
		ClaimWindowSeconds: 7776000,
		TotalDeposited:     "600",
		Balance:            "600",
		Authority:          "0x000000000000000000000000000000000000a001",
		Owner:              "0x000000000000000000000000000000000000b001",
	}
}

func TestMemoryPersistence_SaveAndLoadState(t *testing.T) {
	mp := NewMemoryPersistence()
	defer func() { _ = mp.Close() }()

	loaded, err := mp.LoadState()
	require.NoError(t, err)
	assert.Nil(t, loaded, "first run has no state")

	original := sampleSnapshot()
	require.NoError(t, mp.SaveState(original))

	loaded, err = mp.LoadState()
	require.NoError(t, err)
	assert.Equal(t, original, loaded)

	// Mutating the returned copy doesn't touch the stored one
	loaded.Balance = "0"
	again, err := mp.LoadState()
	require.NoError(t, err)
	assert.Equal(t, "600", again.Balance)
}

func TestMemoryPersistence_SaveState_Nil(t *testing.T) {
	mp := NewMemoryPersistence()
	defer func() { _ = mp.Close() }()

	require.Error(t, mp.SaveState(nil))
	require.Error(t, mp.SaveClaim(common.Address{}, nil))
	require.Error(t, mp.DeleteClaim(common.Address{}, nil))
}

func TestMemoryPersistence_Claims(t *testing.T) {
	mp := NewMemoryPersistence()
	defer func() { _ = mp.Close() }()

	a := common.HexToAddress("0x02")
	b := common.HexToAddress("0x01")

	claimed, err := mp.IsClaimed(a)
	require.NoError(t, err)
	assert.False(t, claimed)

	afterA := sampleSnapshot()
	afterA.Balance = "500"
	require.NoError(t, mp.SaveClaim(a, afterA))

	afterB := sampleSnapshot()
	afterB.Balance = "300"
	require.NoError(t, mp.SaveClaim(b, afterB))

	claimed, err = mp.IsClaimed(a)
	require.NoError(t, err)
	assert.True(t, claimed)

	list, err := mp.ListClaimed()
	require.NoError(t, err)
	assert.Equal(t, []common.Address{b, a}, list)

	state, err := mp.LoadState()
	require.NoError(t, err)
	assert.Equal(t, "300", state.Balance)

	// Roll back b
	require.NoError(t, mp.DeleteClaim(b, afterA))
	claimed, err = mp.IsClaimed(b)
	require.NoError(t, err)
	assert.False(t, claimed)

	state, err = mp.LoadState()
	require.NoError(t, err)
	assert.Equal(t, "500", state.Balance)

	// Idempotent
	require.NoError(t, mp.DeleteClaim(b, afterA))
}

func TestMemoryPersistence_Close(t *testing.T) {
	mp := NewMemoryPersistence()
	require.NoError(t, mp.HealthCheck())
	require.NoError(t, mp.Close())
	require.NoError(t, mp.Close())

	require.Error(t, mp.HealthCheck())
	require.Error(t, mp.SaveState(sampleSnapshot()))
	_, err := mp.LoadState()
	require.Error(t, err)
	_, err = mp.IsClaimed(common.Address{})
	require.Error(t, err)
	_, err = mp.ListClaimed()
	require.Error(t, err)
}

func TestMemoryPersistence_ConcurrentClaims(t *testing.T) {
	mp := NewMemoryPersistence()
	defer func() { _ = mp.Close() }()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			var addr common.Address
			addr[0] = byte(i)
			addr[19] = 1
			_ = mp.SaveClaim(addr, sampleSnapshot())
		}(i)
	}
	wg.Wait()

	list, err := mp.ListClaimed()
	require.NoError(t, err)
	assert.Len(t, list, 50)
}
