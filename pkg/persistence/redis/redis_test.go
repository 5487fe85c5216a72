package redis

import (
	"os"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Layr-Labs/merkle-distributor-go/pkg/logger"
	"github.com/Layr-Labs/merkle-distributor-go/pkg/persistence"
)

// getTestRedisAddress returns the Redis address for testing.
// Uses REDIS_TEST_ADDRESS env var if set, otherwise defaults to localhost:6379.
func getTestRedisAddress() string {
	if addr := os.Getenv("REDIS_TEST_ADDRESS"); addr != "" {
		return addr
	}
	return "localhost:6379"
}

// requireRedis connects to Redis with a unique key prefix, skipping the test
// when no server is reachable.
func requireRedis(t *testing.T) *RedisPersistence {
	t.Helper()

	testLogger, _ := logger.NewLogger(&logger.LoggerConfig{Debug: false})
	cfg := &RedisConfig{
		Address:   getTestRedisAddress(),
		DB:        15, // Use DB 15 for tests to avoid conflicts
		KeyPrefix: "test-" + uuid.New().String() + ":",
	}

	rp, err := NewRedisPersistence(cfg, testLogger)
	if err != nil {
		t.Skipf("Redis not available at %s: %v", cfg.Address, err)
		return nil
	}

	return rp
}

func sampleSnapshot() *persistence.DistributionSnapshot {
	return &persistence.DistributionSnapshot{
		Root:               "0x4444444444444444444444444444444444444444444444444444444444444444",
		StartTime:          1700000000,
		ClaimWindowSeconds: 7776000,
		TotalDeposited:     "600",
		Balance:            "600",
		Authority:          "0x000000000000000000000000000000000000A001",
		Owner:              "0x000000000000000000000000000000000000b001",
	}
}

func TestNewRedisPersistence_InvalidConfig(t *testing.T) {
	testLogger, _ := logger.NewLogger(&logger.LoggerConfig{Debug: false})

	_, err := NewRedisPersistence(nil, testLogger)
	require.Error(t, err)

	_, err = NewRedisPersistence(&RedisConfig{}, testLogger)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "address")
}

func TestRedisPersistence_SaveAndLoadState(t *testing.T) {
	rp := requireRedis(t)
	defer func() { _ = rp.Close() }()

	loaded, err := rp.LoadState()
	require.NoError(t, err)
	assert.Nil(t, loaded)

	original := sampleSnapshot()
	require.NoError(t, rp.SaveState(original))

	loaded, err = rp.LoadState()
	require.NoError(t, err)
	assert.Equal(t, original, loaded)
}

func TestRedisPersistence_Claims(t *testing.T) {
	rp := requireRedis(t)
	defer func() { _ = rp.Close() }()

	a := common.HexToAddress("0x0a")
	b := common.HexToAddress("0x0b")

	afterA := sampleSnapshot()
	afterA.Balance = "500"
	require.NoError(t, rp.SaveClaim(a, afterA))

	afterB := sampleSnapshot()
	afterB.Balance = "300"
	require.NoError(t, rp.SaveClaim(b, afterB))

	list, err := rp.ListClaimed()
	require.NoError(t, err)
	assert.Equal(t, []common.Address{a, b}, list)

	require.NoError(t, rp.DeleteClaim(b, afterA))

	claimed, err := rp.IsClaimed(b)
	require.NoError(t, err)
	assert.False(t, claimed)

	claimed, err = rp.IsClaimed(a)
	require.NoError(t, err)
	assert.True(t, claimed)

	state, err := rp.LoadState()
	require.NoError(t, err)
	assert.Equal(t, "500", state.Balance)
}

func TestRedisPersistence_Close(t *testing.T) {
	rp := requireRedis(t)

	require.NoError(t, rp.HealthCheck())
	require.NoError(t, rp.Close())
	require.NoError(t, rp.Close())

	require.Error(t, rp.HealthCheck())
	require.Error(t, rp.SaveState(sampleSnapshot()))
}
