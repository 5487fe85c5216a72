package redis

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/Layr-Labs/merkle-distributor-go/pkg/persistence"
)

// Key names for namespacing in Redis
const (
	keyDistributionState = "md:distribution:state"
	keySchemaVersion     = "md:metadata:schema_version"
	currentSchemaVersion = "v1"

	// Set of claimed recipients (hex addresses)
	keySetClaimed = "md:claimed"

	operationTimeout = 5 * time.Second
)

// RedisPersistence is a persistence implementation using Redis.
// Claim records and their snapshot are written in a single MULTI/EXEC.
type RedisPersistence struct {
	client    *redis.Client
	logger    *zap.Logger
	keyPrefix string // Custom prefix for all keys
	mu        sync.RWMutex
	closed    bool
}

// RedisConfig holds the configuration for connecting to Redis
type RedisConfig struct {
	// Address is the Redis server address (host:port)
	Address string
	// Password is the optional Redis password
	Password string
	// DB is the Redis database number (0-15)
	DB int
	// KeyPrefix is an optional custom prefix for all keys, e.g. "airdrop-1:"
	// results in keys like "airdrop-1:md:claimed". Lets several distributors
	// share one Redis.
	KeyPrefix string
}

// NewRedisPersistence creates a new Redis-backed persistence layer.
func NewRedisPersistence(cfg *RedisConfig, logger *zap.Logger) (*RedisPersistence, error) {
	if cfg == nil {
		return nil, fmt.Errorf("redis config cannot be nil")
	}

	if cfg.Address == "" {
		return nil, fmt.Errorf("redis address cannot be empty")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), operationTimeout)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", cfg.Address, err)
	}

	rp := &RedisPersistence{
		client:    client,
		logger:    logger,
		keyPrefix: cfg.KeyPrefix,
	}

	if err := rp.initSchema(ctx); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	if cfg.KeyPrefix != "" {
		logger.Sugar().Infow("Redis persistence initialized", "address", cfg.Address, "db", cfg.DB, "key_prefix", cfg.KeyPrefix)
	} else {
		logger.Sugar().Infow("Redis persistence initialized", "address", cfg.Address, "db", cfg.DB)
	}

	return rp, nil
}

// prefixKey adds the custom key prefix (if configured) to a key
func (r *RedisPersistence) prefixKey(key string) string {
	if r.keyPrefix == "" {
		return key
	}
	return r.keyPrefix + key
}

// initSchema initializes or validates the schema version
func (r *RedisPersistence) initSchema(ctx context.Context) error {
	schemaKey := r.prefixKey(keySchemaVersion)

	existingVersion, err := r.client.Get(ctx, schemaKey).Result()
	if err == redis.Nil {
		return r.client.Set(ctx, schemaKey, currentSchemaVersion, 0).Err()
	}
	if err != nil {
		return fmt.Errorf("failed to read schema version: %w", err)
	}

	if existingVersion != currentSchemaVersion {
		return fmt.Errorf("unsupported schema version: %s (expected: %s)", existingVersion, currentSchemaVersion)
	}

	return nil
}

// SaveState persists the distribution snapshot
func (r *RedisPersistence) SaveState(state *persistence.DistributionSnapshot) error {
	if state == nil {
		return fmt.Errorf("cannot save nil DistributionSnapshot")
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		return fmt.Errorf("persistence layer is closed")
	}

	data, err := persistence.MarshalDistributionSnapshot(state)
	if err != nil {
		return fmt.Errorf("failed to marshal DistributionSnapshot: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), operationTimeout)
	defer cancel()

	if err := r.client.Set(ctx, r.prefixKey(keyDistributionState), data, 0).Err(); err != nil {
		return fmt.Errorf("failed to save DistributionSnapshot: %w", err)
	}
	return nil
}

// LoadState retrieves the distribution snapshot
func (r *RedisPersistence) LoadState() (*persistence.DistributionSnapshot, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		return nil, fmt.Errorf("persistence layer is closed")
	}

	ctx, cancel := context.WithTimeout(context.Background(), operationTimeout)
	defer cancel()

	data, err := r.client.Get(ctx, r.prefixKey(keyDistributionState)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load DistributionSnapshot: %w", err)
	}

	state, err := persistence.UnmarshalDistributionSnapshot(data)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal DistributionSnapshot: %w", err)
	}

	return state, nil
}

// SaveClaim adds recipient to the claimed set and stores the snapshot atomically
func (r *RedisPersistence) SaveClaim(recipient common.Address, state *persistence.DistributionSnapshot) error {
	return r.updateClaim(recipient, state, true)
}

// DeleteClaim removes recipient from the claimed set and restores the snapshot atomically
func (r *RedisPersistence) DeleteClaim(recipient common.Address, state *persistence.DistributionSnapshot) error {
	return r.updateClaim(recipient, state, false)
}

func (r *RedisPersistence) updateClaim(recipient common.Address, state *persistence.DistributionSnapshot, claimed bool) error {
	if state == nil {
		return fmt.Errorf("cannot save nil DistributionSnapshot")
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		return fmt.Errorf("persistence layer is closed")
	}

	data, err := persistence.MarshalDistributionSnapshot(state)
	if err != nil {
		return fmt.Errorf("failed to marshal DistributionSnapshot: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), operationTimeout)
	defer cancel()

	setKey := r.prefixKey(keySetClaimed)
	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		if claimed {
			pipe.SAdd(ctx, setKey, recipient.Hex())
		} else {
			pipe.SRem(ctx, setKey, recipient.Hex())
		}
		pipe.Set(ctx, r.prefixKey(keyDistributionState), data, 0)
		return nil
	})
	if err != nil {
		return errors.Wrapf(err, "failed to update claim record for %s", recipient.Hex())
	}
	return nil
}

// IsClaimed reports whether recipient is in the claimed set
func (r *RedisPersistence) IsClaimed(recipient common.Address) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		return false, fmt.Errorf("persistence layer is closed")
	}

	ctx, cancel := context.WithTimeout(context.Background(), operationTimeout)
	defer cancel()

	claimed, err := r.client.SIsMember(ctx, r.prefixKey(keySetClaimed), recipient.Hex()).Result()
	if err != nil {
		return false, fmt.Errorf("failed to read claim record: %w", err)
	}
	return claimed, nil
}

// ListClaimed returns all claimed recipients sorted by address
func (r *RedisPersistence) ListClaimed() ([]common.Address, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		return nil, fmt.Errorf("persistence layer is closed")
	}

	ctx, cancel := context.WithTimeout(context.Background(), operationTimeout)
	defer cancel()

	members, err := r.client.SMembers(ctx, r.prefixKey(keySetClaimed)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list claim records: %w", err)
	}

	recipients := make([]common.Address, 0, len(members))
	for _, m := range members {
		if !common.IsHexAddress(m) {
			r.logger.Sugar().Warnw("Skipping malformed claim record", "member", m)
			continue
		}
		recipients = append(recipients, common.HexToAddress(m))
	}

	sort.Slice(recipients, func(i, j int) bool {
		return bytes.Compare(recipients[i][:], recipients[j][:]) < 0
	})

	return recipients, nil
}

// Close shuts down the persistence layer
func (r *RedisPersistence) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil // Already closed, idempotent
	}
	r.closed = true
	r.mu.Unlock()

	if err := r.client.Close(); err != nil {
		return fmt.Errorf("failed to close Redis client: %w", err)
	}

	r.logger.Sugar().Info("Redis persistence closed")
	return nil
}

// HealthCheck verifies the persistence layer is operational
func (r *RedisPersistence) HealthCheck() error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		return fmt.Errorf("persistence layer is closed")
	}

	ctx, cancel := context.WithTimeout(context.Background(), operationTimeout)
	defer cancel()

	if err := r.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis health check failed: %w", err)
	}

	_, err := r.client.Get(ctx, r.prefixKey(keySchemaVersion)).Result()
	if err == redis.Nil {
		return fmt.Errorf("schema version not found - database may not be properly initialized")
	}
	if err != nil {
		return fmt.Errorf("failed to verify schema version: %w", err)
	}

	return nil
}
