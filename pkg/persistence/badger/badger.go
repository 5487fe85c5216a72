package badger

import (
	"bytes"
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"sync"
	"time"

	badgerdb "github.com/dgraph-io/badger/v3"
	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/Layr-Labs/merkle-distributor-go/pkg/persistence"
)

// Key prefixes for namespacing
const (
	keyDistributionState = "distribution:state"
	keyPrefixClaimed     = "claimed:"
	keySchemaVersion     = "metadata:schema_version"
	currentSchemaVersion = "v1"
)

// BadgerPersistence is a production-ready persistence implementation using Badger.
// Provides durable, disk-based storage with ACID guarantees; a claim record and
// the snapshot it produced are always written in the same transaction.
type BadgerPersistence struct {
	db       *badgerdb.DB
	logger   *zap.Logger
	gcCancel context.CancelFunc
	gcWg     sync.WaitGroup
	mu       sync.RWMutex
	closed   bool
}

// NewBadgerPersistence creates a new Badger-backed persistence layer.
// The database is opened at the specified path with SyncWrites enabled for durability.
// A background goroutine is started for garbage collection.
func NewBadgerPersistence(dataPath string, logger *zap.Logger) (*BadgerPersistence, error) {
	absPath, err := filepath.Abs(dataPath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve absolute path: %w", err)
	}

	opts := badgerdb.DefaultOptions(absPath)
	opts.Logger = &badgerLoggerAdapter{logger: logger}
	opts.SyncWrites = true
	opts.CompactL0OnClose = true
	opts.NumVersionsToKeep = 1

	db, err := badgerdb.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger database at %s: %w", absPath, err)
	}

	bp := &BadgerPersistence{
		db:     db,
		logger: logger,
	}

	if err := bp.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	bp.gcCancel = cancel
	bp.gcWg.Add(1)
	go bp.runGC(ctx)

	logger.Sugar().Infow("Badger persistence initialized", "path", absPath)

	return bp, nil
}

// initSchema initializes or validates the schema version
func (b *BadgerPersistence) initSchema() error {
	return b.db.Update(func(txn *badgerdb.Txn) error {
		item, err := txn.Get([]byte(keySchemaVersion))
		if err == badgerdb.ErrKeyNotFound {
			return txn.Set([]byte(keySchemaVersion), []byte(currentSchemaVersion))
		}
		if err != nil {
			return fmt.Errorf("failed to read schema version: %w", err)
		}

		var existingVersion string
		err = item.Value(func(val []byte) error {
			existingVersion = string(val)
			return nil
		})
		if err != nil {
			return fmt.Errorf("failed to read schema version value: %w", err)
		}

		if existingVersion != currentSchemaVersion {
			return fmt.Errorf("unsupported schema version: %s (expected: %s)", existingVersion, currentSchemaVersion)
		}

		return nil
	})
}

// runGC runs periodic garbage collection in the background
func (b *BadgerPersistence) runGC(ctx context.Context) {
	defer b.gcWg.Done()

	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			err := b.db.RunValueLogGC(0.5)
			if err != nil && err != badgerdb.ErrNoRewrite {
				b.logger.Sugar().Warnw("Badger GC error", "error", err)
			}
		case <-ctx.Done():
			return
		}
	}
}

func claimedKey(recipient common.Address) []byte {
	return append([]byte(keyPrefixClaimed), recipient.Bytes()...)
}

// SaveState persists the distribution snapshot
func (b *BadgerPersistence) SaveState(state *persistence.DistributionSnapshot) error {
	if state == nil {
		return fmt.Errorf("cannot save nil DistributionSnapshot")
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return fmt.Errorf("persistence layer is closed")
	}

	data, err := persistence.MarshalDistributionSnapshot(state)
	if err != nil {
		return fmt.Errorf("failed to marshal DistributionSnapshot: %w", err)
	}

	return b.db.Update(func(txn *badgerdb.Txn) error {
		return txn.Set([]byte(keyDistributionState), data)
	})
}

// LoadState retrieves the distribution snapshot
func (b *BadgerPersistence) LoadState() (*persistence.DistributionSnapshot, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return nil, fmt.Errorf("persistence layer is closed")
	}

	var data []byte
	err := b.db.View(func(txn *badgerdb.Txn) error {
		item, err := txn.Get([]byte(keyDistributionState))
		if err == badgerdb.ErrKeyNotFound {
			return nil // Not found is not an error
		}
		if err != nil {
			return err
		}

		return item.Value(func(val []byte) error {
			data = append([]byte{}, val...) // Copy value
			return nil
		})
	})

	if err != nil {
		return nil, fmt.Errorf("failed to load DistributionSnapshot: %w", err)
	}

	if data == nil {
		return nil, nil
	}

	state, err := persistence.UnmarshalDistributionSnapshot(data)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal DistributionSnapshot: %w", err)
	}

	return state, nil
}

// SaveClaim writes the claimed record and the snapshot in one transaction
func (b *BadgerPersistence) SaveClaim(recipient common.Address, state *persistence.DistributionSnapshot) error {
	return b.updateClaim(recipient, state, true)
}

// DeleteClaim removes the claimed record and restores the snapshot in one transaction
func (b *BadgerPersistence) DeleteClaim(recipient common.Address, state *persistence.DistributionSnapshot) error {
	return b.updateClaim(recipient, state, false)
}

func (b *BadgerPersistence) updateClaim(recipient common.Address, state *persistence.DistributionSnapshot, claimed bool) error {
	if state == nil {
		return fmt.Errorf("cannot save nil DistributionSnapshot")
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return fmt.Errorf("persistence layer is closed")
	}

	data, err := persistence.MarshalDistributionSnapshot(state)
	if err != nil {
		return fmt.Errorf("failed to marshal DistributionSnapshot: %w", err)
	}

	err = b.db.Update(func(txn *badgerdb.Txn) error {
		if claimed {
			if err := txn.Set(claimedKey(recipient), []byte{1}); err != nil {
				return err
			}
		} else {
			if err := txn.Delete(claimedKey(recipient)); err != nil {
				return err
			}
		}
		return txn.Set([]byte(keyDistributionState), data)
	})
	if err != nil {
		return errors.Wrapf(err, "failed to update claim record for %s", recipient.Hex())
	}
	return nil
}

// IsClaimed reports whether recipient has a claimed record
func (b *BadgerPersistence) IsClaimed(recipient common.Address) (bool, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return false, fmt.Errorf("persistence layer is closed")
	}

	found := false
	err := b.db.View(func(txn *badgerdb.Txn) error {
		_, err := txn.Get(claimedKey(recipient))
		if err == badgerdb.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		found = true
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("failed to read claim record: %w", err)
	}

	return found, nil
}

// ListClaimed returns all claimed recipients sorted by address
func (b *BadgerPersistence) ListClaimed() ([]common.Address, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return nil, fmt.Errorf("persistence layer is closed")
	}

	recipients := make([]common.Address, 0)

	err := b.db.View(func(txn *badgerdb.Txn) error {
		opts := badgerdb.DefaultIteratorOptions
		opts.Prefix = []byte(keyPrefixClaimed)
		opts.PrefetchValues = false

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			key := it.Item().Key()
			raw := key[len(keyPrefixClaimed):]
			if len(raw) != common.AddressLength {
				b.logger.Sugar().Warnw("Skipping malformed claim record", "key", string(key))
				continue
			}
			recipients = append(recipients, common.BytesToAddress(raw))
		}

		return nil
	})

	if err != nil {
		return nil, fmt.Errorf("failed to list claim records: %w", err)
	}

	sort.Slice(recipients, func(i, j int) bool {
		return bytes.Compare(recipients[i][:], recipients[j][:]) < 0
	})

	return recipients, nil
}

// Close shuts down the persistence layer
func (b *BadgerPersistence) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil // Already closed, idempotent
	}
	b.closed = true
	b.mu.Unlock()

	if b.gcCancel != nil {
		b.gcCancel()
	}
	b.gcWg.Wait()

	if err := b.db.Close(); err != nil {
		return fmt.Errorf("failed to close badger database: %w", err)
	}

	b.logger.Sugar().Info("Badger persistence closed")
	return nil
}

// HealthCheck verifies the persistence layer is operational
func (b *BadgerPersistence) HealthCheck() error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return fmt.Errorf("persistence layer is closed")
	}

	return b.db.View(func(txn *badgerdb.Txn) error {
		_, err := txn.Get([]byte(keySchemaVersion))
		if err == badgerdb.ErrKeyNotFound {
			return fmt.Errorf("schema version not found - database may be corrupted")
		}
		return err
	})
}
