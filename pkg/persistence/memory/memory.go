package memory

import (
	"bytes"
	"fmt"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/Layr-Labs/merkle-distributor-go/pkg/persistence"
)

// MemoryPersistence is an in-memory implementation of IDistributionPersistence.
// This implementation is intended for TESTING ONLY.
//
// All data is stored in memory and will be lost when the process exits.
// Thread-safe using sync.RWMutex for concurrent access.
// Snapshots are copied on the way in and out to prevent external mutation.
type MemoryPersistence struct {
	mu sync.RWMutex

	state   *persistence.DistributionSnapshot
	claimed map[common.Address]struct{}

	closed bool
}

// NewMemoryPersistence creates a new in-memory persistence layer.
func NewMemoryPersistence() *MemoryPersistence {
	return &MemoryPersistence{
		claimed: make(map[common.Address]struct{}),
	}
}

// SaveState persists the snapshot.
func (m *MemoryPersistence) SaveState(state *persistence.DistributionSnapshot) error {
	if state == nil {
		return fmt.Errorf("cannot save nil DistributionSnapshot")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return fmt.Errorf("persistence layer is closed")
	}

	m.state = state.Copy()
	return nil
}

// LoadState retrieves the snapshot.
func (m *MemoryPersistence) LoadState() (*persistence.DistributionSnapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, fmt.Errorf("persistence layer is closed")
	}

	return m.state.Copy(), nil
}

// SaveClaim records recipient as claimed together with the snapshot.
func (m *MemoryPersistence) SaveClaim(recipient common.Address, state *persistence.DistributionSnapshot) error {
	if state == nil {
		return fmt.Errorf("cannot save nil DistributionSnapshot")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return fmt.Errorf("persistence layer is closed")
	}

	m.claimed[recipient] = struct{}{}
	m.state = state.Copy()
	return nil
}

// DeleteClaim removes the claimed record and restores the snapshot.
func (m *MemoryPersistence) DeleteClaim(recipient common.Address, state *persistence.DistributionSnapshot) error {
	if state == nil {
		return fmt.Errorf("cannot save nil DistributionSnapshot")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return fmt.Errorf("persistence layer is closed")
	}

	delete(m.claimed, recipient)
	m.state = state.Copy()
	return nil
}

// IsClaimed reports whether recipient has a claimed record.
func (m *MemoryPersistence) IsClaimed(recipient common.Address) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return false, fmt.Errorf("persistence layer is closed")
	}

	_, ok := m.claimed[recipient]
	return ok, nil
}

// ListClaimed returns all claimed recipients sorted by address.
func (m *MemoryPersistence) ListClaimed() ([]common.Address, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, fmt.Errorf("persistence layer is closed")
	}

	recipients := make([]common.Address, 0, len(m.claimed))
	for r := range m.claimed {
		recipients = append(recipients, r)
	}
	sort.Slice(recipients, func(i, j int) bool {
		return bytes.Compare(recipients[i][:], recipients[j][:]) < 0
	})

	return recipients, nil
}

// Close marks the persistence layer as closed.
func (m *MemoryPersistence) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closed = true
	return nil
}

// HealthCheck verifies the persistence layer is operational.
func (m *MemoryPersistence) HealthCheck() error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return fmt.Errorf("persistence layer is closed")
	}

	return nil
}
