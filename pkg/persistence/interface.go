package persistence

import "github.com/ethereum/go-ethereum/common"

// IDistributionPersistence persists the state of a single distribution
// round across restarts. All implementations must be thread-safe.
//
// The interface supports:
// - Distribution state snapshots (root, start time, balances, pause, owner)
// - Per-recipient claimed records, committed atomically with the snapshot
// - Lifecycle management (close, health check)
type IDistributionPersistence interface {
	// Distribution State

	// SaveState persists the snapshot, overwriting any previous one.
	SaveState(state *DistributionSnapshot) error

	// LoadState retrieves the snapshot.
	// Returns nil if none exists (first run), error only on storage failure.
	LoadState() (*DistributionSnapshot, error)

	// Claims

	// SaveClaim atomically records recipient as claimed and stores the snapshot
	// produced by that claim.
	SaveClaim(recipient common.Address, state *DistributionSnapshot) error

	// DeleteClaim atomically removes the claimed record and restores the
	// snapshot. Used only to roll back a claim whose transfer failed.
	// Idempotent - returns nil if the record doesn't exist.
	DeleteClaim(recipient common.Address, state *DistributionSnapshot) error

	// IsClaimed reports whether recipient has a claimed record.
	IsClaimed(recipient common.Address) (bool, error)

	// ListClaimed returns all claimed recipients sorted by address bytes.
	// Returns empty slice if none exist.
	ListClaimed() ([]common.Address, error)

	// Lifecycle Management

	// Close cleanly shuts down the persistence layer.
	// Idempotent - safe to call multiple times.
	// After Close(), all other operations should return errors.
	Close() error

	// HealthCheck verifies the persistence layer is operational.
	HealthCheck() error
}
