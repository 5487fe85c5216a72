package types

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Allocation is a single (recipient, amount) entry of a distribution round.
// Amount is expressed in base value units.
type Allocation struct {
	Recipient common.Address
	Amount    *uint256.Int
}

// NewAllocation is a convenience constructor for small amounts
func NewAllocation(recipient common.Address, amount uint64) *Allocation {
	return &Allocation{
		Recipient: recipient,
		Amount:    uint256.NewInt(amount),
	}
}

// Copy returns a deep copy so callers can't mutate the amount in place
func (a *Allocation) Copy() *Allocation {
	if a == nil {
		return nil
	}
	cp := &Allocation{Recipient: a.Recipient}
	if a.Amount != nil {
		cp.Amount = new(uint256.Int).Set(a.Amount)
	}
	return cp
}

// ProofBundle is the artifact handed to the proof lookup front end.
// Claims is keyed by checksummed recipient address.
type ProofBundle struct {
	Root           common.Hash            `json:"root"`
	TotalAmount    string                 `json:"totalAmount"`
	TotalClaimants int                    `json:"totalClaimants"`
	Claims         map[string]*ClaimEntry `json:"claims"`
}

// ClaimEntry is one recipient's amount (decimal string) and merkle proof
type ClaimEntry struct {
	Amount string        `json:"amount"`
	Proof  []common.Hash `json:"proof"`
}

// TransferReceipt describes a completed outbound value transfer.
// TxHash is only set by gates that settle on a chain.
type TransferReceipt struct {
	ID     string         `json:"id"`
	From   common.Address `json:"from"`
	To     common.Address `json:"to"`
	Amount string         `json:"amount"`
	TxHash *common.Hash   `json:"txHash,omitempty"`
}

// DistributionStatus is a read-only view of the distribution state
type DistributionStatus struct {
	Root           *common.Hash   `json:"root,omitempty"`
	StartTime      int64          `json:"startTime"`
	EndTime        int64          `json:"endTime"`
	TotalDeposited string         `json:"totalDeposited"`
	Balance        string         `json:"balance"`
	Paused         bool           `json:"paused"`
	WindowActive   bool           `json:"windowActive"`
	TimeRemaining  int64          `json:"timeRemaining"`
	ClaimCount     int            `json:"claimCount"`
	Authority      common.Address `json:"authority"`
	Owner          common.Address `json:"owner"`
}
