package types

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

type EventType string

const (
	EventDistributionOpened   EventType = "DistributionOpened"
	EventClaimed              EventType = "Claimed"
	EventRemainderWithdrawn   EventType = "RemainderWithdrawn"
	EventPaused               EventType = "Paused"
	EventUnpaused             EventType = "Unpaused"
	EventOwnershipTransferred EventType = "OwnershipTransferred"
)

// Event is emitted by the distributor after a mutating operation succeeds.
// Only the fields relevant to Type are populated.
type Event struct {
	Type      EventType       `json:"type"`
	Root      *common.Hash    `json:"root,omitempty"`
	Account   *common.Address `json:"account,omitempty"`
	NewOwner  *common.Address `json:"newOwner,omitempty"`
	Amount    string          `json:"amount,omitempty"`
	Timestamp int64           `json:"timestamp"`
}

func NewDistributionOpenedEvent(root common.Hash, totalValue *uint256.Int, startTime int64) *Event {
	return &Event{
		Type:      EventDistributionOpened,
		Root:      &root,
		Amount:    totalValue.Dec(),
		Timestamp: startTime,
	}
}

func NewClaimedEvent(recipient common.Address, amount *uint256.Int, ts int64) *Event {
	return &Event{
		Type:      EventClaimed,
		Account:   &recipient,
		Amount:    amount.Dec(),
		Timestamp: ts,
	}
}

func NewRemainderWithdrawnEvent(authority common.Address, amount *uint256.Int, ts int64) *Event {
	return &Event{
		Type:      EventRemainderWithdrawn,
		Account:   &authority,
		Amount:    amount.Dec(),
		Timestamp: ts,
	}
}

func NewPausedEvent(account common.Address, ts int64) *Event {
	return &Event{Type: EventPaused, Account: &account, Timestamp: ts}
}

func NewUnpausedEvent(account common.Address, ts int64) *Event {
	return &Event{Type: EventUnpaused, Account: &account, Timestamp: ts}
}

func NewOwnershipTransferredEvent(previous, next common.Address, ts int64) *Event {
	return &Event{
		Type:      EventOwnershipTransferred,
		Account:   &previous,
		NewOwner:  &next,
		Timestamp: ts,
	}
}
