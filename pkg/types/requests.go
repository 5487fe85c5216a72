package types

import (
	"encoding/json"

	"github.com/ethereum/go-ethereum/common"
)

// Actions bound into every signed request so a signature for one endpoint
// can't be replayed against another
const (
	ActionOpenDistribution  = "openDistribution"
	ActionClaim             = "claim"
	ActionWithdrawRemaining = "withdrawRemaining"
	ActionPause             = "pause"
	ActionUnpause           = "unpause"
	ActionTransferOwnership = "transferOwnership"
)

// SignedRequest is the payload signed by the caller of a mutating endpoint
type SignedRequest struct {
	Action   string          `json:"action"`
	Nonce    string          `json:"nonce"`
	IssuedAt int64           `json:"issuedAt"`
	Body     json.RawMessage `json:"body,omitempty"`
}

type OpenDistributionRequest struct {
	Root  common.Hash `json:"root"`
	Value string      `json:"value"`
}

type ClaimRequest struct {
	Amount string        `json:"amount"`
	Proof  []common.Hash `json:"proof"`
}

type TransferOwnershipRequest struct {
	NewOwner common.Address `json:"newOwner"`
}

type VerifyClaimRequest struct {
	Recipient common.Address `json:"recipient"`
	Amount    string         `json:"amount"`
	Proof     []common.Hash  `json:"proof"`
}

type VerifyClaimResponse struct {
	Valid bool `json:"valid"`
}

type ClaimedResponse struct {
	Recipient common.Address `json:"recipient"`
	Claimed   bool           `json:"claimed"`
}

// OperationResponse is returned by every successful mutating endpoint
type OperationResponse struct {
	Caller  common.Address   `json:"caller"`
	Event   *Event           `json:"event"`
	Receipt *TransferReceipt `json:"receipt,omitempty"`
}

type ErrorResponse struct {
	Code    string `json:"code"`
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

type HealthResponse struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}
