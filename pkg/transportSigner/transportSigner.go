package transportSigner

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

var (
	ErrHashMismatch     = errors.New("message hash does not match payload")
	ErrInvalidSignature = errors.New("invalid signature")
)

type SignedMessage struct {
	Payload   []byte   `json:"payload"`   // Raw message bytes
	Hash      [32]byte `json:"hash"`      // keccak256(payload)
	Signature []byte   `json:"signature"` // 65 byte secp256k1 signature over hash
}

type ITransportSigner interface {
	CreateAuthenticatedMessage(data []byte) (*SignedMessage, error)
	SignMessage(data []byte) ([]byte, error) // Sign raw message bytes, returns signature
	Address() common.Address
}

// RecoverSigner checks the message hash and returns the address that signed it
func RecoverSigner(msg *SignedMessage) (common.Address, error) {
	if msg == nil {
		return common.Address{}, fmt.Errorf("signed message cannot be nil")
	}
	hash := crypto.Keccak256Hash(msg.Payload)
	if !bytes.Equal(hash[:], msg.Hash[:]) {
		return common.Address{}, ErrHashMismatch
	}
	if len(msg.Signature) != crypto.SignatureLength {
		return common.Address{}, fmt.Errorf("%w: expected %d bytes, got %d", ErrInvalidSignature, crypto.SignatureLength, len(msg.Signature))
	}

	pub, err := crypto.SigToPub(hash[:], msg.Signature)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}

// VerifySigner reports whether msg was signed by expected
func VerifySigner(msg *SignedMessage, expected common.Address) error {
	signer, err := RecoverSigner(msg)
	if err != nil {
		return err
	}
	if signer != expected {
		return fmt.Errorf("%w: signed by %s, expected %s", ErrInvalidSignature, signer.Hex(), expected.Hex())
	}
	return nil
}
