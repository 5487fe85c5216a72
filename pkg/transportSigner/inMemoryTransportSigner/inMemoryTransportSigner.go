package inMemoryTransportSigner

import (
	"crypto/ecdsa"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"go.uber.org/zap"

	"github.com/Layr-Labs/merkle-distributor-go/pkg/transportSigner"
)

type InMemoryTransportSigner struct {
	logger     *zap.Logger
	privateKey *ecdsa.PrivateKey
	address    common.Address
}

func NewECDSAInMemoryTransportSigner(
	privateKey []byte,
	logger *zap.Logger,
) (*InMemoryTransportSigner, error) {
	key, err := crypto.ToECDSA(privateKey)
	if err != nil {
		return nil, fmt.Errorf("error loading private key: %w", err)
	}

	return NewInMemoryTransportSigner(key, logger), nil
}

func NewInMemoryTransportSigner(
	key *ecdsa.PrivateKey,
	logger *zap.Logger,
) *InMemoryTransportSigner {
	return &InMemoryTransportSigner{
		logger:     logger,
		privateKey: key,
		address:    crypto.PubkeyToAddress(key.PublicKey),
	}
}

func (its *InMemoryTransportSigner) Address() common.Address {
	return its.address
}

// data is the raw message bytes to sign
func (its *InMemoryTransportSigner) SignMessage(data []byte) ([]byte, error) {
	hashedData := crypto.Keccak256Hash(data)
	sig, err := crypto.Sign(hashedData[:], its.privateKey)
	if err != nil {
		return nil, err
	}
	return sig, nil
}

func (its *InMemoryTransportSigner) CreateAuthenticatedMessage(data []byte) (*transportSigner.SignedMessage, error) {
	hash := crypto.Keccak256Hash(data)

	sigBytes, err := its.SignMessage(data)
	if err != nil {
		return nil, fmt.Errorf("failed to sign authenticated message: %w", err)
	}

	its.logger.Sugar().Debugw("Signed message", "signer", its.address.Hex(), "hash", hash.Hex())

	return &transportSigner.SignedMessage{
		Payload:   data,
		Signature: sigBytes,
		Hash:      hash,
	}, nil
}
