package transactionSigner

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"go.uber.org/zap"
)

// ErrNotConfirmed matches errors for transactions that were handed to the
// network but have no receipt. They may still be mined.
var ErrNotConfirmed = errors.New("transaction sent but not confirmed")

// UnconfirmedError carries the hash of a transaction whose outcome is unknown
type UnconfirmedError struct {
	TxHash common.Hash
	Err    error
}

func (e *UnconfirmedError) Error() string {
	return fmt.Sprintf("%s: %s: %v", ErrNotConfirmed, e.TxHash.Hex(), e.Err)
}

func (e *UnconfirmedError) Unwrap() []error {
	return []error{ErrNotConfirmed, e.Err}
}

// ITransactionSigner provides methods for signing Ethereum transactions
type ITransactionSigner interface {
	// SignAndSendTransaction fills nonce, fees and gas, signs the transaction,
	// sends it and waits for a successful receipt. Errors matching
	// ErrNotConfirmed mean the transaction may still be mined.
	SignAndSendTransaction(ctx context.Context, tx *types.Transaction) (*types.Receipt, error)

	// GetFromAddress returns the address that will be used for signing
	GetFromAddress() common.Address

	// EstimateGasPriceAndLimit estimates max fee per gas and gas limit for a transaction
	EstimateGasPriceAndLimit(ctx context.Context, tx *types.Transaction) (*big.Int, uint64, error)
}

// EthBackend is the subset of an ethereum client the signer needs.
// Satisfied by *ethclient.Client and the simulated backend client.
type EthBackend interface {
	ethereum.ChainIDReader
	ethereum.GasPricer1559
	ethereum.GasEstimator
	ethereum.PendingStateReader
	ethereum.TransactionSender
	ethereum.TransactionReader
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
}

type SignerConfig struct {
	PrivateKey string `json:"privateKey" yaml:"privateKey"`
}

func NewTransactionSigner(cfg *SignerConfig, ethClient EthBackend, logger *zap.Logger) (ITransactionSigner, error) {
	if cfg == nil || cfg.PrivateKey == "" {
		return nil, fmt.Errorf("private key cannot be empty")
	}

	key, err := ParsePrivateKey(cfg.PrivateKey)
	if err != nil {
		return nil, err
	}

	return NewPrivateKeySigner(key, ethClient, logger)
}

// ParsePrivateKey parses a hex secp256k1 key with or without 0x prefix
func ParsePrivateKey(hexKey string) (*ecdsa.PrivateKey, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(hexKey, "0x"))
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}
	return key, nil
}

// addGasBuffer adds a 20% buffer to a gas estimate
func addGasBuffer(gasLimit uint64) uint64 {
	return gasLimit + gasLimit/5
}
