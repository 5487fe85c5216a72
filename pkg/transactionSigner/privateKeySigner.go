package transactionSigner

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"go.uber.org/zap"

	"github.com/Layr-Labs/merkle-distributor-go/pkg/config"
)

const (
	defaultReceiptPollInterval = time.Second
	defaultConfirmTimeout      = 2 * time.Minute
)

// PrivateKeySigner implements ITransactionSigner with a local secp256k1 key
type PrivateKeySigner struct {
	ethClient    EthBackend
	logger       *zap.Logger
	chainID      *big.Int
	privateKey   *ecdsa.PrivateKey
	fromAddress  common.Address
	feePolicy    config.FeePolicy
	pollInterval time.Duration

	// bounds the receipt wait after a send, independent of the caller's ctx
	confirmTimeout time.Duration

	// serializes nonce selection and send
	sendMu sync.Mutex
}

// NewPrivateKeySigner creates a new PrivateKeySigner
func NewPrivateKeySigner(privateKey *ecdsa.PrivateKey, ethClient EthBackend, logger *zap.Logger) (*PrivateKeySigner, error) {
	if privateKey == nil {
		return nil, fmt.Errorf("private key cannot be nil")
	}
	if ethClient == nil {
		return nil, fmt.Errorf("eth client cannot be nil")
	}

	// Get chain ID during initialization
	chainID, err := ethClient.ChainID(context.Background())
	if err != nil {
		return nil, fmt.Errorf("failed to get chain ID: %w", err)
	}

	cid := config.ChainId(chainID.Uint64())
	pollInterval := defaultReceiptPollInterval
	if config.IsEthereum(cid) {
		pollInterval = config.GetReceiptPollIntervalForChain(cid)
	}

	return &PrivateKeySigner{
		ethClient:      ethClient,
		logger:         logger,
		chainID:        chainID,
		privateKey:     privateKey,
		fromAddress:    crypto.PubkeyToAddress(privateKey.PublicKey),
		feePolicy:      config.GetFeePolicyForChain(cid),
		pollInterval:   pollInterval,
		confirmTimeout: defaultConfirmTimeout,
	}, nil
}

// WithPollInterval overrides the receipt polling interval
func (s *PrivateKeySigner) WithPollInterval(d time.Duration) *PrivateKeySigner {
	if d > 0 {
		s.pollInterval = d
	}
	return s
}

// WithConfirmTimeout overrides how long a sent transaction is waited on
func (s *PrivateKeySigner) WithConfirmTimeout(d time.Duration) *PrivateKeySigner {
	if d > 0 {
		s.confirmTimeout = d
	}
	return s
}

// GetFromAddress returns the address that will be used for signing
func (s *PrivateKeySigner) GetFromAddress() common.Address {
	return s.fromAddress
}

// ChainID returns the chain ID read at construction
func (s *PrivateKeySigner) ChainID() *big.Int {
	return new(big.Int).Set(s.chainID)
}

// suggestFees returns the priority fee and max fee per gas
func (s *PrivateKeySigner) suggestFees(ctx context.Context) (*big.Int, *big.Int, *big.Int, error) {
	gasTipCap, err := s.ethClient.SuggestGasTipCap(ctx)
	if err != nil {
		// If the backend does not support eth_maxPriorityFeePerGas, fallback
		// to using the default constant.
		s.logger.Sugar().Warnw("cannot get gasTipCap, using fallback", "error", err)
		gasTipCap = new(big.Int).SetUint64(s.feePolicy.FallbackGasTipCap)
	}

	header, err := s.ethClient.HeaderByNumber(ctx, nil)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to get latest block header: %w", err)
	}
	baseFee := header.BaseFee
	if baseFee == nil {
		baseFee = big.NewInt(0)
	}

	// maxFeePerGas = basefee * multiplier + tip
	maxFeePerGas := new(big.Int).Add(
		new(big.Int).Mul(baseFee, big.NewInt(s.feePolicy.BaseFeeMultiplier)),
		gasTipCap,
	)
	return gasTipCap, maxFeePerGas, baseFee, nil
}

// EstimateGasPriceAndLimit estimates max fee per gas and gas limit for a transaction
func (s *PrivateKeySigner) EstimateGasPriceAndLimit(ctx context.Context, tx *types.Transaction) (*big.Int, uint64, error) {
	gasTipCap, maxFeePerGas, _, err := s.suggestFees(ctx)
	if err != nil {
		return nil, 0, err
	}

	gasLimit, err := s.ethClient.EstimateGas(ctx, ethereum.CallMsg{
		From:      s.fromAddress,
		To:        tx.To(),
		GasTipCap: gasTipCap,
		GasFeeCap: maxFeePerGas,
		Value:     tx.Value(),
		Data:      tx.Data(),
	})
	if err != nil {
		return nil, 0, fmt.Errorf("failed to estimate gas: %w", err)
	}

	return maxFeePerGas, addGasBuffer(gasLimit), nil
}

// SignAndSendTransaction signs a transaction and sends it to the network.
// Only To, Value and Data are taken from tx. Once the transaction may have
// reached the network, the receipt is awaited for the confirm timeout even if
// ctx is cancelled, and a missing receipt is reported as an *UnconfirmedError.
func (s *PrivateKeySigner) SignAndSendTransaction(ctx context.Context, tx *types.Transaction) (*types.Receipt, error) {
	if tx == nil || tx.To() == nil {
		return nil, fmt.Errorf("transaction must have a recipient")
	}

	signedTx, err := s.signAndSend(ctx, tx)
	if err != nil {
		return nil, err
	}

	waitCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.confirmTimeout)
	defer cancel()

	receipt, err := s.waitMined(waitCtx, signedTx.Hash())
	if err != nil {
		s.logger.Sugar().Warnw("SignAndSendTransaction: transaction sent but not confirmed",
			"txHash", signedTx.Hash().Hex(),
			"error", err,
		)
		return nil, &UnconfirmedError{TxHash: signedTx.Hash(), Err: err}
	}

	if receipt.Status != types.ReceiptStatusSuccessful {
		s.logger.Sugar().Errorw("SignAndSendTransaction: transaction failed",
			"txHash", receipt.TxHash.Hex(),
			"status", receipt.Status,
			"gasUsed", receipt.GasUsed,
		)
		return receipt, fmt.Errorf("transaction %s failed with status %d", receipt.TxHash.Hex(), receipt.Status)
	}

	s.logger.Sugar().Infow("SignAndSendTransaction: transaction succeeded",
		"txHash", receipt.TxHash.Hex(),
		"gasUsed", receipt.GasUsed,
		"blockNumber", receipt.BlockNumber.Uint64(),
	)

	return receipt, nil
}

func (s *PrivateKeySigner) signAndSend(ctx context.Context, tx *types.Transaction) (*types.Transaction, error) {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()

	gasTipCap, maxFeePerGas, baseFee, err := s.suggestFees(ctx)
	if err != nil {
		return nil, err
	}

	gasLimit, err := s.ethClient.EstimateGas(ctx, ethereum.CallMsg{
		From:      s.fromAddress,
		To:        tx.To(),
		GasTipCap: gasTipCap,
		GasFeeCap: maxFeePerGas,
		Value:     tx.Value(),
		Data:      tx.Data(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to estimate gas: %w", err)
	}
	gasLimitWithBuffer := addGasBuffer(gasLimit)

	// Always fetch the nonce from the network, tx.Nonce() of 0 is ambiguous
	nonce, err := s.ethClient.PendingNonceAt(ctx, s.fromAddress)
	if err != nil {
		return nil, fmt.Errorf("failed to get nonce: %w", err)
	}

	unsigned := types.NewTx(&types.DynamicFeeTx{
		ChainID:   s.chainID,
		Nonce:     nonce,
		GasTipCap: gasTipCap,
		GasFeeCap: maxFeePerGas,
		Gas:       gasLimitWithBuffer,
		To:        tx.To(),
		Value:     tx.Value(),
		Data:      tx.Data(),
	})

	signedTx, err := types.SignTx(unsigned, types.LatestSignerForChainID(s.chainID), s.privateKey)
	if err != nil {
		return nil, fmt.Errorf("failed to sign transaction: %w", err)
	}

	s.logger.Sugar().Infow("SignAndSendTransaction: sending transaction",
		"to", tx.To().Hex(),
		"value", tx.Value().String(),
		"maxPriorityFeePerGas", gasTipCap.String(),
		"maxFeePerGas", maxFeePerGas.String(),
		"baseFee", baseFee.String(),
		"gasLimit", gasLimitWithBuffer,
		"nonce", nonce,
	)

	if err := s.ethClient.SendTransaction(ctx, signedTx); err != nil {
		// a send cut short by ctx may still have been accepted by the node
		if ctx.Err() != nil {
			return nil, &UnconfirmedError{TxHash: signedTx.Hash(), Err: err}
		}
		return nil, fmt.Errorf("failed to send transaction: %w", err)
	}

	s.logger.Sugar().Infow("SignAndSendTransaction: transaction sent", "txHash", signedTx.Hash().Hex())
	return signedTx, nil
}

// waitMined polls for the receipt until it exists or ctx is done
func (s *PrivateKeySigner) waitMined(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		receipt, err := s.ethClient.TransactionReceipt(ctx, txHash)
		if err == nil && receipt != nil {
			return receipt, nil
		}
		if err != nil && !errors.Is(err, ethereum.NotFound) {
			s.logger.Sugar().Debugw("Receipt not available yet", "txHash", txHash.Hex(), "error", err)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}
