package ethTransferGate

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	ethTypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/google/uuid"
	"github.com/holiman/uint256"
	"go.uber.org/zap"

	"github.com/Layr-Labs/merkle-distributor-go/pkg/transactionSigner"
	"github.com/Layr-Labs/merkle-distributor-go/pkg/transferGate"
	"github.com/Layr-Labs/merkle-distributor-go/pkg/types"
)

var _ transferGate.ITransferGate = (*EthTransferGate)(nil)

// EthTransferGate pays out native value from a treasury account. The
// treasury is the signer's address and must be funded out of band.
type EthTransferGate struct {
	signer transactionSigner.ITransactionSigner
	logger *zap.Logger
}

func NewEthTransferGate(signer transactionSigner.ITransactionSigner, logger *zap.Logger) *EthTransferGate {
	return &EthTransferGate{
		signer: signer,
		logger: logger,
	}
}

// Treasury returns the account value is paid from
func (g *EthTransferGate) Treasury() common.Address {
	return g.signer.GetFromAddress()
}

// Transfer sends a plain value transaction and waits for it to succeed.
// A zero amount is settled without a transaction. A transaction that was sent
// but not confirmed is reported with ErrTransferPending and its receipt.
func (g *EthTransferGate) Transfer(ctx context.Context, to common.Address, amount *uint256.Int) (*types.TransferReceipt, error) {
	if amount == nil {
		return nil, fmt.Errorf("amount cannot be nil")
	}

	receipt := &types.TransferReceipt{
		ID:     uuid.New().String(),
		From:   g.signer.GetFromAddress(),
		To:     to,
		Amount: amount.Dec(),
	}

	if amount.IsZero() {
		g.logger.Sugar().Infow("Skipping zero value transfer", "id", receipt.ID, "to", to.Hex())
		return receipt, nil
	}

	tx := ethTypes.NewTx(&ethTypes.DynamicFeeTx{
		To:    &to,
		Value: amount.ToBig(),
	})

	txReceipt, err := g.signer.SignAndSendTransaction(ctx, tx)
	var unconfirmed *transactionSigner.UnconfirmedError
	if errors.As(err, &unconfirmed) {
		txHash := unconfirmed.TxHash
		receipt.TxHash = &txHash
		g.logger.Sugar().Warnw("Native transfer pending",
			"id", receipt.ID,
			"to", to.Hex(),
			"amount", receipt.Amount,
			"txHash", txHash.Hex(),
			"error", err,
		)
		return receipt, fmt.Errorf("%w: native transfer to %s in tx %s: %w", transferGate.ErrTransferPending, to.Hex(), txHash.Hex(), err)
	}
	if err != nil {
		return nil, fmt.Errorf("native transfer to %s failed: %w", to.Hex(), err)
	}

	txHash := txReceipt.TxHash
	receipt.TxHash = &txHash

	g.logger.Sugar().Infow("Native transfer settled",
		"id", receipt.ID,
		"to", to.Hex(),
		"amount", receipt.Amount,
		"txHash", txHash.Hex(),
	)
	return receipt, nil
}
