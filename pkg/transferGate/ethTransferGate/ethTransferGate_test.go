package ethTransferGate

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	ethTypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient/simulated"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Layr-Labs/merkle-distributor-go/pkg/distributor"
	"github.com/Layr-Labs/merkle-distributor-go/pkg/logger"
	"github.com/Layr-Labs/merkle-distributor-go/pkg/merkle"
	"github.com/Layr-Labs/merkle-distributor-go/pkg/persistence/memory"
	"github.com/Layr-Labs/merkle-distributor-go/pkg/transactionSigner"
	"github.com/Layr-Labs/merkle-distributor-go/pkg/transferGate"
	"github.com/Layr-Labs/merkle-distributor-go/pkg/types"
)

type fakeSigner struct {
	from common.Address
	sent []*ethTypes.Transaction
	err  error
}

func (f *fakeSigner) SignAndSendTransaction(_ context.Context, tx *ethTypes.Transaction) (*ethTypes.Receipt, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.sent = append(f.sent, tx)
	return &ethTypes.Receipt{TxHash: common.HexToHash("0xabc"), Status: ethTypes.ReceiptStatusSuccessful}, nil
}

func (f *fakeSigner) GetFromAddress() common.Address { return f.from }

func (f *fakeSigner) EstimateGasPriceAndLimit(context.Context, *ethTypes.Transaction) (*big.Int, uint64, error) {
	return big.NewInt(1), 21000, nil
}

func TestTransfer_FakeSigner(t *testing.T) {
	l, err := logger.NewLogger(&logger.LoggerConfig{Debug: false})
	require.NoError(t, err)

	treasury := common.HexToAddress("0x7ea5")
	to := common.HexToAddress("0x0a")

	t.Run("sends value", func(t *testing.T) {
		s := &fakeSigner{from: treasury}
		g := NewEthTransferGate(s, l)
		assert.Equal(t, treasury, g.Treasury())

		receipt, err := g.Transfer(context.Background(), to, uint256.NewInt(100))
		require.NoError(t, err)
		require.Len(t, s.sent, 1)
		assert.Equal(t, &to, s.sent[0].To())
		assert.Equal(t, big.NewInt(100), s.sent[0].Value())
		require.NotNil(t, receipt.TxHash)
		assert.Equal(t, common.HexToHash("0xabc"), *receipt.TxHash)
		assert.Equal(t, treasury, receipt.From)
	})

	t.Run("zero amount sends nothing", func(t *testing.T) {
		s := &fakeSigner{from: treasury}
		g := NewEthTransferGate(s, l)
		receipt, err := g.Transfer(context.Background(), to, uint256.NewInt(0))
		require.NoError(t, err)
		assert.Empty(t, s.sent)
		assert.Nil(t, receipt.TxHash)
		assert.Equal(t, "0", receipt.Amount)
	})

	t.Run("signer failure", func(t *testing.T) {
		boom := errors.New("reverted")
		g := NewEthTransferGate(&fakeSigner{from: treasury, err: boom}, l)
		receipt, err := g.Transfer(context.Background(), to, uint256.NewInt(1))
		assert.ErrorIs(t, err, boom)
		assert.NotErrorIs(t, err, transferGate.ErrTransferPending)
		assert.Nil(t, receipt)
	})

	t.Run("unconfirmed send is pending", func(t *testing.T) {
		hash := common.HexToHash("0xdef")
		g := NewEthTransferGate(&fakeSigner{from: treasury, err: &transactionSigner.UnconfirmedError{
			TxHash: hash,
			Err:    context.DeadlineExceeded,
		}}, l)
		receipt, err := g.Transfer(context.Background(), to, uint256.NewInt(1))
		require.ErrorIs(t, err, transferGate.ErrTransferPending)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
		require.NotNil(t, receipt)
		require.NotNil(t, receipt.TxHash)
		assert.Equal(t, hash, *receipt.TxHash)
		assert.Contains(t, err.Error(), hash.Hex())
	})
}

func TestTransfer_SimulatedChain(t *testing.T) {
	l, err := logger.NewLogger(&logger.LoggerConfig{Debug: false})
	require.NoError(t, err)

	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	treasury := crypto.PubkeyToAddress(key.PublicKey)

	backend := simulated.NewBackend(ethTypes.GenesisAlloc{
		treasury: {Balance: new(big.Int).Exp(big.NewInt(10), big.NewInt(19), nil)},
	})
	defer func() { _ = backend.Close() }()

	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(20 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				backend.Commit()
			}
		}
	}()
	defer func() {
		close(done)
		wg.Wait()
	}()

	signer, err := transactionSigner.NewPrivateKeySigner(key, backend.Client(), l)
	require.NoError(t, err)
	signer.WithPollInterval(10 * time.Millisecond)

	g := NewEthTransferGate(signer, l)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	to := common.HexToAddress("0x00000000000000000000000000000000000000b2")
	receipt, err := g.Transfer(ctx, to, uint256.NewInt(200))
	require.NoError(t, err)
	require.NotNil(t, receipt.TxHash)

	balance, err := backend.Client().BalanceAt(ctx, to, nil)
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(200), balance)
}

func TestTransfer_UnconfirmedClaimIsNotPaidTwice(t *testing.T) {
	l, err := logger.NewLogger(&logger.LoggerConfig{Debug: false})
	require.NoError(t, err)

	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	treasury := crypto.PubkeyToAddress(key.PublicKey)

	// no automatic mining: the claim's transaction sits in the pool
	backend := simulated.NewBackend(ethTypes.GenesisAlloc{
		treasury: {Balance: new(big.Int).Exp(big.NewInt(10), big.NewInt(19), nil)},
	})
	defer func() { _ = backend.Close() }()
	client := backend.Client()

	signer, err := transactionSigner.NewPrivateKeySigner(key, client, l)
	require.NoError(t, err)
	signer.WithPollInterval(10 * time.Millisecond).WithConfirmTimeout(200 * time.Millisecond)

	authority := common.HexToAddress("0x000000000000000000000000000000000000a001")
	owner := common.HexToAddress("0x000000000000000000000000000000000000b001")
	alice := common.HexToAddress("0x00000000000000000000000000000000000000a1")
	bob := common.HexToAddress("0x00000000000000000000000000000000000000b2")

	tree, err := merkle.BuildMerkleTree([]*types.Allocation{
		types.NewAllocation(alice, 100),
		types.NewAllocation(bob, 200),
	})
	require.NoError(t, err)
	proof, err := tree.ProofFor(bob)
	require.NoError(t, err)

	d, err := distributor.NewDistributor(&distributor.Config{
		Authority: authority,
		Owner:     owner,
		Clock:     distributor.NewManualClock(time.Now()),
	}, NewEthTransferGate(signer, l), memory.NewMemoryPersistence(), nil, l)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	_, err = d.OpenDistribution(ctx, authority, tree.Root, uint256.NewInt(300))
	require.NoError(t, err)

	_, receipt, err := d.Claim(ctx, bob, uint256.NewInt(200), proof.Proof)
	require.ErrorIs(t, err, distributor.ErrTransferPending)
	require.NotNil(t, receipt)
	require.NotNil(t, receipt.TxHash)
	assert.True(t, d.Claimed(bob))

	backend.Commit()
	mined, err := client.TransactionReceipt(ctx, *receipt.TxHash)
	require.NoError(t, err)
	assert.Equal(t, ethTypes.ReceiptStatusSuccessful, mined.Status)

	_, _, err = d.Claim(ctx, bob, uint256.NewInt(200), proof.Proof)
	require.ErrorIs(t, err, distributor.ErrAlreadyClaimed)

	backend.Commit()
	balance, err := client.BalanceAt(ctx, bob, nil)
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(200), balance)
}
