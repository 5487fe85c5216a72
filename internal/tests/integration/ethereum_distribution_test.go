package integration

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Layr-Labs/merkle-distributor-go/internal/tests"
	"github.com/Layr-Labs/merkle-distributor-go/pkg/bundle"
	"github.com/Layr-Labs/merkle-distributor-go/pkg/client"
	"github.com/Layr-Labs/merkle-distributor-go/pkg/distributor"
	"github.com/Layr-Labs/merkle-distributor-go/pkg/events"
	"github.com/Layr-Labs/merkle-distributor-go/pkg/logger"
	"github.com/Layr-Labs/merkle-distributor-go/pkg/node"
	"github.com/Layr-Labs/merkle-distributor-go/pkg/persistence/badger"
	"github.com/Layr-Labs/merkle-distributor-go/pkg/transactionSigner"
	"github.com/Layr-Labs/merkle-distributor-go/pkg/transferGate/ethTransferGate"
	"github.com/Layr-Labs/merkle-distributor-go/pkg/transportSigner/inMemoryTransportSigner"
	"github.com/Layr-Labs/merkle-distributor-go/pkg/types"
)

// Test_EthereumDistribution runs a full round against a local anvil chain:
// claims pay real ETH out of the treasury and the remainder goes back to the
// authority after expiry.
func Test_EthereumDistribution(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping end-to-end integration test in short mode")
	}
	anvil := tests.StartDevnetAnvil(t, "18545")

	l, err := logger.NewLogger(&logger.LoggerConfig{Debug: false})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	ethClient, err := ethclient.DialContext(ctx, anvil.RpcUrl())
	require.NoError(t, err)
	defer ethClient.Close()

	signer, err := transactionSigner.NewTransactionSigner(&transactionSigner.SignerConfig{
		PrivateKey: tests.AnvilTreasuryPrivateKey,
	}, ethClient, l)
	require.NoError(t, err)
	gate := ethTransferGate.NewEthTransferGate(signer, l)

	newSigner := func() *inMemoryTransportSigner.InMemoryTransportSigner {
		key, err := crypto.GenerateKey()
		require.NoError(t, err)
		return inMemoryTransportSigner.NewInMemoryTransportSigner(key, l)
	}
	authority := newSigner()
	owner := newSigner()
	alice := newSigner()
	bob := newSigner()

	gwei := uint256.NewInt(1_000_000_000)
	aliceAmount := new(uint256.Int).Mul(uint256.NewInt(3_000_000), gwei)
	bobAmount := new(uint256.Int).Mul(uint256.NewInt(5_000_000), gwei)

	b, tree, err := bundle.Generate([]*types.Allocation{
		{Recipient: alice.Address(), Amount: aliceAmount},
		{Recipient: bob.Address(), Amount: bobAmount},
	})
	require.NoError(t, err)
	require.NoError(t, bundle.Validate(b))

	store, err := badger.NewBadgerPersistence(t.TempDir(), l)
	require.NoError(t, err)
	defer func() { _ = store.Close() }()

	clock := distributor.NewManualClock(time.Now())
	recorder := events.NewRecorder()
	d, err := distributor.NewDistributor(&distributor.Config{
		Authority:   authority.Address(),
		Owner:       owner.Address(),
		ClaimWindow: time.Hour,
		Clock:       clock,
	}, gate, store, events.MultiSink{recorder, events.NewLoggerSink(l)}, l)
	require.NoError(t, err)

	n := node.NewNode(node.Config{Clock: clock, HealthCheck: store.HealthCheck, Logger: l}, d, recorder)
	srv := httptest.NewServer(n.GetServer().GetHandler())
	defer srv.Close()

	clientFor := func(s *inMemoryTransportSigner.InMemoryTransportSigner) *client.DistributorClient {
		c, err := client.NewDistributorClient(&client.ClientConfig{BaseURL: srv.URL, Signer: s, Logger: l})
		require.NoError(t, err)
		return c
	}

	total, err := uint256.FromDecimal(b.TotalAmount)
	require.NoError(t, err)
	_, err = clientFor(authority).OpenDistribution(ctx, tree.Root, total)
	require.NoError(t, err)

	resp, err := clientFor(alice).ClaimFromBundle(ctx, b)
	require.NoError(t, err)
	require.NotNil(t, resp.Receipt)
	require.NotNil(t, resp.Receipt.TxHash)
	assert.Equal(t, signer.GetFromAddress(), resp.Receipt.From)

	balance, err := ethClient.BalanceAt(ctx, alice.Address(), nil)
	require.NoError(t, err)
	assert.Equal(t, 0, balance.Cmp(aliceAmount.ToBig()))

	_, err = clientFor(alice).ClaimFromBundle(ctx, b)
	require.Error(t, err)
	assert.True(t, client.IsCode(err, string(distributor.CodeAlreadyClaimed)))

	clock.Advance(time.Hour)
	_, err = clientFor(bob).ClaimFromBundle(ctx, b)
	require.Error(t, err)
	assert.True(t, client.IsCode(err, string(distributor.CodeExpired)))

	// signatures are checked against the node clock, which is now an hour ahead
	admin, err := client.NewDistributorClient(&client.ClientConfig{
		BaseURL: srv.URL,
		Signer:  authority,
		Logger:  l,
		Clock:   clock.Now,
	})
	require.NoError(t, err)

	before, err := ethClient.BalanceAt(ctx, authority.Address(), nil)
	require.NoError(t, err)
	require.Equal(t, 0, before.Sign())

	resp, err = admin.WithdrawRemaining(ctx)
	require.NoError(t, err)
	assert.Equal(t, bobAmount.Dec(), resp.Event.Amount)

	after, err := ethClient.BalanceAt(ctx, authority.Address(), nil)
	require.NoError(t, err)
	assert.Equal(t, 0, after.Cmp(bobAmount.ToBig()))

	status, err := admin.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, "0", status.Balance)
	assert.False(t, status.WindowActive)
	assert.Len(t, recorder.Filter(types.EventClaimed), 1)
}
