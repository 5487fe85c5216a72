package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/holiman/uint256"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/Layr-Labs/merkle-distributor-go/pkg/config"
	"github.com/Layr-Labs/merkle-distributor-go/pkg/distributor"
	"github.com/Layr-Labs/merkle-distributor-go/pkg/events"
	"github.com/Layr-Labs/merkle-distributor-go/pkg/logger"
	"github.com/Layr-Labs/merkle-distributor-go/pkg/node"
	"github.com/Layr-Labs/merkle-distributor-go/pkg/persistence"
	"github.com/Layr-Labs/merkle-distributor-go/pkg/persistence/badger"
	"github.com/Layr-Labs/merkle-distributor-go/pkg/persistence/memory"
	"github.com/Layr-Labs/merkle-distributor-go/pkg/persistence/redis"
	"github.com/Layr-Labs/merkle-distributor-go/pkg/transactionSigner"
	"github.com/Layr-Labs/merkle-distributor-go/pkg/transferGate"
	"github.com/Layr-Labs/merkle-distributor-go/pkg/transferGate/ethTransferGate"
	"github.com/Layr-Labs/merkle-distributor-go/pkg/transferGate/ledgerTransferGate"
)

// ledgerCustody holds deposited value when the in-process ledger gate is used
var ledgerCustody = common.BytesToAddress(crypto.Keccak256([]byte("merkle-distributor.custody")))

func main() {
	app := &cli.App{
		Name:  "distributor-server",
		Usage: "Merkle distributor claim server",
		Description: `Serves a single merkle distribution round over HTTP.

The authority opens the distribution with a merkle root and a deposit. Each
recipient in the tree may then claim its allocation once, by proof, until the
claim window closes. After expiry the authority withdraws what is left.`,
		Version: "1.0.0",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Value:   8000,
				Usage:   "HTTP server port",
				EnvVars: []string{config.EnvDistributorPort},
			},
			&cli.StringFlag{
				Name:     "authority-address",
				Aliases:  []string{"authority"},
				Usage:    "Address allowed to open the distribution and withdraw the remainder",
				EnvVars:  []string{config.EnvDistributorAuthorityAddress},
				Required: true,
			},
			&cli.StringFlag{
				Name:     "owner-address",
				Aliases:  []string{"owner"},
				Usage:    "Address allowed to pause claiming, distinct from the authority",
				EnvVars:  []string{config.EnvDistributorOwnerAddress},
				Required: true,
			},
			&cli.DurationFlag{
				Name:    "claim-window",
				Usage:   "Length of the claim window",
				Value:   config.DefaultClaimWindow,
				EnvVars: []string{config.EnvDistributorClaimWindow},
			},
			&cli.StringFlag{
				Name:    "transfer-gate",
				Usage:   "Value transfer backend: ledger or ethereum",
				Value:   string(config.TransferGateLedger),
				EnvVars: []string{config.EnvDistributorTransferGate},
			},
			&cli.StringFlag{
				Name:    "ledger-authority-balance",
				Usage:   "Base units credited to the authority on the ledger gate at startup",
				EnvVars: []string{config.EnvDistributorLedgerFunding},
			},
			&cli.Uint64Flag{
				Name:    "chain-id",
				Aliases: []string{"chain"},
				Usage:   fmt.Sprintf("Ethereum chain ID: %s", config.GetSupportedChainIDsString()),
				EnvVars: []string{config.EnvDistributorChainID},
			},
			&cli.StringFlag{
				Name:    "rpc-url",
				Aliases: []string{"rpc"},
				Usage:   "Ethereum RPC endpoint URL",
				Value:   "http://localhost:8545",
				EnvVars: []string{config.EnvDistributorRPCURL},
			},
			&cli.StringFlag{
				Name:    "treasury-private-key",
				Usage:   "Hex private key of the account that pays claims on the ethereum gate",
				EnvVars: []string{config.EnvDistributorTreasuryPrivateKey},
			},
			&cli.StringFlag{
				Name:    "persistence",
				Usage:   "State backend: memory, badger or redis",
				Value:   string(config.PersistenceBadger),
				EnvVars: []string{config.EnvDistributorPersistence},
			},
			&cli.StringFlag{
				Name:    "data-dir",
				Usage:   "Badger data directory",
				Value:   "./data",
				EnvVars: []string{config.EnvDistributorDataDir},
			},
			&cli.StringFlag{
				Name:    "redis-address",
				Usage:   "Redis host:port",
				EnvVars: []string{config.EnvDistributorRedisAddress},
			},
			&cli.StringFlag{
				Name:    "redis-password",
				EnvVars: []string{config.EnvDistributorRedisPassword},
			},
			&cli.IntFlag{
				Name:    "redis-db",
				EnvVars: []string{config.EnvDistributorRedisDB},
			},
			&cli.StringFlag{
				Name:    "redis-key-prefix",
				Usage:   "Prefix for every redis key, for sharing one database between rounds",
				EnvVars: []string{config.EnvDistributorRedisKeyPrefix},
			},
			&cli.Float64Flag{
				Name:    "rate-limit",
				Usage:   "Requests per second accepted by the HTTP server, 0 disables limiting",
				Value:   50,
				EnvVars: []string{config.EnvDistributorRateLimit},
			},
			&cli.IntFlag{
				Name:    "rate-burst",
				Value:   100,
				EnvVars: []string{config.EnvDistributorRateBurst},
			},
			&cli.BoolFlag{
				Name:    "verbose",
				Usage:   "Enable verbose logging",
				EnvVars: []string{config.EnvDistributorVerbose},
			},
		},
		Action: runDistributorServer,
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatalf("Application error: %v", err)
	}
}

func runDistributorServer(c *cli.Context) error {
	l, err := logger.NewLogger(&logger.LoggerConfig{Debug: c.Bool("verbose")})
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer func() { _ = l.Sync() }()

	cfg := parseServerConfig(c)
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	store, err := newPersistence(cfg, l)
	if err != nil {
		return fmt.Errorf("failed to open persistence: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			l.Sugar().Errorw("Failed to close persistence", "error", err)
		}
	}()

	gate, ledger, err := newTransferGate(c.Context, cfg, l)
	if err != nil {
		return fmt.Errorf("failed to create transfer gate: %w", err)
	}

	recorder := events.NewRecorder()
	sink := events.MultiSink{recorder, events.NewLoggerSink(l)}

	d, err := distributor.NewDistributor(&distributor.Config{
		Authority:   cfg.Authority(),
		Owner:       cfg.Owner(),
		ClaimWindow: cfg.ClaimWindow,
	}, gate, store, sink, l)
	if err != nil {
		return fmt.Errorf("failed to create distributor: %w", err)
	}

	// The ledger lives in memory, so custody is rebuilt from the restored balance
	if ledger != nil && d.Root() != nil {
		ledger.Credit(ledger.Custody(), d.Balance())
		l.Sugar().Infow("Restored ledger custody", "custody", ledger.Custody().Hex(), "balance", d.Balance().Dec())
	}

	n := node.NewNode(node.Config{
		Port:        cfg.Port,
		RateLimit:   cfg.RateLimit,
		RateBurst:   cfg.RateBurst,
		HealthCheck: store.HealthCheck,
		Logger:      l,
	}, d, recorder)

	if cfg.Verbose {
		l.Sugar().Infow("Distributor Server Configuration",
			"port", cfg.Port,
			"authority", cfg.AuthorityAddress,
			"owner", cfg.OwnerAddress,
			"claim_window", cfg.ClaimWindow.String(),
			"transfer_gate", cfg.TransferGate,
			"persistence", cfg.Persistence,
			"chain", cfg.ChainName,
			"rate_limit", cfg.RateLimit,
		)
	}

	if err := n.Start(); err != nil {
		return fmt.Errorf("failed to start node: %w", err)
	}

	l.Sugar().Infow("Distributor Server running", "port", cfg.Port, "status", d.Status())
	l.Sugar().Info("Press Ctrl+C to stop")

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	l.Sugar().Infow("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return n.Stop(shutdownCtx)
}

func parseServerConfig(c *cli.Context) *config.DistributorServerConfig {
	return &config.DistributorServerConfig{
		Port:                   c.Int("port"),
		AuthorityAddress:       c.String("authority-address"),
		OwnerAddress:           c.String("owner-address"),
		ClaimWindow:            c.Duration("claim-window"),
		TransferGate:           config.TransferGateType(c.String("transfer-gate")),
		LedgerAuthorityBalance: c.String("ledger-authority-balance"),
		ChainID:                config.ChainId(c.Uint64("chain-id")),
		RpcUrl:                 c.String("rpc-url"),
		TreasuryPrivateKey:     c.String("treasury-private-key"),
		Persistence:            config.PersistenceType(c.String("persistence")),
		DataDir:                c.String("data-dir"),
		RedisAddress:           c.String("redis-address"),
		RedisPassword:          c.String("redis-password"),
		RedisDB:                c.Int("redis-db"),
		RedisKeyPrefix:         c.String("redis-key-prefix"),
		RateLimit:              c.Float64("rate-limit"),
		RateBurst:              c.Int("rate-burst"),
		Debug:                  c.Bool("verbose"),
		Verbose:                c.Bool("verbose"),
	}
}

func newPersistence(cfg *config.DistributorServerConfig, l *zap.Logger) (persistence.IDistributionPersistence, error) {
	switch cfg.Persistence {
	case config.PersistenceMemory:
		l.Sugar().Warnw("Using in-memory persistence, state is lost on restart")
		return memory.NewMemoryPersistence(), nil
	case config.PersistenceBadger:
		return badger.NewBadgerPersistence(cfg.DataDir, l)
	case config.PersistenceRedis:
		return redis.NewRedisPersistence(&redis.RedisConfig{
			Address:   cfg.RedisAddress,
			Password:  cfg.RedisPassword,
			DB:        cfg.RedisDB,
			KeyPrefix: cfg.RedisKeyPrefix,
		}, l)
	}
	return nil, fmt.Errorf("unsupported persistence %q", cfg.Persistence)
}

// newTransferGate returns the configured gate, and the ledger gate itself when
// that is the one in use
func newTransferGate(ctx context.Context, cfg *config.DistributorServerConfig, l *zap.Logger) (transferGate.ITransferGate, *ledgerTransferGate.LedgerTransferGate, error) {
	switch cfg.TransferGate {
	case config.TransferGateLedger:
		ledger := ledgerTransferGate.NewLedgerTransferGate(ledgerCustody, l)
		if cfg.LedgerAuthorityBalance != "" {
			funding, err := uint256.FromDecimal(cfg.LedgerAuthorityBalance)
			if err != nil {
				return nil, nil, err
			}
			ledger.Credit(cfg.Authority(), funding)
		}
		return ledger, ledger, nil

	case config.TransferGateEthereum:
		client, err := ethclient.DialContext(ctx, cfg.RpcUrl)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to dial %s: %w", cfg.RpcUrl, err)
		}
		signer, err := transactionSigner.NewTransactionSigner(&transactionSigner.SignerConfig{
			PrivateKey: cfg.TreasuryPrivateKey,
		}, client, l)
		if err != nil {
			return nil, nil, err
		}
		gate := ethTransferGate.NewEthTransferGate(signer, l)
		l.Sugar().Infow("Using ethereum transfer gate", "chain", cfg.ChainName, "treasury", gate.Treasury().Hex())
		return gate, nil, nil
	}
	return nil, nil, fmt.Errorf("unsupported transfer gate %q", cfg.TransferGate)
}
