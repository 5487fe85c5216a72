package main

import (
	"encoding/json"
	"fmt"
	"log"
	"os"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/holiman/uint256"
	"github.com/urfave/cli/v2"

	"github.com/Layr-Labs/merkle-distributor-go/pkg/bundle"
	"github.com/Layr-Labs/merkle-distributor-go/pkg/client"
	"github.com/Layr-Labs/merkle-distributor-go/pkg/config"
	"github.com/Layr-Labs/merkle-distributor-go/pkg/logger"
	"github.com/Layr-Labs/merkle-distributor-go/pkg/transactionSigner"
	"github.com/Layr-Labs/merkle-distributor-go/pkg/transportSigner/inMemoryTransportSigner"
	"github.com/Layr-Labs/merkle-distributor-go/pkg/types"
)

func main() {
	bundleFlag := &cli.StringFlag{Name: "bundle", Aliases: []string{"b"}, Usage: "Proof bundle produced by merkle-tool"}

	app := &cli.App{
		Name:  "distributor-client",
		Usage: "Client for a merkle distributor server",
		Description: `Signs and sends requests to a distributor server.

Mutating commands need --private-key; the recovered signer address is the
caller the server authorizes against.`,
		Version: "1.0.0",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "url",
				Usage:   "Distributor server URL",
				Value:   "http://localhost:8000",
				EnvVars: []string{config.EnvDistributorURL},
			},
			&cli.StringFlag{
				Name:    "private-key",
				Usage:   "Hex secp256k1 key used to sign requests",
				EnvVars: []string{config.EnvDistributorPrivateKey},
			},
			&cli.BoolFlag{
				Name:  "verbose",
				Usage: "Enable verbose logging",
			},
		},
		Commands: []*cli.Command{
			{
				Name:  "open",
				Usage: "Open the distribution (authority)",
				Flags: []cli.Flag{
					bundleFlag,
					&cli.StringFlag{Name: "root", Usage: "Merkle root, taken from --bundle when omitted"},
					&cli.StringFlag{Name: "value", Usage: "Deposit in base units, taken from --bundle when omitted"},
				},
				Action: openCommand,
			},
			{
				Name:  "claim",
				Usage: "Claim the signer's allocation",
				Flags: []cli.Flag{
					bundleFlag,
				},
				Action: claimCommand,
			},
			{
				Name:   "withdraw",
				Usage:  "Withdraw the unclaimed remainder after expiry (authority)",
				Action: withdrawCommand,
			},
			{
				Name:   "pause",
				Usage:  "Pause claiming (owner)",
				Action: pauseCommand,
			},
			{
				Name:   "unpause",
				Usage:  "Resume claiming (owner)",
				Action: unpauseCommand,
			},
			{
				Name:  "transfer-ownership",
				Usage: "Hand the owner role to another address (owner)",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "new-owner", Required: true},
				},
				Action: transferOwnershipCommand,
			},
			{
				Name:   "status",
				Usage:  "Show distribution status",
				Action: statusCommand,
			},
			{
				Name:  "claimed",
				Usage: "Check whether a recipient has claimed",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "recipient", Required: true},
				},
				Action: claimedCommand,
			},
			{
				Name:  "events",
				Usage: "List events recorded by the server",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "type", Usage: "Only events of this type"},
				},
				Action: eventsCommand,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatalf("Application error: %v", err)
	}
}

func newClient(c *cli.Context) (*client.DistributorClient, error) {
	l, err := logger.NewLogger(&logger.LoggerConfig{Debug: c.Bool("verbose")})
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	cfg := &client.ClientConfig{
		BaseURL: c.String("url"),
		Logger:  l,
	}
	if raw := c.String("private-key"); raw != "" {
		key, err := transactionSigner.ParsePrivateKey(raw)
		if err != nil {
			return nil, err
		}
		cfg.Signer = inMemoryTransportSigner.NewInMemoryTransportSigner(key, l)
	}
	return client.NewDistributorClient(cfg)
}

func printJSON(v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

func openCommand(c *cli.Context) error {
	dc, err := newClient(c)
	if err != nil {
		return err
	}

	var root common.Hash
	var value *uint256.Int
	if path := c.String("bundle"); path != "" {
		b, err := bundle.ReadFile(path)
		if err != nil {
			return err
		}
		root = b.Root
		if value, err = uint256.FromDecimal(b.TotalAmount); err != nil {
			return fmt.Errorf("bundle total %q is invalid: %w", b.TotalAmount, err)
		}
	}
	if raw := c.String("root"); raw != "" {
		if root, err = parseHash(raw); err != nil {
			return err
		}
	}
	if raw := c.String("value"); raw != "" {
		if value, err = uint256.FromDecimal(raw); err != nil {
			return fmt.Errorf("invalid value %q: %w", raw, err)
		}
	}
	if value == nil {
		return fmt.Errorf("either --bundle or --value is required")
	}

	resp, err := dc.OpenDistribution(c.Context, root, value)
	if err != nil {
		return err
	}
	return printJSON(resp)
}

func parseHash(raw string) (common.Hash, error) {
	b, err := hexutil.Decode(raw)
	if err != nil || len(b) != common.HashLength {
		return common.Hash{}, fmt.Errorf("invalid root %q: expected 32 byte hex", raw)
	}
	return common.BytesToHash(b), nil
}

func claimCommand(c *cli.Context) error {
	dc, err := newClient(c)
	if err != nil {
		return err
	}
	path := c.String("bundle")
	if path == "" {
		return fmt.Errorf("--bundle is required")
	}
	b, err := bundle.ReadFile(path)
	if err != nil {
		return err
	}

	resp, err := dc.ClaimFromBundle(c.Context, b)
	if err != nil {
		return err
	}
	return printJSON(resp)
}

func withdrawCommand(c *cli.Context) error {
	dc, err := newClient(c)
	if err != nil {
		return err
	}
	resp, err := dc.WithdrawRemaining(c.Context)
	if err != nil {
		return err
	}
	return printJSON(resp)
}

func pauseCommand(c *cli.Context) error {
	dc, err := newClient(c)
	if err != nil {
		return err
	}
	resp, err := dc.Pause(c.Context)
	if err != nil {
		return err
	}
	return printJSON(resp)
}

func unpauseCommand(c *cli.Context) error {
	dc, err := newClient(c)
	if err != nil {
		return err
	}
	resp, err := dc.Unpause(c.Context)
	if err != nil {
		return err
	}
	return printJSON(resp)
}

func transferOwnershipCommand(c *cli.Context) error {
	dc, err := newClient(c)
	if err != nil {
		return err
	}
	raw := c.String("new-owner")
	if !common.IsHexAddress(raw) {
		return fmt.Errorf("invalid new owner %q", raw)
	}
	resp, err := dc.TransferOwnership(c.Context, common.HexToAddress(raw))
	if err != nil {
		return err
	}
	return printJSON(resp)
}

func statusCommand(c *cli.Context) error {
	dc, err := newClient(c)
	if err != nil {
		return err
	}
	status, err := dc.Status(c.Context)
	if err != nil {
		return err
	}
	return printJSON(status)
}

func claimedCommand(c *cli.Context) error {
	dc, err := newClient(c)
	if err != nil {
		return err
	}
	raw := c.String("recipient")
	if !common.IsHexAddress(raw) {
		return fmt.Errorf("invalid recipient %q", raw)
	}
	claimed, err := dc.Claimed(c.Context, common.HexToAddress(raw))
	if err != nil {
		return err
	}
	fmt.Println(claimed)
	return nil
}

func eventsCommand(c *cli.Context) error {
	dc, err := newClient(c)
	if err != nil {
		return err
	}
	evs, err := dc.Events(c.Context, types.EventType(c.String("type")))
	if err != nil {
		return err
	}
	return printJSON(evs)
}
