package main

import (
	"encoding/json"
	"fmt"
	"log"
	"os"

	"github.com/ethereum/go-ethereum/common"
	"github.com/urfave/cli/v2"

	"github.com/Layr-Labs/merkle-distributor-go/pkg/allocations"
	"github.com/Layr-Labs/merkle-distributor-go/pkg/bundle"
	"github.com/Layr-Labs/merkle-distributor-go/pkg/merkle"
	"github.com/Layr-Labs/merkle-distributor-go/pkg/types"
)

var csvFlags = []cli.Flag{
	&cli.StringFlag{
		Name:     "input",
		Aliases:  []string{"i"},
		Usage:    "CSV file with a header row",
		Required: true,
	},
	&cli.StringFlag{
		Name:  "recipient-column",
		Value: allocations.DefaultRecipientColumn,
	},
	&cli.StringFlag{
		Name:  "amount-column",
		Value: allocations.DefaultAmountColumn,
	},
	&cli.IntFlag{
		Name:  "decimals",
		Usage: "Decimals used to convert whole-unit amounts to base units, 0 when the CSV is already in base units",
		Value: allocations.DefaultDecimals,
	},
}

func main() {
	app := &cli.App{
		Name:  "merkle-tool",
		Usage: "Build and check merkle distribution proof bundles",
		Description: `Turns an allocations CSV into a merkle root and a JSON proof bundle.

Leaves are keccak256(keccak256(abi.encode(address, uint256))), sorted, and
paired with sorted hashing, so proofs verify against the same root on chain.`,
		Version: "1.0.0",
		Commands: []*cli.Command{
			{
				Name:   "generate",
				Usage:  "Build a proof bundle from a CSV",
				Flags:  append(csvFlags, &cli.StringFlag{Name: "output", Aliases: []string{"o"}, Value: "bundle.json"}),
				Action: generateCommand,
			},
			{
				Name:   "root",
				Usage:  "Print the merkle root of a CSV",
				Flags:  csvFlags,
				Action: rootCommand,
			},
			{
				Name:  "verify",
				Usage: "Check every proof in a bundle, or a single recipient's",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "bundle", Aliases: []string{"b"}, Required: true},
					&cli.StringFlag{Name: "recipient", Usage: "Only verify this recipient"},
				},
				Action: verifyCommand,
			},
			{
				Name:  "proof",
				Usage: "Print a recipient's amount and proof from a bundle",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "bundle", Aliases: []string{"b"}, Required: true},
					&cli.StringFlag{Name: "recipient", Required: true},
				},
				Action: proofCommand,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatalf("Application error: %v", err)
	}
}

func readAllocations(c *cli.Context) ([]*types.Allocation, error) {
	return allocations.ParseFile(c.String("input"), &allocations.Options{
		RecipientColumn: c.String("recipient-column"),
		AmountColumn:    c.String("amount-column"),
		Decimals:        c.Int("decimals"),
	})
}

func generateCommand(c *cli.Context) error {
	allocs, err := readAllocations(c)
	if err != nil {
		return err
	}

	b, _, err := bundle.Generate(allocs)
	if err != nil {
		return fmt.Errorf("failed to build bundle: %w", err)
	}
	if err := bundle.WriteFile(c.String("output"), b); err != nil {
		return err
	}

	fmt.Printf("Root:        %s\n", b.Root.Hex())
	fmt.Printf("Total:       %s\n", b.TotalAmount)
	fmt.Printf("Claimants:   %d\n", b.TotalClaimants)
	fmt.Printf("Bundle:      %s\n", c.String("output"))
	return nil
}

func rootCommand(c *cli.Context) error {
	allocs, err := readAllocations(c)
	if err != nil {
		return err
	}
	tree, err := merkle.BuildMerkleTree(allocs)
	if err != nil {
		return err
	}
	fmt.Println(tree.Root.Hex())
	return nil
}

func verifyCommand(c *cli.Context) error {
	b, err := bundle.ReadFile(c.String("bundle"))
	if err != nil {
		return err
	}

	if raw := c.String("recipient"); raw != "" {
		if !common.IsHexAddress(raw) {
			return fmt.Errorf("invalid recipient %q", raw)
		}
		recipient := common.HexToAddress(raw)
		amount, proof, err := bundle.Lookup(b, recipient)
		if err != nil {
			return err
		}
		if !merkle.VerifyProof(recipient, amount, proof, b.Root) {
			return fmt.Errorf("proof for %s does not verify against %s", recipient.Hex(), b.Root.Hex())
		}
		fmt.Printf("✓ %s may claim %s\n", recipient.Hex(), amount.Dec())
		return nil
	}

	if err := bundle.Validate(b); err != nil {
		return err
	}
	fmt.Printf("✓ %d proofs verify against %s\n", b.TotalClaimants, b.Root.Hex())
	return nil
}

func proofCommand(c *cli.Context) error {
	b, err := bundle.ReadFile(c.String("bundle"))
	if err != nil {
		return err
	}
	raw := c.String("recipient")
	if !common.IsHexAddress(raw) {
		return fmt.Errorf("invalid recipient %q", raw)
	}
	amount, proof, err := bundle.Lookup(b, common.HexToAddress(raw))
	if err != nil {
		return err
	}

	out, err := json.MarshalIndent(map[string]any{
		"recipient": common.HexToAddress(raw),
		"amount":    amount.Dec(),
		"proof":     proof,
	}, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}
