// Package bundle produces the proof bundle published for recipients: the root,
// totals, and every recipient's amount and proof.
package bundle

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/pkg/errors"

	"github.com/Layr-Labs/merkle-distributor-go/pkg/merkle"
	"github.com/Layr-Labs/merkle-distributor-go/pkg/types"
)

var ErrRecipientNotFound = errors.New("recipient not in bundle")

// Generate builds the merkle tree over allocations and a bundle with the
// proof of every recipient
func Generate(allocations []*types.Allocation) (*types.ProofBundle, *merkle.MerkleTree, error) {
	tree, err := merkle.BuildMerkleTree(allocations)
	if err != nil {
		return nil, nil, errors.Wrap(err, "failed to build merkle tree")
	}

	total := new(uint256.Int)
	claims := make(map[string]*types.ClaimEntry, len(allocations))
	for _, a := range allocations {
		var overflow bool
		total, overflow = new(uint256.Int).AddOverflow(total, a.Amount)
		if overflow {
			return nil, nil, fmt.Errorf("total allocation overflows uint256")
		}

		proof, err := tree.ProofFor(a.Recipient)
		if err != nil {
			return nil, nil, errors.Wrapf(err, "failed to generate proof for %s", a.Recipient.Hex())
		}
		claims[a.Recipient.Hex()] = &types.ClaimEntry{
			Amount: a.Amount.Dec(),
			Proof:  proof.Proof,
		}
	}

	return &types.ProofBundle{
		Root:           tree.Root,
		TotalAmount:    total.Dec(),
		TotalClaimants: len(claims),
		Claims:         claims,
	}, tree, nil
}

// WriteFile writes the bundle as indented JSON
func WriteFile(path string, b *types.ProofBundle) error {
	if b == nil {
		return fmt.Errorf("bundle cannot be nil")
	}
	data, err := json.MarshalIndent(b, "", "  ")
	if err != nil {
		return errors.Wrap(err, "failed to marshal bundle")
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return errors.Wrapf(err, "failed to write bundle to %s", path)
	}
	return nil
}

// ReadFile reads a bundle written by WriteFile
func ReadFile(path string) (*types.ProofBundle, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read bundle %s", path)
	}
	var b types.ProofBundle
	if err := json.Unmarshal(data, &b); err != nil {
		return nil, errors.Wrapf(err, "failed to parse bundle %s", path)
	}
	if b.Claims == nil {
		b.Claims = make(map[string]*types.ClaimEntry)
	}
	return &b, nil
}

// Lookup returns the amount and proof for recipient. Keys are matched
// case-insensitively so hand-edited bundles still resolve.
func Lookup(b *types.ProofBundle, recipient common.Address) (*uint256.Int, []common.Hash, error) {
	entry, ok := b.Claims[recipient.Hex()]
	if !ok {
		for key, e := range b.Claims {
			if strings.EqualFold(key, recipient.Hex()) {
				entry, ok = e, true
				break
			}
		}
	}
	if !ok || entry == nil {
		return nil, nil, fmt.Errorf("%w: %s", ErrRecipientNotFound, recipient.Hex())
	}

	amount, err := uint256.FromDecimal(entry.Amount)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid amount %q for %s: %w", entry.Amount, recipient.Hex(), err)
	}
	return amount, entry.Proof, nil
}

// Validate checks every entry verifies against the root and that the totals
// match the entries
func Validate(b *types.ProofBundle) error {
	if b == nil {
		return fmt.Errorf("bundle cannot be nil")
	}
	if len(b.Claims) != b.TotalClaimants {
		return fmt.Errorf("bundle lists %d claims but totalClaimants is %d", len(b.Claims), b.TotalClaimants)
	}

	total := new(uint256.Int)
	for key, entry := range b.Claims {
		if !common.IsHexAddress(key) {
			return fmt.Errorf("claim key %q is not an address", key)
		}
		if entry == nil {
			return fmt.Errorf("claim for %s is empty", key)
		}
		amount, err := uint256.FromDecimal(entry.Amount)
		if err != nil {
			return fmt.Errorf("invalid amount %q for %s: %w", entry.Amount, key, err)
		}
		if !merkle.VerifyProof(common.HexToAddress(key), amount, entry.Proof, b.Root) {
			return fmt.Errorf("proof for %s does not verify against root %s", key, b.Root.Hex())
		}
		var overflow bool
		total, overflow = new(uint256.Int).AddOverflow(total, amount)
		if overflow {
			return fmt.Errorf("total allocation overflows uint256")
		}
	}

	if total.Dec() != b.TotalAmount {
		return fmt.Errorf("claims sum to %s but totalAmount is %s", total.Dec(), b.TotalAmount)
	}
	return nil
}
