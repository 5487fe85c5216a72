package merkle

import (
	"bytes"
	"fmt"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"

	"github.com/Layr-Labs/merkle-distributor-go/pkg/types"
)

// encodedAllocationLength is the size of abi.encode(address, uint256)
const encodedAllocationLength = 64

// BuildMerkleTree creates a binary merkle tree from allocations.
// Leaves are sorted by hash before the tree is built, so the root and every
// proof only depend on the set of allocations, never on their input order.
//
// If there's an odd number of nodes at any level, the last node is paired
// with itself. VerifyProof relies on the same rule: the proof for such a node
// carries the node itself as the sibling for that level.
func BuildMerkleTree(allocations []*types.Allocation) (*MerkleTree, error) {
	if len(allocations) == 0 {
		return nil, fmt.Errorf("cannot build merkle tree from empty allocation list")
	}

	hashed := make([]hashedAllocation, 0, len(allocations))
	seen := make(map[common.Address]struct{}, len(allocations))
	for i, alloc := range allocations {
		if alloc == nil || alloc.Amount == nil {
			return nil, fmt.Errorf("allocation %d is missing an amount", i)
		}
		if _, ok := seen[alloc.Recipient]; ok {
			return nil, fmt.Errorf("duplicate recipient %s", alloc.Recipient.Hex())
		}
		seen[alloc.Recipient] = struct{}{}
		hashed = append(hashed, hashedAllocation{
			recipient: alloc.Recipient,
			leaf:      HashAllocation(alloc.Recipient, alloc.Amount),
		})
	}

	sort.Slice(hashed, func(i, j int) bool {
		return bytes.Compare(hashed[i].leaf[:], hashed[j].leaf[:]) < 0
	})

	leaves := make([]common.Hash, len(hashed))
	leafIndex := make(map[common.Address]int, len(hashed))
	for i, h := range hashed {
		leaves[i] = h.leaf
		leafIndex[h.recipient] = i
	}

	// Build tree levels bottom-up
	levels := make([][]common.Hash, 0)
	levels = append(levels, leaves)

	currentLevel := leaves
	for len(currentLevel) > 1 {
		nextLevel := make([]common.Hash, 0, (len(currentLevel)+1)/2)

		for i := 0; i < len(currentLevel); i += 2 {
			left := currentLevel[i]
			right := left
			if i+1 < len(currentLevel) {
				right = currentLevel[i+1]
			}
			nextLevel = append(nextLevel, hashPair(left, right))
		}

		levels = append(levels, nextLevel)
		currentLevel = nextLevel
	}

	if len(currentLevel) != 1 {
		return nil, fmt.Errorf("merkle tree construction failed: final level has %d nodes instead of 1", len(currentLevel))
	}

	return &MerkleTree{
		Leaves:    leaves,
		Root:      currentLevel[0],
		levels:    levels,
		leafIndex: leafIndex,
	}, nil
}

type hashedAllocation struct {
	recipient common.Address
	leaf      common.Hash
}

// GenerateProof creates a merkle proof for the leaf at the given index.
// The proof consists of sibling hashes along the path from leaf to root.
func (mt *MerkleTree) GenerateProof(leafIndex int) (*MerkleProof, error) {
	if leafIndex < 0 || leafIndex >= len(mt.Leaves) {
		return nil, fmt.Errorf("leaf index %d out of bounds (tree has %d leaves)", leafIndex, len(mt.Leaves))
	}

	proof := make([]common.Hash, 0, len(mt.levels)-1)
	index := leafIndex

	for level := 0; level < len(mt.levels)-1; level++ {
		currentLevel := mt.levels[level]

		siblingIndex := index ^ 1
		// Unpaired last node is combined with itself
		if siblingIndex >= len(currentLevel) {
			siblingIndex = index
		}

		proof = append(proof, currentLevel[siblingIndex])
		index = index / 2
	}

	return &MerkleProof{
		LeafIndex: leafIndex,
		Leaf:      mt.Leaves[leafIndex],
		Proof:     proof,
	}, nil
}

// ProofFor returns the proof for a recipient's allocation
func (mt *MerkleTree) ProofFor(recipient common.Address) (*MerkleProof, error) {
	index, ok := mt.leafIndex[recipient]
	if !ok {
		return nil, fmt.Errorf("recipient %s is not part of the tree", recipient.Hex())
	}
	return mt.GenerateProof(index)
}

// Contains reports whether the recipient has a leaf in the tree
func (mt *MerkleTree) Contains(recipient common.Address) bool {
	_, ok := mt.leafIndex[recipient]
	return ok
}

// VerifyProof checks that (recipient, amount) is committed to by root.
// The leaf is recomputed from the allocation, so a proof can't be replayed
// for a different amount or recipient.
func VerifyProof(recipient common.Address, amount *uint256.Int, proof []common.Hash, root common.Hash) bool {
	if amount == nil {
		return false
	}
	leaf := HashAllocation(recipient, amount)
	return ProcessProof(leaf, proof) == root
}

// VerifyMerkleProof checks a proof produced by GenerateProof against root
func VerifyMerkleProof(proof *MerkleProof, root common.Hash) bool {
	if proof == nil {
		return false
	}
	return ProcessProof(proof.Leaf, proof.Proof) == root
}

// ProcessProof folds the proof left to right starting from leaf and returns
// the resulting root candidate.
func ProcessProof(leaf common.Hash, proof []common.Hash) common.Hash {
	computed := leaf
	for _, sibling := range proof {
		computed = hashPair(computed, sibling)
	}
	return computed
}

// EncodeAllocation returns abi.encode(address, uint256) for an allocation:
// the address left-padded to 32 bytes followed by the big-endian amount.
func EncodeAllocation(recipient common.Address, amount *uint256.Int) []byte {
	data := make([]byte, encodedAllocationLength)
	copy(data[12:32], recipient.Bytes())
	amountBytes := amount.Bytes32()
	copy(data[32:64], amountBytes[:])
	return data
}

// HashAllocation computes the leaf for an allocation:
// keccak256(bytes.concat(keccak256(abi.encode(recipient, amount))))
//
// Hashing twice keeps leaves (hash of 32 bytes) from ever colliding with
// internal nodes (hash of 64 bytes).
func HashAllocation(recipient common.Address, amount *uint256.Int) common.Hash {
	inner := crypto.Keccak256(EncodeAllocation(recipient, amount))
	return crypto.Keccak256Hash(inner)
}

// hashPair computes keccak256 over the two hashes concatenated in ascending
// byte order, so hashPair(a, b) == hashPair(b, a).
func hashPair(a, b common.Hash) common.Hash {
	var buf [64]byte
	if bytes.Compare(a[:], b[:]) <= 0 {
		copy(buf[0:32], a[:])
		copy(buf[32:64], b[:])
	} else {
		copy(buf[0:32], b[:])
		copy(buf[32:64], a[:])
	}
	return crypto.Keccak256Hash(buf[:])
}
