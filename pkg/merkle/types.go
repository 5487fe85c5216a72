package merkle

import "github.com/ethereum/go-ethereum/common"

// MerkleTree represents a binary merkle tree built from allocations.
// The tree uses keccak256 hashing with sorted-pair combination so proofs
// verify the same way OpenZeppelin's MerkleProof library does.
type MerkleTree struct {
	// Leaves contains the leaf hashes sorted ascending by bytes
	Leaves []common.Hash

	// Root is the merkle root hash
	Root common.Hash

	// levels stores all tree levels for proof generation
	// levels[0] = leaves, levels[len-1] = root
	levels [][]common.Hash

	// leafIndex maps a recipient to the index of its leaf in Leaves
	leafIndex map[common.Address]int
}

// MerkleProof represents a proof that a leaf is included in the tree.
// Sibling orientation is not recorded because pairs are combined in sorted order.
type MerkleProof struct {
	// LeafIndex is the index of the leaf in the sorted leaves array
	LeafIndex int

	// Leaf is the hash of the allocation being proven
	Leaf common.Hash

	// Proof contains the sibling hashes from leaf to root
	// proof[0] is the sibling of the leaf, proof[len-1] is a child of the root
	Proof []common.Hash
}
