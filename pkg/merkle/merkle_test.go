package merkle

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"github.com/Layr-Labs/merkle-distributor-go/pkg/types"
)

// createTestAllocations creates n allocations with unique recipients
func createTestAllocations(n int) []*types.Allocation {
	allocs := make([]*types.Allocation, n)
	for i := 0; i < n; i++ {
		allocs[i] = types.NewAllocation(randomAddress(), uint64(100*(i+1)))
	}
	return allocs
}

func randomAddress() common.Address {
	var addr common.Address
	_, _ = rand.Read(addr[:])
	return addr
}

// TestBuildMerkleTree tests merkle tree construction with various numbers of allocations
func TestBuildMerkleTree(t *testing.T) {
	testCases := []struct {
		name      string
		numAllocs int
	}{
		{"Single allocation", 1},
		{"Two allocations", 2},
		{"Three allocations", 3},
		{"Four allocations (power of 2)", 4},
		{"Five allocations", 5},
		{"Seven allocations", 7},
		{"Eight allocations (power of 2)", 8},
		{"Fifteen allocations", 15},
		{"Sixteen allocations (power of 2)", 16},
		{"Seventeen allocations", 17},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			allocs := createTestAllocations(tc.numAllocs)
			tree, err := BuildMerkleTree(allocs)
			require.NoError(t, err)
			require.NotNil(t, tree)

			require.Equal(t, tc.numAllocs, len(tree.Leaves))
			require.NotEqual(t, common.Hash{}, tree.Root)

			// Every allocation verifies against its own root
			for _, alloc := range allocs {
				proof, err := tree.ProofFor(alloc.Recipient)
				require.NoError(t, err)
				require.Equal(t, HashAllocation(alloc.Recipient, alloc.Amount), proof.Leaf)
				require.True(t, VerifyMerkleProof(proof, tree.Root))
				require.True(t, VerifyProof(alloc.Recipient, alloc.Amount, proof.Proof, tree.Root),
					"proof for %s should be valid", alloc.Recipient.Hex())
			}
		})
	}
}

func TestBuildMerkleTreeSingleLeaf(t *testing.T) {
	alloc := types.NewAllocation(common.HexToAddress("0x1"), 42)
	tree, err := BuildMerkleTree([]*types.Allocation{alloc})
	require.NoError(t, err)

	require.Equal(t, HashAllocation(alloc.Recipient, alloc.Amount), tree.Root)

	proof, err := tree.GenerateProof(0)
	require.NoError(t, err)
	require.Empty(t, proof.Proof)
	require.True(t, VerifyProof(alloc.Recipient, alloc.Amount, proof.Proof, tree.Root))
}

// TestBuildMerkleTreeEmpty tests that building a tree from no allocations fails
func TestBuildMerkleTreeEmpty(t *testing.T) {
	tree, err := BuildMerkleTree([]*types.Allocation{})
	require.Error(t, err)
	require.Nil(t, tree)
	require.Contains(t, err.Error(), "empty")
}

func TestBuildMerkleTreeInvalidInput(t *testing.T) {
	t.Run("Nil allocation", func(t *testing.T) {
		_, err := BuildMerkleTree([]*types.Allocation{nil})
		require.Error(t, err)
	})

	t.Run("Nil amount", func(t *testing.T) {
		_, err := BuildMerkleTree([]*types.Allocation{{Recipient: randomAddress()}})
		require.Error(t, err)
	})

	t.Run("Duplicate recipient", func(t *testing.T) {
		addr := randomAddress()
		_, err := BuildMerkleTree([]*types.Allocation{
			types.NewAllocation(addr, 1),
			types.NewAllocation(addr, 2),
		})
		require.Error(t, err)
		require.Contains(t, err.Error(), "duplicate")
	})
}

// TestMerkleProofVerification tests proof verification with valid and invalid cases
func TestMerkleProofVerification(t *testing.T) {
	allocs := createTestAllocations(5)
	tree, err := BuildMerkleTree(allocs)
	require.NoError(t, err)

	target := allocs[2]
	proof, err := tree.ProofFor(target.Recipient)
	require.NoError(t, err)
	require.NotEmpty(t, proof.Proof)

	t.Run("Valid proof", func(t *testing.T) {
		require.True(t, VerifyProof(target.Recipient, target.Amount, proof.Proof, tree.Root))
	})

	t.Run("Invalid proof - wrong root", func(t *testing.T) {
		invalidRoot := common.Hash{1, 2, 3, 4, 5}
		require.False(t, VerifyProof(target.Recipient, target.Amount, proof.Proof, invalidRoot))
	})

	t.Run("Invalid proof - altered amount", func(t *testing.T) {
		altered := new(uint256.Int).AddUint64(target.Amount, 1)
		require.False(t, VerifyProof(target.Recipient, altered, proof.Proof, tree.Root))
	})

	t.Run("Invalid proof - altered recipient", func(t *testing.T) {
		require.False(t, VerifyProof(allocs[3].Recipient, target.Amount, proof.Proof, tree.Root))
	})

	t.Run("Invalid proof - tampered sibling", func(t *testing.T) {
		for i := range proof.Proof {
			tampered := append([]common.Hash{}, proof.Proof...)
			tampered[i][0] ^= 0xFF
			require.False(t, VerifyProof(target.Recipient, target.Amount, tampered, tree.Root),
				"tampering element %d should invalidate the proof", i)
		}
	})

	t.Run("Invalid proof - truncated", func(t *testing.T) {
		require.False(t, VerifyProof(target.Recipient, target.Amount, proof.Proof[:len(proof.Proof)-1], tree.Root))
	})

	t.Run("Invalid proof - nil amount", func(t *testing.T) {
		require.False(t, VerifyProof(target.Recipient, nil, proof.Proof, tree.Root))
	})

	t.Run("Invalid proof - nil proof", func(t *testing.T) {
		require.False(t, VerifyMerkleProof(nil, tree.Root))
	})
}

// TestGenerateProofInvalidIndex tests proof generation with invalid indices
func TestGenerateProofInvalidIndex(t *testing.T) {
	tree, err := BuildMerkleTree(createTestAllocations(4))
	require.NoError(t, err)

	t.Run("Negative index", func(t *testing.T) {
		proof, err := tree.GenerateProof(-1)
		require.Error(t, err)
		require.Nil(t, proof)
	})

	t.Run("Index out of bounds", func(t *testing.T) {
		proof, err := tree.GenerateProof(10)
		require.Error(t, err)
		require.Nil(t, proof)
	})

	t.Run("Unknown recipient", func(t *testing.T) {
		proof, err := tree.ProofFor(randomAddress())
		require.Error(t, err)
		require.Nil(t, proof)
	})
}

func TestOddLevelDuplicatesLastNode(t *testing.T) {
	tree, err := BuildMerkleTree(createTestAllocations(3))
	require.NoError(t, err)

	// Leaf 2 has no right neighbour and is paired with itself
	proof, err := tree.GenerateProof(2)
	require.NoError(t, err)
	require.Equal(t, tree.Leaves[2], proof.Proof[0])

	expected := hashPair(hashPair(tree.Leaves[0], tree.Leaves[1]), hashPair(tree.Leaves[2], tree.Leaves[2]))
	require.Equal(t, expected, tree.Root)
}

func TestHashPairIsCommutative(t *testing.T) {
	a := crypto.Keccak256Hash([]byte("a"))
	b := crypto.Keccak256Hash([]byte("b"))
	require.Equal(t, hashPair(a, b), hashPair(b, a))
	require.NotEqual(t, hashPair(a, a), hashPair(a, b))
}

func TestLeavesAreSorted(t *testing.T) {
	tree, err := BuildMerkleTree(createTestAllocations(20))
	require.NoError(t, err)
	for i := 1; i < len(tree.Leaves); i++ {
		require.Negative(t, tree.Leaves[i-1].Cmp(tree.Leaves[i]))
	}
}

// TestEncodeAllocationMatchesABI checks the hand-rolled encoding against abi.encode
func TestEncodeAllocationMatchesABI(t *testing.T) {
	addressType, err := abi.NewType("address", "", nil)
	require.NoError(t, err)
	uint256Type, err := abi.NewType("uint256", "", nil)
	require.NoError(t, err)
	arguments := abi.Arguments{{Type: addressType}, {Type: uint256Type}}

	amounts := []*uint256.Int{
		uint256.NewInt(0),
		uint256.NewInt(1),
		uint256.NewInt(600),
		new(uint256.Int).Lsh(uint256.NewInt(1), 200),
		new(uint256.Int).SetAllOne(),
	}

	for _, amount := range amounts {
		t.Run(amount.Dec(), func(t *testing.T) {
			recipient := randomAddress()
			packed, err := arguments.Pack(recipient, amount.ToBig())
			require.NoError(t, err)
			require.Equal(t, packed, EncodeAllocation(recipient, amount))
		})
	}
}

// TestHashAllocation tests that leaves are the double keccak of the encoding
func TestHashAllocation(t *testing.T) {
	recipient := common.HexToAddress("0x00000000000000000000000000000000000000aa")
	amount := uint256.NewInt(100)

	hash1 := HashAllocation(recipient, amount)
	hash2 := HashAllocation(recipient, amount)
	require.Equal(t, hash1, hash2)

	single := crypto.Keccak256Hash(EncodeAllocation(recipient, amount))
	require.NotEqual(t, single, hash1)
	require.Equal(t, crypto.Keccak256Hash(single.Bytes()), hash1)
}

// TestHashAllocationDifferentInputs tests that distinct allocations produce distinct leaves
func TestHashAllocationDifferentInputs(t *testing.T) {
	a := common.HexToAddress("0x01")
	b := common.HexToAddress("0x02")

	require.NotEqual(t, HashAllocation(a, uint256.NewInt(1)), HashAllocation(b, uint256.NewInt(1)))
	require.NotEqual(t, HashAllocation(a, uint256.NewInt(1)), HashAllocation(a, uint256.NewInt(2)))
}

// TestMerkleTreeLargeSet tests with a larger number of allocations
func TestMerkleTreeLargeSet(t *testing.T) {
	sizes := []int{50, 100, 257}

	for _, size := range sizes {
		t.Run(fmt.Sprintf("Size_%d", size), func(t *testing.T) {
			allocs := createTestAllocations(size)
			tree, err := BuildMerkleTree(allocs)
			require.NoError(t, err)
			require.Equal(t, size, len(tree.Leaves))

			testIndices := []int{0, size / 4, size / 2, size - 1}
			for _, idx := range testIndices {
				proof, err := tree.GenerateProof(idx)
				require.NoError(t, err)
				require.True(t, VerifyMerkleProof(proof, tree.Root))
			}
		})
	}
}

// TestMerkleProofLength tests that proof length is logarithmic
func TestMerkleProofLength(t *testing.T) {
	testCases := []struct {
		numAllocs  int
		proofDepth int
	}{
		{1, 0},
		{2, 1},
		{3, 2},
		{4, 2},
		{8, 3},
		{16, 4},
		{100, 7},
	}

	for _, tc := range testCases {
		t.Run(fmt.Sprintf("%d_allocations", tc.numAllocs), func(t *testing.T) {
			tree, err := BuildMerkleTree(createTestAllocations(tc.numAllocs))
			require.NoError(t, err)

			for i := 0; i < tc.numAllocs; i++ {
				proof, err := tree.GenerateProof(i)
				require.NoError(t, err)
				require.Len(t, proof.Proof, tc.proofDepth)
			}
		})
	}
}

// TestMerkleTreeDeterminism tests that the same allocations always produce the same tree
func TestMerkleTreeDeterminism(t *testing.T) {
	allocs := createTestAllocations(10)

	tree1, err := BuildMerkleTree(allocs)
	require.NoError(t, err)

	tree2, err := BuildMerkleTree(allocs)
	require.NoError(t, err)

	require.Equal(t, tree1.Root, tree2.Root)
	require.Equal(t, tree1.Leaves, tree2.Leaves)
}

// TestMerkleTreeWithShuffledAllocations tests that input order doesn't affect the tree
func TestMerkleTreeWithShuffledAllocations(t *testing.T) {
	allocs := createTestAllocations(11)

	tree1, err := BuildMerkleTree(allocs)
	require.NoError(t, err)

	shuffled := make([]*types.Allocation, len(allocs))
	copy(shuffled, allocs)
	for i, j := 0, len(shuffled)-1; i < j; i, j = i+1, j-1 {
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	}

	tree2, err := BuildMerkleTree(shuffled)
	require.NoError(t, err)

	require.Equal(t, tree1.Root, tree2.Root)

	for _, alloc := range allocs {
		p1, err := tree1.ProofFor(alloc.Recipient)
		require.NoError(t, err)
		p2, err := tree2.ProofFor(alloc.Recipient)
		require.NoError(t, err)
		require.Equal(t, p1.Proof, p2.Proof)
	}
}

func TestMerkleTreeLargeAmounts(t *testing.T) {
	big1, _ := new(big.Int).SetString("123456789012345678901234567890", 10)
	amount, overflow := uint256.FromBig(big1)
	require.False(t, overflow)

	alloc := &types.Allocation{Recipient: randomAddress(), Amount: amount}
	tree, err := BuildMerkleTree([]*types.Allocation{alloc, types.NewAllocation(randomAddress(), 1)})
	require.NoError(t, err)

	proof, err := tree.ProofFor(alloc.Recipient)
	require.NoError(t, err)
	require.True(t, VerifyProof(alloc.Recipient, amount, proof.Proof, tree.Root))
}
