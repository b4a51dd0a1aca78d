package subsidy

import (
	"bytes"
	"math/big"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"

	"nftyield/crypto"
)

// ProofVerifier checks a recipient's membership in a distribution root.
type ProofVerifier interface {
	Verify(root [32]byte, recipient crypto.Address, cumulativeAmount *big.Int, proof [][32]byte) bool
}

// KeccakVerifier implements sorted-pair keccak Merkle verification. The leaf
// commits to the recipient and the cumulative entitled amount encoded as a
// 32-byte word.
type KeccakVerifier struct{}

func (KeccakVerifier) Verify(root [32]byte, recipient crypto.Address, cumulativeAmount *big.Int, proof [][32]byte) bool {
	leaf, ok := SubsidyLeaf(recipient, cumulativeAmount)
	if !ok {
		return false
	}
	node := leaf
	for _, sibling := range proof {
		node = hashPair(node, sibling)
	}
	return node == root
}

// SubsidyLeaf computes the leaf hash for a distribution entry. Amounts wider
// than 256 bits cannot be committed and yield ok=false.
func SubsidyLeaf(recipient crypto.Address, cumulativeAmount *big.Int) ([32]byte, bool) {
	if cumulativeAmount == nil || cumulativeAmount.Sign() < 0 {
		return [32]byte{}, false
	}
	encoded, overflow := uint256.FromBig(cumulativeAmount)
	if overflow {
		return [32]byte{}, false
	}
	word := encoded.Bytes32()
	preimage := make([]byte, 0, 52)
	preimage = append(preimage, recipient.Bytes()...)
	preimage = append(preimage, word[:]...)
	var leaf [32]byte
	copy(leaf[:], ethcrypto.Keccak256(preimage))
	return leaf, true
}

// hashPair hashes the pair in byte order so proofs need no position flags.
func hashPair(a, b [32]byte) [32]byte {
	var out [32]byte
	if bytes.Compare(a[:], b[:]) > 0 {
		a, b = b, a
	}
	copy(out[:], ethcrypto.Keccak256(a[:], b[:]))
	return out
}

// BuildRoot computes the sorted-pair root over the given leaves. Odd nodes
// are promoted unhashed. Used by tests and offline distribution tooling.
func BuildRoot(leaves [][32]byte) [32]byte {
	if len(leaves) == 0 {
		return [32]byte{}
	}
	level := make([][32]byte, len(leaves))
	copy(level, leaves)
	for len(level) > 1 {
		next := make([][32]byte, 0, (len(level)+1)/2)
		for i := 0; i < len(level); i += 2 {
			if i+1 == len(level) {
				next = append(next, level[i])
				continue
			}
			next = append(next, hashPair(level[i], level[i+1]))
		}
		level = next
	}
	return level[0]
}
