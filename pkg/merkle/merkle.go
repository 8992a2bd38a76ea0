package merkle

import (
	"github.com/manifoldchain/manifoldchain/pkg/hash"
)

// Tree is a Merkle tree over a fixed sequence of leaf hashes. The tree is
// shaped by a deterministic top-down split at mid = lo + (hi-lo)/2, so an odd
// fringe is handled by recursion rather than leaf duplication. An empty tree
// has the all-zero root.
type Tree struct {
	root   hash.H256
	leaves []hash.H256
}

// New builds a tree over the hashes of the given leaves.
func New[T hash.Hashable](data []T) *Tree {
	leaves := make([]hash.H256, len(data))
	for i, d := range data {
		leaves[i] = d.Hash()
	}
	return FromLeaves(leaves)
}

// FromLeaves builds a tree over pre-hashed leaves.
func FromLeaves(leaves []hash.H256) *Tree {
	t := &Tree{leaves: leaves}
	if len(leaves) == 0 {
		t.root = hash.Zero
	} else {
		t.root = rangeHash(leaves, 0, len(leaves))
	}
	return t
}

// Root returns the Merkle root.
func (t *Tree) Root() hash.H256 {
	return t.root
}

// Len returns the number of leaves.
func (t *Tree) Len() int {
	return len(t.leaves)
}

// Leaf returns the leaf hash at index i.
func (t *Tree) Leaf(i int) hash.H256 {
	return t.leaves[i]
}

// Proof returns the inclusion proof for the leaf at index. The proof lists,
// in traversal order, the leaf's own path segment and the subtree roots of
// every sibling range; the datum itself sits at ProofIndex(index, n).
func (t *Tree) Proof(index int) []hash.H256 {
	return rangeProof(t.leaves, index, 0, len(t.leaves))
}

func rangeHash(leaves []hash.H256, lo, hi int) hash.H256 {
	size := hi - lo
	switch {
	case size == 1:
		return leaves[lo]
	case size == 2:
		return hash.CHash(leaves[lo], leaves[hi-1])
	default:
		mid := lo + size/2
		return hash.CHash(rangeHash(leaves, lo, mid), rangeHash(leaves, mid, hi))
	}
}

func rangeProof(leaves []hash.H256, index, lo, hi int) []hash.H256 {
	if index < lo || index >= hi {
		// The whole range is a sibling subtree; a single root stands in
		// for it.
		return []hash.H256{rangeHash(leaves, lo, hi)}
	}
	size := hi - lo
	switch {
	case size == 1:
		return []hash.H256{leaves[lo]}
	case size == 2:
		return []hash.H256{leaves[lo], leaves[lo+1]}
	default:
		mid := lo + size/2
		left := rangeProof(leaves, index, lo, mid)
		right := rangeProof(leaves, index, mid, hi)
		return append(left, right...)
	}
}

// ProofIndex returns the position of the datum inside a proof produced for
// the leaf at index in a tree of n leaves.
func ProofIndex(index, n int) int {
	return proofIndex(index, 0, n)
}

func proofIndex(index, lo, hi int) int {
	if lo == hi-1 {
		return 0
	}
	mid := lo + (hi-lo)/2
	if index < mid {
		return proofIndex(index, lo, mid)
	}
	return proofIndex(index, mid, hi) + 1
}

// Verify reconstructs the root from a proof using the same split and checks
// that both the root and the committed datum match. leafSize is the total
// number of leaves in the tree the proof was generated from.
func Verify(root, datum hash.H256, proof []hash.H256, index, leafSize int) bool {
	if index < 0 || index >= leafSize || len(proof) == 0 {
		return false
	}
	rebuilt, ok := rebuild(proof, index, 0, leafSize, 0, len(proof))
	if !ok {
		return false
	}
	if rebuilt != root {
		return false
	}
	pi := ProofIndex(index, leafSize)
	return pi < len(proof) && proof[pi] == datum
}

func rebuild(proof []hash.H256, index, dataLo, dataHi, proofLo, proofHi int) (hash.H256, bool) {
	if proofLo >= proofHi || dataLo >= dataHi {
		return hash.H256{}, false
	}
	size := dataHi - dataLo
	switch {
	case size == 1:
		return proof[proofLo], true
	case size == 2:
		if proofHi-proofLo < 2 {
			return hash.H256{}, false
		}
		return hash.CHash(proof[proofLo], proof[proofHi-1]), true
	default:
		mid := dataLo + size/2
		if index < mid {
			left, ok := rebuild(proof, index, dataLo, mid, proofLo, proofHi-1)
			if !ok {
				return hash.H256{}, false
			}
			return hash.CHash(left, proof[proofHi-1]), true
		}
		right, ok := rebuild(proof, index, mid, dataHi, proofLo+1, proofHi)
		if !ok {
			return hash.H256{}, false
		}
		return hash.CHash(proof[proofLo], right), true
	}
}
