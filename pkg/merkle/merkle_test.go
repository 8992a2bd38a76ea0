package merkle

import (
	"fmt"
	"testing"

	"github.com/manifoldchain/manifoldchain/pkg/hash"
)

func leafSet(n int) []hash.H256 {
	leaves := make([]hash.H256, n)
	for i := range leaves {
		leaves[i] = hash.Sum([]byte(fmt.Sprintf("leaf-%d", i)))
	}
	return leaves
}

func TestEmptyTreeRoot(t *testing.T) {
	tree := FromLeaves(nil)
	if tree.Root() != hash.Zero {
		t.Errorf("empty tree root = %s, want all-zero", tree.Root())
	}
}

func TestSingleLeaf(t *testing.T) {
	leaves := leafSet(1)
	tree := FromLeaves(leaves)
	if tree.Root() != leaves[0] {
		t.Error("single-leaf root should equal the leaf")
	}
	proof := tree.Proof(0)
	if !Verify(tree.Root(), leaves[0], proof, 0, 1) {
		t.Error("single-leaf proof should verify")
	}
}

func TestRootShape(t *testing.T) {
	leaves := leafSet(3)
	tree := FromLeaves(leaves)
	// Split at mid = 1: left subtree {0}, right subtree {1,2}.
	want := hash.CHash(leaves[0], hash.CHash(leaves[1], leaves[2]))
	if tree.Root() != want {
		t.Error("3-leaf root does not follow the mid split")
	}
}

func TestProofRoundTrip(t *testing.T) {
	for n := 1; n <= 9; n++ {
		leaves := leafSet(n)
		tree := FromLeaves(leaves)
		for i := 0; i < n; i++ {
			proof := tree.Proof(i)
			if !Verify(tree.Root(), leaves[i], proof, i, n) {
				t.Errorf("n=%d i=%d: proof should verify", n, i)
			}
		}
	}
}

func TestVerifyRejectsWrongDatum(t *testing.T) {
	leaves := leafSet(5)
	tree := FromLeaves(leaves)
	proof := tree.Proof(2)
	wrong := hash.Sum([]byte("not a leaf"))
	if Verify(tree.Root(), wrong, proof, 2, 5) {
		t.Error("verification should fail for a foreign datum")
	}
}

func TestVerifyRejectsWrongIndex(t *testing.T) {
	leaves := leafSet(6)
	tree := FromLeaves(leaves)
	proof := tree.Proof(1)
	if Verify(tree.Root(), leaves[1], proof, 2, 6) {
		t.Error("verification should fail under the wrong index")
	}
}

func TestVerifyRejectsTamperedProof(t *testing.T) {
	leaves := leafSet(7)
	tree := FromLeaves(leaves)
	proof := tree.Proof(3)
	proof[len(proof)-1] = hash.Sum([]byte("tampered"))
	if Verify(tree.Root(), leaves[3], proof, 3, 7) {
		t.Error("verification should fail for a tampered proof")
	}
}

func TestVerifyBounds(t *testing.T) {
	leaves := leafSet(4)
	tree := FromLeaves(leaves)
	if Verify(tree.Root(), leaves[0], nil, 0, 4) {
		t.Error("empty proof should not verify")
	}
	if Verify(tree.Root(), leaves[0], tree.Proof(0), 4, 4) {
		t.Error("out-of-range index should not verify")
	}
}

func TestProofContainsDatum(t *testing.T) {
	leaves := leafSet(8)
	tree := FromLeaves(leaves)
	for i := 0; i < 8; i++ {
		proof := tree.Proof(i)
		pi := ProofIndex(i, 8)
		if proof[pi] != leaves[i] {
			t.Errorf("i=%d: proof[%d] should carry the datum", i, pi)
		}
	}
}
