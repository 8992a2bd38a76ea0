package types

import (
	"testing"

	"github.com/manifoldchain/manifoldchain/pkg/hash"
)

func unit(tag string) TestimonyUnit {
	return TestimonyUnit{
		UnitHash:        hash.Sum([]byte("unit-" + tag)),
		OriginBlockHash: hash.Sum([]byte("block-" + tag)),
		TxMerkleProof:   []hash.H256{hash.Sum([]byte("proof-" + tag))},
		TxIndex:         1,
	}
}

func TestTestimonyLookup(t *testing.T) {
	u1, u2 := unit("a"), unit("b")
	tmy := &Testimony{TxHash: hash.Sum([]byte("tx")), Units: []TestimonyUnit{u1, u2}}

	got, ok := tmy.Unit(u2.UnitHash)
	if !ok || got.OriginBlockHash != u2.OriginBlockHash {
		t.Error("unit lookup failed")
	}
	if _, ok := tmy.Unit(hash.Sum([]byte("absent"))); ok {
		t.Error("lookup of absent unit should fail")
	}
	ori, ok := tmy.OriginBlock(u1.UnitHash)
	if !ok || ori != u1.OriginBlockHash {
		t.Error("origin block lookup failed")
	}
}

func TestTestimonyMergeUnion(t *testing.T) {
	u1, u2, u3 := unit("a"), unit("b"), unit("c")
	txHash := hash.Sum([]byte("tx"))
	left := &Testimony{TxHash: txHash, Units: []TestimonyUnit{u1, u2}}
	right := &Testimony{TxHash: txHash, Units: []TestimonyUnit{u2, u3}}

	merged := left.Merge(right)
	if len(merged.Units) != 3 {
		t.Fatalf("merged units = %d, want 3", len(merged.Units))
	}
	for _, u := range []TestimonyUnit{u1, u2, u3} {
		if _, ok := merged.Unit(u.UnitHash); !ok {
			t.Errorf("unit %s missing after merge", u.UnitHash)
		}
	}
	if merged.TxHash != txHash {
		t.Error("merge should keep the tx hash")
	}
}

func TestTestimonyHashCoversUnits(t *testing.T) {
	txHash := hash.Sum([]byte("tx"))
	a := &Testimony{TxHash: txHash, Units: []TestimonyUnit{unit("a")}}
	b := &Testimony{TxHash: txHash, Units: []TestimonyUnit{unit("b")}}
	if a.Hash() == b.Hash() {
		t.Error("different units should change the testimony hash")
	}
}
