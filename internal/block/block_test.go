package block

import (
	"testing"

	"github.com/manifoldchain/manifoldchain/internal/types"
	"github.com/manifoldchain/manifoldchain/pkg/hash"
	"github.com/manifoldchain/manifoldchain/pkg/merkle"
)

func sampleTxs(n int) []types.Transaction {
	txs := make([]types.Transaction, n)
	for i := range txs {
		txs[i] = types.Transaction{
			Outputs: []types.UtxoOutput{{
				ReceiverAddr: hash.Sum([]byte{byte(i)}),
				Value:        uint32(i + 1),
			}},
			Flag: types.FlagInitial,
		}
	}
	return txs
}

func buildFull(shard uint32, parent hash.H256, txs []types.Transaction) *Block {
	txBlock := NewTxBlock(shard, txs, nil)
	cons := Consensus{
		Header: Header{
			Parent:       parent,
			Difficulty:   hash.Max,
			ShardID:      shard,
			Timestamp:    42,
			TxMerkleRoot: txBlock.TxMerkleRoot(),
		},
		TestimonyMerkleRoot:    txBlock.TestimonyMerkleRoot(),
		InterParentMerkleRoot:  InterParentRoot([]hash.H256{parent}),
		GlobalParentMerkleRoot: GlobalParentRoot(nil),
	}
	return NewExclusiveFull(cons, cons.Hash(), []hash.H256{parent}, txBlock)
}

func TestHeaderHashSensitivity(t *testing.T) {
	h := DefaultHeader()
	base := h.Hash()

	nonced := h
	nonced.Nonce = 1
	if nonced.Hash() == base {
		t.Error("nonce should change the hash")
	}
	sharded := h
	sharded.ShardID = 3
	if sharded.Hash() == base {
		t.Error("shard id should change the hash")
	}
	timed := h
	timed.Timestamp = 99
	if timed.Hash() == base {
		t.Error("timestamp should change the hash")
	}
}

func TestGenesisPerShard(t *testing.T) {
	g0 := Genesis(0)
	g1 := Genesis(1)
	if g0.Hash() == g1.Hash() {
		t.Error("genesis blocks of different shards should differ")
	}
	if !g0.VerifyHash() {
		t.Error("genesis hash should recompute")
	}
	if g0.Kind != KindExclusive {
		t.Error("genesis should be a header-only exclusive block")
	}
}

func TestVerifyHashAndFormat(t *testing.T) {
	parent := Genesis(0).Hash()
	blk := buildFull(0, parent, sampleTxs(4))
	if !blk.VerifyHash() {
		t.Error("hash should recompute")
	}
	if !blk.VerifyPoW() {
		t.Error("weakest difficulty should always satisfy PoW")
	}
	if !blk.VerifyFormat() {
		t.Error("format should verify")
	}

	tampered := *blk
	tampered.HashVal = hash.Sum([]byte("forged"))
	if tampered.VerifyHash() {
		t.Error("forged hash should fail")
	}

	wrongParents := *blk
	wrongParents.InterParents = []hash.H256{hash.Sum([]byte("other"))}
	if wrongParents.VerifyFormat() {
		t.Error("inter-parent root mismatch should fail format check")
	}
}

func TestTxMerkleProofAgainstCommittedRoot(t *testing.T) {
	blk := buildFull(0, Genesis(0).Hash(), sampleTxs(5))
	for i := 0; i < 5; i++ {
		proof := blk.TxMerkleProof(i)
		txHash := blk.TxBlock.Txs[i].Hash()
		if !merkle.Verify(blk.TxMerkleRoot(), txHash, proof, i, 5) {
			t.Errorf("tx %d proof should verify against the committed root", i)
		}
	}
}

func TestHeaderOnlyStripsPayload(t *testing.T) {
	blk := buildFull(0, Genesis(0).Hash(), sampleTxs(2))
	header := blk.HeaderOnly()
	if header.Kind != KindExclusive {
		t.Errorf("kind = %s, want exclusive", header.Kind)
	}
	if header.Hash() != blk.Hash() {
		t.Error("header variant must keep the hash")
	}
	if _, err := header.Txs(); err == nil {
		t.Error("header variant should have no payload")
	}
}

func TestInclusiveGlobalParents(t *testing.T) {
	g0 := Genesis(0).Hash()
	g1 := Genesis(1).Hash()
	global := []ShardParents{
		{ShardID: 0, Parents: []hash.H256{g0}},
		{ShardID: 1, Parents: []hash.H256{g1}},
	}
	txBlock := NewTxBlock(0, sampleTxs(2), nil)
	cons := Consensus{
		Header: Header{
			Parent:       g0,
			Difficulty:   hash.Max,
			ShardID:      0,
			Timestamp:    7,
			TxMerkleRoot: txBlock.TxMerkleRoot(),
		},
		TestimonyMerkleRoot:    txBlock.TestimonyMerkleRoot(),
		InterParentMerkleRoot:  InterParentRoot([]hash.H256{g0}),
		GlobalParentMerkleRoot: GlobalParentRoot(global),
	}
	blk := NewInclusiveFull(cons, cons.Hash(), []hash.H256{g0}, global, txBlock)

	if !blk.VerifyFormat() {
		t.Error("inclusive format should verify")
	}
	if got := blk.ParentsInShard(1); len(got) != 1 || got[0] != g1 {
		t.Error("shard 1 parents should come from the global tuple")
	}
	if got := blk.ParentsInShard(0); len(got) != 1 || got[0] != g0 {
		t.Error("shard 0 parents should come from the global tuple")
	}

	broken := *blk
	broken.GlobalParents = []ShardParents{{ShardID: 0, Parents: []hash.H256{g1}}}
	if broken.VerifyFormat() {
		t.Error("global-parent root mismatch should fail format check")
	}
}

func TestSamplesMirrorProof(t *testing.T) {
	blk := buildFull(0, Genesis(0).Hash(), sampleTxs(4))
	samples := blk.IntoSamples(2)
	proof := blk.TxMerkleProof(2)
	if len(samples) != len(proof) {
		t.Fatalf("samples = %d, proof = %d", len(samples), len(proof))
	}
	for i, s := range samples {
		if int(s.Position) != i || s.Sibling != proof[i] {
			t.Errorf("sample %d does not mirror the proof", i)
		}
	}
}
