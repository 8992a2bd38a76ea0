package mempool

import (
	"testing"

	"github.com/manifoldchain/manifoldchain/internal/types"
	"github.com/manifoldchain/manifoldchain/pkg/hash"
	"github.com/manifoldchain/manifoldchain/testutil"
)

func domesticTx(tag byte) *types.Transaction {
	u := testutil.UserWithAddr(0x02)
	return &types.Transaction{
		Inputs: []types.UtxoInput{{
			SenderAddr: u.Addr,
			SrcTxHash:  hash.Sum([]byte{tag}),
			Value:      1,
		}},
		Outputs: []types.UtxoOutput{{ReceiverAddr: u.Addr, Value: 1}},
		Flag:    types.FlagDomestic,
	}
}

func TestInsertAndPop(t *testing.T) {
	mp := New(testutil.Logger())
	tx := domesticTx(1)
	if !mp.Insert(tx) {
		t.Fatal("insert failed")
	}
	if mp.Insert(tx) {
		t.Error("duplicate insert should fail")
	}
	if !mp.Has(tx.Hash()) {
		t.Error("Has should see the pending tx")
	}
	got, tmy := mp.PopOne()
	if got == nil || got.Hash() != tx.Hash() {
		t.Error("pop should return the inserted tx")
	}
	if tmy != nil {
		t.Error("no testimony was indexed")
	}
	if mp.Len() != 0 {
		t.Error("pool should be empty after pop")
	}
	if tx2, _ := mp.PopOne(); tx2 != nil {
		t.Error("pop on empty pool should return nil")
	}
}

func TestOrderingRule(t *testing.T) {
	mp := New(testutil.Logger())
	u := testutil.UserWithAddr(0x02)
	init1 := testutil.InitialTx(u, 10, 1)
	init2 := testutil.InitialTx(u, 10, 2)
	mp.Insert(init1)
	mp.Insert(init2)

	// A later non-Initial tx must jump ahead of the Initial backlog.
	work := domesticTx(9)
	mp.Insert(work)

	first, _ := mp.PopOne()
	if first == nil || first.Hash() != work.Hash() {
		t.Fatal("non-initial tx should be dequeued before initial ones")
	}
	second, _ := mp.PopOne()
	if second == nil || second.Flag != types.FlagInitial {
		t.Error("initial backlog should follow")
	}
}

func TestNonInitialKeepsFIFOAmongThemselves(t *testing.T) {
	mp := New(testutil.Logger())
	a := domesticTx(1)
	b := domesticTx(2)
	mp.Insert(a)
	mp.Insert(b)
	first, _ := mp.PopOne()
	second, _ := mp.PopOne()
	if first.Hash() != a.Hash() || second.Hash() != b.Hash() {
		t.Error("non-initial transactions should stay FIFO")
	}
}

func TestDelete(t *testing.T) {
	mp := New(testutil.Logger())
	a := domesticTx(1)
	b := domesticTx(2)
	mp.Insert(a)
	mp.Insert(b)
	mp.Delete([]hash.H256{a.Hash()})
	if mp.Has(a.Hash()) {
		t.Error("deleted tx should be gone")
	}
	if !mp.Has(b.Hash()) {
		t.Error("other tx should survive")
	}
	if mp.Len() != 1 {
		t.Errorf("len = %d, want 1", mp.Len())
	}
}

func TestTestimonyIndexAndMerge(t *testing.T) {
	mp := New(testutil.Logger())
	tx := domesticTx(1)
	txHash := tx.Hash()

	unitA := types.TestimonyUnit{UnitHash: hash.Sum([]byte("a")), OriginBlockHash: hash.Sum([]byte("blk-a"))}
	unitB := types.TestimonyUnit{UnitHash: hash.Sum([]byte("b")), OriginBlockHash: hash.Sum([]byte("blk-b"))}

	if mp.AddTestimony(&types.Testimony{TxHash: txHash, Units: []types.TestimonyUnit{unitA}}) {
		t.Error("first add is not an update")
	}
	if !mp.AddTestimony(&types.Testimony{TxHash: txHash, Units: []types.TestimonyUnit{unitB}}) {
		t.Error("second add should merge and report an update")
	}
	merged, ok := mp.TestimonyByTx(txHash)
	if !ok || len(merged.Units) != 2 {
		t.Fatal("merged testimony should carry both units")
	}

	mp.Insert(tx)
	popped, tmy := mp.PopOne()
	if popped == nil || tmy == nil || len(tmy.Units) != 2 {
		t.Error("pop should deliver the merged testimony alongside the tx")
	}
	if _, ok := mp.TestimonyByTx(txHash); ok {
		t.Error("popped testimony should leave the index")
	}
}

func TestRemoveTestimony(t *testing.T) {
	mp := New(testutil.Logger())
	tmy := &types.Testimony{TxHash: hash.Sum([]byte("tx"))}
	mp.AddTestimony(tmy)
	mp.RemoveTestimony(tmy.Hash())
	if _, ok := mp.TestimonyByTx(tmy.TxHash); ok {
		t.Error("removed testimony should be unindexed")
	}
}
