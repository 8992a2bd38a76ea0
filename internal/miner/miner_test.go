package miner

import (
	"testing"

	"github.com/manifoldchain/manifoldchain/internal/block"
	"github.com/manifoldchain/manifoldchain/internal/config"
	"github.com/manifoldchain/manifoldchain/internal/mempool"
	"github.com/manifoldchain/manifoldchain/internal/multichain"
	"github.com/manifoldchain/manifoldchain/internal/types"
	"github.com/manifoldchain/manifoldchain/internal/validator"
	"github.com/manifoldchain/manifoldchain/pkg/hash"
	"github.com/manifoldchain/manifoldchain/testutil"
)

type rig struct {
	cfg   *config.Config
	mc    *multichain.Multichain
	mp    *mempool.Mempool
	miner *Miner
}

func newRig(t *testing.T, blockSize int) *rig {
	t.Helper()
	cfg := testutil.Config(2, 0, blockSize, 1)
	// Exclusive blocks only: no hash satisfies the all-zero threshold.
	cfg.Threshold = hash.Zero
	mc := multichain.New(cfg, testutil.Logger())
	mp := mempool.New(testutil.Logger())
	val := validator.New(mc, mp, cfg, testutil.Logger())
	return &rig{cfg: cfg, mc: mc, mp: mp, miner: New(mc, mp, val, cfg, testutil.Logger())}
}

func (r *rig) nextEvent(t *testing.T) Event {
	t.Helper()
	select {
	case ev := <-r.miner.Events():
		return ev
	default:
		t.Fatal("no mined block")
		return Event{}
	}
}

func TestStepMinesExclusiveBlock(t *testing.T) {
	r := newRig(t, 2)
	u2 := testutil.UserWithAddr(0x02)
	init := testutil.InitialTx(u2, 10, 0)
	r.mp.Insert(init)

	r.miner.Step()
	ev := r.nextEvent(t)

	blk := ev.Block
	if blk.Kind != block.KindExclusiveFull {
		t.Errorf("kind = %s, want exclusive-full", blk.Kind)
	}
	if blk.Parent() != r.mc.GenesisHashOf(0) {
		t.Error("candidate should extend the verified tip")
	}
	if !blk.VerifyFormat() {
		t.Error("mined block should pass the format check")
	}
	txs, err := blk.Txs()
	if err != nil {
		t.Fatal(err)
	}
	if len(txs) != 2 {
		t.Fatalf("txs = %d, want block size 2", len(txs))
	}
	if txs[0].Hash() != init.Hash() {
		t.Error("the pending tx should be packaged first")
	}
	if txs[1].Flag != types.FlagEmpty {
		t.Error("short blocks should be padded with empty txs")
	}
	if r.mp.Len() != 0 {
		t.Error("packaged tx should leave the mempool")
	}
}

func TestRepackageOnParentChange(t *testing.T) {
	r := newRig(t, 1)
	r.miner.Step()
	first := r.nextEvent(t)

	// Insert the mined block so the verified tip moves.
	if _, err := r.mc.InsertBlock(first.Block, first.Block.Parent(), 0); err != nil {
		t.Fatalf("insert mined block: %v", err)
	}
	r.miner.Step()
	second := r.nextEvent(t)
	if second.Block.Parent() != first.Block.Hash() {
		t.Error("second candidate should extend the first block")
	}
}

func TestInputTxDerivesTestimonyAndReply(t *testing.T) {
	r := newRig(t, 1)
	u2 := testutil.UserWithAddr(0x02)
	u3 := testutil.UserWithAddr(0x03)

	// Fund u2 on-chain so the Input tx validates against the tip state.
	init := testutil.InitialTx(u2, 10, 0)
	genesis := r.mc.GenesisHashOf(0)
	b1 := testutil.ExclusiveFullBlock(0, genesis, 1, []types.Transaction{*init}, nil)
	if _, err := r.mc.InsertBlock(b1, genesis, 0); err != nil {
		t.Fatal(err)
	}

	inputTx := testutil.Consume(types.FlagInput,
		[]testutil.Utxo{{Tx: init, Index: 0, Owner: u2}},
		[]testutil.Grant{{To: u3, Value: 10}},
	)
	r.mp.Insert(inputTx)

	r.miner.Step()
	ev := r.nextEvent(t)

	tmys := ev.Testimonies[1]
	if len(tmys) != 1 {
		t.Fatalf("testimonies for shard 1 = %d, want 1", len(tmys))
	}
	outputs := ev.OutputTxs[1]
	if len(outputs) != 1 {
		t.Fatalf("output replies for shard 1 = %d, want 1", len(outputs))
	}
	if outputs[0].Flag != types.FlagOutput {
		t.Error("reply should carry the Output flag")
	}
	if tmys[0].TxHash != outputs[0].Hash() {
		t.Error("testimony should be keyed by the Output reply")
	}
	unit, ok := tmys[0].Unit(inputTx.Inputs[0].Hash())
	if !ok {
		t.Fatal("testimony should prove the shard-0 input")
	}
	if unit.OriginBlockHash != ev.Block.Hash() {
		t.Error("testimony unit should point at the freshly mined block")
	}
}

func TestStaleTxDroppedOnRepackage(t *testing.T) {
	r := newRig(t, 1)
	u2 := testutil.UserWithAddr(0x02)
	init := testutil.InitialTx(u2, 10, 0)

	genesis := r.mc.GenesisHashOf(0)
	b1 := testutil.ExclusiveFullBlock(0, genesis, 1, []types.Transaction{*init}, nil)
	if _, err := r.mc.InsertBlock(b1, genesis, 0); err != nil {
		t.Fatal(err)
	}

	// The same domestic tx is both on-chain and pending.
	spend := testutil.Consume(types.FlagDomestic,
		[]testutil.Utxo{{Tx: init, Index: 0, Owner: u2}},
		[]testutil.Grant{{To: u2, Value: 10}},
	)
	b2 := testutil.ExclusiveFullBlock(0, b1.Hash(), 2, []types.Transaction{*spend}, nil)
	if _, err := r.mc.InsertBlock(b2, b1.Hash(), 0); err != nil {
		t.Fatal(err)
	}
	r.mp.Insert(spend)

	r.miner.Step()
	ev := r.nextEvent(t)
	txs, _ := ev.Block.Txs()
	if txs[0].Hash() == spend.Hash() {
		t.Error("a tx already on the longest chain must not be repackaged")
	}
	if txs[0].Flag != types.FlagEmpty {
		t.Error("the slot should fall back to padding")
	}
	if !r.mp.Has(spend.Hash()) {
		t.Error("the stale tx should be returned to the mempool")
	}
}
