package chain

import (
	"errors"
	"testing"

	"github.com/manifoldchain/manifoldchain/internal/block"
	"github.com/manifoldchain/manifoldchain/internal/types"
	"github.com/manifoldchain/manifoldchain/pkg/hash"
	"github.com/manifoldchain/manifoldchain/testutil"
)

func newChain(t *testing.T, shardID, k int) *Blockchain {
	t.Helper()
	cfg := testutil.Config(2, shardID, 4, k)
	return New(cfg, shardID, testutil.Logger())
}

func TestGenesisOnly(t *testing.T) {
	s0 := newChain(t, 0, 6)
	s1 := newChain(t, 1, 6)

	if s0.Height() != 0 || s1.Height() != 0 {
		t.Error("fresh chains should have height 0")
	}
	if s0.Tip() != s0.GenesisHash() {
		t.Error("tip should be genesis")
	}
	if s0.GenesisHash() == s1.GenesisHash() {
		t.Error("different shards should have different genesis hashes")
	}
	st, ok := s0.StateOf(s0.GenesisHash())
	if !ok || len(st) != 0 {
		t.Error("genesis state should be empty")
	}
	status, _ := s0.Status(s0.GenesisHash())
	if status != Verified {
		t.Error("genesis should be verified")
	}
}

func TestDomesticTransfer(t *testing.T) {
	bc := newChain(t, 0, 6)
	u2 := testutil.UserWithAddr(0x02)
	u4 := testutil.UserWithAddr(0x04)

	init2 := testutil.InitialTx(u2, 10, 0)
	init4 := testutil.InitialTx(u4, 10, 0)
	b1 := testutil.ExclusiveFullBlock(0, bc.GenesisHash(), 1, []types.Transaction{*init2, *init4}, nil)
	if _, err := bc.Insert(b1, bc.GenesisHash()); err != nil {
		t.Fatalf("insert b1: %v", err)
	}

	d1 := testutil.Consume(types.FlagDomestic,
		[]testutil.Utxo{{Tx: init2, Index: 0, Owner: u2}},
		[]testutil.Grant{{To: u4, Value: 5}, {To: u2, Value: 5}},
	)
	d2 := testutil.Consume(types.FlagDomestic,
		[]testutil.Utxo{{Tx: init4, Index: 0, Owner: u4}},
		[]testutil.Grant{{To: u2, Value: 5}, {To: u4, Value: 5}},
	)
	b2 := testutil.ExclusiveFullBlock(0, b1.Hash(), 2, []types.Transaction{*d1, *d2}, nil)
	if _, err := bc.Insert(b2, b1.Hash()); err != nil {
		t.Fatalf("insert b2: %v", err)
	}

	st, ok := bc.StateOf(b2.Hash())
	if !ok {
		t.Fatal("state of b2 missing")
	}
	if len(st) != 4 {
		t.Fatalf("state size = %d, want 4", len(st))
	}
	for key, entry := range st {
		if entry.Testimony != nil {
			t.Errorf("domestic entry %v should carry no testimony", key)
		}
	}
	if bc.Tip() != b2.Hash() {
		t.Error("tip should be b2")
	}
	if bc.LongestVerifiedTip() != b2.Hash() {
		t.Error("verified tip should be b2")
	}
	// The initial entries were consumed.
	if _, ok := st[StateKey{TxHash: init2.Hash(), Index: 0}]; ok {
		t.Error("spent initial utxo should be gone")
	}
}

func TestInsertErrors(t *testing.T) {
	bc := newChain(t, 0, 6)
	b1 := testutil.ExclusiveFullBlock(0, bc.GenesisHash(), 1, nil, nil)
	if _, err := bc.Insert(b1, bc.GenesisHash()); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if _, err := bc.Insert(b1, bc.GenesisHash()); !errors.Is(err, ErrAlreadyPresent) {
		t.Errorf("duplicate insert = %v, want ErrAlreadyPresent", err)
	}

	orphan := testutil.ExclusiveFullBlock(0, hash.Sum([]byte("nowhere")), 2, nil, nil)
	if _, err := bc.Insert(orphan, orphan.Parent()); !errors.Is(err, ErrUnknownParent) {
		t.Errorf("unknown parent = %v, want ErrUnknownParent", err)
	}

	// other names genesis as its parent, not b1.
	other := testutil.ExclusiveFullBlock(0, bc.GenesisHash(), 3, nil, nil)
	if _, err := bc.Insert(other, b1.Hash()); !errors.Is(err, ErrInvalidParent) {
		t.Errorf("invalid parent = %v, want ErrInvalidParent", err)
	}
}

func TestTipTieBreakDeterminism(t *testing.T) {
	a := testutil.ExclusiveFullBlock(0, block.Genesis(0).Hash(), 10, nil, nil)
	b := testutil.ExclusiveFullBlock(0, block.Genesis(0).Hash(), 11, nil, nil)

	first := newChain(t, 0, 6)
	if _, err := first.Insert(a, first.GenesisHash()); err != nil {
		t.Fatal(err)
	}
	if _, err := first.Insert(b, first.GenesisHash()); err != nil {
		t.Fatal(err)
	}

	second := newChain(t, 0, 6)
	if _, err := second.Insert(b, second.GenesisHash()); err != nil {
		t.Fatal(err)
	}
	if _, err := second.Insert(a, second.GenesisHash()); err != nil {
		t.Fatal(err)
	}

	if first.Tip() != second.Tip() {
		t.Error("tip must not depend on insertion order")
	}
	if first.LongestVerifiedTip() != second.LongestVerifiedTip() {
		t.Error("verified tip must not depend on insertion order")
	}
	want := a.Hash()
	if b.Hash().Less(want) {
		want = b.Hash()
	}
	if first.Tip() != want {
		t.Error("equal heights should resolve to the lesser hash")
	}
}

func TestConfirmationEvents(t *testing.T) {
	cfg := testutil.Config(2, 0, 4, 2)
	bc := New(cfg, 0, testutil.Logger())

	blocks := testutil.EmptyBlocks(0, bc.GenesisHash(), 1, 3)
	ev, err := bc.Insert(blocks[0], bc.GenesisHash())
	if err != nil {
		t.Fatal(err)
	}
	if ev == nil || ev.Block.Hash() != bc.GenesisHash() || ev.Height != 0 {
		t.Error("first insert should confirm genesis at height 0")
	}
	ev, err = bc.Insert(blocks[1], blocks[0].Hash())
	if err != nil {
		t.Fatal(err)
	}
	if ev == nil || ev.Block.Hash() != bc.GenesisHash() {
		t.Error("height 2 with k=2 should still confirm genesis")
	}
	ev, err = bc.Insert(blocks[2], blocks[1].Hash())
	if err != nil {
		t.Fatal(err)
	}
	if ev == nil || ev.Block.Hash() != blocks[0].Hash() || ev.Height != 1 {
		t.Error("height 3 with k=2 should confirm the first block")
	}
	if !bc.IsConfirmed(blocks[0].Hash()) {
		t.Error("k-deep block should report confirmed")
	}
	if bc.IsConfirmed(blocks[2].Hash()) {
		t.Error("tip should not be confirmed")
	}
}

func TestForeignHeaderBlockVerification(t *testing.T) {
	// Shard 0's copy of shard 1's chain.
	cfg := testutil.Config(2, 0, 4, 1)
	bc := New(cfg, 1, testutil.Logger())

	foreign := testutil.ExclusiveFullBlock(1, bc.GenesisHash(), 1, nil, nil).HeaderOnly()
	ev, err := bc.Insert(foreign, bc.GenesisHash())
	if err != nil {
		t.Fatalf("insert foreign header: %v", err)
	}
	if ev != nil {
		t.Error("unverified insert should not confirm anything")
	}
	status, _ := bc.Status(foreign.Hash())
	if status != Unverified {
		t.Errorf("status = %s, want unverified", status)
	}
	if bc.LongestVerifiedTip() != bc.GenesisHash() {
		t.Error("verified tip must not advance past an unverified block")
	}
	if got := bc.UnverifiedBlocks(); len(got) != 1 || got[0].BlockHash != foreign.Hash() {
		t.Error("unverified set should list the foreign block")
	}

	if _, err := bc.MarkVerified(foreign.Hash()); err != nil {
		t.Fatalf("mark verified: %v", err)
	}
	if bc.LongestVerifiedTip() != foreign.Hash() {
		t.Error("verified tip should advance after verification")
	}
	if len(bc.UnverifiedBlocks()) != 0 {
		t.Error("unverified set should be empty")
	}
	if _, err := bc.MarkVerified(foreign.Hash()); !errors.Is(err, ErrNotUnverified) {
		t.Errorf("second verification = %v, want ErrNotUnverified", err)
	}
}

func TestPruneFork(t *testing.T) {
	bc := newChain(t, 0, 6)
	main := testutil.EmptyBlocks(0, bc.GenesisHash(), 1, 2)
	forkRoot := testutil.ExclusiveFullBlock(0, bc.GenesisHash(), 10, nil, nil)
	forkChild := testutil.ExclusiveFullBlock(0, forkRoot.Hash(), 11, nil, nil)

	parent := bc.GenesisHash()
	for _, b := range main {
		if _, err := bc.Insert(b, parent); err != nil {
			t.Fatal(err)
		}
		parent = b.Hash()
	}
	if _, err := bc.Insert(forkRoot, bc.GenesisHash()); err != nil {
		t.Fatal(err)
	}
	if _, err := bc.Insert(forkChild, forkRoot.Hash()); err != nil {
		t.Fatal(err)
	}

	bc.Prune(forkRoot.Hash())

	if _, ok := bc.Block(forkRoot.Hash()); ok {
		t.Error("pruned block should be gone")
	}
	if _, ok := bc.Block(forkChild.Hash()); ok {
		t.Error("pruned descendant should be gone")
	}
	if st, _ := bc.Status(forkRoot.Hash()); st != Pruned {
		t.Error("pruned block should be marked pruned")
	}
	if bc.Tip() != main[1].Hash() {
		t.Error("tip should fall back to the surviving fork")
	}
	// A pruned hash is not a valid parent anymore.
	late := testutil.ExclusiveFullBlock(0, forkRoot.Hash(), 12, nil, nil)
	if _, err := bc.Insert(late, forkRoot.Hash()); !errors.Is(err, ErrUnknownParent) {
		t.Errorf("insert under pruned parent = %v, want ErrUnknownParent", err)
	}
}

func TestBlockWithTx(t *testing.T) {
	bc := newChain(t, 0, 6)
	u2 := testutil.UserWithAddr(0x02)
	init := testutil.InitialTx(u2, 10, 0)
	b1 := testutil.ExclusiveFullBlock(0, bc.GenesisHash(), 1, []types.Transaction{*init}, nil)
	if _, err := bc.Insert(b1, bc.GenesisHash()); err != nil {
		t.Fatal(err)
	}

	blk, idx, ok := bc.BlockWithTx(init.Hash())
	if !ok || blk.Hash() != b1.Hash() || idx != 0 {
		t.Error("tx should be located in b1 at index 0")
	}
	tx, ok := bc.TxInLongestChain(init.Hash())
	if !ok || tx.Hash() != init.Hash() {
		t.Error("tx lookup on the longest chain failed")
	}
	if _, _, ok := bc.BlockWithTx(hash.Sum([]byte("missing"))); ok {
		t.Error("absent tx should not be found")
	}
}

func TestInclusiveBlockUnderMultipleParents(t *testing.T) {
	bc := newChain(t, 0, 6)
	a := testutil.ExclusiveFullBlock(0, bc.GenesisHash(), 1, nil, nil)
	b := testutil.ExclusiveFullBlock(0, bc.GenesisHash(), 2, nil, nil)
	if _, err := bc.Insert(a, bc.GenesisHash()); err != nil {
		t.Fatal(err)
	}
	if _, err := bc.Insert(b, bc.GenesisHash()); err != nil {
		t.Fatal(err)
	}

	global := []block.ShardParents{{ShardID: 0, Parents: []hash.H256{a.Hash(), b.Hash()}}}
	inc := testutil.InclusiveFullBlock(0, a.Hash(), 3, nil, nil, global)

	if _, err := bc.Insert(inc, a.Hash()); err != nil {
		t.Fatalf("insert under first parent: %v", err)
	}
	if _, err := bc.Insert(inc, b.Hash()); err != nil {
		t.Fatalf("insert under second parent: %v", err)
	}
	if _, err := bc.Insert(inc, b.Hash()); !errors.Is(err, ErrAlreadyPresent) {
		t.Errorf("repeated edge = %v, want ErrAlreadyPresent", err)
	}
	if bc.Tip() != inc.Hash() {
		t.Error("inclusive block should be the tip")
	}
}
