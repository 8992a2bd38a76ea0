package node

import (
	"testing"

	"github.com/manifoldchain/manifoldchain/internal/block"
	"github.com/manifoldchain/manifoldchain/internal/confirmation"
	"github.com/manifoldchain/manifoldchain/internal/fraudproof"
	"github.com/manifoldchain/manifoldchain/internal/mempool"
	"github.com/manifoldchain/manifoldchain/internal/multichain"
	"github.com/manifoldchain/manifoldchain/internal/types"
	"github.com/manifoldchain/manifoldchain/internal/validator"
	"github.com/manifoldchain/manifoldchain/pkg/hash"
	"github.com/manifoldchain/manifoldchain/testutil"
)

// recordingPublisher captures outbound effects for assertions.
type recordingPublisher struct {
	announced []*block.Block
	txs       map[int][]*types.Transaction
	tmys      map[int][]*types.Testimony
	proofs    []*fraudproof.Proof
	missing   map[int][]hash.H256
	samples   []validator.SampleIndex
}

func newRecordingPublisher() *recordingPublisher {
	return &recordingPublisher{
		txs:     make(map[int][]*types.Transaction),
		tmys:    make(map[int][]*types.Testimony),
		missing: make(map[int][]hash.H256),
	}
}

func (r *recordingPublisher) AnnounceBlock(b *block.Block) { r.announced = append(r.announced, b) }
func (r *recordingPublisher) PublishTransactions(shard int, txs []*types.Transaction) {
	r.txs[shard] = append(r.txs[shard], txs...)
}
func (r *recordingPublisher) PublishTestimonies(shard int, tmys []*types.Testimony) {
	r.tmys[shard] = append(r.tmys[shard], tmys...)
}
func (r *recordingPublisher) PublishFraudProof(p *fraudproof.Proof) { r.proofs = append(r.proofs, p) }
func (r *recordingPublisher) AnnounceMissingBlocks(shard int, hs []hash.H256) {
	r.missing[shard] = append(r.missing[shard], hs...)
}
func (r *recordingPublisher) RequestSamples(reqs []validator.SampleIndex) {
	r.samples = append(r.samples, reqs...)
}

func newEngine(t *testing.T, shardID int) (*Engine, *multichain.Multichain, *recordingPublisher) {
	t.Helper()
	cfg := testutil.Config(2, shardID, 2, 1)
	mc := multichain.New(cfg, testutil.Logger())
	mp := mempool.New(testutil.Logger())
	val := validator.New(mc, mp, cfg, testutil.Logger())
	conf := confirmation.New(mc, cfg, testutil.Logger())
	pub := newRecordingPublisher()
	return NewEngine(mc, mp, val, conf, cfg, pub, testutil.Logger()), mc, pub
}

func TestProcessInsertsValidBlock(t *testing.T) {
	engine, mc, _ := newEngine(t, 0)
	u2 := testutil.UserWithAddr(0x02)
	init := testutil.InitialTx(u2, 10, 0)
	genesis := mc.GenesisHashOf(0)
	b1 := testutil.ExclusiveFullBlock(0, genesis, 1, []types.Transaction{*init}, nil)

	res := engine.Process(b1)
	if !res.Accepted {
		t.Fatal("valid block should be accepted")
	}
	if mc.Tip() != b1.Hash() {
		t.Error("tip should advance")
	}
	if res.Proof != nil {
		t.Error("no proof expected")
	}
}

func TestOrphanBufferingAndDrain(t *testing.T) {
	engine, mc, pub := newEngine(t, 0)
	genesis := mc.GenesisHashOf(0)
	b1 := testutil.ExclusiveFullBlock(0, genesis, 1, nil, nil)
	b2 := testutil.ExclusiveFullBlock(0, b1.Hash(), 2, nil, nil)

	res := engine.Process(b2)
	if res.Accepted {
		t.Fatal("orphan should not be accepted yet")
	}
	if len(pub.missing[0]) != 1 || pub.missing[0][0] != b1.Hash() {
		t.Fatal("missing parent should be announced")
	}

	res = engine.Process(b1)
	if !res.Accepted {
		t.Fatal("parent should be accepted")
	}
	// The buffered child follows automatically.
	if mc.Tip() != b2.Hash() {
		t.Error("drained orphan should extend the chain")
	}
	found := false
	for _, blk := range pub.announced {
		if blk.Hash() == b2.Hash() {
			found = true
		}
	}
	if !found {
		t.Error("drained orphan should be re-announced")
	}
}

func TestProcessRejectsInvalidBlock(t *testing.T) {
	engine, mc, pub := newEngine(t, 0)
	u2 := testutil.UserWithAddr(0x02)
	genesis := mc.GenesisHashOf(0)

	phantom := testutil.InitialTx(u2, 10, 9)
	spend := testutil.Consume(types.FlagDomestic,
		[]testutil.Utxo{{Tx: phantom, Index: 0, Owner: u2}},
		[]testutil.Grant{{To: u2, Value: 10}},
	)
	bad := testutil.ExclusiveFullBlock(0, genesis, 1, []types.Transaction{*spend}, nil)

	res := engine.Process(bad)
	if res.Accepted {
		t.Error("invalid block must not be inserted")
	}
	if res.Proof == nil || res.Proof.Kind != fraudproof.KindUtxoLost {
		t.Errorf("proof = %v, want utxo-lost", res.Proof)
	}
	if len(pub.proofs) != 1 {
		t.Error("the proof should be gossiped")
	}
	if _, ok := mc.Block(bad.Hash()); ok {
		t.Error("invalid block must not reach the chain")
	}
}

func TestInclusiveBlockSpansShards(t *testing.T) {
	engine, mc, _ := newEngine(t, 0)
	g0 := mc.GenesisHashOf(0)
	g1 := mc.GenesisHashOf(1)
	global := []block.ShardParents{
		{ShardID: 0, Parents: []hash.H256{g0}},
		{ShardID: 1, Parents: []hash.H256{g1}},
	}
	inc := testutil.InclusiveFullBlock(0, g0, 1, nil, nil, global)

	res := engine.Process(inc)
	if !res.Accepted {
		t.Fatal("inclusive block should insert")
	}
	if _, ok := mc.BlockOf(inc.Hash(), 0); !ok {
		t.Error("full variant should land in the own shard")
	}
	foreign, ok := mc.BlockOf(inc.Hash(), 1)
	if !ok {
		t.Fatal("header variant should land in shard 1")
	}
	if foreign.Kind != block.KindInclusive {
		t.Errorf("foreign copy kind = %s, want inclusive", foreign.Kind)
	}
}

func TestHandleFraudProofPrunes(t *testing.T) {
	engine, mc, pub := newEngine(t, 0)
	u3 := testutil.UserWithAddr(0x03)
	genesis1 := mc.GenesisHashOf(1)

	// An unverified shard-1 block with an unbalanced transaction.
	unbalanced := types.Transaction{
		Inputs:  []types.UtxoInput{{SenderAddr: u3.Addr, Value: 5}},
		Outputs: []types.UtxoOutput{{ReceiverAddr: u3.Addr, Value: 9}},
		Flag:    types.FlagDomestic,
	}
	filler := *types.NewEmptyTx(1, 1)
	bad := testutil.ExclusiveFullBlock(1, genesis1, 1, []types.Transaction{unbalanced, filler}, nil)
	if _, err := mc.InsertBlock(bad.HeaderOnly(), genesis1, 1); err != nil {
		t.Fatal(err)
	}

	proof := &fraudproof.Proof{
		Kind:                 fraudproof.KindUnequalCoins,
		ShardID:              1,
		InvalidBlockHash:     bad.Hash(),
		InvalidTx:            unbalanced,
		InvalidTxMerkleProof: bad.TxMerkleProof(0),
		InvalidIndex:         0,
	}
	if !engine.HandleFraudProof(proof) {
		t.Fatal("sound proof should be accepted")
	}
	if _, ok := mc.BlockOf(bad.Hash(), 1); ok {
		t.Error("accused block should be pruned")
	}
	if len(pub.proofs) != 1 {
		t.Error("sound proof should be re-gossiped")
	}

	bogus := &fraudproof.Proof{
		Kind:             fraudproof.KindUnequalCoins,
		ShardID:          1,
		InvalidBlockHash: hash.Sum([]byte("unknown")),
	}
	if engine.HandleFraudProof(bogus) {
		t.Error("proof against an unknown block should be rejected")
	}
}
