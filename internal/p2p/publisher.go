package p2p

import (
	"github.com/manifoldchain/manifoldchain/internal/block"
	"github.com/manifoldchain/manifoldchain/internal/fraudproof"
	"github.com/manifoldchain/manifoldchain/internal/types"
	"github.com/manifoldchain/manifoldchain/internal/validator"
	"github.com/manifoldchain/manifoldchain/pkg/hash"
)

// AnnounceBlock gossips a block: the full body on its own shard's topic
// and the header-only variant on the global channel, so foreign shards can
// track the chain without the payload.
func (n *Network) AnnounceBlock(blk *block.Block) {
	if blk.Kind.IsFull() {
		n.publishShard(int(blk.ShardID()), &Message{
			Type:    bodiesTypeFor(blk.Kind),
			ShardID: blk.ShardID(),
			Blocks:  []*block.Block{blk},
		})
	}
	header := blk.HeaderOnly()
	n.publishGlobal(&Message{
		Type:    bodiesTypeFor(header.Kind),
		ShardID: header.ShardID(),
		Blocks:  []*block.Block{header},
	})
}

// PublishTransactions sends transaction bodies to one shard's topic.
func (n *Network) PublishTransactions(shardID int, txs []*types.Transaction) {
	if len(txs) == 0 {
		return
	}
	bodies := make([]types.Transaction, len(txs))
	for i, tx := range txs {
		bodies[i] = *tx
	}
	n.publishShard(shardID, &Message{
		Type:         MsgTransactions,
		ShardID:      uint32(shardID),
		Transactions: bodies,
	})
}

// PublishTestimonies sends testimony bodies to one shard's topic.
func (n *Network) PublishTestimonies(shardID int, tmys []*types.Testimony) {
	if len(tmys) == 0 {
		return
	}
	bodies := make([]types.Testimony, len(tmys))
	for i, tmy := range tmys {
		bodies[i] = *tmy
	}
	n.publishShard(shardID, &Message{
		Type:        MsgTestimonies,
		ShardID:     uint32(shardID),
		Testimonies: bodies,
	})
}

// PublishFraudProof gossips a proof on the global channel; proofs are not
// shard-scoped.
func (n *Network) PublishFraudProof(p *fraudproof.Proof) {
	if p.IsUnsolved() {
		return
	}
	n.publishGlobal(&Message{
		Type:        MsgFraudProofs,
		FraudProofs: []*fraudproof.Proof{p},
	})
}

// AnnounceMissingBlocks tells peers which parents this node lacks.
func (n *Network) AnnounceMissingBlocks(shardID int, hashes []hash.H256) {
	if len(hashes) == 0 {
		return
	}
	n.publishGlobal(&Message{
		Type:    MsgNewMissBlockHash,
		ShardID: uint32(shardID),
		Hashes:  hashes,
	})
}

// RequestSamples asks the network for data-availability samples.
func (n *Network) RequestSamples(reqs []validator.SampleIndex) {
	if len(reqs) == 0 {
		return
	}
	n.publishGlobal(&Message{
		Type:          MsgGetSamples,
		SampleIndexes: reqs,
	})
}

// AnnounceTransactionHashes gossips new transaction hashes for the pull
// protocol.
func (n *Network) AnnounceTransactionHashes(shardID int, hashes []hash.H256) {
	if len(hashes) == 0 {
		return
	}
	n.publishShard(shardID, &Message{
		Type:    MsgNewTransactionHash,
		ShardID: uint32(shardID),
		Hashes:  hashes,
	})
}
