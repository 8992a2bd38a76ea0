package block

import (
	"errors"

	"github.com/manifoldchain/manifoldchain/internal/types"
	"github.com/manifoldchain/manifoldchain/pkg/hash"
)

// Kind tags the four block variants.
type Kind uint8

const (
	// KindExclusive is a header-only block extending a single shard.
	KindExclusive Kind = iota
	// KindInclusive is a header-only block committing to every shard's tips.
	KindInclusive
	// KindExclusiveFull carries the transaction payload.
	KindExclusiveFull
	// KindInclusiveFull carries the payload and the global-parent tuple.
	KindInclusiveFull
)

func (k Kind) String() string {
	switch k {
	case KindExclusive:
		return "exclusive"
	case KindInclusive:
		return "inclusive"
	case KindExclusiveFull:
		return "exclusive-full"
	case KindInclusiveFull:
		return "inclusive-full"
	default:
		return "unknown"
	}
}

// IsFull reports whether the variant carries a payload.
func (k Kind) IsFull() bool {
	return k == KindExclusiveFull || k == KindInclusiveFull
}

// IsInclusive reports whether the variant commits to global parents.
func (k Kind) IsInclusive() bool {
	return k == KindInclusive || k == KindInclusiveFull
}

// ShardParents is one entry of an inclusive block's global-parent tuple:
// the candidate tips of one shard.
type ShardParents struct {
	ShardID uint32      `cbor:"1,keyasint"`
	Parents []hash.H256 `cbor:"2,keyasint"`
}

// Block is the tagged sum of the four variants. HashVal stores the hash the
// miner claims; VerifyHash recomputes it. GlobalParents is set only on
// inclusive variants, TxBlock only on full ones.
type Block struct {
	Kind          Kind           `cbor:"1,keyasint"`
	Consensus     Consensus      `cbor:"2,keyasint"`
	HashVal       hash.H256      `cbor:"3,keyasint"`
	InterParents  []hash.H256    `cbor:"4,keyasint"`
	GlobalParents []ShardParents `cbor:"5,keyasint,omitempty"`
	TxBlock       *TxBlock       `cbor:"6,keyasint,omitempty"`
}

var errNoPayload = errors.New("block: header-only variant has no payload")

// NewExclusive wraps a consensus block as a header-only exclusive block.
func NewExclusive(cons Consensus, hashVal hash.H256, interParents []hash.H256) *Block {
	return &Block{
		Kind:         KindExclusive,
		Consensus:    cons,
		HashVal:      hashVal,
		InterParents: interParents,
	}
}

// NewInclusive wraps a consensus block as a header-only inclusive block.
func NewInclusive(cons Consensus, hashVal hash.H256, interParents []hash.H256, global []ShardParents) *Block {
	return &Block{
		Kind:          KindInclusive,
		Consensus:     cons,
		HashVal:       hashVal,
		InterParents:  interParents,
		GlobalParents: global,
	}
}

// NewExclusiveFull attaches a payload to an exclusive block.
func NewExclusiveFull(cons Consensus, hashVal hash.H256, interParents []hash.H256, txBlock *TxBlock) *Block {
	return &Block{
		Kind:         KindExclusiveFull,
		Consensus:    cons,
		HashVal:      hashVal,
		InterParents: interParents,
		TxBlock:      txBlock,
	}
}

// NewInclusiveFull attaches a payload to an inclusive block.
func NewInclusiveFull(cons Consensus, hashVal hash.H256, interParents []hash.H256, global []ShardParents, txBlock *TxBlock) *Block {
	return &Block{
		Kind:          KindInclusiveFull,
		Consensus:     cons,
		HashVal:       hashVal,
		InterParents:  interParents,
		GlobalParents: global,
		TxBlock:       txBlock,
	}
}

// Genesis builds the per-shard genesis block: the default consensus block
// with the shard id set, wrapped as an exclusive block.
func Genesis(shardID uint32) *Block {
	cons := DefaultConsensus()
	cons.Header.ShardID = shardID
	return NewExclusive(cons, cons.Hash(), nil)
}

// Hash returns the stored block hash.
func (b *Block) Hash() hash.H256 {
	return b.HashVal
}

// Parent is the verified parent named in the header.
func (b *Block) Parent() hash.H256 {
	return b.Consensus.Header.Parent
}

// ShardID is the originating shard recorded in the header. For inclusive
// blocks this may differ from the shard a copy is inserted into.
func (b *Block) ShardID() uint32 {
	return b.Consensus.Header.ShardID
}

// Difficulty is the PoW target the block claims to satisfy.
func (b *Block) Difficulty() hash.H256 {
	return b.Consensus.Header.Difficulty
}

// Timestamp is the header timestamp in unix nanoseconds.
func (b *Block) Timestamp() int64 {
	return b.Consensus.Header.Timestamp
}

// TxMerkleRoot is the committed transaction-tree root.
func (b *Block) TxMerkleRoot() hash.H256 {
	return b.Consensus.Header.TxMerkleRoot
}

// TestimonyMerkleRoot is the committed testimony-tree root.
func (b *Block) TestimonyMerkleRoot() hash.H256 {
	return b.Consensus.TestimonyMerkleRoot
}

// VerifyHash recomputes the consensus hash and compares it to the stored
// value.
func (b *Block) VerifyHash() bool {
	return b.Consensus.Hash() == b.HashVal
}

// VerifyPoW checks the mining target: hash <= difficulty.
func (b *Block) VerifyPoW() bool {
	return b.HashVal.LessOrEqual(b.Consensus.Header.Difficulty)
}

// VerifyFormat checks that the stored hash and the committed Merkle roots
// match the carried lists.
func (b *Block) VerifyFormat() bool {
	if !b.VerifyHash() {
		return false
	}
	if b.Consensus.InterParentMerkleRoot != InterParentRoot(b.InterParents) {
		return false
	}
	if b.Kind.IsInclusive() {
		if b.Consensus.GlobalParentMerkleRoot != GlobalParentRoot(b.GlobalParents) {
			return false
		}
	}
	if b.Kind.IsFull() {
		if b.TxBlock == nil {
			return false
		}
		if b.Consensus.Header.TxMerkleRoot != b.TxBlock.TxMerkleRoot() {
			return false
		}
		if b.Consensus.TestimonyMerkleRoot != b.TxBlock.TestimonyMerkleRoot() {
			return false
		}
	}
	return true
}

// Txs returns the carried transactions, or an error for header-only
// variants.
func (b *Block) Txs() ([]types.Transaction, error) {
	if !b.Kind.IsFull() || b.TxBlock == nil {
		return nil, errNoPayload
	}
	return b.TxBlock.Txs, nil
}

// Testimonies indexes the carried testimonies by transaction hash; nil for
// header-only variants.
func (b *Block) Testimonies() map[hash.H256]*types.Testimony {
	if !b.Kind.IsFull() || b.TxBlock == nil {
		return nil
	}
	return b.TxBlock.TestimonyByTx()
}

// GlobalParentsMap keys the global-parent tuple by shard id.
func (b *Block) GlobalParentsMap() map[uint32][]hash.H256 {
	res := make(map[uint32][]hash.H256, len(b.GlobalParents))
	for _, sp := range b.GlobalParents {
		res[sp.ShardID] = sp.Parents
	}
	return res
}

// ParentsInShard lists the parents this block may legally be inserted
// under in the given shard: the inter-parents for exclusive variants, the
// matching global-parent entry for inclusive ones.
func (b *Block) ParentsInShard(shardID uint32) []hash.H256 {
	if b.Kind.IsInclusive() {
		return b.GlobalParentsMap()[shardID]
	}
	return b.InterParents
}

// TxMerkleProof proves the transaction at index; nil for header-only
// variants.
func (b *Block) TxMerkleProof(index int) []hash.H256 {
	if !b.Kind.IsFull() || b.TxBlock == nil {
		return nil
	}
	return b.TxBlock.TxMerkleProof(index)
}

// HeaderOnly strips the payload for cross-shard gossip: full variants
// become their header-only counterpart, header-only variants are returned
// as is.
func (b *Block) HeaderOnly() *Block {
	switch b.Kind {
	case KindExclusiveFull:
		return NewExclusive(b.Consensus, b.HashVal, b.InterParents)
	case KindInclusiveFull:
		return NewInclusive(b.Consensus, b.HashVal, b.InterParents, b.GlobalParents)
	default:
		return b
	}
}

// Sample is one (position, sibling hash) element of a data-availability
// sample: a slot of the Merkle proof for some transaction index.
type Sample struct {
	Position uint32    `cbor:"1,keyasint"`
	Sibling  hash.H256 `cbor:"2,keyasint"`
}

// IntoSamples exports the proof of the transaction at index as samples.
func (b *Block) IntoSamples(index int) []Sample {
	proof := b.TxMerkleProof(index)
	if proof == nil {
		return nil
	}
	samples := make([]Sample, len(proof))
	for i, h := range proof {
		samples[i] = Sample{Position: uint32(i), Sibling: h}
	}
	return samples
}
