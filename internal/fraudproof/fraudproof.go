package fraudproof

import (
	"fmt"

	"github.com/manifoldchain/manifoldchain/internal/types"
	"github.com/manifoldchain/manifoldchain/pkg/hash"
)

// Kind enumerates the fraud-proof variants a validator can produce.
type Kind uint8

const (
	// KindUnsolved covers conditions with no compact proof (missing
	// parent, missing testimony, and the like). Never gossiped.
	KindUnsolved Kind = iota
	KindDoubleSpending
	KindUtxoLost
	KindWrongShard
	KindUnequalCoins
	KindWrongSignature
	KindTestimonyLost
	KindWrongTestimony
)

func (k Kind) String() string {
	switch k {
	case KindUnsolved:
		return "unsolved-fault"
	case KindDoubleSpending:
		return "double-spending"
	case KindUtxoLost:
		return "utxo-lost"
	case KindWrongShard:
		return "wrong-shard"
	case KindUnequalCoins:
		return "unequal-coins"
	case KindWrongSignature:
		return "wrong-signature"
	case KindTestimonyLost:
		return "testimony-lost"
	case KindWrongTestimony:
		return "wrong-testimony"
	default:
		return "unknown"
	}
}

// Proof is a self-contained accusation against one block: the offending
// transaction with its inclusion proof, and, for the pairwise variants, the
// conflicting transaction with its own. A proof verifies against header
// commitments only; no full block body is needed.
type Proof struct {
	Kind    Kind   `cbor:"1,keyasint"`
	ShardID uint32 `cbor:"2,keyasint"`

	InvalidBlockHash     hash.H256         `cbor:"3,keyasint"`
	InvalidTx            types.Transaction `cbor:"4,keyasint"`
	InvalidTxMerkleProof []hash.H256       `cbor:"5,keyasint"`
	InvalidIndex         uint32            `cbor:"6,keyasint"`

	// DoubleSpending and WrongSignature carry the second inclusion.
	ConflictBlockHash     hash.H256         `cbor:"7,keyasint,omitempty"`
	ConflictTx            types.Transaction `cbor:"8,keyasint,omitempty"`
	ConflictTxMerkleProof []hash.H256       `cbor:"9,keyasint,omitempty"`
	ConflictIndex         uint32            `cbor:"10,keyasint,omitempty"`

	// WrongTestimony carries the accused testimony and its inclusion.
	InvalidTestimony            *types.Testimony `cbor:"11,keyasint,omitempty"`
	InvalidTestimonyMerkleProof []hash.H256      `cbor:"12,keyasint,omitempty"`
	InvalidTestimonyIndex       uint32           `cbor:"13,keyasint,omitempty"`
}

// Unsolved is the opaque no-compact-proof value.
func Unsolved() *Proof {
	return &Proof{Kind: KindUnsolved}
}

// IsUnsolved reports whether the proof carries no gossipable evidence.
func (p *Proof) IsUnsolved() bool {
	return p == nil || p.Kind == KindUnsolved
}

// Error makes a Proof usable as a validation failure.
func (p *Proof) Error() string {
	if p.IsUnsolved() {
		return "validation failed: unsolved fault"
	}
	return fmt.Sprintf("validation failed: %s in block %s", p.Kind, p.InvalidBlockHash)
}

// Hash digests the proof for gossip dedup. UnsolvedFault hashes to the
// default value.
func (p *Proof) Hash() hash.H256 {
	if p.IsUnsolved() {
		return hash.Max
	}
	head := hash.Sum([]byte(fmt.Sprintf("%d%d%d%d", p.Kind, p.ShardID, p.InvalidIndex, p.ConflictIndex)))
	hs := []hash.H256{
		head,
		p.InvalidBlockHash,
		p.InvalidTx.Hash(),
		p.ConflictBlockHash,
		p.ConflictTx.Hash(),
	}
	hs = append(hs, p.InvalidTxMerkleProof...)
	hs = append(hs, p.ConflictTxMerkleProof...)
	if p.InvalidTestimony != nil {
		hs = append(hs, p.InvalidTestimony.Hash())
		hs = append(hs, p.InvalidTestimonyMerkleProof...)
	}
	return hash.MultiHash(hs)
}
