package block

import (
	"github.com/manifoldchain/manifoldchain/internal/types"
	"github.com/manifoldchain/manifoldchain/pkg/hash"
	"github.com/manifoldchain/manifoldchain/pkg/merkle"
)

// TxBlock is the payload of a full block: the transactions and the
// testimonies that travel with them, each under its own Merkle tree.
type TxBlock struct {
	ShardID     uint32              `cbor:"1,keyasint"`
	Txs         []types.Transaction `cbor:"2,keyasint"`
	Testimonies []types.Testimony   `cbor:"3,keyasint"`

	txTree  *merkle.Tree
	tmyTree *merkle.Tree
}

// NewTxBlock builds the payload and its trees.
func NewTxBlock(shardID uint32, txs []types.Transaction, tmys []types.Testimony) *TxBlock {
	return &TxBlock{ShardID: shardID, Txs: txs, Testimonies: tmys}
}

func (b *TxBlock) txMerkle() *merkle.Tree {
	if b.txTree == nil {
		leaves := make([]hash.H256, len(b.Txs))
		for i := range b.Txs {
			leaves[i] = b.Txs[i].Hash()
		}
		b.txTree = merkle.FromLeaves(leaves)
	}
	return b.txTree
}

func (b *TxBlock) tmyMerkle() *merkle.Tree {
	if b.tmyTree == nil {
		leaves := make([]hash.H256, len(b.Testimonies))
		for i := range b.Testimonies {
			leaves[i] = b.Testimonies[i].Hash()
		}
		b.tmyTree = merkle.FromLeaves(leaves)
	}
	return b.tmyTree
}

// TxMerkleRoot is the root the header commits to.
func (b *TxBlock) TxMerkleRoot() hash.H256 {
	return b.txMerkle().Root()
}

// TestimonyMerkleRoot is the testimony-tree root.
func (b *TxBlock) TestimonyMerkleRoot() hash.H256 {
	return b.tmyMerkle().Root()
}

// TxMerkleProof proves inclusion of the transaction at index.
func (b *TxBlock) TxMerkleProof(index int) []hash.H256 {
	if index < 0 || index >= len(b.Txs) {
		return nil
	}
	return b.txMerkle().Proof(index)
}

// TxMerkleProofByHash locates a transaction by hash and proves it.
func (b *TxBlock) TxMerkleProofByHash(txHash hash.H256) ([]hash.H256, int, bool) {
	for i := range b.Txs {
		if b.Txs[i].Hash() == txHash {
			return b.TxMerkleProof(i), i, true
		}
	}
	return nil, 0, false
}

// TestimonyMerkleProofByHash locates a testimony by hash and proves it.
func (b *TxBlock) TestimonyMerkleProofByHash(tmyHash hash.H256) ([]hash.H256, int, bool) {
	for i := range b.Testimonies {
		if b.Testimonies[i].Hash() == tmyHash {
			return b.tmyMerkle().Proof(i), i, true
		}
	}
	return nil, 0, false
}

// TestimonyByTx indexes the carried testimonies by the transaction hash
// they belong to.
func (b *TxBlock) TestimonyByTx() map[hash.H256]*types.Testimony {
	res := make(map[hash.H256]*types.Testimony, len(b.Testimonies))
	for i := range b.Testimonies {
		res[b.Testimonies[i].TxHash] = &b.Testimonies[i]
	}
	return res
}
