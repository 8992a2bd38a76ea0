package validator

import (
	"github.com/manifoldchain/manifoldchain/internal/block"
	"github.com/manifoldchain/manifoldchain/pkg/hash"
	"github.com/manifoldchain/manifoldchain/pkg/merkle"
)

// SampleIndex identifies one data-availability probe: a transaction slot of
// a block in some shard.
type SampleIndex struct {
	BlockHash hash.H256 `cbor:"1,keyasint"`
	TxIndex   uint32    `cbor:"2,keyasint"`
	ShardID   uint32    `cbor:"3,keyasint"`
}

// VerifySamples accepts when some combination of the provided samples, one
// per proof position, reconstructs the block's committed tx Merkle root.
// Gossip may deliver several candidate siblings per position; every
// combination is tried.
func (v *Validator) VerifySamples(idx SampleIndex, samples []block.Sample) bool {
	proofLen := v.cfg.TxMerkleProofLen
	if len(samples) < proofLen {
		return false
	}
	blk, ok := v.multichain.BlockOf(idx.BlockHash, int(idx.ShardID))
	if !ok {
		return false
	}
	if int(idx.TxIndex) >= v.cfg.BlockSize {
		return false
	}

	byPosition := make(map[int][]hash.H256)
	for _, s := range samples {
		pos := int(s.Position)
		dup := false
		for _, h := range byPosition[pos] {
			if h == s.Sibling {
				dup = true
				break
			}
		}
		if !dup {
			byPosition[pos] = append(byPosition[pos], s.Sibling)
		}
	}
	for i := 0; i < proofLen; i++ {
		if len(byPosition[i]) == 0 {
			return false
		}
	}

	root := blk.TxMerkleRoot()
	txIndex := int(idx.TxIndex)
	datumPos := merkle.ProofIndex(txIndex, v.cfg.BlockSize)
	for _, candidate := range combineSamples(nil, byPosition, 0, proofLen-1) {
		if datumPos >= len(candidate) {
			continue
		}
		if merkle.Verify(root, candidate[datumPos], candidate, txIndex, v.cfg.BlockSize) {
			return true
		}
	}
	return false
}

// combineSamples expands the per-position candidate lists into full proof
// candidates.
func combineSamples(prefix []hash.H256, byPosition map[int][]hash.H256, index, maxIndex int) [][]hash.H256 {
	var res [][]hash.H256
	for _, h := range byPosition[index] {
		next := append(append([]hash.H256(nil), prefix...), h)
		if index == maxIndex {
			res = append(res, next)
		} else {
			res = append(res, combineSamples(next, byPosition, index+1, maxIndex)...)
		}
	}
	return res
}
