package block

import (
	"github.com/manifoldchain/manifoldchain/internal/types"
)

// GenerateTestimony builds the testimony a miner publishes for a
// cross-shard transaction it just included at txIndex of blk.
//
// For an Input transaction the units prove the inputs this shard owns and
// the testimony is keyed by the hash of the Output twin (the reply the
// receiver shard will package). For an Output transaction the units prove
// the outputs this shard owns and the testimony is keyed by the Accept or
// Reject twin, per the decision.
func GenerateTestimony(tx *types.Transaction, blk *Block, txIndex, shardID, shardNum int, accept bool) (*types.Testimony, bool) {
	var units []types.TestimonyUnit
	var keyFlag types.TxFlag
	switch tx.Flag {
	case types.FlagInput:
		for i := range tx.Inputs {
			if types.ShardOfAddr(tx.Inputs[i].SenderAddr, shardNum) != shardID {
				continue
			}
			proof := blk.TxMerkleProof(txIndex)
			if proof == nil {
				return nil, false
			}
			units = append(units, types.TestimonyUnit{
				UnitHash:        tx.Inputs[i].Hash(),
				OriginBlockHash: blk.Hash(),
				TxMerkleProof:   proof,
				TxIndex:         uint32(txIndex),
			})
		}
		keyFlag = types.FlagOutput
	case types.FlagOutput:
		for i := range tx.Outputs {
			if types.ShardOfAddr(tx.Outputs[i].ReceiverAddr, shardNum) != shardID {
				continue
			}
			proof := blk.TxMerkleProof(txIndex)
			if proof == nil {
				return nil, false
			}
			units = append(units, types.TestimonyUnit{
				UnitHash:        tx.Outputs[i].Hash(),
				OriginBlockHash: blk.Hash(),
				TxMerkleProof:   proof,
				TxIndex:         uint32(txIndex),
			})
		}
		if accept {
			keyFlag = types.FlagAccept
		} else {
			keyFlag = types.FlagReject
		}
	default:
		return nil, false
	}
	return &types.Testimony{TxHash: tx.RelatedHash(keyFlag), Units: units}, true
}
