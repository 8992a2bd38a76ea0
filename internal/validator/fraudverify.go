package validator

import (
	"github.com/manifoldchain/manifoldchain/internal/chain"
	"github.com/manifoldchain/manifoldchain/internal/fraudproof"
	"github.com/manifoldchain/manifoldchain/internal/types"
	"github.com/manifoldchain/manifoldchain/pkg/hash"
	"github.com/manifoldchain/manifoldchain/pkg/merkle"
)

// VerifyFraudProof is the reciprocal predicate to block validation: it
// accepts a proof iff the proof is self-evident from header commitments and
// the carried inclusions, without the full block body. The accused block
// must exist and still be Unverified here.
func (v *Validator) VerifyFraudProof(p *fraudproof.Proof) bool {
	if p.IsUnsolved() {
		return false
	}
	shardID := int(p.ShardID)
	invalidBlock, ok := v.multichain.BlockOf(p.InvalidBlockHash, shardID)
	if !ok {
		return false
	}
	if st, ok := v.multichain.StatusOf(p.InvalidBlockHash, shardID); !ok || st != chain.Unverified {
		return false
	}
	if !merkle.Verify(
		invalidBlock.TxMerkleRoot(),
		p.InvalidTx.Hash(),
		p.InvalidTxMerkleProof,
		int(p.InvalidIndex),
		v.cfg.BlockSize,
	) {
		return false
	}
	switch p.Kind {
	case fraudproof.KindDoubleSpending:
		return v.verifyDoubleSpendingProof(p)
	case fraudproof.KindUtxoLost, fraudproof.KindTestimonyLost:
		// No compact witness distinguishes a lost UTXO or testimony from
		// one the prover merely withheld; the inclusion check above is all
		// there is.
		return true
	case fraudproof.KindWrongShard:
		return v.verifyWrongShardProof(p)
	case fraudproof.KindUnequalCoins:
		return v.verifyUnequalCoinsProof(p)
	case fraudproof.KindWrongSignature:
		return v.verifyWrongSignatureProof(p)
	case fraudproof.KindWrongTestimony:
		return v.verifyWrongTestimonyProof(p)
	default:
		return false
	}
}

// verifyConflictInclusion checks the second inclusion a pairwise proof
// carries and that the conflict block is an ancestor of the accused one.
func (v *Validator) verifyConflictInclusion(p *fraudproof.Proof) bool {
	shardID := int(p.ShardID)
	conflictBlock, ok := v.multichain.BlockOf(p.ConflictBlockHash, shardID)
	if !ok {
		return false
	}
	history := v.multichain.ChainToOf(p.InvalidBlockHash, shardID)
	onPath := false
	for _, h := range history {
		if h == p.ConflictBlockHash {
			onPath = true
			break
		}
	}
	if !onPath {
		return false
	}
	return merkle.Verify(
		conflictBlock.TxMerkleRoot(),
		p.ConflictTx.Hash(),
		p.ConflictTxMerkleProof,
		int(p.ConflictIndex),
		v.cfg.BlockSize,
	)
}

func (v *Validator) verifyDoubleSpendingProof(p *fraudproof.Proof) bool {
	// Intra-transaction duplicate: no second inclusion required.
	seen := make(map[hash.H256]bool, len(p.InvalidTx.Inputs))
	for i := range p.InvalidTx.Inputs {
		h := p.InvalidTx.Inputs[i].Hash()
		if seen[h] {
			return true
		}
		seen[h] = true
	}
	if !v.verifyConflictInclusion(p) {
		return false
	}
	for i := range p.InvalidTx.Inputs {
		inHash := p.InvalidTx.Inputs[i].Hash()
		for j := range p.ConflictTx.Inputs {
			if p.ConflictTx.Inputs[j].Hash() == inHash {
				return true
			}
		}
	}
	return false
}

func (v *Validator) verifyWrongShardProof(p *fraudproof.Proof) bool {
	shardID := int(p.ShardID)
	for i := range p.InvalidTx.Inputs {
		if types.ShardOfAddr(p.InvalidTx.Inputs[i].SenderAddr, v.cfg.ShardNum) == shardID {
			return false
		}
	}
	for i := range p.InvalidTx.Outputs {
		if types.ShardOfAddr(p.InvalidTx.Outputs[i].ReceiverAddr, v.cfg.ShardNum) == shardID {
			return false
		}
	}
	return true
}

func (v *Validator) verifyUnequalCoinsProof(p *fraudproof.Proof) bool {
	var in, out uint64
	for i := range p.InvalidTx.Inputs {
		in += uint64(p.InvalidTx.Inputs[i].Value)
	}
	for i := range p.InvalidTx.Outputs {
		out += uint64(p.InvalidTx.Outputs[i].Value)
	}
	return in != out
}

func (v *Validator) verifyWrongSignatureProof(p *fraudproof.Proof) bool {
	if !v.verifyConflictInclusion(p) {
		return false
	}
	conflictHash := p.ConflictTx.Hash()
	for i := range p.InvalidTx.Inputs {
		in := &p.InvalidTx.Inputs[i]
		if in.SrcTxHash != conflictHash {
			continue
		}
		if int(in.Index) >= len(p.ConflictTx.Outputs) {
			return true
		}
		out := p.ConflictTx.Outputs[in.Index]
		return !types.VerifySignature(&p.ConflictTx, out.PublicKey, in.Signature)
	}
	return false
}

func (v *Validator) verifyWrongTestimonyProof(p *fraudproof.Proof) bool {
	if p.InvalidTestimony == nil {
		return false
	}
	shardID := int(p.ShardID)
	invalidBlock, ok := v.multichain.BlockOf(p.InvalidBlockHash, shardID)
	if !ok {
		return false
	}
	if !merkle.Verify(
		invalidBlock.TestimonyMerkleRoot(),
		p.InvalidTestimony.Hash(),
		p.InvalidTestimonyMerkleProof,
		int(p.InvalidTestimonyIndex),
		v.cfg.BlockSize,
	) {
		return false
	}
	if p.InvalidTestimony.TxHash != p.InvalidTx.Hash() {
		return false
	}
	for i := range p.InvalidTx.Inputs {
		in := &p.InvalidTx.Inputs[i]
		inShard := types.ShardOfAddr(in.SenderAddr, v.cfg.ShardNum)
		if inShard == shardID {
			continue
		}
		if err := v.ValidateCrossUtxo(&p.InvalidTx, in.Hash(), p.InvalidTestimony, inShard, StatusAvailable); err != nil {
			return true
		}
	}
	return false
}
