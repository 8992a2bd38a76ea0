package validator

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/manifoldchain/manifoldchain/internal/block"
	"github.com/manifoldchain/manifoldchain/internal/chain"
	"github.com/manifoldchain/manifoldchain/internal/config"
	"github.com/manifoldchain/manifoldchain/internal/fraudproof"
	"github.com/manifoldchain/manifoldchain/internal/mempool"
	"github.com/manifoldchain/manifoldchain/internal/multichain"
	"github.com/manifoldchain/manifoldchain/internal/types"
	"github.com/manifoldchain/manifoldchain/pkg/hash"
	"github.com/manifoldchain/manifoldchain/pkg/merkle"
)

// Source tells the validator where a transaction came from: fresh off the
// wire, or carried by a block and checked against the parent's state.
type Source uint8

const (
	FromTransaction Source = iota
	FromBlock
)

// CrossUtxoStatus selects how deep the originator block of a cross-shard
// UTXO must sit.
type CrossUtxoStatus uint8

const (
	// StatusAvailable requires longest-chain membership.
	StatusAvailable CrossUtxoStatus = iota
	// StatusConfirmed requires k-deep confirmation.
	StatusConfirmed
)

// Validator holds every stateless and state-relative correctness predicate.
// Failures surface as typed fraud proofs; conditions with no compact
// witness collapse to the unsolved variant.
type Validator struct {
	multichain *multichain.Multichain
	mempool    *mempool.Mempool
	cfg        *config.Config
	logger     *zap.Logger
}

// New wires a validator to its chain view and mempool.
func New(mc *multichain.Multichain, mp *mempool.Mempool, cfg *config.Config, logger *zap.Logger) *Validator {
	return &Validator{multichain: mc, mempool: mp, cfg: cfg, logger: logger}
}

// CheckInputFromState resolves an input against a state snapshot and
// verifies the spending signature against the producing transaction's
// committed public key. A missing entry is an unsolved fault for the caller
// to refine; a bad signature is a WrongSignature husk.
func CheckInputFromState(in *types.UtxoInput, state chain.State) (chain.StateEntry, *fraudproof.Proof) {
	entry, ok := state[chain.StateKey{TxHash: in.SrcTxHash, Index: in.Index}]
	if !ok {
		return chain.StateEntry{}, fraudproof.Unsolved()
	}
	// A Reject entry is keyed by input position; there is no output to
	// check a signature against.
	if entry.Tx.Flag == types.FlagReject {
		return entry, nil
	}
	if int(in.Index) >= len(entry.Tx.Outputs) {
		return chain.StateEntry{}, fraudproof.Unsolved()
	}
	out := entry.Tx.Outputs[in.Index]
	if !types.VerifySignature(&entry.Tx, out.PublicKey, in.Signature) {
		return chain.StateEntry{}, &fraudproof.Proof{
			Kind:       fraudproof.KindWrongSignature,
			ConflictTx: entry.Tx,
		}
	}
	return entry, nil
}

// ValidateTx runs the stateless checks and, for block-carried transactions,
// the state-relative ones under the parent's snapshot. A nil result is a
// pass.
func (v *Validator) ValidateTx(tx *types.Transaction, tmy *types.Testimony, parent *hash.H256, src Source) *fraudproof.Proof {
	if tx.Flag == types.FlagInitial || tx.Flag == types.FlagEmpty {
		return nil
	}
	if !tx.BelongsToShard(v.cfg.ShardID, v.cfg.ShardNum) {
		return &fraudproof.Proof{
			Kind:      fraudproof.KindWrongShard,
			ShardID:   uint32(v.cfg.ShardID),
			InvalidTx: *tx,
		}
	}
	var in, out uint64
	for _, i := range tx.Inputs {
		in += uint64(i.Value)
	}
	for _, o := range tx.Outputs {
		out += uint64(o.Value)
	}
	if in != out {
		return &fraudproof.Proof{
			Kind:      fraudproof.KindUnequalCoins,
			ShardID:   uint32(v.cfg.ShardID),
			InvalidTx: *tx,
		}
	}
	if src == FromTransaction {
		// Fresh transactions only need to be new.
		txHash := tx.Hash()
		if v.mempool.Has(txHash) {
			return fraudproof.Unsolved()
		}
		if _, ok := v.multichain.TxInLongestChain(txHash); ok {
			return fraudproof.Unsolved()
		}
		return nil
	}
	if parent == nil {
		return fraudproof.Unsolved()
	}
	state, ok := v.multichain.StateOf(*parent)
	if !ok {
		return fraudproof.Unsolved()
	}
	return v.CheckTxFromState(tx, tmy, *parent, state)
}

// CheckTxFromState dispatches the state-relative check by flag.
func (v *Validator) CheckTxFromState(tx *types.Transaction, tmy *types.Testimony, parent hash.H256, state chain.State) *fraudproof.Proof {
	switch tx.Flag {
	case types.FlagInitial, types.FlagEmpty:
		return nil
	case types.FlagDomestic, types.FlagInput:
		return v.checkDomesticInputTx(tx, parent, state)
	case types.FlagOutput:
		if tmy == nil {
			return fraudproof.Unsolved()
		}
		_, proof := v.CheckOutputTx(tx, tmy)
		return proof
	case types.FlagAccept, types.FlagReject:
		if tmy == nil {
			return fraudproof.Unsolved()
		}
		return v.CheckAcceptRejectTx(tx, tmy)
	default:
		return fraudproof.Unsolved()
	}
}

// checkDomesticInputTx validates the inputs this shard owns: no duplicate
// input inside the transaction, every spent key present in the state, and
// a verifying signature. Cross-shard entries consumed here must carry
// testimonies that still hold.
func (v *Validator) checkDomesticInputTx(tx *types.Transaction, parent hash.H256, state chain.State) *fraudproof.Proof {
	seen := make(map[hash.H256]bool, len(tx.Inputs))
	for i := range tx.Inputs {
		in := &tx.Inputs[i]
		if types.ShardOfAddr(in.SenderAddr, v.cfg.ShardNum) != v.cfg.ShardID {
			continue
		}
		inHash := in.Hash()
		if seen[inHash] {
			return &fraudproof.Proof{
				Kind:       fraudproof.KindDoubleSpending,
				ShardID:    uint32(v.cfg.ShardID),
				InvalidTx:  *tx,
				ConflictTx: *tx,
			}
		}
		seen[inHash] = true

		entry, proof := CheckInputFromState(in, state)
		if proof != nil {
			return v.refineStateError(tx, proof, parent, inHash)
		}
		if entry.Testimony == nil {
			continue
		}
		// Spending a cross-shard entry: the entry's testimony must still
		// prove confirmed originator blocks.
		switch entry.Tx.Flag {
		case types.FlagOutput:
			for j := range entry.Tx.Inputs {
				oriShard := types.ShardOfAddr(entry.Tx.Inputs[j].SenderAddr, v.cfg.ShardNum)
				if err := v.ValidateCrossUtxo(&entry.Tx, entry.Tx.Inputs[j].Hash(), entry.Testimony, oriShard, StatusConfirmed); err != nil {
					return &fraudproof.Proof{
						Kind:             fraudproof.KindWrongTestimony,
						ShardID:          uint32(v.cfg.ShardID),
						InvalidTx:        *tx,
						InvalidTestimony: entry.Testimony,
					}
				}
			}
		case types.FlagReject:
			for j := range entry.Tx.Outputs {
				oriShard := types.ShardOfAddr(entry.Tx.Outputs[j].ReceiverAddr, v.cfg.ShardNum)
				if err := v.ValidateCrossUtxo(&entry.Tx, entry.Tx.Outputs[j].Hash(), entry.Testimony, oriShard, StatusConfirmed); err != nil {
					return &fraudproof.Proof{
						Kind:             fraudproof.KindWrongTestimony,
						ShardID:          uint32(v.cfg.ShardID),
						InvalidTx:        *tx,
						InvalidTestimony: entry.Testimony,
					}
				}
			}
		}
	}
	return nil
}

// CheckOutputTx validates the mint half of a cross-shard transfer. Every
// input is checked against the testimony; the transaction passes with at
// least one valid input (allValid reports whether the complement is empty,
// which decides Accept against Reject later).
func (v *Validator) CheckOutputTx(tx *types.Transaction, tmy *types.Testimony) (allValid bool, proof *fraudproof.Proof) {
	seen := make(map[hash.H256]bool, len(tx.Inputs))
	allValid = true
	oneValid := false
	oriTx := tx.WithFlag(types.FlagInput)
	for i := range tx.Inputs {
		inHash := tx.Inputs[i].Hash()
		if seen[inHash] {
			return false, &fraudproof.Proof{
				Kind:       fraudproof.KindDoubleSpending,
				ShardID:    uint32(v.cfg.ShardID),
				InvalidTx:  *tx,
				ConflictTx: *tx,
			}
		}
		seen[inHash] = true
		oriShard := types.ShardOfAddr(tx.Inputs[i].SenderAddr, v.cfg.ShardNum)
		if err := v.ValidateCrossUtxo(oriTx, inHash, tmy, oriShard, StatusConfirmed); err != nil {
			allValid = false
		} else {
			oneValid = true
		}
	}
	if !oneValid {
		return false, fraudproof.Unsolved()
	}
	return allValid, nil
}

// CheckAcceptRejectTx validates a settlement transaction: its Input twin
// must sit on this shard's longest chain, and every output unit of the
// testimony must prove a confirmed Output block in the receiver shard.
func (v *Validator) CheckAcceptRejectTx(tx *types.Transaction, tmy *types.Testimony) *fraudproof.Proof {
	if _, ok := v.multichain.TxInLongestChain(tx.RelatedHash(types.FlagInput)); !ok {
		return fraudproof.Unsolved()
	}
	oriTx := tx.WithFlag(types.FlagOutput)
	for i := range tx.Outputs {
		outHash := tx.Outputs[i].Hash()
		oriShard := types.ShardOfAddr(tx.Outputs[i].ReceiverAddr, v.cfg.ShardNum)
		if err := v.ValidateCrossUtxo(oriTx, outHash, tmy, oriShard, StatusConfirmed); err != nil {
			return &fraudproof.Proof{
				Kind:             fraudproof.KindWrongTestimony,
				ShardID:          uint32(v.cfg.ShardID),
				InvalidTx:        *tx,
				InvalidTestimony: tmy,
			}
		}
	}
	return nil
}

var (
	errNoUnit            = errors.New("validator: testimony unit not found")
	errOriginNotFound    = errors.New("validator: originator block not found")
	errBadTestimonyProof = errors.New("validator: testimony proof does not verify")
	errNotOnLongestChain = errors.New("validator: originator block off the longest chain")
	errNotConfirmed      = errors.New("validator: originator block not confirmed")
)

// ValidateCrossUtxo checks one testimony unit: the claimed originator block
// exists in the originating shard, the Merkle proof binds tx to that
// block's committed root, and the block is as settled as status demands.
func (v *Validator) ValidateCrossUtxo(tx *types.Transaction, unitHash hash.H256, tmy *types.Testimony, oriShard int, status CrossUtxoStatus) error {
	unit, ok := tmy.Unit(unitHash)
	if !ok {
		return errNoUnit
	}
	oriBlock, ok := v.multichain.BlockOf(unit.OriginBlockHash, oriShard)
	if !ok {
		return errOriginNotFound
	}
	if !merkle.Verify(oriBlock.TxMerkleRoot(), tx.Hash(), unit.TxMerkleProof, int(unit.TxIndex), v.cfg.BlockSize) {
		return errBadTestimonyProof
	}
	switch status {
	case StatusAvailable:
		if !v.multichain.IsBlockInLongestChain(unit.OriginBlockHash, oriShard) {
			return errNotOnLongestChain
		}
	case StatusConfirmed:
		if !v.multichain.IsBlockConfirmed(unit.OriginBlockHash, oriShard) {
			return errNotConfirmed
		}
	}
	return nil
}

// refineStateError upgrades a bare failure from CheckInputFromState into a
// verifiable proof: a signature failure gets the conflicting inclusion
// attached; a missing entry becomes DoubleSpending when some ancestor block
// already consumed the same input, UtxoLost otherwise.
func (v *Validator) refineStateError(tx *types.Transaction, proof *fraudproof.Proof, parent hash.H256, inputHash hash.H256) *fraudproof.Proof {
	switch proof.Kind {
	case fraudproof.KindWrongSignature:
		proof.ShardID = uint32(v.cfg.ShardID)
		proof.InvalidTx = *tx
		if blk, idx, ok := v.multichain.BlockWithTx(proof.ConflictTx.Hash()); ok {
			proof.ConflictBlockHash = blk.Hash()
			proof.ConflictTxMerkleProof = blk.TxMerkleProof(idx)
			proof.ConflictIndex = uint32(idx)
		}
		return proof
	case fraudproof.KindUnsolved:
		for _, ancestorHash := range v.multichain.ChainTo(parent) {
			blk, ok := v.multichain.Block(ancestorHash)
			if !ok {
				continue
			}
			txs, err := blk.Txs()
			if err != nil {
				continue
			}
			for i := range txs {
				for j := range txs[i].Inputs {
					if txs[i].Inputs[j].Hash() != inputHash {
						continue
					}
					return &fraudproof.Proof{
						Kind:                  fraudproof.KindDoubleSpending,
						ShardID:               uint32(v.cfg.ShardID),
						InvalidTx:             *tx,
						ConflictTx:            txs[i],
						ConflictBlockHash:     blk.Hash(),
						ConflictTxMerkleProof: blk.TxMerkleProof(i),
						ConflictIndex:         uint32(i),
					}
				}
			}
		}
		return &fraudproof.Proof{
			Kind:      fraudproof.KindUtxoLost,
			ShardID:   uint32(v.cfg.ShardID),
			InvalidTx: *tx,
		}
	default:
		return fraudproof.Unsolved()
	}
}

// ValidateBlock checks a block against a candidate parent. Header-only
// variants pass on hash and PoW alone; full variants additionally run every
// transaction against the parent's state, in order, plus the intra-block
// double-spend check. Failures come back as proofs enriched with the block
// hash and inclusion proofs.
func (v *Validator) ValidateBlock(blk *block.Block, parent hash.H256) *fraudproof.Proof {
	blkHash := blk.Hash()
	if !blk.VerifyHash() || !blk.VerifyPoW() {
		return fraudproof.Unsolved()
	}
	if !blk.Kind.IsFull() {
		return nil
	}
	if _, ok := v.multichain.Block(parent); !ok {
		v.logger.Debug("block validation: parent not found", zap.Stringer("parent", parent))
		return fraudproof.Unsolved()
	}
	state, ok := v.multichain.StateOf(parent)
	if !ok {
		return fraudproof.Unsolved()
	}

	txs, err := blk.Txs()
	if err != nil {
		return fraudproof.Unsolved()
	}
	tmys := blk.Testimonies()
	seen := make(map[hash.H256]struct {
		tx    types.Transaction
		index int
	})
	for i := range txs {
		tx := &txs[i]
		var tmy *types.Testimony
		if t, ok := tmys[tx.Hash()]; ok {
			tmy = t
		}
		if proof := v.validateBlockTx(tx, tmy, parent, state); proof != nil {
			if proof.IsUnsolved() {
				return proof
			}
			v.logger.Info("invalid tx in block",
				zap.Stringer("block", blkHash),
				zap.String("fault", proof.Kind.String()),
				zap.Int("tx_index", i),
			)
			return v.enrichProof(proof, blk, tmy, i)
		}
		if tx.Flag == types.FlagInput || tx.Flag == types.FlagDomestic {
			for j := range tx.Inputs {
				inHash := tx.Inputs[j].Hash()
				if prev, dup := seen[inHash]; dup {
					return &fraudproof.Proof{
						Kind:                  fraudproof.KindDoubleSpending,
						ShardID:               uint32(v.cfg.ShardID),
						InvalidBlockHash:      blkHash,
						InvalidTx:             *tx,
						InvalidTxMerkleProof:  blk.TxMerkleProof(i),
						InvalidIndex:          uint32(i),
						ConflictBlockHash:     blkHash,
						ConflictTx:            prev.tx,
						ConflictTxMerkleProof: blk.TxMerkleProof(prev.index),
						ConflictIndex:         uint32(prev.index),
					}
				}
				seen[inHash] = struct {
					tx    types.Transaction
					index int
				}{*tx, i}
			}
		}
	}
	return nil
}

// validateBlockTx runs the stateless and state-relative checks for one
// block-carried transaction.
func (v *Validator) validateBlockTx(tx *types.Transaction, tmy *types.Testimony, parent hash.H256, state chain.State) *fraudproof.Proof {
	if tx.Flag == types.FlagInitial || tx.Flag == types.FlagEmpty {
		return nil
	}
	if !tx.BelongsToShard(v.cfg.ShardID, v.cfg.ShardNum) {
		return &fraudproof.Proof{
			Kind:      fraudproof.KindWrongShard,
			ShardID:   uint32(v.cfg.ShardID),
			InvalidTx: *tx,
		}
	}
	var in, out uint64
	for _, i := range tx.Inputs {
		in += uint64(i.Value)
	}
	for _, o := range tx.Outputs {
		out += uint64(o.Value)
	}
	if in != out {
		return &fraudproof.Proof{
			Kind:      fraudproof.KindUnequalCoins,
			ShardID:   uint32(v.cfg.ShardID),
			InvalidTx: *tx,
		}
	}
	return v.CheckTxFromState(tx, tmy, parent, state)
}

// enrichProof completes a per-transaction proof with the accused block's
// hash and the offending inclusion; a WrongTestimony proof additionally
// gets the testimony inclusion.
func (v *Validator) enrichProof(proof *fraudproof.Proof, blk *block.Block, tmy *types.Testimony, txIndex int) *fraudproof.Proof {
	proof.InvalidBlockHash = blk.Hash()
	proof.InvalidTxMerkleProof = blk.TxMerkleProof(txIndex)
	proof.InvalidIndex = uint32(txIndex)
	if proof.Kind == fraudproof.KindWrongTestimony && tmy != nil && blk.TxBlock != nil {
		if tmyProof, tmyIndex, ok := blk.TxBlock.TestimonyMerkleProofByHash(tmy.Hash()); ok {
			proof.InvalidTestimony = tmy
			proof.InvalidTestimonyMerkleProof = tmyProof
			proof.InvalidTestimonyIndex = uint32(tmyIndex)
		}
	}
	return proof
}

func (v *Validator) String() string {
	return fmt.Sprintf("validator{shard=%d/%d}", v.cfg.ShardID, v.cfg.ShardNum)
}
