package chain

import (
	"github.com/manifoldchain/manifoldchain/internal/types"
	"github.com/manifoldchain/manifoldchain/pkg/hash"
)

// StateKey addresses one UTXO: output Index of the transaction TxHash. A
// Reject entry is keyed by input position instead.
type StateKey struct {
	TxHash hash.H256 `cbor:"1,keyasint"`
	Index  uint32    `cbor:"2,keyasint"`
}

// StateEntry is the producing transaction plus, for cross-shard entries,
// the testimony that justified it.
type StateEntry struct {
	Tx        types.Transaction `cbor:"1,keyasint"`
	Testimony *types.Testimony  `cbor:"2,keyasint,omitempty"`
}

// State is the UTXO set as of one block. Every block owns a fork-local
// snapshot derived from its parent's.
type State map[StateKey]StateEntry

// Clone copies the snapshot. Entries are value types; the testimony pointer
// is shared, which is safe because testimonies are never mutated.
func (s State) Clone() State {
	out := make(State, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}

// Apply mutates the state with one transaction's effect, per its flag.
// tmys indexes the block's testimonies by transaction hash; shardID and
// shardNum scope cross-shard effects to the holding shard.
func (s State) Apply(tx *types.Transaction, tmys map[hash.H256]*types.Testimony, shardID, shardNum int) {
	txHash := tx.Hash()
	switch tx.Flag {
	case types.FlagEmpty:
	case types.FlagInitial:
		s[StateKey{TxHash: txHash, Index: 0}] = StateEntry{Tx: *tx}
	case types.FlagDomestic:
		for _, in := range tx.Inputs {
			delete(s, StateKey{TxHash: in.SrcTxHash, Index: in.Index})
		}
		for j := range tx.Outputs {
			s[StateKey{TxHash: txHash, Index: uint32(j)}] = StateEntry{Tx: *tx}
		}
	case types.FlagInput:
		// Only the lock half: remove the inputs this shard owns, outputs
		// belong to the receiver shard.
		for _, in := range tx.Inputs {
			if types.ShardOfAddr(in.SenderAddr, shardNum) != shardID {
				continue
			}
			delete(s, StateKey{TxHash: in.SrcTxHash, Index: in.Index})
		}
	case types.FlagOutput:
		// Only the mint half: add the outputs this shard owns, tagged with
		// the carried testimony until settlement.
		for j := range tx.Outputs {
			if types.ShardOfAddr(tx.Outputs[j].ReceiverAddr, shardNum) != shardID {
				continue
			}
			s[StateKey{TxHash: txHash, Index: uint32(j)}] = StateEntry{Tx: *tx, Testimony: tmys[txHash]}
		}
	case types.FlagAccept:
		// Locked and spent are the same thing; nothing changes.
	case types.FlagReject:
		// Return the locked coins. The re-created UTXO is keyed by input
		// position and justified by the testimony proving the Output block.
		for j := range tx.Inputs {
			if types.ShardOfAddr(tx.Inputs[j].SenderAddr, shardNum) != shardID {
				continue
			}
			s[StateKey{TxHash: txHash, Index: uint32(j)}] = StateEntry{Tx: *tx, Testimony: tmys[txHash]}
		}
	}
}

// StateRecord is the CBOR shape used to persist a state snapshot: a flat
// entry list instead of a struct-keyed map.
type StateRecord struct {
	Keys    []StateKey   `cbor:"1,keyasint"`
	Entries []StateEntry `cbor:"2,keyasint"`
}

func (s State) toRecord() StateRecord {
	rec := StateRecord{
		Keys:    make([]StateKey, 0, len(s)),
		Entries: make([]StateEntry, 0, len(s)),
	}
	for k, v := range s {
		rec.Keys = append(rec.Keys, k)
		rec.Entries = append(rec.Entries, v)
	}
	return rec
}

func (rec StateRecord) toState() State {
	s := make(State, len(rec.Keys))
	for i, k := range rec.Keys {
		s[k] = rec.Entries[i]
	}
	return s
}
