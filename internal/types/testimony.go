package types

import (
	"github.com/manifoldchain/manifoldchain/pkg/hash"
)

// TestimonyUnit proves that the transaction at TxIndex of the block
// OriginBlockHash produced the UTXO identified by UnitHash (an input or
// output hash of the carried transaction).
type TestimonyUnit struct {
	UnitHash        hash.H256   `cbor:"1,keyasint"`
	OriginBlockHash hash.H256   `cbor:"2,keyasint"`
	TxMerkleProof   []hash.H256 `cbor:"3,keyasint"`
	TxIndex         uint32      `cbor:"4,keyasint"`
}

// Hash digests the proof hashes followed by the origin block and unit hash.
func (u TestimonyUnit) Hash() hash.H256 {
	hs := make([]hash.H256, 0, len(u.TxMerkleProof)+2)
	hs = append(hs, u.TxMerkleProof...)
	hs = append(hs, u.OriginBlockHash, u.UnitHash)
	return hash.MultiHash(hs)
}

// Testimony bundles the per-input (or per-output) inclusion proofs that
// accompany a cross-shard transaction. TxHash names the transaction the
// testimony travels with.
type Testimony struct {
	TxHash hash.H256       `cbor:"1,keyasint"`
	Units  []TestimonyUnit `cbor:"2,keyasint"`
}

// Hash digests the unit hashes followed by the transaction hash.
func (t *Testimony) Hash() hash.H256 {
	hs := make([]hash.H256, 0, len(t.Units)+1)
	for _, u := range t.Units {
		hs = append(hs, u.Hash())
	}
	hs = append(hs, t.TxHash)
	return hash.MultiHash(hs)
}

// Unit returns the unit proving unitHash, if present.
func (t *Testimony) Unit(unitHash hash.H256) (TestimonyUnit, bool) {
	for _, u := range t.Units {
		if u.UnitHash == unitHash {
			return u, true
		}
	}
	return TestimonyUnit{}, false
}

// OriginBlock returns the origin block hash claimed for unitHash.
func (t *Testimony) OriginBlock(unitHash hash.H256) (hash.H256, bool) {
	u, ok := t.Unit(unitHash)
	if !ok {
		return hash.H256{}, false
	}
	return u.OriginBlockHash, true
}

// Merge returns a testimony carrying the set union of both unit lists.
// Units already present (by value) are kept once.
func (t *Testimony) Merge(other *Testimony) *Testimony {
	seen := make(map[hash.H256]bool, len(t.Units))
	units := make([]TestimonyUnit, 0, len(t.Units)+len(other.Units))
	for _, u := range t.Units {
		if h := u.Hash(); !seen[h] {
			seen[h] = true
			units = append(units, u)
		}
	}
	for _, u := range other.Units {
		if h := u.Hash(); !seen[h] {
			seen[h] = true
			units = append(units, u)
		}
	}
	return &Testimony{TxHash: t.TxHash, Units: units}
}
