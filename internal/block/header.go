package block

import (
	"encoding/binary"
	"strconv"

	"github.com/manifoldchain/manifoldchain/pkg/hash"
)

// Header is the part of a block every variant shares. Timestamp is unix
// nanoseconds.
type Header struct {
	Parent       hash.H256 `cbor:"1,keyasint"`
	Nonce        uint32    `cbor:"2,keyasint"`
	Difficulty   hash.H256 `cbor:"3,keyasint"`
	ShardID      uint32    `cbor:"4,keyasint"`
	Timestamp    int64     `cbor:"5,keyasint"`
	TxMerkleRoot hash.H256 `cbor:"6,keyasint"`
}

// DefaultHeader mirrors the zero block: every hash field at the weakest
// target, nonce and timestamp zero.
func DefaultHeader() Header {
	return Header{
		Parent:       hash.Max,
		Difficulty:   hash.Max,
		TxMerkleRoot: hash.Max,
	}
}

// InfoHash lists the header commitments that feed the block hash, in order:
// difficulty, hashed timestamp string, hashed big-endian shard id, tx root.
func (h *Header) InfoHash() []hash.H256 {
	var shardBuf [4]byte
	binary.BigEndian.PutUint32(shardBuf[:], h.ShardID)
	return []hash.H256{
		h.Difficulty,
		hash.Sum([]byte(strconv.FormatInt(h.Timestamp, 10))),
		hash.Sum(shardBuf[:]),
		h.TxMerkleRoot,
	}
}

// Hash computes powHash(chash(parent, multiHash(info)), nonce).
func (h *Header) Hash() hash.H256 {
	inner := hash.CHash(h.Parent, hash.MultiHash(h.InfoHash()))
	return hash.PowHash(inner, h.Nonce)
}

// Consensus extends the header with the roots an exclusive or inclusive
// block commits to: the testimony tree, the inter-parent list, and the
// global-parent tuple.
type Consensus struct {
	Header                 Header    `cbor:"1,keyasint"`
	TestimonyMerkleRoot    hash.H256 `cbor:"2,keyasint"`
	InterParentMerkleRoot  hash.H256 `cbor:"3,keyasint"`
	GlobalParentMerkleRoot hash.H256 `cbor:"4,keyasint"`
}

// DefaultConsensus is the zero consensus block; per-shard genesis blocks are
// this with the shard id set.
func DefaultConsensus() Consensus {
	return Consensus{
		Header:                 DefaultHeader(),
		TestimonyMerkleRoot:    hash.Max,
		InterParentMerkleRoot:  hash.Max,
		GlobalParentMerkleRoot: hash.Max,
	}
}

// InfoHash appends the consensus roots to the header commitments.
func (c *Consensus) InfoHash() []hash.H256 {
	info := c.Header.InfoHash()
	return append(info, c.TestimonyMerkleRoot, c.InterParentMerkleRoot, c.GlobalParentMerkleRoot)
}

// Hash computes the consensus block hash with the extended commitment list.
func (c *Consensus) Hash() hash.H256 {
	inner := hash.CHash(c.Header.Parent, hash.MultiHash(c.InfoHash()))
	return hash.PowHash(inner, c.Header.Nonce)
}

// InterParentRoot commits to an inter-parent list.
func InterParentRoot(parents []hash.H256) hash.H256 {
	return hash.MultiHash(parents)
}

// GlobalParentRoot commits to the per-shard tip lists of a global-parent
// tuple, in tuple order.
func GlobalParentRoot(global []ShardParents) hash.H256 {
	chains := make([]hash.H256, len(global))
	for i, sp := range global {
		chains[i] = hash.MultiHash(sp.Parents)
	}
	return hash.MultiHash(chains)
}
