package hash

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
)

// H256 is a SHA-256 hash, compared as a big-endian unsigned integer.
type H256 [32]byte

// Zero is the all-zero hash (the root of an empty Merkle tree).
var Zero H256

// Max is the all-0xFF hash. It doubles as the default PoW target: every
// hash satisfies it.
var Max = func() H256 {
	var h H256
	for i := range h {
		h[i] = 0xFF
	}
	return h
}()

// Hashable is anything with a canonical SHA-256 digest.
type Hashable interface {
	Hash() H256
}

// Sum hashes raw bytes.
func Sum(data []byte) H256 {
	return H256(sha256.Sum256(data))
}

// CHash combines two hashes: SHA256(a || b).
func CHash(a, b H256) H256 {
	var buf [64]byte
	copy(buf[:32], a[:])
	copy(buf[32:], b[:])
	return H256(sha256.Sum256(buf[:]))
}

// MultiHash hashes a sequence of hashes: SHA256(h1 || h2 || ... || hn).
func MultiHash(hs []H256) H256 {
	buf := make([]byte, 0, len(hs)*32)
	for _, h := range hs {
		buf = append(buf, h[:]...)
	}
	return H256(sha256.Sum256(buf))
}

// PowHash binds a nonce to a base commitment: SHA256(base || nonce_be).
func PowHash(base H256, nonce uint32) H256 {
	var buf [36]byte
	copy(buf[:32], base[:])
	binary.BigEndian.PutUint32(buf[32:], nonce)
	return H256(sha256.Sum256(buf[:]))
}

// Hash re-hashes the value itself.
func (h H256) Hash() H256 {
	return Sum(h[:])
}

// Cmp compares two hashes as big-endian 256-bit unsigned integers.
func (h H256) Cmp(other H256) int {
	return bytes.Compare(h[:], other[:])
}

// Less reports whether h orders before other.
func (h H256) Less(other H256) bool {
	return h.Cmp(other) < 0
}

// LessOrEqual reports whether h <= other; the PoW target check is
// blockHash.LessOrEqual(difficulty).
func (h H256) LessOrEqual(other H256) bool {
	return h.Cmp(other) <= 0
}

// Hex returns the full lowercase hex encoding.
func (h H256) Hex() string {
	return hex.EncodeToString(h[:])
}

// String abbreviates the hash for logs.
func (h H256) String() string {
	return fmt.Sprintf("%02x%02x..%02x%02x", h[0], h[1], h[30], h[31])
}

// FromHex parses a 64-character hex string.
func FromHex(s string) (H256, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return H256{}, err
	}
	if len(b) != 32 {
		return H256{}, fmt.Errorf("hash: want 32 bytes, got %d", len(b))
	}
	var h H256
	copy(h[:], b)
	return h, nil
}
